package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/rtchub/sigsfu/pkg/engine"
	"github.com/rtchub/sigsfu/pkg/stats"
)

// Peer drives one client's session through the signaling protocol: transport
// negotiation, produce/consume and teardown. The notification callbacks are
// wired by the signaling layer before the peer is registered.
type Peer struct {
	sync.Mutex
	id      string
	sfu     *SFU
	session *ClientSession

	// OnNewProducer is invoked when another client publishes, and during a
	// produceDone replay.
	OnNewProducer func(NewProducer)
	// OnProducerClosed is invoked when a producer this client might be
	// consuming is gone for good.
	OnProducerClosed func(ProducerClosed)
	// OnClientRemoved is invoked when another client leaves.
	OnClientRemoved func(ClientRemoved)
	// GetConnectParameters performs the server initiated round trip that
	// asks this client for its DTLS parameters during a consume
	// self-heal.
	GetConnectParameters func(ctx context.Context) (engine.ConnectParameters, error)
}

// ID returns the peer's unique client id.
func (p *Peer) ID() string {
	return p.id
}

// Session returns the peer's resource record.
func (p *Peer) Session() *ClientSession {
	return p.session
}

// Capabilities returns the routing context's codec capabilities.
func (p *Peer) Capabilities() webrtc.RTPCapabilities {
	return p.sfu.router.Capabilities()
}

// CreateProducerTransport allocates the session's producer side transport.
// A second call replaces the previous transport. On engine failure nothing
// is stored.
func (p *Peer) CreateProducerTransport(ctx context.Context) (engine.TransportInfo, error) {
	t, err := p.sfu.router.CreateTransport(ctx)
	if err != nil {
		return engine.TransportInfo{}, &EngineError{Op: "create producer transport", Err: err}
	}

	s := p.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return engine.TransportInfo{}, ErrUnknownClient
	}
	prev := s.producerTransport
	s.producerTransport = t
	s.producerConnected = false
	s.mu.Unlock()

	if prev != nil {
		Logger.Info("replacing producer transport", "client", p.id, "transport", prev.ID())
		_ = prev.Close()
	} else {
		stats.Transports.Inc()
	}
	Logger.V(1).Info("producer transport created", "client", p.id, "transport", t.ID())
	return t.Info(), nil
}

// CreateConsumerTransport allocates the session's consumer side transport.
func (p *Peer) CreateConsumerTransport(ctx context.Context) (engine.TransportInfo, error) {
	t, err := p.sfu.router.CreateTransport(ctx)
	if err != nil {
		return engine.TransportInfo{}, &EngineError{Op: "create consumer transport", Err: err}
	}

	s := p.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return engine.TransportInfo{}, ErrUnknownClient
	}
	prev := s.consumerTransport
	s.consumerTransport = t
	s.consumerConnected = false
	s.mu.Unlock()

	if prev != nil {
		Logger.Info("replacing consumer transport", "client", p.id, "transport", prev.ID())
		_ = prev.Close()
	} else {
		stats.Transports.Inc()
	}
	Logger.V(1).Info("consumer transport created", "client", p.id, "transport", t.ID())
	return t.Info(), nil
}

// ConnectProducerTransport completes the producer transport handshake with
// the client's parameters.
func (p *Peer) ConnectProducerTransport(ctx context.Context, params engine.ConnectParameters) error {
	s := p.session
	s.mu.Lock()
	t := s.producerTransport
	s.mu.Unlock()
	if t == nil {
		return ErrTransportNotFound
	}

	if err := t.Connect(ctx, params); err != nil {
		return &EngineError{Op: "connect producer transport", Err: err}
	}

	// Revalidate: the transport may have been replaced or reaped while
	// the handshake was in flight.
	s.mu.Lock()
	if s.producerTransport == t {
		s.producerConnected = true
	}
	s.mu.Unlock()
	return nil
}

// ConnectConsumerTransport completes the consumer transport handshake.
func (p *Peer) ConnectConsumerTransport(ctx context.Context, params engine.ConnectParameters) error {
	s := p.session
	s.mu.Lock()
	t := s.consumerTransport
	s.mu.Unlock()
	if t == nil {
		return ErrTransportNotFound
	}

	if err := t.Connect(ctx, params); err != nil {
		return &EngineError{Op: "connect consumer transport", Err: err}
	}

	s.mu.Lock()
	if s.consumerTransport == t {
		s.consumerConnected = true
	}
	s.mu.Unlock()
	return nil
}

// Produce creates a producer on the session's connected producer transport
// and announces it to every other connected client. Connectivity is not
// retried here; a missing or unconnected transport is the client's error.
func (p *Peer) Produce(ctx context.Context, kind engine.MediaKind, params engine.RTPParameters) (string, error) {
	s := p.session
	s.mu.Lock()
	t, connected := s.producerTransport, s.producerConnected
	s.mu.Unlock()
	if t == nil || !connected {
		return "", ErrNoProducerTransport
	}

	producer, err := t.Produce(ctx, kind, params)
	if err != nil {
		return "", &EngineError{Op: "create producer", Err: err}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = producer.Close()
		return "", ErrUnknownClient
	}
	s.producers = append(s.producers, producer)
	s.mu.Unlock()
	stats.Producers.Inc()

	Logger.Info("producer created", "client", p.id, "producer", producer.ID(), "kind", kind)
	p.sfu.broadcastNewProducer(p, NewProducer{
		ProducerID: producer.ID(),
		ClientID:   p.id,
		Kind:       kind,
	})
	return producer.ID(), nil
}

// ProduceDone replays every live producer, across all sessions, back to this
// peer as NewProducer notifications. The client is expected to skip its own.
func (p *Peer) ProduceDone() {
	p.sfu.replayProducers(p)
}

// Consume creates a consumer for the given producer on this session's
// consumer transport. When no consumer transport exists the call self-heals:
// it creates one, asks the client for its DTLS parameters over the signaling
// connection, connects, and only then creates the consumer. A concurrent
// Consume arriving while that negotiation is pending attaches to it instead
// of creating a second transport.
func (p *Peer) Consume(ctx context.Context, producerID string, caps webrtc.RTPCapabilities) (ConsumerInfo, error) {
	if !p.sfu.router.CanConsume(producerID, caps) {
		return ConsumerInfo{}, ErrIncompatibleCapabilities
	}

	t, err := p.ensureConsumerTransport(ctx)
	if err != nil {
		return ConsumerInfo{}, err
	}

	consumer, err := t.Consume(ctx, producerID, caps)
	if err != nil {
		return ConsumerInfo{}, &EngineError{Op: "create consumer", Err: err}
	}

	s := p.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = consumer.Close()
		return ConsumerInfo{}, ErrUnknownClient
	}
	s.consumers = append(s.consumers, consumer)
	s.mu.Unlock()
	stats.Consumers.Inc()

	Logger.Info("consumer created", "client", p.id, "consumer", consumer.ID(), "producer", producerID)
	return ConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RTPParameters: consumer.RTPParameters(),
	}, nil
}

// ensureConsumerTransport returns the session's consumer transport, healing
// a missing one through a nested DTLS round trip. At most one transport is
// created per heal attempt.
func (p *Peer) ensureConsumerTransport(ctx context.Context) (engine.Transport, error) {
	s := p.session
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnknownClient
	}
	if s.consumerTransport != nil {
		t := s.consumerTransport
		s.mu.Unlock()
		return t, nil
	}
	if neg := s.negotiation; neg != nil {
		s.mu.Unlock()
		select {
		case <-neg.done:
			return neg.transport, neg.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	neg := &consumerNegotiation{done: make(chan struct{})}
	s.negotiation = neg
	s.mu.Unlock()

	stats.SelfHeals.Inc()
	Logger.Info("no consumer transport, negotiating one", "client", p.id)
	t, err := p.healConsumerTransport(ctx)

	s.mu.Lock()
	s.negotiation = nil
	if err == nil {
		if s.closed {
			err = ErrUnknownClient
		} else {
			s.consumerTransport = t
			s.consumerConnected = true
			stats.Transports.Inc()
		}
	}
	s.mu.Unlock()
	if err != nil && t != nil {
		_ = t.Close()
		t = nil
	}

	neg.transport, neg.err = t, err
	close(neg.done)
	return t, err
}

func (p *Peer) healConsumerTransport(ctx context.Context) (engine.Transport, error) {
	p.Lock()
	getParams := p.GetConnectParameters
	p.Unlock()
	if getParams == nil {
		return nil, ErrNoConsumerTransport
	}

	t, err := p.sfu.router.CreateTransport(ctx)
	if err != nil {
		return nil, &EngineError{Op: "create consumer transport", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.sfu.config.dtlsRequestTimeout())
	params, err := getParams(reqCtx)
	cancel()
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("requesting dtls parameters: %w", err)
	}

	if err = t.Connect(ctx, params); err != nil {
		_ = t.Close()
		return nil, &EngineError{Op: "connect consumer transport", Err: err}
	}
	return t, nil
}

// producerAnnouncements snapshots the session's producers as NewProducer
// events.
func (p *Peer) producerAnnouncements() []NewProducer {
	s := p.session
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]NewProducer, 0, len(s.producers))
	for _, producer := range s.producers {
		events = append(events, NewProducer{
			ProducerID: producer.ID(),
			ClientID:   p.id,
			Kind:       producer.Kind(),
		})
	}
	return events
}

// Close reaps the session: every transport, producer and consumer is closed
// in its own failure domain, the registry entry is removed, and the
// remaining clients are told which producers died and that the client left.
// Safe to call more than once.
func (p *Peer) Close() error {
	if _, err := p.sfu.registry.Unregister(p.id); err != nil {
		// Never registered, or a concurrent Close won the race.
		return nil
	}

	transports, producers, consumers := p.session.reap()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			Logger.Error(err, "closing transport", "client", p.id, "transport", t.ID())
		}
		stats.Transports.Dec()
	}
	closedProducers := make([]ProducerClosed, 0, len(producers))
	for _, producer := range producers {
		closedProducers = append(closedProducers, ProducerClosed{
			ProducerID: producer.ID(),
			ClientID:   p.id,
		})
		if err := producer.Close(); err != nil {
			Logger.Error(err, "closing producer", "client", p.id, "producer", producer.ID())
		}
		stats.Producers.Dec()
	}
	for _, consumer := range consumers {
		if err := consumer.Close(); err != nil {
			Logger.Error(err, "closing consumer", "client", p.id, "consumer", consumer.ID())
		}
		stats.Consumers.Dec()
	}

	for _, ev := range closedProducers {
		p.sfu.broadcastProducerClosed(ev)
	}
	p.sfu.broadcastClientRemoved(p.id)
	Logger.Info("client removed", "client", p.id)
	return nil
}

func (p *Peer) notifyNewProducer(ev NewProducer) {
	p.Lock()
	handler := p.OnNewProducer
	p.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (p *Peer) notifyProducerClosed(ev ProducerClosed) {
	p.Lock()
	handler := p.OnProducerClosed
	p.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (p *Peer) notifyClientRemoved(ev ClientRemoved) {
	p.Lock()
	handler := p.OnClientRemoved
	p.Unlock()
	if handler != nil {
		handler(ev)
	}
}
