package sfu

import (
	"context"
	"sync"

	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v3"

	"github.com/rtchub/sigsfu/pkg/engine"
)

// mockEngine is an in-memory engine.Engine for exercising the signaling
// core without a media stack.
type mockEngine struct {
	routerErr error
	router    *mockRouter
}

func (e *mockEngine) NewRouter(codecs []engine.Codec) (engine.Router, error) {
	if e.routerErr != nil {
		return nil, e.routerErr
	}
	e.router = &mockRouter{
		codecs:    codecs,
		producers: make(map[string]*mockProducer),
	}
	return e.router, nil
}

func (e *mockEngine) Close() error { return nil }

type mockRouter struct {
	mu        sync.Mutex
	codecs    []engine.Codec
	producers map[string]*mockProducer

	createErr  error
	connectErr error
	consumeErr error

	transports []*mockTransport
	closed     bool
}

func (r *mockRouter) Capabilities() webrtc.RTPCapabilities {
	caps := webrtc.RTPCapabilities{}
	for _, c := range r.codecs {
		caps.Codecs = append(caps.Codecs, webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		})
	}
	return caps
}

// CanConsume is true when the producer exists and the caller supplied at
// least one codec.
func (r *mockRouter) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok && len(caps.Codecs) > 0
}

func (r *mockRouter) CreateTransport(ctx context.Context) (engine.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	t := &mockTransport{id: cuid.New(), router: r}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *mockRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockRouter) createdTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *mockRouter) transportAt(i int) *mockTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[i]
}

type mockTransport struct {
	id     string
	router *mockRouter

	mu        sync.Mutex
	connected bool
	closed    bool
	closes    int
}

func (t *mockTransport) ID() string { return t.id }

func (t *mockTransport) Info() engine.TransportInfo {
	return engine.TransportInfo{
		ID:            t.id,
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd"},
	}
}

func (t *mockTransport) Connect(ctx context.Context, params engine.ConnectParameters) error {
	if t.router.connectErr != nil {
		return t.router.connectErr
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) Produce(ctx context.Context, kind engine.MediaKind, params engine.RTPParameters) (engine.Producer, error) {
	p := &mockProducer{id: cuid.New(), kind: kind, params: params}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *mockTransport) Consume(ctx context.Context, producerID string, caps webrtc.RTPCapabilities) (engine.Consumer, error) {
	if t.router.consumeErr != nil {
		return nil, t.router.consumeErr
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, ErrUnknownClient
	}
	return &mockConsumer{id: cuid.New(), producerID: producerID, kind: p.kind}, nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type mockProducer struct {
	id     string
	kind   engine.MediaKind
	params engine.RTPParameters

	mu     sync.Mutex
	closes int
}

func (p *mockProducer) ID() string                          { return p.id }
func (p *mockProducer) Kind() engine.MediaKind              { return p.kind }
func (p *mockProducer) RTPParameters() engine.RTPParameters { return p.params }

func (p *mockProducer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *mockProducer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type mockConsumer struct {
	id         string
	producerID string
	kind       engine.MediaKind

	mu     sync.Mutex
	closes int
}

func (c *mockConsumer) ID() string                          { return c.id }
func (c *mockConsumer) ProducerID() string                  { return c.producerID }
func (c *mockConsumer) Kind() engine.MediaKind              { return c.kind }
func (c *mockConsumer) RTPParameters() engine.RTPParameters { return engine.RTPParameters{} }

func (c *mockConsumer) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *mockConsumer) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
