package sfu

import (
	"sync"

	"github.com/rtchub/sigsfu/pkg/engine"
)

// ClientSession is the per-client resource record owned by the Registry. It
// tracks at most one transport per role plus the producers and consumers
// created on them. All fields are guarded by mu; mutators must check closed
// after any suspension point because a disconnect may have reaped the session
// in the meantime.
type ClientSession struct {
	mu sync.Mutex
	id string

	producerTransport engine.Transport
	producerConnected bool

	consumerTransport engine.Transport
	consumerConnected bool

	// negotiation is the in-flight consumer transport self-heal, if any.
	// Concurrent consume calls attach to it instead of creating a second
	// transport.
	negotiation *consumerNegotiation

	producers []engine.Producer
	consumers []engine.Consumer

	closed bool
}

func newClientSession(id string) *ClientSession {
	return &ClientSession{id: id}
}

// ID returns the owning client's id.
func (s *ClientSession) ID() string {
	return s.id
}

// consumerNegotiation tracks one consumer transport self-heal attempt. The
// transport and err fields are written once, before done is closed.
type consumerNegotiation struct {
	done      chan struct{}
	transport engine.Transport
	err       error
}

// reap atomically empties the record and returns everything that needs
// closing. Subsequent mutations fail once closed is set.
func (s *ClientSession) reap() (transports []engine.Transport, producers []engine.Producer, consumers []engine.Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, nil
	}
	s.closed = true

	if s.producerTransport != nil {
		transports = append(transports, s.producerTransport)
		s.producerTransport = nil
	}
	if s.consumerTransport != nil {
		transports = append(transports, s.consumerTransport)
		s.consumerTransport = nil
	}
	producers = s.producers
	consumers = s.consumers
	s.producers = nil
	s.consumers = nil
	return transports, producers, consumers
}
