package sfu

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"

	"github.com/rtchub/sigsfu/pkg/engine"
)

var testCaps = webrtc.RTPCapabilities{
	Codecs: []webrtc.RTPCodecCapability{
		{MimeType: "video/VP8", ClockRate: 90000},
	},
}

func newTestSFU(t *testing.T) (*SFU, *mockEngine) {
	me := &mockEngine{}
	s, err := NewSFU(Config{Signal: SignalConfig{DTLSRequestTimeout: 1}}, me)
	require.NoError(t, err)
	return s, me
}

// eventRecorder captures the notifications a peer would have sent over its
// signaling connection.
type eventRecorder struct {
	mu              sync.Mutex
	newProducers    []NewProducer
	closedProducers []ProducerClosed
	removedClients  []ClientRemoved
}

func (r *eventRecorder) wire(p *Peer) {
	p.OnNewProducer = func(ev NewProducer) {
		r.mu.Lock()
		r.newProducers = append(r.newProducers, ev)
		r.mu.Unlock()
	}
	p.OnProducerClosed = func(ev ProducerClosed) {
		r.mu.Lock()
		r.closedProducers = append(r.closedProducers, ev)
		r.mu.Unlock()
	}
	p.OnClientRemoved = func(ev ClientRemoved) {
		r.mu.Lock()
		r.removedClients = append(r.removedClients, ev)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) producers() []NewProducer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NewProducer(nil), r.newProducers...)
}

func (r *eventRecorder) closed() []ProducerClosed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProducerClosed(nil), r.closedProducers...)
}

func (r *eventRecorder) removed() []ClientRemoved {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ClientRemoved(nil), r.removedClients...)
}

func connectPeer(t *testing.T, s *SFU) (*Peer, *eventRecorder) {
	p := s.NewPeer()
	rec := &eventRecorder{}
	rec.wire(p)
	require.NoError(t, s.Connect(p))
	return p, rec
}

// publish walks a peer through the producer-side protocol and returns the
// new producer's id.
func publish(t *testing.T, p *Peer, kind engine.MediaKind) string {
	ctx := context.Background()
	_, err := p.CreateProducerTransport(ctx)
	require.NoError(t, err)
	require.NoError(t, p.ConnectProducerTransport(ctx, engine.ConnectParameters{}))
	id, err := p.Produce(ctx, kind, engine.RTPParameters{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}
