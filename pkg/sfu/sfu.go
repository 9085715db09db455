// Package sfu implements the signaling core of an SFU based media exchange:
// per-client transport negotiation, producer/consumer tracking and the fan
// out of producer lifecycle notifications. The media plane itself is behind
// the engine package's interfaces.
package sfu

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/lucsky/cuid"

	"github.com/rtchub/sigsfu/pkg/engine"
)

// Logger is an implementation of logr.Logger used by the package. Set it
// from main before creating the SFU.
var Logger logr.Logger = logr.Discard()

const defaultDTLSRequestTimeout = 15 * time.Second

// DefaultCodecs is the router codec set used when the config names none.
var DefaultCodecs = []engine.Codec{
	{Kind: engine.MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{Kind: engine.MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000},
}

// RouterConfig defines the routing context's codec set.
type RouterConfig struct {
	Codecs []engine.Codec `mapstructure:"codecs"`
}

// SignalConfig holds protocol level tunables.
type SignalConfig struct {
	// DTLSRequestTimeout bounds the server initiated "send me your DTLS
	// parameters" round trip during a consume self-heal, in seconds. A
	// silent client must not leak a permanently pending request.
	DTLSRequestTimeout int `mapstructure:"dtlstimeout"`
}

// Config for the signaling core.
type Config struct {
	WebRTC engine.Config `mapstructure:"webrtc"`
	Router RouterConfig  `mapstructure:"router"`
	Signal SignalConfig  `mapstructure:"signal"`
}

func (c Config) dtlsRequestTimeout() time.Duration {
	if c.Signal.DTLSRequestTimeout > 0 {
		return time.Duration(c.Signal.DTLSRequestTimeout) * time.Second
	}
	return defaultDTLSRequestTimeout
}

// NewProducer announces a new producer to the other connected clients.
type NewProducer struct {
	ProducerID string           `json:"producerId"`
	ClientID   string           `json:"clientId"`
	Kind       engine.MediaKind `json:"kind"`
}

// ProducerClosed announces that a producer's media stopped for good.
type ProducerClosed struct {
	ProducerID string `json:"producerId"`
	ClientID   string `json:"clientId"`
}

// ClientRemoved announces that a client left and its media is gone.
type ClientRemoved struct {
	ClientID string `json:"clientId"`
}

// ConsumerInfo describes a created consumer back to the subscriber.
type ConsumerInfo struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          engine.MediaKind     `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
}

// SFU owns the routing context and the session registry.
type SFU struct {
	config   Config
	engine   engine.Engine
	router   *RoutingContext
	registry *Registry
}

// NewSFU creates the signaling core on top of the given engine. Router
// creation failure is returned to the caller, which is expected to treat it
// as fatal.
func NewSFU(config Config, e engine.Engine) (*SFU, error) {
	codecs := config.Router.Codecs
	if len(codecs) == 0 {
		codecs = DefaultCodecs
	}
	router, err := e.NewRouter(codecs)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	return &SFU{
		config:   config,
		engine:   e,
		router:   newRoutingContext(router),
		registry: NewRegistry(),
	}, nil
}

// Router returns the process-wide routing context.
func (s *SFU) Router() *RoutingContext {
	return s.router
}

// Registry returns the session registry.
func (s *SFU) Registry() *Registry {
	return s.registry
}

// Connect registers a peer so broadcasts reach it. Call after the peer's
// notification callbacks are wired.
func (s *SFU) Connect(p *Peer) error {
	if err := s.registry.Register(p); err != nil {
		return err
	}
	Logger.Info("client connected", "client", p.id)
	return nil
}

// broadcastNewProducer tells every other connected client about a producer.
func (s *SFU) broadcastNewProducer(origin *Peer, ev NewProducer) {
	for _, p := range s.registry.Peers() {
		if p.id == origin.id {
			continue
		}
		p.notifyNewProducer(ev)
	}
}

// replayProducers emits one NewProducer per live producer, across all
// sessions, to the given peer only. Late joiners use this to discover media
// published before they connected.
func (s *SFU) replayProducers(to *Peer) {
	for _, p := range s.registry.Peers() {
		for _, ev := range p.producerAnnouncements() {
			to.notifyNewProducer(ev)
		}
	}
}

func (s *SFU) broadcastProducerClosed(ev ProducerClosed) {
	for _, p := range s.registry.Peers() {
		p.notifyProducerClosed(ev)
	}
}

func (s *SFU) broadcastClientRemoved(clientID string) {
	for _, p := range s.registry.Peers() {
		p.notifyClientRemoved(ClientRemoved{ClientID: clientID})
	}
}

// NewPeer creates an unregistered peer with a fresh client id.
func (s *SFU) NewPeer() *Peer {
	id := cuid.New()
	return &Peer{
		id:      id,
		sfu:     s,
		session: newClientSession(id),
	}
}
