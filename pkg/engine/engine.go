// Package engine defines the media engine boundary consumed by the signaling
// core. An Engine allocates routers, routers allocate transports, and
// transports carry producers (inbound media) and consumers (outbound media).
// The reference implementation is built on pion/webrtc's ORTC API, see
// webrtc.go.
package engine

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// MediaKind is the media type carried by a producer or consumer.
type MediaKind string

const (
	MediaKindAudio = MediaKind("audio")
	MediaKindVideo = MediaKind("video")
)

// Codec describes one entry of a router's fixed codec set.
type Codec struct {
	Kind      MediaKind `mapstructure:"kind" json:"kind"`
	MimeType  string    `mapstructure:"mimetype" json:"mimeType"`
	ClockRate uint32    `mapstructure:"clockrate" json:"clockRate"`
	Channels  uint16    `mapstructure:"channels" json:"channels"`
}

// RTPParameters describe a single media flow: the negotiated codecs, header
// extensions and stream encodings (ssrc, payload type).
type RTPParameters struct {
	Codecs           []webrtc.RTPCodecParameters          `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []webrtc.RTPCodingParameters         `json:"encodings"`
}

// TransportInfo is the negotiation description returned to the client after a
// transport is created.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// ConnectParameters carry the client's half of the transport handshake.
type ConnectParameters struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
}

// Engine is the entrypoint of the media runtime. Engines are process-wide and
// expected to outlive every router they create.
type Engine interface {
	// NewRouter creates a routing context for the given codec set.
	NewRouter(codecs []Codec) (Router, error)
	Close() error
}

// Router forwards media between the producers and consumers created on its
// transports. It owns the process-wide producer index used by Consume.
type Router interface {
	// Capabilities returns the router's receive capabilities. Idempotent.
	Capabilities() webrtc.RTPCapabilities
	// CanConsume reports whether a producer exists and the remote
	// capabilities are compatible with its media.
	CanConsume(producerID string, caps webrtc.RTPCapabilities) bool
	CreateTransport(ctx context.Context) (Transport, error)
	Close() error
}

// Transport is one negotiated ICE+DTLS path between a client and the router.
type Transport interface {
	ID() string
	Info() TransportInfo
	// Connect completes the handshake with the client's parameters. Called
	// at most once per transport.
	Connect(ctx context.Context, params ConnectParameters) error
	// Produce starts receiving a media flow from the client.
	Produce(ctx context.Context, kind MediaKind, params RTPParameters) (Producer, error)
	// Consume starts sending the given producer's media to the client.
	Consume(ctx context.Context, producerID string, caps webrtc.RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is a single inbound media flow.
type Producer interface {
	ID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Close() error
}

// Consumer is a single outbound media flow bound to one producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Close() error
}
