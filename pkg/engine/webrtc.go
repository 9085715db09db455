package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/lucsky/cuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	// rtcpWorkers bounds concurrent RTCP writes per router.
	rtcpWorkers = 2
	// keyFrameInterval is how often a PLI is sent toward a video producer
	// while it has consumers attached.
	keyFrameInterval = 3 * time.Second
)

// Config holds network parameters for the pion-backed engine.
type Config struct {
	// AnnouncedIP, when set, is advertised in host candidates instead of
	// the bind address. Used behind 1:1 NAT.
	AnnouncedIP string `mapstructure:"announcedip"`
	// ICEPortRange restricts ephemeral UDP ports to [min, max].
	ICEPortRange []uint16 `mapstructure:"portrange"`
	// ICELite runs the ICE agent in lite mode.
	ICELite bool `mapstructure:"icelite"`
}

// WebRTCEngine implements Engine on top of pion/webrtc's ORTC API.
type WebRTCEngine struct {
	config  Config
	mu      sync.Mutex
	routers []*webrtcRouter
	closed  bool
}

// NewWebRTCEngine builds an engine from the given network config.
func NewWebRTCEngine(config Config) (*WebRTCEngine, error) {
	return &WebRTCEngine{config: config}, nil
}

// NewRouter creates a routing context with a fixed codec set.
func (e *WebRTCEngine) NewRouter(codecs []Codec) (Router, error) {
	me := &webrtc.MediaEngine{}
	capCodecs := make([]webrtc.RTPCodecCapability, 0, len(codecs))
	pt := webrtc.PayloadType(96)
	for _, c := range codecs {
		capability := webrtc.RTPCodecCapability{
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		}
		typ := webrtc.RTPCodecTypeVideo
		if c.Kind == MediaKindAudio {
			typ = webrtc.RTPCodecTypeAudio
		}
		if err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: capability,
			PayloadType:        pt,
		}, typ); err != nil {
			return nil, err
		}
		pt++
		capCodecs = append(capCodecs, capability)
	}

	se := webrtc.SettingEngine{}
	if len(e.config.ICEPortRange) == 2 {
		if err := se.SetEphemeralUDPPortRange(e.config.ICEPortRange[0], e.config.ICEPortRange[1]); err != nil {
			return nil, err
		}
	}
	if e.config.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.config.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if e.config.ICELite {
		se.SetLite(true)
	}

	r := &webrtcRouter{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		codecs:     codecs,
		caps:       webrtc.RTPCapabilities{Codecs: capCodecs},
		wp:         workerpool.New(rtcpWorkers),
		transports: make(map[string]*webrtcTransport),
		producers:  make(map[string]*webrtcProducer),
	}

	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

// Close stops every router created by this engine.
func (e *WebRTCEngine) Close() error {
	e.mu.Lock()
	routers := e.routers
	e.routers = nil
	e.closed = true
	e.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

type webrtcRouter struct {
	api    *webrtc.API
	codecs []Codec
	caps   webrtc.RTPCapabilities
	wp     *workerpool.WorkerPool

	mu         sync.RWMutex
	transports map[string]*webrtcTransport
	producers  map[string]*webrtcProducer
	closed     bool
}

func (r *webrtcRouter) Capabilities() webrtc.RTPCapabilities {
	return r.caps
}

// CanConsume reports whether the producer exists and the remote capabilities
// include a codec matching the producer's primary codec.
func (r *webrtcRouter) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok || len(p.params.Codecs) == 0 {
		return false
	}
	want := p.params.Codecs[0].RTPCodecCapability
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, want.MimeType) && c.ClockRate == want.ClockRate {
			return true
		}
	}
	return false
}

func (r *webrtcRouter) CreateTransport(ctx context.Context) (Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, errRouterClosed
	}

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}

	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err = gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t := &webrtcTransport{
		id:       cuid.New(),
		router:   r,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.info = TransportInfo{
		ID:             t.id,
		ICEParameters:  iceParams,
		ICECandidates:  candidates,
		DTLSParameters: dtlsParams,
	}

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *webrtcRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*webrtcTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.wp.Stop()
	return nil
}

func (r *webrtcRouter) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *webrtcRouter) registerProducer(p *webrtcProducer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *webrtcRouter) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *webrtcRouter) getProducer(id string) *webrtcProducer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[id]
}

type webrtcTransport struct {
	id       string
	router   *webrtcRouter
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     TransportInfo

	mu        sync.Mutex
	connected bool
	closed    bool
}

func (t *webrtcTransport) ID() string          { return t.id }
func (t *webrtcTransport) Info() TransportInfo { return t.info }

func (t *webrtcTransport) Connect(ctx context.Context, params ConnectParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errTransportClosed
	}
	if t.connected {
		t.mu.Unlock()
		return errTransportConnected
	}
	t.mu.Unlock()

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, params.ICEParameters, &role); err != nil {
		return err
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *webrtcTransport) Produce(ctx context.Context, kind MediaKind, params RTPParameters) (Producer, error) {
	if len(params.Encodings) == 0 {
		return nil, errNoEncodings
	}

	var typ webrtc.RTPCodecType
	switch kind {
	case MediaKindAudio:
		typ = webrtc.RTPCodecTypeAudio
	case MediaKindVideo:
		typ = webrtc.RTPCodecTypeVideo
	default:
		return nil, errUnknownKind
	}

	receiver, err := t.router.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, err
	}

	if err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: params.Encodings[0],
		}},
	}); err != nil {
		return nil, err
	}

	p := &webrtcProducer{
		id:        cuid.New(),
		kind:      kind,
		params:    params,
		receiver:  receiver,
		transport: t,
		outputs:   make(map[string]*webrtc.TrackLocalStaticRTP),
		done:      make(chan struct{}),
	}
	t.router.registerProducer(p)

	go p.forward()
	if kind == MediaKindVideo {
		go p.keyFrameLoop()
	}
	return p, nil
}

func (t *webrtcTransport) Consume(ctx context.Context, producerID string, caps webrtc.RTPCapabilities) (Consumer, error) {
	producer := t.router.getProducer(producerID)
	if producer == nil {
		return nil, errProducerNotFound
	}

	codec := producer.params.Codecs[0].RTPCodecCapability
	track, err := webrtc.NewTrackLocalStaticRTP(codec, cuid.New(), "sigsfu")
	if err != nil {
		return nil, err
	}

	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	sendParams := sender.GetParameters()
	if err = sender.Send(sendParams); err != nil {
		return nil, err
	}

	c := &webrtcConsumer{
		id:         cuid.New(),
		producerID: producerID,
		kind:       producer.kind,
		sender:     sender,
		producer:   producer,
	}
	c.params = RTPParameters{
		Codecs:           sendParams.Codecs,
		HeaderExtensions: sendParams.HeaderExtensions,
	}
	for _, enc := range sendParams.Encodings {
		c.params.Encodings = append(c.params.Encodings, enc.RTPCodingParameters)
	}

	producer.addOutput(c.id, track)
	go c.drainRTCP()

	// A consumer joining mid-stream needs a fresh keyframe to decode.
	if producer.kind == MediaKindVideo {
		producer.requestKeyFrame()
	}
	return c, nil
}

func (t *webrtcTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.router.removeTransport(t.id)

	err := t.dtls.Stop()
	if iceErr := t.ice.Stop(); err == nil {
		err = iceErr
	}
	if gErr := t.gatherer.Close(); err == nil {
		err = gErr
	}
	return err
}

type webrtcProducer struct {
	id        string
	kind      MediaKind
	params    RTPParameters
	receiver  *webrtc.RTPReceiver
	transport *webrtcTransport

	mu      sync.RWMutex
	outputs map[string]*webrtc.TrackLocalStaticRTP

	done      chan struct{}
	closeOnce sync.Once
}

func (p *webrtcProducer) ID() string                   { return p.id }
func (p *webrtcProducer) Kind() MediaKind              { return p.kind }
func (p *webrtcProducer) RTPParameters() RTPParameters { return p.params }

func (p *webrtcProducer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.transport.router.removeProducer(p.id)
		err = p.receiver.Stop()
	})
	return err
}

func (p *webrtcProducer) addOutput(consumerID string, track *webrtc.TrackLocalStaticRTP) {
	p.mu.Lock()
	p.outputs[consumerID] = track
	p.mu.Unlock()
}

func (p *webrtcProducer) removeOutput(consumerID string) {
	p.mu.Lock()
	delete(p.outputs, consumerID)
	p.mu.Unlock()
}

func (p *webrtcProducer) hasOutputs() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.outputs) > 0
}

// forward reads RTP from the producer and fans it out to every attached
// consumer track. Exits when the receiver is stopped.
func (p *webrtcProducer) forward() {
	track := p.receiver.Track()
	if track == nil {
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		p.mu.RLock()
		for _, out := range p.outputs {
			// WriteRTP rewrites the header per binding, so every
			// consumer gets its own copy.
			packet := rtp.Packet{Header: pkt.Header, Payload: pkt.Payload}
			_ = out.WriteRTP(&packet)
		}
		p.mu.RUnlock()
	}
}

// keyFrameLoop periodically asks the sending client for a keyframe while the
// producer has consumers attached.
func (p *webrtcProducer) keyFrameLoop() {
	ticker := time.NewTicker(keyFrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if p.hasOutputs() {
				p.requestKeyFrame()
			}
		}
	}
}

func (p *webrtcProducer) requestKeyFrame() {
	ssrc := uint32(p.params.Encodings[0].SSRC)
	dtls := p.transport.dtls
	p.transport.router.wp.Submit(func() {
		_, _ = dtls.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: ssrc},
		})
	})
}

type webrtcConsumer struct {
	id         string
	producerID string
	kind       MediaKind
	params     RTPParameters
	sender     *webrtc.RTPSender
	producer   *webrtcProducer
	closeOnce  sync.Once
}

func (c *webrtcConsumer) ID() string                   { return c.id }
func (c *webrtcConsumer) ProducerID() string           { return c.producerID }
func (c *webrtcConsumer) Kind() MediaKind              { return c.kind }
func (c *webrtcConsumer) RTPParameters() RTPParameters { return c.params }

func (c *webrtcConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.producer.removeOutput(c.id)
		err = c.sender.Stop()
	})
	return err
}

// drainRTCP keeps the sender's RTCP read loop serviced so interceptors and
// congestion feedback do not stall.
func (c *webrtcConsumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}
