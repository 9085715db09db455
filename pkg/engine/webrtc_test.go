package engine

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCodecs = []Codec{
	{Kind: MediaKindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	{Kind: MediaKindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
}

func TestRouterCapabilities(t *testing.T) {
	e, err := NewWebRTCEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	r, err := e.NewRouter(testCodecs)
	require.NoError(t, err)

	caps := r.Capabilities()
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, webrtc.MimeTypeOpus, caps.Codecs[0].MimeType)
	assert.Equal(t, webrtc.MimeTypeVP8, caps.Codecs[1].MimeType)
}

func TestCreateTransport(t *testing.T) {
	e, err := NewWebRTCEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	r, err := e.NewRouter(testCodecs)
	require.NoError(t, err)

	tr, err := r.CreateTransport(context.Background())
	require.NoError(t, err)

	info := tr.Info()
	assert.NotEmpty(t, info.ID)
	assert.NotEmpty(t, info.ICEParameters.UsernameFragment)
	assert.NotEmpty(t, info.ICEParameters.Password)
	assert.NotEmpty(t, info.DTLSParameters.Fingerprints)

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}

// An aborted CreateTransport must not leave a live gatherer behind; its
// sockets are released on every exit path.
func TestCreateTransportAborted(t *testing.T) {
	e, err := NewWebRTCEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	r, err := e.NewRouter(testCodecs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr, err := r.CreateTransport(ctx)
	if err == nil {
		// Gathering can win the race against an already-canceled
		// context; a successful transport is simply closed.
		assert.NoError(t, tr.Close())
		return
	}
	assert.Equal(t, context.Canceled, err)
	r.(*webrtcRouter).mu.RLock()
	assert.Empty(t, r.(*webrtcRouter).transports)
	r.(*webrtcRouter).mu.RUnlock()
}

func TestCanConsumeUnknownProducer(t *testing.T) {
	e, err := NewWebRTCEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	r, err := e.NewRouter(testCodecs)
	require.NoError(t, err)

	caps := webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
	assert.False(t, r.CanConsume("nope", caps))
}

func TestCreateTransportAfterRouterClose(t *testing.T) {
	e, err := NewWebRTCEngine(Config{})
	require.NoError(t, err)
	defer e.Close()

	r, err := e.NewRouter(testCodecs)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.CreateTransport(context.Background())
	assert.Equal(t, errRouterClosed, err)
}
