package sfu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSFURouterFailure(t *testing.T) {
	me := &mockEngine{routerErr: errors.New("worker died")}

	_, err := NewSFU(Config{}, me)
	assert.Error(t, err)
}

func TestDefaultCodecSet(t *testing.T) {
	s, _ := newTestSFU(t)

	caps := s.Router().Capabilities()
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, uint32(48000), caps.Codecs[0].ClockRate)
	assert.Equal(t, uint16(2), caps.Codecs[0].Channels)
	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	assert.Equal(t, uint32(90000), caps.Codecs[1].ClockRate)
}

func TestPeerIDsAreUnique(t *testing.T) {
	s, _ := newTestSFU(t)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := s.NewPeer().ID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
