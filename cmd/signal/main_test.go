package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadRejectsOneElementPortRange(t *testing.T) {
	file = writeConfig(t, "[webrtc]\nportrange = [10000]\n")
	assert.NotPanics(t, func() {
		assert.False(t, load())
	})
}

func TestLoadRejectsNarrowPortRange(t *testing.T) {
	file = writeConfig(t, "[webrtc]\nportrange = [10000, 10050]\n")
	assert.False(t, load())
}

func TestLoadAcceptsValidPortRange(t *testing.T) {
	file = writeConfig(t, "[webrtc]\nportrange = [10000, 10200]\n")
	assert.True(t, load())
	assert.Equal(t, []uint16{10000, 10200}, conf.WebRTC.ICEPortRange)
}
