package sfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	s, _ := newTestSFU(t)
	r := s.Registry()

	p := s.NewPeer()
	require.NoError(t, r.Register(p))

	got, err := r.Get(p.ID())
	assert.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Len(t, r.Peers(), 1)
}

func TestRegistryDuplicateRegister(t *testing.T) {
	s, _ := newTestSFU(t)
	r := s.Registry()

	p := s.NewPeer()
	require.NoError(t, r.Register(p))
	assert.Equal(t, ErrAlreadyRegistered, r.Register(p))
}

func TestRegistryGetUnknown(t *testing.T) {
	s, _ := newTestSFU(t)

	_, err := s.Registry().Get("nope")
	assert.Equal(t, ErrUnknownClient, err)
}

func TestRegistryUnregister(t *testing.T) {
	s, _ := newTestSFU(t)
	r := s.Registry()

	p := s.NewPeer()
	require.NoError(t, r.Register(p))

	got, err := r.Unregister(p.ID())
	assert.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = r.Get(p.ID())
	assert.Equal(t, ErrUnknownClient, err)

	// Removal is not repeatable: the second caller must not get the
	// resource record again.
	_, err = r.Unregister(p.ID())
	assert.Equal(t, ErrUnknownClient, err)
}
