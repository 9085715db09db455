package sfu

import (
	"sync"

	"github.com/rtchub/sigsfu/pkg/stats"
)

// Registry is the process-wide map from client id to that client's peer and
// resource record. It is the single source of truth for session ownership:
// cleanup only ever iterates one entry's resources, never the whole process.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Register adds a peer under its client id. Fails with ErrAlreadyRegistered
// if the id is already live.
func (r *Registry) Register(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[p.id]; ok {
		return ErrAlreadyRegistered
	}
	r.peers[p.id] = p
	stats.Sessions.Inc()
	return nil
}

// Get returns the peer registered under the given client id.
func (r *Registry) Get(clientID string) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return p, nil
}

// Unregister removes and returns the peer atomically so the caller can close
// its resources exactly once.
func (r *Registry) Unregister(clientID string) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	delete(r.peers, clientID)
	stats.Sessions.Dec()
	return p, nil
}

// Peers returns a snapshot of the registered peers.
func (r *Registry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}
