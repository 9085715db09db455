package sfu

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/rtchub/sigsfu/pkg/engine"
)

// RoutingContext wraps the engine's router. One exists per process; it is
// created at startup and lives for the process lifetime. There is no
// degraded mode: if the router cannot be created the process must exit.
type RoutingContext struct {
	router engine.Router
}

func newRoutingContext(router engine.Router) *RoutingContext {
	return &RoutingContext{router: router}
}

// Capabilities returns the router's codec capabilities. Idempotent and
// side-effect free.
func (r *RoutingContext) Capabilities() webrtc.RTPCapabilities {
	return r.router.Capabilities()
}

// CanConsume gates consumer creation on capability compatibility.
func (r *RoutingContext) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	return r.router.CanConsume(producerID, caps)
}

// CreateTransport allocates a new transport on the router.
func (r *RoutingContext) CreateTransport(ctx context.Context) (engine.Transport, error) {
	return r.router.CreateTransport(ctx)
}

// Close releases the underlying router.
func (r *RoutingContext) Close() error {
	return r.router.Close()
}
