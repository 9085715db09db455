package sfu

import "errors"

var (
	// ErrUnknownClient no registry entry exists for the client id
	ErrUnknownClient = errors.New("unknown client id")
	// ErrAlreadyRegistered register was called twice for a live client id
	ErrAlreadyRegistered = errors.New("client already registered")
	// ErrTransportNotFound connect was called before create for this role
	ErrTransportNotFound = errors.New("no transport of the requested role exists for this client")
	// ErrNoProducerTransport produce requires a connected producer transport
	ErrNoProducerTransport = errors.New("no connected producer transport exists for this client")
	// ErrNoConsumerTransport consume cannot negotiate a consumer transport
	ErrNoConsumerTransport = errors.New("no consumer transport exists and none can be negotiated")
	// ErrIncompatibleCapabilities the remote capabilities fail the
	// router's consumability check
	ErrIncompatibleCapabilities = errors.New("client capabilities cannot consume this producer")
)

// EngineError wraps a media engine failure so callers can tell validation
// errors from engine ones.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return "engine: " + e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
