package engine

import "errors"

var (
	errTransportConnected = errors.New("transport already connected")
	errTransportClosed    = errors.New("transport is closed")
	errRouterClosed       = errors.New("router is closed")
	errProducerNotFound   = errors.New("no producer found for id")
	errNoEncodings        = errors.New("rtp parameters carry no encodings")
	errUnknownKind        = errors.New("unknown media kind")
)
