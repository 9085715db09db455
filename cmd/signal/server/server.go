// Package server implements the JSON-RPC signaling surface for the sfu
// package, one connection per client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pion/webrtc/v3"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/rtchub/sigsfu/pkg/engine"
	"github.com/rtchub/sigsfu/pkg/sfu"
)

var errMissingParams = errors.New("missing params")

// unmarshalParams decodes the request's params object. A well-formed request
// may omit params entirely, so the pointer must be checked before use.
func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errMissingParams
	}
	return json.Unmarshal(*req.Params, v)
}

// ConnectTransport carries the client's half of a transport handshake.
type ConnectTransport struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
}

// Produce message sent to publish a media flow
type Produce struct {
	Kind          engine.MediaKind     `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
}

// ProduceReply returns the new producer's id
type ProduceReply struct {
	ID string `json:"id"`
}

// Consume message sent to subscribe to a producer
type Consume struct {
	ProducerID      string                 `json:"producerId"`
	Kind            engine.MediaKind       `json:"kind"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

// JSONSignal ties one peer to one jsonrpc2 connection.
type JSONSignal struct {
	*sfu.Peer
	logger logr.Logger
}

// NewJSONSignal creates a fresh, unregistered peer for a new connection.
func NewJSONSignal(s *sfu.SFU, logger logr.Logger) *JSONSignal {
	return &JSONSignal{s.NewPeer(), logger}
}

// Bind wires the peer's outbound notifications and the nested DTLS round
// trip to the connection, then registers the peer so broadcasts reach it.
func (p *JSONSignal) Bind(ctx context.Context, conn *jsonrpc2.Conn, s *sfu.SFU) error {
	p.OnNewProducer = func(ev sfu.NewProducer) {
		if err := conn.Notify(ctx, "newProducer", ev); err != nil {
			p.logger.Error(err, "error sending newProducer", "client", p.ID())
		}
	}
	p.OnProducerClosed = func(ev sfu.ProducerClosed) {
		if err := conn.Notify(ctx, "producerClosed", ev); err != nil {
			p.logger.Error(err, "error sending producerClosed", "client", p.ID())
		}
	}
	p.OnClientRemoved = func(ev sfu.ClientRemoved) {
		if err := conn.Notify(ctx, "removeClient", ev); err != nil {
			p.logger.Error(err, "error sending removeClient", "client", p.ID())
		}
	}
	p.GetConnectParameters = func(ctx context.Context) (engine.ConnectParameters, error) {
		var params ConnectTransport
		if err := conn.Call(ctx, "getDtlsParametersForConsumer", struct{}{}, &params); err != nil {
			return engine.ConnectParameters{}, err
		}
		return engine.ConnectParameters{
			DTLSParameters: params.DTLSParameters,
			ICEParameters:  params.ICEParameters,
		}, nil
	}
	return s.Connect(p.Peer)
}

// Handle incoming RPC call events for transport negotiation and media
// exchange. Every failure is replied as a structured error, never a dropped
// request.
func (p *JSONSignal) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	replyError := func(err error) {
		p.logger.V(1).Info("request failed", "client", p.ID(), "method", req.Method, "error", err.Error())
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    500,
			Message: fmt.Sprintf("%s", err),
		})
	}

	switch req.Method {
	case "getRouterRtpCapabilities":
		_ = conn.Reply(ctx, req.ID, p.Capabilities())

	case "createProducerTransport":
		info, err := p.CreateProducerTransport(ctx)
		if err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, info)

	case "createConsumerTransport":
		info, err := p.CreateConsumerTransport(ctx)
		if err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, info)

	case "connectProducerTransport":
		var params ConnectTransport
		if err := unmarshalParams(req, &params); err != nil {
			replyError(err)
			break
		}
		if err := p.ConnectProducerTransport(ctx, engine.ConnectParameters{
			DTLSParameters: params.DTLSParameters,
			ICEParameters:  params.ICEParameters,
		}); err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, struct{}{})

	case "connectConsumerTransport":
		var params ConnectTransport
		if err := unmarshalParams(req, &params); err != nil {
			replyError(err)
			break
		}
		if err := p.ConnectConsumerTransport(ctx, engine.ConnectParameters{
			DTLSParameters: params.DTLSParameters,
			ICEParameters:  params.ICEParameters,
		}); err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, struct{}{})

	case "produce":
		var produce Produce
		if err := unmarshalParams(req, &produce); err != nil {
			replyError(err)
			break
		}
		id, err := p.Produce(ctx, produce.Kind, produce.RTPParameters)
		if err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, ProduceReply{ID: id})

	case "produceDone":
		p.ProduceDone()
		if !req.Notif {
			_ = conn.Reply(ctx, req.ID, struct{}{})
		}

	case "consume":
		var consume Consume
		if err := unmarshalParams(req, &consume); err != nil {
			replyError(err)
			break
		}
		info, err := p.Consume(ctx, consume.ProducerID, consume.RTPCapabilities)
		if err != nil {
			replyError(err)
			break
		}
		_ = conn.Reply(ctx, req.ID, info)
	}
}
