// Package ops implements the operation router: one handler per op
// code, dispatching decoded requests from the registry and answering
// each with exactly one response.
package ops

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/metrics"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/session"
)

// Router dispatches operation requests to their handlers.
type Router struct {
	reg    *registry.Registry
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewRouter creates the router over the given registry.
func NewRouter(reg *registry.Registry, bus *events.EventBus) *Router {
	return &Router{
		reg:    reg,
		bus:    bus,
		logger: log.With().Str("component", "ops").Logger(),
	}
}

// HandleOperation routes one request and guarantees exactly one
// response reaches the peer, even when the handler responds itself
// mid-flight (join paths answer under the room lock so the response
// precedes any join-triggered event).
func (rt *Router) HandleOperation(ctx context.Context, p *session.Peer, req protocol.OperationRequest) {
	start := time.Now()

	resp, sent := rt.dispatch(ctx, p, req)
	resp.Code = req.Code
	if !sent {
		if err := p.SendResponse(resp); err != nil {
			rt.logger.Debug().
				Err(err).
				Uint16("peer_id", p.ID()).
				Uint8("op", req.Code).
				Msg("response not delivered")
		}
	}

	outcome := "ok"
	if resp.ReturnCode != protocol.ReturnOK {
		outcome = "error"
	}
	metrics.OperationsTotal.WithLabelValues(opName(req.Code), outcome).Inc()

	rt.bus.Emit(ctx, events.Event{
		Type:   events.EventOperationProcessed,
		Source: "ops",
		Payload: events.OperationContext{
			PeerID:     p.ID(),
			OpCode:     req.Code,
			ReturnCode: resp.ReturnCode,
			DurationUs: time.Since(start).Microseconds(),
		},
	})
}

// dispatch runs the handler for the op code. The sent flag reports
// that the handler already delivered the response itself.
func (rt *Router) dispatch(ctx context.Context, p *session.Peer, req protocol.OperationRequest) (resp protocol.OperationResponse, sent bool) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error().
				Interface("panic", r).
				Uint16("peer_id", p.ID()).
				Uint8("op", req.Code).
				Msg("operation handler panicked")
			resp = protocol.OperationResponse{
				ReturnCode: protocol.ReturnInternalServerError,
				Debug:      "internal server error",
			}
			sent = false
		}
	}()

	switch req.Code {
	case protocol.OpAuthenticate:
		return rt.handleAuthenticate(ctx, p, req.Params), false
	case protocol.OpJoinRoom:
		return rt.handleJoinRoom(ctx, p, req)
	case protocol.OpLeaveCreateRoom:
		return rt.handleLeaveCreate(ctx, p, req)
	case protocol.OpJoinRandomRoom:
		return rt.handleJoinRandom(ctx, p, req)
	case protocol.OpChangeProperties:
		return rt.handleChangeProperties(p, req.Params), false
	case protocol.OpGetRoomList, protocol.OpGetRoomListAlias:
		return rt.handleGetRoomList(), false
	case protocol.OpRaiseEvent:
		return rt.handleRaiseEvent(ctx, p, req.Params), false
	default:
		rt.logger.Warn().
			Uint16("peer_id", p.ID()).
			Uint8("op", req.Code).
			Msg("unknown operation code")
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnOperationInvalid,
			Debug:      "unknown operation",
		}, false
	}
}

// opName labels operations for the metrics counter.
func opName(code byte) string {
	switch code {
	case protocol.OpAuthenticate:
		return "authenticate"
	case protocol.OpJoinRoom:
		return "join_room"
	case protocol.OpLeaveCreateRoom:
		return "leave_create_room"
	case protocol.OpJoinRandomRoom:
		return "join_random_room"
	case protocol.OpChangeProperties:
		return "change_properties"
	case protocol.OpGetRoomList, protocol.OpGetRoomListAlias:
		return "get_room_list"
	case protocol.OpRaiseEvent:
		return "raise_event"
	default:
		return "unknown"
	}
}

func notAllowed(debug string) protocol.OperationResponse {
	return protocol.OperationResponse{
		ReturnCode: protocol.ReturnNotAllowedInState,
		Debug:      debug,
	}
}

func invalid(debug string) protocol.OperationResponse {
	return protocol.OperationResponse{
		ReturnCode: protocol.ReturnOperationInvalid,
		Debug:      debug,
	}
}
