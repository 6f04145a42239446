package ops

import (
	"context"
	"errors"
	"time"

	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/room"
	"github.com/gridlight-project/gridlight/internal/session"
)

// handleJoinRoom joins the named room, creating it on the fly when it
// does not exist yet.
func (rt *Router) handleJoinRoom(ctx context.Context, p *session.Peer, req protocol.OperationRequest) (protocol.OperationResponse, bool) {
	if !p.Authenticated() {
		return notAllowed("authenticate first"), false
	}
	if p.Room() != nil {
		return notAllowed("already in a room"), false
	}

	name := protocol.ParamString(req.Params, protocol.ParamRoomName, "RoomName")
	if name == "" {
		return invalid("room name required"), false
	}

	rm, ok := rt.reg.Room(name)
	if !ok {
		created, err := rt.reg.CreateRoom(ctx, name, roomOptions(req.Params))
		if err != nil {
			if errors.Is(err, registry.ErrRoomExists) {
				// Another peer created it between lookup and create.
				if rm, ok = rt.reg.Room(name); !ok {
					return invalid("room vanished during create"), false
				}
			} else {
				rt.logger.Error().Err(err).Str("room", name).Msg("room create failed")
				return protocol.OperationResponse{
					ReturnCode: protocol.ReturnInternalServerError,
					Debug:      "room create failed",
				}, false
			}
		} else {
			rm = created
		}
	}

	password := protocol.ParamString(req.Params, protocol.ParamPassword, "Password")
	return rt.joinRoom(p, rm, password, req.Code)
}

// handleLeaveCreate is the overloaded 227: leave when in a room,
// create-and-join otherwise.
func (rt *Router) handleLeaveCreate(ctx context.Context, p *session.Peer, req protocol.OperationRequest) (protocol.OperationResponse, bool) {
	if h := p.Room(); h != nil {
		return rt.leaveRoom(p, h.Name()), false
	}

	if !p.Authenticated() {
		return notAllowed("authenticate first"), false
	}
	name := protocol.ParamString(req.Params, protocol.ParamRoomName, "RoomName")
	if name == "" {
		return invalid("room name required"), false
	}

	rm, err := rt.reg.CreateRoom(ctx, name, roomOptions(req.Params))
	if err != nil {
		if errors.Is(err, registry.ErrRoomExists) {
			return invalid("room name is already taken"), false
		}
		rt.logger.Error().Err(err).Str("room", name).Msg("room create failed")
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnInternalServerError,
			Debug:      "room create failed",
		}, false
	}

	password := protocol.ParamString(req.Params, protocol.ParamPassword, "Password")
	return rt.joinRoom(p, rm, password, req.Code)
}

// handleJoinRandom joins a uniformly picked room matching the client's
// constraints.
func (rt *Router) handleJoinRandom(ctx context.Context, p *session.Peer, req protocol.OperationRequest) (protocol.OperationResponse, bool) {
	if !p.Authenticated() {
		return notAllowed("authenticate first"), false
	}
	if p.Room() != nil {
		return notAllowed("already in a room"), false
	}

	maxPlayers := 0
	if n, ok := protocol.ParamInt(req.Params, protocol.ParamMaxPlayers, "MaxPlayers"); ok {
		maxPlayers = int(n)
	}
	var filter map[string]any
	if h, ok := protocol.ParamHashtable(req.Params, protocol.ParamProperties, "Properties"); ok {
		filter = stringProps(h)
	}

	rm, ok := rt.reg.FindRandomRoom(maxPlayers, filter)
	if !ok {
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnRoomNotFound,
			Debug:      "no match found",
		}, false
	}
	return rt.joinRoom(p, rm, "", req.Code)
}

// leaveRoom detaches the peer from its current room.
func (rt *Router) leaveRoom(p *session.Peer, name string) protocol.OperationResponse {
	rm, ok := rt.reg.Room(name)
	if !ok {
		p.SetRoom(nil)
		return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
	}
	if err := rm.Leave(p); err != nil {
		if errors.Is(err, room.ErrNotMember) {
			p.SetRoom(nil)
			return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
		}
		rt.logger.Error().Err(err).Uint16("peer_id", p.ID()).Str("room", name).Msg("leave failed")
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnInternalServerError,
			Debug:      "leave failed",
		}
	}
	return protocol.OperationResponse{
		ReturnCode: protocol.ReturnOK,
		Params: map[any]any{
			protocol.ParamActorNr: int32(p.ID()),
		},
	}
}

// joinRoom runs the room join and answers from inside the join
// callback, so the response hits the peer's queue before the cached
// replay and the join broadcast.
func (rt *Router) joinRoom(p *session.Peer, rm *room.Room, password string, opCode byte) (protocol.OperationResponse, bool) {
	var resp protocol.OperationResponse
	sent := false

	err := rm.Join(p, password, func(info room.JoinInfo) {
		resp = protocol.OperationResponse{
			Code:       opCode,
			ReturnCode: protocol.ReturnOK,
			Params:     joinParams(rm.Name(), info),
		}
		if sendErr := p.SendResponse(resp); sendErr != nil {
			rt.logger.Debug().
				Err(sendErr).
				Uint16("peer_id", p.ID()).
				Str("room", rm.Name()).
				Msg("join response not delivered")
		}
		sent = true
	})
	if err != nil {
		return joinFailure(err), false
	}
	return resp, sent
}

// joinParams builds the successful join response parameters.
func joinParams(name string, info room.JoinInfo) map[any]any {
	actorProps := protocol.Hashtable{}
	for id, props := range info.ActorProps {
		actorProps[int32(id)] = wireProps(props)
	}
	return map[any]any{
		protocol.ParamRoomName:     name,
		protocol.ParamActorNr:      int32(info.ActorNr),
		protocol.ParamMasterClient: int32(info.MasterID),
		protocol.ParamActorList:    info.MemberIDs,
		protocol.ParamProperties:   wireProps(info.Properties),
		protocol.ParamActorProps:   actorProps,
		protocol.ParamPlayerTTL:    int32(info.PlayerTTL / time.Millisecond),
		protocol.ParamEmptyRoomTTL: int32(info.EmptyRoomTTL / time.Millisecond),
	}
}

// joinFailure maps room membership errors to wire return codes.
func joinFailure(err error) protocol.OperationResponse {
	switch {
	case errors.Is(err, room.ErrBadPassword):
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnJoinFailedDenied,
			Debug:      "wrong password",
		}
	case errors.Is(err, room.ErrFull):
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnRoomFull,
			Debug:      "room is full",
		}
	case errors.Is(err, room.ErrClosed):
		return protocol.OperationResponse{
			ReturnCode: protocol.ReturnRoomClosed,
			Debug:      "room is closed",
		}
	case errors.Is(err, room.ErrAlreadyMember):
		return notAllowed("already in this room")
	default:
		return invalid(err.Error())
	}
}

// roomOptions extracts create-time room options from the request.
func roomOptions(params map[any]any) room.Options {
	opts := room.DefaultOptions()
	if n, ok := protocol.ParamInt(params, protocol.ParamMaxPlayers, "MaxPlayers"); ok && n > 0 {
		opts.MaxPlayers = int(n)
	}
	opts.IsOpen = protocol.ParamBool(params, protocol.ParamIsOpen, "IsOpen", true)
	opts.IsVisible = protocol.ParamBool(params, protocol.ParamIsVisible, "IsVisible", true)
	opts.Password = protocol.ParamString(params, protocol.ParamPassword, "Password")
	if h, ok := protocol.ParamHashtable(params, protocol.ParamProperties, "Properties"); ok {
		opts.Properties = stringProps(h)
	}
	// Leave TTLs and cache depth zero so the registry fills them from
	// the server configuration.
	opts.EmptyRoomTTL = 0
	opts.MaxCachedEvents = 0
	return opts
}

// stringProps keeps the string-keyed entries of a wire hash-table.
func stringProps(h protocol.Hashtable) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if s, ok := k.(string); ok {
			out[s] = v
		}
	}
	return out
}

// wireProps widens a property map back into a wire hash-table.
func wireProps(m map[string]any) protocol.Hashtable {
	out := make(protocol.Hashtable, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
