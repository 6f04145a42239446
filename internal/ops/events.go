package ops

import (
	"context"
	"errors"

	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/room"
	"github.com/gridlight-project/gridlight/internal/session"
)

// handleChangeProperties merges properties. An actor-nr parameter
// targets the peer's own actor properties; without one the request is
// a game-property change gated on the master client.
func (rt *Router) handleChangeProperties(p *session.Peer, params map[any]any) protocol.OperationResponse {
	if !p.Authenticated() {
		return notAllowed("authenticate first")
	}
	h, ok := protocol.ParamHashtable(params, protocol.ParamProperties, "Properties")
	if !ok {
		return invalid("properties required")
	}
	props := stringProps(h)

	actorNr, hasActor := protocol.ParamInt(params, protocol.ParamActorNr, "ActorNr")
	if hasActor && actorNr != 0 {
		if actorNr != int64(p.ID()) {
			return notAllowed("can only change own actor properties")
		}
		if handle := p.Room(); handle != nil {
			rm, found := rt.reg.Room(handle.Name())
			if found {
				if err := rm.ChangeActorProperties(p, props); err != nil {
					return propertiesFailure(err)
				}
				return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
			}
		}
		p.MergeProperties(props)
		return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
	}

	handle := p.Room()
	if handle == nil {
		return notAllowed("not in a room")
	}
	rm, found := rt.reg.Room(handle.Name())
	if !found {
		return notAllowed("not in a room")
	}
	if err := rm.ChangeGameProperties(p, props); err != nil {
		return propertiesFailure(err)
	}
	return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
}

func propertiesFailure(err error) protocol.OperationResponse {
	switch {
	case errors.Is(err, room.ErrNotMaster):
		return notAllowed("only the master client may change game properties")
	case errors.Is(err, room.ErrNotMember):
		return notAllowed("not in a room")
	default:
		return invalid(err.Error())
	}
}

// handleGetRoomList answers with every visible room's projection.
func (rt *Router) handleGetRoomList() protocol.OperationResponse {
	infos := rt.reg.VisibleRoomInfos()
	list := make(protocol.ObjectArray, 0, len(infos))
	for _, info := range infos {
		list = append(list, protocol.Hashtable{
			protocol.ParamRoomName:    info.Name,
			protocol.ParamPlayerCount: int32(info.PlayerCount),
			protocol.ParamMaxPlayers:  int32(info.MaxPlayers),
			protocol.ParamIsOpen:      info.IsOpen,
			protocol.ParamIsVisible:   info.IsVisible,
			protocol.ParamProperties:  wireProps(info.Properties),
		})
	}
	return protocol.OperationResponse{
		ReturnCode: protocol.ReturnOK,
		Params: map[any]any{
			protocol.ParamRoomList: list,
		},
	}
}

// handleRaiseEvent fans an application event out through the sender's
// room.
func (rt *Router) handleRaiseEvent(ctx context.Context, p *session.Peer, params map[any]any) protocol.OperationResponse {
	handle := p.Room()
	if handle == nil {
		return notAllowed("not in a room")
	}
	rm, found := rt.reg.Room(handle.Name())
	if !found {
		return notAllowed("not in a room")
	}

	code, ok := protocol.ParamInt(params, protocol.ParamEventCode, "Code")
	if !ok || code < 0 || code > 255 {
		return invalid("event code required")
	}
	data, _ := protocol.Param(params, protocol.ParamEventData, "Data")

	cacheMode, _ := protocol.ParamInt(params, protocol.ParamCacheMode, "Cache")
	cache := cacheMode > 0

	targets := targetActors(params)

	if err := rm.RaiseEvent(p, byte(code), data, targets, cache); err != nil {
		if errors.Is(err, room.ErrNotMember) {
			return notAllowed("not in a room")
		}
		return invalid(err.Error())
	}

	rt.bus.Emit(ctx, events.Event{
		Type:   events.EventEventRaised,
		Source: "ops",
		Payload: events.RaiseContext{
			PeerID:    p.ID(),
			RoomName:  rm.Name(),
			EventCode: byte(code),
			Targets:   len(targets),
			Cached:    cache,
		},
	})

	return protocol.OperationResponse{ReturnCode: protocol.ReturnOK}
}

// targetActors reads the optional explicit recipient list. Nil means
// broadcast; a present-but-empty list means deliver to nobody.
func targetActors(params map[any]any) []uint16 {
	v, ok := protocol.Param(params, protocol.ParamTargetActors, "Actors")
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []int32:
		out := make([]uint16, 0, len(t))
		for _, n := range t {
			if n > 0 && n <= 65535 {
				out = append(out, uint16(n))
			}
		}
		return out
	case protocol.ObjectArray:
		out := make([]uint16, 0, len(t))
		for _, e := range t {
			switch n := e.(type) {
			case byte:
				out = append(out, uint16(n))
			case int16:
				if n > 0 {
					out = append(out, uint16(n))
				}
			case int32:
				if n > 0 && n <= 65535 {
					out = append(out, uint16(n))
				}
			}
		}
		return out
	default:
		return nil
	}
}
