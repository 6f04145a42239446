package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/session"
)

// handleAuthenticate records the peer's identity. Missing fields get
// generated guest values so anonymous clients can still play.
func (rt *Router) handleAuthenticate(ctx context.Context, p *session.Peer, params map[any]any) protocol.OperationResponse {
	rt.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerAuthenticating,
		Source: "ops",
		Payload: events.PeerContext{
			PeerID: p.ID(),
			Remote: p.RemoteAddr().String(),
		},
	})

	nickname := protocol.ParamString(params, protocol.ParamNickname, "Nickname")
	if nickname == "" {
		nickname = fmt.Sprintf("Guest_%d", time.Now().Unix())
	}
	userID := protocol.ParamString(params, protocol.ParamUserID, "UserId")
	if userID == "" {
		userID = fmt.Sprintf("user_%d", time.Now().Unix())
	}
	p.SetIdentity(nickname, userID)

	rt.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerAuthenticated,
		Source: "ops",
		Payload: events.PeerContext{
			PeerID:   p.ID(),
			Remote:   p.RemoteAddr().String(),
			Nickname: nickname,
			UserID:   userID,
		},
	})

	rt.logger.Info().
		Uint16("peer_id", p.ID()).
		Str("nickname", nickname).
		Str("user_id", userID).
		Msg("peer authenticated")

	return protocol.OperationResponse{
		ReturnCode: protocol.ReturnOK,
		Params: map[any]any{
			protocol.ParamActorNr:  int32(p.ID()),
			protocol.ParamNickname: nickname,
			protocol.ParamUserID:   userID,
		},
	}
}
