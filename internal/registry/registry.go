// Package registry owns the server-wide peer and room directories. It
// assigns peer ids, routes decoded operation traffic to the operation
// router, and runs the liveness and cleanup sweeps.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/metrics"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/room"
	"github.com/gridlight-project/gridlight/internal/session"
)

// Registration failures surfaced to the accept loop.
var (
	ErrServerFull   = errors.New("server is at the connection limit")
	ErrShuttingDown = errors.New("server is shutting down")
	ErrRoomExists   = errors.New("room name is already taken")
	ErrRoomNotEmpty = errors.New("room still has members")
)

// Router dispatches one decoded operation request. The ops package
// implements it; the indirection keeps registry free of the operation
// handler imports.
type Router interface {
	HandleOperation(ctx context.Context, p *session.Peer, req protocol.OperationRequest)
}

// Registry is the live directory of peers and rooms.
type Registry struct {
	cfg    config.ServerData
	bus    *events.EventBus
	logger zerolog.Logger

	router Router

	peersMu sync.RWMutex
	peers   map[uint16]*session.Peer
	nextID  uint16

	roomsMu sync.RWMutex
	rooms   map[string]*room.Room

	shuttingDown bool
	shutdownMu   sync.Mutex
}

// New creates an empty registry around the given configuration.
func New(cfg config.ServerData, bus *events.EventBus) *Registry {
	return &Registry{
		cfg:    cfg,
		bus:    bus,
		logger: log.With().Str("component", "registry").Logger(),
		peers:  make(map[uint16]*session.Peer),
		rooms:  make(map[string]*room.Room),
	}
}

// SetRouter installs the operation router. Must be called before the
// first connection is accepted.
func (r *Registry) SetRouter(router Router) {
	r.router = router
}

// Accept registers a freshly accepted connection as a peer and starts
// its I/O loops. The connection is closed on rejection.
func (r *Registry) Accept(ctx context.Context, conn net.Conn) error {
	r.shutdownMu.Lock()
	stopping := r.shuttingDown
	r.shutdownMu.Unlock()
	if stopping {
		metrics.ConnectionsRejected.Inc()
		conn.Close()
		return ErrShuttingDown
	}

	r.peersMu.Lock()
	if len(r.peers) >= r.cfg.MaxConnections {
		r.peersMu.Unlock()
		metrics.ConnectionsRejected.Inc()
		conn.Close()
		return ErrServerFull
	}
	id, ok := r.allocateIDLocked()
	if !ok {
		r.peersMu.Unlock()
		metrics.ConnectionsRejected.Inc()
		conn.Close()
		return ErrServerFull
	}

	p := session.NewPeer(id, conn, session.Options{
		SendQueueDepth: r.cfg.SendQueueDepth,
	})
	r.peers[id] = p
	count := len(r.peers)
	r.peersMu.Unlock()

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Set(float64(count))

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerConnecting,
		Source: "registry",
		Payload: events.PeerContext{
			PeerID: id,
			Remote: conn.RemoteAddr().String(),
		},
	})

	p.Start(ctx, r)

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerConnected,
		Source: "registry",
		Payload: events.PeerContext{
			PeerID: id,
			Remote: conn.RemoteAddr().String(),
		},
	})

	r.logger.Info().
		Uint16("peer_id", id).
		Str("remote", conn.RemoteAddr().String()).
		Int("peers", count).
		Msg("peer registered")
	return nil
}

// allocateIDLocked hands out the next free non-zero peer id. Zero is
// reserved because the wire uses it for "no actor".
func (r *Registry) allocateIDLocked() (uint16, bool) {
	for i := 0; i < 65535; i++ {
		r.nextID++
		if r.nextID == 0 {
			r.nextID = 1
		}
		if _, taken := r.peers[r.nextID]; !taken {
			return r.nextID, true
		}
	}
	return 0, false
}

// HandleCommand implements session.Handler. Data commands carry the
// operation envelope; everything else at this layer is a protocol
// violation from the client.
func (r *Registry) HandleCommand(p *session.Peer, cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.CmdSendReliable, protocol.CmdSendUnreliable:
	default:
		r.logger.Warn().
			Uint16("peer_id", p.ID()).
			Str("kind", cmd.Kind.String()).
			Msg("unexpected command kind at operation layer")
		return
	}

	msg, err := protocol.ParseEnvelope(cmd.Payload)
	if err != nil {
		r.logger.Debug().
			Err(err).
			Uint16("peer_id", p.ID()).
			Msg("discarding unparseable envelope")
		return
	}

	req, ok := msg.(protocol.OperationRequest)
	if !ok {
		r.logger.Debug().
			Uint16("peer_id", p.ID()).
			Str("envelope", fmt.Sprintf("%T", msg)).
			Msg("ignoring non-request envelope from client")
		return
	}

	ctx := context.Background()
	r.bus.Emit(ctx, events.Event{
		Type:   events.EventOperationReceived,
		Source: "registry",
		Payload: events.OperationContext{
			PeerID: p.ID(),
			OpCode: req.Code,
		},
	})

	if r.router == nil {
		r.logger.Error().Msg("no operation router installed")
		return
	}
	r.router.HandleOperation(ctx, p, req)
}

// HandleClosed implements session.Handler: the peer's socket is gone,
// so drop it from its room and from the directory.
func (r *Registry) HandleClosed(p *session.Peer, reason string) {
	if h := p.Room(); h != nil {
		if rm, ok := r.Room(h.Name()); ok {
			if err := rm.Leave(p); err != nil && !errors.Is(err, room.ErrNotMember) {
				r.logger.Warn().
					Err(err).
					Uint16("peer_id", p.ID()).
					Str("room", h.Name()).
					Msg("room departure on close failed")
			}
		} else {
			p.SetRoom(nil)
		}
	}

	r.peersMu.Lock()
	_, present := r.peers[p.ID()]
	delete(r.peers, p.ID())
	count := len(r.peers)
	r.peersMu.Unlock()
	if !present {
		return
	}

	metrics.ConnectionsActive.Set(float64(count))
	metrics.DisconnectsByReason.WithLabelValues(reasonLabel(reason)).Inc()
	if reason == session.ErrSendQueueFull.Error() {
		metrics.QueueOverflows.Inc()
	}

	ctx := context.Background()
	r.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerDisconnected,
		Source: "registry",
		Payload: events.PeerContext{
			PeerID:   p.ID(),
			Remote:   p.RemoteAddr().String(),
			Nickname: p.Nickname(),
			UserID:   p.UserID(),
			Reason:   reason,
		},
	})

	r.logger.Info().
		Uint16("peer_id", p.ID()).
		Str("reason", reason).
		Int("peers", count).
		Msg("peer removed")
}

// reasonLabel folds free-form close reasons into a bounded label set.
func reasonLabel(reason string) string {
	switch reason {
	case "client requested disconnect", "client closed connection":
		return "client"
	case "inactivity timeout":
		return "timeout"
	case session.ErrSendQueueFull.Error():
		return "queue_overflow"
	case "too many decode errors", "repeated bad packet signatures":
		return "protocol"
	case "server shutdown", "server shutting down":
		return "shutdown"
	case "kicked by operator":
		return "kicked"
	default:
		return "error"
	}
}

// Peer looks a peer up by id.
func (r *Registry) Peer(id uint16) (*session.Peer, bool) {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns a snapshot of all connected peers.
func (r *Registry) Peers() []*session.Peer {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	out := make([]*session.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of connected peers.
func (r *Registry) PeerCount() int {
	r.peersMu.RLock()
	defer r.peersMu.RUnlock()
	return len(r.peers)
}

// KickPeer disconnects a peer at operator request.
func (r *Registry) KickPeer(id uint16) bool {
	p, ok := r.Peer(id)
	if !ok {
		return false
	}
	p.Disconnect("kicked by operator")
	return true
}

// CreateRoom registers a new room under a unique name. Unset option
// fields inherit the server configuration.
func (r *Registry) CreateRoom(ctx context.Context, name string, opts room.Options) (*room.Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name must not be empty")
	}
	if opts.MaxCachedEvents <= 0 {
		opts.MaxCachedEvents = r.cfg.MaxCachedEventsPerRoom
	}
	if opts.EmptyRoomTTL <= 0 {
		opts.EmptyRoomTTL = r.cfg.EmptyRoomTTL()
	}
	if opts.MaxPlayers <= 0 || opts.MaxPlayers > r.cfg.MaxPlayersHardCap {
		opts.MaxPlayers = r.cfg.MaxPlayersHardCap
	}

	r.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomCreating,
		Source:  "registry",
		Payload: events.RoomContext{RoomName: name},
	})

	r.roomsMu.Lock()
	if _, taken := r.rooms[name]; taken {
		r.roomsMu.Unlock()
		return nil, ErrRoomExists
	}
	rm := room.New(name, opts)
	r.rooms[name] = rm
	count := len(r.rooms)
	r.roomsMu.Unlock()

	metrics.RoomsCreated.Inc()
	metrics.RoomsActive.Set(float64(count))

	r.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomCreated,
		Source:  "registry",
		Payload: events.RoomContext{RoomName: name},
	})

	r.logger.Info().Str("room", name).Int("rooms", count).Msg("room created")
	return rm, nil
}

// Room looks a room up by name.
func (r *Registry) Room(name string) (*room.Room, bool) {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	rm, ok := r.rooms[name]
	return rm, ok
}

// Rooms returns a snapshot of all registered rooms.
func (r *Registry) Rooms() []*room.Room {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	return out
}

// RoomCount returns the number of registered rooms.
func (r *Registry) RoomCount() int {
	r.roomsMu.RLock()
	defer r.roomsMu.RUnlock()
	return len(r.rooms)
}

// VisibleRoomInfos returns the room-list projection of every visible
// room.
func (r *Registry) VisibleRoomInfos() []room.Info {
	out := make([]room.Info, 0)
	for _, rm := range r.Rooms() {
		if rm.IsVisible() {
			out = append(out, rm.Info())
		}
	}
	return out
}

// FindRandomRoom picks uniformly among the joinable rooms matching the
// given constraints, or reports that none exists.
func (r *Registry) FindRandomRoom(maxPlayers int, filter map[string]any) (*room.Room, bool) {
	candidates := make([]*room.Room, 0)
	for _, rm := range r.Rooms() {
		if rm.MatchesRandomJoin(maxPlayers, filter) {
			candidates = append(candidates, rm)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// DestroyRoom unregisters a room. Non-empty rooms are refused unless
// force is set, in which case every member is detached first.
func (r *Registry) DestroyRoom(ctx context.Context, name string, force bool) error {
	r.roomsMu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		r.roomsMu.Unlock()
		return fmt.Errorf("room %q not found", name)
	}
	if rm.MemberCount() > 0 && !force {
		r.roomsMu.Unlock()
		return ErrRoomNotEmpty
	}
	delete(r.rooms, name)
	count := len(r.rooms)
	r.roomsMu.Unlock()

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventRoomDestroying,
		Source: "registry",
		Payload: events.RoomContext{
			RoomName:    name,
			PlayerCount: rm.MemberCount(),
			MasterID:    rm.MasterID(),
		},
	})

	rm.EvictAll()
	metrics.RoomsActive.Set(float64(count))

	r.bus.Emit(ctx, events.Event{
		Type:    events.EventRoomDestroyed,
		Source:  "registry",
		Payload: events.RoomContext{RoomName: name},
	})

	r.logger.Info().Str("room", name).Int("rooms", count).Msg("room destroyed")
	return nil
}
