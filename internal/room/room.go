// Package room implements the room engine: membership, master-client
// election, property fan-out, event raising with optional caching, and
// the empty-room cleanup predicate.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/metrics"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/session"
)

// MaxPlayersHardCap bounds the per-room player limit.
const MaxPlayersHardCap = 500

// Membership failures, mapped to wire return codes by the operation
// handlers.
var (
	ErrClosed        = errors.New("room is closed")
	ErrFull          = errors.New("room is full")
	ErrBadPassword   = errors.New("password mismatch")
	ErrAlreadyMember = errors.New("peer is already a member")
	ErrNotMember     = errors.New("peer is not a member")
	ErrNotMaster     = errors.New("peer is not the master client")
)

// Options configures a new room.
type Options struct {
	MaxPlayers      int
	IsOpen          bool
	IsVisible       bool
	Password        string
	EmptyRoomTTL    time.Duration
	PlayerTTL       time.Duration
	AutoCleanup     bool
	MaxCachedEvents int
	Properties      map[string]any
}

// DefaultOptions returns the options applied when a create request
// leaves fields unset.
func DefaultOptions() Options {
	return Options{
		MaxPlayers:      0, // unlimited up to the hard cap
		IsOpen:          true,
		IsVisible:       true,
		EmptyRoomTTL:    5 * time.Minute,
		AutoCleanup:     true,
		MaxCachedEvents: 100,
	}
}

func (o Options) normalized() Options {
	if o.MaxPlayers <= 0 || o.MaxPlayers > MaxPlayersHardCap {
		o.MaxPlayers = MaxPlayersHardCap
	}
	if o.MaxCachedEvents <= 0 {
		o.MaxCachedEvents = 100
	}
	if o.Properties == nil {
		o.Properties = make(map[string]any)
	}
	return o
}

// cachedEvent is one replay-on-join entry.
type cachedEvent struct {
	code     byte
	data     any
	senderID uint16
	at       time.Time
}

// Stats counts room traffic since creation.
type Stats struct {
	Joins        uint64
	Leaves       uint64
	EventsRaised uint64
	EventsSent   uint64
}

// JoinInfo is handed to the join respond callback before any event
// reaches the joining peer.
type JoinInfo struct {
	ActorNr      uint16
	MasterID     uint16
	MemberIDs    []int32
	Properties   map[string]any
	ActorProps   map[uint16]map[string]any
	PlayerTTL    time.Duration
	EmptyRoomTTL time.Duration
}

// Room is a named container for peers that share events and
// properties. One mutex covers members, master-id, properties and the
// event cache.
type Room struct {
	name   string
	logger zerolog.Logger

	mu           sync.Mutex
	opts         Options
	members      map[uint16]*session.Peer
	masterID     uint16 // 0 means no master
	props        map[string]any
	cache        []cachedEvent
	createdAt    time.Time
	lastActivity time.Time
	stats        Stats
}

// New creates a room with the given unique name.
func New(name string, opts Options) *Room {
	opts = opts.normalized()
	now := time.Now()
	return &Room{
		name:         name,
		logger:       log.With().Str("component", "room").Str("room", name).Logger(),
		opts:         opts,
		members:      make(map[uint16]*session.Peer),
		props:        opts.Properties,
		createdAt:    now,
		lastActivity: now,
	}
}

// Name returns the room's unique name.
func (r *Room) Name() string { return r.name }

// CreatedAt returns the room creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// MemberCount returns the current member count.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// MasterID returns the current master client id, zero when empty.
func (r *Room) MasterID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.masterID
}

// HasMember reports whether the peer id is a member.
func (r *Room) HasMember(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

// MemberIDs returns the member ids in unspecified order.
func (r *Room) MemberIDs() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint16, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// Stats returns a snapshot of the room counters.
func (r *Room) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Info is the room-list projection of a room.
type Info struct {
	Name        string
	PlayerCount int
	MaxPlayers  int
	IsOpen      bool
	IsVisible   bool
	Properties  map[string]any
}

// Info returns the projection served by room-list operations.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	props := make(map[string]any, len(r.props))
	for k, v := range r.props {
		props[k] = v
	}
	return Info{
		Name:        r.name,
		PlayerCount: len(r.members),
		MaxPlayers:  r.opts.MaxPlayers,
		IsOpen:      r.opts.IsOpen,
		IsVisible:   r.opts.IsVisible,
		Properties:  props,
	}
}

// IsVisible reports whether the room appears in room lists.
func (r *Room) IsVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts.IsVisible
}

// MatchesRandomJoin reports whether this room accepts a random-join
// request with the given constraints.
func (r *Room) MatchesRandomJoin(maxPlayers int, filter map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opts.IsVisible || !r.opts.IsOpen || r.opts.Password != "" {
		return false
	}
	if len(r.members) >= r.opts.MaxPlayers {
		return false
	}
	if maxPlayers > 0 && r.opts.MaxPlayers > maxPlayers {
		return false
	}
	for k, want := range filter {
		got, ok := r.props[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Join adds p as a member. On success the respond callback runs first,
// then every cached event is delivered to p, then the join broadcast
// reaches the other members; all of it under the room lock so nothing
// can interleave.
func (r *Room) Join(p *session.Peer, password string, respond func(JoinInfo)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[p.ID()]; ok {
		return ErrAlreadyMember
	}
	if !r.opts.IsOpen {
		return ErrClosed
	}
	if len(r.members) >= r.opts.MaxPlayers {
		return ErrFull
	}
	if r.opts.Password != "" && password != r.opts.Password {
		return ErrBadPassword
	}

	r.members[p.ID()] = p
	p.SetRoom(r)
	if len(r.members) == 1 {
		r.masterID = p.ID()
		p.SetMaster(true)
	}
	r.lastActivity = time.Now()
	r.stats.Joins++

	if respond != nil {
		respond(JoinInfo{
			ActorNr:      p.ID(),
			MasterID:     r.masterID,
			MemberIDs:    r.memberIDsLocked(),
			Properties:   r.propsCopyLocked(),
			ActorProps:   r.actorPropsLocked(),
			PlayerTTL:    r.opts.PlayerTTL,
			EmptyRoomTTL: r.opts.EmptyRoomTTL,
		})
	}

	for _, ce := range r.cache {
		r.deliverLocked(p, protocol.EventData{
			Code: ce.code,
			Params: map[any]any{
				protocol.ParamActorNr:   int32(ce.senderID),
				protocol.ParamEventData: ce.data,
			},
		})
	}

	r.broadcastLocked(p.ID(), protocol.EventData{
		Code: protocol.EvJoin,
		Params: map[any]any{
			protocol.ParamActorNr:    int32(p.ID()),
			protocol.ParamNickname:   p.Nickname(),
			protocol.ParamProperties: toHashtable(anyKeys(p.Properties())),
			protocol.ParamActorList:  r.memberIDsLocked(),
		},
	})

	r.logger.Info().
		Uint16("peer_id", p.ID()).
		Int("members", len(r.members)).
		Msg("peer joined room")
	return nil
}

// Leave removes p from the room, reassigns the master when needed and
// broadcasts the departure. Returns ErrNotMember if p is not a member.
func (r *Room) Leave(p *session.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[p.ID()]; !ok {
		return ErrNotMember
	}
	delete(r.members, p.ID())
	wasMaster := r.masterID == p.ID()
	p.SetRoom(nil)
	r.lastActivity = time.Now()
	r.stats.Leaves++

	r.broadcastLocked(0, protocol.EventData{
		Code: protocol.EvLeave,
		Params: map[any]any{
			protocol.ParamActorNr:   int32(p.ID()),
			protocol.ParamActorList: r.memberIDsLocked(),
		},
	})

	if wasMaster {
		r.masterID = 0
		if len(r.members) > 0 {
			r.electMasterLocked()
		}
	}

	r.logger.Info().
		Uint16("peer_id", p.ID()).
		Int("members", len(r.members)).
		Msg("peer left room")
	return nil
}

// electMasterLocked promotes the member with the smallest peer id and
// broadcasts the switch.
func (r *Room) electMasterLocked() {
	var smallest uint16
	for id := range r.members {
		if smallest == 0 || id < smallest {
			smallest = id
		}
	}
	r.masterID = smallest
	for id, m := range r.members {
		m.SetMaster(id == smallest)
	}
	r.broadcastLocked(0, protocol.EventData{
		Code: protocol.EvMasterClientSwitched,
		Params: map[any]any{
			protocol.ParamMasterClient: int32(smallest),
		},
	})
	r.logger.Info().Uint16("master_id", smallest).Msg("master client switched")
}

// RaiseEvent fans an event out from sender. A nil target list means
// broadcast to everyone except the sender; an explicit list is
// delivered to each present member, silently skipping absent ids.
func (r *Room) RaiseEvent(sender *session.Peer, code byte, data any, targets []uint16, cache bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[sender.ID()]; !ok {
		return ErrNotMember
	}
	r.lastActivity = time.Now()
	r.stats.EventsRaised++

	if cache {
		r.cache = append(r.cache, cachedEvent{
			code:     code,
			data:     data,
			senderID: sender.ID(),
			at:       time.Now(),
		})
		if len(r.cache) > r.opts.MaxCachedEvents {
			r.cache = r.cache[1:]
		}
	}

	ev := protocol.EventData{
		Code: code,
		Params: map[any]any{
			protocol.ParamActorNr:   int32(sender.ID()),
			protocol.ParamEventData: data,
		},
	}

	if targets == nil {
		r.broadcastLocked(sender.ID(), ev)
		return nil
	}
	for _, id := range targets {
		if m, ok := r.members[id]; ok {
			r.deliverLocked(m, ev)
		}
	}
	return nil
}

// ChangeGameProperties merges props into the room's game properties and
// broadcasts the full post-merge map. Only the master client may call.
func (r *Room) ChangeGameProperties(sender *session.Peer, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[sender.ID()]; !ok {
		return ErrNotMember
	}
	if r.masterID != sender.ID() {
		return ErrNotMaster
	}
	for k, v := range props {
		r.props[k] = v
	}
	r.lastActivity = time.Now()

	r.broadcastLocked(0, protocol.EventData{
		Code: protocol.EvPropertiesChanged,
		Params: map[any]any{
			protocol.ParamActorNr:    int32(0),
			protocol.ParamProperties: toHashtable(anyKeys(r.propsCopyLocked())),
		},
	})
	return nil
}

// ChangeActorProperties merges props into the sender's own custom
// properties and broadcasts the change tagged with the actor id.
func (r *Room) ChangeActorProperties(sender *session.Peer, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[sender.ID()]; !ok {
		return ErrNotMember
	}
	sender.MergeProperties(props)
	r.lastActivity = time.Now()

	r.broadcastLocked(0, protocol.EventData{
		Code: protocol.EvPropertiesChanged,
		Params: map[any]any{
			protocol.ParamActorNr:    int32(sender.ID()),
			protocol.ParamProperties: toHashtable(anyKeys(sender.Properties())),
		},
	})
	return nil
}

// CleanupEligible reports whether the room can be destroyed at the
// given instant.
func (r *Room) CleanupEligible(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0 &&
		r.opts.AutoCleanup &&
		r.opts.EmptyRoomTTL > 0 &&
		now.Sub(r.lastActivity) > r.opts.EmptyRoomTTL
}

// EvictAll detaches every member without broadcasts; used on room
// destruction and server shutdown.
func (r *Room) EvictAll() []*session.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Peer, 0, len(r.members))
	for id, m := range r.members {
		m.SetRoom(nil)
		delete(r.members, id)
		out = append(out, m)
	}
	r.masterID = 0
	return out
}

// CachedEventCount returns the current replay-cache size.
func (r *Room) CachedEventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// broadcastLocked sends ev to every member except the excluded id
// (zero excludes nobody).
func (r *Room) broadcastLocked(exclude uint16, ev protocol.EventData) {
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		r.deliverLocked(m, ev)
	}
}

// deliverLocked sends one event best-effort; a dead member just logs.
func (r *Room) deliverLocked(m *session.Peer, ev protocol.EventData) {
	if err := m.SendEvent(ev); err != nil {
		r.logger.Debug().
			Err(err).
			Uint16("peer_id", m.ID()).
			Uint8("event", ev.Code).
			Msg("event delivery failed")
		return
	}
	r.stats.EventsSent++
	metrics.EventsSent.Inc()
}

func (r *Room) memberIDsLocked() []int32 {
	out := make([]int32, 0, len(r.members))
	for id := range r.members {
		out = append(out, int32(id))
	}
	return out
}

func (r *Room) actorPropsLocked() map[uint16]map[string]any {
	out := make(map[uint16]map[string]any, len(r.members))
	for id, m := range r.members {
		out[id] = m.Properties()
	}
	return out
}

func (r *Room) propsCopyLocked() map[string]any {
	out := make(map[string]any, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

// anyKeys widens a string-keyed map for wire encoding.
func anyKeys(m map[string]any) map[any]any {
	out := make(map[any]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// toHashtable converts a loose map into the wire hash-table type.
func toHashtable(m map[any]any) protocol.Hashtable {
	return protocol.Hashtable(m)
}
