// Package session implements the per-connection peer engine: the state
// machine, sequence counters, the read and write loops, and liveness
// bookkeeping for one connected client.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/protocol"
)

// State is the lifecycle state of a peer.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// RoomHandle is the peer's non-owning reference to the room it is in.
// The concrete room type lives in the room package; the peer only needs
// the name to report and to let the registry resolve the full room.
type RoomHandle interface {
	Name() string
}

// Handler receives decoded inbound commands and the close notification
// for a peer. The registry implements it.
type Handler interface {
	HandleCommand(p *Peer, cmd protocol.Command)
	HandleClosed(p *Peer, reason string)
}

// Options tunes a peer's queues and thresholds.
type Options struct {
	SendQueueDepth   int
	MaxDecodeErrors  int
	DecodeErrorWindow time.Duration
	MaxBadSignatures int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SendQueueDepth:    1024,
		MaxDecodeErrors:   10,
		DecodeErrorWindow: 60 * time.Second,
		MaxBadSignatures:  protocol.MaxBadSignatures,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendQueueDepth <= 0 {
		o.SendQueueDepth = d.SendQueueDepth
	}
	if o.MaxDecodeErrors <= 0 {
		o.MaxDecodeErrors = d.MaxDecodeErrors
	}
	if o.DecodeErrorWindow <= 0 {
		o.DecodeErrorWindow = d.DecodeErrorWindow
	}
	if o.MaxBadSignatures <= 0 {
		o.MaxBadSignatures = d.MaxBadSignatures
	}
	return o
}

// Stats is a snapshot of a peer's traffic counters.
type Stats struct {
	BytesIn      uint64
	BytesOut     uint64
	MessagesIn   uint64
	MessagesOut  uint64
	DecodeErrors uint64
}

// Peer is one connected client session.
type Peer struct {
	id     uint16
	conn   net.Conn
	opts   Options
	logger zerolog.Logger

	state atomic.Int32

	// identity, guarded by mu
	mu            sync.Mutex
	authenticated bool
	nickname      string
	userID        string
	props         map[string]any
	room          RoomHandle
	isMaster      bool

	// liveness timestamps, guarded by mu
	connectedAt  time.Time
	lastActivity time.Time
	lastPingSent time.Time
	lastPongRecv time.Time

	// outbound path
	sendMu        sync.Mutex
	reliableSeq   uint32
	unreliableSeq uint32
	sendCh        chan []byte

	// decode-error window, guarded by mu
	decodeErrTimes []time.Time

	// traffic counters
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	messagesIn   atomic.Uint64
	messagesOut  atomic.Uint64
	decodeErrors atomic.Uint64

	closeOnce   sync.Once
	closed      chan struct{}
	closeReason string
}

// NewPeer wraps an accepted connection. Start must be called to run the
// I/O loops.
func NewPeer(id uint16, conn net.Conn, opts Options) *Peer {
	opts = opts.withDefaults()
	now := time.Now()
	return &Peer{
		id:   id,
		conn: conn,
		opts: opts,
		logger: log.With().
			Str("component", "peer").
			Uint16("peer_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		props:        make(map[string]any),
		connectedAt:  now,
		lastActivity: now,
		lastPongRecv: now,
		sendCh:       make(chan []byte, opts.SendQueueDepth),
		closed:       make(chan struct{}),
	}
}

// ID returns the registry-assigned peer id.
func (p *Peer) ID() uint16 { return p.id }

// RemoteAddr returns the client's address.
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }

// State returns the current lifecycle state.
func (p *Peer) State() State { return State(p.state.Load()) }

// setState moves the peer to s and returns the previous state.
func (p *Peer) setState(s State) State {
	return State(p.state.Swap(int32(s)))
}

// ConnectedAt returns when the connection was accepted.
func (p *Peer) ConnectedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedAt
}

// Authenticated reports whether the peer has completed authentication.
func (p *Peer) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

// SetIdentity records the authenticated identity.
func (p *Peer) SetIdentity(nickname, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nickname = nickname
	p.userID = userID
	p.authenticated = true
}

// Nickname returns the display name set during authentication.
func (p *Peer) Nickname() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nickname
}

// UserID returns the user id set during authentication.
func (p *Peer) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// Properties returns a copy of the peer's custom properties.
func (p *Peer) Properties() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out
}

// MergeProperties merges m into the peer's custom properties.
func (p *Peer) MergeProperties(m map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range m {
		p.props[k] = v
	}
}

// Room returns the peer's current room handle, or nil.
func (p *Peer) Room() RoomHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

// SetRoom installs or clears the room association. Clearing also drops
// the master flag.
func (p *Peer) SetRoom(r RoomHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.room = r
	if r == nil {
		p.isMaster = false
	}
}

// IsMaster reports whether this peer is its room's master client.
func (p *Peer) IsMaster() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isMaster
}

// SetMaster flips the master flag. Only the room's election path calls
// this.
func (p *Peer) SetMaster(master bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isMaster = master
}

// Touch records inbound activity.
func (p *Peer) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = time.Now()
}

// LastActivity returns the time of the last inbound traffic.
func (p *Peer) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// LastPingSent returns when the server last pinged this peer.
func (p *Peer) LastPingSent() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPingSent
}

// markPingSent records an outbound ping.
func (p *Peer) markPingSent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPingSent = time.Now()
}

// markPongReceived records an inbound ping answer.
func (p *Peer) markPongReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.lastPongRecv = now
	p.lastActivity = now
}

// Stats returns a snapshot of the traffic counters.
func (p *Peer) Stats() Stats {
	return Stats{
		BytesIn:      p.bytesIn.Load(),
		BytesOut:     p.bytesOut.Load(),
		MessagesIn:   p.messagesIn.Load(),
		MessagesOut:  p.messagesOut.Load(),
		DecodeErrors: p.decodeErrors.Load(),
	}
}

// SequenceNumbers returns the current reliable and unreliable outbound
// counters.
func (p *Peer) SequenceNumbers() (reliable, unreliable uint32) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.reliableSeq, p.unreliableSeq
}

// recordDecodeError counts one contained decode failure and reports
// whether the error budget inside the sliding window is exhausted.
func (p *Peer) recordDecodeError() bool {
	p.decodeErrors.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-p.opts.DecodeErrorWindow)
	kept := p.decodeErrTimes[:0]
	for _, t := range p.decodeErrTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.decodeErrTimes = append(kept, now)
	return len(p.decodeErrTimes) >= p.opts.MaxDecodeErrors
}

// Closed returns a channel closed when the peer is fully shut down.
func (p *Peer) Closed() <-chan struct{} { return p.closed }

// CloseReason returns the disconnect reason once the peer is closed.
func (p *Peer) CloseReason() string {
	select {
	case <-p.closed:
		return p.closeReason
	default:
		return ""
	}
}
