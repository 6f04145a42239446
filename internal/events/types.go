// Package events implements the observer hook registry: named
// lifecycle events with compact context payloads, delivered through an
// asynchronous bus. Observers receive copies of the context and must
// not mutate shared state through it.
package events

// EventType names one observable hook point.
type EventType string

const (
	// Server lifecycle
	EventServerStarting EventType = "server:starting"
	EventServerStarted  EventType = "server:started"
	EventServerStopping EventType = "server:stopping"
	EventServerStopped  EventType = "server:stopped"

	// Peer lifecycle
	EventPeerConnecting     EventType = "peer:connecting"
	EventPeerConnected      EventType = "peer:connected"
	EventPeerAuthenticating EventType = "peer:authenticating"
	EventPeerAuthenticated  EventType = "peer:authenticated"
	EventPeerDisconnecting  EventType = "peer:disconnecting"
	EventPeerDisconnected   EventType = "peer:disconnected"

	// Room lifecycle
	EventRoomCreating   EventType = "room:creating"
	EventRoomCreated    EventType = "room:created"
	EventRoomDestroying EventType = "room:destroying"
	EventRoomDestroyed  EventType = "room:destroyed"

	// Traffic
	EventOperationReceived  EventType = "operation:received"
	EventOperationProcessed EventType = "operation:processed"
	EventEventRaised        EventType = "event:raised"
	EventEventSent          EventType = "event:sent"

	// Monitoring
	EventHealthSnapshot EventType = "health:snapshot"
)

// Event is one emission: a hook name, the emitting component, and a
// typed context payload.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// ServerContext accompanies server lifecycle events.
type ServerContext struct {
	ListenAddr string
	PeerCount  int
	RoomCount  int
}

// PeerContext accompanies peer lifecycle events.
type PeerContext struct {
	PeerID   uint16
	Remote   string
	Nickname string
	UserID   string
	Reason   string
}

// RoomContext accompanies room lifecycle events.
type RoomContext struct {
	RoomName    string
	PlayerCount int
	MasterID    uint16
}

// OperationContext accompanies operation:received/processed.
type OperationContext struct {
	PeerID     uint16
	OpCode     byte
	ReturnCode int16
	DurationUs int64
}

// HealthContext accompanies health:snapshot.
type HealthContext struct {
	CPUPercent    float64
	MemoryUsedMB  uint64
	MemoryPercent float64
	DiskPercent   float64
	Goroutines    int
	Peers         int
	Rooms         int
	Healthy       bool
}

// RaiseContext accompanies event:raised and event:sent.
type RaiseContext struct {
	PeerID    uint16
	RoomName  string
	EventCode byte
	Targets   int
	Cached    bool
}
