package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/events"
)

// Journal records server history into SQLite. All writes go through
// the single-writer store; observer callbacks only ever insert or
// update, so a failed write is logged and dropped rather than
// retried.
type Journal struct {
	db     *store
	logger zerolog.Logger
}

// NewJournal opens (or creates) the journal database and migrates its
// schema.
func NewJournal(dbPath string) (*Journal, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:     st,
		logger: log.With().Str("component", "journal").Logger(),
	}

	if err := j.migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}

	return j, nil
}

// migrate creates the journal schema.
func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id INTEGER NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			connected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			disconnected_at DATETIME,
			close_reason TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			destroyed_at DATETIME,
			peak_players INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS op_stats (
			op_code INTEGER PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			last_seen DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_peer_id ON sessions(peer_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(disconnected_at);
		CREATE INDEX IF NOT EXISTS idx_rooms_name ON rooms(name);
	`

	_, err := j.db.write(schema)
	if err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	j.logger.Debug().Msg("journal schema migrated")
	return nil
}

// Attach subscribes the journal to the lifecycle hooks it records.
func (j *Journal) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventPeerConnected, "journal", j.onPeerConnected)
	bus.Subscribe(events.EventPeerDisconnected, "journal", j.onPeerDisconnected)
	bus.Subscribe(events.EventRoomCreated, "journal", j.onRoomCreated)
	bus.Subscribe(events.EventRoomDestroying, "journal", j.onRoomDestroying)
	bus.Subscribe(events.EventOperationProcessed, "journal", j.onOperationProcessed)
}

func (j *Journal) onPeerConnected(ctx context.Context, event events.Event) error {
	pc, ok := event.Payload.(events.PeerContext)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	_, err := j.db.write(
		"INSERT INTO sessions (peer_id, remote_addr) VALUES (?, ?)",
		pc.PeerID, pc.Remote)
	return err
}

func (j *Journal) onPeerDisconnected(ctx context.Context, event events.Event) error {
	pc, ok := event.Payload.(events.PeerContext)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	// Close the newest open session row for this peer id. Peer ids are
	// recycled, so the most recent open row is the right one.
	_, err := j.db.write(`
		UPDATE sessions
		SET disconnected_at = CURRENT_TIMESTAMP,
			nickname = ?,
			user_id = ?,
			close_reason = ?
		WHERE id = (
			SELECT id FROM sessions
			WHERE peer_id = ? AND disconnected_at IS NULL
			ORDER BY id DESC LIMIT 1
		)
	`, pc.Nickname, pc.UserID, pc.Reason, pc.PeerID)
	return err
}

func (j *Journal) onRoomCreated(ctx context.Context, event events.Event) error {
	rc, ok := event.Payload.(events.RoomContext)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	_, err := j.db.write("INSERT INTO rooms (name) VALUES (?)", rc.RoomName)
	return err
}

func (j *Journal) onRoomDestroying(ctx context.Context, event events.Event) error {
	rc, ok := event.Payload.(events.RoomContext)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	_, err := j.db.write(`
		UPDATE rooms
		SET destroyed_at = CURRENT_TIMESTAMP,
			peak_players = MAX(peak_players, ?)
		WHERE id = (
			SELECT id FROM rooms
			WHERE name = ? AND destroyed_at IS NULL
			ORDER BY id DESC LIMIT 1
		)
	`, rc.PlayerCount, rc.RoomName)
	return err
}

func (j *Journal) onOperationProcessed(ctx context.Context, event events.Event) error {
	oc, ok := event.Payload.(events.OperationContext)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	failed := 0
	if oc.ReturnCode != 0 {
		failed = 1
	}
	_, err := j.db.write(`
		INSERT INTO op_stats (op_code, count, failures, last_seen)
		VALUES (?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(op_code) DO UPDATE SET
			count = count + 1,
			failures = failures + excluded.failures,
			last_seen = CURRENT_TIMESTAMP
	`, oc.OpCode, failed)
	return err
}

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID             int        `json:"id"`
	PeerID         uint16     `json:"peer_id"`
	RemoteAddr     string     `json:"remote_addr"`
	Nickname       string     `json:"nickname"`
	UserID         string     `json:"user_id"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
}

// RecentSessions returns the newest limit session rows.
func (j *Journal) RecentSessions(limit int) ([]SessionRecord, error) {
	rows, err := j.db.read(`
		SELECT id, peer_id, remote_addr, nickname, user_id,
			connected_at, disconnected_at, close_reason
		FROM sessions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var s SessionRecord
		if err := rows.Scan(&s.ID, &s.PeerID, &s.RemoteAddr, &s.Nickname,
			&s.UserID, &s.ConnectedAt, &s.DisconnectedAt, &s.CloseReason); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// OpStat is one row of the op_stats table.
type OpStat struct {
	OpCode   byte       `json:"op_code"`
	Count    int64      `json:"count"`
	Failures int64      `json:"failures"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// OpStats returns the accumulated per-operation counters.
func (j *Journal) OpStats() ([]OpStat, error) {
	rows, err := j.db.read(
		"SELECT op_code, count, failures, last_seen FROM op_stats ORDER BY op_code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OpStat
	for rows.Next() {
		var s OpStat
		if err := rows.Scan(&s.OpCode, &s.Count, &s.Failures, &s.LastSeen); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes closed session and destroyed room rows older than
// cutoff, returning how many rows were removed. Open sessions and live
// rooms are never pruned.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	var total int64

	res, err := j.db.write(
		"DELETE FROM sessions WHERE disconnected_at IS NOT NULL AND disconnected_at < ?",
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = j.db.write(
		"DELETE FROM rooms WHERE destroyed_at IS NOT NULL AND destroyed_at < ?",
		cutoff.UTC())
	if err != nil {
		return total, fmt.Errorf("pruning rooms: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
