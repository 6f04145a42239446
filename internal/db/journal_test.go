package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridlight-project/gridlight/internal/events"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSessionLifecycleRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	err := j.onPeerConnected(ctx, events.Event{
		Type:    events.EventPeerConnected,
		Payload: events.PeerContext{PeerID: 1, Remote: "10.0.0.9:50412"},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	err = j.onPeerDisconnected(ctx, events.Event{
		Type: events.EventPeerDisconnected,
		Payload: events.PeerContext{
			PeerID: 1, Nickname: "ripley", UserID: "u-1", Reason: "client request",
		},
	})
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	sessions, err := j.RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.PeerID != 1 || s.RemoteAddr != "10.0.0.9:50412" {
		t.Errorf("row = %+v", s)
	}
	if s.Nickname != "ripley" || s.CloseReason != "client request" {
		t.Errorf("close fields = %+v", s)
	}
	if s.DisconnectedAt == nil {
		t.Error("disconnected_at not set")
	}
}

func TestDisconnectClosesNewestOpenRow(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// Peer id 7 connects twice (id recycling); only the newest open row
	// should be closed.
	for i := 0; i < 2; i++ {
		if err := j.onPeerConnected(ctx, events.Event{
			Payload: events.PeerContext{PeerID: 7, Remote: "10.0.0.1:1"},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.onPeerDisconnected(ctx, events.Event{
		Payload: events.PeerContext{PeerID: 7, Reason: "kicked"},
	}); err != nil {
		t.Fatal(err)
	}

	sessions, err := j.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	// Newest first.
	if sessions[0].DisconnectedAt == nil {
		t.Error("newest row still open")
	}
	if sessions[1].DisconnectedAt != nil {
		t.Error("older row was closed")
	}
}

func TestBadPayloadIsRejected(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.onPeerConnected(ctx, events.Event{Payload: "not a peer"}); err == nil {
		t.Error("string payload accepted")
	}
	if err := j.onRoomCreated(ctx, events.Event{Payload: 42}); err == nil {
		t.Error("int payload accepted")
	}
}

func TestOpStatsAccumulate(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	emit := func(op byte, rc int16) {
		t.Helper()
		if err := j.onOperationProcessed(ctx, events.Event{
			Payload: events.OperationContext{PeerID: 1, OpCode: op, ReturnCode: rc},
		}); err != nil {
			t.Fatal(err)
		}
	}

	emit(255, 0)
	emit(255, 0)
	emit(255, 32766)
	emit(226, 0)

	stats, err := j.OpStats()
	if err != nil {
		t.Fatalf("OpStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %d rows, want 2", len(stats))
	}

	byOp := make(map[byte]OpStat, len(stats))
	for _, s := range stats {
		byOp[s.OpCode] = s
	}
	if s := byOp[255]; s.Count != 3 || s.Failures != 1 {
		t.Errorf("op 255 = %+v", s)
	}
	if s := byOp[226]; s.Count != 1 || s.Failures != 0 {
		t.Errorf("op 226 = %+v", s)
	}
}

func TestRoomLifecycleRecordsPeak(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.onRoomCreated(ctx, events.Event{
		Payload: events.RoomContext{RoomName: "arena"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := j.onRoomDestroying(ctx, events.Event{
		Payload: events.RoomContext{RoomName: "arena", PlayerCount: 6},
	}); err != nil {
		t.Fatal(err)
	}

	var destroyed int
	var peak int
	row := j.db.readRow(
		"SELECT COUNT(destroyed_at), MAX(peak_players) FROM rooms WHERE name = ?", "arena")
	if err := row.Scan(&destroyed, &peak); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if destroyed != 1 || peak != 6 {
		t.Errorf("destroyed = %d, peak = %d", destroyed, peak)
	}
}

func TestPruneRemovesOnlyClosedRows(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// One closed session, one still open.
	if err := j.onPeerConnected(ctx, events.Event{
		Payload: events.PeerContext{PeerID: 1, Remote: "a:1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := j.onPeerDisconnected(ctx, events.Event{
		Payload: events.PeerContext{PeerID: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := j.onPeerConnected(ctx, events.Event{
		Payload: events.PeerContext{PeerID: 2, Remote: "b:2"},
	}); err != nil {
		t.Fatal(err)
	}

	pruned, err := j.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}

	sessions, err := j.RecentSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].PeerID != 2 {
		t.Fatalf("surviving sessions = %+v", sessions)
	}
}

func TestAttachSubscribesLifecycleHooks(t *testing.T) {
	j := newTestJournal(t)
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	j.Attach(bus)

	for _, et := range []events.EventType{
		events.EventPeerConnected,
		events.EventPeerDisconnected,
		events.EventRoomCreated,
		events.EventRoomDestroying,
		events.EventOperationProcessed,
	} {
		if bus.HandlerCount(et) != 1 {
			t.Errorf("%s: handler count = %d, want 1", et, bus.HandlerCount(et))
		}
	}
}
