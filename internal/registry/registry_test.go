package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/protocol"
	"github.com/gridlight-project/gridlight/internal/room"
	"github.com/gridlight-project/gridlight/internal/session"
)

func testServerData() config.ServerData {
	return config.ServerData{
		ListenHost:             "127.0.0.1",
		MaxConnections:         4,
		PingIntervalMs:         30000,
		ConnectionTimeoutMs:    60000,
		CleanupIntervalMs:      60000,
		EmptyRoomTTLMs:         300000,
		MaxCachedEventsPerRoom: 100,
		MaxPlayersHardCap:      500,
		SendQueueDepth:         64,
		GracefulShutdownMs:     500,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	return New(testServerData(), bus)
}

// drainConn keeps the client side of a pipe readable so the peer's
// write loop never stalls.
func drainConn(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
}

func acceptPipe(t *testing.T, reg *Registry) (net.Conn, error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	drainConn(t, client)
	return client, reg.Accept(context.Background(), server)
}

func TestAcceptAssignsSequentialIDs(t *testing.T) {
	reg := newTestRegistry(t)
	for i := 0; i < 3; i++ {
		if _, err := acceptPipe(t, reg); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	if reg.PeerCount() != 3 {
		t.Fatalf("peer count = %d, want 3", reg.PeerCount())
	}
	for _, id := range []uint16{1, 2, 3} {
		if _, ok := reg.Peer(id); !ok {
			t.Errorf("peer %d missing", id)
		}
	}
}

func TestAcceptRejectsAtCapacity(t *testing.T) {
	reg := newTestRegistry(t)
	for i := 0; i < 4; i++ {
		if _, err := acceptPipe(t, reg); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}
	if _, err := acceptPipe(t, reg); err != ErrServerFull {
		t.Fatalf("got %v, want ErrServerFull", err)
	}
	if reg.PeerCount() != 4 {
		t.Errorf("peer count = %d, want 4", reg.PeerCount())
	}
}

func TestClosedPeerLeavesDirectory(t *testing.T) {
	reg := newTestRegistry(t)
	client, err := acceptPipe(t, reg)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := reg.Peer(1)

	client.Close()
	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("peer never closed")
	}
	waitFor(t, func() bool { return reg.PeerCount() == 0 })
}

func TestKickPeer(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := acceptPipe(t, reg); err != nil {
		t.Fatal(err)
	}
	p, _ := reg.Peer(1)

	if !reg.KickPeer(1) {
		t.Fatal("kick reported failure")
	}
	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("kicked peer never closed")
	}
	if reg.KickPeer(99) {
		t.Error("kicking an unknown peer reported success")
	}
}

func TestCreateRoomAppliesConfigDefaults(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	rm, err := reg.CreateRoom(ctx, "arena", room.Options{IsOpen: true, IsVisible: true})
	if err != nil {
		t.Fatal(err)
	}
	if rm.Name() != "arena" {
		t.Errorf("name = %q", rm.Name())
	}
	if _, err := reg.CreateRoom(ctx, "arena", room.Options{}); err != ErrRoomExists {
		t.Fatalf("duplicate create: %v, want ErrRoomExists", err)
	}
	if _, err := reg.CreateRoom(ctx, "", room.Options{}); err == nil {
		t.Error("empty room name accepted")
	}
}

func TestDestroyRoomRefusesNonEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	rm, err := reg.CreateRoom(ctx, "arena", room.Options{IsOpen: true, IsVisible: true})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := acceptPipe(t, reg); err != nil {
		t.Fatal(err)
	}
	p, _ := reg.Peer(1)
	if err := rm.Join(p, "", nil); err != nil {
		t.Fatal(err)
	}

	if err := reg.DestroyRoom(ctx, "arena", false); err != ErrRoomNotEmpty {
		t.Fatalf("got %v, want ErrRoomNotEmpty", err)
	}
	if err := reg.DestroyRoom(ctx, "arena", true); err != nil {
		t.Fatalf("forced destroy: %v", err)
	}
	if reg.RoomCount() != 0 {
		t.Errorf("room count = %d, want 0", reg.RoomCount())
	}
	if p.Room() != nil {
		t.Error("member still holds a room handle")
	}
}

func TestVisibleRoomInfos(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	reg.CreateRoom(ctx, "shown", room.Options{IsOpen: true, IsVisible: true})
	reg.CreateRoom(ctx, "hidden", room.Options{IsOpen: true, IsVisible: false})

	infos := reg.VisibleRoomInfos()
	if len(infos) != 1 || infos[0].Name != "shown" {
		t.Fatalf("infos = %#v, want only shown", infos)
	}
}

func TestFindRandomRoomHonoursConstraints(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	reg.CreateRoom(ctx, "ctf", room.Options{
		IsOpen: true, IsVisible: true,
		Properties: map[string]any{"mode": "ctf"},
	})

	if _, ok := reg.FindRandomRoom(0, map[string]any{"mode": "dm"}); ok {
		t.Error("mismatched filter matched a room")
	}
	rm, ok := reg.FindRandomRoom(0, map[string]any{"mode": "ctf"})
	if !ok || rm.Name() != "ctf" {
		t.Fatalf("matching filter found %v", rm)
	}
}

func TestShutdownDrainsPeersAndRooms(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	reg.CreateRoom(ctx, "arena", room.Options{IsOpen: true, IsVisible: true})

	var peers []*session.Peer
	for i := 0; i < 3; i++ {
		if _, err := acceptPipe(t, reg); err != nil {
			t.Fatal(err)
		}
		p, _ := reg.Peer(uint16(i + 1))
		peers = append(peers, p)
	}

	reg.Shutdown(ctx)

	for _, p := range peers {
		select {
		case <-p.Closed():
		case <-time.After(2 * time.Second):
			t.Fatalf("peer %d still open after shutdown", p.ID())
		}
	}
	if reg.RoomCount() != 0 {
		t.Errorf("room count = %d, want 0", reg.RoomCount())
	}

	server, client := net.Pipe()
	defer client.Close()
	if err := reg.Accept(ctx, server); err != ErrShuttingDown {
		t.Fatalf("post-shutdown accept: %v, want ErrShuttingDown", err)
	}
}

func TestSweepLivenessDisconnectsIdlePeers(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := acceptPipe(t, reg); err != nil {
		t.Fatal(err)
	}
	p, _ := reg.Peer(1)

	// Far enough in the future that the peer is past the timeout.
	reg.sweepLiveness(time.Now().Add(2 * time.Minute))

	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("idle peer was not disconnected")
	}
	if p.CloseReason() != "inactivity timeout" {
		t.Errorf("reason = %q", p.CloseReason())
	}
}

func TestSweepLivenessPingsDuePeers(t *testing.T) {
	reg := newTestRegistry(t)
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	if err := reg.Accept(context.Background(), server); err != nil {
		t.Fatal(err)
	}

	readCmds := func() []protocol.Command {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		pkt, err := protocol.ReadPacket(client)
		if err != nil {
			t.Fatalf("reading packet: %v", err)
		}
		cmds, err := protocol.ParseCommands(pkt.Payload)
		if err != nil {
			t.Fatalf("parsing commands: %v", err)
		}
		return cmds
	}

	if cmds := readCmds(); cmds[0].Kind != protocol.CmdVerifyConnect {
		t.Fatalf("first command = %v", cmds[0].Kind)
	}

	// Idle past the ping interval but inside the timeout.
	reg.sweepLiveness(time.Now().Add(45 * time.Second))

	if cmds := readCmds(); cmds[0].Kind != protocol.CmdPing {
		t.Fatalf("got %v, want ping", cmds[0].Kind)
	}
}

func TestSweepRoomsDestroysExpired(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	reg.CreateRoom(ctx, "stale", room.Options{
		IsOpen: true, IsVisible: true,
		AutoCleanup: true, EmptyRoomTTL: time.Minute,
	})
	reg.CreateRoom(ctx, "pinned", room.Options{
		IsOpen: true, IsVisible: true,
		AutoCleanup: false,
	})

	reg.sweepRooms(ctx, time.Now().Add(10*time.Minute))

	if _, ok := reg.Room("stale"); ok {
		t.Error("expired room survived the sweep")
	}
	if _, ok := reg.Room("pinned"); !ok {
		t.Error("non-auto-cleanup room was destroyed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
