package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gridlight-project/gridlight/internal/protocol"
)

type captureHandler struct {
	cmds   chan protocol.Command
	closed chan string
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		cmds:   make(chan protocol.Command, 16),
		closed: make(chan string, 1),
	}
}

func (h *captureHandler) HandleCommand(p *Peer, cmd protocol.Command) {
	h.cmds <- cmd
}

func (h *captureHandler) HandleClosed(p *Peer, reason string) {
	h.closed <- reason
}

func readCommands(t *testing.T, conn net.Conn) []protocol.Command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := protocol.ReadPacket(conn)
	if err != nil {
		t.Fatalf("reading packet: %v", err)
	}
	cmds, err := protocol.ParseCommands(pkt.Payload)
	if err != nil {
		t.Fatalf("parsing commands: %v", err)
	}
	return cmds
}

func writeCommand(t *testing.T, conn net.Conn, cmd protocol.Command) {
	t.Helper()
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("encoding command: %v", err)
	}
	if err := protocol.WritePacket(conn, 0, data); err != nil {
		t.Fatalf("writing packet: %v", err)
	}
}

func startPeer(t *testing.T, opts Options) (*Peer, net.Conn, *captureHandler) {
	t.Helper()
	server, client := net.Pipe()
	p := NewPeer(1, server, opts)
	h := newCaptureHandler()
	p.Start(context.Background(), h)
	t.Cleanup(func() {
		p.ForceClose("test done")
		client.Close()
	})
	return p, client, h
}

func TestStartSendsVerifyConnect(t *testing.T) {
	p, client, _ := startPeer(t, Options{})

	cmds := readCommands(t, client)
	if len(cmds) != 1 || cmds[0].Kind != protocol.CmdVerifyConnect {
		t.Fatalf("got %#v, want one verify-connect", cmds)
	}
	if p.State() != StateConnected {
		t.Errorf("state = %v, want connected", p.State())
	}
}

func TestPingIsEchoed(t *testing.T) {
	_, client, _ := startPeer(t, Options{})
	readCommands(t, client) // verify-connect

	writeCommand(t, client, protocol.Command{Kind: protocol.CmdPing, Timestamp: 42})

	cmds := readCommands(t, client)
	if len(cmds) != 1 || cmds[0].Kind != protocol.CmdPing {
		t.Fatalf("got %#v, want ping", cmds)
	}
	if cmds[0].Flags&protocol.CommandFlagEcho == 0 {
		t.Error("ping reply missing echo flag")
	}
}

func TestReliableSequenceMonotonic(t *testing.T) {
	p, client, _ := startPeer(t, Options{})
	readCommands(t, client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			if err := p.SendReliable("m"); err != nil {
				t.Errorf("send %d: %v", i, err)
			}
		}
	}()

	var seqs []uint32
	for len(seqs) < 3 {
		for _, cmd := range readCommands(t, client) {
			if cmd.Kind == protocol.CmdSendReliable {
				seqs = append(seqs, cmd.Sequence)
			}
		}
	}
	<-done
	for i, s := range seqs {
		if s != uint32(i+1) {
			t.Fatalf("sequence numbers %v, want 1,2,3", seqs)
		}
	}
}

func TestClientDisconnectClosesPeer(t *testing.T) {
	p, client, h := startPeer(t, Options{})
	readCommands(t, client)

	writeCommand(t, client, protocol.Command{Kind: protocol.CmdDisconnect})

	select {
	case reason := <-h.closed:
		if reason != "client requested disconnect" {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never closed")
	}
	if p.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", p.State())
	}
}

func TestSendQueueOverflowDisconnects(t *testing.T) {
	p, client, h := startPeer(t, Options{SendQueueDepth: 1})
	// Never read from client: the pipe write blocks and the queue fills.
	_ = client

	var overflow bool
	for i := 0; i < 8; i++ {
		if err := p.SendReliable("x"); errors.Is(err, ErrSendQueueFull) {
			overflow = true
			break
		}
	}
	if !overflow {
		t.Fatal("queue never overflowed")
	}

	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("overflow did not close the peer")
	}
	select {
	case reason := <-h.closed:
		if reason != ErrSendQueueFull.Error() {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close notification missing")
	}
}

func TestDecodeErrorsEscalate(t *testing.T) {
	p, client, _ := startPeer(t, Options{MaxDecodeErrors: 3})
	readCommands(t, client)

	bad, err := protocol.EncodeCommand(protocol.Command{
		Kind: protocol.CmdSendReliable, Payload: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	bad[len(bad)-4] = 0x00 // corrupt the value tag

	for i := 0; i < 3; i++ {
		if err := protocol.WritePacket(client, 0, bad); err != nil {
			break
		}
	}

	select {
	case <-p.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("repeated decode errors did not close the peer")
	}
	if p.CloseReason() != "too many decode errors" {
		t.Errorf("reason = %q", p.CloseReason())
	}
}

func TestSingleDecodeErrorIsContained(t *testing.T) {
	p, client, h := startPeer(t, Options{})
	readCommands(t, client)

	bad, err := protocol.EncodeCommand(protocol.Command{
		Kind: protocol.CmdSendReliable, Payload: "x",
	})
	if err != nil {
		t.Fatal(err)
	}
	bad[len(bad)-4] = 0x00
	if err := protocol.WritePacket(client, 0, bad); err != nil {
		t.Fatal(err)
	}

	// A well-formed command after the bad one still gets through.
	writeCommand(t, client, protocol.Command{
		Kind: protocol.CmdSendReliable, Sequence: 1, Payload: "ok",
	})

	select {
	case cmd := <-h.cmds:
		if cmd.Payload != "ok" {
			t.Errorf("payload = %v", cmd.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up command never arrived")
	}
	if p.State() == StateDisconnected {
		t.Error("single decode error must not disconnect")
	}
	if p.Stats().DecodeErrors != 1 {
		t.Errorf("decode errors = %d, want 1", p.Stats().DecodeErrors)
	}
}
