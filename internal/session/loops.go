package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gridlight-project/gridlight/internal/protocol"
)

// writeDeadline bounds a single packet write to a stalled client.
const writeDeadline = 10 * time.Second

// ErrSendQueueFull is the disconnect cause when a slow client cannot
// drain its outbound queue.
var ErrSendQueueFull = errors.New("send queue overflow")

// Start moves the peer into Connecting, launches the read and write
// loops and sends the VerifyConnect greeting. handler receives every
// decoded command and the final close notification.
func (p *Peer) Start(ctx context.Context, handler Handler) {
	p.setState(StateConnecting)

	go p.writeLoop()
	go p.readLoop(ctx, handler)

	if err := p.SendCommand(protocol.Command{
		Kind:      protocol.CmdVerifyConnect,
		Timestamp: timestampNow(),
	}); err != nil {
		p.logger.Warn().Err(err).Msg("verify-connect not queued")
		return
	}
	p.setState(StateConnected)
}

// readLoop pulls packets off the socket until the connection dies or
// the peer is told to stop.
func (p *Peer) readLoop(ctx context.Context, handler Handler) {
	defer func() {
		handler.HandleClosed(p, p.terminate("connection closed"))
	}()

	badSignatures := 0
	for {
		select {
		case <-ctx.Done():
			p.terminate("server shutdown")
			return
		case <-p.closed:
			return
		default:
		}

		pkt, err := protocol.ReadPacket(p.conn)
		if err != nil {
			if errors.Is(err, protocol.ErrBadSignature) {
				badSignatures++
				p.logger.Warn().
					Err(err).
					Int("successive", badSignatures).
					Msg("packet signature mismatch")
				if badSignatures >= p.opts.MaxBadSignatures {
					p.terminate("repeated bad packet signatures")
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.terminate("client closed connection")
				return
			}
			p.terminate(fmt.Sprintf("read error: %v", err))
			return
		}
		badSignatures = 0
		p.bytesIn.Add(uint64(protocol.PacketHeaderSize + len(pkt.Payload)))
		p.Touch()

		cmds, err := protocol.ParseCommands(pkt.Payload)
		for _, cmd := range cmds {
			p.messagesIn.Add(1)
			p.dispatch(cmd, handler)
		}
		if err != nil {
			p.logger.Debug().Err(err).Msg("discarding malformed packet remainder")
			if p.recordDecodeError() {
				p.terminate("too many decode errors")
				return
			}
		}
	}
}

// dispatch routes one inbound command. Ping and Disconnect are handled
// here; everything else goes to the handler.
func (p *Peer) dispatch(cmd protocol.Command, handler Handler) {
	switch cmd.Kind {
	case protocol.CmdPing:
		if cmd.Flags&protocol.CommandFlagEcho != 0 {
			p.markPongReceived()
			return
		}
		p.markPongReceived()
		if err := p.SendCommand(protocol.Command{
			Kind:      protocol.CmdPing,
			Flags:     protocol.CommandFlagEcho,
			Timestamp: timestampNow(),
		}); err != nil {
			p.logger.Debug().Err(err).Msg("ping reply not queued")
		}
	case protocol.CmdDisconnect:
		p.terminate("client requested disconnect")
	default:
		handler.HandleCommand(p, cmd)
	}
}

// writeLoop drains the outbound queue. Each queued entry is framed as
// one packet and written with a single Write call.
func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.closed:
			// Flush whatever is already queued before the socket closes.
			for {
				select {
				case data := <-p.sendCh:
					p.writePacket(data)
				default:
					return
				}
			}
		case data := <-p.sendCh:
			if err := p.writePacket(data); err != nil {
				p.terminate(fmt.Sprintf("write error: %v", err))
				return
			}
		}
	}
}

func (p *Peer) writePacket(data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := protocol.WritePacket(p.conn, p.id, data); err != nil {
		return err
	}
	p.bytesOut.Add(uint64(protocol.PacketHeaderSize + len(data)))
	p.messagesOut.Add(1)
	return nil
}

// SendCommand assigns a sequence number where the kind requires one,
// serialises cmd and enqueues it. A full queue disconnects the peer.
func (p *Peer) SendCommand(cmd protocol.Command) error {
	if p.State() == StateDisconnected {
		return fmt.Errorf("peer %d is disconnected", p.id)
	}

	p.sendMu.Lock()
	switch cmd.Kind {
	case protocol.CmdSendReliable:
		p.reliableSeq++
		cmd.Sequence = p.reliableSeq
	case protocol.CmdSendUnreliable:
		p.unreliableSeq++
		cmd.Sequence = p.unreliableSeq
	}
	data, err := protocol.EncodeCommand(cmd)
	p.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", cmd.Kind, err)
	}

	select {
	case p.sendCh <- data:
		if cmd.Kind == protocol.CmdPing && cmd.Flags&protocol.CommandFlagEcho == 0 {
			p.markPingSent()
		}
		return nil
	default:
		p.logger.Warn().
			Int("queue_depth", p.opts.SendQueueDepth).
			Msg("outbound queue full, disconnecting peer")
		p.terminate(ErrSendQueueFull.Error())
		return ErrSendQueueFull
	}
}

// SendReliable wraps payload in a SendReliable command.
func (p *Peer) SendReliable(payload any) error {
	return p.SendCommand(protocol.Command{
		Kind:      protocol.CmdSendReliable,
		Timestamp: timestampNow(),
		Payload:   payload,
	})
}

// SendUnreliable wraps payload in a SendUnreliable command.
func (p *Peer) SendUnreliable(payload any) error {
	return p.SendCommand(protocol.Command{
		Kind:      protocol.CmdSendUnreliable,
		Timestamp: timestampNow(),
		Payload:   payload,
	})
}

// SendResponse reliably sends an operation response.
func (p *Peer) SendResponse(resp protocol.OperationResponse) error {
	return p.SendReliable(resp.Envelope())
}

// SendEvent reliably sends an event notification.
func (p *Peer) SendEvent(ev protocol.EventData) error {
	return p.SendReliable(ev.Envelope())
}

// SendPing queues a liveness probe.
func (p *Peer) SendPing() error {
	return p.SendCommand(protocol.Command{
		Kind:      protocol.CmdPing,
		Timestamp: timestampNow(),
	})
}

// Disconnect starts a graceful disconnect: the Disconnect command is
// queued so the write loop can flush it, then the socket closes.
func (p *Peer) Disconnect(reason string) {
	prev := p.setState(StateDisconnecting)
	if prev == StateDisconnecting || prev == StateDisconnected {
		return
	}
	if err := p.SendCommand(protocol.Command{
		Kind:      protocol.CmdDisconnect,
		Timestamp: timestampNow(),
	}); err == nil {
		// Give the write loop a moment to flush the farewell.
		time.AfterFunc(100*time.Millisecond, func() { p.terminate(reason) })
		return
	}
	p.terminate(reason)
}

// ForceClose drops the connection immediately without a farewell.
func (p *Peer) ForceClose(reason string) {
	p.terminate(reason)
}

// terminate closes the socket exactly once and returns the effective
// close reason.
func (p *Peer) terminate(reason string) string {
	p.closeOnce.Do(func() {
		p.closeReason = reason
		p.setState(StateDisconnected)
		close(p.closed)
		p.conn.Close()
		p.logger.Info().Str("reason", reason).Msg("peer closed")
	})
	return p.closeReason
}

// timestampNow is the wall clock in milliseconds truncated to u32, the
// resolution command headers carry.
func timestampNow() uint32 {
	return uint32(time.Now().UnixMilli())
}
