package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// commandHeaderSize is kind(1) + channel(1) + flags(1) + reserved(1) +
// timestamp(4).
const commandHeaderSize = 8

// ParseCommands decodes the sequence of command records in a packet
// payload. On a malformed record it returns the records decoded so far
// together with the error; the remainder of the payload is discarded.
func ParseCommands(payload []byte) ([]Command, error) {
	var out []Command
	off := 0
	for off < len(payload) {
		if len(payload)-off < commandHeaderSize {
			return out, &DecodeError{Offset: off, Err: fmt.Errorf("truncated command header: %d bytes left", len(payload)-off)}
		}

		cmd := Command{
			Kind:      CommandKind(payload[off]),
			Channel:   payload[off+1],
			Flags:     payload[off+2],
			Reserved:  payload[off+3],
			Timestamp: binary.BigEndian.Uint32(payload[off+4 : off+8]),
		}
		off += commandHeaderSize

		switch cmd.Kind {
		case CmdVerifyConnect, CmdDisconnect, CmdPing, CmdSendReliable, CmdSendUnreliable:
		default:
			return out, &DecodeError{Offset: off - commandHeaderSize, Err: fmt.Errorf("unknown command kind %d", byte(cmd.Kind))}
		}

		if cmd.Kind.HasSequence() {
			if len(payload)-off < 4 {
				return out, &DecodeError{Offset: off, Err: fmt.Errorf("truncated sequence number")}
			}
			cmd.Sequence = binary.BigEndian.Uint32(payload[off : off+4])
			off += 4
		}

		if cmd.Kind.HasPayload() {
			d := NewDecoder(payload[off:])
			v, err := d.ReadValue()
			if err != nil {
				// Re-anchor the offset to the packet payload.
				var de *DecodeError
				if errors.As(err, &de) {
					return out, &DecodeError{Offset: off + de.Offset, Err: de.Err}
				}
				return out, err
			}
			cmd.Payload = v
			off += d.Offset()
		}

		out = append(out, cmd)
	}
	return out, nil
}

// EncodeCommand serialises a single command record.
func EncodeCommand(cmd Command) ([]byte, error) {
	e := NewEncoder()
	e.buf.WriteByte(byte(cmd.Kind))
	e.buf.WriteByte(cmd.Channel)
	e.buf.WriteByte(cmd.Flags)
	e.buf.WriteByte(cmd.Reserved)
	e.writeBE(cmd.Timestamp)
	if cmd.Kind.HasSequence() {
		e.writeBE(cmd.Sequence)
	}
	if cmd.Kind.HasPayload() {
		if err := e.WriteValue(cmd.Payload); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}
