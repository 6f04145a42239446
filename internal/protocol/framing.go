package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadSignature is returned by ReadPacket when the packet header does
// not start with PacketSignature. The reader skips the declared payload
// so the stream stays aligned; callers count successive occurrences and
// drop the connection after MaxBadSignatures.
var ErrBadSignature = errors.New("packet signature mismatch")

// ReadPacket reads one framed packet from r, blocking until the full
// header and payload have arrived. A TCP read delivering partial or
// coalesced packets is handled by the underlying io.ReadFull calls.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [PacketHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading packet header: %w", err)
	}

	signature := binary.BigEndian.Uint16(header[0:2])
	peerID := binary.BigEndian.Uint16(header[2:4])
	// crc at header[4:8] is always zero and not validated.
	length := binary.BigEndian.Uint32(header[8:12])

	if length > MaxPacketSize {
		return nil, fmt.Errorf("packet payload too large: %d bytes (max %d)", length, MaxPacketSize)
	}

	if signature != PacketSignature {
		// Consume the declared payload so the next read starts at a
		// header boundary.
		if length > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
				return nil, fmt.Errorf("skipping payload of bad packet: %w", err)
			}
		}
		return nil, fmt.Errorf("%w: got 0x%04X", ErrBadSignature, signature)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading packet payload (%d bytes): %w", length, err)
	}

	return &Packet{PeerID: peerID, Payload: payload}, nil
}

// WritePacket frames payload and writes it to w in a single Write call
// so concurrent senders never interleave packet bytes.
func WritePacket(w io.Writer, peerID uint16, payload []byte) error {
	if len(payload) > MaxPacketSize {
		return fmt.Errorf("packet payload too large: %d bytes (max %d)", len(payload), MaxPacketSize)
	}

	buf := make([]byte, PacketHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], PacketSignature)
	binary.BigEndian.PutUint16(buf[2:4], peerID)
	binary.BigEndian.PutUint32(buf[4:8], 0) // crc, unused
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[PacketHeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}
