package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	if err := WritePacket(&buf, 7, payload); err != nil {
		t.Fatal(err)
	}
	pkt, err := ReadPacket(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.PeerID != 7 {
		t.Errorf("peer id = %d, want 7", pkt.PeerID)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Errorf("payload = %v, want %v", pkt.Payload, payload)
	}
}

func TestReadPacketCoalesced(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, 1, []byte{0xAA}); err != nil {
		t.Fatal(err)
	}
	if err := WritePacket(&buf, 2, []byte{0xBB, 0xCC}); err != nil {
		t.Fatal(err)
	}

	first, err := ReadPacket(&buf)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ReadPacket(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if first.PeerID != 1 || second.PeerID != 2 {
		t.Errorf("peer ids = %d,%d want 1,2", first.PeerID, second.PeerID)
	}
	if len(second.Payload) != 2 {
		t.Errorf("second payload len = %d, want 2", len(second.Payload))
	}
}

// onebyte delivers at most one byte per Read to exercise partial reads.
type onebyte struct{ r io.Reader }

func (o onebyte) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestReadPacketPartialReads(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePacket(&buf, 3, []byte("dribble")); err != nil {
		t.Fatal(err)
	}
	pkt, err := ReadPacket(onebyte{&buf})
	if err != nil {
		t.Fatal(err)
	}
	if string(pkt.Payload) != "dribble" {
		t.Errorf("payload = %q", pkt.Payload)
	}
}

func TestReadPacketBadSignatureSkipsPayload(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, PacketHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], 0xDEAD)
	binary.BigEndian.PutUint32(header[8:12], 3)
	buf.Write(header)
	buf.Write([]byte{9, 9, 9})
	// A valid packet follows the garbage.
	if err := WritePacket(&buf, 5, []byte{0x01}); err != nil {
		t.Fatal(err)
	}

	_, err := ReadPacket(&buf)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("want ErrBadSignature, got %v", err)
	}
	pkt, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("stream lost alignment after bad signature: %v", err)
	}
	if pkt.PeerID != 5 {
		t.Errorf("peer id = %d, want 5", pkt.PeerID)
	}
}

func TestReadPacketOversizedLength(t *testing.T) {
	header := make([]byte, PacketHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], PacketSignature)
	binary.BigEndian.PutUint32(header[8:12], MaxPacketSize+1)
	if _, err := ReadPacket(bytes.NewReader(header)); err == nil {
		t.Fatal("want error for oversized packet")
	}
}

func TestWritePacketOversizedPayload(t *testing.T) {
	err := WritePacket(io.Discard, 1, make([]byte, MaxPacketSize+1))
	if err == nil {
		t.Fatal("want error for oversized payload")
	}
}
