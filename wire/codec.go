package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds the length prefix so a corrupt or hostile peer cannot
// make Decode allocate unbounded memory.
const MaxFrameSize = 16 << 20 // 16 MiB

// Encode writes m to w as a 4-byte big-endian length prefix followed by its
// CBOR encoding (§6). Design Note 9(c) canonicalizes this framing for both
// directions of every link, peer and hub alike.
func Encode(w io.Writer, m *Message) error {
	body, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("encoded message too large: %d bytes", len(body))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed frame from r and unmarshals it.
func Decode(r io.Reader) (*Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err // io.EOF propagates as-is so callers can detect a clean close
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	var m Message
	if err := cbor.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &m, nil
}
