// Package wire implements sibyl's framing: every message is an 8-byte
// little-endian length followed by exactly that many payload bytes.
//
// One request and one response are exchanged per connection. Any short
// read, short write or closed connection leaves the stream in an unknown
// position, so callers must drop the connection after an error.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/s-viour/sibyl/internal/codec"
)

// HeaderSize is the length of the frame prefix in bytes.
const HeaderSize = 8

var (
	// ErrTransport wraps every I/O failure while sending or receiving a frame.
	ErrTransport = errors.New("wire: transport error")
	// ErrFrameTooLarge is returned by ReceiveLimit when the announced
	// payload exceeds the caller's bound.
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrDecode wraps payloads that arrived intact but could not be decoded.
	ErrDecode = errors.New("wire: decode error")
)

// Send writes the length prefix and payload to w.
func Send(w io.Writer, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrTransport, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: write payload: %w", ErrTransport, err)
	}
	return nil
}

// Receive blocks until a full frame has been read from r and returns its
// payload. No upper bound is placed on the announced length.
func Receive(r io.Reader) ([]byte, error) {
	return ReceiveLimit(r, 0)
}

// ReceiveLimit is Receive with an upper bound on the payload size checked
// before the buffer is allocated. limit <= 0 disables the bound.
func ReceiveLimit(r io.Reader, limit int64) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrTransport, err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if limit > 0 && n > uint64(limit) {
		return nil, fmt.Errorf("%w: %d bytes announced, limit %d", ErrFrameTooLarge, n, limit)
	}
	if n > uint64(maxInt) {
		return nil, fmt.Errorf("%w: %d bytes announced", ErrFrameTooLarge, n)
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read payload: %w", ErrTransport, err)
	}
	return buf, nil
}

const maxInt = int(^uint(0) >> 1)

// WriteMessage CBOR-encodes v and sends it as one frame.
func WriteMessage(w io.Writer, v any) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	return Send(w, payload)
}

// ReadMessage receives one frame and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	return ReadMessageLimit(r, v, 0)
}

// ReadMessageLimit is ReadMessage with the payload bound of ReceiveLimit.
func ReadMessageLimit(r io.Reader, v any, limit int64) error {
	payload, err := ReceiveLimit(r, limit)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
