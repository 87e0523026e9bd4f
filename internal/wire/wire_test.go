package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello sibyl")
	require.NoError(t, Send(&buf, payload))

	assert.Equal(t, HeaderSize+len(payload), buf.Len())
	assert.Equal(t, uint64(len(payload)), binary.LittleEndian.Uint64(buf.Bytes()[:HeaderSize]))

	got, err := Receive(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, nil))
	got, err := Receive(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestShortHeaderIsTransportError(t *testing.T) {
	_, err := Receive(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestShortPayloadIsTransportError(t *testing.T) {
	var buf bytes.Buffer
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:], 10)
	buf.Write(hdr[:])
	buf.WriteString("abc")

	_, err := Receive(&buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestClosedStreamIsTransportError(t *testing.T) {
	_, err := Receive(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReceiveLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, make([]byte, 64)))

	_, err := ReceiveLimit(bytes.NewReader(buf.Bytes()), 16)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	got, err := ReceiveLimit(bytes.NewReader(buf.Bytes()), 64)
	require.NoError(t, err)
	assert.Len(t, got, 64)
}

type msg struct {
	Text string `cbor:"text"`
}

func TestMessageOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	errCh := make(chan error, 1)
	go func() { errCh <- WriteMessage(a, msg{Text: "ping"}) }()

	var got msg
	require.NoError(t, ReadMessage(b, &got))
	require.NoError(t, <-errCh)
	assert.Equal(t, "ping", got.Text)
}

func TestReadMessageDecodeError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Send(&buf, []byte{0xff, 0xff}))
	var got msg
	err := ReadMessage(&buf, &got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.False(t, errors.Is(err, ErrTransport))
}
