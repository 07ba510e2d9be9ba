package backend

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFrameCodec(t *testing.T) *FrameCodec {
	t.Helper()
	c, err := NewFrameCodec()
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestFramingRoundTrip(t *testing.T) {
	c := newTestFrameCodec(t)
	payload := []byte("hello, world!")

	framed, err := c.Encode(payload)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(framed, MagicBytes))
	require.Equal(t, byte(0), framed[4], "small payloads are stored uncompressed")

	got, err := c.Decode(framed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFramingEmptyPayload(t *testing.T) {
	c := newTestFrameCodec(t)

	framed, err := c.Encode(nil)
	require.NoError(t, err)
	require.Len(t, framed, headerSize)

	got, err := c.Decode(framed)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFramingCompressesLargePayload(t *testing.T) {
	c := newTestFrameCodec(t)
	payload := []byte(strings.Repeat("compressible ", 1024))

	framed, err := c.Encode(payload)
	require.NoError(t, err)
	require.Equal(t, flagZstd, framed[4])
	require.Less(t, len(framed), len(payload))

	got, err := c.Decode(framed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFramingInvalidMagic(t *testing.T) {
	c := newTestFrameCodec(t)

	framed, err := c.Encode([]byte("data"))
	require.NoError(t, err)
	copy(framed, "XXXX")

	_, err = c.Decode(framed)
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestFramingShortFrame(t *testing.T) {
	c := newTestFrameCodec(t)

	_, err := c.Decode([]byte("FCE1"))
	require.Error(t, err)
}

func TestFramingDetectsCorruption(t *testing.T) {
	c := newTestFrameCodec(t)

	framed, err := c.Encode([]byte("important data"))
	require.NoError(t, err)
	framed[len(framed)-1] ^= 0xff

	_, err = c.Decode(framed)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestFramingDetectsTruncation(t *testing.T) {
	c := newTestFrameCodec(t)

	framed, err := c.Encode([]byte("important data"))
	require.NoError(t, err)

	_, err = c.Decode(framed[:len(framed)-3])
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestFramingUnknownFlags(t *testing.T) {
	c := newTestFrameCodec(t)

	framed, err := c.Encode([]byte("data"))
	require.NoError(t, err)
	framed[4] = 0x80

	_, err = c.Decode(framed)
	require.Error(t, err)
}

func TestFramingPayloadTooLarge(t *testing.T) {
	c := newTestFrameCodec(t)

	_, err := c.Encode(make([]byte, MaxPayloadSize+1))
	require.ErrorIs(t, err, ErrValueTooLarge)
}
