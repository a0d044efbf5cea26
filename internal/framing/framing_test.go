package framing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	var w = NewWriter(&buf)

	require.NoError(t, w.WriteFrame(map[string]int{"a": 1}))
	require.NoError(t, w.WriteFrame(map[string]int{"b": 2}))

	var r = NewReader(&buf)
	var first, second map[string]int
	require.NoError(t, r.ReadFrame(&first))
	require.NoError(t, r.ReadFrame(&second))
	require.Equal(t, map[string]int{"a": 1}, first)
	require.Equal(t, map[string]int{"b": 2}, second)

	require.ErrorIs(t, r.ReadFrame(&first), io.EOF)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var w = NewWriter(&buf)
	require.NoError(t, w.WriteFrame("ok"))

	// Corrupt the 4-byte length header to claim an oversized payload.
	var corrupted = buf.Bytes()
	corrupted[0] = 0xff

	var r = NewReader(bytes.NewReader(corrupted))
	var out string
	require.Error(t, r.ReadFrame(&out))
}
