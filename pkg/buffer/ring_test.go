package buffer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("hello"))

	s := make([]byte, 5)
	n, err := rb.Read(s)
	assert.Equal(t, 5, n)
	assert.Nil(t, err)
	assert.Equal(t, []byte("hello"), s)
}

func TestRingGrow(t *testing.T) {
	rb := NewRingBuffer(4)
	payload := strings.Repeat("x", 4096)
	n, err := rb.Write([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, len(payload), rb.Buffered())

	out := make([]byte, len(payload))
	n, err = rb.Read(out)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, string(out))
}

func TestRingDiscard(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte("0123456789"))

	discarded, err := rb.Discard(4)
	require.NoError(t, err)
	require.Equal(t, 4, discarded)
	require.Equal(t, 6, rb.Buffered())

	head, tail := rb.Peek(-1)
	require.Empty(t, tail)
	require.Equal(t, "456789", string(head))
}
