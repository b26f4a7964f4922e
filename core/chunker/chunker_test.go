package chunker

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitAll(t *testing.T, data []byte, maxPartSize int64) [][]byte {
	t.Helper()

	s, err := NewSplitter(bytes.NewReader(data), maxPartSize)
	require.NoError(t, err)

	var parts [][]byte
	for {
		part, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		parts = append(parts, part)
	}

	return parts
}

func TestSplitJoinRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, size := range []int{1, 2, 9, 10, 11, 100, 4096, 65537} {
		for _, max := range []int64{1, 3, 10, 4096} {
			data := make([]byte, size)
			_, err := rng.Read(data)
			require.NoError(t, err)

			parts := splitAll(t, data, max)

			var out bytes.Buffer
			n, err := Join(&out, parts)
			require.NoError(t, err)
			assert.Equal(t, int64(size), n)
			assert.Equal(t, data, out.Bytes(), "size=%d max=%d", size, max)
		}
	}
}

func TestSplitSizeBounds(t *testing.T) {
	data := make([]byte, 25)
	parts := splitAll(t, data, 10)

	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 10)
	assert.Len(t, parts[1], 10)
	assert.Len(t, parts[2], 5)
}

func TestSplitExactMultiple(t *testing.T) {
	data := make([]byte, 20)
	parts := splitAll(t, data, 10)

	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 10)
	assert.Len(t, parts[1], 10)
}

func TestSplitEmptyStream(t *testing.T) {
	parts := splitAll(t, nil, 10)
	assert.Empty(t, parts)
}

func TestSplitterNextAfterEOF(t *testing.T) {
	s, err := NewSplitter(bytes.NewReader([]byte("ab")), 10)
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewSplitterRejectsInvalidSize(t *testing.T) {
	_, err := NewSplitter(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrInvalidPartSize)

	_, err = NewSplitter(bytes.NewReader(nil), -1)
	assert.ErrorIs(t, err, ErrInvalidPartSize)
}
