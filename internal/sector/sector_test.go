package sector

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	testCases := []struct {
		n        uint64
		expected uint64
	}{
		{0, 0},
		{1, 1},
		{Size - 1, 1},
		{Size, 1},
		{Size + 1, 2},
		{3 * Size, 3},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Count(tc.n), "Count(%d)", tc.n)
	}
}

func TestAlign(t *testing.T) {
	t.Run("pads partial sector with zeros", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("AB")

		s := Align(&buf)

		assert.Equal(t, uint64(1), s)
		require.Equal(t, Size, buf.Len())
		assert.Equal(t, make([]byte, Size-2), buf.Bytes()[2:])
	})

	t.Run("aligned buffer is untouched", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(make([]byte, 2*Size))

		assert.Equal(t, uint64(2), Align(&buf))
		assert.Equal(t, 2*Size, buf.Len())
	})
}

func TestPadTo(t *testing.T) {
	t.Run("pads forward across several sectors", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("UNI2")

		require.NoError(t, PadTo(&buf, 3))
		assert.Equal(t, 3*Size, buf.Len())
	})

	t.Run("refuses to move backwards", func(t *testing.T) {
		var buf bytes.Buffer
		buf.Write(make([]byte, Size+1))

		assert.Error(t, PadTo(&buf, 1))
	})
}
