package asyncwriter

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer lets the test read what the writer goroutine wrote.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

var errDiskFull = errors.New("disk full")

func (failingWriter) Write([]byte) (int, error) { return 0, errDiskFull }

func TestAsyncWriter_FlushCoversQueuedWrites(t *testing.T) {
	var out lockedBuffer
	aw := NewAsyncWriterInterval(&out, 4096, time.Hour)
	defer aw.Close()

	var want bytes.Buffer
	for i := range 100 {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, i)
		want.Write(chunk)
		_, err := aw.Write(chunk)
		require.NoError(t, err)
	}

	require.NoError(t, aw.Flush())
	assert.Equal(t, want.String(), out.String())
}

func TestAsyncWriter_CloseDrains(t *testing.T) {
	var out lockedBuffer
	aw := NewAsyncWriterInterval(&out, 1<<16, time.Hour)

	for range 10 {
		_, err := aw.Write([]byte("record"))
		require.NoError(t, err)
	}
	require.NoError(t, aw.Close())
	assert.Equal(t, 60, len(out.String()))

	_, err := aw.Write([]byte("late"))
	require.ErrorIs(t, err, ErrWriteAfterClose)
	require.ErrorIs(t, aw.Flush(), ErrWriteAfterClose)
}

func TestAsyncWriter_ErrorIsSticky(t *testing.T) {
	// A tiny buffer forces bufio to hit the failing writer on the first write.
	aw := NewAsyncWriterInterval(failingWriter{}, 16, time.Hour)

	_, err := aw.Write(bytes.Repeat([]byte("x"), 64))
	require.NoError(t, err, "the write is only queued")

	require.ErrorIs(t, aw.Flush(), errDiskFull)
	_, err = aw.Write([]byte("y"))
	require.ErrorIs(t, err, errDiskFull)
	require.ErrorIs(t, aw.Close(), errDiskFull)
}

func TestAsyncWriter_TickerFlushes(t *testing.T) {
	var out lockedBuffer
	aw := NewAsyncWriterInterval(&out, 4096, 5*time.Millisecond)
	defer aw.Close()

	_, err := aw.Write([]byte("tick"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return out.String() == "tick" }, time.Second, 5*time.Millisecond)
}
