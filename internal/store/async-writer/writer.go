// Package asyncwriter moves writes onto a background goroutine that batches
// them through a bufio.Writer and flushes on a timer.
package asyncwriter

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var ErrWriteAfterClose = errors.New("write called after writer closed")

const DefaultFlushInterval = 100 * time.Millisecond

// AsyncWriter acknowledges a Write as soon as it is queued. The first error
// from the underlying writer is sticky: it is returned by every later Write,
// Flush and Close.
type AsyncWriter struct {
	queue    chan *bytes.Buffer
	done     chan struct{}
	writer   *bufio.Writer
	interval time.Duration
	wg       sync.WaitGroup
	flushReq chan chan error
	once     sync.Once
	pool     sync.Pool

	errMu sync.Mutex
	err   error
}

func NewAsyncWriterSize(w io.Writer, writerBufferSize int) *AsyncWriter {
	return NewAsyncWriterInterval(w, writerBufferSize, DefaultFlushInterval)
}

func NewAsyncWriterInterval(w io.Writer, writerBufferSize int, interval time.Duration) *AsyncWriter {
	aw := &AsyncWriter{
		queue:    make(chan *bytes.Buffer, 10),
		done:     make(chan struct{}),
		writer:   bufio.NewWriterSize(w, writerBufferSize),
		interval: interval,
		flushReq: make(chan chan error),
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, 4096))
			},
		},
	}
	aw.wg.Add(1)
	go aw.writerLoop()
	return aw
}

func (aw *AsyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	aw.errMu.Lock()
	defer aw.errMu.Unlock()
	if aw.err == nil {
		aw.err = fmt.Errorf("async write failed: %w", err)
	}
}

// Err returns the sticky write error, if any.
func (aw *AsyncWriter) Err() error {
	aw.errMu.Lock()
	defer aw.errMu.Unlock()
	return aw.err
}

func (aw *AsyncWriter) write(data *bytes.Buffer) {
	if aw.Err() == nil {
		_, err := aw.writer.Write(data.Bytes())
		aw.setErr(err)
	}
	aw.pool.Put(data)
}

func (aw *AsyncWriter) flush() error {
	if err := aw.Err(); err != nil {
		return err
	}
	aw.setErr(aw.writer.Flush())
	return aw.Err()
}

func (aw *AsyncWriter) writerLoop() {
	defer aw.wg.Done()
	ticker := time.NewTicker(aw.interval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.queue:
			aw.write(data)
		case <-ticker.C:
			_ = aw.flush()
		case resp := <-aw.flushReq:
			aw.drain()
			resp <- aw.flush()
		case <-aw.done:
			aw.onDone()
			return
		}
	}
}

// drain writes every queued buffer without blocking, so a flush covers all
// writes that returned before it was requested.
func (aw *AsyncWriter) drain() {
	for {
		select {
		case data := <-aw.queue:
			aw.write(data)
		default:
			return
		}
	}
}

// onDone drains whatever was queued before Close.
func (aw *AsyncWriter) onDone() {
	for {
		select {
		case data := <-aw.queue:
			aw.write(data)
		case resp := <-aw.flushReq:
			aw.drain()
			resp <- aw.flush()
		default:
			_ = aw.flush()
			return
		}
	}
}

func (aw *AsyncWriter) Write(b []byte) (int, error) {
	if err := aw.Err(); err != nil {
		return 0, err
	}
	// The queue may still have room after Close; nothing would drain it.
	select {
	case <-aw.done:
		return 0, ErrWriteAfterClose
	default:
	}

	poolBuf := aw.pool.Get().(*bytes.Buffer)
	poolBuf.Reset()
	poolBuf.Write(b)

	select {
	case aw.queue <- poolBuf:
		return len(b), nil
	case <-aw.done:
		aw.pool.Put(poolBuf)
		return 0, ErrWriteAfterClose
	}
}

// Flush blocks until everything queued so far reached the underlying writer.
func (aw *AsyncWriter) Flush() error {
	resp := make(chan error, 1)
	select {
	case aw.flushReq <- resp:
		return <-resp
	case <-aw.done:
		return ErrWriteAfterClose
	}
}

func (aw *AsyncWriter) Close() error {
	aw.once.Do(func() {
		close(aw.done)
	})
	aw.wg.Wait()
	return aw.Err()
}

var _ io.WriteCloser = (*AsyncWriter)(nil)
