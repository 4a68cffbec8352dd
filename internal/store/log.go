package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	asyncwriter "github.com/mvaleed/blume/internal/store/async-writer"
)

var (
	ErrRecordNotFoundFullScan = errors.New("record with offset not found after full scan")
	ErrReadOnly               = errors.New("log is opened in read only mode")
	ErrTornRecord             = errors.New("record runs past end of log")
)

// indexInterval is how many records lie between two sparse index entries.
const indexInterval = 500

// Durability selects how far an Append travels before it returns.
type Durability uint8

const (
	// DurabilityAsync queues the write for a background flusher.
	DurabilityAsync Durability = iota
	// DurabilityMedium hands every write to the OS.
	DurabilityMedium
	// DurabilityFull fsyncs every write.
	DurabilityFull
)

func (d Durability) String() string {
	switch d {
	case DurabilityAsync:
		return "async"
	case DurabilityMedium:
		return "medium"
	case DurabilityFull:
		return "full"
	default:
		return fmt.Sprintf("durability(%d)", uint8(d))
	}
}

func ParseDurability(s string) (Durability, error) {
	switch s {
	case "async":
		return DurabilityAsync, nil
	case "medium", "":
		return DurabilityMedium, nil
	case "full":
		return DurabilityFull, nil
	default:
		return 0, fmt.Errorf("unknown durability %q (want async, medium or full)", s)
	}
}

type Log struct {
	mu            sync.RWMutex
	readOnly      bool
	dirty         bool
	file          *os.File
	path          string
	nextMemoryPos int64
	nextOffset    int64
	writeFunc     func([]byte) (int, error)
	flushFunc     func() error
	closeFunc     func() error

	index     *Index
	indexPath string
}

func NewLogReadOnly(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	nop := func() error { return nil }
	l := &Log{
		file: f,
		writeFunc: func([]byte) (int, error) {
			return 0, ErrReadOnly
		},
		flushFunc: nop,
		closeFunc: nop,
		path:      path,
		readOnly:  true,
	}
	if err := l.open(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize read only log: %w", err)
	}
	return l, nil
}

func NewLog(path string, durability Durability) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	l := &Log{file: f, path: path}

	switch durability {
	case DurabilityMedium, DurabilityFull:
		writer := bufio.NewWriterSize(f, 4096)
		fsync := durability == DurabilityFull

		l.writeFunc = func(data []byte) (int, error) {
			n, err := writer.Write(data)
			if err != nil {
				return n, err
			}
			if err := writer.Flush(); err != nil {
				return 0, err
			}
			if fsync {
				if err := f.Sync(); err != nil {
					return 0, err
				}
			}
			return n, nil
		}
		l.flushFunc = writer.Flush
		l.closeFunc = writer.Flush
	default:
		aw := asyncwriter.NewAsyncWriterSize(f, 4096*2)
		l.writeFunc = aw.Write
		l.flushFunc = aw.Flush
		l.closeFunc = aw.Close
	}

	if err := l.open(); err != nil {
		l.closeFunc()
		f.Close()
		return nil, fmt.Errorf("failed to initialize log: %w", err)
	}
	return l, nil
}

// open attaches the index and recovers nextOffset. A torn record at the tail
// is ignored, and cut off when the log is writable.
func (l *Log) open() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	l.nextMemoryPos = info.Size()

	l.indexPath = l.path + ".index"
	if l.readOnly {
		l.index, err = NewIndexReadOnly(l.indexPath)
	} else {
		l.index, err = NewIndex(l.indexPath)
	}
	if err != nil {
		return err
	}

	last, err := l.index.LastEntry()
	if err != nil {
		l.index.Close()
		return err
	}
	// The index may run ahead of a log that lost its unflushed tail.
	if int64(last.MemoryPos) > l.nextMemoryPos {
		last = IndexEntry{}
	}

	next := int64(last.LogicalOff)
	validEnd := int64(last.MemoryPos)
	err = l.scanFrom(int64(last.MemoryPos), func(h RecordHeader, pos int64) (bool, error) {
		next = int64(h.LogicalOffset) + 1
		validEnd = pos + h.Size()
		return false, nil
	})
	switch {
	case err == nil, errors.Is(err, ErrRecordNotFoundFullScan):
	case errors.Is(err, ErrTornRecord):
		if !l.readOnly {
			if err := l.file.Truncate(validEnd); err != nil {
				l.index.Close()
				return fmt.Errorf("failed to cut torn tail at %d: %w", validEnd, err)
			}
		}
		l.nextMemoryPos = validEnd
	default:
		l.index.Close()
		return err
	}

	l.nextOffset = next
	return nil
}

// Append writes a record and returns its header and the position of its
// first byte.
func (l *Log) Append(key, value []byte) (RecordHeader, int64, error) {
	if l.readOnly {
		return RecordHeader{}, 0, ErrReadOnly
	}
	if uint64(len(key)) > math.MaxUint32 || uint64(len(value)) > math.MaxUint32 {
		return RecordHeader{}, 0, fmt.Errorf("record too large: key %d bytes, value %d bytes", len(key), len(value))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	header := RecordHeader{
		LogicalOffset: uint64(l.nextOffset),
		KeySize:       uint32(len(key)),
		ValueSize:     uint32(len(value)),
		Timestamp:     uint64(time.Now().UnixNano()),
	}

	buf := make([]byte, header.Size())
	header.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], key)
	copy(buf[HeaderSize+len(key):], value)
	if _, err := l.writeFunc(buf); err != nil {
		return RecordHeader{}, 0, fmt.Errorf("error writing record: %w", err)
	}

	pos := l.nextMemoryPos
	l.nextMemoryPos += int64(len(buf))
	l.nextOffset++
	l.dirty = true

	// Index positions are 32-bit; past 4 GiB lookups fall back to scanning.
	if l.nextOffset%indexInterval != 0 || l.nextMemoryPos > math.MaxUint32 {
		return header, pos, nil
	}

	entry := IndexEntry{
		MemoryPos:  uint32(l.nextMemoryPos),
		LogicalOff: uint32(l.nextOffset),
	}
	return header, pos, l.index.WriteEntry(entry)
}

// flushForRead pushes buffered appends to the file so ReadAt can see them.
// LOCK STRATEGY: Exclusive Lock, released before returning.
func (l *Log) flushForRead() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}
	if err := l.flushFunc(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	l.dirty = false
	return nil
}

// scanFrom walks record headers from startMemoryPos until handleFn asks to
// stop. It returns ErrRecordNotFoundFullScan when it runs off the end.
// Callers hold at least a read lock, or own the log exclusively.
func (l *Log) scanFrom(startMemoryPos int64, handleFn func(h RecordHeader, pos int64) (bool, error)) error {
	end := l.nextMemoryPos
	currentPos := startMemoryPos
	for {
		if currentPos >= end {
			return ErrRecordNotFoundFullScan
		}

		var headerBuf [HeaderSize]byte
		if currentPos+HeaderSize > end {
			return fmt.Errorf("%w: header at %d", ErrTornRecord, currentPos)
		}
		if _, err := l.file.ReadAt(headerBuf[:], currentPos); err != nil {
			return fmt.Errorf("failed to read header at %d: %w", currentPos, err)
		}

		var header RecordHeader
		header.Decode(headerBuf[:])
		if currentPos+header.Size() > end {
			return fmt.Errorf("%w: record %d at %d", ErrTornRecord, header.LogicalOffset, currentPos)
		}

		stop, err := handleFn(header, currentPos)
		if err != nil || stop {
			return err
		}
		currentPos += header.Size()
	}
}

// Scan calls fn for every record in append order with the record key. The
// value is left on disk; valuePos locates it for ReadValue. fn runs under
// the read lock and must not call back into the log.
func (l *Log) Scan(fn func(h RecordHeader, key []byte, valuePos int64) error) error {
	if err := l.flushForRead(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	err := l.scanFrom(0, func(h RecordHeader, pos int64) (bool, error) {
		key, err := l.load(pos+HeaderSize, int64(h.KeySize))
		if err != nil {
			return false, err
		}
		return false, fn(h, key, pos+HeaderSize+int64(h.KeySize))
	})
	if errors.Is(err, ErrRecordNotFoundFullScan) {
		return nil
	}
	return err
}

// NextOffset Public: acquires lock
// Don't use this function in internal implementation to avoid dead lock
func (l *Log) NextOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset
}

func (l *Log) FindRecord(targetLogicalOffset int64) (Record, error) {
	if targetLogicalOffset < 0 || targetLogicalOffset > math.MaxUint32 {
		return Record{}, fmt.Errorf("offset %d: %w", targetLogicalOffset, ErrRecordNotFoundFullScan)
	}
	if err := l.flushForRead(); err != nil {
		return Record{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	base, err := l.index.FindNearest(uint32(targetLogicalOffset))
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = l.scanFrom(int64(base.MemoryPos), func(h RecordHeader, pos int64) (bool, error) {
		if h.LogicalOffset != uint64(targetLogicalOffset) {
			return h.LogicalOffset > uint64(targetLogicalOffset), nil
		}

		kv, err := l.load(pos+HeaderSize, int64(h.KeySize)+int64(h.ValueSize))
		if err != nil {
			return false, err
		}
		record = Record{Header: h, Key: kv[:h.KeySize], Value: kv[h.KeySize:]}
		return true, nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("failure in scanFrom: %w", err)
	}
	if record.Key == nil {
		return Record{}, fmt.Errorf("offset %d: %w", targetLogicalOffset, ErrRecordNotFoundFullScan)
	}

	return record, nil
}

// ReadValue reads size bytes at pos, as reported by Scan or Append.
func (l *Log) ReadValue(pos int64, size uint32) ([]byte, error) {
	if err := l.flushForRead(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos < 0 || pos+int64(size) > l.nextMemoryPos {
		return nil, fmt.Errorf("value at %d+%d outside log of %d bytes", pos, size, l.nextMemoryPos)
	}
	return l.load(pos, int64(size))
}

func (l *Log) load(pos int64, size int64) ([]byte, error) {
	b := make([]byte, size)
	if _, err := l.file.ReadAt(b, pos); err != nil && !(errors.Is(err, io.EOF) && size == 0) {
		return nil, err
	}
	return b, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	writerErr := l.closeFunc()
	indexErr := l.index.Close()
	fileErr := l.file.Close()
	return errors.Join(writerErr, indexErr, fileErr)
}
