package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/mvaleed/blume/internal/mmap"
)

/*
  ALGORITHM: Floor Search over the Sparse Index
  ------------------------------------------------------------------
  Every indexInterval appends, the log records where the next record will
  start:

  Entry 0: Offset 500  -> Pos 1024
  Entry 1: Offset 1000 -> Pos 2048

  Store.Record(800) asks the log for offset 800:

  1. Push buffered entries out and remap so the search sees all of them.
  2. Binary search for the first entry past 800 (Entry 1).
  3. The entry before it (Entry 0) is the floor; the log scans forward from
     Pos 1024. No floor means the scan starts at the head of the log.

  Reopening a store works the same way with LastEntry: the key directory
  rebuild only has to walk the records after the newest entry to find the
  next offset.
*/

// Index is the sparse offset-to-position table kept beside a store log in
// <log>.index. A read-only index never touches the file: a missing file
// reads as empty and a torn trailing entry is skipped rather than cut.
type Index struct {
	// RWMutex allows multiple readers OR one writer.
	mu sync.RWMutex

	file             *os.File
	writer           *bufio.Writer // nil when read only
	writerBufferSize int
	region           *mmap.Region // nil when a read-only index has no file
}

// NewIndex opens path for appending, creating it if needed and cutting a
// half-written trailing entry.
func NewIndex(path string) (*Index, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Index, error) {
		f.Close()
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if torn := fi.Size() % entryWidth; torn != 0 {
		if err := f.Truncate(fi.Size() - torn); err != nil {
			return fail(fmt.Errorf("failed to cut torn index entry: %w", err))
		}
	}

	region, err := mmap.Open(path)
	if err != nil {
		return fail(err)
	}

	bufSize := entryWidth * 5
	return &Index{
		file:             f,
		writer:           bufio.NewWriterSize(f, bufSize),
		writerBufferSize: bufSize,
		region:           region,
	}, nil
}

// NewIndexReadOnly maps path without creating or repairing it.
func NewIndexReadOnly(path string) (*Index, error) {
	region, err := mmap.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Index{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Index{region: region}, nil
}

// entries counts whole entries. Callers hold mu.
func (i *Index) entries() int {
	if i.region == nil {
		return 0
	}
	return int(i.region.Size() / entryWidth)
}

// entryAt decodes entry n. Callers hold mu.
func (i *Index) entryAt(n int) (IndexEntry, error) {
	chunk, err := i.region.ReadAt(n*entryWidth, entryWidth)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("index entry %d: %w", n, err)
	}
	var e IndexEntry
	e.Unmarshal(chunk)
	return e, nil
}

// WriteEntry buffers an entry; it reaches the file once the buffer fills or
// on the next lookup.
// LOCK STRATEGY: Exclusive Lock (Lock).
func (i *Index) WriteEntry(entry IndexEntry) error {
	if i.writer == nil {
		return ErrReadOnly
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var buf [entryWidth]byte
	entry.Marshal(buf[:])
	_, err := i.writer.Write(buf[:])
	return err
}

// refresh pushes buffered entries to the file and remaps.
// LOCK STRATEGY: Exclusive Lock, released before returning.
func (i *Index) refresh() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.writer != nil {
		if err := i.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush index: %w", err)
		}
	}
	if i.region == nil {
		return nil
	}
	return i.region.Sync()
}

// FindNearest returns the last entry whose offset is at most target, or the
// zero entry when every entry is past it.
// LOCK STRATEGY: Lock to refresh, then RLock to search.
func (i *Index) FindNearest(target uint32) (IndexEntry, error) {
	if err := i.refresh(); err != nil {
		return IndexEntry{}, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	lo, hi := 0, i.entries()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		e, err := i.entryAt(mid)
		if err != nil {
			return IndexEntry{}, err
		}
		if e.LogicalOff <= target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return IndexEntry{}, nil
	}
	return i.entryAt(lo - 1)
}

// LastEntry is the newest entry, or the zero entry for an empty index.
func (i *Index) LastEntry() (IndexEntry, error) {
	if err := i.refresh(); err != nil {
		return IndexEntry{}, err
	}

	i.mu.RLock()
	defer i.mu.RUnlock()

	n := i.entries()
	if n == 0 {
		return IndexEntry{}, nil
	}
	return i.entryAt(n - 1)
}

// Flush writes buffered entries to the file without remapping.
func (i *Index) Flush() error {
	if i.writer == nil {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.writer.Flush()
}

// Close writes out buffered entries and releases the file.
// LOCK STRATEGY: Exclusive Lock.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	if i.writer != nil {
		if err := i.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush index: %w", err))
		}
		if err := i.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync index: %w", err))
		}
	}
	if i.region != nil {
		if err := i.region.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmap index: %w", err))
		}
	}
	if i.file != nil {
		if err := i.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
