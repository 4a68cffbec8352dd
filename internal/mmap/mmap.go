// Package mmap exposes a read-only memory mapped view of a file.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type Region struct {
	file *os.File
	data []byte
}

// Open maps the whole file read-only.
// An empty file yields a valid region with no data, since mmap(2) rejects a zero length.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	r := &Region{file: f}
	if fi.Size() == 0 {
		return r, nil
	}

	// MAP_SHARED so appends made through another handle become visible after Sync.
	r.data, err = unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	return r, nil
}

// Sync remaps the file if it has grown since the last mapping.
func (r *Region) Sync() error {
	fi, err := r.file.Stat()
	if err != nil {
		return err
	}

	size := fi.Size()
	if size <= int64(len(r.data)) {
		return nil
	}

	if len(r.data) > 0 {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap failed: %w", err)
		}
	}

	data, err := unix.Mmap(int(r.file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		r.data = nil
		return fmt.Errorf("remap failed, region is unusable: %w", err)
	}
	r.data = data

	return nil
}

// Close unmaps the region and closes the file handle.
func (r *Region) Close() error {
	if len(r.data) > 0 {
		if err := unix.Munmap(r.data); err != nil {
			r.file.Close()
			return fmt.Errorf("munmap failed: %w", err)
		}
		r.data = nil
	}

	return r.file.Close()
}

// ReadAt returns a bounds-checked view into the mapping. The slice is only
// valid until the next Sync or Close.
func (r *Region) ReadAt(offset int, length int) ([]byte, error) {
	if r.data == nil {
		return nil, fmt.Errorf("region is empty/closed")
	}

	if offset < 0 || length < 0 || offset+length > len(r.data) {
		return nil, fmt.Errorf("out of bounds: len=%d, req_off=%d, req_len=%d", len(r.data), offset, length)
	}

	return r.data[offset : offset+length], nil
}

// Bytes returns the whole mapping. Callers must not write to it.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Size() int64 {
	return int64(len(r.data))
}
