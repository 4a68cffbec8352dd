// Package uni reads and writes UNI2 sector archives.
package uni

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mvaleed/blume/internal/mmap"
	"github.com/mvaleed/blume/internal/sector"
)

var (
	ErrFormat    = errors.New("uni: malformed archive")
	ErrTruncated = errors.New("uni: truncated archive")
)

/*
  LAYOUT
  ------------------------------------------------------------------
  sector 0            : magic, n, table_sector, data_sector
  sector table_sector : n x (id, start, sectors, size)
  sector data_sector  : blobs, each starting on a sector boundary

  An entry's bytes live at (data_sector + start) * 0x800 and are exactly
  `size` long; the remainder of its last sector is padding.
*/

type Archive struct {
	data       []byte
	dataSector uint64
	entries    []Entry

	region *mmap.Region
}

// Open parses and validates the directory of an in-memory archive.
// Any structural violation rejects the whole archive.
func Open(data []byte) (*Archive, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, headerSize, len(data))
	}
	if !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, fmt.Errorf("%w: bad magic % X", ErrFormat, data[:len(Magic)])
	}

	var h header
	h.unmarshal(data)

	tableStart := sector.Offset(uint64(h.tableSector))
	tableEnd := tableStart + uint64(h.count)*entryWidth
	if tableEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: table of %d entries at 0x%X runs past end (0x%X)",
			ErrTruncated, h.count, tableStart, len(data))
	}

	entries := make([]Entry, h.count)
	for i := range entries {
		off := tableStart + uint64(i)*entryWidth
		entries[i].Unmarshal(data[off : off+entryWidth])
	}

	if err := validate(entries); err != nil {
		return nil, err
	}

	return &Archive{
		data:       data,
		dataSector: uint64(h.dataSector),
		entries:    entries,
	}, nil
}

// OpenFile maps an archive from disk. The returned Archive must be closed.
func OpenFile(path string) (*Archive, error) {
	region, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	a, err := Open(region.Bytes())
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.region = region
	return a, nil
}

// Entries returns the validated directory in ascending id order.
func (a *Archive) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}

// Lookup finds the entry with the given id.
func (a *Archive) Lookup(id uint32) (Entry, bool) {
	lo, hi := 0, len(a.entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if a.entries[mid].ID < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(a.entries) && a.entries[lo].ID == id {
		return a.entries[lo], true
	}
	return Entry{}, false
}

// Extract copies the entry's bytes into a new buffer.
func (a *Archive) Extract(e Entry) ([]byte, error) {
	start := sector.Offset(a.dataSector + e.StartSector)
	end := start + e.Size
	if end < start || end > uint64(len(a.data)) {
		return nil, fmt.Errorf("%w: id 0x%X needs bytes [0x%X,0x%X), archive has 0x%X",
			ErrTruncated, e.ID, start, end, len(a.data))
	}

	out := make([]byte, e.Size)
	copy(out, a.data[start:end])
	return out, nil
}

// ExtractAll extracts every entry on up to workers goroutines and hands each
// blob to fn. fn may be called concurrently and in any order. The first error
// stops the remaining extractions.
func (a *Archive) ExtractAll(ctx context.Context, workers int, fn func(id uint32, blob []byte) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, e := range a.entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			blob, err := a.Extract(e)
			if err != nil {
				return err
			}
			return fn(e.ID, blob)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close releases the mapping of an archive opened with OpenFile.
func (a *Archive) Close() error {
	if a.region == nil {
		return nil
	}
	err := a.region.Close()
	a.region = nil
	a.data = nil
	return err
}
