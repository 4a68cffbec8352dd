package uni

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/mvaleed/blume/internal/sector"
)

const (
	tableSector = 1
	dataSector  = 2

	// The table must fit in the single sector between header and data.
	MaxEntries = sector.Size / entryWidth
)

// Build lays out a new archive holding blobs in ascending id order.
func Build(blobs map[uint32][]byte) ([]byte, error) {
	if len(blobs) > MaxEntries {
		return nil, fmt.Errorf("%d entries do not fit one table sector (max %d)", len(blobs), MaxEntries)
	}

	ids := make([]uint32, 0, len(blobs))
	for id := range blobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	entries := make([]Entry, 0, len(ids))
	var next uint64
	for _, id := range ids {
		size := uint64(len(blobs[id]))
		if size == 0 {
			return nil, fmt.Errorf("id 0x%X: empty blobs cannot be addressed by sector", id)
		}
		e := Entry{
			ID:          id,
			StartSector: next,
			SectorCount: sector.Count(size),
			Size:        size,
		}
		if dataSector+e.StartSector+e.SectorCount > math.MaxUint32 || e.Size > math.MaxUint32 {
			return nil, fmt.Errorf("id 0x%X: archive exceeds 32-bit sector addressing", id)
		}
		entries = append(entries, e)
		next += e.SectorCount
	}

	var buf bytes.Buffer
	buf.Grow(int(sector.Offset(dataSector + next)))

	var hdr [headerSize]byte
	header{
		count:       uint32(len(entries)),
		tableSector: tableSector,
		dataSector:  dataSector,
	}.marshal(hdr[:])
	buf.Write(hdr[:])

	if err := sector.PadTo(&buf, tableSector); err != nil {
		return nil, err
	}
	var rec [entryWidth]byte
	for _, e := range entries {
		e.Marshal(rec[:])
		buf.Write(rec[:])
	}

	if err := sector.PadTo(&buf, dataSector); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := sector.PadTo(&buf, dataSector+e.StartSector); err != nil {
			return nil, fmt.Errorf("id 0x%X: %w", e.ID, err)
		}
		buf.Write(blobs[e.ID])
	}
	sector.Align(&buf)

	// Read-side invariants double as a self check of the layout above.
	if err := validate(entries); err != nil {
		return nil, fmt.Errorf("built table failed validation: %w", err)
	}

	return buf.Bytes(), nil
}
