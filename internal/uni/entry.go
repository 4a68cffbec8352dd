package uni

import (
	"encoding/binary"
	"fmt"

	"github.com/mvaleed/blume/internal/sector"
)

const (
	// Magic(8) + Count(4) + TableSector(4) + DataSector(4)
	headerSize = 20
	// ID(4) + StartSector(4) + SectorCount(4) + Size(4)
	entryWidth = 16
)

// Magic opens every UNI2 archive.
var Magic = []byte("UNI2\x00\x00\x01\x00")

// Entry locates one blob inside the data region.
// StartSector is relative to the archive's data sector.
type Entry struct {
	ID          uint32
	StartSector uint64
	SectorCount uint64
	Size        uint64
}

// Marshal writes the on-disk form of the entry. The caller must have checked
// that every field fits in 32 bits.
func (e Entry) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], e.ID)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(e.StartSector))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(e.SectorCount))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(e.Size))
}

// Unmarshal reads an entry from a 16-byte table record.
func (e *Entry) Unmarshal(src []byte) {
	e.ID = binary.LittleEndian.Uint32(src[0:4])
	e.StartSector = uint64(binary.LittleEndian.Uint32(src[4:8]))
	e.SectorCount = uint64(binary.LittleEndian.Uint32(src[8:12]))
	e.Size = uint64(binary.LittleEndian.Uint32(src[12:16]))
}

type header struct {
	count       uint32
	tableSector uint32
	dataSector  uint32
}

func (h header) marshal(dst []byte) {
	copy(dst[0:8], Magic)
	binary.LittleEndian.PutUint32(dst[8:12], h.count)
	binary.LittleEndian.PutUint32(dst[12:16], h.tableSector)
	binary.LittleEndian.PutUint32(dst[16:20], h.dataSector)
}

func (h *header) unmarshal(src []byte) {
	h.count = binary.LittleEndian.Uint32(src[8:12])
	h.tableSector = binary.LittleEndian.Uint32(src[12:16])
	h.dataSector = binary.LittleEndian.Uint32(src[16:20])
}

// validate checks that each entry's size agrees with its sector count and that
// ids and sector ranges are strictly ascending, which implies unique ids and
// non-overlapping ranges.
func validate(entries []Entry) error {
	for i, x := range entries {
		if x.SectorCount == 0 ||
			x.Size <= (x.SectorCount-1)*sector.Size ||
			x.Size > x.SectorCount*sector.Size {
			return fmt.Errorf("%w: entry %d (id 0x%X): size %d does not fit %d sectors",
				ErrFormat, i, x.ID, x.Size, x.SectorCount)
		}

		if i+1 == len(entries) {
			break
		}
		y := entries[i+1]
		if x.ID >= y.ID {
			return fmt.Errorf("%w: entry %d (id 0x%X): ids not ascending (next id 0x%X)",
				ErrFormat, i, x.ID, y.ID)
		}
		if y.StartSector < x.StartSector+x.SectorCount {
			return fmt.Errorf("%w: entry %d (id 0x%X): sectors [%d,+%d) overlap next entry at %d",
				ErrFormat, i, x.ID, x.StartSector, x.SectorCount, y.StartSector)
		}
	}
	return nil
}
