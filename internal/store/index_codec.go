package store

import "encoding/binary"

const (
	offWidth   = 4
	posWidth   = 4
	entryWidth = offWidth + posWidth // Total: 8 bytes
)

// IndexEntry maps a record number to the byte position of its header.
type IndexEntry struct {
	LogicalOff uint32
	MemoryPos  uint32
}

func (ie IndexEntry) Marshal(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:offWidth], ie.LogicalOff)
	binary.BigEndian.PutUint32(dst[offWidth:entryWidth], ie.MemoryPos)
}

// Unmarshal decodes src, which must hold at least entryWidth bytes.
func (ie *IndexEntry) Unmarshal(src []byte) {
	ie.LogicalOff = binary.BigEndian.Uint32(src[0:offWidth])
	ie.MemoryPos = binary.BigEndian.Uint32(src[offWidth:entryWidth])
}
