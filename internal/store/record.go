package store

import (
	"encoding/binary"
)

const (
	// Offset(8) + KeySize(4) + ValueSize(4) + Timestamp(8) = 24 bytes
	HeaderSize = 24
)

type RecordHeader struct {
	LogicalOffset uint64
	KeySize       uint32
	ValueSize     uint32
	Timestamp     uint64
}

// Record is one key/value write. The log never rewrites a record; a later
// record for the same key shadows it.
type Record struct {
	Header RecordHeader
	Key    []byte
	Value  []byte
}

// Size is the on-disk length of the record including its header.
func (h *RecordHeader) Size() int64 {
	return HeaderSize + int64(h.KeySize) + int64(h.ValueSize)
}

func (h *RecordHeader) Encode(dst []byte) {
	binary.BigEndian.PutUint64(dst[0:8], h.LogicalOffset)
	binary.BigEndian.PutUint32(dst[8:12], h.KeySize)
	binary.BigEndian.PutUint32(dst[12:16], h.ValueSize)
	binary.BigEndian.PutUint64(dst[16:24], h.Timestamp)
}

func (h *RecordHeader) Decode(src []byte) {
	h.LogicalOffset = binary.BigEndian.Uint64(src[0:8])
	h.KeySize = binary.BigEndian.Uint32(src[8:12])
	h.ValueSize = binary.BigEndian.Uint32(src[12:16])
	h.Timestamp = binary.BigEndian.Uint64(src[16:24])
}
