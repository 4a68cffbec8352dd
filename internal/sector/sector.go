// Package sector holds the fixed-size sector arithmetic shared by the archive layer.
package sector

import (
	"bytes"
	"fmt"
)

// Size is the addressing unit of the archive format.
const Size = 0x800

var zeros [Size]byte

// Count returns the number of sectors needed to hold n bytes.
func Count(n uint64) uint64 {
	return (n + Size - 1) / Size
}

// Offset returns the byte offset of sector s.
func Offset(s uint64) uint64 {
	return s * Size
}

// PadTo zero-fills buf up to the first byte of sector s.
func PadTo(buf *bytes.Buffer, s uint64) error {
	target := Offset(s)
	pos := uint64(buf.Len())
	if pos > target {
		return fmt.Errorf("buffer at 0x%X is already past sector %d", pos, s)
	}
	fill(buf, target-pos)
	return nil
}

// Align zero-fills buf to the next sector boundary and returns that sector.
// An already aligned buffer is left untouched.
func Align(buf *bytes.Buffer) uint64 {
	s := Count(uint64(buf.Len()))
	fill(buf, Offset(s)-uint64(buf.Len()))
	return s
}

func fill(buf *bytes.Buffer, n uint64) {
	for n > 0 {
		chunk := min(n, Size)
		buf.Write(zeros[:chunk])
		n -= chunk
	}
}
