package stcm2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
)

// Text record: u32 0, u32 len/4, u32 1, u32 len, then len bytes of
// Shift-JIS text padded with NULs to a multiple of 4.
const textHeaderSize = 16

// ReadTextRecord returns the raw Shift-JIS bytes of the record at data[off:],
// with trailing NULs trimmed. The record must account for every byte of data.
func ReadTextRecord(data []byte, off uint32) ([]byte, error) {
	if off != 0 {
		return nil, fmt.Errorf("%w: text record at data+%d leaves leading bytes", ErrStructure, off)
	}
	if len(data) < textHeaderSize {
		return nil, fmt.Errorf("%w: text record needs %d header bytes, have %d", ErrStructure, textHeaderSize, len(data))
	}

	zero := binary.LittleEndian.Uint32(data[0:4])
	qlen := binary.LittleEndian.Uint32(data[4:8])
	one := binary.LittleEndian.Uint32(data[8:12])
	n := binary.LittleEndian.Uint32(data[12:16])

	switch {
	case zero != 0 || one != 1:
		return nil, fmt.Errorf("%w: text record markers are %d/%d, want 0/1", ErrStructure, zero, one)
	case n/4 != qlen:
		return nil, fmt.Errorf("%w: text lengths disagree: len = %d, qlen = %d", ErrStructure, n, qlen)
	case uint64(n) > uint64(len(data)-textHeaderSize):
		return nil, fmt.Errorf("%w: text length %d exceeds %d data bytes", ErrStructure, n, len(data)-textHeaderSize)
	case int(n) < len(data)-textHeaderSize:
		return nil, fmt.Errorf("%w: %d bytes left over after text", ErrStructure, len(data)-textHeaderSize-int(n))
	}

	return bytes.TrimRight(data[textHeaderSize:textHeaderSize+n], "\x00"), nil
}

// TextRecord wraps raw Shift-JIS bytes in a NUL-terminated text record.
func TextRecord(raw []byte) []byte {
	n := (len(raw)/4 + 1) * 4
	rec := make([]byte, textHeaderSize+n)
	binary.LittleEndian.PutUint32(rec[0:4], 0)
	binary.LittleEndian.PutUint32(rec[4:8], uint32(n/4))
	binary.LittleEndian.PutUint32(rec[8:12], 1)
	binary.LittleEndian.PutUint32(rec[12:16], uint32(n))
	copy(rec[textHeaderSize:], raw)
	return rec
}

// FromSJIS decodes Shift-JIS bytes, rejecting anything that does not map.
func FromSJIS(raw []byte) (string, error) {
	out, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	// The decoder substitutes U+FFFD for invalid sequences instead of failing.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("%w: invalid Shift-JIS in % X", ErrEncoding, raw)
	}
	return string(out), nil
}

// ToSJIS encodes s, failing on characters Shift-JIS cannot represent.
func ToSJIS(s string) ([]byte, error) {
	out, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrEncoding, s, err)
	}
	return out, nil
}

// EncodeText encodes s into a text record.
func EncodeText(s string) ([]byte, error) {
	raw, err := ToSJIS(s)
	if err != nil {
		return nil, err
	}
	return TextRecord(raw), nil
}

// DecodeText reads and decodes the text record a dialogue action points at.
func DecodeText(data []byte, off uint32) (string, error) {
	raw, err := ReadTextRecord(data, off)
	if err != nil {
		return "", err
	}
	return FromSJIS(raw)
}

func NewSpeaker(raw []byte) Action {
	return Action{Opcode: OpSpeaker, Params: []Parameter{LocalPointer(0)}, Data: TextRecord(raw)}
}

func NewLine(raw []byte) Action {
	return Action{Opcode: OpLine, Params: []Parameter{LocalPointer(0)}, Data: TextRecord(raw)}
}

// NewChoice builds option id of a choice menu. Option ids are stored with the
// immediate marker in the top byte.
func NewChoice(id uint32, raw []byte) Action {
	return Action{
		Opcode: OpChoice,
		Params: []Parameter{LocalPointer(0), Value(id | immediateMask)},
		Data:   TextRecord(raw),
	}
}

func NewYield() Action {
	return Action{Opcode: OpYield}
}
