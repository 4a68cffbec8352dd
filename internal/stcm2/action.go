package stcm2

import (
	"bytes"
	"slices"
)

// Opcodes the dialogue layer understands. Everything else is carried as an
// opaque action.
const (
	OpLine    uint32 = 0xD2
	OpYield   uint32 = 0xD3
	OpSpeaker uint32 = 0xD4
	OpChoice  uint32 = 0xE7
)

const (
	// Call(4) + Opcode(4) + ParamCount(4) + Length(4)
	actionHeaderSize = 16
	paramSize        = 12
)

// Label is the fixed-width name of an exported action.
type Label [32]byte

// NewLabel NUL-pads name into a label, truncating anything past 32 bytes.
func NewLabel(name string) Label {
	var l Label
	copy(l[:], name)
	return l
}

func (l Label) String() string {
	return string(bytes.TrimRight(l[:], "\x00"))
}

// Action is one bytecode record. When Call is set, Opcode holds the original
// address of the called action instead of an instruction number.
type Action struct {
	Export *Label
	Call   bool
	Opcode uint32
	Params []Parameter
	Data   []byte
}

// Size is the encoded length of the record.
func (a *Action) Size() int {
	return actionHeaderSize + paramSize*len(a.Params) + len(a.Data)
}

// Is reports whether a is a plain (non-call) action with the given opcode.
func (a *Action) Is(op uint32) bool {
	return !a.Call && a.Opcode == op
}

// HasParams reports whether the parameter list is exactly ps.
func (a *Action) HasParams(ps ...Parameter) bool {
	return slices.Equal(a.Params, ps)
}

// Clone returns a deep copy.
func (a Action) Clone() Action {
	if a.Export != nil {
		l := *a.Export
		a.Export = &l
	}
	a.Params = slices.Clone(a.Params)
	a.Data = bytes.Clone(a.Data)
	return a
}
