package stcm2

import (
	"cmp"
	"fmt"
)

// Address identifies an action. Orig is the byte offset of the action in the
// blob it was decoded from; Sub orders actions inserted at or after that
// offset while patching, 0 being the original action itself.
type Address struct {
	Orig uint32
	Sub  uint32
}

// At returns the address of the action decoded at byte offset off.
func At(off uint32) Address {
	return Address{Orig: off}
}

// Next returns the address of the action inserted right after a.
func (a Address) Next() Address {
	return Address{Orig: a.Orig, Sub: a.Sub + 1}
}

// Compare orders addresses by Orig, then Sub.
func (a Address) Compare(b Address) int {
	if c := cmp.Compare(a.Orig, b.Orig); c != 0 {
		return c
	}
	return cmp.Compare(a.Sub, b.Sub)
}

func (a Address) Less(b Address) bool {
	return a.Compare(b) < 0
}

func (a Address) String() string {
	if a.Sub == 0 {
		return fmt.Sprintf("0x%X", a.Orig)
	}
	return fmt.Sprintf("0x%X+%d", a.Orig, a.Sub)
}
