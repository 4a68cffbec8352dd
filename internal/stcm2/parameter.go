package stcm2

import "fmt"

const (
	globalTag = 0xFFFFFF41
	unused    = 0xFF000000
	// Words with this top byte are never pointers.
	immediateMask = 0xFF000000
)

type ParamKind uint8

const (
	KindValue ParamKind = iota
	// KindGlobal refers to another action by its original address.
	KindGlobal
	// KindLocal is an offset into the owning action's trailing data.
	KindLocal
)

func (k ParamKind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindLocal:
		return "local"
	default:
		return "value"
	}
}

// Parameter is a typed action operand. It is comparable, so shapes can be
// matched with ==.
type Parameter struct {
	Kind ParamKind
	Word uint32
}

func GlobalPointer(addr uint32) Parameter { return Parameter{Kind: KindGlobal, Word: addr} }
func LocalPointer(off uint32) Parameter   { return Parameter{Kind: KindLocal, Word: off} }
func Value(v uint32) Parameter            { return Parameter{Kind: KindValue, Word: v} }

func (p Parameter) String() string {
	switch p.Kind {
	case KindGlobal:
		return fmt.Sprintf("[0x%X]", p.Word)
	case KindLocal:
		return fmt.Sprintf("[data+%d]", p.Word)
	default:
		return fmt.Sprintf("0x%X", p.Word)
	}
}

// parseParameter classifies the three wire words of a parameter. dataAddr and
// dataLen describe the owning action's trailing data in file coordinates;
// only a word that lands inside it is a local pointer.
func parseParameter(w [3]uint32, dataAddr, dataLen uint32) (Parameter, bool) {
	switch {
	case w[0] == globalTag && w[2] == unused:
		return GlobalPointer(w[1]), true
	case w[1] == unused && w[2] == unused:
		if w[0]&immediateMask != immediateMask && w[0] >= dataAddr && w[0]-dataAddr < dataLen {
			return LocalPointer(w[0] - dataAddr), true
		}
		return Value(w[0]), true
	default:
		return Parameter{}, false
	}
}
