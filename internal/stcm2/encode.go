package stcm2

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
)

/*
  ALGORITHM: Deferred Relocation
  ------------------------------------------------------------------
  An action's final offset depends on the size of everything before it, so
  call targets and pointers cannot be written in a single forward pass.

  1. Emit the header with a placeholder export offset, the global data and
     the code marker.
  2. For every action, in address order:
     - record refs[(action, addr)] and refs[(data, addr)];
     - write each field whose value is a file offset as a random canary and
       queue a fixup {at, canary, target, addend}.
  3. Emit the export table (targets are known by now), patch the export
     offset, pad to 16 bytes.
  4. Sweep the fixups until none remain. Each fixup first checks its canary
     is intact, then writes refs[target]+addend if the target is known.
     A sweep that resolves nothing means a target is not in the document.
*/

type refKind uint8

const (
	refAction refKind = iota
	refActionData
)

type reference struct {
	kind refKind
	addr Address
}

type fixup struct {
	at     int
	canary uint32
	target reference
	addend uint32
	owner  Address
}

// apply resolves the fixup in place. It reports false when the target
// offset is not known yet.
func (f fixup) apply(refs map[reference]uint32, buf []byte) (bool, error) {
	if got := binary.LittleEndian.Uint32(buf[f.at:]); got != f.canary {
		return false, fmt.Errorf("%w: slot 0x%X of action %s holds 0x%08X, want 0x%08X",
			ErrCanary, f.at, f.owner, got, f.canary)
	}
	dest, ok := refs[f.target]
	if !ok {
		return false, nil
	}
	binary.LittleEndian.PutUint32(buf[f.at:], dest+f.addend)
	return true, nil
}

type encoder struct {
	out    []byte
	refs   map[reference]uint32
	fixups []fixup
}

func (e *encoder) u32(v uint32) {
	e.out = binary.LittleEndian.AppendUint32(e.out, v)
}

// deferred writes a canary for a field that relocates to target+addend.
func (e *encoder) deferred(owner Address, target reference, addend uint32) {
	f := fixup{
		at:     len(e.out),
		canary: rand.Uint32(),
		target: target,
		addend: addend,
		owner:  owner,
	}
	e.fixups = append(e.fixups, f)
	e.u32(f.canary)
}

func (e *encoder) pos() (uint32, error) {
	if uint64(len(e.out)) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: script exceeds 4 GiB", ErrFormat)
	}
	return uint32(len(e.out)), nil
}

// Encode serializes doc, relocating every call target and pointer to the
// offsets the actions end up at.
func Encode(doc *Document) ([]byte, error) {
	if len(doc.Tag) != TagSize {
		return nil, fmt.Errorf("%w: tag is %d bytes, want %d", ErrFormat, len(doc.Tag), TagSize)
	}
	if len(doc.GlobalData)%16 != 0 {
		return nil, fmt.Errorf("%w: global data is %d bytes, not a multiple of 16", ErrFormat, len(doc.GlobalData))
	}

	addrs := doc.Addresses()
	exports := 0
	size := 0x60 + len(doc.GlobalData) + len(codeStartMagic) + len(exportDataMagic) + 16
	for _, a := range addrs {
		act := doc.Actions[a]
		size += act.Size()
		if act.Export != nil {
			exports++
			size += exportRecordSize
		}
	}

	e := &encoder{
		out:  make([]byte, 0, size),
		refs: make(map[reference]uint32, 2*len(addrs)),
	}

	e.out = append(e.out, Magic...)
	e.out = append(e.out, doc.Tag...)
	exportAddrAt := len(e.out)
	e.u32(0)
	e.u32(uint32(exports))
	for range reservedWords {
		e.u32(0)
	}
	e.out = append(e.out, globalDataMagic...)
	e.out = append(e.out, doc.GlobalData...)
	e.out = append(e.out, codeStartMagic...)

	for _, a := range addrs {
		act := doc.Actions[a]
		if err := e.action(a, &act); err != nil {
			return nil, err
		}
	}

	e.out = append(e.out, exportDataMagic...)
	exportAddr, err := e.pos()
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(e.out[exportAddrAt:], exportAddr)
	for _, a := range addrs {
		act := doc.Actions[a]
		if act.Export == nil {
			continue
		}
		e.u32(0)
		e.out = append(e.out, act.Export[:]...)
		e.u32(e.refs[reference{refAction, a}])
	}
	for len(e.out)%16 != 0 {
		e.out = append(e.out, 0)
	}

	if err := e.resolve(); err != nil {
		return nil, err
	}
	return e.out, nil
}

func (e *encoder) action(addr Address, act *Action) error {
	start, err := e.pos()
	if err != nil {
		return err
	}
	if uint64(act.Size()) > math.MaxUint32 {
		return fmt.Errorf("%w: action %s is too large", ErrFormat, addr)
	}
	dataAddr := start + actionHeaderSize + paramSize*uint32(len(act.Params))
	e.refs[reference{refAction, addr}] = start
	e.refs[reference{refActionData, addr}] = dataAddr

	if act.Call {
		e.u32(1)
		e.deferred(addr, reference{refAction, At(act.Opcode)}, 0)
	} else {
		e.u32(0)
		e.u32(act.Opcode)
	}
	e.u32(uint32(len(act.Params)))
	e.u32(uint32(act.Size()))

	for i, p := range act.Params {
		switch p.Kind {
		case KindGlobal:
			e.u32(globalTag)
			e.deferred(addr, reference{refAction, At(p.Word)}, 0)
			e.u32(unused)
		case KindLocal:
			// Offsets outside the data would decode as plain values.
			if int64(p.Word) >= int64(len(act.Data)) {
				return fmt.Errorf("%w: action %s param %d points at data+%d, data is %d bytes",
					ErrFormat, addr, i, p.Word, len(act.Data))
			}
			e.deferred(addr, reference{refActionData, addr}, p.Word)
			e.u32(unused)
			e.u32(unused)
		default:
			// A value that lands in this action's data would decode as a local pointer.
			if p.Word&immediateMask != immediateMask && p.Word >= dataAddr && p.Word-dataAddr < uint32(len(act.Data)) {
				return fmt.Errorf("%w: action %s param %d: value 0x%X collides with its data at 0x%X",
					ErrFormat, addr, i, p.Word, dataAddr)
			}
			e.u32(p.Word)
			e.u32(unused)
			e.u32(unused)
		}
	}
	e.out = append(e.out, act.Data...)
	return nil
}

// resolve sweeps the fixup list to a fixed point.
func (e *encoder) resolve() error {
	for len(e.fixups) > 0 {
		before := len(e.fixups)
		pending := e.fixups[:0]
		for _, f := range e.fixups {
			ok, err := f.apply(e.refs, e.out)
			if err != nil {
				return err
			}
			if !ok {
				pending = append(pending, f)
			}
		}
		e.fixups = pending

		if len(e.fixups) == before {
			return e.unresolved()
		}
	}
	return nil
}

func (e *encoder) unresolved() error {
	var missing []string
	for _, f := range e.fixups {
		missing = append(missing, fmt.Sprintf("%s (from %s)", f.target.addr, f.owner))
	}
	slices.Sort(missing)
	missing = slices.Compact(missing)
	return fmt.Errorf("%w: no action at %s", ErrUnresolvedReference, strings.Join(missing, ", "))
}
