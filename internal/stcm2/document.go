// Package stcm2 decodes and encodes STCM2 script bytecode.
package stcm2

import (
	"bytes"
	"slices"
)

/*
  FILE LAYOUT
  ------------------------------------------------------------------
  0x00  "STCM2" + tag                     32 bytes
  0x20  export offset, export count       2 x u32
  0x28  reserved                          10 x u32, all zero
  0x50  "GLOBAL_DATA"                     16 bytes
  0x60  global data                       16-byte strides
        "CODE_START_"                     12 bytes
        actions                           until the export marker
        "EXPORT_DATA"                     12 bytes, export offset points past it
        exports                           count x (u32 0, label[32], u32 addr)
        zero padding to 16 bytes

  Action: u32 call, u32 opcode|target, u32 nparams, u32 length,
          nparams x 3 x u32, data[length - 16 - 12*nparams]
*/

const (
	Magic   = "STCM2"
	TagSize = 32 - len(Magic)

	reservedWords    = 10
	exportRecordSize = 4 + len(Label{}) + 4
)

var (
	globalDataMagic = []byte("GLOBAL_DATA\x00\x00\x00\x00\x00")
	codeStartMagic  = []byte("CODE_START_\x00")
	exportDataMagic = []byte("EXPORT_DATA\x00")
)

// Document is a decoded script: opaque global data plus actions keyed by address.
type Document struct {
	Tag        []byte
	GlobalData []byte
	Actions    map[Address]Action
}

// Addresses returns the action addresses in file order.
func (d *Document) Addresses() []Address {
	addrs := make([]Address, 0, len(d.Actions))
	for a := range d.Actions {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, Address.Compare)
	return addrs
}

// Decode parses a script blob. The returned document owns copies of every
// byte it references, so blob may be a view into a mapping.
func Decode(blob []byte) (*Document, error) {
	c := &cursor{buf: blob}

	c.expect([]byte(Magic))
	tag := bytes.Clone(c.bytes(TagSize))
	exportAddr := c.u32()
	exportCount := c.u32()
	for i := range reservedWords {
		at := c.pos
		if w := c.u32(); w != 0 {
			c.fail("reserved word %d at 0x%X is 0x%X", i, at, w)
		}
	}
	c.expect(globalDataMagic)
	if c.err != nil {
		return nil, c.err
	}

	globalLen := 0
	for !bytes.HasPrefix(blob[c.pos+globalLen:], codeStartMagic) {
		globalLen += 16
		if c.pos+globalLen+len(codeStartMagic) > len(blob) {
			c.fail("no %q marker after global data at 0x%X", "CODE_START_", c.pos)
			return nil, c.err
		}
	}
	global := bytes.Clone(c.bytes(globalLen))
	c.expect(codeStartMagic)

	codeEnd := int(exportAddr) - len(exportDataMagic)
	if c.err == nil && (codeEnd < c.pos || int(exportAddr) > len(blob)) {
		c.fail("export offset 0x%X outside blob of 0x%X bytes", exportAddr, len(blob))
	}
	if c.err != nil {
		return nil, c.err
	}

	actions := make(map[Address]Action)
	for c.pos < codeEnd {
		act, at := decodeAction(c, codeEnd)
		if c.err != nil {
			return nil, c.err
		}
		if _, dup := actions[At(at)]; dup {
			c.fail("duplicate action at 0x%X", at)
			return nil, c.err
		}
		actions[At(at)] = act
	}
	if c.pos != codeEnd {
		c.fail("last action ends at 0x%X, past export marker at 0x%X", c.pos, codeEnd)
		return nil, c.err
	}

	c.expect(exportDataMagic)
	for i := uint32(0); i < exportCount && c.err == nil; i++ {
		at := c.pos
		if w := c.u32(); w != 0 {
			c.fail("export %d at 0x%X has reserved word 0x%X", i, at, w)
		}
		var name Label
		copy(name[:], c.bytes(len(name)))
		target := c.u32()
		if c.err != nil {
			break
		}

		act, ok := actions[At(target)]
		switch {
		case !ok:
			c.fail("export %q refers to 0x%X, which is not an action", name, target)
		case act.Export != nil:
			c.fail("action 0x%X exported twice (%q, %q)", target, *act.Export, name)
		default:
			act.Export = &name
			actions[At(target)] = act
		}
	}
	if c.err != nil {
		return nil, c.err
	}

	return &Document{
		Tag:        tag,
		GlobalData: global,
		Actions:    actions,
	}, nil
}

func decodeAction(c *cursor, codeEnd int) (Action, uint32) {
	at := uint32(c.pos)

	call := c.u32()
	opcode := c.u32()
	nparams := c.u32()
	length := c.u32()
	if c.err != nil {
		return Action{}, at
	}

	if call > 1 {
		c.fail("action 0x%X: call flag 0x%X", at, call)
		return Action{}, at
	}
	if length < actionHeaderSize || uint64(nparams)*paramSize > uint64(length-actionHeaderSize) {
		c.fail("action 0x%X: length %d too small for %d params", at, length, nparams)
		return Action{}, at
	}
	if uint64(at)+uint64(length) > uint64(codeEnd) {
		c.fail("action 0x%X: length %d overruns code region ending at 0x%X", at, length, codeEnd)
		return Action{}, at
	}

	dataAddr := at + actionHeaderSize + paramSize*nparams
	dataLen := length - actionHeaderSize - paramSize*nparams

	var params []Parameter
	for range nparams {
		w := [3]uint32{c.u32(), c.u32(), c.u32()}
		p, ok := parseParameter(w, dataAddr, dataLen)
		if !ok && c.err == nil {
			c.fail("action 0x%X: bad parameter %08X", at, w)
			return Action{}, at
		}
		params = append(params, p)
	}

	act := Action{
		Call:   call == 1,
		Opcode: opcode,
		Params: params,
	}
	if dataLen > 0 {
		act.Data = bytes.Clone(c.bytes(int(dataLen)))
	}
	return act, at
}
