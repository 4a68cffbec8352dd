package stcm2

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func label(name string) *Label {
	l := NewLabel(name)
	return &l
}

func sjis(t testing.TB, s string) []byte {
	t.Helper()
	raw, err := ToSJIS(s)
	require.NoError(t, err)
	return raw
}

// sampleDocument covers every parameter kind, a call and two exports.
func sampleDocument(t testing.TB) *Document {
	t.Helper()
	sub := Action{
		Export: label("sub"),
		Opcode: 0x20,
		Params: []Parameter{LocalPointer(4), Value(7)},
		Data:   []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	return &Document{
		Tag:        bytes.Repeat([]byte{0xAA}, TagSize),
		GlobalData: bytes.Repeat([]byte{0x11}, 32),
		Actions: map[Address]Action{
			At(0x100): {Export: label("main"), Opcode: 0x10, Params: []Parameter{Value(5)}},
			At(0x110): NewSpeaker(sjis(t, "Alice")),
			At(0x120): NewLine(sjis(t, "こんにちは")),
			At(0x130): {Call: true, Opcode: 0x200, Params: []Parameter{GlobalPointer(0x120), Value(0xFF000001)}},
			At(0x200): sub,
		},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	blob, err := Encode(sampleDocument(t))
	require.NoError(t, err)
	assert.Zero(t, len(blob)%16)

	doc, err := Decode(blob)
	require.NoError(t, err)

	addrs := doc.Addresses()
	require.Len(t, addrs, 5)
	// Header, 32 bytes of global data, code marker.
	assert.Equal(t, At(0x60+32+12), addrs[0])
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 32), doc.GlobalData)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, TagSize), doc.Tag)

	main := doc.Actions[addrs[0]]
	require.NotNil(t, main.Export)
	assert.Equal(t, "main", main.Export.String())
	assert.Equal(t, []Parameter{Value(5)}, main.Params)
	assert.Nil(t, main.Data)

	call := doc.Actions[addrs[3]]
	assert.True(t, call.Call)
	assert.Equal(t, addrs[4].Orig, call.Opcode)
	assert.Equal(t, []Parameter{GlobalPointer(addrs[2].Orig), Value(0xFF000001)}, call.Params)

	sub := doc.Actions[addrs[4]]
	require.NotNil(t, sub.Export)
	assert.Equal(t, "sub", sub.Export.String())
	assert.Equal(t, []Parameter{LocalPointer(4), Value(7)}, sub.Params)

	t.Run("re-encoding is byte stable", func(t *testing.T) {
		again, err := Encode(doc)
		require.NoError(t, err)
		assert.Equal(t, blob, again)

		doc2, err := Decode(again)
		require.NoError(t, err)
		assert.Equal(t, doc, doc2)
	})

	t.Run("dialogue operations", func(t *testing.T) {
		speaker := doc.Actions[addrs[1]]
		op, err := speaker.Operation(addrs[1])
		require.NoError(t, err)
		assert.Equal(t, Speaker{Addr: addrs[1], Text: "Alice"}, op)

		line := doc.Actions[addrs[2]]
		op, err = line.Operation(addrs[2])
		require.NoError(t, err)
		assert.Equal(t, Line{Addr: addrs[2], Text: "こんにちは"}, op)

		op, err = call.Operation(addrs[3])
		require.NoError(t, err)
		assert.IsType(t, Unknown{}, op)
	})
}

func TestEncode_InsertedActions(t *testing.T) {
	doc := sampleDocument(t)
	doc.Actions[At(0x120).Next()] = NewLine(sjis(t, "inserted"))
	doc.Actions[At(0x120).Next().Next()] = NewYield()

	blob, err := Encode(doc)
	require.NoError(t, err)

	out, err := Decode(blob)
	require.NoError(t, err)
	addrs := out.Addresses()
	require.Len(t, addrs, 7)

	// The call keeps pointing at the original line, not the inserted ones.
	call := out.Actions[addrs[5]]
	require.True(t, call.Call)
	assert.Equal(t, GlobalPointer(addrs[2].Orig), call.Params[0])
	assert.Equal(t, addrs[6].Orig, call.Opcode)

	inserted := out.Actions[addrs[3]]
	op, err := inserted.Operation(addrs[3])
	require.NoError(t, err)
	assert.Equal(t, Line{Addr: addrs[3], Text: "inserted"}, op)

	yield := out.Actions[addrs[4]]
	op, err = yield.Operation(addrs[4])
	require.NoError(t, err)
	assert.Equal(t, Yield{Addr: addrs[4]}, op)
}

func TestEncode_Errors(t *testing.T) {
	t.Run("call to missing action", func(t *testing.T) {
		doc := sampleDocument(t)
		doc.Actions[At(0x300)] = Action{Call: true, Opcode: 0x999}
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrUnresolvedReference)
		assert.Contains(t, err.Error(), "0x999 (from 0x300)")
	})

	t.Run("global pointer to missing action", func(t *testing.T) {
		doc := sampleDocument(t)
		doc.Actions[At(0x300)] = Action{Opcode: 1, Params: []Parameter{GlobalPointer(0x50)}}
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrUnresolvedReference)
	})

	t.Run("local pointer outside data", func(t *testing.T) {
		doc := sampleDocument(t)
		doc.Actions[At(0x300)] = Action{Opcode: 1, Params: []Parameter{LocalPointer(4)}, Data: []byte{0, 0, 0, 0}}
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("value colliding with own data", func(t *testing.T) {
		// Header, no global data, code marker: the action starts at 0x6C and
		// its data at 0x6C+16+12.
		doc := &Document{
			Tag: make([]byte, TagSize),
			Actions: map[Address]Action{
				At(0x6C): {Opcode: 1, Params: []Parameter{Value(0x88)}, Data: []byte{1, 2, 3, 4}},
			},
		}
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrFormat)
		assert.Contains(t, err.Error(), "0x6C param 0")

		doc.Actions[At(0x6C)] = Action{Opcode: 1, Params: []Parameter{Value(0x8C)}, Data: []byte{1, 2, 3, 4}}
		blob, err := Encode(doc)
		require.NoError(t, err, "the first byte past the data is a plain value")
		out, err := Decode(blob)
		require.NoError(t, err)
		assert.Equal(t, []Parameter{Value(0x8C)}, out.Actions[At(0x6C)].Params)
	})

	t.Run("short tag", func(t *testing.T) {
		doc := sampleDocument(t)
		doc.Tag = doc.Tag[:3]
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrFormat)
	})

	t.Run("unaligned global data", func(t *testing.T) {
		doc := sampleDocument(t)
		doc.GlobalData = append(doc.GlobalData, 0)
		_, err := Encode(doc)
		require.ErrorIs(t, err, ErrFormat)
	})
}

func TestDecode_Errors(t *testing.T) {
	blob, err := Encode(sampleDocument(t))
	require.NoError(t, err)
	exportAddr := binary.LittleEndian.Uint32(blob[0x20:])
	firstAction := 0x60 + 32 + 12

	cases := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrFormat},
		{"truncated header", func(b []byte) []byte { return b[:0x40] }, ErrTruncated},
		{"reserved word set", func(b []byte) []byte { b[0x30] = 1; return b }, ErrFormat},
		{"missing global marker", func(b []byte) []byte { b[0x50] = 'g'; return b }, ErrFormat},
		{"missing code marker", func(b []byte) []byte { copy(b[0x80:], "CODE_STOP___"); return b }, ErrFormat},
		{"export offset past end", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[0x20:], uint32(len(b)+16))
			return b
		}, ErrFormat},
		{"call flag out of range", func(b []byte) []byte { b[firstAction] = 2; return b }, ErrFormat},
		{"action overruns code", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[firstAction+12:], 0x10000)
			return b
		}, ErrFormat},
		{"action shorter than header", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[firstAction+12:], 8)
			return b
		}, ErrFormat},
		{"malformed parameter", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[firstAction+16+4:], 0x1234)
			return b
		}, ErrFormat},
		{"export to non-action", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[exportAddr+36:], 1)
			return b
		}, ErrFormat},
		{"duplicate export", func(b []byte) []byte {
			first := exportAddr + 36
			copy(b[first+uint32(exportRecordSize):], b[first:first+4])
			return b
		}, ErrFormat},
		{"export record truncated", func(b []byte) []byte { return b[:exportAddr+20] }, ErrTruncated},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.mutate(bytes.Clone(blob)))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEncoder_Fixups(t *testing.T) {
	target := reference{refAction, At(0x40)}

	t.Run("resolved", func(t *testing.T) {
		e := &encoder{refs: map[reference]uint32{}}
		e.u32(0)
		e.deferred(At(0x10), target, 8)
		e.refs[target] = 0x200
		require.NoError(t, e.resolve())
		assert.Equal(t, uint32(0x208), binary.LittleEndian.Uint32(e.out[4:]))
	})

	t.Run("clobbered slot", func(t *testing.T) {
		e := &encoder{refs: map[reference]uint32{}}
		e.u32(0)
		e.deferred(At(0x10), target, 0)
		e.out[4] ^= 0xFF
		e.refs[target] = 0x200
		err := e.resolve()
		require.ErrorIs(t, err, ErrCanary)
		assert.Contains(t, err.Error(), "slot 0x4 of action 0x10")
	})

	t.Run("missing target", func(t *testing.T) {
		e := &encoder{refs: map[reference]uint32{}}
		e.deferred(At(0x10), target, 0)
		require.ErrorIs(t, e.resolve(), ErrUnresolvedReference)
	})
}

func TestAddress_Order(t *testing.T) {
	addrs := []Address{At(0x20), At(0x10).Next(), At(0x10), At(0x10).Next().Next()}
	doc := &Document{Actions: map[Address]Action{}}
	for _, a := range addrs {
		doc.Actions[a] = Action{}
	}

	assert.Equal(t, []Address{
		At(0x10), {Orig: 0x10, Sub: 1}, {Orig: 0x10, Sub: 2}, At(0x20),
	}, doc.Addresses())
	assert.True(t, At(0x10).Next().Less(At(0x11)))
	assert.Equal(t, "0x10+2", Address{Orig: 0x10, Sub: 2}.String())
	assert.Equal(t, "0x10", At(0x10).String())
}

func BenchmarkEncode(b *testing.B) {
	doc := sampleDocument(b)
	for i := range uint32(2000) {
		doc.Actions[At(0x1000+i*0x40)] = Action{
			Call:   i%3 == 0,
			Opcode: 0x100,
			Params: []Parameter{GlobalPointer(0x120), Value(i)},
		}
	}

	for b.Loop() {
		if _, err := Encode(doc); err != nil {
			b.Fatal(err)
		}
	}
}
