package stcm2

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// cursor is a little-endian reader over an in-memory blob. The first failure
// sticks; later reads return zero values so callers can check err once per
// record.
type cursor struct {
	buf []byte
	pos int
	err error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.pos+n > len(c.buf) {
		c.err = fmt.Errorf("%w: need %d bytes at 0x%X, blob is 0x%X", ErrTruncated, n, c.pos, len(c.buf))
		return false
	}
	return true
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) expect(magic []byte) {
	if c.err != nil {
		return
	}
	if !bytes.HasPrefix(c.buf[c.pos:], magic) {
		c.err = fmt.Errorf("%w: expected %q at 0x%X", ErrFormat, bytes.TrimRight(magic, "\x00"), c.pos)
		return
	}
	c.pos += len(magic)
}

func (c *cursor) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%w: "+format, append([]any{ErrFormat}, args...)...)
	}
}
