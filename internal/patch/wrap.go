package patch

import (
	"bytes"

	"github.com/mvaleed/blume/internal/stcm2"
)

// Shift-JIS ideographic space, used to indent continuation lines.
var indent = []byte{0x81, 0x40}

const indentWidth = 2

// token is the smallest unit the wrapper will not split.
type token struct {
	b     []byte
	width int
	space bool
	name  bool
}

// isLeadByte reports whether c starts a two-byte Shift-JIS character.
func isLeadByte(c byte) bool {
	return (c >= 0x81 && c <= 0x9F) || (c >= 0xE0 && c <= 0xFC)
}

// Wrapper packs Shift-JIS text into lines of bounded display width. A
// halfwidth byte counts 1, a two-byte character 2, a name placeholder
// NameWidth.
type Wrapper struct {
	MaxWidth     int
	NameWidth    int
	Placeholders []string
}

func (w *Wrapper) tokenize(raw []byte) []token {
	var toks []token
outer:
	for i := 0; i < len(raw); {
		for _, p := range w.Placeholders {
			if bytes.HasPrefix(raw[i:], []byte(p)) {
				toks = append(toks, token{b: raw[i : i+len(p)], width: w.NameWidth, name: true})
				i += len(p)
				continue outer
			}
		}

		c := raw[i]
		switch {
		case isLeadByte(c) && i+1 < len(raw):
			toks = append(toks, token{b: raw[i : i+2], width: 2, space: c == indent[0] && raw[i+1] == indent[1]})
			i += 2
		default:
			toks = append(toks, token{b: raw[i : i+1], width: 1, space: c == ' ' || c == '\t' || c == '\n'})
			i++
		}
	}
	return toks
}

// Wrap encodes s to Shift-JIS and splits it into lines. Lines break at the
// last whitespace that fits, consuming it, or mid-word when a word alone is
// wider than a line. Once a line starting with a fullwidth character has
// been produced, later lines are indented with an ideographic space.
func (w *Wrapper) Wrap(s string) ([][]byte, error) {
	raw, err := stcm2.ToSJIS(s)
	if err != nil {
		return nil, err
	}

	toks := w.tokenize(raw)
	var lines [][]byte
	indented := false
	for len(toks) > 0 {
		used := 0
		if indented {
			used = indentWidth
		}

		n, brk := 0, -1
		for n < len(toks) && used+toks[n].width <= w.MaxWidth {
			if toks[n].space {
				brk = n
			}
			used += toks[n].width
			n++
		}

		next := n
		switch {
		case n == len(toks):
		case toks[n].space:
			next = n + 1
		case brk > 0:
			n, next = brk, brk+1
		case n == 0:
			// A single token wider than the line; emit it alone.
			n, next = 1, 1
		}

		var line []byte
		if indented {
			line = append(line, indent...)
		}
		for _, t := range toks[:n] {
			line = append(line, t.b...)
		}
		lines = append(lines, line)

		if !indented && toks[0].width == 2 && !toks[0].name {
			indented = true
		}
		toks = toks[next:]
	}
	return lines, nil
}

// Width is the display width of an encoded line.
func (w *Wrapper) Width(line []byte) int {
	total := 0
	for _, t := range w.tokenize(line) {
		total += t.width
	}
	return total
}
