// Package translate is the boundary between extracted dialogue and whatever
// produces its translation.
package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mvaleed/blume/internal/dialogue"
)

var ErrDuplicate = errors.New("translate: duplicate sheet row")

// Source is one line offered for translation.
type Source struct {
	Addr    uint32
	Speaker string
	Text    string
}

type Result struct {
	Addr uint32
	Text string
}

// Provider translates the lines of one script. Lines it has no translation
// for are left out of the result.
type Provider interface {
	Translate(ctx context.Context, scriptID uint32, src []Source) ([]Result, error)
}

// Hex is a uint32 written as 0x-prefixed hex in sheets.
type Hex uint32

func (h Hex) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%X", uint32(h)), nil
}

func (h *Hex) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: bad address %q: %w", n.Line, n.Value, err)
	}
	*h = Hex(v)
	return nil
}

// Row is one entry of a translation sheet. Source and Speaker are for the
// translator's reference; only Text is read back.
type Row struct {
	Script  Hex    `yaml:"script"`
	Address Hex    `yaml:"address"`
	Speaker string `yaml:"speaker,omitempty"`
	Source  string `yaml:"source,omitempty"`
	Text    string `yaml:"text"`
}

type key struct{ script, addr uint32 }

// ExportSheet writes the lines of a script as an empty sheet.
func ExportSheet(w io.Writer, scriptID uint32, lines []dialogue.Line) error {
	rows := make([]Row, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, Row{
			Script:  Hex(scriptID),
			Address: Hex(l.Addr),
			Speaker: l.Speaker,
			Source:  l.Text,
		})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to write sheet: %w", err)
	}
	return enc.Close()
}

// ReadSheet parses a sheet. A script/address pair may appear only once.
func ReadSheet(r io.Reader) ([]Row, error) {
	var rows []Row
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	seen := make(map[key]struct{}, len(rows))
	for _, row := range rows {
		k := key{uint32(row.Script), uint32(row.Address)}
		if _, ok := seen[k]; ok {
			return nil, fmt.Errorf("%w: script 0x%X address 0x%X", ErrDuplicate, k.script, k.addr)
		}
		seen[k] = struct{}{}
	}
	return rows, nil
}

// FileProvider serves translations from a filled-in sheet. Rows with empty
// text count as untranslated.
type FileProvider struct {
	texts map[key]string
}

func NewFileProvider(rows []Row) *FileProvider {
	p := &FileProvider{texts: make(map[key]string, len(rows))}
	for _, row := range rows {
		if row.Text != "" {
			p.texts[key{uint32(row.Script), uint32(row.Address)}] = row.Text
		}
	}
	return p
}

func OpenFileProvider(path string) (*FileProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ReadSheet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewFileProvider(rows), nil
}

// Scripts lists the script ids the sheet has translations for, ascending.
func (p *FileProvider) Scripts() []uint32 {
	seen := make(map[uint32]struct{})
	var ids []uint32
	for k := range p.texts {
		if _, ok := seen[k.script]; !ok {
			seen[k.script] = struct{}{}
			ids = append(ids, k.script)
		}
	}
	slices.Sort(ids)
	return ids
}

func (p *FileProvider) Translate(ctx context.Context, scriptID uint32, src []Source) ([]Result, error) {
	var out []Result
	for _, s := range src {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if text, ok := p.texts[key{scriptID, s.Addr}]; ok {
			out = append(out, Result{Addr: s.Addr, Text: text})
		}
	}
	return out, nil
}

// Sources converts stored lines into provider input.
func Sources(lines []dialogue.Line) []Source {
	src := make([]Source, 0, len(lines))
	for _, l := range lines {
		src = append(src, Source{Addr: l.Addr, Speaker: l.Speaker, Text: l.Text})
	}
	return src
}

var _ Provider = (*FileProvider)(nil)
