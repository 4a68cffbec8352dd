// Package dialogue folds decoded script operations into translatable units.
package dialogue

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mvaleed/blume/internal/stcm2"
)

var (
	ErrUnexpectedSpeaker = errors.New("dialogue: speaker inside an open unit")
	ErrUnexpectedLine    = errors.New("dialogue: line after choice options")
)

// Dialogue is either a Line or a Choice.
type Dialogue interface {
	Address() uint32
}

// Line is spoken or narrated text. Speaker is empty for narration.
type Line struct {
	Addr    uint32
	Speaker string
	Text    string
}

type Option struct {
	ID   uint32
	Text string
}

// Choice is a menu: the prompt line followed by its options.
type Choice struct {
	Addr    uint32
	Prompt  string
	Options []Option
}

func (l Line) Address() uint32   { return l.Addr }
func (c Choice) Address() uint32 { return c.Addr }

type state uint8

const (
	idle state = iota
	inSpeaker
	inLine
	inChoice
)

func (s state) String() string {
	return [...]string{"idle", "speaker", "line", "choice"}[s]
}

// Folder accumulates operations until a non-dialogue operation closes the
// current unit.
type Folder struct {
	state   state
	addr    uint32
	speaker strings.Builder
	line    strings.Builder
	options []Option
	out     []Dialogue
}

// Push feeds the next operation in address order.
func (f *Folder) Push(op stcm2.Operation) error {
	switch op := op.(type) {
	case stcm2.Speaker:
		if f.speaker.Len() > 0 || len(f.options) > 0 {
			return fmt.Errorf("%w: %s while in %s state", ErrUnexpectedSpeaker, op.Addr, f.state)
		}
		f.open(op.Addr, inSpeaker)
		f.speaker.WriteString(op.Text)

	case stcm2.Line:
		if len(f.options) > 0 {
			return fmt.Errorf("%w: %s", ErrUnexpectedLine, op.Addr)
		}
		f.open(op.Addr, inLine)
		f.line.WriteString(trim(op.Text))

	case stcm2.Choice:
		f.open(op.Addr, inChoice)
		f.options = append(f.options, Option{ID: op.ID, Text: op.Text})

	default:
		f.flush()
	}
	return nil
}

func (f *Folder) open(addr stcm2.Address, next state) {
	if f.state == idle {
		f.addr = addr.Orig
	}
	f.state = next
}

func (f *Folder) flush() {
	switch {
	case f.line.Len() == 0:
	case len(f.options) > 0:
		f.out = append(f.out, Choice{Addr: f.addr, Prompt: f.line.String(), Options: f.options})
	default:
		f.out = append(f.out, Line{Addr: f.addr, Speaker: f.speaker.String(), Text: f.line.String()})
	}

	f.state = idle
	f.addr = 0
	f.speaker.Reset()
	f.line.Reset()
	f.options = nil
}

// Dialogues closes any open unit and returns everything folded so far.
func (f *Folder) Dialogues() []Dialogue {
	f.flush()
	return f.out
}

func trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '・'
	})
}

// Fold runs a Folder over ops.
func Fold(ops []stcm2.Operation) ([]Dialogue, error) {
	var f Folder
	for _, op := range ops {
		if err := f.Push(op); err != nil {
			return nil, err
		}
	}
	return f.Dialogues(), nil
}

// Policy decides what happens to a dialogue action whose text cannot be decoded.
type Policy uint8

const (
	Strict Policy = iota
	SkipInvalid
)

type Options struct {
	Policy Policy
	Logger *slog.Logger
}

// FromDocument classifies every action of doc and folds the result. Under
// SkipInvalid an undecodable action is dropped from the stream and logged.
func FromDocument(doc *stcm2.Document, opts Options) ([]Dialogue, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var f Folder
	for _, addr := range doc.Addresses() {
		act := doc.Actions[addr]
		op, err := act.Operation(addr)
		if err != nil {
			if opts.Policy == SkipInvalid {
				logger.Warn("skipping undecodable action", "addr", addr.String(), "err", err)
				continue
			}
			return nil, err
		}
		if err := f.Push(op); err != nil {
			return nil, err
		}
	}
	return f.Dialogues(), nil
}
