// Package patch replaces dialogue in a decoded script with translated text.
package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/mvaleed/blume/internal/stcm2"
)

var (
	ErrOverlappingWindow    = errors.New("patch: dialogue window opened twice")
	ErrUnexpectedSpeaker    = errors.New("patch: unexpected speaker shape")
	ErrUnexpectedLine       = errors.New("patch: unexpected line shape")
	ErrUnmatchedTranslation = errors.New("patch: translation matches no dialogue")
	ErrWindowOpen           = errors.New("patch: dialogue window still open")
	ErrOptions              = errors.New("patch: invalid options")
)

// lineOpcodeSentinel marks a line action that carries no text.
const lineOpcodeSentinel = 0xD4

type Options struct {
	// MaxWidth bounds a line in halfwidth units.
	MaxWidth int
	// MaxLines is how many lines fit in the text box. Exceeding it is
	// reported, not rejected.
	MaxLines  int
	NameWidth int
	// Paginate inserts a Yield after every MaxLines lines.
	Paginate     bool
	Replacements [][2]string
	Names        map[string]string
	Logger       *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxWidth:     44,
		MaxLines:     3,
		NameWidth:    10,
		Replacements: DefaultReplacements,
		Names:        map[string]string{"Mary": "#Name[1]"},
	}
}

// Validate checks that every token fits on a line, including an indented
// continuation line.
func (o Options) Validate() error {
	var errs []error
	if o.MaxWidth < indentWidth+2 {
		errs = append(errs, fmt.Errorf("max_width = %d, need at least %d", o.MaxWidth, indentWidth+2))
	}
	if o.NameWidth < 1 || o.NameWidth > o.MaxWidth-indentWidth {
		errs = append(errs, fmt.Errorf("name_width = %d, need 1..max_width-%d", o.NameWidth, indentWidth))
	}
	if o.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("max_lines = %d, need at least 1", o.MaxLines))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrOptions, errors.Join(errs...))
}

// Overflow records a translation that needs more lines than fit on screen.
type Overflow struct {
	Addr  uint32
	Lines int
}

type Report struct {
	Replaced  int
	Kept      int
	Inserted  int
	Overflows []Overflow
}

// patcher carries the state of one Apply call.
type patcher struct {
	opts    Options
	norm    *Normalizer
	wrap    *Wrapper
	logger  *slog.Logger
	tls     map[uint32]string
	out     map[stcm2.Address]stcm2.Action
	window  *stcm2.Address
	pending []stcm2.Address
	in      map[stcm2.Address]stcm2.Action
	report  Report
}

// Apply walks doc in address order and swaps every dialogue run whose
// window address has a translation for freshly wrapped Line actions. Every
// other action is carried over unchanged. doc is not modified.
//
// A window opens on a Speaker (at the address right after it) or on the first
// of a run of Lines, and closes on the next action that is neither. Runs that
// end in a Choice are prompts and are never replaced.
func Apply(doc *stcm2.Document, translations map[uint32]string, opts Options) (*stcm2.Document, Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, Report{}, err
	}
	norm := NewNormalizer(opts.Replacements, opts.Names)
	p := &patcher{
		opts: opts,
		norm: norm,
		wrap: &Wrapper{
			MaxWidth:     opts.MaxWidth,
			NameWidth:    opts.NameWidth,
			Placeholders: norm.Placeholders(),
		},
		logger: opts.Logger,
		tls:    maps.Clone(translations),
		in:     doc.Actions,
		out:    make(map[stcm2.Address]stcm2.Action, len(doc.Actions)),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	for _, addr := range doc.Addresses() {
		if err := p.step(addr, doc.Actions[addr]); err != nil {
			return nil, Report{}, err
		}
	}

	if len(p.tls) > 0 {
		var missing []string
		for _, a := range slices.Sorted(maps.Keys(p.tls)) {
			missing = append(missing, fmt.Sprintf("0x%X", a))
		}
		return nil, Report{}, fmt.Errorf("%w: %s", ErrUnmatchedTranslation, strings.Join(missing, ", "))
	}
	if p.window != nil || len(p.pending) > 0 {
		return nil, Report{}, fmt.Errorf("%w: at end of script (window %s, %d buffered lines)",
			ErrWindowOpen, p.windowString(), len(p.pending))
	}

	return &stcm2.Document{
		Tag:        doc.Tag,
		GlobalData: doc.GlobalData,
		Actions:    p.out,
	}, p.report, nil
}

func (p *patcher) step(addr stcm2.Address, act stcm2.Action) error {
	switch {
	case act.Is(stcm2.OpSpeaker):
		if p.window != nil || len(p.pending) > 0 {
			return fmt.Errorf("%w: speaker at %s, window at %s", ErrOverlappingWindow, addr, p.windowString())
		}
		if act.Export != nil || !act.HasParams(stcm2.LocalPointer(0)) {
			return fmt.Errorf("%w: %s has params %v", ErrUnexpectedSpeaker, addr, act.Params)
		}
		p.out[addr] = act
		next := addr.Next()
		p.window = &next

	case act.Is(stcm2.OpLine):
		switch {
		case act.HasParams(stcm2.Value(lineOpcodeSentinel)):
			if p.window != nil {
				return fmt.Errorf("%w: textless line at %s inside window at %s", ErrWindowOpen, addr, p.windowString())
			}
			p.out[addr] = act
		case act.Export == nil && act.HasParams(stcm2.LocalPointer(0)):
			p.pending = append(p.pending, addr)
			if p.window == nil {
				w := addr
				p.window = &w
			}
		default:
			return fmt.Errorf("%w: %s has params %v", ErrUnexpectedLine, addr, act.Params)
		}

	case act.Is(stcm2.OpChoice):
		p.keep()
		p.out[addr] = act

	default:
		if err := p.close(); err != nil {
			return err
		}
		p.out[addr] = act
	}
	return nil
}

func (p *patcher) windowString() string {
	if p.window == nil {
		return "none"
	}
	return p.window.String()
}

// keep flushes buffered lines verbatim and closes the window.
func (p *patcher) keep() {
	for _, a := range p.pending {
		p.out[a] = p.in[a]
	}
	if len(p.pending) > 0 {
		p.report.Kept++
	}
	p.pending = nil
	p.window = nil
}

// close ends the window, substituting the translation if there is one.
func (p *patcher) close() error {
	if p.window == nil {
		return nil
	}
	tl, ok := p.tls[p.window.Orig]
	if !ok {
		p.keep()
		return nil
	}
	delete(p.tls, p.window.Orig)

	text := p.norm.Normalize(tl)
	lines, err := p.wrap.Wrap(text)
	if err != nil {
		return fmt.Errorf("translation for 0x%X: %w", p.window.Orig, err)
	}
	if len(lines) > p.opts.MaxLines {
		p.logger.Warn("translation overflows text box",
			"addr", fmt.Sprintf("0x%X", p.window.Orig), "lines", len(lines), "max", p.opts.MaxLines)
		p.report.Overflows = append(p.report.Overflows, Overflow{Addr: p.window.Orig, Lines: len(lines)})
	}

	at := *p.window
	for i, line := range lines {
		if p.opts.Paginate && p.opts.MaxLines > 0 && i > 0 && i%p.opts.MaxLines == 0 {
			p.out[at] = stcm2.NewYield()
			at = at.Next()
		}
		p.out[at] = stcm2.NewLine(line)
		at = at.Next()
	}

	p.report.Replaced++
	p.report.Inserted += len(lines)
	p.pending = nil
	p.window = nil
	return nil
}
