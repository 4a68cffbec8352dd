package patch

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/width"
)

// DefaultReplacements maps typographic punctuation that either has no
// Shift-JIS form or renders badly in the game font.
var DefaultReplacements = [][2]string{
	{"''", "\""},
	{"”", "\""},
	{"“", "\""},
	{"``", "\""},
	{"…", "..."},
	{"（", "("},
	{"）", ")"},
}

// Normalizer rewrites translated text before it is wrapped: fullwidth ASCII
// is folded to halfwidth, punctuation is replaced and character names are
// swapped for the engine's name placeholders.
type Normalizer struct {
	r            *strings.Replacer
	placeholders []string
}

// NewNormalizer builds a normalizer. names maps a display name to the
// placeholder the engine substitutes at runtime, e.g. "Mary" -> "#Name[1]".
func NewNormalizer(replacements [][2]string, names map[string]string) *Normalizer {
	var pairs []string
	for _, r := range replacements {
		pairs = append(pairs, r[0], r[1])
	}

	// Longest name first so "Auguste's Voice" wins over "Auguste".
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	var placeholders []string
	for _, k := range keys {
		pairs = append(pairs, k, names[k])
		if names[k] != "" && !slices.Contains(placeholders, names[k]) {
			placeholders = append(placeholders, names[k])
		}
	}

	return &Normalizer{
		r:            strings.NewReplacer(pairs...),
		placeholders: placeholders,
	}
}

func (n *Normalizer) Normalize(s string) string {
	return n.r.Replace(width.Fold.String(s))
}

// Placeholders lists the distinct name placeholders the normalizer emits.
func (n *Normalizer) Placeholders() []string {
	return n.placeholders
}
