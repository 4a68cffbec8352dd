package translate

import (
	"strings"

	"github.com/mvaleed/blume/internal/dialogue"
)

type IssueKind string

const (
	// The source is wrapped in Japanese brackets and the translation is not
	// wrapped in the matching ASCII pair.
	Unwrapped IssueKind = "unwrapped"
	// The source has a bracket somewhere other than around the whole line.
	StrayBracket IssueKind = "stray bracket"
	// The translation still carries a fullwidth bracket.
	JapaneseBracket IssueKind = "japanese bracket"
)

// Issue flags a translated line whose brackets need a human look.
type Issue struct {
	Addr   uint32
	Kind   IssueKind
	Source string
	Text   string
}

type bracketPair struct {
	jaOpen, jaClose string
	enOpen, enClose string
}

var bracketPairs = []bracketPair{
	{"（", "）", "(", ")"},
	{"「", "」", `"`, `"`},
}

// Check compares each translated line against its source bracket by
// bracket. Lines without a translation are skipped.
func Check(lines []dialogue.Line, translations map[uint32]string) []Issue {
	var issues []Issue
	for _, l := range lines {
		text, ok := translations[l.Addr]
		if !ok {
			continue
		}
		flag := func(k IssueKind) {
			issues = append(issues, Issue{Addr: l.Addr, Kind: k, Source: l.Text, Text: text})
		}
		for _, p := range bracketPairs {
			switch {
			case strings.HasPrefix(l.Text, p.jaOpen) && strings.HasSuffix(l.Text, p.jaClose):
				if len(text) < 2 || !strings.HasPrefix(text, p.enOpen) || !strings.HasSuffix(text, p.enClose) {
					flag(Unwrapped)
				}
			case containsAny(l.Text, p.jaOpen, p.jaClose, p.enOpen, p.enClose):
				flag(StrayBracket)
			}
			if containsAny(text, p.jaOpen, p.jaClose) {
				flag(JapaneseBracket)
			}
		}
	}
	return issues
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
