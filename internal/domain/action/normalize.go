package action

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Zero-width code points stripped during normalization. Attackers hide
// directives from keyword scanners by splicing these into arguments.
const (
	zeroWidthSpace     = '\u200b'
	zeroWidthNonJoiner = '\u200c'
	zeroWidthJoiner    = '\u200d'
	zeroWidthNoBreak   = '\ufeff'
)

// Normalized is the scan-ready form of a tool-call payload.
type Normalized struct {
	// Tool is the tool name after NFKC folding and zero-width stripping.
	Tool string
	// Flat is the argument tree flattened depth-first into a single
	// space-separated string of map keys, nested strings, and scalars.
	Flat string
	// Sanitized reports whether normalization removed zero-width code
	// points from the tool name or arguments.
	Sanitized bool
}

// Normalize folds the tool name and argument tree into their canonical
// scan form. Unicode is NFKC-normalized, the four zero-width code points
// (U+200B, U+200C, U+200D, U+FEFF) are stripped, and the tree is
// flattened depth-first: map keys precede their values, list elements
// keep their order, numbers keep their textual form, booleans lowercase,
// nulls contribute nothing. Pure function; the original tree is left
// untouched for storage.
func Normalize(tool string, args Value) Normalized {
	nt, toolChanged := sanitize(tool)
	var sb strings.Builder
	changed := flattenInto(&sb, args)
	return Normalized{
		Tool:      nt,
		Flat:      sb.String(),
		Sanitized: toolChanged || changed,
	}
}

// Sanitize applies NFKC folding and zero-width stripping to a single
// string. Used wherever free text (prompts, tool output) must be scanned
// with the same rules as arguments.
func Sanitize(s string) string {
	out, _ := sanitize(s)
	return out
}

func sanitize(s string) (string, bool) {
	folded := norm.NFKC.String(s)
	if !containsZeroWidth(folded) {
		return folded, false
	}
	var sb strings.Builder
	sb.Grow(len(folded))
	for _, r := range folded {
		switch r {
		case zeroWidthSpace, zeroWidthNonJoiner, zeroWidthJoiner, zeroWidthNoBreak:
			continue
		default:
			sb.WriteRune(r)
		}
	}
	// Stripping can expose a composition the first fold could not see.
	return norm.NFKC.String(sb.String()), true
}

func containsZeroWidth(s string) bool {
	return strings.ContainsAny(s, "\u200b\u200c\u200d\ufeff")
}

func flattenInto(sb *strings.Builder, v Value) bool {
	changed := false
	appendPart := func(raw string) {
		part, c := sanitize(raw)
		changed = changed || c
		if part == "" {
			return
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(part)
	}
	switch v.Kind {
	case KindNull:
		// nulls carry no scannable content
	case KindString:
		appendPart(v.Str)
	case KindNumber:
		appendPart(v.Num.String())
	case KindBool:
		if v.Bool {
			appendPart("true")
		} else {
			appendPart("false")
		}
	case KindList:
		for _, e := range v.List {
			if flattenInto(sb, e) {
				changed = true
			}
		}
	case KindMap:
		for _, f := range v.Map {
			appendPart(f.Key)
			if flattenInto(sb, f.Value) {
				changed = true
			}
		}
	}
	return changed
}
