package analyzer

import (
	"strings"
)

// Normalize collapses every run of whitespace, newlines included, into a
// single space and trims both ends.
func Normalize(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func isIdentByte(b byte) bool {
	return b == '_' || b == '$' || b == '#' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') || b >= 0x80
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' || b == '\v'
}

// walk calls fn for every byte offset of s outside quoted literals and
// quoted identifiers, passing the parenthesis depth before that byte is
// consumed. Walking stops when fn returns false.
func walk(s string, fn func(i, depth int) bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
			continue
		}
		if !fn(i, depth) {
			return
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
}

// matchPhrase reports whether the keyword phrase starts at s[i] on word
// boundaries, ignoring case. A space in phrase matches any whitespace run.
// Punctuation phrases such as "," need no boundary.
// It returns the offset just past the match.
func matchPhrase(s string, i int, phrase string) (int, bool) {
	if phrase == "" {
		return 0, false
	}
	if i > 0 && isIdentByte(phrase[0]) && isIdentByte(s[i-1]) {
		return 0, false
	}
	j := i
	for k := 0; k < len(phrase); k++ {
		p := phrase[k]
		if p == ' ' {
			if j >= len(s) || !isSpace(s[j]) {
				return 0, false
			}
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			continue
		}
		if j >= len(s) || toUpper(s[j]) != toUpper(p) {
			return 0, false
		}
		j++
	}
	if j < len(s) && isIdentByte(phrase[len(phrase)-1]) && isIdentByte(s[j]) {
		return 0, false
	}
	return j, true
}

func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// matchAny tries each phrase at s[i] in order and returns the first hit.
func matchAny(s string, i int, phrases []string) (string, int, bool) {
	for _, p := range phrases {
		if end, ok := matchPhrase(s, i, p); ok {
			return p, end, true
		}
	}
	return "", 0, false
}

type span struct {
	start, end int
}

// splitSpans splits text on delim wherever the parenthesis depth is zero.
func splitSpans(text, delim string) []span {
	var spans []span
	start := 0
	walk(text, func(i, depth int) bool {
		if depth == 0 && i >= start && strings.HasPrefix(text[i:], delim) {
			spans = append(spans, span{start, i})
			start = i + len(delim)
		}
		return true
	})
	if strings.TrimSpace(text[start:]) != "" {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

// SplitTopLevel splits text on delim, ignoring delimiters nested inside
// parentheses or quotes. Segments are trimmed; a trailing empty segment is
// dropped.
//
//	SplitTopLevel("a, f(b, c), d", ",") // ["a", "f(b, c)", "d"]
func SplitTopLevel(text, delim string) []string {
	spans := splitSpans(text, delim)
	parts := make([]string, 0, len(spans))
	for _, sp := range spans {
		parts = append(parts, strings.TrimSpace(text[sp.start:sp.end]))
	}
	return parts
}

// SplitPredicates splits a boolean clause into its top-level AND/OR
// fragments, left to right. The AND that belongs to a BETWEEN is not a
// split point. The result is flat: no precedence tree is built.
func SplitPredicates(clause string) []string {
	return splitKeywords(clause, "AND", "OR")
}

// SplitDisjuncts splits a boolean clause at its top-level ORs only.
func SplitDisjuncts(clause string) []string {
	return splitKeywords(clause, "OR")
}

// splitKeywords splits text at top-level occurrences of the given keywords.
// Empty fragments are dropped.
func splitKeywords(text string, keywords ...string) []string {
	var parts []string
	start := 0
	pendingBetween := false
	emit := func(end int) {
		if frag := strings.TrimSpace(text[start:end]); frag != "" {
			parts = append(parts, frag)
		}
	}
	walk(text, func(i, depth int) bool {
		if depth != 0 || i < start {
			return true
		}
		if _, ok := matchPhrase(text, i, "BETWEEN"); ok {
			pendingBetween = true
			return true
		}
		kw, end, ok := matchAny(text, i, keywords)
		if !ok {
			return true
		}
		if kw == "AND" && pendingBetween {
			pendingBetween = false
			return true
		}
		emit(i)
		start = end
		pendingBetween = false
		return true
	})
	emit(len(text))
	return parts
}

// closingParen returns the offset of the parenthesis closing the one at
// open, or -1 when it is unbalanced.
func closingParen(s string, open int) int {
	closeAt := -1
	walk(s[open:], func(i, depth int) bool {
		if s[open+i] == ')' && depth == 1 {
			closeAt = open + i
			return false
		}
		return true
	})
	return closeAt
}

// UnwrapParens strips parentheses enclosing the whole of s.
func UnwrapParens(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' {
		return s, false
	}
	if closingParen(s, 0) != len(s)-1 {
		return s, false
	}
	return strings.TrimSpace(s[1 : len(s)-1]), true
}

// maskLiterals blanks the contents of single-quoted string literals so
// that words inside them are not mistaken for identifiers. Offsets are
// preserved.
func maskLiterals(s string) string {
	if strings.IndexByte(s, '\'') < 0 {
		return s
	}
	b := []byte(s)
	in := false
	for i := range b {
		if b[i] == '\'' {
			in = !in
			continue
		}
		if in {
			b[i] = ' '
		}
	}
	return string(b)
}

// trimConnectors drops dangling AND/OR words left at the end of a clause
// that was cut at a boundary keyword.
func trimConnectors(s string) string {
	for {
		s = strings.TrimSpace(s)
		cut := false
		for _, kw := range []string{"AND", "OR"} {
			n := len(kw)
			if len(s) >= n && strings.EqualFold(s[len(s)-n:], kw) && (len(s) == n || !isIdentByte(s[len(s)-n-1])) {
				s = s[:len(s)-n]
				cut = true
			}
		}
		if !cut {
			return s
		}
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
