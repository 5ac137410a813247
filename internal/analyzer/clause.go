package analyzer

import (
	"sort"
	"strings"
)

// clauseBoundaries is the ordered list of keywords that end a clause. A
// clause also ends where a closing parenthesis leaves its nesting level.
var clauseBoundaries = []string{
	"WHERE",
	"GROUP BY",
	"ORDER BY",
	"HAVING",
	"FETCH",
	"ROWNUM",
	"START WITH",
	"CONNECT BY",
	"WINDOW",
	"QUALIFY",
	"LIMIT",
	"OFFSET",
	"FOR UPDATE",
	"RETURNING",
	"UNION",
	"INTERSECT",
	"MINUS",
	"EXCEPT",
}

// joinPhrases are matched longest first so that the join type is kept.
var joinPhrases = []string{
	"NATURAL LEFT OUTER JOIN", "NATURAL RIGHT OUTER JOIN", "NATURAL FULL OUTER JOIN",
	"NATURAL LEFT JOIN", "NATURAL RIGHT JOIN", "NATURAL FULL JOIN", "NATURAL INNER JOIN",
	"NATURAL JOIN",
	"LEFT OUTER JOIN", "RIGHT OUTER JOIN", "FULL OUTER JOIN",
	"INNER JOIN", "LEFT JOIN", "RIGHT JOIN", "FULL JOIN", "CROSS JOIN",
	"CROSS APPLY", "OUTER APPLY",
	"JOIN",
}

var (
	selectBoundaries = append([]string{"FROM", "INTO"}, clauseBoundaries...)
	onBoundaries     = append(append([]string{","}, joinPhrases...), clauseBoundaries...)
	listBoundaries   = append([]string{"ROWS BETWEEN", "RANGE BETWEEN"}, clauseBoundaries...)
)

// clause is the text that follows a keyword up to its boundary.
type clause struct {
	keyword string
	at      int // offset of the keyword
	start   int // offset of the clause text
	end     int // offset where the clause stops
	text    string
}

// keywordOffsets returns the offset of every occurrence of phrase outside
// literals. With scoped set, an occurrence only counts when a SELECT,
// DELETE or UPDATE precedes it inside the same parenthesis group, which
// filters out EXTRACT(YEAR FROM d) and similar function syntax.
func keywordOffsets(sql, phrase string, scoped bool) []int {
	var offsets []int
	seen := []bool{false}
	walk(sql, func(i, depth int) bool {
		switch sql[i] {
		case '(':
			seen = append(seen, false)
			return true
		case ')':
			if len(seen) > 1 {
				seen = seen[:len(seen)-1]
			}
			return true
		}
		if scoped {
			if _, _, ok := matchAny(sql, i, []string{"SELECT", "DELETE", "UPDATE"}); ok {
				seen[len(seen)-1] = true
				return true
			}
		}
		if _, ok := matchPhrase(sql, i, phrase); ok && (!scoped || seen[len(seen)-1]) {
			offsets = append(offsets, i)
		}
		return true
	})
	return offsets
}

// clauseEnd returns the offset where the clause starting at start ends: the
// first boundary keyword at the same nesting level, a parenthesis closing
// that level, or the end of sql.
func clauseEnd(sql string, start int, boundaries []string) int {
	end := len(sql)
	rest := sql[start:]
	walk(rest, func(i, depth int) bool {
		if depth == 0 && rest[i] == ')' {
			end = start + i
			return false
		}
		if depth != 0 {
			return true
		}
		if phrase, _, ok := matchAny(rest, i, boundaries); ok && (start+i == 0 || !isIdentByte(phrase[0]) || !isIdentByte(sql[start+i-1])) {
			end = start + i
			return false
		}
		return true
	})
	return end
}

// sliceClauses returns every clause introduced by keyword, in source order.
func sliceClauses(sql, keyword string, boundaries []string, scoped bool) []clause {
	var out []clause
	for _, at := range keywordOffsets(sql, keyword, scoped) {
		start, _ := matchPhrase(sql, at, keyword)
		end := clauseEnd(sql, start, boundaries)
		text := trimConnectors(sql[start:end])
		out = append(out, clause{keyword: keyword, at: at, start: start, end: end, text: text})
	}
	return out
}

// predicateClauses gathers WHERE, HAVING and ON clauses in source order.
func predicateClauses(sql string) []clause {
	var all []clause
	all = append(all, sliceClauses(sql, "WHERE", clauseBoundaries, false)...)
	all = append(all, sliceClauses(sql, "HAVING", clauseBoundaries, false)...)
	all = append(all, sliceClauses(sql, "ON", onBoundaries, false)...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })
	return all
}

// firstClause returns the first clause introduced by keyword at or after
// offset from.
func firstClause(sql, keyword string, boundaries []string, from int) (clause, bool) {
	for _, c := range sliceClauses(sql, keyword, boundaries, false) {
		if c.at >= from {
			return c, true
		}
	}
	return clause{}, false
}

// joinTypeOf reduces a matched join phrase to its reported join type.
func joinTypeOf(phrase string) string {
	p := strings.TrimPrefix(phrase, "NATURAL ")
	p = strings.Replace(p, " OUTER", "", 1)
	switch p {
	case "INNER JOIN", "LEFT JOIN", "RIGHT JOIN", "FULL JOIN", "CROSS JOIN":
		return p
	case "CROSS APPLY":
		return "CROSS JOIN"
	case "OUTER APPLY":
		return "LEFT JOIN"
	default:
		return "JOIN"
	}
}

// WhereClause returns the text of the first WHERE clause that is not
// nested inside parentheses.
func WhereClause(sql string) (string, bool) {
	depths := depthIndex(sql)
	for _, c := range sliceClauses(sql, "WHERE", clauseBoundaries, false) {
		if depths[c.at] == 0 {
			return c.text, true
		}
	}
	return "", false
}

// KeywordDepths returns the parenthesis depth of every occurrence of the
// keyword phrase outside literals.
func KeywordDepths(sql, phrase string) []int {
	depths := depthIndex(sql)
	offsets := keywordOffsets(sql, phrase, false)
	out := make([]int, 0, len(offsets))
	for _, at := range offsets {
		out = append(out, depths[at])
	}
	return out
}
