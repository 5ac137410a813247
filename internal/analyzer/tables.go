package analyzer

import (
	"sort"
	"strings"
)

type refKind int

const (
	refFrom refKind = iota
	refJoin
)

// tableOccurrence is one table reference found in the statement text.
type tableOccurrence struct {
	kind    refKind
	name    string // base table name, empty for derived tables
	alias   string
	derived bool
	pos     int
	end     int
	depth   int
	scope   int // index of the FROM clause, -1 for joins

	joinType     string
	natural      bool
	condition    string
	hasCondition bool
}

// TableSet is the output of table resolution.
type TableSet struct {
	Tables       []string
	Refs         []TableRef
	Aliases      AliasMap
	FromHasComma bool

	occurrences []tableOccurrence
	firstFrom   []tableOccurrence
	firstFromAt int
}

// ResolveTables scans the FROM and JOIN clauses of a normalized statement
// and returns the distinct base tables in first-seen order together with
// the alias map.
func ResolveTables(sql string) TableSet {
	depths := depthIndex(sql)
	set := TableSet{Aliases: AliasMap{}, firstFromAt: -1}

	var occs []tableOccurrence
	for idx, fc := range sliceClauses(sql, "FROM", clauseBoundaries, true) {
		raw := sql[fc.start:fc.end]
		spans := splitSpans(raw, ",")
		if len(spans) > 1 {
			set.FromHasComma = true
		}
		if idx == 0 {
			set.firstFromAt = fc.at
		}
		for _, sp := range spans {
			occ, ok := readTableRef(sql[:fc.start+sp.end], fc.start+sp.start)
			if !ok {
				continue
			}
			occ.kind = refFrom
			occ.scope = idx
			occ.depth = depths[occ.pos]
			occs = append(occs, occ)
			if idx == 0 {
				set.firstFrom = append(set.firstFrom, occ)
			}
		}
	}
	occs = append(occs, scanJoins(sql, depths)...)
	sort.SliceStable(occs, func(i, j int) bool { return occs[i].pos < occs[j].pos })

	seen := make(map[string]bool)
	for _, occ := range occs {
		if occ.derived || occ.name == "" {
			continue
		}
		if !seen[occ.name] {
			seen[occ.name] = true
			set.Tables = append(set.Tables, occ.name)
			set.Refs = append(set.Refs, TableRef{Name: occ.name, Alias: occ.alias})
		}
		if occ.alias != "" {
			set.Aliases[occ.alias] = occ.name
		}
	}
	set.occurrences = occs
	return set
}

// scanJoins records the table reference after every join phrase along with
// its ON or USING condition.
func scanJoins(sql string, depths []int) []tableOccurrence {
	var occs []tableOccurrence
	next := 0
	walk(sql, func(i, _ int) bool {
		if i < next {
			return true
		}
		phrase, end, ok := matchAny(sql, i, joinPhrases)
		if !ok {
			return true
		}
		next = end
		occ, ok := readTableRef(sql, end)
		if !ok {
			return true
		}
		occ.kind = refJoin
		occ.scope = -1
		occ.depth = depths[i]
		occ.joinType = joinTypeOf(phrase)
		occ.natural = strings.HasPrefix(phrase, "NATURAL ")
		occ.condition, occ.hasCondition = joinCondition(sql, occ.end)
		occs = append(occs, occ)
		return true
	})
	return occs
}

// joinCondition reads the ON clause or USING column list that directly
// follows a joined table reference.
func joinCondition(sql string, from int) (string, bool) {
	k := skipSpaces(sql, from)
	if end, ok := matchPhrase(sql, k, "ON"); ok {
		stop := clauseEnd(sql, end, onBoundaries)
		return trimConnectors(sql[end:stop]), true
	}
	if end, ok := matchPhrase(sql, k, "USING"); ok {
		open := skipSpaces(sql, end)
		if open < len(sql) && sql[open] == '(' {
			if closeAt := closingParen(sql, open); closeAt > 0 {
				return "USING " + sql[open:closeAt+1], true
			}
		}
	}
	return "", false
}

// readTableRef parses `ref [[AS] alias]` starting at offset i of s. A
// parenthesised subquery or table function yields a derived reference with
// no base name.
func readTableRef(s string, i int) (tableOccurrence, bool) {
	j := skipSpaces(s, i)
	occ := tableOccurrence{pos: j}
	if j >= len(s) {
		return occ, false
	}

	if s[j] == '(' {
		closeAt := closingParen(s, j)
		if closeAt < 0 {
			return occ, false
		}
		j = closeAt + 1
		occ.derived = true
	} else {
		refStart := j
		for j < len(s) {
			c := s[j]
			if c == '"' || c == '`' {
				k := strings.IndexByte(s[j+1:], c)
				if k < 0 {
					j = len(s)
					break
				}
				j += k + 2
				continue
			}
			if isIdentByte(c) || c == '.' || c == '@' {
				j++
				continue
			}
			break
		}
		raw := s[refStart:j]
		if raw == "" {
			return occ, false
		}
		if strings.EqualFold(raw, "LATERAL") || strings.EqualFold(raw, "ONLY") {
			inner, ok := readTableRef(s, j)
			inner.pos = refStart
			return inner, ok
		}
		if aliasStoppers[strings.ToLower(raw)] || strings.EqualFold(raw, "SELECT") {
			return occ, false
		}
		if j < len(s) && s[j] == '(' {
			closeAt := closingParen(s, j)
			if closeAt < 0 {
				return occ, false
			}
			j = closeAt + 1
			occ.derived = true
		} else {
			occ.name = BaseTableName(raw)
		}
	}

	occ.end = j
	k := skipSpaces(s, j)
	word, wend := readWord(s, k)
	if strings.EqualFold(word, "AS") {
		word, wend = readWord(s, skipSpaces(s, wend))
	}
	if word != "" && !aliasStoppers[strings.ToLower(word)] {
		occ.alias = unquoteIdentifier(word)
		occ.end = wend
	}
	return occ, true
}

// readWord reads an identifier or quoted identifier starting at i.
func readWord(s string, i int) (string, int) {
	if i >= len(s) {
		return "", i
	}
	if c := s[i]; c == '"' || c == '`' {
		k := strings.IndexByte(s[i+1:], c)
		if k < 0 {
			return "", i
		}
		return s[i : i+k+2], i + k + 2
	}
	if c := s[i]; c >= '0' && c <= '9' || !isIdentByte(c) {
		return "", i
	}
	j := i
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	return s[i:j], j
}

func skipSpaces(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

// depthIndex returns the parenthesis depth in front of every byte of s.
func depthIndex(s string) []int {
	depths := make([]int, len(s)+1)
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		depths[i] = depth
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	depths[len(s)] = depth
	return depths
}

// resolveQualifier maps a column qualifier (alias, table, or schema.table)
// to a known base table, or returns "".
func resolveQualifier(qualifier string, tables []string, aliases AliasMap) string {
	parts := splitQualified(qualifier)
	base := unquoteIdentifier(parts[len(parts)-1])
	if t, ok := aliases.Resolve(base); ok {
		return t
	}
	for _, t := range tables {
		if strings.EqualFold(t, base) {
			return t
		}
	}
	return ""
}
