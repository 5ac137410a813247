package analyzer

import (
	"regexp"
	"strings"
)

// DefaultColumnLookahead is how many characters after a bare identifier
// are inspected for an operator, comma or ordering keyword. It is a
// heuristic threshold, not a grammar rule.
const DefaultColumnLookahead = 20

var (
	qualifiedRef = regexp.MustCompile(`(?:[\w$#]+|"[^"]+")(?:\.(?:[\w$#]+|"[^"]+"))+`)
	bareWord     = regexp.MustCompile(`[A-Za-z_][\w$#]*`)

	followedByOperator = regexp.MustCompile(`^\s*(?:[=<>!]|,)`)
	followedByOrdering = regexp.MustCompile(`(?i)^\s+(?:ASC|DESC|NULLS)\b`)
	followedByKeywordOp = regexp.MustCompile(`(?i)^\s+(?:IN|LIKE|BETWEEN|IS)\b`)

	orderingSuffix = regexp.MustCompile(`(?i)(?:\s+(?:ASC|DESC))?(?:\s+NULLS\s+(?:FIRST|LAST))?\s*$`)
	selectAlias    = regexp.MustCompile(`(?i)\s+AS\s+(?:"[^"]+"|[\w$#]+)$`)
	bareAlias      = regexp.MustCompile(`^((?:[\w$#]+\.)*[\w$#]+)\s+([A-Za-z_][\w$#]*)$`)
	selectPrefix   = regexp.MustCompile(`(?i)^(?:DISTINCT|ALL|UNIQUE)\s+`)
	qualifiedStar  = regexp.MustCompile(`^((?:[\w$#]+|"[^"]+")(?:\.(?:[\w$#]+|"[^"]+"))*)\.\*$`)
	simpleQualified = regexp.MustCompile(`^(?:[\w$#]+|"[^"]+")(?:\.(?:[\w$#]+|"[^"]+"))+$`)
)

// columnScanner extracts column references for one statement.
type columnScanner struct {
	tables    []string
	aliases   AliasMap
	lookahead int
}

// ExtractColumnRefs returns the column references of a clause in order of
// appearance, deduplicated by (table, column).
//
// Qualified references are resolved through the alias map or the table
// list. A bare identifier only counts as a column when it is followed,
// within the lookahead window, by a comparison operator, a comma,
// ASC/DESC/NULLS, or IN/LIKE/BETWEEN/IS.
func ExtractColumnRefs(clause string, tables []string, aliases AliasMap, lookahead int) []ColumnRef {
	s := columnScanner{tables: tables, aliases: aliases, lookahead: lookahead}
	return s.refs(clause)
}

func (s columnScanner) refs(clause string) []ColumnRef {
	var refs []ColumnRef
	seen := make(map[string]bool)
	add := func(ref ColumnRef) {
		key := ref.Table + "\x00" + ref.Column
		if seen[key] {
			return
		}
		seen[key] = true
		refs = append(refs, ref)
	}

	masked := maskLiterals(clause)
	rest := []byte(masked)
	for _, m := range qualifiedRef.FindAllStringIndex(masked, -1) {
		for k := m[0]; k < m[1]; k++ {
			rest[k] = ' '
		}
		if m[0] > 0 && (masked[m[0]-1] == ':' || isIdentByte(masked[m[0]-1])) {
			continue
		}
		if next := skipSpaces(masked, m[1]); next < len(masked) && masked[next] == '(' {
			continue
		}
		qualifier, column := splitColumn(masked[m[0]:m[1]])
		if column == "" || isLiteralOrBind(column) || numericLiteral.MatchString(qualifier) {
			continue
		}
		add(ColumnRef{Table: resolveQualifier(qualifier, s.tables, s.aliases), Column: column})
	}

	remaining := string(rest)
	for _, m := range bareWord.FindAllStringIndex(remaining, -1) {
		if m[0] > 0 {
			prev := remaining[m[0]-1]
			if isIdentByte(prev) || prev == ':' || prev == '.' {
				continue
			}
		}
		word := remaining[m[0]:m[1]]
		if isLiteralOrBind(word) {
			continue
		}
		limit := m[1] + s.lookahead
		if limit > len(remaining) {
			limit = len(remaining)
		}
		after := remaining[m[1]:limit]
		if !followedByOperator.MatchString(after) &&
			!followedByOrdering.MatchString(after) &&
			!followedByKeywordOp.MatchString(after) {
			continue
		}
		add(ColumnRef{Table: s.soleTable(), Column: word})
	}
	return refs
}

// listItem handles one item of a SELECT, GROUP BY, ORDER BY or PARTITION BY
// list. Simple column items are taken whole; expressions fall back to the
// clause scan.
func (s columnScanner) listItem(item string) []ColumnRef {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil
	}
	if simpleQualified.MatchString(item) {
		qualifier, column := splitColumn(item)
		if isLiteralOrBind(column) {
			return nil
		}
		return []ColumnRef{{Table: resolveQualifier(qualifier, s.tables, s.aliases), Column: column}}
	}
	if isIdentifier(item) {
		if isLiteralOrBind(item) {
			return nil
		}
		return []ColumnRef{{Table: s.soleTable(), Column: item}}
	}
	return s.refs(item)
}

func (s columnScanner) soleTable() string {
	if len(s.tables) == 1 {
		return s.tables[0]
	}
	return ""
}

// selectItems returns the column references of a SELECT list. A bare *
// marks every table, alias.* marks one.
func (s columnScanner) selectItems(list string) (refs []ColumnRef, starTables []string, starAll bool) {
	list = selectPrefix.ReplaceAllString(strings.TrimSpace(list), "")
	for _, item := range SplitTopLevel(list, ",") {
		item = strings.TrimSpace(selectAlias.ReplaceAllString(item, ""))
		if item == StarColumn {
			starAll = true
			continue
		}
		if m := qualifiedStar.FindStringSubmatch(item); m != nil {
			if t := resolveQualifier(m[1], s.tables, s.aliases); t != "" {
				starTables = append(starTables, t)
			} else {
				starAll = true
			}
			continue
		}
		if m := bareAlias.FindStringSubmatch(item); m != nil && !isKeyword(m[2]) {
			item = m[1]
		}
		refs = append(refs, s.listItem(item)...)
	}
	return refs, starTables, starAll
}

// orderedItems returns the column references of an ORDER BY, GROUP BY or
// PARTITION BY list.
func (s columnScanner) orderedItems(list string) []ColumnRef {
	var refs []ColumnRef
	for _, item := range SplitTopLevel(list, ",") {
		item = orderingSuffix.ReplaceAllString(item, "")
		refs = append(refs, s.listItem(item)...)
	}
	return refs
}

// splitColumn splits a dotted reference into its qualifier and column.
func splitColumn(ref string) (string, string) {
	parts := splitQualified(ref)
	if len(parts) < 2 {
		return "", unquoteIdentifier(ref)
	}
	return strings.Join(parts[:len(parts)-1], "."), unquoteIdentifier(parts[len(parts)-1])
}

// ExtractColumns gathers the columns used by a statement from its SELECT
// lists, predicates, GROUP BY, HAVING, ORDER BY and analytic PARTITION BY
// clauses. Every table gets an entry even when no column was seen.
// Unattributed references fan out to all tables.
func ExtractColumns(sql string, ts TableSet, lookahead int) ColumnsByTable {
	byTable := make(ColumnsByTable, len(ts.Tables))
	for _, t := range ts.Tables {
		byTable[t] = ColumnSet{}
	}
	record := func(refs []ColumnRef) {
		for _, ref := range refs {
			if ref.Table != "" {
				if set, ok := byTable[ref.Table]; ok {
					set[ref.Column] = struct{}{}
				}
				continue
			}
			for _, set := range byTable {
				set[ref.Column] = struct{}{}
			}
		}
	}

	s := columnScanner{tables: ts.Tables, aliases: ts.Aliases, lookahead: lookahead}
	for _, c := range sliceClauses(sql, "SELECT", selectBoundaries, false) {
		refs, starTables, starAll := s.selectItems(c.text)
		record(refs)
		for _, t := range starTables {
			byTable[t][StarColumn] = struct{}{}
		}
		if starAll {
			for _, set := range byTable {
				set[StarColumn] = struct{}{}
			}
		}
	}
	for _, c := range predicateClauses(sql) {
		record(s.refs(c.text))
	}
	for _, kw := range []string{"GROUP BY", "ORDER BY", "PARTITION BY"} {
		for _, c := range sliceClauses(sql, kw, listBoundaries, false) {
			record(s.orderedItems(c.text))
		}
	}
	return byTable
}
