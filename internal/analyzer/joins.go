package analyzer

import (
	"regexp"
	"strings"
)

var implicitJoinPredicate = regexp.MustCompile(`^((?:[\w$#]+\.)*[\w$#]+)\.([\w$#]+)\s*(=|!=|<>|<=|>=|<|>)\s*((?:[\w$#]+\.)*[\w$#]+)\.([\w$#]+)$`)

// joinExtractor detects joins in tiers; the first tier that finds anything
// wins and later tiers are not consulted.
type joinExtractor struct {
	sql string
	ts  TableSet
}

// ExtractJoins returns the joins of a statement. ANSI joins are tried
// first, then a token-level ANSI fallback, then legacy Oracle (+) outer
// joins, then implicit joins inferred from comma-separated FROM lists.
func ExtractJoins(sql string, ts TableSet) []Join {
	e := joinExtractor{sql: sql, ts: ts}
	if joins := e.chained(); len(joins) > 0 {
		return joins
	}
	if joins := e.adjacent(); len(joins) > 0 {
		return joins
	}
	if strings.Contains(sql, "+") {
		if joins := e.legacyOuter(); len(joins) > 0 {
			return joins
		}
	}
	if ts.FromHasComma {
		return e.implicit()
	}
	return nil
}

// chained reports every `JOIN table ON ...` in source order. The left side
// is the table referenced just before it at the same nesting level, so in
// A JOIN B ON ... JOIN C ON ... the second join is B to C.
func (e joinExtractor) chained() []Join {
	var joins []Join
	occs := e.ts.occurrences
	for idx, occ := range occs {
		if occ.kind != refJoin || occ.derived {
			continue
		}
		if !occ.hasCondition && occ.joinType != JoinCross && !occ.natural {
			continue
		}
		left, leftAlias := e.previous(occs, idx)
		if left == "" {
			continue
		}
		joins = append(joins, Join{
			JoinType:   occ.joinType,
			LeftTable:  left,
			RightTable: occ.name,
			LeftAlias:  leftAlias,
			RightAlias: occ.alias,
			Condition:  occ.condition,
		})
	}
	return joins
}

// previous finds the left-hand table for the join at occs[idx].
func (e joinExtractor) previous(occs []tableOccurrence, idx int) (string, string) {
	depth := occs[idx].depth
	for k := idx - 1; k >= 0; k-- {
		prev := occs[k]
		if prev.depth != depth {
			continue
		}
		if prev.derived || prev.name == "" {
			break
		}
		return prev.name, prev.alias
	}
	if len(e.ts.Tables) > 0 {
		return e.ts.Tables[0], ""
	}
	return "", ""
}

// adjacent is the broad token-level fallback for
// `FROM|JOIN left [alias] <join> right [alias] ON`. It ignores nesting and
// so still finds pairs when unbalanced parentheses defeat the clause
// boundaries.
func (e joinExtractor) adjacent() []Join {
	toks := tokenize(e.sql)
	var joins []Join
	for i := 0; i < len(toks); i++ {
		if !toks[i].is("FROM") && !toks[i].is("JOIN") {
			continue
		}
		j := i + 1
		left, leftAlias, j, ok := e.tokenRef(toks, j)
		if !ok {
			continue
		}
		start := j
		for j < len(toks) && (toks[j].is("NATURAL") || toks[j].is("INNER") || toks[j].is("LEFT") ||
			toks[j].is("RIGHT") || toks[j].is("FULL") || toks[j].is("CROSS") || toks[j].is("OUTER")) {
			j++
		}
		if j >= len(toks) || !toks[j].is("JOIN") {
			continue
		}
		words := make([]string, 0, j-start+1)
		for _, t := range toks[start : j+1] {
			words = append(words, strings.ToUpper(t.text))
		}
		right, rightAlias, k, ok := e.tokenRef(toks, j+1)
		if !ok || k >= len(toks) || !toks[k].is("ON") {
			continue
		}
		onEnd := toks[k].end
		stop := clauseEnd(e.sql, onEnd, onBoundaries)
		joins = append(joins, Join{
			JoinType:   joinTypeOf(strings.Join(words, " ")),
			LeftTable:  left,
			RightTable: right,
			LeftAlias:  leftAlias,
			RightAlias: rightAlias,
			Condition:  trimConnectors(e.sql[onEnd:stop]),
		})
		i = j - 1
	}
	return joins
}

// tokenRef reads `table [[AS] alias]` from tokens starting at j; the table
// must be one of the resolved tables.
func (e joinExtractor) tokenRef(toks []token, j int) (string, string, int, bool) {
	if j >= len(toks) {
		return "", "", j, false
	}
	name := e.known(BaseTableName(toks[j].text))
	if name == "" {
		return "", "", j, false
	}
	j++
	alias := ""
	if j < len(toks) && toks[j].is("AS") {
		j++
	}
	if j < len(toks) && isIdentifier(toks[j].text) && !aliasStoppers[strings.ToLower(toks[j].text)] {
		alias = toks[j].text
		j++
	}
	return name, alias, j, true
}

func (e joinExtractor) known(name string) string {
	for _, t := range e.ts.Tables {
		if strings.EqualFold(t, name) {
			return t
		}
	}
	return ""
}

// legacyOuter reads Oracle (+) predicates from the first WHERE clause of
// a statement whose FROM is a comma-separated table list.
func (e joinExtractor) legacyOuter() []Join {
	from := e.fromTables()
	where, ok := e.mainWhere()
	if !ok || len(from) == 0 {
		return nil
	}
	var joins []Join
	for _, frag := range splitKeywords(where.text, "AND") {
		if !outerJoinMarker.MatchString(frag) {
			continue
		}
		m, ok := findOperator(frag)
		if !ok {
			continue
		}
		leftSide := strings.TrimSpace(outerJoinMarker.ReplaceAllString(frag[:m.start], ""))
		rightSide := strings.TrimSpace(outerJoinMarker.ReplaceAllString(frag[m.end:], ""))
		lq, lt := e.operandTable(leftSide, from)
		rq, rt := e.operandTable(rightSide, from)
		if lt == "" {
			lt, lq = from[0], ""
		}
		if rt == "" {
			if len(from) < 2 {
				continue
			}
			rt, rq = from[1], ""
		}
		joins = append(joins, Join{
			JoinType:   JoinLegacyOuter,
			LeftTable:  lt,
			RightTable: rt,
			LeftAlias:  aliasOnly(lq, lt),
			RightAlias: aliasOnly(rq, rt),
			Condition:  frag,
		})
	}
	return joins
}

// implicit synthesises inner joins from `a.col <op> b.col` predicates
// linking two different tables.
func (e joinExtractor) implicit() []Join {
	where, ok := e.mainWhere()
	if !ok {
		return nil
	}
	var joins []Join
	for _, frag := range SplitPredicates(where.text) {
		m := implicitJoinPredicate.FindStringSubmatch(frag)
		if m == nil {
			continue
		}
		lt := resolveQualifier(m[1], e.ts.Tables, e.ts.Aliases)
		rt := resolveQualifier(m[4], e.ts.Tables, e.ts.Aliases)
		if lt == "" || rt == "" || lt == rt {
			continue
		}
		joins = append(joins, Join{
			JoinType:   JoinImplicitInner,
			LeftTable:  lt,
			RightTable: rt,
			LeftAlias:  m[1],
			RightAlias: m[4],
			Condition:  frag,
		})
	}
	return joins
}

// fromTables lists the tables of the first FROM clause.
func (e joinExtractor) fromTables() []string {
	var names []string
	for _, occ := range e.ts.firstFrom {
		if occ.name != "" {
			names = append(names, occ.name)
		}
	}
	return names
}

// mainWhere is the first WHERE clause after the first FROM.
func (e joinExtractor) mainWhere() (clause, bool) {
	if e.ts.firstFromAt < 0 {
		return clause{}, false
	}
	return firstClause(e.sql, "WHERE", clauseBoundaries, e.ts.firstFromAt)
}

// operandTable resolves a qualified operand and returns its qualifier and
// table when the table is one of candidates.
func (e joinExtractor) operandTable(operand string, candidates []string) (string, string) {
	if !qualifiedColumn.MatchString(operand) {
		return "", ""
	}
	qualifier, _ := splitColumn(operand)
	t := resolveQualifier(qualifier, e.ts.Tables, e.ts.Aliases)
	for _, c := range candidates {
		if c == t {
			return qualifier, t
		}
	}
	return "", ""
}

func aliasOnly(qualifier, table string) string {
	if qualifier == "" || strings.EqualFold(qualifier, table) {
		return ""
	}
	return qualifier
}

type token struct {
	text       string
	start, end int
}

func (t token) is(word string) bool {
	return strings.EqualFold(t.text, word)
}

var tokenPattern = regexp.MustCompile(`"[^"]*"|[\w$#.@"]+|\S`)

// tokenize splits sql into words and single punctuation characters.
func tokenize(sql string) []token {
	locs := tokenPattern.FindAllStringIndex(sql, -1)
	toks := make([]token, 0, len(locs))
	for _, l := range locs {
		toks = append(toks, token{text: sql[l[0]:l[1]], start: l[0], end: l[1]})
	}
	return toks
}
