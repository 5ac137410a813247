package analyzer

import (
	"regexp"
	"strings"
)

const (
	// DefaultConditionDisplayLimit caps the right-hand side of a condition
	// for display. The predicate itself is not altered.
	DefaultConditionDisplayLimit = 80

	// DefaultDegradedLeftLimit caps the fragment text shown for a predicate
	// without a recognised operator.
	DefaultDegradedLeftLimit = 40
)

// symbolicOperators are tried in this order at each offset so that a
// two-character operator wins over its one-character prefix.
var symbolicOperators = []string{"!=", "<>", "<=", ">=", "=", "<", ">"}

// keywordOperators are matched on word boundaries, case-insensitively.
var keywordOperators = []string{"IS NOT NULL", "IS NULL", "IN", "LIKE", "BETWEEN"}

var (
	outerJoinMarker = regexp.MustCompile(`\(\s*\+\s*\)`)
	qualifiedColumn = regexp.MustCompile(`^(?:[\w$#]+|"[^"]+")(?:\.(?:[\w$#]+|"[^"]+"))+$`)
)

// operatorMatch locates the operator of a predicate fragment.
type operatorMatch struct {
	op         string
	start, end int
	keyword    bool
}

// findOperator returns the earliest top-level operator of a fragment.
func findOperator(frag string) (operatorMatch, bool) {
	var found operatorMatch
	ok := false
	walk(frag, func(i, depth int) bool {
		if depth != 0 {
			return true
		}
		for _, op := range symbolicOperators {
			if strings.HasPrefix(frag[i:], op) {
				found = operatorMatch{op: op, start: i, end: i + len(op)}
				ok = true
				return false
			}
		}
		if kw, end, hit := matchAny(frag, i, keywordOperators); hit {
			found = operatorMatch{op: kw, start: i, end: end, keyword: true}
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// conditionParser turns predicate clauses into conditions.
type conditionParser struct {
	tables       []string
	aliases      AliasMap
	displayLimit int
	degradeLimit int
}

// ExtractConditions returns the predicates of every WHERE, HAVING and ON
// clause in source order. WHERE and HAVING predicates are filters unless
// both sides are qualified columns of two different tables; ON predicates
// are always joins.
func ExtractConditions(sql string, ts TableSet, displayLimit, degradeLimit int) []Condition {
	p := conditionParser{
		tables:       ts.Tables,
		aliases:      ts.Aliases,
		displayLimit: displayLimit,
		degradeLimit: degradeLimit,
	}
	var conds []Condition
	for _, c := range predicateClauses(sql) {
		typ := ConditionFilter
		if c.keyword == "ON" {
			typ = ConditionJoin
		}
		conds = append(conds, p.clause(c.text, typ)...)
	}
	return conds
}

func (p conditionParser) clause(text string, typ ConditionType) []Condition {
	var conds []Condition
	for _, frag := range SplitPredicates(text) {
		if inner, ok := UnwrapParens(frag); ok {
			conds = append(conds, p.clause(inner, typ)...)
			continue
		}
		if c, ok := p.predicate(frag, typ); ok {
			conds = append(conds, c)
		}
	}
	return conds
}

// predicate parses one fragment. A fragment whose left operand is a
// literal or bind variable yields nothing.
func (p conditionParser) predicate(frag string, typ ConditionType) (Condition, bool) {
	m, ok := findOperator(frag)
	if !ok {
		return Condition{
			Left:     truncateRunes(frag, p.degradeLimit),
			Operator: DegradedOperator,
			Type:     typ,
		}, true
	}
	left := strings.TrimSpace(frag[:m.start])
	if isLiteralOrBind(left) {
		return Condition{}, false
	}
	right := strings.TrimSpace(frag[m.end:])
	if !m.keyword {
		if parts := SplitPredicates(right); len(parts) > 0 {
			right = parts[0]
		}
	}
	if typ == ConditionFilter && p.crossTable(left, right) {
		typ = ConditionJoin
	}
	return Condition{
		Left:     left,
		Operator: m.op,
		Right:    truncateRunes(right, p.displayLimit),
		Type:     typ,
	}, true
}

// crossTable reports whether both operands are qualified columns that
// resolve to two different tables.
func (p conditionParser) crossTable(left, right string) bool {
	lt := p.columnTable(left)
	rt := p.columnTable(right)
	return lt != "" && rt != "" && lt != rt
}

// columnTable resolves a qualified column operand (an Oracle (+) marker is
// ignored) to its table.
func (p conditionParser) columnTable(operand string) string {
	operand = strings.TrimSpace(outerJoinMarker.ReplaceAllString(operand, ""))
	if !qualifiedColumn.MatchString(operand) {
		return ""
	}
	qualifier, _ := splitColumn(operand)
	return resolveQualifier(qualifier, p.tables, p.aliases)
}
