package lint

import (
	"regexp"
	"strings"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/metadata"
)

// match carries the template values of one hit
type match map[string]interface{}

type detector func(in Input) []match

var (
	consecutiveCommas = regexp.MustCompile(`,\s*,`)
	selectKeyword     = regexp.MustCompile(`(?i)\bSELECT\b`)
	fromKeyword       = regexp.MustCompile(`(?i)\bFROM\b`)
	notInSubquery     = regexp.MustCompile(`(?i)\bNOT\s+IN\s*\(\s*SELECT\b`)
	selectDistinct    = regexp.MustCompile(`(?i)\bSELECT\s+(?:DISTINCT|UNIQUE)\b`)
	functionCall      = regexp.MustCompile(`^([A-Za-z_][\w$#.]*)\s*\((.*)\)$`)
	equalityOperand   = regexp.MustCompile(`^((?:[\w$#]+\.)*[\w$#]+)\s*=\s*\S`)
)

var detectors = map[string]detector{
	"UNBALANCED_PARENTHESES": unbalancedParentheses,
	"UNBALANCED_QUOTES":      unbalancedQuotes,
	"CONSECUTIVE_COMMAS":     consecutiveCommasFound,
	"SELECT_WITHOUT_FROM":    selectWithoutFrom,
	"SELECT_STAR":            selectStar,
	"LEGACY_OUTER_JOIN":      joinsOfType(analyzer.JoinLegacyOuter),
	"IMPLICIT_JOIN":          joinsOfType(analyzer.JoinImplicitInner),
	"CARTESIAN_PRODUCT":      cartesianProduct,
	"LEADING_WILDCARD_LIKE":  leadingWildcardLike,
	"FUNCTION_ON_COLUMN":     functionOnColumn,
	"NOT_IN_SUBQUERY":        notInWithSubquery,
	"ROWNUM_WITH_ORDER_BY":   rownumWithOrderBy,
	"DML_WITHOUT_WHERE":      dmlWithoutWhere,
	"OR_CHAIN":               orChain,
	"DISTINCT_WITH_JOIN":     distinctWithJoin,
}

func once(ok bool, m match) []match {
	if !ok {
		return nil
	}
	if m == nil {
		m = match{}
	}
	return []match{m}
}

func unbalancedParentheses(in Input) []match {
	open := strings.Count(in.SQL, "(")
	closing := strings.Count(in.SQL, ")")
	return once(open != closing, match{"open": open, "close": closing})
}

func unbalancedQuotes(in Input) []match {
	var out []match
	if strings.Count(in.SQL, "'")%2 != 0 {
		out = append(out, match{"kind": "single"})
	}
	if strings.Count(in.SQL, `"`)%2 != 0 {
		out = append(out, match{"kind": "double"})
	}
	return out
}

func consecutiveCommasFound(in Input) []match {
	return once(consecutiveCommas.MatchString(in.SQL), nil)
}

func selectWithoutFrom(in Input) []match {
	return once(selectKeyword.MatchString(in.SQL) && !fromKeyword.MatchString(in.SQL), nil)
}

func selectStar(in Input) []match {
	var tables []string
	for _, t := range in.Result.Tables {
		if in.Result.Columns.Has(t, analyzer.StarColumn) {
			tables = append(tables, t)
		}
	}
	return once(len(tables) > 0, match{"starTables": strings.Join(tables, ", ")})
}

func joinsOfType(joinType string) detector {
	return func(in Input) []match {
		var out []match
		for _, j := range in.Result.Joins {
			if j.JoinType != joinType {
				continue
			}
			out = append(out, match{"left": j.LeftTable, "right": j.RightTable, "condition": j.Condition})
		}
		return out
	}
}

// cartesianProduct flags comma-separated FROM lists for which no join of
// any kind was detected
func cartesianProduct(in Input) []match {
	r := in.Result
	if !r.FromHasComma || len(r.Tables) < 2 || len(r.Joins) > 0 {
		return nil
	}
	for _, c := range r.Conditions {
		if c.Type == analyzer.ConditionJoin {
			return nil
		}
	}
	return once(true, match{"tableCount": len(r.Tables), "tables": strings.Join(r.Tables, ", ")})
}

func leadingWildcardLike(in Input) []match {
	var out []match
	for _, c := range in.Result.Conditions {
		if c.Operator != "LIKE" {
			continue
		}
		pattern := strings.TrimSpace(c.Right)
		if strings.HasPrefix(pattern, "'%") || strings.HasPrefix(pattern, "'_") {
			out = append(out, match{"column": c.Left, "pattern": pattern})
		}
	}
	return out
}

func functionOnColumn(in Input) []match {
	var out []match
	for _, c := range in.Result.Conditions {
		if c.Type != analyzer.ConditionFilter || c.Operator == analyzer.DegradedOperator {
			continue
		}
		m := functionCall.FindStringSubmatch(strings.TrimSpace(c.Left))
		if m == nil || strings.TrimSpace(m[2]) == "" {
			continue
		}
		out = append(out, match{"function": strings.ToUpper(m[1]), "expression": c.Left})
	}
	return out
}

func notInWithSubquery(in Input) []match {
	return once(notInSubquery.MatchString(in.SQL), nil)
}

// rownumWithOrderBy flags ROWNUM and ORDER BY at the same nesting level
func rownumWithOrderBy(in Input) []match {
	orderDepths := map[int]bool{}
	for _, d := range analyzer.KeywordDepths(in.SQL, "ORDER BY") {
		orderDepths[d] = true
	}
	for _, d := range analyzer.KeywordDepths(in.SQL, "ROWNUM") {
		if orderDepths[d] {
			return once(true, nil)
		}
	}
	return nil
}

func dmlWithoutWhere(in Input) []match {
	s := in.Stats
	dml := s.QueryType == metadata.QueryUpdate || s.QueryType == metadata.QueryDelete
	return once(dml && !s.HasWhere, nil)
}

// orChain flags three or more OR branches comparing the same column with =
// in the WHERE clause or in one of its parenthesized groups
func orChain(in Input) []match {
	where, ok := analyzer.WhereClause(in.SQL)
	if !ok {
		return nil
	}
	groups := []string{where}
	for _, frag := range analyzer.SplitPredicates(where) {
		if inner, ok := analyzer.UnwrapParens(frag); ok {
			groups = append(groups, inner)
		}
	}

	var out []match
	seen := map[string]bool{}
	for _, group := range groups {
		branches := analyzer.SplitDisjuncts(group)
		if len(branches) < 3 {
			continue
		}
		counts := map[string]int{}
		var order []string
		for _, b := range branches {
			m := equalityOperand.FindStringSubmatch(strings.TrimSpace(b))
			if m == nil {
				continue
			}
			col := strings.ToLower(m[1])
			if counts[col] == 0 {
				order = append(order, m[1])
			}
			counts[col]++
		}
		for _, col := range order {
			key := strings.ToLower(col)
			if counts[key] >= 3 && !seen[key] {
				seen[key] = true
				out = append(out, match{"column": col, "count": counts[key]})
			}
		}
	}
	return out
}

func distinctWithJoin(in Input) []match {
	n := len(in.Result.Joins)
	return once(n > 0 && selectDistinct.MatchString(in.SQL), match{"joinCount": n})
}
