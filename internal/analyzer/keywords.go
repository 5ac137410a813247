package analyzer

import (
	"regexp"
	"strings"
)

// sqlKeywords are words never reported as column names, operands or aliases.
// Oracle pseudo-columns and niladic functions are included because they
// show up in predicates exactly like columns do.
var sqlKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "join": true, "inner": true,
	"left": true, "right": true, "full": true, "cross": true, "natural": true,
	"outer": true, "on": true, "using": true, "and": true, "or": true, "not": true,
	"group": true, "by": true, "having": true, "order": true, "asc": true,
	"desc": true, "nulls": true, "first": true, "last": true, "fetch": true,
	"next": true, "rows": true, "row": true, "only": true, "offset": true,
	"limit": true, "in": true, "exists": true, "between": true, "like": true,
	"is": true, "null": true, "as": true, "case": true, "when": true,
	"then": true, "else": true, "end": true, "count": true, "sum": true,
	"avg": true, "max": true, "min": true, "distinct": true, "unique": true,
	"all": true, "any": true, "some": true, "with": true, "union": true,
	"intersect": true, "minus": true, "except": true, "insert": true,
	"update": true, "delete": true, "merge": true, "values": true, "set": true,
	"into": true, "over": true, "partition": true, "range": true,
	"preceding": true, "following": true, "unbounded": true, "current": true,
	"connect": true, "start": true, "prior": true, "level": true,
	"rownum": true, "rowid": true, "sysdate": true, "systimestamp": true,
	"current_date": true, "current_timestamp": true, "nextval": true,
	"currval": true, "dual": true, "true": true, "false": true, "escape": true,
	"for": true, "of": true, "nowait": true, "window": true, "qualify": true,
	"returning": true, "lateral": true, "apply": true, "interval": true,
	"date": true, "timestamp": true,
}

// aliasStoppers are words that terminate a table reference. When one of
// them follows a table name it is the next clause, not an alias.
var aliasStoppers = map[string]bool{
	"join": true, "where": true, "on": true, "group": true, "order": true,
	"having": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "outer": true, "using": true,
	"union": true, "intersect": true, "minus": true, "except": true,
	"connect": true, "start": true, "fetch": true, "limit": true,
	"offset": true, "for": true, "window": true, "returning": true,
	"set": true, "values": true, "select": true, "when": true, "partition": true,
	"sample": true, "pivot": true, "unpivot": true, "model": true,
	"qualify": true, "as": true,
}

var (
	numericLiteral = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	quotedLiteral  = regexp.MustCompile(`^['"].*['"]$`)
	bindVariable   = regexp.MustCompile(`^:\w+$`)
)

// isKeyword reports whether word is a reserved SQL word (case-insensitive).
func isKeyword(word string) bool {
	return sqlKeywords[strings.ToLower(word)]
}

// isLiteralOrBind reports whether token is a literal, a bind variable, a
// keyword, or empty. Such tokens are never columns or predicate operands.
func isLiteralOrBind(token string) bool {
	t := strings.TrimSpace(token)
	if t == "" {
		return true
	}
	return numericLiteral.MatchString(t) ||
		quotedLiteral.MatchString(t) ||
		bindVariable.MatchString(t) ||
		isKeyword(t)
}

// isIdentifier reports whether word is a plain unquoted identifier.
func isIdentifier(word string) bool {
	if word == "" {
		return false
	}
	first := word[0]
	if first >= '0' && first <= '9' {
		return false
	}
	for i := 0; i < len(word); i++ {
		if !isIdentByte(word[i]) {
			return false
		}
	}
	return true
}

// unquoteIdentifier removes surrounding double quotes or backticks.
func unquoteIdentifier(identifier string) string {
	if len(identifier) >= 2 {
		first, last := identifier[0], identifier[len(identifier)-1]
		if (first == '"' && last == '"') || (first == '`' && last == '`') {
			unquoted := identifier[1 : len(identifier)-1]
			return strings.ReplaceAll(unquoted, string(first)+string(first), string(first))
		}
	}
	return identifier
}

// BaseTableName strips schema qualification, quoting and any database link
// suffix from a table reference: `hr."Employees"@remote` becomes Employees.
func BaseTableName(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if at := strings.LastIndexByte(trimmed, '@'); at > 0 && !strings.ContainsAny(trimmed[at:], `"`+"`") {
		trimmed = trimmed[:at]
	}
	parts := splitQualified(trimmed)
	if len(parts) == 0 {
		return ""
	}
	return unquoteIdentifier(parts[len(parts)-1])
}

// splitQualified splits a dotted name on dots that are outside quotes.
func splitQualified(name string) []string {
	var parts []string
	start := 0
	var quote byte
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '`':
			quote = c
		case c == '.':
			parts = append(parts, name[start:i])
			start = i + 1
		}
	}
	return append(parts, name[start:])
}
