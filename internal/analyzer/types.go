package analyzer

import (
	"sort"
	"strings"
)

// ConditionType tells a filter predicate from a join predicate.
type ConditionType int

const (
	ConditionFilter ConditionType = iota
	ConditionJoin
)

func (t ConditionType) String() string {
	switch t {
	case ConditionFilter:
		return "FILTER"
	case ConditionJoin:
		return "JOIN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the type by name in JSON and YAML output.
func (t ConditionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Join types reported by the join extractor.
const (
	JoinInner         = "INNER JOIN"
	JoinLeft          = "LEFT JOIN"
	JoinRight         = "RIGHT JOIN"
	JoinFull          = "FULL JOIN"
	JoinCross         = "CROSS JOIN"
	JoinPlain         = "JOIN"
	JoinLegacyOuter   = "OUTER JOIN (+)"
	JoinImplicitInner = "[IMPLICIT] INNER JOIN"
)

// DegradedOperator marks a predicate fragment with no recognised operator.
const DegradedOperator = "—"

// TableRef is one table named in FROM or JOIN.
type TableRef struct {
	Name  string `json:"name" yaml:"name"`
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
}

// AliasMap maps an alias to the base table it stands for.
type AliasMap map[string]string

// Resolve looks alias up, falling back to a case-insensitive match.
func (m AliasMap) Resolve(alias string) (string, bool) {
	if t, ok := m[alias]; ok {
		return t, true
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(k, alias) {
			return m[k], true
		}
	}
	return "", false
}

// ColumnRef is a column reference. Table is empty when the reference could
// not be attributed to a single table.
type ColumnRef struct {
	Table  string `json:"table,omitempty" yaml:"table,omitempty"`
	Column string `json:"column" yaml:"column"`
}

// StarColumn is recorded for a table read through SELECT *.
const StarColumn = "*"

// ColumnSet is a set of column names.
type ColumnSet map[string]struct{}

// ColumnsByTable holds the columns seen per table.
type ColumnsByTable map[string]ColumnSet

// Sorted returns the columns recorded for table in lexical order.
func (c ColumnsByTable) Sorted(table string) []string {
	set := c[table]
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Unique returns every column seen on any table, sorted.
func (c ColumnsByTable) Unique() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, set := range c {
		for col := range set {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// Has reports whether column was recorded for table.
func (c ColumnsByTable) Has(table, column string) bool {
	_, ok := c[table][column]
	return ok
}

// Condition is one predicate of a WHERE, HAVING or ON clause.
type Condition struct {
	Left     string        `json:"left" yaml:"left"`
	Operator string        `json:"operator" yaml:"operator"`
	Right    string        `json:"right" yaml:"right"`
	Type     ConditionType `json:"type" yaml:"type"`
}

// Join is a relationship between two tables.
type Join struct {
	JoinType   string `json:"join_type" yaml:"join_type"`
	LeftTable  string `json:"left_table" yaml:"left_table"`
	RightTable string `json:"right_table" yaml:"right_table"`
	LeftAlias  string `json:"left_alias,omitempty" yaml:"left_alias,omitempty"`
	RightAlias string `json:"right_alias,omitempty" yaml:"right_alias,omitempty"`
	Condition  string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Result is the structural report of one statement.
type Result struct {
	// SQL is the normalized statement the report was computed from.
	SQL          string
	Tables       []string
	Refs         []TableRef
	Aliases      AliasMap
	FromHasComma bool
	Columns      ColumnsByTable
	Conditions   []Condition
	Joins        []Join
}

// HasTable reports whether name is one of the tables of the result.
func (r *Result) HasTable(name string) bool {
	for _, t := range r.Tables {
		if t == name {
			return true
		}
	}
	return false
}
