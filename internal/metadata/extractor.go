package metadata

import (
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/parser"
)

// Query types reported in Stats.QueryType
const (
	QuerySelect  = "SELECT"
	QueryWith    = "WITH"
	QueryInsert  = "INSERT"
	QueryUpdate  = "UPDATE"
	QueryDelete  = "DELETE"
	QueryMerge   = "MERGE"
	QueryCreate  = "CREATE"
	QueryAlter   = "ALTER"
	QueryDrop    = "DROP"
	QueryUnknown = "UNKNOWN"
)

var (
	leadingKeyword = regexp.MustCompile(`(?i)^\s*\(*\s*([A-Za-z]+)`)
	insertTarget   = regexp.MustCompile(`(?i)\bINSERT\s+(?:ALL\s+)?INTO\s+([\w$#."@]+)`)
	updateTarget   = regexp.MustCompile(`(?i)^\s*UPDATE\s+([\w$#."@]+)`)
	deleteTarget   = regexp.MustCompile(`(?i)^\s*DELETE\s+(?:FROM\s+)?([\w$#."@]+)`)
	mergeTarget    = regexp.MustCompile(`(?i)^\s*MERGE\s+INTO\s+([\w$#."@]+)`)
	joinKeyword    = regexp.MustCompile(`(?i)\bJOIN\b`)
	subqueryStart  = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	cteDefinition  = regexp.MustCompile(`(?i)(?:\bWITH|,)\s*(?:RECURSIVE\s+)?[\w$#"]+\s*(?:\([^)]*\)\s*)?AS\s*\(`)
)

// Stats summarizes one statement
type Stats struct {
	QueryType       string         `json:"query_type" yaml:"query_type"`
	Tables          []string       `json:"tables" yaml:"tables"`
	Targets         []string       `json:"targets,omitempty" yaml:"targets,omitempty"`
	ColumnCounts    map[string]int `json:"column_counts" yaml:"column_counts"`
	JoinKeywords    int            `json:"join_keywords" yaml:"join_keywords"`
	DetectedJoins   int            `json:"detected_joins" yaml:"detected_joins"`
	Subqueries      int            `json:"subqueries" yaml:"subqueries"`
	CTEs            int            `json:"ctes" yaml:"ctes"`
	HasWhere        bool           `json:"has_where" yaml:"has_where"`
	WhereConditions int            `json:"where_conditions" yaml:"where_conditions"`
	Parsed          bool           `json:"parsed" yaml:"parsed"`
	ParseError      string         `json:"parse_error,omitempty" yaml:"parse_error,omitempty"`
	Fingerprint     string         `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// TemplateData returns the values lint message templates can refer to
func (s *Stats) TemplateData() map[string]interface{} {
	data := map[string]interface{}{
		"queryType":       s.QueryType,
		"tables":          strings.Join(s.Tables, ", "),
		"tableCount":      len(s.Tables),
		"joinCount":       s.DetectedJoins,
		"subqueryCount":   s.Subqueries,
		"cteCount":        s.CTEs,
		"whereConditions": s.WhereConditions,
	}
	switch {
	case len(s.Targets) > 0:
		data["tableName"] = s.Targets[0]
	case len(s.Tables) > 0:
		data["tableName"] = s.Tables[0]
	}
	return data
}

// Extractor derives statement statistics from the parser output and the
// structural analysis
type Extractor interface {
	Extract(stmt parser.ParsedStatement, result *analyzer.Result) *Stats
}

// extractor implements the Extractor interface
type extractor struct{}

// NewExtractor creates a new metadata extractor
func NewExtractor() Extractor {
	return &extractor{}
}

// Extract prefers the PostgreSQL syntax tree for query type, targets, CTEs
// and WHERE presence, and falls back to text patterns when the statement
// did not parse.
func (e *extractor) Extract(stmt parser.ParsedStatement, result *analyzer.Result) *Stats {
	body := stmt.Body
	if body == "" {
		body = stmt.SQL
	}
	body = analyzer.Normalize(body)

	stats := &Stats{
		ColumnCounts: map[string]int{},
		Parsed:       stmt.Parsed(),
		ParseError:   stmt.ParseError,
		Fingerprint:  stmt.Fingerprint,
		JoinKeywords: len(joinKeyword.FindAllStringIndex(body, -1)),
		Subqueries:   len(subqueryStart.FindAllStringIndex(body, -1)),
	}

	where, hasWhere := analyzer.WhereClause(body)
	stats.HasWhere = hasWhere
	if hasWhere {
		stats.WhereConditions = len(analyzer.SplitPredicates(where))
	}

	if node := firstNode(stmt.AST); node != nil {
		e.fromAST(node, stats)
	} else {
		e.fromText(body, stats)
	}

	if result != nil {
		stats.Tables = append(stats.Tables, result.Tables...)
		stats.DetectedJoins = len(result.Joins)
		for _, t := range result.Tables {
			stats.ColumnCounts[t] = len(result.Columns[t])
		}
	}
	for _, target := range stats.Targets {
		if !contains(stats.Tables, target) {
			stats.Tables = append(stats.Tables, target)
		}
	}
	return stats
}

func firstNode(ast *pg_query.ParseResult) *pg_query.Node {
	if ast == nil || len(ast.Stmts) == 0 {
		return nil
	}
	return ast.Stmts[0].Stmt
}

// fromAST fills the statement kind, write targets, CTE count and WHERE
// presence from the syntax tree
func (e *extractor) fromAST(node *pg_query.Node, stats *Stats) {
	switch {
	case node.GetSelectStmt() != nil:
		stmt := node.GetSelectStmt()
		stats.QueryType = QuerySelect
		if stmt.WithClause != nil {
			stats.QueryType = QueryWith
			stats.CTEs = len(stmt.WithClause.Ctes)
		}
	case node.GetInsertStmt() != nil:
		stmt := node.GetInsertStmt()
		stats.QueryType = QueryInsert
		stats.addTarget(stmt.Relation)
		if stmt.WithClause != nil {
			stats.CTEs = len(stmt.WithClause.Ctes)
		}
	case node.GetUpdateStmt() != nil:
		stmt := node.GetUpdateStmt()
		stats.QueryType = QueryUpdate
		stats.addTarget(stmt.Relation)
		stats.HasWhere = stmt.WhereClause != nil
		if stmt.WithClause != nil {
			stats.CTEs = len(stmt.WithClause.Ctes)
		}
	case node.GetDeleteStmt() != nil:
		stmt := node.GetDeleteStmt()
		stats.QueryType = QueryDelete
		stats.addTarget(stmt.Relation)
		stats.HasWhere = stmt.WhereClause != nil
		if stmt.WithClause != nil {
			stats.CTEs = len(stmt.WithClause.Ctes)
		}
	case node.GetMergeStmt() != nil:
		stats.QueryType = QueryMerge
		stats.addTarget(node.GetMergeStmt().Relation)
	case node.GetCreateStmt() != nil, node.GetIndexStmt() != nil, node.GetViewStmt() != nil,
		node.GetCreateTableAsStmt() != nil, node.GetCreateSeqStmt() != nil:
		stats.QueryType = QueryCreate
	case node.GetAlterTableStmt() != nil:
		stats.QueryType = QueryAlter
	case node.GetDropStmt() != nil:
		stats.QueryType = QueryDrop
	default:
		stats.QueryType = QueryUnknown
	}
}

// fromText is the fallback for SQL the PostgreSQL parser rejects
func (e *extractor) fromText(body string, stats *Stats) {
	stats.QueryType = QueryUnknown
	if m := leadingKeyword.FindStringSubmatch(body); m != nil {
		switch kw := strings.ToUpper(m[1]); kw {
		case QuerySelect, QueryWith, QueryInsert, QueryUpdate, QueryDelete,
			QueryMerge, QueryCreate, QueryAlter, QueryDrop:
			stats.QueryType = kw
		}
	}

	for _, re := range []*regexp.Regexp{insertTarget, updateTarget, deleteTarget, mergeTarget} {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			stats.addName(analyzer.BaseTableName(m[1]))
		}
	}
	if stats.QueryType == QueryWith {
		stats.CTEs = len(cteDefinition.FindAllStringIndex(body, -1))
	}
}

func (s *Stats) addTarget(rel *pg_query.RangeVar) {
	if rel != nil {
		s.addName(rel.Relname)
	}
}

func (s *Stats) addName(name string) {
	if name != "" && !contains(s.Targets, name) {
		s.Targets = append(s.Targets, name)
	}
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
