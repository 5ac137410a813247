package lint

import (
	"errors"
	"testing"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/metadata"
	"github.com/nnaka2992/sqlscope/internal/parser"
)

func inputFor(t *testing.T, sql string) Input {
	t.Helper()
	result, err := analyzer.New().Analyze(sql)
	if err != nil {
		t.Fatalf("Analyze(%q): %v", sql, err)
	}
	stmt := parser.ParsedStatement{SQL: sql, Body: sql}
	return Input{
		SQL:    analyzer.Normalize(sql),
		Result: result,
		Stats:  metadata.NewExtractor().Extract(stmt, result),
	}
}

func findingsByRule(findings []Finding) map[string]Finding {
	byRule := make(map[string]Finding, len(findings))
	for _, f := range findings {
		if _, ok := byRule[f.RuleID]; !ok {
			byRule[f.RuleID] = f
		}
	}
	return byRule
}

func TestLint(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		want   map[string]string // rule id -> expected message, "" to skip the message check
		absent []string
		checks func(t *testing.T, findings []Finding)
	}{
		{
			name: "select star",
			sql:  "SELECT * FROM employees",
			want: map[string]string{"SELECT_STAR": "SELECT * reads every column of employees"},
		},
		{
			name:   "legacy outer join is not a cartesian product",
			sql:    "SELECT * FROM a, b WHERE a.x = b.y (+)",
			want:   map[string]string{"LEGACY_OUTER_JOIN": "Oracle (+) outer join between a and b: a.x = b.y (+)"},
			absent: []string{"CARTESIAN_PRODUCT", "IMPLICIT_JOIN"},
		},
		{
			name: "cartesian product",
			sql:  "SELECT a.id FROM a, b",
			want: map[string]string{"CARTESIAN_PRODUCT": "2 tables (a, b) are listed in FROM with no join predicate"},
		},
		{
			name:   "implicit join",
			sql:    "SELECT e.id FROM employees e, departments d WHERE e.dept_id = d.id",
			want:   map[string]string{"IMPLICIT_JOIN": "employees and departments are joined in WHERE: e.dept_id = d.id"},
			absent: []string{"CARTESIAN_PRODUCT", "SELECT_STAR"},
		},
		{
			name: "leading wildcard",
			sql:  "SELECT id FROM t WHERE name LIKE '%son'",
			want: map[string]string{"LEADING_WILDCARD_LIKE": "name LIKE '%son' starts with a wildcard"},
		},
		{
			name: "function on filtered column",
			sql:  "SELECT id FROM t WHERE UPPER(name) = 'BOB'",
			want: map[string]string{"FUNCTION_ON_COLUMN": "UPPER wraps the filtered expression UPPER(name)"},
		},
		{
			name: "NOT IN subquery",
			sql:  "SELECT id FROM t WHERE id NOT IN (SELECT tid FROM x)",
			want: map[string]string{"NOT_IN_SUBQUERY": ""},
		},
		{
			name: "ROWNUM and ORDER BY at one level",
			sql:  "SELECT * FROM emp WHERE ROWNUM <= 10 ORDER BY sal DESC",
			want: map[string]string{"ROWNUM_WITH_ORDER_BY": ""},
		},
		{
			name:   "ROWNUM over an ordered inline view",
			sql:    "SELECT * FROM (SELECT * FROM emp ORDER BY sal DESC) WHERE ROWNUM <= 10",
			absent: []string{"ROWNUM_WITH_ORDER_BY"},
		},
		{
			name: "DELETE without WHERE",
			sql:  "DELETE FROM sessions",
			want: map[string]string{"DML_WITHOUT_WHERE": "DELETE affects every row of sessions"},
			checks: func(t *testing.T, findings []Finding) {
				f := findingsByRule(findings)["DML_WITHOUT_WHERE"]
				if f.Title != "DELETE without WHERE" {
					t.Errorf("unexpected title %q", f.Title)
				}
				if f.Severity != SeverityCritical {
					t.Errorf("expected CRITICAL, got %s", f.Severity)
				}
			},
		},
		{
			name:   "UPDATE with WHERE",
			sql:    "UPDATE users SET active = 0 WHERE id = 1",
			absent: []string{"DML_WITHOUT_WHERE"},
		},
		{
			name: "OR chain",
			sql:  "SELECT id FROM t WHERE status = 'A' OR status = 'B' OR status = 'C'",
			want: map[string]string{"OR_CHAIN": "status is compared with = in 3 OR branches"},
		},
		{
			name: "OR chain inside a group",
			sql:  "SELECT id FROM t WHERE (c.x = 1 OR c.x = 2 OR c.x = 3) AND y = 0",
			want: map[string]string{"OR_CHAIN": "c.x is compared with = in 3 OR branches"},
		},
		{
			name: "DISTINCT over joins",
			sql:  "SELECT DISTINCT e.id FROM employees e JOIN departments d ON e.dept_id = d.id",
			want: map[string]string{"DISTINCT_WITH_JOIN": "DISTINCT is applied to the result of 1 join(s)"},
		},
		{
			name: "syntax sanity checks",
			sql:  "SELECT (a,, 'b FROM t",
			want: map[string]string{
				"UNBALANCED_PARENTHESES": "Unbalanced parentheses: 1 opening, 0 closing",
				"UNBALANCED_QUOTES":      "Unbalanced single quotes",
				"CONSECUTIVE_COMMAS":     "Consecutive commas found",
			},
		},
		{
			name: "SELECT without FROM",
			sql:  "SELECT 1",
			want: map[string]string{"SELECT_WITHOUT_FROM": ""},
		},
	}

	l, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := l.Lint(inputFor(t, tt.sql))
			byRule := findingsByRule(findings)
			for id, msg := range tt.want {
				f, ok := byRule[id]
				if !ok {
					t.Errorf("expected finding %s, got %v", id, findings)
					continue
				}
				if msg != "" && f.Message != msg {
					t.Errorf("%s: message = %q, want %q", id, f.Message, msg)
				}
			}
			for _, id := range tt.absent {
				if _, ok := byRule[id]; ok {
					t.Errorf("unexpected finding %s", id)
				}
			}
			if tt.checks != nil {
				tt.checks(t, findings)
			}
		})
	}
}

func TestDisabledRules(t *testing.T) {
	l, err := New(WithDisabled("select_star"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := findingsByRule(l.Lint(inputFor(t, "SELECT * FROM t")))["SELECT_STAR"]; ok {
		t.Error("disabled rule should not report")
	}
	for _, r := range l.Rules() {
		if r.ID == "SELECT_STAR" {
			t.Error("disabled rule listed in Rules()")
		}
	}

	_, err = New(WithDisabled("NO_SUCH_RULE"))
	if !errors.Is(err, ErrUnknownRule) {
		t.Errorf("expected ErrUnknownRule, got %v", err)
	}
}

func TestCatalogueCoversDetectors(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for id := range detectors {
		if !l.HasRule(id) {
			t.Errorf("detector %s has no catalogue entry", id)
		}
	}
	for _, r := range l.Rules() {
		if r.Message == "" || r.Advice == "" || r.Title == "" {
			t.Errorf("rule %s is missing text", r.ID)
		}
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Severity
		wantErr bool
	}{
		{name: "info", input: "info", want: SeverityInfo},
		{name: "warning alias", input: "warn", want: SeverityWarning},
		{name: "critical", input: "CRITICAL", want: SeverityCritical},
		{name: "error", input: " Error ", want: SeverityError},
		{name: "unknown", input: "fatal", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeverity(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSeverity(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}

	if _, ok := MaxSeverity(nil); ok {
		t.Error("no findings should report no severity")
	}
	top, ok := MaxSeverity([]Finding{{Severity: SeverityInfo}, {Severity: SeverityCritical}, {Severity: SeverityWarning}})
	if !ok || top != SeverityCritical {
		t.Errorf("MaxSeverity = %s, %v; want CRITICAL", top, ok)
	}
}
