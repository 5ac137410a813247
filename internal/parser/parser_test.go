package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSQL(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
		checks  func(t *testing.T, result *ParseResult)
	}{
		{
			name: "single query against dual",
			sql:  "SELECT SYSDATE FROM dual;",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				stmt := result.Statements[0]
				if stmt.SQL != "SELECT SYSDATE FROM dual" {
					t.Errorf("unexpected SQL: %s", stmt.SQL)
				}
				if stmt.LineNumber != 1 {
					t.Errorf("expected line number 1, got %d", stmt.LineNumber)
				}
				if stmt.File != "" {
					t.Errorf("string input has no file, got %q", stmt.File)
				}
			},
		},
		{
			name: "Oracle script",
			sql: `SELECT e.ename, d.dname FROM emp e, dept d WHERE e.deptno = d.deptno (+);
SELECT * FROM (SELECT ename FROM emp ORDER BY sal DESC) WHERE ROWNUM <= 5;
UPDATE emp SET sal = sal * 1.1 WHERE deptno = :dept;`,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 3 {
					t.Fatalf("expected 3 statements, got %d", len(result.Statements))
				}
				expectedSQL := []string{
					"SELECT e.ename, d.dname FROM emp e, dept d WHERE e.deptno = d.deptno (+)",
					"SELECT * FROM (SELECT ename FROM emp ORDER BY sal DESC) WHERE ROWNUM <= 5",
					"UPDATE emp SET sal = sal * 1.1 WHERE deptno = :dept",
				}
				for i, stmt := range result.Statements {
					if stmt.SQL != expectedSQL[i] {
						t.Errorf("statement %d: expected SQL %q, got %q", i, expectedSQL[i], stmt.SQL)
					}
					if stmt.LineNumber != i+1 {
						t.Errorf("statement %d: expected line %d, got %d", i, i+1, stmt.LineNumber)
					}
				}
				if result.Statements[0].ParseError == "" {
					t.Error("(+) is not PostgreSQL and should carry a diagnostic")
				}
			},
		},
		{
			name: "statements with empty lines",
			sql: `SELECT 1 FROM dual;

SELECT 2 FROM dual;


SELECT 3 FROM dual;`,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 3 {
					t.Fatalf("expected 3 statements, got %d", len(result.Statements))
				}
				expectedLines := []int{1, 3, 6}
				for i, stmt := range result.Statements {
					if stmt.LineNumber != expectedLines[i] {
						t.Errorf("statement %d: expected line %d, got %d", i, expectedLines[i], stmt.LineNumber)
					}
				}
			},
		},
		{
			name: "statements with comments",
			sql: `-- top earners
SELECT ename FROM emp WHERE ROWNUM <= 3;
/* headcount
   per department */
SELECT deptno, COUNT(*) FROM emp GROUP BY deptno;
-- managers
SELECT ename FROM emp START WITH mgr IS NULL CONNECT BY PRIOR empno = mgr;`,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 3 {
					t.Fatalf("expected 3 statements, got %d", len(result.Statements))
				}
				// a leading comment belongs to the statement after it, so
				// only the order of line numbers is fixed
				for i := 1; i < len(result.Statements); i++ {
					if result.Statements[i].LineNumber <= result.Statements[i-1].LineNumber {
						t.Errorf("statement %d line number %d should be greater than statement %d line number %d",
							i, result.Statements[i].LineNumber, i-1, result.Statements[i-1].LineNumber)
					}
				}
				for i, stmt := range result.Statements {
					if strings.Contains(stmt.Body, "--") || strings.Contains(stmt.Body, "/*") {
						t.Errorf("statement %d: body still has comments: %q", i, stmt.Body)
					}
				}
			},
		},
		{
			name: "invalid SQL is kept with a diagnostic",
			sql:  "SELECT * FROM WHERE;",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				stmt := result.Statements[0]
				if stmt.Parsed() {
					t.Error("statement should not have an AST")
				}
				if stmt.ParseError == "" {
					t.Error("expected a parse diagnostic")
				}
				if stmt.Fingerprint != "" {
					t.Errorf("unparsed statement should have no fingerprint, got %q", stmt.Fingerprint)
				}
			},
		},
		{
			name: "unterminated literal falls back to one statement",
			sql:  "SELECT 'abc FROM t; SELECT 2",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				if result.Statements[0].SQL != "SELECT 'abc FROM t; SELECT 2" {
					t.Errorf("unexpected SQL: %s", result.Statements[0].SQL)
				}
			},
		},
		{
			name: "body has comments removed",
			sql:  "-- list employees\nSELECT empno /* key */ FROM emp;",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				body := result.Statements[0].Body
				if strings.Contains(body, "list employees") || strings.Contains(body, "key") {
					t.Errorf("comments should be stripped, got %q", body)
				}
				if !strings.Contains(body, "FROM emp") {
					t.Errorf("statement text lost, got %q", body)
				}
			},
		},
		{
			name: "empty SQL",
			sql:  "",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 0 {
					t.Errorf("expected 0 statements for empty SQL, got %d", len(result.Statements))
				}
			},
		},
		{
			name: "only comments",
			sql:  "-- Just a comment\n/* Another comment */",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 0 {
					t.Errorf("expected 0 statements for comment-only SQL, got %d", len(result.Statements))
				}
			},
		},
		{
			name: "semicolon in string literal",
			sql:  `SELECT ename FROM emp WHERE job = 'CLERK; ANALYST';`,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				if result.Statements[0].SQL != `SELECT ename FROM emp WHERE job = 'CLERK; ANALYST'` {
					t.Errorf("unexpected SQL: %s", result.Statements[0].SQL)
				}
			},
		},
		{
			name: "last statement without semicolon",
			sql:  "DELETE FROM sessions WHERE expires < SYSDATE;\nSELECT COUNT(*) FROM sessions",
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 2 {
					t.Fatalf("expected 2 statements, got %d", len(result.Statements))
				}
				if result.Statements[1].SQL != "SELECT COUNT(*) FROM sessions" {
					t.Errorf("unexpected SQL: %s", result.Statements[1].SQL)
				}
			},
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.ParseSQL(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSQL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checks != nil {
				tt.checks(t, result)
			}
		})
	}
}

func writeSQLFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	script := writeSQLFile(t, dir, "report.sql", `SELECT e.ename, d.dname
  FROM emp e, dept d
 WHERE e.deptno = d.deptno (+);

MERGE INTO bonus b USING emp e ON (b.ename = e.ename)
WHEN MATCHED THEN UPDATE SET comm = e.sal * 0.1;
`)
	bom := writeSQLFile(t, dir, "bom.sql", "\xEF\xBB\xBFSELECT ename FROM emp WHERE ROWNUM = 1;")
	empty := writeSQLFile(t, dir, "empty.sql", "")

	tests := []struct {
		name    string
		path    string
		wantErr error
		checks  func(t *testing.T, result *ParseResult)
	}{
		{
			name: "script with a legacy join and a MERGE",
			path: script,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 2 {
					t.Fatalf("expected 2 statements, got %d", len(result.Statements))
				}
				if got := result.Statements[1].LineNumber; got != 5 {
					t.Errorf("expected MERGE on line 5, got %d", got)
				}
				for i, stmt := range result.Statements {
					if stmt.File != script {
						t.Errorf("statement %d: expected file %q, got %q", i, script, stmt.File)
					}
				}
			},
		},
		{
			name: "BOM is stripped",
			path: bom,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 1 {
					t.Fatalf("expected 1 statement, got %d", len(result.Statements))
				}
				if result.Statements[0].SQL != "SELECT ename FROM emp WHERE ROWNUM = 1" {
					t.Errorf("BOM should be stripped, got %q", result.Statements[0].SQL)
				}
			},
		},
		{
			name: "empty file",
			path: empty,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 0 {
					t.Errorf("expected 0 statements, got %d", len(result.Statements))
				}
			},
		},
		{
			name:    "missing file",
			path:    filepath.Join(dir, "absent.sql"),
			wantErr: os.ErrNotExist,
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.ParseFile(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFile() error = %v", err)
			}
			tt.checks(t, result)
		})
	}

	if _, err := parser.ParseFile(""); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	first := writeSQLFile(t, dir, "01_top.sql", "SELECT ename FROM emp WHERE ROWNUM <= 10;\nSELECT dname FROM dept;\n")
	second := writeSQLFile(t, dir, "02_tree.sql", "\nSELECT LEVEL, ename FROM emp CONNECT BY PRIOR empno = mgr;\n")

	tests := []struct {
		name    string
		paths   []string
		wantErr bool
		checks  func(t *testing.T, result *ParseResult)
	}{
		{
			name:  "files keep their order and line numbers",
			paths: []string{first, second},
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 3 {
					t.Fatalf("expected 3 statements, got %d", len(result.Statements))
				}
				want := []struct {
					file string
					line int
				}{{first, 1}, {first, 2}, {second, 2}}
				for i, stmt := range result.Statements {
					if stmt.File != want[i].file || stmt.LineNumber != want[i].line {
						t.Errorf("statement %d: expected %s:%d, got %s:%d", i, want[i].file, want[i].line, stmt.File, stmt.LineNumber)
					}
				}
			},
		},
		{
			name:  "same file twice",
			paths: []string{second, second},
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 2 {
					t.Errorf("expected 2 statements, got %d", len(result.Statements))
				}
			},
		},
		{
			name:  "no files",
			paths: nil,
			checks: func(t *testing.T, result *ParseResult) {
				if len(result.Statements) != 0 {
					t.Errorf("expected 0 statements, got %d", len(result.Statements))
				}
			},
		},
		{
			name:    "missing file in list",
			paths:   []string{first, filepath.Join(dir, "absent.sql")},
			wantErr: true,
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.ParseFiles(tt.paths)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFiles() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checks != nil {
				tt.checks(t, result)
			}
		})
	}
}

func TestLineNumberCalculation(t *testing.T) {
	tests := []struct {
		name          string
		sql           string
		expectedLines []int
	}{
		{
			name:          "CRLF line endings",
			sql:           "SELECT 1 FROM dual;\r\nSELECT 2 FROM dual;\r\nSELECT 3 FROM dual;",
			expectedLines: []int{1, 2, 3},
		},
		{
			name: "hierarchical query over several lines",
			sql: `SELECT empno,
       LEVEL
  FROM emp
 START WITH mgr IS NULL
CONNECT BY PRIOR empno = mgr;
SELECT SYSDATE FROM dual;`,
			expectedLines: []int{1, 6},
		},
		{
			name: "legacy join after empty lines",
			sql: `SELECT 1 FROM dual;


SELECT * FROM emp e, dept d
 WHERE e.deptno = d.deptno (+);`,
			expectedLines: []int{1, 4},
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.ParseSQL(tt.sql)
			if err != nil {
				t.Fatalf("ParseSQL() error = %v", err)
			}
			if len(result.Statements) != len(tt.expectedLines) {
				t.Fatalf("expected %d statements, got %d", len(tt.expectedLines), len(result.Statements))
			}
			for i, stmt := range result.Statements {
				if stmt.LineNumber != tt.expectedLines[i] {
					t.Errorf("statement %d: expected line %d, got %d", i, tt.expectedLines[i], stmt.LineNumber)
				}
			}
		})
	}
}

func TestAST(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		checks func(t *testing.T, stmt ParsedStatement)
	}{
		{
			name: "ROWNUM is an ordinary column to PostgreSQL",
			sql:  "SELECT ename FROM emp WHERE ROWNUM <= 10",
			checks: func(t *testing.T, stmt ParsedStatement) {
				if !stmt.Parsed() {
					t.Fatalf("expected an AST, got diagnostic %q", stmt.ParseError)
				}
				if stmt.AST.Stmts[0].Stmt.GetSelectStmt() == nil {
					t.Error("expected a SELECT node")
				}
			},
		},
		{
			name: "MERGE",
			sql:  "MERGE INTO bonus b USING emp e ON (b.ename = e.ename) WHEN MATCHED THEN UPDATE SET comm = e.sal * 0.1",
			checks: func(t *testing.T, stmt ParsedStatement) {
				if !stmt.Parsed() {
					t.Fatalf("expected an AST, got diagnostic %q", stmt.ParseError)
				}
				if stmt.AST.Stmts[0].Stmt.GetMergeStmt() == nil {
					t.Error("expected a MERGE node")
				}
			},
		},
		{
			name: "legacy outer join has no AST",
			sql:  "SELECT * FROM emp e, dept d WHERE e.deptno = d.deptno (+)",
			checks: func(t *testing.T, stmt ParsedStatement) {
				if stmt.Parsed() {
					t.Error("(+) should not parse as PostgreSQL")
				}
			},
		},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parser.ParseSQL(tt.sql)
			if err != nil {
				t.Fatalf("ParseSQL() error = %v", err)
			}
			if len(result.Statements) != 1 {
				t.Fatalf("expected 1 statement, got %d", len(result.Statements))
			}
			tt.checks(t, result.Statements[0])
		})
	}
}

func TestFingerprint(t *testing.T) {
	parser := NewParser()
	result, err := parser.ParseSQL("SELECT * FROM users WHERE id = 1; SELECT * FROM users WHERE id = 42; SELECT * FROM orders WHERE id = 1;")
	if err != nil {
		t.Fatalf("ParseSQL() error = %v", err)
	}
	if len(result.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(result.Statements))
	}
	first, second, third := result.Statements[0], result.Statements[1], result.Statements[2]
	if first.Fingerprint == "" {
		t.Fatal("expected a fingerprint")
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("statements differing only in literals should share a fingerprint: %s vs %s", first.Fingerprint, second.Fingerprint)
	}
	if first.Fingerprint == third.Fingerprint {
		t.Error("statements on different tables should not share a fingerprint")
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{name: "line comment", sql: "SELECT 1 -- one", want: "SELECT 1"},
		{name: "block comment", sql: "SELECT /* all */ *", want: "SELECT   *"},
		{name: "comment marker inside literal", sql: "SELECT '--not' FROM t", want: "SELECT '--not' FROM t"},
		{name: "no comments", sql: "SELECT a FROM b", want: "SELECT a FROM b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripComments(tt.sql); got != tt.want {
				t.Errorf("StripComments(%q) = %q, want %q", tt.sql, got, tt.want)
			}
			if got := stripCommentsManually(tt.sql); got != tt.want {
				t.Errorf("stripCommentsManually(%q) = %q, want %q", tt.sql, got, tt.want)
			}
		})
	}
}
