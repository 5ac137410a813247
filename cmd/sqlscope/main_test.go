package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

const testPlan = `
----------------------------------------------------------------------------
| Id  | Operation          | Name | Rows  | Bytes | Cost (%CPU)| Time     |
----------------------------------------------------------------------------
|   0 | SELECT STATEMENT   |      |    14 |   518 |     3   (0)| 00:00:01 |
|*  1 |  TABLE ACCESS FULL | EMP  |    14 |   518 |     3   (0)| 00:00:01 |
----------------------------------------------------------------------------

Predicate Information (identified by operation id):
---------------------------------------------------

   1 - filter("SAL">1000)
`

// Test the core run function without building binary
func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		stdin      string
		wantExit   int
		wantOutput []string // substrings of stdout
		wantError  string   // substring of stderr
		wantEmpty  bool     // stdout must be empty
	}{
		{
			name:      "no arguments shows usage",
			args:      []string{},
			wantExit:  1,
			wantError: "Usage:",
		},
		{
			name:       "help flag",
			args:       []string{"-h"},
			wantExit:   0,
			wantOutput: []string{"Usage:", "plan", "watch", "serve"},
		},
		{
			name:       "version flag",
			args:       []string{"--version"},
			wantExit:   0,
			wantOutput: []string{"sqlscope"},
		},
		{
			name:     "structural report",
			args:     []string{"SELECT e.name, d.dept_name FROM employees e INNER JOIN departments d ON e.dept_id = d.id WHERE e.salary > 50000 ORDER BY e.name"},
			wantExit: 0,
			wantOutput: []string{
				"TABLES USED\n───────────\n1. employees\n2. departments",
				"employees: dept_id, name, salary",
				"1. [JOIN] e.dept_id = d.id",
				"2. [FILTER] e.salary > 50000",
				"1. INNER JOIN: employees ⋈ departments\n   ON e.dept_id = d.id",
			},
		},
		{
			name:       "legacy outer join",
			args:       []string{"SELECT * FROM a, b WHERE a.x = b.y (+)"},
			wantExit:   0,
			wantOutput: []string{"1. OUTER JOIN (+): a ⋈ b"},
		},
		{
			name:       "file input",
			args:       []string{"-f", "testdata/join.sql"},
			wantExit:   0,
			wantOutput: []string{"Statement 1 (testdata/join.sql, line 1)", "Statement 2 (testdata/join.sql, line 3)", "1. orders"},
		},
		{
			name:     "several files are analyzed in order",
			args:     []string{"-f", "testdata/join.sql", "-f", "testdata/outer.sql"},
			wantExit: 0,
			wantOutput: []string{
				"Statement 2 (testdata/join.sql, line 3)",
				"Statement 4 (testdata/outer.sql, line 2)",
				"1. OUTER JOIN (+): emp ⋈ dept",
			},
		},
		{
			name:      "missing file among several",
			args:      []string{"-f", "testdata/join.sql", "-f", "does-not-exist.sql"},
			wantExit:  1,
			wantError: "does-not-exist.sql",
		},
		{
			name:      "non-existent file",
			args:      []string{"-f", "does-not-exist.sql"},
			wantExit:  1,
			wantError: "no such file",
		},
		{
			name:       "stdin input",
			args:       []string{},
			stdin:      "SELECT name FROM employees",
			wantExit:   0,
			wantOutput: []string{"employees: name"},
		},
		{
			name:      "blank stdin prints nothing",
			args:      []string{},
			stdin:     "  \n\t",
			wantExit:  0,
			wantEmpty: true,
		},
		{
			name:       "JSON output",
			args:       []string{"-o", "json", "SELECT a FROM t"},
			wantExit:   0,
			wantOutput: []string{`"statements"`, `"tables": [`, `"format": "structural"`},
		},
		{
			name:       "YAML output",
			args:       []string{"-o", "yaml", "SELECT a FROM t"},
			wantExit:   0,
			wantOutput: []string{"statements:", "format: structural"},
		},
		{
			name:       "statistics variant",
			args:       []string{"--format", "statistics", "SELECT o.id FROM orders o WHERE o.id IN (SELECT id FROM returns)"},
			wantExit:   0,
			wantOutput: []string{"STATISTICS", "Query Type", "Subqueries"},
		},
		{
			name:       "lint findings without threshold",
			args:       []string{"--format", "oracle-lint", "SELECT * FROM emp"},
			wantExit:   0,
			wantOutput: []string{"SELECT_STAR"},
		},
		{
			name:       "lint findings at the failing severity",
			args:       []string{"--format", "oracle-lint", "--fail-on", "warning", "SELECT * FROM emp"},
			wantExit:   3,
			wantOutput: []string{"SELECT_STAR"},
			wantError:  "findings at or above WARNING",
		},
		{
			name:     "disabled rule",
			args:     []string{"--format", "oracle-lint", "--fail-on", "warning", "--disable", "SELECT_STAR", "SELECT id FROM emp WHERE id = 1"},
			wantExit: 0,
		},
		{
			name:      "unknown disabled rule",
			args:      []string{"--disable", "NO_SUCH_RULE", "SELECT 1"},
			wantExit:  1,
			wantError: "unknown lint rule",
		},
		{
			name:       "input over the size cap",
			args:       []string{"--max-input-bytes", "10", "SELECT a FROM t"},
			wantExit:   2,
			wantOutput: []string{"Error: input exceeds size limit: 15 bytes, limit is 10"},
			wantError:  "could not be analyzed",
		},
		{
			name:      "unknown format",
			args:      []string{"--format", "xml", "SELECT 1"},
			wantExit:  1,
			wantError: "unknown report format",
		},
		{
			name:       "config file",
			args:       []string{"--config", "testdata/sqlscope.yaml", "SELECT a FROM t"},
			wantExit:   0,
			wantOutput: []string{"STATISTICS"},
		},
		{
			name:       "plan subcommand",
			args:       []string{"plan", "-f", "testdata/plan.txt"},
			wantExit:   0,
			wantOutput: []string{"└─ *1 TABLE ACCESS FULL EMP (rows=14 cost=3)", "FULL_TABLE_SCAN", "Total cost: 3"},
		},
		{
			name:       "plan findings at the failing severity",
			args:       []string{"plan", "--fail-on", "warning", "-f", "testdata/plan.txt"},
			wantExit:   3,
			wantOutput: []string{"FULL_TABLE_SCAN"},
		},
		{
			name:      "plan without a table",
			args:      []string{"plan", "SELECT 1 FROM dual"},
			wantExit:  2,
			wantError: "no plan table found",
		},
		{
			name:      "explain-plan reads one file",
			args:      []string{"--format", "explain-plan", "-f", "testdata/plan.txt", "-f", "testdata/plan.txt"},
			wantExit:  2,
			wantError: "expected one file, got 2",
		},
		{
			name:       "explain-plan format on the root command",
			args:       []string{"--format", "explain-plan", "-f", "testdata/plan.txt"},
			wantExit:   0,
			wantOutput: []string{"PLAN FINDINGS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := runCommand(t, tt.args, tt.stdin)

			if exitCode != tt.wantExit {
				t.Errorf("exit code = %d, want %d\nstderr: %s", exitCode, tt.wantExit, stderr)
			}
			for _, want := range tt.wantOutput {
				if !strings.Contains(stdout, want) {
					t.Errorf("stdout missing %q\nGot: %s", want, stdout)
				}
			}
			if tt.wantError != "" && !strings.Contains(stderr, tt.wantError) {
				t.Errorf("stderr missing %q\nGot: %s", tt.wantError, stderr)
			}
			if tt.wantEmpty && stdout != "" {
				t.Errorf("expected no output, got %q", stdout)
			}
		})
	}
}

// Helper to run command and capture output
func runCommand(t *testing.T, args []string, stdin string) (string, string, int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr
	oldStdin := os.Stdin

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	if stdin != "" {
		rIn, wIn, _ := os.Pipe()
		os.Stdin = rIn
		go func() {
			defer func() { _ = wIn.Close() }()
			_, _ = wIn.WriteString(stdin)
		}()
	}

	var outBuf, errBuf bytes.Buffer
	outDone := make(chan struct{})
	errDone := make(chan struct{})
	go func() { _, _ = io.Copy(&outBuf, rOut); close(outDone) }()
	go func() { _, _ = io.Copy(&errBuf, rErr); close(errDone) }()

	exitCode := run(args)

	_ = wOut.Close()
	_ = wErr.Close()
	<-outDone
	<-errDone
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	os.Stdin = oldStdin

	return outBuf.String(), errBuf.String(), exitCode
}

func TestDetermineExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", io.EOF, exitError},
		{"analysis failure", &exitCodeError{code: exitAnalysis, err: io.EOF}, exitAnalysis},
		{"findings", &exitCodeError{code: exitFindings, err: io.EOF}, exitFindings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := determineExitCode(tt.err); got != tt.want {
				t.Errorf("determineExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// Test data setup
func TestMain(m *testing.M) {
	_ = os.MkdirAll("testdata", 0o755)
	_ = os.WriteFile("testdata/join.sql", []byte("SELECT id FROM orders;\n\nSELECT c.name FROM customers c;\n"), 0o644)
	_ = os.WriteFile("testdata/outer.sql", []byte("SELECT SYSDATE FROM dual;\nSELECT e.ename, d.dname FROM emp e, dept d WHERE e.deptno = d.deptno (+);\n"), 0o644)
	_ = os.WriteFile("testdata/plan.txt", []byte(testPlan), 0o644)
	_ = os.WriteFile("testdata/sqlscope.yaml", []byte("format: statistics\n"), 0o644)

	code := m.Run()

	_ = os.RemoveAll("testdata")
	os.Exit(code)
}
