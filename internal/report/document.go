package report

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/lint"
	"github.com/nnaka2992/sqlscope/internal/metadata"
	"github.com/nnaka2992/sqlscope/internal/parser"
	"github.com/nnaka2992/sqlscope/internal/plan"
)

// ErrReadInput wraps failures to read an input file
var ErrReadInput = errors.New("reading input")

// Document is the outcome of one analysis run
type Document struct {
	Format     Format       `json:"format" yaml:"format"`
	Summary    Summary      `json:"summary" yaml:"summary"`
	Statements []Statement  `json:"statements" yaml:"statements"`
	Plan       *PlanSection `json:"plan,omitempty" yaml:"plan,omitempty"`
}

// Summary counts the statements and findings of a document
type Summary struct {
	TotalStatements int            `json:"total_statements" yaml:"total_statements"`
	Failed          int            `json:"failed" yaml:"failed"`
	BySeverity      map[string]int `json:"by_severity,omitempty" yaml:"by_severity,omitempty"`
}

// TableColumns is the column list of one table
type TableColumns struct {
	Table   string   `json:"table" yaml:"table"`
	Columns []string `json:"columns" yaml:"columns"`
}

// Statement is the report of one statement of the input
type Statement struct {
	Index      int    `json:"index" yaml:"index"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	LineNumber int    `json:"line_number" yaml:"line_number"`
	SQL        string `json:"sql" yaml:"sql"`
	// Error is the message of an analysis failure. The sections are empty
	// when it is set.
	Error         string               `json:"error,omitempty" yaml:"error,omitempty"`
	Tables        []string             `json:"tables" yaml:"tables"`
	Columns       []TableColumns       `json:"columns" yaml:"columns"`
	UniqueColumns []string             `json:"unique_columns" yaml:"unique_columns"`
	Conditions    []analyzer.Condition `json:"conditions" yaml:"conditions"`
	Joins         []analyzer.Join      `json:"joins" yaml:"joins"`
	Stats         *metadata.Stats      `json:"stats,omitempty" yaml:"stats,omitempty"`
	Findings      []lint.Finding       `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// PlanSection is the explain-plan variant of a document
type PlanSection struct {
	Nodes       []*plan.Node   `json:"nodes" yaml:"nodes"`
	Findings    []plan.Finding `json:"findings" yaml:"findings"`
	JoinMethods map[string]int `json:"join_methods" yaml:"join_methods"`
	TotalCost   int64          `json:"total_cost" yaml:"total_cost"`
	Tree        string         `json:"tree" yaml:"tree"`
}

// Options configures an Assembler. Zero values select the defaults.
type Options struct {
	ColumnLookahead       int
	ConditionDisplayLimit int
	DegradedLeftLimit     int
	MaxInputBytes         int
	DisabledRules         []string
	Plan                  plan.CheckOptions
	Logger                *slog.Logger
}

// Assembler runs the extraction core over every statement of an input and
// collects the variant data into a Document
type Assembler struct {
	parser    parser.Parser
	analyzer  analyzer.Analyzer
	extractor metadata.Extractor
	linter    lint.Linter
	planOpts  plan.CheckOptions
	maxInput  int
	logger    *slog.Logger
}

// NewAssembler builds the pipeline. It fails when a disabled rule id is
// not in the lint catalogue.
func NewAssembler(opts Options) (*Assembler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxInput := opts.MaxInputBytes
	if maxInput == 0 {
		maxInput = analyzer.DefaultMaxInputBytes
	}
	planOpts := opts.Plan
	if planOpts == (plan.CheckOptions{}) {
		planOpts = plan.DefaultCheckOptions()
	}

	aopts := []analyzer.Option{
		analyzer.WithMaxInputBytes(maxInput),
		analyzer.WithLogger(logger),
	}
	if opts.ColumnLookahead > 0 {
		aopts = append(aopts, analyzer.WithColumnLookahead(opts.ColumnLookahead))
	}
	if opts.ConditionDisplayLimit > 0 {
		aopts = append(aopts, analyzer.WithConditionDisplayLimit(opts.ConditionDisplayLimit))
	}
	if opts.DegradedLeftLimit > 0 {
		aopts = append(aopts, analyzer.WithDegradedLeftLimit(opts.DegradedLeftLimit))
	}

	linter, err := lint.New(lint.WithDisabled(opts.DisabledRules...), lint.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build linter: %w", err)
	}

	return &Assembler{
		parser:    parser.NewParserWithLogger(logger),
		analyzer:  analyzer.New(aopts...),
		extractor: metadata.NewExtractor(),
		linter:    linter,
		planOpts:  planOpts,
		maxInput:  maxInput,
		logger:    logger,
	}, nil
}

// Assemble analyzes input in the given variant. Blank input yields a
// document without statements. Per-statement failures are recorded in
// Statement.Error; the returned error is reserved for input the variant
// cannot read at all, such as text without a plan table.
func (a *Assembler) Assemble(input string, format Format) (*Document, error) {
	if format == FormatExplainPlan {
		return a.planDocument(input)
	}

	if err := analyzer.CheckSize(input, a.maxInput); err != nil {
		return tooLarge(format, err), nil
	}

	parsed, err := a.parser.ParseSQL(input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return a.document(parsed, format), nil
}

// AssembleFiles analyzes the files at paths as one script. Statements
// record the file they came from. The explain-plan variant reads exactly
// one file. Files that cannot be read yield an error wrapping
// ErrReadInput.
func (a *Assembler) AssembleFiles(paths []string, format Format) (*Document, error) {
	if format == FormatExplainPlan {
		if len(paths) != 1 {
			return nil, fmt.Errorf("explain plan: expected one file, got %d", len(paths))
		}
		content, err := os.ReadFile(paths[0])
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrReadInput, paths[0], err)
		}
		return a.planDocument(string(content))
	}

	var total int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrReadInput, path, err)
		}
		total += info.Size()
	}
	if err := analyzer.CheckLength(total, a.maxInput); err != nil {
		return tooLarge(format, err), nil
	}

	parsed, err := a.parser.ParseFiles(paths)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	return a.document(parsed, format), nil
}

// tooLarge is the document of input rejected by the size cap
func tooLarge(format Format, err error) *Document {
	return &Document{
		Format:     format,
		Statements: []Statement{{Index: 1, LineNumber: 1, Error: err.Error()}},
		Summary:    Summary{TotalStatements: 1, Failed: 1},
	}
}

func (a *Assembler) planDocument(text string) (*Document, error) {
	section, err := a.assemblePlan(text)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Format:     FormatExplainPlan,
		Statements: []Statement{},
		Plan:       section,
		Summary:    Summary{BySeverity: map[string]int{}},
	}
	for _, f := range section.Findings {
		doc.Summary.BySeverity[f.Severity.String()]++
	}
	return doc, nil
}

// document analyzes every parsed statement and fills the summary
func (a *Assembler) document(parsed *parser.ParseResult, format Format) *Document {
	doc := &Document{Format: format, Statements: []Statement{}}
	for _, stmt := range parsed.Statements {
		s, ok := a.statement(stmt, format)
		if !ok {
			continue
		}
		s.Index = len(doc.Statements) + 1
		doc.Statements = append(doc.Statements, s)
	}

	doc.Summary.TotalStatements = len(doc.Statements)
	if format == FormatOracleLint {
		doc.Summary.BySeverity = map[string]int{}
	}
	for _, s := range doc.Statements {
		if s.Error != "" {
			doc.Summary.Failed++
		}
		for _, f := range s.Findings {
			doc.Summary.BySeverity[f.Severity.String()]++
		}
	}
	a.logger.Debug("input assembled",
		"format", format,
		"statements", doc.Summary.TotalStatements,
		"failed", doc.Summary.Failed)
	return doc
}

// statement analyzes one parsed statement. It reports false for a
// statement that is blank once normalized.
func (a *Assembler) statement(stmt parser.ParsedStatement, format Format) (Statement, bool) {
	s := Statement{
		File:          stmt.File,
		LineNumber:    stmt.LineNumber,
		SQL:           stmt.SQL,
		Tables:        []string{},
		Columns:       []TableColumns{},
		UniqueColumns: []string{},
		Conditions:    []analyzer.Condition{},
		Joins:         []analyzer.Join{},
	}

	result, err := a.analyzer.Analyze(stmt.Body)
	switch {
	case errors.Is(err, analyzer.ErrEmptyInput):
		return s, false
	case err != nil:
		a.logger.Debug("statement analysis failed", "file", stmt.File, "line", stmt.LineNumber, "error", err)
		s.Error = err.Error()
		return s, true
	}

	s.Tables = append(s.Tables, result.Tables...)
	for _, t := range result.Tables {
		s.Columns = append(s.Columns, TableColumns{Table: t, Columns: result.Columns.Sorted(t)})
	}
	s.UniqueColumns = append(s.UniqueColumns, result.Columns.Unique()...)
	s.Conditions = append(s.Conditions, result.Conditions...)
	s.Joins = append(s.Joins, result.Joins...)

	switch format {
	case FormatStatistics:
		s.Stats = a.extractor.Extract(stmt, result)
	case FormatOracleLint:
		stats := a.extractor.Extract(stmt, result)
		s.Stats = stats
		s.Findings = a.linter.Lint(lint.Input{SQL: result.SQL, Result: result, Stats: stats})
	}
	return s, true
}

func (a *Assembler) assemblePlan(text string) (*PlanSection, error) {
	if err := analyzer.CheckSize(text, a.maxInput); err != nil {
		return nil, err
	}
	p, err := plan.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("explain plan: %w", err)
	}
	checked := plan.Check(p, a.planOpts)
	findings := checked.Findings
	if findings == nil {
		findings = []plan.Finding{}
	}
	return &PlanSection{
		Nodes:       p.Nodes,
		Findings:    findings,
		JoinMethods: checked.JoinMethods,
		TotalCost:   checked.TotalCost,
		Tree:        p.Tree(),
	}, nil
}

// MaxSeverity returns the highest lint or plan finding severity of the
// document and whether there was any finding
func (d *Document) MaxSeverity() (lint.Severity, bool) {
	var all []lint.Finding
	for _, s := range d.Statements {
		all = append(all, s.Findings...)
	}
	if d.Plan != nil {
		for _, f := range d.Plan.Findings {
			all = append(all, lint.Finding{RuleID: f.Check, Severity: f.Severity})
		}
	}
	return lint.MaxSeverity(all)
}
