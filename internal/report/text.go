package report

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/lint"
	"github.com/nnaka2992/sqlscope/internal/metadata"
)

// Section titles of the structural report, in output order
const (
	SectionTables     = "TABLES USED"
	SectionColumns    = "COLUMNS USED"
	SectionConditions = "CONDITIONS USED"
	SectionJoins      = "JOINS"
)

const underline = "─"

// TextOptions controls the plain-text rendering
type TextOptions struct {
	// Color enables ANSI colours for headers and severities
	Color bool
}

// palette holds the colours of one rendering
type palette struct {
	header    *color.Color
	statement *color.Color
	failure   *color.Color
	severity  map[lint.Severity]*color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header:    color.New(color.Bold),
		statement: color.New(color.FgCyan, color.Bold),
		failure:   color.New(color.FgRed),
		severity: map[lint.Severity]*color.Color{
			lint.SeverityInfo:     color.New(color.FgBlue),
			lint.SeverityWarning:  color.New(color.FgYellow),
			lint.SeverityCritical: color.New(color.FgRed, color.Bold),
			lint.SeverityError:    color.New(color.FgMagenta, color.Bold),
		},
	}
	all := []*color.Color{p.header, p.statement, p.failure}
	for _, c := range p.severity {
		all = append(all, c)
	}
	for _, c := range all {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) section(b *strings.Builder, title string) {
	b.WriteString(p.header.Sprint(title) + "\n")
	b.WriteString(strings.Repeat(underline, utf8.RuneCountInString(title)) + "\n")
}

func (p palette) sev(s lint.Severity) string {
	if c, ok := p.severity[s]; ok {
		return c.Sprint(s.String())
	}
	return s.String()
}

// WriteText renders doc as plain text. A document without statements
// renders nothing.
func WriteText(w io.Writer, doc *Document, opts TextOptions) error {
	p := newPalette(opts.Color)
	var b strings.Builder

	if doc.Plan != nil {
		writePlan(&b, p, doc.Plan)
	}

	multi := len(doc.Statements) > 1
	for i, s := range doc.Statements {
		if i > 0 {
			b.WriteString("\n")
		}
		if multi {
			b.WriteString(p.statement.Sprint(statementHeader(s)) + "\n\n")
		}
		if s.Error != "" {
			b.WriteString(p.failure.Sprint("Error: "+s.Error) + "\n")
			continue
		}
		switch doc.Format {
		case FormatStatistics:
			writeStatistics(&b, p, s)
		case FormatOracleLint:
			writeFindings(&b, p, s.Findings)
		default:
			writeStructural(&b, p, s)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func statementHeader(s Statement) string {
	if s.File != "" {
		return fmt.Sprintf("Statement %d (%s, line %d)", s.Index, s.File, s.LineNumber)
	}
	return fmt.Sprintf("Statement %d (line %d)", s.Index, s.LineNumber)
}

// StructuralText renders the four fixed sections of one statement
// without colour
func StructuralText(s Statement) string {
	var b strings.Builder
	writeStructural(&b, newPalette(false), s)
	return b.String()
}

func writeStructural(b *strings.Builder, p palette, s Statement) {
	p.section(b, SectionTables)
	if len(s.Tables) == 0 {
		b.WriteString("None\n")
	}
	for i, t := range s.Tables {
		fmt.Fprintf(b, "%d. %s\n", i+1, t)
	}
	b.WriteString("\n")

	p.section(b, SectionColumns)
	if len(s.Tables) == 0 {
		b.WriteString("None\n")
	}
	for _, tc := range s.Columns {
		if len(tc.Columns) == 0 {
			fmt.Fprintf(b, "%s: (none detected)\n", tc.Table)
			continue
		}
		fmt.Fprintf(b, "%s: %s\n", tc.Table, strings.Join(tc.Columns, ", "))
	}
	if len(s.Tables) > 0 && len(s.UniqueColumns) > 0 {
		fmt.Fprintf(b, "\nAll unique columns: %s\n", strings.Join(s.UniqueColumns, ", "))
	}
	b.WriteString("\n")

	p.section(b, SectionConditions)
	if len(s.Conditions) == 0 {
		b.WriteString("None\n")
	} else {
		var filters, joins int
		for i, c := range s.Conditions {
			fmt.Fprintf(b, "%d. [%s] %s %s %s\n", i+1, c.Type, c.Left, c.Operator, c.Right)
			if c.Type == analyzer.ConditionJoin {
				joins++
			} else {
				filters++
			}
		}
		fmt.Fprintf(b, "\nTotal: %d (FILTER: %d, JOIN: %d)\n", len(s.Conditions), filters, joins)
	}
	b.WriteString("\n")

	p.section(b, SectionJoins)
	if len(s.Joins) == 0 {
		b.WriteString("None\n")
	}
	for i, j := range s.Joins {
		left, right := j.LeftTable, j.RightTable
		if j.JoinType == analyzer.JoinImplicitInner {
			left, right = withAlias(left, j.LeftAlias), withAlias(right, j.RightAlias)
		}
		fmt.Fprintf(b, "%d. %s: %s ⋈ %s\n", i+1, j.JoinType, left, right)
		if j.Condition != "" {
			fmt.Fprintf(b, "   ON %s\n", j.Condition)
		}
	}
}

func withAlias(table, alias string) string {
	if alias == "" || strings.EqualFold(alias, table) {
		return table
	}
	return fmt.Sprintf("%s (%s)", table, alias)
}

func newTable(b *strings.Builder) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(b)
	t.SetStyle(table.StyleLight)
	return t
}

func writeStatistics(b *strings.Builder, p palette, s Statement) {
	stats := s.Stats
	if stats == nil {
		stats = &metadata.Stats{}
	}

	p.section(b, "STATISTICS")
	t := newTable(b)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Query Type", stats.QueryType})
	t.AppendRow(table.Row{"Tables", len(stats.Tables)})
	if len(stats.Targets) > 0 {
		t.AppendRow(table.Row{"Targets", strings.Join(stats.Targets, ", ")})
	}
	t.AppendRow(table.Row{"JOIN keywords", stats.JoinKeywords})
	t.AppendRow(table.Row{"Joins detected", stats.DetectedJoins})
	t.AppendRow(table.Row{"Subqueries", stats.Subqueries})
	t.AppendRow(table.Row{"CTEs (WITH clauses)", stats.CTEs})
	t.AppendRow(table.Row{"WHERE Conditions", stats.WhereConditions})
	if stats.Parsed {
		t.AppendRow(table.Row{"PostgreSQL parse", "ok"})
		t.AppendRow(table.Row{"Fingerprint", stats.Fingerprint})
	} else {
		t.AppendRow(table.Row{"PostgreSQL parse", "failed"})
	}
	t.Render()
	b.WriteString("\n")

	p.section(b, "COLUMNS BY TABLE")
	if len(s.Columns) == 0 {
		b.WriteString("None\n")
		return
	}
	ct := newTable(b)
	ct.AppendHeader(table.Row{"Table", "Count", "Columns"})
	for _, tc := range s.Columns {
		ct.AppendRow(table.Row{tc.Table, len(tc.Columns), strings.Join(tc.Columns, ", ")})
	}
	ct.Render()
}

func writeFindings(b *strings.Builder, p palette, findings []lint.Finding) {
	p.section(b, "FINDINGS")
	if len(findings) == 0 {
		b.WriteString("No issues found\n")
		return
	}
	for i, f := range findings {
		fmt.Fprintf(b, "%d. [%s] %s: %s\n", i+1, p.sev(f.Severity), f.RuleID, f.Title)
		if f.Message != "" {
			fmt.Fprintf(b, "   %s\n", f.Message)
		}
		if f.Advice != "" {
			fmt.Fprintf(b, "   Advice: %s\n", f.Advice)
		}
	}
	top, _ := lint.MaxSeverity(findings)
	fmt.Fprintf(b, "\nTotal: %d (highest: %s)\n", len(findings), p.sev(top))
}

func writePlan(b *strings.Builder, p palette, section *PlanSection) {
	p.section(b, "PLAN")
	b.WriteString(section.Tree)
	fmt.Fprintf(b, "\nTotal cost: %d\n\n", section.TotalCost)

	p.section(b, "PLAN FINDINGS")
	if len(section.Findings) == 0 {
		b.WriteString("None\n")
	} else {
		t := newTable(b)
		t.AppendHeader(table.Row{"Id", "Severity", "Check", "Message"})
		for _, f := range section.Findings {
			t.AppendRow(table.Row{f.NodeID, p.sev(f.Severity), f.Check, f.Message})
		}
		t.Render()
	}
	b.WriteString("\n")

	p.section(b, "JOIN METHODS")
	if len(section.JoinMethods) == 0 {
		b.WriteString("None\n")
		return
	}
	for _, m := range sortedKeys(section.JoinMethods) {
		fmt.Fprintf(b, "%s: %d\n", m, section.JoinMethods[m])
	}
}
