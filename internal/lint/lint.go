package lint

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/nnaka2992/sqlscope/internal/analyzer"
	"github.com/nnaka2992/sqlscope/internal/metadata"
)

//go:embed rules.yaml
var rulesYAML []byte

// ErrUnknownRule is returned when a rule id is not in the catalogue
var ErrUnknownRule = errors.New("unknown lint rule")

// Rule is one entry of the catalogue
type Rule struct {
	ID       string   `yaml:"id"`
	Severity Severity `yaml:"severity"`
	Title    string   `yaml:"title"`
	Message  string   `yaml:"message"`
	Advice   string   `yaml:"advice"`
}

// Finding is a rule that matched a statement
type Finding struct {
	RuleID   string   `json:"rule_id" yaml:"rule_id"`
	Severity Severity `json:"severity" yaml:"severity"`
	Title    string   `json:"title" yaml:"title"`
	Message  string   `json:"message" yaml:"message"`
	Advice   string   `json:"advice" yaml:"advice"`
}

// Input is the statement under inspection
type Input struct {
	// SQL is the normalized statement without comments
	SQL    string
	Result *analyzer.Result
	Stats  *metadata.Stats
}

// yamlRoot represents the root structure of rules.yaml
type yamlRoot struct {
	Rules []Rule `yaml:"rules"`
}

// catalogue holds the rules in file order
var catalogue []Rule

func init() {
	var root yamlRoot
	if err := yaml.Unmarshal(rulesYAML, &root); err != nil {
		panic(fmt.Sprintf("failed to parse rules.yaml: %v", err))
	}
	for _, r := range root.Rules {
		if _, ok := detectors[r.ID]; !ok {
			panic(fmt.Sprintf("rules.yaml: no detector for rule %s", r.ID))
		}
	}
	catalogue = root.Rules
}

// Linter checks statements against the rule catalogue
type Linter interface {
	// Lint returns the findings for one statement in catalogue order
	Lint(in Input) []Finding

	// HasRule reports whether id names a catalogue rule
	HasRule(id string) bool

	// Rules returns the enabled rules
	Rules() []Rule
}

// Option configures a Linter
type Option func(*linter)

// WithDisabled switches rules off by id
func WithDisabled(ids ...string) Option {
	return func(l *linter) {
		for _, id := range ids {
			l.disabled[strings.ToUpper(strings.TrimSpace(id))] = true
		}
	}
}

// WithLogger sets the logger for template failures
func WithLogger(logger *slog.Logger) Option {
	return func(l *linter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// linter implements the Linter interface
type linter struct {
	disabled map[string]bool
	logger   *slog.Logger
}

// New creates a linter. Disabling a rule that does not exist is an error.
func New(opts ...Option) (Linter, error) {
	l := &linter{
		disabled: map[string]bool{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	for id := range l.disabled {
		if !l.HasRule(id) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRule, id)
		}
	}
	return l, nil
}

func (l *linter) HasRule(id string) bool {
	for _, r := range catalogue {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (l *linter) Rules() []Rule {
	rules := make([]Rule, 0, len(catalogue))
	for _, r := range catalogue {
		if !l.disabled[r.ID] {
			rules = append(rules, r)
		}
	}
	return rules
}

func (l *linter) Lint(in Input) []Finding {
	if in.Result == nil {
		in.Result = &analyzer.Result{}
	}
	if in.Stats == nil {
		in.Stats = &metadata.Stats{}
	}
	base := in.Stats.TemplateData()

	var findings []Finding
	for _, rule := range l.Rules() {
		for _, match := range detectors[rule.ID](in) {
			data := make(map[string]interface{}, len(base)+len(match))
			for k, v := range base {
				data[k] = v
			}
			for k, v := range match {
				data[k] = v
			}
			findings = append(findings, Finding{
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Title:    l.render(rule.ID, rule.Title, data),
				Message:  l.render(rule.ID, rule.Message, data),
				Advice:   l.render(rule.ID, rule.Advice, data),
			})
		}
	}
	return findings
}

// render executes a catalogue template. A template that fails is shown as
// written.
func (l *linter) render(id, tmplStr string, data map[string]interface{}) string {
	if tmplStr == "" || !strings.Contains(tmplStr, "{{") {
		return tmplStr
	}

	funcMap := template.FuncMap{
		"join":   strings.Join,
		"printf": fmt.Sprintf,
	}

	tmpl, err := template.New(id).Funcs(funcMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		l.logger.Debug("lint template does not parse", "rule", id, "error", err)
		return tmplStr
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		l.logger.Debug("lint template failed", "rule", id, "error", err)
		return tmplStr
	}
	return buf.String()
}

// MaxSeverity returns the highest severity among findings and whether
// there were any
func MaxSeverity(findings []Finding) (Severity, bool) {
	if len(findings) == 0 {
		return SeverityInfo, false
	}
	top := findings[0].Severity
	for _, f := range findings[1:] {
		if f.Severity > top {
			top = f.Severity
		}
	}
	return top, true
}
