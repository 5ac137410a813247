package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxInputBytes caps the statement size accepted by Analyze.
const DefaultMaxInputBytes = 1 << 20

var (
	// ErrEmptyInput is returned for blank input. It is not a failure: the
	// caller clears its output and produces no report.
	ErrEmptyInput = errors.New("empty input")

	// ErrInputTooLarge is wrapped by the AnalysisError returned when the
	// input exceeds the configured size cap.
	ErrInputTooLarge = errors.New("input exceeds size limit")
)

// AnalysisError reports a pass that could not produce a report.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return e.Err.Error()
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// CheckSize returns an *AnalysisError wrapping ErrInputTooLarge when sql
// is longer than limit bytes. A limit of zero or less accepts any size.
func CheckSize(sql string, limit int) error {
	return CheckLength(int64(len(sql)), limit)
}

// CheckLength is CheckSize for input of n bytes that has not been read yet
func CheckLength(n int64, limit int) error {
	if limit > 0 && n > int64(limit) {
		return &AnalysisError{Err: fmt.Errorf("%w: %d bytes, limit is %d", ErrInputTooLarge, n, limit)}
	}
	return nil
}

// Analyzer extracts the structure of a single SQL statement
type Analyzer interface {
	// Analyze normalizes sql and returns its tables, columns, conditions
	// and joins
	Analyze(sql string) (*Result, error)
}

// Option configures an Analyzer
type Option func(*analyzer)

// WithColumnLookahead sets how far after a bare identifier an operator,
// comma or ordering keyword may appear for it to count as a column.
func WithColumnLookahead(n int) Option {
	return func(a *analyzer) { a.lookahead = n }
}

// WithConditionDisplayLimit caps the displayed right-hand side of a condition.
func WithConditionDisplayLimit(n int) Option {
	return func(a *analyzer) { a.displayLimit = n }
}

// WithDegradedLeftLimit caps the text kept for a predicate without operator.
func WithDegradedLeftLimit(n int) Option {
	return func(a *analyzer) { a.degradeLimit = n }
}

// WithMaxInputBytes sets the input size cap. Zero or less disables it.
func WithMaxInputBytes(n int) Option {
	return func(a *analyzer) { a.maxInput = n }
}

// WithLogger sets the logger used for debug tracing of each pass.
func WithLogger(logger *slog.Logger) Option {
	return func(a *analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// analyzer is the main implementation of the Analyzer interface
type analyzer struct {
	lookahead    int
	displayLimit int
	degradeLimit int
	maxInput     int
	logger       *slog.Logger
}

// New creates a new analyzer instance
func New(opts ...Option) Analyzer {
	a := &analyzer{
		lookahead:    DefaultColumnLookahead,
		displayLimit: DefaultConditionDisplayLimit,
		degradeLimit: DefaultDegradedLeftLimit,
		maxInput:     DefaultMaxInputBytes,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the pipeline: normalize, resolve tables, then extract
// columns, conditions and joins over the same normalized text. A panic in
// any stage is returned as an *AnalysisError.
func (a *analyzer) Analyze(sql string) (result *Result, err error) {
	if err := CheckSize(sql, a.maxInput); err != nil {
		return nil, err
	}
	normalized := Normalize(sql)
	if normalized == "" {
		return nil, ErrEmptyInput
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("analysis aborted", "panic", r)
			result = nil
			err = &AnalysisError{Err: fmt.Errorf("%v", r)}
		}
	}()

	ts := ResolveTables(normalized)
	result = &Result{
		SQL:          normalized,
		Tables:       ts.Tables,
		Refs:         ts.Refs,
		Aliases:      ts.Aliases,
		FromHasComma: ts.FromHasComma,
		Columns:      ExtractColumns(normalized, ts, a.lookahead),
		Conditions:   ExtractConditions(normalized, ts, a.displayLimit, a.degradeLimit),
		Joins:        ExtractJoins(normalized, ts),
	}
	a.logger.Debug("statement analyzed",
		"tables", len(result.Tables),
		"conditions", len(result.Conditions),
		"joins", len(result.Joins),
		"from_has_comma", result.FromHasComma)
	return result, nil
}
