package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Constants for parser operations
const (
	// bomSize is the size of UTF-8 BOM in bytes
	bomSize = 3

	// initialLineNumber is the starting line number for SQL statements
	initialLineNumber = 1
)

// utf8BOM represents the UTF-8 byte order mark
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParsedStatement represents a single SQL statement with its metadata
type ParsedStatement struct {
	// AST is the PostgreSQL syntax tree. It is nil when the statement is
	// not valid PostgreSQL, which is common for Oracle SQL.
	AST *pg_query.ParseResult

	// SQL is the original SQL text for this statement
	SQL string

	// File is the path the statement was read from. It is empty for SQL
	// given as a string.
	File string

	// Body is SQL with comments removed, the text handed to the analyzer
	Body string

	// LineNumber is the line number where this statement starts (1-based)
	LineNumber int

	// Fingerprint identifies statements that differ only in literals. It is
	// empty when the statement could not be parsed.
	Fingerprint string

	// ParseError holds the PostgreSQL parser diagnostic, if any
	ParseError string
}

// Parsed reports whether the statement is valid PostgreSQL.
func (s ParsedStatement) Parsed() bool {
	return s.AST != nil
}

// ParseResult represents the result of parsing SQL content
type ParseResult struct {
	// Statements contains all SQL statements in order
	Statements []ParsedStatement
}

// Parser interface defines the contract for SQL parsing operations
type Parser interface {
	// ParseSQL splits a SQL string into statements
	ParseSQL(sql string) (*ParseResult, error)

	// ParseFile reads and splits one SQL file
	ParseFile(path string) (*ParseResult, error)

	// ParseFiles reads and splits several SQL files in order
	ParseFiles(paths []string) (*ParseResult, error)
}

// parser implements the Parser interface
type parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser instance
func NewParser() Parser {
	return NewParserWithLogger(nil)
}

// NewParserWithLogger creates a parser that reports split fallbacks and
// parse diagnostics at debug level.
func NewParserWithLogger(logger *slog.Logger) Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &parser{logger: logger}
}

// ParseSQL splits SQL into statements. Statements the PostgreSQL parser
// rejects are kept with their diagnostic in ParseError. When the scanner
// cannot tokenize the input at all, it is treated as a single statement.
func (p *parser) ParseSQL(sql string) (*ParseResult, error) {
	if sql == "" {
		return emptyParseResult(), nil
	}

	// Clean the SQL input
	sql = cleanSQL(sql)

	// Split SQL into individual statements
	statements, err := pg_query.SplitWithScanner(sql, true)
	if err != nil {
		p.logger.Debug("scanner could not split input, using it as one statement", "error", err)
		statements = fallbackSplit(sql)
	}

	if len(statements) == 0 {
		return emptyParseResult(), nil
	}

	return p.parseStatements(sql, statements), nil
}

// ParseFile reads path and splits it into statements. Each statement
// records path as its File.
func (p *parser) ParseFile(path string) (*ParseResult, error) {
	if path == "" {
		return nil, errors.New("file path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	result, err := p.ParseSQL(string(content))
	if err != nil {
		return nil, fmt.Errorf("splitting %s: %w", path, err)
	}
	for i := range result.Statements {
		result.Statements[i].File = path
	}
	return result, nil
}

// ParseFiles parses paths in order as one script. Line numbers restart in
// every file.
func (p *parser) ParseFiles(paths []string) (*ParseResult, error) {
	all := emptyParseResult()
	for _, path := range paths {
		result, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		all.Statements = append(all.Statements, result.Statements...)
	}
	return all, nil
}

// parseStatements locates each statement in the original SQL and attaches
// its line number, comment-free body and PostgreSQL diagnostics
func (p *parser) parseStatements(originalSQL string, statements []string) *ParseResult {
	result := &ParseResult{
		Statements: make([]ParsedStatement, 0, len(statements)),
	}

	offset := 0
	for i, stmtSQL := range statements {
		// Find where this statement appears in the original SQL
		idx := strings.Index(originalSQL[offset:], stmtSQL)
		if idx == -1 {
			// This should rarely happen, but handle it gracefully
			continue
		}

		stmtStart := offset + idx
		lineNum := calculateLineNumber(originalSQL, stmtStart)

		body := StripComments(stmtSQL)
		if strings.TrimSpace(body) == "" {
			offset = stmtStart + len(stmtSQL)
			continue
		}

		stmt := ParsedStatement{
			SQL:        stmtSQL,
			Body:       body,
			LineNumber: lineNum,
		}
		ast, err := pg_query.Parse(stmtSQL)
		if err != nil {
			stmt.ParseError = err.Error()
			p.logger.Debug("statement is not valid PostgreSQL", "statement", i+1, "line", lineNum, "error", err)
		} else {
			stmt.AST = ast
			if fp, err := pg_query.Fingerprint(stmtSQL); err == nil {
				stmt.Fingerprint = fp
			}
		}
		result.Statements = append(result.Statements, stmt)

		// Move offset forward for next search
		offset = stmtStart + len(stmtSQL)
	}

	return result
}

// fallbackSplit returns the whole input as one statement without its
// trailing semicolon
func fallbackSplit(sql string) []string {
	trimmed := strings.TrimSpace(sql)
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	if trimmed == "" {
		return nil
	}
	return []string{trimmed}
}

// StripComments removes `--` and `/* */` comments from sql, leaving a
// space in their place. The PostgreSQL scanner locates comments when it
// can tokenize the input; otherwise a quote-aware scan is used.
func StripComments(sql string) string {
	scan, err := pg_query.Scan(sql)
	if err != nil {
		return stripCommentsManually(sql)
	}
	var b strings.Builder
	last := 0
	for _, tok := range scan.Tokens {
		if tok.Token != pg_query.Token_SQL_COMMENT && tok.Token != pg_query.Token_C_COMMENT {
			continue
		}
		start, end := int(tok.Start), int(tok.End)
		if start < last || end > len(sql) {
			continue
		}
		b.WriteString(sql[last:start])
		b.WriteByte(' ')
		last = end
	}
	b.WriteString(sql[last:])
	return strings.TrimSpace(b.String())
}

func stripCommentsManually(sql string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// cleanSQL removes BOM and normalizes the SQL string
func cleanSQL(sql string) string {
	return string(stripBOM([]byte(sql)))
}

// emptyParseResult returns an empty ParseResult
func emptyParseResult() *ParseResult {
	return &ParseResult{Statements: []ParsedStatement{}}
}

// calculateLineNumber calculates the line number for a given position in the SQL string
func calculateLineNumber(sql string, position int) int {
	if position == 0 {
		return initialLineNumber
	}

	lineNumber := initialLineNumber
	for i := 0; i < position && i < len(sql); i++ {
		if sql[i] == '\n' {
			lineNumber++
		}
	}
	return lineNumber
}

// stripBOM removes the UTF-8 BOM if present
func stripBOM(content []byte) []byte {
	if len(content) >= bomSize && bytes.HasPrefix(content, utf8BOM) {
		return content[bomSize:]
	}
	return content
}
