package report

import (
	"fmt"
	"strings"
)

// Format selects the report variant
type Format string

const (
	FormatStructural  Format = "structural"
	FormatStatistics  Format = "statistics"
	FormatOracleLint  Format = "oracle-lint"
	FormatExplainPlan Format = "explain-plan"
)

// Formats lists every variant in display order
var Formats = []Format{FormatStructural, FormatStatistics, FormatOracleLint, FormatExplainPlan}

// ParseFormat parses a variant name, ignoring case
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown report format %q (want one of %s)", name, joinFormats())
}

func joinFormats() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Encoding selects how a document is written
type Encoding string

const (
	EncodingText Encoding = "text"
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// ParseEncoding parses an output encoding name, ignoring case
func ParseEncoding(name string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(name))); e {
	case EncodingText, EncodingJSON, EncodingYAML:
		return e, nil
	default:
		return "", fmt.Errorf("unknown output %q (want text, json or yaml)", name)
	}
}
