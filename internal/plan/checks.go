package plan

import (
	"fmt"
	"strings"

	"github.com/nnaka2992/sqlscope/internal/lint"
)

// Defaults for CheckOptions
const (
	DefaultHighCostThreshold = 1000
	DefaultHighCostRatio     = 0.5
)

// Check identifiers
const (
	CheckFullTableScan = "FULL_TABLE_SCAN"
	CheckIndexFullScan = "INDEX_FULL_SCAN"
	CheckHighCost      = "HIGH_COST"
	CheckCostShare     = "DOMINANT_COST"
	CheckCartesian     = "CARTESIAN_JOIN"
)

// CheckOptions tunes the cost checks
type CheckOptions struct {
	// HighCostThreshold flags any operation at or above this cost
	HighCostThreshold int64
	// HighCostRatio flags a leaf operation whose cost is at least this
	// share of the root cost. Zero disables the check.
	HighCostRatio float64
}

// DefaultCheckOptions returns the default thresholds
func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		HighCostThreshold: DefaultHighCostThreshold,
		HighCostRatio:     DefaultHighCostRatio,
	}
}

// Finding is a plan operation worth a second look
type Finding struct {
	Check    string        `json:"check" yaml:"check"`
	NodeID   int           `json:"node_id" yaml:"node_id"`
	Severity lint.Severity `json:"severity" yaml:"severity"`
	Message  string        `json:"message" yaml:"message"`
}

// Report is the outcome of checking a plan
type Report struct {
	Findings []Finding `json:"findings" yaml:"findings"`
	// JoinMethods counts the join operations by method
	JoinMethods map[string]int `json:"join_methods" yaml:"join_methods"`
	TotalCost   int64          `json:"total_cost" yaml:"total_cost"`
}

var joinMethods = []string{"HASH JOIN", "NESTED LOOPS", "MERGE JOIN", "SORT MERGE JOIN"}

// Check walks the plan in table order and reports full scans, expensive
// operations, cartesian joins and the join methods used.
func Check(p *Plan, opts CheckOptions) *Report {
	r := &Report{JoinMethods: map[string]int{}}
	if p == nil || p.Root == nil {
		return r
	}
	r.TotalCost = p.Root.Cost

	for _, n := range p.Nodes {
		op := strings.ToUpper(n.Operation)
		target := n.Name
		if target == "" {
			target = fmt.Sprintf("operation %d", n.ID)
		}

		switch {
		case strings.HasPrefix(op, "TABLE ACCESS") && strings.Contains(op, "FULL"):
			r.add(CheckFullTableScan, n, lint.SeverityWarning,
				fmt.Sprintf("Full table scan on %s (%d rows)", target, n.Rows))
		case strings.HasPrefix(op, "INDEX") && strings.Contains(op, "FULL SCAN"):
			r.add(CheckIndexFullScan, n, lint.SeverityInfo,
				fmt.Sprintf("%s on %s reads the whole index", n.Operation, target))
		}

		if strings.Contains(op, "CARTESIAN") {
			r.add(CheckCartesian, n, lint.SeverityCritical,
				fmt.Sprintf("%s at operation %d: a join predicate is missing", n.Operation, n.ID))
		}

		for _, method := range joinMethods {
			if strings.HasPrefix(op, method) {
				r.JoinMethods[method]++
				break
			}
		}

		if n == p.Root {
			continue
		}
		switch {
		case opts.HighCostThreshold > 0 && n.Cost >= opts.HighCostThreshold:
			r.add(CheckHighCost, n, lint.SeverityWarning,
				fmt.Sprintf("High cost %d at operation %d (%s)", n.Cost, n.ID, n.Operation))
		case opts.HighCostRatio > 0 && r.TotalCost > 0 && len(n.Children) == 0 &&
			float64(n.Cost)/float64(r.TotalCost) >= opts.HighCostRatio:
			share := 100 * float64(n.Cost) / float64(r.TotalCost)
			r.add(CheckCostShare, n, lint.SeverityInfo,
				fmt.Sprintf("Operation %d (%s) accounts for %.0f%% of the total cost", n.ID, n.Operation, share))
		}
	}
	return r
}

func (r *Report) add(check string, n *Node, sev lint.Severity, msg string) {
	r.Findings = append(r.Findings, Finding{Check: check, NodeID: n.ID, Severity: sev, Message: msg})
}
