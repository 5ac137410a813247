package plan

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoPlan is returned when the input holds no plan table
var ErrNoPlan = errors.New("no plan table found")

// continuationIndent is the minimum indentation of a wrapped predicate
const continuationIndent = 6

var (
	predicateLine = regexp.MustCompile(`^\s*(\d+)\s+-\s+(.+)$`)
	costCell      = regexp.MustCompile(`^([\d.]+[KMGT]?)\s*(?:\(\s*(\d+)\s*\))?$`)
)

// Node is one operation of the plan
type Node struct {
	ID           int      `json:"id" yaml:"id"`
	Depth        int      `json:"depth" yaml:"depth"`
	Operation    string   `json:"operation" yaml:"operation"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Rows         int64    `json:"rows" yaml:"rows"`
	Bytes        int64    `json:"bytes" yaml:"bytes"`
	Cost         int64    `json:"cost" yaml:"cost"`
	CPUPercent   int      `json:"cpu_percent" yaml:"cpu_percent"`
	Time         string   `json:"time,omitempty" yaml:"time,omitempty"`
	HasPredicate bool     `json:"has_predicate" yaml:"has_predicate"`
	Predicates   []string `json:"predicates,omitempty" yaml:"predicates,omitempty"`
	Children     []*Node  `json:"-" yaml:"-"`
}

// Plan is a parsed DBMS_XPLAN table
type Plan struct {
	// Nodes holds every operation in table order
	Nodes []*Node `json:"nodes" yaml:"nodes"`
	// Root is the first operation, usually the statement node
	Root *Node `json:"-" yaml:"-"`
}

// Node returns the operation with the given id
func (p *Plan) Node(id int) *Node {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// columns maps the plan table header to cell positions
type columns struct {
	id, operation, name, rows, bytes, cost, time int
}

func newColumns(cells []string) (columns, bool) {
	c := columns{id: -1, operation: -1, name: -1, rows: -1, bytes: -1, cost: -1, time: -1}
	for i, cell := range cells {
		head := strings.ToUpper(strings.TrimSpace(cell))
		switch {
		case head == "ID":
			c.id = i
		case head == "OPERATION":
			c.operation = i
		case head == "NAME":
			c.name = i
		case head == "ROWS" || head == "E-ROWS":
			c.rows = i
		case head == "BYTES" || head == "E-BYTES":
			c.bytes = i
		case strings.HasPrefix(head, "COST"):
			c.cost = i
		case head == "TIME" || head == "E-TIME":
			c.time = i
		}
	}
	return c, c.id >= 0 && c.operation >= 0
}

// Parse reads DBMS_XPLAN output. Columns are located by their header
// names; nesting comes from the indentation of the Operation text. The
// "Predicate Information" section, when present, is attached to the nodes.
func Parse(text string) (*Plan, error) {
	plan := &Plan{}
	var cols columns
	var haveCols, inPreds bool
	var indents []int
	var lastPred *Node

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(strings.ToUpper(trimmed), "PREDICATE INFORMATION") {
			inPreds = true
			continue
		}
		if strings.EqualFold(trimmed, "Note") {
			inPreds = false
			continue
		}
		if inPreds {
			lastPred = attachPredicate(plan, line, lastPred)
			continue
		}
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}

		cells := splitRow(trimmed)
		if !haveCols {
			cols, haveCols = newColumns(cells)
			continue
		}
		node, indent, err := parseRow(cells, cols)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		plan.Nodes = append(plan.Nodes, node)
		indents = append(indents, indent)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	if len(plan.Nodes) == 0 {
		return nil, ErrNoPlan
	}

	base := indents[0]
	for _, in := range indents {
		if in < base {
			base = in
		}
	}
	for i, n := range plan.Nodes {
		n.Depth = indents[i] - base
	}
	plan.buildTree()
	return plan, nil
}

// splitRow splits `| a | b |` into its cells, keeping their padding
func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	return strings.Split(line, "|")
}

// parseRow reads one table row. Rows whose Id cell is not a number, such
// as repeated headers, are skipped.
func parseRow(cells []string, cols columns) (*Node, int, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(cells) {
			return ""
		}
		return cells[i]
	}

	idText := strings.TrimSpace(cell(cols.id))
	hasPredicate := strings.HasPrefix(idText, "*")
	idText = strings.TrimSpace(strings.TrimPrefix(idText, "*"))
	id, err := strconv.Atoi(idText)
	if err != nil {
		return nil, 0, nil
	}

	opRaw := strings.TrimPrefix(cell(cols.operation), " ")
	indent := len(opRaw) - len(strings.TrimLeft(opRaw, " "))

	node := &Node{
		ID:           id,
		Operation:    strings.TrimSpace(opRaw),
		Name:         strings.TrimSpace(cell(cols.name)),
		Time:         strings.TrimSpace(cell(cols.time)),
		HasPredicate: hasPredicate,
	}
	if node.Rows, err = parseQuantity(cell(cols.rows)); err != nil {
		return nil, 0, fmt.Errorf("plan line %d: rows: %w", id, err)
	}
	if node.Bytes, err = parseQuantity(cell(cols.bytes)); err != nil {
		return nil, 0, fmt.Errorf("plan line %d: bytes: %w", id, err)
	}
	if cost := strings.TrimSpace(cell(cols.cost)); cost != "" {
		m := costCell.FindStringSubmatch(cost)
		if m == nil {
			return nil, 0, fmt.Errorf("plan line %d: malformed cost %q", id, cost)
		}
		if node.Cost, err = parseQuantity(m[1]); err != nil {
			return nil, 0, fmt.Errorf("plan line %d: cost: %w", id, err)
		}
		if m[2] != "" {
			node.CPUPercent, _ = strconv.Atoi(m[2])
		}
	}
	return node, indent, nil
}

// parseQuantity expands the K, M, G and T suffixes DBMS_XPLAN uses for
// large numbers. An empty cell is zero.
func parseQuantity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K':
		mult = 1e3
	case 'M':
		mult = 1e6
	case 'G':
		mult = 1e9
	case 'T':
		mult = 1e12
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed quantity %q", s)
	}
	return int64(v * mult), nil
}

// attachPredicate handles one line of the predicate section. A line that
// does not start with an id continues the previous predicate.
func attachPredicate(p *Plan, line string, last *Node) *Node {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.Trim(trimmed, "-") == "" {
		return last
	}
	if m := predicateLine.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[1])
		n := p.Node(id)
		if n == nil {
			return nil
		}
		n.Predicates = append(n.Predicates, strings.TrimSpace(m[2]))
		return n
	}
	indent := len(line) - len(strings.TrimLeft(line, " "))
	if last != nil && len(last.Predicates) > 0 && indent >= continuationIndent {
		i := len(last.Predicates) - 1
		last.Predicates[i] += " " + trimmed
	}
	return last
}

// buildTree links every node to the closest preceding shallower node
func (p *Plan) buildTree() {
	p.Root = p.Nodes[0]
	var stack []*Node
	for _, n := range p.Nodes {
		for len(stack) > 0 && stack[len(stack)-1].Depth >= n.Depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, n)
		}
		stack = append(stack, n)
	}
}

// Tree renders the plan as an indented outline, one operation per line
func (p *Plan) Tree() string {
	var b strings.Builder
	var visit func(n *Node, prefix string, last bool, top bool)
	visit = func(n *Node, prefix string, last bool, top bool) {
		branch, next := "", ""
		if !top {
			branch, next = "├─ ", "│  "
			if last {
				branch, next = "└─ ", "   "
			}
		}
		b.WriteString(prefix + branch + n.label() + "\n")
		for i, c := range n.Children {
			visit(c, prefix+next, i == len(n.Children)-1, false)
		}
	}
	for _, n := range p.Nodes {
		if n.Depth == 0 {
			visit(n, "", true, true)
		}
	}
	return b.String()
}

func (n *Node) label() string {
	var b strings.Builder
	if n.HasPredicate {
		b.WriteString("*")
	}
	fmt.Fprintf(&b, "%d %s", n.ID, n.Operation)
	if n.Name != "" {
		b.WriteString(" " + n.Name)
	}
	fmt.Fprintf(&b, " (rows=%d cost=%d)", n.Rows, n.Cost)
	return b.String()
}
