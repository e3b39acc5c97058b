package graph

import (
	"fmt"
	"strings"
)

// Formula is the derivation tree of a node, cut at labeled ancestors. It
// carries rendered values so it survives persistence without the arena.
type Formula struct {
	Label string   `json:"label,omitempty"`
	Text  string   `json:"value"`
	Op    string   `json:"op,omitempty"`
	Param string   `json:"param,omitempty"`
	Left  *Formula `json:"left,omitempty"`
	Right *Formula `json:"right,omitempty"`
}

// IsLeaf reports whether f is an operand reference rather than an operation.
func (f *Formula) IsLeaf() bool { return f.Op == "" }

// Formula builds the derivation tree of id. The root is always expanded;
// labeled ancestors below it appear as leaves.
func (g *Graph) Formula(id NodeID) *Formula {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	if n.formula != nil {
		f := *n.formula
		f.Text = n.Value.String()
		return &f
	}
	return g.expand(n, true)
}

func (g *Graph) expand(n *Node, root bool) *Formula {
	f := &Formula{Label: n.Label, Text: n.Value.String()}
	if n.Op == "" || (!root && n.Label != "") {
		return f
	}
	f.Op = n.Op
	f.Param = n.Param
	if l := g.Node(n.Left); l != nil {
		f.Left = g.expand(l, false)
	}
	if r := g.Node(n.Right); r != nil {
		f.Right = g.expand(r, false)
	}
	return f
}

// Explain renders a one-line derivation of id, substituting labels and then
// values, e.g. "total = (a + b) = (1 kWh + 2 kWh) = 3 kWh".
func (g *Graph) Explain(id NodeID) (string, error) {
	f := g.Formula(id)
	if f == nil {
		return "", fmt.Errorf("explain node %d: %w", id, ErrNodeNotFound)
	}
	return f.Explain(), nil
}

// Explain renders the derivation held by f.
func (f *Formula) Explain() string {
	label := f.Label
	if label == "" {
		label = "unnamed value"
	}
	if f.IsLeaf() {
		return label + " = " + f.Text
	}
	return strings.Join([]string{label, f.Render(false), f.Render(true), f.Text}, " = ")
}

// Render prints the formula with operand labels, or with operand values
// when values is set.
func (f *Formula) Render(values bool) string {
	return f.render(values, true)
}

func (f *Formula) render(values, top bool) string {
	if f.IsLeaf() {
		if values || f.Label == "" {
			return f.Text
		}
		return f.Label
	}
	var left, right string
	if f.Left != nil {
		left = f.Left.render(values, false)
	}
	if f.Right != nil {
		right = f.Right.render(values, false)
	}
	switch {
	case IsParametric(f.Op):
		return left + " " + f.Op + " " + f.Param
	case IsUnary(f.Op):
		return f.Op + "(" + left + ")"
	}
	expr := left + " " + f.Op + " " + right
	if top {
		return expr
	}
	return "(" + expr + ")"
}

// Ancestors lists the labeled ancestors a node was directly computed from,
// looking through unlabeled intermediates.
func (g *Graph) Ancestors(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	var out []NodeID
	seen := make(map[NodeID]bool)
	var walk func(p NodeID)
	walk = func(p NodeID) {
		pn := g.Node(p)
		if pn == nil || seen[p] {
			return
		}
		seen[p] = true
		if pn.Label != "" {
			out = append(out, p)
			return
		}
		walk(pn.Left)
		walk(pn.Right)
	}
	walk(n.Left)
	walk(n.Right)
	return out
}
