// Package graph provides the provenance-tracking expression graph: an arena
// of value nodes, each holding a computed value plus edges to the (up to
// two) parent nodes and the operator that produced it.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Boavizta/e-footprint-sub000/value"
)

var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrAlreadyOwned   = errors.New("node already bound to an attribute")
	ErrUnlabeled      = errors.New("node must be labeled before it is bound")
	ErrNotOwned       = errors.New("node is not bound")
	ErrJournalActive  = errors.New("a journal is already active")
	ErrNoJournal      = errors.New("no active journal")
	ErrSweepInJournal = errors.New("cannot sweep while a journal is active")
)

// NodeID indexes a node in the arena. The zero NodeID means "no node".
type NodeID uint64

// Source records where an input value comes from.
type Source struct {
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// Node is a value plus its provenance. Nodes are immutable by convention:
// once created, only the owner binding and child back-references change.
type Node struct {
	ID     NodeID
	Value  value.Value
	Label  string
	Left   NodeID
	Right  NodeID
	Op     string
	Param  string // operator argument that is not a node, e.g. a duration
	Source *Source
	Owner  *Binding

	children       []NodeID
	registeredWith []NodeID

	// formula is the persisted derivation of a node loaded without its
	// parents.
	formula *Formula
}

// Live reports whether the node currently backs an attribute.
func (n *Node) Live() bool { return n.Owner != nil }

// Children returns the live nodes that were computed from this node while
// it was bound. The returned slice is a copy.
func (n *Node) Children() []NodeID {
	out := make([]NodeID, len(n.children))
	copy(out, n.children)
	return out
}

// Parents returns the non-zero parent IDs, left first.
func (n *Node) Parents() []NodeID {
	var out []NodeID
	if n.Left != 0 {
		out = append(out, n.Left)
	}
	if n.Right != 0 {
		out = append(out, n.Right)
	}
	return out
}

// Graph is the arena owning every node. It is not safe for concurrent use.
type Graph struct {
	nodes   []*Node
	live    int
	journal *journal
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{}
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id == 0 || int(id) > len(g.nodes) {
		return nil
	}
	return g.nodes[id-1]
}

// Value returns the value held by id, or Empty when id is unknown.
func (g *Graph) Value(id NodeID) value.Value {
	if n := g.Node(id); n != nil && n.Value != nil {
		return n.Value
	}
	return value.Empty{}
}

// Len returns the number of nodes held by the arena.
func (g *Graph) Len() int {
	count := 0
	for _, n := range g.nodes {
		if n != nil {
			count++
		}
	}
	return count
}

// LiveCount returns the number of bound nodes.
func (g *Graph) LiveCount() int { return g.live }

// Leaf adds a parentless node, typically an input or a labeled constant.
func (g *Graph) Leaf(v value.Value, label string) NodeID {
	return g.insert(&Node{Value: v, Label: label})
}

// LeafWithSource adds a parentless node that records its origin.
func (g *Graph) LeafWithSource(v value.Value, label string, src Source) NodeID {
	return g.insert(&Node{Value: v, Label: label, Source: &src})
}

func (g *Graph) insert(n *Node) NodeID {
	if n.Value == nil {
		n.Value = value.Empty{}
	}
	g.nodes = append(g.nodes, n)
	n.ID = NodeID(len(g.nodes))
	return n.ID
}

// SetLabel names a node. Labels are mandatory before binding. The change
// is journaled.
func (g *Graph) SetLabel(id NodeID, label string) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("label %q: %w", label, ErrNodeNotFound)
	}
	prev := n.Label
	n.Label = label
	g.Record(func() { n.Label = prev })
	return nil
}

// SetSource attaches a source to a node.
func (g *Graph) SetSource(id NodeID, src Source) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("source %q: %w", src.Name, ErrNodeNotFound)
	}
	prev := n.Source
	n.Source = &src
	g.Record(func() { n.Source = prev })
	return nil
}

// Live returns the IDs of all bound nodes in ascending order.
func (g *Graph) Live() []NodeID {
	out := make([]NodeID, 0, g.live)
	for _, n := range g.nodes {
		if n != nil && n.Owner != nil {
			out = append(out, n.ID)
		}
	}
	return out
}

// OwnedAncestors returns the nearest bound ancestors of id, walking through
// unbound intermediate nodes. These are the nodes whose child lists hold id
// once it is bound.
func (g *Graph) OwnedAncestors(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	seen := make(map[NodeID]bool)
	var out []NodeID
	var walk func(p NodeID)
	walk = func(p NodeID) {
		if p == 0 || seen[p] {
			return
		}
		seen[p] = true
		pn := g.Node(p)
		if pn == nil {
			return
		}
		if pn.Owner != nil {
			out = append(out, p)
			return
		}
		walk(pn.Left)
		walk(pn.Right)
	}
	walk(n.Left)
	walk(n.Right)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReplaceValue swaps the value held by a node in place. It exists for the
// simulation engine's temporary truncations and is journaled.
func (g *Graph) ReplaceValue(id NodeID, v value.Value) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("replace value: %w", ErrNodeNotFound)
	}
	prev := n.Value
	n.Value = v
	g.Record(func() { n.Value = prev })
	return nil
}
