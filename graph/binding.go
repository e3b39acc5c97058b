package graph

import (
	"fmt"
	"slices"

	"github.com/Boavizta/e-footprint-sub000/value"
)

// Binding identifies the entity attribute a live node backs. Key is set for
// entries of keyed collection attributes and empty otherwise.
type Binding struct {
	EntityID string `json:"entity_id"`
	Attr     string `json:"attr"`
	Key      string `json:"key,omitempty"`
}

func (b Binding) String() string {
	if b.Key != "" {
		return fmt.Sprintf("%s.%s[%s]", b.EntityID, b.Attr, b.Key)
	}
	return b.EntityID + "." + b.Attr
}

// Collection returns the binding of the collection attribute owning an
// entry binding. For a non-entry binding it returns b itself.
func (b Binding) Collection() Binding {
	return Binding{EntityID: b.EntityID, Attr: b.Attr}
}

// IsEntry reports whether the binding targets a keyed collection entry.
func (b Binding) IsEntry() bool { return b.Key != "" }

// Bind makes id the live node for b and registers it as a child of its
// nearest bound ancestors.
func (g *Graph) Bind(id NodeID, b Binding) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("bind %s: %w", b, ErrNodeNotFound)
	}
	if n.Owner != nil {
		return fmt.Errorf("bind %s: node %d owned by %s: %w", b, id, *n.Owner, ErrAlreadyOwned)
	}
	if n.Label == "" {
		return fmt.Errorf("bind %s: node %d: %w", b, id, ErrUnlabeled)
	}

	owner := b
	n.Owner = &owner
	g.live++
	ancestors := g.OwnedAncestors(id)
	for _, a := range ancestors {
		an := g.nodes[a-1]
		if !slices.Contains(an.children, id) {
			an.children = append(an.children, id)
		}
	}
	n.registeredWith = ancestors

	g.Record(func() { g.detach(n) })
	return nil
}

// Unbind demotes a live node to a pure provenance ancestor. The node keeps
// its own child list so the resolver can still find what was derived from
// it.
func (g *Graph) Unbind(id NodeID) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("unbind node %d: %w", id, ErrNodeNotFound)
	}
	if n.Owner == nil {
		return fmt.Errorf("unbind node %d: %w", id, ErrNotOwned)
	}
	owner := *n.Owner
	registered := n.registeredWith
	positions := make([]int, len(registered))
	for i, a := range registered {
		positions[i] = slices.Index(g.nodes[a-1].children, id)
	}
	g.detach(n)

	g.Record(func() {
		n.Owner = &owner
		g.live++
		n.registeredWith = registered
		for i, a := range registered {
			an := g.nodes[a-1]
			if positions[i] < 0 || slices.Contains(an.children, id) {
				continue
			}
			an.children = slices.Insert(an.children, min(positions[i], len(an.children)), id)
		}
	})
	return nil
}

func (g *Graph) detach(n *Node) {
	for _, a := range n.registeredWith {
		if an := g.Node(a); an != nil {
			an.children = slices.DeleteFunc(an.children, func(c NodeID) bool { return c == n.ID })
		}
	}
	n.registeredWith = nil
	n.Owner = nil
	g.live--
}

// LeafWithFormula adds a parentless node carrying a persisted derivation,
// so that it still explains itself.
func (g *Graph) LeafWithFormula(v value.Value, label string, src *Source, f *Formula) NodeID {
	n := &Node{Value: v, Label: label, Source: src, formula: f}
	if f != nil {
		n.Op = f.Op
		n.Param = f.Param
	}
	return g.insert(n)
}

// Restore re-establishes a binding and child list loaded from a persisted
// form. Unlike Bind it does not derive back-references from parent edges,
// since the persisted parents may have been pruned.
func (g *Graph) Restore(id NodeID, b Binding, children []NodeID) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("restore %s: %w", b, ErrNodeNotFound)
	}
	if n.Owner != nil {
		return fmt.Errorf("restore %s: %w", b, ErrAlreadyOwned)
	}
	owner := b
	n.Owner = &owner
	g.live++
	for _, c := range children {
		if g.Node(c) == nil {
			return fmt.Errorf("restore %s: child %d: %w", b, c, ErrNodeNotFound)
		}
		if !slices.Contains(n.children, c) {
			n.children = append(n.children, c)
		}
	}
	return nil
}

// LinkRestored records, for every live node, which ancestors list it as a
// child, so that later unbinding removes the right back-references. It is
// run once after all Restore calls.
func (g *Graph) LinkRestored() {
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, c := range n.children {
			cn := g.Node(c)
			if cn == nil || slices.Contains(cn.registeredWith, n.ID) {
				continue
			}
			cn.registeredWith = append(cn.registeredWith, n.ID)
		}
	}
}
