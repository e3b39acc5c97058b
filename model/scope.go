package model

import (
	"fmt"

	"github.com/Boavizta/e-footprint-sub000/graph"
)

// Scope is handed to update routines. It reads attributes of any
// registered entity and writes the attribute being recomputed. Errors are
// sticky: once one is recorded, further operations are no-ops and the
// routine's result is that error.
type Scope struct {
	*graph.Calc

	m       *Model
	entity  Entity
	attr    string
	written map[string]bool
}

func (m *Model) scope(e Entity, attr string) *Scope {
	return &Scope{
		Calc:    m.g.Calc(),
		m:       m,
		entity:  e,
		attr:    attr,
		written: make(map[string]bool),
	}
}

// Entity returns the entity being recomputed.
func (s *Scope) Entity() Entity { return s.entity }

// Attr returns the attribute being recomputed.
func (s *Scope) Attr() string { return s.attr }

// Get returns the live node of one of the entity's own attributes.
func (s *Scope) Get(attr string) graph.NodeID {
	return s.Of(s.entity, attr)
}

// Of returns the live node of another entity's attribute.
func (s *Scope) Of(e Entity, attr string) graph.NodeID {
	return s.lookup(graph.Binding{EntityID: e.ID(), Attr: attr}, e)
}

// Entry returns the live node of one entry of a collection attribute.
func (s *Scope) Entry(e Entity, attr, key string) graph.NodeID {
	return s.lookup(graph.Binding{EntityID: e.ID(), Attr: attr, Key: key}, e)
}

func (s *Scope) lookup(b graph.Binding, e Entity) graph.NodeID {
	if s.Err() != nil {
		return 0
	}
	id, ok := s.m.bindings[b]
	if !ok {
		s.Fail(fmt.Errorf("%s: reading %s: %w", describe(e), b, ErrUnknownAttribute))
		return 0
	}
	return id
}

// Keys returns the sorted entry keys of a collection attribute.
func (s *Scope) Keys(e Entity, attr string) []string {
	return s.m.Keys(e, attr)
}

// Set labels id and binds it to the attribute being recomputed.
func (s *Scope) Set(id graph.NodeID, label string) {
	s.write(graph.Binding{EntityID: s.entity.ID(), Attr: s.attr}, id, label)
}

// SetEntry labels id and binds it to one entry of the attribute being
// recomputed.
func (s *Scope) SetEntry(key string, id graph.NodeID, label string) {
	if key == "" {
		s.Fail(fmt.Errorf("%s.%s: empty entry key: %w", describe(s.entity), s.attr, ErrInvalidInput))
		return
	}
	s.write(graph.Binding{EntityID: s.entity.ID(), Attr: s.attr, Key: key}, id, label)
	s.written[key] = true
}

func (s *Scope) write(b graph.Binding, id graph.NodeID, label string) {
	if s.Err() != nil {
		return
	}
	n := s.m.g.Node(id)
	if n == nil {
		s.Fail(fmt.Errorf("writing %s: %w", b, graph.ErrNodeNotFound))
		return
	}
	if n.Owner != nil && *n.Owner != b {
		s.Fail(fmt.Errorf("writing %s: %w: %w", b, ErrPermission, graph.ErrAlreadyOwned))
		return
	}
	if err := s.m.g.SetLabel(id, label); err != nil {
		s.Fail(err)
		return
	}
	if err := s.m.rebind(b, id); err != nil {
		s.Fail(fmt.Errorf("writing %s: %w", b, err))
	}
}

// Capacity records a capacity error for the attribute being recomputed.
func (s *Scope) Capacity(reason string, magnitudes []float64) {
	s.Fail(NewCapacityError(s.entity, s.attr, reason, magnitudes))
}
