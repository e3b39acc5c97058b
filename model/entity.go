// Package model holds the entity registry and the update resolver: it
// binds entity attributes to graph nodes and decides which calculated
// attributes to recompute, and in what order, when an input changes.
package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// Entity is implemented by domain objects. Identity is the ID, assigned
// once at construction.
type Entity interface {
	ID() string
	Name() string
	Kind() string

	// Inputs declares the directly written attributes.
	Inputs() []InputSpec

	// Calculations declares the calculated attributes in the order they
	// must be computed when the entity is first added.
	Calculations() []Calculation

	// DependentEntities lists the entities whose calculated attributes read
	// this entity's attributes.
	DependentEntities() []Entity
}

// InputSpec is the contract of a direct input attribute.
type InputSpec struct {
	Name string

	// Label is given to the node backing the attribute. Defaults to
	// "<name> of <entity name>".
	Label string

	// Kind and Unit restrict accepted values. KindEmpty accepts any shape
	// and an empty Unit accepts any unit.
	Kind value.Kind
	Unit value.Unit

	// Optional inputs may be left Empty.
	Optional bool

	// Source is recorded on every node written to the attribute.
	Source graph.Source
}

// UpdateFunc recomputes a calculated attribute, writing it through s.
type UpdateFunc func(s *Scope) error

// EntryFunc recomputes one entry of a keyed collection attribute.
type EntryFunc func(s *Scope, key string) error

// Calculation declares a calculated attribute and its routines. Update
// recomputes the whole attribute; UpdateEntry, when set, recomputes a
// single entry of a keyed collection.
type Calculation struct {
	Name        string
	Update      UpdateFunc
	UpdateEntry EntryFunc
}

// Task is one scheduled recomputation.
type Task struct {
	EntityID string
	Attr     string
	Key      string
}

func (t Task) String() string {
	return t.binding().String()
}

func (t Task) binding() graph.Binding {
	return graph.Binding{EntityID: t.EntityID, Attr: t.Attr, Key: t.Key}
}

// IsEntry reports whether the task recomputes a single collection entry.
func (t Task) IsEntry() bool { return t.Key != "" }

func (t Task) collection() Task {
	return Task{EntityID: t.EntityID, Attr: t.Attr}
}

func taskOf(b graph.Binding) Task {
	return Task{EntityID: b.EntityID, Attr: b.Attr, Key: b.Key}
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

func describe(e Entity) string {
	return fmt.Sprintf("%s %q", e.Kind(), e.Name())
}

func inputLabel(e Entity, spec InputSpec) string {
	if spec.Label != "" {
		return spec.Label
	}
	return spec.Name + " of " + e.Name()
}
