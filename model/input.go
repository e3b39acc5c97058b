package model

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// SetInput writes a direct input attribute. The value is validated, the
// previous node demoted, the new one bound and every downstream calculated
// attribute recomputed, as one atomic operation: on any failure the model
// is left exactly as it was.
func (m *Model) SetInput(e Entity, attr string, v value.Value) error {
	b := m.Begin()
	if err := b.Set(e, attr, v); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

// Batch collects input writes and applies them with a single resolver
// pass on Commit.
type Batch struct {
	m      *Model
	writes []write
	closed bool
}

type write struct {
	entity Entity
	spec   InputSpec
	value  value.Value
}

// Begin starts a batch of input writes.
func (m *Model) Begin() *Batch {
	return &Batch{m: m}
}

// Set validates and queues an input write. Nothing is applied until
// Commit. A later write to the same attribute replaces an earlier one.
func (b *Batch) Set(e Entity, attr string, v value.Value) error {
	if b.closed {
		return ErrBatchClosed
	}
	spec, err := b.m.inputSpec(e, attr)
	if err != nil {
		return err
	}
	if err := validateValue(e, spec, v); err != nil {
		return err
	}
	for i, w := range b.writes {
		if w.entity.ID() == e.ID() && w.spec.Name == attr {
			b.writes[i].value = v
			return nil
		}
	}
	b.writes = append(b.writes, write{entity: e, spec: spec, value: v})
	return nil
}

// Len returns the number of queued writes.
func (b *Batch) Len() int { return len(b.writes) }

// Discard drops the queued writes.
func (b *Batch) Discard() {
	b.closed = true
	b.writes = nil
}

// Commit applies every queued write, then runs one resolver pass seeded
// with all the replaced nodes. On failure nothing is applied.
func (b *Batch) Commit() error {
	if b.closed {
		return ErrBatchClosed
	}
	b.closed = true
	m := b.m
	if err := m.checkWritable(); err != nil {
		return err
	}
	if len(b.writes) == 0 {
		return nil
	}
	for _, w := range b.writes {
		if _, ok := m.entities[w.entity.ID()]; !ok {
			return fmt.Errorf("%s: %w", describe(w.entity), ErrUnknownEntity)
		}
	}

	if err := m.g.Begin(); err != nil {
		return err
	}
	if err := m.apply(b.writes); err != nil {
		_ = m.g.Rollback()
		writeFailures.WithLabelValues("set_input").Inc()
		return err
	}
	return m.g.Commit()
}

func (m *Model) apply(writes []write) error {
	dirty := make([]graph.NodeID, 0, len(writes))
	for _, w := range writes {
		binding := graph.Binding{EntityID: w.entity.ID(), Attr: w.spec.Name}
		if old, ok := m.bindings[binding]; ok {
			dirty = append(dirty, old)
		}
		if err := m.rebind(binding, m.inputLeaf(w.entity, w.spec, w.value)); err != nil {
			return err
		}
	}
	tasks, err := m.Plan(dirty...)
	if err != nil {
		return err
	}
	m.log.Debug("inputs written", "writes", len(writes), "tasks", len(tasks))
	return m.Run(tasks)
}

// ValidateInput checks v against the declaration of the input attr of e
// without writing anything.
func (m *Model) ValidateInput(e Entity, attr string, v value.Value) error {
	spec, err := m.inputSpec(e, attr)
	if err != nil {
		return err
	}
	return validateValue(e, spec, v)
}

func (m *Model) inputSpec(e Entity, attr string) (InputSpec, error) {
	if _, ok := m.entities[e.ID()]; !ok {
		return InputSpec{}, fmt.Errorf("%s: %w", describe(e), ErrUnknownEntity)
	}
	if _, ok := m.calcs[e.ID()][attr]; ok {
		return InputSpec{}, fmt.Errorf("%s.%s is calculated and cannot be written directly: %w", describe(e), attr, ErrPermission)
	}
	spec, ok := m.inputs[e.ID()][attr]
	if !ok {
		return InputSpec{}, fmt.Errorf("%s has no input %q: %w", describe(e), attr, ErrInvalidInput)
	}
	return spec, nil
}

// validateInputs checks a full set of initial inputs against the specs.
func validateInputs(e Entity, specs map[string]InputSpec, inputs map[string]value.Value) error {
	var result *multierror.Error
	for name := range inputs {
		if _, ok := specs[name]; !ok {
			result = multierror.Append(result, fmt.Errorf("%s has no input %q: %w", describe(e), name, ErrInvalidInput))
		}
	}
	for _, spec := range e.Inputs() {
		v, ok := inputs[spec.Name]
		if !ok {
			v = value.Empty{}
		}
		if err := validateValue(e, spec, v); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func validateValue(e Entity, spec InputSpec, v value.Value) error {
	if value.IsEmpty(v) {
		if spec.Optional {
			return nil
		}
		return fmt.Errorf("%s.%s is required: %w", describe(e), spec.Name, ErrInvalidInput)
	}
	if spec.Kind != value.KindEmpty && v.Kind() != spec.Kind {
		return fmt.Errorf("%s.%s expects %s, got %s: %w: %w",
			describe(e), spec.Name, spec.Kind, v.Kind(), ErrInvalidInput, value.ErrShapeMismatch)
	}
	if v.Unit() == "" {
		return fmt.Errorf("%s.%s: %w: %w", describe(e), spec.Name, ErrInvalidInput, value.ErrMissingUnit)
	}
	if spec.Unit != "" && v.Unit() != spec.Unit {
		return fmt.Errorf("%s.%s expects %s, got %s: %w: %w",
			describe(e), spec.Name, spec.Unit, v.Unit(), ErrInvalidInput, value.ErrUnitMismatch)
	}
	if h, ok := v.(value.Hourly); ok && !h.Start.Equal(h.Start.UTC().Truncate(time.Hour)) {
		return fmt.Errorf("%s.%s starts at %s: %w: %w",
			describe(e), spec.Name, h.Start.Format(time.RFC3339), ErrInvalidInput, value.ErrNotAligned)
	}
	return nil
}
