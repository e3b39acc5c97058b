// Package simulation replays the future part of a model from a cutover
// instant under hypothetical input replacements, keeping the untouched
// history next to each recomputed series.
package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/model"
	"github.com/Boavizta/e-footprint-sub000/value"
)

var (
	ErrCutoverOutOfRange = errors.New("cutover is outside every affected hourly series")
	ErrNotActive         = errors.New("simulation is not active")
	ErrNoReplacements    = errors.New("simulation needs at least one replacement")
)

// State of a simulation.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Replacement swaps the live node Old for the unbound node New.
type Replacement struct {
	Old graph.NodeID
	New graph.NodeID
}

// Replace builds the replacement of an input attribute by a new value. The
// new node inherits the label and source of the current one.
func Replace(m *model.Model, e model.Entity, attr string, v value.Value) (Replacement, error) {
	old, ok := m.Get(e, attr)
	if !ok {
		return Replacement{}, fmt.Errorf("replace %s of %s: %w", attr, e.Name(), model.ErrUnknownAttribute)
	}
	g := m.Graph()
	on := g.Node(old)
	id := g.Leaf(v, on.Label)
	if on.Source != nil {
		_ = g.SetSource(id, *on.Source)
	}
	return Replacement{Old: old, New: id}, nil
}

// Twin pairs the history of a recomputed series with its simulated future.
type Twin struct {
	Binding graph.Binding

	// Baseline is the full series before the simulation.
	Baseline value.Value

	// PreCutover is the part of Baseline strictly before the cutover.
	PreCutover value.Value

	// Simulated is the recomputed series from the cutover on.
	Simulated value.Value
}

// Combined joins the untouched history with the simulated future.
func (t Twin) Combined() (value.Value, error) {
	return value.Concat(t.PreCutover, t.Simulated)
}

// Simulation is an alternate future of a model. While active, the model
// rejects ordinary writes.
type Simulation struct {
	m            *model.Model
	cutover      time.Time
	replacements []Replacement
	originals    map[graph.NodeID]value.Value
	plan         []model.Task
	tasks        []model.Task
	twins        []Twin
	state        State
}

// New validates the replacements, replays every affected hourly attribute
// from cutover on and leaves the simulation active. On failure the model
// is left untouched and released.
func New(m *model.Model, cutover time.Time, replacements []Replacement) (*Simulation, error) {
	cutover = cutover.UTC()
	if !cutover.Equal(cutover.Truncate(time.Hour)) {
		return nil, fmt.Errorf("cutover %s: %w", cutover.Format(time.RFC3339), value.ErrNotAligned)
	}
	if len(replacements) == 0 {
		return nil, ErrNoReplacements
	}
	if err := m.Acquire(); err != nil {
		return nil, err
	}
	s := &Simulation{
		m:            m,
		cutover:      cutover,
		replacements: replacements,
		originals:    make(map[graph.NodeID]value.Value),
	}
	if err := s.start(); err != nil {
		m.Release()
		return nil, err
	}
	s.state = Active
	simulationsStarted.Inc()
	m.Logger().Debug("simulation started", "cutover", cutover, "tasks", len(s.tasks), "twins", len(s.twins))
	return s, nil
}

func (s *Simulation) start() error {
	g := s.m.Graph()
	if err := s.validate(); err != nil {
		return err
	}

	olds := make([]graph.NodeID, len(s.replacements))
	for i, r := range s.replacements {
		olds[i] = r.Old
	}
	plan, err := s.m.Plan(olds...)
	if err != nil {
		return err
	}
	s.plan = plan
	for _, t := range plan {
		if s.containsCutover(t) {
			s.tasks = append(s.tasks, t)
		}
	}
	if len(s.tasks) == 0 {
		return fmt.Errorf("cutover %s: %w", s.cutover.Format(time.RFC3339), ErrCutoverOutOfRange)
	}

	baseline := make(map[graph.Binding]value.Value)
	affected := make(map[graph.NodeID]bool)
	for _, t := range s.tasks {
		for _, b := range s.bindingsOf(t) {
			id, _ := s.m.Lookup(b)
			baseline[b] = g.Value(id)
			affected[id] = true
		}
	}

	if err := g.Begin(); err != nil {
		return err
	}
	for _, r := range s.replacements {
		if g.Node(r.New).Label == "" {
			_ = g.SetLabel(r.New, g.Node(r.Old).Label)
		}
	}
	if err := s.replay(affected); err != nil {
		_ = g.Rollback()
		return err
	}

	for _, t := range s.tasks {
		for _, b := range s.bindingsOf(t) {
			id, _ := s.m.Lookup(b)
			base := baseline[b]
			if base == nil {
				base = value.Empty{}
			}
			s.twins = append(s.twins, Twin{
				Binding:    b,
				Baseline:   base,
				PreCutover: value.Before(base, s.cutover),
				Simulated:  g.Value(id),
			})
		}
	}
	return nil
}

func (s *Simulation) validate() error {
	g := s.m.Graph()
	seen := make(map[graph.NodeID]bool)
	for _, r := range s.replacements {
		old, nw := g.Node(r.Old), g.Node(r.New)
		if old == nil || nw == nil {
			return fmt.Errorf("replacement %d -> %d: %w", r.Old, r.New, graph.ErrNodeNotFound)
		}
		if !old.Live() {
			return fmt.Errorf("replacement of node %d: %w", r.Old, graph.ErrNotOwned)
		}
		e, ok := s.m.Entity(old.Owner.EntityID)
		if !ok {
			return fmt.Errorf("replacing %s: %w", *old.Owner, model.ErrUnknownEntity)
		}
		if s.m.IsCalculated(e, old.Owner.Attr) {
			return fmt.Errorf("replacing %s: calculated attribute: %w", *old.Owner, model.ErrPermission)
		}
		if nw.Live() {
			return fmt.Errorf("replacement node %d owned by %s: %w: %w", r.New, *nw.Owner, model.ErrPermission, graph.ErrAlreadyOwned)
		}
		if old.Value.Kind() != nw.Value.Kind() {
			return fmt.Errorf("replacing %s (%s) with %s: %w", *old.Owner, old.Value.Kind(), nw.Value.Kind(), value.ErrShapeMismatch)
		}
		if err := s.m.ValidateInput(e, old.Owner.Attr, nw.Value); err != nil {
			return fmt.Errorf("replacing %s: %w", *old.Owner, err)
		}
		if seen[r.Old] {
			return fmt.Errorf("node %d replaced twice: %w", r.Old, model.ErrInvalidInput)
		}
		seen[r.Old] = true
	}
	return nil
}

// replay truncates the inputs of the affected attributes to the simulated
// window, swaps in the replacements and runs the affected tasks. Truncated
// inputs that are not part of the chain get their full value back.
func (s *Simulation) replay(affected map[graph.NodeID]bool) error {
	g := s.m.Graph()
	replaced := make(map[graph.NodeID]bool)
	for _, r := range s.replacements {
		replaced[r.Old] = true
		v := g.Value(r.New)
		s.originals[r.New] = v
		if err := g.ReplaceValue(r.New, value.From(v, s.cutover)); err != nil {
			return err
		}
	}

	restore := make(map[graph.NodeID]value.Value)
	for id := range affected {
		for _, a := range g.OwnedAncestors(id) {
			if affected[a] || replaced[a] {
				continue
			}
			if _, done := restore[a]; done {
				continue
			}
			v, ok := g.Value(a).(value.Hourly)
			if !ok {
				continue
			}
			restore[a] = v
			if err := g.ReplaceValue(a, value.From(v, s.cutover)); err != nil {
				return err
			}
		}
	}

	for _, r := range s.replacements {
		if err := s.m.Replace(r.Old, r.New); err != nil {
			return err
		}
	}
	if err := s.m.Run(s.tasks); err != nil {
		return err
	}

	for id, v := range restore {
		if err := g.ReplaceValue(id, v); err != nil {
			return err
		}
	}
	return nil
}

// bindingsOf lists the live bindings a task writes: the attribute itself
// and, for a collection, every entry.
func (s *Simulation) bindingsOf(t model.Task) []graph.Binding {
	b := graph.Binding{EntityID: t.EntityID, Attr: t.Attr, Key: t.Key}
	if t.IsEntry() {
		return []graph.Binding{b}
	}
	var out []graph.Binding
	if _, ok := s.m.Lookup(b); ok {
		out = append(out, b)
	}
	e, ok := s.m.Entity(t.EntityID)
	if !ok {
		return out
	}
	for _, key := range s.m.Keys(e, t.Attr) {
		out = append(out, graph.Binding{EntityID: t.EntityID, Attr: t.Attr, Key: key})
	}
	return out
}

func (s *Simulation) containsCutover(t model.Task) bool {
	for _, b := range s.bindingsOf(t) {
		id, _ := s.m.Lookup(b)
		if h, ok := s.m.Graph().Value(id).(value.Hourly); ok && h.Contains(s.cutover) {
			return true
		}
	}
	return false
}

// Cutover returns the first simulated instant.
func (s *Simulation) Cutover() time.Time { return s.cutover }

// State reports whether the simulation is still active.
func (s *Simulation) State() State { return s.state }

// Tasks returns the recomputations that were replayed.
func (s *Simulation) Tasks() []model.Task { return s.tasks }

// Twins returns one twin per recomputed series, in replay order.
func (s *Simulation) Twins() []Twin { return s.twins }

// Twin returns the twin of a binding.
func (s *Simulation) Twin(b graph.Binding) (Twin, bool) {
	for _, t := range s.twins {
		if t.Binding == b {
			return t, true
		}
	}
	return Twin{}, false
}

// Rollback restores the exact bindings and values the model had before the
// simulation and releases it.
func (s *Simulation) Rollback() error {
	if s.state != Active {
		return ErrNotActive
	}
	s.state = Inactive
	defer s.m.Release()
	simulationsRolledBack.Inc()
	return s.m.Graph().Rollback()
}

// Commit makes the simulated future permanent. Each replaced input becomes
// its history followed by its replacement from the cutover on, and every
// attribute of the plan is then recomputed on those full-length inputs, so
// committed series stay consistent with their inputs. Twins are left as
// they were, for diffing. If recomputing fails the simulation is rolled
// back.
func (s *Simulation) Commit() error {
	if s.state != Active {
		return ErrNotActive
	}
	s.state = Inactive
	defer s.m.Release()
	g := s.m.Graph()

	if err := s.merge(); err != nil {
		_ = g.Rollback()
		return err
	}
	simulationsCommitted.Inc()
	return g.Commit()
}

func (s *Simulation) merge() error {
	g := s.m.Graph()
	for _, r := range s.replacements {
		full := s.originals[r.New]
		if old, ok := g.Value(r.Old).(value.Hourly); ok {
			var err error
			full, err = value.Concat(value.Before(old, s.cutover), value.From(full, s.cutover))
			if err != nil {
				return fmt.Errorf("merging replacement of node %d: %w", r.Old, err)
			}
		}
		if err := g.ReplaceValue(r.New, full); err != nil {
			return err
		}
	}
	return s.m.Run(s.plan)
}
