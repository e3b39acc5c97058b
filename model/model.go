package model

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// Model owns the graph, the registered entities and their attribute
// bindings. It is not safe for concurrent use.
type Model struct {
	g        *graph.Graph
	log      hclog.Logger
	entities map[string]Entity
	order    []string
	calcs    map[string]map[string]Calculation
	inputs   map[string]map[string]InputSpec
	bindings map[graph.Binding]graph.NodeID

	running    bool
	simulating bool
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the logger used for resolver tracing.
func WithLogger(l hclog.Logger) Option {
	return func(m *Model) { m.log = l }
}

// WithGraph makes the model use an existing graph, e.g. one rebuilt from a
// persisted document.
func WithGraph(g *graph.Graph) Option {
	return func(m *Model) { m.g = g }
}

// New creates an empty model.
func New(opts ...Option) *Model {
	m := &Model{
		entities: make(map[string]Entity),
		calcs:    make(map[string]map[string]Calculation),
		inputs:   make(map[string]map[string]InputSpec),
		bindings: make(map[graph.Binding]graph.NodeID),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.g == nil {
		m.g = graph.New()
	}
	if m.log == nil {
		m.log = hclog.NewNullLogger()
	}
	return m
}

// Graph returns the underlying node arena.
func (m *Model) Graph() *graph.Graph { return m.g }

// Logger returns the model's logger.
func (m *Model) Logger() hclog.Logger { return m.log }

// Entity returns a registered entity by id.
func (m *Model) Entity(id string) (Entity, bool) {
	e, ok := m.entities[id]
	return e, ok
}

// Entities returns the registered entities in registration order.
func (m *Model) Entities() []Entity {
	out := make([]Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entities[id])
	}
	return out
}

// Lookup returns the live node bound to b.
func (m *Model) Lookup(b graph.Binding) (graph.NodeID, bool) {
	id, ok := m.bindings[b]
	return id, ok
}

// Get returns the live node of a non-keyed attribute.
func (m *Model) Get(e Entity, attr string) (graph.NodeID, bool) {
	return m.Lookup(graph.Binding{EntityID: e.ID(), Attr: attr})
}

// Value returns the value of a non-keyed attribute, Empty when unset.
func (m *Model) Value(e Entity, attr string) value.Value {
	id, _ := m.Get(e, attr)
	return m.g.Value(id)
}

// Keys returns the sorted keys of a collection attribute.
func (m *Model) Keys(e Entity, attr string) []string {
	var keys []string
	for b := range m.bindings {
		if b.EntityID == e.ID() && b.Attr == attr && b.Key != "" {
			keys = append(keys, b.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Bindings returns every live binding of e, sorted by attribute then key.
func (m *Model) Bindings(e Entity) []graph.Binding {
	var out []graph.Binding
	for b := range m.bindings {
		if b.EntityID == e.ID() {
			out = append(out, b)
		}
	}
	sortBindings(out)
	return out
}

func sortBindings(bs []graph.Binding) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].EntityID != bs[j].EntityID {
			return bs[i].EntityID < bs[j].EntityID
		}
		if bs[i].Attr != bs[j].Attr {
			return bs[i].Attr < bs[j].Attr
		}
		return bs[i].Key < bs[j].Key
	})
}

// IsCalculated reports whether attr is a calculated attribute of e.
func (m *Model) IsCalculated(e Entity, attr string) bool {
	_, ok := m.calcs[e.ID()][attr]
	return ok
}

// Explain renders the derivation of a non-keyed attribute.
func (m *Model) Explain(e Entity, attr string) (string, error) {
	id, ok := m.Get(e, attr)
	if !ok {
		return "", fmt.Errorf("%s.%s: %w", describe(e), attr, ErrUnknownAttribute)
	}
	return m.g.Explain(id)
}

func (m *Model) checkWritable() error {
	if m.running {
		return ErrReentrantWrite
	}
	if m.simulating {
		return ErrSimulationActive
	}
	return nil
}

// Add registers e, binds its inputs, computes its calculated attributes in
// declared order and then recomputes every entity that transitively
// depends on it. Declaration problems are reported together, wrapped in
// ErrConfig, before anything is bound.
func (m *Model) Add(e Entity, inputs map[string]value.Value) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := m.validateEntity(e); err != nil {
		return err
	}
	specs := indexInputs(e)
	if err := validateInputs(e, specs, inputs); err != nil {
		return err
	}

	if err := m.g.Begin(); err != nil {
		return err
	}
	err := m.add(e, inputs)
	if err != nil {
		_ = m.g.Rollback()
		writeFailures.WithLabelValues("add").Inc()
		return err
	}
	return m.g.Commit()
}

func (m *Model) add(e Entity, inputs map[string]value.Value) error {
	m.register(e)
	for _, spec := range e.Inputs() {
		v, ok := inputs[spec.Name]
		if !ok {
			v = value.Empty{}
		}
		b := graph.Binding{EntityID: e.ID(), Attr: spec.Name}
		if err := m.rebind(b, m.inputLeaf(e, spec, v)); err != nil {
			return err
		}
	}

	m.running = true
	defer func() { m.running = false }()
	if err := m.computeAll(e); err != nil {
		return err
	}
	deps, err := m.dependentsOrder(e)
	if err != nil {
		return err
	}
	for _, d := range deps {
		if err := m.computeAll(d); err != nil {
			return err
		}
	}
	m.log.Debug("entity added", "entity", describe(e), "dependents", len(deps))
	return nil
}

func (m *Model) inputLeaf(e Entity, spec InputSpec, v value.Value) graph.NodeID {
	label := inputLabel(e, spec)
	if spec.Source.Name != "" {
		return m.g.LeafWithSource(v, label, spec.Source)
	}
	return m.g.Leaf(v, label)
}

// Attach registers e without binding or computing anything. It is used
// when the attribute values come from elsewhere, e.g. a persisted document
// restored with Restore.
func (m *Model) Attach(e Entity) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if err := m.validateEntity(e); err != nil {
		return err
	}
	m.register(e)
	return nil
}

// Restore binds a node reconstructed from a persisted form, together with
// its recorded children. The entity must be attached first.
func (m *Model) Restore(b graph.Binding, id graph.NodeID, children []graph.NodeID) error {
	if _, ok := m.entities[b.EntityID]; !ok {
		return fmt.Errorf("restore %s: %w", b, ErrUnknownEntity)
	}
	if _, ok := m.bindings[b]; ok {
		return fmt.Errorf("restore %s: %w", b, graph.ErrAlreadyOwned)
	}
	if err := m.g.Restore(id, b, children); err != nil {
		return err
	}
	m.bindings[b] = id
	return nil
}

func (m *Model) register(e Entity) {
	id := e.ID()
	m.entities[id] = e
	m.order = append(m.order, id)
	calcs := make(map[string]Calculation)
	for _, c := range e.Calculations() {
		calcs[c.Name] = c
	}
	m.calcs[id] = calcs
	m.inputs[id] = indexInputs(e)
	m.g.Record(func() { m.unregister(id) })
}

func (m *Model) unregister(id string) {
	delete(m.entities, id)
	delete(m.calcs, id)
	delete(m.inputs, id)
	m.order = slices.DeleteFunc(m.order, func(o string) bool { return o == id })
}

func indexInputs(e Entity) map[string]InputSpec {
	out := make(map[string]InputSpec)
	for _, spec := range e.Inputs() {
		out[spec.Name] = spec
	}
	return out
}

// rebind makes id the live node of b, demoting whatever was bound before.
// Map changes are journaled alongside the graph changes.
func (m *Model) rebind(b graph.Binding, id graph.NodeID) error {
	prev, had := m.bindings[b]
	if had {
		if prev == id {
			return nil
		}
		if err := m.g.Unbind(prev); err != nil {
			return err
		}
	}
	if err := m.g.Bind(id, b); err != nil {
		return err
	}
	m.bindings[b] = id
	m.g.Record(func() {
		if had {
			m.bindings[b] = prev
		} else {
			delete(m.bindings, b)
		}
	})
	return nil
}

func (m *Model) unbind(b graph.Binding) error {
	prev, ok := m.bindings[b]
	if !ok {
		return nil
	}
	if err := m.g.Unbind(prev); err != nil {
		return err
	}
	delete(m.bindings, b)
	m.g.Record(func() { m.bindings[b] = prev })
	return nil
}

// Replace rebinds the binding currently held by old to a new node, without
// running the resolver. Callers run the resolver themselves, typically
// inside a graph journal.
func (m *Model) Replace(old, new graph.NodeID) error {
	n := m.g.Node(old)
	if n == nil || n.Owner == nil {
		return fmt.Errorf("replace node %d: %w", old, graph.ErrNotOwned)
	}
	b := *n.Owner
	if _, ok := m.calcs[b.EntityID][b.Attr]; ok {
		return fmt.Errorf("replace %s: calculated attribute: %w", b, ErrPermission)
	}
	return m.rebind(b, new)
}

// Delete unregisters e and demotes all its nodes. It fails while any
// registered entity still depends on e.
func (m *Model) Delete(e Entity) error {
	if err := m.checkWritable(); err != nil {
		return err
	}
	if _, ok := m.entities[e.ID()]; !ok {
		return fmt.Errorf("delete %s: %w", describe(e), ErrUnknownEntity)
	}
	var live []string
	for _, d := range e.DependentEntities() {
		if _, ok := m.entities[d.ID()]; ok && d.ID() != e.ID() {
			live = append(live, describe(d))
		}
	}
	if len(live) > 0 {
		return fmt.Errorf("delete %s: still needed by %v: %w", describe(e), live, ErrPermission)
	}

	if err := m.g.Begin(); err != nil {
		return err
	}
	for _, b := range m.Bindings(e) {
		if err := m.unbind(b); err != nil {
			_ = m.g.Rollback()
			return err
		}
	}
	m.unregister(e.ID())
	m.log.Debug("entity deleted", "entity", describe(e))
	return m.g.Commit()
}

// Compact drops superseded nodes that no live value was computed from.
// Nodes listed in keep survive along with their ancestors.
func (m *Model) Compact(keep ...graph.NodeID) (*graph.GCPlan, error) {
	if err := m.checkWritable(); err != nil {
		return nil, err
	}
	plan, err := m.g.Collect(graph.GCOptions{Keep: keep})
	if err != nil {
		return nil, err
	}
	m.log.Debug("graph compacted", "dropped", len(plan.NodesToDelete), "kept", plan.NodesKept, "magnitudes", plan.MagnitudesReclaimed)
	return plan, nil
}

// validateEntity checks e's declarations and the entity dependency graph
// it would join. All problems are aggregated.
func (m *Model) validateEntity(e Entity) error {
	var result *multierror.Error
	if e.ID() == "" {
		result = multierror.Append(result, fmt.Errorf("%s: empty id: %w", describe(e), ErrConfig))
	} else if _, ok := m.entities[e.ID()]; ok {
		result = multierror.Append(result, fmt.Errorf("%s: %w: %s", describe(e), ErrDuplicateEntityID, e.ID()))
	}

	seen := make(map[string]bool)
	for _, spec := range e.Inputs() {
		if spec.Name == "" || seen[spec.Name] {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate attribute %q: %w", describe(e), spec.Name, ErrConfig))
		}
		seen[spec.Name] = true
	}
	for _, c := range e.Calculations() {
		if c.Name == "" || seen[c.Name] {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate attribute %q: %w", describe(e), c.Name, ErrConfig))
		}
		seen[c.Name] = true
		if c.Update == nil {
			result = multierror.Append(result, fmt.Errorf("%s: calculated attribute %q has no update routine: %w", describe(e), c.Name, ErrConfig))
		}
	}

	if cycle := m.findCycle(e); cycle != nil {
		result = multierror.Append(result, fmt.Errorf("cyclic entity dependency %v: %w", cycle, ErrConfig))
	}
	return result.ErrorOrNil()
}

// findCycle looks for a cycle among the registered entities plus e,
// following DependentEntities edges. It returns the entity names along the
// cycle, or nil.
func (m *Model) findCycle(e Entity) []string {
	known := func(x Entity) bool {
		_, ok := m.entities[x.ID()]
		return ok || x.ID() == e.ID()
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []Entity
	var cycle []string

	var visit func(x Entity) bool
	visit = func(x Entity) bool {
		color[x.ID()] = grey
		stack = append(stack, x)
		for _, d := range x.DependentEntities() {
			if !known(d) {
				continue
			}
			switch color[d.ID()] {
			case grey:
				start := slices.IndexFunc(stack, func(s Entity) bool { return s.ID() == d.ID() })
				for _, s := range stack[start:] {
					cycle = append(cycle, s.Name())
				}
				cycle = append(cycle, d.Name())
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[x.ID()] = black
		return false
	}

	roots := append(m.Entities(), e)
	for _, r := range roots {
		if color[r.ID()] == white && visit(r) {
			return cycle
		}
	}
	return nil
}

// dependentsOrder returns the registered entities transitively depending
// on root, ordered so that every entity comes after those it depends on.
func (m *Model) dependentsOrder(root Entity) ([]Entity, error) {
	index := make(map[string]int)
	var found []Entity
	queue := []Entity{root}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for _, d := range x.DependentEntities() {
			if _, ok := m.entities[d.ID()]; !ok || d.ID() == root.ID() {
				continue
			}
			if _, ok := index[d.ID()]; ok {
				continue
			}
			index[d.ID()] = len(found)
			found = append(found, d)
			queue = append(queue, d)
		}
	}

	indegree := make([]int, len(found))
	for _, x := range found {
		for _, d := range x.DependentEntities() {
			if i, ok := index[d.ID()]; ok {
				indegree[i]++
			}
		}
	}
	var ready []int
	for i := range found {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]Entity, 0, len(found))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, found[i])
		for _, d := range found[i].DependentEntities() {
			j, ok := index[d.ID()]
			if !ok {
				continue
			}
			indegree[j]--
			if indegree[j] == 0 {
				k, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, k, j)
			}
		}
	}
	if len(out) != len(found) {
		return nil, fmt.Errorf("dependents of %s: %w", describe(root), ErrConfig)
	}
	return out, nil
}

// computeAll runs every calculation of e in declared order.
func (m *Model) computeAll(e Entity) error {
	for _, c := range e.Calculations() {
		if err := m.runTask(e, c, Task{EntityID: e.ID(), Attr: c.Name}); err != nil {
			return err
		}
	}
	return nil
}
