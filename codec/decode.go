package codec

import (
	"fmt"
	"sort"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/model"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// EntitySpec is what a factory receives to rebuild an entity.
type EntitySpec struct {
	ID         string
	Name       string
	Links      map[string][]model.Entity
	Properties map[string]string
}

// Factory rebuilds an entity of one kind.
type Factory func(EntitySpec) (model.Entity, error)

// Factories maps entity kinds to their factory.
type Factories map[string]Factory

type pending struct {
	kind string
	id   string
	rec  *EntityRecord
}

// Decode rebuilds a model from a document. Entities are created in link
// order, so that every factory receives already built link targets. A
// document with provenance is restored as is: nodes first, then entities,
// then bindings and back-references, with no recomputation. Otherwise
// inputs are bound and calculated attributes recomputed.
func Decode(doc *Document, factories Factories, opts Options) (*model.Model, error) {
	log := opts.logger()
	if err := Verify(doc); err != nil {
		return nil, err
	}
	version := doc.Manifest.SchemaVersion
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("schema version %d: %w", version, ErrUnsupportedVersion)
	}

	order, err := linkOrder(doc)
	if err != nil {
		return nil, err
	}
	built := make(map[string]model.Entity, len(order))
	for _, p := range order {
		factory, ok := factories[p.kind]
		if !ok {
			return nil, fmt.Errorf("entity %s: %w: %q", p.id, ErrUnknownKind, p.kind)
		}
		spec := EntitySpec{ID: p.id, Name: p.rec.Name, Properties: p.rec.Properties}
		for name, ids := range p.rec.Links {
			if spec.Links == nil {
				spec.Links = make(map[string][]model.Entity)
			}
			for _, id := range ids {
				spec.Links[name] = append(spec.Links[name], built[id])
			}
		}
		e, err := factory(spec)
		if err != nil {
			return nil, fmt.Errorf("building %s %q: %w", p.kind, p.rec.Name, err)
		}
		if e.ID() != p.id {
			return nil, fmt.Errorf("factory for %s returned id %s, want %s: %w", p.kind, e.ID(), p.id, ErrCorrupt)
		}
		built[p.id] = e
	}

	values, err := decodeValues(order, version, opts.Migrations)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	m := model.New(model.WithGraph(g), model.WithLogger(log))
	if doc.Manifest.Provenance && !opts.Recompute {
		err = restore(m, order, built, values)
	} else {
		err = recompute(m, order, built, values)
	}
	if err != nil {
		return nil, err
	}
	if version < CurrentSchemaVersion && opts.Migrations != nil {
		log.Info("document migrated on load", "from_version", version, "to_version", CurrentSchemaVersion)
	}
	log.Debug("model decoded", "entities", len(order), "live_nodes", g.LiveCount(), "provenance", doc.Manifest.Provenance)
	return m, nil
}

// decoded is one record after payload decoding and migration.
type decoded struct {
	binding graph.Binding
	rec     *Record
	value   value.Value
}

func decodeValues(order []pending, version int, migrations *Migrations) ([]decoded, error) {
	var out []decoded
	for _, p := range order {
		for _, attr := range sortedKeys(p.rec.Attributes) {
			a := p.rec.Attributes[attr]
			keys := []string{""}
			if a.Entries != nil {
				keys = sortedKeys(a.Entries)
			}
			for _, key := range keys {
				rec := a.Record
				if key != "" {
					rec = a.Entries[key]
				}
				if rec == nil {
					continue
				}
				v, err := DecodeValue(rec.Value)
				if err != nil {
					return nil, fmt.Errorf("%s %s.%s: %w", p.kind, p.id, attr, err)
				}
				name, v, _ := migrations.apply(p.kind, attr, version, v)
				out = append(out, decoded{
					binding: graph.Binding{EntityID: p.id, Attr: name, Key: key},
					rec:     rec,
					value:   v,
				})
			}
		}
	}
	return out, nil
}

func restore(m *model.Model, order []pending, built map[string]model.Entity, values []decoded) error {
	g := m.Graph()
	ids := make(map[uint64]graph.NodeID, len(values))
	for _, d := range values {
		if _, dup := ids[d.rec.ID]; dup {
			return fmt.Errorf("node %d recorded twice: %w", d.rec.ID, ErrCorrupt)
		}
		ids[d.rec.ID] = g.LeafWithFormula(d.value, d.rec.Label, d.rec.Source, d.rec.Formula)
	}
	for _, p := range order {
		if err := m.Attach(built[p.id]); err != nil {
			return err
		}
	}
	for _, d := range values {
		if err := checkAttribute(built[d.binding.EntityID], d.binding.Attr); err != nil {
			return err
		}
		children := make([]graph.NodeID, 0, len(d.rec.Children))
		for _, c := range d.rec.Children {
			id, ok := ids[c]
			if !ok {
				return fmt.Errorf("%s: child node %d is not recorded: %w", d.binding, c, ErrCorrupt)
			}
			children = append(children, id)
		}
		if err := m.Restore(d.binding, ids[d.rec.ID], children); err != nil {
			return err
		}
	}
	g.LinkRestored()
	return nil
}

func recompute(m *model.Model, order []pending, built map[string]model.Entity, values []decoded) error {
	inputs := make(map[string]map[string]value.Value)
	for _, d := range values {
		e := built[d.binding.EntityID]
		if err := checkAttribute(e, d.binding.Attr); err != nil {
			return err
		}
		if isCalculated(e, d.binding.Attr) || d.binding.IsEntry() {
			continue
		}
		if inputs[e.ID()] == nil {
			inputs[e.ID()] = make(map[string]value.Value)
		}
		inputs[e.ID()][d.binding.Attr] = d.value
	}
	for _, p := range order {
		if err := m.Add(built[p.id], inputs[p.id]); err != nil {
			return err
		}
	}
	return nil
}

// checkAttribute rejects attributes the entity does not declare.
func checkAttribute(e model.Entity, attr string) error {
	for _, spec := range e.Inputs() {
		if spec.Name == attr {
			return nil
		}
	}
	if isCalculated(e, attr) {
		return nil
	}
	return fmt.Errorf("%s %q has no attribute %q: %w", e.Kind(), e.Name(), attr, model.ErrUnknownAttribute)
}

func isCalculated(e model.Entity, attr string) bool {
	for _, c := range e.Calculations() {
		if c.Name == attr {
			return true
		}
	}
	return false
}

// linkOrder sorts the entities of a document so that link targets come
// before the entities linking to them. Ties keep kind then id order.
func linkOrder(doc *Document) ([]pending, error) {
	var all []pending
	index := make(map[string]int)
	for _, kind := range sortedKeys(doc.Entities) {
		for _, id := range sortedKeys(doc.Entities[kind]) {
			if _, dup := index[id]; dup {
				return nil, fmt.Errorf("entity %s listed twice: %w", id, ErrCorrupt)
			}
			index[id] = len(all)
			all = append(all, pending{kind: kind, id: id, rec: doc.Entities[kind][id]})
		}
	}

	succ := make([][]int, len(all))
	indegree := make([]int, len(all))
	for i, p := range all {
		for name, ids := range p.rec.Links {
			for _, id := range ids {
				j, ok := index[id]
				if !ok {
					return nil, fmt.Errorf("%s %s links %s to missing entity %s: %w", p.kind, p.id, name, id, ErrCorrupt)
				}
				succ[j] = append(succ[j], i)
				indegree[i]++
			}
		}
	}

	var ready []int
	for i := range all {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]pending, 0, len(all))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		out = append(out, all[i])
		for _, j := range succ[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
				sort.Ints(ready)
			}
		}
	}
	if len(out) != len(all) {
		return nil, fmt.Errorf("entity links form a cycle: %w", ErrCorrupt)
	}
	return out, nil
}
