package codec

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/model"
)

// Linker is implemented by entities that reference other entities. Links
// are persisted as entity ids and handed back to the factory on load.
type Linker interface {
	Links() map[string][]model.Entity
}

// Propertied is implemented by entities with configuration that is not an
// attribute, such as a time zone.
type Propertied interface {
	Properties() map[string]string
}

// Options controls encoding and decoding.
type Options struct {
	// Provenance stores ancestors, children and formulas with every
	// record, so the document explains itself and loads without
	// recomputation.
	Provenance bool

	// CompressThreshold is the series length above which magnitudes are
	// compressed. Zero means DefaultCompressThreshold, negative disables.
	CompressThreshold int

	// Generator is recorded in the manifest.
	Generator string

	// Now stamps the manifest. Defaults to time.Now.
	Now func() time.Time

	// Migrations are applied to older documents on load.
	Migrations *Migrations

	// Recompute forces calculated attributes to be recomputed on load even
	// when the document carries provenance.
	Recompute bool

	Logger hclog.Logger
}

func (o Options) threshold() int {
	if o.CompressThreshold == 0 {
		return DefaultCompressThreshold
	}
	return o.CompressThreshold
}

func (o Options) logger() hclog.Logger {
	if o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

// Encode converts every registered entity and its live nodes to a
// document.
func Encode(m *model.Model, opts Options) (*Document, error) {
	if m.Held() {
		return nil, fmt.Errorf("encode: %w", model.ErrSimulationActive)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	gen := opts.Generator
	if gen == "" {
		gen = "footprint"
	}
	doc := &Document{
		Manifest: Manifest{
			SchemaVersion: CurrentSchemaVersion,
			Generator:     gen,
			CreatedAt:     now().UTC(),
			Provenance:    opts.Provenance,
		},
		Entities: make(map[string]map[string]*EntityRecord),
	}

	g := m.Graph()
	for _, e := range m.Entities() {
		er := &EntityRecord{Name: e.Name(), Attributes: make(map[string]*Attribute)}
		if l, ok := e.(Linker); ok {
			for name, targets := range l.Links() {
				if er.Links == nil {
					er.Links = make(map[string][]string)
				}
				ids := make([]string, 0, len(targets))
				for _, t := range targets {
					ids = append(ids, t.ID())
				}
				er.Links[name] = ids
			}
		}
		if p, ok := e.(Propertied); ok {
			if props := p.Properties(); len(props) > 0 {
				er.Properties = props
			}
		}
		for _, b := range m.Bindings(e) {
			id, _ := m.Lookup(b)
			er.put(b, record(g, id, opts))
		}
		doc.put(e.Kind(), e.ID(), er)
	}

	sum, err := Checksum(doc)
	if err != nil {
		return nil, err
	}
	doc.Manifest.Checksum = sum
	opts.logger().Debug("model encoded", "entities", len(m.Entities()), "records", doc.Len(), "checksum", short(sum))
	return doc, nil
}

func record(g *graph.Graph, id graph.NodeID, opts Options) *Record {
	n := g.Node(id)
	rec := &Record{
		ID:     uint64(id),
		Label:  n.Label,
		Value:  EncodeValue(n.Value, opts.threshold()),
		Source: n.Source,
	}
	if !opts.Provenance {
		return rec
	}
	for _, a := range g.Ancestors(id) {
		rec.Ancestors = append(rec.Ancestors, uint64(a))
	}
	for _, c := range n.Children() {
		rec.Children = append(rec.Children, uint64(c))
	}
	if n.Op != "" {
		rec.Formula = g.Formula(id)
	}
	return rec
}
