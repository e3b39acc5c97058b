package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/Boavizta/e-footprint-sub000/value"
)

// Migration reinterprets one attribute of documents written before
// BeforeVersion. Values in FromUnit (any unit when empty) are multiplied by
// Factor and relabeled ToUnit; Rename moves the attribute to a new name.
type Migration struct {
	Kind          string  `yaml:"kind"`
	Attribute     string  `yaml:"attribute"`
	BeforeVersion int     `yaml:"before_version"`
	FromUnit      string  `yaml:"from_unit,omitempty"`
	ToUnit        string  `yaml:"to_unit,omitempty"`
	Factor        float64 `yaml:"factor,omitempty"`
	Rename        string  `yaml:"rename,omitempty"`
}

func (m Migration) applies(kind, attr string, version int) bool {
	return m.Kind == kind && m.Attribute == attr && version < m.BeforeVersion
}

func (m Migration) convert(v value.Value) (value.Value, bool) {
	if value.IsEmpty(v) {
		return v, false
	}
	if m.FromUnit != "" && string(v.Unit()) != m.FromUnit {
		return v, false
	}
	factor := m.Factor
	if factor == 0 {
		factor = 1
	}
	unit := v.Unit()
	if m.ToUnit != "" {
		unit = value.Unit(m.ToUnit)
	}
	if factor == 1 && unit == v.Unit() {
		return v, false
	}
	switch x := v.(type) {
	case value.Scalar:
		return value.Scalar{Magnitude: x.Magnitude * factor, U: unit}, true
	case value.Hourly:
		mags := make([]float64, len(x.Magnitudes))
		for i, f := range x.Magnitudes {
			mags[i] = f * factor
		}
		return value.Hourly{Start: x.Start, Magnitudes: mags, U: unit}, true
	case value.Weekly:
		w := value.Weekly{U: unit}
		for i, f := range x.Magnitudes {
			w.Magnitudes[i] = f * factor
		}
		return w, true
	}
	return v, false
}

// Migrations is an ordered migration table, keyed by entity kind and
// attribute name.
type Migrations struct {
	Rules []Migration `yaml:"migrations"`
}

// LoadMigrations reads a YAML migration table.
func LoadMigrations(r io.Reader) (*Migrations, error) {
	var t Migrations
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing migration table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadMigrationsFile reads a YAML migration table from disk.
func LoadMigrationsFile(path string) (*Migrations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadMigrations(f)
}

// Validate reports every malformed rule.
func (t *Migrations) Validate() error {
	var result *multierror.Error
	seen := make(map[[2]string]int)
	for i, m := range t.Rules {
		if m.Kind == "" || m.Attribute == "" {
			result = multierror.Append(result, fmt.Errorf("migration %d: kind and attribute are required", i))
		}
		if m.BeforeVersion < 1 || m.BeforeVersion > CurrentSchemaVersion {
			result = multierror.Append(result, fmt.Errorf("migration %d: before_version %d outside 1..%d", i, m.BeforeVersion, CurrentSchemaVersion))
		}
		if m.Factor < 0 {
			result = multierror.Append(result, fmt.Errorf("migration %d: negative factor %g", i, m.Factor))
		}
		key := [2]string{m.Kind, m.Attribute}
		if prev, ok := seen[key]; ok && t.Rules[prev].BeforeVersion == m.BeforeVersion {
			result = multierror.Append(result, fmt.Errorf("migration %d duplicates migration %d for %s.%s", i, prev, m.Kind, m.Attribute))
		}
		seen[key] = i
	}
	return result.ErrorOrNil()
}

// apply runs every matching rule, in table order, on one attribute value.
// It returns the final attribute name and value.
func (t *Migrations) apply(kind, attr string, version int, v value.Value) (string, value.Value, bool) {
	if t == nil {
		return attr, v, false
	}
	changed := false
	for _, m := range t.Rules {
		if !m.applies(kind, attr, version) {
			continue
		}
		if nv, ok := m.convert(v); ok {
			v = nv
			changed = true
		}
		if m.Rename != "" {
			attr = m.Rename
			changed = true
		}
	}
	return attr, v, changed
}

// Migrate rewrites an older document in place so that it matches the
// current schema, and returns the number of records changed. Compressed
// series stay compressed. The checksum is recomputed.
func Migrate(doc *Document, t *Migrations) (int, error) {
	version := doc.Manifest.SchemaVersion
	if version > CurrentSchemaVersion {
		return 0, fmt.Errorf("schema version %d: %w", version, ErrUnsupportedVersion)
	}
	changed := 0
	for _, kind := range sortedKeys(doc.Entities) {
		for _, id := range sortedKeys(doc.Entities[kind]) {
			e := doc.Entities[kind][id]
			renamed := make(map[string]*Attribute)
			for _, attr := range sortedKeys(e.Attributes) {
				a := e.Attributes[attr]
				name := attr
				for _, rec := range a.records() {
					var newName string
					var did bool
					p, err := rewritePayload(rec.Value, func(v value.Value) (value.Value, error) {
						var nv value.Value
						newName, nv, did = t.apply(kind, attr, version, v)
						return nv, nil
					})
					if err != nil {
						return changed, fmt.Errorf("%s %s.%s: %w", kind, id, attr, err)
					}
					if did {
						rec.Value = p
						changed++
					}
					name = newName
				}
				if _, clash := renamed[name]; clash {
					return changed, fmt.Errorf("%s %s: two attributes migrate to %q: %w", kind, id, name, ErrCorrupt)
				}
				renamed[name] = a
			}
			e.Attributes = renamed
		}
	}
	doc.Manifest.SchemaVersion = CurrentSchemaVersion
	sum, err := Checksum(doc)
	if err != nil {
		return changed, err
	}
	doc.Manifest.Checksum = sum
	return changed, nil
}

func (a *Attribute) records() []*Record {
	if a.Entries == nil {
		if a.Record == nil {
			return nil
		}
		return []*Record{a.Record}
	}
	out := make([]*Record, 0, len(a.Entries))
	for _, k := range sortedKeys(a.Entries) {
		out = append(out, a.Entries[k])
	}
	return out
}
