// Package codec converts a model to and from its persisted form: a JSON
// document keyed by entity kind, entity id and attribute name, with long
// series stored as compressed packed magnitudes.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Boavizta/e-footprint-sub000/graph"
)

// CurrentSchemaVersion is written to every new manifest. Migration rules
// apply to documents written with an older version.
const CurrentSchemaVersion = 3

var (
	ErrCorrupt            = errors.New("corrupt document")
	ErrChecksum           = errors.New("document checksum mismatch")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrUnknownKind        = errors.New("no factory for entity kind")
)

// Document is the persisted form of a model.
type Document struct {
	Manifest Manifest `json:"manifest"`

	// Entities maps kind, then entity id, to the entity record.
	Entities map[string]map[string]*EntityRecord `json:"entities"`
}

// Manifest describes how a document was written.
type Manifest struct {
	SchemaVersion int       `json:"schema_version"`
	Generator     string    `json:"generator"`
	CreatedAt     time.Time `json:"created_at"`
	Checksum      string    `json:"checksum"`

	// Provenance is set when records carry their ancestors, children and
	// formula. Such documents load without recomputation.
	Provenance bool `json:"provenance"`
}

// EntityRecord is one entity with its bound attributes.
type EntityRecord struct {
	Name       string                `json:"name"`
	Links      map[string][]string   `json:"links,omitempty"`
	Properties map[string]string     `json:"properties,omitempty"`
	Attributes map[string]*Attribute `json:"attributes"`
}

// Attribute is either a single record or a keyed collection of records.
type Attribute struct {
	Record  *Record
	Entries map[string]*Record
}

func (a *Attribute) MarshalJSON() ([]byte, error) {
	if a.Entries != nil {
		return json.Marshal(a.Entries)
	}
	return json.Marshal(a.Record)
}

func (a *Attribute) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, hasID := probe["id"]
	_, hasValue := probe["value"]
	if hasID && hasValue {
		a.Record = new(Record)
		return json.Unmarshal(data, a.Record)
	}
	a.Entries = make(map[string]*Record, len(probe))
	for key, raw := range probe {
		rec := new(Record)
		if err := json.Unmarshal(raw, rec); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		a.Entries[key] = rec
	}
	return nil
}

// Record is a persisted live node.
type Record struct {
	ID        uint64         `json:"id"`
	Label     string         `json:"label"`
	Value     Payload        `json:"value"`
	Source    *graph.Source  `json:"source,omitempty"`
	Ancestors []uint64       `json:"ancestors,omitempty"`
	Children  []uint64       `json:"children,omitempty"`
	Formula   *graph.Formula `json:"formula,omitempty"`
}

// Payload is the typed form of a value. Series carry either plain values
// or zstd-compressed little-endian float64 magnitudes with their count and
// BLAKE3 digest.
type Payload struct {
	Type       string     `json:"type"`
	Unit       string     `json:"unit,omitempty"`
	Magnitude  *float64   `json:"magnitude,omitempty"`
	Start      *time.Time `json:"start,omitempty"`
	Values     []float64  `json:"values,omitempty"`
	Count      int        `json:"count,omitempty"`
	Compressed []byte     `json:"compressed,omitempty"`
	Digest     string     `json:"digest,omitempty"`
}

// Visit is called by Walk for every record of a document.
type Visit func(kind, entityID string, e *EntityRecord, attr, key string, rec *Record) error

// Walk visits every record in a stable order: kind, entity id, attribute,
// then entry key.
func (d *Document) Walk(fn Visit) error {
	for _, kind := range sortedKeys(d.Entities) {
		byID := d.Entities[kind]
		for _, id := range sortedKeys(byID) {
			e := byID[id]
			for _, attr := range sortedKeys(e.Attributes) {
				a := e.Attributes[attr]
				if a.Entries == nil {
					if a.Record == nil {
						continue
					}
					if err := fn(kind, id, e, attr, "", a.Record); err != nil {
						return err
					}
					continue
				}
				for _, key := range sortedKeys(a.Entries) {
					if err := fn(kind, id, e, attr, key, a.Entries[key]); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Len returns the number of records in the document.
func (d *Document) Len() int {
	n := 0
	_ = d.Walk(func(string, string, *EntityRecord, string, string, *Record) error {
		n++
		return nil
	})
	return n
}

func (d *Document) put(kind, id string, e *EntityRecord) {
	if d.Entities == nil {
		d.Entities = make(map[string]map[string]*EntityRecord)
	}
	if d.Entities[kind] == nil {
		d.Entities[kind] = make(map[string]*EntityRecord)
	}
	d.Entities[kind][id] = e
}

func (e *EntityRecord) put(b graph.Binding, rec *Record) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]*Attribute)
	}
	a := e.Attributes[b.Attr]
	if a == nil {
		a = &Attribute{}
		e.Attributes[b.Attr] = a
	}
	if !b.IsEntry() {
		a.Record = rec
		return
	}
	if a.Entries == nil {
		a.Entries = make(map[string]*Record)
	}
	a.Entries[b.Key] = rec
}

// Write serializes the document as indented JSON.
func (d *Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Read parses a JSON document.
func Read(r io.Reader) (*Document, error) {
	var d Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if d.Manifest.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("schema version %d (this build reads up to %d): %w",
			d.Manifest.SchemaVersion, CurrentSchemaVersion, ErrUnsupportedVersion)
	}
	return &d, nil
}

// Parse is Read over a byte slice.
func Parse(data []byte) (*Document, error) {
	return Read(bytes.NewReader(data))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
