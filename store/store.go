// Package store persists codec documents in SQLite: one manifest row per
// saved model, its entities, one row per record, and the provenance edges
// between records.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite"

	"github.com/Boavizta/e-footprint-sub000/cas"
	"github.com/Boavizta/e-footprint-sub000/codec"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var ErrModelNotFound = errors.New("model not found")

// Edge types.
const (
	EdgeChild    = "child"
	EdgeAncestor = "ancestor"
)

// DB wraps a SQLite connection holding saved models.
type DB struct {
	conn *sql.DB
	path string
	log  hclog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
	log         hclog.Logger
}

// WithBusyTimeout sets how long to wait on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open opens or creates the database at the given path.
func Open(dbPath string, opts ...Option) (*DB, error) {
	o := options{busyTimeout: 5 * time.Second, log: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", o.busyTimeout.Milliseconds())); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath, log: o.log}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Save stores doc under name, replacing any model saved under that name,
// in a single transaction.
func (db *DB) Save(ctx context.Context, name string, doc *codec.Document) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteModel(ctx, tx, name); err != nil {
		return err
	}

	m := doc.Manifest
	_, err = tx.ExecContext(ctx,
		`INSERT INTO manifest (model, schema_version, generator, created_at, checksum, provenance, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name, m.SchemaVersion, m.Generator, m.CreatedAt.UTC().Format(time.RFC3339Nano), m.Checksum, m.Provenance, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting manifest: %w", err)
	}

	for kind, byID := range doc.Entities {
		for id, e := range byID {
			if err := insertEntity(ctx, tx, name, kind, id, e); err != nil {
				return err
			}
		}
	}

	records := 0
	err = doc.Walk(func(kind, entityID string, e *codec.EntityRecord, attr, key string, rec *codec.Record) error {
		records++
		collection := e.Attributes[attr].Entries != nil
		return insertRecord(ctx, tx, name, entityID, attr, key, collection, rec)
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	db.log.Debug("model saved", "model", name, "records", records)
	return nil
}

func deleteModel(ctx context.Context, tx *sql.Tx, name string) error {
	for _, table := range []string{"edges", "records", "entities", "manifest"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE model = ?`, name); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

func insertEntity(ctx context.Context, tx *sql.Tx, model, kind, id string, e *codec.EntityRecord) error {
	links, err := nullableJSON(e.Links, len(e.Links))
	if err != nil {
		return err
	}
	props, err := nullableJSON(e.Properties, len(e.Properties))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (model, id, kind, name, links, properties) VALUES (?, ?, ?, ?, ?, ?)`,
		model, id, kind, e.Name, links, props,
	)
	if err != nil {
		return fmt.Errorf("inserting entity %s: %w", id, err)
	}
	return nil
}

func nullableJSON(v any, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, model, entityID, attr, key string, collection bool, rec *codec.Record) error {
	// Provenance edges live in their own table.
	body := *rec
	body.Ancestors = nil
	body.Children = nil
	payload, err := cas.CanonicalJSON(body)
	if err != nil {
		return fmt.Errorf("marshaling record %d: %w", rec.ID, err)
	}
	digest, err := cas.Digest("record", body)
	if err != nil {
		return fmt.Errorf("computing record digest: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (model, node, entity_id, attr, key, collection, label, payload, digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model, rec.ID, entityID, attr, key, collection, rec.Label, string(payload), digest,
	)
	if err != nil {
		return fmt.Errorf("inserting record %d: %w", rec.ID, err)
	}

	for _, edge := range []struct {
		typ string
		ids []uint64
	}{{EdgeChild, rec.Children}, {EdgeAncestor, rec.Ancestors}} {
		for i, dst := range edge.ids {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO edges (model, src, type, ord, dst) VALUES (?, ?, ?, ?, ?)`,
				model, rec.ID, edge.typ, i, dst,
			)
			if err != nil {
				return fmt.Errorf("inserting %s edge %d -> %d: %w", edge.typ, rec.ID, dst, err)
			}
		}
	}
	return nil
}

// Load reads the model saved under name.
func (db *DB) Load(ctx context.Context, name string) (*codec.Document, error) {
	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	doc := &codec.Document{Entities: make(map[string]map[string]*codec.EntityRecord)}
	var createdAt string
	err = tx.QueryRowContext(ctx,
		`SELECT schema_version, generator, created_at, checksum, provenance FROM manifest WHERE model = ?`, name,
	).Scan(&doc.Manifest.SchemaVersion, &doc.Manifest.Generator, &createdAt, &doc.Manifest.Checksum, &doc.Manifest.Provenance)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%q: %w", name, ErrModelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying manifest: %w", err)
	}
	if doc.Manifest.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing manifest time: %w", err)
	}

	byID, err := loadEntities(ctx, tx, name, doc)
	if err != nil {
		return nil, err
	}
	edges, err := loadEdges(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if err := loadRecords(ctx, tx, name, byID, edges); err != nil {
		return nil, err
	}
	return doc, nil
}

func loadEntities(ctx context.Context, tx *sql.Tx, model string, doc *codec.Document) (map[string]*codec.EntityRecord, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, kind, name, links, properties FROM entities WHERE model = ? ORDER BY id`, model)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*codec.EntityRecord)
	for rows.Next() {
		var id, kind, name string
		var links, props sql.NullString
		if err := rows.Scan(&id, &kind, &name, &links, &props); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e := &codec.EntityRecord{Name: name, Attributes: make(map[string]*codec.Attribute)}
		if links.Valid {
			if err := json.Unmarshal([]byte(links.String), &e.Links); err != nil {
				return nil, fmt.Errorf("entity %s links: %w", id, err)
			}
		}
		if props.Valid {
			if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
				return nil, fmt.Errorf("entity %s properties: %w", id, err)
			}
		}
		if doc.Entities[kind] == nil {
			doc.Entities[kind] = make(map[string]*codec.EntityRecord)
		}
		doc.Entities[kind][id] = e
		byID[id] = e
	}
	return byID, rows.Err()
}

type edgeKey struct {
	src uint64
	typ string
}

func loadEdges(ctx context.Context, tx *sql.Tx, model string) (map[edgeKey][]uint64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT src, type, dst FROM edges WHERE model = ? ORDER BY src, type, ord`, model)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	out := make(map[edgeKey][]uint64)
	for rows.Next() {
		var k edgeKey
		var dst uint64
		if err := rows.Scan(&k.src, &k.typ, &dst); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		out[k] = append(out[k], dst)
	}
	return out, rows.Err()
}

func loadRecords(ctx context.Context, tx *sql.Tx, model string, byID map[string]*codec.EntityRecord, edges map[edgeKey][]uint64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT node, entity_id, attr, key, collection, payload FROM records WHERE model = ? ORDER BY node`, model)
	if err != nil {
		return fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var node uint64
		var entityID, attr, key, payload string
		var collection bool
		if err := rows.Scan(&node, &entityID, &attr, &key, &collection, &payload); err != nil {
			return fmt.Errorf("scanning record: %w", err)
		}
		e, ok := byID[entityID]
		if !ok {
			return fmt.Errorf("record %d belongs to unknown entity %s: %w", node, entityID, codec.ErrCorrupt)
		}
		rec := new(codec.Record)
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return fmt.Errorf("record %d: %w", node, err)
		}
		rec.Children = edges[edgeKey{node, EdgeChild}]
		rec.Ancestors = edges[edgeKey{node, EdgeAncestor}]

		a := e.Attributes[attr]
		if a == nil {
			a = &codec.Attribute{}
			e.Attributes[attr] = a
		}
		if !collection {
			a.Record = rec
			continue
		}
		if a.Entries == nil {
			a.Entries = make(map[string]*codec.Record)
		}
		a.Entries[key] = rec
	}
	return rows.Err()
}

// Summary describes a saved model.
type Summary struct {
	Name          string
	SchemaVersion int
	Checksum      string
	Entities      int
	Records       int
	SavedAt       time.Time
}

// List returns every saved model, by name.
func (db *DB) List(ctx context.Context) ([]Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT m.model, m.schema_version, m.checksum, m.saved_at,
		       (SELECT COUNT(*) FROM entities e WHERE e.model = m.model),
		       (SELECT COUNT(*) FROM records r WHERE r.model = m.model)
		FROM manifest m ORDER BY m.model`)
	if err != nil {
		return nil, fmt.Errorf("querying models: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var savedAt int64
		if err := rows.Scan(&s.Name, &s.SchemaVersion, &s.Checksum, &savedAt, &s.Entities, &s.Records); err != nil {
			return nil, fmt.Errorf("scanning model: %w", err)
		}
		s.SavedAt = time.UnixMilli(savedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a saved model.
func (db *DB) Delete(ctx context.Context, name string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM manifest WHERE model = ?`, name).Scan(&exists); err != nil {
		return fmt.Errorf("querying manifest: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%q: %w", name, ErrModelNotFound)
	}
	if err := deleteModel(ctx, tx, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Dependents returns the records directly computed from node, following
// the stored child edges.
func (db *DB) Dependents(ctx context.Context, name string, node uint64) ([]uint64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT dst FROM edges WHERE model = ? AND src = ? AND type = ? ORDER BY ord`, name, node, EdgeChild)
	if err != nil {
		return nil, fmt.Errorf("querying dependents: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var dst uint64
		if err := rows.Scan(&dst); err != nil {
			return nil, err
		}
		out = append(out, dst)
	}
	return out, rows.Err()
}
