package codec_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Boavizta/e-footprint-sub000/codec"
	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/internal/modeltest"
	"github.com/Boavizta/e-footprint-sub000/model"
	"github.com/Boavizta/e-footprint-sub000/value"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	m       *model.Model
	morning *modeltest.UsagePattern
	web     *modeltest.Server
	archive *modeltest.Storage
}

func visits(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i%24)/3 + 0.1
	}
	return out
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	f := fixture{
		m:       model.New(),
		morning: modeltest.NewUsagePattern("morning", paris),
		archive: modeltest.NewStorage("archive"),
	}
	evening := modeltest.NewUsagePattern("evening", time.UTC)
	f.web = modeltest.NewServer("web", f.morning, evening)

	require.NoError(t, f.m.Add(f.morning, map[string]value.Value{
		"local_hourly_visits": value.MustHourly(t0, visits(24*30), value.Dimensionless),
	}))
	require.NoError(t, f.m.Add(evening, map[string]value.Value{
		"local_hourly_visits": value.MustHourly(t0.Add(12*time.Hour), visits(10), value.Dimensionless),
	}))
	require.NoError(t, f.m.Add(f.web, map[string]value.Value{"energy_per_visit": value.MustScalar(10, "Wh")}))
	require.NoError(t, f.m.Add(f.archive, map[string]value.Value{
		"base_need":   value.MustScalar(5, "TB"),
		"need_deltas": value.MustHourly(t0, []float64{2, -2, 4}, "TB"),
	}))
	return f
}

// bindings collects the value of every live binding of m.
func bindings(m *model.Model) map[graph.Binding]value.Value {
	out := make(map[graph.Binding]value.Value)
	for _, e := range m.Entities() {
		for _, b := range m.Bindings(e) {
			id, _ := m.Lookup(b)
			out[b] = m.Graph().Value(id)
		}
	}
	return out
}

func requireSameValues(t *testing.T, want, got map[graph.Binding]value.Value) {
	t.Helper()
	require.Len(t, got, len(want))
	for b, w := range want {
		g, ok := got[b]
		require.True(t, ok, "binding %s missing", b)
		require.Equal(t, w.Kind(), g.Kind(), b.String())
		require.Equal(t, w.Unit(), g.Unit(), b.String())
		switch w := w.(type) {
		case value.Hourly:
			g := g.(value.Hourly)
			require.True(t, w.Start.Equal(g.Start), "%s starts at %s, want %s", b, g.Start, w.Start)
			require.Equal(t, w.Magnitudes, g.Magnitudes, b.String())
		case value.Scalar:
			require.Equal(t, w.Magnitude, g.(value.Scalar).Magnitude, b.String())
		}
	}
}

func roundTrip(t *testing.T, doc *codec.Document) *codec.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	out, err := codec.Read(&buf)
	require.NoError(t, err)
	return out
}

func TestRoundTripWithProvenance(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{Provenance: true})
	require.NoError(t, err)
	require.True(t, doc.Manifest.Provenance)
	require.Equal(t, codec.CurrentSchemaVersion, doc.Manifest.SchemaVersion)
	require.NotEmpty(t, doc.Manifest.Checksum)

	loaded, err := codec.Decode(roundTrip(t, doc), modeltest.Factories(nil), codec.Options{})
	require.NoError(t, err)
	requireSameValues(t, bindings(f.m), bindings(loaded))

	// Explanations survive without the parents.
	want, err := f.m.Explain(f.web, "total_energy")
	require.NoError(t, err)
	web, ok := loaded.Entity(f.web.ID())
	require.True(t, ok)
	got, err := loaded.Explain(web, "total_energy")
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Restored back-references drive the resolver.
	before := loaded.Value(web, "total_energy").(value.Scalar).Magnitude
	require.NoError(t, loaded.SetInput(web, "energy_per_visit", value.MustScalar(20, "Wh")))
	after := loaded.Value(web, "total_energy").(value.Scalar).Magnitude
	require.InDelta(t, 2*before, after, 1e-6*before)
}

func TestRoundTripRecomputes(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{})
	require.NoError(t, err)
	require.False(t, doc.Manifest.Provenance)

	var trace []string
	loaded, err := codec.Decode(roundTrip(t, doc), modeltest.Factories(&trace), codec.Options{})
	require.NoError(t, err)
	requireSameValues(t, bindings(f.m), bindings(loaded))
}

func TestLongSeriesAreCompressed(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{})
	require.NoError(t, err)

	rec := doc.Entities[modeltest.KindUsagePattern][f.morning.ID()].Attributes["local_hourly_visits"].Record
	require.NotNil(t, rec)
	require.Empty(t, rec.Value.Values)
	require.NotEmpty(t, rec.Value.Compressed)
	require.Equal(t, 24*30, rec.Value.Count)
	require.Less(t, len(rec.Value.Compressed), 24*30*8)

	short := doc.Entities[modeltest.KindStorage][f.archive.ID()].Attributes["need_deltas"].Record
	require.Equal(t, []float64{2, -2, 4}, short.Value.Values)
	require.Nil(t, short.Value.Compressed)

	plain, err := codec.Encode(f.m, codec.Options{CompressThreshold: -1})
	require.NoError(t, err)
	rec = plain.Entities[modeltest.KindUsagePattern][f.morning.ID()].Attributes["local_hourly_visits"].Record
	require.Len(t, rec.Value.Values, 24*30)
}

func TestCompressedSeriesAreBitIdentical(t *testing.T) {
	mags := []float64{0.1, 1.0 / 3, -0, 1e-300, 6.02214076e23}
	for i := 0; i < 200; i++ {
		mags = append(mags, float64(i)*0.7+1.0/7)
	}
	h := value.MustHourly(t0, mags, "kWh")
	p := codec.EncodeValue(h, 0)
	require.NotEmpty(t, p.Compressed)

	v, err := codec.DecodeValue(p)
	require.NoError(t, err)
	require.Equal(t, mags, v.(value.Hourly).Magnitudes)

	p.Digest = strings.Repeat("0", 64)
	_, err = codec.DecodeValue(p)
	require.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestTamperedDocumentFailsChecksum(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{})
	require.NoError(t, err)
	require.NoError(t, codec.Verify(doc))

	m := 99.0
	doc.Entities[modeltest.KindServer][f.web.ID()].Attributes["energy_per_visit"].Record.Value.Magnitude = &m
	require.ErrorIs(t, codec.Verify(doc), codec.ErrChecksum)
	_, err = codec.Decode(doc, modeltest.Factories(nil), codec.Options{})
	require.ErrorIs(t, err, codec.ErrChecksum)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{})
	require.NoError(t, err)

	factories := modeltest.Factories(nil)
	delete(factories, modeltest.KindStorage)
	_, err = codec.Decode(doc, factories, codec.Options{})
	require.ErrorIs(t, err, codec.ErrUnknownKind)
}

const migrations = `
migrations:
  - kind: Server
    attribute: energy_per_visit
    before_version: 2
    from_unit: kWh
    to_unit: Wh
    factor: 1000
  - kind: Storage
    attribute: base_capacity
    before_version: 3
    rename: base_need
`

// oldDocument rewrites a current document the way version 1 stored it.
func oldDocument(t *testing.T, f fixture) *codec.Document {
	t.Helper()
	doc, err := codec.Encode(f.m, codec.Options{})
	require.NoError(t, err)
	server := doc.Entities[modeltest.KindServer][f.web.ID()]
	kwh := 0.01
	server.Attributes["energy_per_visit"].Record.Value.Magnitude = &kwh
	server.Attributes["energy_per_visit"].Record.Value.Unit = "kWh"
	storage := doc.Entities[modeltest.KindStorage][f.archive.ID()]
	storage.Attributes["base_capacity"] = storage.Attributes["base_need"]
	delete(storage.Attributes, "base_need")
	doc.Manifest.SchemaVersion = 1
	doc.Manifest.Checksum = ""
	return doc
}

func TestMigrationsApplyOnLoad(t *testing.T) {
	f := newFixture(t)
	table, err := codec.LoadMigrations(strings.NewReader(migrations))
	require.NoError(t, err)

	_, err = codec.Decode(oldDocument(t, f), modeltest.Factories(nil), codec.Options{})
	require.Error(t, err, "old units must not load without the migration table")

	loaded, err := codec.Decode(oldDocument(t, f), modeltest.Factories(nil), codec.Options{Migrations: table})
	require.NoError(t, err)
	requireSameValues(t, bindings(f.m), bindings(loaded))
}

func TestMigrateRewritesDocument(t *testing.T) {
	f := newFixture(t)
	table, err := codec.LoadMigrations(strings.NewReader(migrations))
	require.NoError(t, err)

	doc := oldDocument(t, f)
	changed, err := codec.Migrate(doc, table)
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	require.Equal(t, codec.CurrentSchemaVersion, doc.Manifest.SchemaVersion)
	require.NoError(t, codec.Verify(doc))

	rec := doc.Entities[modeltest.KindServer][f.web.ID()].Attributes["energy_per_visit"].Record
	require.Equal(t, "Wh", rec.Value.Unit)
	require.InDelta(t, 10, *rec.Value.Magnitude, 1e-12)
	require.Contains(t, doc.Entities[modeltest.KindStorage][f.archive.ID()].Attributes, "base_need")

	// Migrating again is a no-op.
	changed, err = codec.Migrate(doc, table)
	require.NoError(t, err)
	require.Zero(t, changed)
}

func TestInvalidMigrationTable(t *testing.T) {
	_, err := codec.LoadMigrations(strings.NewReader(`
migrations:
  - kind: Server
    before_version: 0
    factor: -2
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "kind and attribute are required")
	require.Contains(t, err.Error(), "before_version 0")
	require.Contains(t, err.Error(), "negative factor")

	_, err = codec.LoadMigrations(strings.NewReader("migrations:\n  - kind: Server\n    colour: blue\n"))
	require.Error(t, err)
}

func TestExplainRecord(t *testing.T) {
	f := newFixture(t)
	doc, err := codec.Encode(f.m, codec.Options{Provenance: true})
	require.NoError(t, err)

	server := doc.Entities[modeltest.KindServer][f.web.ID()]
	total := server.Attributes["total_energy"].Record
	require.NotNil(t, total.Formula)
	require.NotEmpty(t, total.Ancestors)
	got, err := codec.ExplainRecord(total)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "total energy of web = sum(hourly energy of web) = "), got)

	input := server.Attributes["energy_per_visit"].Record
	require.Nil(t, input.Formula)
	require.NotEmpty(t, input.Children)
	got, err = codec.ExplainRecord(input)
	require.NoError(t, err)
	require.Equal(t, "energy_per_visit of web = 10 Wh", got)
}

func TestEncodeRefusedDuringSimulation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.m.Acquire())
	defer f.m.Release()
	_, err := codec.Encode(f.m, codec.Options{})
	require.ErrorIs(t, err, model.ErrSimulationActive)
}
