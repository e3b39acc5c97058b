package simulation_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/internal/modeltest"
	"github.com/Boavizta/e-footprint-sub000/model"
	"github.com/Boavizta/e-footprint-sub000/simulation"
	"github.com/Boavizta/e-footprint-sub000/value"
)

var (
	t0      = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cutover = t0.Add(24 * time.Hour)
)

func constant(n int, f float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f
	}
	return out
}

type fixture struct {
	m       *model.Model
	morning *modeltest.UsagePattern
	evening *modeltest.UsagePattern
	web     *modeltest.Server
	archive *modeltest.Storage
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		m:       model.New(),
		morning: modeltest.NewUsagePattern("morning", time.UTC),
		evening: modeltest.NewUsagePattern("evening", time.UTC),
		archive: modeltest.NewStorage("archive"),
	}
	f.web = modeltest.NewServer("web", f.morning, f.evening)

	visits := value.MustHourly(t0, constant(48, 1), value.Dimensionless)
	require.NoError(t, f.m.Add(f.morning, map[string]value.Value{"local_hourly_visits": visits}))
	require.NoError(t, f.m.Add(f.evening, map[string]value.Value{"local_hourly_visits": visits}))
	require.NoError(t, f.m.Add(f.web, map[string]value.Value{"energy_per_visit": value.MustScalar(10, "Wh")}))
	require.NoError(t, f.m.Add(f.archive, map[string]value.Value{
		"base_need":   value.MustScalar(5, "TB"),
		"need_deltas": value.MustHourly(t0, []float64{2, -2, 4}, "TB"),
	}))
	return f
}

// state captures every live binding by value, ignoring node ids.
func state(m *model.Model) map[string]string {
	out := make(map[string]string)
	for _, e := range m.Entities() {
		for _, b := range m.Bindings(e) {
			id, _ := m.Lookup(b)
			v := m.Graph().Value(id)
			desc := v.String()
			if h, ok := v.(value.Hourly); ok {
				desc += fmt.Sprint(h.Magnitudes)
			}
			out[b.String()] = desc
		}
	}
	return out
}

func TestSimulationReplaysFuture(t *testing.T) {
	f := newFixture(t)
	r, err := simulation.Replace(f.m, f.morning, "local_hourly_visits",
		value.MustHourly(t0, constant(48, 2), value.Dimensionless))
	require.NoError(t, err)

	sim, err := simulation.New(f.m, cutover, []simulation.Replacement{r})
	require.NoError(t, err)
	require.Equal(t, simulation.Active, sim.State())

	hourly := graph.Binding{EntityID: f.web.ID(), Attr: "hourly_energy"}
	twin, ok := sim.Twin(hourly)
	require.True(t, ok, "no twin for hourly energy")
	require.Equal(t, constant(48, 20), twin.Baseline.(value.Hourly).Magnitudes)
	require.Equal(t, constant(24, 20), twin.PreCutover.(value.Hourly).Magnitudes)

	simulated := twin.Simulated.(value.Hourly)
	require.True(t, simulated.Start.Equal(cutover), "simulated series starts at %s", simulated.Start)
	require.Equal(t, constant(24, 30), simulated.Magnitudes)

	combined, err := twin.Combined()
	require.NoError(t, err)
	want := append(constant(24, 20), constant(24, 30)...)
	require.Equal(t, want, combined.(value.Hourly).Magnitudes)

	// The untouched pattern keeps its full series during the simulation.
	evening := f.m.Value(f.evening, "utc_hourly_visits").(value.Hourly)
	require.Equal(t, 48, evening.Len())

	// Scalars do not contain the cutover and are not replayed.
	for _, task := range sim.Tasks() {
		require.NotEqual(t, "total_energy", task.Attr)
	}

	// Ordinary writes wait for the simulation to end.
	err = f.m.SetInput(f.web, "energy_per_visit", value.MustScalar(1, "Wh"))
	require.ErrorIs(t, err, model.ErrSimulationActive)
	_, err = simulation.New(f.m, cutover, []simulation.Replacement{r})
	require.ErrorIs(t, err, model.ErrSimulationActive)

	require.NoError(t, sim.Rollback())
}

func TestRollbackRestoresEverything(t *testing.T) {
	f := newFixture(t)
	before := state(f.m)

	visits, err := simulation.Replace(f.m, f.morning, "local_hourly_visits",
		value.MustHourly(t0, constant(48, 7), value.Dimensionless))
	require.NoError(t, err)
	energy, err := simulation.Replace(f.m, f.web, "energy_per_visit", value.MustScalar(3, "Wh"))
	require.NoError(t, err)

	sim, err := simulation.New(f.m, cutover, []simulation.Replacement{visits, energy})
	require.NoError(t, err)
	require.NotEmpty(t, sim.Twins())
	require.NotEqual(t, before, state(f.m))

	require.NoError(t, sim.Rollback())
	if diff := cmp.Diff(before, state(f.m)); diff != "" {
		t.Fatalf("rollback left differences (-want +got):\n%s", diff)
	}
	require.ErrorIs(t, sim.Rollback(), simulation.ErrNotActive)
	require.ErrorIs(t, sim.Commit(), simulation.ErrNotActive)

	// The model accepts writes again.
	require.NoError(t, f.m.SetInput(f.web, "energy_per_visit", value.MustScalar(1, "Wh")))
}

func TestCommitKeepsHistoryAndFuture(t *testing.T) {
	f := newFixture(t)
	r, err := simulation.Replace(f.m, f.morning, "local_hourly_visits",
		value.MustHourly(t0, constant(48, 2), value.Dimensionless))
	require.NoError(t, err)

	sim, err := simulation.New(f.m, cutover, []simulation.Replacement{r})
	require.NoError(t, err)
	require.NoError(t, sim.Commit())
	require.False(t, f.m.Held())

	input := f.m.Value(f.morning, "local_hourly_visits").(value.Hourly)
	require.Equal(t, append(constant(24, 1), constant(24, 2)...), input.Magnitudes)

	hourly := f.m.Value(f.web, "hourly_energy").(value.Hourly)
	require.True(t, hourly.Start.Equal(t0))
	require.Equal(t, append(constant(24, 20), constant(24, 30)...), hourly.Magnitudes)

	// The scalar total is recomputed from the merged series.
	total := f.m.Value(f.web, "total_energy").(value.Scalar)
	require.InDelta(t, 24*20+24*30, total.Magnitude, 1e-9)
}

func TestConstructionFailures(t *testing.T) {
	f := newFixture(t)
	before := state(f.m)

	late, err := simulation.Replace(f.m, f.morning, "local_hourly_visits",
		value.MustHourly(t0, constant(48, 2), value.Dimensionless))
	require.NoError(t, err)
	_, err = simulation.New(f.m, t0.Add(1000*time.Hour), []simulation.Replacement{late})
	require.ErrorIs(t, err, simulation.ErrCutoverOutOfRange)
	require.False(t, f.m.Held(), "failed construction must release the model")

	shape, err := simulation.Replace(f.m, f.web, "energy_per_visit",
		value.MustHourly(t0, constant(48, 2), "Wh"))
	require.NoError(t, err)
	_, err = simulation.New(f.m, cutover, []simulation.Replacement{shape})
	require.ErrorIs(t, err, value.ErrShapeMismatch)

	_, err = simulation.New(f.m, cutover.Add(time.Minute), []simulation.Replacement{late})
	require.ErrorIs(t, err, value.ErrNotAligned)

	_, err = simulation.New(f.m, cutover, nil)
	require.ErrorIs(t, err, simulation.ErrNoReplacements)

	calculated, _ := f.m.Get(f.web, "hourly_energy")
	bogus := f.m.Graph().Leaf(value.MustHourly(t0, constant(48, 0), "Wh"), "bogus")
	_, err = simulation.New(f.m, cutover, []simulation.Replacement{{Old: calculated, New: bogus}})
	require.ErrorIs(t, err, model.ErrPermission)

	if diff := cmp.Diff(before, state(f.m)); diff != "" {
		t.Fatalf("failed constructions changed the model (-want +got):\n%s", diff)
	}
}

func TestCommitMatchesFreshComputation(t *testing.T) {
	m := model.New()
	archive := modeltest.NewStorage("archive")
	require.NoError(t, m.Add(archive, map[string]value.Value{
		"base_need":   value.MustScalar(5, "TB"),
		"need_deltas": value.MustHourly(t0, constant(48, 1), "TB"),
	}))

	r, err := simulation.Replace(m, archive, "need_deltas", value.MustHourly(t0, constant(48, 2), "TB"))
	require.NoError(t, err)
	sim, err := simulation.New(m, cutover, []simulation.Replacement{r})
	require.NoError(t, err)
	require.NoError(t, sim.Commit())

	merged := append(constant(24, 1), constant(24, 2)...)
	require.Equal(t, merged, m.Value(archive, "need_deltas").(value.Hourly).Magnitudes)

	fresh := model.New()
	again := modeltest.NewStorage("archive")
	require.NoError(t, fresh.Add(again, map[string]value.Value{
		"base_need":   value.MustScalar(5, "TB"),
		"need_deltas": value.MustHourly(t0, merged, "TB"),
	}))

	want := fresh.Value(again, "cumulative_need").(value.Hourly)
	got := m.Value(archive, "cumulative_need").(value.Hourly)
	require.True(t, got.Start.Equal(want.Start))
	if diff := cmp.Diff(want.Magnitudes, got.Magnitudes); diff != "" {
		t.Fatalf("committed cumulative need differs from a fresh computation (-want +got):\n%s", diff)
	}
	require.Equal(t, 31.0, got.Magnitudes[24])
}

func TestReplacementsHonorInputDeclarations(t *testing.T) {
	f := newFixture(t)
	before := state(f.m)

	kwh, err := simulation.Replace(f.m, f.web, "energy_per_visit", value.MustScalar(0.01, "kWh"))
	require.NoError(t, err)
	_, err = simulation.New(f.m, cutover, []simulation.Replacement{kwh})
	require.ErrorIs(t, err, value.ErrUnitMismatch)
	require.ErrorIs(t, err, model.ErrInvalidInput)
	require.False(t, f.m.Held())

	halfPast := value.Hourly{Start: t0.Add(30 * time.Minute), Magnitudes: constant(48, 2), U: value.Dimensionless}
	misaligned, err := simulation.Replace(f.m, f.morning, "local_hourly_visits", halfPast)
	require.NoError(t, err)
	_, err = simulation.New(f.m, cutover, []simulation.Replacement{misaligned})
	require.ErrorIs(t, err, value.ErrNotAligned)

	if diff := cmp.Diff(before, state(f.m)); diff != "" {
		t.Fatalf("rejected replacements changed the model (-want +got):\n%s", diff)
	}
}

func TestFailedConstructionKeepsReplacementNode(t *testing.T) {
	f := newFixture(t)
	old, ok := f.m.Get(f.morning, "local_hourly_visits")
	require.True(t, ok)
	unlabeled := f.m.Graph().Leaf(value.MustHourly(t0, constant(48, 3), value.Dimensionless), "")

	_, err := simulation.New(f.m, t0.Add(1000*time.Hour), []simulation.Replacement{{Old: old, New: unlabeled}})
	require.ErrorIs(t, err, simulation.ErrCutoverOutOfRange)
	require.Empty(t, f.m.Graph().Node(unlabeled).Label)

	sim, err := simulation.New(f.m, cutover, []simulation.Replacement{{Old: old, New: unlabeled}})
	require.NoError(t, err)
	require.Equal(t, f.m.Graph().Node(old).Label, f.m.Graph().Node(unlabeled).Label)
	require.NoError(t, sim.Rollback())
	require.Empty(t, f.m.Graph().Node(unlabeled).Label)
}
