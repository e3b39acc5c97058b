package graph

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Boavizta/e-footprint-sub000/value"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func scalar(g *Graph, f float64, unit value.Unit, label string) NodeID {
	return g.Leaf(value.MustScalar(f, unit), label)
}

func TestOperatorsRecordProvenance(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	b := scalar(g, 2, "kWh", "b")

	sum, err := g.Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	n := g.Node(sum)
	if n.Op != OpAdd || n.Left != a || n.Right != b {
		t.Errorf("unexpected provenance: op=%q left=%d right=%d", n.Op, n.Left, n.Right)
	}
	if n.Label != "" {
		t.Errorf("derived node should start unlabeled, got %q", n.Label)
	}
	if diff := cmp.Diff(value.Value(value.MustScalar(3, "kWh")), n.Value); diff != "" {
		t.Errorf("sum mismatch (-want +got):\n%s", diff)
	}

	shifted, err := g.Shift(g.Leaf(value.MustHourly(t0, []float64{1, 2}, "W"), "load"), 48*time.Hour)
	if err != nil {
		t.Fatalf("Shift failed: %v", err)
	}
	if p := g.Node(shifted).Param; p != "48h0m0s" {
		t.Errorf("shift param = %q", p)
	}
}

func TestOperatorErrorNamesOperands(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "energy")
	b := scalar(g, 1, "kg", "mass")

	_, err := g.Add(a, b)
	if !errors.Is(err, value.ErrUnitMismatch) {
		t.Fatalf("expected unit mismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), `"energy"`) || !strings.Contains(err.Error(), `"mass"`) {
		t.Errorf("error should name both operands: %v", err)
	}
}

func TestBindRules(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	if err := g.Bind(a, Binding{EntityID: "e1", Attr: "a"}); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := g.Bind(a, Binding{EntityID: "e2", Attr: "a"}); !errors.Is(err, ErrAlreadyOwned) {
		t.Errorf("second owner: expected ErrAlreadyOwned, got %v", err)
	}

	unlabeled := g.Leaf(value.MustScalar(1, "kWh"), "")
	if err := g.Bind(unlabeled, Binding{EntityID: "e1", Attr: "b"}); !errors.Is(err, ErrUnlabeled) {
		t.Errorf("unlabeled: expected ErrUnlabeled, got %v", err)
	}
	if err := g.Unbind(unlabeled); !errors.Is(err, ErrNotOwned) {
		t.Errorf("unbind of unowned node: expected ErrNotOwned, got %v", err)
	}
}

func TestBackReferencesSkipUnownedIntermediates(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	b := scalar(g, 2, "kWh", "b")
	c := scalar(g, 3, "kWh", "c")
	for i, id := range []NodeID{a, b} {
		if err := g.Bind(id, Binding{EntityID: "in", Attr: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}

	calc := g.Calc()
	// c is an unowned leaf: it must not receive back-references.
	total := calc.Mul(calc.Add(a, b), c)
	if err := calc.Err(); err != nil {
		t.Fatalf("calc failed: %v", err)
	}
	if err := g.SetLabel(total, "total"); err != nil {
		t.Fatal(err)
	}
	if err := g.Bind(total, Binding{EntityID: "out", Attr: "total"}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []NodeID{a, b} {
		if got := g.Node(id).Children(); !slices.Equal(got, []NodeID{total}) {
			t.Errorf("children of %d = %v, want [%d]", id, got, total)
		}
	}
	if got := g.Node(c).Children(); len(got) != 0 {
		t.Errorf("unowned leaf got children %v", got)
	}

	// Unbinding drops the back-references again.
	if err := g.Unbind(total); err != nil {
		t.Fatal(err)
	}
	if got := g.Node(a).Children(); len(got) != 0 {
		t.Errorf("unbind should remove back-reference, got %v", got)
	}
}

func TestUnbindKeepsOwnChildren(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	_ = g.Bind(a, Binding{EntityID: "in", Attr: "a"})
	d, _ := g.Copy(a)
	_ = g.SetLabel(d, "d")
	_ = g.Bind(d, Binding{EntityID: "out", Attr: "d"})

	if err := g.Unbind(a); err != nil {
		t.Fatal(err)
	}
	if got := g.Node(a).Children(); !slices.Equal(got, []NodeID{d}) {
		t.Errorf("demoted node lost its children: %v", got)
	}
	if g.Node(a).Live() {
		t.Error("node still live after unbind")
	}
}

func TestJournalRollback(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	b := scalar(g, 2, "kWh", "b")
	_ = g.Bind(a, Binding{EntityID: "in", Attr: "a"})
	_ = g.Bind(b, Binding{EntityID: "in", Attr: "b"})
	sum, _ := g.Add(a, b)
	_ = g.SetLabel(sum, "sum")
	_ = g.Bind(sum, Binding{EntityID: "out", Attr: "sum"})
	before := snapshot(g)

	if err := g.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := g.Begin(); !errors.Is(err, ErrJournalActive) {
		t.Errorf("nested Begin: expected ErrJournalActive, got %v", err)
	}
	_ = g.Unbind(a)
	a2 := scalar(g, 10, "kWh", "a")
	_ = g.Bind(a2, Binding{EntityID: "in", Attr: "a"})
	_ = g.Unbind(sum)
	_ = g.ReplaceValue(b, value.MustScalar(0, "kWh"))

	if err := g.Rollback(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, snapshot(g)); diff != "" {
		t.Errorf("rollback did not restore state (-want +got):\n%s", diff)
	}
	if err := g.Commit(); !errors.Is(err, ErrNoJournal) {
		t.Errorf("Commit without journal: expected ErrNoJournal, got %v", err)
	}
}

type nodeState struct {
	Owner    string
	Value    string
	Children []NodeID
}

func snapshot(g *Graph) map[NodeID]nodeState {
	out := make(map[NodeID]nodeState)
	for _, id := range g.Live() {
		n := g.Node(id)
		out[id] = nodeState{Owner: n.Owner.String(), Value: n.Value.String(), Children: n.Children()}
	}
	return out
}

func TestExplain(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "server energy")
	b := scalar(g, 2, "kWh", "network energy")
	f := scalar(g, 3, value.Dimensionless, "overhead factor")

	c := g.Calc()
	total := c.Mul(c.Add(a, b), f)
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	_ = g.SetLabel(total, "total energy")

	got, err := g.Explain(total)
	if err != nil {
		t.Fatal(err)
	}
	want := "total energy = (server energy + network energy) * overhead factor = (1 kWh + 2 kWh) * 3 dimensionless = 9 kWh"
	if got != want {
		t.Errorf("Explain:\n got %q\nwant %q", got, want)
	}

	leaf, _ := g.Explain(a)
	if leaf != "server energy = 1 kWh" {
		t.Errorf("leaf explanation = %q", leaf)
	}
	if _, err := g.Explain(999); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestGarbageCollection(t *testing.T) {
	g := New()
	a := scalar(g, 1, "kWh", "a")
	_ = g.Bind(a, Binding{EntityID: "in", Attr: "a"})
	d, _ := g.Ceil(a)
	_ = g.SetLabel(d, "d")
	_ = g.Bind(d, Binding{EntityID: "out", Attr: "d"})

	// Supersede d; the old node is no longer reachable from anything live.
	_ = g.Unbind(d)
	d2, _ := g.Abs(a)
	_ = g.SetLabel(d2, "d")
	_ = g.Bind(d2, Binding{EntityID: "out", Attr: "d"})
	scratch := g.Leaf(value.MustHourly(t0, []float64{1, 2, 3}, "W"), "scratch")

	plan, err := g.Collect(GCOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(plan.NodesToDelete, []NodeID{d, scratch}) {
		t.Errorf("NodesToDelete = %v, want [%d %d]", plan.NodesToDelete, d, scratch)
	}
	if plan.MagnitudesReclaimed != 4 {
		t.Errorf("MagnitudesReclaimed = %d, want 4", plan.MagnitudesReclaimed)
	}
	if g.Node(d) == nil {
		t.Fatal("dry run removed a node")
	}

	if _, err := g.Collect(GCOptions{Keep: []NodeID{scratch}}); err != nil {
		t.Fatal(err)
	}
	if g.Node(d) != nil {
		t.Error("superseded node survived the sweep")
	}
	if g.Node(scratch) == nil || g.Node(a) == nil {
		t.Error("kept node was swept")
	}
	if got := g.Node(a).Children(); !slices.Equal(got, []NodeID{d2}) {
		t.Errorf("children after sweep = %v", got)
	}
}
