package graph

import (
	"slices"

	"github.com/Boavizta/e-footprint-sub000/value"
)

// GCPlan describes what would be dropped from the arena.
type GCPlan struct {
	// Demoted nodes no live node derives from
	NodesToDelete []NodeID

	// Nodes that stay: live nodes plus everything they were computed from
	NodesKept int

	// Magnitudes held by the nodes to delete, for summary
	MagnitudesReclaimed int
}

// GCOptions configures the collector.
type GCOptions struct {
	// Keep lists extra roots, e.g. nodes a caller still holds on to
	Keep []NodeID

	// DryRun computes the plan without sweeping
	DryRun bool
}

// BuildGCPlan computes what garbage collection would drop. It uses a
// mark-and-sweep algorithm:
// 1. Roots are all live nodes plus opts.Keep
// 2. Mark every node reachable through parent edges
// 3. Anything not marked is eligible for deletion
func (g *Graph) BuildGCPlan(opts GCOptions) *GCPlan {
	plan := &GCPlan{}

	marked := make(map[NodeID]bool)
	queue := make([]NodeID, 0, g.live+len(opts.Keep))
	for _, n := range g.nodes {
		if n != nil && n.Owner != nil {
			queue = append(queue, n.ID)
			marked[n.ID] = true
		}
	}
	for _, id := range opts.Keep {
		if g.Node(id) != nil && !marked[id] {
			queue = append(queue, id)
			marked[id] = true
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, p := range g.nodes[id-1].Parents() {
			if !marked[p] && g.Node(p) != nil {
				marked[p] = true
				queue = append(queue, p)
			}
		}
	}

	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		if marked[n.ID] {
			plan.NodesKept++
			continue
		}
		plan.NodesToDelete = append(plan.NodesToDelete, n.ID)
		plan.MagnitudesReclaimed += magnitudes(n.Value)
	}
	return plan
}

// Sweep drops the nodes of a plan from the arena. IDs are never reused.
func (g *Graph) Sweep(plan *GCPlan) error {
	if g.journal != nil {
		return ErrSweepInJournal
	}
	if len(plan.NodesToDelete) == 0 {
		return nil
	}
	dropped := make(map[NodeID]bool, len(plan.NodesToDelete))
	for _, id := range plan.NodesToDelete {
		if n := g.Node(id); n != nil && n.Owner == nil {
			g.nodes[id-1] = nil
			dropped[id] = true
		}
	}
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		n.children = slices.DeleteFunc(n.children, func(c NodeID) bool { return dropped[c] })
		n.registeredWith = slices.DeleteFunc(n.registeredWith, func(a NodeID) bool { return dropped[a] })
	}
	return nil
}

// Collect builds a plan and, unless opts.DryRun is set, sweeps it.
func (g *Graph) Collect(opts GCOptions) (*GCPlan, error) {
	plan := g.BuildGCPlan(opts)
	if opts.DryRun {
		return plan, nil
	}
	return plan, g.Sweep(plan)
}

func magnitudes(v value.Value) int {
	switch x := v.(type) {
	case value.Scalar:
		return 1
	case value.Hourly:
		return len(x.Magnitudes)
	case value.Weekly:
		return len(x.Magnitudes)
	}
	return 0
}
