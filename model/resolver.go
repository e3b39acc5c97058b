package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/Boavizta/e-footprint-sub000/graph"
)

// Plan computes the recomputations needed after the given nodes changed.
// It collects the live descendants of the dirty nodes through child
// back-references, maps each to its task, and orders the tasks so that a
// task always runs after every task it reads from. Ties keep discovery
// order. An entry task is dropped when the task of its whole collection
// is part of the same plan: the collection task takes the entry's place
// and runs after everything the entry depends on.
func (m *Model) Plan(dirty ...graph.NodeID) ([]Task, error) {
	nodes := m.closure(dirty)

	// Map nodes to tasks. Entries whose whole collection is scheduled are
	// folded into the collection task, which regenerates them.
	raw := make(map[graph.NodeID]Task, len(nodes))
	scheduled := make(map[Task]bool)
	for _, id := range nodes {
		n := m.g.Node(id)
		if _, ok := m.entities[n.Owner.EntityID]; !ok {
			m.log.Warn("live node bound to an unknown entity", "binding", n.Owner.String())
			continue
		}
		if t, ok := m.taskFor(*n.Owner); ok {
			raw[id] = t
			scheduled[t] = true
		}
	}
	taskIndex := make(map[Task]int)
	var tasks []Task
	nodeTask := make(map[graph.NodeID]int, len(nodes))
	folded := make(map[Task]bool)
	for _, id := range nodes {
		t, ok := raw[id]
		if !ok {
			continue
		}
		if coll := t.collection(); t.IsEntry() && scheduled[coll] {
			if !folded[t] {
				folded[t] = true
				prunedTasks.Inc()
				m.log.Trace("entry folded into collection task", "entry", t.String())
			}
			t = coll
		}
		i, seen := taskIndex[t]
		if !seen {
			i = len(tasks)
			taskIndex[t] = i
			tasks = append(tasks, t)
		}
		nodeTask[id] = i
	}

	// Task edges follow node back-references inside the closure.
	succ := make([][]int, len(tasks))
	indegree := make([]int, len(tasks))
	for _, id := range nodes {
		from, ok := nodeTask[id]
		if !ok {
			continue
		}
		for _, c := range m.g.Node(id).Children() {
			to, ok := nodeTask[c]
			if !ok || to == from || slices.Contains(succ[from], to) {
				continue
			}
			succ[from] = append(succ[from], to)
			indegree[to]++
		}
	}

	var ready []int
	for i := range tasks {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	ordered := make([]Task, 0, len(tasks))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, tasks[i])
		for _, j := range succ[i] {
			indegree[j]--
			if indegree[j] == 0 {
				k, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, k, j)
			}
		}
	}
	if len(ordered) != len(tasks) {
		var stuck []string
		for i, t := range tasks {
			if indegree[i] > 0 {
				stuck = append(stuck, t.String())
			}
		}
		return nil, fmt.Errorf("recomputation order has a cycle through %v: %w", stuck, ErrConfig)
	}
	return ordered, nil
}

// closure returns the live nodes reachable from dirty through child
// back-references, in breadth-first discovery order. Dirty nodes
// themselves are not included.
func (m *Model) closure(dirty []graph.NodeID) []graph.NodeID {
	seen := make(map[graph.NodeID]bool)
	for _, d := range dirty {
		seen[d] = true
	}
	queue := slices.Clone(dirty)
	var out []graph.NodeID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := m.g.Node(id)
		if n == nil {
			continue
		}
		for _, c := range n.Children() {
			if seen[c] {
				continue
			}
			seen[c] = true
			if cn := m.g.Node(c); cn != nil && cn.Live() {
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	return out
}

// taskFor maps a binding to the task regenerating it. Entries of a
// collection without an entry routine map to the collection task.
func (m *Model) taskFor(b graph.Binding) (Task, bool) {
	c, ok := m.calcs[b.EntityID][b.Attr]
	if !ok {
		return Task{}, false
	}
	if b.Key != "" && c.UpdateEntry == nil {
		return Task{EntityID: b.EntityID, Attr: b.Attr}, true
	}
	return taskOf(b), true
}

// Run invokes the routine of each task in order. Writes attempted from
// inside a routine are rejected with ErrReentrantWrite. Run does not roll
// back on failure; callers wrap it in a graph journal.
func (m *Model) Run(tasks []Task) error {
	if m.running {
		return ErrReentrantWrite
	}
	m.running = true
	defer func() { m.running = false }()

	start := time.Now()
	defer func() { resolverDuration.Observe(time.Since(start).Seconds()) }()
	resolverPasses.Inc()
	planSize.Observe(float64(len(tasks)))

	for _, t := range tasks {
		e, ok := m.entities[t.EntityID]
		if !ok {
			return fmt.Errorf("task %s: %w", t, ErrUnknownEntity)
		}
		c, ok := m.calcs[t.EntityID][t.Attr]
		if !ok {
			return fmt.Errorf("task %s: no calculated attribute %q on %s: %w", t, t.Attr, describe(e), ErrConfig)
		}
		if err := m.runTask(e, c, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) runTask(e Entity, c Calculation, t Task) error {
	s := m.scope(e, c.Name)
	var err error
	if t.IsEntry() {
		err = c.UpdateEntry(s, t.Key)
	} else {
		err = c.Update(s)
	}
	if err == nil {
		err = s.Err()
	}
	if err == nil && !t.IsEntry() {
		err = m.dropStaleEntries(e, c.Name, s.written)
	}
	recomputations.WithLabelValues(e.Kind()).Inc()
	if err != nil {
		m.log.Debug("recomputation failed", "task", t.String(), "error", err)
		return fmt.Errorf("recomputing %s of %s: %w", t.Attr, describe(e), err)
	}
	m.log.Trace("recomputed", "task", t.String())
	return nil
}

// dropStaleEntries unbinds the collection entries a whole-attribute
// routine did not rewrite.
func (m *Model) dropStaleEntries(e Entity, attr string, written map[string]bool) error {
	for _, key := range m.Keys(e, attr) {
		if written[key] {
			continue
		}
		if err := m.unbind(graph.Binding{EntityID: e.ID(), Attr: attr, Key: key}); err != nil {
			return err
		}
	}
	return nil
}
