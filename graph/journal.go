package graph

// journal holds undo actions in the order they were recorded.
type journal struct {
	undo []func()
}

// Begin starts recording undo actions for every binding change and value
// swap. Only one journal may be open at a time.
func (g *Graph) Begin() error {
	if g.journal != nil {
		return ErrJournalActive
	}
	g.journal = &journal{}
	return nil
}

// InJournal reports whether changes are currently being recorded.
func (g *Graph) InJournal() bool { return g.journal != nil }

// Record appends an undo action. Without an open journal it does nothing.
func (g *Graph) Record(undo func()) {
	if g.journal == nil {
		return
	}
	g.journal.undo = append(g.journal.undo, undo)
}

// Commit closes the journal and keeps every change made since Begin.
func (g *Graph) Commit() error {
	if g.journal == nil {
		return ErrNoJournal
	}
	g.journal = nil
	return nil
}

// Rollback undoes every change recorded since Begin, newest first, and
// closes the journal. Nodes created in between stay in the arena as
// unreachable garbage until the next sweep.
func (g *Graph) Rollback() error {
	if g.journal == nil {
		return ErrNoJournal
	}
	j := g.journal
	g.journal = nil
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	return nil
}
