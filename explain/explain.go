// Package explain renders derivations of computed values for terminals:
// the formula with operand labels, the same formula with operand values,
// and the labeled values it was computed from.
package explain

import (
	"fmt"
	"io"

	"github.com/Boavizta/e-footprint-sub000/codec"
	"github.com/Boavizta/e-footprint-sub000/graph"
)

// Derivation holds what is shown for one value.
type Derivation struct {
	Subject string
	Value   string
	Formula string
	Values  string
	Inputs  []Input
	Source  *graph.Source
}

// Input is a labeled operand of a derivation.
type Input struct {
	Label string
	Value string
}

// FromGraph builds the derivation of a node of a live graph.
func FromGraph(g *graph.Graph, id graph.NodeID, subject string) (*Derivation, error) {
	n := g.Node(id)
	if n == nil {
		return nil, fmt.Errorf("explain node %d: %w", id, graph.ErrNodeNotFound)
	}
	d := fromFormula(g.Formula(id), subject)
	d.Source = n.Source
	return d, nil
}

// FromRecord builds the derivation of a persisted record.
func FromRecord(rec *codec.Record, subject string) (*Derivation, error) {
	if rec.Formula != nil {
		d := fromFormula(rec.Formula, subject)
		d.Source = rec.Source
		return d, nil
	}
	v, err := codec.DecodeValue(rec.Value)
	if err != nil {
		return nil, err
	}
	return &Derivation{Subject: subject, Value: v.String(), Source: rec.Source}, nil
}

func fromFormula(f *graph.Formula, subject string) *Derivation {
	if subject == "" {
		subject = f.Label
	}
	d := &Derivation{Subject: subject, Value: f.Text}
	if f.IsLeaf() {
		return d
	}
	d.Formula = f.Render(false)
	d.Values = f.Render(true)
	seen := make(map[string]bool)
	var walk func(x *graph.Formula)
	walk = func(x *graph.Formula) {
		if x == nil {
			return
		}
		if x.IsLeaf() {
			if x.Label != "" && !seen[x.Label] {
				seen[x.Label] = true
				d.Inputs = append(d.Inputs, Input{Label: x.Label, Value: x.Text})
			}
			return
		}
		walk(x.Left)
		walk(x.Right)
	}
	walk(f.Left)
	walk(f.Right)
	return d
}

// Print writes a boxed explanation.
func (d *Derivation) Print(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "╭─ Explain: %s\n", d.Subject)
	fmt.Fprintln(w, "│")

	if d.Formula != "" {
		fmt.Fprintf(w, "│  = %s\n", d.Formula)
		if d.Values != d.Formula {
			fmt.Fprintf(w, "│  = %s\n", d.Values)
		}
	}
	fmt.Fprintf(w, "│  = %s\n", d.Value)
	fmt.Fprintln(w, "│")

	if len(d.Inputs) > 0 {
		fmt.Fprintln(w, "│  📦 Computed from:")
		for _, in := range d.Inputs {
			fmt.Fprintf(w, "│     • %s: %s\n", in.Label, in.Value)
		}
		fmt.Fprintln(w, "│")
	}

	if d.Source != nil {
		if d.Source.Link != "" {
			fmt.Fprintf(w, "│  🔗 Source: %s (%s)\n", d.Source.Name, d.Source.Link)
		} else {
			fmt.Fprintf(w, "│  🔗 Source: %s\n", d.Source.Name)
		}
		fmt.Fprintln(w, "│")
	}

	fmt.Fprintln(w, "╰────────────────────────────────────────")
	fmt.Fprintln(w)
}
