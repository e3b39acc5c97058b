package graph

import (
	"fmt"
	"time"

	"github.com/Boavizta/e-footprint-sub000/value"
)

// Operator labels recorded on derived nodes.
const (
	OpAdd            = "+"
	OpSub            = "-"
	OpMul            = "*"
	OpDiv            = "/"
	OpCeil           = "ceil"
	OpAbs            = "abs"
	OpSum            = "sum"
	OpMean           = "mean"
	OpMax            = "max"
	OpCumSum         = "cumulative sum"
	OpElementwiseMax = "elementwise max"
	OpElementwiseMin = "elementwise min"
	OpShift          = "shifted by"
	OpToUTC          = "converted to UTC from"
	OpCopy           = "copy"
)

// IsUnary reports whether op takes a single operand.
func IsUnary(op string) bool {
	switch op {
	case OpCeil, OpAbs, OpSum, OpMean, OpMax, OpCumSum, OpCopy:
		return true
	}
	return false
}

// IsParametric reports whether op takes one operand plus a textual argument.
func IsParametric(op string) bool {
	return op == OpShift || op == OpToUTC
}

func (g *Graph) derive(v value.Value, op string, left, right NodeID, param string) NodeID {
	return g.insert(&Node{Value: v, Op: op, Left: left, Right: right, Param: param})
}

func (g *Graph) operands(op string, ids ...NodeID) ([]value.Value, error) {
	out := make([]value.Value, len(ids))
	for i, id := range ids {
		n := g.Node(id)
		if n == nil {
			return nil, fmt.Errorf("%s: operand %d: %w", op, id, ErrNodeNotFound)
		}
		out[i] = n.Value
	}
	return out, nil
}

type binaryFunc func(a, b value.Value) (value.Value, error)

func (g *Graph) binary(op string, f binaryFunc, a, b NodeID) (NodeID, error) {
	vs, err := g.operands(op, a, b)
	if err != nil {
		return 0, err
	}
	v, err := f(vs[0], vs[1])
	if err != nil {
		return 0, fmt.Errorf("%s %s %s: %w", g.describe(a), op, g.describe(b), err)
	}
	return g.derive(v, op, a, b, ""), nil
}

type unaryFunc func(a value.Value) (value.Value, error)

func (g *Graph) unary(op string, f unaryFunc, a NodeID, param string) (NodeID, error) {
	vs, err := g.operands(op, a)
	if err != nil {
		return 0, err
	}
	v, err := f(vs[0])
	if err != nil {
		return 0, fmt.Errorf("%s of %s: %w", op, g.describe(a), err)
	}
	return g.derive(v, op, a, 0, param), nil
}

func (g *Graph) describe(id NodeID) string {
	if n := g.Node(id); n != nil && n.Label != "" {
		return fmt.Sprintf("%q", n.Label)
	}
	return fmt.Sprintf("node %d", id)
}

func (g *Graph) Add(a, b NodeID) (NodeID, error) { return g.binary(OpAdd, value.Add, a, b) }
func (g *Graph) Sub(a, b NodeID) (NodeID, error) { return g.binary(OpSub, value.Sub, a, b) }
func (g *Graph) Mul(a, b NodeID) (NodeID, error) { return g.binary(OpMul, value.Mul, a, b) }
func (g *Graph) Div(a, b NodeID) (NodeID, error) { return g.binary(OpDiv, value.Div, a, b) }

func (g *Graph) ElementwiseMax(a, b NodeID) (NodeID, error) {
	return g.binary(OpElementwiseMax, value.ElementwiseMax, a, b)
}

func (g *Graph) ElementwiseMin(a, b NodeID) (NodeID, error) {
	return g.binary(OpElementwiseMin, value.ElementwiseMin, a, b)
}

func (g *Graph) Ceil(a NodeID) (NodeID, error) {
	return g.unary(OpCeil, func(v value.Value) (value.Value, error) { return value.Ceil(v), nil }, a, "")
}

func (g *Graph) Abs(a NodeID) (NodeID, error) {
	return g.unary(OpAbs, func(v value.Value) (value.Value, error) { return value.Abs(v), nil }, a, "")
}

func (g *Graph) Sum(a NodeID) (NodeID, error)    { return g.unary(OpSum, value.Sum, a, "") }
func (g *Graph) Mean(a NodeID) (NodeID, error)   { return g.unary(OpMean, value.Mean, a, "") }
func (g *Graph) Max(a NodeID) (NodeID, error)    { return g.unary(OpMax, value.Max, a, "") }
func (g *Graph) CumSum(a NodeID) (NodeID, error) { return g.unary(OpCumSum, value.CumSum, a, "") }

// Copy derives a node holding the same value, so that a value already bound
// to one attribute can back another.
func (g *Graph) Copy(a NodeID) (NodeID, error) {
	return g.unary(OpCopy, func(v value.Value) (value.Value, error) { return value.Clone(v), nil }, a, "")
}

// Shift moves an hourly series by a whole number of hours.
func (g *Graph) Shift(a NodeID, d time.Duration) (NodeID, error) {
	return g.unary(OpShift, func(v value.Value) (value.Value, error) { return value.Shift(v, d) }, a, d.String())
}

// ToUTC re-indexes a local-time hourly series in UTC.
func (g *Graph) ToUTC(a NodeID, loc *time.Location) (NodeID, error) {
	name := "<nil>"
	if loc != nil {
		name = loc.String()
	}
	return g.unary(OpToUTC, func(v value.Value) (value.Value, error) { return value.ToUTC(v, loc) }, a, name)
}

// Compare orders the scalar values of two nodes. It produces no node.
func (g *Graph) Compare(a, b NodeID) (int, error) {
	vs, err := g.operands("compare", a, b)
	if err != nil {
		return 0, err
	}
	return value.Compare(vs[0], vs[1])
}
