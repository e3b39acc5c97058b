package graph

import (
	"time"

	"github.com/Boavizta/e-footprint-sub000/value"
)

// Calc chains graph operations and keeps the first error. Once an error is
// recorded every further call returns the zero NodeID without computing.
//
//	c := g.Calc()
//	total := c.Add(c.Mul(a, b), base)
//	if err := c.Err(); err != nil { ... }
type Calc struct {
	g   *Graph
	err error
}

// Calc returns a calculator bound to g.
func (g *Graph) Calc() *Calc { return &Calc{g: g} }

// Err returns the first error encountered.
func (c *Calc) Err() error { return c.err }

// Fail records err unless an earlier error is already held.
func (c *Calc) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Const adds a labeled leaf.
func (c *Calc) Const(v value.Value, label string) NodeID {
	if c.err != nil {
		return 0
	}
	return c.g.Leaf(v, label)
}

// Value returns the value held by id, Empty after a failure.
func (c *Calc) Value(id NodeID) value.Value {
	if c.err != nil {
		return value.Empty{}
	}
	return c.g.Value(id)
}

func (c *Calc) do(f func() (NodeID, error)) NodeID {
	if c.err != nil {
		return 0
	}
	id, err := f()
	if err != nil {
		c.err = err
		return 0
	}
	return id
}

func (c *Calc) Add(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.Add(a, b) })
}

func (c *Calc) Sub(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.Sub(a, b) })
}

func (c *Calc) Mul(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.Mul(a, b) })
}

func (c *Calc) Div(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.Div(a, b) })
}

func (c *Calc) Ceil(a NodeID) NodeID   { return c.do(func() (NodeID, error) { return c.g.Ceil(a) }) }
func (c *Calc) Abs(a NodeID) NodeID    { return c.do(func() (NodeID, error) { return c.g.Abs(a) }) }
func (c *Calc) Sum(a NodeID) NodeID    { return c.do(func() (NodeID, error) { return c.g.Sum(a) }) }
func (c *Calc) Mean(a NodeID) NodeID   { return c.do(func() (NodeID, error) { return c.g.Mean(a) }) }
func (c *Calc) Max(a NodeID) NodeID    { return c.do(func() (NodeID, error) { return c.g.Max(a) }) }
func (c *Calc) CumSum(a NodeID) NodeID { return c.do(func() (NodeID, error) { return c.g.CumSum(a) }) }
func (c *Calc) Copy(a NodeID) NodeID   { return c.do(func() (NodeID, error) { return c.g.Copy(a) }) }

func (c *Calc) ElementwiseMax(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.ElementwiseMax(a, b) })
}

func (c *Calc) ElementwiseMin(a, b NodeID) NodeID {
	return c.do(func() (NodeID, error) { return c.g.ElementwiseMin(a, b) })
}

func (c *Calc) Shift(a NodeID, d time.Duration) NodeID {
	return c.do(func() (NodeID, error) { return c.g.Shift(a, d) })
}

func (c *Calc) ToUTC(a NodeID, loc *time.Location) NodeID {
	return c.do(func() (NodeID, error) { return c.g.ToUTC(a, loc) })
}
