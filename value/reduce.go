package value

import (
	"fmt"
	"math"
)

// Ceil rounds every magnitude up.
func Ceil(v Value) Value {
	return mapAll(v, math.Ceil)
}

// Abs returns the absolute value of every magnitude.
func Abs(v Value) Value {
	return mapAll(v, math.Abs)
}

func mapAll(v Value, f func(float64) float64) Value {
	switch x := v.(type) {
	case Scalar:
		return Scalar{Magnitude: f(x.Magnitude), U: x.U}
	case Hourly:
		return mapHourly(x, x.U, f)
	case Weekly:
		return mapWeekly(x, x.U, f)
	}
	return Empty{}
}

// Sum reduces a series to the scalar sum of its magnitudes. A scalar is
// returned unchanged and Empty stays Empty.
func Sum(v Value) (Value, error) {
	return reduce("sum", v, func(m []float64) float64 {
		var total float64
		for _, f := range m {
			total += f
		}
		return total
	})
}

// Mean reduces a series to the mean of its magnitudes. The mean of a
// zero-length series is 0.
func Mean(v Value) (Value, error) {
	return reduce("mean", v, func(m []float64) float64 {
		if len(m) == 0 {
			return 0
		}
		var total float64
		for _, f := range m {
			total += f
		}
		return total / float64(len(m))
	})
}

// Max reduces a series to its largest magnitude. The max of a zero-length
// series is 0.
func Max(v Value) (Value, error) {
	return reduce("max", v, func(m []float64) float64 {
		if len(m) == 0 {
			return 0
		}
		best := m[0]
		for _, f := range m[1:] {
			if f > best {
				best = f
			}
		}
		return best
	})
}

func reduce(op string, v Value, f func([]float64) float64) (Value, error) {
	switch x := v.(type) {
	case nil, Empty:
		return Empty{}, nil
	case Scalar:
		return x, nil
	case Hourly:
		return Scalar{Magnitude: f(x.Magnitudes), U: x.U}, nil
	case Weekly:
		return Scalar{Magnitude: f(x.Magnitudes[:]), U: x.U}, nil
	}
	return nil, fmt.Errorf("%s of %s: %w", op, v.Kind(), ErrShapeMismatch)
}

// CumSum returns the running total of an hourly series.
func CumSum(v Value) (Value, error) {
	switch x := v.(type) {
	case nil, Empty:
		return Empty{}, nil
	case Hourly:
		out := make([]float64, len(x.Magnitudes))
		var total float64
		for i, f := range x.Magnitudes {
			total += f
			out[i] = total
		}
		return Hourly{Start: x.Start, Magnitudes: out, U: x.U}, nil
	}
	return nil, fmt.Errorf("cumulative sum of %s: %w", v.Kind(), ErrShapeMismatch)
}

// ElementwiseMax returns the hour-by-hour maximum of two hourly series,
// aligned by instant. Empty counts as a series of zeros.
func ElementwiseMax(a, b Value) (Value, error) {
	return elementwise("elementwise max", a, b, math.Max)
}

// ElementwiseMin returns the hour-by-hour minimum of two hourly series.
func ElementwiseMin(a, b Value) (Value, error) {
	return elementwise("elementwise min", a, b, math.Min)
}

func elementwise(op string, a, b Value, f func(p, q float64) float64) (Value, error) {
	if IsEmpty(a) && IsEmpty(b) {
		return Empty{}, nil
	}
	if IsEmpty(a) {
		return elementwiseWithZero(op, b, f, true)
	}
	if IsEmpty(b) {
		return elementwiseWithZero(op, a, f, false)
	}
	x, ok1 := a.(Hourly)
	y, ok2 := b.(Hourly)
	if !ok1 || !ok2 {
		return nil, shapeError(op, a, b)
	}
	if err := sameUnit(op, x.U, y.U); err != nil {
		return nil, err
	}
	return combineAligned(x, y, f), nil
}

func elementwiseWithZero(op string, v Value, f func(p, q float64) float64, zeroFirst bool) (Value, error) {
	h, ok := v.(Hourly)
	if !ok {
		return nil, shapeError(op, Empty{}, v)
	}
	return mapHourly(h, h.U, func(m float64) float64 {
		if zeroFirst {
			return f(0, m)
		}
		return f(m, 0)
	}), nil
}
