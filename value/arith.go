package value

import (
	"fmt"
	"time"
)

// Values are immutable by convention: no operation in this package writes
// into the magnitude slice of an operand.

// Add returns a + b. Empty is the identity. A zero scalar added to a series
// returns the series; any other scalar/series mix is a shape error.
func Add(a, b Value) (Value, error) {
	if IsEmpty(a) {
		if b == nil {
			return Empty{}, nil
		}
		return b, nil
	}
	if IsEmpty(b) {
		return a, nil
	}

	switch x := a.(type) {
	case Scalar:
		switch y := b.(type) {
		case Scalar:
			if err := sameUnit("+", x.U, y.U); err != nil {
				return nil, err
			}
			return Scalar{Magnitude: x.Magnitude + y.Magnitude, U: x.U}, nil
		case Hourly, Weekly:
			if x.Magnitude == 0 {
				return b, nil
			}
		}
	case Hourly:
		switch y := b.(type) {
		case Hourly:
			if err := sameUnit("+", x.U, y.U); err != nil {
				return nil, err
			}
			return combineAligned(x, y, func(p, q float64) float64 { return p + q }), nil
		case Scalar:
			if y.Magnitude == 0 {
				return a, nil
			}
		}
	case Weekly:
		switch y := b.(type) {
		case Weekly:
			if err := sameUnit("+", x.U, y.U); err != nil {
				return nil, err
			}
			return combineWeekly(x, y, x.U, func(p, q float64) float64 { return p + q }), nil
		case Scalar:
			if y.Magnitude == 0 {
				return a, nil
			}
		}
	}
	return nil, shapeError("+", a, b)
}

// Sub returns a - b. Empty - X is -X and X - Empty is X.
func Sub(a, b Value) (Value, error) {
	if IsEmpty(b) {
		if a == nil {
			return Empty{}, nil
		}
		return a, nil
	}
	return Add(a, Neg(b))
}

// Neg returns -v.
func Neg(v Value) Value {
	switch x := v.(type) {
	case Scalar:
		return Scalar{Magnitude: -x.Magnitude, U: x.U}
	case Hourly:
		return mapHourly(x, x.U, func(f float64) float64 { return -f })
	case Weekly:
		return mapWeekly(x, x.U, func(f float64) float64 { return -f })
	}
	return Empty{}
}

// Mul returns a * b. Scalars broadcast over series; two hourly series are
// aligned by instant. Empty absorbs series and Empty, but multiplying Empty
// by a scalar is a shape error.
func Mul(a, b Value) (Value, error) {
	if IsEmpty(a) || IsEmpty(b) {
		other := b
		if IsEmpty(b) {
			other = a
		}
		if !IsEmpty(other) && other.Kind() == KindScalar {
			return nil, shapeError("*", a, b)
		}
		return Empty{}, nil
	}

	switch x := a.(type) {
	case Scalar:
		switch y := b.(type) {
		case Scalar:
			return Scalar{Magnitude: x.Magnitude * y.Magnitude, U: MulUnit(x.U, y.U)}, nil
		case Hourly:
			return mapHourly(y, MulUnit(x.U, y.U), func(f float64) float64 { return x.Magnitude * f }), nil
		case Weekly:
			return mapWeekly(y, MulUnit(x.U, y.U), func(f float64) float64 { return x.Magnitude * f }), nil
		}
	case Hourly:
		switch y := b.(type) {
		case Scalar:
			return mapHourly(x, MulUnit(x.U, y.U), func(f float64) float64 { return f * y.Magnitude }), nil
		case Hourly:
			h := combineAligned(x, y, func(p, q float64) float64 { return p * q })
			h.U = MulUnit(x.U, y.U)
			return h, nil
		}
	case Weekly:
		switch y := b.(type) {
		case Scalar:
			return mapWeekly(x, MulUnit(x.U, y.U), func(f float64) float64 { return f * y.Magnitude }), nil
		case Weekly:
			return combineWeekly(x, y, MulUnit(x.U, y.U), func(p, q float64) float64 { return p * q }), nil
		}
	}
	return nil, shapeError("*", a, b)
}

// Div returns a / b. Empty divided by anything is Empty; dividing by Empty
// is a shape error. Hourly / Hourly requires identical indexes. An element
// 0/0 yields 0; any other division by zero fails.
func Div(a, b Value) (Value, error) {
	if IsEmpty(b) {
		return nil, shapeError("/", a, b)
	}
	if IsEmpty(a) {
		return Empty{}, nil
	}

	switch x := a.(type) {
	case Scalar:
		switch y := b.(type) {
		case Scalar:
			if y.Magnitude == 0 {
				return nil, fmt.Errorf("%s / %s: %w", x, y, ErrDivisionByZero)
			}
			return Scalar{Magnitude: x.Magnitude / y.Magnitude, U: DivUnit(x.U, y.U)}, nil
		case Hourly:
			out, err := divSlices(repeat(x.Magnitude, len(y.Magnitudes)), y.Magnitudes)
			if err != nil {
				return nil, err
			}
			return Hourly{Start: y.Start, Magnitudes: out, U: DivUnit(x.U, y.U)}, nil
		}
	case Hourly:
		switch y := b.(type) {
		case Scalar:
			if y.Magnitude == 0 {
				return nil, fmt.Errorf("%s / %s: %w", x, y, ErrDivisionByZero)
			}
			return mapHourly(x, DivUnit(x.U, y.U), func(f float64) float64 { return f / y.Magnitude }), nil
		case Hourly:
			if !x.Start.Equal(y.Start) || len(x.Magnitudes) != len(y.Magnitudes) {
				return nil, fmt.Errorf("dividing series %s by %s: %w", x, y, ErrShapeMismatch)
			}
			out, err := divSlices(x.Magnitudes, y.Magnitudes)
			if err != nil {
				return nil, err
			}
			return Hourly{Start: x.Start, Magnitudes: out, U: DivUnit(x.U, y.U)}, nil
		}
	case Weekly:
		switch y := b.(type) {
		case Scalar:
			if y.Magnitude == 0 {
				return nil, fmt.Errorf("%s / %s: %w", x, y, ErrDivisionByZero)
			}
			return mapWeekly(x, DivUnit(x.U, y.U), func(f float64) float64 { return f / y.Magnitude }), nil
		case Weekly:
			out, err := divSlices(x.Magnitudes[:], y.Magnitudes[:])
			if err != nil {
				return nil, err
			}
			w := Weekly{U: DivUnit(x.U, y.U)}
			copy(w.Magnitudes[:], out)
			return w, nil
		}
	}
	return nil, shapeError("/", a, b)
}

func divSlices(num, den []float64) ([]float64, error) {
	out := make([]float64, len(num))
	for i := range num {
		switch {
		case den[i] != 0:
			out[i] = num[i] / den[i]
		case num[i] == 0:
			out[i] = 0
		default:
			return nil, fmt.Errorf("element %d: %w", i, ErrDivisionByZero)
		}
	}
	return out, nil
}

func repeat(f float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f
	}
	return out
}

func sameUnit(op string, a, b Unit) error {
	if a != b {
		return fmt.Errorf("%s between %q and %q: %w", op, a, b, ErrUnitMismatch)
	}
	return nil
}

func mapHourly(h Hourly, unit Unit, f func(float64) float64) Hourly {
	out := make([]float64, len(h.Magnitudes))
	for i, m := range h.Magnitudes {
		out[i] = f(m)
	}
	return Hourly{Start: h.Start, Magnitudes: out, U: unit}
}

func mapWeekly(w Weekly, unit Unit, f func(float64) float64) Weekly {
	out := Weekly{U: unit}
	for i, m := range w.Magnitudes {
		out.Magnitudes[i] = f(m)
	}
	return out
}

func combineWeekly(a, b Weekly, unit Unit, f func(p, q float64) float64) Weekly {
	out := Weekly{U: unit}
	for i := range out.Magnitudes {
		out.Magnitudes[i] = f(a.Magnitudes[i], b.Magnitudes[i])
	}
	return out
}

// Align expands a and b onto their common calendar span: the result starts
// at the earlier start and ends at the later end, with missing hours set
// to zero.
func Align(a, b Hourly) (start time.Time, xa, xb []float64) {
	start = a.Start
	if b.Start.Before(start) {
		start = b.Start
	}
	end := a.End()
	if b.End().After(end) {
		end = b.End()
	}
	n := int(end.Sub(start) / time.Hour)
	return start, place(a, start, n), place(b, start, n)
}

func place(h Hourly, start time.Time, n int) []float64 {
	out := make([]float64, n)
	offset := int(h.Start.Sub(start) / time.Hour)
	copy(out[offset:], h.Magnitudes)
	return out
}

func combineAligned(a, b Hourly, f func(p, q float64) float64) Hourly {
	if a.Start.Equal(b.Start) && len(a.Magnitudes) == len(b.Magnitudes) {
		out := make([]float64, len(a.Magnitudes))
		for i := range out {
			out[i] = f(a.Magnitudes[i], b.Magnitudes[i])
		}
		return Hourly{Start: a.Start, Magnitudes: out, U: a.U}
	}
	start, xa, xb := Align(a, b)
	out := make([]float64, len(xa))
	for i := range out {
		out[i] = f(xa[i], xb[i])
	}
	return Hourly{Start: start, Magnitudes: out, U: a.U}
}
