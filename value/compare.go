package value

import (
	"fmt"
	"math"
)

// Compare orders two scalars, returning -1, 0 or +1. Empty compares as
// zero. Series have no order and yield a shape error.
func Compare(a, b Value) (int, error) {
	x, err := asScalar(a, unitOf(b))
	if err != nil {
		return 0, err
	}
	y, err := asScalar(b, x.U)
	if err != nil {
		return 0, err
	}
	if err := sameUnit("compare", x.U, y.U); err != nil {
		return 0, err
	}
	switch {
	case x.Magnitude < y.Magnitude:
		return -1, nil
	case x.Magnitude > y.Magnitude:
		return 1, nil
	}
	return 0, nil
}

func unitOf(v Value) Unit {
	if v == nil {
		return ""
	}
	return v.Unit()
}

func asScalar(v Value, unit Unit) (Scalar, error) {
	switch x := v.(type) {
	case nil, Empty:
		return Scalar{U: unit}, nil
	case Scalar:
		return x, nil
	}
	return Scalar{}, fmt.Errorf("compare %s: %w", v.Kind(), ErrShapeMismatch)
}

// Equal reports whether a and b hold the same magnitudes within tol.
// Hourly series must share start and length; comparing differently shaped
// values is a shape error rather than false.
func Equal(a, b Value, tol float64) (bool, error) {
	if IsEmpty(a) && IsEmpty(b) {
		return true, nil
	}
	if kindOf(a) != kindOf(b) {
		return false, shapeError("==", a, b)
	}
	if a.Unit() != b.Unit() {
		return false, nil
	}
	switch x := a.(type) {
	case Scalar:
		return within(x.Magnitude, b.(Scalar).Magnitude, tol), nil
	case Hourly:
		y := b.(Hourly)
		if !x.Start.Equal(y.Start) || len(x.Magnitudes) != len(y.Magnitudes) {
			return false, fmt.Errorf("comparing %s with %s: %w", x, y, ErrShapeMismatch)
		}
		for i := range x.Magnitudes {
			if !within(x.Magnitudes[i], y.Magnitudes[i], tol) {
				return false, nil
			}
		}
		return true, nil
	case Weekly:
		y := b.(Weekly)
		for i := range x.Magnitudes {
			if !within(x.Magnitudes[i], y.Magnitudes[i], tol) {
				return false, nil
			}
		}
		return true, nil
	}
	return false, shapeError("==", a, b)
}

func within(p, q, tol float64) bool {
	return math.Abs(p-q) <= tol
}
