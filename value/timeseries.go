package value

import (
	"fmt"
	"time"
)

// Shift moves an hourly series by d, which must be a whole number of hours.
func Shift(v Value, d time.Duration) (Value, error) {
	if d%time.Hour != 0 {
		return nil, fmt.Errorf("shift by %s: %w", d, ErrInvalidDuration)
	}
	switch x := v.(type) {
	case nil, Empty:
		return Empty{}, nil
	case Hourly:
		return Hourly{Start: x.Start.Add(d), Magnitudes: x.Magnitudes, U: x.U}, nil
	}
	return nil, fmt.Errorf("shift of %s: %w", v.Kind(), ErrShapeMismatch)
}

// ToUTC reinterprets an hourly series whose index holds naive local hours
// in loc and re-indexes it in UTC. Local hours skipped by a daylight-saving
// jump are moved forward, so two local rows can land on the same UTC hour:
// those are folded by summing. UTC hours nobody maps to are zero.
func ToUTC(v Value, loc *time.Location) (Value, error) {
	if loc == nil {
		return nil, fmt.Errorf("timezone conversion: nil location")
	}
	switch x := v.(type) {
	case nil, Empty:
		return Empty{}, nil
	case Hourly:
		if len(x.Magnitudes) == 0 {
			return x, nil
		}
		instants := make([]time.Time, len(x.Magnitudes))
		first, last := time.Time{}, time.Time{}
		for i := range x.Magnitudes {
			naive := x.Start.Add(time.Duration(i) * time.Hour)
			local := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), 0, 0, 0, loc)
			utc := local.UTC().Truncate(time.Hour)
			instants[i] = utc
			if i == 0 || utc.Before(first) {
				first = utc
			}
			if i == 0 || utc.After(last) {
				last = utc
			}
		}
		out := make([]float64, int(last.Sub(first)/time.Hour)+1)
		for i, t := range instants {
			out[int(t.Sub(first)/time.Hour)] += x.Magnitudes[i]
		}
		return Hourly{Start: first, Magnitudes: out, U: x.U}, nil
	}
	return nil, fmt.Errorf("timezone conversion of %s: %w", v.Kind(), ErrShapeMismatch)
}

// From returns the part of an hourly series at or after cutover. Other
// shapes are returned unchanged.
func From(v Value, cutover time.Time) Value {
	h, ok := v.(Hourly)
	if !ok {
		return v
	}
	if !cutover.After(h.Start) {
		return h
	}
	if !cutover.Before(h.End()) {
		return Hourly{Start: h.End(), Magnitudes: []float64{}, U: h.U}
	}
	i := int(cutover.Sub(h.Start) / time.Hour)
	mags := make([]float64, len(h.Magnitudes)-i)
	copy(mags, h.Magnitudes[i:])
	return Hourly{Start: h.Start.Add(time.Duration(i) * time.Hour), Magnitudes: mags, U: h.U}
}

// Before returns the part of an hourly series strictly before cutover.
// Other shapes are returned unchanged.
func Before(v Value, cutover time.Time) Value {
	h, ok := v.(Hourly)
	if !ok {
		return v
	}
	if !cutover.After(h.Start) {
		return Hourly{Start: h.Start, Magnitudes: []float64{}, U: h.U}
	}
	n := len(h.Magnitudes)
	if cutover.Before(h.End()) {
		n = int(cutover.Sub(h.Start) / time.Hour)
	}
	mags := make([]float64, n)
	copy(mags, h.Magnitudes[:n])
	return Hourly{Start: h.Start, Magnitudes: mags, U: h.U}
}

// Concat joins two series of the same unit where b starts exactly where a
// ends. Either side may be Empty.
func Concat(a, b Value) (Value, error) {
	if IsEmpty(a) {
		return b, nil
	}
	if IsEmpty(b) {
		return a, nil
	}
	x, ok1 := a.(Hourly)
	y, ok2 := b.(Hourly)
	if !ok1 || !ok2 {
		return nil, shapeError("concat", a, b)
	}
	if err := sameUnit("concat", x.U, y.U); err != nil {
		return nil, err
	}
	if len(x.Magnitudes) == 0 {
		return y, nil
	}
	if !x.End().Equal(y.Start) {
		return nil, fmt.Errorf("concat: series ending %s and starting %s are not contiguous: %w",
			x.End().Format(time.RFC3339), y.Start.Format(time.RFC3339), ErrShapeMismatch)
	}
	mags := make([]float64, 0, len(x.Magnitudes)+len(y.Magnitudes))
	mags = append(mags, x.Magnitudes...)
	mags = append(mags, y.Magnitudes...)
	return Hourly{Start: x.Start, Magnitudes: mags, U: x.U}, nil
}
