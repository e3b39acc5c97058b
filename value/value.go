// Package value provides the computed value types carried by graph nodes:
// scalar quantities, hourly time series, weekly recurring patterns, and the
// explicit Empty sentinel for missing data.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingUnit     = errors.New("missing unit")
	ErrUnitMismatch    = errors.New("unit mismatch")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNotAligned      = errors.New("instant is not aligned to the hour")
	ErrWeeklyLength    = errors.New("weekly pattern must have 168 entries")
	ErrInvalidDuration = errors.New("duration must be a whole number of hours")
)

// HoursPerWeek is the fixed length of a WeeklyRecurringPattern.
const HoursPerWeek = 168

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindScalar
	KindHourly
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindScalar:
		return "scalar"
	case KindHourly:
		return "hourly"
	case KindWeekly:
		return "weekly"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "empty":
		return KindEmpty, nil
	case "scalar":
		return KindScalar, nil
	case "hourly":
		return KindHourly, nil
	case "weekly":
		return KindWeekly, nil
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// Value is the closed set of value shapes: Empty, Scalar, Hourly and Weekly.
type Value interface {
	Kind() Kind
	// Unit returns the unit shared by all magnitudes. Empty has no unit.
	Unit() Unit
	String() string

	isValue()
}

// Empty is the "no value" sentinel. It unifies with zero under addition.
type Empty struct{}

func (Empty) Kind() Kind     { return KindEmpty }
func (Empty) Unit() Unit     { return "" }
func (Empty) String() string { return "no value" }
func (Empty) isValue()       {}

// Scalar is a single magnitude with a unit.
type Scalar struct {
	Magnitude float64
	U         Unit
}

// NewScalar returns a Scalar, failing when the unit is missing.
func NewScalar(magnitude float64, unit Unit) (Scalar, error) {
	if unit == "" {
		return Scalar{}, fmt.Errorf("scalar %g: %w", magnitude, ErrMissingUnit)
	}
	return Scalar{Magnitude: magnitude, U: unit}, nil
}

// MustScalar is NewScalar for literals known to be valid.
func MustScalar(magnitude float64, unit Unit) Scalar {
	s, err := NewScalar(magnitude, unit)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Scalar) Kind() Kind { return KindScalar }
func (s Scalar) Unit() Unit { return s.U }
func (s Scalar) String() string {
	return strconv.FormatFloat(s.Magnitude, 'g', 6, 64) + " " + string(s.U)
}
func (Scalar) isValue() {}

// Hourly is a time series with one magnitude per hour, starting at Start
// (UTC, aligned to the hour). All magnitudes share one unit.
type Hourly struct {
	Start      time.Time
	Magnitudes []float64
	U          Unit
}

// NewHourly validates and returns an hourly series. The magnitudes slice is
// copied.
func NewHourly(start time.Time, magnitudes []float64, unit Unit) (Hourly, error) {
	if unit == "" {
		return Hourly{}, fmt.Errorf("hourly series: %w", ErrMissingUnit)
	}
	start = start.UTC()
	if !start.Equal(start.Truncate(time.Hour)) {
		return Hourly{}, fmt.Errorf("hourly series start %s: %w", start.Format(time.RFC3339), ErrNotAligned)
	}
	mags := make([]float64, len(magnitudes))
	copy(mags, magnitudes)
	return Hourly{Start: start, Magnitudes: mags, U: unit}, nil
}

// MustHourly is NewHourly for literals known to be valid.
func MustHourly(start time.Time, magnitudes []float64, unit Unit) Hourly {
	h, err := NewHourly(start, magnitudes, unit)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hourly) Kind() Kind { return KindHourly }
func (h Hourly) Unit() Unit { return h.U }
func (Hourly) isValue()     {}

// Len returns the number of hours in the series.
func (h Hourly) Len() int { return len(h.Magnitudes) }

// End returns the instant just after the last hour.
func (h Hourly) End() time.Time {
	return h.Start.Add(time.Duration(len(h.Magnitudes)) * time.Hour)
}

// Contains reports whether instant t falls inside [Start, End).
func (h Hourly) Contains(t time.Time) bool {
	return !t.Before(h.Start) && t.Before(h.End())
}

// At returns the magnitude at instant t and whether t is inside the series.
func (h Hourly) At(t time.Time) (float64, bool) {
	if !h.Contains(t) {
		return 0, false
	}
	return h.Magnitudes[int(t.Sub(h.Start)/time.Hour)], true
}

func (h Hourly) String() string {
	if len(h.Magnitudes) == 0 {
		return "0 values in " + string(h.U)
	}
	return fmt.Sprintf("%d values from %s to %s in %s",
		len(h.Magnitudes),
		h.Start.Format("2006-01-02 15:04"),
		h.End().Add(-time.Hour).Format("2006-01-02 15:04"),
		h.U)
}

// Weekly is a recurring pattern of 168 hourly magnitudes, Monday 00:00
// first.
type Weekly struct {
	Magnitudes [HoursPerWeek]float64
	U          Unit
}

// NewWeekly builds a weekly pattern from exactly 168 magnitudes.
func NewWeekly(magnitudes []float64, unit Unit) (Weekly, error) {
	if unit == "" {
		return Weekly{}, fmt.Errorf("weekly pattern: %w", ErrMissingUnit)
	}
	if len(magnitudes) != HoursPerWeek {
		return Weekly{}, fmt.Errorf("got %d entries: %w", len(magnitudes), ErrWeeklyLength)
	}
	w := Weekly{U: unit}
	copy(w.Magnitudes[:], magnitudes)
	return w, nil
}

func (w Weekly) Kind() Kind { return KindWeekly }
func (w Weekly) Unit() Unit { return w.U }
func (Weekly) isValue()     {}

func (w Weekly) String() string {
	var b strings.Builder
	b.WriteString("weekly pattern in ")
	b.WriteString(string(w.U))
	return b.String()
}

// IsEmpty reports whether v is nil or the Empty sentinel.
func IsEmpty(v Value) bool {
	if v == nil {
		return true
	}
	return v.Kind() == KindEmpty
}

// Clone returns a deep copy of v. Hourly magnitudes are copied so the
// clone can be mutated independently.
func Clone(v Value) Value {
	switch x := v.(type) {
	case Hourly:
		mags := make([]float64, len(x.Magnitudes))
		copy(mags, x.Magnitudes)
		return Hourly{Start: x.Start, Magnitudes: mags, U: x.U}
	case nil:
		return Empty{}
	default:
		return v
	}
}

func shapeError(op string, a, b Value) error {
	return fmt.Errorf("%s between %s and %s: %w", op, kindOf(a), kindOf(b), ErrShapeMismatch)
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindEmpty
	}
	return v.Kind()
}
