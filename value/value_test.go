package value

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func randomHourly(r *rand.Rand, start time.Time, n int, unit Unit) Hourly {
	mags := make([]float64, n)
	for i := range mags {
		mags[i] = r.Float64()*200 - 100
	}
	return MustHourly(start, mags, unit)
}

func TestNewScalar_MissingUnit(t *testing.T) {
	if _, err := NewScalar(3, ""); !errors.Is(err, ErrMissingUnit) {
		t.Fatalf("expected ErrMissingUnit, got %v", err)
	}
	s, err := NewScalar(3, "kWh")
	if err != nil {
		t.Fatalf("NewScalar failed: %v", err)
	}
	if s.Magnitude != 3 || s.Unit() != "kWh" {
		t.Errorf("unexpected scalar %v", s)
	}
}

func TestNewHourly_Validation(t *testing.T) {
	if _, err := NewHourly(t0.Add(30*time.Minute), []float64{1}, "W"); !errors.Is(err, ErrNotAligned) {
		t.Errorf("expected ErrNotAligned, got %v", err)
	}
	if _, err := NewHourly(t0, []float64{1}, ""); !errors.Is(err, ErrMissingUnit) {
		t.Errorf("expected ErrMissingUnit, got %v", err)
	}

	src := []float64{1, 2, 3}
	h, err := NewHourly(t0, src, "W")
	if err != nil {
		t.Fatalf("NewHourly failed: %v", err)
	}
	src[0] = 99
	if h.Magnitudes[0] != 1 {
		t.Error("NewHourly must copy its input")
	}
	if !h.End().Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("unexpected end %s", h.End())
	}
}

func TestNewWeekly_Length(t *testing.T) {
	if _, err := NewWeekly(make([]float64, 167), "W"); !errors.Is(err, ErrWeeklyLength) {
		t.Errorf("expected ErrWeeklyLength, got %v", err)
	}
	if _, err := NewWeekly(make([]float64, HoursPerWeek), "W"); err != nil {
		t.Errorf("NewWeekly failed: %v", err)
	}
}

func TestAddSubRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		a := randomHourly(r, t0, 24, "kWh")
		b := randomHourly(r, t0, 24, "kWh")

		sum, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		back, err := Sub(sum, b)
		if err != nil {
			t.Fatalf("Sub failed: %v", err)
		}
		ok, err := Equal(back, a, 1e-9)
		if err != nil {
			t.Fatalf("Equal failed: %v", err)
		}
		if !ok {
			t.Fatalf("(a+b)-b != a on iteration %d", i)
		}
	}

	x := MustScalar(4.5, "kg")
	y := MustScalar(-1.25, "kg")
	sum, _ := Add(x, y)
	back, _ := Sub(sum, y)
	if ok, _ := Equal(back, x, 1e-12); !ok {
		t.Errorf("(x+y)-y = %v, want %v", back, x)
	}
}

func TestEmptyIdentity(t *testing.T) {
	values := []Value{
		MustScalar(2, "kg"),
		MustHourly(t0, []float64{1, 2, 3}, "W"),
		Weekly{U: "W"},
	}
	for _, v := range values {
		t.Run(v.Kind().String(), func(t *testing.T) {
			got, err := Add(Empty{}, v)
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("Empty + v mismatch (-want +got):\n%s", diff)
			}
			got, err = Add(v, Empty{})
			if err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if diff := cmp.Diff(v, got); diff != "" {
				t.Errorf("v + Empty mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEmptyMultiplication(t *testing.T) {
	h := MustHourly(t0, []float64{1, 2}, "W")
	got, err := Mul(Empty{}, h)
	if err != nil {
		t.Fatalf("Empty * hourly failed: %v", err)
	}
	if !IsEmpty(got) {
		t.Errorf("expected Empty, got %v", got)
	}
	if _, err := Mul(Empty{}, MustScalar(2, "h")); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Empty * scalar: expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Div(h, Empty{}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("hourly / Empty: expected ErrShapeMismatch, got %v", err)
	}
	got, err = Sub(Empty{}, MustScalar(2, "kg"))
	if err != nil {
		t.Fatalf("Empty - scalar failed: %v", err)
	}
	if diff := cmp.Diff(Value(MustScalar(-2, "kg")), got); diff != "" {
		t.Errorf("Empty - x mismatch (-want +got):\n%s", diff)
	}
}

func TestAddMisalignedSeries(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		offset := time.Duration(r.Intn(10)) * time.Hour
		a := randomHourly(r, t0, 5+r.Intn(10), "W")
		b := randomHourly(r, t0.Add(offset), 5+r.Intn(10), "W")

		v, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		sum := v.(Hourly)
		if !sum.Start.Equal(t0) {
			t.Fatalf("sum should start at the earlier start, got %s", sum.Start)
		}
		for h := sum.Start; h.Before(sum.End()); h = h.Add(time.Hour) {
			got, _ := sum.At(h)
			av, inA := a.At(h)
			bv, inB := b.At(h)
			var want float64
			switch {
			case inA && inB:
				want = av + bv
			case inA:
				want = av
			case inB:
				want = bv
			}
			if !within(got, want, 1e-9) {
				t.Fatalf("at %s got %v want %v", h, got, want)
			}
		}
	}
}

func TestUnitMismatch(t *testing.T) {
	if _, err := Add(MustScalar(1, "kg"), MustScalar(1, "g")); !errors.Is(err, ErrUnitMismatch) {
		t.Errorf("expected ErrUnitMismatch, got %v", err)
	}
	if _, err := Add(MustHourly(t0, []float64{1}, "W"), MustScalar(3, "W")); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMulDivUnits(t *testing.T) {
	power := MustHourly(t0, []float64{2, 4}, "W")
	got, err := Mul(power, MustScalar(3, "h"))
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	want := MustHourly(t0, []float64{6, 12}, "W*h")
	if diff := cmp.Diff(Value(want), got); diff != "" {
		t.Errorf("power * duration mismatch (-want +got):\n%s", diff)
	}

	ratio, err := Div(MustScalar(6, "kg"), MustScalar(3, "kg"))
	if err != nil {
		t.Fatalf("Div failed: %v", err)
	}
	if ratio.Unit() != Dimensionless || ratio.(Scalar).Magnitude != 2 {
		t.Errorf("unexpected ratio %v", ratio)
	}
	if _, err := Div(MustScalar(1, "kg"), MustScalar(0, "kg")); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}

	q, err := Div(MustHourly(t0, []float64{0, 4}, "W"), MustHourly(t0, []float64{0, 2}, "W"))
	if err != nil {
		t.Fatalf("hourly division failed: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 2}, q.(Hourly).Magnitudes); diff != "" {
		t.Errorf("hourly quotient mismatch (-want +got):\n%s", diff)
	}
	if _, err := Div(MustHourly(t0, []float64{1}, "W"), MustHourly(t0, []float64{1, 2}, "W")); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestReductions(t *testing.T) {
	h := MustHourly(t0, []float64{1, 5, -2, 4}, "kWh")
	tests := []struct {
		name string
		fn   func(Value) (Value, error)
		want float64
	}{
		{"sum", Sum, 8},
		{"mean", Mean, 2},
		{"max", Max, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(h)
			if err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			s := got.(Scalar)
			if s.Magnitude != tt.want || s.U != "kWh" {
				t.Errorf("got %v, want %v kWh", s, tt.want)
			}
			empty, err := tt.fn(Empty{})
			if err != nil || !IsEmpty(empty) {
				t.Errorf("reduction of Empty should be Empty, got %v, %v", empty, err)
			}
		})
	}

	cum, err := CumSum(MustHourly(t0, []float64{2, -2, 4}, "TB"))
	if err != nil {
		t.Fatalf("CumSum failed: %v", err)
	}
	if diff := cmp.Diff([]float64{2, 0, 4}, cum.(Hourly).Magnitudes); diff != "" {
		t.Errorf("cumulative sum mismatch (-want +got):\n%s", diff)
	}
}

func TestCeilAbs(t *testing.T) {
	h := MustHourly(t0, []float64{1.2, -3.7}, "server")
	if diff := cmp.Diff([]float64{2, -3}, Ceil(h).(Hourly).Magnitudes); diff != "" {
		t.Errorf("ceil mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1.2, 3.7}, Abs(h).(Hourly).Magnitudes); diff != "" {
		t.Errorf("abs mismatch (-want +got):\n%s", diff)
	}
}

func TestElementwiseMaxMin(t *testing.T) {
	a := MustHourly(t0, []float64{1, 5, 3}, "W")
	b := MustHourly(t0.Add(time.Hour), []float64{4, 2, 7}, "W")

	mx, err := ElementwiseMax(a, b)
	if err != nil {
		t.Fatalf("ElementwiseMax failed: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 5, 3, 7}, mx.(Hourly).Magnitudes); diff != "" {
		t.Errorf("max mismatch (-want +got):\n%s", diff)
	}
	mn, err := ElementwiseMin(a, b)
	if err != nil {
		t.Fatalf("ElementwiseMin failed: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 4, 2, 0}, mn.(Hourly).Magnitudes); diff != "" {
		t.Errorf("min mismatch (-want +got):\n%s", diff)
	}
	if _, err := ElementwiseMax(a, MustScalar(1, "W")); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestShift(t *testing.T) {
	h := MustHourly(t0, []float64{1, 2}, "W")
	got, err := Shift(h, 48*time.Hour)
	if err != nil {
		t.Fatalf("Shift failed: %v", err)
	}
	if !got.(Hourly).Start.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("unexpected start %s", got.(Hourly).Start)
	}
	if _, err := Shift(h, 90*time.Minute); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestToUTC_FoldsDaylightSavingDuplicates(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Naive local hours 00:00..04:00 on the spring-forward night. 02:00 does
	// not exist locally and is shifted onto 03:00 local (01:00 UTC).
	start := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)
	h := MustHourly(start, []float64{1, 1, 1, 1, 1}, "W")

	got, err := ToUTC(h, paris)
	if err != nil {
		t.Fatalf("ToUTC failed: %v", err)
	}
	utc := got.(Hourly)
	if !utc.Start.Equal(time.Date(2025, 3, 29, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected UTC start %s", utc.Start)
	}
	total, _ := Sum(utc)
	if total.(Scalar).Magnitude != 5 {
		t.Errorf("conversion must preserve the total, got %v", total)
	}
	var folded bool
	for _, m := range utc.Magnitudes {
		if m == 2 {
			folded = true
		}
	}
	if !folded {
		t.Errorf("expected a folded hour in %v", utc.Magnitudes)
	}
}

func TestFromBeforeConcat(t *testing.T) {
	h := MustHourly(t0, []float64{1, 2, 3, 4}, "W")
	cut := t0.Add(2 * time.Hour)

	after := From(h, cut).(Hourly)
	before := Before(h, cut).(Hourly)
	if diff := cmp.Diff([]float64{3, 4}, after.Magnitudes); diff != "" {
		t.Errorf("From mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 2}, before.Magnitudes); diff != "" {
		t.Errorf("Before mismatch (-want +got):\n%s", diff)
	}
	joined, err := Concat(before, after)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if diff := cmp.Diff(Value(h), joined); diff != "" {
		t.Errorf("Concat mismatch (-want +got):\n%s", diff)
	}
}

func TestCompare(t *testing.T) {
	c, err := Compare(MustScalar(1, "kg"), MustScalar(2, "kg"))
	if err != nil || c != -1 {
		t.Errorf("Compare = %d, %v", c, err)
	}
	c, err = Compare(Empty{}, MustScalar(0, "kg"))
	if err != nil || c != 0 {
		t.Errorf("Empty should compare as zero, got %d, %v", c, err)
	}
	a := MustHourly(t0, []float64{1, 2}, "W")
	b := MustHourly(t0, []float64{1, 2, 3}, "W")
	if _, err := Equal(a, b, 0); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch comparing series of different lengths, got %v", err)
	}
	if _, err := Compare(a, a); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch ordering series, got %v", err)
	}
}
