package value

import "strings"

// Unit is an opaque unit label such as "kWh" or "TB". Units are compared
// textually; conversion between different units is the caller's concern.
type Unit string

// Dimensionless is the unit of pure numbers and ratios.
const Dimensionless Unit = "dimensionless"

// IsDimensionless reports whether u carries no dimension.
func (u Unit) IsDimensionless() bool {
	return u == Dimensionless
}

// MulUnit returns the unit of a product.
func MulUnit(a, b Unit) Unit {
	switch {
	case a.IsDimensionless():
		return b
	case b.IsDimensionless():
		return a
	}
	return Unit(wrap(a) + "*" + wrap(b))
}

// DivUnit returns the unit of a quotient. Identical units cancel.
func DivUnit(a, b Unit) Unit {
	switch {
	case a == b:
		return Dimensionless
	case b.IsDimensionless():
		return a
	}
	return Unit(wrap(a) + "/" + wrap(b))
}

// wrap parenthesizes composite units so products of quotients stay
// unambiguous.
func wrap(u Unit) string {
	s := string(u)
	if strings.ContainsAny(s, "*/") {
		return "(" + s + ")"
	}
	return s
}
