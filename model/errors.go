package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks entity declarations that can never be resolved:
	// missing routines, duplicate attributes, cyclic dependencies.
	ErrConfig = errors.New("invalid entity configuration")

	// ErrPermission marks ownership violations: writing a calculated
	// attribute from outside its routine, deleting an entity with live
	// dependents.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidInput marks input values that do not match their contract.
	ErrInvalidInput = errors.New("invalid input")

	ErrUnknownEntity     = errors.New("entity not registered")
	ErrUnknownAttribute  = errors.New("attribute has no value")
	ErrReentrantWrite    = errors.New("write attempted from inside a recomputation routine")
	ErrSimulationActive  = errors.New("a simulation is active on this model")
	ErrBatchClosed       = errors.New("batch already committed or discarded")
	ErrDuplicateEntityID = errors.New("entity id already registered")
)

// CapacityError is returned by domain routines that detect an invariant
// violation in computed data, such as a cumulative series going negative.
type CapacityError struct {
	EntityID   string
	EntityName string
	Attr       string
	Reason     string
	Magnitudes []float64
}

func (e *CapacityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) %s: %s", e.EntityName, e.EntityID, e.Attr, e.Reason)
	if len(e.Magnitudes) > 0 {
		fmt.Fprintf(&b, ": offending values %v", e.Magnitudes)
	}
	return b.String()
}

// NewCapacityError builds a CapacityError for an attribute of e.
func NewCapacityError(e Entity, attr, reason string, magnitudes []float64) *CapacityError {
	return &CapacityError{
		EntityID:   e.ID(),
		EntityName: e.Name(),
		Attr:       attr,
		Reason:     reason,
		Magnitudes: magnitudes,
	}
}
