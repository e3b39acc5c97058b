package modeltest

import (
	"fmt"
	"time"

	"github.com/Boavizta/e-footprint-sub000/codec"
	"github.com/Boavizta/e-footprint-sub000/model"
)

// Factories rebuilds the fixture entities from persisted documents. Cells
// share trace when it is not nil.
func Factories(trace *[]string) codec.Factories {
	return codec.Factories{
		KindUsagePattern: func(spec codec.EntitySpec) (model.Entity, error) {
			loc := time.UTC
			if name := spec.Properties["location"]; name != "" {
				var err error
				if loc, err = time.LoadLocation(name); err != nil {
					return nil, err
				}
			}
			u := NewUsagePattern(spec.Name, loc)
			u.withID(spec.ID)
			return u, nil
		},
		KindServer: func(spec codec.EntitySpec) (model.Entity, error) {
			var patterns []*UsagePattern
			for _, e := range spec.Links["patterns"] {
				p, ok := e.(*UsagePattern)
				if !ok {
					return nil, fmt.Errorf("server %q: pattern link to %T", spec.Name, e)
				}
				patterns = append(patterns, p)
			}
			s := NewServer(spec.Name, patterns...)
			s.withID(spec.ID)
			return s, nil
		},
		KindStorage: func(spec codec.EntitySpec) (model.Entity, error) {
			s := NewStorage(spec.Name)
			s.withID(spec.ID)
			return s, nil
		},
		KindCell: func(spec codec.EntitySpec) (model.Entity, error) {
			var up []*Cell
			for _, e := range spec.Links["up"] {
				u, ok := e.(*Cell)
				if !ok {
					return nil, fmt.Errorf("cell %q: upstream link to %T", spec.Name, e)
				}
				up = append(up, u)
			}
			c := NewCell(spec.Name, trace, up...)
			c.withID(spec.ID)
			return c, nil
		},
	}
}
