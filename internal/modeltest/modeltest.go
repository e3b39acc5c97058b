// Package modeltest provides small domain entities for exercising the
// model, simulation and codec packages.
package modeltest

import (
	"slices"
	"time"

	"github.com/Boavizta/e-footprint-sub000/graph"
	"github.com/Boavizta/e-footprint-sub000/model"
	"github.com/Boavizta/e-footprint-sub000/value"
)

// Kinds of the fixture entities, as used in persisted documents.
const (
	KindUsagePattern = "UsagePattern"
	KindServer       = "Server"
	KindStorage      = "Storage"
	KindCell         = "Cell"
)

var userData = graph.Source{Name: "user data"}

type base struct {
	id         string
	name       string
	dependents []model.Entity
}

func newBase(name string) base {
	return base{id: model.NewID(), name: name}
}

// withID replaces the generated id, for entities rebuilt from a document.
func (b *base) withID(id string) {
	if id != "" {
		b.id = id
	}
}

func (b *base) ID() string                        { return b.id }
func (b *base) Name() string                      { return b.name }
func (b *base) DependentEntities() []model.Entity { return b.dependents }

func (b *base) addDependent(e model.Entity) {
	b.dependents = append(b.dependents, e)
}

func (b *base) dropDependent(id string) {
	b.dependents = slices.DeleteFunc(b.dependents, func(e model.Entity) bool { return e.ID() == id })
}

// UsagePattern holds visits per local hour and converts them to UTC.
type UsagePattern struct {
	base
	Location *time.Location
}

func NewUsagePattern(name string, loc *time.Location) *UsagePattern {
	return &UsagePattern{base: newBase(name), Location: loc}
}

func (u *UsagePattern) Kind() string { return KindUsagePattern }

func (u *UsagePattern) Properties() map[string]string {
	return map[string]string{"location": u.Location.String()}
}

func (u *UsagePattern) Inputs() []model.InputSpec {
	return []model.InputSpec{
		{Name: "local_hourly_visits", Kind: value.KindHourly, Unit: value.Dimensionless, Source: userData},
	}
}

func (u *UsagePattern) Calculations() []model.Calculation {
	return []model.Calculation{
		{Name: "utc_hourly_visits", Update: u.updateUTCHourlyVisits},
	}
}

func (u *UsagePattern) updateUTCHourlyVisits(s *model.Scope) error {
	s.Set(s.ToUTC(s.Get("local_hourly_visits"), u.Location), "hourly visits in UTC of "+u.name)
	return nil
}

// Server turns the visits of its usage patterns into energy.
type Server struct {
	base
	Patterns []*UsagePattern
}

func NewServer(name string, patterns ...*UsagePattern) *Server {
	s := &Server{base: newBase(name), Patterns: patterns}
	for _, p := range patterns {
		p.addDependent(s)
	}
	return s
}

// Detach removes the server from its patterns' dependents, as done before
// deleting it.
func (s *Server) Detach() {
	for _, p := range s.Patterns {
		p.dropDependent(s.id)
	}
}

func (s *Server) Kind() string { return KindServer }

func (s *Server) Links() map[string][]model.Entity {
	out := make([]model.Entity, len(s.Patterns))
	for i, p := range s.Patterns {
		out[i] = p
	}
	return map[string][]model.Entity{"patterns": out}
}

func (s *Server) Inputs() []model.InputSpec {
	return []model.InputSpec{
		{Name: "energy_per_visit", Kind: value.KindScalar, Unit: "Wh", Source: userData},
	}
}

func (s *Server) Calculations() []model.Calculation {
	return []model.Calculation{
		{Name: "energy_per_pattern", Update: s.updateEnergyPerPattern, UpdateEntry: s.updateEnergyOfPattern},
		{Name: "hourly_energy", Update: s.updateHourlyEnergy},
		{Name: "total_energy", Update: s.updateTotalEnergy},
	}
}

func (s *Server) updateEnergyPerPattern(sc *model.Scope) error {
	for _, p := range s.Patterns {
		if err := s.updateEnergyOfPattern(sc, p.ID()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) updateEnergyOfPattern(sc *model.Scope, key string) error {
	i := slices.IndexFunc(s.Patterns, func(p *UsagePattern) bool { return p.ID() == key })
	if i < 0 {
		return nil
	}
	p := s.Patterns[i]
	energy := sc.Mul(sc.Of(p, "utc_hourly_visits"), sc.Get("energy_per_visit"))
	sc.SetEntry(key, energy, "hourly energy of "+s.name+" for "+p.Name())
	return nil
}

func (s *Server) updateHourlyEnergy(sc *model.Scope) error {
	total := sc.Const(value.Empty{}, "no energy")
	for _, p := range s.Patterns {
		total = sc.Add(total, sc.Entry(s, "energy_per_pattern", p.ID()))
	}
	sc.Set(total, "hourly energy of "+s.name)
	return nil
}

func (s *Server) updateTotalEnergy(sc *model.Scope) error {
	sc.Set(sc.Sum(sc.Get("hourly_energy")), "total energy of "+s.name)
	return nil
}

// Storage accumulates hourly need deltas on top of a base need.
type Storage struct {
	base
}

func NewStorage(name string) *Storage {
	return &Storage{base: newBase(name)}
}

func (s *Storage) Kind() string { return KindStorage }

func (s *Storage) Inputs() []model.InputSpec {
	return []model.InputSpec{
		{Name: "base_need", Kind: value.KindScalar, Unit: "TB", Source: userData},
		{Name: "need_deltas", Kind: value.KindHourly, Unit: "TB", Source: userData},
	}
}

func (s *Storage) Calculations() []model.Calculation {
	return []model.Calculation{
		{Name: "cumulative_need", Update: s.updateCumulativeNeed},
	}
}

func (s *Storage) updateCumulativeNeed(sc *model.Scope) error {
	deltas := sc.Get("need_deltas")
	h, ok := sc.Value(deltas).(value.Hourly)
	if !ok {
		return sc.Err()
	}
	ones := make([]float64, h.Len())
	for i := range ones {
		ones[i] = 1
	}
	period := sc.Const(value.Hourly{Start: h.Start, Magnitudes: ones, U: value.Dimensionless}, "modeling period")
	baseline := sc.Mul(period, sc.Get("base_need"))
	cumulative := sc.Add(sc.CumSum(deltas), baseline)
	if sc.Err() != nil {
		return sc.Err()
	}

	var negative []float64
	for _, v := range sc.Value(cumulative).(value.Hourly).Magnitudes {
		if v < 0 {
			negative = append(negative, v)
		}
	}
	if len(negative) > 0 {
		sc.Capacity("cumulative storage need goes below zero", negative)
		return sc.Err()
	}
	sc.Set(cumulative, "cumulative storage need of "+s.name)
	return nil
}

// Cell is a generic node of a random dependency network: y is its input x
// plus the y of every upstream cell. Every recomputation is appended to
// Trace when set.
type Cell struct {
	base
	Up    []*Cell
	Trace *[]string
}

func NewCell(name string, trace *[]string, up ...*Cell) *Cell {
	c := &Cell{base: newBase(name), Up: up, Trace: trace}
	for _, u := range up {
		u.addDependent(c)
	}
	return c
}

func (c *Cell) Kind() string { return KindCell }

func (c *Cell) Links() map[string][]model.Entity {
	out := make([]model.Entity, len(c.Up))
	for i, u := range c.Up {
		out[i] = u
	}
	return map[string][]model.Entity{"up": out}
}

func (c *Cell) Inputs() []model.InputSpec {
	return []model.InputSpec{
		{Name: "x", Kind: value.KindScalar, Unit: value.Dimensionless},
	}
}

func (c *Cell) Calculations() []model.Calculation {
	return []model.Calculation{
		{Name: "y", Update: c.updateY},
	}
}

func (c *Cell) updateY(s *model.Scope) error {
	if c.Trace != nil {
		*c.Trace = append(*c.Trace, c.name)
	}
	y := s.Get("x")
	if len(c.Up) == 0 {
		y = s.Copy(y)
	}
	for _, u := range c.Up {
		y = s.Add(y, s.Of(u, "y"))
	}
	s.Set(y, "y of "+c.name)
	return nil
}
