package network

import (
	"fmt"
	"math"
	"strings"

	"github.com/edp1096/toy-powerflow/internal/consts"
)

type BusType int

const (
	PQ BusType = iota
	PV
	Slack
)

func (t BusType) String() string {
	switch t {
	case Slack:
		return "Slack"
	case PV:
		return "PV"
	case PQ:
		return "PQ"
	default:
		return fmt.Sprintf("BusType(%d)", int(t))
	}
}

func ParseBusType(s string) (BusType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slack", "ref", "swing":
		return Slack, nil
	case "pv":
		return PV, nil
	case "pq", "":
		return PQ, nil
	}
	return PQ, fmt.Errorf("%w: %q", ErrUnknownBusType, s)
}

func (t BusType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *BusType) UnmarshalText(text []byte) error {
	bt, err := ParseBusType(string(text))
	if err != nil {
		return err
	}
	*t = bt
	return nil
}

// Bus values are per-unit on the case base. Vm and Va are the initial guess
// for PQ buses and the fixed set-point for the slack bus.
type Bus struct {
	ID   int     `json:"id" yaml:"id"`
	Type BusType `json:"type" yaml:"type"`
	Pd   float64 `json:"Pd,omitempty" yaml:"Pd,omitempty"` // Real demand
	Qd   float64 `json:"Qd,omitempty" yaml:"Qd,omitempty"` // Reactive demand
	Pg   float64 `json:"Pg,omitempty" yaml:"Pg,omitempty"` // Scheduled real generation
	Qg   float64 `json:"Qg,omitempty" yaml:"Qg,omitempty"` // Scheduled reactive generation
	Vm   float64 `json:"Vm,omitempty" yaml:"Vm,omitempty"` // Voltage magnitude, 0 means flat
	Va   float64 `json:"Va,omitempty" yaml:"Va,omitempty"` // Voltage angle (deg)
}

// Branch is a series impedance between two 1-based bus ids.
type Branch struct {
	From int     `json:"from" yaml:"from"`
	To   int     `json:"to" yaml:"to"`
	R    float64 `json:"r" yaml:"r"`
	X    float64 `json:"x" yaml:"x"`
}

func (br Branch) Impedance() complex128 {
	return complex(br.R, br.X)
}

// Generator is only consumed by economic dispatch.
type Generator struct {
	Bus  int     `json:"bus" yaml:"bus"`
	Pmin float64 `json:"pmin" yaml:"pmin"`
	Pmax float64 `json:"pmax" yaml:"pmax"`
	Cost float64 `json:"cost" yaml:"cost"`
}

type Case struct {
	Name       string      `json:"name,omitempty" yaml:"name,omitempty"`
	BaseMVA    float64     `json:"base_mva,omitempty" yaml:"base_mva,omitempty"`
	Buses      []Bus       `json:"buses" yaml:"buses"`
	Branches   []Branch    `json:"branches" yaml:"branches"`
	Generators []Generator `json:"generators,omitempty" yaml:"generators,omitempty"`
}

func (c *Case) NumBuses() int {
	return len(c.Buses)
}

// Index converts a 1-based bus id into a matrix index.
func Index(id int) int {
	return id - 1
}

func (c *Case) Base() float64 {
	if c.BaseMVA > 0 {
		return c.BaseMVA
	}
	return consts.BaseMVA
}

func (c *Case) Types() []BusType {
	types := make([]BusType, len(c.Buses))
	for i, bus := range c.Buses {
		types[i] = bus.Type
	}
	return types
}

// Specs returns the specified net injections P = Pg - Pd and Q = Qg - Qd.
func (c *Case) Specs() (p, q []float64) {
	p = make([]float64, len(c.Buses))
	q = make([]float64, len(c.Buses))
	for i, bus := range c.Buses {
		p[i] = bus.Pg - bus.Pd
		q[i] = bus.Qg - bus.Qd
	}
	return p, q
}

// InitialState returns V0 and theta0 (radians).
func (c *Case) InitialState() (v, theta []float64) {
	v = make([]float64, len(c.Buses))
	theta = make([]float64, len(c.Buses))
	for i, bus := range c.Buses {
		v[i] = consts.FlatVoltage
		if bus.Vm > 0 {
			v[i] = bus.Vm
		}
		theta[i] = bus.Va * math.Pi / 180.0
	}
	return v, theta
}

func (c *Case) TotalLoad() float64 {
	load := 0.0
	for _, bus := range c.Buses {
		load += bus.Pd
	}
	return load
}

func (c *Case) SlackIndex() (int, error) {
	idx := -1
	for i, bus := range c.Buses {
		if bus.Type != Slack {
			continue
		}
		if idx >= 0 {
			return -1, fmt.Errorf("%w: buses %d and %d", ErrMultipleSlack, c.Buses[idx].ID, bus.ID)
		}
		idx = i
	}
	if idx < 0 {
		return -1, ErrNoSlack
	}
	return idx, nil
}

// SlackFirst returns a copy of the case with the slack bus moved to index 0
// and every bus renumbered to its new position. Branch and generator
// endpoints follow the renumbering. perm[new] holds the old index.
func (c *Case) SlackFirst() (*Case, []int, error) {
	slack, err := c.SlackIndex()
	if err != nil {
		return nil, nil, err
	}

	n := len(c.Buses)
	perm := make([]int, 0, n)
	perm = append(perm, slack)
	for i := range c.Buses {
		if i != slack {
			perm = append(perm, i)
		}
	}

	// old 1-based id -> new 1-based id
	newID := make(map[int]int, n)
	out := &Case{
		Name:    c.Name,
		BaseMVA: c.BaseMVA,
		Buses:   make([]Bus, n),
	}
	for newIdx, oldIdx := range perm {
		bus := c.Buses[oldIdx]
		newID[bus.ID] = newIdx + 1
		bus.ID = newIdx + 1
		out.Buses[newIdx] = bus
	}

	for _, br := range c.Branches {
		from, okFrom := newID[br.From]
		to, okTo := newID[br.To]
		if !okFrom || !okTo {
			return nil, nil, fmt.Errorf("%w: branch %d-%d", ErrBusOutOfRange, br.From, br.To)
		}
		br.From, br.To = from, to
		out.Branches = append(out.Branches, br)
	}
	for _, gen := range c.Generators {
		bus, ok := newID[gen.Bus]
		if !ok {
			return nil, nil, fmt.Errorf("%w: generator at bus %d", ErrBusOutOfRange, gen.Bus)
		}
		gen.Bus = bus
		out.Generators = append(out.Generators, gen)
	}

	return out, perm, nil
}

// WithGenerators attaches generators and per-bus real demand (keyed by bus
// id). Buses missing from loads get Pd = 0.
func (c *Case) WithGenerators(gens []Generator, loads map[int]float64) *Case {
	out := *c
	out.Buses = make([]Bus, len(c.Buses))
	copy(out.Buses, c.Buses)
	out.Branches = append([]Branch(nil), c.Branches...)
	out.Generators = append([]Generator(nil), gens...)

	for i := range out.Buses {
		out.Buses[i].Pd = loads[out.Buses[i].ID]
	}
	return &out
}
