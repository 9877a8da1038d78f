// SPDX-License-Identifier: MIT
// Package grid defines the immutable network data model (nodes, branches,
// existing and candidate assets), representative operating scenarios, and the
// sentinel errors shared by the topology builder and decision layout.
package grid

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidTopology is returned when the declared network cannot be
	// turned into a consistent incidence/cycle structure (unknown endpoints,
	// duplicate ids, non-positive reactance, or a component count that
	// disagrees with the declared interconnections). Fatal, pre-optimization.
	ErrInvalidTopology = errors.New("grid: invalid topology")

	// ErrInvalidAsset is returned for generators, storage units, or candidates
	// with missing nodes or out-of-domain parameters.
	ErrInvalidAsset = errors.New("grid: invalid asset")

	// ErrInvalidScenario is returned when a scenario's time series are shorter
	// than the requested horizon, reference unknown nodes, or carry negative values.
	ErrInvalidScenario = errors.New("grid: invalid scenario")

	// ErrDecisionSize is returned when a decision vector does not match its Layout.
	ErrDecisionSize = errors.New("grid: decision vector size mismatch")

	// ErrTooFewNodes is returned by the synthetic generators for degenerate sizes.
	ErrTooFewNodes = errors.New("grid: too few nodes")
)

// TopologyError carries the offending element of an ErrInvalidTopology.
type TopologyError struct {
	Reason string
	Node   string // empty when not node-specific
	Branch string // empty when not branch-specific
}

// Error implements error.
func (e *TopologyError) Error() string {
	msg := "grid: invalid topology: " + e.Reason
	if e.Branch != "" {
		msg += fmt.Sprintf(" (branch %q)", e.Branch)
	}
	if e.Node != "" {
		msg += fmt.Sprintf(" (node %q)", e.Node)
	}
	return msg
}

// Unwrap lets errors.Is match ErrInvalidTopology.
func (e *TopologyError) Unwrap() error { return ErrInvalidTopology }

// NodeRole classifies a node.
type NodeRole int

const (
	// RoleBus is a pure transmission bus.
	RoleBus NodeRole = iota
	// RoleGeneratorSite hosts existing or candidate generation.
	RoleGeneratorSite
	// RoleLoadSite hosts demand.
	RoleLoadSite
)

// String returns the lower-case role label.
func (r NodeRole) String() string {
	switch r {
	case RoleBus:
		return "bus"
	case RoleGeneratorSite:
		return "generator-site"
	case RoleLoadSite:
		return "load-site"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Node is a network bus.
type Node struct {
	ID   string   `yaml:"id"`
	Role NodeRole `yaml:"role"`
}

// Branch is a line or transformer between two nodes. Flow is positive in the
// From→To direction.
type Branch struct {
	ID        string  `yaml:"id"`
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Reactance float64 `yaml:"reactance"`  // p.u., must be > 0 for AC branches
	Limit     float64 `yaml:"limit"`      // MW thermal rating, > 0
	HVDC      bool    `yaml:"hvdc"`       // flow-controllable, no KVL row
	VoltageKV float64 `yaml:"voltage_kv"` // tie-break for the spanning tree
}

// CostSegment is one block of a piecewise-linear cost curve: Share of the
// unit's capacity available at marginal Cost ($/MWh). Shares should sum to 1.
type CostSegment struct {
	Share float64 `yaml:"share"`
	Cost  float64 `yaml:"cost"`
}

// Generator is an existing thermal or renewable unit.
type Generator struct {
	ID           string        `yaml:"id"`
	Node         string        `yaml:"node"`
	Capacity     float64       `yaml:"capacity"`      // MW
	Segments     []CostSegment `yaml:"segments"`      // empty ⇒ single free block
	RampRate     float64       `yaml:"ramp_rate"`     // share of capacity per hour, 0 = unlimited
	EmissionRate float64       `yaml:"emission_rate"` // t CO2 per MWh
	Profile      string        `yaml:"profile"`       // availability series key, empty = always 1
}

// StorageUnit is an existing battery or pumped-hydro plant.
type StorageUnit struct {
	ID         string  `yaml:"id"`
	Node       string  `yaml:"node"`
	Power      float64 `yaml:"power"`       // MW
	Energy     float64 `yaml:"energy"`      // MWh
	Efficiency float64 `yaml:"efficiency"`  // round trip, (0,1]
	InitialSOC float64 `yaml:"initial_soc"` // share of Energy at hour 0 and end of day
}

// GenerationCandidate is a buildable generation site. CapitalCost is the
// overnight cost ($/MW) annualised over Lifetime; FixedCost is $/MW-yr.
type GenerationCandidate struct {
	ID           string        `yaml:"id"`
	Node         string        `yaml:"node"`
	MaxBuild     float64       `yaml:"max_build"` // MW
	CapitalCost  float64       `yaml:"capital_cost"`
	FixedCost    float64       `yaml:"fixed_cost"`
	Lifetime     int           `yaml:"lifetime"` // years, 0 ⇒ cost already annualised
	Segments     []CostSegment `yaml:"segments"`
	RampRate     float64       `yaml:"ramp_rate"`
	EmissionRate float64       `yaml:"emission_rate"`
	Profile      string        `yaml:"profile"`
}

// StorageCandidate is a buildable storage site with independent power and
// energy sizing.
type StorageCandidate struct {
	ID         string  `yaml:"id"`
	Node       string  `yaml:"node"`
	MaxPower   float64 `yaml:"max_power"`   // MW
	MaxEnergy  float64 `yaml:"max_energy"`  // MWh
	PowerCost  float64 `yaml:"power_cost"`  // $/MW overnight
	EnergyCost float64 `yaml:"energy_cost"` // $/MWh overnight
	Lifetime   int     `yaml:"lifetime"`
	Efficiency float64 `yaml:"efficiency"` // round trip, (0,1]
}

// CircuitType is one discrete reinforcement option for a corridor.
type CircuitType struct {
	Name      string  `yaml:"name"`
	Capacity  float64 `yaml:"capacity"`  // MW per circuit
	Reactance float64 `yaml:"reactance"` // p.u. per circuit
	Cost      float64 `yaml:"cost"`      // $ overnight per circuit
}

// TransmissionCandidate reinforces an existing branch with parallel circuits.
type TransmissionCandidate struct {
	ID          string        `yaml:"id"`
	Branch      string        `yaml:"branch"`
	Types       []CircuitType `yaml:"types"`
	MaxCircuits int           `yaml:"max_circuits"`
	Lifetime    int           `yaml:"lifetime"`
}

// Network is the immutable planning input.
//
// Interconnections is the declared number of electrically separate systems
// (AC or HVDC linked); 0 means one.
type Network struct {
	Name              string                  `yaml:"name"`
	Nodes             []Node                  `yaml:"nodes"`
	Branches          []Branch                `yaml:"branches"`
	Generators        []Generator             `yaml:"generators"`
	Storage           []StorageUnit           `yaml:"storage"`
	GenCandidates     []GenerationCandidate   `yaml:"generation_candidates"`
	StorageCandidates []StorageCandidate      `yaml:"storage_candidates"`
	LineCandidates    []TransmissionCandidate `yaml:"transmission_candidates"`
	Interconnections  int                     `yaml:"interconnections"`
}

// Scenario is one representative operating day.
//
// Load maps node id → hourly MW; Availability maps a profile key → hourly
// share of capacity in [0,1]; CostScale multiplies the segment costs of the
// named generator or generation candidate (fuel-price sensitivity).
type Scenario struct {
	Name         string               `yaml:"name"`
	Weight       float64              `yaml:"weight"` // days per year represented
	Load         map[string][]float64 `yaml:"load"`
	Availability map[string][]float64 `yaml:"availability"`
	CostScale    map[string]float64   `yaml:"cost_scale"`
}

// LoadAt returns the load at node in hour h (0 when absent).
func (s *Scenario) LoadAt(node string, h int) float64 {
	series, ok := s.Load[node]
	if !ok || h >= len(series) {
		return 0
	}
	return series[h]
}

// AvailabilityAt returns the availability share of profile in hour h
// (1 when the profile is empty or unknown).
func (s *Scenario) AvailabilityAt(profile string, h int) float64 {
	if profile == "" {
		return 1
	}
	series, ok := s.Availability[profile]
	if !ok || h >= len(series) {
		return 1
	}
	return series[h]
}

// Scale returns the cost multiplier for an asset id (1 when absent).
func (s *Scenario) Scale(id string) float64 {
	if v, ok := s.CostScale[id]; ok {
		return v
	}
	return 1
}

// PeakLoad returns the largest hourly system load over the first hours steps.
func (s *Scenario) PeakLoad(hours int) float64 {
	nodes := make([]string, 0, len(s.Load))
	for node := range s.Load {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	peak := 0.0
	for h := 0; h < hours; h++ {
		total := 0.0
		for _, node := range nodes {
			total += s.LoadAt(node, h)
		}
		if total > peak {
			peak = total
		}
	}
	return peak
}
