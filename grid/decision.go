// SPDX-License-Identifier: MIT
// Package grid — the investment decision vector x and its layout.
//
// The master works on a flat []float64; Layout fixes which entry belongs to
// which candidate, its box [0, Upper], and its annualised unit cost. Decode
// and Encode convert between the flat vector and a CapacityDecision keyed by
// candidate id.
package grid

import (
	"fmt"
	"math"
)

// DecisionKind tags one entry of the decision vector.
type DecisionKind int

const (
	// KindGeneration is MW of a GenerationCandidate.
	KindGeneration DecisionKind = iota
	// KindStoragePower is MW of a StorageCandidate.
	KindStoragePower
	// KindStorageEnergy is MWh of a StorageCandidate.
	KindStorageEnergy
	// KindTransmission is MW added to a branch by a TransmissionCandidate.
	KindTransmission
	// KindAllowance is tonnes of purchased emission allowances.
	KindAllowance
)

// String returns a short label.
func (k DecisionKind) String() string {
	switch k {
	case KindGeneration:
		return "generation"
	case KindStoragePower:
		return "storage-power"
	case KindStorageEnergy:
		return "storage-energy"
	case KindTransmission:
		return "transmission"
	case KindAllowance:
		return "allowance"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry describes one decision coordinate.
type Entry struct {
	Kind   DecisionKind
	ID     string  // candidate id, "allowances" for KindAllowance
	Node   string  // host node (empty for transmission and allowances)
	Branch string  // reinforced branch for KindTransmission
	Upper  float64 // box upper bound, lower bound is 0
	Cost   float64 // annualised $ per unit
}

// LayoutParams are the economic inputs of NewLayout.
type LayoutParams struct {
	DiscountRate   float64
	AllowancePrice float64 // $/t; ≤ 0 disables the allowance entry
	MaxAllowance   float64 // t; upper bound of the allowance entry
}

// Layout maps candidates to decision indices.
type Layout struct {
	Entries []Entry
	index   map[DecisionKind]map[string]int
}

// CapitalRecovery returns the annuity factor r(1+r)^n / ((1+r)^n − 1).
// It returns 1 for n ≤ 0 (cost already annualised) and 1/n for r = 0.
func CapitalRecovery(rate float64, years int) float64 {
	if years <= 0 {
		return 1
	}
	if rate == 0 {
		return 1 / float64(years)
	}
	g := math.Pow(1+rate, float64(years))
	return rate * g / (g - 1)
}

// NewLayout builds the decision layout of net. Entries are emitted in a fixed
// order: generation candidates, storage power/energy pairs, transmission
// candidates, then the allowance entry.
//
// A transmission entry is priced at the cheapest annualised $/MW of its
// circuit types and bounded by MaxCircuits times the largest circuit.
func NewLayout(net *Network, p LayoutParams) *Layout {
	l := &Layout{index: make(map[DecisionKind]map[string]int)}
	add := func(e Entry) {
		if l.index[e.Kind] == nil {
			l.index[e.Kind] = make(map[string]int)
		}
		l.index[e.Kind][e.ID] = len(l.Entries)
		l.Entries = append(l.Entries, e)
	}

	for _, c := range net.GenCandidates {
		add(Entry{
			Kind: KindGeneration, ID: c.ID, Node: c.Node, Upper: c.MaxBuild,
			Cost: c.CapitalCost*CapitalRecovery(p.DiscountRate, c.Lifetime) + c.FixedCost,
		})
	}
	for _, c := range net.StorageCandidates {
		crf := CapitalRecovery(p.DiscountRate, c.Lifetime)
		add(Entry{Kind: KindStoragePower, ID: c.ID, Node: c.Node, Upper: c.MaxPower, Cost: c.PowerCost * crf})
		add(Entry{Kind: KindStorageEnergy, ID: c.ID, Node: c.Node, Upper: c.MaxEnergy, Cost: c.EnergyCost * crf})
	}
	for _, c := range net.LineCandidates {
		crf := CapitalRecovery(p.DiscountRate, c.Lifetime)
		perMW, maxCap := math.Inf(1), 0.0
		for _, ty := range c.Types {
			perMW = math.Min(perMW, ty.Cost*crf/ty.Capacity)
			maxCap = math.Max(maxCap, ty.Capacity)
		}
		add(Entry{Kind: KindTransmission, ID: c.ID, Branch: c.Branch, Upper: float64(c.MaxCircuits) * maxCap, Cost: perMW})
	}
	if p.AllowancePrice > 0 && p.MaxAllowance > 0 {
		add(Entry{Kind: KindAllowance, ID: AllowanceID, Upper: p.MaxAllowance, Cost: p.AllowancePrice})
	}

	return l
}

// AllowanceID names the allowance decision entry.
const AllowanceID = "allowances"

// Dim returns the length of the decision vector.
func (l *Layout) Dim() int { return len(l.Entries) }

// Index returns the position of (kind, id).
func (l *Layout) Index(kind DecisionKind, id string) (int, bool) {
	i, ok := l.index[kind][id]
	return i, ok
}

// Costs returns the annualised unit cost vector c.
func (l *Layout) Costs() []float64 {
	c := make([]float64, len(l.Entries))
	for i, e := range l.Entries {
		c[i] = e.Cost
	}
	return c
}

// Uppers returns the box upper bounds.
func (l *Layout) Uppers() []float64 {
	u := make([]float64, len(l.Entries))
	for i, e := range l.Entries {
		u[i] = e.Upper
	}
	return u
}

// InvestmentCost returns cᵀx.
func (l *Layout) InvestmentCost(x []float64) float64 {
	total := 0.0
	for i, e := range l.Entries {
		if i < len(x) {
			total += e.Cost * x[i]
		}
	}
	return total
}

// CapacityDecision is the by-candidate view of x. Reactance is filled by
// transmission correction with the effective per-branch reactance.
type CapacityDecision struct {
	Generation    map[string]float64 `yaml:"generation"`
	StoragePower  map[string]float64 `yaml:"storage_power"`
	StorageEnergy map[string]float64 `yaml:"storage_energy"`
	Transmission  map[string]float64 `yaml:"transmission"`
	Reactance     map[string]float64 `yaml:"reactance,omitempty"`
	Allowances    float64            `yaml:"allowances"`
}

// Decode converts x into a CapacityDecision.
//
// Errors: ErrDecisionSize.
func (l *Layout) Decode(x []float64) (CapacityDecision, error) {
	if len(x) != len(l.Entries) {
		return CapacityDecision{}, fmt.Errorf("Decode: len %d, want %d: %w", len(x), len(l.Entries), ErrDecisionSize)
	}
	d := CapacityDecision{
		Generation:    make(map[string]float64),
		StoragePower:  make(map[string]float64),
		StorageEnergy: make(map[string]float64),
		Transmission:  make(map[string]float64),
	}
	for i, e := range l.Entries {
		switch e.Kind {
		case KindGeneration:
			d.Generation[e.ID] = x[i]
		case KindStoragePower:
			d.StoragePower[e.ID] = x[i]
		case KindStorageEnergy:
			d.StorageEnergy[e.ID] = x[i]
		case KindTransmission:
			d.Transmission[e.ID] = x[i]
		case KindAllowance:
			d.Allowances = x[i]
		}
	}
	return d, nil
}

// Encode is the inverse of Decode; missing ids map to 0.
func (l *Layout) Encode(d CapacityDecision) []float64 {
	x := make([]float64, len(l.Entries))
	for i, e := range l.Entries {
		switch e.Kind {
		case KindGeneration:
			x[i] = d.Generation[e.ID]
		case KindStoragePower:
			x[i] = d.StoragePower[e.ID]
		case KindStorageEnergy:
			x[i] = d.StorageEnergy[e.ID]
		case KindTransmission:
			x[i] = d.Transmission[e.ID]
		case KindAllowance:
			x[i] = d.Allowances
		}
	}
	return x
}
