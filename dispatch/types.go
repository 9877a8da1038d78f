// SPDX-License-Identifier: MIT
// Package dispatch defines the inputs, tagged outcomes, and errors of the
// operational subproblem.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/grid"
)

var (
	// ErrInfeasible indicates a subproblem with no feasible dispatch even with
	// load shedding. It points at bad input data and is fatal.
	ErrInfeasible = errors.New("dispatch: infeasible subproblem")

	// ErrInput indicates inconsistent subproblem inputs (lengths, horizon).
	ErrInput = errors.New("dispatch: invalid input")
)

// Status tags a subproblem outcome.
type Status int

const (
	// StatusOK means Cost, Subgradient, and Flows are valid.
	StatusOK Status = iota
	// StatusInfeasible means Err holds an *InfeasibleError.
	StatusInfeasible
	// StatusTimedOut means the per-call limit expired; nothing else is valid.
	StatusTimedOut
)

// String returns a metric-friendly label.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInfeasible:
		return "infeasible"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// InfeasibleError attaches scenario and hour context to ErrInfeasible.
// Hour is −1 when every hour is feasible on its own and only the
// inter-temporal coupling (ramping, storage, carbon) is not.
type InfeasibleError struct {
	Scenario string
	Hour     int
}

// Error implements error.
func (e *InfeasibleError) Error() string {
	if e.Hour < 0 {
		return fmt.Sprintf("dispatch: infeasible subproblem: scenario %q (inter-temporal coupling)", e.Scenario)
	}
	return fmt.Sprintf("dispatch: infeasible subproblem: scenario %q hour %d", e.Scenario, e.Hour)
}

// Unwrap lets errors.Is match ErrInfeasible.
func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

// Params are the economic and security constants of the subproblem.
type Params struct {
	ValueOfLostLoad  float64 // $/MWh of shed load
	ReserveMargin    float64 // share of hourly load, 0 disables the reserve row
	ReservePenalty   float64 // $/MWh of reserve shortfall
	CarbonCap        float64 // t per scenario day before allowances, ≤ 0 disables
	AllowanceShare   float64 // share of purchased allowances usable per scenario day
	CarbonPenalty    float64 // $/t above the cap
	EmergencyFactor  float64 // post-outage rating as a multiple of the normal rating
	StorageCycleCost float64 // $/MWh discharged, breaks charge/discharge degeneracy
}

// Contingency is one active post-outage constraint:
//
//	|f_Branch + Σ_j Beta[j]·f_{Outage[j]}| ≤ EmergencyFactor·(Limit_Branch + x_Branch)
type Contingency struct {
	Hour   int
	Outage contingency.Outage
	Branch int
	Beta   []float64
}

// Input is everything one subproblem solve needs. All fields are read-only.
type Input struct {
	Network   *grid.Network
	Topology  *grid.Topology
	Cycles    []grid.Cycle
	Reactance []float64 // effective per-branch reactance used in KVL rows
	Layout    *grid.Layout
	Decision  []float64 // x, len Layout.Dim()
	Scenario  *grid.Scenario
	Hours     int
	Params    Params
	Active    []Contingency
}

// Outcome is the tagged result of Solve.
type Outcome struct {
	Status      Status
	Err         error     // *InfeasibleError when Status == StatusInfeasible
	Cost        float64   // operating cost of one scenario day ($)
	Subgradient []float64 // ∂Cost/∂x, len Layout.Dim()
	Flows       [][]float64
	Prices      [][]float64 // hour × node, ∂Cost/∂load ($/MWh)
	Shed        float64     // MWh over the horizon
	Emissions   float64     // t over the horizon
	Shortfall   float64     // MWh of reserve shortfall
	Overrun     float64     // t above the carbon cap
	Rows        int
	Cols        int
	Elapsed     time.Duration
}
