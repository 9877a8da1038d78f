// SPDX-License-Identifier: MIT
// Package solver defines the minimal linear / mixed-integer programming surface
// the planner depends on. Models are declared backend-agnostically as a Problem
// (variables, rows, objective) and handed to any Backend for optimization.
//
// Errors:
//
//	ErrSolver        - backend failure (numerical trouble, internal panic, bad input).
//	ErrBadVariable   - a row references a variable that was never declared.
//	ErrBadBounds     - variable lower bound exceeds its upper bound or is NaN.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for solver operations.
var (
	// ErrSolver indicates that the backend failed to produce a trustworthy answer.
	ErrSolver = errors.New("solver: backend failure")

	// ErrBadVariable indicates a row term referencing an undeclared variable.
	ErrBadVariable = errors.New("solver: unknown variable")

	// ErrBadBounds indicates an empty or NaN variable domain.
	ErrBadBounds = errors.New("solver: invalid variable bounds")
)

// Sense is the relation of a row to its right-hand side.
type Sense int

const (
	// LessEqual encodes Σ a·x ≤ rhs.
	LessEqual Sense = iota
	// GreaterEqual encodes Σ a·x ≥ rhs.
	GreaterEqual
	// Equal encodes Σ a·x = rhs.
	Equal
)

// String renders the sense as its mathematical relation.
func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "="
	default:
		return fmt.Sprintf("Sense(%d)", int(s))
	}
}

// Status is the tagged outcome of an Optimize call.
type Status int

const (
	// StatusOptimal means Primal/Duals/Objective are valid.
	StatusOptimal Status = iota
	// StatusInfeasible means no point satisfies the rows and bounds.
	StatusInfeasible
	// StatusUnbounded means the objective decreases without limit.
	StatusUnbounded
	// StatusTimedOut means the per-call time limit or context expired first.
	StatusTimedOut
)

// String returns a short lowercase label usable as a metric label value.
func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Var identifies a declared variable (column) of a Problem.
type Var int

// Row identifies a declared constraint of a Problem.
type Row int

// Term is one coefficient of a row.
type Term struct {
	Var  Var
	Coef float64
}

// Variable is the declaration of one column.
type Variable struct {
	Name    string
	Lower   float64 // may be math.Inf(-1)
	Upper   float64 // may be math.Inf(+1)
	Cost    float64
	Integer bool
}

// Constraint is the declaration of one row.
type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Problem is a minimization model: minimize Σ cost·x subject to rows and bounds.
// A Problem is plain data; it is not safe for concurrent mutation but may be
// solved by several backends concurrently once built.
type Problem struct {
	Name string
	Vars []Variable
	Rows []Constraint
}

// NewProblem returns an empty named Problem.
func NewProblem(name string) *Problem {
	return &Problem{Name: name}
}

// AddVar declares a column and returns its handle.
// Complexity: O(1) amortized.
func (p *Problem) AddVar(name string, lower, upper, cost float64) Var {
	p.Vars = append(p.Vars, Variable{Name: name, Lower: lower, Upper: upper, Cost: cost})
	return Var(len(p.Vars) - 1)
}

// AddIntVar declares an integer column and returns its handle.
func (p *Problem) AddIntVar(name string, lower, upper, cost float64) Var {
	v := p.AddVar(name, lower, upper, cost)
	p.Vars[v].Integer = true
	return v
}

// AddFreeVar declares an unbounded continuous column.
func (p *Problem) AddFreeVar(name string, cost float64) Var {
	return p.AddVar(name, math.Inf(-1), math.Inf(1), cost)
}

// AddRow declares a constraint and returns its handle. Terms are copied.
func (p *Problem) AddRow(name string, terms []Term, sense Sense, rhs float64) Row {
	cp := make([]Term, len(terms))
	copy(cp, terms)
	p.Rows = append(p.Rows, Constraint{Name: name, Terms: cp, Sense: sense, RHS: rhs})
	return Row(len(p.Rows) - 1)
}

// SetRHS replaces the right-hand side of an existing row.
func (p *Problem) SetRHS(r Row, rhs float64) {
	p.Rows[r].RHS = rhs
}

// HasIntegers reports whether any column is declared integer.
func (p *Problem) HasIntegers() bool {
	for i := range p.Vars {
		if p.Vars[i].Integer {
			return true
		}
	}
	return false
}

// Validate checks bounds and row references.
// Errors: ErrBadBounds, ErrBadVariable (wrapped with the offending name).
func (p *Problem) Validate() error {
	for i, v := range p.Vars {
		if math.IsNaN(v.Lower) || math.IsNaN(v.Upper) || v.Lower > v.Upper {
			return fmt.Errorf("Validate: var %d %q [%g,%g]: %w", i, v.Name, v.Lower, v.Upper, ErrBadBounds)
		}
	}
	for r, row := range p.Rows {
		for _, t := range row.Terms {
			if t.Var < 0 || int(t.Var) >= len(p.Vars) {
				return fmt.Errorf("Validate: row %d %q references %d: %w", r, row.Name, t.Var, ErrBadVariable)
			}
		}
	}
	return nil
}

// Solution holds the result of one Optimize call.
//
// Duals[r] is the sensitivity of the optimal objective to Rows[r].RHS
// (∂objective/∂rhs), so a binding ≤ row in a minimization has Duals ≤ 0.
// Duals is nil for problems with integer columns.
type Solution struct {
	Status    Status
	Objective float64
	Primal    []float64
	Duals     []float64
	Nodes     int           // branch-and-bound nodes explored (0 for pure LP)
	Elapsed   time.Duration // wall time spent in the backend
}

// Value returns the primal value of v, or 0 if unavailable.
func (s *Solution) Value(v Var) float64 {
	if s == nil || int(v) < 0 || int(v) >= len(s.Primal) {
		return 0
	}
	return s.Primal[v]
}

// Dual returns the dual value of r, or 0 if unavailable.
func (s *Solution) Dual(r Row) float64 {
	if s == nil || int(r) < 0 || int(r) >= len(s.Duals) {
		return 0
	}
	return s.Duals[r]
}

// Options tunes a single Optimize call.
type Options struct {
	// TimeLimit bounds the wall time of the call; zero means no limit.
	TimeLimit time.Duration

	// WantDuals requests row duals for pure LPs.
	WantDuals bool
}

// Backend optimizes Problems. Implementations must be safe for concurrent use
// by multiple goroutines and must report time limits through StatusTimedOut
// rather than an error.
type Backend interface {
	// Optimize solves p. A non-nil error always wraps ErrSolver.
	Optimize(ctx context.Context, p *Problem, opts Options) (*Solution, error)

	// Close releases backend resources. Calls after Close fail with ErrSolver.
	Close() error
}

// Factory constructs a fresh per-run Backend.
type Factory func() (Backend, error)

// Error decorates ErrSolver with the failing operation. Status is left at
// StatusOptimal unless the failure is tied to a specific outcome.
type Error struct {
	Op     string
	Status Status
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	msg := "solver: " + e.Op
	if e.Status != StatusOptimal {
		msg += " (" + e.Status.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrSolver and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSolver}
	}
	return []error{ErrSolver, e.Err}
}
