// SPDX-License-Identifier: MIT
// Package simplex — pure-Go solver.Backend on top of gonum's simplex.
//
// LPs are solved in standard form; row duals are recovered from the optimal
// vertex (see duals.go).
// Problems with integer columns run a depth-first branch & bound over the LP
// relaxation, branching on the most fractional column.
package simplex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/katalvlaran/gridplan/solver"
)

// Default numeric policy.
const (
	defaultTolerance    = 1e-9
	defaultIntTolerance = 1e-6
	defaultMaxNodes     = 20000
)

// Options configures the backend.
type Options struct {
	// Tolerance is the reduced-cost tolerance passed to gonum and the zero
	// threshold used during standard-form conversion.
	Tolerance float64

	// IntTolerance is the distance to the nearest integer accepted as integral.
	IntTolerance float64

	// MaxNodes caps branch & bound; the incumbent is returned when reached.
	MaxNodes int
}

// Option configures Options.
type Option func(*Options)

// WithTolerance sets the simplex tolerance.
func WithTolerance(tol float64) Option {
	return func(o *Options) {
		if tol > 0 {
			o.Tolerance = tol
		}
	}
}

// WithMaxNodes caps branch & bound nodes.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxNodes = n
		}
	}
}

// DefaultOptions returns the default numeric policy.
func DefaultOptions() Options {
	return Options{
		Tolerance:    defaultTolerance,
		IntTolerance: defaultIntTolerance,
		MaxNodes:     defaultMaxNodes,
	}
}

// Backend implements solver.Backend. It is stateless apart from the closed
// flag and is safe for concurrent use.
type Backend struct {
	opts   Options
	closed atomic.Bool
}

// New constructs a Backend.
func New(opts ...Option) *Backend {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend{opts: o}
}

// Factory adapts New to solver.Factory.
func Factory(opts ...Option) solver.Factory {
	return func() (solver.Backend, error) { return New(opts...), nil }
}

// Close marks the backend unusable.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

// Optimize solves p under opts.
//
// Stage 1 (Validate): closed backend, malformed problem.
// Stage 2 (Limit): derive the per-call deadline.
// Stage 3 (Execute): LP or branch & bound in a worker goroutine; a panic from
// the numeric core is converted into solver.ErrSolver.
// Stage 4 (Await): first of {result, deadline, parent cancellation}.
//
// gonum's simplex does not observe contexts; on time-out the worker goroutine
// finishes in the background and its result is discarded.
func (b *Backend) Optimize(ctx context.Context, p *solver.Problem, opts solver.Options) (*solver.Solution, error) {
	if b.closed.Load() {
		return nil, &solver.Error{Op: "optimize", Err: errors.New("backend closed")}
	}
	if err := p.Validate(); err != nil {
		return nil, &solver.Error{Op: "validate", Err: err}
	}

	callCtx := ctx
	cancel := func() {}
	if opts.TimeLimit > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
	}
	defer cancel()

	type result struct {
		sol *solver.Solution
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: &solver.Error{Op: "simplex", Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		var (
			sol *solver.Solution
			err error
		)
		if p.HasIntegers() {
			sol, err = b.branchAndBound(callCtx, p)
		} else {
			sol, err = b.solveLP(p, lowerBounds(p), upperBounds(p), opts.WantDuals)
		}
		done <- result{sol: sol, err: err}
	}()

	select {
	case r := <-done:
		if r.sol != nil {
			r.sol.Elapsed = time.Since(start)
		}
		return r.sol, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, &solver.Error{Op: "optimize", Status: solver.StatusTimedOut, Err: ctx.Err()}
		}
		return &solver.Solution{Status: solver.StatusTimedOut, Elapsed: time.Since(start)}, nil
	}
}

func lowerBounds(p *solver.Problem) []float64 {
	lo := make([]float64, len(p.Vars))
	for j, v := range p.Vars {
		lo[j] = v.Lower
	}
	return lo
}

func upperBounds(p *solver.Problem) []float64 {
	up := make([]float64, len(p.Vars))
	for j, v := range p.Vars {
		up[j] = v.Upper
	}
	return up
}

// solveLP solves the continuous relaxation of p under bounds lo/up.
func (b *Backend) solveLP(p *solver.Problem, lo, up []float64, wantDuals bool) (*solver.Solution, error) {
	sf := toStandard(p, lo, up, b.opts.Tolerance)
	switch {
	case sf.infeasible:
		return &solver.Solution{Status: solver.StatusInfeasible}, nil
	case sf.unbounded:
		return &solver.Solution{Status: solver.StatusUnbounded}, nil
	}

	z := make([]float64, len(sf.c))
	if sf.A != nil {
		_, opt, err := lp.Simplex(sf.c, sf.A, sf.b, b.opts.Tolerance, nil)
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return &solver.Solution{Status: solver.StatusInfeasible}, nil
		case errors.Is(err, lp.ErrUnbounded):
			return &solver.Solution{Status: solver.StatusUnbounded}, nil
		case err != nil:
			return nil, &solver.Error{Op: "primal simplex", Err: err}
		}
		z = opt
	}

	x := sf.recover(z)
	sol := &solver.Solution{Status: solver.StatusOptimal, Primal: x}
	for j, v := range p.Vars {
		sol.Objective += v.Cost * x[j]
	}

	if wantDuals {
		duals, err := b.recoverDuals(p, sf, z)
		if err != nil {
			return nil, err
		}
		sol.Duals = duals
	}

	return sol, nil
}

// recoverDuals maps the standard-form duals of vertex z back to the declared
// rows (0 for dropped rows).
func (b *Backend) recoverDuals(p *solver.Problem, sf *stdForm, z []float64) ([]float64, error) {
	duals := make([]float64, len(p.Rows))
	if sf.A == nil {
		return duals, nil
	}
	y, err := b.rowDuals(sf, z)
	if err != nil {
		return nil, &solver.Error{Op: "dual recovery", Err: err}
	}
	for r, i := range sf.rowOf {
		if i < 0 {
			continue
		}
		duals[r] = sf.rowSign[i] * y[i]
	}
	return duals, nil
}

// bbNode is one branch & bound subproblem: tightened bounds only.
type bbNode struct {
	lo, up []float64
	depth  int
}

// branchAndBound solves p with integrality on declared integer columns.
//
// Steps:
//  1. Push the root relaxation.
//  2. Pop depth-first; prune on infeasibility or bound ≥ incumbent.
//  3. Integral relaxations update the incumbent; otherwise branch on the most
//     fractional integer column (floor child explored first when closer).
//  4. Stop on exhausted tree, node cap (incumbent returned), or deadline.
func (b *Backend) branchAndBound(ctx context.Context, p *solver.Problem) (*solver.Solution, error) {
	var (
		best  *solver.Solution
		stack = []bbNode{{lo: lowerBounds(p), up: upperBounds(p)}}
		nodes int
	)
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return &solver.Solution{Status: solver.StatusTimedOut, Nodes: nodes}, nil
		}
		if nodes >= b.opts.MaxNodes {
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		rel, err := b.solveLP(p, nd.lo, nd.up, false)
		if err != nil {
			return nil, err
		}
		if rel.Status == solver.StatusUnbounded && nd.depth == 0 {
			return &solver.Solution{Status: solver.StatusUnbounded, Nodes: nodes}, nil
		}
		if rel.Status != solver.StatusOptimal {
			continue
		}
		if best != nil && rel.Objective >= best.Objective-b.opts.Tolerance*math.Max(1, math.Abs(best.Objective)) {
			continue
		}

		branch, frac := -1, 0.0
		for j, v := range p.Vars {
			if !v.Integer {
				continue
			}
			f := math.Abs(rel.Primal[j] - math.Round(rel.Primal[j]))
			if f > b.opts.IntTolerance && f > frac {
				branch, frac = j, f
			}
		}
		if branch < 0 {
			for j, v := range p.Vars {
				if v.Integer {
					rel.Primal[j] = math.Round(rel.Primal[j])
				}
			}
			best = rel
			continue
		}

		val := rel.Primal[branch]
		down := bbNode{lo: clone(nd.lo), up: clone(nd.up), depth: nd.depth + 1}
		down.up[branch] = math.Floor(val)
		upN := bbNode{lo: clone(nd.lo), up: clone(nd.up), depth: nd.depth + 1}
		upN.lo[branch] = math.Ceil(val)
		if val-math.Floor(val) < 0.5 {
			stack = append(stack, upN, down)
		} else {
			stack = append(stack, down, upN)
		}
	}

	if best == nil {
		if nodes >= b.opts.MaxNodes {
			return nil, &solver.Error{Op: "branch and bound", Err: fmt.Errorf("node limit %d without incumbent", b.opts.MaxNodes)}
		}
		return &solver.Solution{Status: solver.StatusInfeasible, Nodes: nodes}, nil
	}
	best.Nodes = nodes
	return best, nil
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
