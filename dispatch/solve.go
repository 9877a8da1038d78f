// SPDX-License-Identifier: MIT
// Package dispatch — solving the operational LP and reading back cost,
// subgradient, flows, and reliability figures.
package dispatch

import (
	"context"
	"fmt"

	"github.com/katalvlaran/gridplan/solver"
)

// Solve builds and optimizes the subproblem of in on backend.
//
// The returned error is reserved for bad input (ErrInput) and backend
// failures (solver.ErrSolver, including an unbounded model). Infeasibility and
// time-outs are reported through Outcome.Status; for an infeasible day the
// hours are re-solved one by one without coupling to locate the culprit.
//
// Complexity: one LP of O(H·(G + S + B + N)) columns.
func Solve(ctx context.Context, backend solver.Backend, in *Input, opts solver.Options) (Outcome, error) {
	m, err := Build(in)
	if err != nil {
		return Outcome{}, err
	}
	opts.WantDuals = true
	sol, err := backend.Optimize(ctx, m.Problem, opts)
	if err != nil {
		return Outcome{}, fmt.Errorf("Solve: scenario %q: %w", in.Scenario.Name, err)
	}

	out := Outcome{Rows: len(m.Problem.Rows), Cols: len(m.Problem.Vars), Elapsed: sol.Elapsed}
	switch sol.Status {
	case solver.StatusOptimal:
	case solver.StatusTimedOut:
		out.Status = StatusTimedOut
		return out, nil
	case solver.StatusInfeasible:
		out.Status = StatusInfeasible
		out.Err = &InfeasibleError{Scenario: in.Scenario.Name, Hour: diagnose(ctx, backend, in, opts)}
		return out, nil
	default:
		return Outcome{}, fmt.Errorf("Solve: scenario %q: %w", in.Scenario.Name,
			&solver.Error{Op: "dispatch", Status: sol.Status})
	}

	m.extract(sol, &out, in.Layout.Dim())
	return out, nil
}

// diagnose returns the first hour that is infeasible on its own, or −1.
func diagnose(ctx context.Context, backend solver.Backend, in *Input, opts solver.Options) int {
	opts.WantDuals = false
	for h := 0; h < in.Hours; h++ {
		m := build(in, h, h+1, false)
		sol, err := backend.Optimize(ctx, m.Problem, opts)
		if err == nil && sol.Status == solver.StatusInfeasible {
			return h
		}
	}
	return -1
}

func (m *Model) extract(sol *solver.Solution, out *Outcome, dim int) {
	out.Cost = sol.Objective

	out.Subgradient = make([]float64, dim)
	for _, l := range m.links {
		out.Subgradient[l.index] += l.coef * sol.Dual(l.row)
	}

	out.Flows = make([][]float64, len(m.flow))
	for s, row := range m.flow {
		out.Flows[s] = make([]float64, len(row))
		for b, v := range row {
			out.Flows[s][b] = sol.Value(v)
		}
	}
	out.Prices = make([][]float64, len(m.balance))
	for s, row := range m.balance {
		out.Prices[s] = make([]float64, len(row))
		for n, r := range row {
			if r >= 0 {
				out.Prices[s][n] = sol.Dual(r)
			}
		}
	}

	for _, v := range m.shed {
		out.Shed += sol.Value(v)
	}
	for _, v := range m.shortfall {
		out.Shortfall += sol.Value(v)
	}
	for _, t := range m.emissions {
		out.Emissions += t.Coef * sol.Value(t.Var)
	}
	if m.overrun >= 0 {
		out.Overrun = sol.Value(m.overrun)
	}
}
