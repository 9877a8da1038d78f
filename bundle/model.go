// SPDX-License-Identifier: MIT
// Package bundle — the cutting-plane model and its two linear programs.
//
// Each oracle component ω keeps its own cuts θ_ω ≥ k + gᵀx, so the model of
// F is cᵀx + Σ_ω w_ω·max(0, max_j k_j + g_jᵀx). The lower bound minimizes the
// model over the feasible set; the next trial point is the L1 projection of a
// stability center onto the level set {model ≤ ℓ}.
package bundle

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/katalvlaran/gridplan/solver"
)

// dualTol is the magnitude below which a cut counts as inactive.
const dualTol = 1e-9

// cut is the affine minorant θ ≥ konst + slopeᵀx.
type cut struct {
	konst float64
	slope []float64
	dual  float64 // from the latest lower-bound LP
}

type model struct {
	p    *Problem
	cuts [][]cut
}

func newModel(p *Problem) *model {
	return &model{p: p, cuts: make([][]cut, len(p.Weights))}
}

// add stores the cut of evaluation e taken at x.
func (m *model) add(comp int, x []float64, e Evaluation) {
	slope := append([]float64(nil), e.Subgradient...)
	m.cuts[comp] = append(m.cuts[comp], cut{konst: e.Value - floats.Dot(slope, x), slope: slope})
}

// size returns the number of stored cuts.
func (m *model) size() int {
	n := 0
	for _, cs := range m.cuts {
		n += len(cs)
	}
	return n
}

// component returns max(0, max_j k_j + g_jᵀx).
func (m *model) component(comp int, x []float64) float64 {
	v := 0.0
	for _, c := range m.cuts[comp] {
		v = math.Max(v, c.konst+floats.Dot(c.slope, x))
	}
	return v
}

// declare adds x and θ columns plus cut and budget rows to lp.
func (m *model) declare(lp *solver.Problem, priced bool) (xs, ths []solver.Var, rows [][]solver.Row) {
	cost := func(v float64) float64 {
		if priced {
			return v
		}
		return 0
	}
	xs = make([]solver.Var, len(m.p.Costs))
	for i := range xs {
		xs[i] = lp.AddVar(fmt.Sprintf("x%d", i), 0, m.p.Upper[i], cost(m.p.Costs[i]))
	}
	ths = make([]solver.Var, len(m.p.Weights))
	rows = make([][]solver.Row, len(m.p.Weights))
	for w := range ths {
		ths[w] = lp.AddVar(fmt.Sprintf("theta%d", w), 0, math.Inf(1), cost(m.p.Weights[w]))
		rows[w] = make([]solver.Row, len(m.cuts[w]))
		for j, c := range m.cuts[w] {
			terms := []solver.Term{{Var: ths[w], Coef: 1}}
			for i, g := range c.slope {
				if g != 0 {
					terms = append(terms, solver.Term{Var: xs[i], Coef: -g})
				}
			}
			rows[w][j] = lp.AddRow(fmt.Sprintf("cut%d/%d", w, j), terms, solver.GreaterEqual, c.konst)
		}
	}
	if m.p.Budget > 0 {
		terms := make([]solver.Term, 0, len(xs))
		for i, c := range m.p.Costs {
			if c != 0 {
				terms = append(terms, solver.Term{Var: xs[i], Coef: c})
			}
		}
		lp.AddRow("budget", terms, solver.LessEqual, m.p.Budget)
	}
	return xs, ths, rows
}

// lower minimizes the model and records cut duals.
func (m *model) lower(ctx context.Context, backend solver.Backend) (float64, []float64, error) {
	lp := solver.NewProblem("bundle/lower")
	xs, _, rows := m.declare(lp, true)
	sol, err := backend.Optimize(ctx, lp, solver.Options{WantDuals: true})
	if err != nil {
		return 0, nil, fmt.Errorf("lower bound: %w", err)
	}
	if sol.Status != solver.StatusOptimal {
		return 0, nil, fmt.Errorf("lower bound: %w", &solver.Error{Op: "bundle/lower", Status: sol.Status})
	}
	for w := range rows {
		for j, r := range rows[w] {
			m.cuts[w][j].dual = sol.Dual(r)
		}
	}
	x := make([]float64, len(xs))
	for i, v := range xs {
		x[i] = sol.Value(v)
	}
	return sol.Objective, x, nil
}

// project returns argmin Σ|x_i − center_i|/max(U_i,1) over {model ≤ level}.
// ok is false when the level set is empty to solver tolerance.
func (m *model) project(ctx context.Context, backend solver.Backend, center []float64, level float64) ([]float64, bool, error) {
	lp := solver.NewProblem("bundle/project")
	xs, ths, _ := m.declare(lp, false)
	for i, x := range xs {
		if m.p.Upper[i] <= 0 {
			continue
		}
		scale := 1 / math.Max(m.p.Upper[i], 1)
		up := lp.AddVar(fmt.Sprintf("up%d", i), 0, math.Inf(1), scale)
		down := lp.AddVar(fmt.Sprintf("down%d", i), 0, math.Inf(1), scale)
		lp.AddRow(fmt.Sprintf("dist%d", i), []solver.Term{
			{Var: x, Coef: 1}, {Var: up, Coef: -1}, {Var: down, Coef: 1},
		}, solver.Equal, center[i])
	}
	terms := make([]solver.Term, 0, len(xs)+len(ths))
	for i, c := range m.p.Costs {
		if c != 0 {
			terms = append(terms, solver.Term{Var: xs[i], Coef: c})
		}
	}
	for w, t := range ths {
		if m.p.Weights[w] != 0 {
			terms = append(terms, solver.Term{Var: t, Coef: m.p.Weights[w]})
		}
	}
	lp.AddRow("level", terms, solver.LessEqual, level)

	sol, err := backend.Optimize(ctx, lp, solver.Options{})
	if err != nil {
		return nil, false, fmt.Errorf("projection: %w", err)
	}
	if sol.Status != solver.StatusOptimal {
		return nil, false, nil
	}
	x := make([]float64, len(xs))
	for i, v := range xs {
		x[i] = clamp(sol.Value(v), 0, m.p.Upper[i])
	}
	return x, true, nil
}

// aggregate folds the inactive cuts of every component above limit into one
// averaged cut. A convex combination of minorants is a minorant, and inactive
// cuts do not move the lower bound. Returns the number of cuts removed.
func (m *model) aggregate(limit int) int {
	if limit <= 0 {
		return 0
	}
	removed := 0
	for w, cs := range m.cuts {
		if len(cs) <= limit {
			continue
		}
		var keep, idle []cut
		for _, c := range cs {
			if math.Abs(c.dual) > dualTol {
				keep = append(keep, c)
			} else {
				idle = append(idle, c)
			}
		}
		if len(idle) < 2 {
			continue
		}
		agg := cut{slope: make([]float64, len(idle[0].slope))}
		share := 1 / float64(len(idle))
		for _, c := range idle {
			agg.konst += share * c.konst
			floats.AddScaled(agg.slope, share, c.slope)
		}
		m.cuts[w] = append(keep, agg)
		removed += len(idle) - 1
	}
	return removed
}

func clamp(v, lo, hi float64) float64 { return math.Min(math.Max(v, lo), hi) }
