// SPDX-License-Identifier: MIT
// Package cyclebasis — Minimize replaces every fundamental cycle with the
// lightest cycle through the same defining non-tree branch.
//
// For the k-th non-tree branch e_k the cycle program is
//
//	min  Σ_b (w_b + τ_b)·(p_b + m_b)
//	s.t. Σ_b A[n][b]·(p_b − m_b) = 0      for every non-root node n of the component
//	     p_{e_k} = 1,  p_b, m_b ∈ {0,1}
//
// over the tree branches and e_0..e_k only. The allowed set makes the basis
// lower triangular on the non-tree columns (hence independent), and the
// fundamental cycle is always feasible, so no cycle gets heavier. τ is a
// tie-break perturbation far below any weight difference that matters.
//
// The constraint matrix is a network matrix, so the relaxation is integral at
// every vertex and branch & bound rarely goes past the root.
//
// Complexity: one program per cycle, run concurrently; each has
// O(N) rows and O(N + k) columns.
package cyclebasis

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver"
)

// tieScale bounds the total perturbation relative to the lightest branch.
const tieScale = 1e-4

// Minimize computes a minimal-weight, consistently oriented cycle basis of topo.
//
// Stage 1 (Validate): backend and policies.
// Stage 2 (Weights): branch weights and tie-break perturbation.
// Stage 3 (Solve): one cycle program per non-tree branch, concurrently.
// Stage 4 (Assemble): D, weights, and the D·Aᵗ = 0 / rank check.
//
// Errors: ErrNoBackend, ErrUnknownPolicy, ErrBasisMismatch, solver.ErrSolver,
// context errors.
func Minimize(ctx context.Context, topo *grid.Topology, backend solver.Backend, opts ...Option) (*Basis, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	// Stage 1: validate.
	if backend == nil {
		return nil, ErrNoBackend
	}
	if _, err := ParseTieBreak(string(o.TieBreak)); err != nil {
		return nil, fmt.Errorf("Minimize: %w", err)
	}
	if o.Weighting != WeightReactance && o.Weighting != WeightUnit {
		return nil, fmt.Errorf("Minimize: weighting %q: %w", o.Weighting, ErrUnknownPolicy)
	}

	// Stage 2: weights.
	w := branchWeights(topo, o.Weighting)
	tau := tieCosts(topo, w, o.TieBreak)
	pos := make([]int, topo.NumBranches())
	for b := range pos {
		pos[b] = -1
	}
	for k, b := range topo.NonTree {
		pos[b] = k
	}

	// Stage 3: solve concurrently.
	start := time.Now()
	fund := topo.FundamentalCycles()
	cycles := make([]grid.Cycle, len(fund))
	fellBack := make([]bool, len(fund))
	g, gctx := errgroup.WithContext(ctx)
	if o.Parallelism > 0 {
		g.SetLimit(o.Parallelism)
	}
	for k := range fund {
		g.Go(func() error {
			cyc, ok, err := solveCycle(gctx, topo, backend, w, tau, pos, k, o.TimeLimit)
			if err != nil {
				return fmt.Errorf("Minimize: cycle of %s: %w", topo.BranchIDs[topo.NonTree[k]], err)
			}
			if !ok || cycleWeight(cyc, w) > cycleWeight(fund[k], w)*(1+tieScale) {
				cycles[k], fellBack[k] = fund[k], !ok
				return nil
			}
			cycles[k] = cyc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage 4: assemble and validate.
	basis := &Basis{Cycles: cycles, D: topo.CycleMatrix(cycles)}
	for k := range cycles {
		cw, fw := cycleWeight(cycles[k], w), cycleWeight(fund[k], w)
		basis.Weight += cw
		basis.FundamentalWeight += fw
		if cw < fw*(1-tieScale) {
			basis.Improved++
		}
		if fellBack[k] {
			basis.Fallbacks++
		}
	}
	if err := Validate(topo, basis.D); err != nil {
		return nil, err
	}

	o.Logger.Debug("cycle basis minimised",
		"cycles", len(cycles),
		"improved", basis.Improved,
		"fallbacks", basis.Fallbacks,
		"weight", basis.Weight,
		"fundamental_weight", basis.FundamentalWeight,
		"elapsed", time.Since(start))

	return basis, nil
}

// Fundamental returns the spanning-tree basis of topo without solving anything.
func Fundamental(topo *grid.Topology, weighting Weighting) (*Basis, error) {
	w := branchWeights(topo, weighting)
	cycles := topo.FundamentalCycles()
	basis := &Basis{Cycles: cycles, D: topo.CycleMatrix(cycles)}
	for _, c := range cycles {
		basis.Weight += cycleWeight(c, w)
	}
	basis.FundamentalWeight = basis.Weight
	if err := Validate(topo, basis.D); err != nil {
		return nil, err
	}
	return basis, nil
}

func branchWeights(topo *grid.Topology, weighting Weighting) []float64 {
	w := make([]float64, topo.NumBranches())
	for b := range w {
		if weighting == WeightUnit {
			w[b] = 1
		} else {
			w[b] = topo.Reactance[b]
		}
	}
	return w
}

// tieCosts returns τ with Σ_b τ_b < tieScale·min(w).
func tieCosts(topo *grid.Topology, w []float64, tb TieBreak) []float64 {
	minW := math.Inf(1)
	for _, b := range topo.AC {
		minW = math.Min(minW, w[b])
	}
	tau := make([]float64, topo.NumBranches())
	if math.IsInf(minW, 1) {
		return tau
	}
	delta := tieScale * minW / float64(len(topo.AC)+1)
	for _, b := range topo.AC {
		switch tb {
		case TieLowestIndex:
			tau[b] = delta * float64(b+1) / float64(topo.NumBranches()+1)
		default:
			tau[b] = delta
		}
	}
	return tau
}

func cycleWeight(c grid.Cycle, w []float64) float64 {
	total := 0.0
	for _, a := range c {
		total += w[a.Branch]
	}
	return total
}

// solveCycle builds and solves the k-th cycle program. ok is false when the
// backend timed out or the optimum is not a simple cycle.
func solveCycle(ctx context.Context, topo *grid.Topology, backend solver.Backend,
	w, tau []float64, pos []int, k int, limit time.Duration) (grid.Cycle, bool, error) {
	defining := topo.NonTree[k]
	comp := topo.Component[topo.From[defining]]
	root := topo.Roots[comp]

	p := solver.NewProblem("cycle-" + topo.BranchIDs[defining])
	type pair struct {
		branch      int
		plus, minus solver.Var
	}
	var cols []pair
	rows := make(map[int][]solver.Term)
	for _, b := range topo.AC {
		if topo.Component[topo.From[b]] != comp {
			continue
		}
		if !topo.InTree[b] && (pos[b] < 0 || pos[b] > k) {
			continue
		}
		c := w[b] + tau[b]
		var pr pair
		pr.branch = b
		if b == defining {
			pr.plus = p.AddIntVar("p_"+topo.BranchIDs[b], 1, 1, c)
			pr.minus = -1
		} else {
			pr.plus = p.AddIntVar("p_"+topo.BranchIDs[b], 0, 1, c)
			pr.minus = p.AddIntVar("m_"+topo.BranchIDs[b], 0, 1, c)
		}
		cols = append(cols, pr)
		from, to := topo.From[b], topo.To[b]
		rows[from] = append(rows[from], solver.Term{Var: pr.plus, Coef: -1})
		rows[to] = append(rows[to], solver.Term{Var: pr.plus, Coef: 1})
		if pr.minus >= 0 {
			rows[from] = append(rows[from], solver.Term{Var: pr.minus, Coef: 1})
			rows[to] = append(rows[to], solver.Term{Var: pr.minus, Coef: -1})
		}
	}
	for n := range topo.NodeIDs {
		if n == root || len(rows[n]) == 0 {
			continue
		}
		p.AddRow("kcl_"+topo.NodeIDs[n], rows[n], solver.Equal, 0)
	}

	sol, err := backend.Optimize(ctx, p, solver.Options{TimeLimit: limit})
	if err != nil {
		return nil, false, err
	}
	switch sol.Status {
	case solver.StatusOptimal:
	case solver.StatusTimedOut:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("cycle program %s: %w", sol.Status, ErrBasisMismatch)
	}

	selected := make(map[int]float64)
	for _, pr := range cols {
		v := math.Round(sol.Value(pr.plus))
		if pr.minus >= 0 {
			v -= math.Round(sol.Value(pr.minus))
		}
		if v != 0 {
			selected[pr.branch] = v
		}
	}
	cyc, ok := traceCycle(topo, defining, selected)
	return cyc, ok, nil
}

// traceCycle orders the selected signed branches into a closed walk starting
// with defining (+1). It fails unless they form one simple cycle whose
// directions agree with the selected signs.
func traceCycle(topo *grid.Topology, defining int, selected map[int]float64) (grid.Cycle, bool) {
	if selected[defining] != 1 {
		return nil, false
	}
	adj := make(map[int][]int)
	for b := range selected {
		adj[topo.From[b]] = append(adj[topo.From[b]], b)
		adj[topo.To[b]] = append(adj[topo.To[b]], b)
	}
	for _, bs := range adj {
		if len(bs) != 2 {
			return nil, false
		}
	}

	cyc := grid.Cycle{{Branch: defining, Sign: 1}}
	start, cur, prev := topo.From[defining], topo.To[defining], defining
	for cur != start {
		if len(cyc) > len(selected) {
			return nil, false
		}
		next := adj[cur][0]
		if next == prev {
			next = adj[cur][1]
		}
		sign, other := -1.0, topo.From[next]
		if topo.From[next] == cur {
			sign, other = 1, topo.To[next]
		}
		if sign != selected[next] {
			return nil, false
		}
		cyc = append(cyc, grid.Arc{Branch: next, Sign: sign})
		prev, cur = next, other
	}
	if len(cyc) != len(selected) {
		return nil, false
	}
	return cyc, true
}
