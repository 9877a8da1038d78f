// SPDX-License-Identifier: MIT
// Package contingency — sensitivity factors from the cycle basis.
//
// With T the spanning-forest particular solution (grid.Topology.TreeSolution),
// D the cycle basis and X = diag(reactance), every DC flow is f = T·p + Dᵗ·c
// with cycle currents c fixed by Kirchhoff's voltage law D·X·f = 0:
//
//	PTDF = (I − Dᵗ·(D·X·Dᵗ)⁻¹·D·X)·T
//
// No voltage angle appears; the only factorisation is the Cholesky of the
// C×C cycle reactance matrix. Outage factors follow from PTDF in O(1) per
// (outage, monitored branch) pair.
package contingency

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/grid"
)

// islandTol is the smallest admissible 1 − self-transfer of an outaged branch.
const islandTol = 1e-8

// Factors holds the power transfer distribution factors of one reactance state.
type Factors struct {
	topo      *grid.Topology
	reactance []float64
	ptdf      *mat.Dense // B × N
}

// NewFactors computes PTDF for topo with cycle matrix D and per-branch
// reactance (len B; HVDC entries are ignored). D may be nil for forests.
//
// Errors: ErrDimension, ErrSingular.
// Complexity: O(C³ + C²·N + C·B·N).
func NewFactors(topo *grid.Topology, D *mat.Dense, reactance []float64) (*Factors, error) {
	nb, nn := topo.NumBranches(), topo.NumNodes()
	if len(reactance) != nb {
		return nil, fmt.Errorf("NewFactors: %d reactances for %d branches: %w", len(reactance), nb, ErrDimension)
	}
	T := topo.TreeSolution()
	f := &Factors{topo: topo, reactance: append([]float64(nil), reactance...)}
	if D == nil {
		f.ptdf = T
		return f, nil
	}
	nc, cols := D.Dims()
	if cols != nb {
		return nil, fmt.Errorf("NewFactors: D has %d columns for %d branches: %w", cols, nb, ErrDimension)
	}

	// DX = D·X (column scaling), M = DX·Dᵗ.
	DX := mat.NewDense(nc, nb, nil)
	for r := 0; r < nc; r++ {
		for b := 0; b < nb; b++ {
			if v := D.At(r, b); v != 0 && !topo.HVDC[b] {
				DX.Set(r, b, v*reactance[b])
			}
		}
	}
	M := mat.NewSymDense(nc, nil)
	for i := 0; i < nc; i++ {
		for j := i; j < nc; j++ {
			s := 0.0
			for b := 0; b < nb; b++ {
				if dx := DX.At(i, b); dx != 0 {
					s += dx * D.At(j, b)
				}
			}
			M.SetSym(i, j, s)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(M); !ok {
		return nil, fmt.Errorf("NewFactors: %w", ErrSingular)
	}

	// Y = M⁻¹·(DX·T); PTDF = T − Dᵗ·Y.
	var DXT, Y, corr mat.Dense
	DXT.Mul(DX, T)
	if err := chol.SolveTo(&Y, &DXT); err != nil {
		return nil, fmt.Errorf("NewFactors: %v: %w", err, ErrSingular)
	}
	corr.Mul(D.T(), &Y)
	ptdf := mat.NewDense(nb, nn, nil)
	ptdf.Sub(T, &corr)
	f.ptdf = ptdf

	return f, nil
}

// Topology returns the topology the factors were built for.
func (f *Factors) Topology() *grid.Topology { return f.topo }

// Reactance returns a copy of the reactance state.
func (f *Factors) Reactance() []float64 { return append([]float64(nil), f.reactance...) }

// PTDF returns the flow on branch l per MW injected at node n and withdrawn
// at the slack of n's AC component.
func (f *Factors) PTDF(l, n int) float64 { return f.ptdf.At(l, n) }

// Transfer returns the flow change on l per MW moved from From(k) to To(k).
func (f *Factors) Transfer(l, k int) float64 {
	return f.ptdf.At(l, f.topo.From[k]) - f.ptdf.At(l, f.topo.To[k])
}

// Flows returns PTDF·p for a net injection vector p (len N).
//
// Errors: ErrDimension.
func (f *Factors) Flows(p []float64) ([]float64, error) {
	if len(p) != f.topo.NumNodes() {
		return nil, fmt.Errorf("Flows: %d injections for %d nodes: %w", len(p), f.topo.NumNodes(), ErrDimension)
	}
	var out mat.VecDense
	out.MulVec(f.ptdf, mat.NewVecDense(len(p), append([]float64(nil), p...)))
	return out.RawVector().Data, nil
}

// LODF returns the line outage distribution factor of monitored branch l for
// the outage of branch k: f_l' = f_l + LODF·f_k. HVDC outages reduce to an
// injection shift (denominator 1).
//
// Errors: ErrIslanding when k is a bridge of its AC component.
func (f *Factors) LODF(l, k int) (float64, error) {
	den := 1 - f.Transfer(k, k)
	if math.Abs(den) < islandTol {
		return 0, fmt.Errorf("LODF: branch %s: %w", f.topo.BranchIDs[k], ErrIslanding)
	}
	return f.Transfer(l, k) / den, nil
}

// Distribution returns β with f_l' = f_l + Σ_j β_j·f_{o[j]} for an outage of
// one or two branches. Double outages solve the 2×2 compensation system
//
//	(I − Φ)·Δ = f_o,  Φ_ij = Transfer(o_i, o_j),  f_l' = f_l + Σ_j Transfer(l, o_j)·Δ_j.
//
// Errors: ErrIslanding, ErrDimension for empty or larger outages.
func (f *Factors) Distribution(o Outage, l int) ([]float64, error) {
	switch len(o) {
	case 1:
		v, err := f.LODF(l, o[0])
		if err != nil {
			return nil, err
		}
		return []float64{v}, nil
	case 2:
		inv, err := f.compensation(o)
		if err != nil {
			return nil, err
		}
		b0, b1 := f.Transfer(l, o[0]), f.Transfer(l, o[1])
		return []float64{b0*inv[0][0] + b1*inv[1][0], b0*inv[0][1] + b1*inv[1][1]}, nil
	default:
		return nil, fmt.Errorf("Distribution: outage of %d branches: %w", len(o), ErrDimension)
	}
}

// compensation returns (I − Φ)⁻¹ for a double outage.
func (f *Factors) compensation(o Outage) ([2][2]float64, error) {
	a := 1 - f.Transfer(o[0], o[0])
	b := -f.Transfer(o[0], o[1])
	c := -f.Transfer(o[1], o[0])
	d := 1 - f.Transfer(o[1], o[1])
	det := a*d - b*c
	if math.Abs(det) < islandTol {
		return [2][2]float64{}, fmt.Errorf("Distribution: outage %s: %w", o.Key(), ErrIslanding)
	}
	return [2][2]float64{{d / det, -b / det}, {-c / det, a / det}}, nil
}

// PostOutage returns the flow on l after outage o given pre-outage flows.
//
// Errors: as Distribution.
func (f *Factors) PostOutage(o Outage, l int, flows []float64) (float64, error) {
	beta, err := f.Distribution(o, l)
	if err != nil {
		return 0, err
	}
	post := flows[l]
	for j, k := range o {
		post += beta[j] * flows[k]
	}
	return post, nil
}
