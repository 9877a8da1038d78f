// SPDX-License-Identifier: MIT
// Package bundle — analytic center of the localization set.
//
// The localization set in (x, θ) space is
//
//	0 ≤ x ≤ U,  cᵀx ≤ Budget,  0 ≤ θ_ω ≤ Θ_ω,  θ_ω ≥ k_j + g_jᵀx,  cᵀx + Σ w_ω θ_ω ≤ UB
//
// written as rows aᵀz ≤ b. Its analytic center maximizes Σ log(b − aᵀz) and
// is found by damped Newton steps on the log barrier; each step solves the
// Hessian system with a Cholesky factorization.
package bundle

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	newtonMaxIter = 60
	newtonTol     = 1e-7
)

type halfspace struct {
	a []float64
	b float64
}

// analyticCenter returns the x part of the analytic center, or false when no
// strictly interior start exists or Newton breaks down. Coordinates with a
// zero upper bound stay at 0.
func (m *model) analyticCenter(incumbent []float64, upper float64) ([]float64, bool) {
	p := m.p
	var free []int
	for i, u := range p.Upper {
		if u > 0 {
			free = append(free, i)
		}
	}
	nf, nw := len(free), len(p.Weights)
	dim := nf + nw
	if dim == 0 {
		return nil, false
	}
	expand := func(z []float64) []float64 {
		x := make([]float64, len(p.Upper))
		for j, i := range free {
			x[i] = z[j]
		}
		return x
	}

	// Strictly interior x: halfway between the incumbent and a box midpoint
	// shrunk into half the budget.
	mid := make([]float64, len(p.Upper))
	for _, i := range free {
		mid[i] = p.Upper[i] / 2
	}
	if spend := floats.Dot(p.Costs, mid); p.Budget > 0 && spend > p.Budget/2 {
		floats.Scale(p.Budget/(2*spend), mid)
	}
	z := make([]float64, dim)
	for j, i := range free {
		z[j] = 0.5*clamp(incumbent[i], 0, p.Upper[i]) + 0.5*mid[i]
	}
	x0 := expand(z)
	if p.Budget > 0 && floats.Dot(p.Costs, x0) >= p.Budget {
		return nil, false
	}
	theta := make([]float64, nw)
	for w := range theta {
		base := m.component(w, x0)
		theta[w] = base + 1 + 0.01*math.Abs(base)
		z[nf+w] = theta[w]
	}

	// Rows aᵀz ≤ b.
	var rows []halfspace
	unit := func(k int, sign float64) []float64 {
		a := make([]float64, dim)
		a[k] = sign
		return a
	}
	for j, i := range free {
		rows = append(rows, halfspace{unit(j, -1), 0}, halfspace{unit(j, 1), p.Upper[i]})
	}
	for w := range theta {
		rows = append(rows, halfspace{unit(nf+w, -1), 0}, halfspace{unit(nf+w, 1), 2*theta[w] + 1})
		for _, c := range m.cuts[w] {
			a := make([]float64, dim)
			for j, i := range free {
				a[j] = c.slope[i]
			}
			a[nf+w] = -1
			rows = append(rows, halfspace{a, -c.konst})
		}
	}
	if p.Budget > 0 {
		a := make([]float64, dim)
		for j, i := range free {
			a[j] = p.Costs[i]
		}
		rows = append(rows, halfspace{a, p.Budget})
	}
	if !math.IsInf(upper, 1) {
		a := make([]float64, dim)
		for j, i := range free {
			a[j] = p.Costs[i]
		}
		for w := range theta {
			a[nf+w] = p.Weights[w]
		}
		if top := (halfspace{a, upper}); slackOf(top, z) > 0 {
			rows = append(rows, top)
		}
	}
	for _, r := range rows {
		if slackOf(r, z) <= 0 {
			return nil, false
		}
	}

	// Damped Newton on −Σ log(b − aᵀz).
	grad := make([]float64, dim)
	hess := mat.NewSymDense(dim, nil)
	step := mat.NewVecDense(dim, nil)
	trial := make([]float64, dim)
	for it := 0; it < newtonMaxIter; it++ {
		for k := range grad {
			grad[k] = 0
		}
		hess.Zero()
		for _, r := range rows {
			s := slackOf(r, z)
			floats.AddScaled(grad, 1/s, r.a)
			for i, ai := range r.a {
				if ai == 0 {
					continue
				}
				for j := i; j < dim; j++ {
					if aj := r.a[j]; aj != 0 {
						hess.SetSym(i, j, hess.At(i, j)+ai*aj/(s*s))
					}
				}
			}
		}
		var chol mat.Cholesky
		if !chol.Factorize(hess) {
			return nil, false
		}
		g := mat.NewVecDense(dim, grad)
		if err := chol.SolveVecTo(step, g); err != nil {
			return nil, false
		}
		decrement := math.Sqrt(math.Max(mat.Dot(g, step), 0))
		if decrement < newtonTol {
			break
		}
		t := 1 / (1 + decrement)
		for ; t > 1e-12; t /= 2 {
			for k := range trial {
				trial[k] = z[k] - t*step.AtVec(k)
			}
			if interior(rows, trial) {
				break
			}
		}
		if t <= 1e-12 {
			break
		}
		copy(z, trial)
	}

	return expand(z[:nf]), true
}

func slackOf(r halfspace, z []float64) float64 { return r.b - floats.Dot(r.a, z) }

func interior(rows []halfspace, z []float64) bool {
	for _, r := range rows {
		if slackOf(r, z) <= 0 {
			return false
		}
	}
	return true
}
