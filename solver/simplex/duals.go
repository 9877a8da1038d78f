// SPDX-License-Identifier: MIT
// Package simplex — row duals recovered from the optimal vertex.
//
// gonum's simplex returns the optimal point but not its basis. The basis is
// rebuilt from the point: the support of z first, completed to full rank with
// unit (slack) columns and then structural ones. On a degenerate vertex that
// completion need not be dual feasible, so Bland pivots (degenerate at an
// optimum) are taken until every reduced cost is non-negative. The duals then
// solve Bᵀy = c_B.
//
// When the vertex route fails numerically, the dual program
//
//	max bᵀy  s.t.  Aᵀy ≤ c   ⇔   min −bᵀu + bᵀv  s.t.  Aᵀu − Aᵀv + s = c,  u,v,s ≥ 0
//
// is solved with the same engine, first as stated and then with c relaxed by
// a relative perturbation that removes dual degeneracy.
package simplex

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	// pivotTol is the smallest |B⁻¹a| entry accepted in a ratio test.
	pivotTol = 1e-9
	// maxCond rejects a basis too ill-conditioned to trust its duals.
	maxCond = 1e13
	// pivotsPerColumn bounds crossover pivots at pivotsPerColumn·(m+n).
	pivotsPerColumn = 4
	// dualPerturbation relaxes c in the last-resort dual program.
	dualPerturbation = 1e-7
)

// errCrossover marks a vertex whose basis could not be made dual feasible.
var errCrossover = errors.New("crossover: no dual feasible basis")

// rowDuals returns y for the standard-form rows: vertex first, then the dual
// program, then the perturbed dual program.
func (b *Backend) rowDuals(sf *stdForm, z []float64) ([]float64, error) {
	y, err := vertexDuals(sf, z, b.opts.Tolerance)
	if err == nil {
		return y, nil
	}
	if y, err = b.dualProgram(sf, 0); err == nil {
		return y, nil
	}
	if y, err = b.dualProgram(sf, dualPerturbation); err == nil {
		return y, nil
	}
	return nil, err
}

// vertexDuals returns y with Bᵀy = c_B for a dual feasible basis B that
// contains the support of the optimal vertex z.
//
// Steps:
//  1. Pick m independent columns: support of z, unit columns, the rest.
//  2. Check that B⁻¹b reproduces z, so the basis is primal feasible.
//  3. Price every non-basic column; enter the lowest index with a negative
//     reduced cost and leave by the minimum ratio, lowest index on ties.
//  4. Stop when no reduced cost is negative.
//
// Complexity: O(n·m²) to pick the basis, O(m³ + m·n) per pivot.
func vertexDuals(sf *stdForm, z []float64, tol float64) ([]float64, error) {
	m, n := sf.A.Dims()
	cols := make([][]float64, n)
	for k := range cols {
		cols[k] = mat.Col(nil, k, sf.A)
	}
	zScale := 1.0
	for _, v := range z {
		zScale = math.Max(zScale, math.Abs(v))
	}
	cScale := 1.0
	for _, v := range sf.c {
		cScale = math.Max(cScale, math.Abs(v))
	}
	dTol := tol * cScale
	feasTol := 1e-7 * zScale

	basis, err := pickBasis(cols, z, m, tol*zScale)
	if err != nil {
		return nil, err
	}
	inBasis := make([]bool, n)
	for _, k := range basis {
		inBasis[k] = true
	}

	var (
		lu   mat.LU
		B    = mat.NewDense(m, m, nil)
		cb   = mat.NewVecDense(m, nil)
		xb   = mat.NewVecDense(m, nil)
		y    = mat.NewVecDense(m, nil)
		w    = mat.NewVecDense(m, nil)
		rhs  = mat.NewVecDense(m, sf.b)
		maxP = pivotsPerColumn * (m + n)
	)
	for pivot := 0; pivot <= maxP; pivot++ {
		for i, k := range basis {
			B.SetCol(i, cols[k])
			cb.SetVec(i, sf.c[k])
		}
		lu.Factorize(B)
		if c := lu.Cond(); math.IsInf(c, 1) || c > maxCond {
			return nil, fmt.Errorf("%w: ill-conditioned basis (cond %.3g)", errCrossover, c)
		}
		if err := lu.SolveVecTo(xb, false, rhs); err != nil {
			return nil, fmt.Errorf("%w: %v", errCrossover, err)
		}
		for i := 0; i < m; i++ {
			v := xb.AtVec(i)
			if pivot == 0 && v < -feasTol {
				return nil, fmt.Errorf("%w: basis does not reproduce the vertex", errCrossover)
			}
			if v < 0 {
				xb.SetVec(i, 0)
			}
		}
		if err := lu.SolveVecTo(y, true, cb); err != nil {
			return nil, fmt.Errorf("%w: %v", errCrossover, err)
		}

		yd := y.RawVector().Data
		enter := -1
		for k := 0; k < n; k++ {
			if !inBasis[k] && sf.c[k]-floats.Dot(cols[k], yd) < -dTol {
				enter = k
				break
			}
		}
		if enter < 0 {
			return append([]float64(nil), yd...), nil
		}

		if err := lu.SolveVecTo(w, false, mat.NewVecDense(m, cols[enter])); err != nil {
			return nil, fmt.Errorf("%w: %v", errCrossover, err)
		}
		leave, ratio := -1, math.Inf(1)
		for i := 0; i < m; i++ {
			wi := w.AtVec(i)
			if wi <= pivotTol {
				continue
			}
			r := xb.AtVec(i) / wi
			switch {
			case leave < 0 || r < ratio-pivotTol:
				leave, ratio = i, r
			case r <= ratio+pivotTol && basis[i] < basis[leave]:
				leave = i
			}
		}
		if leave < 0 {
			return nil, fmt.Errorf("%w: unbounded pivot on column %d", errCrossover, enter)
		}
		inBasis[basis[leave]] = false
		basis[leave] = enter
		inBasis[enter] = true
	}
	return nil, fmt.Errorf("%w: pivot limit %d", errCrossover, maxP)
}

// pickBasis selects m linearly independent columns, scanning the support of
// z, then unit columns, then the remaining columns, each in index order.
// Independence is tested by a twice-applied Gram–Schmidt residual.
func pickBasis(cols [][]float64, z []float64, m int, posTol float64) ([]int, error) {
	var support, unit, rest []int
	for k, c := range cols {
		switch {
		case z[k] > posTol:
			support = append(support, k)
		case isUnit(c):
			unit = append(unit, k)
		default:
			rest = append(rest, k)
		}
	}

	basis := make([]int, 0, m)
	q := make([][]float64, 0, m)
	for _, group := range [][]int{support, unit, rest} {
		for _, k := range group {
			if len(basis) == m {
				return basis, nil
			}
			v := append([]float64(nil), cols[k]...)
			norm0 := floats.Norm(v, 2)
			if norm0 == 0 {
				continue
			}
			for pass := 0; pass < 2; pass++ {
				for _, e := range q {
					floats.AddScaled(v, -floats.Dot(e, v), e)
				}
			}
			norm := floats.Norm(v, 2)
			if norm <= 1e-9*norm0 {
				continue
			}
			floats.Scale(1/norm, v)
			q = append(q, v)
			basis = append(basis, k)
		}
	}
	if len(basis) < m {
		return nil, fmt.Errorf("%w: rank %d < %d", errCrossover, len(basis), m)
	}
	return basis, nil
}

func isUnit(c []float64) bool {
	nz := 0
	for _, v := range c {
		if v != 0 {
			nz++
		}
	}
	return nz == 1
}

// dualProgram solves max bᵀy s.t. Aᵀy ≤ c + δ·max(1,|c|) and returns y.
func (b *Backend) dualProgram(sf *stdForm, delta float64) ([]float64, error) {
	m, n := sf.A.Dims()
	c := make([]float64, 2*m+n)
	for i := 0; i < m; i++ {
		c[i] = -sf.b[i]
		c[m+i] = sf.b[i]
	}
	A := mat.NewDense(n, 2*m+n, nil)
	rhs := make([]float64, n)
	for k := 0; k < n; k++ {
		ck := sf.c[k] + delta*math.Max(1, math.Abs(sf.c[k]))
		sign := 1.0
		if ck < 0 {
			sign = -1
		}
		for i := 0; i < m; i++ {
			if a := sf.A.At(i, k); a != 0 {
				A.Set(k, i, sign*a)
				A.Set(k, m+i, -sign*a)
			}
		}
		A.Set(k, 2*m+k, sign)
		rhs[k] = sign * ck
	}
	_, opt, err := lp.Simplex(c, A, rhs, b.opts.Tolerance, nil)
	if err != nil {
		return nil, fmt.Errorf("dual program (δ=%g): %w", delta, err)
	}
	y := make([]float64, m)
	for i := range y {
		y[i] = opt[i] - opt[m+i]
	}
	return y, nil
}
