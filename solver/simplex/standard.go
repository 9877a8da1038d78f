// SPDX-License-Identifier: MIT
// Package simplex — conversion of a solver.Problem into the standard form
// consumed by gonum's simplex:
//
//	minimize cᵀz  s.t.  A·z = b,  z ≥ 0.
//
// Stage 1 (Columns): every declared variable becomes an offset plus at most two
// non-negative standard columns (shifted, mirrored, or split when free). Finite
// upper bounds become bound rows with their own slack.
// Stage 2 (Rows): ≤ rows receive a +1 slack, ≥ rows a −1 slack. Rows whose
// structural part vanished (all variables fixed) are checked and dropped.
// Stage 3 (Rank): dependent equality rows are eliminated (consistency checked),
// since gonum requires A to have full row rank.
// Stage 4 (Columns again): columns without any non-zero are fixed at zero, or
// flag the problem unbounded when their cost is negative.
// Stage 5 (Sign): rows with negative right-hand side are negated.
//
// Complexity: O(m·n) to assemble, O(m_eq²·n) for rank elimination.
package simplex

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/solver"
)

// colRef maps one original variable onto one standard column.
type colRef struct {
	col  int
	mult float64
}

// stdForm is the assembled standard-form model plus the recovery maps.
type stdForm struct {
	c []float64
	A *mat.Dense
	b []float64

	offset  []float64  // constant part of each original variable
	refs    [][]colRef // standard columns of each original variable
	rowOf   []int      // original row → standard row, −1 when dropped
	rowSign []float64  // ±1 applied to each standard row

	infeasible bool
	unbounded  bool
}

// sparseRow is a row under construction.
type sparseRow struct {
	idx  []int
	val  []float64
	rhs  float64
	kind solver.Sense
	orig int // original row index, −1 for bound rows
}

// toStandard converts p using the (possibly tightened) bounds lo/up.
func toStandard(p *solver.Problem, lo, up []float64, eps float64) *stdForm {
	n := len(p.Vars)
	sf := &stdForm{
		offset: make([]float64, n),
		refs:   make([][]colRef, n),
		rowOf:  make([]int, len(p.Rows)),
	}
	var (
		cost []float64
		rows []sparseRow
	)

	// Stage 1: columns.
	for j := 0; j < n; j++ {
		l, u := lo[j], up[j]
		c := p.Vars[j].Cost
		if u < l-eps {
			sf.infeasible = true
			return sf
		}
		switch {
		case u-l <= eps && !math.IsInf(l, 0):
			// fixed variable: pure offset
			sf.offset[j] = l
		case !math.IsInf(l, -1):
			sf.offset[j] = l
			k := len(cost)
			cost = append(cost, c)
			sf.refs[j] = []colRef{{col: k, mult: 1}}
			if !math.IsInf(u, 1) {
				rows = append(rows, sparseRow{idx: []int{k}, val: []float64{1}, rhs: u - l, kind: solver.LessEqual, orig: -1})
			}
		case !math.IsInf(u, 1):
			// x = u − z
			sf.offset[j] = u
			k := len(cost)
			cost = append(cost, -c)
			sf.refs[j] = []colRef{{col: k, mult: -1}}
		default:
			// x = z⁺ − z⁻
			k := len(cost)
			cost = append(cost, c, -c)
			sf.refs[j] = []colRef{{col: k, mult: 1}, {col: k + 1, mult: -1}}
		}
	}

	// Stage 2: declared rows.
	for r, row := range p.Rows {
		sf.rowOf[r] = -1
		acc := make(map[int]float64, len(row.Terms))
		rhs := row.RHS
		for _, t := range row.Terms {
			if t.Coef == 0 {
				continue
			}
			j := int(t.Var)
			rhs -= t.Coef * sf.offset[j]
			for _, ref := range sf.refs[j] {
				acc[ref.col] += t.Coef * ref.mult
			}
		}
		sr := sparseRow{rhs: rhs, kind: row.Sense, orig: r}
		for k := 0; k < len(cost); k++ {
			if v, ok := acc[k]; ok && math.Abs(v) > 0 {
				sr.idx = append(sr.idx, k)
				sr.val = append(sr.val, v)
			}
		}
		if len(sr.idx) == 0 {
			if !trivialHolds(row.Sense, rhs, eps) {
				sf.infeasible = true
			}
			continue
		}
		rows = append(rows, sr)
	}
	if sf.infeasible {
		return sf
	}

	// Stage 3: drop dependent equality rows.
	rows, ok := independentEqualities(rows, len(cost), eps)
	if !ok {
		sf.infeasible = true
		return sf
	}

	// Stage 4: zero columns.
	used := make([]bool, len(cost))
	for _, sr := range rows {
		for _, k := range sr.idx {
			used[k] = true
		}
	}
	remap := make([]int, len(cost))
	nStruct := 0
	for k := range cost {
		if !used[k] {
			remap[k] = -1
			if cost[k] < -eps {
				sf.unbounded = true
				return sf
			}
			continue
		}
		remap[k] = nStruct
		nStruct++
	}
	for j := range sf.refs {
		kept := sf.refs[j][:0:0]
		for _, ref := range sf.refs[j] {
			if remap[ref.col] >= 0 {
				kept = append(kept, colRef{col: remap[ref.col], mult: ref.mult})
			}
		}
		sf.refs[j] = kept
	}

	// Assemble dense A with slack columns appended.
	nSlack := 0
	for _, sr := range rows {
		if sr.kind != solver.Equal {
			nSlack++
		}
	}
	m, nc := len(rows), nStruct+nSlack
	sf.c = make([]float64, nc)
	for k := range cost {
		if remap[k] >= 0 {
			sf.c[remap[k]] = cost[k]
		}
	}
	sf.b = make([]float64, m)
	sf.rowSign = make([]float64, m)
	if m == 0 {
		return sf
	}
	sf.A = mat.NewDense(m, nc, nil)
	slack := nStruct
	for i, sr := range rows {
		for q, k := range sr.idx {
			sf.A.Set(i, remap[k], sr.val[q])
		}
		switch sr.kind {
		case solver.LessEqual:
			sf.A.Set(i, slack, 1)
			slack++
		case solver.GreaterEqual:
			sf.A.Set(i, slack, -1)
			slack++
		}
		sf.b[i] = sr.rhs
		sf.rowSign[i] = 1
		if sr.orig >= 0 {
			sf.rowOf[sr.orig] = i
		}
		// Stage 5: non-negative right-hand side.
		if sf.b[i] < 0 {
			sf.rowSign[i] = -1
			sf.b[i] = -sf.b[i]
			for k := 0; k < nc; k++ {
				if v := sf.A.At(i, k); v != 0 {
					sf.A.Set(i, k, -v)
				}
			}
		}
	}

	return sf
}

// trivialHolds checks 0 (sense) rhs.
func trivialHolds(s solver.Sense, rhs, eps float64) bool {
	switch s {
	case solver.LessEqual:
		return rhs >= -eps
	case solver.GreaterEqual:
		return rhs <= eps
	default:
		return math.Abs(rhs) <= eps
	}
}

// independentEqualities removes equality rows that are linear combinations of
// earlier equality rows. It returns ok=false when a dependent row contradicts
// its generators (inconsistent right-hand side).
//
// Inequality rows are kept untouched: each owns a slack column, so they never
// reduce the row rank.
func independentEqualities(rows []sparseRow, ncols int, eps float64) ([]sparseRow, bool) {
	type pivotRow struct {
		dense []float64 // length ncols+1, last entry is rhs
		col   int
	}
	var basis []pivotRow
	out := rows[:0:0]
	for _, sr := range rows {
		if sr.kind != solver.Equal {
			out = append(out, sr)
			continue
		}
		v := make([]float64, ncols+1)
		scale := 1.0
		for q, k := range sr.idx {
			v[k] = sr.val[q]
			scale = math.Max(scale, math.Abs(sr.val[q]))
		}
		v[ncols] = sr.rhs
		for _, p := range basis {
			f := v[p.col]
			if f == 0 {
				continue
			}
			for k := range v {
				v[k] -= f * p.dense[k]
			}
		}
		best, col := 0.0, -1
		for k := 0; k < ncols; k++ {
			if a := math.Abs(v[k]); a > best {
				best, col = a, k
			}
		}
		tol := eps * 1e3 * scale
		if best <= tol {
			if math.Abs(v[ncols]) > tol*math.Max(1, math.Abs(sr.rhs)) {
				return nil, false
			}
			continue
		}
		piv := v[col]
		for k := range v {
			v[k] /= piv
		}
		basis = append(basis, pivotRow{dense: v, col: col})
		out = append(out, sr)
	}
	return out, true
}

// recover maps a standard-form point back onto the original variables.
func (sf *stdForm) recover(z []float64) []float64 {
	x := make([]float64, len(sf.offset))
	for j := range x {
		x[j] = sf.offset[j]
		for _, ref := range sf.refs[j] {
			x[j] += ref.mult * z[ref.col]
		}
	}
	return x
}
