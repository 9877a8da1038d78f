// SPDX-License-Identifier: MIT
// Package cyclebasis — structural validation of a cycle matrix.
package cyclebasis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/grid"
)

const (
	orthogonalityTol = 1e-9
	rankTol          = 1e-10
)

// Validate checks that D is a cycle basis of topo's AC network:
//
//	D·Aᵗ = 0,  HVDC columns of D are zero,  rank(D) = rows(D) = B_ac − N + C.
//
// A nil D is accepted only for forests (cycle rank 0).
//
// Errors: ErrBasisMismatch with the first failing check.
// Complexity: O(C·B·N) for the product, O(C²·B) for the rank.
func Validate(topo *grid.Topology, D *mat.Dense) error {
	want := topo.CycleRank()
	if D == nil {
		if want != 0 {
			return fmt.Errorf("Validate: no cycles but cycle rank is %d: %w", want, ErrBasisMismatch)
		}
		return nil
	}
	rows, cols := D.Dims()
	if cols != topo.NumBranches() {
		return fmt.Errorf("Validate: D has %d columns, network has %d branches: %w", cols, topo.NumBranches(), ErrBasisMismatch)
	}
	if rows != want {
		return fmt.Errorf("Validate: D has %d rows, cycle rank is %d: %w", rows, want, ErrBasisMismatch)
	}
	for b, dc := range topo.HVDC {
		if !dc {
			continue
		}
		for r := 0; r < rows; r++ {
			if D.At(r, b) != 0 {
				return fmt.Errorf("Validate: cycle %d uses HVDC branch %s: %w", r, topo.BranchIDs[b], ErrBasisMismatch)
			}
		}
	}

	var P mat.Dense
	P.Mul(D, topo.Incidence().T())
	if m := mat.Norm(&P, math.Inf(1)); m > orthogonalityTol {
		return fmt.Errorf("Validate: ‖D·Aᵗ‖∞ = %g: %w", m, ErrBasisMismatch)
	}

	var svd mat.SVD
	if !svd.Factorize(D, mat.SVDNone) {
		return fmt.Errorf("Validate: SVD of D failed: %w", ErrBasisMismatch)
	}
	if r := svd.Rank(rankTol); r != want {
		return fmt.Errorf("Validate: rank(D) = %d, want %d: %w", r, want, ErrBasisMismatch)
	}

	return nil
}
