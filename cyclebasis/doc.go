// SPDX-License-Identifier: MIT
// Package cyclebasis refines the spanning-tree cycle basis of a grid.Topology
// into a lighter, consistently oriented one.
//
// Each non-tree AC branch defines one cycle; Minimize replaces the
// fundamental cycle with the lightest cycle through that branch that only
// uses tree branches and earlier non-tree branches. The programs are
// independent and run concurrently once at setup. Lighter cycles mean a
// sparser D, and D is the matrix behind every Kirchhoff voltage row of the
// dispatch model and the sensitivity factors of the contingency screen.
//
// Orientation: the defining branch is always walked From→To (+1); every other
// arc's sign follows the walk.
//
// Errors:
//
//	ErrBasisMismatch - D·Aᵗ ≠ 0 or rank(D) ≠ B − N + C (fatal, never retried).
//	ErrNoBackend     - nil solver backend.
//	ErrUnknownPolicy - unrecognised weighting or tie-break.
//
// Example:
//
//	basis, err := cyclebasis.Minimize(ctx, topo, simplex.New(),
//	    cyclebasis.WithTieBreak(cyclebasis.TieLowestIndex),
//	    cyclebasis.WithParallelism(runtime.GOMAXPROCS(0)))
package cyclebasis
