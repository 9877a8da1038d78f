// SPDX-License-Identifier: MIT
// Package rtep reconciles transmission capacity with electrical reactance.
//
// Reinforcing a corridor strings circuits in parallel with the existing
// branch, which raises its rating and lowers its reactance. Lower reactance
// attracts more flow, which may call for more circuits. Correct resolves this
// circularity by a bounded fixed-point iteration with the topology held fixed:
//
//	x⁰ = current reactance
//	repeat: peaks = Evaluate(xᵏ); choice = Select(corridor, peak); xᵏ⁺¹ = parallel(choice)
//	until ‖(xᵏ⁺¹ − xᵏ)/xᵏ‖∞ ≤ ε
//
// Select is closed form: for every circuit type the fewest circuits reaching
// the target is the cheapest count, so the choice is a minimum over types.
// No LP is involved. Enumerate performs the exhaustive search it replaces.
//
// Errors:
//
//	ErrNonConvergent - iteration cap reached; the entry snapshot is returned.
//	ErrDimension     - mismatched vector lengths.
package rtep
