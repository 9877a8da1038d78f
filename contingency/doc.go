// SPDX-License-Identifier: MIT
// Package contingency computes sensitivity factors through the cycle basis
// and screens outages without re-solving the power flow.
//
// 🚀 What it covers
//
//   - NewFactors: PTDF = (I − Dᵗ(DXDᵗ)⁻¹DX)·T, one Cholesky per reactance state.
//   - LODF / Distribution: post-outage flow f_l' = f_l + Σ β_j·f_{k_j} for
//     single (n-1) and double (n-1-1) outages; HVDC outages are injection shifts.
//   - Screen: every (hour, outage, monitored branch) triple in O(1) each,
//     returning the worst overloads above epsilon as new constraints.
//
// Outages that split an AC component have no linear factors; they are
// reported in Report.Islanding and left out of the compliance denominator.
//
// Errors:
//
//	ErrIslanding    - outage splits an AC component.
//	ErrSingular     - D·X·Dᵗ not positive definite (bad reactances).
//	ErrDimension    - mismatched vector lengths.
//	ErrUnknownLevel - level name other than none, n-1, n-1-1.
package contingency
