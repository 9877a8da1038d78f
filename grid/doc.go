// SPDX-License-Identifier: MIT
// Package grid is the network data model and topology builder of gridplan.
//
// 🚀 What it covers
//
//   - Network, Node, Branch, existing assets, and investment candidates.
//   - Scenario: one representative day of hourly load and availability.
//   - BuildTopology: signed incidence A, Kruskal spanning forest, slack roots,
//     and the fundamental cycle basis (one cycle per non-tree AC branch).
//   - Layout / CapacityDecision: the flat decision vector x used by the master.
//   - Ring, Mesh, Triangle: deterministic synthetic networks.
//
// Conventions:
//
//	A[n][b] = −1 if n is b.From, +1 if n is b.To, so a net injection vector p
//	(generation − load) and branch flows f satisfy p + A·f = 0.
//	For every cycle row d of D: d·Aᵗ = 0.
//
// Errors:
//
//	ErrInvalidTopology  - inconsistent nodes/branches/interconnections (*TopologyError).
//	ErrInvalidAsset     - generators, storage, or candidates out of domain.
//	ErrInvalidScenario  - short, negative, or dangling time series.
//	ErrDecisionSize     - decision vector does not match its Layout.
//	ErrTooFewNodes      - degenerate synthetic network size.
//
// Quick example:
//
//	net := grid.Triangle()
//	topo, err := grid.BuildTopology(net)
//	if err != nil { ... }
//	cycles := topo.FundamentalCycles() // one cycle: l13 + tree path
package grid
