// SPDX-License-Identifier: MIT
// Package gridplan is a least-cost, n-1 secure capacity-expansion planner for
// transmission grids with storage, generation, and emission allowances.
//
// 🚀 What is gridplan?
//
//	A pure-Go planning core that brings together:
//		• Topology: incidence, spanning forest, fundamental cycles
//		• Cycle basis: shortest cycle basis via per-cycle integer programs
//		• Dispatch: angle-free DC operational LP with storage, ramping,
//		  reserve, carbon, and post-outage rows
//		• Contingencies: PTDF/LODF screening for n-1 and n-1-1
//		• Transmission correction: discrete circuits and the
//		  capacity/reactance fixed point
//		• Master: level bundle method with disaggregated cuts
//
// ✨ Why a cycle basis?
//
//   - No voltage angles: KVL is one row per cycle, sparse when cycles are short
//   - Sensitivities from a C×C Cholesky instead of a full susceptance inverse
//   - HVDC branches simply drop out of every cycle
//
// Packages:
//
//	grid/            — network data model, topology builder, decision layout
//	cyclebasis/      — minimal cycle basis
//	solver/          — injected LP/MIP surface; solver/simplex is the pure-Go backend
//	dispatch/        — operational subproblem
//	contingency/     — sensitivity factors and outage screening
//	rtep/            — circuit selection and reactance correction
//	bundle/          — master level bundle method
//	planner/         — Optimize, the single entry point
//	config/          — defaults, YAML loading, validation
//	cmd/gridplan/    — CLI: demo, config print/validate
//
// Quick ASCII example (the demo case):
//
//	     n1 (200 MW)
//	    ╱   ╲
//	 l12     l13      every line 100 MW, x = 0.1 p.u.
//	  ╱       ╲
//	n2 ─ l23 ─ n3 (150 MW load, storage site)
//
// Losing l13 pushes the whole transfer onto l12–l23, so the plan must add
// line capacity or local storage before it is n-1 secure.
//
//	go run ./cmd/gridplan demo
package gridplan
