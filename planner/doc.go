// SPDX-License-Identifier: MIT
// Package planner is the single entry point of gridplan: Optimize turns a
// network, a set of weighted representative days, and a configuration into a
// least-cost, n-1 secure capacity plan.
//
// The run is a Benders-style decomposition driven by a level bundle method:
//
//	master (bundle)      x = capacities, allowances
//	  │ trial x
//	  ▼
//	oracle               per scenario, concurrently:
//	  │                    dispatch LP ─► screen outages ─► add violated rows ─┐
//	  │                          ▲                                             │
//	  │                          └─────────────────────────────────────────────┘
//	  │ cost, subgradient
//	  ▼
//	barrier hook         every CorrectionInterval iterations:
//	                       rtep correction ─► new reactance ─► restart epoch
//
// Each call builds its own solver backend from the injected factory and closes
// it before returning, so independent runs may proceed concurrently. Metrics
// go to the injected Prometheus registerer; spans use the global
// OpenTelemetry tracer; logs carry the run id.
//
// Fatal conditions (invalid input, an infeasible day, a solver failure after
// one relaxed retry) return a nil Result. Convergence shortfalls come back as
// Result.Warnings next to the best plan found.
package planner
