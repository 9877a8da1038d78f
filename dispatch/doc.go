// SPDX-License-Identifier: MIT
// Package dispatch solves the operational subproblem of one representative
// day for a fixed investment decision x.
//
// The model is a DC optimal power flow without voltage angles: branch flows
// are the variables, nodal balance uses the incidence matrix, and loop flows
// are fixed by one Kirchhoff voltage row per cycle of the basis. On top of it
// sit piecewise-linear generation costs, ramp limits, storage with cyclic
// state of charge, priced load shedding, an operating reserve requirement, a
// daily carbon cap, and the post-outage rows activated by the contingency
// oracle.
//
// Besides the day's operating cost, Solve returns a subgradient with respect
// to x, read from the duals of the rows whose right-hand side depends on x.
// Because the cost is convex and piecewise linear in x, the pair is a valid
// cutting plane for the master problem.
//
// Outcomes are tagged:
//
//	StatusOK         - Cost, Subgradient, Flows, Prices valid.
//	StatusInfeasible - Err is an *InfeasibleError naming scenario and hour.
//	StatusTimedOut   - the per-call limit expired; the caller retries or skips.
//
// Errors:
//
//	ErrInput      - inconsistent Input.
//	ErrInfeasible - wrapped by InfeasibleError.
//	solver.ErrSolver - backend failure or an unbounded model.
package dispatch
