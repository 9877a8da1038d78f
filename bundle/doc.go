// SPDX-License-Identifier: MIT
// Package bundle implements the master problem of the planner: a level bundle
// method over a disaggregated cutting-plane model.
//
// Every iteration evaluates all oracle components (scenarios) at one trial
// point, adds one cut per component, and updates
//
//	UB = best F observed,  LB = min of the cutting-plane model,  gap = (UB − LB)/UB.
//
// The next trial point is the L1 projection of a stability center onto the
// level set {model ≤ LB + λ·(UB − LB)}. With StabilizeAnalyticCenter the
// center is the analytic center of the localization set (damped Newton on a
// log barrier, gonum Cholesky); with StabilizeIncumbent it is the best point
// found so far. Both keep trial points from zig-zagging the way plain
// cutting planes do.
//
// Cuts beyond MaxCuts per component are not deleted: the inactive ones are
// averaged into a single aggregate cut. A Hook may restart the method in a
// new epoch when the oracle's function changes (transmission correction).
// Within an epoch LB never decreases, UB never increases, and the gap never
// increases.
//
// Errors:
//
//	ErrNonConvergent        - budget exhausted; Result holds the incumbent.
//	ErrProblem              - invalid Problem or options.
//	ErrOracle               - oracle answer of the wrong shape or not finite.
//	ErrUnknownStabilization - unrecognised stabilization name.
package bundle
