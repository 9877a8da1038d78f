// SPDX-License-Identifier: MIT
// Package solver is the injected optimization surface of gridplan.
//
// 🚀 What it covers
//
//   - Declare variables (continuous or integer, any bounds) and rows (≤, ≥, =).
//   - Optimize through any Backend (pure-Go simplex in solver/simplex, or a
//     binding to an external engine).
//   - Read primal values and row duals (∂objective/∂rhs).
//
// Time limits and infeasibility are reported as Status values, never as
// panics, so callers running many models concurrently can tag and forward
// outcomes without unwinding goroutines.
//
// Quick example:
//
//	p := solver.NewProblem("toy")
//	x := p.AddVar("x", 0, 10, -1)
//	p.AddRow("cap", []solver.Term{{Var: x, Coef: 1}}, solver.LessEqual, 4)
//	sol, err := backend.Optimize(ctx, p, solver.Options{WantDuals: true})
//	// sol.Value(x) == 4, sol.Dual(0) == -1
package solver
