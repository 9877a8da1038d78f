// SPDX-License-Identifier: MIT
// Package planner — the scenario oracle: concurrent secure dispatch with
// contingency rounds, time-out retry, and fatal-outcome conversion.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/solver"
)

// oracle is the bundle.Oracle of the run: one evaluation per scenario.
func (r *run) oracle(ctx context.Context, x []float64) ([]bundle.Evaluation, error) {
	outs, err := r.evaluate(ctx, x)
	if err != nil {
		return nil, err
	}
	evals := make([]bundle.Evaluation, len(outs))
	for w, o := range outs {
		evals[w] = bundle.Evaluation{Value: o.Cost, Subgradient: o.Subgradient}
	}
	return evals, nil
}

// evaluate solves every scenario at x, adding violated contingencies as it
// goes. The barrier is errgroup.Wait: the first fatal outcome cancels the rest.
func (r *run) evaluate(ctx context.Context, x []float64) ([]dispatch.Outcome, error) {
	outs := make([]dispatch.Outcome, len(r.scenarios))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism())
	for w := range r.scenarios {
		g.Go(func() error {
			out, err := r.secure(gctx, w, x)
			outs[w] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.metrics.Active.Set(float64(r.activeCount()))
	return outs, nil
}

// secure solves scenario w, screens its flows, and re-solves with the worst
// new violations until none remain or the round budget is spent. Active rows
// are never removed, so later calls start from the accumulated set.
func (r *run) secure(ctx context.Context, w int, x []float64) (dispatch.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "planner.scenario",
		trace.WithAttributes(attribute.String("scenario", r.scenarios[w].Name)))
	defer span.End()

	for round := 1; ; round++ {
		out, err := r.solve(ctx, w, x, r.reactance, r.active[w])
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch")
			return out, err
		}
		if r.level == contingency.LevelNone {
			return out, nil
		}
		fresh, err := r.violations(w, x, out.Flows)
		if err != nil {
			return out, err
		}
		if len(fresh) == 0 {
			span.SetAttributes(attribute.Int("rounds", round), attribute.Int("active", len(r.active[w])))
			return out, nil
		}
		if round > r.cfg.MaxContingencyRounds {
			r.warn(WarnContingencyRounds, fmt.Sprintf("scenario %q still violates %d post-outage limits after %d rounds",
				r.scenarios[w].Name, len(fresh), r.cfg.MaxContingencyRounds))
			return out, nil
		}
		r.active[w] = append(r.active[w], fresh...)
		r.log.Debug("contingencies added", "scenario", r.scenarios[w].Name, "round", round,
			"added", len(fresh), "active", len(r.active[w]))
	}
}

// violations screens flows and returns up to ContingenciesPerRound violated
// constraints of scenario w that are not active yet, worst first.
func (r *run) violations(w int, x []float64, flows [][]float64) ([]dispatch.Contingency, error) {
	rep, err := contingency.Screen(r.factors, flows, r.limits(x), contingency.ScreenOptions{
		Level: r.level, Epsilon: r.cfg.EpsilonContingency,
	})
	if err != nil {
		return nil, fmt.Errorf("Optimize: screening %q: %w", r.scenarios[w].Name, err)
	}
	var fresh []dispatch.Contingency
	for _, v := range rep.Violations {
		if len(fresh) == r.cfg.ContingenciesPerRound {
			break
		}
		key := v.Key()
		if _, ok := r.keys[w][key]; ok {
			continue
		}
		r.keys[w][key] = struct{}{}
		fresh = append(fresh, dispatch.Contingency{Hour: v.Hour, Outage: v.Outage, Branch: v.Branch, Beta: v.Beta})
	}
	return fresh, nil
}

// solve runs one dispatch with the per-call time limit. A time-out or a
// backend failure is retried once with the limit relaxed; infeasibility, bad
// input, cancellation, and a second failure are fatal.
func (r *run) solve(ctx context.Context, w int, x, reactance []float64, active []dispatch.Contingency) (dispatch.Outcome, error) {
	in := &dispatch.Input{
		Network:   r.net,
		Topology:  r.topo,
		Cycles:    r.basis.Cycles,
		Reactance: reactance,
		Layout:    r.layout,
		Decision:  x,
		Scenario:  &r.scenarios[w],
		Hours:     r.cfg.TimePeriods,
		Params:    r.params,
		Active:    active,
	}
	limit := r.cfg.SubproblemTimeLimit
	for attempt := 1; ; attempt++ {
		start := time.Now()
		out, err := dispatch.Solve(ctx, r.backend, in, solver.Options{TimeLimit: limit})
		r.metrics.SolveTime.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.Solves.WithLabelValues("error").Inc()
			if attempt > 1 || !errors.Is(err, solver.ErrSolver) || ctx.Err() != nil {
				return out, fmt.Errorf("Optimize: %w", err)
			}
			limit = relax(limit, r.cfg.TimeLimitRelaxFactor)
			r.log.Warn("subproblem backend failed, retrying", "scenario", in.Scenario.Name,
				"time_limit", limit, "err", err)
			continue
		}
		r.metrics.Solves.WithLabelValues(out.Status.String()).Inc()

		switch out.Status {
		case dispatch.StatusOK:
			r.log.Debug("subproblem solved", "scenario", in.Scenario.Name,
				"cost", out.Cost, "shed", out.Shed, "rows", out.Rows, "elapsed", out.Elapsed)
			return out, nil
		case dispatch.StatusInfeasible:
			return out, fmt.Errorf("Optimize: %w", out.Err)
		}
		if attempt > 1 || limit <= 0 {
			return out, fmt.Errorf("Optimize: scenario %q after %d attempts: %w", in.Scenario.Name, attempt,
				&solver.Error{Op: "dispatch", Status: solver.StatusTimedOut})
		}
		limit = relax(limit, r.cfg.TimeLimitRelaxFactor)
		r.log.Warn("subproblem timed out, retrying", "scenario", in.Scenario.Name, "time_limit", limit)
	}
}

// relax scales a per-call limit; zero stays unlimited.
func relax(limit time.Duration, factor float64) time.Duration {
	return time.Duration(float64(limit) * factor)
}
