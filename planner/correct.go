// SPDX-License-Identifier: MIT
// Package planner — transmission correction at the bundle barrier.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/rtep"
)

// hook runs after every master iteration. Every CorrectionInterval
// iterations, and whenever the master reports convergence, it corrects
// corridor reactances at the incumbent. A change above EpsilonCorrection
// rebuilds the sensitivity factors and restarts the bundle, since every cut
// was taken under the old reactance. MaxCorrectionRestarts caps the restarts
// of one run; MaxCorrectionIterations caps the fixed-point passes of each
// correction.
func (r *run) hook(ctx context.Context, it bundle.Iterate, incumbent []float64) (bundle.Action, error) {
	r.metrics.Iterations.Inc()
	r.metrics.Gap.Set(it.Gap)
	if len(r.corridors) == 0 {
		return bundle.Continue, nil
	}
	if !it.Converged && it.Iteration%r.cfg.CorrectionInterval != 0 {
		return bundle.Continue, nil
	}
	if r.restarts >= r.cfg.MaxCorrectionRestarts {
		r.warn(WarnCorrectionBudget, fmt.Sprintf("reactance frozen after %d corrections", r.restarts))
		return bundle.Continue, nil
	}

	ctx, span := r.tracer.Start(ctx, "planner.correction",
		trace.WithAttributes(attribute.Int("iteration", it.Iteration), attribute.Int("epoch", it.Epoch)))
	defer span.End()

	corr, err := rtep.Correct(ctx, r.corridors, r.reactance, r.peaks(incumbent),
		rtep.WithEpsilon(r.cfg.EpsilonCorrection),
		rtep.WithMaxIterations(r.cfg.MaxCorrectionIterations),
		rtep.WithLogger(r.log))
	if errors.Is(err, rtep.ErrNonConvergent) {
		r.metrics.Corrections.WithLabelValues("non_convergent").Inc()
		r.warn(WarnCorrectionNonConvergent, err.Error())
		return bundle.Continue, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "correction")
		return bundle.Continue, fmt.Errorf("Optimize: %w", err)
	}
	r.choices = corr.Choices

	change := relativeChange(r.reactance, corr.Reactance)
	span.SetAttributes(attribute.Int("passes", corr.Iterations), attribute.Float64("change", change))
	if change <= r.cfg.EpsilonCorrection {
		r.metrics.Corrections.WithLabelValues("settled").Inc()
		return bundle.Continue, nil
	}

	factors, active, err := r.reprice(corr.Reactance)
	if err != nil {
		return bundle.Continue, err
	}
	r.reactance, r.factors, r.active = corr.Reactance, factors, active
	r.restarts++
	r.metrics.Corrections.WithLabelValues("restart").Inc()
	r.log.Info("reactance corrected, restarting master",
		"iteration", it.Iteration, "epoch", it.Epoch, "change", change, "restarts", r.restarts)
	return bundle.Restart, nil
}

// peaks returns the rtep.Evaluator of the incumbent: the largest branch
// loading over all scenarios and hours under a trial reactance, counting the
// active post-outage flows scaled back to normal ratings.
func (r *run) peaks(x []float64) rtep.Evaluator {
	return func(ctx context.Context, reactance []float64) ([]float64, error) {
		_, active, err := r.reprice(reactance)
		if err != nil {
			return nil, err
		}
		per := make([][]float64, len(r.scenarios))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallelism())
		for w := range r.scenarios {
			g.Go(func() error {
				out, err := r.solve(gctx, w, x, reactance, active[w])
				if err != nil {
					return err
				}
				per[w] = loading(out.Flows, active[w], r.cfg.EmergencyRatingFactor, len(reactance))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		peak := make([]float64, len(reactance))
		for _, p := range per {
			for b, v := range p {
				peak[b] = math.Max(peak[b], v)
			}
		}
		return peak, nil
	}
}

// reprice builds factors for reactance and recomputes β of every active row.
func (r *run) reprice(reactance []float64) (*contingency.Factors, [][]dispatch.Contingency, error) {
	factors, err := contingency.NewFactors(r.topo, r.basis.D, reactance)
	if err != nil {
		return nil, nil, fmt.Errorf("Optimize: %w", err)
	}
	active := make([][]dispatch.Contingency, len(r.active))
	for w, set := range r.active {
		active[w] = make([]dispatch.Contingency, len(set))
		for i, c := range set {
			beta, err := factors.Distribution(c.Outage, c.Branch)
			if err != nil {
				return nil, nil, fmt.Errorf("Optimize: contingency %s on %s: %w",
					c.Outage.Key(), r.topo.BranchIDs[c.Branch], err)
			}
			c.Beta = beta
			active[w][i] = c
		}
	}
	return factors, active, nil
}

// loading returns per-branch peak |flow| over hours, including active
// post-outage flows divided by the emergency factor.
func loading(flows [][]float64, active []dispatch.Contingency, emergency float64, nb int) []float64 {
	peak := make([]float64, nb)
	for _, fl := range flows {
		for b, f := range fl {
			peak[b] = math.Max(peak[b], math.Abs(f))
		}
	}
	for _, c := range active {
		post := flows[c.Hour][c.Branch]
		for j, k := range c.Outage {
			post += c.Beta[j] * flows[c.Hour][k]
		}
		peak[c.Branch] = math.Max(peak[c.Branch], math.Abs(post)/emergency)
	}
	return peak
}

// relativeChange returns max_b |b' − b| / |b| over branches with b ≠ 0.
func relativeChange(before, after []float64) float64 {
	change := 0.0
	for b := range before {
		if before[b] != 0 {
			change = math.Max(change, math.Abs(after[b]-before[b])/math.Abs(before[b]))
		}
	}
	return change
}
