// SPDX-License-Identifier: MIT
// Package bundle — the master loop.
package bundle

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/katalvlaran/gridplan/solver"
)

const tracerName = "github.com/katalvlaran/gridplan/bundle"

// Method runs the level bundle method on an injected LP backend.
type Method struct {
	backend solver.Backend
	opts    Options
	tracer  trace.Tracer
}

// New returns a Method using backend for the lower-bound and projection LPs.
func New(backend solver.Backend, opts ...Option) *Method {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Method{backend: backend, opts: o, tracer: otel.Tracer(tracerName)}
}

// Run minimizes p, evaluating trial points with oracle.
//
// Stages per iteration:
//  1. Evaluate: F(x) = cᵀx + Σ w_ω·Q_ω(x); one cut per component.
//  2. Bounds: UB = min F seen in the epoch, LB = max of the model minima;
//     gap = (UB − LB)/UB is therefore non-increasing within an epoch.
//  3. Barrier: trace, progress callback, hook. A Restart starts a new epoch
//     from the incumbent with an empty bundle.
//  4. Converged when gap ≤ EpsilonGap; otherwise fold idle cuts, compute the
//     stability center (analytic center or incumbent), and project it onto
//     {model ≤ LB + λ·(UB − LB)} for the next trial point.
//
// On an exhausted iteration or wall-clock budget the incumbent is returned
// with ErrNonConvergent. When the budget runs out right after a Restart, the
// bounds reported are those of the epoch that was closed. Oracle, hook, and solver errors are fatal and return
// a nil Result.
//
// Errors: ErrProblem, ErrOracle, ErrNonConvergent, solver.ErrSolver, ctx.Err().
func (m *Method) Run(ctx context.Context, p Problem, oracle Oracle) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	o := m.opts
	if o.Level <= 0 || o.Level >= 1 {
		return nil, fmt.Errorf("Run: level %g outside (0,1): %w", o.Level, ErrProblem)
	}
	if _, err := ParseStabilization(string(o.Stabilization)); err != nil {
		return nil, err
	}

	n := len(p.Costs)
	x := make([]float64, n)
	if p.Start != nil {
		for i := range x {
			x[i] = clamp(p.Start[i], 0, p.Upper[i])
		}
	}
	start := time.Now()
	res := &Result{Epochs: 1}
	mdl := newModel(&p)
	lower, upper, gap := math.Inf(-1), math.Inf(1), math.Inf(1)
	best := append([]float64(nil), x...)

	for it := 1; it <= o.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.WallClock > 0 && time.Since(start) > o.WallClock {
			o.Logger.Warn("bundle wall-clock budget exhausted", "iteration", it-1, "gap", gap)
			break
		}
		ictx, span := m.tracer.Start(ctx, "bundle.iteration",
			trace.WithAttributes(attribute.Int("iteration", it), attribute.Int("epoch", res.Epochs)))

		// 1. Evaluate.
		evals, err := oracle.Evaluate(ictx, append([]float64(nil), x...))
		if err == nil {
			err = checkEvaluations(evals, len(p.Weights), n)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "oracle")
			span.End()
			return nil, err
		}
		value := floats.Dot(p.Costs, x)
		for w, e := range evals {
			value += p.Weights[w] * e.Value
			mdl.add(w, x, e)
		}

		// 2. Bounds.
		if value < upper {
			upper = value
			copy(best, x)
		}
		lb, xlp, err := mdl.lower(ictx, m.backend)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lower bound")
			span.End()
			return nil, err
		}
		lower = math.Max(lower, math.Min(lb, upper))
		gap = relativeGap(lower, upper)
		level := lower + o.Level*(upper-lower)
		converged := gap <= o.EpsilonGap

		// 3. Barrier.
		rec := Iterate{
			Iteration: it, Epoch: res.Epochs, Value: value,
			Lower: lower, Upper: upper, Gap: gap, Level: level,
			Cuts: mdl.size(), Elapsed: time.Since(start), Converged: converged,
		}
		res.Trace = append(res.Trace, rec)
		span.SetAttributes(attribute.Float64("lower_bound", lower), attribute.Float64("upper_bound", upper), attribute.Float64("gap", gap))
		span.End()
		o.Logger.Info("bundle iteration", "iteration", it, "epoch", res.Epochs,
			"value", value, "lower", lower, "upper", upper, "gap", gap, "cuts", rec.Cuts)
		if o.Progress != nil {
			o.Progress(Progress{Iteration: it, LowerBound: lower, UpperBound: upper, Gap: gap, ElapsedSeconds: rec.Elapsed.Seconds()})
		}
		action := Continue
		if o.Hook != nil {
			if action, err = o.Hook(ctx, rec, append([]float64(nil), best...)); err != nil {
				return nil, err
			}
		}
		if action == Restart {
			res.Epochs++
			o.Logger.Info("bundle restart", "iteration", it, "epoch", res.Epochs)
			mdl = newModel(&p)
			lower, upper, gap = math.Inf(-1), math.Inf(1), math.Inf(1)
			copy(x, best)
			continue
		}

		// 4. Next trial.
		if converged {
			res.Converged = true
			break
		}
		if folded := mdl.aggregate(o.MaxCuts); folded > 0 {
			o.Logger.Debug("bundle cuts aggregated", "iteration", it, "folded", folded)
		}
		center := best
		if o.Stabilization == StabilizeAnalyticCenter {
			if c, ok := mdl.analyticCenter(best, upper); ok {
				center = c
			}
		}
		next, ok, err := mdl.project(ctx, m.backend, center, level)
		if err != nil {
			return nil, err
		}
		if !ok {
			next = xlp
		}
		x = next
	}

	if math.IsInf(lower, -1) && len(res.Trace) > 0 {
		// a restart with no iteration left: report the closed epoch's bounds
		last := res.Trace[len(res.Trace)-1]
		upper, lower, gap = last.Upper, last.Lower, last.Gap
	}
	res.X = best
	res.Value = upper
	res.Lower = lower
	res.Gap = gap
	res.Iterations = len(res.Trace)
	if !res.Converged {
		return res, fmt.Errorf("Run: gap %.4g after %d iterations: %w", gap, res.Iterations, ErrNonConvergent)
	}
	return res, nil
}

func checkEvaluations(evals []Evaluation, comps, n int) error {
	if len(evals) != comps {
		return fmt.Errorf("Run: %d evaluations for %d components: %w", len(evals), comps, ErrOracle)
	}
	for w, e := range evals {
		if len(e.Subgradient) != n || math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("Run: component %d: value %g, subgradient len %d: %w", w, e.Value, len(e.Subgradient), ErrOracle)
		}
	}
	return nil
}

// relativeGap returns (UB − LB)/|UB| clipped at 0, +Inf before both exist.
func relativeGap(lower, upper float64) float64 {
	if math.IsInf(lower, -1) || math.IsInf(upper, 1) {
		return math.Inf(1)
	}
	return math.Max(0, upper-lower) / math.Max(math.Abs(upper), 1e-9)
}
