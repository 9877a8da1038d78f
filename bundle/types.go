// SPDX-License-Identifier: MIT
// Package bundle defines the master problem, oracle contract, options,
// iteration records, and sentinel errors of the level bundle method.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrNonConvergent indicates that the gap did not close within the
	// iteration or wall-clock budget. The Result still carries the incumbent.
	ErrNonConvergent = errors.New("bundle: did not converge")

	// ErrProblem indicates an inconsistent Problem.
	ErrProblem = errors.New("bundle: invalid problem")

	// ErrOracle indicates an oracle answer of the wrong shape.
	ErrOracle = errors.New("bundle: malformed oracle answer")

	// ErrUnknownStabilization indicates an unrecognised stabilization name.
	ErrUnknownStabilization = errors.New("bundle: unknown stabilization")
)

// Problem is the master problem
//
//	minimize cᵀx + Σ_ω Weights[ω]·Q_ω(x)  s.t.  0 ≤ x ≤ Upper,  cᵀx ≤ Budget
//
// where each Q_ω is convex, non-negative, and known only through the oracle.
type Problem struct {
	Costs   []float64
	Upper   []float64
	Weights []float64 // one per oracle component
	Budget  float64   // ≤ 0 means unlimited
	Start   []float64 // nil means x = 0
}

func (p *Problem) validate() error {
	n := len(p.Costs)
	if len(p.Upper) != n {
		return fmt.Errorf("Run: %d bounds for %d costs: %w", len(p.Upper), n, ErrProblem)
	}
	if len(p.Weights) == 0 {
		return fmt.Errorf("Run: no oracle components: %w", ErrProblem)
	}
	if p.Start != nil && len(p.Start) != n {
		return fmt.Errorf("Run: start len %d, want %d: %w", len(p.Start), n, ErrProblem)
	}
	for i, u := range p.Upper {
		if u < 0 {
			return fmt.Errorf("Run: upper[%d] = %g: %w", i, u, ErrProblem)
		}
	}
	for i, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("Run: weight[%d] = %g: %w", i, w, ErrProblem)
		}
	}
	return nil
}

// Evaluation is Q_ω(x) and one subgradient of Q_ω at x.
type Evaluation struct {
	Value       float64
	Subgradient []float64
}

// Oracle evaluates every component at a trial point. A non-nil error is
// fatal to the run.
type Oracle interface {
	Evaluate(ctx context.Context, x []float64) ([]Evaluation, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, x []float64) ([]Evaluation, error)

// Evaluate implements Oracle.
func (f OracleFunc) Evaluate(ctx context.Context, x []float64) ([]Evaluation, error) {
	return f(ctx, x)
}

// Stabilization selects the point the next trial is pulled towards.
type Stabilization string

const (
	// StabilizeAnalyticCenter projects the analytic center of the localization set.
	StabilizeAnalyticCenter Stabilization = "analytic-center"
	// StabilizeIncumbent projects the best point found so far.
	StabilizeIncumbent Stabilization = "incumbent"
)

// ParseStabilization maps a configuration string to a Stabilization.
func ParseStabilization(s string) (Stabilization, error) {
	switch v := Stabilization(strings.ToLower(strings.TrimSpace(s))); v {
	case StabilizeAnalyticCenter, StabilizeIncumbent:
		return v, nil
	default:
		return "", fmt.Errorf("ParseStabilization: %q: %w", s, ErrUnknownStabilization)
	}
}

// Action is a Hook's verdict after an iteration.
type Action int

const (
	// Continue proceeds normally (and stops if converged).
	Continue Action = iota
	// Restart drops every cut and bound and restarts from the incumbent in a
	// new epoch; used when the oracle's function has changed.
	Restart
)

// Iterate records one master iteration.
type Iterate struct {
	Iteration int           `yaml:"iteration"`
	Epoch     int           `yaml:"epoch"`
	Value     float64       `yaml:"value"` // F at the trial point
	Lower     float64       `yaml:"lower_bound"`
	Upper     float64       `yaml:"upper_bound"`
	Gap       float64       `yaml:"gap"`
	Level     float64       `yaml:"level"`
	Cuts      int           `yaml:"cuts"`
	Elapsed   time.Duration `yaml:"elapsed"`
	Converged bool          `yaml:"converged"`
}

// Progress is the payload of the progress callback.
type Progress struct {
	Iteration      int
	LowerBound     float64
	UpperBound     float64
	Gap            float64
	ElapsedSeconds float64
}

// Hook runs at the barrier after each iteration's bounds are known. The
// incumbent is passed read-only.
type Hook func(ctx context.Context, it Iterate, incumbent []float64) (Action, error)

// Options configures a Method.
type Options struct {
	Level         float64 // λ in (0,1): level = LB + λ·(UB − LB)
	Stabilization Stabilization
	EpsilonGap    float64
	MaxIterations int
	MaxCuts       int           // per component before aggregation, ≤ 0 = unlimited
	WallClock     time.Duration // 0 = none
	Progress      func(Progress)
	Hook          Hook
	Logger        *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithLevel sets the level parameter λ.
func WithLevel(l float64) Option { return func(o *Options) { o.Level = l } }

// WithStabilization sets the stabilization center.
func WithStabilization(s Stabilization) Option {
	return func(o *Options) { o.Stabilization = s }
}

// WithEpsilonGap sets the relative gap tolerance.
func WithEpsilonGap(eps float64) Option { return func(o *Options) { o.EpsilonGap = eps } }

// WithMaxIterations caps the number of oracle calls.
func WithMaxIterations(n int) Option { return func(o *Options) { o.MaxIterations = n } }

// WithMaxCuts bounds the cuts kept per component.
func WithMaxCuts(n int) Option { return func(o *Options) { o.MaxCuts = n } }

// WithWallClock bounds the run's wall time.
func WithWallClock(d time.Duration) Option { return func(o *Options) { o.WallClock = d } }

// WithProgress installs a callback fired after each iteration.
func WithProgress(f func(Progress)) Option { return func(o *Options) { o.Progress = f } }

// WithHook installs the barrier hook.
func WithHook(h Hook) Option { return func(o *Options) { o.Hook = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// DefaultOptions returns λ = 0.3, analytic-center stabilization, a 1% gap,
// 100 iterations, and 50 cuts per component.
func DefaultOptions() Options {
	return Options{
		Level:         0.3,
		Stabilization: StabilizeAnalyticCenter,
		EpsilonGap:    0.01,
		MaxIterations: 100,
		MaxCuts:       50,
		Logger:        slog.Default(),
	}
}

// Result is the outcome of Run.
type Result struct {
	X          []float64 // incumbent
	Value      float64   // F(X), the final upper bound
	Lower      float64
	Gap        float64
	Iterations int
	Epochs     int
	Converged  bool
	Trace      []Iterate
}
