// SPDX-License-Identifier: MIT
// Package rtep defines corridors, circuit choices, options, and sentinel
// errors for transmission correction.
package rtep

import (
	"errors"
	"log/slog"

	"github.com/katalvlaran/gridplan/grid"
)

var (
	// ErrNonConvergent indicates that the reactance fixed point did not settle
	// within MaxIterations. It is non-fatal: the last converged snapshot is
	// returned alongside it.
	ErrNonConvergent = errors.New("rtep: correction did not converge")

	// ErrDimension indicates a reactance or flow vector of the wrong length.
	ErrDimension = errors.New("rtep: dimension mismatch")
)

// Corridor is one reinforceable branch: its existing rating and reactance
// plus the circuit types that may be strung in parallel.
type Corridor struct {
	Candidate   string
	Branch      int
	BranchID    string
	Limit       float64 // existing rating F0 (MW)
	Reactance   float64 // existing reactance x0 (p.u.), 0 for HVDC
	Types       []grid.CircuitType
	MaxCircuits int
	Recovery    float64 // capital recovery factor applied to circuit cost
}

// Choice is the selected reinforcement of one corridor.
type Choice struct {
	Candidate string  `yaml:"candidate"`
	Branch    string  `yaml:"branch"`
	Type      string  `yaml:"type,omitempty"` // empty when no circuit is added
	Circuits  int     `yaml:"circuits"`
	Capacity  float64 `yaml:"capacity"`  // F0 + n·Fc
	Reactance float64 `yaml:"reactance"` // 1 / (1/x0 + n/xc)
	Cost      float64 `yaml:"annual_cost"`
	Shortfall float64 `yaml:"shortfall,omitempty"` // target − Capacity when unreachable
}

// Options configures Correct.
type Options struct {
	Epsilon       float64 // relative reactance change regarded as settled
	MaxIterations int
	Logger        *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithEpsilon sets the convergence tolerance.
func WithEpsilon(eps float64) Option { return func(o *Options) { o.Epsilon = eps } }

// WithMaxIterations caps the fixed-point iterations.
func WithMaxIterations(n int) Option { return func(o *Options) { o.MaxIterations = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// DefaultOptions returns ε = 1e-3 and at most 8 iterations.
func DefaultOptions() Options {
	return Options{Epsilon: 1e-3, MaxIterations: 8, Logger: slog.Default()}
}
