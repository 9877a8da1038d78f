// SPDX-License-Identifier: MIT
// Package planner defines the options, result, reliability report, and
// warnings of a planning run.
package planner

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/rtep"
	"github.com/katalvlaran/gridplan/solver"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

// ErrInput indicates a run without scenarios or with unusable scenario weights.
var ErrInput = errors.New("planner: invalid input")

// Progress is the payload of the per-iteration progress callback.
type Progress = bundle.Progress

// WarningCode classifies a non-fatal condition attached to a Result.
type WarningCode string

const (
	// WarnBundleNonConvergent: the gap did not close within the iteration or
	// wall-clock budget; the incumbent is returned.
	WarnBundleNonConvergent WarningCode = "bundle_non_convergent"
	// WarnCorrectionNonConvergent: a transmission correction pass did not
	// settle; the previous reactance was kept.
	WarnCorrectionNonConvergent WarningCode = "correction_non_convergent"
	// WarnCorrectionBudget: further corrections were skipped after the
	// restart budget was spent.
	WarnCorrectionBudget WarningCode = "correction_budget_exhausted"
	// WarnContingencyRounds: violations remained after the last screening round.
	WarnContingencyRounds WarningCode = "contingency_rounds_exhausted"
	// WarnCycleFallback: some cycle programs timed out and kept their
	// fundamental cycle.
	WarnCycleFallback WarningCode = "cycle_basis_fallback"
)

// Warning is a non-fatal condition of the run.
type Warning struct {
	Code    WarningCode `yaml:"code"`
	Message string      `yaml:"message"`
}

// Reliability summarises the operation of the final plan. Energy and
// emissions are annual: scenario figures weighted by days represented.
type Reliability struct {
	ShedEnergy          float64       `yaml:"shed_energy"`       // MWh/yr
	ReserveShortfall    float64       `yaml:"reserve_shortfall"` // MWh/yr
	Emissions           float64       `yaml:"emissions"`         // t/yr
	N1Compliance        float64       `yaml:"n_1_compliance"`
	ScreenedCases       int           `yaml:"screened_cases"`
	ViolatingCases      int           `yaml:"violating_cases"`
	IslandingOutages    []string      `yaml:"islanding_outages,omitempty"`
	ActiveContingencies int           `yaml:"active_contingencies"`
	Transmission        []rtep.Choice `yaml:"transmission,omitempty"`
}

// Result is the outcome of Optimize.
type Result struct {
	RunID            string                `yaml:"run_id"`
	TotalCost        float64               `yaml:"total_cost"` // $/yr
	InvestmentCost   float64               `yaml:"investment_cost"`
	OperatingCost    float64               `yaml:"operating_cost"`
	LowerBound       float64               `yaml:"lower_bound"`
	Gap              float64               `yaml:"gap"`
	Converged        bool                  `yaml:"converged"`
	CapacityDecision grid.CapacityDecision `yaml:"capacity_decision"`
	Reliability      Reliability           `yaml:"reliability"`
	CycleBasis       int                   `yaml:"cycle_basis_size"`
	Epochs           int                   `yaml:"epochs"`
	Trace            []bundle.Iterate      `yaml:"trace"`
	Warnings         []Warning             `yaml:"warnings,omitempty"`
	Elapsed          time.Duration         `yaml:"elapsed"`
}

// Options configures Optimize.
type Options struct {
	Factory    solver.Factory // per-run backend constructor
	Registerer prometheus.Registerer
	Progress   func(Progress)
	Logger     *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithSolver sets the per-run backend factory.
func WithSolver(f solver.Factory) Option {
	return func(o *Options) {
		if f != nil {
			o.Factory = f
		}
	}
}

// WithRegisterer sets the Prometheus registerer for run metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = reg }
}

// WithProgress installs a callback fired after every master iteration.
func WithProgress(f func(Progress)) Option { return func(o *Options) { o.Progress = f } }

// WithLogger sets the logger; the run id is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// DefaultOptions returns the pure-Go simplex backend, the default Prometheus
// registerer, no progress callback, and slog.Default().
func DefaultOptions() Options {
	return Options{
		Factory:    simplex.Factory(),
		Registerer: prometheus.DefaultRegisterer,
		Logger:     slog.Default(),
	}
}
