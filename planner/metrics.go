// SPDX-License-Identifier: MIT
// Package planner — Prometheus collectors of a planning run.
package planner

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run collectors. Registration is idempotent, so concurrent
// runs against one registerer share collectors.
type Metrics struct {
	Iterations  prometheus.Counter
	Solves      *prometheus.CounterVec // label: status
	SolveTime   prometheus.Histogram
	Active      prometheus.Gauge
	Gap         prometheus.Gauge
	Corrections *prometheus.CounterVec // label: outcome
}

// NewMetrics registers the run collectors against reg, defaulting to the
// global registerer when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var (
		m   Metrics
		err error
	)
	if m.Iterations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridplan_master_iterations_total",
		Help: "Master bundle iterations across all runs.",
	})); err != nil {
		return nil, err
	}
	if m.Solves, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridplan_subproblem_solves_total",
		Help: "Operational subproblem solves, labeled by outcome status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if m.SolveTime, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridplan_subproblem_duration_seconds",
		Help:    "Wall time of one operational subproblem solve.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})); err != nil {
		return nil, err
	}
	if m.Active, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridplan_contingencies_active",
		Help: "Post-outage constraints currently added to the subproblems.",
	})); err != nil {
		return nil, err
	}
	if m.Gap, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridplan_bound_gap",
		Help: "Relative gap between the master bounds after the last iteration.",
	})); err != nil {
		return nil, err
	}
	if m.Corrections, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridplan_correction_passes_total",
		Help: "Transmission correction passes, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return &m, nil
}

// register adds c to reg or returns the collector already registered under
// the same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("NewMetrics: collector registered with incompatible type: %w", err)
		}
		return c, fmt.Errorf("NewMetrics: %w", err)
	}
	return c, nil
}
