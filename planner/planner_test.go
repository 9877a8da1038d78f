// SPDX-License-Identifier: MIT
package planner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/config"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/planner"
	"github.com/katalvlaran/gridplan/solver"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func smallConfig() config.Config {
	cfg := config.Default()
	cfg.TimePeriods = 4
	cfg.MaxIterations = 60
	return cfg
}

func optimize(t *testing.T, net *grid.Network, scenarios []grid.Scenario, cfg config.Config, opts ...planner.Option) (*planner.Result, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts = append([]planner.Option{planner.WithRegisterer(reg), planner.WithLogger(quiet)}, opts...)
	res, err := planner.Optimize(context.Background(), net, scenarios, cfg, opts...)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res, reg
}

func counter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func assertMonotoneWithinEpoch(t *testing.T, trace []bundle.Iterate) {
	t.Helper()
	for i := 1; i < len(trace); i++ {
		prev, cur := trace[i-1], trace[i]
		if prev.Epoch != cur.Epoch {
			continue
		}
		assert.GreaterOrEqual(t, cur.Lower, prev.Lower-1e-6, "lower bound fell at iteration %d", cur.Iteration)
		assert.LessOrEqual(t, cur.Upper, prev.Upper+1e-6, "upper bound rose at iteration %d", cur.Iteration)
	}
}

// TestOptimize_TriangleSecureUnderN1: 150 MW at n3 over 100 MW lines is only
// deliverable after any single outage once capacity is added.
func TestOptimize_TriangleSecureUnderN1(t *testing.T) {
	cfg := smallConfig()
	sc := grid.Flat("peak", cfg.TimePeriods, 365, map[string]float64{"n3": 150})
	var calls atomic.Int32
	res, reg := optimize(t, grid.Triangle(), []grid.Scenario{sc}, cfg,
		planner.WithProgress(func(planner.Progress) { calls.Add(1) }))

	built := 0.0
	for _, v := range res.CapacityDecision.Transmission {
		built += v
	}
	for _, v := range res.CapacityDecision.StoragePower {
		built += v
	}
	assert.Greater(t, built, 0.0)
	assert.InDelta(t, 1.0, res.Reliability.N1Compliance, 1e-12)
	assert.Equal(t, 4*3, res.Reliability.ScreenedCases)
	assert.Zero(t, res.Reliability.ViolatingCases)
	assert.Empty(t, res.Reliability.IslandingOutages)
	assert.Greater(t, res.Reliability.ActiveContingencies, 0)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.CycleBasis)
	assert.NotEmpty(t, res.Trace)
	assert.InDelta(t, res.InvestmentCost+res.OperatingCost, res.TotalCost, 1e-6)
	assert.LessOrEqual(t, res.LowerBound, res.TotalCost+1e-6)
	assertMonotoneWithinEpoch(t, res.Trace)
	assert.Equal(t, len(res.Trace), int(calls.Load()))

	assert.Equal(t, float64(len(res.Trace)), counter(t, reg, "gridplan_master_iterations_total"))
	assert.Greater(t, counter(t, reg, "gridplan_subproblem_solves_total"), float64(len(res.Trace)))
}

func TestOptimize_NoContingenciesIsPlainEconomicDispatch(t *testing.T) {
	cfg := smallConfig()
	cfg.ContingencyLevel = "none"
	// 90 MW fits the existing lines: nothing is worth building.
	sc := grid.Flat("light", cfg.TimePeriods, 365, map[string]float64{"n3": 90})
	res, _ := optimize(t, grid.Triangle(), []grid.Scenario{sc}, cfg)

	assert.True(t, res.Converged)
	assert.InDelta(t, 0, res.InvestmentCost, 1e-6)
	assert.InDelta(t, 0, res.Reliability.ShedEnergy, 1e-6)
	assert.InDelta(t, 365*4*90*20.0, res.OperatingCost, 1e-3)
	assert.InDelta(t, 365*4*90*0.4, res.Reliability.Emissions, 1e-3)
	assert.Zero(t, res.Reliability.ScreenedCases)
	assert.Equal(t, 1.0, res.Reliability.N1Compliance)
}

func TestOptimize_Idempotent(t *testing.T) {
	cfg := smallConfig()
	cfg.ContingencyLevel = "none"
	scenarios := []grid.Scenario{
		grid.Flat("peak", cfg.TimePeriods, 100, map[string]float64{"n3": 180}),
		grid.Flat("base", cfg.TimePeriods, 265, map[string]float64{"n3": 60, "n2": 40}),
	}
	first, _ := optimize(t, grid.Triangle(), scenarios, cfg)
	second, _ := optimize(t, grid.Triangle(), scenarios, cfg)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.InDelta(t, first.TotalCost, second.TotalCost, 1e-9)
	assert.Equal(t, len(first.Trace), len(second.Trace))
	for id, v := range first.CapacityDecision.Transmission {
		assert.InDelta(t, v, second.CapacityDecision.Transmission[id], 1e-9, id)
	}
}

func TestOptimize_ConcurrentRuns(t *testing.T) {
	cfg := smallConfig()
	cfg.ContingencyLevel = "none"
	sc := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 365, map[string]float64{"n3": 170})}

	var wg sync.WaitGroup
	results := make([]*planner.Result, 3)
	errs := make([]error, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = planner.Optimize(context.Background(), grid.Triangle(), sc, cfg,
				planner.WithRegisterer(prometheus.NewRegistry()), planner.WithLogger(quiet))
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.InDelta(t, results[0].TotalCost, results[i].TotalCost, 1e-9)
	}
}

func TestOptimize_InputErrors(t *testing.T) {
	cfg := smallConfig()
	ok := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 1, map[string]float64{"n3": 50})}
	ctx := context.Background()
	run := func(net *grid.Network, scenarios []grid.Scenario, c config.Config) error {
		_, err := planner.Optimize(ctx, net, scenarios, c,
			planner.WithRegisterer(prometheus.NewRegistry()), planner.WithLogger(quiet))
		return err
	}

	bad := cfg
	bad.MaxIterations = 0
	assert.ErrorIs(t, run(grid.Triangle(), ok, bad), config.ErrInvalidConfig)

	assert.ErrorIs(t, run(grid.Triangle(), nil, cfg), planner.ErrInput)
	assert.ErrorIs(t, run(nil, ok, cfg), planner.ErrInput)
	assert.ErrorIs(t, run(grid.Triangle(), []grid.Scenario{ok[0], ok[0]}, cfg), planner.ErrInput)

	zero := ok[0]
	zero.Weight = 0
	assert.ErrorIs(t, run(grid.Triangle(), []grid.Scenario{zero}, cfg), planner.ErrInput)

	short := []grid.Scenario{grid.Flat("short", 2, 1, map[string]float64{"n3": 50})}
	assert.ErrorIs(t, run(grid.Triangle(), short, cfg), grid.ErrInvalidScenario)

	split := grid.Triangle()
	split.Interconnections = 2
	assert.ErrorIs(t, run(split, ok, cfg), grid.ErrInvalidTopology)
}

// stubDispatch answers dispatch LPs with a fixed status and forwards every
// other problem to the simplex backend.
type stubDispatch struct {
	status solver.Status
	calls  *atomic.Int32
	inner  *simplex.Backend
}

func (s stubDispatch) Optimize(ctx context.Context, p *solver.Problem, opts solver.Options) (*solver.Solution, error) {
	if strings.HasPrefix(p.Name, "dispatch/") && opts.WantDuals {
		s.calls.Add(1)
		return &solver.Solution{Status: s.status}, nil
	}
	return s.inner.Optimize(ctx, p, opts)
}

func (s stubDispatch) Close() error { return s.inner.Close() }

func stubFactory(status solver.Status, calls *atomic.Int32) solver.Factory {
	return func() (solver.Backend, error) {
		return stubDispatch{status: status, calls: calls, inner: simplex.New()}, nil
	}
}

func TestOptimize_FatalSubproblemOutcomes(t *testing.T) {
	cfg := smallConfig()
	sc := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 1, map[string]float64{"n3": 50})}
	ctx := context.Background()

	var calls atomic.Int32
	res, err := planner.Optimize(ctx, grid.Triangle(), sc, cfg, planner.WithLogger(quiet),
		planner.WithRegisterer(prometheus.NewRegistry()), planner.WithSolver(stubFactory(solver.StatusTimedOut, &calls)))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, solver.ErrSolver)
	var se *solver.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, solver.StatusTimedOut, se.Status)
	assert.Equal(t, int32(2), calls.Load(), "one retry with a relaxed limit")

	calls.Store(0)
	res, err = planner.Optimize(ctx, grid.Triangle(), sc, cfg, planner.WithLogger(quiet),
		planner.WithRegisterer(prometheus.NewRegistry()), planner.WithSolver(stubFactory(solver.StatusInfeasible, &calls)))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, dispatch.ErrInfeasible)
	var ie *dispatch.InfeasibleError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "peak", ie.Scenario)
	assert.Equal(t, -1, ie.Hour)
	assert.Equal(t, int32(1), calls.Load(), "infeasibility is not retried")
}

// flakyDispatch fails the first failures dispatch LPs with a backend error
// and forwards everything else to the simplex backend. A negative budget
// fails every dispatch LP.
type flakyDispatch struct {
	failures int32
	calls    *atomic.Int32
	inner    *simplex.Backend
}

func (s flakyDispatch) Optimize(ctx context.Context, p *solver.Problem, opts solver.Options) (*solver.Solution, error) {
	if strings.HasPrefix(p.Name, "dispatch/") && opts.WantDuals {
		if n := s.calls.Add(1); s.failures < 0 || n <= s.failures {
			return nil, &solver.Error{Op: "optimize", Err: errors.New("worker lost")}
		}
	}
	return s.inner.Optimize(ctx, p, opts)
}

func (s flakyDispatch) Close() error { return s.inner.Close() }

func TestOptimize_BackendFailureIsRetriedOnce(t *testing.T) {
	cfg := smallConfig()
	sc := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 1, map[string]float64{"n3": 50})}

	var calls atomic.Int32
	flaky := func(failures int32) solver.Factory {
		return func() (solver.Backend, error) {
			return flakyDispatch{failures: failures, calls: &calls, inner: simplex.New()}, nil
		}
	}

	res, reg := optimize(t, grid.Triangle(), sc, cfg, planner.WithSolver(flaky(1)))
	assert.True(t, res.Converged)
	assert.Greater(t, calls.Load(), int32(1))
	families, err := reg.Gather()
	require.NoError(t, err)
	errored := 0.0
	for _, mf := range families {
		if mf.GetName() != "gridplan_subproblem_solves_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "error" {
					errored += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, errored)

	calls.Store(0)
	res, err = planner.Optimize(context.Background(), grid.Triangle(), sc, cfg, planner.WithLogger(quiet),
		planner.WithRegisterer(prometheus.NewRegistry()), planner.WithSolver(flaky(-1)))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, solver.ErrSolver)
	assert.Equal(t, int32(2), calls.Load(), "one retry, then fatal")
}

func TestOptimize_ZeroRestartsFreezesReactance(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxCorrectionRestarts = 0
	sc := grid.Flat("peak", cfg.TimePeriods, 365, map[string]float64{"n3": 150})
	res, reg := optimize(t, grid.Triangle(), []grid.Scenario{sc}, cfg)

	assert.Equal(t, 1, res.Epochs)
	codes := make([]planner.WarningCode, len(res.Warnings))
	for i, w := range res.Warnings {
		codes[i] = w.Code
	}
	assert.Contains(t, codes, planner.WarnCorrectionBudget)
	assert.Zero(t, counter(t, reg, "gridplan_correction_passes_total"))
}

func TestOptimize_NonConvergenceIsAWarning(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxIterations = 2
	cfg.EpsilonGap = 1e-9
	sc := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 365, map[string]float64{"n3": 150})}
	res, _ := optimize(t, grid.Triangle(), sc, cfg)

	assert.False(t, res.Converged)
	require.NotEmpty(t, res.Warnings)
	codes := make([]planner.WarningCode, len(res.Warnings))
	for i, w := range res.Warnings {
		codes[i] = w.Code
	}
	assert.Contains(t, codes, planner.WarnBundleNonConvergent)
	assert.Len(t, res.Trace, 2)
}

func TestOptimize_CancelledContext(t *testing.T) {
	cfg := smallConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := []grid.Scenario{grid.Flat("peak", cfg.TimePeriods, 1, map[string]float64{"n3": 50})}
	_, err := planner.Optimize(ctx, grid.Triangle(), sc, cfg,
		planner.WithRegisterer(prometheus.NewRegistry()), planner.WithLogger(quiet))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewMetrics_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := planner.NewMetrics(reg)
	require.NoError(t, err)
	b, err := planner.NewMetrics(reg)
	require.NoError(t, err)
	a.Iterations.Inc()
	b.Iterations.Inc()
	assert.Equal(t, 2.0, counter(t, reg, "gridplan_master_iterations_total"))
}
