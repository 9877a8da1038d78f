// SPDX-License-Identifier: MIT
// Package planner — the Optimize entry point.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/config"
	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/rtep"
	"github.com/katalvlaran/gridplan/solver"
)

const tracerName = "github.com/katalvlaran/gridplan/planner"

// Optimize plans capacity for net over the weighted scenarios under cfg.
//
// Stage 1 (Validate): configuration, assets, scenarios, topology.
// Stage 2 (Prepare): per-run backend, minimal cycle basis, sensitivity
// factors, decision layout, corridors.
// Stage 3 (Master): level bundle method over x. Each oracle call solves every
// scenario concurrently, screening contingencies and re-solving with the
// violated post-outage rows until secure. Every CorrectionInterval iterations
// and at convergence, transmission correction recomputes corridor reactances
// and restarts the bundle when they moved.
// Stage 4 (Report): one final secure evaluation at the incumbent, full
// screening for the compliance fraction, annualised totals.
//
// Invalid input, infeasible subproblems, and solver failures (after one retry
// with a relaxed time limit) are fatal and return a nil Result. Convergence
// shortfalls are attached to Result.Warnings.
//
// Errors: config.ErrInvalidConfig, grid.ErrInvalidAsset, grid.ErrInvalidScenario,
// grid.ErrInvalidTopology, cyclebasis.ErrBasisMismatch, dispatch.ErrInfeasible,
// solver.ErrSolver, ErrInput, context errors.
func Optimize(ctx context.Context, net *grid.Network, scenarios []grid.Scenario, cfg config.Config, opts ...Option) (*Result, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	runID := uuid.NewString()
	log := o.Logger.With("run_id", runID)
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "planner.Optimize",
		trace.WithAttributes(attribute.String("run_id", runID), attribute.Int("scenarios", len(scenarios))))
	defer span.End()
	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "optimize")
		log.Error("planning run failed", "err", err)
		return nil, err
	}

	// Stage 1: validate.
	if err := validate(net, scenarios, cfg); err != nil {
		return fail(err)
	}
	topo, err := grid.BuildTopology(net)
	if err != nil {
		return fail(fmt.Errorf("Optimize: %w", err))
	}

	// Stage 2: prepare.
	metrics, err := NewMetrics(o.Registerer)
	if err != nil {
		return fail(err)
	}
	backend, err := o.Factory()
	if err != nil {
		return fail(fmt.Errorf("Optimize: backend: %w", err))
	}
	defer backend.Close()

	r, err := newRun(ctx, net, scenarios, cfg, topo, backend, metrics, log)
	if err != nil {
		return fail(err)
	}
	log.Info("planning run started",
		"nodes", topo.NumNodes(), "branches", topo.NumBranches(),
		"cycles", r.basis.Size(), "decisions", r.layout.Dim(),
		"scenarios", len(scenarios), "level", r.level.String())

	// Stage 3: master.
	method := bundle.New(backend,
		bundle.WithLevel(cfg.LevelParameter),
		bundle.WithStabilization(cfg.Stabilize()),
		bundle.WithEpsilonGap(cfg.EpsilonGap),
		bundle.WithMaxIterations(cfg.MaxIterations),
		bundle.WithMaxCuts(cfg.MaxCutsPerScenario),
		bundle.WithWallClock(cfg.WallClockLimit),
		bundle.WithProgress(o.Progress),
		bundle.WithHook(r.hook),
		bundle.WithLogger(log),
	)
	problem := bundle.Problem{
		Costs:   r.layout.Costs(),
		Upper:   r.layout.Uppers(),
		Weights: r.weights,
		Budget:  cfg.BudgetLimit,
	}
	res, err := method.Run(ctx, problem, bundle.OracleFunc(r.oracle))
	if errors.Is(err, bundle.ErrNonConvergent) {
		r.warn(WarnBundleNonConvergent, err.Error())
	} else if err != nil {
		return fail(fmt.Errorf("Optimize: %w", err))
	}

	// Stage 4: report.
	out, err := r.report(ctx, res)
	if err != nil {
		return fail(err)
	}
	out.RunID = runID
	out.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Float64("total_cost", out.TotalCost), attribute.Float64("gap", out.Gap))
	log.Info("planning run finished",
		"total_cost", out.TotalCost, "gap", out.Gap, "iterations", len(out.Trace),
		"epochs", out.Epochs, "n_1_compliance", out.Reliability.N1Compliance,
		"warnings", len(out.Warnings), "elapsed", out.Elapsed)
	return out, nil
}

func validate(net *grid.Network, scenarios []grid.Scenario, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("Optimize: %w", err)
	}
	if net == nil {
		return fmt.Errorf("Optimize: nil network: %w", ErrInput)
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("Optimize: no scenarios: %w", ErrInput)
	}
	if err := net.ValidateAssets(); err != nil {
		return fmt.Errorf("Optimize: %w", err)
	}
	total := 0.0
	seen := make(map[string]struct{}, len(scenarios))
	for i := range scenarios {
		s := &scenarios[i]
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("Optimize: duplicate scenario %q: %w", s.Name, ErrInput)
		}
		seen[s.Name] = struct{}{}
		if err := s.Validate(net, cfg.TimePeriods); err != nil {
			return fmt.Errorf("Optimize: %w", err)
		}
		total += s.Weight
	}
	if total <= 0 {
		return fmt.Errorf("Optimize: scenario weights sum to %g: %w", total, ErrInput)
	}
	return nil
}

// run is the mutable state of one Optimize call. Fields written by the hook
// are only touched at the bundle barrier; active[w] and keys[w] are owned by
// the goroutine solving scenario w.
type run struct {
	net       *grid.Network
	scenarios []grid.Scenario
	weights   []float64
	cfg       config.Config
	level     contingency.Level
	params    dispatch.Params

	topo      *grid.Topology
	basis     *cyclebasis.Basis
	layout    *grid.Layout
	factors   *contingency.Factors
	reactance []float64
	corridors []rtep.Corridor
	capacity  [][2]int // (branch, decision index) of transmission entries

	backend solver.Backend
	metrics *Metrics
	tracer  trace.Tracer
	log     *slog.Logger

	active [][]dispatch.Contingency
	keys   []map[string]struct{}

	mu       sync.Mutex
	warnings []Warning
	warned   map[WarningCode]bool

	choices  []rtep.Choice
	restarts int
}

func newRun(ctx context.Context, net *grid.Network, scenarios []grid.Scenario, cfg config.Config,
	topo *grid.Topology, backend solver.Backend, metrics *Metrics, log *slog.Logger) (*run, error) {
	r := &run{
		net: net, scenarios: scenarios, cfg: cfg, level: cfg.Level(),
		topo: topo, backend: backend, metrics: metrics, log: log,
		tracer:    otel.Tracer(tracerName),
		reactance: append([]float64(nil), topo.Reactance...),
		active:    make([][]dispatch.Contingency, len(scenarios)),
		keys:      make([]map[string]struct{}, len(scenarios)),
		warned:    make(map[WarningCode]bool),
	}
	for w := range r.keys {
		r.keys[w] = make(map[string]struct{})
	}

	basis, err := cyclebasis.Minimize(ctx, topo, backend,
		cyclebasis.WithTieBreak(cfg.TieBreak()),
		cyclebasis.WithParallelism(r.parallelism()),
		cyclebasis.WithTimeLimit(cfg.SubproblemTimeLimit),
		cyclebasis.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("Optimize: %w", err)
	}
	r.basis = basis
	if basis.Fallbacks > 0 {
		r.warn(WarnCycleFallback, fmt.Sprintf("%d of %d cycle programs timed out", basis.Fallbacks, basis.Size()))
	}
	if r.factors, err = contingency.NewFactors(topo, basis.D, r.reactance); err != nil {
		return nil, fmt.Errorf("Optimize: %w", err)
	}

	total := 0.0
	r.weights = make([]float64, len(scenarios))
	for w, s := range scenarios {
		r.weights[w] = s.Weight
		total += s.Weight
	}
	r.params = dispatch.Params{
		ValueOfLostLoad:  cfg.ValueOfLostLoad,
		ReserveMargin:    cfg.ReserveMargin,
		ReservePenalty:   cfg.ReserveShortfallPenalty,
		CarbonPenalty:    cfg.CarbonPenalty,
		EmergencyFactor:  cfg.EmergencyRatingFactor,
		StorageCycleCost: cfg.StorageCycleCost,
	}
	if cfg.CarbonTarget > 0 {
		r.params.CarbonCap = cfg.CarbonTarget / total
		r.params.AllowanceShare = 1 / total
	}

	r.layout = grid.NewLayout(net, grid.LayoutParams{
		DiscountRate:   cfg.DiscountRate,
		AllowancePrice: cfg.AllowancePrice,
		MaxAllowance:   cfg.MaxAllowance,
	})
	for i, e := range r.layout.Entries {
		if e.Kind != grid.KindTransmission {
			continue
		}
		if b, ok := topo.BranchIndex(e.Branch); ok {
			r.capacity = append(r.capacity, [2]int{b, i})
		}
	}
	r.corridors = rtep.Corridors(net, topo, cfg.DiscountRate)
	return r, nil
}

func (r *run) parallelism() int {
	if r.cfg.Parallelism > 0 {
		return r.cfg.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

// warn records a warning once per code.
func (r *run) warn(code WarningCode, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.warned[code] {
		return
	}
	r.warned[code] = true
	r.warnings = append(r.warnings, Warning{Code: code, Message: msg})
	r.log.Warn("planning warning", "code", string(code), "message", msg)
}

// limits returns the post-outage rating of every branch at x.
func (r *run) limits(x []float64) []float64 {
	lim := make([]float64, r.topo.NumBranches())
	copy(lim, r.topo.Limit)
	for _, c := range r.capacity {
		lim[c[0]] += x[c[1]]
	}
	for b := range lim {
		lim[b] *= r.cfg.EmergencyRatingFactor
	}
	return lim
}

func (r *run) activeCount() int {
	n := 0
	for _, a := range r.active {
		n += len(a)
	}
	return n
}

// report evaluates the incumbent once more and assembles the Result.
func (r *run) report(ctx context.Context, res *bundle.Result) (*Result, error) {
	x := res.X
	outs, err := r.evaluate(ctx, x)
	if err != nil {
		return nil, err
	}

	out := &Result{
		LowerBound: res.Lower, Gap: res.Gap, Converged: res.Converged,
		CycleBasis: r.basis.Size(), Epochs: res.Epochs, Trace: res.Trace,
	}
	out.InvestmentCost = r.layout.InvestmentCost(x)
	for w, o := range outs {
		wt := r.weights[w]
		out.OperatingCost += wt * o.Cost
		out.Reliability.ShedEnergy += wt * o.Shed
		out.Reliability.ReserveShortfall += wt * o.Shortfall
		out.Reliability.Emissions += wt * o.Emissions
	}
	out.TotalCost = out.InvestmentCost + out.OperatingCost
	// The final evaluation may carry rows the bound was computed without.
	out.LowerBound = math.Min(out.LowerBound, out.TotalCost)

	if out.CapacityDecision, err = r.layout.Decode(x); err != nil {
		return nil, fmt.Errorf("Optimize: %w", err)
	}
	for _, c := range r.corridors {
		if r.reactance[c.Branch] != r.topo.Reactance[c.Branch] {
			if out.CapacityDecision.Reactance == nil {
				out.CapacityDecision.Reactance = make(map[string]float64)
			}
			out.CapacityDecision.Reactance[c.BranchID] = r.reactance[c.Branch]
		}
	}

	rel := &out.Reliability
	rel.N1Compliance = 1
	rel.ActiveContingencies = r.activeCount()
	rel.Transmission = r.choices
	if r.level != contingency.LevelNone {
		limits := r.limits(x)
		for w, o := range outs {
			rep, err := contingency.Screen(r.factors, o.Flows, limits, contingency.ScreenOptions{
				Level: r.level, Epsilon: r.cfg.EpsilonContingency, MaxViolations: 1,
			})
			if err != nil {
				return nil, fmt.Errorf("Optimize: screening %q: %w", r.scenarios[w].Name, err)
			}
			rel.ScreenedCases += rep.Cases
			rel.ViolatingCases += rep.ViolatingCases
			if w == 0 {
				rel.IslandingOutages = r.outageNames(rep.Islanding)
			}
		}
		if rel.ScreenedCases > 0 {
			rel.N1Compliance = 1 - float64(rel.ViolatingCases)/float64(rel.ScreenedCases)
		}
	}
	r.metrics.Active.Set(float64(rel.ActiveContingencies))

	r.mu.Lock()
	out.Warnings = append([]Warning(nil), r.warnings...)
	r.mu.Unlock()
	return out, nil
}

func (r *run) outageNames(outages []contingency.Outage) []string {
	names := make([]string, 0, len(outages))
	for _, o := range outages {
		ids := make([]string, len(o))
		for j, b := range o {
			ids[j] = r.topo.BranchIDs[b]
		}
		names = append(names, strings.Join(ids, "+"))
	}
	sort.Strings(names)
	return names
}
