// SPDX-License-Identifier: MIT
package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

const tol = 1e-5

// fixture wires the triangle network into a subproblem input with x = 0.
type fixture struct {
	net   *grid.Network
	topo  *grid.Topology
	basis *cyclebasis.Basis
	in    *dispatch.Input
}

func newFixture(t *testing.T, net *grid.Network, sc grid.Scenario, lp grid.LayoutParams) *fixture {
	t.Helper()
	topo, err := grid.BuildTopology(net)
	require.NoError(t, err)
	basis, err := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	require.NoError(t, err)
	layout := grid.NewLayout(net, lp)
	hours := len(sc.Load[firstKey(sc.Load)])
	return &fixture{
		net: net, topo: topo, basis: basis,
		in: &dispatch.Input{
			Network:   net,
			Topology:  topo,
			Cycles:    basis.Cycles,
			Reactance: append([]float64(nil), topo.Reactance...),
			Layout:    layout,
			Decision:  make([]float64, layout.Dim()),
			Scenario:  &sc,
			Hours:     hours,
			Params:    dispatch.Params{ValueOfLostLoad: 1000, EmergencyFactor: 1},
		},
	}
}

func firstKey(m map[string][]float64) string {
	for k := range m {
		return k
	}
	return ""
}

func (f *fixture) index(t *testing.T, kind grid.DecisionKind, id string) int {
	t.Helper()
	i, ok := f.in.Layout.Index(kind, id)
	require.True(t, ok, "%s %s", kind, id)
	return i
}

func (f *fixture) branch(t *testing.T, id string) int {
	t.Helper()
	b, ok := f.topo.BranchIndex(id)
	require.True(t, ok, id)
	return b
}

func solve(t *testing.T, in *dispatch.Input) dispatch.Outcome {
	t.Helper()
	out, err := dispatch.Solve(context.Background(), simplex.New(), in, solver.Options{})
	require.NoError(t, err)
	require.Equal(t, dispatch.StatusOK, out.Status, "err: %v", out.Err)
	return out
}

// TestSolve_TriangleCongestion: 180 MW at n3 over equal lines puts two thirds
// on l13, so only 150 MW is deliverable before l13 reaches 100 MW.
func TestSolve_TriangleCongestion(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("peak", 1, 1, map[string]float64{"n3": 180}), grid.LayoutParams{DiscountRate: 0.07})
	out := solve(t, f.in)

	assert.InDelta(t, 30, out.Shed, tol)
	assert.InDelta(t, 100*20+50*30+30*1000.0, out.Cost, tol)
	assert.InDelta(t, 100, out.Flows[0][f.branch(t, "l13")], tol)
	assert.InDelta(t, 50, out.Flows[0][f.branch(t, "l12")], tol)
	assert.InDelta(t, 50, out.Flows[0][f.branch(t, "l23")], tol)
	assert.InDelta(t, 60, out.Emissions, tol)

	// each extra MW on l13 delivers 1.5 MW more: 1.5·(1000 − 30)
	t13 := f.index(t, grid.KindTransmission, "t13")
	assert.InDelta(t, -1455, out.Subgradient[t13], tol)
	assert.InDelta(t, 0, out.Subgradient[f.index(t, grid.KindTransmission, "t12")], tol)

	n1, _ := f.topo.NodeIndex("n1")
	n3, _ := f.topo.NodeIndex("n3")
	assert.InDelta(t, 30, out.Prices[0][n1], tol)
	assert.InDelta(t, 1000, out.Prices[0][n3], tol)
}

func TestSolve_SubgradientMatchesFiniteDifference(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("peak", 1, 1, map[string]float64{"n3": 180}), grid.LayoutParams{DiscountRate: 0.07})
	base := solve(t, f.in)

	t13 := f.index(t, grid.KindTransmission, "t13")
	f.in.Decision[t13] = 1
	moved := solve(t, f.in)
	assert.InDelta(t, base.Subgradient[t13], moved.Cost-base.Cost, tol)

	f.in.Decision[t13] = 50
	relieved := solve(t, f.in)
	assert.InDelta(t, 0, relieved.Shed, tol)
	assert.InDelta(t, 100*20+80*30.0, relieved.Cost, tol)
	assert.InDelta(t, 0, relieved.Subgradient[t13], tol)
	for _, p := range relieved.Prices[0] {
		assert.InDelta(t, 30, p, tol)
	}
}

// TestSolve_ContingencyRow: losing l13 puts the whole transfer on l12, so the
// post-outage row caps delivery at the l12 rating. With 10 MW added to l12 the
// cap sits inside the 30 $/MWh block, away from the kink at 100 MW.
func TestSolve_ContingencyRow(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("peak", 1, 1, map[string]float64{"n3": 120}), grid.LayoutParams{DiscountRate: 0.07})
	l12, l13 := f.branch(t, "l12"), f.branch(t, "l13")

	free := solve(t, f.in)
	assert.InDelta(t, 0, free.Shed, tol)
	assert.InDelta(t, 80, free.Flows[0][l13], tol)

	factors, err := contingency.NewFactors(f.topo, f.basis.D, f.topo.Reactance)
	require.NoError(t, err)
	beta, err := factors.Distribution(contingency.Outage{l13}, l12)
	require.NoError(t, err)
	f.in.Active = []dispatch.Contingency{{Hour: 0, Outage: contingency.Outage{l13}, Branch: l12, Beta: beta}}

	capped := solve(t, f.in)
	assert.InDelta(t, 20, capped.Shed, tol)
	assert.Greater(t, capped.Rows, free.Rows)
	// at exactly 100 MW delivered any value in [−980, −970] is a subgradient
	t12 := f.index(t, grid.KindTransmission, "t12")
	assert.GreaterOrEqual(t, capped.Subgradient[t12], -980-tol)
	assert.LessOrEqual(t, capped.Subgradient[t12], -970+tol)

	f.in.Decision[t12] = 10
	secure := solve(t, f.in)
	assert.InDelta(t, 10, secure.Shed, tol)
	assert.InDelta(t, 100*20+10*30+10*1000.0, secure.Cost, tol)
	post := secure.Flows[0][l12] + beta[0]*secure.Flows[0][l13]
	assert.InDelta(t, 110, post, tol)
	// one more MW of l12 rating serves one more MW at 30 $/MWh instead of shedding it
	assert.InDelta(t, -(1000 - 30.0), secure.Subgradient[t12], tol)
	assert.InDelta(t, 0, secure.Subgradient[f.index(t, grid.KindTransmission, "t23")], tol)
}

// TestSolve_StorageShiftsEnergy: cheap energy in hour 0 is stored and
// displaces the 30 $/MWh block in hour 1, net 0.85·30 − 20 per MW charged.
func TestSolve_StorageShiftsEnergy(t *testing.T) {
	sc := grid.Scenario{Name: "swing", Weight: 1, Load: map[string][]float64{"n3": {50, 150}}}
	f := newFixture(t, grid.Triangle(), sc, grid.LayoutParams{DiscountRate: 0.07})

	none := solve(t, f.in)
	assert.InDelta(t, 50*20+100*20+50*30.0, none.Cost, tol)

	power := f.index(t, grid.KindStoragePower, "s3")
	f.in.Decision[power] = 40
	f.in.Decision[f.index(t, grid.KindStorageEnergy, "s3")] = 100
	out := solve(t, f.in)
	assert.InDelta(t, none.Cost-40*5.5, out.Cost, tol)
	assert.InDelta(t, -5.5, out.Subgradient[power], tol)
}

func TestSolve_CarbonCapAndAllowances(t *testing.T) {
	lp := grid.LayoutParams{DiscountRate: 0.07, AllowancePrice: 5, MaxAllowance: 1000}
	f := newFixture(t, grid.Triangle(), grid.Flat("local", 1, 1, map[string]float64{"n1": 100}), lp)
	f.in.Params.CarbonCap = 30
	f.in.Params.CarbonPenalty = 100
	f.in.Params.AllowanceShare = 1

	out := solve(t, f.in)
	assert.InDelta(t, 40, out.Emissions, tol)
	assert.InDelta(t, 10, out.Overrun, tol)
	assert.InDelta(t, 2000+10*100.0, out.Cost, tol)

	a := f.index(t, grid.KindAllowance, grid.AllowanceID)
	assert.InDelta(t, -100, out.Subgradient[a], tol)
	f.in.Decision[a] = 5
	bought := solve(t, f.in)
	assert.InDelta(t, 5, bought.Overrun, tol)
	assert.InDelta(t, 2500, bought.Cost, tol)
}

func TestSolve_ReserveShortfall(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("local", 1, 1, map[string]float64{"n1": 190}), grid.LayoutParams{DiscountRate: 0.07})
	f.in.Params.ReserveMargin = 0.1
	f.in.Params.ReservePenalty = 50

	out := solve(t, f.in)
	assert.InDelta(t, 9, out.Shortfall, tol)
	assert.InDelta(t, 100*20+90*30+9*50.0, out.Cost, tol)
}

func TestSolve_InfeasibleIsLocated(t *testing.T) {
	net := grid.Triangle()
	// the opening level cannot fit the reservoir
	net.Storage = []grid.StorageUnit{{ID: "b3", Node: "n3", Power: 1, Energy: 10, Efficiency: 0.81, InitialSOC: 2}}
	f := newFixture(t, net, grid.Flat("broken", 3, 1, map[string]float64{"n3": 50}), grid.LayoutParams{})

	out, err := dispatch.Solve(context.Background(), simplex.New(), f.in, solver.Options{})
	require.NoError(t, err)
	require.Equal(t, dispatch.StatusInfeasible, out.Status)
	assert.ErrorIs(t, out.Err, dispatch.ErrInfeasible)
	var ie *dispatch.InfeasibleError
	require.True(t, errors.As(out.Err, &ie))
	assert.Equal(t, "broken", ie.Scenario)
	assert.Equal(t, 0, ie.Hour)
}

type stubBackend struct{ status solver.Status }

func (s stubBackend) Optimize(context.Context, *solver.Problem, solver.Options) (*solver.Solution, error) {
	return &solver.Solution{Status: s.status}, nil
}

func (stubBackend) Close() error { return nil }

func TestSolve_TaggedOutcomes(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("peak", 2, 1, map[string]float64{"n3": 100}), grid.LayoutParams{})

	out, err := dispatch.Solve(context.Background(), stubBackend{solver.StatusTimedOut}, f.in, solver.Options{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusTimedOut, out.Status)
	assert.Nil(t, out.Subgradient)
	assert.Equal(t, "timed_out", out.Status.String())

	_, err = dispatch.Solve(context.Background(), stubBackend{solver.StatusUnbounded}, f.in, solver.Options{})
	assert.ErrorIs(t, err, solver.ErrSolver)
}

func TestBuild_InputErrors(t *testing.T) {
	f := newFixture(t, grid.Triangle(), grid.Flat("peak", 2, 1, map[string]float64{"n3": 100}), grid.LayoutParams{DiscountRate: 0.07})

	bad := *f.in
	bad.Decision = []float64{1}
	_, err := dispatch.Build(&bad)
	assert.ErrorIs(t, err, dispatch.ErrInput)

	bad = *f.in
	bad.Hours = 0
	_, err = dispatch.Build(&bad)
	assert.ErrorIs(t, err, dispatch.ErrInput)

	bad = *f.in
	bad.Active = []dispatch.Contingency{{Hour: 5, Outage: contingency.Outage{0}, Branch: 1, Beta: []float64{1}}}
	_, err = dispatch.Build(&bad)
	assert.ErrorIs(t, err, dispatch.ErrInput)

	bad = *f.in
	bad.Reactance = bad.Reactance[:1]
	_, err = dispatch.Build(&bad)
	assert.ErrorIs(t, err, dispatch.ErrInput)

	m, err := dispatch.Build(f.in)
	require.NoError(t, err)
	require.NoError(t, m.Problem.Validate())
}
