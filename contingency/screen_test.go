// SPDX-License-Identifier: MIT
package contingency_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/grid"
)

const tol = 1e-6

// fourNode is the screening reference: a square 0-1-2-3 with diagonal 0-2,
// unit reactances, and b0 rated 40 MW so that only the loss of the diagonal
// overloads it.
func fourNode() *grid.Network {
	br := func(id, from, to string, limit float64) grid.Branch {
		return grid.Branch{ID: id, From: from, To: to, Reactance: 1, Limit: limit}
	}
	return &grid.Network{
		Name:  "four-node",
		Nodes: []grid.Node{{ID: "0"}, {ID: "1"}, {ID: "2"}, {ID: "3"}},
		Branches: []grid.Branch{
			br("b0", "0", "1", 40), br("b1", "1", "2", 60), br("b2", "2", "3", 60),
			br("b3", "3", "0", 60), br("b4", "0", "2", 70),
		},
	}
}

// bruteForce re-solves the DC power flow with the given branches removed,
// using voltage angles and the reduced Laplacian. Node 0 is the reference.
func bruteForce(t *testing.T, net *grid.Network, removed map[int]bool, p []float64) []float64 {
	t.Helper()
	idx := make(map[string]int)
	for i, n := range net.Nodes {
		idx[n.ID] = i
	}
	nn := len(net.Nodes)
	L := mat.NewDense(nn-1, nn-1, nil)
	add := func(i, j int, v float64) {
		if i > 0 && j > 0 {
			L.Set(i-1, j-1, L.At(i-1, j-1)+v)
		}
	}
	for b, br := range net.Branches {
		if removed[b] || br.HVDC {
			continue
		}
		u, v, y := idx[br.From], idx[br.To], 1/br.Reactance
		add(u, u, y)
		add(v, v, y)
		add(u, v, -y)
		add(v, u, -y)
	}
	rhs := mat.NewVecDense(nn-1, append([]float64(nil), p[1:]...))
	var theta mat.VecDense
	require.NoError(t, theta.SolveVec(L, rhs))
	angle := func(n int) float64 {
		if n == 0 {
			return 0
		}
		return theta.AtVec(n - 1)
	}
	flows := make([]float64, len(net.Branches))
	for b, br := range net.Branches {
		if removed[b] || br.HVDC {
			continue
		}
		flows[b] = (angle(idx[br.From]) - angle(idx[br.To])) / br.Reactance
	}
	return flows
}

func newFactors(t *testing.T, net *grid.Network) *contingency.Factors {
	t.Helper()
	topo, err := grid.BuildTopology(net)
	require.NoError(t, err)
	basis, err := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	require.NoError(t, err)
	f, err := contingency.NewFactors(topo, basis.D, topo.Reactance)
	require.NoError(t, err)
	return f
}

func TestFactors_BaseFlowsMatchAngles(t *testing.T) {
	net := fourNode()
	f := newFactors(t, net)
	p := []float64{100, 0, -100, 0}

	flows, err := f.Flows(p)
	require.NoError(t, err)
	want := []float64{25, 25, -25, -25, 50}
	for b := range want {
		assert.InDelta(t, want[b], flows[b], tol, "branch %d", b)
	}
	bf := bruteForce(t, net, nil, p)
	assert.InDeltaSlice(t, bf, flows, tol)
}

func TestScreen_FourNodeKnownViolation(t *testing.T) {
	net := fourNode()
	f := newFactors(t, net)
	p := []float64{100, 0, -100, 0}
	flows, err := f.Flows(p)
	require.NoError(t, err)
	limits := []float64{40, 60, 60, 60, 70}

	rep, err := contingency.Screen(f, [][]float64{flows}, limits,
		contingency.ScreenOptions{Level: contingency.LevelN1, Epsilon: 1e-3})
	require.NoError(t, err)

	require.Len(t, rep.Violations, 1)
	v := rep.Violations[0]
	assert.Equal(t, contingency.Outage{4}, v.Outage)
	assert.Equal(t, 0, v.Branch)
	assert.Equal(t, 0, v.Hour)

	post := bruteForce(t, net, map[int]bool{4: true}, p)
	assert.InDelta(t, post[0], v.Flow, tol)
	assert.InDelta(t, 50, v.Flow, tol)
	assert.InDelta(t, 10, v.Excess, tol)
	assert.InDelta(t, 10, rep.Worst, tol)
	assert.Equal(t, 5, rep.Cases)
	assert.Equal(t, 1, rep.ViolatingCases)
	assert.InDelta(t, 0.8, rep.Compliance(), 1e-12)
	assert.Empty(t, rep.Islanding)
}

func TestFactors_SingleOutagesMatchResolve(t *testing.T) {
	net := fourNode()
	f := newFactors(t, net)
	p := []float64{70, -20, -80, 30}
	flows, err := f.Flows(p)
	require.NoError(t, err)

	for k := range net.Branches {
		post := bruteForce(t, net, map[int]bool{k: true}, p)
		for l := range net.Branches {
			if l == k {
				continue
			}
			got, err := f.PostOutage(contingency.Outage{k}, l, flows)
			require.NoError(t, err)
			assert.InDelta(t, post[l], got, tol, "outage %d branch %d", k, l)
		}
	}
}

func TestFactors_DoubleOutagesMatchResolve(t *testing.T) {
	net := fourNode()
	f := newFactors(t, net)
	p := []float64{100, 0, -100, 0}
	flows, err := f.Flows(p)
	require.NoError(t, err)

	islanding := 0
	for _, o := range f.Outages(contingency.LevelN11) {
		if len(o) != 2 {
			continue
		}
		_, err := f.Distribution(o, 0)
		if errors.Is(err, contingency.ErrIslanding) {
			islanding++
			continue
		}
		require.NoError(t, err)
		post := bruteForce(t, net, map[int]bool{o[0]: true, o[1]: true}, p)
		for l := range net.Branches {
			if l == o[0] || l == o[1] {
				continue
			}
			got, err := f.PostOutage(o, l, flows)
			require.NoError(t, err)
			assert.InDelta(t, post[l], got, tol, "outage %s branch %d", o.Key(), l)
		}
	}
	// losing both branches of node 1 (b0,b1) or node 3 (b2,b3) isolates it
	assert.Equal(t, 2, islanding)
}

func TestScreen_IslandingIsReported(t *testing.T) {
	net := grid.Triangle()
	net.Nodes = append(net.Nodes, grid.Node{ID: "n4"})
	net.Branches = append(net.Branches, grid.Branch{ID: "radial", From: "n3", To: "n4", Reactance: 0.1, Limit: 50})
	f := newFactors(t, net)
	flows, err := f.Flows([]float64{150, 0, -120, -30})
	require.NoError(t, err)
	limits := []float64{1000, 1000, 1000, 1000}

	rep, err := contingency.Screen(f, [][]float64{flows, flows}, limits,
		contingency.ScreenOptions{Level: contingency.LevelN1, Epsilon: 1e-3})
	require.NoError(t, err)
	assert.Equal(t, []contingency.Outage{{3}}, rep.Islanding)
	assert.Equal(t, 2*3, rep.Cases)
	assert.Empty(t, rep.Violations)
	assert.Equal(t, 1.0, rep.Compliance())

	_, err = f.LODF(0, 3)
	assert.ErrorIs(t, err, contingency.ErrIslanding)
}

func TestFactors_HVDCOutageShiftsInjection(t *testing.T) {
	net := grid.Triangle()
	net.Branches = append(net.Branches, grid.Branch{ID: "dc13", From: "n1", To: "n3", Limit: 80, HVDC: true})
	f := newFactors(t, net)

	// 150 MW from n1 to n3; the DC link carries 60 of it
	acInjection := []float64{90, 0, -90}
	ac, err := f.Flows(acInjection)
	require.NoError(t, err)
	require.Len(t, ac, 4)
	assert.Zero(t, ac[3], "HVDC row of PTDF is empty")
	flows := append([]float64(nil), ac...)
	flows[3] = 60

	after := bruteForce(t, net, map[int]bool{3: true}, []float64{150, 0, -150})
	for l := 0; l < 3; l++ {
		got, err := f.PostOutage(contingency.Outage{3}, l, flows)
		require.NoError(t, err)
		assert.InDelta(t, after[l], got, tol, "branch %d", l)
	}
}

func TestScreen_RankingAndTruncation(t *testing.T) {
	net := fourNode()
	f := newFactors(t, net)
	flows, err := f.Flows([]float64{100, 0, -100, 0})
	require.NoError(t, err)
	tight := []float64{10, 10, 10, 10, 10}

	rep, err := contingency.Screen(f, [][]float64{flows}, tight,
		contingency.ScreenOptions{Level: contingency.LevelN1, Epsilon: 1e-3, MaxViolations: 3})
	require.NoError(t, err)
	require.Len(t, rep.Violations, 3)
	for i := 1; i < len(rep.Violations); i++ {
		assert.GreaterOrEqual(t, rep.Violations[i-1].Excess, rep.Violations[i].Excess)
	}
	assert.Equal(t, 5, rep.ViolatingCases)
	assert.Zero(t, rep.Compliance())

	_, err = contingency.Screen(f, [][]float64{flows}, tight[:2], contingency.ScreenOptions{Level: contingency.LevelN1})
	assert.ErrorIs(t, err, contingency.ErrDimension)

	none, err := contingency.Screen(f, [][]float64{flows}, tight, contingency.ScreenOptions{Level: contingency.LevelNone})
	require.NoError(t, err)
	assert.Zero(t, none.Cases)
}

func TestLevel(t *testing.T) {
	for _, s := range []string{"none", "n-1", "n-1-1"} {
		l, err := contingency.ParseLevel(s)
		require.NoError(t, err)
		assert.Equal(t, s, l.String())
	}
	_, err := contingency.ParseLevel("n-2")
	assert.ErrorIs(t, err, contingency.ErrUnknownLevel)

	f := newFactors(t, fourNode())
	assert.Len(t, f.Outages(contingency.LevelN1), 5)
	assert.Len(t, f.Outages(contingency.LevelN11), 15)
	assert.Equal(t, "1+4", contingency.Outage{1, 4}.Key())
}
