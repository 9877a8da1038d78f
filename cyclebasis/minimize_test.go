// SPDX-License-Identifier: MIT
package cyclebasis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

// ladder is a 2×3 ladder whose two right rungs are heavier, so the spanning
// tree is a "U" and the fundamental cycle of the last rung walks the long way.
//
//	a0 ─0─ a1 ─1─ a2
//	│4     │5     │6
//	b0 ─2─ b1 ─3─ b2
func ladder() *grid.Network {
	br := func(id, from, to string, x float64) grid.Branch {
		return grid.Branch{ID: id, From: from, To: to, Reactance: x, Limit: 100}
	}
	return &grid.Network{
		Name:  "ladder",
		Nodes: []grid.Node{{ID: "a0"}, {ID: "a1"}, {ID: "a2"}, {ID: "b0"}, {ID: "b1"}, {ID: "b2"}},
		Branches: []grid.Branch{
			br("t01", "a0", "a1", 0.1), br("t12", "a1", "a2", 0.1),
			br("u01", "b0", "b1", 0.1), br("u12", "b1", "b2", 0.1),
			br("r0", "a0", "b0", 0.1), br("r1", "a1", "b1", 0.2), br("r2", "a2", "b2", 0.2),
		},
	}
}

func TestMinimize_ShortensLadderCycle(t *testing.T) {
	topo, err := grid.BuildTopology(ladder())
	require.NoError(t, err)
	require.Equal(t, []int{5, 6}, topo.NonTree)
	require.Equal(t, 6, topo.FundamentalCycles()[1].Len())

	basis, err := cyclebasis.Minimize(context.Background(), topo, simplex.New())
	require.NoError(t, err)
	require.Equal(t, 2, basis.Size())

	assert.Equal(t, grid.Cycle{{Branch: 6, Sign: 1}, {Branch: 3, Sign: -1}, {Branch: 5, Sign: -1}, {Branch: 1, Sign: 1}}, basis.Cycles[1])
	assert.Equal(t, 1, basis.Improved)
	assert.Zero(t, basis.Fallbacks)
	assert.InDelta(t, 1.1, basis.Weight, 1e-9)
	assert.InDelta(t, 1.2, basis.FundamentalWeight, 1e-9)
	assert.Equal(t, 8, basis.Nonzeros())
	require.NoError(t, cyclebasis.Validate(topo, basis.D))
}

// tieNetwork offers two equal-reactance return paths for the cycle of the
// last branch: the parallel line 3 or the two-branch tree path 1, 0.
func tieNetwork() *grid.Network {
	br := func(id, from, to string, x float64) grid.Branch {
		return grid.Branch{ID: id, From: from, To: to, Reactance: x, Limit: 100}
	}
	return &grid.Network{
		Name:  "tie",
		Nodes: []grid.Node{{ID: "u"}, {ID: "v"}, {ID: "w"}, {ID: "x"}},
		Branches: []grid.Branch{
			br("uw", "u", "w", 0.1), br("wv", "w", "v", 0.1), br("ux", "u", "x", 0.1),
			br("uv-a", "u", "v", 0.2), br("uv-b", "u", "v", 0.3),
		},
	}
}

func TestMinimize_TieBreak(t *testing.T) {
	topo, err := grid.BuildTopology(tieNetwork())
	require.NoError(t, err)
	require.Equal(t, []int{3, 4}, topo.NonTree)

	fewest, err := cyclebasis.Minimize(context.Background(), topo, simplex.New(),
		cyclebasis.WithTieBreak(cyclebasis.TieFewestBranches))
	require.NoError(t, err)
	assert.Equal(t, grid.Cycle{{Branch: 4, Sign: 1}, {Branch: 3, Sign: -1}}, fewest.Cycles[1])

	lowest, err := cyclebasis.Minimize(context.Background(), topo, simplex.New(),
		cyclebasis.WithTieBreak(cyclebasis.TieLowestIndex))
	require.NoError(t, err)
	assert.Equal(t, grid.Cycle{{Branch: 4, Sign: 1}, {Branch: 1, Sign: -1}, {Branch: 0, Sign: -1}}, lowest.Cycles[1])

	assert.InDelta(t, fewest.Weight, lowest.Weight, 1e-9)
	assert.Zero(t, lowest.Improved)
}

func TestMinimize_NeverHeavierThanFundamental(t *testing.T) {
	ring, err := grid.Ring(6, 0.1, 100)
	require.NoError(t, err)
	mesh, err := grid.Mesh(4, 4, 0.1, 100)
	require.NoError(t, err)
	// irregular reactances push the Kruskal tree away from the short squares
	for i := range mesh.Branches {
		mesh.Branches[i].Reactance = 0.05 + 0.01*float64((i*7)%5)
	}

	for _, net := range []*grid.Network{ring, mesh, ladder(), tieNetwork()} {
		for _, w := range []cyclebasis.Weighting{cyclebasis.WeightReactance, cyclebasis.WeightUnit} {
			t.Run(net.Name+"/"+string(w), func(t *testing.T) {
				topo, err := grid.BuildTopology(net)
				require.NoError(t, err)
				basis, err := cyclebasis.Minimize(context.Background(), topo, simplex.New(),
					cyclebasis.WithWeighting(w), cyclebasis.WithParallelism(2))
				require.NoError(t, err)
				assert.Equal(t, topo.CycleRank(), basis.Size())
				assert.LessOrEqual(t, basis.Weight, basis.FundamentalWeight+1e-9)
				require.NoError(t, cyclebasis.Validate(topo, basis.D))
				for k, c := range basis.Cycles {
					assert.Equal(t, grid.Arc{Branch: topo.NonTree[k], Sign: 1}, c[0], "defining branch leads cycle %d", k)
				}
			})
		}
	}
}

func TestMinimize_Forest(t *testing.T) {
	net := grid.Triangle()
	net.Branches = net.Branches[:2]
	topo, err := grid.BuildTopology(net)
	require.NoError(t, err)
	basis, err := cyclebasis.Minimize(context.Background(), topo, simplex.New())
	require.NoError(t, err)
	assert.Zero(t, basis.Size())
	assert.Nil(t, basis.D)
}

func TestMinimize_Errors(t *testing.T) {
	topo, err := grid.BuildTopology(grid.Triangle())
	require.NoError(t, err)

	_, err = cyclebasis.Minimize(context.Background(), topo, nil)
	assert.ErrorIs(t, err, cyclebasis.ErrNoBackend)

	_, err = cyclebasis.Minimize(context.Background(), topo, simplex.New(), cyclebasis.WithTieBreak("random"))
	assert.ErrorIs(t, err, cyclebasis.ErrUnknownPolicy)

	_, err = cyclebasis.ParseTieBreak("lowest-index")
	assert.NoError(t, err)
}

func TestValidate_Mismatch(t *testing.T) {
	topo, err := grid.BuildTopology(ladder())
	require.NoError(t, err)
	basis, err := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	require.NoError(t, err)

	// flipping one sign breaks orthogonality
	bad := mat.DenseCopyOf(basis.D)
	bad.Set(0, basis.Cycles[0][1].Branch, -bad.At(0, basis.Cycles[0][1].Branch))
	assert.ErrorIs(t, cyclebasis.Validate(topo, bad), cyclebasis.ErrBasisMismatch)

	// duplicating a row keeps orthogonality but loses rank
	dup := mat.DenseCopyOf(basis.D)
	for b := 0; b < topo.NumBranches(); b++ {
		dup.Set(1, b, basis.D.At(0, b))
	}
	assert.ErrorIs(t, cyclebasis.Validate(topo, dup), cyclebasis.ErrBasisMismatch)

	assert.ErrorIs(t, cyclebasis.Validate(topo, nil), cyclebasis.ErrBasisMismatch)
}
