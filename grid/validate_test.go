// SPDX-License-Identifier: MIT
package grid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/gridplan/grid"
)

func TestValidateAssets(t *testing.T) {
	require.NoError(t, grid.Triangle().ValidateAssets())

	cases := []struct {
		name   string
		mutate func(*grid.Network)
	}{
		{"generator on unknown node", func(n *grid.Network) { n.Generators[0].Node = "nowhere" }},
		{"negative capacity", func(n *grid.Network) { n.Generators[0].Capacity = -1 }},
		{"segment shares", func(n *grid.Network) { n.Generators[0].Segments[0].Share = 0.2 }},
		{"duplicate id", func(n *grid.Network) { n.StorageCandidates[0].ID = "g1" }},
		{"efficiency", func(n *grid.Network) { n.StorageCandidates[0].Efficiency = 1.5 }},
		{"unknown corridor", func(n *grid.Network) { n.LineCandidates[0].Branch = "l99" }},
		{"two candidates per corridor", func(n *grid.Network) { n.LineCandidates[1].Branch = "l12" }},
		{"no circuits", func(n *grid.Network) { n.LineCandidates[0].MaxCircuits = 0 }},
		{"circuit reactance", func(n *grid.Network) {
			n.LineCandidates[0].Types = []grid.CircuitType{{Name: "bad", Capacity: 10}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			net := grid.Triangle()
			tc.mutate(net)
			assert.ErrorIs(t, net.ValidateAssets(), grid.ErrInvalidAsset)
		})
	}
}

func TestScenarioValidate(t *testing.T) {
	net := grid.Triangle()
	s := grid.Flat("base", 24, 365, map[string]float64{"n3": 150})
	require.NoError(t, s.Validate(net, 24))
	assert.ErrorIs(t, s.Validate(net, 48), grid.ErrInvalidScenario)

	s.Load["ghost"] = make([]float64, 24)
	assert.ErrorIs(t, s.Validate(net, 24), grid.ErrInvalidScenario)
	delete(s.Load, "ghost")

	s.Availability = map[string][]float64{"wind": make([]float64, 24)}
	s.Availability["wind"][3] = 1.2
	assert.ErrorIs(t, s.Validate(net, 24), grid.ErrInvalidScenario)
	s.Availability["wind"][3] = 0.4
	require.NoError(t, s.Validate(net, 24))

	assert.Equal(t, 0.4, s.AvailabilityAt("wind", 3))
	assert.Equal(t, 1.0, s.AvailabilityAt("", 3))
	assert.Equal(t, 150.0, s.LoadAt("n3", 5))
	assert.Equal(t, 0.0, s.LoadAt("n1", 5))
	assert.Equal(t, 150.0, s.PeakLoad(24))
	assert.Equal(t, 1.0, s.Scale("g1"))

	s.Weight = -1
	assert.ErrorIs(t, s.Validate(net, 24), grid.ErrInvalidScenario)
}

func TestSynthetic(t *testing.T) {
	_, err := grid.Ring(2, 0.1, 100)
	assert.ErrorIs(t, err, grid.ErrTooFewNodes)
	_, err = grid.Mesh(1, 1, 0.1, 100)
	assert.ErrorIs(t, err, grid.ErrTooFewNodes)

	m, err := grid.Mesh(3, 4, 0.1, 100)
	require.NoError(t, err)
	assert.Len(t, m.Nodes, 12)
	assert.Len(t, m.Branches, 3*3+2*4)
	assert.Equal(t, "n0_0", m.Branches[0].From)
	assert.Equal(t, "n0_1", m.Branches[0].To)
}
