// SPDX-License-Identifier: MIT
package contingency_test

import (
	"fmt"

	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/grid"
)

// ExampleScreen finds the single overload of the four-node reference case:
// losing the diagonal b4 pushes 50 MW onto b0, rated 40 MW.
func ExampleScreen() {
	br := func(id, from, to string, limit float64) grid.Branch {
		return grid.Branch{ID: id, From: from, To: to, Reactance: 1, Limit: limit}
	}
	net := &grid.Network{
		Nodes: []grid.Node{{ID: "0"}, {ID: "1"}, {ID: "2"}, {ID: "3"}},
		Branches: []grid.Branch{
			br("b0", "0", "1", 40), br("b1", "1", "2", 60), br("b2", "2", "3", 60),
			br("b3", "3", "0", 60), br("b4", "0", "2", 70),
		},
	}
	topo, _ := grid.BuildTopology(net)
	basis, _ := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	f, _ := contingency.NewFactors(topo, basis.D, topo.Reactance)
	flows, _ := f.Flows([]float64{100, 0, -100, 0})

	rep, err := contingency.Screen(f, [][]float64{flows}, topo.Limit,
		contingency.ScreenOptions{Level: contingency.LevelN1, Epsilon: 1e-3})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	for _, v := range rep.Violations {
		fmt.Printf("outage %s overloads %s: %.1f MW > %.0f MW\n",
			topo.BranchIDs[v.Outage[0]], topo.BranchIDs[v.Branch], v.Flow, v.Limit)
	}
	// Output: outage b4 overloads b0: 50.0 MW > 40 MW
}
