// SPDX-License-Identifier: MIT
package cyclebasis_test

import (
	"context"
	"fmt"

	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

// ExampleMinimize shortens the six-branch fundamental cycle of a ladder
// network to the four-branch square next to it.
func ExampleMinimize() {
	br := func(id, from, to string, x float64) grid.Branch {
		return grid.Branch{ID: id, From: from, To: to, Reactance: x, Limit: 100}
	}
	net := &grid.Network{
		Nodes: []grid.Node{{ID: "a0"}, {ID: "a1"}, {ID: "a2"}, {ID: "b0"}, {ID: "b1"}, {ID: "b2"}},
		Branches: []grid.Branch{
			br("t01", "a0", "a1", 0.1), br("t12", "a1", "a2", 0.1),
			br("u01", "b0", "b1", 0.1), br("u12", "b1", "b2", 0.1),
			br("r0", "a0", "b0", 0.1), br("r1", "a1", "b1", 0.2), br("r2", "a2", "b2", 0.2),
		},
	}
	topo, err := grid.BuildTopology(net)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	basis, err := cyclebasis.Minimize(context.Background(), topo, simplex.New(),
		cyclebasis.WithWeighting(cyclebasis.WeightUnit))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("fundamental: %.0f branches, minimal: %.0f branches\n", basis.FundamentalWeight, basis.Weight)
	// Output: fundamental: 10 branches, minimal: 8 branches
}
