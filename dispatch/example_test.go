// SPDX-License-Identifier: MIT
package dispatch_test

import (
	"context"
	"fmt"

	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

// ExampleSolve dispatches 180 MW across the congested triangle and reports
// the value of reinforcing l13.
func ExampleSolve() {
	net := grid.Triangle()
	topo, _ := grid.BuildTopology(net)
	basis, _ := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	layout := grid.NewLayout(net, grid.LayoutParams{DiscountRate: 0.07})
	sc := grid.Flat("peak", 1, 1, map[string]float64{"n3": 180})

	out, err := dispatch.Solve(context.Background(), simplex.New(), &dispatch.Input{
		Network: net, Topology: topo, Cycles: basis.Cycles, Reactance: topo.Reactance,
		Layout: layout, Decision: make([]float64, layout.Dim()), Scenario: &sc, Hours: 1,
		Params: dispatch.Params{ValueOfLostLoad: 1000, EmergencyFactor: 1},
	}, solver.Options{})
	if err != nil {
		fmt.Println(err)
		return
	}
	t13, _ := layout.Index(grid.KindTransmission, "t13")
	fmt.Printf("status %s, shed %.0f MWh, cost $%.0f\n", out.Status, out.Shed, out.Cost)
	fmt.Printf("d cost / d t13 = %.0f $/MW\n", out.Subgradient[t13])
	// Output:
	// status ok, shed 30 MWh, cost $33500
	// d cost / d t13 = -1455 $/MW
}
