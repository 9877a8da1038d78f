// SPDX-License-Identifier: MIT
package dispatch_test

import (
	"context"
	"testing"

	"github.com/katalvlaran/gridplan/cyclebasis"
	"github.com/katalvlaran/gridplan/dispatch"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver"
	"github.com/katalvlaran/gridplan/solver/simplex"
)

// BenchmarkSolve_Triangle24h measures a full day on the reference triangle with storage built.
func BenchmarkSolve_Triangle24h(b *testing.B) {
	net := grid.Triangle()
	topo, err := grid.BuildTopology(net)
	if err != nil {
		b.Fatal(err)
	}
	basis, err := cyclebasis.Fundamental(topo, cyclebasis.WeightReactance)
	if err != nil {
		b.Fatal(err)
	}
	layout := grid.NewLayout(net, grid.LayoutParams{DiscountRate: 0.07})
	x := make([]float64, layout.Dim())
	power, _ := layout.Index(grid.KindStoragePower, "s3")
	energy, _ := layout.Index(grid.KindStorageEnergy, "s3")
	x[power], x[energy] = 50, 200
	sc := grid.Scenario{Name: "day", Weight: 365, Load: map[string][]float64{"n3": make([]float64, 24)}}
	for h := range sc.Load["n3"] {
		sc.Load["n3"][h] = 80 + 60*float64(h%12)/11
	}
	in := &dispatch.Input{
		Network: net, Topology: topo, Cycles: basis.Cycles, Reactance: topo.Reactance,
		Layout: layout, Decision: x, Scenario: &sc, Hours: 24,
		Params: dispatch.Params{ValueOfLostLoad: 1000, EmergencyFactor: 1},
	}
	backend := simplex.New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dispatch.Solve(context.Background(), backend, in, solver.Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
