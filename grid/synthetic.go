// SPDX-License-Identifier: MIT
// Package grid — synthetic networks for tests, benchmarks, and the CLI demo.
//
// Determinism:
//   - Node order is index (Ring) or row-major (Mesh) order.
//   - Branch order: Ring emits i → (i+1)%n; Mesh emits Right then Down per cell.
package grid

import "fmt"

const (
	minRingNodes = 3
	minMeshDim   = 1
	meshIDFmt    = "n%d_%d"
)

// Ring returns an n-node cycle with uniform reactance and thermal limit.
//
// Errors: ErrTooFewNodes when n < 3.
// Complexity: O(n).
func Ring(n int, reactance, limit float64) (*Network, error) {
	if n < minRingNodes {
		return nil, fmt.Errorf("Ring: n=%d < min=%d: %w", n, minRingNodes, ErrTooFewNodes)
	}
	net := &Network{Name: fmt.Sprintf("ring-%d", n)}
	for i := 0; i < n; i++ {
		net.Nodes = append(net.Nodes, Node{ID: fmt.Sprintf("n%d", i)})
	}
	for i := 0; i < n; i++ {
		net.Branches = append(net.Branches, Branch{
			ID:        fmt.Sprintf("b%d", i),
			From:      fmt.Sprintf("n%d", i),
			To:        fmt.Sprintf("n%d", (i+1)%n),
			Reactance: reactance,
			Limit:     limit,
		})
	}
	return net, nil
}

// Mesh returns a rows×cols orthogonal grid network.
//
// Errors: ErrTooFewNodes when either dimension is below 1 or the grid has a single node.
// Complexity: O(rows·cols).
func Mesh(rows, cols int, reactance, limit float64) (*Network, error) {
	if rows < minMeshDim || cols < minMeshDim || rows*cols < 2 {
		return nil, fmt.Errorf("Mesh: rows=%d, cols=%d: %w", rows, cols, ErrTooFewNodes)
	}
	net := &Network{Name: fmt.Sprintf("mesh-%dx%d", rows, cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			net.Nodes = append(net.Nodes, Node{ID: fmt.Sprintf(meshIDFmt, r, c)})
		}
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			u := fmt.Sprintf(meshIDFmt, r, c)
			if c+1 < cols {
				net.Branches = append(net.Branches, Branch{
					ID: fmt.Sprintf("h%d_%d", r, c), From: u, To: fmt.Sprintf(meshIDFmt, r, c+1),
					Reactance: reactance, Limit: limit,
				})
			}
			if r+1 < rows {
				net.Branches = append(net.Branches, Branch{
					ID: fmt.Sprintf("v%d_%d", r, c), From: u, To: fmt.Sprintf(meshIDFmt, r+1, c),
					Reactance: reactance, Limit: limit,
				})
			}
		}
	}
	return net, nil
}

// Triangle returns the three-node reference case: a 200 MW generator at n1,
// demand at n3, uniform 0.1 p.u. lines rated 100 MW, one reinforcement
// candidate per line, and a candidate battery at the load node.
//
// With 150 MW of demand the intact network is exactly at its limit on l13
// and every single-line outage overloads a surviving line.
func Triangle() *Network {
	line := func(id, from, to string) Branch {
		return Branch{ID: id, From: from, To: to, Reactance: 0.1, Limit: 100, VoltageKV: 230}
	}
	circuit := []CircuitType{
		{Name: "230kV-single", Capacity: 50, Reactance: 0.1, Cost: 2_000_000},
		{Name: "230kV-double", Capacity: 100, Reactance: 0.06, Cost: 3_600_000},
	}
	return &Network{
		Name: "triangle",
		Nodes: []Node{
			{ID: "n1", Role: RoleGeneratorSite},
			{ID: "n2", Role: RoleBus},
			{ID: "n3", Role: RoleLoadSite},
		},
		Branches: []Branch{line("l12", "n1", "n2"), line("l23", "n2", "n3"), line("l13", "n1", "n3")},
		Generators: []Generator{{
			ID: "g1", Node: "n1", Capacity: 200,
			Segments:     []CostSegment{{Share: 0.5, Cost: 20}, {Share: 0.5, Cost: 30}},
			EmissionRate: 0.4,
		}},
		StorageCandidates: []StorageCandidate{{
			ID: "s3", Node: "n3", MaxPower: 100, MaxEnergy: 400,
			PowerCost: 300_000, EnergyCost: 150_000, Lifetime: 15, Efficiency: 0.85,
		}},
		LineCandidates: []TransmissionCandidate{
			{ID: "t12", Branch: "l12", Types: circuit, MaxCircuits: 2, Lifetime: 40},
			{ID: "t23", Branch: "l23", Types: circuit, MaxCircuits: 2, Lifetime: 40},
			{ID: "t13", Branch: "l13", Types: circuit, MaxCircuits: 2, Lifetime: 40},
		},
	}
}

// Flat returns a scenario with constant hourly load at the given nodes.
func Flat(name string, hours int, weight float64, loads map[string]float64) Scenario {
	s := Scenario{Name: name, Weight: weight, Load: make(map[string][]float64, len(loads))}
	for node, mw := range loads {
		series := make([]float64, hours)
		for h := range series {
			series[h] = mw
		}
		s.Load[node] = series
	}
	return s
}
