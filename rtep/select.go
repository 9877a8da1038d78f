// SPDX-License-Identifier: MIT
// Package rtep — reinforcement selection for a single corridor.
package rtep

import (
	"math"

	"github.com/katalvlaran/gridplan/grid"
)

// Corridors lists the reinforceable branches of net in candidate order.
func Corridors(net *grid.Network, topo *grid.Topology, discountRate float64) []Corridor {
	out := make([]Corridor, 0, len(net.LineCandidates))
	for _, c := range net.LineCandidates {
		b, ok := topo.BranchIndex(c.Branch)
		if !ok {
			continue
		}
		x0 := 0.0
		if !topo.HVDC[b] {
			x0 = topo.Reactance[b]
		}
		out = append(out, Corridor{
			Candidate: c.ID, Branch: b, BranchID: c.Branch,
			Limit: topo.Limit[b], Reactance: x0,
			Types: c.Types, MaxCircuits: c.MaxCircuits,
			Recovery: grid.CapitalRecovery(discountRate, c.Lifetime),
		})
	}
	return out
}

// Select returns the cheapest reinforcement of c whose rating reaches target.
//
// For each circuit type the fewest circuits n = ⌈(target − F0)/Fc⌉ is the
// cheapest feasible count, so only one candidate per type is priced. Ties are
// broken by fewer circuits, then lower reactance, then type order. When no
// type reaches target within MaxCircuits, the largest rating is returned with
// Shortfall set.
//
// Complexity: O(|Types|).
func Select(c Corridor, target float64) Choice {
	best := c.option(-1, 0, target)
	if best.Shortfall == 0 {
		return best
	}
	tol := slack(target)
	found := false
	for i, ty := range c.Types {
		if ty.Capacity <= 0 {
			continue
		}
		n := int(math.Ceil((target - tol - c.Limit) / ty.Capacity))
		if n < 1 {
			n = 1
		}
		opt := c.option(i, n, target)
		if opt.Shortfall > 0 { // rounding in the quotient
			n++
			opt = c.option(i, n, target)
		}
		if n > c.MaxCircuits {
			continue
		}
		if !found || better(opt, best) {
			best, found = opt, true
		}
	}
	if found {
		return best
	}
	return c.largest(target)
}

// Enumerate prices every (type, count) pair and returns the same choice as
// Select. It exists to cross-check the closed form.
//
// Complexity: O(|Types|·MaxCircuits).
func Enumerate(c Corridor, target float64) Choice {
	best := c.option(-1, 0, target)
	found := best.Shortfall == 0
	for i := range c.Types {
		if c.Types[i].Capacity <= 0 {
			continue
		}
		for n := 1; n <= c.MaxCircuits; n++ {
			opt := c.option(i, n, target)
			if opt.Shortfall > 0 {
				continue
			}
			if !found || better(opt, best) {
				best, found = opt, true
			}
		}
	}
	if found {
		return best
	}
	return c.largest(target)
}

// option prices n circuits of type i (i < 0 means no reinforcement).
func (c Corridor) option(i, n int, target float64) Choice {
	ch := Choice{Candidate: c.Candidate, Branch: c.BranchID, Capacity: c.Limit, Reactance: c.Reactance}
	if i >= 0 && n > 0 {
		ty := c.Types[i]
		ch.Type, ch.Circuits = ty.Name, n
		ch.Capacity += float64(n) * ty.Capacity
		ch.Cost = float64(n) * ty.Cost * c.Recovery
		if c.Reactance > 0 && ty.Reactance > 0 {
			ch.Reactance = 1 / (1/c.Reactance + float64(n)/ty.Reactance)
		}
	}
	if ch.Capacity < target-slack(target) {
		ch.Shortfall = target - ch.Capacity
	}
	return ch
}

// largest returns the highest-rated reinforcement, cheapest among equals.
func (c Corridor) largest(target float64) Choice {
	best := c.option(-1, 0, target)
	for i, ty := range c.Types {
		if ty.Capacity <= 0 || c.MaxCircuits < 1 {
			continue
		}
		opt := c.option(i, c.MaxCircuits, target)
		if opt.Capacity > best.Capacity || (opt.Capacity == best.Capacity && opt.Cost < best.Cost) {
			best = opt
		}
	}
	return best
}

func better(a, b Choice) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	if a.Circuits != b.Circuits {
		return a.Circuits < b.Circuits
	}
	return a.Reactance < b.Reactance
}

func slack(target float64) float64 { return 1e-9 * math.Max(1, math.Abs(target)) }
