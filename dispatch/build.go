// SPDX-License-Identifier: MIT
// Package dispatch — assembly of the operational LP for one scenario day.
//
// Columns per hour: generator cost blocks, storage charge / discharge /
// state of charge, branch flows, load shedding, reserve shortfall. Rows per
// hour: nodal balance, one KVL row per basis cycle, capacity links to the
// decision vector, ramping, storage energy balance, reserve, and the active
// post-outage rows. One carbon row spans the whole day.
//
// Every row whose right-hand side depends on x is recorded as a link
// (row, index, coef) with rhs = base + Σ coef·x[index], so the subgradient is
// Σ coef·dual over the links of each coordinate.
package dispatch

import (
	"fmt"
	"math"

	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/solver"
)

type link struct {
	row   solver.Row
	index int
	coef  float64
}

// Model is the assembled LP of one subproblem plus the handles needed to read
// a solution back.
type Model struct {
	Problem *solver.Problem

	links     []link
	flow      [][]solver.Var // step × branch
	balance   [][]solver.Row // step × node, −1 where the node has no row
	shed      []solver.Var
	shortfall []solver.Var
	overrun   solver.Var // −1 without a carbon row
	emissions []solver.Term
}

// Build validates in and assembles the LP over all in.Hours hours.
//
// Errors: ErrInput.
func Build(in *Input) (*Model, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	return build(in, 0, in.Hours, true), nil
}

func (in *Input) check() error {
	if in.Network == nil || in.Topology == nil || in.Layout == nil || in.Scenario == nil {
		return fmt.Errorf("Build: missing network, topology, layout, or scenario: %w", ErrInput)
	}
	if in.Hours < 1 {
		return fmt.Errorf("Build: horizon %d: %w", in.Hours, ErrInput)
	}
	if len(in.Decision) != in.Layout.Dim() {
		return fmt.Errorf("Build: decision len %d, want %d: %w", len(in.Decision), in.Layout.Dim(), ErrInput)
	}
	nb := in.Topology.NumBranches()
	if len(in.Reactance) != nb {
		return fmt.Errorf("Build: %d reactances for %d branches: %w", len(in.Reactance), nb, ErrInput)
	}
	for _, c := range in.Active {
		if c.Hour < 0 || c.Hour >= in.Hours || c.Branch < 0 || c.Branch >= nb || len(c.Beta) != len(c.Outage) {
			return fmt.Errorf("Build: contingency hour %d outage %s branch %d: %w", c.Hour, c.Outage.Key(), c.Branch, ErrInput)
		}
	}
	return nil
}

// build assembles hours [h0, h1). With coupled == false the inter-temporal
// rows (ramping, end-of-day storage, carbon) are omitted.
func build(in *Input, h0, h1 int, coupled bool) *Model {
	topo, net, sc, p := in.Topology, in.Network, in.Scenario, in.Params
	nn, nb, steps := topo.NumNodes(), topo.NumBranches(), h1-h0
	lp := solver.NewProblem("dispatch/" + sc.Name)
	m := &Model{Problem: lp, overrun: -1}

	inj := make([][][]solver.Term, steps)
	for s := range inj {
		inj[s] = make([][]solver.Term, nn)
	}
	headroom := make([][]solver.Term, steps) // −gen terms of the reserve row
	reserveBase := make([]float64, steps)
	type reserveLink struct {
		index int
		avail []float64
	}
	var reserveLinks []reserveLink

	inject := func(s int, node string, v solver.Var, coef float64) {
		n, _ := topo.NodeIndex(node)
		inj[s][n] = append(inj[s][n], solver.Term{Var: v, Coef: coef})
	}
	linkRow := func(r solver.Row, index int, coef float64) {
		m.links = append(m.links, link{row: r, index: index, coef: coef})
	}

	// Stage 1: existing generators.
	for _, g := range net.Generators {
		segs := blocks(g.Segments)
		prev := []solver.Term(nil)
		for s := 0; s < steps; s++ {
			h := h0 + s
			avail := sc.AvailabilityAt(g.Profile, h)
			var out []solver.Term
			for k, seg := range segs {
				v := lp.AddVar(fmt.Sprintf("gen/%s/%d/h%d", g.ID, k, h), 0, seg.Share*g.Capacity*avail, seg.Cost*sc.Scale(g.ID))
				inject(s, g.Node, v, 1)
				out = append(out, solver.Term{Var: v, Coef: 1})
				headroom[s] = append(headroom[s], solver.Term{Var: v, Coef: -1})
				if g.EmissionRate > 0 {
					m.emissions = append(m.emissions, solver.Term{Var: v, Coef: g.EmissionRate})
				}
			}
			reserveBase[s] -= avail * g.Capacity
			if coupled && s > 0 && g.RampRate > 0 && g.RampRate < 1 {
				up, down := rampTerms(out, prev)
				lp.AddRow(fmt.Sprintf("ramp-up/%s/h%d", g.ID, h), up, solver.LessEqual, g.RampRate*g.Capacity)
				lp.AddRow(fmt.Sprintf("ramp-down/%s/h%d", g.ID, h), down, solver.LessEqual, g.RampRate*g.Capacity)
			}
			prev = out
		}
	}

	// Stage 2: generation candidates, blocks scale with the built capacity.
	for _, c := range net.GenCandidates {
		idx, _ := in.Layout.Index(grid.KindGeneration, c.ID)
		segs := blocks(c.Segments)
		rl := reserveLink{index: idx, avail: make([]float64, steps)}
		prev := []solver.Term(nil)
		for s := 0; s < steps; s++ {
			h := h0 + s
			avail := sc.AvailabilityAt(c.Profile, h)
			rl.avail[s] = avail
			var out []solver.Term
			for k, seg := range segs {
				v := lp.AddVar(fmt.Sprintf("gen/%s/%d/h%d", c.ID, k, h), 0, math.Inf(1), seg.Cost*sc.Scale(c.ID))
				r := lp.AddRow(fmt.Sprintf("build/%s/%d/h%d", c.ID, k, h),
					[]solver.Term{{Var: v, Coef: 1}}, solver.LessEqual, 0)
				linkRow(r, idx, seg.Share*avail)
				inject(s, c.Node, v, 1)
				out = append(out, solver.Term{Var: v, Coef: 1})
				headroom[s] = append(headroom[s], solver.Term{Var: v, Coef: -1})
				if c.EmissionRate > 0 {
					m.emissions = append(m.emissions, solver.Term{Var: v, Coef: c.EmissionRate})
				}
			}
			if coupled && s > 0 && c.RampRate > 0 && c.RampRate < 1 {
				up, down := rampTerms(out, prev)
				linkRow(lp.AddRow(fmt.Sprintf("ramp-up/%s/h%d", c.ID, h), up, solver.LessEqual, 0), idx, c.RampRate)
				linkRow(lp.AddRow(fmt.Sprintf("ramp-down/%s/h%d", c.ID, h), down, solver.LessEqual, 0), idx, c.RampRate)
			}
			prev = out
		}
		reserveLinks = append(reserveLinks, rl)
	}

	// Stage 3: storage. Existing units start and end at InitialSOC; candidate
	// units carry a free opening level that must be restored at day end.
	for _, u := range net.Storage {
		etaC, etaD := math.Sqrt(u.Efficiency), math.Sqrt(u.Efficiency)
		s0 := u.InitialSOC * u.Energy
		var prevSOC solver.Var = -1
		for s := 0; s < steps; s++ {
			h := h0 + s
			ch := lp.AddVar(fmt.Sprintf("charge/%s/h%d", u.ID, h), 0, u.Power, 0)
			dis := lp.AddVar(fmt.Sprintf("discharge/%s/h%d", u.ID, h), 0, u.Power, p.StorageCycleCost)
			soc := lp.AddVar(fmt.Sprintf("soc/%s/h%d", u.ID, h), 0, u.Energy, 0)
			inject(s, u.Node, dis, 1)
			inject(s, u.Node, ch, -1)
			terms := []solver.Term{{Var: soc, Coef: 1}, {Var: ch, Coef: -etaC}, {Var: dis, Coef: 1 / etaD}}
			rhs := s0
			if prevSOC >= 0 {
				terms = append(terms, solver.Term{Var: prevSOC, Coef: -1})
				rhs = 0
			}
			lp.AddRow(fmt.Sprintf("energy/%s/h%d", u.ID, h), terms, solver.Equal, rhs)
			prevSOC = soc
		}
		if coupled {
			lp.AddRow("cyclic/"+u.ID, []solver.Term{{Var: prevSOC, Coef: 1}}, solver.Equal, s0)
		}
	}
	for _, c := range net.StorageCandidates {
		ip, _ := in.Layout.Index(grid.KindStoragePower, c.ID)
		ie, _ := in.Layout.Index(grid.KindStorageEnergy, c.ID)
		etaC, etaD := math.Sqrt(c.Efficiency), math.Sqrt(c.Efficiency)
		open := lp.AddVar(fmt.Sprintf("soc/%s/open", c.ID), 0, math.Inf(1), 0)
		linkRow(lp.AddRow("energy-cap/"+c.ID+"/open", []solver.Term{{Var: open, Coef: 1}}, solver.LessEqual, 0), ie, 1)
		prevSOC := open
		for s := 0; s < steps; s++ {
			h := h0 + s
			ch := lp.AddVar(fmt.Sprintf("charge/%s/h%d", c.ID, h), 0, math.Inf(1), 0)
			dis := lp.AddVar(fmt.Sprintf("discharge/%s/h%d", c.ID, h), 0, math.Inf(1), p.StorageCycleCost)
			soc := lp.AddVar(fmt.Sprintf("soc/%s/h%d", c.ID, h), 0, math.Inf(1), 0)
			inject(s, c.Node, dis, 1)
			inject(s, c.Node, ch, -1)
			linkRow(lp.AddRow(fmt.Sprintf("charge-cap/%s/h%d", c.ID, h), []solver.Term{{Var: ch, Coef: 1}}, solver.LessEqual, 0), ip, 1)
			linkRow(lp.AddRow(fmt.Sprintf("discharge-cap/%s/h%d", c.ID, h), []solver.Term{{Var: dis, Coef: 1}}, solver.LessEqual, 0), ip, 1)
			linkRow(lp.AddRow(fmt.Sprintf("energy-cap/%s/h%d", c.ID, h), []solver.Term{{Var: soc, Coef: 1}}, solver.LessEqual, 0), ie, 1)
			lp.AddRow(fmt.Sprintf("energy/%s/h%d", c.ID, h), []solver.Term{
				{Var: soc, Coef: 1}, {Var: prevSOC, Coef: -1}, {Var: ch, Coef: -etaC}, {Var: dis, Coef: 1 / etaD},
			}, solver.Equal, 0)
			prevSOC = soc
		}
		if coupled {
			lp.AddRow("cyclic/"+c.ID, []solver.Term{{Var: prevSOC, Coef: 1}, {Var: open, Coef: -1}}, solver.Equal, 0)
		}
	}

	// Stage 4: flows. Reinforced branches get linked limit rows instead of bounds.
	reinforce := make([]int, nb)
	for b := range reinforce {
		reinforce[b] = -1
	}
	for i, e := range in.Layout.Entries {
		if e.Kind == grid.KindTransmission {
			if b, ok := topo.BranchIndex(e.Branch); ok {
				reinforce[b] = i
			}
		}
	}
	m.flow = make([][]solver.Var, steps)
	for s := 0; s < steps; s++ {
		h := h0 + s
		m.flow[s] = make([]solver.Var, nb)
		for b := 0; b < nb; b++ {
			name := fmt.Sprintf("flow/%s/h%d", topo.BranchIDs[b], h)
			limit := topo.Limit[b]
			var f solver.Var
			if idx := reinforce[b]; idx >= 0 {
				f = lp.AddFreeVar(name, 0)
				linkRow(lp.AddRow(name+"/max", []solver.Term{{Var: f, Coef: 1}}, solver.LessEqual, limit), idx, 1)
				linkRow(lp.AddRow(name+"/min", []solver.Term{{Var: f, Coef: -1}}, solver.LessEqual, limit), idx, 1)
			} else {
				f = lp.AddVar(name, -limit, limit, 0)
			}
			m.flow[s][b] = f
			inj[s][topo.From[b]] = append(inj[s][topo.From[b]], solver.Term{Var: f, Coef: -1})
			inj[s][topo.To[b]] = append(inj[s][topo.To[b]], solver.Term{Var: f, Coef: 1})
		}
	}

	// Stage 5: shedding and nodal balance.
	m.balance = make([][]solver.Row, steps)
	for s := 0; s < steps; s++ {
		h := h0 + s
		m.balance[s] = make([]solver.Row, nn)
		for n := 0; n < nn; n++ {
			node := topo.NodeIDs[n]
			load := sc.LoadAt(node, h)
			if load > 0 {
				v := lp.AddVar(fmt.Sprintf("shed/%s/h%d", node, h), 0, load, p.ValueOfLostLoad)
				m.shed = append(m.shed, v)
				inj[s][n] = append(inj[s][n], solver.Term{Var: v, Coef: 1})
			}
			if len(inj[s][n]) == 0 {
				m.balance[s][n] = -1
				continue
			}
			m.balance[s][n] = lp.AddRow(fmt.Sprintf("balance/%s/h%d", node, h), inj[s][n], solver.Equal, load)
			reserveBase[s] += p.ReserveMargin * load
		}
	}

	// Stage 6: Kirchhoff's voltage law, one row per basis cycle.
	for s := 0; s < steps; s++ {
		for c, cyc := range in.Cycles {
			terms := make([]solver.Term, 0, len(cyc))
			for _, a := range cyc {
				terms = append(terms, solver.Term{Var: m.flow[s][a.Branch], Coef: a.Sign * in.Reactance[a.Branch]})
			}
			lp.AddRow(fmt.Sprintf("kvl/%d/h%d", c, h0+s), terms, solver.Equal, 0)
		}
	}

	// Stage 7: operating reserve, Σ(avail·cap − gen) + shortfall ≥ margin·load.
	if p.ReserveMargin > 0 {
		for s := 0; s < steps; s++ {
			h := h0 + s
			v := lp.AddVar(fmt.Sprintf("shortfall/h%d", h), 0, math.Inf(1), p.ReservePenalty)
			m.shortfall = append(m.shortfall, v)
			terms := append(append([]solver.Term(nil), headroom[s]...), solver.Term{Var: v, Coef: 1})
			r := lp.AddRow(fmt.Sprintf("reserve/h%d", h), terms, solver.GreaterEqual, reserveBase[s])
			for _, rl := range reserveLinks {
				linkRow(r, rl.index, -rl.avail[s])
			}
		}
	}

	// Stage 8: carbon cap over the day, relaxed by purchased allowances.
	if coupled && p.CarbonCap > 0 {
		m.overrun = lp.AddVar("carbon/overrun", 0, math.Inf(1), p.CarbonPenalty)
		terms := append(append([]solver.Term(nil), m.emissions...), solver.Term{Var: m.overrun, Coef: -1})
		r := lp.AddRow("carbon", terms, solver.LessEqual, p.CarbonCap)
		if idx, ok := in.Layout.Index(grid.KindAllowance, grid.AllowanceID); ok {
			linkRow(r, idx, p.AllowanceShare)
		}
	}

	// Stage 9: active post-outage rows at emergency rating.
	for _, c := range in.Active {
		if c.Hour < h0 || c.Hour >= h1 {
			continue
		}
		s := c.Hour - h0
		terms := []solver.Term{{Var: m.flow[s][c.Branch], Coef: 1}}
		for j, k := range c.Outage {
			terms = append(terms, solver.Term{Var: m.flow[s][k], Coef: c.Beta[j]})
		}
		neg := make([]solver.Term, len(terms))
		for i, t := range terms {
			neg[i] = solver.Term{Var: t.Var, Coef: -t.Coef}
		}
		name := fmt.Sprintf("secure/%s/%s/h%d", c.Outage.Key(), topo.BranchIDs[c.Branch], c.Hour)
		rating := p.EmergencyFactor * topo.Limit[c.Branch]
		hi := lp.AddRow(name+"/max", terms, solver.LessEqual, rating)
		lo := lp.AddRow(name+"/min", neg, solver.LessEqual, rating)
		if idx := reinforce[c.Branch]; idx >= 0 {
			linkRow(hi, idx, p.EmergencyFactor)
			linkRow(lo, idx, p.EmergencyFactor)
		}
	}

	for _, l := range m.links {
		lp.Rows[l.row].RHS += l.coef * in.Decision[l.index]
	}

	return m
}

// blocks returns segs, or one free block covering the whole capacity.
func blocks(segs []grid.CostSegment) []grid.CostSegment {
	if len(segs) == 0 {
		return []grid.CostSegment{{Share: 1}}
	}
	return segs
}

// rampTerms returns the terms of out − prev and prev − out.
func rampTerms(out, prev []solver.Term) (up, down []solver.Term) {
	for _, t := range out {
		up = append(up, solver.Term{Var: t.Var, Coef: 1})
		down = append(down, solver.Term{Var: t.Var, Coef: -1})
	}
	for _, t := range prev {
		up = append(up, solver.Term{Var: t.Var, Coef: -1})
		down = append(down, solver.Term{Var: t.Var, Coef: 1})
	}
	return up, down
}
