// SPDX-License-Identifier: MIT
// Package grid — asset and scenario validation.
//
// Topology (node/branch) consistency is checked by BuildTopology; the checks
// here cover everything attached to nodes and the hourly input series.
package grid

import (
	"fmt"
	"math"
)

// ValidateAssets checks generators, storage, and candidates against the node
// and branch sets.
//
// Errors: ErrInvalidAsset wrapped with the offending id.
// Complexity: O(N + B + assets).
func (net *Network) ValidateAssets() error {
	nodes := make(map[string]struct{}, len(net.Nodes))
	for _, n := range net.Nodes {
		nodes[n.ID] = struct{}{}
	}
	branches := make(map[string]Branch, len(net.Branches))
	for _, b := range net.Branches {
		branches[b.ID] = b
	}
	seen := make(map[string]struct{})
	unique := func(id string) error {
		if id == "" {
			return fmt.Errorf("ValidateAssets: empty id: %w", ErrInvalidAsset)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ValidateAssets: duplicate asset %q: %w", id, ErrInvalidAsset)
		}
		seen[id] = struct{}{}
		return nil
	}
	onNode := func(id, node string) error {
		if _, ok := nodes[node]; !ok {
			return fmt.Errorf("ValidateAssets: %q sits on unknown node %q: %w", id, node, ErrInvalidAsset)
		}
		return nil
	}

	for _, g := range net.Generators {
		if err := unique(g.ID); err != nil {
			return err
		}
		if err := onNode(g.ID, g.Node); err != nil {
			return err
		}
		if g.Capacity < 0 || g.RampRate < 0 || g.EmissionRate < 0 {
			return fmt.Errorf("ValidateAssets: generator %q has negative parameters: %w", g.ID, ErrInvalidAsset)
		}
		if err := validSegments(g.ID, g.Segments); err != nil {
			return err
		}
	}
	for _, s := range net.Storage {
		if err := unique(s.ID); err != nil {
			return err
		}
		if err := onNode(s.ID, s.Node); err != nil {
			return err
		}
		if s.Power < 0 || s.Energy < 0 || !validEfficiency(s.Efficiency) || s.InitialSOC < 0 || s.InitialSOC > 1 {
			return fmt.Errorf("ValidateAssets: storage %q out of domain: %w", s.ID, ErrInvalidAsset)
		}
	}
	for _, c := range net.GenCandidates {
		if err := unique(c.ID); err != nil {
			return err
		}
		if err := onNode(c.ID, c.Node); err != nil {
			return err
		}
		if c.MaxBuild < 0 || c.CapitalCost < 0 || c.FixedCost < 0 || c.Lifetime < 0 || c.RampRate < 0 || c.EmissionRate < 0 {
			return fmt.Errorf("ValidateAssets: generation candidate %q out of domain: %w", c.ID, ErrInvalidAsset)
		}
		if err := validSegments(c.ID, c.Segments); err != nil {
			return err
		}
	}
	for _, c := range net.StorageCandidates {
		if err := unique(c.ID); err != nil {
			return err
		}
		if err := onNode(c.ID, c.Node); err != nil {
			return err
		}
		if c.MaxPower < 0 || c.MaxEnergy < 0 || c.PowerCost < 0 || c.EnergyCost < 0 || c.Lifetime < 0 || !validEfficiency(c.Efficiency) {
			return fmt.Errorf("ValidateAssets: storage candidate %q out of domain: %w", c.ID, ErrInvalidAsset)
		}
	}
	corridors := make(map[string]struct{})
	for _, c := range net.LineCandidates {
		if err := unique(c.ID); err != nil {
			return err
		}
		b, ok := branches[c.Branch]
		if !ok {
			return fmt.Errorf("ValidateAssets: transmission candidate %q on unknown branch %q: %w", c.ID, c.Branch, ErrInvalidAsset)
		}
		if _, dup := corridors[c.Branch]; dup {
			return fmt.Errorf("ValidateAssets: branch %q has more than one candidate: %w", c.Branch, ErrInvalidAsset)
		}
		corridors[c.Branch] = struct{}{}
		if c.MaxCircuits < 1 || len(c.Types) == 0 || c.Lifetime < 0 {
			return fmt.Errorf("ValidateAssets: transmission candidate %q needs circuit types and max_circuits ≥ 1: %w", c.ID, ErrInvalidAsset)
		}
		for _, t := range c.Types {
			if t.Capacity <= 0 || t.Cost < 0 || (!b.HVDC && t.Reactance <= 0) {
				return fmt.Errorf("ValidateAssets: circuit type %q of %q out of domain: %w", t.Name, c.ID, ErrInvalidAsset)
			}
		}
	}

	return nil
}

func validSegments(id string, segs []CostSegment) error {
	total := 0.0
	for _, s := range segs {
		if s.Share <= 0 || math.IsNaN(s.Cost) {
			return fmt.Errorf("ValidateAssets: %q has a non-positive cost segment: %w", id, ErrInvalidAsset)
		}
		total += s.Share
	}
	if len(segs) > 0 && math.Abs(total-1) > 1e-6 {
		return fmt.Errorf("ValidateAssets: %q segment shares sum to %g, want 1: %w", id, total, ErrInvalidAsset)
	}
	return nil
}

func validEfficiency(eta float64) bool { return eta > 0 && eta <= 1 }

// Validate checks that s covers hours steps for every node it references.
//
// Errors: ErrInvalidScenario wrapped with scenario and key.
func (s *Scenario) Validate(net *Network, hours int) error {
	if s.Weight < 0 || math.IsNaN(s.Weight) {
		return fmt.Errorf("Validate: scenario %q weight %g: %w", s.Name, s.Weight, ErrInvalidScenario)
	}
	nodes := make(map[string]struct{}, len(net.Nodes))
	for _, n := range net.Nodes {
		nodes[n.ID] = struct{}{}
	}
	for node, series := range s.Load {
		if _, ok := nodes[node]; !ok {
			return fmt.Errorf("Validate: scenario %q loads unknown node %q: %w", s.Name, node, ErrInvalidScenario)
		}
		if err := validSeries(s.Name, node, series, hours, math.Inf(1)); err != nil {
			return err
		}
	}
	for key, series := range s.Availability {
		if err := validSeries(s.Name, key, series, hours, 1); err != nil {
			return err
		}
	}
	for id, v := range s.CostScale {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("Validate: scenario %q cost scale of %q is %g: %w", s.Name, id, v, ErrInvalidScenario)
		}
	}
	return nil
}

func validSeries(scenario, key string, series []float64, hours int, max float64) error {
	if len(series) < hours {
		return fmt.Errorf("Validate: scenario %q series %q has %d steps, need %d: %w",
			scenario, key, len(series), hours, ErrInvalidScenario)
	}
	for h := 0; h < hours; h++ {
		if v := series[h]; v < 0 || v > max || math.IsNaN(v) {
			return fmt.Errorf("Validate: scenario %q series %q hour %d value %g: %w", scenario, key, h, v, ErrInvalidScenario)
		}
	}
	return nil
}
