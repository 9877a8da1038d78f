// SPDX-License-Identifier: MIT
// Package contingency — the oracle: screen every outage against every
// monitored branch for every hour using precomputed factors, without re-solving.
package contingency

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Outages enumerates the outage sets of level over the topology's branches:
// every branch for n-1, plus every pair for n-1-1. The order is ascending
// (Outage.Less).
func (f *Factors) Outages(level Level) []Outage {
	nb := f.topo.NumBranches()
	var out []Outage
	if level == LevelNone {
		return out
	}
	for k := 0; k < nb; k++ {
		out = append(out, Outage{k})
	}
	if level == LevelN11 {
		for k1 := 0; k1 < nb; k1++ {
			for k2 := k1 + 1; k2 < nb; k2++ {
				out = append(out, Outage{k1, k2})
			}
		}
	}
	return out
}

// Screen evaluates flows (hour × branch) against limits (per branch, already
// scaled to emergency ratings) for every outage of opts.Level.
//
// Steps:
//  1. Enumerate outages; precompute β for every (outage, monitored branch)
//     pair once, recording islanding outages.
//  2. For each hour and outage, compute post-outage flows in O(|outage|) per
//     branch; count the case and collect overloads above Epsilon.
//  3. Sort by excess descending (ties by hour, outage, branch) and keep the
//     top MaxViolations.
//
// Errors: ErrDimension.
// Complexity: O(|outages|·B) to precompute, O(H·|outages|·B) to screen.
func Screen(f *Factors, flows [][]float64, limits []float64, opts ScreenOptions) (Report, error) {
	var rep Report
	nb := f.topo.NumBranches()
	if len(limits) != nb {
		return rep, fmt.Errorf("Screen: %d limits for %d branches: %w", len(limits), nb, ErrDimension)
	}
	for h, fl := range flows {
		if len(fl) != nb {
			return rep, fmt.Errorf("Screen: hour %d has %d flows for %d branches: %w", h, len(fl), nb, ErrDimension)
		}
	}

	// 1. Precompute β per outage.
	type prepared struct {
		outage Outage
		beta   [][]float64 // per monitored branch, nil for outaged ones
	}
	var cases []prepared
	for _, o := range f.Outages(opts.Level) {
		p := prepared{outage: o, beta: make([][]float64, nb)}
		islands := false
		for l := 0; l < nb && !islands; l++ {
			if contains(o, l) {
				continue
			}
			beta, err := f.Distribution(o, l)
			if errors.Is(err, ErrIslanding) {
				islands = true
				break
			}
			if err != nil {
				return rep, err
			}
			p.beta[l] = beta
		}
		if islands {
			rep.Islanding = append(rep.Islanding, o)
			continue
		}
		cases = append(cases, p)
	}

	// 2. Screen.
	var all []Violation
	for h, fl := range flows {
		for _, c := range cases {
			rep.Cases++
			violating := false
			for l := 0; l < nb; l++ {
				beta := c.beta[l]
				if beta == nil {
					continue
				}
				post := fl[l]
				for j, k := range c.outage {
					post += beta[j] * fl[k]
				}
				excess := math.Abs(post) - limits[l]
				if excess > rep.Worst {
					rep.Worst = excess
				}
				if excess <= opts.Epsilon {
					continue
				}
				violating = true
				all = append(all, Violation{
					Hour: h, Outage: c.outage, Branch: l,
					Flow: post, Limit: limits[l], Excess: excess,
					Beta: append([]float64(nil), beta...),
				})
			}
			if violating {
				rep.ViolatingCases++
			}
		}
	}

	// 3. Rank.
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Excess != b.Excess {
			return a.Excess > b.Excess
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.Outage.Key() != b.Outage.Key() {
			return a.Outage.Less(b.Outage)
		}
		return a.Branch < b.Branch
	})
	if opts.MaxViolations > 0 && len(all) > opts.MaxViolations {
		all = all[:opts.MaxViolations]
	}
	rep.Violations = all

	return rep, nil
}

func contains(o Outage, b int) bool {
	for _, k := range o {
		if k == b {
			return true
		}
	}
	return false
}
