// SPDX-License-Identifier: MIT
// Package rtep — the capacity/reactance fixed point.
package rtep

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Evaluator re-solves the affected subproblems under reactance (per branch)
// and returns the peak |flow| per branch over all scenarios and hours.
type Evaluator func(ctx context.Context, reactance []float64) ([]float64, error)

// Correction is the outcome of one correction pass.
type Correction struct {
	Reactance  []float64 // per branch; the entry snapshot when not converged
	Choices    []Choice  // per corridor; nil when not converged
	Iterations int
	Change     float64 // max relative reactance change of the last iteration
	Converged  bool
}

// Correct iterates reactance → flows → reinforcement → reactance until the
// relative change of every corridor reactance is at most Epsilon.
//
// Steps per iteration:
//  1. Evaluate peak flows under the current reactance.
//  2. Select the cheapest reinforcement carrying each corridor's peak.
//  3. Replace corridor reactances by the parallel equivalent and measure
//     ‖(x' − x)/x‖∞.
//
// The pass is sequential. When MaxIterations is exhausted the entry reactance
// is returned unchanged (the last converged snapshot) together with
// ErrNonConvergent. Evaluator errors abort the pass.
//
// Errors: ErrNonConvergent, ErrDimension, ctx.Err(), Evaluator errors.
func Correct(ctx context.Context, corridors []Corridor, reactance []float64, eval Evaluator, opts ...Option) (*Correction, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	for _, c := range corridors {
		if c.Branch < 0 || c.Branch >= len(reactance) {
			return nil, fmt.Errorf("Correct: corridor %s branch %d of %d: %w", c.Candidate, c.Branch, len(reactance), ErrDimension)
		}
	}
	snapshot := append([]float64(nil), reactance...)
	if len(corridors) == 0 {
		return &Correction{Reactance: snapshot, Converged: true}, nil
	}

	current := append([]float64(nil), reactance...)
	var ac []int // corridors with a reactance to correct
	for i, c := range corridors {
		if current[c.Branch] > 0 {
			ac = append(ac, i)
		}
	}
	before, after := make([]float64, len(ac)), make([]float64, len(ac))

	change := math.Inf(1)
	for k := 1; k <= o.MaxIterations; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		peaks, err := eval(ctx, append([]float64(nil), current...))
		if err != nil {
			return nil, fmt.Errorf("Correct: iteration %d: %w", k, err)
		}
		if len(peaks) != len(current) {
			return nil, fmt.Errorf("Correct: %d peaks for %d branches: %w", len(peaks), len(current), ErrDimension)
		}

		choices := make([]Choice, len(corridors))
		for i, c := range corridors {
			choices[i] = Select(c, math.Abs(peaks[c.Branch]))
		}
		for j, i := range ac {
			b := corridors[i].Branch
			before[j], after[j] = current[b], choices[i].Reactance
			current[b] = choices[i].Reactance
		}
		change = 0
		if len(ac) > 0 {
			diff := make([]float64, len(ac))
			floats.SubTo(diff, after, before)
			floats.Div(diff, before)
			change = floats.Norm(diff, math.Inf(1))
		}
		o.Logger.Debug("rtep iteration", "iteration", k, "change", change)

		if change <= o.Epsilon {
			return &Correction{Reactance: current, Choices: choices, Iterations: k, Change: change, Converged: true}, nil
		}
	}

	o.Logger.Warn("rtep did not converge", "iterations", o.MaxIterations, "change", change)
	return &Correction{Reactance: snapshot, Iterations: o.MaxIterations, Change: change},
		fmt.Errorf("Correct: %d iterations, change %.3g > %.3g: %w", o.MaxIterations, change, o.Epsilon, ErrNonConvergent)
}
