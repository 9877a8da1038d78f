// SPDX-License-Identifier: MIT
// Package cyclebasis defines options and sentinel errors for minimal cycle
// basis computation.
package cyclebasis

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/katalvlaran/gridplan/grid"
)

var (
	// ErrBasisMismatch indicates D·Aᵗ ≠ 0 or rank(D) ≠ B − N + C. It is a fatal
	// configuration error and is never retried.
	ErrBasisMismatch = errors.New("cyclebasis: cycle basis inconsistent with incidence")

	// ErrNoBackend indicates Minimize was called without a solver backend.
	ErrNoBackend = errors.New("cyclebasis: nil solver backend")

	// ErrUnknownPolicy indicates an unrecognised weight or tie-break name.
	ErrUnknownPolicy = errors.New("cyclebasis: unknown policy")
)

// Weighting selects the branch weight minimised by each cycle program.
type Weighting string

const (
	// WeightReactance weighs a branch by its reactance (electrical length).
	WeightReactance Weighting = "reactance"
	// WeightUnit weighs every branch 1 (cycle length in branches).
	WeightUnit Weighting = "unit"
)

// TieBreak decides between cycles of equal weight.
type TieBreak string

const (
	// TieFewestBranches prefers the cycle with fewer branches.
	TieFewestBranches TieBreak = "fewest-branches"
	// TieLowestIndex prefers cycles made of lower-index branches.
	TieLowestIndex TieBreak = "lowest-index"
)

// ParseTieBreak maps a configuration string to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieFewestBranches, TieLowestIndex:
		return TieBreak(s), nil
	default:
		return "", fmt.Errorf("ParseTieBreak: %q: %w", s, ErrUnknownPolicy)
	}
}

// Options configures Minimize.
type Options struct {
	Weighting   Weighting
	TieBreak    TieBreak
	Parallelism int           // concurrent cycle programs, ≤ 0 means unlimited
	TimeLimit   time.Duration // per cycle program, 0 = none
	Logger      *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithWeighting sets the branch weighting.
func WithWeighting(w Weighting) Option { return func(o *Options) { o.Weighting = w } }

// WithTieBreak sets the tie-break rule.
func WithTieBreak(tb TieBreak) Option { return func(o *Options) { o.TieBreak = tb } }

// WithParallelism bounds the number of concurrent cycle programs.
func WithParallelism(n int) Option { return func(o *Options) { o.Parallelism = n } }

// WithTimeLimit bounds each cycle program; on time-out the fundamental cycle is kept.
func WithTimeLimit(d time.Duration) Option { return func(o *Options) { o.TimeLimit = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// DefaultOptions returns reactance weighting, fewest-branches tie-break,
// unlimited parallelism, and no time limit.
func DefaultOptions() Options {
	return Options{
		Weighting: WeightReactance,
		TieBreak:  TieFewestBranches,
		Logger:    slog.Default(),
	}
}

// Basis is a consistently oriented, linearly independent cycle basis.
//
// Cycles[k] contains NonTree[k] of its Topology traversed +1 and no later
// non-tree branch, so D restricted to the non-tree columns is lower triangular.
type Basis struct {
	Cycles            []grid.Cycle
	D                 *mat.Dense // nil when the network is a forest
	Weight            float64    // Σ branch weights over all cycles
	FundamentalWeight float64    // same for the spanning-tree basis
	Improved          int        // cycles strictly lighter than their fundamental cycle
	Fallbacks         int        // cycles kept fundamental after a time-out
}

// Size returns the number of cycles.
func (b *Basis) Size() int { return len(b.Cycles) }

// Nonzeros returns the number of non-zero entries of D.
func (b *Basis) Nonzeros() int {
	n := 0
	for _, c := range b.Cycles {
		n += len(c)
	}
	return n
}
