// SPDX-License-Identifier: MIT
// Package contingency defines outage sets, screening options, violation
// records, and sentinel errors for the contingency oracle.
package contingency

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrIslanding indicates an outage that splits an AC component; linear
	// distribution factors do not exist for it.
	ErrIslanding = errors.New("contingency: outage islands the network")

	// ErrSingular indicates that D·X·Dᵗ is not positive definite.
	ErrSingular = errors.New("contingency: singular cycle reactance matrix")

	// ErrDimension indicates mismatched input lengths.
	ErrDimension = errors.New("contingency: dimension mismatch")

	// ErrUnknownLevel indicates an unrecognised contingency level name.
	ErrUnknownLevel = errors.New("contingency: unknown level")
)

// Level is the security criterion.
type Level int

const (
	// LevelNone disables screening.
	LevelNone Level = iota
	// LevelN1 screens every single-branch outage.
	LevelN1
	// LevelN11 screens single outages and every pair of branch outages.
	LevelN11
)

// String returns the configuration spelling.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelN1:
		return "n-1"
	case LevelN11:
		return "n-1-1"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps "none", "n-1", "n-1-1" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "n-1":
		return LevelN1, nil
	case "n-1-1":
		return LevelN11, nil
	default:
		return LevelNone, fmt.Errorf("ParseLevel: %q: %w", s, ErrUnknownLevel)
	}
}

// Outage is a set of one or two simultaneously lost branches, ascending.
type Outage []int

// Key returns a stable map key ("3" or "3+7").
func (o Outage) Key() string {
	parts := make([]string, len(o))
	for i, b := range o {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, "+")
}

// Less orders outages by size, then lexicographically.
func (o Outage) Less(p Outage) bool {
	if len(o) != len(p) {
		return len(o) < len(p)
	}
	for i := range o {
		if o[i] != p[i] {
			return o[i] < p[i]
		}
	}
	return false
}

// Violation is one (hour, outage, monitored branch) post-outage overload.
// Beta holds the distribution factors: the post-outage flow on Branch is
// f_Branch + Σ_j Beta[j]·f_{Outage[j]}.
type Violation struct {
	Hour   int
	Outage Outage
	Branch int
	Flow   float64 // post-outage flow
	Limit  float64 // emergency rating used
	Excess float64 // |Flow| − Limit, > 0
	Beta   []float64
}

// Key identifies the violated constraint independent of its magnitude.
func (v Violation) Key() string {
	return fmt.Sprintf("%d|%s|%d", v.Hour, v.Outage.Key(), v.Branch)
}

// ScreenOptions configures Screen.
type ScreenOptions struct {
	Level         Level
	Epsilon       float64 // MW, violations at or below are ignored
	MaxViolations int     // top-K returned, ≤ 0 means all
}

// Report is the outcome of one screening pass.
type Report struct {
	Violations     []Violation // worst first, at most MaxViolations
	Worst          float64     // largest excess seen, 0 when secure
	Cases          int         // (hour, outage) pairs screened
	ViolatingCases int         // cases with at least one overload > Epsilon
	Islanding      []Outage    // outages skipped because they island the network
}

// Compliance returns the share of screened cases without overload (1 when none screened).
func (r Report) Compliance() float64 {
	if r.Cases == 0 {
		return 1
	}
	return 1 - float64(r.ViolatingCases)/float64(r.Cases)
}
