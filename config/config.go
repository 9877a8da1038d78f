// SPDX-License-Identifier: MIT
// Package config — Config, Default, Load, Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/katalvlaran/gridplan/bundle"
	"github.com/katalvlaran/gridplan/contingency"
	"github.com/katalvlaran/gridplan/cyclebasis"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds every tunable of one planning run.
type Config struct {
	// Convergence.
	MaxIterations      int     `yaml:"max_iterations" validate:"required,gt=0"`
	EpsilonGap         float64 `yaml:"epsilon_gap" validate:"gt=0,lt=1"`
	LevelParameter     float64 `yaml:"level_parameter" validate:"gt=0,lt=1"`
	Stabilization      string  `yaml:"stabilization" validate:"required"`
	MaxCutsPerScenario int     `yaml:"max_cuts_per_scenario" validate:"gte=2"`

	// Security.
	ContingencyLevel      string  `yaml:"contingency_level" validate:"required"`
	EpsilonContingency    float64 `yaml:"epsilon_contingency" validate:"gte=0"`
	MaxContingencyRounds  int     `yaml:"max_contingency_rounds" validate:"gte=1"`
	ContingenciesPerRound int     `yaml:"contingencies_per_round" validate:"gte=1"`
	EmergencyRatingFactor float64 `yaml:"emergency_rating_factor" validate:"gte=1"`
	CycleTieBreak         string  `yaml:"cycle_tie_break" validate:"required"`

	// Transmission correction.
	EpsilonCorrection       float64 `yaml:"epsilon_correction" validate:"gt=0"`
	CorrectionInterval      int     `yaml:"correction_interval" validate:"gte=1"`
	MaxCorrectionIterations int     `yaml:"max_correction_iterations" validate:"gte=1"` // fixed-point passes per correction
	MaxCorrectionRestarts   int     `yaml:"max_correction_restarts" validate:"gte=0"`   // master restarts per run, 0 freezes reactance

	// Horizon and economics.
	TimePeriods             int     `yaml:"time_periods" validate:"gte=1,lte=8784"`
	BudgetLimit             float64 `yaml:"budget_limit" validate:"gte=0"`
	CarbonTarget            float64 `yaml:"carbon_target"`
	ReserveMargin           float64 `yaml:"reserve_margin" validate:"gte=0,lte=1"`
	ValueOfLostLoad         float64 `yaml:"value_of_lost_load" validate:"gt=0"`
	ReserveShortfallPenalty float64 `yaml:"reserve_shortfall_penalty" validate:"gte=0"`
	CarbonPenalty           float64 `yaml:"carbon_penalty" validate:"gte=0"`
	AllowancePrice          float64 `yaml:"allowance_price" validate:"gte=0"`
	MaxAllowance            float64 `yaml:"max_allowance" validate:"gte=0"`
	StorageCycleCost        float64 `yaml:"storage_cycle_cost" validate:"gte=0"`
	DiscountRate            float64 `yaml:"discount_rate" validate:"gte=0,lt=1"`

	// Resources.
	SubproblemTimeLimit  time.Duration `yaml:"subproblem_time_limit" validate:"gte=0"`
	TimeLimitRelaxFactor float64       `yaml:"time_limit_relax_factor" validate:"gte=1"`
	WallClockLimit       time.Duration `yaml:"wall_clock_limit" validate:"gte=0"`
	Parallelism          int           `yaml:"parallelism" validate:"gte=0"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		MaxIterations:      100,
		EpsilonGap:         0.01,
		LevelParameter:     0.3,
		Stabilization:      string(bundle.StabilizeAnalyticCenter),
		MaxCutsPerScenario: 50,

		ContingencyLevel:      contingency.LevelN1.String(),
		EpsilonContingency:    1e-3,
		MaxContingencyRounds:  10,
		ContingenciesPerRound: 20,
		EmergencyRatingFactor: 1.0,
		CycleTieBreak:         string(cyclebasis.TieFewestBranches),

		EpsilonCorrection:       1e-3,
		CorrectionInterval:      3,
		MaxCorrectionIterations: 8,
		MaxCorrectionRestarts:   8,

		TimePeriods:             24,
		ValueOfLostLoad:         10000,
		ReserveShortfallPenalty: 1000,
		CarbonPenalty:           500,
		AllowancePrice:          50,
		DiscountRate:            0.07,

		SubproblemTimeLimit:  30 * time.Second,
		TimeLimitRelaxFactor: 2.0,
	}
}

// Load reads a YAML file over Default and validates the result.
//
// Errors: os errors, yaml decode errors, ErrInvalidConfig.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("Load: %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r over Default and validates the result.
// An empty document yields the defaults.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("Decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and the enumerated settings.
//
// Errors: ErrInvalidConfig wrapping the first failing rule.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return fmt.Errorf("Validate: %s fails %q (value %v): %w", f.Field(), f.Tag(), f.Value(), ErrInvalidConfig)
		}
		return fmt.Errorf("Validate: %v: %w", err, ErrInvalidConfig)
	}
	if _, err := contingency.ParseLevel(c.ContingencyLevel); err != nil {
		return fmt.Errorf("Validate: %v: %w", err, ErrInvalidConfig)
	}
	if _, err := bundle.ParseStabilization(c.Stabilization); err != nil {
		return fmt.Errorf("Validate: %v: %w", err, ErrInvalidConfig)
	}
	if _, err := cyclebasis.ParseTieBreak(c.CycleTieBreak); err != nil {
		return fmt.Errorf("Validate: %v: %w", err, ErrInvalidConfig)
	}
	if c.AllowancePrice > 0 && c.MaxAllowance > 0 && c.CarbonTarget <= 0 {
		return fmt.Errorf("Validate: allowances need a positive carbon_target: %w", ErrInvalidConfig)
	}
	return nil
}

// Level returns the parsed contingency level. Call after Validate.
func (c Config) Level() contingency.Level {
	l, _ := contingency.ParseLevel(c.ContingencyLevel)
	return l
}

// Stabilize returns the parsed stabilization. Call after Validate.
func (c Config) Stabilize() bundle.Stabilization {
	s, _ := bundle.ParseStabilization(c.Stabilization)
	return s
}

// TieBreak returns the parsed cycle tie-break. Call after Validate.
func (c Config) TieBreak() cyclebasis.TieBreak {
	tb, _ := cyclebasis.ParseTieBreak(c.CycleTieBreak)
	return tb
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("Marshal: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("Marshal: %w", err)
	}
	return buf.Bytes(), nil
}
