// SPDX-License-Identifier: MIT
// Package config — planner configuration: defaults, YAML loading, validation.
//
// A Config is a plain value. Default returns the documented defaults, Load
// overlays a YAML file on them (unknown keys are rejected), and Validate runs
// the struct-tag rules followed by the cross-field checks that need the
// parsers of the planning packages (contingency level, stabilization,
// cycle tie-break).
//
//	cfg, err := config.Load("plan.yaml")
//	if err != nil { ... }
//	res, err := planner.Optimize(ctx, net, scenarios, cfg)
//
// Only the CLI reads files; planner.Optimize consumes an already built value.
package config
