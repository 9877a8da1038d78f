// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/katalvlaran/gridplan/config"
	"github.com/katalvlaran/gridplan/grid"
	"github.com/katalvlaran/gridplan/planner"
)

type demoFlags struct {
	configPath  string
	load        float64
	weight      float64
	metricsAddr string
	progress    bool
}

// newDemoCmd runs the three-node case: one 200 MW unit at n1, a flat load at
// n3, 100 MW lines, candidate storage at n3 and reinforcements on every line.
func newDemoCmd(root *rootFlags) *cobra.Command {
	var flags demoFlags
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Plan the three-node triangle and print the result as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := root.logger(cmd)
			if err != nil {
				return err
			}
			cfg := config.Default()
			if flags.configPath != "" {
				if cfg, err = config.Load(flags.configPath); err != nil {
					return err
				}
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			if flags.metricsAddr != "" {
				stop, err := serveMetrics(flags.metricsAddr, reg)
				if err != nil {
					return err
				}
				defer stop()
			}

			opts := []planner.Option{planner.WithRegisterer(reg), planner.WithLogger(log)}
			if flags.progress {
				out := cmd.ErrOrStderr()
				opts = append(opts, planner.WithProgress(func(p planner.Progress) {
					fmt.Fprintf(out, "iteration %3d  lower %14.2f  upper %14.2f  gap %8.4f  %6.1fs\n",
						p.Iteration, p.LowerBound, p.UpperBound, p.Gap, p.ElapsedSeconds)
				}))
			}

			day := grid.Flat("demo", cfg.TimePeriods, flags.weight, map[string]float64{"n3": flags.load})
			res, err := planner.Optimize(cmd.Context(), grid.Triangle(), []grid.Scenario{day}, cfg, opts...)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "YAML configuration file (defaults when empty)")
	cmd.Flags().Float64Var(&flags.load, "load", 150, "flat load at n3 (MW)")
	cmd.Flags().Float64Var(&flags.weight, "weight", 365, "days per year the demo day represents")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while planning")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "print one line per master iteration to stderr")
	return cmd
}

// serveMetrics exposes reg on addr/metrics until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Println("metrics server:", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
