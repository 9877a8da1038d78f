// SPDX-License-Identifier: MIT
// Command gridplan runs the capacity-expansion planner from the command line.
//
//	gridplan demo [--config plan.yaml] [--metrics-addr :9090]
//	gridplan config print
//	gridplan config validate plan.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gridplan:", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

type rootFlags struct {
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "gridplan",
		Short:         "Least-cost, n-1 secure transmission and storage expansion planning",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.AddCommand(newDemoCmd(&flags), newConfigCmd())
	return root
}

// logger writes text records at the requested level to stderr.
func (f *rootFlags) logger(cmd *cobra.Command) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(f.logLevel))); err != nil {
		return nil, fmt.Errorf("--log-level %q: %w", f.logLevel, err)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}
