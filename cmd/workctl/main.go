// Package main implements workctl, a command line tool that generates,
// validates and benchmarks work locally and queries the stores written by
// workd.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bardlex/nanowork/internal/engine"
	"github.com/bardlex/nanowork/internal/search"
	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

var version = "dev"

// globalFlags are shared by every subcommand
type globalFlags struct {
	output   string // json or text
	logLevel string
	workers  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "workctl",
		Short:         "Generate and validate proof-of-work",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			switch flags.output {
			case "json", "text":
				return nil
			default:
				return fmt.Errorf("unknown output format %q (json|text)", flags.output)
			}
		},
	}

	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format: json|text")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "error", "log level: debug|info|warn|error")
	root.PersistentFlags().IntVarP(&flags.workers, "workers", "w", 0, "search workers (0 = one per CPU)")

	root.AddCommand(
		newGenerateCmd(flags),
		newValidateCmd(flags),
		newBenchCmd(flags),
		newStatusCmd(flags),
		newAuditCmd(flags),
		newHashrateCmd(flags),
	)
	return root
}

// newEngine builds a local engine from the global flags
func newEngine(flags *globalFlags, maxAttempts uint64) *engine.Engine {
	logger := log.New("workctl", version, flags.logLevel, "text")
	coordinator := search.NewCoordinator(&search.Config{
		Workers:     flags.workers,
		BatchSize:   search.DefaultBatchSize,
		MaxAttempts: maxAttempts,
	}, logger)
	return engine.New(coordinator, logger)
}

// parseDifficulty accepts a 16 digit hex threshold or a preset name
func parseDifficulty(s string) (uint64, error) {
	switch strings.ToLower(s) {
	case "send", "change":
		return work.ThresholdSend, nil
	case "receive", "open", "epoch":
		return work.ThresholdReceive, nil
	case "legacy":
		return work.ThresholdLegacy, nil
	}
	return work.ParseThresholdHex(s)
}

// resolveDifficulty applies an optional multiplier to the base difficulty
func resolveDifficulty(s string, multiplier float64) (uint64, error) {
	base, err := parseDifficulty(s)
	if err != nil {
		return 0, fmt.Errorf("invalid difficulty: %w", err)
	}
	if multiplier == 0 || multiplier == 1 {
		return base, nil
	}
	if multiplier < 0 {
		return 0, fmt.Errorf("multiplier must be positive")
	}
	return work.FromMultiplier(multiplier, base), nil
}

func formatHashrate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 0, 64) + " H/s"
}

// printResult renders fields as indented JSON or as aligned key/value lines
func printResult(w io.Writer, format string, fields [][2]string) error {
	if format == "json" {
		obj := make(map[string]string, len(fields))
		for _, f := range fields {
			obj[f[0]] = f[1]
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(obj)
	}

	width := 0
	for _, f := range fields {
		width = max(width, len(f[0]))
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%-*s  %s\n", width, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}
