package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/nanowork/internal/work"
	"github.com/bardlex/nanowork/pkg/log"
)

func newGenerateCmd(flags *globalFlags) *cobra.Command {
	var (
		difficulty  string
		multiplier  float64
		timeout     time.Duration
		maxAttempts uint64
	)

	cmd := &cobra.Command{
		Use:   "generate ROOT",
		Short: "Search for work meeting a difficulty",
		Long: `Search for a nonce whose work value for ROOT meets the difficulty.

Examples:
  workctl generate 8D3E5F07BFF7B7484CDCB392F47009F62997253D28BD98B94BCED95F03C4DA09
  workctl generate <root> --difficulty receive --multiplier 2
  workctl generate <root> --difficulty fffffe0000000000 --timeout 30s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := work.ParseRootHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid root: %w", err)
			}
			threshold, err := resolveDifficulty(difficulty, multiplier)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			result, err := newEngine(flags, maxAttempts).Generate(ctx, root, threshold)
			if err != nil {
				return err
			}

			value := work.WorkValue(root, result.Nonce)
			return printResult(cmd.OutOrStdout(), flags.output, [][2]string{
				{"work", result.Nonce.String()},
				{"difficulty", work.FormatThreshold(value)},
				{"multiplier", strconv.FormatFloat(work.Multiplier(value, threshold), 'f', 6, 64)},
				{"attempts", strconv.FormatUint(result.Attempts, 10)},
				{"workers", strconv.Itoa(result.Workers)},
				{"duration", result.Duration.String()},
			})
		},
	}

	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "send", "threshold as 16 hex digits or send|receive|legacy")
	cmd.Flags().Float64VarP(&multiplier, "multiplier", "m", 1, "multiply the difficulty")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "give up after this long (0 = no limit)")
	cmd.Flags().Uint64Var(&maxAttempts, "max-attempts", 0, "give up after this many nonces (0 = no limit)")
	return cmd
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var (
		difficulty string
		multiplier float64
	)

	cmd := &cobra.Command{
		Use:   "validate ROOT WORK",
		Short: "Check work against a difficulty",
		Long: `Check whether WORK (16 hex digits) meets the difficulty for ROOT.
Exits non-zero when the work is invalid.

Example:
  workctl validate 8D3E5F07BFF7B7484CDCB392F47009F62997253D28BD98B94BCED95F03C4DA09 4effb6b0cd5625e2 -d legacy`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := work.ParseRootHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid root: %w", err)
			}
			nonce, err := work.ParseNonceHex(args[1])
			if err != nil {
				return fmt.Errorf("invalid work: %w", err)
			}
			threshold, err := resolveDifficulty(difficulty, multiplier)
			if err != nil {
				return err
			}

			valid := newEngine(flags, 0).ValidateWork(root, nonce, threshold)
			value := work.WorkValue(root, nonce)

			if err := printResult(cmd.OutOrStdout(), flags.output, [][2]string{
				{"valid", strconv.FormatBool(valid)},
				{"value", work.FormatThreshold(value)},
				{"threshold", work.FormatThreshold(threshold)},
				{"multiplier", strconv.FormatFloat(work.Multiplier(value, threshold), 'f', 6, 64)},
			}); err != nil {
				return err
			}
			if !valid {
				return fmt.Errorf("work %s does not meet %s", nonce, work.FormatThreshold(threshold))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "send", "threshold as 16 hex digits or send|receive|legacy")
	cmd.Flags().Float64VarP(&multiplier, "multiplier", "m", 1, "multiply the difficulty")
	return cmd
}

func newBenchCmd(flags *globalFlags) *cobra.Command {
	var (
		difficulty string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure generation speed on random roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			threshold, err := parseDifficulty(difficulty)
			if err != nil {
				return fmt.Errorf("invalid difficulty: %w", err)
			}

			ctx := commandContext(cmd)

			eng := newEngine(flags, 0)
			var (
				attempts uint64
				elapsed  time.Duration
				workers  int
			)
			for i := 0; i < count; i++ {
				var root work.Root
				for j := 0; j < len(root); j += 8 {
					v := rand.Uint64()
					for k := 0; k < 8; k++ {
						root[j+k] = byte(v >> (8 * k))
					}
				}

				result, err := eng.Generate(ctx, root, threshold)
				if err != nil {
					return err
				}
				if !eng.ValidateWork(root, result.Nonce, threshold) {
					return fmt.Errorf("generated work %s failed validation", result.Nonce)
				}
				attempts += result.Attempts
				elapsed += result.Duration
				workers = result.Workers
			}

			log.New("workctl", version, flags.logLevel, "text").
				LogThroughput("bench", int64(attempts), elapsed.Nanoseconds())

			rate := 0.0
			if elapsed > 0 {
				rate = float64(attempts) / elapsed.Seconds()
			}

			return printResult(cmd.OutOrStdout(), flags.output, [][2]string{
				{"generations", strconv.Itoa(count)},
				{"threshold", work.FormatThreshold(threshold)},
				{"workers", strconv.Itoa(workers)},
				{"average", (elapsed / time.Duration(count)).String()},
				{"attempts", strconv.FormatUint(attempts, 10)},
				{"hashrate", formatHashrate(rate)},
			})
		},
	}

	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "fffff00000000000", "threshold as 16 hex digits or send|receive|legacy")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of generations")
	return cmd
}
