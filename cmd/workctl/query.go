package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bardlex/nanowork/internal/config"
	"github.com/bardlex/nanowork/internal/database/influx"
	"github.com/bardlex/nanowork/internal/database/postgres"
	"github.com/bardlex/nanowork/internal/database/redis"
)

// Query commands read the stores written by workd. Connection settings come
// from the same environment variables the service uses.

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var requester string

	cmd := &cobra.Command{
		Use:   "status REQUEST_ID",
		Short: "Show the cached status of a work request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client, err := redis.NewClient(&redis.Config{URL: cfg.RedisURL, DialTimeout: 5 * time.Second})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx := commandContext(cmd)
			status, err := client.GetRequestStatus(ctx, args[0])
			if err != nil {
				return err
			}

			fields := statusFields(status)
			if requester != "" {
				used, err := client.RateLimitUsage(ctx, requester, time.Minute)
				if err != nil {
					return err
				}
				fields = append(fields, [2]string{"rate_limit", fmt.Sprintf("%d/%d", used, cfg.RateLimitPerMinute)})
			}
			return printResult(cmd.OutOrStdout(), flags.output, fields)
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "also show this requester's rate limit usage")
	return cmd
}

func newAuditCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the work request audit trail",
	}

	withRepo := func(cmd *cobra.Command, fn func(context.Context, *postgres.WorkRepository) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cfg.PostgresEnabled() {
			return fmt.Errorf("POSTGRES_URL is not set")
		}
		client, err := postgres.NewClient(&postgres.Config{URL: cfg.PostgresURL, MaxOpenConns: 1, MaxIdleConns: 1})
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		return fn(commandContext(cmd), postgres.NewWorkRepository(client.DB()))
	}

	var limit int
	rootCmd := &cobra.Command{
		Use:   "root ROOT",
		Short: "List recent requests for a root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *postgres.WorkRepository) error {
				records, err := repo.ListByRoot(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), flags.output, records)
			})
		},
	}
	rootCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records")

	requestCmd := &cobra.Command{
		Use:   "request REQUEST_ID",
		Short: "Show one request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *postgres.WorkRepository) error {
				rec, err := repo.GetByRequestID(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags.output, recordFields(rec))
			})
		},
	}

	var since time.Duration
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize requests over a time range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, func(ctx context.Context, repo *postgres.WorkRepository) error {
				stats, err := repo.Stats(ctx, time.Now().Add(-since))
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags.output, [][2]string{
					{"since", since.String()},
					{"generated", strconv.FormatInt(stats.Generated, 10)},
					{"validated", strconv.FormatInt(stats.Validated, 10)},
					{"failed", strconv.FormatInt(stats.Failed, 10)},
					{"attempts", strconv.FormatInt(stats.TotalAttempts, 10)},
					{"avg_duration_ms", strconv.FormatFloat(stats.AvgDurationMs, 'f', 2, 64)},
				})
			})
		},
	}
	statsCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "time range")

	cmd.AddCommand(rootCmd, requestCmd, statsCmd)
	return cmd
}

func newHashrateCmd(flags *globalFlags) *cobra.Command {
	var (
		duration time.Duration
		every    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "hashrate",
		Short: "Show search hashrate and outcomes recorded by workd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.InfluxEnabled() {
				return fmt.Errorf("INFLUX_TOKEN is not set")
			}
			client, err := influx.NewClient(&influx.Config{
				URL:     cfg.InfluxURL,
				Token:   cfg.InfluxToken,
				Org:     cfg.InfluxOrg,
				Bucket:  cfg.InfluxBucket,
				Service: cfg.ServiceName,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := commandContext(cmd)
			stats, err := client.GetSearchStats(ctx, duration)
			if err != nil {
				return err
			}
			history, err := client.GetHashrateHistory(ctx, duration, every)
			if err != nil {
				return err
			}

			fields := [][2]string{{"searches", strconv.FormatInt(stats.Total, 10)}}
			states := make([]string, 0, len(stats.ByState))
			for state := range stats.ByState {
				states = append(states, state)
			}
			sort.Strings(states)
			for _, state := range states {
				fields = append(fields, [2]string{state, strconv.FormatInt(stats.ByState[state], 10)})
			}
			for _, p := range history {
				fields = append(fields, [2]string{p.Time.Format(time.RFC3339), formatHashrate(p.Hashrate)})
			}
			return printResult(cmd.OutOrStdout(), flags.output, fields)
		},
	}

	cmd.Flags().DurationVar(&duration, "range", time.Hour, "time range")
	cmd.Flags().DurationVar(&every, "every", 5*time.Minute, "aggregation window")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func statusFields(s *redis.RequestStatus) [][2]string {
	fields := [][2]string{
		{"request_id", s.RequestID},
		{"action", s.Action},
		{"root", s.Root},
		{"status", s.Status},
	}
	if s.Work != "" {
		fields = append(fields, [2]string{"work", s.Work})
	}
	if !s.UpdatedAt.IsZero() {
		fields = append(fields, [2]string{"updated_at", s.UpdatedAt.Format(time.RFC3339)})
	}
	return fields
}

func recordFields(rec *postgres.WorkRecord) [][2]string {
	fields := [][2]string{
		{"request_id", rec.RequestID},
		{"requester", rec.Requester},
		{"action", rec.Action},
		{"root", rec.Root},
		{"difficulty", rec.Difficulty},
		{"status", rec.Status},
	}
	if rec.Work != nil {
		fields = append(fields, [2]string{"work", *rec.Work})
	}
	if rec.ErrorType != nil {
		fields = append(fields, [2]string{"error_type", *rec.ErrorType})
	}
	return append(fields,
		[2]string{"attempts", strconv.FormatInt(rec.Attempts, 10)},
		[2]string{"duration_ms", strconv.FormatFloat(rec.DurationMs, 'f', 2, 64)},
		[2]string{"completed_at", rec.CompletedAt.Format(time.RFC3339)},
	)
}

// printRecords prints one block per record, separated by blank lines in text
// mode and one JSON object per record otherwise
func printRecords(w io.Writer, format string, records []*postgres.WorkRecord) error {
	for i, rec := range records {
		if i > 0 && format == "text" {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := printResult(w, format, recordFields(rec)); err != nil {
			return err
		}
	}
	return nil
}
