package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/infrasage/infrasage/internal/reasoning/selector"
	"github.com/infrasage/infrasage/internal/server"
	"github.com/infrasage/infrasage/internal/telemetry"
)

// ─── serve ────────────────────────────────────────────────────────────────────

func newServeCmd(a *app) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API with the learning scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			core, err := server.NewCore(ctx, *a.cfg, nil)
			if err != nil {
				return err
			}
			defer core.Close()

			var opts []server.Option
			if !noWatch && a.configs.ConfigFileUsed() != "" {
				opts = append(opts, server.WithConfigManager(a.configs))
			}
			srv, err := server.NewServer(core, opts...)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload learning thresholds when the config file changes")
	return cmd
}

// ─── reason ───────────────────────────────────────────────────────────────────

func newReasonCmd(a *app) *cobra.Command {
	var rawContext string
	cmd := &cobra.Command{
		Use:   "reason <request>",
		Short: "Decide an architecture for a free-text request",
		Example: `  infrasage reason "web app for 500 users, budget $150/month"
  infrasage reason "api service" --context '{"users": 20000, "security": "high"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqContext map[string]any
			if rawContext != "" {
				if err := json.Unmarshal([]byte(rawContext), &reqContext); err != nil {
					return fmt.Errorf("--context must be a JSON object: %w", err)
				}
			}

			core, err := a.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			res, err := core.Engine.ReasonThroughProblem(cmd.Context(), strings.Join(args, " "), reqContext)
			if err != nil {
				if errors.Is(err, selector.ErrNoCandidates) {
					return fmt.Errorf("%w; relax the budget or security requirements", err)
				}
				return err
			}
			if res.LogError != nil {
				fmt.Fprintf(a.stderr, "warning: decision not recorded: %v\n", res.LogError)
			}
			if a.jsonOutput {
				return a.printJSON(res)
			}
			renderDecision(a.stdout, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawContext, "context", "", "JSON object overriding values parsed from the request")
	return cmd
}

// ─── history ──────────────────────────────────────────────────────────────────

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		since  time.Duration
		opType string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded operations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := a.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			f := telemetry.Filter{OperationType: opType, Limit: limit}
			if since > 0 {
				f.From = time.Now().Add(-since)
			}
			entries, err := core.Log.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(entries)
			}
			renderHistory(a.stdout, entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of operations")
	cmd.Flags().DurationVar(&since, "since", 0, "only operations newer than this (e.g. 24h)")
	cmd.Flags().StringVar(&opType, "type", "", "only this operation type")
	return cmd
}

// ─── summary ──────────────────────────────────────────────────────────────────

func newSummaryCmd(a *app) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate the operation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := a.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			s, err := core.Log.Aggregate(cmd.Context(), from, time.Time{})
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(s)
			}
			renderSummary(a.stdout, s)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only operations newer than this (e.g. 168h)")
	return cmd
}

// ─── learn ────────────────────────────────────────────────────────────────────

func newLearnCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Run one learning pass over operations not yet learned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			core, err := a.openCore(ctx)
			if err != nil {
				return err
			}
			defer core.Close()

			res, err := core.Learning.RunLearningPass(ctx)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(res)
			}
			renderPass(a.stdout, res, core.Learning.Patterns())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the pass after this long; finished batches are kept")
	return cmd
}

// ─── insights ─────────────────────────────────────────────────────────────────

func newInsightsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "insights",
		Short: "Show optimization suggestions and adaptation rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, err := a.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			ins := core.Learning.Insights()
			if a.jsonOutput {
				return a.printJSON(ins)
			}
			renderInsights(a.stdout, ins)
			return nil
		},
	}
}

// ─── cleanup ──────────────────────────────────────────────────────────────────

func newCleanupCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		patterns  bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete operations (and optionally learning patterns) past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan == 0 {
				if a.cfg.Telemetry.RetentionDays <= 0 {
					return fmt.Errorf("retention is disabled; pass --older-than")
				}
				olderThan = time.Duration(a.cfg.Telemetry.RetentionDays) * 24 * time.Hour
			}
			if olderThan < 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			before := time.Now().Add(-olderThan)

			core, err := a.openCore(cmd.Context())
			if err != nil {
				return err
			}
			defer core.Close()

			res := cleanupResult{Before: before}
			if res.Operations, err = core.Log.Cleanup(cmd.Context(), before); err != nil {
				return err
			}
			if patterns {
				if res.LearningPatterns, err = core.Learning.CleanupPatterns(cmd.Context(), before); err != nil {
					return err
				}
			}
			if a.jsonOutput {
				return a.printJSON(res)
			}
			renderCleanup(a.stdout, res, patterns)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete entries older than this (default: telemetry.retention_days)")
	cmd.Flags().BoolVar(&patterns, "patterns", false, "also delete learning patterns not seen since the cutoff")
	return cmd
}

type cleanupResult struct {
	Before           time.Time `json:"before"`
	Operations       int64     `json:"operations"`
	LearningPatterns int64     `json:"learning_patterns"`
}
