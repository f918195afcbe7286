package main

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/pkg/models"
)

// buildBenchmarkContinuityCmd builds the "benchmark-continuity"
// command: drive GetContextWindow and RecordTurn over a synthetic
// entity/user a fixed number of times and report latency percentiles,
// exercising the full hot+cold continuity path the same way a real
// turn does.
func buildBenchmarkContinuityCmd() *cobra.Command {
	var (
		configPath string
		entityID   string
		userID     string
		turns      int
	)

	cmd := &cobra.Command{
		Use:   "benchmark-continuity",
		Short: "Measure continuity memory latency over synthetic turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmarkContinuity(cmd, configPath, entityID, userID, turns)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cortexd.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity ID to benchmark against (default: a throwaway UUID)")
	cmd.Flags().StringVar(&userID, "user", "", "user ID to benchmark against (default: a throwaway UUID)")
	cmd.Flags().IntVar(&turns, "turns", 50, "number of synthetic turns to record and read back")

	return cmd
}

func runBenchmarkContinuity(cmd *cobra.Command, configPath, entityID, userID string, turns int) error {
	if entityID == "" {
		entityID = "bench-" + uuid.NewString()
	}
	if userID == "" {
		userID = "bench-" + uuid.NewString()
	}
	if turns <= 0 {
		turns = 50
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	ctx := cmd.Context()

	stack, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	recordLatencies := make([]time.Duration, 0, turns)
	contextLatencies := make([]time.Duration, 0, turns)

	for i := 0; i < turns; i++ {
		turn := models.EpisodicTurn{
			Role:      "user",
			Content:   fmt.Sprintf("benchmark turn %d at %s", i, time.Now().Format(time.RFC3339)),
			Timestamp: time.Now(),
		}

		start := time.Now()
		if err := stack.continuitySvc.RecordTurn(ctx, entityID, userID, turn); err != nil {
			return fmt.Errorf("record turn %d: %w", i, err)
		}
		recordLatencies = append(recordLatencies, time.Since(start))

		start = time.Now()
		if _, err := stack.continuitySvc.GetContextWindow(ctx, entityID, userID, turn.Content); err != nil {
			return fmt.Errorf("context window %d: %w", i, err)
		}
		contextLatencies = append(contextLatencies, time.Since(start))
	}

	report := cmd.OutOrStdout()
	fmt.Fprintf(report, "recordTurn:       %s\n", summarizeLatencies(recordLatencies))
	fmt.Fprintf(report, "getContextWindow: %s\n", summarizeLatencies(contextLatencies))
	return nil
}

// summarizeLatencies reports min/p50/p95/max over a batch of
// latencies already in the order they were observed.
func summarizeLatencies(d []time.Duration) string {
	if len(d) == 0 {
		return "n/a"
	}
	sorted := append([]time.Duration(nil), d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pct := func(p float64) time.Duration {
		idx := int(math.Ceil(p*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}

	return fmt.Sprintf("n=%d min=%s p50=%s p95=%s max=%s",
		len(sorted), sorted[0], pct(0.5), pct(0.95), sorted[len(sorted)-1])
}
