package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"reddit-lead-generator/internal/drip"
	"reddit-lead-generator/internal/generation"
	"reddit-lead-generator/internal/queue"
	"reddit-lead-generator/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded SQL migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := store.New(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.RunMigrations(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered sweep targets",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered sweep targets, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt64("limit")
		q := queue.NewRedisQueue(cfg)
		defer q.Close()
		keys, err := q.DLQPeek(cmd.Context(), limit)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <owner:product>",
	Short: "Schedule a sweep target to run immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := queue.NewRedisQueue(cfg)
		defer q.Close()
		target, _, err := q.Target(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := q.Schedule(cmd.Context(), target, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s\n", target.Key())
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run sweep generations by hand",
}

var sweepOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Generate leads for one owner/product with sweep settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		product, _ := cmd.Flags().GetString("product")
		ctx := cmd.Context()

		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer st.Close()
		gen, err := generation.FromConfig(ctx, cfg, st)
		if err != nil {
			return err
		}
		res, err := gen.Generate(ctx, generation.Request{
			OwnerID:        owner,
			ProductID:      product,
			ImmediateCount: cfg.SweepImmediateLeads,
			Trigger:        generation.TriggerSweep,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Drip schedule tools",
}

type previewRow struct {
	Index     int       `json:"index"`
	ReleaseAt time.Time `json:"release_at"`
	OffsetMin float64   `json:"offset_minutes"`
}

var schedulePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the release times a batch of the given size would get",
	RunE: func(cmd *cobra.Command, _ []string) error {
		count, _ := cmd.Flags().GetInt("count")
		immediate, _ := cmd.Flags().GetInt("immediate")
		seed, _ := cmd.Flags().GetInt64("seed")
		if count < 0 {
			return fmt.Errorf("count must not be negative")
		}

		rnd := drip.DefaultRand
		if seed != 0 {
			rnd = rand.New(rand.NewSource(seed))
		}
		now := time.Now().UTC().Truncate(time.Second)
		times := drip.Schedule(now, count, drip.Options{ImmediateCount: immediate}, rnd)

		rows := make([]previewRow, len(times))
		for i, at := range times {
			rows[i] = previewRow{Index: i, ReleaseAt: at, OffsetMin: at.Sub(now).Minutes()}
		}
		remaining := count - immediate
		if remaining < 0 {
			remaining = 0
		}
		return printJSON(cmd, map[string]any{
			"base_interval_minutes": drip.BaseInterval(remaining),
			"releases":              rows,
		})
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	dlqListCmd.Flags().Int64("limit", 50, "maximum entries to show")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd)

	sweepOnceCmd.Flags().String("owner", "", "owner user id")
	sweepOnceCmd.Flags().String("product", "", "product id")
	_ = sweepOnceCmd.MarkFlagRequired("owner")
	_ = sweepOnceCmd.MarkFlagRequired("product")
	sweepCmd.AddCommand(sweepOnceCmd)

	schedulePreviewCmd.Flags().Int("count", 5, "number of leads in the batch")
	schedulePreviewCmd.Flags().Int("immediate", 0, "leads released at once")
	schedulePreviewCmd.Flags().Int64("seed", 0, "seed for reproducible jitter (0 uses the global source)")
	scheduleCmd.AddCommand(schedulePreviewCmd)
}
