package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/window"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile one business day",
	Long:  "Runs a single reconciliation tick for --date (default today) and publishes its statistics unless --no-publish is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		date, _ := cmd.Flags().GetString("date")
		noPublish, _ := cmd.Flags().GetBool("no-publish")

		env, err := initSync(ctx, !noPublish)
		if err != nil {
			return err
		}
		defer env.Close()

		day, err := dayOrToday(date, time.Now(), env.Loc)
		if err != nil {
			return err
		}

		if err := env.bootstrap(ctx); err != nil {
			return err
		}

		res, err := env.Job.RunWindow(ctx, window.ForDay(day, env.Loc))
		if err != nil {
			return eris.Wrapf(err, "sync %s", day)
		}

		zap.L().Info("sync complete",
			zap.String("day", day.String()),
			zap.Int("fetched", res.Fetched),
			zap.Int("inserted", res.Inserted),
			zap.Int("merged", res.Merged),
			zap.Int("deleted", res.Deleted),
		)
		fmt.Printf("%s: fetched %d, inserted %d, merged %d, deleted %d\n",
			day, res.Fetched, res.Inserted, res.Merged, res.Deleted)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print funnel statistics of a day as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		day, err := dayOrToday(date, time.Now(), loc)
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s, err := newAggregator(cfg, st).Compute(ctx, window.ForDay(day, loc))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	},
}

func init() {
	syncCmd.Flags().String("date", "", "business day to reconcile (YYYY-MM-DD, default today)")
	syncCmd.Flags().Bool("no-publish", false, "skip writing the report")
	statsCmd.Flags().String("date", "", "business day (YYYY-MM-DD, default today)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
}
