package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-sync/internal/window"
)

var resetFlagsCmd = &cobra.Command{
	Use:   "reset-flags",
	Short: "Clear milestone flags of recent leads",
	Long: `Clears the qualified, recorded, met and sold flags of every lead created in
the last --days business days. The next sync of each day reclassifies them.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return eris.New("reset-flags: --days must be > 0")
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since := resetSince(time.Now(), days, loc)
		n, err := st.ResetFlags(ctx, since)
		if err != nil {
			return err
		}
		zap.L().Info("milestone flags reset", zap.Int64("leads", n), zap.Int("days", days))
		fmt.Printf("reset %d leads\n", n)
		return nil
	},
}

// resetSince is the start of the oldest of the last days business days.
func resetSince(now time.Time, days int, loc *time.Location) int64 {
	return window.DayOf(now, loc).AddDays(-(days - 1)).Start(loc).Unix()
}

func init() {
	resetFlagsCmd.Flags().Int("days", 7, "number of business days to reset, today included")
	rootCmd.AddCommand(resetFlagsCmd)
}
