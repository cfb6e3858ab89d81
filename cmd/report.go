package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/report"
	"github.com/sells-group/funnel-sync/internal/window"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Maintain the spreadsheet report",
}

var reportRollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Publish meetings booked per day since --since",
	Long: `Writes the number of meetings booked for each day into the report and the
daily average into the month fact column. --since defaults to the first day
of the current week-month.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !cfg.Report.Enabled {
			return eris.New("report rollup: report.enabled is false")
		}

		env, err := initSync(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		since, _ := cmd.Flags().GetString("since")
		start, err := rollupStart(since, time.Now(), env.Loc)
		if err != nil {
			return err
		}
		return env.Job.Rollup(ctx, start)
	},
}

// rollupStart resolves --since, defaulting to the first day of the month the
// current ISO week belongs to.
func rollupStart(since string, now time.Time, loc *time.Location) (window.Day, error) {
	if since != "" {
		d, err := window.ParseDay(since)
		if err != nil {
			return window.Day{}, eris.Wrapf(err, "invalid date %q", since)
		}
		return d, nil
	}
	monday, _ := report.WeekOf(window.DayOf(now, loc))
	return window.Day{Year: monday.Year, Month: monday.Month, Day: 1}, nil
}

func init() {
	reportRollupCmd.Flags().String("since", "", "first day to include (YYYY-MM-DD)")
	reportCmd.AddCommand(reportRollupCmd)
	rootCmd.AddCommand(reportCmd)
}
