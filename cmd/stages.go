package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/reconcile"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Manage pipeline stage definitions",
}

var stagesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload stage definitions of the tracked pipelines from amoCRM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initSync(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := reconcile.RefreshStages(ctx, env.Client, env.Store, cfg.Funnel.CommonPipeline, cfg.Funnel.SuccessPipeline)
		if err != nil {
			return err
		}
		fmt.Printf("stored %d stages\n", n)
		return nil
	},
}

var stagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored stages and their ranks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stages, err := st.Stages(ctx)
		if err != nil {
			return err
		}
		if len(stages) == 0 {
			fmt.Fprintln(os.Stderr, "No stages stored. Run `funnel-sync stages refresh` first.")
			return nil
		}
		formatStages(os.Stdout, stages)
		return nil
	},
}

var managersCmd = &cobra.Command{
	Use:   "managers",
	Short: "Manage reviewer-group managers",
}

var managersRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload users of the reviewer group from amoCRM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initSync(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := reconcile.RefreshManagers(ctx, env.Client, env.Store, cfg.Funnel.ReviewerGroup)
		if err != nil {
			return err
		}
		fmt.Printf("stored %d managers\n", n)
		return nil
	},
}

func formatStages(out io.Writer, stages []funnel.Stage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PIPELINE\tSTATUS\tRANK\tNAME")
	_, _ = fmt.Fprintln(w, "--------\t------\t----\t----")
	for _, s := range stages {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", s.PipelineID, s.StatusID, s.Rank, s.Name)
	}
	_ = w.Flush()
}

func init() {
	stagesCmd.AddCommand(stagesRefreshCmd)
	stagesCmd.AddCommand(stagesListCmd)
	managersCmd.AddCommand(managersRefreshCmd)

	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(managersCmd)
}
