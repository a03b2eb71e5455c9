package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <monitor-id>",
	Short: "Check one monitor now",
	Long: `Run the full check pipeline for one monitor immediately, whether or not
it is due. The result is recorded and notified exactly as a scheduled check.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}

	ctx, stop := withInterrupt(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.CheckOne(ctx, id); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	m, err := a.db.GetMonitor(ctx, id)
	if err != nil {
		return err
	}
	history, err := a.db.ListHistory(ctx, id, 1)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", successStyle.Render("Checked"), m.DisplayName())
	if len(history) > 0 {
		printHistoryDetail(history[0])
	}
	return nil
}
