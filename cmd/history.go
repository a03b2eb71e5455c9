package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <monitor-id>",
	Short: "Show a monitor's check history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old check history",
	Long: `Keep only the newest --keep records per monitor and delete the rest,
together with their diff images.`,
	Args: cobra.NoArgs,
	RunE: runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
	historyCmd.Flags().BoolP("full", "F", false, "Show each record in full")

	historyPruneCmd.Flags().Int("keep", 100, "Records to keep per monitor")
	historyPruneCmd.Flags().Int64("monitor", 0, "Only prune this monitor")
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	full, _ := cmd.Flags().GetBool("full")

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.GetMonitor(cmd.Context(), id)
	if err != nil {
		return err
	}
	records, err := db.ListHistory(cmd.Context(), id, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No checks recorded for %s yet.\n", m.DisplayName())
		return nil
	}

	if full {
		for _, rec := range records {
			printHistoryDetail(rec)
		}
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := ""
		if rec.HTTPStatus != nil {
			status = strconv.Itoa(*rec.HTTPStatus)
		}
		detail := rec.AISummary
		if rec.Error != "" {
			detail = rec.Error
		}
		rows = append(rows, []string{
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			string(rec.Status),
			status,
			formatValue(rec.Value, 40),
			truncate(detail, 60),
		})
	}

	fmt.Println(titleStyle.Render(m.DisplayName()))
	printTable([]string{"Time", "Result", "HTTP", "Value", "Summary"}, rows)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	monitorID, _ := cmd.Flags().GetInt64("monitor")
	if keep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	db, files, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, diffs, err := db.PruneHistory(cmd.Context(), monitorID, keep)
	if err != nil {
		return err
	}
	for _, path := range diffs {
		files.RemoveQuietly(path)
	}

	fmt.Printf("%s %d record(s), %d diff image(s)\n", successStyle.Render("Pruned"), deleted, len(diffs))
	return nil
}
