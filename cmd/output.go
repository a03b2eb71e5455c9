package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/lance13c/deltawatch/internal/models"
	"golang.org/x/term"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4A9EFF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
)

// isTerminal reports whether stdout is an interactive terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// printTable renders a bordered table on a terminal and tab-separated
// lines otherwise, so output can be piped into other tools
func printTable(headers []string, rows [][]string) {
	if !isTerminal() {
		fmt.Println(strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Println(strings.Join(row, "\t"))
		}
		return
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Println(t)
}

func parseMonitorID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid monitor id %q", arg)
	}
	return id, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatValue(v *string, max int) string {
	if v == nil {
		return "-"
	}
	return truncate(strings.Join(strings.Fields(*v), " "), max)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func statusLabel(status models.CheckStatus) string {
	switch status {
	case models.StatusChanged:
		return warnStyle.Render(string(status))
	case models.StatusError:
		return errorStyle.Render(string(status))
	default:
		return mutedStyle.Render(string(status))
	}
}

// printHistoryDetail prints one check record in full
func printHistoryDetail(rec models.CheckHistoryRecord) {
	fmt.Printf("%s %s  %s\n", titleStyle.Render(rec.CreatedAt.Local().Format("2006-01-02 15:04:05")), statusLabel(rec.Status), mutedStyle.Render(rec.RunID))
	if rec.HTTPStatus != nil {
		fmt.Printf("  HTTP status: %d\n", *rec.HTTPStatus)
	}
	if rec.Error != "" {
		fmt.Printf("  Error: %s\n", rec.Error)
	}
	if rec.Value != nil && rec.Status != models.StatusError {
		fmt.Printf("  Value: %s\n", formatValue(rec.Value, 200))
	}
	if rec.AISummary != "" {
		fmt.Printf("  AI: %s\n", rec.AISummary)
	}
	if rec.Diff != "" {
		fmt.Println("  Diff:")
		for _, line := range strings.Split(strings.TrimRight(rec.Diff, "\n"), "\n") {
			fmt.Printf("    %s\n", line)
		}
	}
	if rec.Screenshot != "" {
		fmt.Printf("  Screenshot: %s\n", rec.Screenshot)
	}
	if rec.DiffScreenshot != "" {
		fmt.Printf("  Diff image: %s\n", rec.DiffScreenshot)
	}
}
