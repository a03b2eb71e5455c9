package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/lance13c/deltawatch/internal/browser"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/models"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <url>",
	Short: "Suggest what to monitor on a page",
	Long: `Load a page in headless Chrome and suggest a monitor for it. With AI
enabled the suggestion comes from the model; elements that look like
prices, counts or versions are always listed as candidates.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().String("hint", "", "What you want to track, e.g. 'the price'")
	analyzeCmd.Flags().Int("candidates", 10, "Maximum candidate elements to list")
	analyzeCmd.Flags().Bool("add", false, "Add the suggested monitor")
	analyzeCmd.Flags().Bool("steps", false, "Also list elements usable as scenario steps")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	url := strings.TrimSpace(args[0])
	hint, _ := cmd.Flags().GetString("hint")
	max, _ := cmd.Flags().GetInt("candidates")
	add, _ := cmd.Flags().GetBool("add")
	steps, _ := cmd.Flags().GetBool("steps")

	ctx, stop := withInterrupt(cmd.Context())
	defer stop()

	a, err := newApp(ctx, appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Loading %s...\n", url)
	raw, err := loadHTML(ctx, a, url)
	if err != nil {
		return err
	}

	if title := browser.PageTitle(raw); title != "" {
		fmt.Println(titleStyle.Render(title))
	}

	var suggestion *llm.PageSuggestion
	if a.ai.Enabled() {
		snapshot, err := browser.SimplifyHTML(raw, browser.DefaultSnapshotLimit)
		if err != nil {
			return err
		}
		suggestion = a.ai.AnalyzePage(ctx, snapshot, url, hint)
	}

	if suggestion != nil {
		fmt.Println()
		fmt.Println(successStyle.Render("Suggested monitor"))
		fmt.Printf("  Name:     %s\n", suggestion.Name)
		fmt.Printf("  Selector: %s\n", suggestion.Selector)
		fmt.Printf("  Mode:     %s\n", suggestion.Type)
	} else if a.ai.Enabled() {
		fmt.Println(warnStyle.Render("The AI gave no suggestion."))
	}

	candidates, err := browser.FindCandidates(raw, max)
	if err != nil {
		return err
	}
	if len(candidates) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(candidates))
		for _, c := range candidates {
			rows = append(rows, []string{c.Selector, truncate(c.Text, 60)})
		}
		printTable([]string{"Selector", "Text"}, rows)
	}

	if steps {
		if err := printInteractions(raw, max); err != nil {
			return err
		}
	}

	if !add {
		if suggestion != nil {
			fmt.Printf("\nAdd it with: deltawatch monitor add %s --selector %q --mode %s --name %q\n",
				url, suggestion.Selector, suggestion.Type, suggestion.Name)
		}
		return nil
	}
	if suggestion == nil {
		return fmt.Errorf("no suggestion to add")
	}

	m := &models.Monitor{
		Name:       suggestion.Name,
		URL:        url,
		Mode:       models.Mode(suggestion.Type),
		Selector:   suggestion.Selector,
		Interval:   models.Interval1h,
		NotifyRule: models.NotifyRule{Method: models.NotifyAll},
		RetryCount: 3,
		Active:     true,
	}
	id, err := a.db.CreateMonitor(ctx, m)
	if err != nil {
		return err
	}
	fmt.Printf("%s monitor %d\n", successStyle.Render("Added"), id)
	return nil
}

// printInteractions lists elements a scenario step could act on, as --step flags
func printInteractions(raw string, max int) error {
	found, err := browser.FindInteractions(raw, max)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("\nNo interactive elements found.")
		return nil
	}

	fmt.Println()
	rows := make([][]string, 0, len(found))
	for _, it := range found {
		step := "click=" + it.Selector
		if it.Kind == "type" {
			step = "type=" + it.Selector + "=<text>"
		}
		rows = append(rows, []string{it.Category, truncate(it.Label, 40), step})
	}
	printTable([]string{"Category", "Label", "Step"}, rows)
	return nil
}

// loadHTML renders url on a pooled browser and returns the page HTML
func loadHTML(ctx context.Context, a *app, url string) (string, error) {
	lease, err := a.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire browser: %w", err)
	}
	defer lease.Release()

	page, err := lease.NewPage(ctx)
	if err != nil {
		return "", err
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, appConfig.Extraction.FallbackTimeout)
	defer cancel()
	if _, err := page.Navigate(navCtx, url, browser.WaitLoad); err != nil {
		return "", err
	}
	if _, err := page.DismissOverlays(ctx); err != nil {
		return "", err
	}
	return page.HTML(ctx)
}
