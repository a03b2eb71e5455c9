package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lance13c/deltawatch/internal/models"
	"github.com/spf13/cobra"
)

// monitorCmd groups monitor management
var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"monitors", "m"},
	Short:   "Manage monitors",
	Long: `Add, list, edit and remove the pages DeltaWatch checks.

Scenario steps run in order before extraction:
  --step wait=2s              pause (milliseconds or a duration, max 30s)
  --step click=#accept        click an element
  --step type=#search=shoes   type into an element
  --step wait_selector=.ready wait for an element to appear
  --step scroll=800           scroll down by pixels
  --step key=Enter            press a key

Keywords are tracked as text[:appears|disappears|any], e.g. --keyword "In stock:appears".`,
}

var monitorAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a monitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorAdd,
}

var monitorEditCmd = &cobra.Command{
	Use:   "edit <monitor-id>",
	Short: "Change a monitor's configuration",
	Long:  "Change a monitor's configuration. Only the flags given are applied.",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorEdit,
}

var monitorListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List monitors",
	RunE:    runMonitorList,
}

var monitorShowCmd = &cobra.Command{
	Use:   "show <monitor-id>",
	Short: "Show a monitor and its recent checks",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorShow,
}

var monitorRmCmd = &cobra.Command{
	Use:     "rm <monitor-id>",
	Aliases: []string{"remove", "delete"},
	Short:   "Remove a monitor, its history and its screenshots",
	Args:    cobra.ExactArgs(1),
	RunE:    runMonitorRm,
}

var monitorPauseCmd = &cobra.Command{
	Use:   "pause <monitor-id>",
	Short: "Stop checking a monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd.Context(), args[0], false)
	},
}

var monitorResumeCmd = &cobra.Command{
	Use:   "resume <monitor-id>",
	Short: "Resume checking a paused monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd.Context(), args[0], true)
	},
}

var monitorReadCmd = &cobra.Command{
	Use:   "read <monitor-id>",
	Short: "Reset a monitor's unread change counter",
	Args:  cobra.ExactArgs(1),
	RunE:  runMonitorRead,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(monitorAddCmd, monitorEditCmd, monitorListCmd, monitorShowCmd,
		monitorRmCmd, monitorPauseCmd, monitorResumeCmd, monitorReadCmd)

	for _, c := range []*cobra.Command{monitorAddCmd, monitorEditCmd} {
		f := c.Flags()
		f.String("name", "", "Display name")
		f.StringP("selector", "s", "", "CSS selector to watch (empty or 'body' for the whole page)")
		f.String("mode", string(models.ModeText), "Comparison mode: text or visual")
		f.StringP("interval", "i", string(models.Interval1h), "Check interval: 1m, 5m, 30m, 1h, 8h, 24h, 1w")
		f.String("notify", string(models.NotifyAll), "Notify rule: all, ai_focus, value_lt, value_gt, contains, not_contains")
		f.String("threshold", "", "Threshold for the notify rule")
		f.StringArray("keyword", nil, "Keyword to track as text[:appears|disappears|any] (repeatable)")
		f.StringArray("step", nil, "Scenario step as action=arg[=value] (repeatable)")
		f.String("ai-prompt", "", "Focus hint for AI summaries")
		f.Bool("ai-only", false, "Only treat a change as real when the AI confirms it")
		f.Int("retries", 3, "Extraction attempts for transient failures")
		f.Duration("retry-delay", 2*time.Second, "Base delay between extraction attempts")
		f.StringArray("tag", nil, "Tag (repeatable)")
	}
	monitorEditCmd.Flags().String("url", "", "Page URL")
	monitorListCmd.Flags().String("tag", "", "Only list monitors with this tag")
	monitorShowCmd.Flags().IntP("limit", "n", 5, "Number of recent checks to show")
}

func runMonitorAdd(cmd *cobra.Command, args []string) error {
	m := &models.Monitor{
		URL:    strings.TrimSpace(args[0]),
		Active: true,
	}
	if err := applyMonitorFlags(cmd, m, true); err != nil {
		return err
	}

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.CreateMonitor(cmd.Context(), m)
	if err != nil {
		return err
	}

	fmt.Printf("%s monitor %d: %s\n", successStyle.Render("Added"), id, m.DisplayName())
	fmt.Printf("First check records a baseline; changes are reported from the second check on.\n")
	return nil
}

func runMonitorEdit(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.GetMonitor(cmd.Context(), id)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("url") {
		m.URL, _ = cmd.Flags().GetString("url")
	}
	if err := applyMonitorFlags(cmd, m, false); err != nil {
		return err
	}

	if err := db.UpdateMonitorConfig(cmd.Context(), m); err != nil {
		return err
	}
	fmt.Printf("%s monitor %d\n", successStyle.Render("Updated"), id)
	return nil
}

// applyMonitorFlags copies flag values onto m. When all is false only the
// flags set on the command line are applied.
func applyMonitorFlags(cmd *cobra.Command, m *models.Monitor, all bool) error {
	f := cmd.Flags()
	use := func(name string) bool {
		return all || f.Changed(name)
	}

	if use("name") {
		m.Name, _ = f.GetString("name")
	}
	if use("selector") {
		m.Selector, _ = f.GetString("selector")
	}
	if use("mode") {
		mode, _ := f.GetString("mode")
		m.Mode = models.Mode(strings.ToLower(mode))
	}
	if use("interval") {
		interval, _ := f.GetString("interval")
		m.Interval = models.Interval(interval)
		if !m.Interval.Valid() {
			return fmt.Errorf("unknown interval %q", interval)
		}
	}
	if use("notify") {
		method, _ := f.GetString("notify")
		m.NotifyRule.Method = models.NotifyMethod(method)
	}
	if use("threshold") {
		m.NotifyRule.Threshold, _ = f.GetString("threshold")
	}
	if use("keyword") {
		raw, _ := f.GetStringArray("keyword")
		keywords, err := parseKeywords(raw)
		if err != nil {
			return err
		}
		m.Keywords = keywords
	}
	if use("step") {
		raw, _ := f.GetStringArray("step")
		steps, err := parseSteps(raw)
		if err != nil {
			return err
		}
		m.Scenario = steps
	}
	if use("ai-prompt") {
		m.AIPrompt, _ = f.GetString("ai-prompt")
	}
	if use("ai-only") {
		m.AIOnly, _ = f.GetBool("ai-only")
	}
	if use("retries") {
		m.RetryCount, _ = f.GetInt("retries")
	}
	if use("retry-delay") {
		m.RetryDelay, _ = f.GetDuration("retry-delay")
	}
	if use("tag") {
		m.Tags, _ = f.GetStringArray("tag")
	}

	switch m.NotifyRule.Method {
	case models.NotifyValueLT, models.NotifyValueGT, models.NotifyContains, models.NotifyNotContains:
		if strings.TrimSpace(m.NotifyRule.Threshold) == "" {
			return fmt.Errorf("notify rule %s needs --threshold", m.NotifyRule.Method)
		}
	}
	return m.Validate()
}

// parseKeywords parses text[:mode] entries. A suffix that is not a known
// mode is part of the text.
func parseKeywords(raw []string) ([]models.KeywordWatch, error) {
	var keywords []models.KeywordWatch
	for _, entry := range raw {
		kw := models.KeywordWatch{Text: entry, Mode: models.KeywordAny}
		if i := strings.LastIndex(entry, ":"); i >= 0 {
			switch mode := models.KeywordMode(strings.ToLower(entry[i+1:])); mode {
			case models.KeywordAppears, models.KeywordDisappears, models.KeywordAny:
				kw.Text = entry[:i]
				kw.Mode = mode
			}
		}
		kw.Text = strings.TrimSpace(kw.Text)
		if kw.Text == "" {
			return nil, fmt.Errorf("empty keyword in %q", entry)
		}
		keywords = append(keywords, kw)
	}
	return keywords, nil
}

// parseSteps parses action=arg entries. For type the text follows the last
// "=", so selectors may contain "=" but typed text may not.
func parseSteps(raw []string) ([]models.ScenarioStep, error) {
	var steps []models.ScenarioStep
	for _, entry := range raw {
		name, arg, _ := strings.Cut(entry, "=")
		action := models.ScenarioAction(strings.ToLower(strings.TrimSpace(name)))

		step := models.ScenarioStep{Action: action}
		switch action {
		case models.ActionClick, models.ActionWaitSelector:
			step.Selector = arg
		case models.ActionType:
			i := strings.LastIndex(arg, "=")
			if i < 0 {
				return nil, fmt.Errorf("step %q: type needs type=<selector>=<text>", entry)
			}
			step.Selector = arg[:i]
			step.Value = arg[i+1:]
		case models.ActionWait, models.ActionScroll, models.ActionKey:
			step.Value = arg
		default:
			return nil, fmt.Errorf("step %q: unknown action %q", entry, action)
		}

		if step.Selector == "" && (action == models.ActionClick || action == models.ActionWaitSelector || action == models.ActionType) {
			return nil, fmt.Errorf("step %q: selector is required", entry)
		}
		if action == models.ActionKey && step.Value == "" {
			return nil, fmt.Errorf("step %q: key is required", entry)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func runMonitorList(cmd *cobra.Command, args []string) error {
	tag, _ := cmd.Flags().GetString("tag")

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	monitors, err := db.ListMonitorsWithHistory(cmd.Context(), 1)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, mh := range monitors {
		m := mh.Monitor
		if tag != "" && !hasTag(m, tag) {
			continue
		}

		state := "active"
		if !m.Active {
			state = "paused"
		}
		last := "-"
		if len(mh.History) > 0 {
			last = string(mh.History[0].Status)
		}
		unread := ""
		if m.UnreadCount > 0 {
			unread = strconv.Itoa(m.UnreadCount)
		}

		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			truncate(m.DisplayName(), 32),
			string(m.Mode),
			string(m.Interval),
			state,
			formatTime(m.LastCheck),
			last,
			formatTime(m.LastChange),
			unread,
			formatValue(m.LastValue, 32),
		})
	}

	if len(rows) == 0 {
		fmt.Println("No monitors. Add one with 'deltawatch monitor add <url>'.")
		return nil
	}
	printTable([]string{"ID", "Name", "Mode", "Every", "State", "Last check", "Result", "Last change", "Unread", "Value"}, rows)
	return nil
}

func hasTag(m *models.Monitor, tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func runMonitorShow(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.GetMonitor(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Monitor %d: %s", m.ID, m.DisplayName())))
	fmt.Printf("  URL:        %s\n", m.URL)
	fmt.Printf("  Mode:       %s\n", m.Mode)
	if m.IsWholePage() {
		fmt.Printf("  Selector:   (whole page)\n")
	} else {
		fmt.Printf("  Selector:   %s\n", m.Selector)
	}
	if m.PendingSelector != "" {
		fmt.Printf("  Proposed:   %s %s\n", m.PendingSelector, warnStyle.Render("(unverified repair)"))
	}
	fmt.Printf("  Interval:   %s (next %s)\n", m.Interval, nextCheck(m))
	fmt.Printf("  Notify:     %s %s\n", m.NotifyRule.Method, m.NotifyRule.Threshold)
	if m.AIPrompt != "" || m.AIOnly {
		fmt.Printf("  AI:         prompt=%q ai-only=%v\n", m.AIPrompt, m.AIOnly)
	}
	for _, kw := range m.Keywords {
		fmt.Printf("  Keyword:    %q (%s)\n", kw.Text, kw.Mode)
	}
	for i, step := range m.Scenario {
		fmt.Printf("  Step %d:     %s %s %s\n", i+1, step.Action, step.Selector, step.Value)
	}
	if len(m.Tags) > 0 {
		fmt.Printf("  Tags:       %s\n", strings.Join(m.Tags, ", "))
	}
	fmt.Printf("  Active:     %v\n", m.Active)
	fmt.Printf("  Last check: %s\n", formatTime(m.LastCheck))
	fmt.Printf("  Changed:    %s (%d unread)\n", formatTime(m.LastChange), m.UnreadCount)
	if m.LastHealed != nil {
		fmt.Printf("  Repaired:   %s\n", formatTime(m.LastHealed))
	}
	fmt.Printf("  Value:      %s\n", formatValue(m.LastValue, 120))
	if m.LastScreenshot != "" {
		fmt.Printf("  Screenshot: %s\n", m.LastScreenshot)
	}

	history, err := db.ListHistory(cmd.Context(), id, limit)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		fmt.Println()
		for _, rec := range history {
			printHistoryDetail(rec)
		}
	}
	return nil
}

func nextCheck(m *models.Monitor) string {
	if !m.Active {
		return "paused"
	}
	next := m.NextCheck()
	if next.IsZero() || !next.After(time.Now()) {
		return "now"
	}
	return formatTime(&next)
}

func runMonitorRm(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}

	db, files, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DeleteMonitor(cmd.Context(), id); err != nil {
		return err
	}
	removed, err := files.RemoveMonitor(id)
	if err != nil {
		fmt.Printf("%s %v\n", warnStyle.Render("Warning:"), err)
	}

	fmt.Printf("%s monitor %d (%d screenshot(s) deleted)\n", successStyle.Render("Removed"), id, removed)
	return nil
}

func setActive(ctx context.Context, arg string, active bool) error {
	id, err := parseMonitorID(arg)
	if err != nil {
		return err
	}

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetActive(ctx, id, active); err != nil {
		return err
	}
	if active {
		fmt.Printf("%s monitor %d\n", successStyle.Render("Resumed"), id)
	} else {
		fmt.Printf("%s monitor %d\n", warnStyle.Render("Paused"), id)
	}
	return nil
}

func runMonitorRead(cmd *cobra.Command, args []string) error {
	id, err := parseMonitorID(args[0])
	if err != nil {
		return err
	}

	db, _, err := openStore(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MarkRead(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Monitor %d marked as read\n", id)
	return nil
}
