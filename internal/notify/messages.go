package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/lance13c/deltawatch/internal/models"
)

// ChangeDetails carries what the detector found for a change message
type ChangeDetails struct {
	RunID         string
	NewValue      *string
	AISummary     string
	WordDiff      string
	WordDiffHTML  string
	DiffImagePath string
	Visual        bool
}

// ChangeMessage builds the notification for a confirmed change
func ChangeMessage(m *models.Monitor, d ChangeDetails) Message {
	name := m.DisplayName()

	var text strings.Builder
	fmt.Fprintf(&text, "A change was detected on %s\n%s\n", name, m.URL)
	if d.AISummary != "" {
		fmt.Fprintf(&text, "\nSummary: %s\n", d.AISummary)
	}
	if d.Visual {
		text.WriteString("\nThe page looks different from the last check.\n")
	} else if d.NewValue != nil {
		fmt.Fprintf(&text, "\nCurrent value: %s\n", clipValue(*d.NewValue))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "<p>A change was detected on <a href=\"%s\">%s</a>.</p>",
		html.EscapeString(m.URL), html.EscapeString(name))
	if d.AISummary != "" {
		fmt.Fprintf(&body, "<p><strong>Summary:</strong> %s</p>", html.EscapeString(d.AISummary))
	}
	if d.WordDiffHTML != "" {
		fmt.Fprintf(&body, "<p style=\"font-family:monospace\">%s</p>", d.WordDiffHTML)
	}
	if d.DiffImagePath != "" {
		body.WriteString("<p>The highlighted difference image is attached.</p>")
	}

	return Message{
		Kind:          KindChange,
		MonitorID:     m.ID,
		RunID:         d.RunID,
		URL:           m.URL,
		Subject:       fmt.Sprintf("Change detected: %s", name),
		Text:          text.String(),
		HTML:          body.String(),
		DiffText:      d.WordDiff,
		DiffImagePath: d.DiffImagePath,
	}
}

// KeywordMessage builds the notification for a keyword presence flip
func KeywordMessage(m *models.Monitor, runID string, alert KeywordAlert) Message {
	verb := "disappeared from"
	if alert.Appeared {
		verb = "appeared on"
	}
	text := fmt.Sprintf("The keyword %q %s %s\n%s\n", alert.Keyword.Text, verb, m.DisplayName(), m.URL)
	return Message{
		Kind:      KindKeyword,
		MonitorID: m.ID,
		RunID:     runID,
		URL:       m.URL,
		Subject:   fmt.Sprintf("Keyword %q %s %s", alert.Keyword.Text, verb, m.DisplayName()),
		Text:      text,
	}
}

// DowntimeMessage builds the notification for an HTTP error status
func DowntimeMessage(m *models.Monitor, runID string, status int) Message {
	return Message{
		Kind:      KindDowntime,
		MonitorID: m.ID,
		RunID:     runID,
		URL:       m.URL,
		Subject:   fmt.Sprintf("Page error %d: %s", status, m.DisplayName()),
		Text:      fmt.Sprintf("%s returned HTTP status %d\n", m.URL, status),
	}
}

// RepairMessage builds the notification sent after a selector was healed
func RepairMessage(m *models.Monitor, runID, oldSelector, newSelector string) Message {
	return Message{
		Kind:      KindRepair,
		MonitorID: m.ID,
		RunID:     runID,
		URL:       m.URL,
		Subject:   fmt.Sprintf("Selector repaired: %s", m.DisplayName()),
		Text: fmt.Sprintf("The selector for %s stopped matching and was replaced.\nOld: %s\nNew: %s\n",
			m.DisplayName(), oldSelector, newSelector),
	}
}

func clipValue(s string) string {
	const max = 500
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
