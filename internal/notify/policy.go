package notify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/models"
)

// ShouldNotify applies the monitor's notification rule to a confirmed change.
// Numeric rules fail closed on non-numeric content; ai_focus fails open when
// no AI summary exists.
func ShouldNotify(m *models.Monitor, value *string, aiSummary string) bool {
	rule := m.NotifyRule
	text := ""
	if value != nil {
		text = *value
	}

	switch rule.Method {
	case models.NotifyAll, "":
		return true

	case models.NotifyContains:
		return value != nil && strings.Contains(strings.ToLower(text), strings.ToLower(rule.Threshold))

	case models.NotifyNotContains:
		return value != nil && !strings.Contains(strings.ToLower(text), strings.ToLower(rule.Threshold))

	case models.NotifyValueLT, models.NotifyValueGT:
		if value == nil {
			return false
		}
		got, ok := ParseNumber(text)
		if !ok {
			return false
		}
		limit, ok := ParseNumber(rule.Threshold)
		if !ok {
			return false
		}
		if rule.Method == models.NotifyValueLT {
			return got < limit
		}
		return got > limit

	case models.NotifyAIFocus:
		if strings.TrimSpace(aiSummary) == "" {
			return true
		}
		return !llm.IsNoChangeVerdict(aiSummary)
	}

	// Unknown methods behave like "all" so a bad rule never hides changes
	return true
}

var numberPattern = regexp.MustCompile(`-?\d[\d.,'\s]*\d|-?\d`)

// ParseNumber extracts the first number from text such as "€1.234,56",
// "$1,234.56", "12,99 EUR" or "In stock: 7"
func ParseNumber(text string) (float64, bool) {
	raw := numberPattern.FindString(text)
	if raw == "" {
		return 0, false
	}

	raw = strings.NewReplacer("'", "", "\u00a0", "").Replace(raw)
	raw = strings.Join(strings.Fields(raw), "")

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Whichever separator comes last is the decimal point
		if lastComma > lastDot {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		raw = normalizeSingleSeparator(raw, ",")
	case lastDot >= 0:
		raw = normalizeSingleSeparator(raw, ".")
	}

	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalizeSingleSeparator decides whether sep is a decimal point or a
// thousands separator. Repeated separators are thousands ("1.234.567"). A lone
// "." is decimal ("0.125", "3.141"). A lone "," is thousands only after a
// 1-3 digit non-zero integer part and before exactly three digits ("1,234").
func normalizeSingleSeparator(raw, sep string) string {
	if strings.Count(raw, sep) > 1 {
		return strings.ReplaceAll(raw, sep, "")
	}
	if sep == "," && isGroupedThousands(raw, sep) {
		return strings.ReplaceAll(raw, sep, "")
	}
	return strings.Replace(raw, sep, ".", 1)
}

func isGroupedThousands(raw, sep string) bool {
	idx := strings.Index(raw, sep)
	intPart := strings.TrimPrefix(raw[:idx], "-")
	if len(intPart) < 1 || len(intPart) > 3 || strings.TrimLeft(intPart, "0") == "" {
		return false
	}
	return len(raw)-idx-1 == 3
}

// KeywordAlert is a keyword whose presence flipped between two checks
type KeywordAlert struct {
	Keyword  models.KeywordWatch
	Appeared bool
}

// KeywordAlerts compares keyword presence in the previous and new values and
// returns one alert per transition. Sustained presence or absence never
// alerts, and nothing fires without both values.
func KeywordAlerts(keywords []models.KeywordWatch, oldValue, newValue *string) []KeywordAlert {
	if oldValue == nil || newValue == nil {
		return nil
	}
	oldText := strings.ToLower(*oldValue)
	newText := strings.ToLower(*newValue)

	var alerts []KeywordAlert
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw.Text))
		if needle == "" {
			continue
		}
		before := strings.Contains(oldText, needle)
		after := strings.Contains(newText, needle)
		if before == after {
			continue
		}

		switch kw.Mode {
		case models.KeywordAppears:
			if !after {
				continue
			}
		case models.KeywordDisappears:
			if after {
				continue
			}
		}
		alerts = append(alerts, KeywordAlert{Keyword: kw, Appeared: after})
	}
	return alerts
}

// IsDowntime reports whether a page load status warrants a downtime alert
func IsDowntime(status int) bool {
	return status >= 400
}
