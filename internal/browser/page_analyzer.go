package browser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Interaction categories, most useful first
const (
	CategoryConsent     = "consent"
	CategorySearch      = "search"
	CategoryPagination  = "pagination"
	CategoryForm        = "form"
	CategoryInteractive = "interactive"
)

var categoryPriority = map[string]int{
	CategoryConsent:     100,
	CategorySearch:      80,
	CategoryPagination:  70,
	CategoryForm:        40,
	CategoryInteractive: 20,
}

var (
	consentWords    = []string{"accept", "agree", "allow all", "consent", "got it"}
	paginationWords = []string{"load more", "show more", "see more", "view all", "next"}
)

// Interaction is an element a scenario step could act on
type Interaction struct {
	// Kind is "click" or "type"
	Kind     string
	Category string
	Selector string
	Label    string
	Priority int
}

// FindInteractions lists buttons, links and inputs in rendered HTML that a
// scenario step could target. Consent buttons and search boxes sort first.
func FindInteractions(htmlContent string, max int) ([]Interaction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var found []Interaction
	seen := make(map[string]bool)

	doc.Find(`button, [role="button"], input, textarea, a`).Each(func(_ int, s *goquery.Selection) {
		kind := interactionKind(s)
		if kind == "" {
			return
		}
		sel := interactionSelector(s)
		if sel == "" || seen[sel] {
			return
		}

		label := elementLabel(s)
		if kind == "click" && len(label) < 2 {
			return
		}
		if len(label) > 60 {
			label = truncateUTF8(label, 57) + "..."
		}

		category := categorize(s, kind, label)
		seen[sel] = true
		found = append(found, Interaction{
			Kind:     kind,
			Category: category,
			Selector: sel,
			Label:    label,
			Priority: categoryPriority[category],
		})
	})

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Priority > found[j].Priority
	})
	if max > 0 && len(found) > max {
		found = found[:max]
	}
	return found, nil
}

// interactionKind returns "click", "type" or "" for elements a step cannot use
func interactionKind(s *goquery.Selection) string {
	if _, disabled := s.Attr("disabled"); disabled {
		return ""
	}
	switch goquery.NodeName(s) {
	case "textarea":
		return "type"
	case "input":
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "text", "search", "email", "number", "tel", "url":
			return "type"
		case "submit", "button":
			return "click"
		}
		return ""
	case "a":
		// Plain navigation links leave the page
		if s.AttrOr("role", "") == "button" || strings.HasPrefix(s.AttrOr("href", ""), "#") || s.AttrOr("href", "") == "" {
			return "click"
		}
		if matchesAny(strings.ToLower(s.Text()), paginationWords) {
			return "click"
		}
		return ""
	}
	return "click"
}

// interactionSelector prefers an id, then a name, then tag plus first class
func interactionSelector(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id := strings.TrimSpace(s.AttrOr("id", "")); id != "" && !strings.ContainsAny(id, " \t\"'") {
		return "#" + id
	}
	if name := strings.TrimSpace(s.AttrOr("name", "")); name != "" && !strings.ContainsAny(name, "\"]") {
		return fmt.Sprintf(`%s[name="%s"]`, tag, name)
	}
	if label := strings.TrimSpace(s.AttrOr("aria-label", "")); label != "" && !strings.Contains(label, `"`) {
		return fmt.Sprintf(`%s[aria-label="%s"]`, tag, label)
	}
	if classes := strings.Fields(s.AttrOr("class", "")); len(classes) > 0 {
		return tag + "." + classes[0]
	}
	return ""
}

func elementLabel(s *goquery.Selection) string {
	if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
		return text
	}
	for _, attr := range []string{"value", "placeholder", "aria-label", "title", "alt"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func categorize(s *goquery.Selection, kind, label string) string {
	text := strings.ToLower(label)
	if kind == "type" {
		name := strings.ToLower(s.AttrOr("name", "") + " " + s.AttrOr("placeholder", "") + " " + s.AttrOr("type", ""))
		if strings.Contains(name, "search") || s.AttrOr("name", "") == "q" {
			return CategorySearch
		}
		return CategoryForm
	}
	if matchesAny(text, consentWords) {
		return CategoryConsent
	}
	if matchesAny(text, paginationWords) {
		return CategoryPagination
	}
	if s.AttrOr("type", "") == "submit" || strings.Contains(text, "search") {
		return CategoryForm
	}
	return CategoryInteractive
}

func matchesAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
