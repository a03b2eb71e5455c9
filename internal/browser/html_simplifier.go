package browser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultSnapshotLimit caps a simplified DOM snapshot sent to the AI
const DefaultSnapshotLimit = 30000

// keptAttrs are the attributes a selector can reasonably be built from
var keptAttrs = map[string]bool{
	"id":         true,
	"class":      true,
	"role":       true,
	"name":       true,
	"type":       true,
	"href":       true,
	"title":      true,
	"alt":        true,
	"itemprop":   true,
	"aria-label": true,
}

// SimplifyHTML strips scripts, styles, SVGs and other non-content nodes so the
// snapshot fits in an AI prompt, then truncates it to limit bytes (0 = no limit)
func SimplifyHTML(htmlContent string, limit int) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg, link, meta, template, canvas, video, audio").Remove()
	doc.Find("[hidden], [aria-hidden='true']").Remove()
	doc.Find("[style*='display:none'], [style*='display: none']").Remove()

	for _, n := range doc.Nodes {
		cleanNode(n)
	}

	out, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(out) == "" {
		out, err = doc.Html()
		if err != nil {
			return "", fmt.Errorf("failed to render HTML: %w", err)
		}
	}

	if limit > 0 && len(out) > limit {
		out = truncateUTF8(out, limit)
	}
	return out, nil
}

// cleanNode drops comments and empty text, collapses whitespace and keeps only
// selector-relevant attributes
func cleanNode(n *html.Node) {
	var toRemove []*html.Node

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.CommentNode:
			toRemove = append(toRemove, c)
		case html.TextNode:
			c.Data = strings.Join(strings.Fields(c.Data), " ")
			if c.Data == "" {
				toRemove = append(toRemove, c)
			}
		case html.ElementNode:
			cleanAttributes(c)
			cleanNode(c)
		default:
			cleanNode(c)
		}
	}

	for _, c := range toRemove {
		n.RemoveChild(c)
	}
}

func cleanAttributes(n *html.Node) {
	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if !keptAttrs[attr.Key] && !strings.HasPrefix(attr.Key, "data-") {
			continue
		}
		switch attr.Key {
		case "class":
			classes := strings.Fields(attr.Val)
			if len(classes) > 4 {
				attr.Val = strings.Join(classes[:4], " ")
			}
		case "href":
			if len(attr.Val) > 80 {
				attr.Val = attr.Val[:80] + "..."
			}
		}
		if len(attr.Val) > 120 {
			attr.Val = attr.Val[:120]
		}
		kept = append(kept, attr)
	}
	n.Attr = kept
}

func truncateUTF8(s string, limit int) string {
	for limit > 0 && limit < len(s) && (s[limit]&0xC0) == 0x80 {
		limit--
	}
	return s[:limit]
}

// PageTitle returns the document title
func PageTitle(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Candidate is an element that looks like a trackable value
type Candidate struct {
	Selector string
	Text     string
}

var numericValue = regexp.MustCompile(`\d`)

// FindCandidates lists short, addressable elements that contain digits (prices,
// stock counts, versions). It is the offline fallback when no AI is configured.
func FindCandidates(htmlContent string, max int) ([]Candidate, error) {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var out []Candidate
	seen := make(map[string]bool)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if max > 0 && len(out) >= max {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Svg, atom.Head:
				return
			}
			if sel := selectorFor(n); sel != "" && !seen[sel] {
				text := strings.Join(strings.Fields(nodeText(n)), " ")
				if text != "" && len(text) <= 60 && numericValue.MatchString(text) {
					seen[sel] = true
					out = append(out, Candidate{Selector: sel, Text: text})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return out, nil
}

// selectorFor returns an id, itemprop or class selector for n, or "" if none is usable
func selectorFor(n *html.Node) string {
	var id, class, itemprop string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "id":
			id = attr.Val
		case "class":
			class = attr.Val
		case "itemprop":
			itemprop = attr.Val
		}
	}

	switch {
	case id != "" && !strings.ContainsAny(id, " .:#[]"):
		return "#" + id
	case itemprop != "":
		return fmt.Sprintf("%s[itemprop=%q]", n.Data, itemprop)
	case strings.TrimSpace(class) != "":
		first := strings.Fields(class)[0]
		if strings.ContainsAny(first, ":[]/") {
			return ""
		}
		return n.Data + "." + first
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}
