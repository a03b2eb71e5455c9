package detector

import (
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffContext is how much unchanged text is kept around each change
const diffContext = 80

var wordPattern = regexp.MustCompile(`\S+|\s+`)

// wordDiffs diffs two texts with whole words as the unit
func wordDiffs(oldText, newText string) []diffmatchpatch.Diff {
	index := make(map[string]rune)
	var tokens []string

	encode := func(text string) []rune {
		words := wordPattern.FindAllString(text, -1)
		out := make([]rune, len(words))
		for i, w := range words {
			r, ok := index[w]
			if !ok {
				r = tokenRune(len(tokens))
				index[w] = r
				tokens = append(tokens, w)
			}
			out[i] = r
		}
		return out
	}

	a := encode(oldText)
	b := encode(newText)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(a, b, false)

	decode := make(map[rune]string, len(tokens))
	for w, r := range index {
		decode[r] = w
	}
	for i := range diffs {
		var sb strings.Builder
		for _, r := range diffs[i].Text {
			sb.WriteString(decode[r])
		}
		diffs[i].Text = sb.String()
	}
	return diffs
}

// tokenRune maps a token index to a rune outside the surrogate range
func tokenRune(i int) rune {
	r := rune(i + 1)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

// WordDiff renders a word-level diff as "[-removed-]{+added+}" with unchanged
// runs shortened to their context
func WordDiff(oldText, newText string) string {
	diffs := wordDiffs(oldText, newText)

	var sb strings.Builder
	for i, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			sb.WriteString(shorten(d.Text, i > 0, i < len(diffs)-1))
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("{+" + d.Text + "+}")
		}
	}
	return strings.TrimSpace(sb.String())
}

// WordDiffHTML renders the word-level diff as HTML for email bodies
func WordDiffHTML(oldText, newText string) string {
	return diffmatchpatch.New().DiffPrettyHtml(wordDiffs(oldText, newText))
}

// LineDiff renders a line-level diff with "+ " and "- " prefixes; unchanged
// lines are omitted
func LineDiff(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToRunes(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix + line + "\n")
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// shorten trims an unchanged run to the context nearest the changes around it
func shorten(text string, afterChange, beforeChange bool) string {
	runes := []rune(text)
	if len(runes) <= diffContext*2 {
		return text
	}
	var sb strings.Builder
	if afterChange {
		sb.WriteString(string(runes[:diffContext]))
	}
	sb.WriteString(" … ")
	if beforeChange {
		sb.WriteString(string(runes[len(runes)-diffContext:]))
	}
	return sb.String()
}
