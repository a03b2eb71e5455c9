package detector

import (
	"context"
	"fmt"

	"github.com/lance13c/deltawatch/internal/artifacts"
	"github.com/lance13c/deltawatch/internal/llm"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/lance13c/deltawatch/internal/models"
)

// Input is one comparison: the previous observation against the new one
type Input struct {
	Monitor        *models.Monitor
	PrevValue      *string
	PrevScreenshot string
	NewValue       *string
	NewScreenshot  string
}

// Result is the outcome of a comparison. Diff fields are only filled for a
// confirmed change.
type Result struct {
	TextChanged   bool
	VisualChanged bool
	AISummary     string
	// AIOverride is set when an AI verdict turned a raw change into "unchanged"
	AIOverride bool

	WordDiff      string
	WordDiffHTML  string
	LineDiff      string
	DiffImagePath string
	DiffPixels    int
}

// Changed reports whether the monitor's comparison path found a change
func (r *Result) Changed() bool {
	return r.TextChanged || r.VisualChanged
}

// Detector compares extracted values and screenshots
type Detector struct {
	ai        llm.Client
	threshold float64
}

// New creates a detector. ai may be a disabled client.
func New(ai llm.Client) *Detector {
	if ai == nil {
		ai = llm.Disabled{}
	}
	return &Detector{ai: ai, threshold: DefaultPixelThreshold}
}

// Compare runs the comparison path selected by the monitor's mode
func (d *Detector) Compare(ctx context.Context, in Input) (*Result, error) {
	if in.Monitor == nil {
		return nil, fmt.Errorf("compare: monitor is required")
	}
	if in.Monitor.Mode == models.ModeVisual {
		return d.compareVisual(ctx, in)
	}
	return d.compareText(ctx, in), nil
}

func (d *Detector) compareText(ctx context.Context, in Input) *Result {
	result := &Result{}
	m := in.Monitor

	// An extraction that produced nothing is not evidence of a change
	if in.NewValue == nil {
		return result
	}

	prev := ""
	if in.PrevValue != nil {
		prev = *in.PrevValue
	}
	if in.PrevValue != nil && prev == *in.NewValue {
		return result
	}
	result.TextChanged = true

	// Without a previous value there is nothing to summarize or diff
	if in.PrevValue == nil {
		return result
	}

	if d.ai.Enabled() {
		result.AISummary = d.ai.SummarizeTextChange(ctx, prev, *in.NewValue, m.AIPrompt)
		if m.AIOnly && llm.IsNoChangeVerdict(result.AISummary) {
			logging.Debug("Monitor %d: AI judged the text change insignificant", m.ID)
			result.TextChanged = false
			result.AIOverride = true
			return result
		}
	}

	result.WordDiff = WordDiff(prev, *in.NewValue)
	result.WordDiffHTML = WordDiffHTML(prev, *in.NewValue)
	result.LineDiff = LineDiff(prev, *in.NewValue)
	return result
}

func (d *Detector) compareVisual(ctx context.Context, in Input) (*Result, error) {
	result := &Result{}
	m := in.Monitor

	if in.NewScreenshot == "" {
		return result, nil
	}
	if in.PrevScreenshot == "" {
		result.VisualChanged = true
		return result, nil
	}

	diff, err := ComparePNGFiles(in.PrevScreenshot, in.NewScreenshot, d.threshold)
	if err != nil {
		// A lost or corrupt baseline is replaced by the new capture
		logging.Warn("Monitor %d: cannot compare with previous screenshot, treating as changed: %v", m.ID, err)
		result.VisualChanged = true
		return result, nil
	}

	result.DiffPixels = diff.Count
	if diff.Count == 0 {
		return result, nil
	}
	result.VisualChanged = true

	if d.ai.Enabled() {
		result.AISummary = d.ai.SummarizeVisualChange(ctx, in.PrevScreenshot, in.NewScreenshot, m.AIPrompt)
		if m.AIOnly && llm.IsNoChangeVerdict(result.AISummary) {
			logging.Debug("Monitor %d: AI judged %d changed pixels insignificant", m.ID, diff.Count)
			result.VisualChanged = false
			result.AIOverride = true
			return result, nil
		}
	}

	path := artifacts.DiffPath(in.NewScreenshot)
	if err := diff.WritePNG(path); err != nil {
		logging.Warn("Monitor %d: %v", m.ID, err)
	} else {
		result.DiffImagePath = path
	}

	if in.PrevValue != nil && in.NewValue != nil && *in.PrevValue != *in.NewValue {
		result.WordDiff = WordDiff(*in.PrevValue, *in.NewValue)
		result.LineDiff = LineDiff(*in.PrevValue, *in.NewValue)
	}

	return result, nil
}
