// Package content is the out-of-scope content processor collaborator:
// given a raw item, produce structured content (sentiment, entities,
// summary). Kept deliberately lightweight per the core's explicit
// non-goals; an operator pointing this at a real NLP service only needs to
// satisfy the Processor interface.
package content

import (
	"context"
	"strings"
)

// Processed is the structured result of processing a raw item.
type Processed struct {
	Sentiment float64
	Entities  map[string]interface{}
	Summary   string
}

// Processor is the external collaborator the content_process handler calls.
type Processor interface {
	Process(ctx context.Context, title, body string) (Processed, error)
}

// KeywordProcessor produces a crude summary and sentiment from naive
// keyword counting. It exists so the pipeline has somewhere to run
// end-to-end without a real NLP backend configured.
type KeywordProcessor struct {
	Positive []string
	Negative []string
}

func NewKeywordProcessor() *KeywordProcessor {
	return &KeywordProcessor{
		Positive: []string{"growth", "surge", "rally", "gain", "beat", "upgrade"},
		Negative: []string{"decline", "slump", "miss", "downgrade", "plunge", "loss"},
	}
}

func (p *KeywordProcessor) Process(ctx context.Context, title, body string) (Processed, error) {
	text := strings.ToLower(title + " " + body)

	score := 0
	for _, w := range p.Positive {
		score += strings.Count(text, w)
	}
	for _, w := range p.Negative {
		score -= strings.Count(text, w)
	}

	sentiment := 0.0
	if score != 0 {
		sentiment = clamp(float64(score)/10.0, -1, 1)
	}

	summary := body
	if len(summary) > 280 {
		summary = summary[:280] + "..."
	}

	return Processed{
		Sentiment: sentiment,
		Entities:  map[string]interface{}{},
		Summary:   summary,
	}, nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
