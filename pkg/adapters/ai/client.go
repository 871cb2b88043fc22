// Package ai backs the analyzer, predictor, and transcriber external
// collaborators with a single OpenAI client, with every call guarded by a
// pkg/resilience circuit breaker.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"marketpulse/pkg/resilience"
)

// Client wraps one openai.Client shared by the analyzer, predictor, and
// transcriber adapters, matching the reference pattern of a single LLM
// client reused across call sites.
type Client struct {
	raw     *openai.Client
	breaker *resilience.CircuitBreaker
	model   string
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{
		raw:     openai.NewClient(apiKey),
		breaker: resilience.NewCircuitBreaker("openai", resilience.DefaultCircuitBreakerConfig()),
		model:   model,
	}
}

// NewClientFromEnv constructs a Client from OPENAI_API_KEY / OPENAI_MODEL.
func NewClientFromEnv() *Client {
	return NewClient(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_MODEL"))
}

// AnalysisResult is the structured output of Analyze.
type AnalysisResult struct {
	Sentiment  float64                `json:"sentiment"`
	Themes     map[string]interface{} `json:"themes"`
	Summary    string                 `json:"summary"`
	Confidence float64                `json:"confidence"`
}

// Analyze aggregates the given processed-content summaries into a single
// daily market summary.
func (c *Client) Analyze(ctx context.Context, date string, summaries []string) (AnalysisResult, error) {
	var result AnalysisResult

	prompt := fmt.Sprintf(
		"You are a market analyst. Given the following content summaries for %s, "+
			"produce a JSON object with fields sentiment (-1..1), themes (object), "+
			"summary (string), confidence (0..1).\n\n%s",
		date, joinSummaries(summaries),
	)

	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.raw.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			return fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}
		return json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result)
	})
	if err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

// PredictionResult is a single forward-looking statement.
type PredictionResult struct {
	Type       string                 `json:"type"`
	Horizon    string                 `json:"horizon"`
	Text       string                 `json:"text"`
	Confidence float64                `json:"confidence"`
	Data       map[string]interface{} `json:"data"`
}

// Predict produces forward-looking predictions from an analysis summary.
func (c *Client) Predict(ctx context.Context, summary string) ([]PredictionResult, error) {
	var out struct {
		Predictions []PredictionResult `json:"predictions"`
	}

	prompt := fmt.Sprintf(
		"Given this market summary, produce a JSON object with a \"predictions\" array; "+
			"each element has type, horizon, text, confidence (0..1), data (object).\n\n%s",
		summary,
	)

	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.raw.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			return fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion returned no choices")
		}
		return json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

// Transcribe runs Whisper transcription against an already-downloaded
// audio file path.
func (c *Client) Transcribe(ctx context.Context, audioFilePath string) (string, error) {
	var text string
	err := c.breaker.Execute(ctx, func() error {
		resp, err := c.raw.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: audioFilePath,
		})
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
		text = resp.Text
		return nil
	})
	return text, err
}

func joinSummaries(summaries []string) string {
	out := ""
	for i, s := range summaries {
		out += fmt.Sprintf("%d. %s\n", i+1, s)
	}
	if out == "" {
		return "(no processed content available)"
	}
	return out
}
