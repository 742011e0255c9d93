// Package llm streams chat completions from an OpenAI compatible endpoint,
// either a hosted model or a local server such as Ollama.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/daasclimate/internal/config"
	"github.com/lox/daasclimate/internal/metrics"
)

// Sink receives response text as it arrives. Returning an error stops the
// stream.
type Sink func(token string) error

// Result is a completed response.
type Result struct {
	Text         string
	Chunks       int
	FinishReason string
	Model        string
}

// Streamer is implemented by Client and by test doubles.
type Streamer interface {
	Stream(ctx context.Context, system, human string, sink Sink) (Result, error)
}

type Client struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *slog.Logger
}

// NewClient creates a streaming chat client. Retries are disabled: a failed
// consultation is reported to the user rather than silently repeated.
func NewClient(cfg config.LLM, logger *slog.Logger, opts ...option.RequestOption) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Local servers ignore the key but the header must be present.
		apiKey = "local"
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		client:      openai.NewClient(append(base, opts...)...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Stream sends the system and human messages and forwards each content
// delta to sink.
func (c *Client) Stream(ctx context.Context, system, human string, sink Sink) (Result, error) {
	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(human),
		},
		Temperature: openai.Float(c.temperature),
	})
	defer stream.Close()

	var (
		text strings.Builder
		res  = Result{Model: c.model}
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			res.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			res.FinishReason = string(choice.FinishReason)
		}
		token := choice.Delta.Content
		if token == "" {
			continue
		}
		text.WriteString(token)
		res.Chunks++
		metrics.LLMTokensStreamed.Inc()
		if sink != nil {
			if err := sink(token); err != nil {
				res.Text = text.String()
				return res, fmt.Errorf("sink: %w", err)
			}
		}
	}
	res.Text = text.String()
	if err := stream.Err(); err != nil {
		return res, fmt.Errorf("chat completion: %w", err)
	}
	if res.Chunks == 0 {
		return res, errors.New("chat completion: empty response")
	}

	c.logger.Info("llm response complete", "model", res.Model, "chunks", res.Chunks,
		"finish_reason", res.FinishReason, "duration", time.Since(start).Round(time.Millisecond))
	return res, nil
}
