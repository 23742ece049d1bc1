// Package llm wraps the chat-completion provider used for topic scoring,
// digest script generation, and MP3 metadata.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/snarg/pod-engine/internal/metrics"
	"github.com/snarg/pod-engine/internal/pipeline"
)

// callTimeout bounds a single completion call.
const callTimeout = 120 * time.Second

// Request is one completion call. When Schema is set the provider runs in
// structured-output mode and the response is guaranteed to match it (or
// the call errors).
type Request struct {
	Model           string
	System          string
	User            string
	MaxOutputTokens int
	SchemaName      string
	Schema          json.RawMessage
}

// Response carries the output text and token usage.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

type Client struct {
	api *openai.Client
	log zerolog.Logger
}

// New builds a client against api.openai.com or a compatible baseURL.
func New(apiKey, baseURL string, log zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, &pipeline.ConfigError{Msg: "OPENAI_API_KEY is required for LLM phases"}
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), log: log}, nil
}

// Complete runs one completion with backoff on transient failures and
// rate-limit waits honored outside the retry budget. purpose labels the
// call in metrics and logs ("scoring", "script", "metadata").
func (c *Client) Complete(ctx context.Context, purpose string, req Request) (*Response, error) {
	const maxAttempts = 4
	delay := 5 * time.Second
	attempts := 0

	for {
		resp, err := c.complete(ctx, req)
		if err == nil {
			metrics.LLMCallsTotal.WithLabelValues(purpose, "ok").Inc()
			return resp, nil
		}
		err = classify(err)

		if ra, ok := pipeline.RateLimited(err); ok {
			c.log.Debug().Str("purpose", purpose).Dur("retry_after", ra).Msg("llm rate limited, waiting")
			select {
			case <-time.After(ra):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if !pipeline.Transient(err) {
			metrics.LLMCallsTotal.WithLabelValues(purpose, "error").Inc()
			return nil, err
		}
		attempts++
		if attempts >= maxAttempts {
			metrics.LLMCallsTotal.WithLabelValues(purpose, "error").Inc()
			return nil, fmt.Errorf("llm call failed after %d attempts: %w", attempts, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens: req.MaxOutputTokens,
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}
	return &Response{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &pipeline.RateLimitError{RetryAfter: 30 * time.Second, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &pipeline.TransientError{Err: err}
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return fmt.Errorf("llm authentication failed: %w", err)
		default:
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &pipeline.TransientError{Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= 500 {
		return &pipeline.TransientError{Err: err}
	}
	// Transport-level failure.
	if !errors.Is(err, context.Canceled) {
		return &pipeline.TransientError{Err: err}
	}
	return err
}
