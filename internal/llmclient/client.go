// Package llmclient is the HTTP client for the remote LLM completion
// service: the one genuinely external collaborator in the system (§1).
// It issues a streaming chat completion request and delivers tokens to a
// TokenSink as they arrive, wrapped through a circuit breaker so a
// failing LLM degrades the gateway instead of wedging it. Per §7 no
// retries are built in here; that is the caller's responsibility.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenSink is the narrow capability the streaming call reports into: one
// call per generated token, one final call on completion. The Stream
// Buffer is the production implementation.
type TokenSink interface {
	OnToken(token string)
	OnComplete(finalText string)
}

// Config configures a Client.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client is the HTTP client for a remote, OpenAI-compatible chat
// completion endpoint.
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	breaker     *Breaker
	log         zerolog.Logger
}

// New constructs a Client. breaker may be nil, in which case calls are
// made directly with no circuit protection.
func New(cfg Config, breaker *Breaker, log zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		breaker:     breaker,
		log:         log.With().Str("component", "llm_client").Logger(),
	}
}

func (c *Client) newRequest(ctx context.Context, body ChatRequest) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal llm request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// CompleteStream sends a streaming chat completion request, delivering
// each content delta to sink.OnToken and, once the stream ends, the full
// concatenation to sink.OnComplete.
func (c *Client) CompleteStream(ctx context.Context, messages []ChatMessage, sink TokenSink) error {
	run := func() (struct{}, error) {
		req, err := c.newRequest(ctx, ChatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Stream:      true,
		})
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("send llm stream request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			var errResp ErrorResponse
			if err := json.Unmarshal(body, &errResp); err != nil {
				return struct{}{}, classifyHTTPError(resp.StatusCode, string(body))
			}
			return struct{}{}, classifyHTTPError(resp.StatusCode, errResp.Error.Message)
		}

		var full strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				c.log.Warn().Err(err).Str("payload", payload).Msg("skipping malformed stream chunk")
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				full.WriteString(choice.Delta.Content)
				sink.OnToken(choice.Delta.Content)
			}
		}
		if err := scanner.Err(); err != nil {
			return struct{}{}, fmt.Errorf("read llm stream: %w", err)
		}

		sink.OnComplete(full.String())
		return struct{}{}, nil
	}

	if c.breaker == nil {
		_, err := run()
		return err
	}
	_, err := c.breaker.ExecuteStream(run)
	return err
}

