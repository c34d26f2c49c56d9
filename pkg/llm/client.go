// Package llm is the single choke-point for text completions. It owns
// retry, per-call timeouts, bounded provider concurrency, and optional
// per-session conversation memory.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/embeshi/datapulse/pkg/metrics"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string
	Content string
}

// Request defines a completion request.
type Request struct {
	// SessionID opts in to conversation memory. Empty disables memory.
	SessionID string

	// Messages is the conversation to send.
	Messages []Message
}

// ChatCompleter captures the subset of the go-openai client used by the
// gateway. Tests substitute a scripted implementation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is the LLM gateway.
type Client struct {
	chat        ChatCompleter
	model       string
	retry       RetryConfig
	callTimeout time.Duration
	sem         chan struct{}
	memory      *memoryStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithCallTimeout sets the hard per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithMaxConcurrent bounds in-flight provider calls.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway over an existing chat completer.
func NewClient(chat ChatCompleter, model string, opts ...Option) *Client {
	c := &Client{
		chat:        chat,
		model:       model,
		retry:       DefaultRetryConfig(),
		callTimeout: 60 * time.Second,
		sem:         make(chan struct{}, 8),
		memory:      newMemoryStore(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromAPIKey builds a gateway backed by the OpenAI-compatible
// provider at baseURL (default provider endpoint when empty).
func NewClientFromAPIKey(apiKey, baseURL, model string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewClient(openai.NewClientWithConfig(cfg), model, opts...), nil
}

// Complete sends a completion request and returns the response text with
// markdown fences stripped. Completion failures carry one of the gateway
// error kinds; a request without messages is rejected before any call.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("at least one message is required")
	}

	outgoing := req.Messages
	var mem *sessionMemory
	if req.SessionID != "" {
		mem = c.memory.session(req.SessionID)
		// The memory mutex also serializes completions per session, so the
		// provider never sees two in-flight calls for one session.
		mem.mu.Lock()
		defer mem.mu.Unlock()
		outgoing = withHistory(req.Messages, mem.history())
	}

	out, err := c.completeWithRetry(ctx, outgoing)
	if err != nil {
		c.metrics.RecordLLMCall(strings.TrimPrefix(Kind(err), "llm_"))
		return "", err
	}

	out = StripFences(out)
	if strings.TrimSpace(out) == "" {
		c.metrics.RecordLLMCall("empty")
		return "", fmt.Errorf("completion returned no content: %w", ErrEmpty)
	}

	c.metrics.RecordLLMCall("ok")
	if mem != nil {
		mem.add(lastUserContent(req.Messages), out)
	}
	return out, nil
}

// DropMemory discards conversation memory for a session.
func (c *Client) DropMemory(sessionID string) {
	c.memory.drop(sessionID)
}

func (c *Client) completeWithRetry(ctx context.Context, messages []Message) (string, error) {
	deadline := time.Now().Add(c.retry.TotalBudget)

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.retry.backoff(attempt - 1)
			if time.Now().Add(wait).After(deadline) {
				break
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", fmt.Errorf("completion cancelled: %w", ErrTimeout)
			}
		}

		out, err := c.completeOnce(ctx, messages)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) {
			return "", err
		}
		c.logger.Warn("LLM completion attempt failed",
			"attempt", attempt+1, "max_attempts", c.retry.MaxAttempts, "error", err)
	}
	return "", lastErr
}

func (c *Client) completeOnce(ctx context.Context, messages []Message) (string, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for completion slot: %w", ErrTimeout)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	outMsgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		outMsgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.chat.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: outMsgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices: %w", ErrEmpty)
	}
	return resp.Choices[0].Message.Content, nil
}

// withHistory inserts past exchanges after any leading system messages.
func withHistory(messages, history []Message) []Message {
	if len(history) == 0 {
		return messages
	}
	split := 0
	for split < len(messages) && messages[split].Role == RoleSystem {
		split++
	}
	out := make([]Message, 0, len(messages)+len(history))
	out = append(out, messages[:split]...)
	out = append(out, history...)
	out = append(out, messages[split:]...)
	return out
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// StripFences removes a wrapping markdown code fence (``` or ```sql) from
// a completion, leaving the inner text intact.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	// Drop the opening fence line (possibly carrying a language tag).
	lines = lines[1:]
	// Drop the closing fence if present.
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			lines = append(lines[:i], lines[i+1:]...)
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
