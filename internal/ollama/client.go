package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 120 * time.Second

	// Model creation pulls base weights, so it gets far more headroom than
	// inference.
	createTimeout = 300 * time.Second
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to an Ollama-compatible HTTP API. Blocking calls are bounded
// by the configured timeout; streaming calls run until the caller's context
// is canceled or the backend finishes.
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: base,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Message is a single entry in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature *float64
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// GenerateResponse is the terminal result of a generate or chat call. For
// chat the assistant text is normalized into Response. Durations are
// nanoseconds as reported by the backend.
type GenerateResponse struct {
	Model           string
	Response        string
	Done            bool
	TotalDuration   int64
	LoadDuration    int64
	PromptEvalCount int
	EvalCount       int
	EvalDuration    int64
}

// TokensUsed is the total prompt and completion tokens the backend counted
// for this call.
func (r GenerateResponse) TokensUsed() int {
	return r.PromptEvalCount + r.EvalCount
}

func (r GenerateResponse) TokensPerSecond() float64 {
	if r.EvalCount == 0 || r.EvalDuration == 0 {
		return 0
	}
	return float64(r.EvalCount) / (float64(r.EvalDuration) / 1e9)
}

// StatusError is a non-2xx reply from the backend, carrying a short body
// excerpt for diagnosis.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama: status %d", e.Code)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.Code, e.Body)
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }

type requestOptions struct {
	Temperature float64 `json:"temperature"`
}

type generatePayload struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options *requestOptions `json:"options,omitempty"`
}

type chatPayload struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *requestOptions `json:"options,omitempty"`
}

// responseChunk is the wire shape shared by blocking replies and stream
// lines. Generate puts text in response, chat nests it in message.content.
type responseChunk struct {
	Model           string  `json:"model"`
	Response        string  `json:"response"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration"`
	LoadDuration    int64   `json:"load_duration"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	EvalDuration    int64   `json:"eval_duration"`
}

func (c responseChunk) text(chat bool) string {
	if chat {
		return c.Message.Content
	}
	return c.Response
}

func (c responseChunk) toResponse(chat bool) GenerateResponse {
	return GenerateResponse{
		Model:           c.Model,
		Response:        c.text(chat),
		Done:            c.Done,
		TotalDuration:   c.TotalDuration,
		LoadDuration:    c.LoadDuration,
		PromptEvalCount: c.PromptEvalCount,
		EvalCount:       c.EvalCount,
		EvalDuration:    c.EvalDuration,
	}
}

// Generate runs a single-prompt completion and waits for the full reply.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	payload := generatePayload{Model: req.Model, Prompt: req.Prompt, System: req.System}
	if req.Temperature != nil {
		payload.Options = &requestOptions{Temperature: *req.Temperature}
	}

	var chunk responseChunk
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", payload, &chunk); err != nil {
		return GenerateResponse{}, err
	}
	return chunk.toResponse(false), nil
}

// Chat runs a chat completion over a message history and waits for the full
// reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (GenerateResponse, error) {
	payload := chatPayload{Model: req.Model, Messages: req.Messages}
	if req.Temperature != nil {
		payload.Options = &requestOptions{Temperature: *req.Temperature}
	}

	var chunk responseChunk
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", payload, &chunk); err != nil {
		return GenerateResponse{}, err
	}
	return chunk.toResponse(true), nil
}

// GenerateStream starts a streaming completion. The returned stream stays
// live past this call, so it is bounded by ctx rather than the client
// timeout; cancel ctx to abandon it.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (*Stream, error) {
	payload := generatePayload{Model: req.Model, Prompt: req.Prompt, System: req.System, Stream: true}
	if req.Temperature != nil {
		payload.Options = &requestOptions{Temperature: *req.Temperature}
	}

	res, err := c.do(ctx, http.MethodPost, "/api/generate", payload)
	if err != nil {
		return nil, err
	}
	return NewStream(res.Body, false), nil
}

// ChatStream starts a streaming chat completion. See GenerateStream for the
// context contract.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*Stream, error) {
	payload := chatPayload{Model: req.Model, Messages: req.Messages, Stream: true}
	if req.Temperature != nil {
		payload.Options = &requestOptions{Temperature: *req.Temperature}
	}

	res, err := c.do(ctx, http.MethodPost, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	return NewStream(res.Body, true), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	return res, nil
}
