package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collectStream(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var tokens []string
	for {
		token, err := s.Next()
		if errors.Is(err, io.EOF) {
			return tokens, nil
		}
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, token)
	}
}

func TestStreamYieldsTokensThenFinal(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Join([]string{
		`{"response":"Hel","done":false}`,
		`{"response":"lo ","done":false}`,
		`{"response":"world","done":false}`,
		`{"response":"","done":true,"prompt_eval_count":9,"eval_count":21,"eval_duration":1000000000}`,
	}, "\n")))

	s := NewStream(body, false)
	tokens, err := collectStream(t, s)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(tokens, "") != "Hello world" {
		t.Fatalf("tokens = %q, want %q", strings.Join(tokens, ""), "Hello world")
	}

	final := s.Final()
	if final.Response != "Hello world" {
		t.Fatalf("Final().Response = %q, want %q", final.Response, "Hello world")
	}
	if final.TokensUsed() != 30 {
		t.Fatalf("Final().TokensUsed() = %d, want 30", final.TokensUsed())
	}

	// EOF stays sticky on further reads.
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after EOF error = %v, want io.EOF", err)
	}
}

func TestStreamChatReadsMessageContent(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Join([]string{
		`{"message":{"role":"assistant","content":"Hi"},"done":false}`,
		`{"message":{"role":"assistant","content":" friend"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"eval_count":4}`,
	}, "\n")))

	s := NewStream(body, true)
	tokens, err := collectStream(t, s)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(tokens, "") != "Hi friend" {
		t.Fatalf("tokens = %q, want %q", strings.Join(tokens, ""), "Hi friend")
	}
	if s.Final().Response != "Hi friend" {
		t.Fatalf("Final().Response = %q", s.Final().Response)
	}
}

func TestStreamDoneChunkMayCarryToken(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Join([]string{
		`{"response":"almost","done":false}`,
		`{"response":" done","done":true,"eval_count":2}`,
	}, "\n")))

	s := NewStream(body, false)
	tokens, err := collectStream(t, s)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(tokens, "") != "almost done" {
		t.Fatalf("tokens = %q, want %q", strings.Join(tokens, ""), "almost done")
	}
	if s.Final().EvalCount != 2 {
		t.Fatalf("EvalCount = %d, want 2", s.Final().EvalCount)
	}
}

func TestStreamTruncatedWithoutTerminalChunk(t *testing.T) {
	body := io.NopCloser(strings.NewReader(strings.Join([]string{
		`{"response":"partial","done":false}`,
		`{"response":" text","done":false}`,
	}, "\n")))

	s := NewStream(body, false)
	_, err := collectStream(t, s)
	if !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("stream error = %v, want ErrTruncatedStream", err)
	}

	// The error is sticky.
	if _, err := s.Next(); !errors.Is(err, ErrTruncatedStream) {
		t.Fatalf("Next() after truncation error = %v, want ErrTruncatedStream", err)
	}
}

func TestStreamRejectsMalformedChunk(t *testing.T) {
	body := io.NopCloser(strings.NewReader("{not-json}\n"))
	s := NewStream(body, false)
	if _, err := s.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want decode failure", err)
	}
}

func TestChatStreamEndToEnd(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Write([]byte(strings.Join([]string{
			`{"message":{"content":"To"},"done":false}`,
			`{"message":{"content":"kens"},"done":false}`,
			`{"message":{"content":""},"done":true,"prompt_eval_count":3,"eval_count":2}`,
		}, "\n")))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	s, err := c.ChatStream(context.Background(), ChatRequest{
		Model:    "ai-way-yollayah",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	defer s.Close()

	tokens, err := collectStream(t, s)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(tokens, "") != "Tokens" {
		t.Fatalf("tokens = %q, want %q", strings.Join(tokens, ""), "Tokens")
	}
	if gotPayload["stream"] != true {
		t.Fatalf("stream = %v, want true", gotPayload["stream"])
	}
	if s.Final().TokensUsed() != 5 {
		t.Fatalf("TokensUsed() = %d, want 5", s.Final().TokensUsed())
	}
}
