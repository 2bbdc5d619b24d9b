package conductor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/8007342/ai-way/internal/ollama"
	"github.com/8007342/ai-way/internal/session"
)

// fakeBackend scripts backend replies per call shape and records every
// request in arrival order.
type fakeBackend struct {
	mu        sync.Mutex
	generates []ollama.GenerateRequest
	chats     []ollama.ChatRequest
	streamed  []ollama.GenerateRequest

	generateFn     func(req ollama.GenerateRequest) (ollama.GenerateResponse, error)
	chatFn         func(req ollama.ChatRequest) (ollama.GenerateResponse, error)
	generateStream func(req ollama.GenerateRequest) (*ollama.Stream, error)
	chatStream     func(req ollama.ChatRequest) (*ollama.Stream, error)
}

func (f *fakeBackend) Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
	f.mu.Lock()
	f.generates = append(f.generates, req)
	f.mu.Unlock()
	if f.generateFn == nil {
		return ollama.GenerateResponse{}, errors.New("generate not scripted")
	}
	return f.generateFn(req)
}

func (f *fakeBackend) Chat(ctx context.Context, req ollama.ChatRequest) (ollama.GenerateResponse, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	f.mu.Unlock()
	if f.chatFn == nil {
		return ollama.GenerateResponse{}, errors.New("chat not scripted")
	}
	return f.chatFn(req)
}

func (f *fakeBackend) GenerateStream(ctx context.Context, req ollama.GenerateRequest) (*ollama.Stream, error) {
	f.mu.Lock()
	f.streamed = append(f.streamed, req)
	f.mu.Unlock()
	if f.generateStream == nil {
		return nil, errors.New("generate stream not scripted")
	}
	return f.generateStream(req)
}

func (f *fakeBackend) ChatStream(ctx context.Context, req ollama.ChatRequest) (*ollama.Stream, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	f.mu.Unlock()
	if f.chatStream == nil {
		return nil, errors.New("chat stream not scripted")
	}
	return f.chatStream(req)
}

func reply(text string, promptTokens, evalTokens int) ollama.GenerateResponse {
	return ollama.GenerateResponse{
		Response:        text,
		Done:            true,
		PromptEvalCount: promptTokens,
		EvalCount:       evalTokens,
	}
}

func scriptedStream(chat bool, lines ...string) *ollama.Stream {
	body := io.NopCloser(strings.NewReader(strings.Join(lines, "\n")))
	return ollama.NewStream(body, chat)
}

func newTestConductor(backend Inference) *Conductor {
	return New(testProfiles(), backend, Config{}, nil)
}

func TestRouteSendsCatalogAndContext(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("AGENT: ethical-hacker\nCONFIDENCE: 0.92\nREASON: Security review", 5, 7), nil
		},
	}
	c := newTestConductor(fake)

	decision, err := c.Route(context.Background(), "audit my login flow", session.New())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Agent != "ethical-hacker" {
		t.Fatalf("Agent = %q, want ethical-hacker", decision.Agent)
	}
	if decision.Confidence != 0.92 {
		t.Fatalf("Confidence = %v, want 0.92", decision.Confidence)
	}
	if decision.Reasoning != "Security review" {
		t.Fatalf("Reasoning = %q", decision.Reasoning)
	}

	if len(fake.generates) != 1 {
		t.Fatalf("backend calls = %d, want 1", len(fake.generates))
	}
	req := fake.generates[0]
	if req.Model != "ai-way-yollayah" {
		t.Fatalf("Model = %q, want ai-way-yollayah", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0.3 {
		t.Fatalf("Temperature = %v, want 0.3", req.Temperature)
	}
	if !strings.Contains(req.Prompt, "- ethical-hacker (security): Offensive security specialist.") {
		t.Fatalf("prompt missing catalog entry:\n%s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "Query: audit my login flow") {
		t.Fatalf("prompt missing query:\n%s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "No prior context.") {
		t.Fatalf("fresh session should use the placeholder context:\n%s", req.Prompt)
	}
}

func TestRouteUsesSessionSummaryAfterTurns(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("AGENT: conductor\nCONFIDENCE: 0.9\nREASON: follow-up", 1, 1), nil
		},
	}
	c := newTestConductor(fake)

	sess := session.New()
	sess.AddTurn("what is a goroutine", "a lightweight thread", nil, 10, 5)

	if _, err := c.Route(context.Background(), "and a channel?", sess); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	prompt := fake.generates[0].Prompt
	if strings.Contains(prompt, "No prior context.") {
		t.Fatalf("session with turns should not use the placeholder:\n%s", prompt)
	}
	if !strings.Contains(prompt, "what is a goroutine") {
		t.Fatalf("prompt missing conversation summary:\n%s", prompt)
	}
}

func TestRouteMalformedReplyDefaults(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("Hmm, let me think about who should take this one.", 1, 1), nil
		},
	}
	c := newTestConductor(fake)

	decision, err := c.Route(context.Background(), "hello", session.New())
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if decision.Agent != DirectAgent || decision.Confidence != 0.5 {
		t.Fatalf("decision = %q/%v, want conductor/0.5", decision.Agent, decision.Confidence)
	}
}

func TestRouteBackendErrorPropagates(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return ollama.GenerateResponse{}, errors.New("connection refused")
		},
	}
	c := newTestConductor(fake)

	if _, err := c.Route(context.Background(), "hello", session.New()); err == nil {
		t.Fatal("Route() should fail when the backend does")
	} else if !strings.Contains(err.Error(), "routing:") {
		t.Fatalf("error = %v, want routing wrap", err)
	}
}

func TestRespondSpecialistPathOrderAndVoice(t *testing.T) {
	const specialistText = "Break the problem into 3 steps: recon, exploit, report."
	const personaText = "Alright, here's how I'd tackle it, step by step."

	fake := &fakeBackend{}
	fake.generateFn = func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "You are the routing component"):
			return reply("AGENT: ethical-hacker\nCONFIDENCE: 0.88\nREASON: Pentest question", 1, 2), nil
		case req.Model == "ai-way-ethical-hacker":
			return reply(specialistText, 2, 3), nil
		case strings.HasPrefix(req.Prompt, "You are Yollayah presenting"):
			return reply(personaText, 3, 4), nil
		}
		return ollama.GenerateResponse{}, errors.New("unexpected generate: " + req.Model)
	}
	c := newTestConductor(fake)

	res, err := c.Respond(context.Background(), "how do I pentest my app?", session.New(), Options{})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if len(fake.generates) != 3 {
		t.Fatalf("backend calls = %d, want 3 (routing, handoff, presentation)", len(fake.generates))
	}
	if got := fake.generates[1].Model; got != "ai-way-ethical-hacker" {
		t.Fatalf("handoff model = %q", got)
	}
	if got := fake.generates[2].Model; got != "ai-way-yollayah" {
		t.Fatalf("presentation model = %q", got)
	}
	if !strings.Contains(fake.generates[1].Prompt, "respond as the ethical hacker specialist") {
		t.Fatalf("handoff prompt missing display name:\n%s", fake.generates[1].Prompt)
	}
	if !strings.Contains(fake.generates[2].Prompt, specialistText) {
		t.Fatalf("presentation prompt missing specialist text:\n%s", fake.generates[2].Prompt)
	}
	if !strings.Contains(fake.generates[2].Prompt, "how do I pentest my app?") {
		t.Fatalf("presentation prompt missing original question:\n%s", fake.generates[2].Prompt)
	}

	if res.Message != personaText {
		t.Fatalf("Message = %q, want the presentation output", res.Message)
	}
	if res.SpecialistResponse != specialistText {
		t.Fatalf("SpecialistResponse = %q", res.SpecialistResponse)
	}
	if res.Routing == nil || res.Routing.Agent != "ethical-hacker" {
		t.Fatalf("Routing = %+v", res.Routing)
	}
	if want := (1 + 2) + (2 + 3) + (3 + 4); res.TokensUsed != want {
		t.Fatalf("TokensUsed = %d, want %d", res.TokensUsed, want)
	}
	if res.LatencyMS < 0 {
		t.Fatalf("LatencyMS = %v", res.LatencyMS)
	}
}

func TestRespondDirectPathUsesChatWindow(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("AGENT: conductor\nCONFIDENCE: 0.95\nREASON: casual chat", 1, 2), nil
		},
		chatFn: func(req ollama.ChatRequest) (ollama.GenerateResponse, error) {
			return reply("Doing great, thanks for asking!", 4, 6), nil
		},
	}
	c := New(testProfiles(), fake, Config{MaxContextTurns: 2}, nil)

	sess := session.New()
	for _, q := range []string{"q1", "q2", "q3", "q4"} {
		sess.AddTurn(q, "a-"+q, nil, 0, 0)
	}

	res, err := c.Respond(context.Background(), "how are you?", sess, Options{})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if len(fake.chats) != 1 {
		t.Fatalf("chat calls = %d, want 1", len(fake.chats))
	}
	req := fake.chats[0]
	if req.Model != "ai-way-yollayah" {
		t.Fatalf("chat model = %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0.8 {
		t.Fatalf("chat temperature = %v, want 0.8", req.Temperature)
	}
	if len(req.Messages) != 5 {
		t.Fatalf("messages = %d, want 2 windowed turns plus the query", len(req.Messages))
	}
	if req.Messages[0].Content != "q3" {
		t.Fatalf("window starts at %q, want q3", req.Messages[0].Content)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "how are you?" {
		t.Fatalf("final message = %+v", last)
	}

	if res.Message != "Doing great, thanks for asking!" {
		t.Fatalf("Message = %q", res.Message)
	}
	if res.SpecialistResponse != "" {
		t.Fatalf("direct path should have no specialist response, got %q", res.SpecialistResponse)
	}
	if want := (1 + 2) + (4 + 6); res.TokensUsed != want {
		t.Fatalf("TokensUsed = %d, want %d", res.TokensUsed, want)
	}
}

func TestRespondForcedSkipsRouting(t *testing.T) {
	fake := &fakeBackend{}
	fake.generateFn = func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
		if strings.HasPrefix(req.Prompt, "You are the routing component") {
			return ollama.GenerateResponse{}, errors.New("routing must not run when forced")
		}
		if req.Model == "ai-way-mentor" {
			return reply("Practice daily.", 1, 1), nil
		}
		return reply("Here's the advice, with love.", 1, 1), nil
	}
	c := newTestConductor(fake)

	res, err := c.Respond(context.Background(), "teach me Go", session.New(), Options{ForceAgent: "mentor"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(fake.generates) != 2 {
		t.Fatalf("backend calls = %d, want 2 (handoff, presentation)", len(fake.generates))
	}
	if res.Routing.Agent != "mentor" {
		t.Fatalf("Routing.Agent = %q", res.Routing.Agent)
	}
	if res.Routing.Confidence != 1.0 {
		t.Fatalf("Confidence = %v, want 1.0", res.Routing.Confidence)
	}
	if !strings.Contains(strings.ToLower(res.Routing.Reasoning), "forced") {
		t.Fatalf("Reasoning = %q, want it to mention forcing", res.Routing.Reasoning)
	}
}

func TestRespondForcedUnknownAgent(t *testing.T) {
	fake := &fakeBackend{}
	fake.generateFn = func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
		if strings.HasPrefix(req.Prompt, "You are Yollayah presenting") {
			return reply("I couldn't find that specialist, but here's what I know.", 1, 1), nil
		}
		return ollama.GenerateResponse{}, errors.New("unexpected call for model " + req.Model)
	}
	c := newTestConductor(fake)

	res, err := c.Respond(context.Background(), "hello", session.New(), Options{ForceAgent: "ghost"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(fake.generates) != 1 {
		t.Fatalf("backend calls = %d, want presentation only", len(fake.generates))
	}
	if res.SpecialistResponse != "Agent ghost not found." {
		t.Fatalf("SpecialistResponse = %q", res.SpecialistResponse)
	}
	if !strings.Contains(fake.generates[0].Prompt, "Agent ghost not found.") {
		t.Fatalf("presentation prompt should carry the notice:\n%s", fake.generates[0].Prompt)
	}
}

func TestRespondStreamsDirectReply(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("AGENT: conductor\nCONFIDENCE: 0.9\nREASON: small talk", 1, 1), nil
		},
		chatStream: func(req ollama.ChatRequest) (*ollama.Stream, error) {
			return scriptedStream(true,
				`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
				`{"message":{"role":"assistant","content":"lo!"},"done":false}`,
				`{"done":true,"prompt_eval_count":3,"eval_count":4}`,
			), nil
		},
	}
	c := newTestConductor(fake)

	var deltas []string
	res, err := c.Respond(context.Background(), "hi", session.New(), Options{
		OnDelta: func(token string) error {
			deltas = append(deltas, token)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got := strings.Join(deltas, ""); got != "Hello!" {
		t.Fatalf("streamed deltas = %q, want Hello!", got)
	}
	if res.Message != "Hello!" {
		t.Fatalf("Message = %q", res.Message)
	}
	if want := (1 + 1) + (3 + 4); res.TokensUsed != want {
		t.Fatalf("TokensUsed = %d, want %d", res.TokensUsed, want)
	}
}

func TestRespondStreamsOnlyPresentation(t *testing.T) {
	fake := &fakeBackend{}
	fake.generateFn = func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
		switch {
		case strings.HasPrefix(req.Prompt, "You are the routing component"):
			return reply("AGENT: mentor\nCONFIDENCE: 0.9\nREASON: teaching", 1, 1), nil
		case req.Model == "ai-way-mentor":
			return reply("Start with the tour.", 2, 2), nil
		}
		return ollama.GenerateResponse{}, errors.New("unexpected blocking generate: " + req.Model)
	}
	fake.generateStream = func(req ollama.GenerateRequest) (*ollama.Stream, error) {
		if !strings.HasPrefix(req.Prompt, "You are Yollayah presenting") {
			return nil, errors.New("only the presentation call may stream")
		}
		return scriptedStream(false,
			`{"response":"Take ","done":false}`,
			`{"response":"the tour first.","done":false}`,
			`{"done":true,"prompt_eval_count":2,"eval_count":3}`,
		), nil
	}
	c := newTestConductor(fake)

	var deltas []string
	res, err := c.Respond(context.Background(), "where do I start with Go?", session.New(), Options{
		OnDelta: func(token string) error {
			deltas = append(deltas, token)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if len(fake.generates) != 2 {
		t.Fatalf("blocking calls = %d, want routing and handoff only", len(fake.generates))
	}
	if len(fake.streamed) != 1 {
		t.Fatalf("streamed calls = %d, want 1", len(fake.streamed))
	}
	if got := strings.Join(deltas, ""); got != "Take the tour first." {
		t.Fatalf("streamed deltas = %q", got)
	}
	if res.Message != "Take the tour first." {
		t.Fatalf("Message = %q", res.Message)
	}
	if res.SpecialistResponse != "Start with the tour." {
		t.Fatalf("SpecialistResponse = %q", res.SpecialistResponse)
	}
}

func TestRespondDeltaCallbackErrorAborts(t *testing.T) {
	fake := &fakeBackend{
		generateFn: func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
			return reply("AGENT: conductor\nCONFIDENCE: 0.9\nREASON: chat", 1, 1), nil
		},
		chatStream: func(req ollama.ChatRequest) (*ollama.Stream, error) {
			return scriptedStream(true,
				`{"message":{"role":"assistant","content":"tok"},"done":false}`,
				`{"done":true}`,
			), nil
		},
	}
	c := newTestConductor(fake)

	_, err := c.Respond(context.Background(), "hi", session.New(), Options{
		OnDelta: func(string) error { return errors.New("client gone") },
	})
	if err == nil {
		t.Fatal("Respond() should fail when the delta callback does")
	}
	if !strings.Contains(err.Error(), "deliver token") {
		t.Fatalf("error = %v", err)
	}
}

func TestRespondHandoffErrorNamesAgent(t *testing.T) {
	fake := &fakeBackend{}
	fake.generateFn = func(req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
		if strings.HasPrefix(req.Prompt, "You are the routing component") {
			return reply("AGENT: mentor\nCONFIDENCE: 0.9\nREASON: teaching", 1, 1), nil
		}
		return ollama.GenerateResponse{}, errors.New("model not loaded")
	}
	c := newTestConductor(fake)

	_, err := c.Respond(context.Background(), "teach me", session.New(), Options{})
	if err == nil {
		t.Fatal("Respond() should surface the handoff failure")
	}
	if !strings.Contains(err.Error(), "handoff to mentor") {
		t.Fatalf("error = %v", err)
	}
}
