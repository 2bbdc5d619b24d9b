package conductor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/8007342/ai-way/internal/agents"
	"github.com/8007342/ai-way/internal/observability"
	"github.com/8007342/ai-way/internal/ollama"
	"github.com/8007342/ai-way/internal/session"
)

// DirectAgent is the sentinel handler meaning the persona answers the query
// itself, with no specialist handoff.
const DirectAgent = "conductor"

const (
	opRouting      = "routing"
	opHandoff      = "handoff"
	opPresentation = "presentation"
	opDirect       = "direct"
)

type Config struct {
	ConductorModel      string
	AgentModelPrefix    string
	MaxContextTurns     int
	RoutingTemperature  float64
	ResponseTemperature float64
}

// DefaultConfig returns the stock tuning: a low routing temperature for
// consistent decisions and a higher one for personality in responses.
func DefaultConfig() Config {
	return Config{
		ConductorModel:      "ai-way-yollayah",
		AgentModelPrefix:    "ai-way-",
		MaxContextTurns:     10,
		RoutingTemperature:  0.3,
		ResponseTemperature: 0.8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConductorModel == "" {
		c.ConductorModel = def.ConductorModel
	}
	if c.AgentModelPrefix == "" {
		c.AgentModelPrefix = def.AgentModelPrefix
	}
	if c.MaxContextTurns <= 0 {
		c.MaxContextTurns = def.MaxContextTurns
	}
	if c.RoutingTemperature <= 0 {
		c.RoutingTemperature = def.RoutingTemperature
	}
	if c.ResponseTemperature <= 0 {
		c.ResponseTemperature = def.ResponseTemperature
	}
	return c
}

// Inference is the slice of the backend client the conductor needs.
// *ollama.Client satisfies it; tests swap in recording fakes.
type Inference interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (ollama.GenerateResponse, error)
	Chat(ctx context.Context, req ollama.ChatRequest) (ollama.GenerateResponse, error)
	GenerateStream(ctx context.Context, req ollama.GenerateRequest) (*ollama.Stream, error)
	ChatStream(ctx context.Context, req ollama.ChatRequest) (*ollama.Stream, error)
}

// Options tunes a single Respond call.
type Options struct {
	// ForceAgent skips routing entirely and sends the query straight to the
	// named handler.
	ForceAgent string
	// OnDelta, when set, receives the final message's fragments as they
	// stream in. The specialist handoff call is never streamed.
	OnDelta func(token string) error
}

// Response is the outcome of one Respond call. SpecialistResponse carries
// the raw handoff text on the specialist path; it is diagnostic material,
// not something end users see outside a developer surface.
type Response struct {
	Message            string
	Routing            *session.RoutingDecision
	TokensUsed         int
	LatencyMS          float64
	SpecialistResponse string
}

// Conductor routes queries to specialist models and keeps the persona's
// single voice in front of the user. It holds the catalog immutably; all
// conversation state lives in the session passed per call.
type Conductor struct {
	cfg     Config
	backend Inference
	metrics *observability.Metrics

	profiles []agents.Profile
	byName   map[string]agents.Profile
	catalog  string
}

// New builds a conductor over a fixed profile catalog. The profile order
// given here is the catalog enumeration order fuzzy matching scans in.
func New(profiles []agents.Profile, backend Inference, cfg Config, metrics *observability.Metrics) *Conductor {
	byName := make(map[string]agents.Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	return &Conductor{
		cfg:      cfg.withDefaults(),
		backend:  backend,
		metrics:  metrics,
		profiles: profiles,
		byName:   byName,
		catalog:  buildCatalog(profiles),
	}
}

func (c *Conductor) AgentCount() int { return len(c.profiles) }

// Profiles returns the catalog in enumeration order.
func (c *Conductor) Profiles() []agents.Profile { return c.profiles }

// Route decides which handler takes the query. It fails only when the
// backend call itself fails; malformed routing text degrades to defaults
// and never errors.
func (c *Conductor) Route(ctx context.Context, query string, sess *session.Session) (session.RoutingDecision, error) {
	decision, _, err := c.route(ctx, query, sess)
	return decision, err
}

func (c *Conductor) route(ctx context.Context, query string, sess *session.Session) (session.RoutingDecision, int, error) {
	prompt := routingPrompt(c.catalog, query, routingContext(sess))

	res, err := c.generate(ctx, opRouting, ollama.GenerateRequest{
		Model:       c.cfg.ConductorModel,
		Prompt:      prompt,
		Temperature: ollama.Float64(c.cfg.RoutingTemperature),
	})
	if err != nil {
		return session.RoutingDecision{}, 0, fmt.Errorf("routing: %w", err)
	}

	decision, outcome := c.resolveAgent(parseRoutingReply(res.Response))
	c.metrics.RoutingDecision(decision.Agent, outcome)
	return decision, res.TokensUsed(), nil
}

// Respond answers one query end to end: route (unless forced), then either
// answer directly as the persona or hand off to a specialist and re-express
// the result in the persona's voice. The session is only read here;
// recording the turn is the caller's job, after a complete response.
func (c *Conductor) Respond(ctx context.Context, query string, sess *session.Session, opts Options) (*Response, error) {
	start := time.Now()
	tokens := 0

	var routing session.RoutingDecision
	if opts.ForceAgent != "" {
		routing = session.RoutingDecision{
			Agent:      opts.ForceAgent,
			Confidence: 1.0,
			Reasoning:  "Agent forced by request",
			Timestamp:  time.Now().UTC(),
		}
		c.metrics.RoutingDecision(routing.Agent, "forced")
	} else {
		decision, routeTokens, err := c.route(ctx, query, sess)
		if err != nil {
			return nil, err
		}
		routing = decision
		tokens += routeTokens
	}

	var message, specialist string
	if routing.Agent == DirectAgent {
		text, used, err := c.respondDirectly(ctx, query, sess, opts.OnDelta)
		if err != nil {
			return nil, err
		}
		message = text
		tokens += used
	} else {
		text, used, err := c.handoff(ctx, query, routing.Agent, sess)
		if err != nil {
			return nil, fmt.Errorf("handoff to %s: %w", routing.Agent, err)
		}
		specialist = text
		tokens += used

		presented, presentTokens, err := c.present(ctx, query, routing.Agent, specialist, opts.OnDelta)
		if err != nil {
			return nil, fmt.Errorf("present %s response: %w", routing.Agent, err)
		}
		message = presented
		tokens += presentTokens
	}

	return &Response{
		Message:            message,
		Routing:            &routing,
		TokensUsed:         tokens,
		LatencyMS:          float64(time.Since(start)) / float64(time.Millisecond),
		SpecialistResponse: specialist,
	}, nil
}

// respondDirectly answers as the persona using the recent chat window, not
// the condensed summary. The persona model carries its own system identity.
func (c *Conductor) respondDirectly(ctx context.Context, query string, sess *session.Session, onDelta func(string) error) (string, int, error) {
	var messages []ollama.Message
	if sess != nil {
		messages = sess.ChatHistory(c.cfg.MaxContextTurns)
	}
	messages = append(messages, ollama.Message{Role: "user", Content: query})

	req := ollama.ChatRequest{
		Model:       c.cfg.ConductorModel,
		Messages:    messages,
		Temperature: ollama.Float64(c.cfg.ResponseTemperature),
	}

	if onDelta == nil {
		res, err := c.chat(ctx, opDirect, req)
		if err != nil {
			return "", 0, err
		}
		return res.Response, res.TokensUsed(), nil
	}

	start := time.Now()
	stream, err := c.backend.ChatStream(ctx, req)
	if err != nil {
		c.metrics.ObserveBackend(opDirect, time.Since(start), err)
		return "", 0, err
	}
	text, used, err := consumeStream(stream, onDelta)
	c.metrics.ObserveBackend(opDirect, time.Since(start), err)
	return text, used, err
}

// handoff sends the query to a specialist model with the condensed context
// briefing. An unknown specialist (only reachable through ForceAgent, since
// routing validates) short-circuits with a canned notice and no backend
// call.
func (c *Conductor) handoff(ctx context.Context, query, agentName string, sess *session.Session) (string, int, error) {
	if _, ok := c.byName[agentName]; !ok {
		return fmt.Sprintf("Agent %s not found.", agentName), 0, nil
	}

	res, err := c.generate(ctx, opHandoff, ollama.GenerateRequest{
		Model:       c.cfg.AgentModelPrefix + agentName,
		Prompt:      handoffPrompt(sessionSummary(sess), query, agentName),
		Temperature: ollama.Float64(c.cfg.ResponseTemperature),
	})
	if err != nil {
		return "", 0, err
	}
	return res.Response, res.TokensUsed(), nil
}

// present has the persona re-express a specialist's text in its own voice.
// The final message comes from this call, never from the raw handoff text.
func (c *Conductor) present(ctx context.Context, query, agentName, specialistText string, onDelta func(string) error) (string, int, error) {
	req := ollama.GenerateRequest{
		Model:       c.cfg.ConductorModel,
		Prompt:      presentationPrompt(query, agentName, specialistText),
		Temperature: ollama.Float64(c.cfg.ResponseTemperature),
	}

	if onDelta == nil {
		res, err := c.generate(ctx, opPresentation, req)
		if err != nil {
			return "", 0, err
		}
		return res.Response, res.TokensUsed(), nil
	}

	start := time.Now()
	stream, err := c.backend.GenerateStream(ctx, req)
	if err != nil {
		c.metrics.ObserveBackend(opPresentation, time.Since(start), err)
		return "", 0, err
	}
	text, used, err := consumeStream(stream, onDelta)
	c.metrics.ObserveBackend(opPresentation, time.Since(start), err)
	return text, used, err
}

func (c *Conductor) generate(ctx context.Context, op string, req ollama.GenerateRequest) (ollama.GenerateResponse, error) {
	start := time.Now()
	res, err := c.backend.Generate(ctx, req)
	c.metrics.ObserveBackend(op, time.Since(start), err)
	return res, err
}

func (c *Conductor) chat(ctx context.Context, op string, req ollama.ChatRequest) (ollama.GenerateResponse, error) {
	start := time.Now()
	res, err := c.backend.Chat(ctx, req)
	c.metrics.ObserveBackend(op, time.Since(start), err)
	return res, err
}

// consumeStream drains a token stream, forwarding each fragment, and
// returns the full text plus the backend's token usage.
func consumeStream(stream *ollama.Stream, onDelta func(string) error) (string, int, error) {
	defer stream.Close()
	for {
		token, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, err
		}
		if onDelta != nil {
			if err := onDelta(token); err != nil {
				return "", 0, fmt.Errorf("deliver token: %w", err)
			}
		}
	}
	final := stream.Final()
	return final.Response, final.TokensUsed(), nil
}

// routingContext is what the routing prompt sees of the session: the
// summary once the conversation has turns, a fixed placeholder before that.
func routingContext(sess *session.Session) string {
	if sess == nil || sess.TotalTurns() == 0 {
		return "No prior context."
	}
	return sess.ContextSummary()
}

func sessionSummary(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ContextSummary()
}
