package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/8007342/ai-way/internal/ollama"
)

// DefaultMood is the mood a fresh session starts with. The context summary
// only mentions mood once it moves off this value.
const DefaultMood = "neutral"

const (
	summaryRecentTurns = 3
	summaryCharLimit   = 100
)

// RoutingDecision records which handler was chosen for a query and why.
type RoutingDecision struct {
	Agent      string    `json:"agent"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`
}

// Turn is one user message and the assistant response it produced, plus the
// routing decision and cost metadata for that exchange.
type Turn struct {
	UserMessage       string           `json:"user_message"`
	AssistantResponse string           `json:"assistant_response"`
	Routing           *RoutingDecision `json:"routing,omitempty"`
	TokensUsed        int              `json:"tokens_used"`
	LatencyMS         float64          `json:"latency_ms"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Summary is the lightweight listing view of a session.
type Summary struct {
	ID           string `json:"id"`
	Turns        int    `json:"turns"`
	TotalTokens  int    `json:"total_tokens"`
	DetectedMood string `json:"detected_mood"`
}

// Session is a single conversation: ordered turns plus context accumulated
// for specialist handoffs. All methods are safe for concurrent use; a
// per-session mutex serializes turn appends so each conversation stays a
// strict sequence even when its surface sends overlapping requests.
type Session struct {
	mu sync.Mutex

	id            string
	createdAt     time.Time
	turns         []Turn
	context       *OrderedMap
	preferences   *OrderedMap
	activeSurface string
	detectedMood  string
}

// NewID returns a short session identifier. Eight characters of a UUID keep
// ids readable in logs and URLs while staying collision-resistant for a
// local runtime.
func NewID() string {
	return uuid.NewString()[:8]
}

func New() *Session {
	return &Session{
		id:           NewID(),
		createdAt:    time.Now().UTC(),
		context:      NewOrderedMap(),
		preferences:  NewOrderedMap(),
		detectedMood: DefaultMood,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AddTurn appends a completed exchange to the conversation and returns the
// recorded turn. Turns are only ever appended whole; a failed response never
// reaches the transcript.
func (s *Session) AddTurn(userMessage, assistantResponse string, routing *RoutingDecision, tokensUsed int, latencyMS float64) Turn {
	turn := Turn{
		UserMessage:       userMessage,
		AssistantResponse: assistantResponse,
		Routing:           routing,
		TokensUsed:        tokensUsed,
		LatencyMS:         latencyMS,
		Timestamp:         time.Now().UTC(),
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return turn
}

// ChatHistory returns the most recent turns as chat messages, oldest first,
// alternating user and assistant roles. maxTurns <= 0 includes everything.
func (s *Session) ChatHistory(maxTurns int) []ollama.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	messages := make([]ollama.Message, 0, len(turns)*2)
	for _, turn := range turns {
		messages = append(messages, ollama.Message{Role: "user", Content: turn.UserMessage})
		messages = append(messages, ollama.Message{Role: "assistant", Content: turn.AssistantResponse})
	}
	return messages
}

// ContextSummary renders accumulated session state as prompt text for
// specialist handoffs: the last few turns, explicit context facts, user
// preferences, and a non-neutral mood. Sections with nothing to say are
// omitted entirely, so a fresh session renders as the empty string.
func (s *Session) ContextSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []string

	if len(s.turns) > 0 {
		recent := s.turns
		if len(recent) > summaryRecentTurns {
			recent = recent[len(recent)-summaryRecentTurns:]
		}
		parts = append(parts, "Recent conversation:")
		for _, turn := range recent {
			parts = append(parts, "  User: "+truncateRunes(turn.UserMessage, summaryCharLimit)+"...")
			parts = append(parts, "  Assistant: "+truncateRunes(turn.AssistantResponse, summaryCharLimit)+"...")
		}
	}

	if s.context.Len() > 0 {
		parts = append(parts, "\nContext:")
		for _, kv := range s.context.Items() {
			parts = append(parts, "  "+kv.Key+": "+kv.Value)
		}
	}

	if s.preferences.Len() > 0 {
		parts = append(parts, "\nUser preferences:")
		for _, kv := range s.preferences.Items() {
			parts = append(parts, "  "+kv.Key+": "+kv.Value)
		}
	}

	if s.detectedMood != DefaultMood {
		parts = append(parts, "\nDetected mood: "+s.detectedMood)
	}

	return strings.Join(parts, "\n")
}

// UpdateContext adds or updates a context fact carried into handoffs.
func (s *Session) UpdateContext(key, value string) {
	s.mu.Lock()
	s.context.Set(key, value)
	s.mu.Unlock()
}

// SetPreference records a user preference discovered during the session.
func (s *Session) SetPreference(key, value string) {
	s.mu.Lock()
	s.preferences.Set(key, value)
	s.mu.Unlock()
}

func (s *Session) SetMood(mood string) {
	s.mu.Lock()
	s.detectedMood = mood
	s.mu.Unlock()
}

func (s *Session) Mood() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectedMood
}

func (s *Session) SetActiveSurface(surface string) {
	s.mu.Lock()
	s.activeSurface = surface
	s.mu.Unlock()
}

func (s *Session) ActiveSurface() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSurface
}

func (s *Session) TotalTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func (s *Session) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, turn := range s.turns {
		total += turn.TokensUsed
	}
	return total
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, turn := range s.turns {
		total += turn.TokensUsed
	}
	return Summary{
		ID:           s.id,
		Turns:        len(s.turns),
		TotalTokens:  total,
		DetectedMood: s.detectedMood,
	}
}

// sessionRecord is the wire form of a session. Timestamps serialize as
// RFC 3339 and the ordered maps keep their key order through the round trip.
type sessionRecord struct {
	ID            string      `json:"id"`
	CreatedAt     time.Time   `json:"created_at"`
	Turns         []Turn      `json:"turns"`
	Context       *OrderedMap `json:"context"`
	Preferences   *OrderedMap `json:"preferences"`
	DetectedMood  string      `json:"detected_mood"`
	ActiveSurface string      `json:"active_surface,omitempty"`
}

func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	rec := sessionRecord{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		Turns:         turns,
		Context:       s.context.Clone(),
		Preferences:   s.preferences.Clone(),
		DetectedMood:  s.detectedMood,
		ActiveSurface: s.activeSurface,
	}
	s.mu.Unlock()
	return json.Marshal(rec)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.Context == nil {
		rec.Context = NewOrderedMap()
	}
	if rec.Preferences == nil {
		rec.Preferences = NewOrderedMap()
	}
	if rec.DetectedMood == "" {
		rec.DetectedMood = DefaultMood
	}

	s.mu.Lock()
	s.id = rec.ID
	s.createdAt = rec.CreatedAt
	s.turns = rec.Turns
	s.context = rec.Context
	s.preferences = rec.Preferences
	s.detectedMood = rec.DetectedMood
	s.activeSurface = rec.ActiveSurface
	s.mu.Unlock()
	return nil
}

// truncateRunes cuts s to at most limit runes. Slicing runes keeps
// multi-byte text intact.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
