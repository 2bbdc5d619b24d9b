package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/8007342/ai-way/internal/protocol"
	"github.com/8007342/ai-way/internal/reliability"
)

type options struct {
	baseURL     string
	sessionID   string
	forceAgent  string
	texts       []string
	dialRetries int
	turnTimeout time.Duration
	verbose     bool
}

// wsEvent is the union of every server event; only the fields matching the
// type are populated.
type wsEvent struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	Token      string            `json:"token,omitempty"`
	Message    string            `json:"message,omitempty"`
	Routing    *protocol.Routing `json:"routing,omitempty"`
	TokensUsed int               `json:"tokens_used,omitempty"`
	LatencyMS  float64           `json:"latency_ms,omitempty"`
	Code       string            `json:"code,omitempty"`
	Retryable  bool              `json:"retryable,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

var defaultTexts = []string{
	"Hi! What can you help me with?",
	"Give me one tip for writing clean Go code.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiway-chat: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "aiway-chat: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutSec int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8420", "ai-way core base URL")
	flag.StringVar(&cfg.sessionID, "session", "", "resume an existing session id")
	flag.StringVar(&cfg.forceAgent, "agent", "", "bypass routing and force this agent")
	flag.StringVar(&textsRaw, "texts", "", "messages separated by '|' (optional)")
	flag.IntVar(&cfg.dialRetries, "dial-retries", 3, "websocket dial retries before giving up")
	flag.IntVar(&turnTimeoutSec, "turn-timeout-sec", 180, "timeout per reply in seconds")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print session and routing metadata to stderr")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.dialRetries < 0 {
		cfg.dialRetries = 0
	}
	if turnTimeoutSec < 5 {
		turnTimeoutSec = 5
	}
	cfg.turnTimeout = time.Duration(turnTimeoutSec) * time.Second

	if args := flag.Args(); len(args) > 0 {
		cfg.texts = append([]string(nil), args...)
	} else if strings.TrimSpace(textsRaw) != "" {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty messages")
		}
	} else {
		cfg.texts = append([]string(nil), defaultTexts...)
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.turnTimeout*time.Duration(len(cfg.texts)+1))
	defer cancel()

	target, err := chatWSURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	var conn *websocket.Conn
	for attempt := 0; ; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err == nil {
			break
		}
		if attempt >= cfg.dialRetries {
			return fmt.Errorf("open websocket: %w", err)
		}
		delay := reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)
		if cfg.verbose {
			fmt.Fprintf(os.Stderr, "aiway-chat: dial failed (%v), retrying in %s\n", err, delay)
		}
		time.Sleep(delay)
	}
	defer conn.Close()

	sessionID := cfg.sessionID
	for _, text := range cfg.texts {
		fmt.Printf("> %s\n", text)
		sessionID, err = exchange(conn, cfg, sessionID, text)
		if err != nil {
			return err
		}
	}
	if cfg.verbose && sessionID != "" {
		fmt.Fprintf(os.Stderr, "aiway-chat: session %s (resume with -session)\n", sessionID)
	}
	return nil
}

// exchange sends one chat message and reads events until the reply
// completes. It returns the session id the server answered under.
func exchange(conn *websocket.Conn, cfg options, sessionID, text string) (string, error) {
	msg := protocol.ClientChat{
		Type:       protocol.TypeClientChat,
		Message:    text,
		SessionID:  sessionID,
		ForceAgent: cfg.forceAgent,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return sessionID, fmt.Errorf("send message: %w", err)
	}

	streamed := false
	for {
		if err := conn.SetReadDeadline(time.Now().Add(cfg.turnTimeout)); err != nil {
			return sessionID, err
		}
		var event wsEvent
		if err := conn.ReadJSON(&event); err != nil {
			return sessionID, fmt.Errorf("read event: %w", err)
		}

		switch event.Type {
		case string(protocol.TypeSessionEvent):
			sessionID = event.SessionID
			if cfg.verbose {
				fmt.Fprintf(os.Stderr, "aiway-chat: new session %s\n", sessionID)
			}
		case string(protocol.TypeTokenEvent):
			streamed = true
			fmt.Print(event.Token)
		case string(protocol.TypeDoneEvent):
			if streamed {
				fmt.Println()
			} else {
				fmt.Println(event.Message)
			}
			if event.SessionID != "" {
				sessionID = event.SessionID
			}
			if cfg.verbose {
				if event.Routing != nil {
					fmt.Fprintf(os.Stderr, "aiway-chat: handled by %s (confidence %.2f): %s\n",
						event.Routing.Agent, event.Routing.Confidence, event.Routing.Reasoning)
				}
				fmt.Fprintf(os.Stderr, "aiway-chat: %d tokens in %.0fms\n", event.TokensUsed, event.LatencyMS)
			}
			return sessionID, nil
		case string(protocol.TypeErrorEvent):
			return sessionID, fmt.Errorf("server error (%s, retryable=%t): %s", event.Code, event.Retryable, event.Detail)
		}
	}
}

func chatWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	return u.String(), nil
}
