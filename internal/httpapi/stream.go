package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/8007342/ai-way/internal/conductor"
	"github.com/8007342/ai-way/internal/protocol"
	"github.com/8007342/ai-way/internal/reliability"
)

const wsWriteTimeout = 10 * time.Second

// handleChatWS upgrades to the streaming chat protocol: the client sends
// chat messages; the server answers each with a session event when a new
// session was minted, token events while the reply streams, and a terminal
// done event. Failures emit an error event and keep the connection open.
// Exchanges are sequential per connection, which also keeps websocket
// writes single-threaded.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.StreamClients.Inc()
	defer s.metrics.StreamClients.Dec()

	conn.SetReadLimit(1 << 20)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = s.writeEvent(conn, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		chat, ok := parsed.(protocol.ClientChat)
		if !ok {
			continue
		}
		s.serveChatMessage(r.Context(), conn, chat)
	}
}

func (s *Server) serveChatMessage(ctx context.Context, conn *websocket.Conn, chat protocol.ClientChat) {
	if s.responder == nil {
		_ = s.writeEvent(conn, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      "conductor_unavailable",
			Retryable: true,
			Detail:    "conductor not initialized",
		})
		return
	}

	sess := s.store.GetOrCreate(chat.SessionID)
	if sess.ID() != chat.SessionID {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
		s.metrics.ActiveSessions.Set(float64(s.store.Len()))
		if err := s.writeEvent(conn, protocol.SessionEvent{
			Type:      protocol.TypeSessionEvent,
			SessionID: sess.ID(),
		}); err != nil {
			return
		}
	}

	res, err := s.responder.Respond(ctx, chat.Message, sess, conductor.Options{
		ForceAgent: chat.ForceAgent,
		OnDelta: func(token string) error {
			return s.writeEvent(conn, protocol.TokenEvent{
				Type:  protocol.TypeTokenEvent,
				Token: token,
			})
		},
	})
	if err != nil {
		_ = s.writeEvent(conn, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      "backend_error",
			Retryable: reliability.IsRetryableBackendError(err),
			Detail:    err.Error(),
		})
		return
	}

	sess.AddTurn(chat.Message, res.Message, res.Routing, res.TokensUsed, res.LatencyMS)
	s.metrics.TurnsRecorded.Inc()

	done := protocol.DoneEvent{
		Type:       protocol.TypeDoneEvent,
		Message:    res.Message,
		SessionID:  sess.ID(),
		TokensUsed: res.TokensUsed,
		LatencyMS:  res.LatencyMS,
	}
	if s.cfg.DevMode {
		done.Routing = routingWire(res.Routing)
	}
	_ = s.writeEvent(conn, done)
}

func (s *Server) writeEvent(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}
