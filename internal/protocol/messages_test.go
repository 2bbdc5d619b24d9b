package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageChat(t *testing.T) {
	raw := []byte(`{"type":"chat","message":"review my auth flow","session_id":"abc12345","force_agent":"ethical-hacker"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	chat, ok := msg.(ClientChat)
	if !ok {
		t.Fatalf("message type = %T, want ClientChat", msg)
	}
	if chat.Message != "review my auth flow" {
		t.Fatalf("Message = %q", chat.Message)
	}
	if chat.SessionID != "abc12345" {
		t.Fatalf("SessionID = %q", chat.SessionID)
	}
	if chat.ForceAgent != "ethical-hacker" {
		t.Fatalf("ForceAgent = %q", chat.ForceAgent)
	}
}

func TestParseClientMessageChatMinimal(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"chat","message":"hi"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	chat := msg.(ClientChat)
	if chat.SessionID != "" || chat.ForceAgent != "" {
		t.Fatalf("optional fields should default empty: %+v", chat)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsEmptyMessage(t *testing.T) {
	for _, raw := range []string{
		`{"type":"chat"}`,
		`{"type":"chat","message":""}`,
		`{"type":"chat","message":"   "}`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected envelope error")
	}
}

func BenchmarkParseClientMessageChat(b *testing.B) {
	raw := []byte(`{"type":"chat","message":"how do goroutines work?","session_id":"abc12345"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientChat); !ok {
			b.Fatalf("message type = %T, want ClientChat", msg)
		}
	}
}
