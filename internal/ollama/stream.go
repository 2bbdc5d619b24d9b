package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrTruncatedStream marks a token stream whose body ended before the
// backend sent its terminal chunk. That is a backend failure, not a clean
// completion, and callers must not treat the partial text as a full reply.
var ErrTruncatedStream = errors.New("stream ended before completion")

// Stream is a single pass over an NDJSON token stream. Next yields one
// token fragment per call and io.EOF once the terminal chunk arrived; after
// that Final carries the accumulated text and the backend's usage counters.
// A stream cannot be rewound or restarted.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	chat    bool

	done  bool
	final GenerateResponse
	text  strings.Builder
	err   error
}

// NewStream wraps an NDJSON body. chat selects where token text lives in
// each chunk: message.content for /api/chat, response for /api/generate.
func NewStream(body io.ReadCloser, chat bool) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Stream{body: body, scanner: scanner, chat: chat}
}

// Next returns the next token fragment. It returns io.EOF after the
// terminal chunk, ErrTruncatedStream when the body ends without one, and a
// decode or transport error otherwise. Any non-nil error is sticky.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.done {
		s.finish(io.EOF)
		return "", s.err
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk responseChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.finish(fmt.Errorf("decode stream chunk: %w", err))
			return "", s.err
		}

		token := chunk.text(s.chat)
		if chunk.Done {
			s.done = true
			s.final = chunk.toResponse(s.chat)
			if token != "" {
				s.text.WriteString(token)
				return token, nil
			}
			s.finish(io.EOF)
			return "", s.err
		}
		if token == "" {
			continue
		}
		s.text.WriteString(token)
		return token, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.finish(fmt.Errorf("read stream: %w", err))
		return "", s.err
	}
	s.finish(ErrTruncatedStream)
	return "", s.err
}

// Final returns the full accumulated text plus the counters from the
// terminal chunk. Only meaningful once Next has returned io.EOF.
func (s *Stream) Final() GenerateResponse {
	out := s.final
	out.Response = s.text.String()
	return out
}

// Close abandons the stream early. Safe to call after Next reported an
// error or EOF.
func (s *Stream) Close() error {
	return s.body.Close()
}

func (s *Stream) finish(err error) {
	s.err = err
	_ = s.body.Close()
}
