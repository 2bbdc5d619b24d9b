package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Snapshotter persists the full session state and restores it on startup.
// Save always receives the complete set of live sessions; a backend must
// replace its previous snapshot rather than merge into it.
type Snapshotter interface {
	Load(ctx context.Context) ([]*Session, error)
	Save(ctx context.Context, sessions []*Session) error
	Close() error
}

// NewSnapshotter picks a backend: postgres when a database URL is set,
// otherwise a JSON file when a path is set, otherwise none (ephemeral
// sessions, the default).
func NewSnapshotter(ctx context.Context, databaseURL, filePath string) (Snapshotter, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresSnapshotter(ctx, databaseURL)
	}
	if strings.TrimSpace(filePath) != "" {
		return NewFileSnapshotter(filePath), nil
	}
	return nil, nil
}

// FileSnapshotter stores all sessions as one JSON document keyed by session
// id.
type FileSnapshotter struct {
	path string
}

func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path}
}

func (f *FileSnapshotter) Load(_ context.Context) ([]*Session, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var records map[string]*Session
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}

	sessions := make([]*Session, 0, len(records))
	for id, s := range records {
		if s == nil {
			continue
		}
		if s.id == "" {
			s.id = id
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (f *FileSnapshotter) Save(_ context.Context, sessions []*Session) error {
	records := make(map[string]*Session, len(sessions))
	for _, s := range sessions {
		records[s.ID()] = s
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	// Transcripts are private; keep the snapshot owner-only.
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (f *FileSnapshotter) Close() error { return nil }
