package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Store holds every live session and drives the optional durable snapshot.
// Sessions are ephemeral by default; they exist until explicitly deleted or
// the process exits without a snapshot backend configured.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	snap     Snapshotter
}

// NewStore builds a store, restoring state from snap when one is configured.
// A missing snapshot yields a clean empty store. A corrupt or unreadable
// snapshot is reported through the returned error but still yields a usable
// empty store; callers treat it as a warning, not a failure.
func NewStore(ctx context.Context, snap Snapshotter) (*Store, error) {
	st := &Store{
		sessions: make(map[string]*Session),
		snap:     snap,
	}
	if snap == nil {
		return st, nil
	}
	restored, err := snap.Load(ctx)
	if err != nil {
		return st, fmt.Errorf("load sessions: %w", err)
	}
	for _, s := range restored {
		st.sessions[s.ID()] = s
	}
	return st, nil
}

func (st *Store) Create() *Session {
	s := New()
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetOrCreate returns the session with the given id, or a brand-new session
// when the id is empty or unknown. Callers detect creation by comparing the
// returned session's ID against the one they asked for.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s
		}
	}
	s := New()
	st.sessions[s.id] = s
	return s
}

// Delete removes a session and reports whether it existed. When a snapshot
// backend is configured the remaining sessions are persisted immediately so
// the deleted conversation does not outlive the call on disk.
func (st *Store) Delete(ctx context.Context, id string) (bool, error) {
	st.mu.Lock()
	_, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()

	if !ok {
		return false, nil
	}
	if st.snap == nil {
		return true, nil
	}
	if err := st.persist(ctx); err != nil {
		return true, fmt.Errorf("persist after delete: %w", err)
	}
	return true, nil
}

// List returns all sessions ordered by creation time, then id.
func (st *Store) List() []*Session {
	st.mu.RLock()
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Persist writes the full session state through the snapshot backend. It is
// a no-op when no backend is configured.
func (st *Store) Persist(ctx context.Context) error {
	if st.snap == nil {
		return nil
	}
	return st.persist(ctx)
}

func (st *Store) persist(ctx context.Context) error {
	return st.snap.Save(ctx, st.List())
}

// StartAutoPersist snapshots on a fixed interval until ctx is canceled.
// Persistence is best-effort; a failed snapshot does not disturb the live
// store and the next tick tries again.
func (st *Store) StartAutoPersist(ctx context.Context, interval time.Duration) {
	if st.snap == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = st.persist(ctx)
			}
		}
	}()
}

func (st *Store) Close() error {
	if st.snap == nil {
		return nil
	}
	return st.snap.Close()
}
