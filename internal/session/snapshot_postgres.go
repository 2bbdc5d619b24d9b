package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotter keeps the session snapshot in a single table, one
// JSONB record per session. Save replaces the whole table contents in one
// transaction so the durable state always mirrors the in-memory store,
// including deletions.
type PostgresSnapshotter struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshotter(ctx context.Context, databaseURL string) (*PostgresSnapshotter, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSnapshotter{pool: pool}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ai_way_sessions (
			id TEXT PRIMARY KEY,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (p *PostgresSnapshotter) Load(ctx context.Context) ([]*Session, error) {
	rows, err := p.pool.Query(ctx, `SELECT record FROM ai_way_sessions ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		s := &Session{}
		if err := json.Unmarshal(record, s); err != nil {
			return nil, fmt.Errorf("decode session record: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return sessions, nil
}

func (p *PostgresSnapshotter) Save(ctx context.Context, sessions []*Session) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM ai_way_sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	now := time.Now().UTC()
	for _, s := range sessions {
		record, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", s.ID(), err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ai_way_sessions (id, record, updated_at) VALUES ($1, $2, $3)`,
			s.ID(), record, now,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", s.ID(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

func (p *PostgresSnapshotter) Close() error {
	p.pool.Close()
	return nil
}
