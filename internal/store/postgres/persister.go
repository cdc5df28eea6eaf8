// Package postgres stores store snapshots in PostgreSQL, one JSONB row per collection.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/alsseok01/babsang/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS store_snapshots (
	part       TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertPart = `
INSERT INTO store_snapshots (part, body, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (part) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`

type Persister struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ store.Persister = (*Persister)(nil)

func New(db *sqlx.DB) *Persister {
	return &Persister{db: db, now: time.Now}
}

// Open connects to dsn and makes sure the snapshot table exists.
func Open(ctx context.Context, dsn string) (*Persister, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := New(db)
	if err := p.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Persister) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (p *Persister) Close() error { return p.db.Close() }

// Save writes every collection in one transaction.
func (p *Persister) Save(ctx context.Context, sn store.Snapshot) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := p.now().UTC()
	for _, part := range sn.Parts() {
		body, err := json.Marshal(part.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", part.Name, err)
		}
		if _, err := tx.ExecContext(ctx, upsertPart, part.Name, body, now); err != nil {
			return fmt.Errorf("save %s: %w", part.Name, err)
		}
	}
	return tx.Commit()
}

type row struct {
	Part string `db:"part"`
	Body []byte `db:"body"`
}

func (p *Persister) Load(ctx context.Context) (store.Snapshot, error) {
	var rows []row
	if err := p.db.SelectContext(ctx, &rows, `SELECT part, body FROM store_snapshots`); err != nil {
		return store.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	bodies := make(map[string][]byte, len(rows))
	for _, r := range rows {
		bodies[r.Part] = r.Body
	}

	var sn store.Snapshot
	for _, part := range sn.Parts() {
		body, ok := bodies[part.Name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(body, part.Value); err != nil {
			return store.Snapshot{}, fmt.Errorf("decode %s: %w", part.Name, err)
		}
	}
	return sn, nil
}
