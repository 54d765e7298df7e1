package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convergent-dev/convergent/internal/canon"
	"github.com/convergent-dev/convergent/internal/model"
)

// ChannelIntents is the LISTEN/NOTIFY channel other processes use to
// learn about newly published intents, mirroring the teacher's
// notify.go channel-per-concern convention.
const ChannelIntents = "convergent_intents"

// PostgresBackend is the native, multi-process backend: a pooled
// connection for normal queries plus a dedicated connection for
// LISTEN/NOTIFY, grounded directly on the teacher's storage.DB split in
// internal/storage/pool.go and internal/storage/notify.go.
type PostgresBackend struct {
	pool       *pgxpool.Pool
	notifyConn *pgx.Conn
}

// NewPostgresBackend connects the pool (poolDSN) and, if notifyDSN is
// non-empty, a dedicated LISTEN/NOTIFY connection, and ensures the
// schema exists.
func NewPostgresBackend(ctx context.Context, poolDSN, notifyDSN string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, poolDSN)
	if err != nil {
		return nil, fmt.Errorf("graph: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("graph: connect notify: %w", err)
		}
	}

	b := &PostgresBackend{pool: pool, notifyConn: notifyConn}
	if err := b.migrate(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS intents (
			intent_id    TEXT PRIMARY KEY,
			seq          BIGSERIAL,
			agent_id     TEXT NOT NULL,
			content      JSONB NOT NULL,
			content_hash TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_intents_agent ON intents (agent_id);
	`)
	if err != nil {
		return fmt.Errorf("graph: migrate postgres schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Publish(ctx context.Context, intent model.Intent) error {
	hash, err := contentHash(intent)
	if err != nil {
		return fmt.Errorf("graph: hash intent %q: %w", intent.IntentID, err)
	}
	content, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("graph: marshal intent %q: %w", intent.IntentID, err)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var existingHash string
	err = tx.QueryRow(ctx, `SELECT content_hash FROM intents WHERE intent_id = $1`, intent.IntentID).Scan(&existingHash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx,
			`INSERT INTO intents (intent_id, agent_id, content, content_hash) VALUES ($1, $2, $3, $4)`,
			intent.IntentID, intent.AgentID, content, hash,
		); err != nil {
			return fmt.Errorf("graph: insert intent %q: %w", intent.IntentID, err)
		}
	case err != nil:
		return fmt.Errorf("graph: lookup intent %q: %w", intent.IntentID, err)
	default:
		if existingHash != hash {
			return fmt.Errorf("%w: intent %q already exists with different content", model.ErrDuplicateIntent, intent.IntentID)
		}
		return tx.Commit(ctx)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("graph: commit publish %q: %w", intent.IntentID, err)
	}

	// Best-effort notification: other processes learn a new intent
	// landed. A failed notify never fails the publish itself — the
	// intent is already durably committed.
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelIntents, intent.IntentID); err != nil {
		return nil //nolint:nilerr // notify is advisory, publish already succeeded
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, intentID string) (model.Intent, error) {
	var content []byte
	err := b.pool.QueryRow(ctx, `SELECT content FROM intents WHERE intent_id = $1`, intentID).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Intent{}, wrapNotFound(intentID)
		}
		return model.Intent{}, fmt.Errorf("graph: get intent %q: %w", intentID, err)
	}
	var intent model.Intent
	if err := json.Unmarshal(content, &intent); err != nil {
		return model.Intent{}, fmt.Errorf("graph: decode intent %q: %w", intentID, err)
	}
	return intent, nil
}

func (b *PostgresBackend) ListByAgent(ctx context.Context, agentID string) ([]model.Intent, error) {
	rows, err := b.pool.Query(ctx, `SELECT content FROM intents WHERE agent_id = $1 ORDER BY seq ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("graph: list by agent %q: %w", agentID, err)
	}
	defer rows.Close()
	return scanIntents(rows)
}

func (b *PostgresBackend) All(ctx context.Context) ([]model.Intent, error) {
	rows, err := b.pool.Query(ctx, `SELECT content FROM intents ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("graph: list intents: %w", err)
	}
	defer rows.Close()
	return scanIntents(rows)
}

func scanIntents(rows pgx.Rows) ([]model.Intent, error) {
	var out []model.Intent
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("graph: scan intent row: %w", err)
		}
		var intent model.Intent
		if err := json.Unmarshal(content, &intent); err != nil {
			continue // corrupt record: skip, engine remains available
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func (b *PostgresBackend) AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error {
	intent, err := b.Get(ctx, intentID)
	if err != nil {
		return err
	}
	intent.Evidence = append(intent.Evidence, evidence)
	content, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("graph: marshal intent %q: %w", intentID, err)
	}
	hash, err := contentHash(intent)
	if err != nil {
		return fmt.Errorf("graph: hash intent %q: %w", intentID, err)
	}
	if _, err := b.pool.Exec(ctx,
		`UPDATE intents SET content = $1, content_hash = $2 WHERE intent_id = $3`,
		content, hash, intentID,
	); err != nil {
		return fmt.Errorf("graph: append evidence to %q: %w", intentID, err)
	}
	return nil
}

func (b *PostgresBackend) SnapshotID(ctx context.Context) (string, error) {
	rows, err := b.pool.Query(ctx, `SELECT intent_id FROM intents ORDER BY seq ASC`)
	if err != nil {
		return "", fmt.Errorf("graph: snapshot id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("graph: scan intent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return canon.HashSequence(ids), nil
}

// Listen subscribes the dedicated connection to ChannelIntents, for
// callers (typically the persistent signal bus) that want to react to
// new intents without polling.
func (b *PostgresBackend) Listen(ctx context.Context) error {
	if b.notifyConn == nil {
		return fmt.Errorf("graph: notify connection not configured")
	}
	_, err := b.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{ChannelIntents}.Sanitize())
	if err != nil {
		return fmt.Errorf("graph: listen %s: %w", ChannelIntents, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on the
// dedicated connection.
func (b *PostgresBackend) WaitForNotification(ctx context.Context) (payload string, err error) {
	if b.notifyConn == nil {
		return "", fmt.Errorf("graph: notify connection not configured")
	}
	n, err := b.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("graph: wait for notification: %w", err)
	}
	return n.Payload, nil
}

func (b *PostgresBackend) Close(ctx context.Context) error {
	b.pool.Close()
	if b.notifyConn != nil {
		return b.notifyConn.Close(ctx)
	}
	return nil
}
