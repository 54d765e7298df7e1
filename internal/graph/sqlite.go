package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain required

	"github.com/convergent-dev/convergent/internal/canon"
	"github.com/convergent-dev/convergent/internal/model"
)

// SQLiteBackend is the single-shared-file backend: one WAL-mode SQLite
// database, multi-reader concurrency via SQLite's own locking. Grounded
// on the base contract's "persistent backend ... single shared store
// with write-ahead logging and multi-reader concurrency" requirement;
// the teacher itself only lists modernc.org/sqlite in go.mod without
// using it, so this is the first real exercise of that dependency.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if necessary) a WAL-mode SQLite file
// at path and ensures the schema exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("graph: open sqlite %q: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("graph: ping sqlite %q: %w", path, err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS intents (
			intent_id   TEXT PRIMARY KEY,
			seq         INTEGER,
			content     BLOB NOT NULL,
			content_hash TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS intent_seq (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			next INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO intent_seq (id, next) VALUES (1, 1);
	`)
	if err != nil {
		return fmt.Errorf("graph: migrate sqlite schema: %w", err)
	}
	return nil
}

// storedIntent is the JSON-serialized row content; Evidence is stored
// inline since SQLite has no array column and splitting it into a
// second table buys nothing at this scale.
type storedIntent = model.Intent

func (b *SQLiteBackend) Publish(ctx context.Context, intent model.Intent) error {
	hash, err := contentHash(intent)
	if err != nil {
		return fmt.Errorf("graph: hash intent %q: %w", intent.IntentID, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var existingHash string
	err = tx.QueryRowContext(ctx, `SELECT content_hash FROM intents WHERE intent_id = ?`, intent.IntentID).Scan(&existingHash)
	switch {
	case err == sql.ErrNoRows:
		content, err := json.Marshal(intent)
		if err != nil {
			return fmt.Errorf("graph: marshal intent %q: %w", intent.IntentID, err)
		}
		var seq int
		if err := tx.QueryRowContext(ctx, `UPDATE intent_seq SET next = next + 1 WHERE id = 1 RETURNING next - 1`).Scan(&seq); err != nil {
			return fmt.Errorf("graph: allocate sequence: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO intents (intent_id, seq, content, content_hash) VALUES (?, ?, ?, ?)`,
			intent.IntentID, seq, content, hash,
		); err != nil {
			return fmt.Errorf("graph: insert intent %q: %w", intent.IntentID, err)
		}
	case err != nil:
		return fmt.Errorf("graph: lookup intent %q: %w", intent.IntentID, err)
	default:
		if existingHash == hash {
			return tx.Commit()
		}
		return fmt.Errorf("%w: intent %q already exists with different content", model.ErrDuplicateIntent, intent.IntentID)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Get(ctx context.Context, intentID string) (model.Intent, error) {
	var content []byte
	err := b.db.QueryRowContext(ctx, `SELECT content FROM intents WHERE intent_id = ?`, intentID).Scan(&content)
	if err == sql.ErrNoRows {
		return model.Intent{}, wrapNotFound(intentID)
	}
	if err != nil {
		return model.Intent{}, fmt.Errorf("graph: get intent %q: %w", intentID, err)
	}
	var intent storedIntent
	if err := json.Unmarshal(content, &intent); err != nil {
		return model.Intent{}, fmt.Errorf("graph: decode intent %q: %w", intentID, err)
	}
	return intent, nil
}

func (b *SQLiteBackend) ListByAgent(ctx context.Context, agentID string) ([]model.Intent, error) {
	all, err := b.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Intent
	for _, intent := range all {
		if intent.AgentID == agentID {
			out = append(out, intent)
		}
	}
	return out, nil
}

func (b *SQLiteBackend) All(ctx context.Context) ([]model.Intent, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT content FROM intents ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("graph: list intents: %w", err)
	}
	defer rows.Close()

	var out []model.Intent
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("graph: scan intent row: %w", err)
		}
		var intent storedIntent
		if err := json.Unmarshal(content, &intent); err != nil {
			// Corrupt record: skip and keep going, the engine stays
			// available per the base contract's failure semantics.
			continue
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) AppendEvidence(ctx context.Context, intentID string, evidence model.Evidence) error {
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
	if _, err := b.db.ExecContext(ctx,
		`UPDATE intents SET content = ?, content_hash = ? WHERE intent_id = ?`,
		content, hash, intentID,
	); err != nil {
		return fmt.Errorf("graph: append evidence to %q: %w", intentID, err)
	}
	return nil
}

// contentHash hashes the portion of an intent that defines its identity
// for idempotent-publish purposes, matching model.Intent.SameContent
// field-for-field: Evidence is append-only and CreatedAt is a publish-time
// timestamp, so neither participates in "same content" — two backends
// must agree on duplicate-vs-differing-content for the same pair of
// publishes regardless of which backend stores them.
func contentHash(intent model.Intent) (string, error) {
	intent.Evidence = nil
	intent.CreatedAt = time.Time{}
	return canon.Hash(intent)
}

func (b *SQLiteBackend) SnapshotID(ctx context.Context) (string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT intent_id FROM intents ORDER BY seq ASC`)
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

func (b *SQLiteBackend) Close(ctx context.Context) error {
	return b.db.Close()
}
