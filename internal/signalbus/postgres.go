package signalbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convergent-dev/convergent/internal/model"
)

// ChannelSignals is the LISTEN/NOTIFY channel used to wake the poll loop
// promptly instead of waiting for the next poll tick, mirroring
// graph.ChannelIntents.
const ChannelSignals = "convergent_signals"

// PostgresBus is the durable backend: signals land in a table, and each
// consumer's progress is tracked in signal_cursors so delivery survives
// a process restart -- the teacher's ephemeral SSE broker has no
// equivalent, since an SSE client reconnecting just starts from "now".
type PostgresBus struct {
	pool         *pgxpool.Pool
	notifyConn   *pgx.Conn
	pollInterval time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	subscribers map[string]chan model.Signal

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresBus connects to Postgres and ensures the schema exists.
// notifyDSN may be empty, in which case delivery falls back to polling
// only at pollInterval.
func NewPostgresBus(ctx context.Context, poolDSN, notifyDSN string, pollInterval time.Duration, logger *slog.Logger) (*PostgresBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, poolDSN)
	if err != nil {
		return nil, fmt.Errorf("signalbus: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("signalbus: ping pool: %w", err)
	}

	var notifyConn *pgx.Conn
	if notifyDSN != "" {
		notifyConn, err = pgx.Connect(ctx, notifyDSN)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("signalbus: connect notify: %w", err)
		}
		if _, err := notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{ChannelSignals}.Sanitize()); err != nil {
			pool.Close()
			notifyConn.Close(ctx)
			return nil, fmt.Errorf("signalbus: listen %s: %w", ChannelSignals, err)
		}
	}

	b := &PostgresBus{
		pool:         pool,
		notifyConn:   notifyConn,
		pollInterval: pollInterval,
		logger:       logger,
		subscribers:  make(map[string]chan model.Signal),
	}
	if err := b.migrate(ctx); err != nil {
		b.closeConns(ctx)
		return nil, err
	}
	return b, nil
}

func (b *PostgresBus) migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS signals (
			seq          BIGSERIAL PRIMARY KEY,
			signal_id    TEXT NOT NULL,
			content      JSONB NOT NULL,
			target_agent TEXT NOT NULL DEFAULT '',
			expires_at   TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS signal_cursors (
			consumer_id TEXT PRIMARY KEY,
			last_seq    BIGINT NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("signalbus: migrate schema: %w", err)
	}
	return nil
}

func (b *PostgresBus) Publish(ctx context.Context, signal model.Signal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	content, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("signalbus: marshal signal: %w", err)
	}
	var seq int64
	err = b.pool.QueryRow(ctx,
		`INSERT INTO signals (signal_id, content, target_agent, expires_at) VALUES ($1, $2, $3, $4) RETURNING seq`,
		signal.SignalID, content, signal.TargetAgent, signal.ExpiresAt,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("signalbus: insert signal: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, ChannelSignals, signal.SignalID); err != nil {
		return nil //nolint:nilerr // notify is advisory, the signal row already committed
	}
	return nil
}

// Subscribe registers consumerID, seeding its durable cursor at the
// current max sequence if it has never subscribed before so it only
// sees signals published from this point forward.
func (b *PostgresBus) Subscribe(consumerID string) (<-chan model.Signal, error) {
	ctx := context.Background()
	var currentMax int64
	if err := b.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM signals`).Scan(&currentMax); err != nil {
		return nil, fmt.Errorf("signalbus: seed cursor: %w", err)
	}
	if _, err := b.pool.Exec(ctx,
		`INSERT INTO signal_cursors (consumer_id, last_seq) VALUES ($1, $2) ON CONFLICT (consumer_id) DO NOTHING`,
		consumerID, currentMax,
	); err != nil {
		return nil, fmt.Errorf("signalbus: insert cursor: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan model.Signal, defaultSubscriberBuffer)
	b.subscribers[consumerID] = ch
	return ch, nil
}

func (b *PostgresBus) Unsubscribe(consumerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[consumerID]; ok {
		delete(b.subscribers, consumerID)
		close(ch)
	}
}

func (b *PostgresBus) Start(ctx context.Context) {
	if b.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.deliverLoop(loopCtx)
	if b.notifyConn != nil {
		go b.notifyLoop(loopCtx)
	}
}

func (b *PostgresBus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
}

func (b *PostgresBus) deliverLoop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.deliverAndSweep(ctx)
		}
	}
}

// notifyLoop wakes the delivery tick early on a LISTEN/NOTIFY event, so
// consumers see a fresh publish sooner than the next poll interval.
func (b *PostgresBus) notifyLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := b.notifyConn.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		b.deliverAndSweep(ctx)
	}
}

func (b *PostgresBus) deliverAndSweep(ctx context.Context) {
	b.mu.Lock()
	consumers := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		consumers = append(consumers, id)
	}
	b.mu.Unlock()

	for _, consumerID := range consumers {
		b.deliverTo(ctx, consumerID)
	}
	b.sweepExpired(ctx)
}

func (b *PostgresBus) deliverTo(ctx context.Context, consumerID string) {
	var lastSeq int64
	err := b.pool.QueryRow(ctx, `SELECT last_seq FROM signal_cursors WHERE consumer_id = $1`, consumerID).Scan(&lastSeq)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			b.logger.Warn("signalbus: read cursor", "consumer_id", consumerID, "error", err)
		}
		return
	}

	rows, err := b.pool.Query(ctx,
		`SELECT seq, content, target_agent, expires_at FROM signals
		 WHERE seq > $1 AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY seq ASC`,
		lastSeq,
	)
	if err != nil {
		b.logger.Warn("signalbus: query new signals", "consumer_id", consumerID, "error", err)
		return
	}

	var maxSeq = lastSeq
	var delivered []model.Signal
	for rows.Next() {
		var seq int64
		var content []byte
		var targetAgent string
		var expiresAt *time.Time
		if err := rows.Scan(&seq, &content, &targetAgent, &expiresAt); err != nil {
			rows.Close()
			b.logger.Warn("signalbus: scan signal row", "error", err)
			return
		}
		maxSeq = seq
		if targetAgent != "" && targetAgent != consumerID {
			continue
		}
		var signal model.Signal
		if err := json.Unmarshal(content, &signal); err != nil {
			b.logger.Warn("signalbus: corrupt signal row, skipping", "seq", seq)
			continue
		}
		delivered = append(delivered, signal)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		b.logger.Warn("signalbus: iterate signal rows", "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.subscribers[consumerID]
	b.mu.Unlock()
	if ok {
		for _, signal := range delivered {
			select {
			case ch <- signal:
			default:
				b.logger.Warn("signalbus: dropped signal for slow subscriber", "consumer_id", consumerID)
			}
		}
	}

	if maxSeq != lastSeq {
		if _, err := b.pool.Exec(ctx, `UPDATE signal_cursors SET last_seq = $1 WHERE consumer_id = $2`, maxSeq, consumerID); err != nil {
			b.logger.Warn("signalbus: advance cursor", "consumer_id", consumerID, "error", err)
		}
	}
}

func (b *PostgresBus) sweepExpired(ctx context.Context) {
	if _, err := b.pool.Exec(ctx, `DELETE FROM signals WHERE expires_at IS NOT NULL AND expires_at <= now()`); err != nil {
		b.logger.Warn("signalbus: sweep expired signals", "error", err)
	}
}

func (b *PostgresBus) closeConns(ctx context.Context) {
	b.pool.Close()
	if b.notifyConn != nil {
		b.notifyConn.Close(ctx)
	}
}

func (b *PostgresBus) Close(ctx context.Context) error {
	b.closeConns(ctx)
	return nil
}
