package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/convergent-dev/convergent/internal/model"
)

// FilesystemBus spools signals as files in a directory: one file per
// signal, written atomically via os.CreateTemp+os.Rename so a poller
// never observes a partially written file. File names are prefixed with
// a zero-padded nanosecond timestamp so a lexical directory listing is
// also chronological order, per base-spec §4.10's filesystem backend.
type FilesystemBus struct {
	spoolDir     string
	pollInterval time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*fsSubscriber

	cancel context.CancelFunc
	done   chan struct{}
}

type fsSubscriber struct {
	ch       chan model.Signal
	lastSeen string
}

// NewFilesystemBus builds a FilesystemBus spooling into dir, which must
// already exist. pollInterval controls both delivery latency and TTL
// sweep frequency.
func NewFilesystemBus(dir string, pollInterval time.Duration, logger *slog.Logger) *FilesystemBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilesystemBus{
		spoolDir:     dir,
		pollInterval: pollInterval,
		logger:       logger,
		subscribers:  make(map[string]*fsSubscriber),
	}
}

func (b *FilesystemBus) Publish(_ context.Context, signal model.Signal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	content, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("signalbus: marshal signal: %w", err)
	}

	tmp, err := os.CreateTemp(b.spoolDir, "signal-*.tmp")
	if err != nil {
		return fmt.Errorf("signalbus: create spool temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("signalbus: write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("signalbus: close spool file: %w", err)
	}

	final := filepath.Join(b.spoolDir, spoolFileName(signal))
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("signalbus: rename spool file into place: %w", err)
	}
	return nil
}

func spoolFileName(signal model.Signal) string {
	return fmt.Sprintf("%020d-%s.signal", signal.Timestamp.UnixNano(), sanitizeFileToken(signal.SignalID))
}

func sanitizeFileToken(s string) string {
	if s == "" {
		return "signal"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func (b *FilesystemBus) Subscribe(consumerID string) (<-chan model.Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan model.Signal, defaultSubscriberBuffer)
	b.subscribers[consumerID] = &fsSubscriber{ch: ch}
	return ch, nil
}

func (b *FilesystemBus) Unsubscribe(consumerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[consumerID]; ok {
		delete(b.subscribers, consumerID)
		close(sub.ch)
	}
}

func (b *FilesystemBus) Start(ctx context.Context) {
	if b.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.pollLoop(loopCtx)
}

func (b *FilesystemBus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
}

func (b *FilesystemBus) pollLoop(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

// poll lists the spool directory once, delivers newly-seen entries to
// each subscriber past its cursor, and removes entries whose TTL has
// expired.
func (b *FilesystemBus) poll() {
	entries, err := os.ReadDir(b.spoolDir)
	if err != nil {
		b.logger.Warn("signalbus: read spool dir", "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".signal") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	now := time.Now()
	signals := make(map[string]model.Signal, len(names))
	var expired []string
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(b.spoolDir, name))
		if err != nil {
			continue // removed by a concurrent sweep or reader
		}
		var signal model.Signal
		if err := json.Unmarshal(raw, &signal); err != nil {
			b.logger.Warn("signalbus: corrupt spool entry, skipping", "file", name)
			continue
		}
		if signal.Expired(now) {
			expired = append(expired, name)
			continue
		}
		signals[name] = signal
	}

	b.mu.Lock()
	for consumerID, sub := range b.subscribers {
		for _, name := range names {
			if name <= sub.lastSeen {
				continue
			}
			signal, ok := signals[name]
			sub.lastSeen = name
			if !ok || !deliverableTo(signal, consumerID) {
				continue
			}
			select {
			case sub.ch <- signal:
			default:
				b.logger.Warn("signalbus: dropped signal for slow subscriber", "consumer_id", consumerID)
			}
		}
	}
	b.mu.Unlock()

	for _, name := range expired {
		os.Remove(filepath.Join(b.spoolDir, name))
	}
}
