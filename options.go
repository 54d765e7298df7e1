package convergent

import (
	"log/slog"

	"github.com/convergent-dev/convergent/internal/gate"
	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/signalbus"
)

// Option configures an Engine. Mirrors the teacher's functional-options
// pattern (akashi.Option): defaults come from config.Load(), options
// override specific fields or inject external implementations.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger  *slog.Logger
	domain  string
	version string

	dbPath            string
	postgresURL       string
	postgresNotifyURL string
	signalBackend     string
	disableVoting     bool

	graphBackend    graph.Backend
	signalBus       signalbus.Bus
	semanticMatcher match.SemanticMatcher

	constraintGates map[string]gate.Gate
}

// WithGraphBackend replaces the auto-selected intent graph backend
// (Postgres if configured, else SQLite at dbPath). Useful for tests
// that want graph.NewMemoryBackend() instead.
func WithGraphBackend(backend graph.Backend) Option {
	return func(o *resolvedOptions) { o.graphBackend = backend }
}

// WithLogger sets the structured logger for the Engine. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithDomain sets the phi skill domain this Engine's escalations and
// task outcomes are scored under when the caller doesn't supply one
// per-call. Defaults to "default".
func WithDomain(domain string) Option {
	return func(o *resolvedOptions) { o.domain = domain }
}

// WithDBPath overrides the base path the SQLite-backed intent graph
// derives its file from (CONVERGENT_DB_PATH).
func WithDBPath(path string) Option {
	return func(o *resolvedOptions) { o.dbPath = path }
}

// WithPostgresURL overrides the pooled Postgres connection string
// (CONVERGENT_POSTGRES_URL). Setting this selects the Postgres graph
// backend and persistent signal bus in place of SQLite/memory.
func WithPostgresURL(url string) Option {
	return func(o *resolvedOptions) { o.postgresURL = url }
}

// WithPostgresNotifyURL overrides the direct (non-pooled) connection
// used for LISTEN/NOTIFY (CONVERGENT_POSTGRES_NOTIFY_URL).
func WithPostgresNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.postgresNotifyURL = url }
}

// WithSignalBackend overrides the signal bus transport
// (CONVERGENT_SIGNAL_BACKEND): "memory", "filesystem", or "persistent".
func WithSignalBackend(backend string) Option {
	return func(o *resolvedOptions) { o.signalBackend = backend }
}

// WithSignalBus replaces the auto-selected signal bus entirely. Takes
// priority over WithSignalBackend.
func WithSignalBus(bus signalbus.Bus) Option {
	return func(o *resolvedOptions) { o.signalBus = bus }
}

// WithSemanticMatcher adds an optional semantic hook (e.g.
// match/embedsem.Matcher) to the structural intent matcher. Without
// this option, matching is structural-only — never an error, just a
// narrower set of detected overlaps.
func WithSemanticMatcher(m match.SemanticMatcher) Option {
	return func(o *resolvedOptions) { o.semanticMatcher = m }
}

// WithConstraintGate registers the gate.Gate that evaluates hard
// constraints whose Subject matches subject. Engine.ConstraintChecks
// pairs constraints with these gates; EvaluateProposal itself runs only
// the Gate each ConstraintCheck already carries.
func WithConstraintGate(subject string, g gate.Gate) Option {
	return func(o *resolvedOptions) {
		if o.constraintGates == nil {
			o.constraintGates = make(map[string]gate.Gate)
		}
		o.constraintGates[subject] = g
	}
}

// WithVersion sets the version string attached to emitted OTEL
// telemetry (CONVERGENT_OTEL_ENDPOINT). Defaults to "dev".
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithVotingDisabled turns off the triumvirate entirely: RequestConsensus,
// SubmitVote, and Evaluate return ErrVotingDisabled, and any economics
// escalation the governor would otherwise open instead resolves to
// governor.OutcomeBlock. EnrichPrompt and every intent-graph operation
// are unaffected — base-spec §4.13's "degrades gracefully" requirement,
// grounded in the teacher's ratelimit.NoopLimiter /
// embedding.NewNoopProvider null-object pattern.
func WithVotingDisabled() Option {
	return func(o *resolvedOptions) { o.disableVoting = true }
}
