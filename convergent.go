// Package convergent is the public API for embedding the Convergent
// coordination engine: a fleet of autonomous code-writing agents
// publishes intents, reads each other's stigmergic markers, and
// escalates irreconcilable conflicts to a phi-weighted consensus vote.
//
// Embedders construct and run an Engine without forking it:
//
//	eng, err := convergent.New(
//	    convergent.WithLogger(logger),
//	    convergent.WithDBPath("./data/convergent"),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Shutdown(context.Background())
//
// The import graph enforces a strict no-cycle rule: convergent (root)
// imports internal/*, but internal/* never imports convergent — the
// same rule the teacher's root akashi package enforces over its own
// internal/*.
package convergent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/metric"

	"github.com/convergent-dev/convergent/internal/config"
	"github.com/convergent-dev/convergent/internal/economics"
	"github.com/convergent-dev/convergent/internal/gate"
	"github.com/convergent-dev/convergent/internal/governor"
	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/match"
	"github.com/convergent-dev/convergent/internal/phi"
	"github.com/convergent-dev/convergent/internal/signalbus"
	"github.com/convergent-dev/convergent/internal/stability"
	"github.com/convergent-dev/convergent/internal/stigmergy"
	"github.com/convergent-dev/convergent/internal/telemetry"
	"github.com/convergent-dev/convergent/internal/triumvirate"
	"github.com/convergent-dev/convergent/internal/version"
)

const (
	defaultStigmergySweepInterval = time.Minute
	defaultPhiRecomputeInterval   = 5 * time.Minute
	defaultSignalSweepInterval    = time.Minute
)

// Engine is the coordination substrate's lifecycle. Construct with
// New(), start background loops with Start(), stop with Shutdown().
// Engine has no public fields — use New() options to configure it.
type Engine struct {
	cfg    config.Config
	domain string
	logger *slog.Logger

	backend      graph.Backend
	intentGraph  *graph.Graph
	versionGraph *version.VersionedGraph
	matcher      *match.Matcher

	stig    *stigmergy.Store
	phi     *phi.Store
	bus     signalbus.Bus
	policy  *economics.Policy
	gov     *governor.Governor
	vote    *triumvirate.Triumvirate // nil when voting disabled
	gates   map[string]gate.Gate

	otelShutdown telemetry.Shutdown
	sweepPurges  metric.Int64Counter

	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires every subsystem and validates configuration. It does NOT
// start any goroutines — call Start() to do that.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("convergent: load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if o.postgresURL != "" {
		cfg.PostgresURL = o.postgresURL
	}
	if o.postgresNotifyURL != "" {
		cfg.PostgresNotifyURL = o.postgresNotifyURL
	}
	if o.signalBackend != "" {
		cfg.SignalBackend = config.SignalBackend(o.signalBackend)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("convergent: invalid config: %w", err)
	}

	domain := o.domain
	if domain == "" {
		domain = "default"
	}
	engineVersion := o.version
	if engineVersion == "" {
		engineVersion = "dev"
	}

	logger.Info("convergent starting", "db_path", cfg.DBPath, "signal_backend", cfg.SignalBackend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, engineVersion, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("convergent: telemetry: %w", err)
	}
	if cfg.OTELEndpoint != "" {
		logger.Info("telemetry: otlp exporters enabled", "endpoint", cfg.OTELEndpoint)
	}

	backend, err := newGraphBackend(context.Background(), cfg, o.graphBackend)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("convergent: graph backend: %w", err)
	}

	matcher := match.New(cfg.StructuralMatchThreshold, o.semanticMatcher)
	weights := stability.DefaultWeights
	intentGraph := graph.New(backend, matcher, cfg.StabilityDecayRate, weights)

	versionGraph := version.New(intentGraph, matcher, cfg.StabilityDecayRate, weights)

	stig := stigmergy.NewStore(cfg.StigmergyEvaporationRate, cfg.StigmergyMinStrength)
	phiStore := phi.NewStore(cfg.PhiDecayRate, cfg.PhiMin, cfg.PhiMax)

	bus := o.signalBus
	if bus == nil {
		bus, err = newSignalBus(context.Background(), cfg, logger)
		if err != nil {
			_ = backend.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("convergent: signal bus: %w", err)
		}
	}

	policy := economics.New(cfg.EscalationEVThreshold, cfg.EscalationBudget)

	var votingEngine *triumvirate.Triumvirate
	var escalator governor.Escalator
	if !o.disableVoting {
		votingEngine = triumvirate.New(phiScoreAdapter{store: phiStore})
		escalator = votingEngine
		logger.Info("triumvirate: enabled", "domain", domain)
	} else {
		logger.Info("triumvirate: disabled by WithVotingDisabled — escalations resolve to BLOCK")
	}

	gov := governor.New(policy, escalator, domain)

	gates := o.constraintGates
	if gates == nil {
		gates = make(map[string]gate.Gate)
	}

	sweepPurges, _ := telemetry.GetMeter(telemetry.Meter).Int64Counter(
		"convergent.stigmergy.sweep_purged",
		metric.WithDescription("count of stigmergy markers purged by the periodic evaporation sweep"),
	)

	return &Engine{
		cfg:          cfg,
		domain:       domain,
		logger:       logger,
		backend:      backend,
		intentGraph:  intentGraph,
		versionGraph: versionGraph,
		matcher:      matcher,
		stig:         stig,
		phi:          phiStore,
		bus:          bus,
		policy:       policy,
		gov:          gov,
		vote:         votingEngine,
		gates:        gates,
		otelShutdown: otelShutdown,
		sweepPurges:  sweepPurges,
	}, nil
}

// phiScoreAdapter satisfies triumvirate.PhiSource over a *phi.Store;
// kept here because New is the boundary that wires both packages
// together.
type phiScoreAdapter struct{ store *phi.Store }

func (a phiScoreAdapter) Score(agentID, domain string) float64 {
	return a.store.Score(agentID, domain)
}

func newGraphBackend(ctx context.Context, cfg config.Config, override graph.Backend) (graph.Backend, error) {
	if override != nil {
		return override, nil
	}
	if cfg.PostgresURL != "" {
		return graph.NewPostgresBackend(ctx, cfg.PostgresURL, cfg.PostgresNotifyURL)
	}
	return graph.NewSQLiteBackend(ctx, cfg.DBPath+".intents.db")
}

func newSignalBus(ctx context.Context, cfg config.Config, logger *slog.Logger) (signalbus.Bus, error) {
	switch cfg.SignalBackend {
	case config.SignalBackendFilesystem:
		return signalbus.NewFilesystemBus(cfg.DBPath+".signals", defaultSignalSweepInterval, logger), nil
	case config.SignalBackendPersistent:
		return signalbus.NewPostgresBus(ctx, cfg.PostgresURL, cfg.PostgresNotifyURL, defaultSignalSweepInterval, logger)
	case config.SignalBackendMemory:
		fallthrough
	default:
		return signalbus.NewMemoryBus(defaultSignalSweepInterval, logger), nil
	}
}

// Start launches the stigmergy-sweep, phi-recompute, and signal-bus
// background loops. Safe to call once; a second call is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	if e.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.bus.Start(loopCtx)

	e.wg.Add(2)
	go e.stigmergySweepLoop(loopCtx)
	go e.phiRecomputeLoop(loopCtx)

	e.logger.Info("convergent started")
	return nil
}

// Shutdown performs a three-phase graceful stop: (1) stop intake by
// cancelling the background loops and the signal bus, (2) wait for
// in-flight loop iterations to drain, (3) close the graph backend.
// Mirrors the teacher's App.Shutdown three-phase drain, scaled to this
// engine's in-process goroutines instead of an HTTP server.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("convergent shutting down")

	// Phase 1: stop intake.
	if e.cancel != nil {
		e.cancel()
	}
	e.bus.Stop()

	// Phase 2: drain in-flight loop iterations.
	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		e.logger.Warn("convergent shutdown: background loops did not drain before context deadline")
	}

	// Phase 3: close stores.
	if err := e.backend.Close(context.Background()); err != nil {
		e.logger.Error("graph backend close error", "error", err)
		return fmt.Errorf("convergent: shutdown: %w", err)
	}
	if err := e.otelShutdown(context.Background()); err != nil {
		e.logger.Error("telemetry shutdown error", "error", err)
		return fmt.Errorf("convergent: shutdown: %w", err)
	}

	e.logger.Info("convergent stopped")
	return nil
}

func (e *Engine) stigmergySweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(defaultStigmergySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := e.stig.Sweep(time.Now()); purged > 0 {
				e.logger.Info("stigmergy sweep purged markers", "count", purged)
				if e.sweepPurges != nil {
					e.sweepPurges.Add(ctx, int64(purged))
				}
			}
		}
	}
}

func (e *Engine) phiRecomputeLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(defaultPhiRecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, key := range e.phi.Keys() {
				e.phi.Recompute(key.AgentID, key.Domain, now)
			}
		}
	}
}
