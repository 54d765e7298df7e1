// Package config loads and validates Convergent's configuration from
// environment variables, mirroring the teacher's env-var loading style
// (sensible defaults, aggregated validation errors) but scoped to the
// option table in the external interfaces spec.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SignalBackend enumerates the signal bus transport.
type SignalBackend string

const (
	SignalBackendMemory     SignalBackend = "memory"
	SignalBackendFilesystem SignalBackend = "filesystem"
	SignalBackendPersistent SignalBackend = "persistent"
)

// Config holds every tunable Convergent recognizes.
type Config struct {
	// DBPath is the base path the SQLite intent graph
	// ("<db_path>.intents.db") and the filesystem signal spool
	// ("<db_path>.signals") derive their paths from. Phi scores and
	// stigmergy markers are held in memory and are not written under it.
	DBPath string

	// DefaultQuorum is the quorum level used when a ConsensusRequest
	// omits one.
	DefaultQuorum string

	// PhiDecayRate is lambda in the phi Bayesian smoothing formula.
	PhiDecayRate float64
	// PhiMin and PhiMax clamp the phi score.
	PhiMin float64
	PhiMax float64

	// StigmergyEvaporationRate is kappa in marker decay.
	StigmergyEvaporationRate float64
	// StigmergyMinStrength is the purge floor.
	StigmergyMinStrength float64

	// SignalBackend selects the signal bus transport.
	SignalBackend SignalBackend

	// VoteTimeout is the default consensus timeout.
	VoteTimeout time.Duration

	// StructuralMatchThreshold is the overlap score above which a
	// structural match fires.
	StructuralMatchThreshold float64

	// EscalationEVThreshold is tau in the economics layer.
	EscalationEVThreshold float64

	// EscalationBudget bounds the running total escalation cost the
	// economics layer will authorize before refusing further spend.
	EscalationBudget float64

	// StabilityDecayRate is lambda in the stability scorer's exponential
	// decay.
	StabilityDecayRate float64

	// PostgresURL, when set, enables the Postgres-backed native graph
	// backend and the persistent signal bus. Empty disables both.
	PostgresURL string
	// PostgresNotifyURL is a direct (non-pooled) connection used for
	// LISTEN/NOTIFY, mirroring the teacher's pool/notify connection
	// split.
	PostgresNotifyURL string

	// ServiceName identifies this Engine in emitted telemetry.
	ServiceName string
	// OTELEndpoint is the OTLP/HTTP collector endpoint. Empty disables
	// telemetry export entirely.
	OTELEndpoint string
	// OTELInsecure skips TLS for the OTLP exporters (local collector).
	OTELInsecure bool
}

// Load reads configuration from environment variables with defaults.
// Malformed values are reported; missing variables use defaults.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		DBPath:                   envStr("CONVERGENT_DB_PATH", "./convergent-data/convergent"),
		DefaultQuorum:            envStr("CONVERGENT_DEFAULT_QUORUM", "majority"),
		PhiDecayRate:             envFloat("CONVERGENT_PHI_DECAY_RATE", 0.01, &errs),
		PhiMin:                   envFloat("CONVERGENT_PHI_MIN", 0.1, &errs),
		PhiMax:                   envFloat("CONVERGENT_PHI_MAX", 0.95, &errs),
		StigmergyEvaporationRate: envFloat("CONVERGENT_STIGMERGY_EVAPORATION_RATE", 0.1, &errs),
		StigmergyMinStrength:     envFloat("CONVERGENT_STIGMERGY_MIN_STRENGTH", 0.05, &errs),
		SignalBackend:            SignalBackend(envStr("CONVERGENT_SIGNAL_BACKEND", string(SignalBackendMemory))),
		VoteTimeout:              envDuration("CONVERGENT_VOTE_TIMEOUT_SECONDS", 5*time.Minute, &errs),
		StructuralMatchThreshold: envFloat("CONVERGENT_STRUCTURAL_MATCH_THRESHOLD", 0.6, &errs),
		EscalationEVThreshold:    envFloat("CONVERGENT_ESCALATION_EV_THRESHOLD", 0.1, &errs),
		EscalationBudget:         envFloat("CONVERGENT_ESCALATION_BUDGET", 100, &errs),
		StabilityDecayRate:       envFloat("CONVERGENT_STABILITY_DECAY_RATE", 0.05, &errs),
		PostgresURL:              envStr("CONVERGENT_POSTGRES_URL", ""),
		PostgresNotifyURL:        envStr("CONVERGENT_POSTGRES_NOTIFY_URL", ""),
		ServiceName:              envStr("CONVERGENT_SERVICE_NAME", "convergent"),
		OTELEndpoint:             envStr("CONVERGENT_OTEL_ENDPOINT", ""),
		OTELInsecure:             envBool("CONVERGENT_OTEL_INSECURE", false, &errs),
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks cross-field invariants that a single env var can't
// express on its own.
func (c Config) Validate() error {
	var errs []error
	switch c.SignalBackend {
	case SignalBackendMemory, SignalBackendFilesystem, SignalBackendPersistent:
	default:
		errs = append(errs, fmt.Errorf("CONVERGENT_SIGNAL_BACKEND: unrecognized backend %q", c.SignalBackend))
	}
	if c.SignalBackend == SignalBackendPersistent && c.PostgresURL == "" {
		errs = append(errs, errors.New("CONVERGENT_SIGNAL_BACKEND=persistent requires CONVERGENT_POSTGRES_URL"))
	}
	if c.PhiMin >= c.PhiMax {
		errs = append(errs, fmt.Errorf("CONVERGENT_PHI_MIN (%f) must be < CONVERGENT_PHI_MAX (%f)", c.PhiMin, c.PhiMax))
	}
	if c.StructuralMatchThreshold < 0 || c.StructuralMatchThreshold > 1 {
		errs = append(errs, errors.New("CONVERGENT_STRUCTURAL_MATCH_THRESHOLD must be in [0,1]"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
