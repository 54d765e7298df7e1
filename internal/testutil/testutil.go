// Package testutil provides shared test infrastructure for integration
// tests that exercise the Postgres-backed graph.Backend and
// signalbus.Bus against a real database.
//
// Usage in TestMain:
//
//	func TestMain(m *testing.M) {
//	    tc := testutil.MustStartPostgres()
//	    defer tc.Terminate()
//	    os.Exit(m.Run())
//	}
package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/convergent-dev/convergent/internal/graph"
	"github.com/convergent-dev/convergent/internal/signalbus"
)

// TestContainer wraps a running Postgres container with its pooled and
// direct (non-pooled, for LISTEN/NOTIFY) connection strings.
type TestContainer struct {
	container  *postgres.PostgresContainer
	PoolDSN    string
	NotifyDSN  string
}

// MustStartPostgres starts a disposable Postgres container. Calls
// os.Exit(1) on failure (suitable for TestMain).
func MustStartPostgres() *TestContainer {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("convergent"),
		postgres.WithUsername("convergent"),
		postgres.WithPassword("convergent"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "testutil: failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	return &TestContainer{container: container, PoolDSN: dsn, NotifyDSN: dsn}
}

// NewGraphBackend opens a graph.PostgresBackend against this container,
// creating its schema.
func (tc *TestContainer) NewGraphBackend(ctx context.Context) (*graph.PostgresBackend, error) {
	backend, err := graph.NewPostgresBackend(ctx, tc.PoolDSN, tc.NotifyDSN)
	if err != nil {
		return nil, fmt.Errorf("testutil: new graph backend: %w", err)
	}
	return backend, nil
}

// NewSignalBus opens a signalbus.PostgresBus against this container.
func (tc *TestContainer) NewSignalBus(ctx context.Context, pollInterval time.Duration, logger *slog.Logger) (*signalbus.PostgresBus, error) {
	bus, err := signalbus.NewPostgresBus(ctx, tc.PoolDSN, tc.NotifyDSN, pollInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("testutil: new signal bus: %w", err)
	}
	return bus, nil
}

// Terminate stops and removes the container.
func (tc *TestContainer) Terminate() {
	_ = tc.container.Terminate(context.Background())
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
