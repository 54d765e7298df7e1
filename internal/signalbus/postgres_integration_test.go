//go:build integration

package signalbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/signalbus"
)

func newTestPostgresBus(t *testing.T) *signalbus.PostgresBus {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("convergent"),
		postgres.WithUsername("convergent"),
		postgres.WithPassword("convergent"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	bus, err := signalbus.NewPostgresBus(ctx, connStr, "", 20*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close(ctx) })
	return bus
}

func TestPostgresBusDeliversToSubscriberAfterSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := newTestPostgresBus(t)
	ch, err := bus.Subscribe("agent-a")
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bus.Start(runCtx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(ctx, model.Signal{
		SignalID: "sig-1", SignalType: "pattern_found", SourceAgent: "agent-c", Timestamp: time.Now(),
	}))

	select {
	case s := <-ch:
		assert.Equal(t, "sig-1", s.SignalID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive published signal")
	}
}

func TestPostgresBusCursorSkipsSignalsPublishedBeforeSubscribe(t *testing.T) {
	ctx := context.Background()
	bus := newTestPostgresBus(t)

	require.NoError(t, bus.Publish(ctx, model.Signal{
		SignalID: "sig-before", SignalType: "pattern_found", SourceAgent: "agent-c", Timestamp: time.Now(),
	}))

	ch, err := bus.Subscribe("agent-late")
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	bus.Start(runCtx)
	defer bus.Stop()

	select {
	case s := <-ch:
		t.Fatalf("should not have received pre-subscribe signal, got %v", s)
	case <-time.After(150 * time.Millisecond):
	}
}
