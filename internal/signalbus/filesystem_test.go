package signalbus_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/signalbus"
)

func TestFilesystemBusDeliversPublishedSignal(t *testing.T) {
	dir := t.TempDir()
	bus := signalbus.NewFilesystemBus(dir, 20*time.Millisecond, nil)
	ch, err := bus.Subscribe("agent-a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalID: "sig-1", SignalType: "pattern_found", SourceAgent: "agent-c", Timestamp: time.Now(),
	}))

	select {
	case s := <-ch:
		assert.Equal(t, "sig-1", s.SignalID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive spooled signal")
	}
}

func TestFilesystemBusTargetedSignalOnlyReachesTarget(t *testing.T) {
	dir := t.TempDir()
	bus := signalbus.NewFilesystemBus(dir, 20*time.Millisecond, nil)
	chA, err := bus.Subscribe("agent-a")
	require.NoError(t, err)
	chB, err := bus.Subscribe("agent-b")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalID: "sig-2", SignalType: "nudge", SourceAgent: "agent-c", TargetAgent: "agent-a", Timestamp: time.Now(),
	}))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("agent-a did not receive targeted signal")
	}
	select {
	case s := <-chB:
		t.Fatalf("agent-b should not have received targeted signal, got %v", s)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestFilesystemBusSweepsExpiredSpoolFiles(t *testing.T) {
	dir := t.TempDir()
	bus := signalbus.NewFilesystemBus(dir, 20*time.Millisecond, nil)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalID: "sig-3", SignalType: "stale", SourceAgent: "agent-c", Timestamp: time.Now(), ExpiresAt: &past,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	bus.Stop()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
