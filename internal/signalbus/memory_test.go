package signalbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convergent-dev/convergent/internal/model"
	"github.com/convergent-dev/convergent/internal/signalbus"
)

func TestMemoryBusDeliversBroadcastToAllSubscribers(t *testing.T) {
	bus := signalbus.NewMemoryBus(time.Hour, nil)
	chA, err := bus.Subscribe("agent-a")
	require.NoError(t, err)
	chB, err := bus.Subscribe("agent-b")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalType: "pattern_found", SourceAgent: "agent-c", Payload: []byte("hi"), Timestamp: time.Now(),
	}))

	select {
	case s := <-chA:
		assert.Equal(t, "pattern_found", s.SignalType)
	case <-time.After(time.Second):
		t.Fatal("agent-a did not receive broadcast signal")
	}
	select {
	case s := <-chB:
		assert.Equal(t, "pattern_found", s.SignalType)
	case <-time.After(time.Second):
		t.Fatal("agent-b did not receive broadcast signal")
	}
}

func TestMemoryBusTargetedSignalOnlyReachesTarget(t *testing.T) {
	bus := signalbus.NewMemoryBus(time.Hour, nil)
	chA, err := bus.Subscribe("agent-a")
	require.NoError(t, err)
	chB, err := bus.Subscribe("agent-b")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalType: "nudge", SourceAgent: "agent-c", TargetAgent: "agent-a", Timestamp: time.Now(),
	}))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("agent-a did not receive targeted signal")
	}
	select {
	case s := <-chB:
		t.Fatalf("agent-b should not have received targeted signal, got %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusLateSubscriberReceivesBacklog(t *testing.T) {
	bus := signalbus.NewMemoryBus(time.Hour, nil)
	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalType: "pattern_found", SourceAgent: "agent-c", Timestamp: time.Now(),
	}))

	ch, err := bus.Subscribe("agent-late")
	require.NoError(t, err)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive backlog signal")
	}
}

func TestMemoryBusSweepPurgesExpiredBacklog(t *testing.T) {
	bus := signalbus.NewMemoryBus(20*time.Millisecond, nil)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, bus.Publish(context.Background(), model.Signal{
		SignalType: "stale", SourceAgent: "agent-c", Timestamp: time.Now(), ExpiresAt: &past,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	bus.Stop()

	ch, err := bus.Subscribe("agent-late")
	require.NoError(t, err)
	select {
	case s := <-ch:
		t.Fatalf("expired signal should have been swept, got %v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	bus := signalbus.NewMemoryBus(time.Hour, nil)
	ch, err := bus.Subscribe("agent-a")
	require.NoError(t, err)
	bus.Unsubscribe("agent-a")

	_, open := <-ch
	assert.False(t, open)
}
