// Copyright 2025 Mech Services, Inc.
package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSubscriber) Name() string { return "recorder" }

func (r *recordingSubscriber) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSubscriber) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEmitDeliversInOrderPerJob(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	rec := &recordingSubscriber{}
	bus.Subscribe(rec)

	seq := []Status{StatusCreated, StatusStarted, StatusProgress, StatusCompleted}
	for _, s := range seq {
		bus.Emit(Event{JobID: "j1", Queue: "email", Status: s})
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == len(seq) })
	got := rec.snapshot()
	for i, s := range seq {
		assert.Equal(t, s, got[i].Status)
		assert.Equal(t, "j1", got[i].JobID)
	}
}

func TestEmitReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	a := &recordingSubscriber{}
	b := &recordingSubscriber{}
	bus.Subscribe(a)
	bus.Subscribe(b)

	bus.Emit(Event{JobID: "j1", Status: StatusCreated})
	waitFor(t, func() bool { return len(a.snapshot()) == 1 && len(b.snapshot()) == 1 })
}

func TestEmitStampsTimestamp(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	rec := &recordingSubscriber{}
	bus.Subscribe(rec)
	bus.Emit(Event{JobID: "j1", Status: StatusCreated})

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	require.False(t, rec.snapshot()[0].Timestamp.IsZero())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, Status("exploded").Valid())
}
