// Copyright 2025 Mech Services, Inc.
package events

import (
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/obs"
	"go.uber.org/zap"
)

// Status is a job lifecycle event kind.
type Status string

const (
	StatusCreated   Status = "created"
	StatusStarted   Status = "started"
	StatusProgress  Status = "progress"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Statuses lists every lifecycle kind, in transition order.
var Statuses = []Status{StatusCreated, StatusStarted, StatusProgress, StatusCompleted, StatusFailed}

// Valid reports whether s names a known lifecycle kind.
func (s Status) Valid() bool {
	for _, k := range Statuses {
		if s == k {
			return true
		}
	}
	return false
}

// Event is a job state-transition notification.
type Event struct {
	JobID         string                 `json:"jobId"`
	Queue         string                 `json:"queue"`
	Status        Status                 `json:"status"`
	ApplicationID string                 `json:"applicationId,omitempty"`
	Data          interface{}            `json:"data,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Result        interface{}            `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Progress      interface{}            `json:"progress,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// Subscriber consumes lifecycle events. Implementations must tolerate
// at-least-once delivery; blocking inside Handle only stalls the
// subscriber's own dispatcher, never the emitting path.
type Subscriber interface {
	Name() string
	Handle(Event)
}

const subscriberBuffer = 1024

type subscriberState struct {
	sub Subscriber
	ch  chan Event
}

// Bus is the in-process lifecycle event fan-out. One dispatcher goroutine per
// subscriber drains a buffered channel, so events for a given job reach each
// subscriber in emission order while producers never block. A full channel
// drops the event and counts it.
type Bus struct {
	log  *zap.Logger
	mu   sync.RWMutex
	subs []*subscriberState
	wg   sync.WaitGroup
	done chan struct{}
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log, done: make(chan struct{})}
}

// Subscribe registers a subscriber and starts its dispatcher.
func (b *Bus) Subscribe(sub Subscriber) {
	st := &subscriberState{sub: sub, ch: make(chan Event, subscriberBuffer)}
	b.mu.Lock()
	b.subs = append(b.subs, st)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev, ok := <-st.ch:
				if !ok {
					return
				}
				st.sub.Handle(ev)
			case <-b.done:
				// drain what is already buffered, then stop
				for {
					select {
					case ev := <-st.ch:
						st.sub.Handle(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Emit fans the event out to every subscriber without blocking.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	obs.EventsEmitted.Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, st := range b.subs {
		select {
		case st.ch <- ev:
		default:
			obs.EventsDropped.Inc()
			b.log.Warn("event dropped, subscriber backlogged",
				obs.String("subscriber", st.sub.Name()),
				obs.String("job_id", ev.JobID),
				obs.String("status", string(ev.Status)))
		}
	}
}

// Close stops every dispatcher after draining buffered events.
func (b *Bus) Close() {
	close(b.done)
	b.wg.Wait()
}
