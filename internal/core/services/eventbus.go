package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunFinished   EventType = "run.finished"
	EventTypeBatchStarted  EventType = "batch.started"
	EventTypeBatchFinished EventType = "batch.finished"
	EventTypeTaskAdmitted  EventType = "task.admitted"
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeTaskBlocked   EventType = "task.blocked"
)

type Event struct {
	RunID     string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

type EventBus struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	subs    map[string][]chan Event // Key: RunID
	globals []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// SubscribeGlobal returns a channel that receives events for every run.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.globals = append(b.globals, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.globals {
			if sub == ch {
				close(ch)
				b.globals = append(b.globals[:i], b.globals[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Subscribe returns a channel that receives events for a specific run.
func (b *EventBus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent blocking publisher
	b.subs[runID] = append(b.subs[runID], ch)

	// Unsubscribe function
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[runID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[runID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[runID]) == 0 {
			delete(b.subs, runID)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the run
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.RunID] {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking the engine
			b.logger.Warn("event bus channel full, dropping event", "run_id", e.RunID)
		}
	}

	for _, ch := range b.globals {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus global channel full, dropping event", "run_id", e.RunID)
		}
	}
}
