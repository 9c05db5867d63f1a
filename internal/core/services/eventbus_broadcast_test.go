package services

import (
	"testing"
	"time"
)

func TestEventBusPublish(t *testing.T) {
	bus := NewEventBus(testLogger())

	ch, unsub := bus.Subscribe("run-1")
	defer unsub()

	bus.Publish(Event{
		RunID:     "run-1",
		Type:      EventTypeTaskStarted,
		Data:      `{"task_id":"a"}`,
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case evt := <-ch:
		if evt.Type != EventTypeTaskStarted {
			t.Errorf("expected task.started, got %s", evt.Type)
		}
		if evt.Data != `{"task_id":"a"}` {
			t.Errorf("unexpected data: %s", evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBusPublishNoSubscriber(t *testing.T) {
	bus := NewEventBus(testLogger())

	// Publishing with no subscriber should not panic
	bus.Publish(Event{
		RunID:     "no-such-run",
		Type:      EventTypeTaskCompleted,
		Data:      "test",
		Timestamp: time.Now().UnixMilli(),
	})
}

func TestEventBusGlobalSubscriber(t *testing.T) {
	bus := NewEventBus(testLogger())

	globalCh, unsub := bus.SubscribeGlobal()
	defer unsub()

	// Publish to a specific run — global should still receive it
	bus.Publish(Event{
		RunID:     "run-abc",
		Type:      EventTypeBatchStarted,
		Data:      `{"index":0}`,
		Timestamp: time.Now().UnixMilli(),
	})

	select {
	case evt := <-globalCh:
		if evt.RunID != "run-abc" {
			t.Errorf("expected run-abc, got %s", evt.RunID)
		}
		if evt.Type != EventTypeBatchStarted {
			t.Errorf("expected batch.started, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for global event")
	}
}

func TestEventBusGlobalUnsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())

	ch, unsub := bus.SubscribeGlobal()
	unsub()

	_, ok := <-ch
	if ok {
		t.Error("expected global channel to be closed after unsubscribe")
	}
}
