package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PubSub(t *testing.T) {
	bus := NewEventBus(testLogger())

	runID := "run-123"

	// 1. Subscribe
	ch, unsub := bus.Subscribe(runID)
	defer unsub()

	// 2. Publish
	event := Event{
		RunID:     runID,
		Type:      EventTypeTaskStarted,
		Data:      "test-data",
		Timestamp: time.Now().Unix(),
	}
	bus.Publish(event)

	// 3. Verify
	select {
	case received := <-ch:
		assert.Equal(t, event.RunID, received.RunID)
		assert.Equal(t, event.Data, received.Data)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	runID := "run-456"

	ch, unsub := bus.Subscribe(runID)
	unsub() // Unsubscribe immediately

	bus.Publish(Event{RunID: runID, Type: EventTypeTaskCompleted, Data: "should not receive"})

	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("received event after unsubscribe: %v", e)
		}
		// Unsubscribe closes the channel.
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(testLogger())
	runID := "run-multi"

	ch1, unsub1 := bus.Subscribe(runID)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(runID)
	defer unsub2()

	bus.Publish(Event{RunID: runID, Data: "broadcast"})

	// Both should receive
	timeout := time.After(1 * time.Second)

	got1 := false
	got2 := false

	for i := 0; i < 2; i++ {
		select {
		case <-ch1:
			got1 = true
		case <-ch2:
			got2 = true
		case <-timeout:
			t.Fatal("timeout")
		}
	}

	assert.True(t, got1)
	assert.True(t, got2)
}
