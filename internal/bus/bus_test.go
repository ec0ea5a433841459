package bus

import (
	"testing"
	"time"
)

func TestBusDeliversInOrder(t *testing.T) {
	b := New()
	ch := b.Subscribe("test")

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: EventProgress, TaskID: "t1", Progress: i * 10})
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-ch:
			if ev.Progress != i*10 {
				t.Errorf("event %d: expected progress %d, got %d", i, i*10, ev.Progress)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := New()
	first := b.Subscribe("first")
	second := b.Subscribe("second")

	b.Publish(Event{Type: EventSubmitted, TaskID: "t1"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case ev := <-ch:
			if ev.TaskID != "t1" {
				t.Errorf("%s: expected task t1, got %s", name, ev.TaskID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for event", name)
		}
	}
}

func TestBusTimestampsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe("test")

	b.Publish(Event{Type: EventStarted, TaskID: "t1"})

	ev := <-ch
	if ev.Timestamp.IsZero() {
		t.Error("expected Publish to stamp a zero timestamp")
	}
}

func TestBusSlowSubscriberDropsOwnEventsOnly(t *testing.T) {
	b := New()
	slow := b.SubscribeBuffered("slow", 1)
	fast := b.SubscribeBuffered("fast", 8)

	// Fill the slow subscriber's buffer and keep publishing.
	for i := 0; i < 4; i++ {
		b.Publish(Event{Type: EventProgress, TaskID: "t1", Progress: i})
	}

	if b.DroppedCount() == 0 {
		t.Error("expected drops for the slow subscriber")
	}

	// The fast subscriber still received everything.
	received := 0
	for {
		select {
		case <-fast:
			received++
			if received == 4 {
				goto done
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber received %d of 4 events", received)
		}
	}
done:

	// The slow subscriber got at least the first event.
	select {
	case ev := <-slow:
		if ev.Progress != 0 {
			t.Errorf("expected first event, got progress %d", ev.Progress)
		}
	default:
		t.Error("slow subscriber should have one buffered event")
	}
}

func TestBusClose(t *testing.T) {
	b := New()
	ch := b.Subscribe("test")

	b.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed")
	}

	// Publishing after close is a no-op, not a panic.
	b.Publish(Event{Type: EventCompleted, TaskID: "t1"})

	// Double close is safe.
	b.Close()
}

func TestBusSubscribeAfterClose(t *testing.T) {
	b := New()
	b.Close()

	ch := b.Subscribe("late")
	if _, ok := <-ch; ok {
		t.Error("expected closed channel for late subscriber")
	}
}
