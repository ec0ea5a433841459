package history

import (
	"log"

	"github.com/mwald/cadenza/internal/bus"
)

// Recorder consumes bus events on its own goroutine and persists them.
// Persistence failures are logged, never propagated; history must not
// affect task execution.
type Recorder struct {
	store *Store
	done  chan struct{}
}

// NewRecorder subscribes to the bus and starts recording.
func NewRecorder(store *Store, b *bus.Bus) *Recorder {
	r := &Recorder{
		store: store,
		done:  make(chan struct{}),
	}
	events := b.Subscribe("history")
	go r.run(events)
	return r
}

func (r *Recorder) run(events <-chan bus.Event) {
	defer close(r.done)

	for event := range events {
		if err := r.store.Record(event); err != nil {
			log.Printf("[history] failed to record %s for task %s: %v",
				event.Type, event.TaskID, err)
		}
	}
}

// Wait blocks until the bus is closed and all received events are
// persisted.
func (r *Recorder) Wait() {
	<-r.done
}
