package persist

import (
	"time"

	"github.com/dyluth/pacer/internal/store"
	"github.com/dyluth/pacer/pkg/telemetry"
	"github.com/google/uuid"
)

// WriteTask is one unit of persistence work. Ownership passes to the Runtime on
// a successful Submit; the task is executed at most once and then discarded.
type WriteTask struct {
	ID         string           // UUID, also used as the stored document id
	Sample     telemetry.Sample // Sample to persist
	Collection string           // Target collection; empty means the runtime default
	EnqueuedAt time.Time        // When the consumer handed the task over
}

// NewWriteTask builds a task for sample with a fresh id.
func NewWriteTask(sample telemetry.Sample, collection string) WriteTask {
	return WriteTask{
		ID:         uuid.New().String(),
		Sample:     sample,
		Collection: collection,
		EnqueuedAt: time.Now(),
	}
}

func (t WriteTask) document() store.Document {
	return store.Document{
		ID:           t.ID,
		Sample:       t.Sample,
		ReceivedAtMs: t.EnqueuedAt.UnixMilli(),
	}
}

// Result is the outcome of one executed WriteTask.
type Result struct {
	TaskID     string
	RunnerID   int64
	Collection string
	Err        error         // nil on success
	Duration   time.Duration // Time spent in the store call
}

// Failed reports whether the write did not complete.
func (r Result) Failed() bool {
	return r.Err != nil
}
