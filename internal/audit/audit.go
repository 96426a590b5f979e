// Package audit records who did what. Entries go through a bounded queue
// and a single writer goroutine, so recording never blocks or fails the
// mutation it describes.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

// Sink persists one audit entry.
type Sink interface {
	InsertAuditEntry(ctx context.Context, e model.AuditEntry, at time.Time) error
}

type queued struct {
	entry model.AuditEntry
	at    time.Time
}

type Recorder struct {
	sink  Sink
	queue chan queued
	done  chan struct{}
}

func NewRecorder(sink Sink, queueSize int) *Recorder {
	r := &Recorder{
		sink:  sink,
		queue: make(chan queued, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for q := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.InsertAuditEntry(ctx, q.entry, q.at); err != nil {
			log.Printf("audit: write %s on %s/%s: %v", q.entry.Action, q.entry.TargetCol, q.entry.TargetID, err)
		}
		cancel()
	}
}

// Record enqueues an entry. When the queue is full the entry is dropped
// and logged rather than stalling a request.
func (r *Recorder) Record(e model.AuditEntry) {
	select {
	case r.queue <- queued{entry: e, at: time.Now().UTC()}:
	default:
		log.Printf("audit: queue full, dropping %s on %s/%s", e.Action, e.TargetCol, e.TargetID)
	}
}

// Close drains the queue and stops the writer.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}
