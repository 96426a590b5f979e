package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gigatchad/uploadDocYnov/internal/model"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (f *fakeSink) InsertAuditEntry(_ context.Context, e model.AuditEntry, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestRecorderDrainsOnClose(t *testing.T) {
	sink := &fakeSink{}
	rec := NewRecorder(sink, 16)

	for i := 0; i < 10; i++ {
		rec.Record(model.AuditEntry{Action: "user_created", TargetID: "u1"})
	}
	rec.Close()

	if got := sink.count(); got != 10 {
		t.Fatalf("expected 10 entries after close, got %d", got)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink down")}
	rec := NewRecorder(sink, 1)

	// Must never block, whatever the sink does.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			rec.Record(model.AuditEntry{Action: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on a full queue")
	}
	rec.Close()
}
