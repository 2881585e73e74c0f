// Package metering is the append-only audit log of gateway invocations.
package metering

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/pkg/models"
)

const writeTimeout = 5 * time.Second

// Recorder persists usage entries off the response path. Record never blocks:
// the entry goes onto a buffered channel drained by a background writer, and
// is dropped (with a counter) under sustained burst. Rate limiting does not
// depend on this log, so a dropped entry costs analytics, not correctness.
type Recorder struct {
	store   store.Store
	entries chan *models.UsageLogEntry
	dropped atomic.Int64
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder with the given buffer size and starts its
// writer goroutine.
func NewRecorder(s store.Store, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	r := &Recorder{
		store:   s,
		entries: make(chan *models.UsageLogEntry, bufferSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an entry for persistence. Fire-and-forget: returns
// immediately whether or not the entry fit in the buffer.
func (r *Recorder) Record(entry *models.UsageLogEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	// The send happens under the same lock Close takes before closing the
	// channel, so Record can never send on a closed channel. The send is
	// non-blocking, so the lock is never held for long.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.entries <- entry:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			slog.Warn("usage log buffer full, dropping entries", "dropped_total", n)
		}
	}
}

// Dropped returns the number of entries lost to buffer overflow.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting entries, drains the buffer, and waits for the writer.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)

		if err := r.store.InsertUsageEntry(ctx, entry); err != nil {
			slog.Error("failed to persist usage entry",
				"customer_id", entry.CustomerID, "tool", entry.ToolName, "error", err)
		} else if err := r.store.IncrementCustomerAPICalls(ctx, entry.CustomerID); err != nil {
			slog.Error("failed to increment customer call counter",
				"customer_id", entry.CustomerID, "error", err)
		}

		cancel()
	}
}

// Recent returns raw entries for debugging, newest first.
func (r *Recorder) Recent(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.UsageLogEntry, error) {
	return r.store.ListRecentUsage(ctx, customerID, limit)
}

// Aggregate returns per-tool counts over a trailing window for dashboards.
func (r *Recorder) Aggregate(ctx context.Context, customerID uuid.UUID, window time.Duration) ([]*models.UsageAggregate, error) {
	return r.store.AggregateUsage(ctx, customerID, window)
}
