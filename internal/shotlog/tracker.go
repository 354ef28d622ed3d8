package shotlog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/khanglvm/espresso-dialin/internal/storage"
)

const (
	// eventQueueSize is the buffer size of the event queue. A full queue
	// drops events.
	eventQueueSize = 1000

	// batchFlushSize is the number of events that triggers an immediate flush.
	batchFlushSize = 10

	// flushInterval is how often pending events are flushed.
	flushInterval = 50 * time.Millisecond

	// writeTimeout bounds one batch write.
	writeTimeout = 5 * time.Second
)

// Recorder persists archived shots. storage.SQLiteStorage implements it.
type Recorder interface {
	RecordShots(ctx context.Context, shots []storage.ShotEntry) error
}

// Tracker archives shots in the background with non-blocking writes.
type Tracker struct {
	recorder   Recorder
	eventQueue chan ShotEvent
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	enabled    bool
	mu         sync.RWMutex
}

// NewTracker starts a tracker writing to r.
func NewTracker(r Recorder) *Tracker {
	return newTracker(r, eventQueueSize)
}

func newTracker(r Recorder, queueSize int) *Tracker {
	t := &Tracker{
		recorder:   r,
		eventQueue: make(chan ShotEvent, queueSize),
		stopChan:   make(chan struct{}),
		enabled:    r != nil,
	}

	t.wg.Add(1)
	go t.processEvents()

	return t
}

// Track queues a shot for archiving without blocking.
func (t *Tracker) Track(event ShotEvent) {
	if !t.IsEnabled() {
		return
	}

	select {
	case <-t.stopChan:
		log.Printf("Warning: shot archive stopped, dropping shot %s", event.ShotID)
		return
	default:
	}

	select {
	case t.eventQueue <- event:
	default:
		log.Printf("Warning: shot archive queue full, dropping shot %s for bean %s", event.ShotID, event.BeanID)
	}
}

// Stop shuts the tracker down after flushing every queued event.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
		t.wg.Wait()
	})
}

// Disable makes Track ignore new events.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable turns tracking back on.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = t.recorder != nil
}

// IsEnabled returns whether tracking is enabled.
func (t *Tracker) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// QueueSize returns the number of events waiting to be written.
func (t *Tracker) QueueSize() int {
	return len(t.eventQueue)
}

func (t *Tracker) processEvents() {
	defer t.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]ShotEvent, 0, batchFlushSize)

	for {
		select {
		case event := <-t.eventQueue:
			batch = append(batch, event)
			if len(batch) >= batchFlushSize {
				t.flush(batch)
				batch = make([]ShotEvent, 0, batchFlushSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				t.flush(batch)
				batch = make([]ShotEvent, 0, batchFlushSize)
			}

		case <-t.stopChan:
			for {
				select {
				case event := <-t.eventQueue:
					batch = append(batch, event)
					if len(batch) >= batchFlushSize {
						t.flush(batch)
						batch = make([]ShotEvent, 0, batchFlushSize)
					}
				default:
					t.flush(batch)
					return
				}
			}
		}
	}
}

func (t *Tracker) flush(events []ShotEvent) {
	if len(events) == 0 || t.recorder == nil {
		return
	}

	entries := make([]storage.ShotEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, e.ToStorage())
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := t.recorder.RecordShots(ctx, entries); err != nil {
		log.Printf("Warning: failed to archive %d shots: %v", len(entries), err)
	}
}
