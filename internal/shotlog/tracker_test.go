package shotlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanglvm/espresso-dialin/internal/predictor"
	"github.com/khanglvm/espresso-dialin/internal/shot"
	"github.com/khanglvm/espresso-dialin/internal/storage"
)

// mockRecorder collects archived shots.
type mockRecorder struct {
	mu      sync.Mutex
	entries []storage.ShotEntry
	batches int
	err     error

	// gate, when set, blocks RecordShots until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (m *mockRecorder) RecordShots(ctx context.Context, shots []storage.ShotEntry) error {
	if m.entered != nil {
		select {
		case m.entered <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, shots...)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func event(bean string) ShotEvent {
	return NewShotEvent(bean, "espresso", shot.ShotRecord{
		GrindSize: 12, DoseIn: 18, WeightOut: 36, ExtractionTime: 28,
	}, predictor.Prediction{Score: 7.2, Confidence: 0.4})
}

func TestTracker_Track(t *testing.T) {
	rec := &mockRecorder{}
	tracker := NewTracker(rec)
	defer tracker.Stop()

	tracker.Track(event("b1"))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTracker_BatchesWrites(t *testing.T) {
	rec := &mockRecorder{}
	tracker := NewTracker(rec)

	for i := 0; i < 25; i++ {
		tracker.Track(event("b1"))
	}
	tracker.Stop()

	assert.Equal(t, 25, rec.count())
	assert.LessOrEqual(t, rec.batches, 25)
	assert.GreaterOrEqual(t, rec.batches, 3)
}

func TestTracker_StopDrains(t *testing.T) {
	rec := &mockRecorder{}
	tracker := NewTracker(rec)

	for i := 0; i < 5; i++ {
		tracker.Track(event("b1"))
	}
	tracker.Stop()

	assert.Equal(t, 5, rec.count())

	// Stop is idempotent and later events are dropped.
	tracker.Stop()
	tracker.Track(event("b1"))
	assert.Equal(t, 5, rec.count())
}

func TestTracker_QueueFullDrops(t *testing.T) {
	rec := &mockRecorder{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	tracker := newTracker(rec, 3)

	tracker.Track(event("first"))
	select {
	case <-rec.entered:
	case <-time.After(time.Second):
		t.Fatal("recorder never called")
	}

	// The writer is blocked; the queue fills and the rest are dropped.
	start := time.Now()
	for i := 0; i < 20; i++ {
		tracker.Track(event("b1"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Track blocked")
	assert.Equal(t, 3, tracker.QueueSize())

	close(rec.gate)
	tracker.Stop()
	assert.Equal(t, 4, rec.count())
}

func TestTracker_Disable(t *testing.T) {
	rec := &mockRecorder{}
	tracker := NewTracker(rec)
	defer tracker.Stop()

	tracker.Disable()
	assert.False(t, tracker.IsEnabled())
	tracker.Track(event("b1"))

	tracker.Enable()
	assert.True(t, tracker.IsEnabled())
	tracker.Track(event("b2"))

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, "b2", rec.entries[0].BeanID)
	rec.mu.Unlock()
}

func TestTracker_NilRecorder(t *testing.T) {
	tracker := NewTracker(nil)
	defer tracker.Stop()

	assert.False(t, tracker.IsEnabled())
	tracker.Track(event("b1"))
	tracker.Enable()
	assert.False(t, tracker.IsEnabled())
}

func TestTracker_RecorderError(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	tracker := NewTracker(rec)

	tracker.Track(event("b1"))
	tracker.Stop()

	assert.Equal(t, 1, rec.batches)
	assert.True(t, tracker.IsEnabled())
}

func TestShotEvent_ToStorage(t *testing.T) {
	e := event("b1")
	require.NotEmpty(t, e.ShotID)

	entry := e.ToStorage()
	assert.Equal(t, e.ShotID, entry.ShotID)
	assert.Equal(t, "b1", entry.BeanID)
	assert.Equal(t, "espresso", entry.Method)
	assert.Equal(t, 7.2, entry.PredictedScore)
	assert.Equal(t, 0.4, entry.Confidence)

	var decoded shot.ShotRecord
	require.NoError(t, json.Unmarshal(entry.Payload, &decoded))
	assert.Equal(t, 36.0, decoded.WeightOut)
}
