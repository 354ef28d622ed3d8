package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s := NewStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err := s.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func score(v float64) *float64 { return &v }

func pending(study string, n int) Trial {
	return Trial{
		Study:       study,
		BeanID:      "b1",
		Method:      "espresso",
		TrialNumber: n,
		Grind:       12,
		Dose:        18,
		TargetTime:  28,
		Source:      SourcePolicy,
	}
}

func scored(study string, n int, s float64) Trial {
	t := pending(study, n)
	t.ObservedScore = score(s)
	return t
}

// TestInit verifies database creation, migrations, and idempotent Init.
func TestInit(t *testing.T) {
	s := newTestStorage(t)

	if _, err := os.Stat(s.Path()); os.IsNotExist(err) {
		t.Error("Database file not created")
	}

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("Expected schema version %d, got %d", len(migrations), v)
	}

	if err := s.Init(); err != nil {
		t.Errorf("second Init returned error: %v", err)
	}
}

// TestMigrationsReapply verifies reopening an existing database keeps data.
func TestMigrationsReapply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first := NewStorage(path)
	if err := first.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := first.AppendTrial(ctx, scored("bean_b1_espresso", 1, 6)); err != nil {
		t.Fatalf("AppendTrial failed: %v", err)
	}
	first.Close()

	second := NewStorage(path)
	if err := second.Init(); err != nil {
		t.Fatalf("reopen Init failed: %v", err)
	}
	defer second.Close()

	trials, err := second.ListTrials(ctx, "bean_b1_espresso", 0)
	if err != nil {
		t.Fatalf("ListTrials failed: %v", err)
	}
	if len(trials) != 1 {
		t.Errorf("Expected 1 trial after reopen, got %d", len(trials))
	}
}

// TestUnavailable verifies uninitialized and closed stores fail loudly.
func TestUnavailable(t *testing.T) {
	ctx := context.Background()

	s := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if _, err := s.ListTrials(ctx, "x", 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("uninitialized: expected ErrUnavailable, got %v", err)
	}

	s = newTestStorage(t)
	s.Close()
	if _, err := s.AppendTrial(ctx, pending("x", 1)); !errors.Is(err, ErrUnavailable) {
		t.Errorf("closed: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.CountShotsSince(ctx, time.Time{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("closed: expected ErrUnavailable, got %v", err)
	}
}

// TestInitBadPath verifies Init reports an unusable location.
func TestInitBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStorage(filepath.Join(blocker, "sub", "test.db"))
	if err := s.Init(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

// TestAppendTrial verifies strict appends and duplicate detection.
func TestAppendTrial(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	if _, err := s.AppendTrial(ctx, pending(study, 1)); err != nil {
		t.Fatalf("AppendTrial failed: %v", err)
	}

	_, err := s.AppendTrial(ctx, scored(study, 1, 9))
	if !errors.Is(err, ErrDuplicateTrialNumber) {
		t.Fatalf("Expected ErrDuplicateTrialNumber, got %v", err)
	}

	// The losing append left the study unchanged.
	trials, _ := s.ListTrials(ctx, study, 0)
	if len(trials) != 1 || trials[0].Scored() {
		t.Errorf("Study changed by duplicate append: %+v", trials)
	}

	// Same number in a different study is fine.
	if _, err := s.AppendTrial(ctx, pending("bean_b1_lungo", 1)); err != nil {
		t.Errorf("AppendTrial in other study failed: %v", err)
	}

	if _, err := s.AppendTrial(ctx, pending(study, 0)); err == nil {
		t.Error("Expected error for trial number 0")
	}
}

// TestNextTrialNumber verifies numbering starts at 1 and follows the max.
func TestNextTrialNumber(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	n, err := s.NextTrialNumber(ctx, study)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1, got %d (%v)", n, err)
	}

	s.AppendTrial(ctx, pending(study, 1))
	s.AppendTrial(ctx, pending(study, 4))

	n, _ = s.NextTrialNumber(ctx, study)
	if n != 5 {
		t.Errorf("Expected 5, got %d", n)
	}

	got, err := s.AppendNext(ctx, pending(study, 0))
	if err != nil {
		t.Fatalf("AppendNext failed: %v", err)
	}
	if got.TrialNumber != 5 {
		t.Errorf("AppendNext assigned %d, want 5", got.TrialNumber)
	}
}

// TestConcurrentAppendNext verifies N appends to one study give 1..N.
func TestConcurrentAppendNext(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"
	const workers = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AppendNext(ctx, scored(study, 0, 5)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendNext failed: %v", err)
	}

	trials, err := s.ListTrials(ctx, study, 0)
	if err != nil {
		t.Fatalf("ListTrials failed: %v", err)
	}
	if len(trials) != workers {
		t.Fatalf("Expected %d trials, got %d", workers, len(trials))
	}
	for i, tr := range trials {
		if tr.TrialNumber != i+1 {
			t.Errorf("position %d: trial number %d", i, tr.TrialNumber)
		}
	}
}

// TestConcurrentAppendTrialDuplicates verifies strict appends racing for one
// number produce exactly one winner.
func TestConcurrentAppendTrialDuplicates(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendTrial(ctx, pending(study, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicateTrialNumber):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || dups != 9 {
		t.Errorf("Expected 1 win and 9 duplicates, got %d and %d", wins, dups)
	}
}

// TestListTrials verifies ordering and the most-recent limit.
func TestListTrials(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	for _, n := range []int{3, 1, 5, 2, 4} {
		if _, err := s.AppendTrial(ctx, scored(study, n, float64(n))); err != nil {
			t.Fatalf("AppendTrial %d failed: %v", n, err)
		}
	}

	all, err := s.ListTrials(ctx, study, 0)
	if err != nil {
		t.Fatalf("ListTrials failed: %v", err)
	}
	for i, tr := range all {
		if tr.TrialNumber != i+1 {
			t.Errorf("position %d: got trial %d", i, tr.TrialNumber)
		}
	}

	recent, _ := s.ListTrials(ctx, study, 2)
	if len(recent) != 2 || recent[0].TrialNumber != 4 || recent[1].TrialNumber != 5 {
		t.Errorf("Expected trials [4 5], got %+v", recent)
	}

	empty, err := s.ListTrials(ctx, "bean_none_espresso", 0)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("Expected empty non-nil list, got %v (%v)", empty, err)
	}
}

// TestBestTrial verifies max score, tie-break, and pending rows are ignored.
func TestBestTrial(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	if _, err := s.BestTrial(ctx, study); !errors.Is(err, ErrTrialNotFound) {
		t.Errorf("empty study: expected ErrTrialNotFound, got %v", err)
	}

	s.AppendTrial(ctx, pending(study, 1))
	if _, err := s.BestTrial(ctx, study); !errors.Is(err, ErrTrialNotFound) {
		t.Errorf("pending only: expected ErrTrialNotFound, got %v", err)
	}

	for n, v := range map[int]float64{2: 5, 3: 6, 4: 7, 5: 7} {
		s.AppendTrial(ctx, scored(study, n, v))
	}

	best, err := s.BestTrial(ctx, study)
	if err != nil {
		t.Fatalf("BestTrial failed: %v", err)
	}
	if best.TrialNumber != 4 || best.Score() != 7 {
		t.Errorf("Expected trial 4 with 7.0, got #%d with %v", best.TrialNumber, best.Score())
	}
}

// TestRecordScore verifies pending trials are scored exactly once.
func TestRecordScore(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	s.AppendTrial(ctx, pending(study, 1))

	obsTime := 29.0
	got, err := s.RecordScore(ctx, study, 1, Observation{Score: 7.5, Time: &obsTime})
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if !got.Scored() || got.Score() != 7.5 || got.ObservedTime == nil || *got.ObservedTime != 29 {
		t.Errorf("Unexpected scored trial: %+v", got)
	}
	if got.ScoredAt == nil {
		t.Error("ScoredAt not set")
	}

	again, err := s.RecordScore(ctx, study, 1, Observation{Score: 2})
	if !errors.Is(err, ErrTrialAlreadyScored) {
		t.Errorf("Expected ErrTrialAlreadyScored, got %v", err)
	}
	if again.Score() != 7.5 {
		t.Errorf("Score overwritten: %v", again.Score())
	}

	if _, err := s.RecordScore(ctx, study, 9, Observation{Score: 2}); !errors.Is(err, ErrTrialNotFound) {
		t.Errorf("Expected ErrTrialNotFound, got %v", err)
	}
}

// TestRecordScoreBrewedParams verifies the brewed grind and dose replace
// the proposal, and that absent values keep it.
func TestRecordScoreBrewedParams(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := "bean_b1_espresso"

	s.AppendTrial(ctx, pending(study, 1))
	s.AppendTrial(ctx, pending(study, 2))

	grind, dose := 20.0, 16.0
	got, err := s.RecordScore(ctx, study, 1, Observation{Score: 9, Grind: &grind, Dose: &dose})
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if got.Grind != 20 || got.Dose != 16 {
		t.Errorf("Expected brewed 20/16, got %v/%v", got.Grind, got.Dose)
	}
	if got.TargetTime != 28 {
		t.Errorf("Target time changed: %v", got.TargetTime)
	}

	kept, err := s.RecordScore(ctx, study, 2, Observation{Score: 6})
	if err != nil {
		t.Fatalf("RecordScore failed: %v", err)
	}
	if kept.Grind != 12 || kept.Dose != 18 {
		t.Errorf("Expected proposed 12/18, got %v/%v", kept.Grind, kept.Dose)
	}

	best, err := s.BestTrial(ctx, study)
	if err != nil {
		t.Fatalf("BestTrial failed: %v", err)
	}
	if best.TrialNumber != 1 || best.Grind != 20 || best.Dose != 16 {
		t.Errorf("Unexpected best trial: %+v", best)
	}

	// A rejected second score must not move the stored params either.
	other := 5.0
	if _, err := s.RecordScore(ctx, study, 1, Observation{Score: 1, Grind: &other}); !errors.Is(err, ErrTrialAlreadyScored) {
		t.Errorf("Expected ErrTrialAlreadyScored, got %v", err)
	}
	again, _ := s.GetTrial(ctx, study, 1)
	if again.Grind != 20 {
		t.Errorf("Grind overwritten: %v", again.Grind)
	}
}

// TestGetTrial verifies lookups and round-tripped fields.
func TestGetTrial(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	study := StudyKey("u1", "b1", "espresso")

	created := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	in := scored(study, 1, 8)
	in.CreatedAt = created
	s.AppendTrial(ctx, in)

	got, err := s.GetTrial(ctx, study, 1)
	if err != nil {
		t.Fatalf("GetTrial failed: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Study != "user_u1_bean_b1_espresso" || got.Source != SourcePolicy {
		t.Errorf("Unexpected trial: %+v", got)
	}

	if _, err := s.GetTrial(ctx, study, 2); !errors.Is(err, ErrTrialNotFound) {
		t.Errorf("Expected ErrTrialNotFound, got %v", err)
	}
}

// TestShots verifies archiving and recent counts.
func TestShots(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	batch := []ShotEntry{
		{BeanID: "b1", Method: "espresso", Payload: json.RawMessage(`{"doseIn":18}`), PredictedScore: 7, CreatedAt: now.Add(-40 * 24 * time.Hour)},
		{BeanID: "b1", Method: "espresso", PredictedScore: 6, CreatedAt: now.Add(-time.Hour)},
		{BeanID: "b2", Method: "lungo", PredictedScore: 8},
	}
	if err := s.RecordShots(ctx, batch); err != nil {
		t.Fatalf("RecordShots failed: %v", err)
	}
	if err := s.RecordShot(ctx, ShotEntry{ShotID: "fixed-id", BeanID: "b1", Method: "espresso"}); err != nil {
		t.Fatalf("RecordShot failed: %v", err)
	}

	n, err := s.CountShotsSince(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("CountShotsSince failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 recent shots, got %d", n)
	}

	shots, err := s.ListShots(ctx, "b1", 10)
	if err != nil {
		t.Fatalf("ListShots failed: %v", err)
	}
	if len(shots) != 3 {
		t.Fatalf("Expected 3 shots for b1, got %d", len(shots))
	}
	for _, e := range shots {
		if e.ShotID == "" {
			t.Error("ShotID not assigned")
		}
	}

	// Duplicate shot IDs abort the whole batch.
	err = s.RecordShots(ctx, []ShotEntry{{ShotID: "new"}, {ShotID: "fixed-id"}})
	if err == nil {
		t.Error("Expected error for duplicate shot id")
	}
	n, _ = s.CountShotsSince(ctx, time.Time{})
	if n != 4 {
		t.Errorf("Expected 4 shots after failed batch, got %d", n)
	}
}

// TestStudyKey verifies the study naming scheme.
func TestStudyKey(t *testing.T) {
	tests := []struct {
		user, bean, method, want string
	}{
		{"", "b1", "espresso", "bean_b1_espresso"},
		{"u7", "b1", "lungo", "user_u7_bean_b1_lungo"},
	}
	for _, tt := range tests {
		if got := StudyKey(tt.user, tt.bean, tt.method); got != tt.want {
			t.Errorf("StudyKey(%q, %q, %q) = %q, want %q", tt.user, tt.bean, tt.method, got, tt.want)
		}
	}
}
