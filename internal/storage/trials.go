package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const trialColumns = `study, bean_id, method, trial_number, grind, dose, target_time,
	observed_score, observed_time, observed_yield, source, created_at, scored_at`

// AppendTrial inserts t with its given trial number. A taken number returns
// ErrDuplicateTrialNumber and leaves the study unchanged.
func (s *SQLiteStorage) AppendTrial(ctx context.Context, t Trial) (Trial, error) {
	if t.TrialNumber < 1 {
		return Trial{}, fmt.Errorf("invalid trial number %d", t.TrialNumber)
	}
	db, err := s.conn()
	if err != nil {
		return Trial{}, err
	}

	unlock := s.lockPartition(t.Study)
	defer unlock()

	return insertTrial(ctx, db, t)
}

// AppendNext inserts t with the next free number of its study. Appends in
// the same process never collide; a concurrent writer in another process
// surfaces as ErrDuplicateTrialNumber.
func (s *SQLiteStorage) AppendNext(ctx context.Context, t Trial) (Trial, error) {
	db, err := s.conn()
	if err != nil {
		return Trial{}, err
	}

	unlock := s.lockPartition(t.Study)
	defer unlock()

	n, err := nextTrialNumber(ctx, db, t.Study)
	if err != nil {
		return Trial{}, err
	}
	t.TrialNumber = n
	return insertTrial(ctx, db, t)
}

// NextTrialNumber returns the number the next appended trial would get.
func (s *SQLiteStorage) NextTrialNumber(ctx context.Context, study string) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return nextTrialNumber(ctx, db, study)
}

// ListTrials returns the study's trials in ascending trial number. With
// limit > 0 only the most recent limit trials are returned, still ascending.
func (s *SQLiteStorage) ListTrials(ctx context.Context, study string, limit int) ([]Trial, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + trialColumns + ` FROM trials WHERE study = ? ORDER BY trial_number DESC`
	args := []interface{}{study}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	trials := []Trial{}
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trials: %w", err)
	}

	for i, j := 0, len(trials)-1; i < j; i, j = i+1, j-1 {
		trials[i], trials[j] = trials[j], trials[i]
	}
	return trials, nil
}

// BestTrial returns the scored trial with the maximum score. Equal scores
// resolve to the smallest trial number.
func (s *SQLiteStorage) BestTrial(ctx context.Context, study string) (Trial, error) {
	db, err := s.conn()
	if err != nil {
		return Trial{}, err
	}

	row := db.QueryRowContext(ctx, `SELECT `+trialColumns+` FROM trials
		WHERE study = ? AND observed_score IS NOT NULL
		ORDER BY observed_score DESC, trial_number ASC
		LIMIT 1`, study)

	t, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trial{}, ErrTrialNotFound
	}
	return t, err
}

// GetTrial returns one trial of a study.
func (s *SQLiteStorage) GetTrial(ctx context.Context, study string, trialNumber int) (Trial, error) {
	db, err := s.conn()
	if err != nil {
		return Trial{}, err
	}
	return getTrial(ctx, db, study, trialNumber)
}

// RecordScore completes a pending trial. A trial is scored exactly once:
// a second call returns ErrTrialAlreadyScored and the stored trial.
func (s *SQLiteStorage) RecordScore(ctx context.Context, study string, trialNumber int, obs Observation) (Trial, error) {
	db, err := s.conn()
	if err != nil {
		return Trial{}, err
	}

	unlock := s.lockPartition(study)
	defer unlock()

	res, err := db.ExecContext(ctx, `UPDATE trials
		SET observed_score = ?, observed_time = ?, observed_yield = ?, scored_at = ?,
			grind = COALESCE(?, grind), dose = COALESCE(?, dose)
		WHERE study = ? AND trial_number = ? AND observed_score IS NULL`,
		obs.Score, nullFloat(obs.Time), nullFloat(obs.Yield), formatTime(time.Now()),
		nullFloat(obs.Grind), nullFloat(obs.Dose),
		study, trialNumber)
	if err != nil {
		return Trial{}, fmt.Errorf("failed to record score: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Trial{}, fmt.Errorf("failed to record score: %w", err)
	}

	t, err := getTrial(ctx, db, study, trialNumber)
	if err != nil {
		return Trial{}, err
	}
	if n == 0 {
		return t, ErrTrialAlreadyScored
	}
	return t, nil
}

func insertTrial(ctx context.Context, db *sql.DB, t Trial) (Trial, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var scoredAt interface{}
	if t.ObservedScore != nil {
		if t.ScoredAt == nil {
			now := t.CreatedAt
			t.ScoredAt = &now
		}
		scoredAt = formatTime(*t.ScoredAt)
	}

	_, err := db.ExecContext(ctx, `INSERT INTO trials (`+trialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Study, t.BeanID, t.Method, t.TrialNumber, t.Grind, t.Dose, t.TargetTime,
		nullFloat(t.ObservedScore), nullFloat(t.ObservedTime), nullFloat(t.ObservedYield),
		t.Source, formatTime(t.CreatedAt), scoredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Trial{}, fmt.Errorf("%w: %s #%d", ErrDuplicateTrialNumber, t.Study, t.TrialNumber)
		}
		return Trial{}, fmt.Errorf("failed to insert trial: %w", err)
	}
	return t, nil
}

func nextTrialNumber(ctx context.Context, db *sql.DB, study string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(trial_number), 0) + 1 FROM trials WHERE study = ?", study).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to read next trial number: %w", err)
	}
	return n, nil
}

func getTrial(ctx context.Context, db *sql.DB, study string, trialNumber int) (Trial, error) {
	row := db.QueryRowContext(ctx, `SELECT `+trialColumns+` FROM trials
		WHERE study = ? AND trial_number = ?`, study, trialNumber)
	t, err := scanTrial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trial{}, ErrTrialNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrial(row rowScanner) (Trial, error) {
	var (
		t                     Trial
		score, obsTime, yield sql.NullFloat64
		createdAt             string
		scoredAt              sql.NullString
	)
	err := row.Scan(&t.Study, &t.BeanID, &t.Method, &t.TrialNumber, &t.Grind, &t.Dose, &t.TargetTime,
		&score, &obsTime, &yield, &t.Source, &createdAt, &scoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trial{}, err
		}
		return Trial{}, fmt.Errorf("failed to scan trial: %w", err)
	}

	t.ObservedScore = floatPtr(score)
	t.ObservedTime = floatPtr(obsTime)
	t.ObservedYield = floatPtr(yield)

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Trial{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if scoredAt.Valid {
		ts, err := parseTime(scoredAt.String)
		if err != nil {
			return Trial{}, fmt.Errorf("failed to parse scored_at: %w", err)
		}
		t.ScoredAt = &ts
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
