package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordShot archives a single shot.
func (s *SQLiteStorage) RecordShot(ctx context.Context, shot ShotEntry) error {
	return s.RecordShots(ctx, []ShotEntry{shot})
}

// RecordShots archives shots in one transaction. Entries without a ShotID
// get a fresh UUID.
func (s *SQLiteStorage) RecordShots(ctx context.Context, shots []ShotEntry) error {
	if len(shots) == 0 {
		return nil
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin shot batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO shots
		(shot_id, bean_id, method, payload, predicted_score, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare shot insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range shots {
		if e.ShotID == "" {
			e.ShotID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		payload := string(e.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.ExecContext(ctx, e.ShotID, e.BeanID, e.Method, payload,
			e.PredictedScore, e.Confidence, formatTime(e.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert shot %s: %w", e.ShotID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shot batch: %w", err)
	}
	return nil
}

// CountShotsSince counts archived shots created at or after since.
func (s *SQLiteStorage) CountShotsSince(ctx context.Context, since time.Time) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM shots WHERE created_at >= ?", formatTime(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count shots: %w", err)
	}
	return n, nil
}

// ListShots returns the most recent archived shots of a bean, newest first.
func (s *SQLiteStorage) ListShots(ctx context.Context, beanID string, limit int) ([]ShotEntry, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `SELECT shot_id, bean_id, method, payload, predicted_score, confidence, created_at
		FROM shots WHERE bean_id = ? ORDER BY created_at DESC LIMIT ?`, beanID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shots: %w", err)
	}
	defer rows.Close()

	shots := []ShotEntry{}
	for rows.Next() {
		var (
			e         ShotEntry
			payload   string
			createdAt string
		)
		if err := rows.Scan(&e.ShotID, &e.BeanID, &e.Method, &payload, &e.PredictedScore, &e.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan shot: %w", err)
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		shots = append(shots, e)
	}
	return shots, rows.Err()
}
