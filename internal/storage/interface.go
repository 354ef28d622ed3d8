/*
Package storage persists dial-in trial history and the shot archive.

Trials are grouped into studies, one per (bean, method) partition, optionally
scoped to a user. Within a study trial numbers are unique and increase from 1.

The database lives at ~/.espresso-dialin/history.db by default and uses
modernc.org/sqlite (a pure Go, CGo-free implementation). Unlike an analytics
store, a recommendation cannot be made without history, so an unavailable
database is reported as ErrUnavailable instead of being silently ignored.
*/
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrDuplicateTrialNumber is returned when a trial number is already taken
	// in its study.
	ErrDuplicateTrialNumber = errors.New("duplicate trial number")

	// ErrTrialNotFound is returned when no trial matches the lookup.
	ErrTrialNotFound = errors.New("trial not found")

	// ErrTrialAlreadyScored is returned when a trial already has an outcome.
	ErrTrialAlreadyScored = errors.New("trial already scored")

	// ErrUnavailable is returned when the store is not initialized or closed.
	ErrUnavailable = errors.New("trial store unavailable")
)

// Store defines the persistent operations the dial-in service relies on.
type Store interface {
	// Init opens the database and runs migrations.
	Init() error

	// AppendTrial inserts t with its given trial number.
	AppendTrial(ctx context.Context, t Trial) (Trial, error)

	// AppendNext inserts t with the next free trial number of its study.
	AppendNext(ctx context.Context, t Trial) (Trial, error)

	// NextTrialNumber returns max(trialNumber)+1 for the study, or 1.
	NextTrialNumber(ctx context.Context, study string) (int, error)

	// ListTrials returns the study's trials in ascending trial number.
	// limit > 0 keeps only the most recent limit trials.
	ListTrials(ctx context.Context, study string, limit int) ([]Trial, error)

	// BestTrial returns the highest scored trial, ties to the lowest number.
	BestTrial(ctx context.Context, study string) (Trial, error)

	// GetTrial returns one trial.
	GetTrial(ctx context.Context, study string, trialNumber int) (Trial, error)

	// RecordScore completes a pending trial with its observed outcome.
	RecordScore(ctx context.Context, study string, trialNumber int, obs Observation) (Trial, error)

	// RecordShots archives shots in one transaction.
	RecordShots(ctx context.Context, shots []ShotEntry) error

	// CountShotsSince counts archived shots created at or after since.
	CountShotsSince(ctx context.Context, since time.Time) (int, error)

	// Close closes the database connection.
	Close() error
}

// SQLiteStorage implements Store using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	mu       sync.RWMutex
	initOnce sync.Once
	initErr  error

	// partitions serializes appends per study.
	partitions   map[string]*sync.Mutex
	partitionsMu sync.Mutex
}

// DefaultPath returns ~/.espresso-dialin/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".espresso-dialin", "history.db"), nil
}

// NewStorage creates a store backed by the database file at dbPath.
// Nothing is opened until Init.
func NewStorage(dbPath string) *SQLiteStorage {
	return &SQLiteStorage{
		dbPath:     dbPath,
		partitions: make(map[string]*sync.Mutex),
	}
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Init creates the database directory, opens the database, and runs
// migrations. It is safe to call more than once.
func (s *SQLiteStorage) Init() error {
	s.initOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dbPath), 0755); err != nil {
			s.initErr = fmt.Errorf("%w: failed to create db directory: %v", ErrUnavailable, err)
			return
		}

		dsn := "file:" + s.dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			s.initErr = fmt.Errorf("%w: failed to open database: %v", ErrUnavailable, err)
			return
		}
		// One writer connection keeps SQLite from returning SQLITE_BUSY
		// inside this process.
		db.SetMaxOpenConns(1)

		if err := db.Ping(); err != nil {
			db.Close()
			s.initErr = fmt.Errorf("%w: failed to ping database: %v", ErrUnavailable, err)
			return
		}

		s.mu.Lock()
		s.db = db
		s.mu.Unlock()

		if err := s.runMigrations(); err != nil {
			log.Printf("Warning: %v", err)
			s.mu.Lock()
			s.db.Close()
			s.db = nil
			s.mu.Unlock()
			s.initErr = fmt.Errorf("%w: failed to run migrations: %v", ErrUnavailable, err)
		}
	})

	return s.initErr
}

// Close closes the database connection. Later calls return ErrUnavailable.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// conn returns the open database or ErrUnavailable.
func (s *SQLiteStorage) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrUnavailable
	}
	return s.db, nil
}

// lockPartition locks the append mutex of a study and returns its unlock.
func (s *SQLiteStorage) lockPartition(study string) func() {
	s.partitionsMu.Lock()
	m, ok := s.partitions[study]
	if !ok {
		m = &sync.Mutex{}
		s.partitions[study] = m
	}
	s.partitionsMu.Unlock()

	m.Lock()
	return m.Unlock
}
