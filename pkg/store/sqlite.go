package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"intake/pkg/logx"
	"intake/pkg/metrics"
)

// kvSchema holds the single key/value table. The schema is tiny on purpose:
// the questionnaire persists one state record, one lockout marker, and the
// probe key.
const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`

// SQLite is a KV backed by a single-file SQLite database.
type SQLite struct {
	db        *sql.DB
	logger    *logx.Logger
	recorder  metrics.Recorder
	mu        sync.RWMutex
	available bool
}

// OpenSQLite opens (or creates) the database at dbPath and initializes the
// kv schema. The returned store is not yet probed; callers run Probe once
// at startup.
func OpenSQLite(dbPath string) (*SQLite, error) {
	// Open database connection with WAL mode and busy timeout.
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLite{
		db:       db,
		logger:   logx.NewLogger("store"),
		recorder: metrics.Nop(),
	}, nil
}

// SetRecorder routes storage-error counts to r. Call once at startup,
// before the store sees concurrent use.
func (s *SQLite) SetRecorder(r metrics.Recorder) {
	if r != nil {
		s.recorder = r
	}
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Probe performs a write/delete cycle on a reserved key and records the
// outcome as the session availability flag.
func (s *SQLite) Probe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		probeKey, "1",
	); err != nil {
		s.logger.Warn("Storage probe failed, continuing without persistence: %v", err)
		s.available = false
		return false
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, probeKey); err != nil {
		s.logger.Warn("Storage probe cleanup failed: %v", err)
	}

	s.available = true
	return true
}

// Available reports whether the medium accepted the probe and has not hit
// quota exhaustion since.
func (s *SQLite) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Load returns the value for key, or absent on a missing key, a read
// error, or an unavailable medium.
func (s *SQLite) Load(key string) (string, bool) {
	if !s.Available() {
		return "", false
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Warn("Failed to read key %s: %v", key, err)
		}
		return "", false
	}
	return value, true
}

// Save upserts value under key. Quota exhaustion disables further writes
// for the session; any error yields false.
func (s *SQLite) Save(key, value string) bool {
	if !s.Available() {
		return false
	}

	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at)
		 VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err == nil {
		return true
	}
	return s.writeFailed(key, err)
}

// writeFailed classifies a write error. Quota exhaustion disables the
// store for the rest of the session; every failure lands in the storage
// error metrics. Always returns false.
func (s *SQLite) writeFailed(key string, err error) bool {
	if isQuotaError(err) {
		s.recorder.IncStorageError("quota")
		s.logger.Error("Storage quota exceeded, disabling persistence for this session: %v", err)
		s.mu.Lock()
		s.available = false
		s.mu.Unlock()
		return false
	}

	s.recorder.IncStorageError("write")
	s.logger.Warn("Failed to write key %s: %v", key, err)
	return false
}

// Remove deletes key, swallowing errors.
func (s *SQLite) Remove(key string) {
	if !s.Available() {
		return
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.logger.Warn("Failed to remove key %s: %v", key, err)
	}
}

// isQuotaError classifies the medium's "full" signals. modernc.org/sqlite
// reports SQLITE_FULL as "database or disk is full"; the message check also
// covers the wrapped errno form.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "sqlite_full") ||
		strings.Contains(msg, "disk i/o error") && strings.Contains(msg, "full") ||
		strings.Contains(msg, "no space left on device")
}
