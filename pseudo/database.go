package pseudo

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hannes/textpseudonymizer/pseudo/mapping"
	_ "modernc.org/sqlite"
)

// DatabaseConfig holds session persistence configuration.
type DatabaseConfig struct {
	Path string // path to the SQLite database file
}

// SQLiteSessionDB persists session mappings in SQLite so sessions survive
// process restarts. Implements mapping.SessionBackend.
type SQLiteSessionDB struct {
	db *sql.DB
}

// NewSQLiteSessionDB opens (creating if needed) the session database.
func NewSQLiteSessionDB(ctx context.Context, config DatabaseConfig) (*SQLiteSessionDB, error) {
	dbPath := config.Path
	if dbPath == "" {
		dbPath = "pseudonymizer.db"
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database connection with SQLite pragmas for performance
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createSessionTables(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteSessionDB{db: db}, nil
}

// createSessionTables creates the required tables if they don't exist.
func createSessionTables(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session_mappings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			original TEXT NOT NULL,
			pseudonym TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			created_at TEXT DEFAULT (datetime('now')),
			UNIQUE (session_id, original, entity_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_mappings_session ON session_mappings(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_mappings_pseudonym ON session_mappings(session_id, pseudonym)`,
		`CREATE INDEX IF NOT EXISTS idx_session_mappings_created_at ON session_mappings(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute: %s: %w", query, err)
		}
	}

	return nil
}

// SaveMapping upserts one mapping row. Replays of the same (session,
// original, type) key keep the first pseudonym.
func (s *SQLiteSessionDB) SaveMapping(ctx context.Context, row mapping.Mapping) error {
	query := `
	INSERT INTO session_mappings (session_id, original, pseudonym, entity_type, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (session_id, original, entity_type) DO NOTHING
	`
	// Stored in SQLite's datetime format so CleanupOldSessions can compare
	// against datetime('now').
	createdAt := time.Now().UTC().Format("2006-01-02 15:04:05")
	if parsed, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
		createdAt = parsed.UTC().Format("2006-01-02 15:04:05")
	}

	_, err := s.db.ExecContext(ctx, query, row.SessionID, row.Original, row.Pseudonym, row.EntityType, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

// LoadSession returns all persisted rows of a session in insertion order.
// An unknown session yields an empty slice, not an error.
func (s *SQLiteSessionDB) LoadSession(ctx context.Context, sessionID string) ([]mapping.Mapping, error) {
	query := `
	SELECT original, pseudonym, entity_type, created_at
	FROM session_mappings
	WHERE session_id = ?
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var result []mapping.Mapping
	for rows.Next() {
		row := mapping.Mapping{SessionID: sessionID}
		var createdAt sql.NullString
		if err := rows.Scan(&row.Original, &row.Pseudonym, &row.EntityType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		if createdAt.Valid {
			row.CreatedAt = createdAt.String
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mapping rows: %w", err)
	}

	return result, nil
}

// DeleteSession removes all persisted rows of a session.
func (s *SQLiteSessionDB) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_mappings WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// ListSessions returns the distinct session ids present in the database.
func (s *SQLiteSessionDB) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM session_mappings ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session ids: %w", err)
	}

	return ids, nil
}

// CleanupOldSessions removes sessions whose newest mapping is older than the
// given duration. Returns the number of deleted rows.
func (s *SQLiteSessionDB) CleanupOldSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
	DELETE FROM session_mappings WHERE session_id IN (
		SELECT session_id FROM session_mappings
		GROUP BY session_id
		HAVING MAX(created_at) < datetime('now', ?)
	)`
	modifier := fmt.Sprintf("-%d seconds", int(olderThan.Seconds()))

	result, err := s.db.ExecContext(ctx, query, modifier)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Printf("[SessionDB] Cleaned up %d mapping rows from expired sessions", deleted)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteSessionDB) Close() error {
	return s.db.Close()
}
