// Package reportstore persists completed diagnostic reports. Reports are
// immutable, so both backends store the full report as a JSON document and
// lift the fields the dashboard filters on into indexed columns.
package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/medfusion-server/internal/domain"
)

// SQLiteStore implements the ReportStore interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite report store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Open database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	// Create schema
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		score REAL NOT NULL,
		driver_class TEXT NOT NULL,
		high_conflict INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL,
		generated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_tier ON reports(tier);
	CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a completed diagnostic report. Reports are immutable, so a
// duplicate ID is an error rather than an update.
func (s *SQLiteStore) Save(ctx context.Context, report *domain.DiagnosticReport) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid report: %w", err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, tier, score, driver_class, high_conflict, report, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID.String(),
		report.Risk.Tier.String(),
		report.Risk.Score,
		report.Risk.DriverClass,
		report.Posterior.HighConflict,
		string(payload),
		report.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// Get retrieves a report by ID. Returns (nil, nil) when not found.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.DiagnosticReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT report FROM reports WHERE id = ?", id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	return unmarshalReport(payload)
}

// List returns stored reports ordered most recent first, with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.DiagnosticReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report FROM reports
		ORDER BY generated_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var result []*domain.DiagnosticReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		report, err := unmarshalReport(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, report)
	}
	return result, rows.Err()
}

// Count returns the total number of stored reports.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// Delete removes a report by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = ?", id)
	return err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unmarshalReport(payload string) (*domain.DiagnosticReport, error) {
	report := &domain.DiagnosticReport{}
	if err := json.Unmarshal([]byte(payload), report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return report, nil
}
