package reportstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/medfusion-server/internal/domain"
)

// PostgresStore implements the ReportStore interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL report store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL report store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save stores a completed diagnostic report.
func (s *PostgresStore) Save(ctx context.Context, report *domain.DiagnosticReport) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid report: %w", err)
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, tier, score, driver_class, high_conflict, report, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		report.ID.String(),
		report.Risk.Tier.String(),
		report.Risk.Score,
		report.Risk.DriverClass,
		report.Posterior.HighConflict,
		payload,
		report.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// Get retrieves a report by ID. Returns (nil, nil) when not found.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.DiagnosticReport, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT report FROM reports WHERE id = $1", id,
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
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.DiagnosticReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report FROM reports
		ORDER BY generated_at DESC
		LIMIT $1 OFFSET $2
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count)
	return count, err
}

// Delete removes a report by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = $1", id)
	return err
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
