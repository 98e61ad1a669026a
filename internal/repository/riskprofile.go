// Package repository handles persistent patient data. Risk profiles are the
// static patient risk factors consulted when a diagnosis request references a
// patient instead of supplying factors inline.
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
)

// RiskProfileRepository handles patient risk factor persistence
type RiskProfileRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRiskProfileRepository creates a new risk profile repository
func NewRiskProfileRepository(db *pgxpool.Pool, logger *logrus.Logger) *RiskProfileRepository {
	return &RiskProfileRepository{
		db:  db,
		log: logger,
	}
}

// Upsert replaces the stored risk factors for a patient. Severities must be
// normalized to [0,1] before they reach the repository.
func (r *RiskProfileRepository) Upsert(ctx context.Context, patientID uuid.UUID, factors []domain.RiskFactor) error {
	for _, f := range factors {
		if f.Severity < 0 || f.Severity > 1 {
			return domain.NewValidationError("severity",
				fmt.Sprintf("severity for factor %q must be in [0,1]", f.Name), f.Severity)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning risk profile transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM patient_risk_factors WHERE patient_id = $1", patientID,
	); err != nil {
		return fmt.Errorf("clearing risk profile: %w", err)
	}

	for _, f := range factors {
		if _, err := tx.Exec(ctx, `
			INSERT INTO patient_risk_factors (patient_id, name, severity)
			VALUES ($1, $2, $3)
		`, patientID, f.Name, f.Severity); err != nil {
			return fmt.Errorf("inserting risk factor %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing risk profile: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"factors":    len(factors),
	}).Info("Risk profile updated")

	return nil
}

// GetByPatient retrieves the stored risk factors for a patient.
func (r *RiskProfileRepository) GetByPatient(ctx context.Context, patientID uuid.UUID) ([]domain.RiskFactor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name, severity
		FROM patient_risk_factors
		WHERE patient_id = $1
		ORDER BY name
	`, patientID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to query risk profile")
		return nil, fmt.Errorf("querying risk profile: %w", err)
	}
	defer rows.Close()

	var factors []domain.RiskFactor
	for rows.Next() {
		var f domain.RiskFactor
		if err := rows.Scan(&f.Name, &f.Severity); err != nil {
			return nil, fmt.Errorf("scanning risk factor row: %w", err)
		}
		factors = append(factors, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating risk factor rows: %w", err)
	}

	if len(factors) == 0 {
		return nil, fmt.Errorf("risk profile for patient %s: %w", patientID, domain.ErrNotFound)
	}
	return factors, nil
}

// Delete removes all risk factors for a patient.
func (r *RiskProfileRepository) Delete(ctx context.Context, patientID uuid.UUID) error {
	result, err := r.db.Exec(ctx,
		"DELETE FROM patient_risk_factors WHERE patient_id = $1", patientID)
	if err != nil {
		return fmt.Errorf("deleting risk profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("risk profile for patient %s: %w", patientID, domain.ErrNotFound)
	}

	r.log.WithField("patient_id", patientID).Info("Risk profile deleted")
	return nil
}
