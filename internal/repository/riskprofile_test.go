package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfusion-server/internal/domain"
)

// getTestPool returns a live connection pool for integration testing.
// Skip test if TEST_DATABASE_URL is not set.
func getTestPool(t *testing.T) *pgxpool.Pool {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS patient_risk_factors (
			patient_id UUID NOT NULL,
			name TEXT NOT NULL,
			severity DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (patient_id, name)
		)
	`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "DELETE FROM patient_risk_factors")
	require.NoError(t, err)

	return pool
}

func testRepo(t *testing.T) *RiskProfileRepository {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRiskProfileRepository(getTestPool(t), logger)
}

func TestRiskProfileRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	patientID := uuid.New()

	factors := []domain.RiskFactor{
		{Name: "age_over_65", Severity: 1.0},
		{Name: "copd", Severity: 0.8},
	}
	require.NoError(t, repo.Upsert(ctx, patientID, factors))

	got, err := repo.GetByPatient(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "age_over_65", got[0].Name)
	assert.InDelta(t, 0.8, got[1].Severity, 1e-9)
}

func TestRiskProfileUpsertReplacesFactors(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	patientID := uuid.New()

	require.NoError(t, repo.Upsert(ctx, patientID, []domain.RiskFactor{
		{Name: "smoker", Severity: 0.5},
		{Name: "copd", Severity: 0.8},
	}))
	require.NoError(t, repo.Upsert(ctx, patientID, []domain.RiskFactor{
		{Name: "smoker", Severity: 0.2},
	}))

	got, err := repo.GetByPatient(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "smoker", got[0].Name)
	assert.InDelta(t, 0.2, got[0].Severity, 1e-9)
}

func TestRiskProfileUnknownPatientIsNotFound(t *testing.T) {
	repo := testRepo(t)

	_, err := repo.GetByPatient(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRiskProfileRejectsOutOfRangeSeverity(t *testing.T) {
	repo := testRepo(t)

	err := repo.Upsert(context.Background(), uuid.New(), []domain.RiskFactor{
		{Name: "copd", Severity: 1.5},
	})
	require.Error(t, err)

	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestRiskProfileDelete(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()
	patientID := uuid.New()

	require.NoError(t, repo.Upsert(ctx, patientID, []domain.RiskFactor{
		{Name: "diabetes", Severity: 0.4},
	}))
	require.NoError(t, repo.Delete(ctx, patientID))

	err := repo.Delete(ctx, patientID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
