package database

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfusion-server/internal/domain"
)

func TestNewMigrationRunnerMissingSource(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MigrationsPath = "does-not-exist"

	runner, err := NewMigrationRunner(cfg, newTestLogger())
	require.Error(t, err)
	assert.Nil(t, runner)
	assert.Contains(t, err.Error(), "creating migration instance")
}

func TestNewMigrationRunnerDefaultsPath(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MigrationsPath = ""

	// The package directory has no ./migrations, so the defaulted path is
	// rejected by the source driver rather than the database URL.
	runner, err := NewMigrationRunner(cfg, newTestLogger())
	require.Error(t, err)
	assert.Nil(t, runner)
	assert.Contains(t, err.Error(), "creating migration instance")
}

func testDatabaseConfig() domain.DatabaseConfig {
	return domain.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "medfusion_test",
		Username: "postgres",
		Password: "postgres",
		SSLMode:  "disable",
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
