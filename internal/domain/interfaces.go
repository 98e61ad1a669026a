package domain

import (
	"context"
)

// ModalityAdapter wraps one modality-specific scorer behind the uniform
// signal contract. Malformed-but-recognizable input yields Valid=false, not
// an error; adapters only fail when the underlying scorer is unreachable.
type ModalityAdapter interface {
	Modality() Modality
	Score(ctx context.Context, input []byte) (ModalitySignal, error)
}

// ReportStore persists completed diagnostic reports for dashboard retrieval
// and clinician review.
type ReportStore interface {
	Save(ctx context.Context, report *DiagnosticReport) error
	Get(ctx context.Context, id string) (*DiagnosticReport, error)
	List(ctx context.Context, limit, offset int) ([]*DiagnosticReport, error)
	Count(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetScorersConfig() *ScorersConfig
	GetPipelineConfig() *PipelineConfig
	Validate() error
}
