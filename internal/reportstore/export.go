package reportstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/medfusion-server/internal/domain"
)

// maxExportLimit is the maximum number of reports to export at once.
const maxExportLimit = 1000000

// ReportExport is the envelope for bulk report exports.
type ReportExport struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Count      int                        `json:"count"`
	Reports    []*domain.DiagnosticReport `json:"reports"`
}

// ExportJSON writes every stored report to writer as an indented JSON envelope.
func ExportJSON(ctx context.Context, store domain.ReportStore, writer io.Writer) error {
	all, err := store.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	export := &ReportExport{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(all),
		Reports:    all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
