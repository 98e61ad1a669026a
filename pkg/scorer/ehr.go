package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medfusion-server/internal/domain"
)

// EHRClient fronts the tabular risk model over structured electronic health
// record fields. Payloads are JSON objects; region hints in the response name
// the record fields that contributed most to the score.
type EHRClient struct {
	*restClient
}

// NewEHRClient creates a client for the EHR scorer service.
func NewEHRClient(config domain.ScorerConfig) *EHRClient {
	return &EHRClient{
		restClient: newRESTClient(domain.EHR, config, "application/json"),
	}
}

// Score validates that the payload is well-formed JSON before shipping it to
// the scorer; syntactically broken records are unprocessable input, not a
// transport failure, so they never trip the circuit breaker.
func (c *EHRClient) Score(ctx context.Context, payload []byte) (*Result, error) {
	if !json.Valid(payload) {
		return &Result{
			Unprocessable: true,
			Reason:        "EHR payload is not valid JSON",
		}, nil
	}
	result, err := c.restClient.Score(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("ehr scorer: %w", err)
	}
	return result, nil
}
