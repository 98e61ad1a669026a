// Package scorer provides HTTP clients for the three out-of-process modality
// scorer services (image, audio, EHR) plus a resilient wrapper that adds
// circuit breaking and response caching. The scorers themselves are external
// collaborators; this package only speaks their wire contract.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/medfusion-server/internal/domain"
)

// Result is the raw output of one modality scorer service, before calibration.
// Unprocessable marks malformed-but-recognizable input (corrupt image,
// unreadable audio, missing required EHR fields); it downgrades to a
// missing-modality signal downstream and is never a transport failure.
type Result struct {
	Probabilities map[string]float64  `json:"probabilities"`
	Confidence    float64             `json:"confidence"`
	Unprocessable bool                `json:"unprocessable"`
	Reason        string              `json:"reason,omitempty"`
	RegionHints   []domain.RegionHint `json:"region_hints,omitempty"`
}

// Client scores raw input for one modality.
type Client interface {
	Modality() domain.Modality
	Score(ctx context.Context, payload []byte) (*Result, error)
	HealthCheck(ctx context.Context) error
}

// restClient is the shared HTTP plumbing behind the per-modality clients.
type restClient struct {
	modality    domain.Modality
	baseURL     string
	apiKey      string
	contentType string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func newRESTClient(modality domain.Modality, config domain.ScorerConfig, contentType string) *restClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	limit := config.RateLimit
	if limit == 0 {
		limit = 10
	}
	return &restClient{
		modality:    modality,
		baseURL:     config.BaseURL,
		apiKey:      config.APIKey,
		contentType: contentType,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(limit), limit),
	}
}

// Modality identifies which scorer this client fronts.
func (c *restClient) Modality() domain.Modality {
	return c.modality
}

// Score posts the raw payload to the scorer and decodes its result.
// HTTP 422 means the scorer recognized but could not process the input and
// maps to an unprocessable Result, not an error.
func (c *restClient) Score(ctx context.Context, payload []byte) (*Result, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s scorer rate limit wait: %w", c.modality, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s scorer request: %w", c.modality, err)
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s scorer request failed: %w", c.modality, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decoding %s scorer response: %w", c.modality, err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusUnprocessableEntity:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			// An unreadable 422 body still means unprocessable input.
			return &Result{Unprocessable: true}, nil
		}
		result.Unprocessable = true
		return &result, nil

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s scorer returned status %d: %s", c.modality, resp.StatusCode, string(body))
	}
}

// HealthCheck probes the scorer's health endpoint.
func (c *restClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building %s scorer health request: %w", c.modality, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s scorer health check failed: %w", c.modality, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s scorer unhealthy: status %d", c.modality, resp.StatusCode)
	}
	return nil
}
