// Package adapter wraps the modality scorer clients behind the uniform
// ModalitySignal contract. Adapters absorb per-modality problems — timeouts,
// unprocessable input, malformed scorer output — into Valid=false signals and
// only fail when the underlying scorer is unreachable.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
	"github.com/medfusion-server/pkg/scorer"
)

// ScorerGateway is the slice of the resilient scorer client the adapters use.
type ScorerGateway interface {
	Score(ctx context.Context, modality domain.Modality, payload []byte) (*scorer.Result, error)
}

// scorerAdapter is the single adapter implementation; the per-modality
// constructors differ only in modality and timeout so the fusion math never
// special-cases a modality.
type scorerAdapter struct {
	modality domain.Modality
	gateway  ScorerGateway
	timeout  time.Duration
	log      *logrus.Logger
}

// defaultTimeout applies when a modality has no configured timeout.
const defaultTimeout = 2000 * time.Millisecond

// New creates an adapter for one modality.
func New(modality domain.Modality, gateway ScorerGateway, timeout time.Duration, logger *logrus.Logger) domain.ModalityAdapter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &scorerAdapter{
		modality: modality,
		gateway:  gateway,
		timeout:  timeout,
		log:      logger,
	}
}

// NewAll builds the full adapter set from the scorers configuration.
func NewAll(config domain.ScorersConfig, gateway ScorerGateway, logger *logrus.Logger) map[domain.Modality]domain.ModalityAdapter {
	adapters := make(map[domain.Modality]domain.ModalityAdapter, len(domain.AllModalities))
	for _, m := range domain.AllModalities {
		adapters[m] = New(m, gateway, config.ForModality(m).Timeout, logger)
	}
	return adapters
}

// Modality identifies which modality this adapter scores.
func (a *scorerAdapter) Modality() domain.Modality {
	return a.modality
}

// Score invokes the underlying scorer with a bounded timeout and maps its
// outcome onto the signal contract:
//   - unprocessable input or timeout -> Valid=false signal, nil error
//   - unreachable scorer -> ModelUnavailableError
func (a *scorerAdapter) Score(ctx context.Context, input []byte) (domain.ModalitySignal, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.gateway.Score(callCtx, a.modality, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			timeoutErr := fmt.Errorf("%w: %s after %s", domain.ErrModalityTimeout, a.modality, a.timeout)
			a.log.WithError(timeoutErr).WithFields(logrus.Fields{
				"modality": a.modality.String(),
				"timeout":  a.timeout,
			}).Warn("Modality scorer timed out, treating as missing evidence")
			return domain.InvalidSignal(a.modality), nil
		}
		if errors.Is(err, context.Canceled) {
			return domain.ModalitySignal{}, err
		}
		return domain.ModalitySignal{}, &domain.ModelUnavailableError{Modality: a.modality, Cause: err}
	}

	if result.Unprocessable {
		a.log.WithFields(logrus.Fields{
			"modality": a.modality.String(),
			"reason":   result.Reason,
		}).Info("Scorer could not process input")
		return domain.InvalidSignal(a.modality), nil
	}

	signal := domain.ModalitySignal{
		Modality:           a.modality,
		ClassProbabilities: domain.Distribution(result.Probabilities),
		Confidence:         result.Confidence,
		Valid:              true,
		RegionHints:        result.RegionHints,
	}
	if err := signal.Validate(); err != nil {
		// A scorer that answers with a broken distribution has produced no
		// usable evidence for this request.
		a.log.WithError(err).WithField("modality", a.modality.String()).
			Warn("Scorer returned malformed signal, treating as missing evidence")
		return domain.InvalidSignal(a.modality), nil
	}

	return signal, nil
}
