package service

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
)

// logFloor keeps zero probabilities out of the log domain. Probabilities below
// the floor are treated as the floor before temperature scaling.
const logFloor = 1e-12

// Normalizer rescales each modality's raw signal onto a common probability
// scale using that modality's calibration temperature. A CNN's softmax output
// is not directly comparable to a tabular model's probability; this step is
// required before any cross-modality arithmetic.
type Normalizer struct {
	log *logrus.Logger
}

// NewNormalizer creates a new evidence normalizer.
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{log: logger}
}

// Normalize applies temperature scaling: p_i' = softmax(log(p_i)/T). It is a
// pure function of the signal and profile; the input signal is not mutated.
// Invalid signals pass through unchanged.
func (n *Normalizer) Normalize(signal domain.ModalitySignal, profile *calibration.Profile) (domain.ModalitySignal, error) {
	if !signal.Valid {
		return signal, nil
	}
	if err := signal.Validate(); err != nil {
		return domain.ModalitySignal{}, fmt.Errorf("normalizer rejected %s signal: %w", signal.Modality, err)
	}

	temperature := profile.Temperature(signal.Modality)
	scaled := temperatureScale(signal.ClassProbabilities, temperature)

	n.log.WithFields(logrus.Fields{
		"modality":    signal.Modality.String(),
		"temperature": temperature,
	}).Debug("Normalized modality signal")

	out := signal
	out.ClassProbabilities = scaled
	return out, nil
}

// temperatureScale computes softmax(log(p)/T) over the distribution's classes
// in sorted order. T=1 reproduces the input (up to renormalization).
func temperatureScale(dist domain.Distribution, temperature float64) domain.Distribution {
	classes := dist.Classes()
	logits := make([]float64, len(classes))
	maxLogit := math.Inf(-1)
	for i, class := range classes {
		p := dist[class]
		if p < logFloor {
			p = logFloor
		}
		logits[i] = math.Log(p) / temperature
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}

	// Max-subtracted softmax for numerical stability.
	sum := 0.0
	exps := make([]float64, len(classes))
	for i := range logits {
		exps[i] = math.Exp(logits[i] - maxLogit)
		sum += exps[i]
	}

	out := make(domain.Distribution, len(classes))
	for i, class := range classes {
		out[class] = exps[i] / sum
	}
	return out
}
