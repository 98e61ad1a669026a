package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
)

// FusionEngine combines the available, normalized modality signals into one
// joint posterior over condition classes. The combination rule is
// confidence-weighted log-opinion pooling: order-independent, penalizes
// low-confidence modalities automatically, and behaves like a geometric mean
// that sharpens agreement and dampens single-modality noise.
type FusionEngine struct {
	log *logrus.Logger
}

// NewFusionEngine creates a new fusion engine.
func NewFusionEngine(logger *logrus.Logger) *FusionEngine {
	return &FusionEngine{log: logger}
}

// Fuse derives the FusedPosterior from the valid signals in the input set.
// Zero valid signals is ErrInsufficientEvidence; one valid signal passes
// through verbatim with conflict 0; multiple signals are pooled and scored
// for conflict via the maximum pairwise Jensen-Shannon divergence.
func (f *FusionEngine) Fuse(signals []domain.ModalitySignal, profile *calibration.Profile) (*domain.FusedPosterior, error) {
	valid := make([]domain.ModalitySignal, 0, len(signals))
	for _, s := range signals {
		if s.Valid {
			valid = append(valid, s)
		}
	}

	switch len(valid) {
	case 0:
		return nil, domain.ErrInsufficientEvidence
	case 1:
		posterior := &domain.FusedPosterior{
			ClassProbabilities:     valid[0].ClassProbabilities.Clone(),
			ContributingModalities: []domain.Modality{valid[0].Modality},
			ConflictScore:          0,
			HighConflict:           false,
		}
		if err := posterior.Validate(); err != nil {
			return nil, fmt.Errorf("single-signal posterior invalid: %w", err)
		}
		return posterior, nil
	}

	pooled, err := logOpinionPool(valid)
	if err != nil {
		return nil, err
	}

	conflict := maxPairwiseJSDivergence(valid)
	highConflict := conflict > profile.ConflictThreshold

	posterior := &domain.FusedPosterior{
		ClassProbabilities:     pooled,
		ContributingModalities: contributingModalities(valid),
		ConflictScore:          conflict,
		HighConflict:           highConflict,
	}
	if err := posterior.Validate(); err != nil {
		return nil, fmt.Errorf("fused posterior invalid: %w", err)
	}

	f.log.WithFields(logrus.Fields{
		"modalities":     len(valid),
		"conflict_score": conflict,
		"high_conflict":  highConflict,
	}).Debug("Fused modality signals")

	return posterior, nil
}

// logOpinionPool computes log p_fused(c) proportional to
// sum_m confidence_m * log p_m(c), renormalized to sum to 1. Pooling runs over
// the union of class labels; a signal missing a class contributes the log
// floor for it.
func logOpinionPool(signals []domain.ModalitySignal) (domain.Distribution, error) {
	classes := classUnion(signals)
	if len(classes) == 0 {
		return nil, fmt.Errorf("log-opinion pooling: %w: signals carry no classes", domain.ErrInvalidDistribution)
	}

	logits := make([]float64, len(classes))
	for i, class := range classes {
		acc := 0.0
		for _, s := range signals {
			p, ok := s.ClassProbabilities[class]
			if !ok || p < logFloor {
				p = logFloor
			}
			acc += s.Confidence * math.Log(p)
		}
		logits[i] = acc
	}

	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

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
	return out, nil
}

// maxPairwiseJSDivergence returns the largest Jensen-Shannon divergence
// (base 2, range [0,1]) observed between any two contributing distributions.
func maxPairwiseJSDivergence(signals []domain.ModalitySignal) float64 {
	maxDiv := 0.0
	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			div := jsDivergence(signals[i].ClassProbabilities, signals[j].ClassProbabilities)
			if div > maxDiv {
				maxDiv = div
			}
		}
	}
	return maxDiv
}

// jsDivergence computes the Jensen-Shannon divergence between two
// distributions over the union of their classes, using log base 2 so the
// result is bounded by [0,1].
func jsDivergence(p, q domain.Distribution) float64 {
	classes := make(map[string]struct{}, len(p)+len(q))
	for c := range p {
		classes[c] = struct{}{}
	}
	for c := range q {
		classes[c] = struct{}{}
	}

	div := 0.0
	for c := range classes {
		pc := math.Max(p[c], logFloor)
		qc := math.Max(q[c], logFloor)
		mc := (pc + qc) / 2
		div += 0.5*pc*math.Log2(pc/mc) + 0.5*qc*math.Log2(qc/mc)
	}
	if div < 0 {
		return 0 // floating noise near identical distributions
	}
	return div
}

// classUnion returns the sorted union of class labels across signals.
func classUnion(signals []domain.ModalitySignal) []string {
	seen := make(map[string]struct{})
	for _, s := range signals {
		for c := range s.ClassProbabilities {
			seen[c] = struct{}{}
		}
	}
	classes := make([]string, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// contributingModalities returns the signal modalities in canonical order,
// independent of input ordering.
func contributingModalities(signals []domain.ModalitySignal) []domain.Modality {
	present := make(map[domain.Modality]bool, len(signals))
	for _, s := range signals {
		present[s.Modality] = true
	}
	out := make([]domain.Modality, 0, len(present))
	for _, m := range domain.AllModalities {
		if present[m] {
			out = append(out, m)
		}
	}
	return out
}
