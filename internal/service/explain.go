package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
)

// Explainer produces the per-modality attribution for a report: which modality
// drove the result, and within image/audio modalities, which regions or
// segments contributed. Region hints are passed through unmodified from
// whatever the adapters attached; this component never computes saliency.
type Explainer struct {
	log *logrus.Logger
}

// NewExplainer creates a new explainability generator.
func NewExplainer(logger *logrus.Logger) *Explainer {
	return &Explainer{log: logger}
}

// Attribute computes one attribution per contributing modality. Each weight is
// that modality's confidence times its probability mass on the driver class,
// renormalized across modalities to sum to 1, sorted descending by weight.
func (e *Explainer) Attribute(signals []domain.ModalitySignal, driverClass string) ([]domain.Attribution, error) {
	valid := make([]domain.ModalitySignal, 0, len(signals))
	for _, s := range signals {
		if s.Valid {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, domain.ErrInsufficientEvidence
	}

	raw := make([]float64, len(valid))
	total := 0.0
	for i, s := range valid {
		raw[i] = s.Confidence * s.ClassProbabilities[driverClass]
		total += raw[i]
	}

	attributions := make([]domain.Attribution, len(valid))
	for i, s := range valid {
		weight := 0.0
		if total > 0 {
			weight = raw[i] / total
		} else {
			// No modality put confidence-weighted mass on the driver class;
			// attribute evenly rather than dividing by zero.
			weight = 1.0 / float64(len(valid))
		}
		attributions[i] = domain.Attribution{
			Modality:    s.Modality,
			Weight:      weight,
			RegionHints: s.RegionHints,
		}
	}

	sort.SliceStable(attributions, func(i, j int) bool {
		if attributions[i].Weight != attributions[j].Weight {
			return attributions[i].Weight > attributions[j].Weight
		}
		return attributions[i].Modality < attributions[j].Modality
	})

	e.log.WithFields(logrus.Fields{
		"driver_class": driverClass,
		"modalities":   len(attributions),
		"top_modality": attributions[0].Modality.String(),
	}).Debug("Generated modality attributions")

	return attributions, nil
}

// Summarize builds the natural-language-ready rationale for a report.
func (e *Explainer) Summarize(posterior *domain.FusedPosterior, risk domain.RiskAssessment, attributions []domain.Attribution) string {
	parts := make([]string, 0, 4)

	parts = append(parts, fmt.Sprintf("%s risk (score %.2f) driven by %s at %.1f%% posterior probability",
		risk.Tier, risk.Score, risk.DriverClass, posterior.ClassProbabilities[risk.DriverClass]*100))

	modalityDescs := make([]string, len(attributions))
	for i, a := range attributions {
		modalityDescs[i] = fmt.Sprintf("%s %.0f%%", strings.ToLower(a.Modality.String()), a.Weight*100)
	}
	parts = append(parts, "evidence contribution: "+strings.Join(modalityDescs, ", "))

	if posterior.HighConflict {
		parts = append(parts, fmt.Sprintf("contributing modalities disagree (conflict %.2f); assessment held conservative", posterior.ConflictScore))
	}
	if risk.ConflictCapApplied {
		parts = append(parts, "score capped below CRITICAL due to conflicting evidence")
	}

	return strings.Join(parts, ". ") + "."
}

// Recommend maps the assessment onto actionable follow-ups for the clinician.
func (e *Explainer) Recommend(posterior *domain.FusedPosterior, risk domain.RiskAssessment) []string {
	recommendations := make([]string, 0, 4)

	switch risk.Tier {
	case domain.CRITICAL:
		recommendations = append(recommendations, "Immediate clinical review recommended")
		recommendations = append(recommendations, "Confirm with follow-up diagnostics before treatment decisions")
	case domain.HIGH:
		recommendations = append(recommendations, "Prioritize clinical review of this case")
		recommendations = append(recommendations, "Consider confirmatory testing for "+risk.DriverClass)
	case domain.MODERATE:
		recommendations = append(recommendations, "Schedule follow-up evaluation")
	case domain.LOW:
		recommendations = append(recommendations, "No immediate follow-up required for this assessment")
	}

	if posterior.HighConflict {
		recommendations = append(recommendations, "Modalities disagree; obtain additional evidence before acting on this result")
	}
	if len(posterior.ContributingModalities) == 1 {
		recommendations = append(recommendations,
			fmt.Sprintf("Assessment based on %s evidence only; additional modalities would increase confidence",
				strings.ToLower(posterior.ContributingModalities[0].String())))
	}

	return recommendations
}
