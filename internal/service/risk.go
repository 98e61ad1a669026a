package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
)

// RiskScorer maps the fused posterior plus static patient risk factors onto a
// calibrated risk tier and numeric score. When the posterior is flagged
// high-conflict the adjusted score is capped below the CRITICAL threshold:
// never claim certainty from conflicting evidence.
type RiskScorer struct {
	log *logrus.Logger
}

// NewRiskScorer creates a new risk scorer.
func NewRiskScorer(logger *logrus.Logger) *RiskScorer {
	return &RiskScorer{log: logger}
}

// Score computes the risk assessment for one request. Factor severities must
// be normalized to [0,1]; factor weights come from the calibration profile.
func (r *RiskScorer) Score(posterior *domain.FusedPosterior, factors []domain.RiskFactor, profile *calibration.Profile) (domain.RiskAssessment, error) {
	driverClass := posterior.ClassProbabilities.ArgMax()
	if driverClass == "" {
		return domain.RiskAssessment{}, fmt.Errorf("risk scoring: posterior has no driver class")
	}

	base := 0.0
	for class, p := range posterior.ClassProbabilities {
		if class == profile.NormalClass {
			continue
		}
		if p > base {
			base = p
		}
	}

	adjusted := base
	for _, factor := range factors {
		if factor.Severity < 0 || factor.Severity > 1 {
			return domain.RiskAssessment{}, domain.NewValidationError(
				"risk_factors."+factor.Name, "severity must be in [0,1]", factor.Severity)
		}
		weight, ok := profile.RiskFactorWeights[factor.Name]
		if !ok {
			r.log.WithField("factor", factor.Name).Warn("Risk factor has no configured weight, ignoring")
			continue
		}
		adjusted += weight * factor.Severity
	}

	if adjusted > 1 {
		adjusted = 1
	}
	if adjusted < 0 {
		adjusted = 0
	}

	capApplied := false
	if posterior.HighConflict && adjusted >= profile.TierThresholds.Critical {
		adjusted = profile.TierThresholds.Critical - domain.ProbTolerance
		capApplied = true
	}

	assessment := domain.RiskAssessment{
		Tier:               tierFor(adjusted, profile.TierThresholds),
		Score:              adjusted,
		DriverClass:        driverClass,
		ConflictCapApplied: capApplied,
	}
	if err := assessment.Validate(); err != nil {
		return domain.RiskAssessment{}, err
	}

	r.log.WithFields(logrus.Fields{
		"tier":            assessment.Tier.String(),
		"score":           assessment.Score,
		"driver_class":    assessment.DriverClass,
		"conflict_capped": capApplied,
		"factor_count":    len(factors),
	}).Debug("Scored fused posterior")

	return assessment, nil
}

// tierFor maps a score onto its tier. Boundaries are closed on the left:
// a score exactly at a threshold belongs to the higher tier.
func tierFor(score float64, tt domain.TierThresholds) domain.RiskTier {
	switch {
	case score >= tt.Critical:
		return domain.CRITICAL
	case score >= tt.High:
		return domain.HIGH
	case score >= tt.Moderate:
		return domain.MODERATE
	default:
		return domain.LOW
	}
}
