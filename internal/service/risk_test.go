package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfusion-server/internal/domain"
)

func posteriorWith(dist domain.Distribution, highConflict bool) *domain.FusedPosterior {
	return &domain.FusedPosterior{
		ClassProbabilities:     dist,
		ContributingModalities: []domain.Modality{domain.IMAGE},
		ConflictScore:          0,
		HighConflict:           highConflict,
	}
}

func TestScoreBaseIgnoresNormalClass(t *testing.T) {
	r := NewRiskScorer(testLogger())

	// NORMAL dominates the posterior but must not drive the risk score.
	posterior := posteriorWith(domain.Distribution{"NORMAL": 0.85, "PNEUMONIA": 0.15}, false)
	assessment, err := r.Score(posterior, nil, testProfile())
	require.NoError(t, err)

	assert.InDelta(t, 0.15, assessment.Score, domain.ProbTolerance)
	assert.Equal(t, domain.LOW, assessment.Tier)
	assert.Equal(t, "NORMAL", assessment.DriverClass, "driver class is the posterior argmax")
}

func TestScoreAppliesRiskFactorWeights(t *testing.T) {
	r := NewRiskScorer(testLogger())

	posterior := posteriorWith(domain.Distribution{"PNEUMONIA": 0.4, "NORMAL": 0.6}, false)
	factors := []domain.RiskFactor{
		{Name: "age", Severity: 1.0},   // weight 0.1
		{Name: "copd", Severity: 0.5},  // weight 0.15
		{Name: "unknown", Severity: 1}, // unweighted, ignored
	}

	assessment, err := r.Score(posterior, factors, testProfile())
	require.NoError(t, err)

	// 0.4 + 0.1*1.0 + 0.15*0.5 = 0.575
	assert.InDelta(t, 0.575, assessment.Score, domain.ProbTolerance)
	assert.Equal(t, domain.HIGH, assessment.Tier)
}

func TestScoreClipsToUnitInterval(t *testing.T) {
	r := NewRiskScorer(testLogger())
	profile := testProfile()
	profile.RiskFactorWeights["age"] = 0.9

	posterior := posteriorWith(domain.Distribution{"PNEUMONIA": 0.9, "NORMAL": 0.1}, false)
	assessment, err := r.Score(posterior, []domain.RiskFactor{{Name: "age", Severity: 1.0}}, profile)
	require.NoError(t, err)

	assert.Equal(t, 1.0, assessment.Score)
	assert.Equal(t, domain.CRITICAL, assessment.Tier)
}

func TestScoreTierBoundaries(t *testing.T) {
	tests := []struct {
		name string
		base float64
		tier domain.RiskTier
	}{
		{"Zero score is LOW", 0.0, domain.LOW},
		{"Just below moderate", 0.2499, domain.LOW},
		{"Exactly 0.25 is MODERATE, not LOW", 0.25, domain.MODERATE},
		{"Just below high", 0.4999, domain.MODERATE},
		{"Exactly 0.5 is HIGH", 0.5, domain.HIGH},
		{"Just below critical", 0.7999, domain.HIGH},
		{"Exactly 0.8 is CRITICAL", 0.8, domain.CRITICAL},
		{"Maximum score", 1.0, domain.CRITICAL},
	}

	r := NewRiskScorer(testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posterior := posteriorWith(domain.Distribution{"PNEUMONIA": tt.base, "NORMAL": 1 - tt.base}, false)
			assessment, err := r.Score(posterior, nil, testProfile())
			require.NoError(t, err)
			assert.Equal(t, tt.tier, assessment.Tier)
		})
	}
}

func TestScoreHighConflictCapsBelowCritical(t *testing.T) {
	r := NewRiskScorer(testLogger())
	profile := testProfile()
	profile.RiskFactorWeights["age"] = 0.2

	// Raw adjusted score computes to 0.95 but conflicting evidence caps it.
	posterior := posteriorWith(domain.Distribution{"PNEUMONIA": 0.75, "NORMAL": 0.25}, true)
	assessment, err := r.Score(posterior, []domain.RiskFactor{{Name: "age", Severity: 1.0}}, profile)
	require.NoError(t, err)

	assert.NotEqual(t, domain.CRITICAL, assessment.Tier)
	assert.Equal(t, domain.HIGH, assessment.Tier)
	assert.Less(t, assessment.Score, profile.TierThresholds.Critical)
	assert.True(t, assessment.ConflictCapApplied, "report must record that the cap was applied")
}

func TestScoreHighConflictBelowCapIsUntouched(t *testing.T) {
	r := NewRiskScorer(testLogger())

	posterior := posteriorWith(domain.Distribution{"PNEUMONIA": 0.4, "NORMAL": 0.6}, true)
	assessment, err := r.Score(posterior, nil, testProfile())
	require.NoError(t, err)

	assert.InDelta(t, 0.4, assessment.Score, domain.ProbTolerance)
	assert.False(t, assessment.ConflictCapApplied)
}

func TestScoreRejectsOutOfRangeSeverity(t *testing.T) {
	r := NewRiskScorer(testLogger())

	posterior := posteriorWith(domain.Distribution{"PNEUMONIA": 0.5, "NORMAL": 0.5}, false)
	_, err := r.Score(posterior, []domain.RiskFactor{{Name: "age", Severity: 1.4}}, testProfile())
	assert.Error(t, err)
}

func TestScoreDriverClassTieBreak(t *testing.T) {
	r := NewRiskScorer(testLogger())

	posterior := posteriorWith(domain.Distribution{"TB": 0.5, "COVID": 0.5}, false)
	assessment, err := r.Score(posterior, nil, testProfile())
	require.NoError(t, err)

	assert.Equal(t, "COVID", assessment.DriverClass, "ties break to the lexicographically smaller label")
}
