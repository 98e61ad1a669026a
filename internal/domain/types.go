// Package domain contains the core business entities for multi-modal diagnostic
// fusion: per-modality signals, the fused posterior, risk assessment, attribution,
// and the immutable diagnostic report delivered to the clinician-facing consumer.
package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Modality identifies one class of medical input signal.
type Modality string

const (
	IMAGE Modality = "IMAGE"
	AUDIO Modality = "AUDIO"
	EHR   Modality = "EHR"
)

// AllModalities lists every modality the pipeline accepts, in canonical order.
var AllModalities = []Modality{IMAGE, AUDIO, EHR}

// RiskTier represents the calibrated risk tier reported to clinicians.
type RiskTier string

const (
	LOW      RiskTier = "LOW"
	MODERATE RiskTier = "MODERATE"
	HIGH     RiskTier = "HIGH"
	CRITICAL RiskTier = "CRITICAL"
)

// PipelineStage represents the orchestrator state machine for one request.
// Transitions are sequential and synchronous; no stage is revisited.
type PipelineStage string

const (
	StageReceived    PipelineStage = "RECEIVED"
	StageAdapting    PipelineStage = "ADAPTING"
	StageNormalizing PipelineStage = "NORMALIZING"
	StageFusing      PipelineStage = "FUSING"
	StageScoring     PipelineStage = "SCORING"
	StageExplaining  PipelineStage = "EXPLAINING"
	StageComplete    PipelineStage = "COMPLETE"
	StageFailed      PipelineStage = "FAILED"
)

// ProbTolerance is the floating tolerance for probability-sum invariants.
const ProbTolerance = 1e-6

// Validation errors for diagnostic data integrity.
var (
	ErrInvalidModality     = errors.New("invalid modality")
	ErrInvalidRiskTier     = errors.New("invalid risk tier")
	ErrInvalidDistribution = errors.New("invalid probability distribution")
	ErrInvalidConfidence   = errors.New("confidence must be in [0,1]")
)

// IsValid validates the modality identifier. Unknown modalities must never
// enter the fusion arithmetic.
func (m Modality) IsValid() bool {
	switch m {
	case IMAGE, AUDIO, EHR:
		return true
	default:
		return false
	}
}

// String returns the string representation of the modality.
func (m Modality) String() string {
	return string(m)
}

// IsValid validates the risk tier.
func (rt RiskTier) IsValid() bool {
	switch rt {
	case LOW, MODERATE, HIGH, CRITICAL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk tier.
func (rt RiskTier) String() string {
	return string(rt)
}

// RequiresClinicalAction determines whether the tier requires clinical follow-up.
func (rt RiskTier) RequiresClinicalAction() bool {
	switch rt {
	case HIGH, CRITICAL:
		return true
	case LOW, MODERATE:
		return false
	default:
		return true // Conservative approach for unknown tiers
	}
}

// String returns the string representation of the pipeline stage.
func (ps PipelineStage) String() string {
	return string(ps)
}

// Distribution is a probability distribution over condition classes.
// All arithmetic over distributions iterates classes in sorted label order
// so results are deterministic.
type Distribution map[string]float64

// Classes returns the class labels in sorted order.
func (d Distribution) Classes() []string {
	classes := make([]string, 0, len(d))
	for c := range d {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

// Validate ensures the distribution is a proper probability distribution:
// non-empty, all entries non-negative, summing to 1 within ProbTolerance.
func (d Distribution) Validate() error {
	if len(d) == 0 {
		return fmt.Errorf("distribution validation: %w: no classes", ErrInvalidDistribution)
	}
	sum := 0.0
	for class, p := range d {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("distribution validation: %w: class %q has probability %v", ErrInvalidDistribution, class, p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > ProbTolerance {
		return fmt.Errorf("distribution validation: %w: probabilities sum to %v", ErrInvalidDistribution, sum)
	}
	return nil
}

// Clone returns an independent copy of the distribution.
func (d Distribution) Clone() Distribution {
	out := make(Distribution, len(d))
	for c, p := range d {
		out[c] = p
	}
	return out
}

// ArgMax returns the highest-probability class. Classes within ProbTolerance
// of the maximum tie-break to the lexicographically smaller label.
func (d Distribution) ArgMax() string {
	maxP := math.Inf(-1)
	for _, p := range d {
		if p > maxP {
			maxP = p
		}
	}
	best := ""
	for _, class := range d.Classes() {
		if d[class] >= maxP-ProbTolerance {
			best = class
			break
		}
	}
	return best
}

// RegionHint is an opaque locator attached by a modality adapter: a saliency
// bounding box for images, a time span for audio, a field name for EHR data.
// The explainability generator passes hints through without interpreting them.
type RegionHint struct {
	Kind    string  `json:"kind"` // "bbox", "timespan" or "field"
	Label   string  `json:"label,omitempty"`
	X0      float64 `json:"x0,omitempty"`
	Y0      float64 `json:"y0,omitempty"`
	X1      float64 `json:"x1,omitempty"`
	Y1      float64 `json:"y1,omitempty"`
	StartMS int64   `json:"start_ms,omitempty"`
	EndMS   int64   `json:"end_ms,omitempty"`
}

// ModalitySignal is the uniform output contract of a modality adapter.
// Valid=false is a first-class signal meaning the underlying scorer could not
// process the input; it is consumed downstream as missing evidence, not an error.
type ModalitySignal struct {
	Modality           Modality     `json:"modality"`
	ClassProbabilities Distribution `json:"class_probabilities"`
	Confidence         float64      `json:"confidence"`
	Valid              bool         `json:"valid"`
	RegionHints        []RegionHint `json:"region_hints,omitempty"`
}

// InvalidSignal builds the canonical missing-evidence signal for a modality.
func InvalidSignal(m Modality) ModalitySignal {
	return ModalitySignal{Modality: m, Valid: false}
}

// Validate ensures a valid signal meets the adapter contract. Invalid signals
// carry no distribution and skip the probability checks.
func (s *ModalitySignal) Validate() error {
	if !s.Modality.IsValid() {
		return fmt.Errorf("modality signal validation: %w: %q", ErrInvalidModality, s.Modality)
	}
	if !s.Valid {
		return nil
	}
	if err := s.ClassProbabilities.Validate(); err != nil {
		return fmt.Errorf("modality signal validation: %w", err)
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return fmt.Errorf("modality signal validation: %w: got %v", ErrInvalidConfidence, s.Confidence)
	}
	return nil
}

// FusedPosterior is the joint posterior over condition classes derived from
// the set of valid, normalized modality signals for one request.
type FusedPosterior struct {
	ClassProbabilities     Distribution `json:"class_probabilities"`
	ContributingModalities []Modality   `json:"contributing_modalities"`
	ConflictScore          float64      `json:"conflict_score"`
	HighConflict           bool         `json:"high_conflict"`
}

// Validate checks the posterior invariants: probabilities sum to 1 within
// tolerance and the conflict score is non-negative.
func (fp *FusedPosterior) Validate() error {
	if err := fp.ClassProbabilities.Validate(); err != nil {
		return fmt.Errorf("fused posterior validation: %w", err)
	}
	if fp.ConflictScore < 0 {
		return fmt.Errorf("fused posterior validation: conflict score %v is negative", fp.ConflictScore)
	}
	if len(fp.ContributingModalities) == 0 {
		return fmt.Errorf("fused posterior validation: no contributing modalities")
	}
	return nil
}

// RiskFactor is one static patient risk factor with a normalized severity.
type RiskFactor struct {
	Name     string  `json:"name"`
	Severity float64 `json:"severity"` // normalized [0,1]
}

// RiskAssessment maps the fused posterior plus static risk factors onto a
// calibrated tier and numeric score.
type RiskAssessment struct {
	Tier               RiskTier `json:"tier"`
	Score              float64  `json:"score"`
	DriverClass        string   `json:"driver_class"`
	ConflictCapApplied bool     `json:"conflict_cap_applied"`
}

// Validate ensures the assessment stays inside its contract.
func (ra *RiskAssessment) Validate() error {
	if !ra.Tier.IsValid() {
		return fmt.Errorf("risk assessment validation: %w: %q", ErrInvalidRiskTier, ra.Tier)
	}
	if ra.Score < 0 || ra.Score > 1 || math.IsNaN(ra.Score) {
		return fmt.Errorf("risk assessment validation: score %v outside [0,1]", ra.Score)
	}
	if ra.DriverClass == "" {
		return fmt.Errorf("risk assessment validation: driver class is required")
	}
	return nil
}

// Attribution quantifies how much one contributing modality drove the result.
// Weights across all attributions for a request sum to 1.
type Attribution struct {
	Modality    Modality     `json:"modality"`
	Weight      float64      `json:"weight"`
	RegionHints []RegionHint `json:"region_hints,omitempty"`
}

// DiagnosticReport is the immutable aggregate produced at the end of one
// pipeline run. It is never mutated after creation; the dashboard/chat layer
// consumes and discards it.
type DiagnosticReport struct {
	ID              uuid.UUID      `json:"id"`
	Posterior       FusedPosterior `json:"posterior"`
	Risk            RiskAssessment `json:"risk"`
	Attributions    []Attribution  `json:"attributions"`
	Summary         string         `json:"summary,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Validate checks the report's cross-entity invariants, including that
// attribution weights sum to 1 within tolerance.
func (r *DiagnosticReport) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("diagnostic report validation: ID is required")
	}
	if err := r.Posterior.Validate(); err != nil {
		return fmt.Errorf("diagnostic report validation: %w", err)
	}
	if err := r.Risk.Validate(); err != nil {
		return fmt.Errorf("diagnostic report validation: %w", err)
	}
	if len(r.Attributions) != len(r.Posterior.ContributingModalities) {
		return fmt.Errorf("diagnostic report validation: %d attributions for %d contributing modalities",
			len(r.Attributions), len(r.Posterior.ContributingModalities))
	}
	sum := 0.0
	for _, a := range r.Attributions {
		if a.Weight < 0 || a.Weight > 1 {
			return fmt.Errorf("diagnostic report validation: attribution weight %v outside [0,1]", a.Weight)
		}
		sum += a.Weight
	}
	if math.Abs(sum-1.0) > ProbTolerance {
		return fmt.Errorf("diagnostic report validation: attribution weights sum to %v", sum)
	}
	return nil
}

// LogFields returns structured logging fields for audit trails.
func (r *DiagnosticReport) LogFields() map[string]any {
	return map[string]any{
		"report_id":       r.ID.String(),
		"tier":            r.Risk.Tier.String(),
		"score":           r.Risk.Score,
		"driver_class":    r.Risk.DriverClass,
		"conflict_score":  r.Posterior.ConflictScore,
		"high_conflict":   r.Posterior.HighConflict,
		"modalities":      len(r.Posterior.ContributingModalities),
		"requires_action": r.Risk.Tier.RequiresClinicalAction(),
		"conflict_capped": r.Risk.ConflictCapApplied,
	}
}
