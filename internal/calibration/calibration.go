// Package calibration holds the process-wide calibration profile: per-modality
// temperature parameters learned offline, plus the fusion and scoring
// thresholds. The active profile is immutable after load; recalibration
// replaces it atomically so in-flight requests keep reading the profile they
// started with.
package calibration

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/domain"
)

// Profile is one immutable calibration snapshot. Never mutate a Profile after
// it has been published to the registry.
type Profile struct {
	Temperatures      map[domain.Modality]float64 `json:"temperatures"`
	ConflictThreshold float64                     `json:"conflict_threshold"`
	TierThresholds    domain.TierThresholds       `json:"tier_thresholds"`
	NormalClass       string                      `json:"normal_class"`
	RiskFactorWeights map[string]float64          `json:"risk_factor_weights"`
	LoadedAt          time.Time                   `json:"loaded_at"`
}

// Temperature returns the calibration temperature for a modality, defaulting
// to 1 (identity scaling) for modalities without a learned parameter.
func (p *Profile) Temperature(m domain.Modality) float64 {
	if t, ok := p.Temperatures[m]; ok && t > 0 {
		return t
	}
	return 1.0
}

// Validate rejects malformed profiles before they can reach the pipeline.
// A malformed profile is a stage-level contract violation, not a per-request
// recoverable condition.
func (p *Profile) Validate() error {
	for m, t := range p.Temperatures {
		if !m.IsValid() {
			return fmt.Errorf("calibration profile: %w: %q", domain.ErrInvalidModality, m)
		}
		if t <= 0 {
			return fmt.Errorf("calibration profile: temperature for %s must be positive, got %v", m, t)
		}
	}
	if p.ConflictThreshold <= 0 || p.ConflictThreshold > 1 {
		return fmt.Errorf("calibration profile: conflict threshold %v outside (0,1]", p.ConflictThreshold)
	}
	tt := p.TierThresholds
	if !(tt.Moderate > 0 && tt.Moderate < tt.High && tt.High < tt.Critical && tt.Critical <= 1) {
		return fmt.Errorf("calibration profile: tier thresholds %v/%v/%v must be ascending within (0,1]",
			tt.Moderate, tt.High, tt.Critical)
	}
	if p.NormalClass == "" {
		return fmt.Errorf("calibration profile: normal class label is required")
	}
	for name, w := range p.RiskFactorWeights {
		if w < 0 {
			return fmt.Errorf("calibration profile: weight for factor %q is negative", name)
		}
	}
	return nil
}

// FromConfig builds a profile from the startup configuration.
func FromConfig(cal domain.CalibrationConfig, pipe domain.PipelineConfig) (*Profile, error) {
	profile := &Profile{
		Temperatures: map[domain.Modality]float64{
			domain.IMAGE: cal.ImageTemperature,
			domain.AUDIO: cal.AudioTemperature,
			domain.EHR:   cal.EHRTemperature,
		},
		ConflictThreshold: pipe.ConflictThreshold,
		TierThresholds:    pipe.TierThresholds,
		NormalClass:       pipe.NormalClass,
		RiskFactorWeights: pipe.RiskFactorWeights,
		LoadedAt:          time.Now().UTC(),
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Registry publishes the active calibration profile to the pipeline. Reads are
// lock-free; Swap installs a replacement visible to new requests only.
type Registry struct {
	active atomic.Pointer[Profile]
	log    *logrus.Logger
}

// NewRegistry creates a registry with an initial validated profile.
func NewRegistry(initial *Profile, logger *logrus.Logger) (*Registry, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial calibration profile rejected: %w", err)
	}
	r := &Registry{log: logger}
	r.active.Store(initial)
	return r, nil
}

// Active returns the current profile. Callers must treat it as read-only.
func (r *Registry) Active() *Profile {
	return r.active.Load()
}

// Swap validates and installs a new profile. In-flight requests continue to
// read the profile they captured at pipeline entry.
func (r *Registry) Swap(next *Profile) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("recalibration rejected: %w", err)
	}
	next.LoadedAt = time.Now().UTC()
	prev := r.active.Swap(next)

	r.log.WithFields(logrus.Fields{
		"previous_loaded_at": prev.LoadedAt,
		"conflict_threshold": next.ConflictThreshold,
		"image_temperature":  next.Temperature(domain.IMAGE),
		"audio_temperature":  next.Temperature(domain.AUDIO),
		"ehr_temperature":    next.Temperature(domain.EHR),
	}).Info("Calibration profile swapped")

	return nil
}
