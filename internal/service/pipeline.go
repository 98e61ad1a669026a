package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
)

// DiagnosisInput carries the raw per-modality payloads for one request. A nil
// payload means the modality was not supplied. At least one payload must be
// present or the pipeline fails fast before invoking any adapter.
type DiagnosisInput struct {
	Image       []byte
	Audio       []byte
	EHR         []byte
	RiskFactors []domain.RiskFactor
}

// suppliedModalities returns the modalities with a payload, in canonical order.
func (in *DiagnosisInput) suppliedModalities() []domain.Modality {
	supplied := make([]domain.Modality, 0, 3)
	if in.Image != nil {
		supplied = append(supplied, domain.IMAGE)
	}
	if in.Audio != nil {
		supplied = append(supplied, domain.AUDIO)
	}
	if in.EHR != nil {
		supplied = append(supplied, domain.EHR)
	}
	return supplied
}

func (in *DiagnosisInput) payload(m domain.Modality) []byte {
	switch m {
	case domain.IMAGE:
		return in.Image
	case domain.AUDIO:
		return in.Audio
	default:
		return in.EHR
	}
}

// Pipeline orchestrates one diagnosis request through the stage machine
// RECEIVED -> ADAPTING -> NORMALIZING -> FUSING -> SCORING -> EXPLAINING ->
// COMPLETE, or FAILED from any stage. Requests hold no shared mutable state
// and may run fully in parallel; the calibration profile is captured once at
// entry so a concurrent recalibration never affects an in-flight request.
type Pipeline struct {
	adapters    map[domain.Modality]domain.ModalityAdapter
	calibration *calibration.Registry
	normalizer  *Normalizer
	fusion      *FusionEngine
	risk        *RiskScorer
	explainer   *Explainer
	log         *logrus.Logger
}

// NewPipeline creates the orchestrator over the given modality adapters.
func NewPipeline(
	adapters map[domain.Modality]domain.ModalityAdapter,
	registry *calibration.Registry,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		adapters:    adapters,
		calibration: registry,
		normalizer:  NewNormalizer(logger),
		fusion:      NewFusionEngine(logger),
		risk:        NewRiskScorer(logger),
		explainer:   NewExplainer(logger),
		log:         logger,
	}
}

// Run executes one diagnosis request. It returns either a complete, internally
// consistent DiagnosticReport or a typed failure carrying the failing stage;
// never a partial report.
func (p *Pipeline) Run(ctx context.Context, input *DiagnosisInput) (*domain.DiagnosticReport, error) {
	startTime := time.Now()
	requestID := uuid.New()

	log := p.log.WithField("request_id", requestID.String())
	log.WithField("stage", domain.StageReceived.String()).Debug("Pipeline request received")

	supplied := input.suppliedModalities()
	if len(supplied) == 0 {
		return nil, domain.NewPipelineError(domain.StageReceived, domain.ErrCodeInsufficientEvidence,
			"at least one modality input must be supplied", domain.ErrInsufficientEvidence)
	}

	// One immutable profile per request, captured before any stage runs.
	profile := p.calibration.Active()

	// ADAPTING: fan out to the independent scorers, fan in all signals.
	signals, err := p.adaptAll(ctx, input, supplied, log)
	if err != nil {
		return nil, err
	}

	// NORMALIZING: rescale each valid signal onto the common probability scale.
	log.WithField("stage", domain.StageNormalizing.String()).Debug("Normalizing modality signals")
	normalized := make([]domain.ModalitySignal, 0, len(signals))
	for _, s := range signals {
		ns, err := p.normalizer.Normalize(s, profile)
		if err != nil {
			return nil, domain.NewPipelineError(domain.StageNormalizing, domain.ErrCodePipelineFailure, err.Error(), err)
		}
		normalized = append(normalized, ns)
	}

	// FUSING: combine into one joint posterior.
	log.WithField("stage", domain.StageFusing.String()).Debug("Fusing normalized signals")
	posterior, err := p.fusion.Fuse(normalized, profile)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientEvidence) {
			return nil, domain.NewPipelineError(domain.StageFusing, domain.ErrCodeInsufficientEvidence,
				"no valid modality signals after adaptation", err)
		}
		return nil, domain.NewPipelineError(domain.StageFusing, domain.ErrCodePipelineFailure, err.Error(), err)
	}

	// SCORING: posterior plus static risk factors onto a calibrated tier.
	log.WithField("stage", domain.StageScoring.String()).Debug("Scoring fused posterior")
	assessment, err := p.risk.Score(posterior, input.RiskFactors, profile)
	if err != nil {
		return nil, domain.NewPipelineError(domain.StageScoring, domain.ErrCodeInvalidInput, err.Error(), err)
	}

	// EXPLAINING: per-modality attribution and structured rationale.
	log.WithField("stage", domain.StageExplaining.String()).Debug("Generating attributions")
	attributions, err := p.explainer.Attribute(normalized, assessment.DriverClass)
	if err != nil {
		return nil, domain.NewPipelineError(domain.StageExplaining, domain.ErrCodePipelineFailure, err.Error(), err)
	}

	report := &domain.DiagnosticReport{
		ID:              requestID,
		Posterior:       *posterior,
		Risk:            assessment,
		Attributions:    attributions,
		Summary:         p.explainer.Summarize(posterior, assessment, attributions),
		Recommendations: p.explainer.Recommend(posterior, assessment),
		GeneratedAt:     time.Now().UTC(),
	}
	if err := report.Validate(); err != nil {
		return nil, domain.NewPipelineError(domain.StageComplete, domain.ErrCodePipelineFailure, err.Error(), err)
	}

	log.WithFields(report.LogFields()).WithFields(logrus.Fields{
		"stage":           domain.StageComplete.String(),
		"processing_time": time.Since(startTime),
	}).Info("Diagnosis pipeline completed")

	return report, nil
}

// adaptAll invokes the adapters for the supplied modalities concurrently and
// waits for every one. A timed-out or unprocessable modality arrives as an
// invalid signal; only an unreachable scorer aborts the request.
func (p *Pipeline) adaptAll(ctx context.Context, input *DiagnosisInput, supplied []domain.Modality, log *logrus.Entry) ([]domain.ModalitySignal, error) {
	log.WithFields(logrus.Fields{
		"stage":      domain.StageAdapting.String(),
		"modalities": len(supplied),
	}).Debug("Invoking modality adapters")

	type adapterResult struct {
		signal domain.ModalitySignal
		err    error
	}

	results := make(chan adapterResult, len(supplied))
	for _, m := range supplied {
		adapter, ok := p.adapters[m]
		if !ok {
			return nil, domain.NewPipelineError(domain.StageAdapting, domain.ErrCodeModelUnavailable,
				"no adapter registered for "+m.String(), &domain.ModelUnavailableError{Modality: m})
		}
		go func(m domain.Modality, adapter domain.ModalityAdapter) {
			signal, err := adapter.Score(ctx, input.payload(m))
			results <- adapterResult{signal: signal, err: err}
		}(m, adapter)
	}

	signals := make([]domain.ModalitySignal, 0, len(supplied))
	for range supplied {
		select {
		case res := <-results:
			if res.err != nil {
				var unavailable *domain.ModelUnavailableError
				if errors.As(res.err, &unavailable) {
					return nil, domain.NewPipelineError(domain.StageAdapting, domain.ErrCodeModelUnavailable,
						res.err.Error(), res.err)
				}
				return nil, domain.NewPipelineError(domain.StageAdapting, domain.ErrCodePipelineFailure,
					res.err.Error(), res.err)
			}
			if !res.signal.Valid {
				log.WithField("modality", res.signal.Modality.String()).Info("Modality yielded no usable evidence")
			}
			signals = append(signals, res.signal)
		case <-ctx.Done():
			return nil, domain.NewPipelineError(domain.StageAdapting, domain.ErrCodePipelineFailure,
				"request cancelled while waiting for adapters", ctx.Err())
		}
	}

	return signals, nil
}
