package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
	"github.com/medfusion-server/internal/reportstore"
	"github.com/medfusion-server/internal/service"
)

// diagnoseRequest is the wire form of one diagnosis request. Image and audio
// payloads arrive base64-encoded; EHR data is embedded JSON. Risk factors may
// be supplied inline or resolved from a stored patient profile.
type diagnoseRequest struct {
	Image       string          `json:"image,omitempty"`
	Audio       string          `json:"audio,omitempty"`
	EHR         json.RawMessage `json:"ehr,omitempty"`
	PatientID   string          `json:"patient_id,omitempty"`
	RiskFactors []riskFactor    `json:"risk_factors,omitempty"`
}

type riskFactor struct {
	Name     string  `json:"name" binding:"required"`
	Severity float64 `json:"severity"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Stage         string `json:"stage,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) abortError(c *gin.Context, status int, code, message, stage string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error:         message,
		Code:          code,
		Stage:         stage,
		CorrelationID: c.GetString("correlation_id"),
	})
}

// handleDiagnose runs one request through the full diagnosis pipeline and
// persists the resulting report.
func (s *Server) handleDiagnose(c *gin.Context) {
	var req diagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
		return
	}

	input, err := s.buildInput(c, &req)
	if err != nil {
		s.abortError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
		return
	}

	report, err := s.pipeline.Run(c.Request.Context(), input)
	if err != nil {
		code := domain.FailureCode(err)
		stage := domain.FailureStage(err).String()
		s.log.WithError(err).WithFields(map[string]any{
			"code":  code,
			"stage": stage,
		}).Warn("Diagnosis request failed")
		s.abortError(c, statusForCode(code), code, err.Error(), stage)
		return
	}

	if s.store != nil {
		if err := s.store.Save(c.Request.Context(), report); err != nil {
			// The report is already complete; persistence failure must not
			// withhold it from the caller.
			s.log.WithError(err).WithField("report_id", report.ID).Error("Failed to persist report")
		}
	}
	s.hub.Broadcast(report)

	c.JSON(http.StatusOK, report)
}

// buildInput decodes payloads and resolves risk factors for one request.
func (s *Server) buildInput(c *gin.Context, req *diagnoseRequest) (*service.DiagnosisInput, error) {
	input := &service.DiagnosisInput{}

	if req.Image != "" {
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return nil, domain.NewValidationError("image", "must be base64-encoded", nil)
		}
		input.Image = data
	}
	if req.Audio != "" {
		data, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			return nil, domain.NewValidationError("audio", "must be base64-encoded", nil)
		}
		input.Audio = data
	}
	if len(req.EHR) > 0 {
		input.EHR = []byte(req.EHR)
	}

	for _, f := range req.RiskFactors {
		input.RiskFactors = append(input.RiskFactors, domain.RiskFactor{
			Name:     f.Name,
			Severity: f.Severity,
		})
	}

	// A stored patient profile supplements inline factors; inline entries win
	// on name collisions.
	if req.PatientID != "" {
		if s.profiles == nil {
			return nil, domain.NewValidationError("patient_id", "patient profiles are not configured", req.PatientID)
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			return nil, domain.NewValidationError("patient_id", "must be a UUID", req.PatientID)
		}
		stored, err := s.profiles.GetByPatient(c.Request.Context(), patientID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NewValidationError("patient_id", "unknown patient", req.PatientID)
			}
			return nil, err
		}
		inline := make(map[string]bool, len(req.RiskFactors))
		for _, f := range req.RiskFactors {
			inline[f.Name] = true
		}
		for _, f := range stored {
			if !inline[f.Name] {
				input.RiskFactors = append(input.RiskFactors, f)
			}
		}
	}

	return input, nil
}

// handleGetReport returns one stored report by ID.
func (s *Server) handleGetReport(c *gin.Context) {
	if s.store == nil {
		s.abortError(c, http.StatusNotFound, domain.ErrCodeInvalidInput, "report storage is not configured", "")
		return
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		s.abortError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "report ID must be a UUID", "")
		return
	}

	report, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.abortError(c, http.StatusInternalServerError, domain.ErrCodeDatabaseError, err.Error(), "")
		return
	}
	if report == nil {
		s.abortError(c, http.StatusNotFound, domain.ErrCodeInvalidInput, "report not found", "")
		return
	}

	c.JSON(http.StatusOK, report)
}

// handleListReports returns stored reports, most recent first.
func (s *Server) handleListReports(c *gin.Context) {
	if s.store == nil {
		s.abortError(c, http.StatusNotFound, domain.ErrCodeInvalidInput, "report storage is not configured", "")
		return
	}

	limit := queryInt(c, "limit", 20, 1, 100)
	offset := queryInt(c, "offset", 0, 0, 1<<30)

	reports, err := s.store.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.abortError(c, http.StatusInternalServerError, domain.ErrCodeDatabaseError, err.Error(), "")
		return
	}
	total, err := s.store.Count(c.Request.Context())
	if err != nil {
		s.abortError(c, http.StatusInternalServerError, domain.ErrCodeDatabaseError, err.Error(), "")
		return
	}

	if reports == nil {
		reports = []*domain.DiagnosticReport{}
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleExportReports streams every stored report as one JSON envelope, for
// offline review and dataset assembly.
func (s *Server) handleExportReports(c *gin.Context) {
	if s.store == nil {
		s.abortError(c, http.StatusNotFound, domain.ErrCodeInvalidInput, "report storage is not configured", "")
		return
	}

	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="reports.json"`)
	if err := reportstore.ExportJSON(c.Request.Context(), s.store, c.Writer); err != nil {
		s.log.WithError(err).Error("Report export failed")
		s.abortError(c, http.StatusInternalServerError, domain.ErrCodeDatabaseError, err.Error(), "")
	}
}

// recalibrateRequest carries a full replacement calibration profile. Omitted
// tunables fall back to the currently active profile.
type recalibrateRequest struct {
	ImageTemperature  *float64               `json:"image_temperature,omitempty"`
	AudioTemperature  *float64               `json:"audio_temperature,omitempty"`
	EHRTemperature    *float64               `json:"ehr_temperature,omitempty"`
	ConflictThreshold *float64               `json:"conflict_threshold,omitempty"`
	TierThresholds    *domain.TierThresholds `json:"tier_thresholds,omitempty"`
	NormalClass       string                 `json:"normal_class,omitempty"`
	RiskFactorWeights map[string]float64     `json:"risk_factor_weights,omitempty"`
}

// handleRecalibrate atomically installs a new calibration profile. In-flight
// requests finish on the profile they started with.
func (s *Server) handleRecalibrate(c *gin.Context) {
	var req recalibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "")
		return
	}

	active := s.calibration.Active()
	next := &calibration.Profile{
		Temperatures: map[domain.Modality]float64{
			domain.IMAGE: active.Temperature(domain.IMAGE),
			domain.AUDIO: active.Temperature(domain.AUDIO),
			domain.EHR:   active.Temperature(domain.EHR),
		},
		ConflictThreshold: active.ConflictThreshold,
		TierThresholds:    active.TierThresholds,
		NormalClass:       active.NormalClass,
		RiskFactorWeights: active.RiskFactorWeights,
	}

	if req.ImageTemperature != nil {
		next.Temperatures[domain.IMAGE] = *req.ImageTemperature
	}
	if req.AudioTemperature != nil {
		next.Temperatures[domain.AUDIO] = *req.AudioTemperature
	}
	if req.EHRTemperature != nil {
		next.Temperatures[domain.EHR] = *req.EHRTemperature
	}
	if req.ConflictThreshold != nil {
		next.ConflictThreshold = *req.ConflictThreshold
	}
	if req.TierThresholds != nil {
		next.TierThresholds = *req.TierThresholds
	}
	if req.NormalClass != "" {
		next.NormalClass = req.NormalClass
	}
	if req.RiskFactorWeights != nil {
		next.RiskFactorWeights = req.RiskFactorWeights
	}

	if err := s.calibration.Swap(next); err != nil {
		s.abortError(c, http.StatusUnprocessableEntity, domain.ErrCodeInvalidInput, err.Error(), "")
		return
	}

	c.JSON(http.StatusOK, next)
}

// handleGetCalibration returns the active calibration profile.
func (s *Server) handleGetCalibration(c *gin.Context) {
	c.JSON(http.StatusOK, s.calibration.Active())
}

// handleHealth reports server, scorer and breaker health.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.scorers != nil {
		resp["breakers"] = s.scorers.BreakerStates()
		resp["scorers"] = s.scorers.HealthCheck(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}

// statusForCode maps the failure taxonomy onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case domain.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case domain.ErrCodeInsufficientEvidence:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeModelUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, name string, fallback, min, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return fallback
	}
	return v
}
