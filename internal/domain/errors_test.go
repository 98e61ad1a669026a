package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError(t *testing.T) {
	tests := []struct {
		name    string
		stage   PipelineStage
		code    string
		message string
	}{
		{
			name:    "Fusion stage failure",
			stage:   StageFusing,
			code:    ErrCodeInsufficientEvidence,
			message: "no valid modality signals",
		},
		{
			name:    "Adapting stage failure",
			stage:   StageAdapting,
			code:    ErrCodeModelUnavailable,
			message: "image scorer unreachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPipelineError(tt.stage, tt.code, tt.message, nil)

			if err.Stage != tt.stage {
				t.Errorf("Expected stage %s, got %s", tt.stage, err.Stage)
			}

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}

			if FailureStage(err) != tt.stage {
				t.Errorf("FailureStage() = %s, want %s", FailureStage(err), tt.stage)
			}
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	cause := ErrInsufficientEvidence
	err := NewPipelineError(StageFusing, ErrCodeInsufficientEvidence, "fusion rejected empty signal set", cause)

	if !errors.Is(err, ErrInsufficientEvidence) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	wrapped := fmt.Errorf("request failed: %w", err)
	if FailureStage(wrapped) != StageFusing {
		t.Errorf("FailureStage through wrapping = %s, want %s", FailureStage(wrapped), StageFusing)
	}
}

func TestFailureCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Insufficient evidence",
			err:  fmt.Errorf("pipeline: %w", ErrInsufficientEvidence),
			want: ErrCodeInsufficientEvidence,
		},
		{
			name: "Model unavailable",
			err:  &ModelUnavailableError{Modality: IMAGE},
			want: ErrCodeModelUnavailable,
		},
		{
			name: "Stage error carries its own code",
			err:  NewPipelineError(StageScoring, ErrCodeInvalidInput, "bad risk factor", nil),
			want: ErrCodeInvalidInput,
		},
		{
			name: "Unknown errors map to pipeline failure",
			err:  errors.New("boom"),
			want: ErrCodePipelineFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureCode(tt.err); got != tt.want {
				t.Errorf("FailureCode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestModelUnavailableError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ModelUnavailableError{Modality: AUDIO, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the transport cause")
	}

	if err.Error() != "AUDIO scorer unavailable: connection refused" {
		t.Errorf("unexpected error string: %s", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("risk_factors.age", "severity must be in [0,1]", 1.4)

	expected := "validation error for field 'risk_factors.age': severity must be in [0,1]"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}
}
