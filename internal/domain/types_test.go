package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestModalityIsValid(t *testing.T) {
	tests := []struct {
		name     string
		modality Modality
		want     bool
	}{
		{"Image modality", IMAGE, true},
		{"Audio modality", AUDIO, true},
		{"EHR modality", EHR, true},
		{"Empty modality", Modality(""), false},
		{"Unknown modality", Modality("GENOMIC"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.modality.IsValid(); got != tt.want {
				t.Errorf("Modality(%q).IsValid() = %v, want %v", tt.modality, got, tt.want)
			}
		})
	}
}

func TestRiskTierRequiresClinicalAction(t *testing.T) {
	tests := []struct {
		name string
		tier RiskTier
		want bool
	}{
		{"Low tier", LOW, false},
		{"Moderate tier", MODERATE, false},
		{"High tier", HIGH, true},
		{"Critical tier", CRITICAL, true},
		{"Unknown tier is conservative", RiskTier("UNKNOWN"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tier.RequiresClinicalAction(); got != tt.want {
				t.Errorf("RiskTier(%q).RequiresClinicalAction() = %v, want %v", tt.tier, got, tt.want)
			}
		})
	}
}

func TestDistributionValidate(t *testing.T) {
	tests := []struct {
		name    string
		dist    Distribution
		wantErr bool
	}{
		{
			name:    "Valid two-class distribution",
			dist:    Distribution{"PNEUMONIA": 0.9, "NORMAL": 0.1},
			wantErr: false,
		},
		{
			name:    "Sum within tolerance",
			dist:    Distribution{"A": 0.5, "B": 0.4999999},
			wantErr: false,
		},
		{
			name:    "Empty distribution",
			dist:    Distribution{},
			wantErr: true,
		},
		{
			name:    "Negative probability",
			dist:    Distribution{"A": 1.2, "B": -0.2},
			wantErr: true,
		},
		{
			name:    "Does not sum to one",
			dist:    Distribution{"A": 0.5, "B": 0.3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dist.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Distribution.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDistributionArgMax(t *testing.T) {
	tests := []struct {
		name string
		dist Distribution
		want string
	}{
		{
			name: "Clear maximum",
			dist: Distribution{"PNEUMONIA": 0.9, "NORMAL": 0.1},
			want: "PNEUMONIA",
		},
		{
			name: "Tie breaks to lexicographically smaller label",
			dist: Distribution{"TB": 0.5, "COVID": 0.5},
			want: "COVID",
		},
		{
			name: "Tie within tolerance breaks to smaller label",
			dist: Distribution{"B": 0.5 + 5e-7, "A": 0.5 - 5e-7},
			want: "A",
		},
		{
			name: "Chained near-ties compare against the true maximum",
			dist: Distribution{"ASTHMA": 0.5, "COVID": 0.5 + 8e-7, "TB": 0.5 + 16e-7},
			want: "COVID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.dist.ArgMax(); got != tt.want {
				t.Errorf("Distribution.ArgMax() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModalitySignalValidate(t *testing.T) {
	tests := []struct {
		name    string
		signal  ModalitySignal
		wantErr bool
	}{
		{
			name: "Valid signal",
			signal: ModalitySignal{
				Modality:           IMAGE,
				ClassProbabilities: Distribution{"PNEUMONIA": 0.9, "NORMAL": 0.1},
				Confidence:         0.8,
				Valid:              true,
			},
			wantErr: false,
		},
		{
			name:    "Invalid signal skips distribution checks",
			signal:  InvalidSignal(AUDIO),
			wantErr: false,
		},
		{
			name: "Unknown modality",
			signal: ModalitySignal{
				Modality: Modality("LAB"),
				Valid:    false,
			},
			wantErr: true,
		},
		{
			name: "Confidence out of range",
			signal: ModalitySignal{
				Modality:           EHR,
				ClassProbabilities: Distribution{"PNEUMONIA": 0.6, "NORMAL": 0.4},
				Confidence:         1.5,
				Valid:              true,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.signal.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("ModalitySignal.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiagnosticReportValidate(t *testing.T) {
	validReport := func() DiagnosticReport {
		return DiagnosticReport{
			ID: uuid.New(),
			Posterior: FusedPosterior{
				ClassProbabilities:     Distribution{"PNEUMONIA": 0.85, "NORMAL": 0.15},
				ContributingModalities: []Modality{IMAGE, EHR},
				ConflictScore:          0.1,
			},
			Risk: RiskAssessment{
				Tier:        HIGH,
				Score:       0.75,
				DriverClass: "PNEUMONIA",
			},
			Attributions: []Attribution{
				{Modality: IMAGE, Weight: 0.7},
				{Modality: EHR, Weight: 0.3},
			},
			GeneratedAt: time.Now().UTC(),
		}
	}

	t.Run("Valid report", func(t *testing.T) {
		r := validReport()
		if err := r.Validate(); err != nil {
			t.Errorf("expected valid report, got %v", err)
		}
	})

	t.Run("Attribution weights must sum to one", func(t *testing.T) {
		r := validReport()
		r.Attributions[0].Weight = 0.5
		if err := r.Validate(); err == nil {
			t.Error("expected validation error for attribution weights")
		}
	})

	t.Run("Attribution count must match contributing modalities", func(t *testing.T) {
		r := validReport()
		r.Attributions = r.Attributions[:1]
		if err := r.Validate(); err == nil {
			t.Error("expected validation error for attribution count")
		}
	})

	t.Run("Missing report ID", func(t *testing.T) {
		r := validReport()
		r.ID = uuid.Nil
		if err := r.Validate(); err == nil {
			t.Error("expected validation error for missing ID")
		}
	})
}
