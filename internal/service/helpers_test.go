package service

import (
	"github.com/sirupsen/logrus"

	"github.com/medfusion-server/internal/calibration"
	"github.com/medfusion-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testProfile() *calibration.Profile {
	return &calibration.Profile{
		Temperatures: map[domain.Modality]float64{
			domain.IMAGE: 1.0,
			domain.AUDIO: 1.0,
			domain.EHR:   1.0,
		},
		ConflictThreshold: 0.4,
		TierThresholds:    domain.TierThresholds{Moderate: 0.25, High: 0.5, Critical: 0.8},
		NormalClass:       "NORMAL",
		RiskFactorWeights: map[string]float64{"age": 0.1, "copd": 0.15, "smoker": 0.05},
	}
}

func validSignal(m domain.Modality, dist domain.Distribution, confidence float64) domain.ModalitySignal {
	return domain.ModalitySignal{
		Modality:           m,
		ClassProbabilities: dist,
		Confidence:         confidence,
		Valid:              true,
	}
}
