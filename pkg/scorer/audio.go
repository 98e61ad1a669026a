package scorer

import (
	"github.com/medfusion-server/internal/domain"
)

// AudioClient fronts the cough audio classifier service. Payloads are raw
// WAV bytes; region hints in the response are time spans in milliseconds
// locating the cough segments that contributed to the score.
type AudioClient struct {
	*restClient
}

// NewAudioClient creates a client for the audio scorer service.
func NewAudioClient(config domain.ScorerConfig) *AudioClient {
	return &AudioClient{
		restClient: newRESTClient(domain.AUDIO, config, "audio/wav"),
	}
}
