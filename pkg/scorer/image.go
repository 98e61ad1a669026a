package scorer

import (
	"github.com/medfusion-server/internal/domain"
)

// ImageClient fronts the chest X-ray CNN scorer service. Payloads are raw
// PNG or DICOM-exported image bytes; region hints in the response are
// saliency-map bounding boxes in normalized image coordinates.
type ImageClient struct {
	*restClient
}

// NewImageClient creates a client for the image scorer service.
func NewImageClient(config domain.ScorerConfig) *ImageClient {
	return &ImageClient{
		restClient: newRESTClient(domain.IMAGE, config, "application/octet-stream"),
	}
}
