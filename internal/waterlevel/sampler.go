package waterlevel

import (
	"context"
	"strconv"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

// Sampler reads flood depth at a point from the water level image service.
type Sampler struct {
	image mapview.ImageSource
}

// NewSampler creates a sampler. A nil source always samples nothing.
func NewSampler(image mapview.ImageSource) *Sampler {
	return &Sampler{image: image}
}

// GetWaterLevel returns the depth at p, or nil when the service returns no
// samples, a value that is not a number, or an error.
func (s *Sampler) GetWaterLevel(ctx context.Context, p orb.Point) *float64 {
	if s == nil || s.image == nil {
		return nil
	}
	samples, err := s.image.GetSamples(ctx, arcgis.SampleRequest{
		Geometry:             p,
		ReturnFirstValueOnly: true,
		PixelSize:            [2]float64{12, 12},
		Interpolation:        arcgis.NearestNeighbor,
	})
	if err != nil {
		zap.L().Debug("waterlevel: sample failed", zap.Error(err))
		return nil
	}
	if len(samples) == 0 {
		return nil
	}
	v, ok := samples[0].Float()
	if !ok {
		return nil
	}
	return &v
}

// Popup is the content shown for a searched or clicked location.
type Popup struct {
	Affected bool     `json:"affected"`
	Level    *float64 `json:"level,omitempty"`
	Message  string   `json:"message"`
}

// PopupMessage describes the impact of level. Zero and missing levels both
// read as not affected.
func PopupMessage(level *float64) Popup {
	if level == nil || *level == 0 {
		return Popup{
			Message: "This location will NOT be affected by the analysis maximum of " +
				strconv.Itoa(MaxLevel) + " feet of sea level rise.",
		}
	}
	return Popup{
		Affected: true,
		Level:    level,
		Message: "This location will be affected by " +
			strconv.FormatFloat(*level, 'f', -1, 64) + " feet of sea level rise.",
	}
}
