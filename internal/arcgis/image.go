package arcgis

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ImageService is a remote image service.
type ImageService struct {
	client *Client
	url    string
}

// ImageService binds an image service URL to the client.
func (c *Client) ImageService(rawURL string) *ImageService {
	return &ImageService{client: c, url: strings.TrimRight(rawURL, "/")}
}

// URL returns the service endpoint.
func (s *ImageService) URL() string { return s.url }

// GetSamples reads pixel values at the request geometry.
func (s *ImageService) GetSamples(ctx context.Context, req SampleRequest) ([]Sample, error) {
	if req.Geometry == nil {
		return nil, eris.New("arcgis: getSamples needs a geometry")
	}
	gtype, err := GeometryType(req.Geometry)
	if err != nil {
		return nil, err
	}
	raw, err := EncodeGeometry(req.Geometry)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("geometry", string(raw))
	params.Set("geometryType", gtype)
	params.Set("returnFirstValueOnly", strconv.FormatBool(req.ReturnFirstValueOnly))
	if req.PixelSize[0] > 0 && req.PixelSize[1] > 0 {
		params.Set("pixelSize", formatNumber(req.PixelSize[0])+","+formatNumber(req.PixelSize[1]))
	}
	if req.Interpolation != "" {
		params.Set("interpolation", req.Interpolation)
	}

	var out struct {
		Samples []Sample `json:"samples"`
	}
	if err := s.client.getJSON(ctx, s.url+"/getSamples", params, &out); err != nil {
		return nil, eris.Wrap(err, "arcgis: get samples")
	}
	return out.Samples, nil
}
