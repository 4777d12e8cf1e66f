package arcgis

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FeatureLayer is a remote feature service layer.
type FeatureLayer struct {
	client *Client
	url    string
}

// FeatureLayer binds a feature service layer URL to the client.
func (c *Client) FeatureLayer(rawURL string) *FeatureLayer {
	return &FeatureLayer{client: c, url: strings.TrimRight(rawURL, "/")}
}

// URL returns the layer endpoint.
func (l *FeatureLayer) URL() string { return l.url }

// Load fetches the layer metadata.
func (l *FeatureLayer) Load(ctx context.Context) (*LayerInfo, error) {
	var info LayerInfo
	if err := l.client.getJSON(ctx, l.url, nil, &info); err != nil {
		return nil, eris.Wrap(err, "arcgis: load layer")
	}
	return &info, nil
}

// QueryFeatures runs q against the layer.
func (l *FeatureLayer) QueryFeatures(ctx context.Context, q Query) (*FeatureSet, error) {
	params, err := queryParams(q)
	if err != nil {
		return nil, err
	}
	var fs FeatureSet
	if err := l.client.getJSON(ctx, l.url+"/query", params, &fs); err != nil {
		return nil, eris.Wrap(err, "arcgis: query features")
	}
	return &fs, nil
}

func queryParams(q Query) (url.Values, error) {
	params := url.Values{}
	params.Set("where", q.WhereClause())
	if len(q.OutFields) > 0 {
		params.Set("outFields", strings.Join(q.OutFields, ","))
	} else {
		params.Set("outFields", "*")
	}
	params.Set("returnGeometry", strconv.FormatBool(q.ReturnGeometry))
	if q.ReturnGeometry {
		params.Set("outSR", strconv.Itoa(WGS84))
	}
	if len(q.OrderByFields) > 0 {
		params.Set("orderByFields", strings.Join(q.OrderByFields, ","))
	}
	if q.Extent != nil {
		raw, err := json.Marshal(EnvelopeOf(*q.Extent))
		if err != nil {
			return nil, eris.Wrap(err, "arcgis: encode extent")
		}
		params.Set("geometry", string(raw))
		params.Set("geometryType", "esriGeometryEnvelope")
		params.Set("spatialRel", "esriSpatialRelIntersects")
		params.Set("inSR", strconv.Itoa(WGS84))
	}
	return params, nil
}
