// Package arcgis is a small client for the ArcGIS REST endpoints the viewer
// consumes: feature service queries, image service samples and portal items.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// WGS84 is the spatial reference every geometry in this service is expressed in.
const WGS84 = 4326

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// FeatureSource is anything that can describe and query a feature layer.
type FeatureSource interface {
	Load(ctx context.Context) (*LayerInfo, error)
	QueryFeatures(ctx context.Context, q Query) (*FeatureSet, error)
}

// Range is an inclusive attribute range predicate.
type Range struct {
	Field string
	Min   float64
	Max   float64
}

// String renders the predicate as a where clause.
func (r Range) String() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", r.Field, formatNumber(r.Min), formatNumber(r.Max))
}

// WaterLevelField is the flood threshold attribute on asset layers.
const WaterLevelField = "water_level"

// WaterLevelRange selects features flooded at or below level.
func WaterLevelRange(level int) Range {
	return Range{Field: WaterLevelField, Min: 0, Max: float64(level)}
}

// Query describes a feature query.
type Query struct {
	Range          *Range
	Extent         *orb.Bound
	OutFields      []string
	OrderByFields  []string
	ReturnGeometry bool
}

// WhereClause returns the SQL-92 where clause sent to the service.
func (q Query) WhereClause() string {
	if q.Range == nil {
		return "1=1"
	}
	return q.Range.String()
}

// Feature is a single record with attributes and an optional geometry.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   orb.Geometry   `json:"-"`
}

type featureJSON struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

// MarshalJSON encodes the feature in ArcGIS JSON.
func (f Feature) MarshalJSON() ([]byte, error) {
	out := featureJSON{Attributes: f.Attributes}
	if f.Geometry != nil {
		raw, err := EncodeGeometry(f.Geometry)
		if err != nil {
			return nil, err
		}
		out.Geometry = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a feature from ArcGIS JSON.
func (f *Feature) UnmarshalJSON(data []byte) error {
	var in featureJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	f.Attributes = in.Attributes
	f.Geometry = nil
	if len(in.Geometry) > 0 && string(in.Geometry) != "null" {
		g, err := DecodeGeometry(in.Geometry)
		if err != nil {
			return err
		}
		f.Geometry = g
	}
	return nil
}

// ObjectID returns the integer value of the object id field.
func (f Feature) ObjectID(field string) (int64, bool) {
	v, ok := f.Attributes[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// String returns a string attribute, or "" when absent.
func (f Feature) String(key string) string {
	if v, ok := f.Attributes[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// FeatureSet is the result of a feature query.
type FeatureSet struct {
	ObjectIDFieldName string    `json:"objectIdFieldName,omitempty"`
	GeometryType      string    `json:"geometryType,omitempty"`
	Features          []Feature `json:"features"`
}

// Field describes one attribute field of a layer.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias,omitempty"`
}

// Symbol is the subset of an ArcGIS symbol needed to draw a legend swatch.
type Symbol struct {
	Type    string  `json:"type"`
	Style   string  `json:"style,omitempty"`
	Color   []int   `json:"color,omitempty"`
	Size    float64 `json:"size,omitempty"`
	Width   float64 `json:"width,omitempty"`
	URL     string  `json:"url,omitempty"`
	Outline *Symbol `json:"outline,omitempty"`
}

// UniqueValueInfo maps one category value to a symbol.
type UniqueValueInfo struct {
	Value  string  `json:"value"`
	Label  string  `json:"label,omitempty"`
	Symbol *Symbol `json:"symbol,omitempty"`
}

// Renderer is a simple or unique-value renderer.
type Renderer struct {
	Type             string            `json:"type"`
	Field1           string            `json:"field1,omitempty"`
	Symbol           *Symbol           `json:"symbol,omitempty"`
	DefaultSymbol    *Symbol           `json:"defaultSymbol,omitempty"`
	UniqueValueInfos []UniqueValueInfo `json:"uniqueValueInfos,omitempty"`
}

// PreviewSymbol picks the symbol shown next to the layer title.
func (r *Renderer) PreviewSymbol() *Symbol {
	if r == nil {
		return nil
	}
	if r.Type == "simple" {
		return r.Symbol
	}
	if r.DefaultSymbol != nil {
		return r.DefaultSymbol
	}
	if len(r.UniqueValueInfos) > 0 {
		return r.UniqueValueInfos[0].Symbol
	}
	return r.Symbol
}

// DrawingInfo wraps a layer renderer.
type DrawingInfo struct {
	Renderer *Renderer `json:"renderer,omitempty"`
}

// LayerInfo is the service metadata of a feature layer.
type LayerInfo struct {
	Name          string       `json:"name"`
	Type          string       `json:"type,omitempty"`
	GeometryType  string       `json:"geometryType,omitempty"`
	ObjectIDField string       `json:"objectIdField,omitempty"`
	MinScale      float64      `json:"minScale,omitempty"`
	MaxScale      float64      `json:"maxScale,omitempty"`
	DrawingInfo   *DrawingInfo `json:"drawingInfo,omitempty"`
	Fields        []Field      `json:"fields,omitempty"`
}

// OIDField returns the declared object id field, falling back to the
// first field typed as an OID.
func (l *LayerInfo) OIDField() string {
	if l.ObjectIDField != "" {
		return l.ObjectIDField
	}
	for _, f := range l.Fields {
		if f.Type == "esriFieldTypeOID" {
			return f.Name
		}
	}
	return ""
}

// Sample is one value returned by an image service getSamples call.
type Sample struct {
	LocationID int             `json:"locationId"`
	Value      json.RawMessage `json:"value"`
}

// Float parses the sample value. Values are usually strings ("3"); NoData
// and unparseable values report false.
func (s Sample) Float() (float64, bool) {
	raw := strings.TrimSpace(string(s.Value))
	if raw == "" || raw == "null" {
		return 0, false
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// SampleRequest is the input of ImageService.GetSamples.
type SampleRequest struct {
	Geometry             orb.Geometry
	ReturnFirstValueOnly bool
	PixelSize            [2]float64
	Interpolation        string
}

// NearestNeighbor is the getSamples interpolation used for flood depth lookups.
const NearestNeighbor = "RSP_NearestNeighbor"

// WebMap is the item data of a web map or web scene.
type WebMap struct {
	OperationalLayers []OperationalLayer `json:"operationalLayers"`
	InitialState      *InitialState      `json:"initialState,omitempty"`
}

// InitialState holds the saved viewpoint of a web map.
type InitialState struct {
	Viewpoint Viewpoint `json:"viewpoint"`
}

// Viewpoint is a target extent and scale.
type Viewpoint struct {
	TargetGeometry *Envelope `json:"targetGeometry,omitempty"`
	Scale          float64   `json:"scale,omitempty"`
}

// OperationalLayer is one layer entry of a web map.
type OperationalLayer struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	URL             string           `json:"url,omitempty"`
	LayerType       string           `json:"layerType"`
	Visibility      *bool            `json:"visibility,omitempty"`
	Opacity         float64          `json:"opacity,omitempty"`
	LayerDefinition *LayerDefinition `json:"layerDefinition,omitempty"`
}

// LayerDefinition overrides service drawing info and scale range.
type LayerDefinition struct {
	DrawingInfo *DrawingInfo `json:"drawingInfo,omitempty"`
	MinScale    float64      `json:"minScale,omitempty"`
	MaxScale    float64      `json:"maxScale,omitempty"`
}

// ItemInfo is the portal description of an item.
type ItemInfo struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Type       string     `json:"type"`
	AppProxies []AppProxy `json:"appProxies,omitempty"`
}

// AppProxy replaces a secured service URL with a portal-hosted proxy.
type AppProxy struct {
	SourceURL string `json:"sourceUrl"`
	ProxyURL  string `json:"proxyUrl"`
	ProxyID   string `json:"proxyId,omitempty"`
}

// PortalSelf is the response of portals/self.
type PortalSelf struct {
	Name   string      `json:"name"`
	URLKey string      `json:"urlKey,omitempty"`
	User   *PortalUser `json:"user,omitempty"`
}

// PortalUser is the signed-in user as described by the portal.
type PortalUser struct {
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
