package arcgis

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Envelope is an ArcGIS extent.
type Envelope struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Bound converts the envelope to an orb.Bound.
func (e Envelope) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{e.XMin, e.YMin}, Max: orb.Point{e.XMax, e.YMax}}
}

// EnvelopeOf converts an orb.Bound to an envelope in WGS84.
func EnvelopeOf(b orb.Bound) Envelope {
	return Envelope{
		XMin: b.Min.X(), YMin: b.Min.Y(),
		XMax: b.Max.X(), YMax: b.Max.Y(),
		SpatialReference: &SpatialReference{WKID: WGS84},
	}
}

type geometryJSON struct {
	X                *float64          `json:"x,omitempty"`
	Y                *float64          `json:"y,omitempty"`
	Points           [][]float64       `json:"points,omitempty"`
	Paths            [][][]float64     `json:"paths,omitempty"`
	Rings            [][][]float64     `json:"rings,omitempty"`
	XMin             *float64          `json:"xmin,omitempty"`
	YMin             *float64          `json:"ymin,omitempty"`
	XMax             *float64          `json:"xmax,omitempty"`
	YMax             *float64          `json:"ymax,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// GeometryType returns the esriGeometry* name for g.
func GeometryType(g orb.Geometry) (string, error) {
	switch g.(type) {
	case orb.Point:
		return "esriGeometryPoint", nil
	case orb.MultiPoint:
		return "esriGeometryMultipoint", nil
	case orb.LineString, orb.MultiLineString:
		return "esriGeometryPolyline", nil
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return "esriGeometryPolygon", nil
	case orb.Bound:
		return "esriGeometryEnvelope", nil
	}
	return "", eris.Errorf("arcgis: unsupported geometry %T", g)
}

// EncodeGeometry renders g as ArcGIS JSON in WGS84.
func EncodeGeometry(g orb.Geometry) ([]byte, error) {
	out := geometryJSON{SpatialReference: &SpatialReference{WKID: WGS84}}
	switch v := g.(type) {
	case orb.Point:
		x, y := v.X(), v.Y()
		out.X, out.Y = &x, &y
	case orb.MultiPoint:
		out.Points = points(v)
	case orb.LineString:
		out.Paths = [][][]float64{points(v)}
	case orb.MultiLineString:
		for _, ls := range v {
			out.Paths = append(out.Paths, points(ls))
		}
	case orb.Ring:
		out.Rings = [][][]float64{points(v)}
	case orb.Polygon:
		for _, r := range v {
			out.Rings = append(out.Rings, points(r))
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				out.Rings = append(out.Rings, points(r))
			}
		}
	case orb.Bound:
		e := EnvelopeOf(v)
		return json.Marshal(e)
	default:
		return nil, eris.Errorf("arcgis: unsupported geometry %T", g)
	}
	return json.Marshal(out)
}

// DecodeGeometry parses ArcGIS JSON geometry into an orb geometry.
func DecodeGeometry(data []byte) (orb.Geometry, error) {
	var in geometryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, eris.Wrap(err, "arcgis: decode geometry")
	}
	switch {
	case in.X != nil && in.Y != nil:
		return orb.Point{*in.X, *in.Y}, nil
	case in.Points != nil:
		return orb.MultiPoint(toPoints(in.Points)), nil
	case in.Paths != nil:
		if len(in.Paths) == 1 {
			return orb.LineString(toPoints(in.Paths[0])), nil
		}
		mls := make(orb.MultiLineString, 0, len(in.Paths))
		for _, p := range in.Paths {
			mls = append(mls, orb.LineString(toPoints(p)))
		}
		return mls, nil
	case in.Rings != nil:
		poly := make(orb.Polygon, 0, len(in.Rings))
		for _, r := range in.Rings {
			poly = append(poly, orb.Ring(toPoints(r)))
		}
		return poly, nil
	case in.XMin != nil && in.YMin != nil && in.XMax != nil && in.YMax != nil:
		return orb.Bound{Min: orb.Point{*in.XMin, *in.YMin}, Max: orb.Point{*in.XMax, *in.YMax}}, nil
	}
	return nil, eris.New("arcgis: unrecognised geometry")
}

func points[T ~[]orb.Point](ps T) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = []float64{p.X(), p.Y()}
	}
	return out
}

func toPoints(coords [][]float64) []orb.Point {
	out := make([]orb.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		out = append(out, orb.Point{c[0], c[1]})
	}
	return out
}
