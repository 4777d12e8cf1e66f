package store

import (
	"context"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/simplify"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-slr/internal/arcgis"
)

// MaxTileZoom is the deepest zoom a vector tile is cut at.
const MaxTileZoom = 22

// ErrBadTile is returned for tile coordinates outside the zoom's grid.
var ErrBadTile = eris.New("store: tile out of range")

// Tile cuts the gzipped Mapbox vector tile z/x/y of the layer. A tile with
// no features is nil.
func (l *Layer) Tile(ctx context.Context, z, x, y uint32) ([]byte, error) {
	if z > MaxTileZoom || x >= 1<<z || y >= 1<<z {
		return nil, eris.Wrapf(ErrBadTile, "store: %d/%d/%d", z, x, y)
	}
	if _, err := l.Load(ctx); err != nil {
		return nil, err
	}

	tile := maptile.New(x, y, maptile.Zoom(z))
	bound := tile.Bound()
	fs, err := l.QueryFeatures(ctx, arcgis.Query{Extent: &bound, ReturnGeometry: true})
	if err != nil {
		return nil, err
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range fs.Features {
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		if oid, ok := f.ObjectID(ObjectIDField); ok {
			gf.ID = oid
		}
		fc.Append(gf)
	}
	if len(fc.Features) == 0 {
		return nil, nil
	}

	layer := mvt.NewLayer(l.id, fc)
	if eps := simplifyEpsilon(tile.Z); eps > 0 {
		layer.Simplify(simplify.DouglasPeucker(eps))
	}
	layer.Clip(bound)
	layer.ProjectToTile(tile)
	layer.RemoveEmpty(0.5, 0.5)
	if len(layer.Features) == 0 {
		return nil, nil
	}

	data, err := mvt.MarshalGzipped(mvt.Layers{layer})
	if err != nil {
		return nil, eris.Wrap(err, "store: encode tile")
	}
	return data, nil
}

// simplifyEpsilon is the Douglas-Peucker tolerance in degrees for a zoom.
func simplifyEpsilon(z maptile.Zoom) float64 {
	switch {
	case z >= 14:
		return 0
	case z >= 10:
		return 0.00001
	case z >= 6:
		return 0.0001
	case z >= 4:
		return 0.0005
	default:
		return 0.001
	}
}
