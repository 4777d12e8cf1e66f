package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-slr/internal/arcgis"
)

// ObjectIDField is the object id attribute of stored features.
const ObjectIDField = "OBJECTID"

// ErrLayerNotFound is returned when a layer id is not in the store.
var ErrLayerNotFound = eris.New("store: layer not found")

// Store reads and writes feature layers.
type Store struct {
	db *sql.DB
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// IngestOptions controls how a GeoJSON collection becomes a layer.
type IngestOptions struct {
	Name       string
	LabelField string
	Renderer   *arcgis.Renderer
	MinScale   float64
	// RequireWaterLevel rejects features without a water_level attribute.
	RequireWaterLevel bool
}

// LayerSummary describes one stored layer.
type LayerSummary struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	GeometryType string  `json:"geometryType,omitempty"`
	MinScale     float64 `json:"minScale,omitempty"`
	Count        int     `json:"count"`
}

// Ingest replaces layerID with the features of fc and returns the number
// of rows written. Features without an OBJECTID are numbered in order.
func (s *Store) Ingest(ctx context.Context, layerID string, fc *geojson.FeatureCollection, opts IngestOptions) (int, error) {
	if layerID == "" {
		return 0, eris.New("store: layer id required")
	}
	if opts.Name == "" {
		opts.Name = layerID
	}
	if opts.LabelField == "" {
		opts.LabelField = "Label"
	}

	var renderer []byte
	if opts.Renderer != nil {
		var err error
		if renderer, err = json.Marshal(opts.Renderer); err != nil {
			return 0, eris.Wrap(err, "store: encode renderer")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE layer_id = ?`, layerID); err != nil {
		return 0, eris.Wrap(err, "store: clear features")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE layer_id = ?`, layerID); err != nil {
		return 0, eris.Wrap(err, "store: clear layer")
	}

	// Features without an OBJECTID are numbered above the largest explicit one.
	var maxOID int64
	for _, f := range fc.Features {
		if v, ok := f.Properties[ObjectIDField].(float64); ok && int64(v) > maxOID {
			maxOID = int64(v)
		}
	}

	geomType := ""
	for i, f := range fc.Features {
		if f.Geometry == nil {
			return 0, eris.Errorf("store: feature %d has no geometry", i)
		}
		if geomType == "" {
			geomType, _ = arcgis.GeometryType(f.Geometry)
		}

		var oid int64
		if v, ok := f.Properties[ObjectIDField].(float64); ok {
			oid = int64(v)
		} else {
			maxOID++
			oid = maxOID
		}

		var level any
		if v, ok := f.Properties[arcgis.WaterLevelField]; ok && v != nil {
			n, ok := v.(float64)
			if !ok {
				return 0, eris.Errorf("store: feature %d has non-numeric %s", i, arcgis.WaterLevelField)
			}
			level = n
		} else if opts.RequireWaterLevel {
			return 0, eris.Errorf("store: feature %d has no %s", i, arcgis.WaterLevelField)
		}

		var label any
		if v, ok := f.Properties[opts.LabelField].(string); ok {
			label = v
		}

		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			if k == ObjectIDField || k == arcgis.WaterLevelField {
				continue
			}
			props[k] = v
		}
		attrs, err := json.Marshal(props)
		if err != nil {
			return 0, eris.Wrapf(err, "store: encode attributes of feature %d", i)
		}
		geom, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
		if err != nil {
			return 0, eris.Wrapf(err, "store: encode geometry of feature %d", i)
		}
		b := f.Geometry.Bound()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO features (layer_id, object_id, water_level, label, attributes, geometry, minx, miny, maxx, maxy)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			layerID, oid, level, label, string(attrs), string(geom),
			b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y(),
		); err != nil {
			return 0, eris.Wrapf(err, "store: insert feature %d", i)
		}
	}

	var rendererArg any
	if renderer != nil {
		rendererArg = string(renderer)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO layers (layer_id, name, geometry_type, renderer, min_scale) VALUES (?, ?, ?, ?, ?)`,
		layerID, opts.Name, geomType, rendererArg, opts.MinScale,
	); err != nil {
		return 0, eris.Wrap(err, "store: insert layer")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "store: commit")
	}
	return len(fc.Features), nil
}

// IngestFile reads a GeoJSON FeatureCollection from path and ingests it.
func (s *Store) IngestFile(ctx context.Context, layerID, path string, opts IngestOptions) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "store: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, eris.Wrapf(err, "store: parse %s", path)
	}
	return s.Ingest(ctx, layerID, fc, opts)
}

// Layers lists stored layers ordered by name.
func (s *Store) Layers(ctx context.Context) ([]LayerSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.layer_id, l.name, COALESCE(l.geometry_type, ''), COALESCE(l.min_scale, 0),
		       (SELECT COUNT(*) FROM features f WHERE f.layer_id = l.layer_id)
		FROM layers l ORDER BY l.name`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list layers")
	}
	defer rows.Close()

	out := []LayerSummary{}
	for rows.Next() {
		var ls LayerSummary
		if err := rows.Scan(&ls.ID, &ls.Name, &ls.GeometryType, &ls.MinScale, &ls.Count); err != nil {
			return nil, eris.Wrap(err, "store: scan layer")
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: list layers")
	}
	return out, nil
}

// Layer returns a feature source backed by the stored layer.
func (s *Store) Layer(id string) *Layer {
	return &Layer{store: s, id: id}
}

// Layer is one stored layer. It satisfies arcgis.FeatureSource.
type Layer struct {
	store *Store
	id    string
}

var _ arcgis.FeatureSource = (*Layer)(nil)

// Load returns the layer metadata.
func (l *Layer) Load(ctx context.Context) (*arcgis.LayerInfo, error) {
	var (
		name, geomType string
		renderer       sql.NullString
		minScale       sql.NullFloat64
	)
	err := l.store.db.QueryRowContext(ctx,
		`SELECT name, COALESCE(geometry_type, ''), renderer, min_scale FROM layers WHERE layer_id = ?`, l.id,
	).Scan(&name, &geomType, &renderer, &minScale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrLayerNotFound, "store: %s", l.id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: load layer")
	}

	info := &arcgis.LayerInfo{
		Name:          name,
		Type:          "Feature Layer",
		GeometryType:  geomType,
		ObjectIDField: ObjectIDField,
		MinScale:      minScale.Float64,
		Fields: []arcgis.Field{
			{Name: ObjectIDField, Type: "esriFieldTypeOID"},
			{Name: arcgis.WaterLevelField, Type: "esriFieldTypeDouble"},
		},
	}
	if renderer.Valid && renderer.String != "" {
		var r arcgis.Renderer
		if err := json.Unmarshal([]byte(renderer.String), &r); err != nil {
			return nil, eris.Wrap(err, "store: decode renderer")
		}
		info.DrawingInfo = &arcgis.DrawingInfo{Renderer: &r}
	}
	return info, nil
}

var orderColumns = map[string]string{
	"objectid":    "object_id",
	"object_id":   "object_id",
	"label":       "label",
	"water_level": "water_level",
}

func orderClause(fields []string) (string, error) {
	if len(fields) == 0 {
		return "object_id ASC", nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens := strings.Fields(f)
		if len(tokens) == 0 || len(tokens) > 2 {
			return "", eris.Errorf("store: bad order field %q", f)
		}
		col, ok := orderColumns[strings.ToLower(tokens[0])]
		if !ok {
			return "", eris.Errorf("store: cannot order by %q", tokens[0])
		}
		dir := "ASC"
		if len(tokens) == 2 {
			dir = strings.ToUpper(tokens[1])
			if dir != "ASC" && dir != "DESC" {
				return "", eris.Errorf("store: bad order direction %q", tokens[1])
			}
		}
		parts = append(parts, col+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

// QueryFeatures evaluates q against the stored rows.
func (l *Layer) QueryFeatures(ctx context.Context, q arcgis.Query) (*arcgis.FeatureSet, error) {
	where := []string{"layer_id = ?"}
	args := []any{l.id}

	if q.Range != nil {
		if q.Range.Field != arcgis.WaterLevelField {
			return nil, eris.Errorf("store: cannot filter on %q", q.Range.Field)
		}
		where = append(where, "water_level BETWEEN ? AND ?")
		args = append(args, q.Range.Min, q.Range.Max)
	}
	if q.Extent != nil {
		// Bounding box prefilter; rows are refined against the geometry below.
		where = append(where, "maxx >= ? AND minx <= ? AND maxy >= ? AND miny <= ?")
		args = append(args, q.Extent.Min.X(), q.Extent.Max.X(), q.Extent.Min.Y(), q.Extent.Max.Y())
	}
	order, err := orderClause(q.OrderByFields)
	if err != nil {
		return nil, err
	}

	rows, err := l.store.db.QueryContext(ctx,
		`SELECT object_id, water_level, label, attributes, geometry FROM features WHERE `+
			strings.Join(where, " AND ")+` ORDER BY `+order, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: query features")
	}
	defer rows.Close()

	fs := &arcgis.FeatureSet{ObjectIDFieldName: ObjectIDField, Features: []arcgis.Feature{}}
	for rows.Next() {
		var (
			oid         int64
			level       sql.NullFloat64
			label       sql.NullString
			attrs, geom sql.NullString
		)
		if err := rows.Scan(&oid, &level, &label, &attrs, &geom); err != nil {
			return nil, eris.Wrap(err, "store: scan feature")
		}

		all := map[string]any{}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &all); err != nil {
				return nil, eris.Wrapf(err, "store: decode attributes of %d", oid)
			}
		}
		all[ObjectIDField] = float64(oid)
		if level.Valid {
			all[arcgis.WaterLevelField] = level.Float64
		}

		f := arcgis.Feature{Attributes: selectFields(all, q.OutFields)}
		if (q.ReturnGeometry || q.Extent != nil) && geom.Valid {
			g, err := decodeGeometry(geom.String)
			if err != nil {
				return nil, eris.Wrapf(err, "store: decode geometry of %d", oid)
			}
			if q.Extent != nil && !intersectsBound(g, *q.Extent) {
				continue
			}
			if q.ReturnGeometry {
				f.Geometry = g
			}
		}
		fs.Features = append(fs.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "store: query features")
	}
	return fs, nil
}

func selectFields(all map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return all
	}
	for _, f := range fields {
		if f == "*" {
			return all
		}
	}
	out := map[string]any{ObjectIDField: all[ObjectIDField]}
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}

func decodeGeometry(raw string) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}
