package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/store"
)

// StoreHandler serves the layers ingested into DuckDB.
type StoreHandler struct {
	store *store.Store
}

// NewStoreHandler creates a store handler. A nil store answers 503.
func NewStoreHandler(st *store.Store) *StoreHandler {
	return &StoreHandler{store: st}
}

// RegisterRoutes registers the store routes with Huma.
func (h *StoreHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("store"))
	huma.Get(api, "/api/v1/layers", h.ListLayers, huma.OperationTags("store"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("store"))
	huma.Get(api, "/api/v1/layers/{id}/geojson", h.GetGeoJSON, huma.OperationTags("store"))
	huma.Get(api, "/api/v1/layers/{id}/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("store"))
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// GeoJSONOutput is a raw GeoJSON document.
type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// TileInput addresses one vector tile of a layer.
type TileInput struct {
	ID string `path:"id" doc:"Layer ID"`
	Z  uint32 `path:"z" maximum:"22" doc:"Zoom"`
	X  uint32 `path:"x" doc:"Column"`
	Y  uint32 `path:"y" doc:"Row"`
}

// TileOutput is a gzipped Mapbox vector tile. Empty tiles answer 204.
type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	Body            []byte
}

// ListTables returns all DuckDB tables.
func (h *StoreHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	rows, err := h.store.DB().QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close()

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	return out, nil
}

// ListLayers returns the stored layers with their feature counts.
func (h *StoreHandler) ListLayers(ctx context.Context, input *struct{}) (*struct{ Body []store.LayerSummary }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	layers, err := h.store.Layers(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list layers", err)
	}
	return &struct{ Body []store.LayerSummary }{Body: layers}, nil
}

// GetLayer returns the layer metadata in ArcGIS layer JSON.
func (h *StoreHandler) GetLayer(ctx context.Context, input *IDInput) (*struct{ Body arcgis.LayerInfo }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	info, err := h.store.Layer(input.ID).Load(ctx)
	if err != nil {
		return nil, layerError(err)
	}
	return &struct{ Body arcgis.LayerInfo }{Body: *info}, nil
}

// GetGeoJSON exports every feature of a layer. The browser draws stored
// layers from this document.
func (h *StoreHandler) GetGeoJSON(ctx context.Context, input *IDInput) (*GeoJSONOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	layer := h.store.Layer(input.ID)
	if _, err := layer.Load(ctx); err != nil {
		return nil, layerError(err)
	}
	fs, err := layer.QueryFeatures(ctx, arcgis.Query{ReturnGeometry: true, OutFields: []string{"*"}})
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to query features", err)
	}

	fc := geojson.NewFeatureCollection()
	for _, f := range fs.Features {
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.Properties = geojson.Properties(f.Attributes)
		if oid, ok := f.ObjectID(store.ObjectIDField); ok {
			gf.ID = oid
		}
		fc.Append(gf)
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to encode GeoJSON", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: raw}, nil
}

// GetTile cuts one vector tile from the stored features.
func (h *StoreHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	data, err := h.store.Layer(input.ID).Tile(ctx, input.Z, input.X, input.Y)
	if err != nil {
		return nil, layerError(err)
	}
	if data == nil {
		return &TileOutput{Status: http.StatusNoContent}, nil
	}
	return &TileOutput{
		Status:          http.StatusOK,
		ContentType:     "application/vnd.mapbox-vector-tile",
		ContentEncoding: "gzip",
		Body:            data,
	}, nil
}

func layerError(err error) error {
	if errors.Is(err, store.ErrLayerNotFound) {
		return huma.Error404NotFound("layer not found")
	}
	if errors.Is(err, store.ErrBadTile) {
		return huma.Error400BadRequest("tile out of range")
	}
	return huma.Error500InternalServerError("Failed to load layer", err)
}
