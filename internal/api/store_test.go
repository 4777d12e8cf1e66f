package api

import (
	"net/http"
	"testing"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/app/apptest"
	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/store"
)

func TestStoreRoutes(t *testing.T) {
	api := newAPI(t, nil, apptest.Store(t))

	resp := api.Get("/api/v1/layers")
	require.Equal(t, http.StatusOK, resp.Code)
	layers := decode[[]store.LayerSummary](t, resp.Body.Bytes())
	require.Len(t, layers, 2)
	counts := map[string]int{}
	for _, l := range layers {
		counts[l.ID] = l.Count
	}
	assert.Equal(t, map[string]int{"facilities": 3, "locations": 2}, counts)

	resp = api.Get("/api/v1/layers/facilities")
	require.Equal(t, http.StatusOK, resp.Code)
	info := decode[arcgis.LayerInfo](t, resp.Body.Bytes())
	assert.Equal(t, store.ObjectIDField, info.ObjectIDField)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/layers>; rel="collection"`)

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/layers/nope").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/layers/nope/geojson").Code)

	resp = api.Get("/api/v1/layers/facilities/geojson")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/geo+json", resp.Header().Get("Content-Type"))
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "Pump Station", fc.Features[0].Properties.MustString("NAME"))
	assert.Equal(t, 0.0, fc.Features[0].Properties.MustFloat64(arcgis.WaterLevelField))

	resp = api.Get("/api/v1/layers/facilities/tiles/0/0/0")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "gzip", resp.Header().Get("Content-Encoding"))
	layers2, err := mvt.UnmarshalGzipped(resp.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, layers2, 1)
	assert.Len(t, layers2[0].Features, 3)

	assert.Equal(t, http.StatusNoContent, api.Get("/api/v1/layers/facilities/tiles/10/0/0").Code)
	assert.Equal(t, http.StatusBadRequest, api.Get("/api/v1/layers/facilities/tiles/1/5/0").Code)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/layers/nope/tiles/0/0/0").Code)

	tables := api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, tables.Code)
	assert.Contains(t, tables.Body.String(), "features")
}
