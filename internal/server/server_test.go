package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offline(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{Host: "localhost", Port: "8086", Offline: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOfflineServer(t *testing.T) {
	s := offline(t)
	assert.Nil(t, s.Session())

	rec := get(s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready":false`)

	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/api/v1/session").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/").Code)
	assert.Equal(t, http.StatusNotFound, get(s, "/nope").Code)

	rec = get(s, "/static/viewer.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GeoJSONLayer")
}

func TestOpenAPI(t *testing.T) {
	s := offline(t)
	doc := s.OpenAPI()
	require.NotNil(t, doc)
	assert.Equal(t, "plat-slr API", doc.Info.Title)
	for _, p := range []string{
		"/health",
		"/api/v1/waterlevel",
		"/api/v1/assets/{id}/features",
		"/api/v1/tour",
		"/api/v1/layers/{id}/geojson",
		"/api/v1/viewer/events",
	} {
		assert.Contains(t, doc.Paths, p)
	}
}

func TestRootLinks(t *testing.T) {
	s := offline(t)
	rec := get(s, "/")
	assert.NotEmpty(t, rec.Header().Values("Link"))
}

func TestTemplatesFromDisk(t *testing.T) {
	s, err := New(Config{WebDir: "../../web", Offline: true}, nil)
	require.NoError(t, err)
	assert.True(t, s.renderer.Has("viewer"))
}
