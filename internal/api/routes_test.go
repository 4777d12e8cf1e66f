package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/app/apptest"
	"github.com/joeblew999/plat-slr/internal/assets"
	"github.com/joeblew999/plat-slr/internal/humastar"
	"github.com/joeblew999/plat-slr/internal/identity"
	"github.com/joeblew999/plat-slr/internal/store"
	"github.com/joeblew999/plat-slr/internal/tour"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

func newAPI(t *testing.T, s *app.Session, st *store.Store) humatest.TestAPI {
	t.Helper()
	links := humastar.NewLinks("viewer")
	config := huma.DefaultConfig("plat-slr", Version)
	config.Transformers = append(config.Transformers, links.Transformer())
	_, api := humatest.New(t, config)
	huma.AutoRegister(api, NewAPIHandler(s))
	NewInfoHandler(t.TempDir(), st != nil, s).RegisterRoutes(api)
	NewStoreHandler(st).RegisterRoutes(api)
	links.Build(api)
	return api
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestWithoutSession(t *testing.T) {
	api := newAPI(t, nil, nil)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	health := decode[HealthBody](t, resp.Body.Bytes())
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Ready)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/session>; rel="session"`)

	for _, path := range []string{"/api/v1/session", "/api/v1/assets", "/api/v1/tour", "/api/v1/layers", "/api/v1/tables"} {
		assert.Equal(t, http.StatusServiceUnavailable, api.Get(path).Code, path)
	}

	info := decode[InfoBody](t, api.Get("/api/v1/info").Body.Bytes())
	assert.Equal(t, "plat-slr", info.Name)
	assert.False(t, info.DB)
	assert.Empty(t, info.Items)
}

func TestSessionAndWaterLevel(t *testing.T) {
	s, st := apptest.Session(t)
	api := newAPI(t, s, st)

	assert.True(t, decode[HealthBody](t, api.Get("/health").Body.Bytes()).Ready)

	resp := api.Get("/api/v1/session")
	require.Equal(t, http.StatusOK, resp.Code)
	snap := decode[SessionBody](t, resp.Body.Bytes())
	assert.Equal(t, "SLR Viewer", snap.Page.Title)
	assert.False(t, snap.Page.Loading)
	assert.True(t, snap.WaterLevel.Enabled)
	assert.Equal(t, "MHHW", snap.WaterLevel.Label)
	require.NotNil(t, snap.Identity)
	assert.True(t, snap.Identity.SignInVisible)

	resp = api.Put("/api/v1/waterlevel", map[string]any{"level": 5})
	require.Equal(t, http.StatusOK, resp.Code)
	wl := decode[waterlevel.State](t, resp.Body.Bytes())
	assert.Equal(t, 5, wl.Level)
	assert.Equal(t, "5 feet", wl.Label)
	require.NotNil(t, wl.Rule)

	assert.Equal(t, http.StatusUnprocessableEntity, api.Put("/api/v1/waterlevel", map[string]any{"level": 11}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Put("/api/v1/waterlevel", map[string]any{"level": -1}).Code)

	s.Assets().Wait()
	panel := decode[assets.PanelState](t, api.Get("/api/v1/assets").Body.Bytes())
	require.Len(t, panel.Rows, 1)
	require.NotNil(t, panel.Rows[0].Count)
	assert.Equal(t, 2, *panel.Rows[0].Count)

	resp = api.Get("/api/v1/waterlevel/sample?x=-80.1&y=25.7")
	require.Equal(t, http.StatusOK, resp.Code)
	sample := decode[waterlevel.Popup](t, resp.Body.Bytes())
	assert.True(t, sample.Affected)
	assert.Equal(t, "This location will be affected by 3 feet of sea level rise.", sample.Message)

	info := decode[InfoBody](t, api.Get("/api/v1/info").Body.Bytes())
	assert.Equal(t, []string{"map"}, info.Items)
	assert.Contains(t, info.Features, "identity")
	assert.Contains(t, info.Features, "duckdb")
}

func TestAssetRoutes(t *testing.T) {
	s, st := apptest.Session(t)
	api := newAPI(t, s, st)
	panel := s.Assets()

	_, err := s.WaterLevel.SetWaterLevel(10)
	require.NoError(t, err)
	panel.Wait()

	resp := api.Get("/api/v1/assets/fac")
	require.Equal(t, http.StatusOK, resp.Code)
	row := decode[assets.Status](t, resp.Body.Bytes())
	assert.Equal(t, "Public Facilities", row.Title)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/assets/fac/toggle>; rel="toggle"; method="POST"; title="Toggle layer visibility"`)
	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/assets/nope").Code)

	resp = api.Get("/api/v1/assets/fac/features?limit=2")
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[humastar.PageBody[assets.FeatureSummary]](t, resp.Body.Bytes())
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "Pump Station", page.Data[0].Title)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/assets/fac/features?offset=2&limit=2>; rel="next"`)

	resp = api.Put("/api/v1/assets/list", map[string]any{"title": "Public Facilities"})
	require.Equal(t, http.StatusOK, resp.Code)
	state := decode[assets.PanelState](t, resp.Body.Bytes())
	assert.True(t, state.ListMode)
	assert.True(t, state.BackEnabled)
	assert.Len(t, state.Features, 3)

	state = decode[assets.PanelState](t, api.Put("/api/v1/assets/list", map[string]any{}).Body.Bytes())
	assert.False(t, state.ListMode)

	visible := row.Visible
	resp = api.Post("/api/v1/assets/fac/toggle")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, !visible, decode[assets.Status](t, resp.Body.Bytes()).Visible)
	panel.Wait()

	if visible {
		assert.Equal(t, 1, decode[CountBody](t, api.Post("/api/v1/assets/select-all").Body.Bytes()).Changed)
	} else {
		assert.Equal(t, 1, decode[CountBody](t, api.Post("/api/v1/assets/select-none").Body.Bytes()).Changed)
	}
	panel.Wait()
	assert.Equal(t, visible, panel.Task("fac").Status().Visible)
}

func TestViewClickAndPopup(t *testing.T) {
	s, st := apptest.Session(t)
	api := newAPI(t, s, st)

	resp := api.Post("/api/v1/view", map[string]any{
		"extent":     map[string]any{"xmin": -81, "ymin": 24, "xmax": -77, "ymax": 26},
		"scale":      36111.9,
		"stationary": true,
	})
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, 36111.9, s.View.Scale())

	resp = api.Post("/api/v1/click", map[string]any{"x": -80.1, "y": 25.7})
	require.Equal(t, http.StatusOK, resp.Code)
	p := decode[app.Popup](t, resp.Body.Bytes())
	assert.Equal(t, app.PopupSearch, p.Kind)
	require.NotNil(t, p.Sample)
	assert.True(t, p.Sample.Affected)

	resp = api.Post("/api/v1/click", map[string]any{
		"layerId": "fac", "attributes": map[string]any{"NAME": "School"}, "x": -79, "y": 25,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	p = decode[app.Popup](t, resp.Body.Bytes())
	assert.Equal(t, app.PopupFeature, p.Kind)
	assert.Equal(t, "Public Facilities", p.Title)
	require.NotNil(t, s.Popup())

	assert.Equal(t, http.StatusNoContent, api.Delete("/api/v1/popup").Code)
	assert.Nil(t, s.Popup())
}

func TestTourRoutes(t *testing.T) {
	s, st := apptest.Session(t)
	api := newAPI(t, s, st)

	resp := api.Get("/api/v1/tour")
	require.Equal(t, http.StatusOK, resp.Code)
	snap := decode[tour.Snapshot](t, resp.Body.Bytes())
	assert.Equal(t, []string{"Annapolis", "Miami"}, snap.Options)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/tour/toggle>; rel="play"; method="POST"; title="Play tour"`)

	resp = api.Put("/api/v1/tour/selection", map[string]any{"label": "Miami"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Miami", decode[tour.Snapshot](t, resp.Body.Bytes()).Selected)
	require.NotNil(t, s.Camera())
	assert.InDelta(t, -80.19, s.Camera().X, 1e-9)

	assert.Equal(t, http.StatusNotFound, api.Put("/api/v1/tour/selection", map[string]any{"label": "Atlantis"}).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Put("/api/v1/tour/selection", map[string]any{"label": ""}).Code)

	resp = api.Post("/api/v1/tour/toggle")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[tour.Snapshot](t, resp.Body.Bytes()).Playing)
	assert.Contains(t, resp.Result().Header.Values("Link"), `</api/v1/tour/toggle>; rel="pause"; method="POST"; title="Pause tour"`)

	resp = api.Post("/api/v1/tour/toggle")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[tour.Snapshot](t, resp.Body.Bytes()).Playing)
}

func TestIdentityRoutes(t *testing.T) {
	s, st := apptest.Session(t)
	api := newAPI(t, s, st)

	assert.True(t, decode[identity.UI](t, api.Get("/api/v1/identity").Body.Bytes()).SignInVisible)

	resp := api.Post("/api/v1/identity/sign-in", map[string]any{"token": apptest.Token, "expiresIn": 3600})
	require.Equal(t, http.StatusOK, resp.Code)
	ui := decode[identity.UI](t, resp.Body.Bytes())
	assert.True(t, ui.UserVisible)
	assert.Equal(t, "Jane", ui.FirstName)
	assert.Equal(t, "jdoe", ui.Username)
	assert.True(t, s.Identity.Authenticated())

	resp = api.Post("/api/v1/identity/sign-in", map[string]any{"token": "bad"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decode[identity.UI](t, resp.Body.Bytes()).SignInVisible)

	resp = api.Post("/api/v1/identity/sign-out")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decode[identity.UI](t, resp.Body.Bytes()).UserVisible)
	assert.False(t, s.Identity.Authenticated())
}
