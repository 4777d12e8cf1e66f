package viewer

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/starfederation/datastar-go/datastar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/app/apptest"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/humastar"
	"github.com/joeblew999/plat-slr/internal/templates"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
	"github.com/joeblew999/plat-slr/web"
)

func renderer(t *testing.T) *humastar.Renderer {
	t.Helper()
	r, err := templates.NewFS(web.Templates())
	require.NoError(t, err)
	return r
}

func newAPI(t *testing.T, s *app.Session) (*http.ServeMux, humatest.TestAPI) {
	t.Helper()
	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("plat-slr", "test"))
	NewHandler(s, renderer(t)).RegisterRoutes(api)
	return mux, humatest.Wrap(t, api)
}

func recorderSSE() (humastar.SSE, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/viewer/events", nil)
	return humastar.SSE{ServerSentEventGenerator: datastar.NewSSE(rec, req)}, rec
}

func TestProjections(t *testing.T) {
	page := PageSignals(app.PageState{Title: "SLR", Loading: true, Busy: true})
	assert.Equal(t, "SLR", page["title"])
	assert.Equal(t, true, page["loading"])
	assert.Equal(t, true, page["busy"])

	wl := WaterLevelSignals(waterlevel.State{Level: 3, Label: "3 feet", Enabled: true})
	assert.Equal(t, 3, wl["waterLevel"])
	assert.Equal(t, "3 feet", wl["waterLevelLabel"])
	assert.Equal(t, true, wl["waterLevelEnabled"])
}

func TestSessionProjections(t *testing.T) {
	s, _ := apptest.Session(t)

	sig := Signals(s)
	assert.Equal(t, "SLR Viewer", sig["title"])
	assert.Equal(t, false, sig["loading"])
	assert.Equal(t, 0, sig["waterLevel"])
	assert.Equal(t, false, sig["listMode"])
	assert.Contains(t, sig, "portalToken")
	assert.Contains(t, sig, "tourSelected")

	cfg := BuildMapConfig(s.Map, app.ViewContainer)
	assert.Equal(t, app.ViewContainer, cfg.Container)
	require.NotNil(t, cfg.Extent)
	assert.Equal(t, -81.0, cfg.Extent.XMin)
	assert.Equal(t, 72223.8, cfg.Scale)
	byID := map[string]MapLayer{}
	for _, l := range cfg.Layers {
		byID[l.ID] = l
	}
	assert.Equal(t, "imagery", byID["wl"].Type)
	assert.Equal(t, "geojson", byID["fac"].Type)
	assert.Equal(t, "/api/v1/layers/facilities/geojson", byID["fac"].URL)

	vis, hl := LayerCommands(s.Assets())
	require.Len(t, vis, 1)
	assert.Equal(t, Visibility{LayerID: "fac", Visible: true}, vis[0])
	assert.Equal(t, []Highlight{{LayerID: "fac", IDs: []int64{1}}}, hl)

	vis, hl = LayerCommands(nil)
	assert.Nil(t, vis)
	assert.Nil(t, hl)

	h := NewHandler(s, renderer(t))
	data, err := h.Page()
	require.NoError(t, err)
	assert.Equal(t, "SLR Viewer", data.Page.Title)
	assert.Contains(t, data.Signals, `"waterLevelEnabled":true`)
	html, err := h.Renderer.Render("viewer", data)
	require.NoError(t, err)
	assert.Contains(t, html, `id="view-container"`)
	assert.Contains(t, html, `/api/v1/layers/facilities/geojson`)

	_, err = NewHandler(nil, nil).Page()
	assert.Error(t, err)
}

func TestPushAll(t *testing.T) {
	s, _ := apptest.Session(t)
	h := NewHandler(s, renderer(t))

	sse, rec := recorderSSE()
	h.PushAll(sse)
	out := rec.Body.String()

	assert.Contains(t, out, "datastar-patch-signals")
	assert.Contains(t, out, "SLR Viewer")
	assert.Contains(t, out, "#signin")
	assert.Contains(t, out, "Portal token")
	assert.Contains(t, out, "Public Facilities")
	assert.Contains(t, out, "MHHW")
	assert.Contains(t, out, "Annapolis")
	assert.Contains(t, out, EventRule)
	assert.Contains(t, out, EventVisibility)
	assert.Contains(t, out, EventHighlight)
	assert.NotContains(t, out, EventCamera)

	require.NoError(t, s.Tour.Select("Miami"))
	sse, rec = recorderSSE()
	h.Push(sse, event.TopicCamera)
	assert.Contains(t, rec.Body.String(), EventCamera)
}

func TestPushAfterBurstShowsLatestCounts(t *testing.T) {
	s, _ := apptest.Session(t)
	h := NewHandler(s, renderer(t))
	pending := s.Hub().Watch()
	defer pending.Stop()

	for _, level := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		_, err := s.WaterLevel.SetWaterLevel(level)
		require.NoError(t, err)
	}
	s.Assets().Wait()

	<-pending.Ready()
	topics := pending.Drain()
	assert.Contains(t, topics, event.TopicAssets)
	assert.Contains(t, topics, event.TopicFeatures)

	sse, rec := recorderSSE()
	for _, topic := range topics {
		h.Push(sse, topic)
	}
	out := rec.Body.String()
	assert.Contains(t, out, `asset-count">3<`)
}

func TestActions(t *testing.T) {
	s, _ := apptest.Session(t)
	_, api := newAPI(t, s)

	resp := api.Post("/api/v1/viewer/waterlevel", map[string]any{"waterLevel": 5, "title": "ignored"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"error":""`)
	assert.Equal(t, 5, s.WaterLevel.Level())
	s.Assets().Wait()

	resp = api.Post("/api/v1/viewer/tour/select", map[string]any{"tourSelected": "Atlantis"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Unknown scenario location.")

	resp = api.Post("/api/v1/viewer/tour/select", map[string]any{"tourSelected": "Miami"})
	assert.Contains(t, resp.Body.String(), `"error":""`)
	assert.Equal(t, "Miami", s.Tour.Snapshot().Selected)

	resp = api.Post("/api/v1/viewer/assets/fac/features", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, s.Assets().State().ListMode)
	api.Post("/api/v1/viewer/assets/summary", map[string]any{})
	assert.False(t, s.Assets().State().ListMode)

	resp = api.Post("/api/v1/viewer/assets/nope/toggle", map[string]any{})
	assert.Contains(t, resp.Body.String(), "Unknown asset layer.")

	api.Post("/api/v1/viewer/assets/select-none", map[string]any{})
	s.Assets().Wait()
	assert.False(t, s.Assets().Task("fac").Status().Visible)
	api.Post("/api/v1/viewer/assets/fac/toggle", map[string]any{})
	s.Assets().Wait()
	assert.True(t, s.Assets().Task("fac").Status().Visible)

	resp = api.Post("/api/v1/viewer/identity/sign-in", map[string]any{"portalToken": ""})
	assert.Contains(t, resp.Body.String(), "Enter a portal token.")
	api.Post("/api/v1/viewer/identity/sign-in", map[string]any{"portalToken": apptest.Token})
	assert.True(t, s.Identity.Authenticated())
	api.Post("/api/v1/viewer/identity/sign-out", map[string]any{})
	assert.False(t, s.Identity.Authenticated())

	resp = api.Post("/api/v1/viewer/waterlevel", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestActionsWithoutSession(t *testing.T) {
	_, api := newAPI(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, api.Post("/api/v1/viewer/tour/toggle", map[string]any{}).Code)

	resp := api.Get("/api/v1/viewer/events")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "viewer session not available")
}

func TestEventsStream(t *testing.T) {
	s, _ := apptest.Session(t)
	mux, _ := newAPI(t, s)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/viewer/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 256)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor := func(needle string) {
		t.Helper()
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream closed before %q", needle)
				if strings.Contains(l, needle) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("no %q on the stream", needle)
			}
		}
	}

	waitFor("Annapolis")
	require.NoError(t, s.Tour.Select("Miami"))
	waitFor(EventCamera)
}
