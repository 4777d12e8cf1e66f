package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/appbase"
	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
	"github.com/joeblew999/plat-slr/internal/store"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

const (
	waterLevelTitle = "Sea Level Rise Water Level"
	tourTitle       = "Scenario Locations"
)

func fixtureStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	ctx := context.Background()

	assets := geojson.NewFeatureCollection()
	for i, lvl := range []float64{0, 4, 9} {
		f := geojson.NewFeature(orb.Point{-80 + float64(i), 25})
		f.Properties["water_level"] = lvl
		f.Properties["NAME"] = []string{"Pump Station", "School", "Clinic"}[i]
		assets.Append(f)
	}
	_, err = st.Ingest(ctx, "facilities", assets, store.IngestOptions{RequireWaterLevel: true})
	require.NoError(t, err)

	locations := geojson.NewFeatureCollection()
	for _, loc := range []struct {
		label string
		pt    orb.Point
	}{{"Miami", orb.Point{-80.19, 25.76}}, {"Annapolis", orb.Point{-76.49, 38.97}}} {
		f := geojson.NewFeature(loc.pt)
		f.Properties["Label"] = loc.label
		locations.Append(f)
	}
	_, err = st.Ingest(ctx, "locations", locations, store.IngestOptions{})
	require.NoError(t, err)
	return st
}

func remoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ImageServer/getSamples":
			_, _ = w.Write([]byte(`{"samples":[{"locationId":0,"value":"3"}]}`))
		case "/sharing/rest/portals/self":
			_, _ = w.Write([]byte(`{"name":"ArcGIS Online"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func webMap(imageURL string, viewpoint bool) *arcgis.WebMap {
	wm := &arcgis.WebMap{OperationalLayers: []arcgis.OperationalLayer{
		{ID: "wl", Title: waterLevelTitle, LayerType: "ArcGISImageServiceLayer", URL: imageURL},
		{ID: "fac", Title: "US HIFLD Assets - Public_Facilities", LayerType: "ArcGISFeatureLayer", URL: StoreScheme + "facilities"},
		{ID: "aoi", Title: tourTitle, LayerType: "ArcGISFeatureLayer", URL: StoreScheme + "locations"},
	}}
	if viewpoint {
		wm.InitialState = &arcgis.InitialState{Viewpoint: arcgis.Viewpoint{
			TargetGeometry: &arcgis.Envelope{XMin: -81, YMin: 24, XMax: -77, YMax: 26},
			Scale:          72223.8,
		}}
	}
	return wm
}

func baseFor(wm *arcgis.WebMap) *appbase.Base {
	return &appbase.Base{
		Locale:    "en",
		Direction: "ltr",
		Results: appbase.Results{WebMapItems: []appbase.ItemResult{
			{ID: "map", Value: &appbase.Item{Info: arcgis.ItemInfo{ID: "map", Title: "SLR Viewer"}, Data: wm}},
		}},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		WaterLevel: config.WaterLevelConfig{LayerTitle: waterLevelTitle},
		Tour:       config.TourConfig{LayerTitle: tourTitle, PauseMS: 10},
	}
}

func bootstrap(t *testing.T, wm *arcgis.WebMap, cfg *config.Config) (*Session, *httptest.Server) {
	t.Helper()
	srv := remoteServer(t)
	if wm == nil {
		wm = webMap(srv.URL+"/ImageServer", true)
	}
	client := arcgis.NewClient(arcgis.WithRateLimit(0))
	ctx, cancel := context.WithCancel(context.Background())

	s, err := Bootstrap(ctx, baseFor(wm), Deps{
		Config:   cfg,
		Hub:      event.NewHub(),
		Resolver: NewResolver(client, fixtureStore(t)),
		Portal:   client.Portal(srv.URL),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, srv
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
	s.Wait()
}

func TestBootstrapEndToEnd(t *testing.T) {
	s, _ := bootstrap(t, nil, testConfig())
	waitDone(t, s)
	require.NoError(t, s.Err())
	require.True(t, s.Ready())

	page := s.Page()
	assert.Equal(t, "SLR Viewer", page.Title)
	assert.False(t, page.Loading)
	assert.Equal(t, ViewContainer, page.Container)
	require.NotNil(t, page.Popup)
	assert.Equal(t, "top-right", page.Popup.Position)
	assert.Equal(t, 72223.8, page.SearchZoomScale)

	require.NotNil(t, s.Identity)
	assert.True(t, s.Identity.UI().SignInVisible)

	wl := s.WaterLevel.State()
	assert.True(t, wl.Enabled)
	assert.Equal(t, 0, wl.Level)
	require.NotNil(t, wl.Rule)

	panel := s.Assets()
	require.NotNil(t, panel)
	rows := panel.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Public Facilities", rows[0].Title)
	require.NotNil(t, rows[0].Count)
	assert.Equal(t, 1, *rows[0].Count)

	_, err := s.WaterLevel.SetWaterLevel(5)
	require.NoError(t, err)
	panel.Wait()
	rows = panel.Rows()
	require.NotNil(t, rows[0].Count)
	assert.Equal(t, 2, *rows[0].Count)
	assert.True(t, rows[0].Alert)
	assert.Equal(t, []int64{1, 2}, panel.Task("fac").LayerView().HighlightedIDs())

	assert.Equal(t, []string{"Annapolis", "Miami"}, s.Tour.Snapshot().Options)
}

func TestTourMovesCamera(t *testing.T) {
	s, _ := bootstrap(t, nil, testConfig())
	waitDone(t, s)

	var got []event.Camera
	cams := s.Hub().Camera.Subscribe()
	defer s.Hub().Camera.Unsubscribe(cams)

	require.NoError(t, s.Tour.Select("Miami"))
	select {
	case c := <-cams:
		got = append(got, c)
	case <-time.After(2 * time.Second):
		t.Fatal("no camera move")
	}
	assert.InDelta(t, -80.19, got[0].X, 1e-9)
	assert.InDelta(t, 25.76, got[0].Y, 1e-9)
	assert.Equal(t, 14.0, got[0].Zoom)
	assert.False(t, got[0].Animate)
	require.NotNil(t, s.Camera())
}

func TestClickPopups(t *testing.T) {
	s, _ := bootstrap(t, nil, testConfig())
	waitDone(t, s)

	p, err := s.Click(context.Background(), Click{LayerID: "fac", Attributes: map[string]any{"NAME": "School"}, Point: orb.Point{-79, 25}})
	require.NoError(t, err)
	assert.Equal(t, PopupFeature, p.Kind)
	assert.Equal(t, "Public Facilities", p.Title)
	assert.Equal(t, "School", p.Attributes["NAME"])

	p, err = s.Click(context.Background(), Click{Point: orb.Point{-80.1, 25.7}})
	require.NoError(t, err)
	assert.Equal(t, PopupSearch, p.Kind)
	require.NotNil(t, p.Sample)
	assert.True(t, p.Sample.Affected)
	assert.Equal(t, "This location will be affected by 3 feet of sea level rise.", p.Sample.Message)
	assert.Equal(t, p, s.Popup())

	s.ClosePopup()
	assert.Nil(t, s.Popup())
}

func TestBootstrapWaitsForViewReport(t *testing.T) {
	srv := remoteServer(t)
	s, _ := bootstrap(t, webMap(srv.URL+"/ImageServer", false), testConfig())

	select {
	case <-s.Done():
		t.Fatal("ready chain ran before the view reported")
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, s.Page().Loading)
	_, err := s.Click(context.Background(), Click{})
	assert.ErrorIs(t, err, ErrNotReady)

	extent := orb.Bound{Min: orb.Point{-81, 24}, Max: orb.Point{-77, 26}}
	s.ReportView(mapview.Report{Extent: &extent, Scale: 50000})
	waitDone(t, s)
	require.NoError(t, s.Err())
	assert.False(t, s.Page().Loading)
}

func TestBootstrapWithoutWaterLevelLayerKeepsLoading(t *testing.T) {
	cfg := testConfig()
	cfg.WaterLevel.LayerTitle = "Missing"
	s, _ := bootstrap(t, nil, cfg)
	waitDone(t, s)

	assert.ErrorIs(t, s.Err(), waterlevel.ErrNoLayer)
	assert.True(t, s.Page().Loading)
	assert.NotEmpty(t, s.Page().Error)
	assert.Nil(t, s.Assets())
}

func TestBootstrapErrors(t *testing.T) {
	_, err := Bootstrap(context.Background(), nil, Deps{})
	assert.ErrorIs(t, err, ErrNoApplicationBase)

	base := &appbase.Base{Results: appbase.Results{WebMapItems: []appbase.ItemResult{{ID: "x", Err: assert.AnError}}}}
	_, err = Bootstrap(context.Background(), base, Deps{})
	assert.ErrorIs(t, err, ErrNoItem)
}

func TestResolverSchemes(t *testing.T) {
	client := arcgis.NewClient()
	r := NewResolver(client, nil)
	assert.Nil(t, r.FeatureSource(StoreScheme+"facilities"))
	assert.IsType(t, &arcgis.FeatureLayer{}, r.FeatureSource("https://services/FeatureServer/0"))
	assert.IsType(t, &arcgis.ImageService{}, r.ImageSource("https://services/ImageServer"))

	r = NewResolver(client, fixtureStore(t))
	assert.IsType(t, &store.Layer{}, r.FeatureSource(StoreScheme+"facilities"))
}
