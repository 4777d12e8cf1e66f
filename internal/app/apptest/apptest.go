// Package apptest builds ready viewer sessions for handler tests. The
// session runs against an in-memory DuckDB store and a fake ArcGIS server
// whose image service samples every point at 3 feet.
package apptest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/appbase"
	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/store"
)

const (
	WaterLevelTitle = "Sea Level Rise Water Level"
	TourTitle       = "Scenario Locations"
	AssetTitle      = "US HIFLD Assets - Public_Facilities"

	// Token is accepted by the fake portal; any other token fails.
	Token = "good-token"
)

// Store returns an in-memory store holding "facilities" (water levels 0, 4
// and 9) and "locations" (Miami and Annapolis).
func Store(t testing.TB) *store.Store {
	t.Helper()
	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	ctx := context.Background()

	facilities := geojson.NewFeatureCollection()
	for i, name := range []string{"Pump Station", "School", "Clinic"} {
		f := geojson.NewFeature(orb.Point{-80 + float64(i), 25})
		f.Properties["water_level"] = []float64{0, 4, 9}[i]
		f.Properties["NAME"] = name
		facilities.Append(f)
	}
	_, err = st.Ingest(ctx, "facilities", facilities, store.IngestOptions{Name: "Public Facilities", RequireWaterLevel: true})
	require.NoError(t, err)

	locations := geojson.NewFeatureCollection()
	for label, pt := range map[string]orb.Point{"Miami": {-80.19, 25.76}, "Annapolis": {-76.49, 38.97}} {
		f := geojson.NewFeature(pt)
		f.Properties["Label"] = label
		locations.Append(f)
	}
	_, err = st.Ingest(ctx, "locations", locations, store.IngestOptions{Name: TourTitle})
	require.NoError(t, err)
	return st
}

// Server fakes the image service and the portal.
func Server(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ImageServer/getSamples":
			_, _ = w.Write([]byte(`{"samples":[{"locationId":0,"value":"3"}]}`))
		case "/sharing/rest/portals/self":
			if strings.Contains(r.URL.RawQuery, "token="+Token) {
				_, _ = w.Write([]byte(`{"name":"ArcGIS Online","user":{"username":"jdoe","fullName":"Jane Doe"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"name":"ArcGIS Online"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// WebMap returns the viewer's web map: the water level image layer, one
// asset layer and the scenario locations, all but the first served from
// the store.
func WebMap(imageURL string) *arcgis.WebMap {
	return &arcgis.WebMap{
		OperationalLayers: []arcgis.OperationalLayer{
			{ID: "wl", Title: WaterLevelTitle, LayerType: "ArcGISImageServiceLayer", URL: imageURL},
			{ID: "fac", Title: AssetTitle, LayerType: "ArcGISFeatureLayer", URL: app.StoreScheme + "facilities"},
			{ID: "aoi", Title: TourTitle, LayerType: "ArcGISFeatureLayer", URL: app.StoreScheme + "locations"},
		},
		InitialState: &arcgis.InitialState{Viewpoint: arcgis.Viewpoint{
			TargetGeometry: &arcgis.Envelope{XMin: -81, YMin: 24, XMax: -77, YMax: 26},
			Scale:          72223.8,
		}},
	}
}

// Config returns the configuration the fixture web map needs.
func Config() *config.Config {
	return &config.Config{
		WaterLevel: config.WaterLevelConfig{LayerTitle: WaterLevelTitle},
		Tour:       config.TourConfig{LayerTitle: TourTitle, PauseMS: 10},
		Assets:     config.AssetsConfig{DebounceMS: 1},
	}
}

// Session bootstraps a session over the fixtures and waits until its ready
// chain and first analyses have finished.
func Session(t testing.TB) (*app.Session, *store.Store) {
	t.Helper()
	srv := Server(t)
	st := Store(t)
	client := arcgis.NewClient(arcgis.WithRateLimit(0))
	ctx, cancel := context.WithCancel(context.Background())

	base := &appbase.Base{
		Locale:    "en",
		Direction: "ltr",
		Results: appbase.Results{WebMapItems: []appbase.ItemResult{{
			ID:    "map",
			Value: &appbase.Item{Info: arcgis.ItemInfo{ID: "map", Title: "SLR Viewer"}, Data: WebMap(srv.URL + "/ImageServer")},
		}}},
	}
	s, err := app.Bootstrap(ctx, base, app.Deps{
		Config:   Config(),
		Hub:      event.NewHub(),
		Resolver: app.NewResolver(client, st),
		Portal:   client.Portal(srv.URL),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not finish")
	}
	s.Wait()
	require.NoError(t, s.Err())
	return s, st
}
