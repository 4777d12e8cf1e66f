package appbase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
)

type fakeLoader struct {
	fail map[string]bool
}

func (f fakeLoader) Item(ctx context.Context, id string) (*arcgis.ItemInfo, error) {
	if f.fail[id] {
		return nil, errors.New("item not found")
	}
	return &arcgis.ItemInfo{ID: id, Title: "Item " + id}, nil
}

func (f fakeLoader) WebMap(ctx context.Context, id string) (*arcgis.WebMap, error) {
	return &arcgis.WebMap{}, nil
}

func TestResolveCapturesItemErrors(t *testing.T) {
	base := Resolve(context.Background(), Config{
		WebMaps:   []string{"a", "bad", "b"},
		WebScenes: []string{"s"},
	}, fakeLoader{fail: map[string]bool{"bad": true}})

	require.Len(t, base.Results.WebMapItems, 3)
	assert.Error(t, base.Results.WebMapItems[1].Err)
	assert.Equal(t, "en", base.Locale)
	assert.Equal(t, "ltr", base.Direction)

	var titles []string
	for _, it := range base.ValidItems() {
		titles = append(titles, it.Title())
	}
	assert.Equal(t, []string{"Item a", "Item b", "Item s"}, titles)
	assert.Nil(t, base.AppProxies())
}

func TestResolveNoItems(t *testing.T) {
	base := Resolve(context.Background(), Config{}, fakeLoader{})
	assert.Empty(t, base.ValidItems())
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slr-viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"operationalLayers": [{"id": "wl", "title": "Sea Level Rise Water Level", "layerType": "ArcGISImageServiceLayer", "url": "https://img"}],
		"initialState": {"viewpoint": {"targetGeometry": {"xmin": -80, "ymin": 25, "xmax": -79, "ymax": 26}, "scale": 72223.8}}
	}`), 0o644))

	base := Resolve(context.Background(), Config{WebMaps: []string{"local"}}, FileLoader{Path: path})
	items := base.ValidItems()
	require.Len(t, items, 1)
	assert.Equal(t, "slr-viewer", items[0].Title())
	require.NotNil(t, items[0].Data)
	require.Len(t, items[0].Data.OperationalLayers, 1)
	assert.Equal(t, 72223.8, items[0].Data.InitialState.Viewpoint.Scale)

	base = Resolve(context.Background(), Config{WebMaps: []string{"x"}}, FileLoader{Path: filepath.Join(t.TempDir(), "missing.json")})
	assert.Empty(t, base.ValidItems())
}

func TestPortalLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sharing/rest/content/items/app1":
			_, _ = w.Write([]byte(`{"id":"app1","title":"SLR","appProxies":[{"sourceUrl":"https://secure/FeatureServer/0","proxyUrl":"https://proxy/0"}]}`))
		case "/sharing/rest/content/items/map1":
			_, _ = w.Write([]byte(`{"id":"map1","title":"Sea Level Rise"}`))
		case "/sharing/rest/content/items/map1/data":
			_, _ = w.Write([]byte(`{"operationalLayers":[{"id":"a","title":"A","layerType":"ArcGISFeatureLayer","url":"https://secure/FeatureServer/0"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	portal := arcgis.NewClient(arcgis.WithRateLimit(0)).Portal(srv.URL)
	base := Resolve(context.Background(), Config{WebMaps: []string{"map1"}, ApplicationItem: "app1"}, PortalLoader{Portal: portal})

	items := base.ValidItems()
	require.Len(t, items, 1)
	assert.Equal(t, "Sea Level Rise", items[0].Title())
	require.Len(t, base.AppProxies(), 1)
	assert.Equal(t, "https://proxy/0", base.AppProxies()[0].ProxyURL)
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.AppConfig{Title: "T", PortalURL: "https://p", Locale: "fr", Direction: "rtl", WebMaps: []string{"m"}})
	assert.Equal(t, "T", c.Title)
	assert.Equal(t, "rtl", c.Direction)
	assert.Equal(t, []string{"m"}, c.WebMaps)
}
