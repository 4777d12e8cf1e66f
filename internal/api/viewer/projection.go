package viewer

import (
	"strings"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/assets"
	"github.com/joeblew999/plat-slr/internal/identity"
	"github.com/joeblew999/plat-slr/internal/mapview"
	"github.com/joeblew999/plat-slr/internal/tour"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

// Browser custom events dispatched on document.
const (
	EventCamera     = "slr-camera"
	EventRule       = "slr-rule"
	EventVisibility = "slr-visibility"
	EventHighlight  = "slr-highlight"
)

// PageSignals projects the page shell.
func PageSignals(p app.PageState) map[string]any {
	return map[string]any{
		"title":    p.Title,
		"loading":  p.Loading,
		"updating": p.Updating,
		"busy":     p.Busy,
		"error":    p.Error,
	}
}

// WaterLevelSignals projects the slider.
func WaterLevelSignals(st waterlevel.State) map[string]any {
	return map[string]any{
		"waterLevel":         st.Level,
		"waterLevelLabel":    st.Label,
		"waterLevelEnabled":  st.Enabled,
		"waterLevelMinLabel": st.MinLabel,
		"waterLevelMaxLabel": st.MaxLabel,
	}
}

// AssetSignals projects the panel header. busy is left to PageSignals.
func AssetSignals(st assets.PanelState) map[string]any {
	return map[string]any{
		"listMode":    st.ListMode,
		"backEnabled": st.BackEnabled,
		"assetTitle":  st.AssetTitle,
	}
}

// TourSignals projects the tour controls.
func TourSignals(snap tour.Snapshot) map[string]any {
	return map[string]any{
		"tourSelected": snap.Selected,
		"tourPlaying":  snap.Playing,
	}
}

// Signals is the full initial signal set of the page.
func Signals(s *app.Session) map[string]any {
	out := PageSignals(s.Page())
	merge(out, WaterLevelSignals(s.WaterLevel.State()))
	merge(out, TourSignals(s.Tour.Snapshot()))
	st := assets.PanelState{}
	if p := s.Assets(); p != nil {
		st = p.State()
	}
	merge(out, AssetSignals(st))
	out["portalToken"] = ""
	return out
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// Extent is a WGS84 envelope in ArcGIS JSON field names.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// MapLayer tells the browser how to draw one layer.
type MapLayer struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// MapConfig is the map description the browser builds its view from.
type MapConfig struct {
	Container string     `json:"container"`
	Layers    []MapLayer `json:"layers"`
	Extent    *Extent    `json:"extent,omitempty"`
	Scale     float64    `json:"scale,omitempty"`
}

// BuildMapConfig describes m for the browser. Stored layers are served as
// GeoJSON by the store routes.
func BuildMapConfig(m *mapview.Map, container string) MapConfig {
	cfg := MapConfig{Container: container, Layers: []MapLayer{}, Scale: m.InitialScale}
	if b := m.InitialExtent; b != nil {
		cfg.Extent = &Extent{XMin: b.Min.X(), YMin: b.Min.Y(), XMax: b.Max.X(), YMax: b.Max.Y()}
	}
	for _, l := range m.Layers() {
		ml := MapLayer{ID: l.ID, Title: l.Title, URL: l.URL, Type: string(l.Type), Visible: l.Visible.Get()}
		if id, ok := strings.CutPrefix(l.URL, app.StoreScheme); ok {
			ml.URL = "/api/v1/layers/" + id + "/geojson"
			ml.Type = "geojson"
		}
		cfg.Layers = append(cfg.Layers, ml)
	}
	return cfg
}

// SignInUI returns the identity projection, or a hidden control when no
// portal is configured.
func SignInUI(s *app.Session) identity.UI {
	if s.Identity == nil {
		return identity.UI{}
	}
	return s.Identity.UI()
}

// Highlight is the detail of an slr-highlight event.
type Highlight struct {
	LayerID string  `json:"layerId"`
	IDs     []int64 `json:"ids"`
}

// Visibility is the detail of an slr-visibility event.
type Visibility struct {
	LayerID string `json:"layerId"`
	Visible bool   `json:"visible"`
}

// Rule is the detail of an slr-rule event.
type Rule struct {
	LayerID string                     `json:"layerId"`
	Rule    *waterlevel.RasterFunction `json:"rule"`
}

// LayerCommands returns the visibility and highlight of every asset layer.
func LayerCommands(p *assets.Panel) ([]Visibility, []Highlight) {
	if p == nil {
		return nil, nil
	}
	var vis []Visibility
	var hl []Highlight
	for _, t := range p.Tasks() {
		vis = append(vis, Visibility{LayerID: t.Layer.ID, Visible: t.Layer.Visible.Get()})
		ids := []int64{}
		if lv := t.LayerView(); lv != nil {
			ids = lv.HighlightedIDs()
		}
		hl = append(hl, Highlight{LayerID: t.Layer.ID, IDs: ids})
	}
	return vis, hl
}
