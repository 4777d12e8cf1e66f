package mapview

import (
	"context"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/arcgis"
)

// LayerType classifies map layers.
type LayerType string

const (
	LayerFeature LayerType = "feature"
	LayerImagery LayerType = "imagery"
	LayerOther   LayerType = "other"
)

// ImageSource samples pixel values from an image service.
type ImageSource interface {
	GetSamples(ctx context.Context, req arcgis.SampleRequest) ([]arcgis.Sample, error)
}

// Resolver turns a layer URL into something that can serve it.
type Resolver interface {
	FeatureSource(url string) arcgis.FeatureSource
	ImageSource(url string) ImageSource
}

// Layer is one operational layer of the map.
type Layer struct {
	ID    string
	Title string
	URL   string
	Type  LayerType

	Visible *Flag

	source arcgis.FeatureSource
	image  ImageSource

	mu            sync.RWMutex
	loaded        bool
	renderer      *arcgis.Renderer
	minScale      float64
	objectIDField string
	outFields     []string
	popupEnabled  bool
	renderingRule any
}

// NewLayer creates a layer with no data source attached.
func NewLayer(id, title string, typ LayerType, visible bool) *Layer {
	return &Layer{ID: id, Title: title, Type: typ, Visible: NewFlag(visible)}
}

// WithSource attaches a feature source.
func (l *Layer) WithSource(src arcgis.FeatureSource) *Layer {
	l.source = src
	return l
}

// WithImage attaches an image source.
func (l *Layer) WithImage(img ImageSource) *Layer {
	l.image = img
	return l
}

// Source returns the feature source, or nil.
func (l *Layer) Source() arcgis.FeatureSource { return l.source }

// Image returns the image source, or nil.
func (l *Layer) Image() ImageSource { return l.image }

// Load fetches layer metadata once. Renderer and min scale set from the web
// map before loading take precedence over the service values.
func (l *Layer) Load(ctx context.Context) error {
	l.mu.RLock()
	loaded := l.loaded
	l.mu.RUnlock()
	if loaded {
		return nil
	}
	if l.source == nil {
		l.mu.Lock()
		l.loaded = true
		l.mu.Unlock()
		return nil
	}

	info, err := l.source.Load(ctx)
	if err != nil {
		return eris.Wrapf(err, "mapview: load layer %q", l.Title)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.renderer == nil && info.DrawingInfo != nil {
		l.renderer = info.DrawingInfo.Renderer
	}
	if l.minScale == 0 {
		l.minScale = info.MinScale
	}
	l.objectIDField = info.OIDField()
	l.loaded = true
	return nil
}

// Loaded reports whether Load has succeeded.
func (l *Layer) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// Renderer returns the layer renderer.
func (l *Layer) Renderer() *arcgis.Renderer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.renderer
}

// SetRenderer replaces the renderer.
func (l *Layer) SetRenderer(r *arcgis.Renderer) {
	l.mu.Lock()
	l.renderer = r
	l.mu.Unlock()
}

// MinScale returns the scale beyond which the layer is not drawn. Zero
// means no limit.
func (l *Layer) MinScale() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minScale
}

// SetMinScale sets the minimum scale.
func (l *Layer) SetMinScale(s float64) {
	l.mu.Lock()
	l.minScale = s
	l.mu.Unlock()
}

// ObjectIDField returns the object id field reported by the source.
func (l *Layer) ObjectIDField() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.objectIDField
}

// OutFields returns the fields requested by popups and queries.
func (l *Layer) OutFields() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.outFields
}

// SetOutFields sets the fields requested by popups and queries.
func (l *Layer) SetOutFields(fields []string) {
	l.mu.Lock()
	l.outFields = fields
	l.mu.Unlock()
}

// PopupEnabled reports whether clicks on the layer open a popup.
func (l *Layer) PopupEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.popupEnabled
}

// SetPopupEnabled toggles popups.
func (l *Layer) SetPopupEnabled(on bool) {
	l.mu.Lock()
	l.popupEnabled = on
	l.mu.Unlock()
}

// RenderingRule returns the raster function applied to an imagery layer.
func (l *Layer) RenderingRule() any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.renderingRule
}

// SetRenderingRule replaces the raster function.
func (l *Layer) SetRenderingRule(rule any) {
	l.mu.Lock()
	l.renderingRule = rule
	l.mu.Unlock()
}

// Map is the ordered set of operational layers.
type Map struct {
	Title         string
	InitialExtent *orb.Bound
	InitialScale  float64

	layers []*Layer
}

// NewMap builds a map from web map data. URLs matching an app proxy source
// are rewritten to the proxy.
func NewMap(title string, wm *arcgis.WebMap, proxies []arcgis.AppProxy, res Resolver) *Map {
	m := &Map{Title: title}
	if wm == nil {
		return m
	}
	if wm.InitialState != nil {
		vp := wm.InitialState.Viewpoint
		if vp.TargetGeometry != nil {
			b := vp.TargetGeometry.Bound()
			m.InitialExtent = &b
		}
		m.InitialScale = vp.Scale
	}

	for _, ol := range wm.OperationalLayers {
		visible := ol.Visibility == nil || *ol.Visibility
		url := proxied(ol.URL, proxies)

		var layer *Layer
		switch ol.LayerType {
		case "ArcGISFeatureLayer":
			layer = NewLayer(ol.ID, ol.Title, LayerFeature, visible)
			if res != nil && url != "" {
				layer.WithSource(res.FeatureSource(url))
			}
		case "ArcGISImageServiceLayer":
			layer = NewLayer(ol.ID, ol.Title, LayerImagery, visible)
			if res != nil && url != "" {
				layer.WithImage(res.ImageSource(url))
			}
		default:
			layer = NewLayer(ol.ID, ol.Title, LayerOther, visible)
		}
		layer.URL = url
		if def := ol.LayerDefinition; def != nil {
			if def.DrawingInfo != nil {
				layer.renderer = def.DrawingInfo.Renderer
			}
			layer.minScale = def.MinScale
		}
		m.layers = append(m.layers, layer)
	}
	zap.L().Debug("mapview: map built", zap.String("title", title), zap.Int("layers", len(m.layers)))
	return m
}

func proxied(url string, proxies []arcgis.AppProxy) string {
	for _, p := range proxies {
		if p.SourceURL != "" && strings.EqualFold(strings.TrimRight(p.SourceURL, "/"), strings.TrimRight(url, "/")) {
			return p.ProxyURL
		}
	}
	return url
}

// Add appends a layer.
func (m *Map) Add(l *Layer) {
	m.layers = append(m.layers, l)
}

// Layers returns every layer in drawing order.
func (m *Map) Layers() []*Layer {
	return m.layers
}

// FindLayer returns the layer with the given id, or nil.
func (m *Map) FindLayer(id string) *Layer {
	for _, l := range m.layers {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// FindLayerByTitle returns the first layer with the given title, or nil.
func (m *Map) FindLayerByTitle(title string) *Layer {
	for _, l := range m.layers {
		if l.Title == title {
			return l
		}
	}
	return nil
}
