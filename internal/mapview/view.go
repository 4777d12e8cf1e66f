// Package mapview mirrors the browser's map view on the server. The browser
// reports extent, scale and drawing state; the server decides what to query
// and what to highlight, and asks the browser to move through a Navigator.
package mapview

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// Target is a navigation request.
type Target struct {
	Center  orb.Point
	Zoom    float64
	Animate bool
}

// Navigator moves the browser camera.
type Navigator interface {
	GoTo(ctx context.Context, t Target) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, t Target) error

// GoTo calls f.
func (f NavigatorFunc) GoTo(ctx context.Context, t Target) error { return f(ctx, t) }

// Report is a state update posted by the browser. Nil fields are unchanged.
type Report struct {
	Extent        *orb.Bound
	Scale         float64
	Updating      *bool
	Stationary    *bool
	Ready         *bool
	LayerUpdating map[string]bool
}

// View is the server-side view of the map.
type View struct {
	Map *Map

	Updating   *Flag
	Stationary *Flag
	Ready      *Flag

	nav Navigator

	mu     sync.RWMutex
	extent orb.Bound
	scale  float64
	views  map[string]*LayerView
}

// NewView creates a view over m. When the map carries an initial extent and
// scale the view starts ready.
func NewView(m *Map, nav Navigator) *View {
	v := &View{
		Map:        m,
		Updating:   NewFlag(false),
		Stationary: NewFlag(true),
		Ready:      NewFlag(false),
		nav:        nav,
		views:      make(map[string]*LayerView),
	}
	if m != nil && m.InitialExtent != nil && m.InitialScale > 0 {
		v.extent = *m.InitialExtent
		v.scale = m.InitialScale
		v.Ready.Set(true)
	}
	return v
}

// Extent returns the visible extent.
func (v *View) Extent() orb.Bound {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.extent
}

// Scale returns the current map scale.
func (v *View) Scale() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scale
}

// Apply folds a browser report into the view. Extent and scale are stored
// before any flag changes so watchers see the new geometry.
func (v *View) Apply(r Report) {
	v.mu.Lock()
	if r.Extent != nil {
		v.extent = *r.Extent
	}
	if r.Scale > 0 {
		v.scale = r.Scale
	}
	known := !v.extent.IsEmpty() && v.scale > 0
	views := make([]*LayerView, 0, len(v.views))
	for _, lv := range v.views {
		views = append(views, lv)
	}
	v.mu.Unlock()

	for _, lv := range views {
		lv.refresh()
		if up, ok := r.LayerUpdating[lv.Layer.ID]; ok {
			lv.Updating.Set(up)
		}
	}
	if r.Updating != nil {
		v.Updating.Set(*r.Updating)
	}
	if r.Stationary != nil {
		v.Stationary.Set(*r.Stationary)
	}
	if r.Ready != nil {
		v.Ready.Set(*r.Ready && known)
	} else if known {
		v.Ready.Set(true)
	}
}

// WhenReady blocks until the view has an extent and scale.
func (v *View) WhenReady(ctx context.Context) error {
	return v.Ready.Wait(ctx, true)
}

// GoTo asks the navigator to move the camera.
func (v *View) GoTo(ctx context.Context, t Target) error {
	if v.nav == nil {
		return eris.New("mapview: no navigator")
	}
	return v.nav.GoTo(ctx, t)
}

// WhenLayerView returns the layer view for l, creating it on first use.
func (v *View) WhenLayerView(l *Layer) *LayerView {
	v.mu.Lock()
	lv, ok := v.views[l.ID]
	if !ok {
		lv = newLayerView(v, l)
		v.views[l.ID] = lv
	}
	v.mu.Unlock()
	if !ok {
		lv.refresh()
		l.Visible.Watch(func(bool) { lv.refresh() }, false)
	}
	return lv
}

// LayerView returns the layer view for id, or nil.
func (v *View) LayerView(id string) *LayerView {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.views[id]
}
