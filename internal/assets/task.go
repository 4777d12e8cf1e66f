package assets

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/message"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

// ErrNoSource is returned when an asset layer has no feature source.
var ErrNoSource = eris.New("assets: layer has no feature source")

// Status is the projected state of one asset layer row.
type Status struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Count       *int           `json:"count"`
	CountText   string         `json:"countText"`
	Alert       bool           `json:"alert"`
	ListVisible bool           `json:"listVisible"`
	Visible     bool           `json:"visible"`
	Suspended   bool           `json:"suspended"`
	Loaded      bool           `json:"loaded"`
	Symbol      *arcgis.Symbol `json:"symbol,omitempty"`
}

// CountLabel renders the count column; "--" while unknown.
func (s Status) CountLabel() string {
	if s.Count == nil {
		return "--"
	}
	if s.CountText == "" {
		return formatCount(defaultPrinter, *s.Count)
	}
	return s.CountText
}

// Task runs the flood analysis of one asset layer.
type Task struct {
	Layer *mapview.Layer
	Title string

	view     *mapview.View
	hub      *event.Hub
	deb      *Debouncer
	minScale float64
	printer  *message.Printer

	mu        sync.RWMutex
	closed    bool
	ctx       context.Context
	lv        *mapview.LayerView
	loaded    bool
	level     int
	count     *int
	features  []arcgis.Feature
	highlight *mapview.HighlightHandle
	offs      []func()
	wg        sync.WaitGroup
}

// NewTask creates a task for layer. minScale is applied to the layer on load.
func NewTask(layer *mapview.Layer, title string, view *mapview.View, hub *event.Hub, minScale float64, delay time.Duration) *Task {
	return &Task{
		Layer:    layer,
		Title:    title,
		view:     view,
		hub:      hub,
		deb:      NewDebouncer(delay),
		minScale: minScale,
		printer:  defaultPrinter,
	}
}

// Load prepares the layer and starts reacting to water level, visibility
// and view changes. ctx bounds every analysis the task runs.
func (t *Task) Load(ctx context.Context) error {
	if t.Layer.Source() == nil {
		return eris.Wrapf(ErrNoSource, "assets: %s", t.Title)
	}
	if err := t.Layer.Load(ctx); err != nil {
		return eris.Wrap(err, "assets: load")
	}
	t.Layer.SetOutFields([]string{"*"})
	t.Layer.SetPopupEnabled(true)
	t.Layer.SetMinScale(t.minScale)

	lv := t.view.WhenLayerView(t.Layer)
	lv.Refresh()

	t.mu.Lock()
	t.ctx = ctx
	t.lv = lv
	t.loaded = true
	t.mu.Unlock()

	offSuspended := lv.Suspended.Watch(func(suspended bool) {
		status := event.AnalysisNotSuspended
		if suspended {
			status = event.AnalysisSuspended
		}
		t.hub.Analysis.Publish(event.AnalysisStatus{LayerID: t.Layer.ID, Status: status})
		t.hub.Changed(event.TopicAssets, t.Layer.ID)
	}, false)
	offSLR := t.hub.SLR.On(func(e event.SLRChange) {
		t.mu.Lock()
		t.level = e.WaterLevel
		t.mu.Unlock()
		t.run()
	})
	offStationary := t.view.Stationary.Watch(func(stationary bool) {
		if stationary {
			t.run()
		}
	}, true)

	t.mu.Lock()
	t.offs = append(t.offs, offSuspended, offSLR, offStationary)
	t.mu.Unlock()

	t.hub.Changed(event.TopicAssets, t.Layer.ID)
	return nil
}

// Close stops reacting to triggers and waits for running analyses.
func (t *Task) Close() {
	t.mu.Lock()
	t.closed = true
	offs := t.offs
	t.offs = nil
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
	t.wg.Wait()
}

// Wait blocks until every analysis started by a trigger has finished.
func (t *Task) Wait() { t.wg.Wait() }

func (t *Task) run() {
	t.mu.Lock()
	ctx := t.ctx
	if ctx == nil || t.closed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	ch := t.UpdateAnalysis(ctx)
	go func() {
		defer t.wg.Done()
		if err := <-ch; err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			zap.L().Error("assets: analysis failed", zap.String("layer", t.Title), zap.Error(err))
		}
	}()
}

// UpdateAnalysis re-queries the affected features. Calls are debounced: a
// newer call supersedes this one.
func (t *Task) UpdateAnalysis(ctx context.Context) <-chan error {
	return t.deb.Do(ctx, t.analyze)
}

func (t *Task) analyze(ctx context.Context, commit CommitFunc) error {
	t.mu.RLock()
	lv := t.lv
	t.mu.RUnlock()
	if lv == nil {
		return eris.New("assets: task not loaded")
	}

	var prevCount *int
	var prevFeatures []arcgis.Feature
	commit(func() {
		t.mu.Lock()
		prevCount, prevFeatures = t.count, t.features
		t.count = nil
		t.features = nil
		t.mu.Unlock()
	})
	t.hub.Changed(event.TopicAssets, t.Layer.ID)

	if lv.Suspended.Get() {
		commit(func() {
			t.mu.Lock()
			t.highlight.Remove()
			t.highlight = nil
			t.mu.Unlock()
		})
		return nil
	}

	if err := lv.Updating.Wait(ctx, false); err != nil {
		return err
	}

	t.mu.RLock()
	level := t.level
	t.mu.RUnlock()
	extent := t.view.Extent()
	r := arcgis.WaterLevelRange(level)

	t.hub.Analysis.Publish(event.AnalysisStatus{LayerID: t.Layer.ID, Status: event.AnalysisStart})
	fs, err := t.Layer.Source().QueryFeatures(ctx, arcgis.Query{
		Range:          &r,
		Extent:         &extent,
		OutFields:      t.Layer.OutFields(),
		ReturnGeometry: true,
	})
	t.hub.Analysis.Publish(event.AnalysisStatus{LayerID: t.Layer.ID, Status: event.AnalysisEnd})
	if err != nil {
		// The previous count stays with the previous highlight.
		restored := commit(func() {
			t.mu.Lock()
			t.count, t.features = prevCount, prevFeatures
			t.mu.Unlock()
		})
		if restored {
			t.hub.Changed(event.TopicAssets, t.Layer.ID)
		}
		return eris.Wrapf(err, "assets: query %s", t.Title)
	}

	oidField := t.Layer.ObjectIDField()
	if oidField == "" {
		oidField = fs.ObjectIDFieldName
	}
	ids := make([]int64, 0, len(fs.Features))
	for _, f := range fs.Features {
		if id, ok := f.ObjectID(oidField); ok {
			ids = append(ids, id)
		}
	}

	applied := commit(func() {
		n := len(fs.Features)
		t.mu.Lock()
		t.features = fs.Features
		t.count = &n
		t.highlight.Remove()
		t.highlight = lv.Highlight(ids)
		t.mu.Unlock()
	})
	if applied {
		t.hub.Changed(event.TopicAssets, t.Layer.ID)
		t.hub.Changed(event.TopicFeatures, t.Layer.ID)
		zap.L().Debug("assets: analysis applied", zap.String("layer", t.Title), zap.Int("level", level), zap.Int("count", len(ids)))
	}
	return nil
}

// Toggle flips layer visibility and re-runs the analysis. It returns the
// new visibility.
func (t *Task) Toggle() bool {
	visible := !t.Layer.Visible.Get()
	t.Layer.Visible.Set(visible)
	t.run()
	return visible
}

// Loaded reports whether Load succeeded.
func (t *Task) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Status snapshots the row state.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Status{
		ID:      t.Layer.ID,
		Title:   t.Title,
		Visible: t.Layer.Visible.Get(),
		Loaded:  t.loaded,
		Symbol:  t.Layer.Renderer().PreviewSymbol(),
	}
	if t.count != nil {
		n := *t.count
		st.Count = &n
		st.CountText = formatCount(t.printer, n)
		st.Alert = n > 0
		st.ListVisible = n > 0
	}
	if t.lv != nil {
		st.Suspended = t.lv.Suspended.Get()
	}
	return st
}

// Features returns the affected features of the last applied analysis.
func (t *Task) Features() []arcgis.Feature {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]arcgis.Feature(nil), t.features...)
}

// LayerView returns the layer view once loaded.
func (t *Task) LayerView() *mapview.LayerView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lv
}
