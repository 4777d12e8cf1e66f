// Package assets runs the per-layer flood analysis of infrastructure asset
// layers and keeps the asset panel state: counts, alerts, highlights and the
// drill-in feature list.
package assets

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

// DefaultPrefix marks asset layers by title.
const DefaultPrefix = "US HIFLD Assets - "

// DisplayTitle strips prefix and turns underscores into spaces.
func DisplayTitle(title, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(title, prefix), "_", " ")
}

// Options configure a Panel.
type Options struct {
	Prefix   string
	MinScale float64
	Debounce time.Duration
	Locale   string
}

// LayerOutcome is the initialisation result of one asset layer.
type LayerOutcome struct {
	LayerID string `json:"layerId"`
	Title   string `json:"title"`
	Err     error  `json:"-"`
}

// FeatureSummary is one entry of the drill-in list.
type FeatureSummary struct {
	ObjectID   int64          `json:"objectId"`
	Title      string         `json:"title"`
	Attributes map[string]any `json:"attributes"`
}

// PanelState is the projected panel.
type PanelState struct {
	Busy        bool             `json:"busy"`
	ListMode    bool             `json:"listMode"`
	AssetTitle  string           `json:"assetTitle"`
	BackEnabled bool             `json:"backEnabled"`
	Rows        []Status         `json:"rows"`
	Features    []FeatureSummary `json:"features"`
}

// Panel owns every asset layer task.
type Panel struct {
	view *mapview.View
	hub  *event.Hub

	tasks []*Task
	byID  map[string]*Task

	mu        sync.RWMutex
	busy      bool
	listTitle *string
	listLayer string
	off       func()
}

// NewPanel discovers asset layers in the view's map by title prefix.
func NewPanel(view *mapview.View, hub *event.Hub, opts Options) *Panel {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	p := &Panel{view: view, hub: hub, byID: make(map[string]*Task)}
	printer := NewPrinter(opts.Locale)
	for _, l := range view.Map.Layers() {
		if !strings.HasPrefix(l.Title, opts.Prefix) {
			continue
		}
		t := NewTask(l, DisplayTitle(l.Title, opts.Prefix), view, hub, opts.MinScale, opts.Debounce)
		t.printer = printer
		p.tasks = append(p.tasks, t)
		p.byID[l.ID] = t
	}
	p.off = hub.Analysis.On(p.onAnalysisStatus)
	return p
}

// Init loads every task concurrently and waits for all of them. A failing
// layer does not stop the others.
func (p *Panel) Init(ctx context.Context) []LayerOutcome {
	outcomes := make([]LayerOutcome, len(p.tasks))
	var g errgroup.Group
	g.SetLimit(8)
	for i, t := range p.tasks {
		g.Go(func() error {
			err := t.Load(ctx)
			outcomes[i] = LayerOutcome{LayerID: t.Layer.ID, Title: t.Title, Err: err}
			if err != nil {
				zap.L().Error("assets: layer init failed", zap.String("layer", t.Title), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	p.hub.Changed(event.TopicAssets, "")
	return outcomes
}

// Close stops every task.
func (p *Panel) Close() {
	if p.off != nil {
		p.off()
	}
	for _, t := range p.tasks {
		t.Close()
	}
}

// Wait blocks until no analysis is running.
func (p *Panel) Wait() {
	for _, t := range p.tasks {
		t.Wait()
	}
}

func (p *Panel) onAnalysisStatus(s event.AnalysisStatus) {
	p.mu.Lock()
	switch s.Status {
	case event.AnalysisSuspended, event.AnalysisNotSuspended:
		p.busy = false
		p.listTitle, p.listLayer = nil, ""
	case event.AnalysisStart:
		p.busy = true
		p.listTitle, p.listLayer = nil, ""
	case event.AnalysisEnd:
		p.busy = p.view.Updating.Get()
	}
	p.mu.Unlock()
	p.hub.Changed(event.TopicAssets, "")
}

// IsAssetLayer reports whether id belongs to an asset layer.
func (p *Panel) IsAssetLayer(id string) bool {
	_, ok := p.byID[id]
	return ok
}

// Task returns the task for a layer id, or nil.
func (p *Panel) Task(id string) *Task {
	return p.byID[id]
}

// Tasks returns every task in map order.
func (p *Panel) Tasks() []*Task {
	return p.tasks
}

// Rows returns the status of every row.
func (p *Panel) Rows() []Status {
	rows := make([]Status, 0, len(p.tasks))
	for _, t := range p.tasks {
		rows = append(rows, t.Status())
	}
	return rows
}

// EnableFeaturesList switches between the summary (nil) and the drill-in
// list for the asset titled *title.
func (p *Panel) EnableFeaturesList(title *string) {
	p.mu.Lock()
	if title == nil {
		p.listTitle, p.listLayer = nil, ""
	} else {
		v := *title
		p.listTitle = &v
		p.listLayer = ""
		for _, t := range p.tasks {
			if t.Title == v {
				p.listLayer = t.Layer.ID
				break
			}
		}
	}
	p.mu.Unlock()
	p.hub.Changed(event.TopicAssets, "")
	p.hub.Changed(event.TopicFeatures, "")
}

// ShowFeatures opens the drill-in list of one layer.
func (p *Panel) ShowFeatures(id string) bool {
	t := p.byID[id]
	if t == nil {
		return false
	}
	title := t.Title
	p.EnableFeaturesList(&title)
	return true
}

// SelectAll turns on every loaded row that is off.
func (p *Panel) SelectAll() int { return p.replay(false) }

// SelectNone turns off every loaded row that is on.
func (p *Panel) SelectNone() int { return p.replay(true) }

func (p *Panel) replay(visible bool) int {
	n := 0
	for _, t := range p.tasks {
		if t.Loaded() && t.Layer.Visible.Get() == visible {
			t.Toggle()
			n++
		}
	}
	return n
}

// Busy reports whether the view container shows its busy state.
func (p *Panel) Busy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.busy
}

// State snapshots the panel for rendering.
func (p *Panel) State() PanelState {
	p.mu.RLock()
	st := PanelState{Busy: p.busy}
	layerID := p.listLayer
	if p.listTitle != nil {
		st.ListMode = true
		st.AssetTitle = *p.listTitle
		st.BackEnabled = true
	}
	p.mu.RUnlock()

	st.Rows = p.Rows()
	st.Features = []FeatureSummary{}
	if t := p.byID[layerID]; t != nil && st.ListMode {
		st.Features = Summaries(t.Features(), t.Layer.ObjectIDField())
	}
	return st
}

var titleFields = []string{"NAME", "Name", "name", "Label", "FACILITY", "TITLE"}

// Summaries converts features to list entries ordered by object id.
func Summaries(features []arcgis.Feature, oidField string) []FeatureSummary {
	out := make([]FeatureSummary, 0, len(features))
	for _, f := range features {
		oid, _ := f.ObjectID(oidField)
		title := ""
		for _, k := range titleFields {
			if s := f.String(k); s != "" {
				title = s
				break
			}
		}
		if title == "" {
			title = "Feature " + strconv.FormatInt(oid, 10)
		}
		out = append(out, FeatureSummary{ObjectID: oid, Title: title, Attributes: f.Attributes})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out
}

var defaultPrinter = message.NewPrinter(language.English)

// NewPrinter formats counts the way locale groups digits. An unparsable
// locale falls back to English.
func NewPrinter(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		return defaultPrinter
	}
	return message.NewPrinter(tag)
}

func formatCount(p *message.Printer, n int) string {
	return p.Sprintf("%d", n)
}
