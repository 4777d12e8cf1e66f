// Package app is the viewer session coordinator. It builds the map and view
// from the application context and drives the bootstrap chain: view ready,
// sign-in, then the tour, the water level control and the asset panel.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/appbase"
	"github.com/joeblew999/plat-slr/internal/assets"
	"github.com/joeblew999/plat-slr/internal/config"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/identity"
	"github.com/joeblew999/plat-slr/internal/mapview"
	"github.com/joeblew999/plat-slr/internal/tour"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

var (
	ErrNoApplicationBase = eris.New("app: no application base")
	ErrNoItem            = eris.New("app: no web map or web scene item")
	ErrNotReady          = eris.New("app: application not ready")
)

// ViewContainer is the DOM id the browser mounts the view into.
const ViewContainer = "view-container"

// PopupOptions are the popup docking settings applied once the view is ready.
type PopupOptions struct {
	DockEnabled       bool   `json:"dockEnabled"`
	Position          string `json:"position"`
	ButtonEnabled     bool   `json:"buttonEnabled"`
	BreakpointEnabled bool   `json:"breakpointEnabled"`
}

// PageState is the projected page shell.
type PageState struct {
	Title           string        `json:"title"`
	Locale          string        `json:"locale"`
	Direction       string        `json:"direction"`
	Container       string        `json:"container"`
	Loading         bool          `json:"loading"`
	Updating        bool          `json:"updating"`
	Busy            bool          `json:"busy"`
	Popup           *PopupOptions `json:"popup,omitempty"`
	SearchZoomScale float64       `json:"searchZoomScale"`
	Error           string        `json:"error,omitempty"`
}

// Deps are the collaborators a session is built with.
type Deps struct {
	Config      *config.Config
	Hub         *event.Hub
	Resolver    mapview.Resolver
	Portal      identity.Portal
	Credentials *identity.CredentialStore
}

// Session owns every component of one viewer.
type Session struct {
	Map        *mapview.Map
	View       *mapview.View
	Identity   *identity.Manager
	Tour       *tour.Controller
	WaterLevel *waterlevel.Control

	hub  *event.Hub
	cfg  *config.Config
	base *appbase.Base

	mu     sync.RWMutex
	page   PageState
	panel  *assets.Panel
	camera *event.Camera
	popup  *Popup
	err    error

	done   chan struct{}
	tourWG sync.WaitGroup
}

// Bootstrap validates the application context, builds the map and view and
// starts the ready chain in the background. ctx bounds the whole session.
func Bootstrap(ctx context.Context, base *appbase.Base, deps Deps) (*Session, error) {
	if base == nil {
		zap.L().Error("app: bootstrap failed", zap.Error(ErrNoApplicationBase))
		return nil, ErrNoApplicationBase
	}
	items := base.ValidItems()
	if len(items) == 0 {
		zap.L().Error("app: bootstrap failed", zap.Error(ErrNoItem))
		return nil, ErrNoItem
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	hub := deps.Hub
	if hub == nil {
		hub = event.NewHub()
	}

	item := items[0]
	title := base.Config.Title
	if title == "" {
		title = item.Title()
	}

	m := mapview.NewMap(title, item.Data, base.AppProxies(), deps.Resolver)
	if m.InitialExtent == nil && len(cfg.Map.Extent) == 4 {
		e := cfg.Map.Extent
		m.InitialExtent = &orb.Bound{Min: orb.Point{e[0], e[1]}, Max: orb.Point{e[2], e[3]}}
	}
	if m.InitialScale == 0 {
		m.InitialScale = cfg.Map.Scale
	}

	s := &Session{
		Map:  m,
		hub:  hub,
		cfg:  cfg,
		base: base,
		done: make(chan struct{}),
		page: PageState{
			Title:           title,
			Locale:          base.Locale,
			Direction:       base.Direction,
			Container:       ViewContainer,
			Loading:         true,
			SearchZoomScale: m.InitialScale,
		},
	}
	s.View = mapview.NewView(m, mapview.NavigatorFunc(s.goTo))
	if deps.Portal != nil {
		creds := deps.Credentials
		if creds == nil {
			creds = identity.NewCredentialStore()
		}
		s.Identity = identity.NewManager(deps.Portal, creds, hub)
	}
	s.Tour = tour.NewController(s.View, hub, tour.Options{
		Pause: time.Duration(cfg.Tour.PauseMS) * time.Millisecond,
		Zoom:  cfg.Tour.Zoom,
	})
	s.WaterLevel = waterlevel.NewControl(m.FindLayerByTitle(cfg.WaterLevel.LayerTitle), hub)

	zap.L().Info("app: bootstrapped", zap.String("title", title), zap.Int("layers", len(m.Layers())))
	go s.run(ctx)
	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	if err := s.View.WhenReady(ctx); err != nil {
		s.fail(eris.Wrap(err, "app: view never became ready"))
		return
	}
	s.viewReady(ctx)
}

func (s *Session) viewReady(ctx context.Context) {
	if s.Identity != nil {
		_ = s.Identity.InitializeUserSignIn(ctx)
	}
	s.mu.Lock()
	s.page.Popup = &PopupOptions{DockEnabled: true, Position: "top-right"}
	s.mu.Unlock()
	s.applicationReady(ctx)
}

func (s *Session) applicationReady(ctx context.Context) {
	minScale := s.View.Scale()

	s.tourWG.Add(1)
	go func() {
		defer s.tourWG.Done()
		layer := s.Map.FindLayerByTitle(s.cfg.Tour.LayerTitle)
		if err := s.Tour.Load(ctx, layer); err != nil {
			zap.L().Warn("app: tour unavailable", zap.Error(err))
		}
	}()

	if _, err := s.WaterLevel.Init(ctx); err != nil {
		s.fail(err)
		return
	}

	prefix := s.cfg.Assets.LayerPrefix
	if prefix == "" {
		prefix = assets.DefaultPrefix
	}
	panel := assets.NewPanel(s.View, s.hub, assets.Options{
		Prefix:   prefix,
		MinScale: minScale,
		Debounce: time.Duration(s.cfg.Assets.DebounceMS) * time.Millisecond,
		Locale:   s.base.Locale,
	})
	s.mu.Lock()
	s.panel = panel
	s.mu.Unlock()
	panel.Init(ctx)

	if _, err := s.WaterLevel.SetWaterLevel(waterlevel.MinLevel); err != nil {
		s.fail(err)
		return
	}
	s.WaterLevel.Enable()

	s.mu.Lock()
	s.page.Loading = false
	s.mu.Unlock()
	zap.L().Info("app: ready", zap.Float64("analysisMinScale", minScale))
	s.hub.Changed(event.TopicPage, "")
}

// fail records a bootstrap error. The page stays in the loading state.
func (s *Session) fail(err error) {
	zap.L().Error("app: bootstrap chain failed", zap.Error(err))
	s.mu.Lock()
	s.err = err
	s.page.Error = err.Error()
	s.mu.Unlock()
	s.hub.Changed(event.TopicPage, "")
}

// Done is closed once the ready chain has finished, successfully or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the ready chain error, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Wait blocks until the ready chain, the tour load and every running
// analysis have finished.
func (s *Session) Wait() {
	<-s.done
	s.tourWG.Wait()
	if p := s.Assets(); p != nil {
		p.Wait()
	}
}

// Close stops every background goroutine of the session.
func (s *Session) Close() {
	if p := s.Assets(); p != nil {
		p.Close()
	}
	s.Tour.Close()
	if s.Identity != nil {
		s.Identity.Close()
	}
}

// Hub returns the session's event hub.
func (s *Session) Hub() *event.Hub { return s.hub }

// Base returns the application context.
func (s *Session) Base() *appbase.Base { return s.base }

// Assets returns the asset panel, or nil before the application is ready.
func (s *Session) Assets() *assets.Panel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panel
}

// Ready reports whether the whole ready chain succeeded.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.page.Loading && s.err == nil
}

// Page returns the projected page shell.
func (s *Session) Page() PageState {
	s.mu.RLock()
	p := s.page
	panel := s.panel
	s.mu.RUnlock()
	if p.Popup != nil {
		opts := *p.Popup
		p.Popup = &opts
	}
	p.Updating = s.View.Updating.Get()
	if panel != nil {
		p.Busy = panel.Busy()
	}
	return p
}

// ReportView applies a browser viewport report.
func (s *Session) ReportView(r mapview.Report) {
	s.View.Apply(r)
	s.hub.Changed(event.TopicPage, "")
}

func (s *Session) goTo(ctx context.Context, t mapview.Target) error {
	cam := event.Camera{X: t.Center[0], Y: t.Center[1], Zoom: t.Zoom, Animate: t.Animate}
	s.mu.Lock()
	s.camera = &cam
	s.mu.Unlock()
	s.hub.Camera.Publish(cam)
	s.hub.Changed(event.TopicCamera, "")
	return nil
}

// Camera returns the last navigation target, or nil.
func (s *Session) Camera() *event.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.camera == nil {
		return nil
	}
	c := *s.camera
	return &c
}
