// Package tour steps the view through the scenario locations, either on
// demand or as an autoplay loop.
package tour

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

// LabelField names the scenario location attribute shown in the selector.
const LabelField = "Label"

var (
	ErrNoLocations   = eris.New("tour: no scenario locations")
	ErrUnknownLabel  = eris.New("tour: unknown location")
	ErrNotLoaded     = eris.New("tour: not loaded")
	ErrNoSourceLayer = eris.New("tour: scenario layer has no feature source")
	ErrClosed        = eris.New("tour: closed")
)

// State is the phase of the navigation cycle.
type State string

const (
	StateIdle       State = "idle"
	StateNavigating State = "navigating"
	StateSettling   State = "settling"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
)

// Options configure a Controller.
type Options struct {
	Pause time.Duration
	Zoom  float64
}

// Location is one scenario location.
type Location struct {
	Label   string
	Center  orb.Point
	Feature arcgis.Feature
}

// Snapshot is the projected tour state.
type Snapshot struct {
	Options  []string `json:"options"`
	Selected string   `json:"selected"`
	Playing  bool     `json:"playing"`
	State    State    `json:"state"`
}

// Controller owns the location list, the selection and the play flag.
type Controller struct {
	view *mapview.View
	hub  *event.Hub
	opts Options

	mu        sync.Mutex
	ctx       context.Context
	locations []Location
	byLabel   map[string]int
	index     int
	playing   bool
	state     State
	cancel    context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

// NewController creates a controller. Zero options fall back to a 6s pause
// and zoom 14.
func NewController(view *mapview.View, hub *event.Hub, opts Options) *Controller {
	if opts.Pause <= 0 {
		opts.Pause = 6 * time.Second
	}
	if opts.Zoom <= 0 {
		opts.Zoom = 14
	}
	return &Controller{view: view, hub: hub, opts: opts, state: StateIdle, byLabel: map[string]int{}}
}

// Load queries the scenario locations ordered by label. ctx bounds every
// navigation cycle started later.
func (c *Controller) Load(ctx context.Context, layer *mapview.Layer) error {
	if layer == nil {
		return eris.Wrap(ErrNoLocations, "tour: layer missing")
	}
	if err := layer.Load(ctx); err != nil {
		return eris.Wrap(err, "tour: load layer")
	}
	src := layer.Source()
	if src == nil {
		return ErrNoSourceLayer
	}
	fs, err := src.QueryFeatures(ctx, arcgis.Query{
		OutFields:      []string{"*"},
		OrderByFields:  []string{LabelField + " ASC"},
		ReturnGeometry: true,
	})
	if err != nil {
		return eris.Wrap(err, "tour: query locations")
	}

	locations := make([]Location, 0, len(fs.Features))
	byLabel := make(map[string]int, len(fs.Features))
	for _, f := range fs.Features {
		label := f.String(LabelField)
		if f.Geometry == nil {
			continue
		}
		center, ok := f.Geometry.(orb.Point)
		if !ok {
			center = f.Geometry.Bound().Center()
		}
		byLabel[label] = len(locations)
		locations = append(locations, Location{Label: label, Center: center, Feature: f})
	}

	c.mu.Lock()
	c.ctx = ctx
	c.locations = locations
	c.byLabel = byLabel
	c.index = 0
	c.mu.Unlock()

	zap.L().Info("tour: loaded", zap.Int("locations", len(locations)))
	c.hub.Changed(event.TopicTour, "")
	return nil
}

// Locations returns the ordered locations.
func (c *Controller) Locations() []Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Location(nil), c.locations...)
}

// Snapshot returns the projected state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Options: make([]string, 0, len(c.locations)), Playing: c.playing, State: c.state}
	for _, l := range c.locations {
		s.Options = append(s.Options, l.Label)
	}
	if len(c.locations) > 0 {
		s.Selected = c.locations[c.index].Label
	}
	return s
}

// Select makes label current and navigates to it without animation.
func (c *Controller) Select(label string) error {
	c.mu.Lock()
	i, ok := c.byLabel[label]
	if !ok || i >= len(c.locations) {
		c.mu.Unlock()
		return eris.Wrapf(ErrUnknownLabel, "tour: %q", label)
	}
	c.index = i
	c.mu.Unlock()
	return c.navigate()
}

// Advance moves the selection forward, wrapping to the first location.
func (c *Controller) Advance() {
	c.mu.Lock()
	if n := len(c.locations); n > 0 {
		c.index = (c.index + 1) % n
	}
	c.mu.Unlock()
	c.hub.Changed(event.TopicTour, "")
}

// TogglePlay flips autoplay. Turning it on advances and navigates; turning
// it off stops the running cycle. It returns the new play flag.
func (c *Controller) TogglePlay() (bool, error) {
	c.mu.Lock()
	c.playing = !c.playing
	playing := c.playing
	c.mu.Unlock()

	if !playing {
		c.stop()
		c.hub.Changed(event.TopicTour, "")
		return false, nil
	}
	c.Advance()
	return true, c.navigate()
}

// Playing reports the play flag.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Close stops the cycle and waits for it to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	c.playing = false
	c.closed = true
	c.mu.Unlock()
	c.stop()
	c.wg.Wait()
}

func (c *Controller) stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateStopped
	c.mu.Unlock()
}

// navigate cancels the running cycle and starts a new one at the current
// selection.
func (c *Controller) navigate() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	if len(c.locations) == 0 {
		c.mu.Unlock()
		return ErrNoLocations
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.cycle(ctx)
	}()
	return nil
}

func (c *Controller) setState(ctx context.Context, s State) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.hub.Changed(event.TopicTour, "")
}

func (c *Controller) cycle(ctx context.Context) {
	for {
		c.mu.Lock()
		loc := c.locations[c.index]
		c.mu.Unlock()

		c.setState(ctx, StateNavigating)
		settled, off := c.watchSettle()
		err := c.view.GoTo(ctx, mapview.Target{Center: loc.Center, Zoom: c.opts.Zoom, Animate: false})
		if err != nil {
			off()
			zap.L().Warn("tour: navigation failed", zap.String("location", loc.Label), zap.Error(err))
			c.setState(ctx, StateIdle)
			return
		}

		c.setState(ctx, StateSettling)
		select {
		case <-settled:
		case <-ctx.Done():
			off()
			return
		}
		off()
		if err := c.view.Updating.Wait(ctx, false); err != nil {
			return
		}

		if !c.Playing() {
			c.setState(ctx, StateIdle)
			return
		}
		c.setState(ctx, StatePaused)
		timer := time.NewTimer(c.opts.Pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		if !c.Playing() {
			c.setState(ctx, StateIdle)
			return
		}
		c.Advance()
	}
}

// watchSettle returns a channel closed once the view starts updating.
func (c *Controller) watchSettle() (<-chan struct{}, func()) {
	started := make(chan struct{})
	var once sync.Once
	off := c.view.Updating.Watch(func(updating bool) {
		if updating {
			once.Do(func() { close(started) })
		}
	}, false)
	return started, off
}
