// Package waterlevel owns the selected sea-level-rise height: the slider
// state, the flood raster rendering rule and point sampling of flood depth.
package waterlevel

import (
	"context"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/mapview"
)

// Slider range in feet above mean higher high water.
const (
	MinLevel = 0
	MaxLevel = 10
)

var (
	ErrLevelOutOfRange = eris.New("waterlevel: level out of range")
	ErrNoLayer         = eris.New("waterlevel: water level layer not found")
)

// TickKind selects the label format.
type TickKind string

const (
	TickValue TickKind = "value"
	TickMin   TickKind = "min"
	TickMax   TickKind = "max"
)

// Label formats a slider label.
func Label(value int, kind TickKind) string {
	switch kind {
	case TickMax:
		return "Water Level"
	case TickMin:
		return "Current Mean Higher High Water"
	case TickValue:
		switch value {
		case 0:
			return "MHHW"
		case 1:
			return "1 foot"
		default:
			return strconv.Itoa(value) + " feet"
		}
	}
	return strconv.Itoa(value) + " ft"
}

// Tick is one labelled slider stop.
type Tick struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// Ticks returns the eleven slider ticks.
func Ticks() []Tick {
	out := make([]Tick, 0, MaxLevel-MinLevel+1)
	for v := MinLevel; v <= MaxLevel; v++ {
		out = append(out, Tick{Value: v, Label: Label(v, TickValue)})
	}
	return out
}

// State is the projected slider state.
type State struct {
	Level    int             `json:"level"`
	Label    string          `json:"label"`
	Enabled  bool            `json:"enabled"`
	MinLabel string          `json:"minLabel"`
	MaxLabel string          `json:"maxLabel"`
	Ticks    []Tick          `json:"ticks"`
	Rule     *RasterFunction `json:"renderingRule,omitempty"`
}

// Control applies water levels to the flood layer.
type Control struct {
	layer *mapview.Layer
	hub   *event.Hub

	mu      sync.RWMutex
	level   int
	enabled bool
	sampler *Sampler
}

// NewControl binds the control to the water level image layer.
func NewControl(layer *mapview.Layer, hub *event.Hub) *Control {
	return &Control{layer: layer, hub: hub}
}

// Init loads the image layer and prepares sampling.
func (c *Control) Init(ctx context.Context) (*Sampler, error) {
	if c.layer == nil {
		return nil, ErrNoLayer
	}
	if err := c.layer.Load(ctx); err != nil {
		return nil, eris.Wrap(err, "waterlevel: load layer")
	}
	s := NewSampler(c.layer.Image())
	c.mu.Lock()
	c.sampler = s
	c.mu.Unlock()
	return s, nil
}

// LayerID returns the id of the driven image layer, or "" when it is missing.
func (c *Control) LayerID() string {
	if c.layer == nil {
		return ""
	}
	return c.layer.ID
}

// Sampler returns the sampler created by Init, or nil.
func (c *Control) Sampler() *Sampler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sampler
}

// SetWaterLevel applies the rendering rule for level and announces the
// change. Re-applying the same level is allowed and emits again.
func (c *Control) SetWaterLevel(level int) (*RasterFunction, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, eris.Wrapf(ErrLevelOutOfRange, "waterlevel: %d", level)
	}
	rule := RenderingRule(level)
	if c.layer != nil {
		c.layer.SetRenderingRule(rule)
	}

	c.mu.Lock()
	c.level = level
	c.mu.Unlock()

	zap.L().Debug("waterlevel: set", zap.Int("level", level))
	if c.hub != nil {
		c.hub.SLR.Publish(event.SLRChange{WaterLevel: level})
		c.hub.Changed(event.TopicWaterLevel, "")
	}
	return rule, nil
}

// Level returns the current water level.
func (c *Control) Level() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Enable makes the slider interactive.
func (c *Control) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
	c.hub.Changed(event.TopicWaterLevel, "")
}

// State snapshots the slider for rendering.
func (c *Control) State() State {
	c.mu.RLock()
	level, enabled := c.level, c.enabled
	c.mu.RUnlock()

	st := State{
		Level:    level,
		Label:    Label(level, TickValue),
		Enabled:  enabled,
		MinLabel: Label(MinLevel, TickMin),
		MaxLabel: Label(MaxLevel, TickMax),
		Ticks:    Ticks(),
	}
	if c.layer != nil {
		if rule, ok := c.layer.RenderingRule().(*RasterFunction); ok {
			st.Rule = rule
		}
	}
	return st
}
