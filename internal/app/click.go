package app

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

// PopupKind tells the browser which popup template to show.
type PopupKind string

const (
	PopupFeature PopupKind = "feature"
	PopupSearch  PopupKind = "search"
)

// Click is a hit-test result forwarded by the browser. LayerID is empty
// when nothing was hit.
type Click struct {
	LayerID    string
	Attributes map[string]any
	Point      orb.Point
}

// Popup is the content shown for a click or a search result.
type Popup struct {
	Kind       PopupKind         `json:"kind"`
	LayerID    string            `json:"layerId,omitempty"`
	Title      string            `json:"title"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Point      orb.Point         `json:"point"`
	Sample     *waterlevel.Popup `json:"sample,omitempty"`
}

// Click resolves a click into a popup. Hits on asset layers show the
// feature; anything else samples the water level at the point.
func (s *Session) Click(ctx context.Context, c Click) (*Popup, error) {
	panel := s.Assets()
	if panel == nil {
		return nil, ErrNotReady
	}

	var p *Popup
	if c.LayerID != "" && panel.IsAssetLayer(c.LayerID) {
		p = &Popup{
			Kind:       PopupFeature,
			LayerID:    c.LayerID,
			Title:      panel.Task(c.LayerID).Title,
			Attributes: c.Attributes,
			Point:      c.Point,
		}
	} else {
		sample, err := s.Sample(ctx, c.Point)
		if err != nil {
			return nil, err
		}
		p = &Popup{Kind: PopupSearch, Title: "Search result", Point: c.Point, Sample: sample}
	}

	s.mu.Lock()
	s.popup = p
	s.mu.Unlock()
	s.hub.Changed(event.TopicPage, "")
	return p, nil
}

// Sample reads the water level at pt and formats the popup sentence.
func (s *Session) Sample(ctx context.Context, pt orb.Point) (*waterlevel.Popup, error) {
	sampler := s.WaterLevel.Sampler()
	if sampler == nil {
		return nil, ErrNotReady
	}
	p := waterlevel.PopupMessage(sampler.GetWaterLevel(ctx, pt))
	return &p, nil
}

// Popup returns the last popup, or nil.
func (s *Session) Popup() *Popup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.popup
}

// ClosePopup clears the popup.
func (s *Session) ClosePopup() {
	s.mu.Lock()
	s.popup = nil
	s.mu.Unlock()
	s.hub.Changed(event.TopicPage, "")
}
