// Package viewer contains the Datastar SSE handlers of the viewer page. The
// browser posts its signals; every state change reaches it as element
// patches, signal patches and custom events over one event stream.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/humastar"
	"github.com/joeblew999/plat-slr/internal/tour"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

// Tag marks viewer operations; they get no derived hypermedia links.
const Tag = "viewer"

// Handler serves the viewer page and its Datastar endpoints.
type Handler struct {
	humastar.Handler
	session *app.Session
}

// NewHandler creates the handler. A nil session streams an error signal.
func NewHandler(s *app.Session, renderer *humastar.Renderer) *Handler {
	return &Handler{Handler: humastar.Handler{Renderer: renderer}, session: s}
}

// PageData is the data of the "viewer" template.
type PageData struct {
	Page      app.PageState
	Signals   string
	MapConfig MapConfig
}

// Page returns the data the page template renders.
func (h *Handler) Page() (PageData, error) {
	if h.session == nil {
		return PageData{}, app.ErrNoApplicationBase
	}
	raw, err := json.Marshal(Signals(h.session))
	if err != nil {
		return PageData{}, err
	}
	page := h.session.Page()
	return PageData{
		Page:      page,
		Signals:   string(raw),
		MapConfig: BuildMapConfig(h.session.Map, page.Container),
	}, nil
}

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags(Tag)
	huma.Get(api, "/api/v1/viewer/events", h.Events, tags)
	huma.Post(api, "/api/v1/viewer/waterlevel", h.SetWaterLevel, tags)
	huma.Post(api, "/api/v1/viewer/assets/{id}/toggle", h.ToggleAsset, tags)
	huma.Post(api, "/api/v1/viewer/assets/{id}/features", h.ShowFeatures, tags)
	huma.Post(api, "/api/v1/viewer/assets/summary", h.ShowSummary, tags)
	huma.Post(api, "/api/v1/viewer/assets/select-all", h.SelectAll, tags)
	huma.Post(api, "/api/v1/viewer/assets/select-none", h.SelectNone, tags)
	huma.Post(api, "/api/v1/viewer/tour/select", h.SelectLocation, tags)
	huma.Post(api, "/api/v1/viewer/tour/toggle", h.ToggleTour, tags)
	huma.Post(api, "/api/v1/viewer/identity/sign-in", h.SignIn, tags)
	huma.Post(api, "/api/v1/viewer/identity/sign-out", h.SignOut, tags)
	huma.Post(api, "/api/v1/viewer/popup/close", h.ClosePopup, tags)
}

// Events pushes the whole page once, then the current projection of every
// topic changed on the session hub until the client disconnects. Changes
// that arrive while a push is written collapse into one push per topic.
func (h *Handler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			if h.session == nil {
				sse.Error("viewer session not available")
				return
			}
			pending := h.session.Hub().Watch()
			defer pending.Stop()

			h.PushAll(sse)
			done := humaCtx.Context().Done()
			for {
				select {
				case <-done:
					return
				case <-pending.Ready():
					for _, topic := range pending.Drain() {
						h.Push(sse, topic)
					}
				}
			}
		},
	}, nil
}

// PushAll sends every projection.
func (h *Handler) PushAll(sse humastar.SSE) {
	for _, t := range []event.Topic{
		event.TopicPage, event.TopicIdentity, event.TopicWaterLevel,
		event.TopicAssets, event.TopicFeatures, event.TopicTour, event.TopicCamera,
	} {
		h.Push(sse, t)
	}
}

// Push sends the projection of one topic.
func (h *Handler) Push(sse humastar.SSE, topic event.Topic) {
	s := h.session
	switch topic {
	case event.TopicPage:
		sse.Signals(PageSignals(s.Page()))
		sse.Replace(h.Render("popup", s.Popup()), "#popup")

	case event.TopicIdentity:
		sse.Replace(h.Render("signin", SignInUI(s)), "#signin")

	case event.TopicWaterLevel:
		st := s.WaterLevel.State()
		sse.Signals(WaterLevelSignals(st))
		sse.Replace(h.Render("slider-ticks", st.Ticks), "#slider-ticks")
		if st.Rule != nil {
			sse.Event(EventRule, Rule{LayerID: s.WaterLevel.LayerID(), Rule: st.Rule})
		}

	case event.TopicAssets:
		p := s.Assets()
		if p == nil {
			return
		}
		st := p.State()
		sse.Signals(AssetSignals(st))
		rows := make([]any, 0, len(st.Rows))
		for _, r := range st.Rows {
			rows = append(rows, r)
		}
		sse.Patch(h.RenderList("asset-row", rows, "No assets", "This map has no asset layers."), "#asset-list")
		vis, hl := LayerCommands(p)
		for _, v := range vis {
			sse.Event(EventVisibility, v)
		}
		for _, x := range hl {
			sse.Event(EventHighlight, x)
		}

	case event.TopicFeatures:
		p := s.Assets()
		if p == nil {
			return
		}
		st := p.State()
		items := make([]any, 0, len(st.Features))
		for _, f := range st.Features {
			items = append(items, f)
		}
		sse.Patch(h.RenderList("feature-item", items, "No affected features", "Nothing is flooded at this water level."), "#feature-list")

	case event.TopicTour:
		snap := s.Tour.Snapshot()
		sse.Signals(TourSignals(snap))
		opts := make([]humastar.SelectOptionData, 0, len(snap.Options))
		for _, o := range snap.Options {
			opts = append(opts, humastar.SelectOptionData{Value: o, Label: o, Selected: o == snap.Selected})
		}
		sse.Patch(h.RenderSelect("", opts), "#tour-select")

	case event.TopicCamera:
		if cam := s.Camera(); cam != nil {
			sse.Event(EventCamera, cam)
		}
	}
}

// IDSignalsInput is a Datastar action on one asset layer.
type IDSignalsInput struct {
	ID      string `path:"id" doc:"Layer ID"`
	RawBody []byte
}

// act runs fn and answers with an error signal, cleared on success.
func (h *Handler) act(raw []byte, fn func(s *app.Session, signals humastar.Signals) error) (*huma.StreamResponse, error) {
	if h.session == nil {
		return nil, huma.Error503ServiceUnavailable("viewer session not available")
	}
	in := humastar.SignalsInput{RawBody: raw}
	signals, err := in.Parse()
	if err != nil {
		return nil, err
	}
	msg := ""
	if err := fn(h.session, signals); err != nil {
		zap.L().Warn("viewer: action failed", zap.Error(err))
		msg = actionMessage(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"error": msg})
	}), nil
}

func actionMessage(err error) string {
	switch {
	case errors.Is(err, app.ErrNotReady):
		return "The viewer is still loading."
	case errors.Is(err, tour.ErrUnknownLabel):
		return "Unknown scenario location."
	case errors.Is(err, tour.ErrNotLoaded), errors.Is(err, tour.ErrNoLocations):
		return "Scenario locations are not available."
	case errors.Is(err, waterlevel.ErrLevelOutOfRange):
		return "Water level out of range."
	case errors.Is(err, errUnknownAsset):
		return "Unknown asset layer."
	case errors.Is(err, errNoPortal):
		return "Sign-in is not available."
	case errors.Is(err, errNoToken):
		return "Enter a portal token."
	}
	return err.Error()
}

var (
	errUnknownAsset = eris.New("viewer: unknown asset layer")
	errNoPortal     = eris.New("viewer: no portal configured")
	errNoToken      = eris.New("viewer: enter a portal token")
)

func (h *Handler) SetWaterLevel(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, sig humastar.Signals) error {
		if !s.WaterLevel.State().Enabled {
			return app.ErrNotReady
		}
		_, err := s.WaterLevel.SetWaterLevel(sig.Int("waterLevel"))
		return err
	})
}

func (h *Handler) ToggleAsset(ctx context.Context, input *IDSignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		p := s.Assets()
		if p == nil {
			return app.ErrNotReady
		}
		t := p.Task(input.ID)
		if t == nil {
			return errUnknownAsset
		}
		if !t.Loaded() {
			return app.ErrNotReady
		}
		t.Toggle()
		return nil
	})
}

func (h *Handler) ShowFeatures(ctx context.Context, input *IDSignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		p := s.Assets()
		if p == nil {
			return app.ErrNotReady
		}
		if !p.ShowFeatures(input.ID) {
			return errUnknownAsset
		}
		return nil
	})
}

func (h *Handler) ShowSummary(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		p := s.Assets()
		if p == nil {
			return app.ErrNotReady
		}
		p.EnableFeaturesList(nil)
		return nil
	})
}

func (h *Handler) SelectAll(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		p := s.Assets()
		if p == nil {
			return app.ErrNotReady
		}
		p.SelectAll()
		return nil
	})
}

func (h *Handler) SelectNone(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		p := s.Assets()
		if p == nil {
			return app.ErrNotReady
		}
		p.SelectNone()
		return nil
	})
}

func (h *Handler) SelectLocation(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, sig humastar.Signals) error {
		return s.Tour.Select(sig.String("tourSelected"))
	})
}

func (h *Handler) ToggleTour(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		_, err := s.Tour.TogglePlay()
		return err
	})
}

func (h *Handler) SignIn(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, sig humastar.Signals) error {
		if s.Identity == nil {
			return errNoPortal
		}
		token := sig.String("portalToken")
		if token == "" {
			return errNoToken
		}
		s.Identity.AddCredential(token, time.Time{})
		return nil
	})
}

func (h *Handler) SignOut(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		if s.Identity == nil {
			return errNoPortal
		}
		s.Identity.SignOut(ctx)
		return nil
	})
}

func (h *Handler) ClosePopup(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	return h.act(input.RawBody, func(s *app.Session, _ humastar.Signals) error {
		s.ClosePopup()
		return nil
	})
}
