// Package api defines the JSON Huma routes of the viewer.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/assets"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/humastar"
	"github.com/joeblew999/plat-slr/internal/identity"
	"github.com/joeblew999/plat-slr/internal/mapview"
	"github.com/joeblew999/plat-slr/internal/tour"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"fac"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
	Ready   bool   `json:"ready" doc:"Whether the viewer finished its ready chain"`
}

type SessionBody struct {
	Page       app.PageState    `json:"page"`
	WaterLevel waterlevel.State `json:"waterLevel"`
	Tour       tour.Snapshot    `json:"tour"`
	Identity   *identity.UI     `json:"identity,omitempty"`
	Camera     *event.Camera    `json:"camera,omitempty"`
	Popup      *app.Popup       `json:"popup,omitempty"`
}

type LevelInput struct {
	Body struct {
		Level int `json:"level" minimum:"0" maximum:"10" doc:"Water level in feet above MHHW"`
	}
}

type SampleInput struct {
	X float64 `query:"x" doc:"Longitude" example:"-80.19"`
	Y float64 `query:"y" doc:"Latitude" example:"25.76"`
}

// AssetBody is one asset row with its available actions.
type AssetBody struct {
	assets.Status
}

var assetActions = []humastar.ActionDef{
	{Rel: "toggle", Pattern: "/api/v1/assets/%s/toggle", Method: http.MethodPost, Title: "Toggle layer visibility"},
	{Rel: "features", Pattern: "/api/v1/assets/%s/features", Method: http.MethodGet, Title: "List affected features"},
}

// Actions implements humastar.Actor.
func (b AssetBody) Actions() []humastar.Action {
	if !b.Loaded {
		return nil
	}
	return humastar.ActionsFor(b.ID, assetActions)
}

type FeaturesInput struct {
	IDInput
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Page offset"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"20" doc:"Page size"`
}

type ListInput struct {
	Body struct {
		Title *string `json:"title,omitempty" doc:"Asset title to drill into; omit for the summary"`
	}
}

type CountBody struct {
	Changed int `json:"changed" doc:"Number of layers toggled"`
}

type ExtentBody struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// ViewReportInput is the browser's view state. Omitted fields are unchanged.
type ViewReportInput struct {
	Body struct {
		Extent        *ExtentBody     `json:"extent,omitempty"`
		Scale         float64         `json:"scale,omitempty"`
		Updating      *bool           `json:"updating,omitempty"`
		Stationary    *bool           `json:"stationary,omitempty"`
		Ready         *bool           `json:"ready,omitempty"`
		LayerUpdating map[string]bool `json:"layerUpdating,omitempty"`
	}
}

// Report converts the body to a view report.
func (in *ViewReportInput) Report() mapview.Report {
	b := in.Body
	r := mapview.Report{
		Scale:         b.Scale,
		Updating:      b.Updating,
		Stationary:    b.Stationary,
		Ready:         b.Ready,
		LayerUpdating: b.LayerUpdating,
	}
	if e := b.Extent; e != nil {
		r.Extent = &orb.Bound{Min: orb.Point{e.XMin, e.YMin}, Max: orb.Point{e.XMax, e.YMax}}
	}
	return r
}

type ClickInput struct {
	Body struct {
		LayerID    string         `json:"layerId,omitempty" doc:"Hit layer, empty when nothing was hit"`
		Attributes map[string]any `json:"attributes,omitempty"`
		X          float64        `json:"x" doc:"Longitude"`
		Y          float64        `json:"y" doc:"Latitude"`
	}
}

// TourBody is the tour snapshot with play or pause as its action.
type TourBody struct {
	tour.Snapshot
}

// Actions implements humastar.Actor.
func (b TourBody) Actions() []humastar.Action {
	if len(b.Options) == 0 {
		return nil
	}
	a := humastar.Action{Rel: "play", Href: "/api/v1/tour/toggle", Method: http.MethodPost, Title: "Play tour"}
	if b.Playing {
		a.Rel, a.Title = "pause", "Pause tour"
	}
	return []humastar.Action{a}
}

type SelectInput struct {
	Body struct {
		Label string `json:"label" minLength:"1" doc:"Scenario location label"`
	}
}

type SignInInput struct {
	Body struct {
		Token     string `json:"token" minLength:"1" doc:"Portal access token"`
		ExpiresIn int    `json:"expiresIn,omitempty" minimum:"0" doc:"Token lifetime in seconds; 0 never expires"`
	}
}

// APIHandler holds the JSON handlers of one viewer session. Methods named
// Register* are auto-discovered by huma.AutoRegister.
type APIHandler struct {
	session *app.Session
}

// NewAPIHandler creates the handler. A nil session answers 503 everywhere
// except /health.
func NewAPIHandler(s *app.Session) *APIHandler {
	return &APIHandler{session: s}
}

// RegisterHealth registers the health check.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterSession registers the whole-session snapshot and view reporting.
func (h *APIHandler) RegisterSession(api huma.API) {
	huma.Get(api, "/api/v1/session", h.GetSession, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/view", h.PostView, huma.OperationTags("session"))
	huma.Post(api, "/api/v1/click", h.PostClick, huma.OperationTags("session"))
	huma.Delete(api, "/api/v1/popup", h.DeletePopup, huma.OperationTags("session"))
}

// RegisterWaterLevel registers the slider routes.
func (h *APIHandler) RegisterWaterLevel(api huma.API) {
	huma.Get(api, "/api/v1/waterlevel", h.GetWaterLevel, huma.OperationTags("waterlevel"))
	huma.Put(api, "/api/v1/waterlevel", h.PutWaterLevel, huma.OperationTags("waterlevel"))
	huma.Get(api, "/api/v1/waterlevel/sample", h.GetSample, huma.OperationTags("waterlevel"))
}

// RegisterAssets registers the asset panel routes.
func (h *APIHandler) RegisterAssets(api huma.API) {
	huma.Get(api, "/api/v1/assets", h.GetAssets, huma.OperationTags("assets"))
	huma.Get(api, "/api/v1/assets/{id}", h.GetAsset, huma.OperationTags("assets"))
	huma.Post(api, "/api/v1/assets/{id}/toggle", h.ToggleAsset, huma.OperationTags("assets"))
	huma.Get(api, "/api/v1/assets/{id}/features", h.GetAssetFeatures, huma.OperationTags("assets"))
	huma.Post(api, "/api/v1/assets/select-all", h.SelectAll, huma.OperationTags("assets"))
	huma.Post(api, "/api/v1/assets/select-none", h.SelectNone, huma.OperationTags("assets"))
	huma.Put(api, "/api/v1/assets/list", h.PutList, huma.OperationTags("assets"))
}

// RegisterTour registers the scenario tour routes.
func (h *APIHandler) RegisterTour(api huma.API) {
	huma.Get(api, "/api/v1/tour", h.GetTour, huma.OperationTags("tour"))
	huma.Put(api, "/api/v1/tour/selection", h.PutSelection, huma.OperationTags("tour"))
	huma.Post(api, "/api/v1/tour/toggle", h.ToggleTour, huma.OperationTags("tour"))
}

// RegisterIdentity registers sign-in routes.
func (h *APIHandler) RegisterIdentity(api huma.API) {
	huma.Get(api, "/api/v1/identity", h.GetIdentity, huma.OperationTags("identity"))
	huma.Post(api, "/api/v1/identity/sign-in", h.SignIn, huma.OperationTags("identity"))
	huma.Post(api, "/api/v1/identity/sign-out", h.SignOut, huma.OperationTags("identity"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	ready := h.session != nil && h.session.Ready()
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version, Ready: ready}}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *struct{}) (*struct{ Body SessionBody }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	body := SessionBody{
		Page:       s.Page(),
		WaterLevel: s.WaterLevel.State(),
		Tour:       s.Tour.Snapshot(),
		Camera:     s.Camera(),
		Popup:      s.Popup(),
	}
	if s.Identity != nil {
		ui := s.Identity.UI()
		body.Identity = &ui
	}
	return &struct{ Body SessionBody }{Body: body}, nil
}

func (h *APIHandler) PostView(ctx context.Context, input *ViewReportInput) (*struct{}, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	s.ReportView(input.Report())
	return &struct{}{}, nil
}

func (h *APIHandler) PostClick(ctx context.Context, input *ClickInput) (*struct{ Body app.Popup }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	p, err := s.Click(ctx, app.Click{
		LayerID:    input.Body.LayerID,
		Attributes: input.Body.Attributes,
		Point:      orb.Point{input.Body.X, input.Body.Y},
	})
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body app.Popup }{Body: *p}, nil
}

func (h *APIHandler) DeletePopup(ctx context.Context, input *struct{}) (*struct{}, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	s.ClosePopup()
	return &struct{}{}, nil
}

func (h *APIHandler) GetWaterLevel(ctx context.Context, input *struct{}) (*struct{ Body waterlevel.State }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	return &struct{ Body waterlevel.State }{Body: s.WaterLevel.State()}, nil
}

func (h *APIHandler) PutWaterLevel(ctx context.Context, input *LevelInput) (*struct{ Body waterlevel.State }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	if !s.WaterLevel.State().Enabled {
		return nil, huma.Error503ServiceUnavailable("water level slider not enabled yet")
	}
	if _, err := s.WaterLevel.SetWaterLevel(input.Body.Level); err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body waterlevel.State }{Body: s.WaterLevel.State()}, nil
}

func (h *APIHandler) GetSample(ctx context.Context, input *SampleInput) (*struct{ Body waterlevel.Popup }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	p, err := s.Sample(ctx, orb.Point{input.X, input.Y})
	if err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body waterlevel.Popup }{Body: *p}, nil
}

func (h *APIHandler) GetAssets(ctx context.Context, input *struct{}) (*struct{ Body assets.PanelState }, error) {
	panel, err := h.panel()
	if err != nil {
		return nil, err
	}
	return &struct{ Body assets.PanelState }{Body: panel.State()}, nil
}

func (h *APIHandler) GetAsset(ctx context.Context, input *IDInput) (*struct{ Body AssetBody }, error) {
	task, err := h.task(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body AssetBody }{Body: AssetBody{task.Status()}}, nil
}

func (h *APIHandler) ToggleAsset(ctx context.Context, input *IDInput) (*struct{ Body AssetBody }, error) {
	task, err := h.task(input.ID)
	if err != nil {
		return nil, err
	}
	if !task.Loaded() {
		return nil, huma.Error409Conflict("asset layer not loaded")
	}
	task.Toggle()
	return &struct{ Body AssetBody }{Body: AssetBody{task.Status()}}, nil
}

func (h *APIHandler) GetAssetFeatures(ctx context.Context, input *FeaturesInput) (*struct {
	Body humastar.PageBody[assets.FeatureSummary]
}, error) {
	task, err := h.task(input.ID)
	if err != nil {
		return nil, err
	}
	all := assets.Summaries(task.Features(), task.Layer.ObjectIDField())
	return &struct {
		Body humastar.PageBody[assets.FeatureSummary]
	}{Body: humastar.Page(all, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) SelectAll(ctx context.Context, input *struct{}) (*struct{ Body CountBody }, error) {
	panel, err := h.panel()
	if err != nil {
		return nil, err
	}
	return &struct{ Body CountBody }{Body: CountBody{Changed: panel.SelectAll()}}, nil
}

func (h *APIHandler) SelectNone(ctx context.Context, input *struct{}) (*struct{ Body CountBody }, error) {
	panel, err := h.panel()
	if err != nil {
		return nil, err
	}
	return &struct{ Body CountBody }{Body: CountBody{Changed: panel.SelectNone()}}, nil
}

func (h *APIHandler) PutList(ctx context.Context, input *ListInput) (*struct{ Body assets.PanelState }, error) {
	panel, err := h.panel()
	if err != nil {
		return nil, err
	}
	panel.EnableFeaturesList(input.Body.Title)
	return &struct{ Body assets.PanelState }{Body: panel.State()}, nil
}

func (h *APIHandler) GetTour(ctx context.Context, input *struct{}) (*struct{ Body TourBody }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	return &struct{ Body TourBody }{Body: TourBody{s.Tour.Snapshot()}}, nil
}

func (h *APIHandler) PutSelection(ctx context.Context, input *SelectInput) (*struct{ Body TourBody }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	if err := s.Tour.Select(input.Body.Label); err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body TourBody }{Body: TourBody{s.Tour.Snapshot()}}, nil
}

func (h *APIHandler) ToggleTour(ctx context.Context, input *struct{}) (*struct{ Body TourBody }, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	if _, err := s.Tour.TogglePlay(); err != nil {
		return nil, statusError(err)
	}
	return &struct{ Body TourBody }{Body: TourBody{s.Tour.Snapshot()}}, nil
}

func (h *APIHandler) GetIdentity(ctx context.Context, input *struct{}) (*struct{ Body identity.UI }, error) {
	m, err := h.identity()
	if err != nil {
		return nil, err
	}
	return &struct{ Body identity.UI }{Body: m.UI()}, nil
}

func (h *APIHandler) SignIn(ctx context.Context, input *SignInInput) (*struct{ Body identity.UI }, error) {
	m, err := h.identity()
	if err != nil {
		return nil, err
	}
	var expires time.Time
	if input.Body.ExpiresIn > 0 {
		expires = time.Now().Add(time.Duration(input.Body.ExpiresIn) * time.Second)
	}
	m.AddCredential(input.Body.Token, expires)
	return &struct{ Body identity.UI }{Body: m.UI()}, nil
}

func (h *APIHandler) SignOut(ctx context.Context, input *struct{}) (*struct{ Body identity.UI }, error) {
	m, err := h.identity()
	if err != nil {
		return nil, err
	}
	m.SignOut(ctx)
	return &struct{ Body identity.UI }{Body: m.UI()}, nil
}

// helpers

func (h *APIHandler) require() (*app.Session, error) {
	if h.session == nil {
		return nil, huma.Error503ServiceUnavailable("viewer session not available")
	}
	return h.session, nil
}

func (h *APIHandler) panel() (*assets.Panel, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	p := s.Assets()
	if p == nil {
		return nil, huma.Error503ServiceUnavailable("asset panel not ready")
	}
	return p, nil
}

func (h *APIHandler) task(id string) (*assets.Task, error) {
	p, err := h.panel()
	if err != nil {
		return nil, err
	}
	t := p.Task(id)
	if t == nil {
		return nil, huma.Error404NotFound("asset layer not found")
	}
	return t, nil
}

func (h *APIHandler) identity() (*identity.Manager, error) {
	s, err := h.require()
	if err != nil {
		return nil, err
	}
	if s.Identity == nil {
		return nil, huma.Error404NotFound("no portal configured")
	}
	return s.Identity, nil
}

// statusError maps domain errors to HTTP status errors.
func statusError(err error) error {
	switch {
	case errors.Is(err, app.ErrNotReady), errors.Is(err, tour.ErrNotLoaded):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, tour.ErrUnknownLabel):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, waterlevel.ErrLevelOutOfRange):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	zap.L().Error("api: request failed", zap.Error(err))
	return huma.Error500InternalServerError("internal error", err)
}
