// Package humastar bridges Huma operations with the Datastar SSE protocol.
//
// Viewer handlers embed [Handler] to stream patches:
//
//	func (h *ViewerHandler) Events(ctx context.Context, _ *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(h.RenderList("asset-row", rows, "No assets", "No asset layers in this map"), "#asset-list")
//	    }), nil
//	}
//
// Browser actions post their signals as the raw body; [SignalsInput] parses
// them into typed lookups.
package humastar

import (
	"bytes"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/templates"
)

// Renderer renders named HTML fragments.
type Renderer = templates.Renderer

// Handler is an embeddable base for handlers that answer with Datastar SSE.
// A nil Renderer turns every render helper into an empty string, so the
// stream degrades to signals only.
type Handler struct {
	Renderer *Renderer
}

// Stream returns a Huma stream response that calls fn with an SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Render renders one template, logging failures.
func (h *Handler) Render(tmpl string, data any) string {
	if h.Renderer == nil {
		return ""
	}
	html, err := h.Renderer.Render(tmpl, data)
	if err != nil {
		zap.L().Error("humastar: render failed", zap.String("template", tmpl), zap.Error(err))
	}
	return html
}

// RenderList renders items with a named template, or an empty state.
func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	if h.Renderer == nil {
		return ""
	}
	return RenderList(h.Renderer, tmpl, items, emptyTitle, emptyMsg)
}

// RenderSelect renders select options after a placeholder.
func (h *Handler) RenderSelect(placeholder string, options []SelectOptionData) string {
	if h.Renderer == nil {
		return ""
	}
	return RenderSelect(h.Renderer, placeholder, options)
}

// SSE wraps the Datastar generator with the patch shapes the viewer uses.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates an SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the inner HTML at selector. Empty html is skipped.
func (s SSE) Patch(html, selector string) {
	if html == "" {
		return
	}
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
		datastar.WithViewTransitions(),
	)
}

// Replace replaces the outer HTML at selector.
func (s SSE) Replace(html, selector string) {
	if html == "" {
		return
	}
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeOuter(),
		datastar.WithViewTransitions(),
	)
}

// Error sends an error signal.
func (s SSE) Error(msg string) {
	s.MarshalAndPatchSignals(map[string]any{"error": msg})
}

// Signals patches arbitrary signals.
func (s SSE) Signals(signals map[string]any) {
	if len(signals) == 0 {
		return
	}
	s.MarshalAndPatchSignals(signals)
}

// Event dispatches a DOM custom event carrying detail.
func (s SSE) Event(name string, detail any) {
	s.DispatchCustomEvent(name, detail)
}

// Signals gives typed access to the flat JSON object Datastar posts.
type Signals map[string]any

// ParseSignals decodes a request body. An empty body yields no signals.
func ParseSignals(body []byte) (Signals, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Signals{}, nil
	}
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal, or "".
func (s Signals) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// Int returns a numeric signal truncated to int, or 0.
func (s Signals) Int(key string) int {
	switch n := s[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// Float returns a numeric signal, or 0.
func (s Signals) Float(key string) float64 {
	switch n := s[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// Bool returns a bool signal, or false.
func (s Signals) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Has reports whether key was posted, even with a zero value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Object returns a nested signal object, or nil.
func (s Signals) Object(key string) Signals {
	if m, ok := s[key].(map[string]any); ok {
		return Signals(m)
	}
	return nil
}

// EmptyInput is the input of operations without parameters.
type EmptyInput struct{}

// SignalsInput captures the raw body of a Datastar action.
type SignalsInput struct {
	RawBody []byte
}

// Parse parses the posted signals or returns a Huma 400 error.
func (i *SignalsInput) Parse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return signals, nil
}

// SelectOptionData is one <option>.
type SelectOptionData struct {
	Value    string
	Label    string
	Selected bool
}

// RenderList renders items with a named template, or an empty state.
func RenderList(r *Renderer, tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		_ = r.RenderToBuffer(&buf, "empty-state", map[string]string{
			"Title": emptyTitle, "Message": emptyMsg,
		})
		return buf.String()
	}
	for _, item := range items {
		if err := r.RenderToBuffer(&buf, tmpl, item); err != nil {
			zap.L().Error("humastar: render failed", zap.String("template", tmpl), zap.Error(err))
		}
	}
	return buf.String()
}

// RenderSelect renders <option> elements, the placeholder first when set.
func RenderSelect(r *Renderer, placeholder string, options []SelectOptionData) string {
	var buf bytes.Buffer
	if placeholder != "" {
		_ = r.RenderToBuffer(&buf, "select-option", SelectOptionData{Label: placeholder})
	}
	for _, opt := range options {
		_ = r.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}
