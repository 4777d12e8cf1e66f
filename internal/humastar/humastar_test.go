package humastar

import (
	"context"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-slr/internal/templates"
	"github.com/joeblew999/plat-slr/web"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"waterLevel":4,"tourSelected":"Miami","tourPlaying":true,"nested":{"a":"b"}}`))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Int("waterLevel"))
	assert.Equal(t, 4.0, s.Float("waterLevel"))
	assert.Equal(t, "Miami", s.String("tourSelected"))
	assert.True(t, s.Bool("tourPlaying"))
	assert.Equal(t, "b", s.Object("nested").String("a"))
	assert.False(t, s.Has("missing"))
	assert.Equal(t, "", s.String("waterLevel"))

	empty, err := ParseSignals(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSignals([]byte("{"))
	assert.Error(t, err)

	in := &SignalsInput{RawBody: []byte("not json")}
	_, err = in.Parse()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.GetStatus())
}

func TestPage(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	p := Page(all, 2, 2)
	assert.Equal(t, []int{3, 4}, p.Data)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, []string{
		`</x?offset=0&limit=2>; rel="first"`,
		`</x?offset=0&limit=2>; rel="prev"`,
		`</x?offset=4&limit=2>; rel="next"`,
		`</x?offset=4&limit=2>; rel="last"`,
	}, p.PaginationLinks("/x"))

	beyond := Page(all, 10, 2)
	assert.Empty(t, beyond.Data)
	assert.Equal(t, 5, beyond.Offset)

	whole := Page(all, 0, 0)
	assert.Len(t, whole.Data, 5)
	assert.Equal(t, 5, whole.Limit)

	none := Page([]int{}, 0, 0)
	assert.Equal(t, 1, none.Limit)
	assert.Equal(t, []string{
		`</x?offset=0&limit=1>; rel="first"`,
		`</x?offset=0&limit=1>; rel="last"`,
	}, none.PaginationLinks("/x"))

	assert.Nil(t, PageBody[int]{}.PaginationLinks("/x"))
}

func TestActionsFor(t *testing.T) {
	actions := ActionsFor("fac", []ActionDef{
		{Rel: "toggle", Pattern: "/api/v1/assets/%s/toggle", Method: http.MethodPost, Title: "Toggle layer"},
	})
	require.Len(t, actions, 1)
	assert.Equal(t,
		`</api/v1/assets/fac/toggle>; rel="toggle"; method="POST"; title="Toggle layer"`,
		actions[0].LinkHeader())
	assert.Equal(t, `</a>; rel="b"`, Action{Rel: "b", Href: "/a"}.LinkHeader())
}

type thingBody struct {
	ID string `json:"id"`
}

func (thingBody) Actions() []Action {
	return []Action{{Rel: "refresh", Href: "/api/v1/things/refresh", Method: http.MethodPost}}
}

func TestLinks(t *testing.T) {
	links := NewLinks("viewer")
	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, links.Transformer())
	_, api := humatest.New(t, config)

	noop := func(ctx context.Context, _ *struct{}) (*struct{}, error) { return &struct{}{}, nil }
	huma.Get(api, "/health", noop)
	huma.Get(api, "/api/v1/things", func(ctx context.Context, _ *struct{}) (*struct{ Body PageBody[string] }, error) {
		return &struct{ Body PageBody[string] }{Body: Page([]string{"a", "b", "c"}, 0, 2)}, nil
	})
	huma.Get(api, "/api/v1/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body thingBody }, error) {
		return &struct{ Body thingBody }{Body: thingBody{ID: in.ID}}, nil
	})
	huma.Put(api, "/api/v1/level", noop)
	huma.Post(api, "/api/v1/viewer/action", noop, huma.OperationTags("viewer"))
	links.Build(api)

	root := links.Root()
	assert.Contains(t, root, `</api/v1/things>; rel="things"`)
	assert.Contains(t, root, `</openapi.json>; rel="describedby"`)
	assert.NotContains(t, root, `</api/v1/viewer/action>; rel="action"`)
	assert.Contains(t, links.For("/api/v1/level"), `</api/v1/level>; rel="edit"`)
	assert.Empty(t, links.For("/api/v1/viewer/action"))

	resp := api.Get("/api/v1/things")
	require.Equal(t, http.StatusOK, resp.Code)
	got := resp.Result().Header.Values("Link")
	assert.Contains(t, got, `</api/v1/things/{id}>; rel="item"`)
	assert.Contains(t, got, `</health>; rel="up"`)
	assert.Contains(t, got, `</api/v1/things?offset=2&limit=2>; rel="next"`)

	resp = api.Get("/api/v1/things/t1")
	require.Equal(t, http.StatusOK, resp.Code)
	got = resp.Result().Header.Values("Link")
	assert.Contains(t, got, `</api/v1/things/t1>; rel="self"`)
	assert.Contains(t, got, `</api/v1/things>; rel="collection"`)
	assert.Contains(t, got, `</api/v1/things/refresh>; rel="refresh"; method="POST"`)
}

func TestRenderHelpers(t *testing.T) {
	r, err := templates.NewFS(web.Templates())
	require.NoError(t, err)
	h := &Handler{Renderer: r}

	empty := h.RenderList("feature-item", nil, "No assets", "Nothing here")
	assert.Contains(t, empty, "No assets")
	assert.Contains(t, empty, "Nothing here")

	list := h.RenderList("feature-item", []any{
		map[string]any{"ObjectID": 7, "Title": "Harbor School"},
	}, "", "")
	assert.Contains(t, list, `data-object-id="7"`)
	assert.Contains(t, list, "Harbor School")

	sel := h.RenderSelect("Choose a location", []SelectOptionData{
		{Value: "Miami", Label: "Miami", Selected: true},
	})
	assert.Contains(t, sel, "Choose a location")
	assert.Contains(t, sel, `<option value="Miami" selected>Miami</option>`)

	var none Handler
	assert.Equal(t, "", none.RenderList("feature-item", nil, "a", "b"))
	assert.Equal(t, "", none.Render("feature-item", nil))
}
