package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// EntryPoint is the path every collection links back to with rel="up".
const EntryPoint = "/health"

// Links holds the RFC 8288 Link headers derived from the OpenAPI document,
// keyed by operation path. Create it before the API so its Transformer can
// go into the huma config, then Build it once every route is registered.
type Links struct {
	mu   sync.RWMutex
	byOp map[string][]string
	skip []string
}

// NewLinks returns an empty index. Operations tagged with any of skipTags
// (the Datastar endpoints) get no derived links.
func NewLinks(skipTags ...string) *Links {
	return &Links{byOp: map[string][]string{}, skip: skipTags}
}

// Build derives links from api's OpenAPI paths:
//
//   - items link to their parent collection (collection, up)
//   - collections link to their item templates (item) and to the entry point
//   - PUT operations get edit
//   - the entry point links to every collection and to the API description
func (l *Links) Build(api huma.API) {
	oapi := api.OpenAPI()
	byOp := map[string][]string{}
	add := func(from, to, rel string) {
		v := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
		if !slices.Contains(byOp[from], v) {
			byOp[from] = append(byOp[from], v)
		}
	}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if l.skipped(pi) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	slices.Sort(collections)
	slices.Sort(items)

	for _, item := range items {
		parent := path.Dir(item)
		if _, ok := oapi.Paths[parent]; ok {
			add(item, parent, "collection")
			add(item, parent, "up")
			add(parent, item, "item")
		}
	}
	for _, coll := range collections {
		if coll == EntryPoint {
			continue
		}
		add(coll, EntryPoint, "up")
		add(EntryPoint, coll, lastSegment(coll))
	}
	for _, p := range append(slices.Clone(collections), items...) {
		if oapi.Paths[p].Put != nil {
			add(p, p, "edit")
		}
	}
	add(EntryPoint, "/openapi.json", "describedby")
	add(EntryPoint, "/openapi.json", "service-desc")
	add(EntryPoint, "/docs", "service-doc")

	for p, headers := range byOp {
		pi, ok := oapi.Paths[p]
		if !ok {
			continue
		}
		for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Delete} {
			if op != nil {
				documentLinks(op, headers)
			}
		}
	}

	l.mu.Lock()
	l.byOp = byOp
	l.mu.Unlock()
}

// For returns the links of an operation path.
func (l *Links) For(opPath string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.byOp[opPath])
}

// Root returns the entry point links for handlers outside huma.
func (l *Links) Root() []string {
	return l.For(EntryPoint)
}

// Transformer injects the derived links plus self, pagination and action
// links from the response body.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (l *Links) skipped(pi *huma.PathItem) bool {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Delete} {
		if op == nil {
			continue
		}
		for _, t := range op.Tags {
			if slices.Contains(l.skip, t) {
				return true
			}
		}
	}
	return false
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// documentLinks records headers as OpenAPI Link objects on the 2xx response.
func documentLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{OperationRef: href, Description: "Related: " + rel}
	}
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if v, ok := strings.CutPrefix(params, `rel="`); ok {
		rel = strings.TrimSuffix(v, `"`)
	}
	return rel, href
}
