package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-slr/internal/app"
)

type InfoHandler struct {
	dataDir string
	dbOK    bool
	session *app.Session
}

func NewInfoHandler(dataDir string, dbOK bool, s *app.Session) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, dbOK: dbOK, session: s}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name     string   `json:"name" doc:"Service name"`
	Version  string   `json:"version" doc:"Service version"`
	DataDir  string   `json:"data_dir" doc:"Data directory path"`
	DB       bool     `json:"db" doc:"Whether the feature store is available"`
	Title    string   `json:"title,omitempty" doc:"Viewer title"`
	Items    []string `json:"items" doc:"Resolved web map and web scene items"`
	Error    string   `json:"error,omitempty" doc:"Ready chain failure"`
	Features []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-slr",
		Version:  Version,
		DataDir:  h.dataDir,
		DB:       h.dbOK,
		Items:    []string{},
		Features: []string{"waterlevel", "assets", "tour", "sampling"},
	}
	if h.session != nil {
		page := h.session.Page()
		body.Title = page.Title
		body.Error = page.Error
		for _, it := range h.session.Base().ValidItems() {
			body.Items = append(body.Items, it.Info.ID)
		}
		if h.session.Identity != nil {
			body.Features = append(body.Features, "identity")
		}
	}
	if h.dbOK {
		body.Features = append(body.Features, "duckdb")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
