// Package server wires the viewer session, the feature store and the HTTP
// routes into one handler.
package server

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-slr/internal/api"
	"github.com/joeblew999/plat-slr/internal/api/viewer"
	"github.com/joeblew999/plat-slr/internal/app"
	"github.com/joeblew999/plat-slr/internal/appbase"
	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
	"github.com/joeblew999/plat-slr/internal/event"
	"github.com/joeblew999/plat-slr/internal/humastar"
	"github.com/joeblew999/plat-slr/internal/identity"
	"github.com/joeblew999/plat-slr/internal/store"
	"github.com/joeblew999/plat-slr/internal/templates"
	"github.com/joeblew999/plat-slr/web"
)

// LocalWebMap is the item id used for a web map loaded from a file.
const LocalWebMap = "local"

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // web/ directory overriding the embedded templates and static files
	// Offline registers every route without opening the store or resolving
	// items. Used to export the OpenAPI document.
	Offline bool
}

// Server is the viewer HTTP server.
type Server struct {
	config  Config
	app     *config.Config
	mux     *http.ServeMux
	humaAPI huma.API
	links   *humastar.Links

	store    *store.Store
	session  *app.Session
	renderer *templates.Renderer
	viewer   *viewer.Handler
	cancel   context.CancelFunc
}

// New creates the server and starts the viewer session. A session that
// cannot be built leaves the API answering 503.
func New(cfg Config, appCfg *config.Config) (*Server, error) {
	if appCfg == nil {
		appCfg = &config.Config{}
	}
	mux := http.NewServeMux()
	links := humastar.NewLinks(viewer.Tag)

	humaConfig := huma.DefaultConfig("plat-slr API", api.Version)
	humaConfig.Info.Description = "Sea level rise viewer: water level, asset impact analysis and scenario tour."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	renderer, err := loadRenderer(cfg.WebDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		app:      appCfg,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		links:    links,
		renderer: renderer,
	}

	if !cfg.Offline {
		s.open()
	}
	s.routes()
	return s, nil
}

func loadRenderer(webDir string) (*templates.Renderer, error) {
	if webDir != "" {
		dir := filepath.Join(webDir, "templates")
		if templates.Dir(dir) {
			zap.L().Info("server: templates from disk", zap.String("dir", dir))
			return templates.New(dir)
		}
	}
	return templates.NewFS(web.Templates())
}

func (s *Server) open() {
	conn, err := store.Get(store.Config{DataDir: s.config.DataDir, DBName: "slr"})
	if err != nil {
		zap.L().Warn("server: feature store unavailable", zap.Error(err))
	} else {
		s.store = store.New(conn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	httpCfg := s.app.HTTP
	client := arcgis.NewClient(
		arcgis.WithTimeout(time.Duration(httpCfg.TimeoutSecs)*time.Second),
		arcgis.WithRateLimit(httpCfg.RateLimit),
	)
	portal := client.Portal(s.app.App.PortalURL)
	var signIn identity.Portal
	if s.app.App.PortalURL != "" {
		signIn = portal
	}

	shell := appbase.FromConfig(s.app.App)
	var loader appbase.ItemLoader = appbase.PortalLoader{Portal: portal}
	if path := s.app.App.WebMapFile; path != "" {
		loader = appbase.FileLoader{Path: path}
		if len(shell.WebMaps) == 0 {
			shell.WebMaps = []string{LocalWebMap}
		}
	}
	base := appbase.Resolve(ctx, shell, loader)

	session, err := app.Bootstrap(ctx, base, app.Deps{
		Config:      s.app,
		Hub:         event.NewHub(),
		Resolver:    app.NewResolver(client, s.store),
		Portal:      signIn,
		Credentials: identity.NewCredentialStore(),
	})
	if err != nil {
		zap.L().Error("server: viewer session not started", zap.Error(err))
		return
	}
	s.session = session
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Session returns the viewer session, or nil.
func (s *Server) Session() *app.Session { return s.session }

// OpenAPI returns the OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close stops the session and closes the store.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.session != nil {
		s.session.Close()
	}
	if s.store != nil {
		return store.Close()
	}
	return nil
}

func (s *Server) routes() {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.session))
	api.NewInfoHandler(s.config.DataDir, s.store != nil, s.session).RegisterRoutes(s.humaAPI)
	api.NewStoreHandler(s.store).RegisterRoutes(s.humaAPI)

	s.viewer = viewer.NewHandler(s.session, s.renderer)
	s.viewer.RegisterRoutes(s.humaAPI)

	s.links.Build(s.humaAPI)

	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServerFS(s.staticFS())))
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) staticFS() fs.FS {
	if s.config.WebDir != "" {
		dir := filepath.Join(s.config.WebDir, "static")
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return web.Static()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	for _, link := range s.links.Root() {
		w.Header().Add("Link", link)
	}

	data, err := s.viewer.Page()
	if err != nil {
		http.Error(w, "viewer not available", http.StatusServiceUnavailable)
		return
	}
	html, err := s.renderer.Render("viewer", data)
	if err != nil {
		zap.L().Error("server: render viewer", zap.Error(eris.Wrap(err, "server: viewer page")))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
