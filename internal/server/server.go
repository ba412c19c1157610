package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/naskit/nasd/internal/config"
	"github.com/naskit/nasd/internal/engine"
	"github.com/naskit/nasd/internal/metrics"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/internal/tasks"
	"github.com/naskit/nasd/pkg/api"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Engine is the plugin lifecycle surface the HTTP handlers drive.
type Engine interface {
	Install(ctx context.Context, repoURL, tag string) error
	Update(ctx context.Context, name string) error
	UpdateAll(ctx context.Context) error
	Uninstall(ctx context.Context, name string) ([]string, error)
	ListInstalled() ([]engine.InstalledPlugin, error)
	CheckUpdates(ctx context.Context, forceRefresh bool) ([]api.UpdateStatus, error)
	ListReleases(ctx context.Context, repoURL string, forceRefresh bool) (*release.Index, error)
	RunUserHook(ctx context.Context, name, hookName string) error
}

type Server struct {
	router  chi.Router
	log     *logrus.Logger
	engine  Engine
	tasks   *tasks.Runner
	config  *config.Config
	cache   *cache.Cache
	rec     metrics.Recorder
	metrics http.Handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service": "nasd plugin manager",
		"version": s.config.Version,
	})
}

func New(log *logrus.Logger, eng Engine, taskRunner *tasks.Runner, rec metrics.Recorder, metricsHandler http.Handler, cfg *config.Config) *Server {
	router := chi.NewRouter()
	server := &Server{
		router:  router,
		log:     log,
		engine:  eng,
		tasks:   taskRunner,
		config:  cfg,
		cache:   cache.New(5*time.Minute, 10*time.Minute),
		rec:     rec,
		metrics: metricsHandler,
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)

	router.Use(middleware.Timeout(15 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/plugins", server.listPlugins)
		r.Get("/plugins/updates", server.checkUpdates)
		r.With(server.cacheMiddleware).Get("/releases", server.listReleases)

		// mutating routes
		r.With(server.authMiddleware).Group(func(r chi.Router) {
			r.Post("/plugins/install", server.installPlugin)
			r.Post("/plugins/update", server.updatePlugins)
			r.Delete("/plugins/{plugin}", server.uninstallPlugin)
			r.Post("/plugins/{plugin}/hooks/{hook}", server.runPluginHook)
		})
	})

	return server
}
