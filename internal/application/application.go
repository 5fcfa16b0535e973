package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/hparams/internal/api"
	"github.com/eugenenazirov/hparams/internal/config"
	"github.com/eugenenazirov/hparams/internal/recipe"
	"github.com/eugenenazirov/hparams/internal/reload"
	"github.com/eugenenazirov/hparams/internal/storage"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg      config.Config
	storage  storage.Storage
	reloader *reload.Reloader
	handler  *api.Handler
	router   http.Handler
	logger   *zap.Logger
	server   *http.Server
}

// New initializes the application with all dependencies from the provided
// configuration. The recipe is loaded and validated once before New returns;
// a recipe that does not load or validate is a startup error.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store := storage.NewMemoryStorage()
	schema := recipe.Schema(cfg.Strict)

	var opts []reload.Option
	if cfg.WatchDebounce > 0 {
		opts = append(opts, reload.WithDebounce(cfg.WatchDebounce))
	}
	reloader := reload.New(cfg.RecipePath, schema, store, logger, opts...)
	if err := reloader.Reload(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}

	handler := api.NewHandler(store, schema, api.WithReloader(reloader))
	apiRouter := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithMetrics(cfg.EnableMetrics),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &App{
		cfg:      cfg,
		storage:  store,
		reloader: reloader,
		handler:  handler,
		router:   apiRouter,
		logger:   logger,
		server:   NewServer(cfg, BuildRootHandler(apiRouter)),
	}, nil
}

// BuildRootHandler mounts the API router under /api/ and /metrics and
// redirects the bare root to the document listing.
func BuildRootHandler(apiHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", apiHandler)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/document", http.StatusFound)
	}))
	return mux
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the recipe watcher when enabled, then the HTTP server in a
// goroutine.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Watch {
		if err := a.reloader.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch recipe: %w", err)
		}
	}

	go func() {
		a.logger.Info("server listening",
			zap.String("addr", a.server.Addr),
			zap.String("recipe", a.reloader.Path()),
			zap.Bool("watch", a.cfg.Watch),
		)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Close stops the recipe watcher. The HTTP server is shut down separately
// through Server.
func (a *App) Close() {
	a.reloader.Stop()
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}
