package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/Strob0t/ReviewForge/internal/adapter/http"
	"github.com/Strob0t/ReviewForge/internal/adapter/litellm"
	"github.com/Strob0t/ReviewForge/internal/adapter/mcp"
	"github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/adapter/slack"
	"github.com/Strob0t/ReviewForge/internal/adapter/ws"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/middleware"
	"github.com/Strob0t/ReviewForge/internal/port/a2a"
	"github.com/Strob0t/ReviewForge/internal/port/broadcast"
	"github.com/Strob0t/ReviewForge/internal/resilience"
	"github.com/Strob0t/ReviewForge/internal/service"
)

func newServeCmd(collect func() config.CLIFlags) *cobra.Command {
	var memoryMode bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, dispatcher and actor roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, closer, err := loadConfig(collect)
			if err != nil {
				return err
			}
			defer closer.Close()

			slog.Info("config loaded",
				"path", path,
				"port", cfg.Server.Port,
				"log_level", cfg.Logging.Level,
				"roster", len(cfg.Roster),
				"memory", memoryMode,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, config.NewHolder(cfg, path), memoryMode)
		},
	}
	cmd.Flags().BoolVar(&memoryMode, "memory", false, "keep all state in memory and run without PostgreSQL or NATS")
	return cmd
}

func runServe(ctx context.Context, holder *config.Holder, memoryMode bool) error {
	cfg := holder.Get()

	// --- Observability ---

	shutdownOtel, err := otel.Setup(ctx, otel.Config{
		Enabled:        cfg.OTEL.Enabled,
		Endpoint:       cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		ServiceName:    cfg.OTEL.ServiceName,
		SampleRate:     cfg.OTEL.SampleRate,
		MetricInterval: cfg.OTEL.MetricInterval,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	infra, err := openInfra(ctx, cfg, memoryMode)
	if err != nil {
		return err
	}
	defer infra.Close()

	// --- Services ---

	hub := ws.NewHub(allowedOrigins(cfg.Server.CORSOrigin))
	defer hub.Close()

	var live broadcast.Broadcaster = hub
	if cfg.Notify.SlackWebhookURL != "" {
		notifier := slack.NewNotifier(cfg.Notify.SlackWebhookURL)
		defer notifier.Wait()
		live = broadcast.Multi{hub, notifier}
		slog.Info("slack notifications enabled")
	}

	events := service.NewEventPublisher(live, infra.Queue, infra.Events)
	registry := service.NewRegistry(infra.Store, events)
	diffs := service.NewDiffService(diff.NewEngine(service.DiffOptionsFrom(cfg.Diff)), infra.DiffCache, cfg.Cache.DiffTTL)

	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm.SetBreaker(breaker)

	roster := service.NewRoster(service.RosterConfig{
		Review:          cfg.Review,
		AcquireAttempts: cfg.Dispatcher.RouteAttempts,
		LLM:             llm,
		DefaultModel:    cfg.LiteLLM.Model,
	}, registry, diffs, infra.Store, events, metrics)
	if err := roster.Load(ctx, cfg.Roster); err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	slog.Info("roster loaded", "actors", len(registry.List()))

	routes := cfg.Routing
	if len(routes) == 0 {
		routes = service.DefaultRoutes()
	}
	classifier, err := service.NewTableClassifier(routes)
	if err != nil {
		return fmt.Errorf("routing: %w", err)
	}

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		RouteAttempts: cfg.Dispatcher.RouteAttempts,
		GracePeriod:   cfg.Dispatcher.GracePeriod,
	}, registry, classifier, infra.Store, events, metrics)

	if infra.Queue != nil {
		cancelIntake, err := dispatcher.SubscribeIntake(ctx, infra.Queue)
		if err != nil {
			return fmt.Errorf("intake subscriber: %w", err)
		}
		defer cancelIntake()
	}

	// --- MCP ---

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Addr:    ":" + cfg.MCP.Port,
			Name:    "reviewforge",
			Version: cfhttp.Version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{
			Tasks:     dispatcher,
			Actors:    registry,
			Diffs:     diffs,
			TaskTypes: classifier.Types(),
		})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mcpSrv.Stop(stopCtx)
		}()
	}

	// --- HTTP ---

	checks := infra.Checks
	if usesLLM(cfg.Roster) {
		checks["litellm"] = func(ctx context.Context) error {
			if breaker.State() == resilience.Open {
				return resilience.ErrCircuitOpen
			}
			ok, err := llm.Health(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("unhealthy")
			}
			return nil
		}
	}

	handlers := &cfhttp.Handlers{
		Dispatcher: dispatcher,
		Registry:   registry,
		Roster:     roster,
		Store:      infra.Store,
		Events:     infra.Events,
		Diffs:      diffs,
		LiteLLM:    llm,
		Checks:     checks,
	}
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst, cfg.Rate.MaxClients)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// WebSocket connections are long-lived and outside the request timeout.
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Use(chimw.Timeout(30 * time.Second))
		cfhttp.MountRoutes(r, handlers, middleware.Idempotency(infra.Idempotency, cfg.Idempotency.TTL))
		a2a.NewHandler(cfg.Server.BaseURL, classifier.Types(), dispatcher).MountRoutes(r)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		watchReload(gctx, holder, roster, registry)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// watchReload re-reads the configuration on SIGHUP and registers roster
// entries that were added since startup. Existing actors are left as is.
func watchReload(ctx context.Context, holder *config.Holder, roster *service.Roster, registry *service.Registry) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		entries, err := holder.Reload()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		// Actors registered over the API may already carry a new name.
		known := make(map[string]bool)
		for _, a := range registry.List() {
			known[a.Name] = true
		}
		added := 0
		for _, e := range entries {
			if known[e.Name] {
				continue
			}
			if _, err := roster.Register(ctx, e); err != nil {
				slog.Error("register roster entry", "name", e.Name, "error", err)
				continue
			}
			added++
		}
		slog.Info("config reloaded", "actors_added", added)
	}
}

// allowedOrigins derives the WebSocket origin patterns from the CORS origin.
func allowedOrigins(corsOrigin string) []string {
	if corsOrigin == "" || corsOrigin == "*" {
		return nil
	}
	u, err := url.Parse(corsOrigin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func usesLLM(entries []config.RosterEntry) bool {
	for _, e := range entries {
		if e.Backend == service.BackendLLM {
			return true
		}
	}
	return false
}
