// Command llmrouter runs the model-aware reverse proxy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmrouter "github.com/ferro-labs/llm-router"
	"github.com/ferro-labs/llm-router/internal/logging"
	"github.com/ferro-labs/llm-router/internal/requestlog"
	"github.com/ferro-labs/llm-router/internal/version"
)

func main() {
	log := logging.Logger

	cfgPath := os.Getenv("ROUTER_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yml"
	}
	cfg, err := llmrouter.LoadConfig(cfgPath)
	if err != nil {
		log.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if err := llmrouter.ValidateConfig(*cfg); err != nil {
		log.Error("invalid config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	log.Info("config loaded",
		"path", cfgPath,
		"backends", len(cfg.Backends),
		"refresh_interval", cfg.Interval(),
	)

	var opts []llmrouter.Option
	if rl := cfg.RequestLog; rl != nil {
		w, err := requestlog.Open(rl.Driver, rl.DSN)
		if err != nil {
			log.Error("failed to open request log", "driver", rl.Driver, "error", err)
			os.Exit(1)
		}
		opts = append(opts, llmrouter.WithRequestLog(w))
		log.Info("request log enabled", "driver", rl.Driver)
	}

	gw, err := llmrouter.New(*cfg, opts...)
	if err != nil {
		log.Error("failed to create gateway", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.StartDiscovery(ctx); err != nil {
		log.Error("failed to start discovery", "error", err)
		os.Exit(1)
	}

	var corsOrigins []string
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(gw, corsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.Info("llm-router listening", "version", version.Short(), "addr", addr, "backends", len(cfg.Backends))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		log.Error("server error", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	if err := gw.Close(); err != nil {
		log.Warn("close gateway", "error", err)
	}
	log.Info("server stopped")
}

// newRouter builds the HTTP router.
func newRouter(gw *llmrouter.Gateway, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	// Forwarded responses carry only the backend's headers, so CORS covers
	// the router's own endpoints.
	r.Post(llmrouter.ChatCompletionsPath, forwardHandler(gw, llmrouter.ChatCompletionsPath))
	r.Post(llmrouter.CompletionsPath, forwardHandler(gw, llmrouter.CompletionsPath))

	r.Group(func(r chi.Router) {
		r.Use(corsMiddleware(corsOrigins...))

		health := func(w http.ResponseWriter, _ *http.Request) {
			writeText(w, http.StatusOK, "OK")
		}
		r.Get("/healthz", health)
		r.Get("/health", health)

		r.Get("/", indexHandler(gw))
		r.Get("/v1/models", listModelsHandler(gw))
		r.Get("/api/tags", listTagsHandler(gw))
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

// accessLog logs one line per request through the trace-aware logger.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// writeText writes a plain-text body without the trailing newline
// http.Error would add.
func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
