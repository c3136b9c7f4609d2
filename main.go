package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/forum-attachments/internal/api"
	"github.com/debemdeboas/forum-attachments/internal/app"
	"github.com/debemdeboas/forum-attachments/internal/auth"
	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/logger"
	"github.com/debemdeboas/forum-attachments/internal/metrics"
	"github.com/debemdeboas/forum-attachments/internal/objectstore"
	"github.com/debemdeboas/forum-attachments/internal/routes"
	"github.com/debemdeboas/forum-attachments/internal/sse"
)

const defaultConfigPath = "config.yaml"

var clients = sse.NewSSEClients()

func main() {
	envErr := godotenv.Load()

	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	l := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	app.SetLoggers(l)
	if envErr != nil {
		l.Debug().Err(envErr).Msg("No .env file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, l zerolog.Logger) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Error().Err(err).Msg("Error closing resources")
		}
	}()

	authProvider, err := auth.NewGatewayAuthProvider(cfg.Auth)
	if err != nil {
		return err
	}

	a.Posts.SetReloadNotifier(clients.NotifyReload)
	a.Sweeper.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           newHandler(a, authProvider, l),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Backend).Msg("Listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	l.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newHandler builds the full middleware chain. Metrics sit directly on the
// mux so they observe the matched pattern.
func newHandler(a *app.App, authProvider auth.AuthProvider, l zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	api.NewHandler(a.Service, a.Posts, authProvider, a.Config.Server.MaxUploadBytes).Register(mux)

	mux.Handle("GET "+routes.SSEPath, clients.Handler())

	mux.HandleFunc("GET "+routes.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.Get().PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if a.Config.Metrics.Enabled {
		mux.Handle("GET "+a.Config.Metrics.Path, metrics.Handler())
	}

	if local, ok := a.Store.(*objectstore.LocalStore); ok {
		mux.Handle("GET "+routes.MediaPath, http.StripPrefix(routes.MediaPath, local.Handler()))
	}

	securedMux := secureHeaders(metrics.Middleware(mux))
	return withLogger(l, cacheIt(authProvider.WithHeaderAuthorization()(securedMux)))
}

func withLogger(l zerolog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl := l.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()
		h.ServeHTTP(w, r.WithContext(rl.WithContext(r.Context())))
	})
}

func cacheIt(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(config.HCacheControl, "no-cache")
		h.ServeHTTP(w, r)
	})
}

func secureHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		h.ServeHTTP(w, r)
	})
}
