package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/SentryBox/config"
	"github.com/BearBump/SentryBox/internal/ingest/webhook"
	"github.com/BearBump/SentryBox/internal/metrics"
	"github.com/BearBump/SentryBox/internal/services/retry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

type adminHTTPOpts struct {
	swaggerPath string

	retries *retry.Manager
	checks  []readinessCheck
	cfg     *config.Config
}

// serve runs srv on lis until ctx is done.
func serve(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newPublicRouter(hook *webhook.Adapter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	hook.Register(r)
	return r
}

func newAdminRouter(opts adminHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for _, c := range opts.checks {
			if err := c.check(ctx); err != nil {
				failed[c.name] = err.Error()
			}
		}
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "errors": failed})
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.retries == nil {
			_, _ = w.Write([]byte(`{"error":"retry manager not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.retries.Stats())
	})

	r.Get("/retries", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.retries == nil {
			_, _ = w.Write([]byte(`{"error":"retry manager not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.retries.Pending())
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.retries == nil {
			_, _ = w.Write([]byte(`{"error":"retry manager not wired"}`))
			return
		}
		opts.retries.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Без секретов: только операционные настройки.
		sb := opts.cfg.SentryBox
		out := map[string]any{
			"streamSource":          sb.StreamSource,
			"retryIntervalSeconds":  sb.RetryIntervalSeconds,
			"retryMaxAttempts":      sb.RetryMaxAttempts,
			"retryConcurrency":      sb.RetryConcurrency,
			"cooldownLimit":         sb.CooldownLimit,
			"cooldownWindowSeconds": sb.CooldownWindowSeconds,
			"testVins":              len(sb.TestVINs),
			"simulatedDelayMs":      sb.SimulatedDelayMs,
			"webhookSigned":         sb.WebhookSecret != "",
			"telegramDryRun":        opts.cfg.Telegram.DryRun,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Handle("/metrics", metrics.Handler())

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		} else {
			slog.Warn("swagger file not found, docs disabled", "path", opts.swaggerPath)
		}
	}

	return r
}

// runGRPCHealthServer exposes grpc.health.v1 for orchestrators.
func runGRPCHealthServer(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("sentrybox.Relay", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		s.GracefulStop()
	}()

	if err := s.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
