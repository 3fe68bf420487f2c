package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/peterluvCS/portfolio-manager/internal/app"
	"github.com/peterluvCS/portfolio-manager/internal/config"
	"github.com/peterluvCS/portfolio-manager/internal/ingest"
	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/trade"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := cfg.Logger()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	backend, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("store close failed")
		}
	}()

	engine, err := app.NewEngine(ctx, cfg, backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub(log)
	go wsHub.Run(ctx)

	// --- Price refresh ---
	job, err := app.NewPriceJob(cfg, backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build price job")
	}
	job.OnSnapshot(wsHub.PriceUpdated)

	sched := ingest.NewScheduler(log)
	if cfg.Prices.Cron != "" {
		if err := sched.AddJob(cfg.Prices.Cron, job); err != nil {
			log.Fatal().Err(err).Msg("failed to schedule price job")
		}
	}
	sched.Start()
	defer sched.Stop()

	tradeSvc := trade.NewService(engine, job, wsHub, log)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-manager","store":"` + backend.Kind + `"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	tradeSvc.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // a full price refresh can take a while
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("store", backend.Kind).Msg("portfolio-manager listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info().Msg("shutting down portfolio-manager...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("portfolio-manager stopped")
}

// requestLogger logs one line per HTTP request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	log = log.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
