package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"preconsult/internal/config"
	"preconsult/internal/consultation"
	"preconsult/internal/platform/logger"
	"preconsult/internal/platform/metrics"
	"preconsult/internal/platform/telegram"
	"preconsult/internal/report"
	"preconsult/internal/roster"
	"preconsult/internal/script"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(cfg.Metrics.Namespace, reg)

	// 2. Content
	catalog, err := script.Default()
	if err != nil {
		return fmt.Errorf("loading scripts: %w", err)
	}
	patients, err := roster.Default()
	if err != nil {
		return fmt.Errorf("loading patients: %w", err)
	}

	// 3. Clients
	var tg report.TelegramClient
	if cfg.Telegram.Enabled() {
		tg = telegram.NewClient(cfg.Telegram.BotToken, telegram.WithAPIURL(cfg.Telegram.APIURL))
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, report delivery disabled")
	}

	// 4. Services
	reportSvc := report.NewService(tg, cfg.Telegram.DoctorChatID, cfg.Report.FontPaths, log.Named("report"))
	consultationSvc := consultation.NewService(
		consultation.NewRepository(),
		catalog,
		patients,
		reportSvc,
		m,
		log.Named("consultation"),
		consultation.WithTimestamps(cfg.Reveal.ShowTimestamps),
	)
	consultationHandler := consultation.NewHandler(consultationSvc, patients, catalog, cfg.Reveal.Pacing(), m, log.Named("http"))

	// 5. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.Server.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(m.Middleware)
		r.Handle("/metrics", metrics.Handler(reg))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	// Reveal streams are long lived, so there is no write timeout.
	srv := &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Environment),
			zap.Strings("conditions", catalog.IDs()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	anyOrigin := slices.Contains(origins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "X-Request-ID",
			}, ", "))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
