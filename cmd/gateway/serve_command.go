package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"hls-gateway/internal/orchestrator"
	"hls-gateway/internal/platform/config"
	"hls-gateway/internal/platform/events"
	"hls-gateway/internal/platform/logger"
	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/sources"
	"hls-gateway/internal/transcode"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		port     string
		logLevel string
		ffmpeg   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				s.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				s.LogLevel = logLevel
			}
			if cmd.Flags().Changed("ffmpeg") {
				s.FFmpegPath = ffmpeg
			}
			return runServer(cmd.Context(), s)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP listen port (default from PORT or 8080)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "", "Path to the ffmpeg binary")
	return cmd
}

func runServer(cmdCtx context.Context, s config.Settings) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.New(s.LogLevel, s.LogFormat)

	bus := events.New()
	defer bus.Close()
	met := metrics.New()
	unsubscribe := met.Subscribe(bus)
	defer unsubscribe()

	store := sources.Open(sources.NewFilePersister(s.MetadataFile), log)
	runner := transcode.NewExecRunner(log, config.Millis(s.StopGraceMS))
	svc, err := orchestrator.NewService(orchestrator.Options{
		FFmpegPath:     s.FFmpegPath,
		WorkRoot:       s.WorkDir,
		CapturesDir:    s.CapturesDir,
		PollInterval:   config.Millis(s.StartupPollMS),
		StartupTimeout: config.Millis(s.StartupTimeoutMS),
		CaptureTimeout: config.Millis(s.CaptureTimeoutMS),
		SegmentSeconds: s.SegmentSeconds,
		WindowSize:     s.WindowSize,
	}, runner, store, bus, log)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("server starting",
		slog.String("port", s.Port),
		slog.String("ffmpeg", s.FFmpegPath),
		slog.String("work_dir", s.WorkDir),
		slog.String("captures_dir", s.CapturesDir),
		slog.String("metadata_file", s.MetadataFile),
		slog.Int("startup_timeout_ms", s.StartupTimeoutMS),
		slog.String("log_level", s.LogLevel),
	)

	select {
	case <-signalCtx.Done():
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("shutdown signal received, stopping sessions and draining connections")

	if err := shutdownAll(svc, srv, config.Millis(s.ShutdownTimeoutMS)); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}

	log.Info("server stopped")
	return nil
}

type sessionStopper interface {
	Shutdown(ctx context.Context)
}

type connDrainer interface {
	Shutdown(ctx context.Context) error
}

// shutdownAll stops sessions, then drains HTTP connections. Each phase gets
// its own timeout so slow transcoders cannot starve the drain.
func shutdownAll(svc sessionStopper, srv connDrainer, timeout time.Duration) error {
	// Pending starts resolve here, so their handlers return before the drain.
	sessCtx, cancelSess := context.WithTimeout(context.Background(), timeout)
	svc.Shutdown(sessCtx)
	cancelSess()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
	defer cancelDrain()
	return srv.Shutdown(drainCtx)
}
