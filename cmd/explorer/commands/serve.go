package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"explorer/internal/api"
	"explorer/internal/explore"
	"explorer/internal/observability"
)

// NewServeCommand starts the dashboard. The listener comes up immediately;
// the API answers 503 until the data has loaded in the background.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	cfg := e.cfg
	metrics := observability.NewMetrics()
	sessions := explore.NewSessions(cfg.Explorer.MaxSessions, cfg.Explorer.SessionIdle)
	broker := explore.NewBroker(cfg.Explorer.EventBacklog)

	h := api.NewHandler(sessions, broker, metrics)
	srv := api.NewServer(cfg.Server, e.logger, h)

	go func() {
		e.logger.Info("background load started", "manifest", cfg.Data.Manifest)
		t0 := time.Now()

		ex, err := e.load(ctx)
		if err != nil {
			e.logger.Error("background load failed", "error", err)
			return
		}
		h.SetExplorer(ex)
		metrics.ObserveLoad(time.Since(t0), ex.SamplerRows())

		e.logger.Info("background load complete, API is ready", "elapsed", time.Since(t0))
	}()

	go sweepSessions(ctx, e, sessions, broker, metrics)

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("server listening", "addr", cfg.Server.Addr)
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepSessions(ctx context.Context, e *env, sessions *explore.Sessions, broker *explore.Broker, metrics *observability.Metrics) {
	interval := e.cfg.Explorer.SessionIdle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed := sessions.Sweep()
			for _, id := range closed {
				broker.Drop(id)
			}
			if len(closed) > 0 {
				e.logger.Info("idle sessions closed", "count", len(closed))
			}
			metrics.SetSessions(sessions.Len())
			metrics.SetSubscribers(broker.Subscribers())
		}
	}
}
