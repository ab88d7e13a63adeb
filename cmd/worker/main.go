package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"grounded-query/internal/app"
	"grounded-query/internal/httputil"
	"grounded-query/internal/queue"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if deps.Queue == nil {
		deps.Log.Error("worker requires QUEUE_PROVIDER=nats")
		os.Exit(1)
	}
	deps.Log.Info("query worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// Run queue worker
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeQuery, queue.QueryHandler(deps.Querier))
	})

	// Run health check server
	g.Go(func() error {
		return serveHealth(ctx, deps)
	})

	// Wait for either to fail
	if err := g.Wait(); err != nil {
		deps.Log.Error("query worker stopped", "err", err)
	}
}

func serveHealth(ctx context.Context, deps app.Deps) error {
	r := httputil.NewRouter(deps.Log, 5*time.Second)
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", deps.Config.Port), Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	deps.Log.Info("health endpoint listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
