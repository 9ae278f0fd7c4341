package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/pagesync/backend/internal/api"
	"github.com/kimhsiao/pagesync/backend/internal/events"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	"github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/queue"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event stream and retry runner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				cfg.Server.Address = addr
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := events.NewHub(cfg.Server.AllowedOrigins)
	a.manager.SetEventHandler(sync.NewBroadcastHandler(hub))

	// Schedulers outlive the signal so background syncs can drain in Close.
	a.registry.StartAll(context.WithoutCancel(ctx))

	runner := queue.NewRunner(a.manager, cfg.Sync.RetryInterval)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.New(a.manager, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		runner.Start(gctx)
		<-gctx.Done()
		runner.Stop()
		return nil
	})

	g.Go(func() error {
		logging.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
