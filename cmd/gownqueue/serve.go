package main

import (
	"context"
	"expvar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gownqueue/internal/api"
	"gownqueue/internal/core"
	"gownqueue/internal/network"
	"gownqueue/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and replay the queue whenever the device reconnects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from GOWNQUEUE_HTTP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	prom := observability.NewPrometheusRecorder()
	vars := observability.NewExpvarRecorder("gownqueue")
	svc, closeAll, err := a.openService(ctx, core.WithRecorder(observability.Multi{prom, vars}))
	if err != nil {
		return err
	}
	defer closeAll()

	var sig network.Signal
	if path := a.cfg.Network.StatusFile; path != "" {
		sig = network.NewFileSignal(path, a.logger.Named("signal"))
		a.logger.Info("watching connectivity file", zap.String("path", path))
	}

	srv := api.NewServer(svc, api.Options{
		Address: addr,
		Metrics: prom.Handler(),
		Vars:    expvar.Handler(),
		Logger:  a.logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx, sig) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}
