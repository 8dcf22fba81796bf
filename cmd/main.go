package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go-broadcast-relay/internal/infrastructure/config"
	"go-broadcast-relay/internal/infrastructure/hub"
	"go-broadcast-relay/internal/infrastructure/logger"
	"go-broadcast-relay/internal/infrastructure/server"
)

var errHubTerminated = errors.New("hub terminated unexpectedly")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.SetSafeMode(cfg.SafeMode)

	log := logger.NewLogrusLogger(cfg.Log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hubInstance := hub.New(log, hub.Config{
		QueueSize:    cfg.QueueSize,
		WriteTimeout: cfg.WriteTimeout,
		Metrics:      hub.NewMetrics(registry),
	})

	// Start the hub first so no worker can find it missing
	if err := hubInstance.Start(context.Background()); err != nil {
		log.Errorf("failed to start hub: %v", err)
		os.Exit(1)
	}

	tcpSrv := server.NewTCPServer(cfg.ListenAddr, hubInstance, log, cfg.ReadBufferSize)
	if err := tcpSrv.Listen(); err != nil {
		os.Exit(1)
	}

	var httpSrv *server.HTTPServer
	if cfg.StatusAddr != "" {
		httpSrv = server.NewHTTPServer(cfg.StatusAddr, InitRouter(hubInstance, registry, log))
	}

	app := newApplication(log, tcpSrv, httpSrv, hubInstance)
	if err := app.Run(WithSignal(context.Background())); err != nil {
		log.Errorf("failed to run application: %s", logger.Redact(err))
		os.Exit(1)
	}
}

type Application struct {
	logger  logger.Logger
	tcpSrv  *server.TCPServer
	httpSrv server.Server
	hub     *hub.Hub
}

func newApplication(
	logger logger.Logger,
	tcpSrv *server.TCPServer,
	httpSrv *server.HTTPServer,
	hubInstance *hub.Hub,
) *Application {
	app := &Application{
		logger: logger.WithField("app", "relay"),
		tcpSrv: tcpSrv,
		hub:    hubInstance,
	}
	if httpSrv != nil {
		app.httpSrv = httpSrv
	}
	return app
}

// Run serves until ctx is cancelled or the hub terminates. A hub that dies
// on its own takes the whole relay down with errHubTerminated.
func (app *Application) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return app.tcpSrv.Serve(ctx)
	})

	// The status surface is optional: losing it must not take the relay down.
	if app.httpSrv != nil {
		eg.Go(func() error {
			if err := app.httpSrv.Start(ctx); err != nil {
				app.logger.Errorf("status server stopped, relay continues without it: %s", logger.Redact(err))
			}
			return nil
		})
	}

	eg.Go(func() error {
		var cause error
		select {
		case <-ctx.Done():
			app.logger.Info("shutdown signal received")
		case <-app.hub.Done():
			cause = errHubTerminated
		}

		gracefulshutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			time.Duration(5*time.Second),
		)
		defer cancel()

		err := cause
		err = multierr.Append(err, app.tcpSrv.Stop(gracefulshutdownCtx))
		err = multierr.Append(err, app.hub.Stop(gracefulshutdownCtx))
		if app.httpSrv != nil {
			err = multierr.Append(err, app.httpSrv.Stop(gracefulshutdownCtx))
		}
		return err
	})

	return eg.Wait()
}

func WithSignal(pctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(pctx)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

		<-sigc

		cancel()
	}()

	return ctx
}
