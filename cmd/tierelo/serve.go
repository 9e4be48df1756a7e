package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pashagolub/tierelo/pkg/api"
	"github.com/pashagolub/tierelo/pkg/data"
	"github.com/pashagolub/tierelo/pkg/engine"
	"github.com/pashagolub/tierelo/pkg/journal"
	"github.com/pashagolub/tierelo/pkg/logger"
	"github.com/pashagolub/tierelo/pkg/metrics"
	"github.com/pashagolub/tierelo/pkg/tier"
)

const readHeaderTimeout = 5 * time.Second

// ServeCommand handles 'tierelo serve' subcommand
type ServeCommand struct {
	Addr        string `long:"addr" short:"a" description:"Listen address (default from configuration)"`
	Items       string `long:"items" short:"i" description:"Item list to register on startup"`
	Comparisons string `long:"comparisons" short:"m" description:"Comparison file to apply on startup"`
	Replay      string `long:"replay" description:"Audit log to replay on startup"`
	Restore     string `long:"restore" description:"Snapshot to start from"`
	Snapshot    string `long:"snapshot" description:"Write a rating snapshot on shutdown"`
	RuntimeStat bool   `long:"runtime-metrics" description:"Expose Go runtime and process metrics"`

	Global *GlobalOptions

	// ready receives the bound address once the listener is up
	ready chan<- string
}

// Execute implements the Command interface for ServeCommand
func (c *ServeCommand) Execute(_ []string) error {
	config, log, err := setup(c.Global, "serve")
	if err != nil {
		return err
	}
	if c.Addr != "" {
		config.Server.Addr = c.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", config.Server.Addr)
	if err != nil {
		return &CLIError{
			Code:    ExitServerError,
			Message: fmt.Sprintf("Failed to listen on %s: %v", config.Server.Addr, err),
			Suggestions: []string{
				"Use --addr to pick a free address",
			},
		}
	}
	return c.serve(ctx, config, listener, log)
}

// serve runs the HTTP service on listener until ctx is cancelled
func (c *ServeCommand) serve(ctx context.Context, config *data.Config, listener net.Listener, log logger.Logger) error {
	registry := prometheus.NewRegistry()
	if c.RuntimeStat {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	manager := metrics.NewManager(metrics.WithPrometheusRegistry(registry))

	opts := []engine.Option{
		engine.WithLogger(log.Named("engine")),
		engine.WithMetrics(manager),
	}
	if config.Journal.Enabled {
		audit, err := journal.NewAuditTrail("", config.Journal.Directory)
		if err != nil {
			_ = listener.Close()
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to open audit trail: %v", err),
				Details: map[string]any{"directory": config.Journal.Directory},
			}
		}
		defer audit.Close()
		opts = append(opts, engine.WithJournal(audit))
	}

	eng, err := engine.New(config.EngineConfig(), opts...)
	if err != nil {
		_ = listener.Close()
		return &CLIError{Code: ExitConfigError, Message: err.Error()}
	}

	storage := data.NewFileStorage()
	applied, err := seed(ctx, eng, storage, sources{
		Snapshot:    c.Restore,
		Items:       c.Items,
		Replay:      c.Replay,
		Comparisons: c.Comparisons,
	}, log)
	if err != nil {
		_ = listener.Close()
		return err
	}
	if applied > 0 {
		log.Info(ctx, "comparisons loaded", logger.Int("applied", applied), logger.Int("items", len(eng.Items())))
	}

	tiers := config.Tiers
	server := api.NewServer(eng,
		api.WithLogger(log.Named("http")),
		api.WithMetrics(manager),
		api.WithGatherer(registry),
		api.WithTiers(tiers.Count, func(count int) ([]tier.Template, error) {
			return templatesFor(tiers, count)
		}),
	)

	srv := &http.Server{
		Handler:           server.Handler(),
		ReadTimeout:       config.Server.ReadTimeout,
		WriteTimeout:      config.Server.WriteTimeout,
		IdleTimeout:       config.Server.IdleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if c.ready != nil {
		c.ready <- listener.Addr().String()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return &CLIError{Code: ExitServerError, Message: fmt.Sprintf("HTTP server failed: %v", err)}
		}
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	if c.Snapshot != "" {
		if err := storage.SaveSnapshot(eng.Snapshot(), c.Snapshot); err != nil {
			return &CLIError{
				Code:    ExitFileError,
				Message: fmt.Sprintf("Failed to save snapshot: %v", err),
				Details: map[string]any{"file": c.Snapshot},
			}
		}
		log.Info(ctx, "snapshot saved", logger.String("path", c.Snapshot))
	}
	log.Info(ctx, "server stopped")
	return nil
}
