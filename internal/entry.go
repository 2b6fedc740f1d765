// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mira/internal/api"
	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/dataset"
	"github.com/starford/mira/internal/generator"
	"github.com/starford/mira/internal/ledger"
	"github.com/starford/mira/internal/pipeline"
	"github.com/starford/mira/internal/sse"
	"github.com/starford/mira/internal/watcher"
)

// Run generates the repair dataset for every schematic in the input
// directory. With input.watch set it keeps running and processes new or
// changed files until interrupted.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog, err := newLogger(cfg, app.logOut)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("input_dir", cfg.Input.Dir),
		slog.String("output_path", cfg.Output.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("target_mode", cfg.Target.Mode),
		slog.String("oracle_mode", cfg.Oracle.Mode),
		slog.Bool("watch", cfg.Input.Watch),
		slog.String("log_level", cfg.App.LogLevel.String()))

	cat, err := newCatalog(cfg)
	if err != nil {
		return err
	}

	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	out, err := dataset.Open(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("init dataset: %w", err)
	}
	defer out.Close()

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	var pl *pipeline.Pipeline
	st, err := newStack(ctx, cfg, out, logger, func(e generator.Event) { pl.Observe(e) })
	if err != nil {
		return err
	}
	defer st.Close()
	pl = pipeline.New(st.generator, db, cat, pipeline.WithPublisher(broker), pipeline.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Batch over the existing inputs, then serve the queue when watching.
	g.Go(func() error {
		entries, err := cat.List()
		if err != nil {
			return fmt.Errorf("list inputs: %w", err)
		}
		sum, err := pl.Batch(gCtx, catalog.Paths(entries))
		logger.Info("Batch finished",
			slog.Int("schematics", sum.Schematics),
			slog.Int("schematics_skipped", sum.SchematicsSkipped),
			slog.Int("unchanged", sum.Unchanged),
			slog.Int("samples", sum.Samples),
			slog.Int("slots_skipped", sum.SlotsSkipped),
			slog.Int("dataset_lines", out.Count()))
		if err != nil {
			if gCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("batch: %w", err)
		}
		if !cfg.Input.Watch {
			cancel()
			return nil
		}
		return pl.Run(gCtx)
	})

	if cfg.Input.Watch {
		g.Go(func() error {
			w := watcher.New(cat.Root(), cat.Accepts, watcher.WithLogger(logger))
			return w.Run(gCtx, func(path string) {
				if pl.Enqueue(path) {
					logger.Info("Queued changed schematic", slog.String("path", path))
				}
			})
		})
	}

	var httpServer *http.Server
	if cfg.App.HTTP.Enabled {
		httpServer = &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           newHTTPHandler(cfg, db, pl, cat, broker),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		if httpServer == nil {
			return nil
		}
		logger.Info("Shutting down server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Stopped successfully")
	return nil
}

// newHTTPHandler builds the status server: health probes plus the API.
func newHTTPHandler(cfg *Config, db *ledger.DB, pl *pipeline.Pipeline, cat *catalog.Catalog, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	handler := api.NewHandler(db, pl, cat)
	r.Mount("/api", api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))
	return r
}
