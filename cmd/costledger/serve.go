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

	"github.com/spf13/cobra"

	"github.com/sitebooks/costledger/api"
	"github.com/sitebooks/costledger/config"
	"github.com/sitebooks/costledger/finance"
	"github.com/sitebooks/costledger/store/sqlite"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	MasterData      string
	RefreshInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the cost ledger HTTP API.

The database is created and migrated on first use. When master data is
configured, projects, cost codes and vendors from the file are upserted
before the server starts accepting requests.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the refresher and closes the database.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = opts.Addr
			}
			if cmd.Flags().Changed("masterdata") {
				cfg.MasterData = opts.MasterData
			}
			if cmd.Flags().Changed("refresh-interval") {
				cfg.Recalculation.RefreshInterval = opts.RefreshInterval
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&opts.MasterData, "masterdata", "", "YAML file with projects, cost codes and vendors")
	cmd.Flags().DurationVar(&opts.RefreshInterval, "refresh-interval", 0, "interval for re-running stale recalculations (0 disables)")

	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := finance.NewService(finance.ServiceConfig{
		Store:              store,
		States:             store,
		Master:             store,
		RecalculateTimeout: cfg.Recalculation.Timeout,
		Logger:             logger,
	})

	refresher := finance.NewRefresher(store, svc.Coordinator, cfg.Recalculation.RefreshInterval, logger)
	refresher.Start()
	defer refresher.Stop()

	handler := api.NewHandler(svc, store, logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore opens the database and seeds master data when configured.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Store, error) {
	store, err := sqlite.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if cfg.MasterData == "" {
		return store, nil
	}
	md, err := sqlite.LoadMasterData(cfg.MasterData)
	if err != nil {
		store.Close()
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.Seed(ctx, md); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed master data: %w", err)
	}
	logger.Info("master data loaded", "path", cfg.MasterData, "projects", len(md.Projects), "vendors", len(md.Vendors))
	return store, nil
}
