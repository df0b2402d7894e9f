package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/api"
	"github.com/ndopj/tesp-api-go/internal/config"
	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/ftp"
	"github.com/ndopj/tesp-api-go/internal/lifecycle"
	"github.com/ndopj/tesp-api-go/internal/logging"
	"github.com/ndopj/tesp-api-go/internal/pulsar"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "tespapi",
		Short: "TES API server — GA4GH Task Execution Service frontend for Pulsar",
		Long: `tespapi exposes a GA4GH Task Execution Service REST API backed by a
document store and an asynchronous lifecycle pipeline that stages task
inputs and outputs over FTP and runs containers through a remote Pulsar
job executor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.StoreDriver, "store-driver", cfg.StoreDriver, "Task store driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "Task store DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.PulsarURL, "pulsar-url", cfg.PulsarURL, "Base URL of the Pulsar REST job executor")
	root.PersistentFlags().StringVar(&cfg.PulsarFlavour, "pulsar-flavour", cfg.PulsarFlavour, "Pulsar operations client flavour (rest or amqp)")
	root.PersistentFlags().IntVar(&cfg.PulsarPollInterval, "pulsar-poll-interval", cfg.PulsarPollInterval, "Seconds between run_job status polls")
	root.PersistentFlags().IntVar(&cfg.PulsarMaxPolls, "pulsar-max-polls", cfg.PulsarMaxPolls, "Maximum number of run_job status polls before giving up")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "Emit logs as JSON instead of the development console format")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tespapi %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.Build(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting tespapi",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("pulsar_url", cfg.PulsarURL),
		zap.String("pulsar_flavour", cfg.PulsarFlavour),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Task store ---
	gormDB, err := store.New(store.Config{
		Driver:   cfg.StoreDriver,
		DSN:      cfg.StoreDSN,
		Logger:   logger,
		LogLevel: logging.GormLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	taskRepo := repository.NewTaskRepository(gormDB)

	// --- 2. Events ---
	registry := events.NewRegistry()
	dispatcher := events.NewDispatcher(registry, logger)

	// --- 3. FTP transferer ---
	transferer := ftp.NewTransferer()

	// --- 4. Pulsar operations client ---
	var flavour lifecycle.Flavour
	var ops pulsar.Operations
	switch cfg.PulsarFlavour {
	case "amqp":
		flavour = lifecycle.FlavourAmqp
		ops = pulsar.NewAmqpOperations()
	default:
		flavour = lifecycle.FlavourRest
		ops = pulsar.NewRestOperations(pulsar.RestConfig{
			BaseURL:            cfg.PulsarURL,
			StatusPollInterval: time.Duration(cfg.PulsarPollInterval) * time.Second,
			StatusMaxPolls:     cfg.PulsarMaxPolls,
			Logger:             logger,
		})
	}

	// --- 5. Lifecycle handlers ---
	classifier := lifecycle.NewClassifier(taskRepo, logger)
	handlers := lifecycle.NewHandlers(taskRepo, ops, transferer, dispatcher, classifier, flavour)
	handlers.Wire(registry)

	// --- 6. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Tasks:      taskRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tespapi")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("tespapi stopped")
	return nil
}
