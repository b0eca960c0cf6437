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

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bloomxr.dev/meshstudio/internal/api"
	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/config"
	"bloomxr.dev/meshstudio/internal/core"
	"bloomxr.dev/meshstudio/internal/logging"
	"bloomxr.dev/meshstudio/internal/metrics"
	"bloomxr.dev/meshstudio/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "meshstudio-server",
		Short: "Relay server for image-to-3D generation, mesh conversion and the model gallery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(envFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	return cmd
}

func serve(envFile string) error {
	// Load configuration
	if err := config.LoadConfig(envFile); err != nil {
		return err
	}
	cfg := config.AppConfig
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var fbApp *firebase.App
	if cfg.UsesFirebase() {
		fbApp, err = auth.NewFirebaseApp(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
		if err != nil {
			return err
		}
	}

	// Initialize document store
	docStore, err := openStore(ctx, cfg, fbApp)
	if err != nil {
		return err
	}
	defer docStore.Close()
	logger.Info("document store ready", zap.String("backend", cfg.StoreBackend))

	verifier, names, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	var tagger core.TagSuggester
	if cfg.GeminiAPIKey != "" {
		llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			return err
		}
		defer llmService.Close()
		tagger = llmService
	}

	var collector *metrics.Collector
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector("meshstudio", reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Zero timeout leaves upstream calls bounded by the inbound request only.
	upstreamClient := &http.Client{Timeout: cfg.UpstreamTimeout}

	apiHandler := api.NewAPIHandler(api.Dependencies{
		Generator: core.NewGenerationService(core.GenerationConfig{
			APIKey:       cfg.FalKey,
			Model:        cfg.FalModel,
			QueueURL:     cfg.FalQueueURL,
			StorageURL:   cfg.FalStorageURL,
			PollInterval: cfg.FalPollInterval,
		}, upstreamClient, logger, collector),
		Converter: core.NewConversionService(cfg.ConversionServiceURL, upstreamClient, logger, collector),
		Assets:    core.NewAssetFetcher(upstreamClient, logger, collector),
		Models:    core.NewModelService(docStore, tagger, logger),
		Profiles:  core.NewProfileService(docStore, names, logger),
		Verifier:  verifier,
	}, logger)

	router := api.NewRouter(apiHandler, api.RouterOptions{
		Logger:         logger,
		Collector:      collector,
		MetricsHandler: metricsHandler,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: a generation can outlast any fixed bound.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, fbApp *firebase.App) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreFirestore:
		return store.NewFirestoreStore(ctx, fbApp)
	case config.StoreMongo:
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return store.NewSQLiteStore(cfg.DatabaseURL)
	}
}

// newVerifier picks the token verifier. The returned DisplayNameUpdater is
// nil for providers that keep no profile of their own.
func newVerifier(ctx context.Context, cfg config.Config, fbApp *firebase.App) (auth.Verifier, auth.DisplayNameUpdater, error) {
	if cfg.AuthProvider == config.AuthFirebase {
		v, err := auth.NewFirebaseVerifier(ctx, fbApp)
		if err != nil {
			return nil, nil, err
		}
		return v, v, nil
	}

	v, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}
