package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"poi-server/cache"
	"poi-server/config"
	"poi-server/handlers"
	"poi-server/ingest"
	"poi-server/logging"
	"poi-server/services"
	"poi-server/store"
)

var buildVersion = "dev"

var (
	envFile     string
	logLevel    string
	datasetFlag string
	noActivate  bool
)

var rootCmd = &cobra.Command{
	Use:           "poi-server",
	Short:         "Versioned point-of-interest catalog",
	Long:          `Serves bounding-box and polygon queries over the active dataset version and loads new versions from CSV batches.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ensure the schema, run the seed ingestion and start the HTTP API",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ensure the schema and load one dataset version, then exit",
	RunE:  runIngest,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (info, debug, trace); overrides LOG_LEVEL")

	ingestCmd.Flags().StringVar(&datasetFlag, "dataset", "", "Dataset version to load; overrides SEED_VERSION")
	ingestCmd.Flags().BoolVar(&noActivate, "no-activate", false, "Register the version without activating it")

	rootCmd.AddCommand(serveCmd, ingestCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		sigolo.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := logging.Setup(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.StoreDriver {
	case config.DriverPostGIS:
		st, err = store.OpenPostGIS(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	case config.DriverMongo:
		st, err = store.OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case config.DriverMemory:
		st = store.NewMemory()
	default:
		err = errors.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "ensure schema")
	}
	sigolo.Infof("Using %s store", cfg.StoreDriver)
	return st, nil
}

func seedOptions(seed config.SeedConfig) ingest.Options {
	return ingest.Options{
		Enabled:    seed.Enabled,
		Version:    seed.Version,
		DataDir:    seed.DataDir,
		Source:     seed.Source,
		Transforms: seed.Transforms,
		Activate:   seed.Activate,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := seedOptions(cfg.Seed)
	opts.Enabled = true
	if datasetFlag != "" {
		opts.Version = datasetFlag
	}
	if noActivate {
		opts.Activate = false
	}

	report, err := ingest.NewPipeline(st, opts).Run(ctx)
	if err != nil {
		return err
	}
	if report.State == ingest.StateSkipped {
		sigolo.Infof("Nothing ingested: %s", report.SkipReason)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Seeding is best-effort: a failed load is logged and the previous version keeps serving.
	if _, err := ingest.NewPipeline(st, seedOptions(cfg.Seed)).Run(ctx); err != nil {
		sigolo.Warnf("Continuing startup without the seed dataset")
	}

	var featureCache services.FeatureCache
	if cfg.Redis.Enabled() {
		rc, err := cache.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			sigolo.Warnf("Feature cache disabled: %v", err)
		} else {
			defer rc.Close()
			featureCache = cache.NewRedisCache(rc, cfg.Redis.TTL)
			sigolo.Infof("Feature cache enabled at %s (ttl %s)", cfg.Redis.Addr, cfg.Redis.TTL)
		}
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Store:          st,
		GeoService:     services.NewGeoService(st, featureCache),
		DatasetService: services.NewDatasetService(st),
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		QueryTimeout:   cfg.QueryTimeout,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sigolo.Infof("Server starting on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
		sigolo.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
