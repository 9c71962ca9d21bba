// Package main provides the entry point for the davlock server.
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

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/kneutral-org/davlock/internal/config"
	"github.com/kneutral-org/davlock/internal/locking"
	"github.com/kneutral-org/davlock/internal/logging"
	"github.com/kneutral-org/davlock/internal/metrics"
	"github.com/kneutral-org/davlock/internal/middleware"
	"github.com/kneutral-org/davlock/internal/store"
	"github.com/kneutral-org/davlock/internal/webdav"
)

const serviceName = "davlock"

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Serve WebDAV LOCK and UNLOCK",
	Long: `Serve the WebDAV LOCK and UNLOCK methods over HTTP. Every flag can also be
set through the environment as FLAG_NAME or DAVLOCK_FLAG_NAME
(e.g. LOCK_MAX_TIMEOUT=86400), or in a .env / .env.local file.`,
	SilenceUsage: true,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadFrom(v)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.Flags()
	flags.String(config.KeyPort, "8080", "HTTP port to listen on")
	flags.String(config.KeyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.Bool(config.KeyLogPretty, false, "human readable console logs")
	flags.Bool(config.KeyReadOnly, false, "reject every LOCK and UNLOCK with 403")
	flags.Int(config.KeyLockDefaultTimeout, locking.DefaultTimeoutSeconds, "lease in seconds when the client sends no Timeout")
	flags.Int(config.KeyLockMaxTimeout, locking.MaxTimeoutSeconds, "longest lease in seconds a client may request")
	flags.Int(config.KeyLockTempTimeout, locking.TemporaryTimeoutSeconds, "lease in seconds of request-scoped locks")
	flags.Duration(config.KeyLockSweepInterval, config.DefaultSweepInterval, "period of the background expiry sweep")
	flags.String(config.KeyMaxPayloadSize, config.DefaultMaxPayloadSize, "maximum LOCK body size (e.g. 64KiB, 1MB)")
	flags.String(config.KeyStoreBackend, config.StoreMemory, "resource store backend (memory, postgres)")
	flags.String(config.KeyDatabaseURL, "", "PostgreSQL connection URL for the postgres store")
	flags.String(config.KeyLegacyClientSignatures, "Darwin", "comma-separated User-Agent substrings of clients that send LOCK without a body")
	flags.String(config.KeyNoContentClientSignatures, "Transmit", "comma-separated User-Agent substrings of clients that expect 204 on lock creation")
}

// initConfig reads .env files and binds the environment.
func initConfig() {
	config.LoadEnvFiles()
	config.SetDefaults(v)
	if err := config.BindEnv(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(serviceName, cfg.LogLevel)
	if cfg.LogPretty {
		logger = logging.NewPrettyLogger(serviceName, cfg.LogLevel)
	}
	logger.Info().Msg("starting with configuration:" + cfg.String())

	resources, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locks := locking.NewManager(cfg.TimeoutPolicy(), logger)
	coordinator := webdav.NewCoordinator(locks, resources, webdav.CoordinatorConfig{
		ReadOnly:                cfg.ReadOnly,
		TemporaryTimeoutSeconds: cfg.LockTempTimeout,
		Quirks:                  webdav.NewClientClassifier(cfg.LegacyClientSignatures, cfg.NoContentClientSignatures),
	}, logger)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "locks": locks.Len()})
	})
	metrics.RegisterMetricsEndpoint(router)

	dav := router.Group("/")
	dav.Use(middleware.PayloadLimitErrorHandler(logger))
	dav.Use(middleware.PayloadLimit(cfg.MaxPayloadSize, logger))
	webdav.NewHandler(coordinator, logger).RegisterRoutes(dav)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := locking.NewSweeper(locks, cfg.LockSweepInterval, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start()
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}

	logger.Info().Msg("server exited properly")
	return nil
}

// openStore connects the configured resource store and returns a func that
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.ResourceStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pgStore := store.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info().Msg("using postgres resource store")
		return pgStore, pool.Close, nil
	default:
		logger.Info().Msg("using in-memory resource store")
		return store.NewMemoryStore(), func() {}, nil
	}
}
