package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/auth"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/blocks"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/config"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/database"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/ids"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/jobs"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/logging"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/presence"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/server"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lingocircle-api",
		Short: "LingoCircle collaboration backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("tauth-signing-secret", "", "TAuth session signing secret (overrides env)")
	flags.String("tauth-cookie-name", defaults.GetString("tauth.cookie_name"), "TAuth session cookie name")
	flags.String("tauth-issuer", defaults.GetString("tauth.issuer"), "Expected TAuth token issuer")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "Postgres connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("presence-backend", defaults.GetString("presence.backend"), "Presence store (database, redis)")
	flags.String("jobs-backend", defaults.GetString("jobs.backend"), "Background job backend (memory, asynq)")
	flags.Int("jobs-workers", defaults.GetInt("jobs.workers"), "Background job concurrency")
	flags.Int("jobs-max-retry", defaults.GetInt("jobs.max_retry"), "Retries per background job")
	flags.String("redis-url", "", "Redis URL for presence and asynq")
	flags.String("cors-allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma-separated browser origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "tauth.signing_secret", "tauth-signing-secret")
	bindFlag(cmd, "tauth.cookie_name", "tauth-cookie-name")
	bindFlag(cmd, "tauth.issuer", "tauth-issuer")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "presence.backend", "presence-backend")
	bindFlag(cmd, "jobs.backend", "jobs-backend")
	bindFlag(cmd, "jobs.workers", "jobs-workers")
	bindFlag(cmd, "jobs.max_retry", "jobs-max-retry")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	idProvider := ids.NewUUIDProvider()

	presenceStore, closeStore, err := newPresenceStore(signalCtx, appConfig, db)
	if err != nil {
		return err
	}
	defer closeStore()

	queue, runner, closeJobs, err := newJobBackend(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeJobs()

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	presenceService, err := presence.NewService(presence.ServiceConfig{
		Store:  presenceStore,
		Broker: hub,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	blockService, err := blocks.NewService(blocks.ServiceConfig{
		Repository: blocks.NewGormRepository(db),
		Broker:     hub,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	socialService, err := social.NewService(social.ServiceConfig{
		Repository: social.NewGormRepository(db),
		Directory:  profileService,
		Presence:   presenceService,
		Broker:     hub,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Repository: chat.NewGormRepository(db),
		Directory:  profileService,
		Blocks:     blockService,
		Friends:    socialService,
		Presence:   presenceService,
		Broker:     hub,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	scheduler, err := chat.NewPropagationScheduler(queue)
	if err != nil {
		return err
	}
	profileService.SetPropagator(scheduler)
	chat.RegisterPropagationHandler(runner, chatService)

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Profiles:       profileService,
		Presence:       presenceService,
		Blocks:         blockService,
		Social:         socialService,
		Chat:           chatService,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := runner.Run(signalCtx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("presence_backend", appConfig.PresenceBackend),
			zap.String("jobs_backend", appConfig.JobsBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newPresenceStore(ctx context.Context, appConfig config.AppConfig, db *gorm.DB) (presence.Store, func(), error) {
	if appConfig.PresenceBackend != config.PresenceBackendRedis {
		return presence.NewGormStore(db), func() {}, nil
	}
	store, err := presence.NewRedisStore(ctx, appConfig.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// newJobBackend returns the queue used to schedule background work and the runner that
// executes it. The in-memory pool serves as both.
func newJobBackend(appConfig config.AppConfig, logger *zap.Logger) (jobs.Queue, jobs.Runner, func(), error) {
	if appConfig.JobsBackend != config.JobsBackendAsynq {
		pool := jobs.NewWorkerPool(jobs.WorkerPoolConfig{
			Workers:  appConfig.JobsWorkers,
			MaxRetry: appConfig.JobsMaxRetry,
			Logger:   logger,
		})
		return pool, pool, func() {}, nil
	}
	queue, err := jobs.NewAsynqQueue(appConfig.RedisURL, appConfig.JobsMaxRetry)
	if err != nil {
		return nil, nil, nil, err
	}
	runner, err := jobs.NewAsynqRunner(jobs.AsynqRunnerConfig{
		RedisURL:    appConfig.RedisURL,
		Concurrency: appConfig.JobsWorkers,
		Logger:      logger,
	})
	if err != nil {
		_ = queue.Close()
		return nil, nil, nil, err
	}
	return queue, runner, func() { _ = queue.Close() }, nil
}
