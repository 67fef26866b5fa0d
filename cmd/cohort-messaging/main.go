package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/auth"
	"github.com/MarcoPoloResearchLab/cohort/internal/config"
	"github.com/MarcoPoloResearchLab/cohort/internal/database"
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/logging"
	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/server"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"github.com/fsnotify/fsnotify"
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
		Use:   "cohort-messaging",
		Short: "Collaboration messaging backend service",
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
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("http.allowed_origins"), "Comma separated CORS origins (empty allows any)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("flush-buffer-limit", defaults.GetInt("messaging.flush_buffer_limit"), "Maximum buffered people group events before initialization (0 is unbounded)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "messaging.flush_buffer_limit", "flush-buffer-limit")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// watchLogLevel applies log.level changes from the config file while running.
func watchLogLevel(logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		level := viper.GetString("log.level")
		logger.SetLevel(level)
		logger.Info("configuration reloaded", zap.String("file", event.Name), zap.String("log_level", level))
	})
	viper.WatchConfig()
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
	watchLogLevel(logger)

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger.Logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	runner := sequence.NewLoopRunner(logger.Named("sequence"))
	defer runner.Close()

	tabGroups := tabgroups.NewMemoryService(tabgroups.MemoryServiceConfig{Logger: logger.Named("tabgroups")})
	dataSharing, err := datasharing.NewMemoryService(datasharing.MemoryServiceConfig{
		Runner: runner,
		Logger: logger.Named("datasharing"),
	})
	if err != nil {
		return err
	}
	realtime := server.NewRealtimeDispatcher()

	var (
		messagingService *messaging.Service
		buildErr         error
	)
	if err := runner.Invoke(ctx, func() {
		messagingService, buildErr = newMessagingService(appConfig, db, runner, tabGroups, dataSharing, realtime, logger.Logger)
		if buildErr != nil {
			return
		}
		tabGroups.MarkInitialized()
		dataSharing.MarkLoaded()
	}); err != nil {
		return err
	}
	if buildErr != nil {
		return buildErr
	}
	defer func() {
		_ = runner.Invoke(context.Background(), messagingService.Close)
	}()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator:        sessionValidator,
		Sequence:                runner,
		MessagingService:        messagingService,
		TabGroups:               tabGroups,
		DataSharing:             dataSharing,
		Realtime:                realtime,
		AllowedOrigins:          appConfig.AllowedOrigins,
		ActivityLogDefaultLimit: appConfig.ActivityLogDefaultLimit,
		Logger:                  logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
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

// newMessagingService assembles the store, both notifiers and the facade.
// It must run on the sequence.
func newMessagingService(
	appConfig config.AppConfig,
	db *gorm.DB,
	runner sequence.Runner,
	tabGroups *tabgroups.MemoryService,
	dataSharing *datasharing.MemoryService,
	events messaging.EventSink,
	logger *zap.Logger,
) (*messaging.Service, error) {
	store, err := messaging.NewSQLStore(messaging.SQLStoreConfig{
		Database: db,
		Runner:   runner,
		Logger:   logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}
	tabGroupNotifier, err := messaging.NewTabGroupChangeNotifier(messaging.TabGroupNotifierConfig{
		SyncService: tabGroups,
		Runner:      runner,
		Logger:      logger.Named("tab_group_notifier"),
	})
	if err != nil {
		return nil, err
	}
	dataSharingNotifier, err := messaging.NewDataSharingChangeNotifier(messaging.DataSharingNotifierConfig{
		Service:     dataSharing,
		Runner:      runner,
		Logger:      logger.Named("data_sharing_notifier"),
		BufferLimit: appConfig.FlushBufferLimit,
	})
	if err != nil {
		return nil, err
	}
	return messaging.NewService(messaging.ServiceConfig{
		Store:               store,
		TabGroupNotifier:    tabGroupNotifier,
		DataSharingNotifier: dataSharingNotifier,
		TabGroups:           tabGroups,
		DataSharing:         dataSharing,
		Runner:              runner,
		IDProvider:          messaging.NewUUIDProvider(),
		Clock:               time.Now,
		Logger:              logger.Named("messaging"),
		Events:              events,
	})
}
