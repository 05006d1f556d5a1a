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

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/auth"
	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/config"
	"github.com/MarcoPoloResearchLab/crosspost/internal/database"
	"github.com/MarcoPoloResearchLab/crosspost/internal/logging"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"github.com/MarcoPoloResearchLab/crosspost/internal/server"
	"github.com/MarcoPoloResearchLab/crosspost/internal/sharing"
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
		Use:   "crosspost-api",
		Short: "Collective cross-posting association service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())
	rootCmd.AddCommand(newCreateCollectiveCommand(), newSetRoleCommand(), newRemoveMemberCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Bool("audit-persist", defaults.GetBool("audit.persist"), "Mirror audit entries into the database")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "audit.persist", "audit-persist")
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

func newIssueTokenCommand() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for an actor using the configured signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), actorID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "Actor id to place in the token subject")
	if err := cmd.MarkFlagRequired("actor"); err != nil {
		panic(err)
	}
	return cmd
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func newAssociationService(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (*sharing.Service, error) {
	recorderConfig := appConfig.RecorderConfig()
	recorderConfig.Logger = logger
	if appConfig.AuditPersist {
		sink, err := audit.NewGormSink(db)
		if err != nil {
			return nil, err
		}
		recorderConfig.Sink = sink
	}
	recorder := audit.NewRecorder(recorderConfig)

	executor := retry.NewExecutor(retry.ExecutorConfig{
		Policy: appConfig.Retry,
		Logger: logger,
	})

	oracle, err := collectives.NewOracle(collectives.OracleConfig{
		Database: db,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	store, err := sharing.NewGormStore(db)
	if err != nil {
		return nil, err
	}

	return sharing.NewService(sharing.ServiceConfig{
		Store:       store,
		Permissions: oracle,
		Recorder:    recorder,
		Executor:    executor,
		Clock:       time.Now,
		IDProvider:  sharing.NewUUIDProvider(),
		Logger:      logger,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	associationService, err := newAssociationService(appConfig, db, logger)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator:     tokenIssuer,
		AssociationService: associationService,
		Logger:             logger,
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
