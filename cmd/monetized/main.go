package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lumibook/monetize/internal/gateway"
	"github.com/lumibook/monetize/internal/httpapi"
	"github.com/lumibook/monetize/internal/notify"
	"github.com/lumibook/monetize/internal/store/gormstore"
	"github.com/lumibook/monetize/internal/sweeper"
	"github.com/lumibook/monetize/pkg/boost"
	"github.com/lumibook/monetize/pkg/fees"
	"github.com/lumibook/monetize/pkg/payout"
	"github.com/lumibook/monetize/pkg/tokens"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagSweepInterval  = "sweep-interval"
	flagPayoutDelay    = "payout-delay"
	flagGatewayTimeout = "gateway-timeout"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeySweepInterval  = "sweep_interval"
	configKeyPayoutDelay    = "payout_delay"
	configKeyGatewayTimeout = "gateway_timeout"

	defaultDatabaseURL = "sqlite:///tmp/monetize.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string
	SweepInterval  time.Duration
	PayoutDelay    time.Duration
	GatewayTimeout time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "monetized: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "monetized",
		Short:         "Marketplace monetization server: token ledger, boosts, fees, payouts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().Duration(flagSweepInterval, time.Minute, "boost-expiry and payout-settlement sweep interval")
	cmd.Flags().Duration(flagPayoutDelay, 24*time.Hour, "delay between booking completion and payout settlement")
	cmd.Flags().Duration(flagGatewayTimeout, 10*time.Second, "per-call payment gateway timeout")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyListenAddr:     "LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeySweepInterval:  "SWEEP_INTERVAL",
		configKeyPayoutDelay:    "PAYOUT_DELAY",
		configKeyGatewayTimeout: "GATEWAY_TIMEOUT",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeySweepInterval:  flagSweepInterval,
		configKeyPayoutDelay:    flagPayoutDelay,
		configKeyGatewayTimeout: flagGatewayTimeout,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SweepInterval = viper.GetDuration(configKeySweepInterval)
	cfg.PayoutDelay = viper.GetDuration(configKeyPayoutDelay)
	cfg.GatewayTimeout = viper.GetDuration(configKeyGatewayTimeout)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	emitter := notify.NewLogEmitter(logger)

	tokensService, err := tokens.NewService(gormstore.NewTokens(gormDB), clock)
	if err != nil {
		return fmt.Errorf("tokens service init: %w", err)
	}
	boostService, err := boost.NewService(gormstore.NewBoosts(gormDB), tokensService, clock)
	if err != nil {
		return fmt.Errorf("boost service init: %w", err)
	}
	feeService, err := fees.NewService(gormstore.NewFees(gormDB), clock)
	if err != nil {
		return fmt.Errorf("fees service init: %w", err)
	}
	payoutOptions := []payout.ServiceOption{}
	if cfg.PayoutDelay > 0 {
		payoutOptions = append(payoutOptions, payout.WithDelay(cfg.PayoutDelay))
	}
	if cfg.GatewayTimeout > 0 {
		payoutOptions = append(payoutOptions, payout.WithGatewayTimeout(cfg.GatewayTimeout))
	}
	payoutService, err := payout.NewService(gormstore.NewPayouts(gormDB), gateway.NewStub(logger), clock, payoutOptions...)
	if err != nil {
		return fmt.Errorf("payout service init: %w", err)
	}

	apiConfig := httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
	}
	if err := apiConfig.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	apiServer := httpapi.NewServer(apiConfig, logger, tokensService, boostService, feeService, payoutService, emitter, clock)
	backgroundSweeper := sweeper.New(boostService, payoutService, emitter, logger, clock, sweeper.Config{Interval: cfg.SweepInterval})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiServer.Run(groupCtx)
	})
	group.Go(func() error {
		if err := backgroundSweeper.Run(groupCtx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "monetize.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(
		&gormstore.TokenAccount{},
		&gormstore.TokenTransaction{},
		&gormstore.Boost{},
		&gormstore.FeeBreakdown{},
		&gormstore.Payout{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
