// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/db"
	"github.com/arwahdevops/adsync/internal/engine"
	"github.com/arwahdevops/adsync/internal/logger"
	"github.com/arwahdevops/adsync/internal/metrics"
	"github.com/arwahdevops/adsync/internal/schedule"
	"github.com/arwahdevops/adsync/internal/secrets"
	"github.com/arwahdevops/adsync/internal/server"
	"github.com/arwahdevops/adsync/internal/source"
	"github.com/arwahdevops/adsync/internal/state"
	"github.com/arwahdevops/adsync/internal/storage"
)

const (
	dbConnectRetries  = 3
	dbConnectInterval = 5 * time.Second
)

var (
	runModeOverride       string
	entityOverride        string
	backfillStartOverride string
	backfillEndOverride   string
	cronScheduleOverride  string
	destTableOverride     string
)

func main() {
	// Definisikan flag CLI
	flag.StringVar(&runModeOverride, "run-mode", "", "Override RUN_MODE (incremental, manual_backfill)")
	flag.StringVar(&entityOverride, "entity", "", "Override ENTITY (platform entity to sync)")
	flag.StringVar(&backfillStartOverride, "backfill-start", "", "Override BACKFILL_START_DATE (YYYY-MM-DD)")
	flag.StringVar(&backfillEndOverride, "backfill-end", "", "Override BACKFILL_END_DATE (YYYY-MM-DD)")
	flag.StringVar(&cronScheduleOverride, "cron", "", "Override CRON_SCHEDULE (empty = single run)")
	flag.StringVar(&destTableOverride, "dest-table", "", "Override DEST_TABLE")
	flag.Parse()

	// 1. Load environment variables (.env overrides)
	if err := godotenv.Overload(".env"); err != nil {
		stdlog.Printf("Warning: Could not load .env file: %v. Relying on environment variables.\n", err)
	}

	// 2. Initial config loading untuk mendapatkan setting logger
	preCfg := &struct {
		EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"`
		DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`
	}{}
	if err := env.Parse(preCfg); err != nil {
		stdlog.Fatalf("Failed to parse pre-configuration for logger: %v", err)
	}

	// 3. Initialize Zap logger
	if err := logger.Init(preCfg.DebugMode, preCfg.EnableJsonLogging); err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	// 4. Load and validate full configuration dari environment variables
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal("Configuration loading error from environment", zap.Error(err))
	}
	applyCliOverrides(cfg)
	logLoadedConfig(cfg)

	// 5. Setup context untuk graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Initialize Metrics Store
	metricsStore := metrics.NewMetricsStore()

	// 7. Load platform API credentials (Vault first, environment fallback)
	creds, err := loadAPICredentials(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to load platform API credentials", zap.Error(err))
	}

	// 8. Connect databases: state store selalu, destination hanya untuk SQL engines
	gl := logger.GetGormLogger()
	stateConn, err := connectDBWithRetry(ctx, cfg.StateDB, "state", gl)
	if err != nil {
		logger.Log.Fatal("Failed to establish state DB connection", zap.Error(err))
	}
	defer closeConn(stateConn, "state")

	var destConn *db.Connector
	if cfg.Destination != config.DestinationSheet {
		destConn, err = connectDBWithRetry(ctx, cfg.DestDB, "destination", gl)
		if err != nil {
			logger.Log.Fatal("Failed to establish destination DB connection", zap.Error(err))
		}
		defer closeConn(destConn, "destination")
	}

	// 9. Optimize connection pools
	if err := stateConn.Optimize(10, time.Hour); err != nil {
		logger.Log.Warn("Failed to optimize state DB pool", zap.Error(err))
	}
	if destConn != nil {
		if err := destConn.Optimize(10, time.Hour); err != nil {
			logger.Log.Warn("Failed to optimize destination DB pool", zap.Error(err))
		}
	}

	// 10. Start HTTP Server (metrics, health, pprof)
	go server.RunHTTPServer(ctx, cfg, metricsStore, stateConn, destConn, logger.Log)

	// 11. Wire the sync pipeline: state store, source adapter, storage, connector
	entityID := fmt.Sprintf("%s.%s", cfg.Platform, cfg.Entity)
	stateStore := state.NewStore(stateConn, entityID, logger.Log)
	if err := stateStore.Migrate(ctx); err != nil {
		logger.Log.Fatal("Failed to migrate state tables", zap.Error(err))
	}

	adapter, err := source.NewAdapter(cfg, creds, metricsStore, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to build source adapter", zap.Error(err))
	}
	uniqueKey, err := adapter.UniqueKeyFor(cfg.Entity)
	if err != nil {
		logger.Log.Fatal("Unknown entity for platform", zap.Error(err))
	}
	schema, err := adapter.SchemaFor(cfg.Entity)
	if err != nil {
		logger.Log.Fatal("No schema for entity", zap.Error(err))
	}

	store, err := storage.New(ctx, cfg, destConn, uniqueKey, schema, metricsStore, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to build destination storage", zap.Error(err))
	}

	connector := engine.NewConnector(engine.ConnectorConfig{
		Entity:   entityID,
		Accounts: cfg.AccountIDs,
		Fields:   cfg.Fields,
		Window: engine.WindowConfig{
			Mode:            engine.RunMode(cfg.RunMode),
			BackfillStart:   config.ParsedDate(cfg.BackfillStartDate),
			BackfillEnd:     config.ParsedDate(cfg.BackfillEndDate),
			InitialStart:    config.ParsedDate(cfg.InitialStartDate),
			LookbackDays:    cfg.LookbackWindowDays,
			MaxFetchingDays: cfg.MaxFetchingDays,
		},
		ExpectedMaxRunDuration: cfg.ExpectedMaxRunDuration,
	}, adapter, store, stateStore, nil, logger.Log, metricsStore)

	// 12. Run: sekali saja, atau terus-menerus lewat cron
	exitCode := 0
	if cfg.CronSchedule != "" && cfg.RunMode == config.RunModeIncremental {
		runner := schedule.NewRunner(cfg.CronSchedule, logger.Log)
		if err := runner.Start(ctx, connector.Run); err != nil {
			logger.Log.Error("Scheduler stopped with error", zap.Error(err))
			exitCode = 1
		}
	} else {
		if cfg.CronSchedule != "" {
			logger.Log.Warn("CRON_SCHEDULE is ignored for manual_backfill: backfills run exactly once.")
		}
		if err := connector.Run(ctx); err != nil {
			exitCode = 1
		}
	}

	logger.Log.Info("Shutdown complete. Exiting.", zap.Int("exit_code", exitCode))
	stop()
	os.Exit(exitCode)
}

// applyCliOverrides menerapkan nilai dari flag CLI ke struct Config.
func applyCliOverrides(cfg *config.Config) {
	if runModeOverride != "" {
		mode := config.RunMode(strings.ToLower(runModeOverride))
		switch mode {
		case config.RunModeIncremental, config.RunModeBackfill:
			logger.Log.Info("Overriding RUN_MODE with CLI flag",
				zap.String("env_value", string(cfg.RunMode)), zap.String("cli_value", string(mode)))
			cfg.RunMode = mode
		default:
			logger.Log.Warn("Invalid value for -run-mode flag, ignoring override.",
				zap.String("invalid_value", runModeOverride))
		}
	}
	if entityOverride != "" {
		logger.Log.Info("Overriding ENTITY with CLI flag",
			zap.String("env_value", cfg.Entity), zap.String("cli_value", entityOverride))
		cfg.Entity = entityOverride
	}
	if backfillStartOverride != "" {
		cfg.BackfillStartDate = backfillStartOverride
	}
	if backfillEndOverride != "" {
		cfg.BackfillEndDate = backfillEndOverride
	}
	if cronScheduleOverride != "" {
		logger.Log.Info("Overriding CRON_SCHEDULE with CLI flag", zap.String("cli_value", cronScheduleOverride))
		cfg.CronSchedule = cronScheduleOverride
	}
	if destTableOverride != "" {
		logger.Log.Info("Overriding DEST_TABLE with CLI flag",
			zap.String("env_value", cfg.DestTable), zap.String("cli_value", destTableOverride))
		cfg.DestTable = destTableOverride
	}
}

// logLoadedConfig mencatat konfigurasi final yang digunakan.
func logLoadedConfig(cfg *config.Config) {
	credsSource := "not set"
	if cfg.APIAccessToken != "" || cfg.APIRefreshToken != "" {
		credsSource = "env var"
	} else if cfg.VaultEnabled && cfg.APISecretPath != "" {
		credsSource = "vault"
	}

	logger.Log.Info("Final configuration in use",
		zap.String("run_mode", string(cfg.RunMode)),
		zap.String("platform", string(cfg.Platform)),
		zap.String("entity", cfg.Entity),
		zap.Strings("account_ids", cfg.AccountIDs),
		zap.Int("requested_fields", len(cfg.Fields)),
		zap.String("destination", string(cfg.Destination)), zap.String("dest_table", cfg.DestTable),
		zap.Int("lookback_window_days", cfg.LookbackWindowDays), zap.Int("max_fetching_days", cfg.MaxFetchingDays),
		zap.String("initial_start_date", cfg.InitialStartDate),
		zap.String("backfill_start_date", cfg.BackfillStartDate), zap.String("backfill_end_date", cfg.BackfillEndDate),
		zap.Duration("expected_max_run_duration", cfg.ExpectedMaxRunDuration), zap.String("cron_schedule", cfg.CronSchedule),
		zap.Int("api_max_retries", cfg.APIMaxRetries), zap.Duration("api_retry_backoff", cfg.APIRetryBackoff),
		zap.Float64("api_rate_limit_rps", cfg.APIRateLimitRPS), zap.Duration("api_timeout", cfg.APITimeout),
		zap.Int("max_buffered_records", cfg.MaxBufferedRecords), zap.Int("max_statement_bytes", cfg.MaxStatementBytes),
		zap.Int("entity_batch_size", cfg.EntityBatchSize), zap.Int("max_fields_per_request", cfg.MaxFieldsPerRequest),
		zap.String("api_credentials_source", credsSource),
		zap.String("state_dialect", cfg.StateDB.Dialect), zap.String("state_host", cfg.StateDB.Host), zap.String("state_dbname", cfg.StateDB.DBName),
		zap.String("dest_dialect", cfg.DestDB.Dialect), zap.String("dest_host", cfg.DestDB.Host), zap.String("dest_dbname", cfg.DestDB.DBName),
		zap.Bool("json_logging", cfg.EnableJsonLogging), zap.Bool("enable_pprof", cfg.EnablePprof), zap.Int("metrics_port", cfg.MetricsPort), zap.Bool("debug_mode", cfg.DebugMode),
		zap.Bool("vault_enabled", cfg.VaultEnabled), zap.String("vault_addr", cfg.VaultAddr), zap.Bool("vault_token_present", cfg.VaultToken != ""),
		zap.String("api_secret_path", cfg.APISecretPath),
	)
}

// loadAPICredentials memuat kredensial API dari secret manager atau env var.
func loadAPICredentials(ctx context.Context, cfg *config.Config) (*secrets.APICredentials, error) {
	managers := make([]secrets.SecretManager, 0, 2)

	vaultMgr, vaultErr := secrets.NewVaultManager(cfg, logger.Log)
	if vaultErr != nil {
		if cfg.VaultEnabled {
			return nil, fmt.Errorf("initialize Vault secret manager: %w", vaultErr)
		}
		logger.Log.Warn("Could not initialize Vault secret manager", zap.Error(vaultErr))
	}
	if vaultMgr != nil && vaultMgr.IsEnabled() && cfg.APISecretPath != "" {
		managers = append(managers, vaultMgr)
	}
	managers = append(managers, secrets.NewEnvManager(cfg, logger.Log))

	var lastErr error
	for _, sm := range managers {
		if !sm.IsEnabled() {
			continue
		}
		getCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		creds, err := sm.GetAPICredentials(getCtx, cfg.APISecretPath)
		cancel()
		if err == nil {
			return creds, nil
		}
		logger.Log.Warn("Secret manager did not yield credentials, trying next if available.",
			zap.String("manager_type", fmt.Sprintf("%T", sm)), zap.Error(err))
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no API credentials available: set API_ACCESS_TOKEN/API_REFRESH_TOKEN or enable Vault with API_SECRET_PATH")
}

// connectDBWithRetry mencoba menghubungkan ke DB dengan logika retry.
func connectDBWithRetry(ctx context.Context, dbCfg config.DatabaseConfig, dbLabel string, gl logger.GormLoggerInterface) (*db.Connector, error) {
	dsn := db.BuildDSN(dbCfg)
	if dsn == "" {
		return nil, fmt.Errorf("could not build DSN for %s DB (unsupported dialect: %s)", dbLabel, dbCfg.Dialect)
	}

	var lastErr error
	for i := 0; i <= dbConnectRetries; i++ {
		if i > 0 {
			logger.Log.Warn("Retrying database connection",
				zap.String("db", dbLabel),
				zap.Int("attempt", i+1),
				zap.Duration("wait_interval", dbConnectInterval),
				zap.NamedError("previous_error", lastErr))
			select {
			case <-time.After(dbConnectInterval):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled while retrying %s DB connection: %w", dbLabel, ctx.Err())
			}
		}

		logger.Log.Info("Attempting to connect",
			zap.String("db", dbLabel),
			zap.String("dialect", dbCfg.Dialect),
			zap.String("host", dbCfg.Host),
			zap.String("dbname", dbCfg.DBName),
			zap.Int("attempt", i+1))

		conn, err := db.New(dbCfg.Dialect, dsn, gl)
		if err != nil {
			lastErr = err
			continue
		}
		if err := conn.Ping(ctx); err != nil {
			lastErr = err
			_ = conn.Close()
			continue
		}
		logger.Log.Info("Database connection successful", zap.String("db", dbLabel))
		return conn, nil
	}
	return nil, fmt.Errorf("failed to connect to %s DB (%s) after %d attempts: %w",
		dbLabel, dbCfg.Dialect, dbConnectRetries+1, lastErr)
}

func closeConn(conn *db.Connector, label string) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		logger.Log.Error("Error closing DB connection", zap.String("db", label), zap.Error(err))
	}
}
