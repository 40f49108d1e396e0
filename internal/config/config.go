package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v8"
)

type RunMode string

const (
	RunModeIncremental RunMode = "incremental"     // Default, cursor-driven
	RunModeBackfill    RunMode = "manual_backfill" // One-off operator range
)

type Platform string

const (
	PlatformBing     Platform = "bing"
	PlatformFacebook Platform = "facebook"
	PlatformLinkedIn Platform = "linkedin"
	PlatformReddit   Platform = "reddit"
	PlatformTikTok   Platform = "tiktok"
	PlatformX        Platform = "xads"
)

type Destination string

const (
	DestinationWarehouse Destination = "warehouse" // Inline MERGE into a SQL warehouse
	DestinationLakehouse Destination = "lakehouse" // S3-staged temp table MERGE
	DestinationSheet     Destination = "sheet"     // Spreadsheet grid, cell diffing
)

type Config struct {
	// Sync Settings
	RunMode     RunMode     `env:"RUN_MODE" envDefault:"incremental"`
	Platform    Platform    `env:"PLATFORM,required"`
	Entity      string      `env:"ENTITY,required"`
	AccountIDs  []string    `env:"ACCOUNT_IDS,required" envSeparator:","`
	Fields      []string    `env:"FIELDS" envSeparator:","` // Empty = full entity schema
	Destination Destination `env:"DESTINATION,required"`
	DestTable   string      `env:"DEST_TABLE,required"`

	// Date window
	LookbackWindowDays int    `env:"LOOKBACK_WINDOW_DAYS" envDefault:"2"`
	MaxFetchingDays    int    `env:"MAX_FETCHING_DAYS" envDefault:"30"`
	InitialStartDate   string `env:"INITIAL_START_DATE"`  // YYYY-MM-DD, first incremental run only
	BackfillStartDate  string `env:"BACKFILL_START_DATE"` // YYYY-MM-DD, manual_backfill only
	BackfillEndDate    string `env:"BACKFILL_END_DATE"`   // YYYY-MM-DD, defaults to today

	// Run lifecycle
	ExpectedMaxRunDuration time.Duration `env:"EXPECTED_MAX_RUN_DURATION" envDefault:"30m"`
	CronSchedule           string        `env:"CRON_SCHEDULE"` // Empty = single run then exit

	// Source API behavior
	APIMaxRetries       int           `env:"API_MAX_RETRIES" envDefault:"3"`
	APIRetryBackoff     time.Duration `env:"API_RETRY_BACKOFF" envDefault:"2s"`
	APITimeout          time.Duration `env:"API_TIMEOUT" envDefault:"60s"`
	APIRateLimitRPS     float64       `env:"API_RATE_LIMIT_RPS" envDefault:"4"`
	MaxFieldsPerRequest int           `env:"MAX_FIELDS_PER_REQUEST" envDefault:"0"` // 0 = platform default
	EntityBatchSize     int           `env:"ENTITY_BATCH_SIZE" envDefault:"100"`    // Bulk-download endpoints

	// Storage behavior
	MaxBufferedRecords int `env:"MAX_BUFFERED_RECORDS" envDefault:"500"`
	MaxStatementBytes  int `env:"MAX_STATEMENT_BYTES" envDefault:"1000000"` // Warehouse MERGE size ceiling

	// Lakehouse staging
	LakeS3Bucket string `env:"LAKE_S3_BUCKET"`
	LakeS3Prefix string `env:"LAKE_S3_PREFIX" envDefault:"adsync/staging"`
	LakeS3Region string `env:"LAKE_S3_REGION" envDefault:"us-east-1"`

	// Sheet destination
	SheetBaseURL  string `env:"SHEET_BASE_URL"`
	SheetDocID    string `env:"SHEET_DOC_ID"`
	SheetTabName  string `env:"SHEET_TAB_NAME" envDefault:"data"`
	SheetAPIToken string `env:"SHEET_API_TOKEN"`

	// Platform API credentials (direct; Vault takes over when these are empty)
	APIClientID       string `env:"API_CLIENT_ID"`
	APIClientSecret   string `env:"API_CLIENT_SECRET"`
	APIRefreshToken   string `env:"API_REFRESH_TOKEN"`
	APIAccessToken    string `env:"API_ACCESS_TOKEN"`
	APIDeveloperToken string `env:"API_DEVELOPER_TOKEN"` // Bing only

	// Vault
	VaultEnabled    bool   `env:"VAULT_ENABLED" envDefault:"false"`
	VaultAddr       string `env:"VAULT_ADDR" envDefault:"http://127.0.0.1:8200"`
	VaultToken      string `env:"VAULT_TOKEN"`
	VaultCACert     string `env:"VAULT_CACERT"`
	VaultSkipVerify bool   `env:"VAULT_SKIP_VERIFY" envDefault:"false"`
	APISecretPath   string `env:"API_SECRET_PATH"`

	// Observability & Debugging
	EnableJsonLogging bool `env:"ENABLE_JSON_LOGGING" envDefault:"false"` // Log in JSON format
	EnablePprof       bool `env:"ENABLE_PPROF" envDefault:"false"`        // Enable pprof endpoints
	MetricsPort       int  `env:"METRICS_PORT" envDefault:"9091"`         // Port for /metrics, /healthz, /readyz
	DebugMode         bool `env:"DEBUG_MODE" envDefault:"false"`

	// Database Configurations
	StateDB DatabaseConfig `envPrefix:"STATE_"` // Run state + sync log
	DestDB  DatabaseConfig `envPrefix:"DEST_"`  // Warehouse / lakehouse SQL engine
}

type DatabaseConfig struct {
	Dialect  string `env:"DIALECT" envDefault:"sqlite"`
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"` // Consider external secret management in real prod
	DBName   string `env:"DBNAME" envDefault:"adsync.db"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"` // Use "require" or higher in prod
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config parsing error: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	// Validasi run mode
	mode := RunMode(strings.ToLower(string(cfg.RunMode)))
	if mode != RunModeIncremental && mode != RunModeBackfill {
		return fmt.Errorf("invalid run mode: %s. Valid options: %s, %s",
			cfg.RunMode, RunModeIncremental, RunModeBackfill)
	}
	cfg.RunMode = mode

	// Validasi platform
	allowedPlatforms := map[Platform]bool{
		PlatformBing: true, PlatformFacebook: true, PlatformLinkedIn: true,
		PlatformReddit: true, PlatformTikTok: true, PlatformX: true,
	}
	platform := Platform(strings.ToLower(string(cfg.Platform)))
	if !allowedPlatforms[platform] {
		return fmt.Errorf("invalid platform: %s. Valid options: %v",
			cfg.Platform, platformKeys(allowedPlatforms))
	}
	cfg.Platform = platform

	// Validasi destination
	dest := Destination(strings.ToLower(string(cfg.Destination)))
	switch dest {
	case DestinationWarehouse, DestinationLakehouse, DestinationSheet:
		cfg.Destination = dest
	default:
		return fmt.Errorf("invalid destination: %s. Valid options: %s, %s, %s",
			cfg.Destination, DestinationWarehouse, DestinationLakehouse, DestinationSheet)
	}

	if len(cfg.AccountIDs) == 0 {
		return fmt.Errorf("at least one account id is required")
	}
	for i, id := range cfg.AccountIDs {
		cfg.AccountIDs[i] = strings.TrimSpace(id)
		if cfg.AccountIDs[i] == "" {
			return fmt.Errorf("account id at position %d is empty", i)
		}
	}

	// Validasi nilai numerik
	if cfg.LookbackWindowDays < 0 {
		return fmt.Errorf("lookback window days cannot be negative")
	}
	if cfg.MaxFetchingDays <= 0 {
		return fmt.Errorf("max fetching days must be positive")
	}
	if cfg.MaxBufferedRecords <= 0 {
		return fmt.Errorf("max buffered records must be positive")
	}
	if cfg.MaxStatementBytes <= 0 {
		return fmt.Errorf("max statement bytes must be positive")
	}
	if cfg.EntityBatchSize <= 0 {
		return fmt.Errorf("entity batch size must be positive")
	}
	if cfg.APIMaxRetries < 0 {
		return fmt.Errorf("api max retries cannot be negative")
	}
	if cfg.APIRateLimitRPS <= 0 {
		return fmt.Errorf("api rate limit must be positive")
	}
	if cfg.ExpectedMaxRunDuration <= 0 {
		return fmt.Errorf("expected max run duration must be positive")
	}

	// Validasi tanggal
	for name, val := range map[string]string{
		"INITIAL_START_DATE":  cfg.InitialStartDate,
		"BACKFILL_START_DATE": cfg.BackfillStartDate,
		"BACKFILL_END_DATE":   cfg.BackfillEndDate,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseInLocation("2006-01-02", val, time.UTC); err != nil {
			return fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", name, val)
		}
	}
	if cfg.RunMode == RunModeBackfill && cfg.BackfillStartDate == "" {
		return fmt.Errorf("manual_backfill mode requires BACKFILL_START_DATE")
	}

	// Validasi port
	if cfg.MetricsPort < 1 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	// Destination-specific prerequisites
	switch cfg.Destination {
	case DestinationLakehouse:
		if cfg.LakeS3Bucket == "" {
			return fmt.Errorf("lakehouse destination requires LAKE_S3_BUCKET")
		}
	case DestinationSheet:
		if cfg.SheetBaseURL == "" || cfg.SheetDocID == "" {
			return fmt.Errorf("sheet destination requires SHEET_BASE_URL and SHEET_DOC_ID")
		}
	}

	// Validasi SSLMode
	validSSL := map[string]bool{
		"disable":     true,
		"allow":       true,
		"prefer":      true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	for label, dbCfg := range map[string]DatabaseConfig{"state": cfg.StateDB, "destination": cfg.DestDB} {
		if isSSLModeRelevant(dbCfg.Dialect) && !validSSL[strings.ToLower(dbCfg.SSLMode)] {
			return fmt.Errorf("invalid SSL mode for %s DB: %s", label, dbCfg.SSLMode)
		}
		switch strings.ToLower(dbCfg.Dialect) {
		case "mysql", "postgres", "sqlite":
		default:
			return fmt.Errorf("invalid dialect for %s DB: %s", label, dbCfg.Dialect)
		}
	}

	return nil
}

// ParsedDate returns an optional YYYY-MM-DD config value as a UTC time, or
// nil when unset. Callers must have passed validateConfig first.
func ParsedDate(val string) *time.Time {
	if val == "" {
		return nil
	}
	t, err := time.ParseInLocation("2006-01-02", val, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func platformKeys(m map[Platform]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys) // Sort for consistent error messages
	return keys
}

func isSSLModeRelevant(dialect string) bool {
	switch strings.ToLower(dialect) {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
