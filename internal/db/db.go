package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arwahdevops/adsync/internal/config"
	"github.com/arwahdevops/adsync/internal/logger"
)

// Connector wraps one GORM connection with its dialect. It backs both the
// state store and the SQL destinations (warehouse, lakehouse query engine).
type Connector struct {
	DB      *gorm.DB
	Dialect string
}

func New(dialect, dsn string, gl logger.GormLoggerInterface) (*Connector, error) {
	var dialector gorm.Dialector

	lcDialect := strings.ToLower(dialect)
	switch lcDialect {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database (%s): %w", lcDialect, err)
	}

	return &Connector{
		DB:      db,
		Dialect: lcDialect,
	}, nil
}

// BuildDSN renders a Data Source Name for the configured database.
func BuildDSN(cfg config.DatabaseConfig) string {
	sslmode := strings.ToLower(cfg.SSLMode)

	switch strings.ToLower(cfg.Dialect) {
	case "mysql":
		sslParam := "tls=false"
		if sslmode != "disable" && sslmode != "" {
			if sslmode == "skip-verify" || sslmode == "preferred" {
				sslParam = "tls=skip-verify"
			} else {
				sslParam = "tls=true"
			}
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=60s&writeTimeout=60s&%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, sslParam)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
	case "sqlite":
		// _busy_timeout keeps concurrent state writes from failing outright
		// when the watchdog and a run touch the file at the same time.
		return fmt.Sprintf("file:%s?cache=shared&_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", cfg.DBName)
	default:
		return ""
	}
}

// Optimize configures the underlying connection pool.
func (c *Connector) Optimize(poolSize int, maxLifetime time.Duration) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for optimization: %w", err)
	}

	if poolSize <= 0 {
		poolSize = 10
	}
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}

	switch c.Dialect {
	case "mysql", "postgres":
		sqlDB.SetMaxIdleConns(poolSize / 2)
		sqlDB.SetMaxOpenConns(poolSize)
		sqlDB.SetConnMaxLifetime(maxLifetime)
	case "sqlite":
		// SQLite works best with a single writer connection.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	return nil
}

func (c *Connector) Ping(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for ping: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

func (c *Connector) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		logger.Log.Warn("Failed to get sql.DB for closing, attempting close anyway", zap.Error(err))
		return fmt.Errorf("failed to get sql.DB handle to close: %w", err)
	}
	logger.Log.Info("Closing database connection pool", zap.String("dialect", c.Dialect))
	return sqlDB.Close()
}
