package logger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

var (
	Log        *zap.Logger
	gormLogger GormLoggerInterface
)

// GormLoggerInterface defines the interface for our GormLogger.
type GormLoggerInterface interface {
	gormlogger.Interface
}

// GormLogger routes GORM SQL tracing through Zap with sensitive-value
// redaction. API tokens regularly end up in state-store writes, so the
// redaction list covers credential-ish words, not just passwords.
type GormLogger struct {
	*zap.Logger
	LogLevel       gormlogger.LogLevel
	SlowThreshold  time.Duration
	SensitiveWords []string
	ZapLogLevel    zapcore.Level
}

// Init initializes the global Zap logger and the GORM logger wrapper.
// jsonOutput controls whether logs are formatted as JSON.
func Init(debug bool, jsonOutput bool) error {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableCaller = true
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	if !config.DisableCaller {
		encoderConfig.CallerKey = "caller"
	}

	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug

	if jsonOutput {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
	}

	var err error
	buildOptions := []zap.Option{}
	if !config.DisableCaller {
		buildOptions = append(buildOptions, zap.AddCallerSkip(1))
	}

	Log, err = config.Build(buildOptions...)
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}

	gormLogger = NewGormLogger(debug)
	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
		zap.String("log_level", config.Level.Level().String()),
	)
	return nil
}

// NewGormLogger creates a new GormLogger wrapper.
func NewGormLogger(debug bool) GormLoggerInterface {
	gormLevel := gormlogger.Warn
	zapLevel := zapcore.WarnLevel
	if debug {
		gormLevel = gormlogger.Info // GORM Info includes SQL in debug
		zapLevel = zapcore.DebugLevel
	}

	if Log == nil {
		panic("Zap logger (Log) is not initialized before creating GormLogger")
	}

	return &GormLogger{
		Logger:         Log.Named("gorm"),
		LogLevel:       gormLevel,
		SlowThreshold:  200 * time.Millisecond,
		SensitiveWords: []string{"password", "token", "secret", "apikey", "credential"},
		ZapLogLevel:    zapLevel,
	}
}

// LogMode sets the GORM log level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	switch level {
	case gormlogger.Silent:
		newLogger.ZapLogLevel = zapcore.FatalLevel + 1
	case gormlogger.Error:
		newLogger.ZapLogLevel = zapcore.ErrorLevel
	case gormlogger.Warn:
		newLogger.ZapLogLevel = zapcore.WarnLevel
	case gormlogger.Info:
		newLogger.ZapLogLevel = zapcore.DebugLevel
	default:
		newLogger.ZapLogLevel = zapcore.DebugLevel
	}
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.WithOptions(zap.AddCallerSkip(1)).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs SQL queries and execution details.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel < gormlogger.Info {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	redactedSQL := sql
	for _, word := range l.SensitiveWords {
		re := regexp.MustCompile(`(?i)(` + regexp.QuoteMeta(word) + `\s*[:=]\s*)('.*?'|".*?"|\S+)`)
		redactedSQL = re.ReplaceAllString(redactedSQL, `${1}***REDACTED***`)
	}

	fields := []zap.Field{
		zap.Duration("duration_ms", elapsed.Round(time.Millisecond)),
		zap.String("sql", redactedSQL),
	}
	if rows > -1 { // GORM returns -1 for non-row-returning statements (DDL)
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	logger := l.Logger.WithOptions(zap.AddCallerSkip(1))

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && !strings.Contains(err.Error(), "record not found"):
		fields = append(fields, zap.Error(err))
		logger.Error("SQL Error", fields...)
	case elapsed > l.SlowThreshold && l.SlowThreshold > 0 && l.LogLevel >= gormlogger.Warn:
		fields = append(fields, zap.Duration("threshold", l.SlowThreshold))
		logger.Warn("Slow Query", fields...)
	case l.LogLevel >= gormlogger.Info:
		logger.Debug("SQL Query", fields...)
	}
}

// GetGormLogger returns the initialized GORM logger instance.
func GetGormLogger() GormLoggerInterface {
	if gormLogger == nil {
		panic("GormLogger is not initialized. Call logger.Init() first.")
	}
	return gormLogger
}
