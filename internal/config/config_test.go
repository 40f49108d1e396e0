package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLATFORM", "facebook")
	t.Setenv("ENTITY", "insights")
	t.Setenv("ACCOUNT_IDS", "123,456")
	t.Setenv("DESTINATION", "warehouse")
	t.Setenv("DEST_TABLE", "fb_insights")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RunModeIncremental, cfg.RunMode)
	assert.Equal(t, PlatformFacebook, cfg.Platform)
	assert.Equal(t, []string{"123", "456"}, cfg.AccountIDs)
	assert.Equal(t, 2, cfg.LookbackWindowDays)
	assert.Equal(t, 30, cfg.MaxFetchingDays)
	assert.Equal(t, 500, cfg.MaxBufferedRecords)
	assert.Equal(t, 1000000, cfg.MaxStatementBytes)
	assert.Equal(t, "sqlite", cfg.StateDB.Dialect)
	assert.Equal(t, 9091, cfg.MetricsPort)
}

func TestLoadNormalizesCase(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATFORM", "TikTok")
	t.Setenv("DESTINATION", "WAREHOUSE")
	t.Setenv("RUN_MODE", "Incremental")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PlatformTikTok, cfg.Platform)
	assert.Equal(t, DestinationWarehouse, cfg.Destination)
	assert.Equal(t, RunModeIncremental, cfg.RunMode)
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		errPart string
	}{
		{"unknown platform", map[string]string{"PLATFORM": "myspace"}, "invalid platform"},
		{"unknown destination", map[string]string{"DESTINATION": "ftp"}, "invalid destination"},
		{"unknown run mode", map[string]string{"RUN_MODE": "turbo"}, "invalid run mode"},
		{"backfill needs start date", map[string]string{"RUN_MODE": "manual_backfill"}, "BACKFILL_START_DATE"},
		{"malformed date", map[string]string{"BACKFILL_START_DATE": "01-03-2024"}, "expected YYYY-MM-DD"},
		{"negative lookback", map[string]string{"LOOKBACK_WINDOW_DAYS": "-1"}, "lookback"},
		{"zero max fetching days", map[string]string{"MAX_FETCHING_DAYS": "0"}, "max fetching days"},
		{"zero buffered records", map[string]string{"MAX_BUFFERED_RECORDS": "0"}, "buffered records"},
		{"bad state dialect", map[string]string{"STATE_DIALECT": "oracle"}, "invalid dialect"},
		{"bad ssl mode", map[string]string{"DEST_DIALECT": "postgres", "DEST_SSLMODE": "maybe"}, "SSL mode"},
		{"bad metrics port", map[string]string{"METRICS_PORT": "70000"}, "metrics port"},
		{"lakehouse needs bucket", map[string]string{"DESTINATION": "lakehouse"}, "LAKE_S3_BUCKET"},
		{"sheet needs doc id", map[string]string{"DESTINATION": "sheet", "SHEET_BASE_URL": "https://sheets.example.com"}, "SHEET_DOC_ID"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}
}

func TestLoadTrimsAccountIDs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ACCOUNT_IDS", " 123 , 456 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "456"}, cfg.AccountIDs)
}

func TestParsedDate(t *testing.T) {
	assert.Nil(t, ParsedDate(""))
	d := ParsedDate("2024-03-01")
	require.NotNil(t, d)
	assert.Equal(t, "2024-03-01", d.Format("2006-01-02"))
}
