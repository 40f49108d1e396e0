package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func TestComputeIncrementalWindow(t *testing.T) {
	log := zap.NewNop()

	testCases := []struct {
		name          string
		cfg           WindowConfig
		lastRequested *time.Time
		now           time.Time
		expectedStart time.Time
		expectedEnd   time.Time
		expectNil     bool
	}{
		{
			name: "cursor with lookback and max cap",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    2,
				MaxFetchingDays: 5,
			},
			lastRequested: datePtr(2024, 1, 10),
			now:           date(2024, 1, 20),
			expectedStart: date(2024, 1, 8),
			expectedEnd:   date(2024, 1, 12),
		},
		{
			name: "cursor caught up refetches lookback",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    2,
				MaxFetchingDays: 30,
			},
			lastRequested: datePtr(2024, 1, 19),
			now:           date(2024, 1, 20),
			expectedStart: date(2024, 1, 17),
			expectedEnd:   date(2024, 1, 20),
		},
		{
			name: "first run uses initial start date",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    2,
				MaxFetchingDays: 30,
				InitialStart:    datePtr(2024, 1, 15),
			},
			now:           date(2024, 1, 20),
			expectedStart: date(2024, 1, 15),
			expectedEnd:   date(2024, 1, 20),
		},
		{
			name: "first run without initial start fetches today only",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    2,
				MaxFetchingDays: 30,
			},
			now:           date(2024, 1, 20),
			expectedStart: date(2024, 1, 20),
			expectedEnd:   date(2024, 1, 20),
		},
		{
			name: "zero lookback starts on cursor",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    0,
				MaxFetchingDays: 30,
			},
			lastRequested: datePtr(2024, 1, 18),
			now:           date(2024, 1, 20),
			expectedStart: date(2024, 1, 18),
			expectedEnd:   date(2024, 1, 20),
		},
		{
			name: "start beyond today yields nothing to fetch",
			cfg: WindowConfig{
				Mode:            RunIncremental,
				LookbackDays:    0,
				MaxFetchingDays: 30,
				InitialStart:    datePtr(2024, 2, 1),
			},
			now:       date(2024, 1, 20),
			expectNil: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			window, err := computeDateWindow(tc.cfg, tc.lastRequested, tc.now, log)
			require.NoError(t, err)
			if tc.expectNil {
				assert.Nil(t, window)
				return
			}
			require.NotNil(t, window)
			assert.Equal(t, tc.expectedStart, window.Start)
			assert.Equal(t, tc.expectedEnd, window.End)
		})
	}
}

func TestComputeBackfillWindow(t *testing.T) {
	log := zap.NewNop()
	now := date(2024, 1, 20)

	t.Run("explicit range is honored", func(t *testing.T) {
		window, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2023, 11, 1),
			BackfillEnd:   datePtr(2023, 12, 31),
			// The cap must not apply to operator backfills.
			MaxFetchingDays: 5,
		}, nil, now, log)
		require.NoError(t, err)
		require.NotNil(t, window)
		assert.Equal(t, date(2023, 11, 1), window.Start)
		assert.Equal(t, date(2023, 12, 31), window.End)
		assert.Equal(t, 61, window.Days())
	})

	t.Run("missing end defaults to today", func(t *testing.T) {
		window, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2024, 1, 15),
		}, nil, now, log)
		require.NoError(t, err)
		require.NotNil(t, window)
		assert.Equal(t, now, window.End)
	})

	t.Run("future end is clamped to today", func(t *testing.T) {
		window, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2024, 1, 15),
			BackfillEnd:   datePtr(2024, 3, 1),
		}, nil, now, log)
		require.NoError(t, err)
		require.NotNil(t, window)
		assert.Equal(t, now, window.End)
	})

	t.Run("missing start is rejected", func(t *testing.T) {
		_, err := computeDateWindow(WindowConfig{Mode: RunManualBackfill}, nil, now, log)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("future start is rejected", func(t *testing.T) {
		_, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2024, 2, 1),
		}, nil, now, log)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("inverted range is rejected", func(t *testing.T) {
		_, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2024, 1, 15),
			BackfillEnd:   datePtr(2024, 1, 10),
		}, nil, now, log)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("cursor does not influence backfill", func(t *testing.T) {
		window, err := computeDateWindow(WindowConfig{
			Mode:          RunManualBackfill,
			BackfillStart: datePtr(2024, 1, 1),
			BackfillEnd:   datePtr(2024, 1, 5),
		}, datePtr(2024, 1, 18), now, log)
		require.NoError(t, err)
		require.NotNil(t, window)
		assert.Equal(t, date(2024, 1, 1), window.Start)
		assert.Equal(t, date(2024, 1, 5), window.End)
	})
}
