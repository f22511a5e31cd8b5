package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/socializer-backend/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "development", settings.Env)
	assert.Equal(t, 60, settings.Reddit.RateLimitCalls)
	assert.Equal(t, "America/New_York", settings.Timezone.String())
	assert.Equal(t, []string{"RS256"}, settings.Auth.Algorithms)
	assert.True(t, settings.AutoArchive)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("REDDIT_RATE_LIMIT_CALLS", "100")
	t.Setenv("AUTH_ALGORITHMS", "RS256, ES256")
	t.Setenv("SENTIMENT_FALLBACK_ENABLED", "true")
	t.Setenv("AUTO_ARCHIVE", "false")

	settings, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "UTC", settings.Timezone.String())
	assert.Equal(t, 100, settings.Reddit.RateLimitCalls)
	assert.Equal(t, []string{"RS256", "ES256"}, settings.Auth.Algorithms)
	assert.True(t, settings.Sentiment.FallbackEnabled)
	assert.False(t, settings.AutoArchive)
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus_Mons")

	_, err := config.Load()

	assert.Error(t, err)
}

func TestSentimentGates(t *testing.T) {
	t.Parallel()

	tt := map[string]struct {
		settings config.SentimentSettings

		wantConfidence float64
		wantMargin     float64
	}{
		"floors apply":     {config.SentimentSettings{MinConfidence: 0.2, MinMargin: 0.05}, 0.55, 0.10},
		"configured wins":  {config.SentimentSettings{MinConfidence: 0.8, MinMargin: 0.25}, 0.8, 0.25},
		"legacy knob wins": {config.SentimentSettings{MinConfidence: 0.6, ConfidenceThreshold: 0.9}, 0.9, 0.10},
	}

	for scenario, tc := range tt {
		tc := tc
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tc.wantConfidence, tc.settings.ConfidenceGate(), 1e-9)
			assert.InDelta(t, tc.wantMargin, tc.settings.MarginGate(), 1e-9)
		})
	}
}
