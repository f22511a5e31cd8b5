package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is an immutable snapshot of the environment, loaded once at
// process start and passed down explicitly. Connection URLs for Postgres,
// Redis and StatsD stay in cmdutil, which reads them directly.
type Settings struct {
	Env string

	Auth      AuthSettings
	Reddit    RedditSettings
	Blob      BlobSettings
	Queue     QueueSettings
	Sentiment SentimentSettings
	Alerts    AlertSettings

	Timezone           *time.Location
	AuthorHashSalt     string
	AutoArchive        bool
	ArchiveIdleMinutes int
	RosterPath         string
}

type AuthSettings struct {
	Domain     string
	Audience   string
	Algorithms []string
}

// JWKSURL is the conventional well-known path on the identity provider.
func (a AuthSettings) JWKSURL() string {
	if a.Domain == "" {
		return ""
	}

	return fmt.Sprintf("https://%s/.well-known/jwks.json", strings.TrimSuffix(a.Domain, "/"))
}

func (a AuthSettings) Issuer() string {
	if a.Domain == "" {
		return ""
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(a.Domain, "/"))
}

type RedditSettings struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string

	RateLimitCalls  int
	RateLimitPeriod time.Duration
}

type BlobSettings struct {
	Bucket    string
	RawPrefix string
	Region    string
	Endpoint  string
}

type QueueSettings struct {
	PrefetchMultiplier int
	TaskTimeLimit      time.Duration
}

type SentimentSettings struct {
	PrimaryURL      string
	PrimaryModel    string
	ModelRevision   string
	CacheDir        string
	FallbackURL     string
	FallbackKey     string
	FallbackEnabled bool

	ConfidenceThreshold float64
	MinConfidence       float64
	MinMargin           float64
	SarcasmThreshold    float64
	ToxicityThreshold   float64
	ModelVersion        string
}

// ConfidenceGate floors the configured confidence at 0.55; both the current
// and the legacy knob are honored.
func (s SentimentSettings) ConfidenceGate() float64 {
	gate := 0.55
	if s.MinConfidence > gate {
		gate = s.MinConfidence
	}
	if s.ConfidenceThreshold > gate {
		gate = s.ConfidenceThreshold
	}

	return gate
}

// MarginGate floors the configured top1-top2 margin at 0.10.
func (s SentimentSettings) MarginGate() float64 {
	if s.MinMargin > 0.10 {
		return s.MinMargin
	}

	return 0.10
}

type AlertSettings struct {
	SlackWebhookURL string
	FromEmail       string
	FromName        string
}

func Load() (Settings, error) {
	tzName := envString("TIMEZONE", "America/New_York")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return Settings{}, fmt.Errorf("could not load timezone %q: %w", tzName, err)
	}

	settings := Settings{
		Env: envString("ENV", "development"),

		Auth: AuthSettings{
			Domain:     os.Getenv("AUTH_DOMAIN"),
			Audience:   os.Getenv("AUTH_AUDIENCE"),
			Algorithms: envList("AUTH_ALGORITHMS", []string{"RS256"}),
		},

		Reddit: RedditSettings{
			ClientID:        os.Getenv("REDDIT_CLIENT_ID"),
			ClientSecret:    os.Getenv("REDDIT_CLIENT_SECRET"),
			Username:        os.Getenv("REDDIT_USERNAME"),
			Password:        os.Getenv("REDDIT_PASSWORD"),
			UserAgent:       envString("REDDIT_USER_AGENT", "socializer-backend/1.0"),
			RateLimitCalls:  envInt("REDDIT_RATE_LIMIT_CALLS", 60),
			RateLimitPeriod: time.Duration(envInt("REDDIT_RATE_LIMIT_PERIOD", 60)) * time.Second,
		},

		Blob: BlobSettings{
			Bucket:    os.Getenv("S3_BUCKET"),
			RawPrefix: envString("S3_RAW_PREFIX", "raw"),
			Region:    envString("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
		},

		Queue: QueueSettings{
			PrefetchMultiplier: envInt("QUEUE_PREFETCH_MULTIPLIER", 2),
			TaskTimeLimit:      time.Duration(envInt("TASK_TIME_LIMIT_SECONDS", 300)) * time.Second,
		},

		Sentiment: SentimentSettings{
			PrimaryURL:          os.Getenv("SENTIMENT_PRIMARY_URL"),
			PrimaryModel:        envString("SENTIMENT_PRIMARY_MODEL", "reality-sentiment-base"),
			ModelRevision:       envString("SENTIMENT_MODEL_REVISION", "main"),
			CacheDir:            os.Getenv("SENTIMENT_CACHE_DIR"),
			FallbackURL:         os.Getenv("SENTIMENT_FALLBACK_URL"),
			FallbackKey:         os.Getenv("SENTIMENT_FALLBACK_KEY"),
			FallbackEnabled:     envBool("SENTIMENT_FALLBACK_ENABLED", false),
			ConfidenceThreshold: envFloat("SENTIMENT_CONFIDENCE_THRESHOLD", 0),
			MinConfidence:       envFloat("SENTIMENT_MIN_CONFIDENCE", 0.55),
			MinMargin:           envFloat("SENTIMENT_MIN_MARGIN", 0.10),
			SarcasmThreshold:    envFloat("SARCASM_THRESHOLD", 0.7),
			ToxicityThreshold:   envFloat("TOXICITY_THRESHOLD", 0.7),
			ModelVersion:        envString("SENTIMENT_MODEL_VERSION", "v1"),
		},

		Alerts: AlertSettings{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
			FromEmail:       envString("ALERT_FROM_EMAIL", "alerts@therealityreport.net"),
			FromName:        envString("ALERT_FROM_NAME", "Socializer Alerts"),
		},

		Timezone:           tz,
		AuthorHashSalt:     os.Getenv("AUTHOR_HASH_SALT"),
		AutoArchive:        envBool("AUTO_ARCHIVE", true),
		ArchiveIdleMinutes: envInt("THREAD_ARCHIVE_IDLE_MINUTES", 4320),
		RosterPath:         os.Getenv("ROSTER_PATH"),
	}

	return settings, nil
}

// ArchiveIdle is the quiet period after which an auto-archived thread stops
// polling.
func (s Settings) ArchiveIdle() time.Duration {
	return time.Duration(s.ArchiveIdleMinutes) * time.Minute
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}

	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}

	return b
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}

	return out
}
