package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "dev", cfg.AppEnv)
	require.True(t, cfg.IsDev())
	require.False(t, cfg.IsProd())
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 30*time.Second, cfg.DrainTimeout)
	require.Equal(t, 5*time.Second, cfg.EnabledCacheTTL)
	require.Equal(t, "https://www.reddit.com", cfg.RedditBaseURL)
	require.Equal(t, 3, cfg.RedditMaxRetries)
	require.Equal(t, 2, cfg.ProxyValidateConcurrency)
	require.Equal(t, 15*time.Second, cfg.ProxyValidateTimeout)
	require.Equal(t, float64(55), cfg.InstagramRate)
	require.Equal(t, 10, cfg.InstagramConcurrency)
	require.Equal(t, 4*time.Hour, cfg.CycleWait)
	require.Equal(t, int64(50000), cfg.ViralMinPlays)
	require.Equal(t, float64(5), cfg.ViralMultiplier)
	require.Equal(t, 30, cfg.MediaTargetExisting)
	require.Equal(t, 90, cfg.MediaTargetNew)
	require.Equal(t, "instagram-looter2.p.rapidapi.com", cfg.RapidAPIHost)
	require.Equal(t, "scraper.discoveries", cfg.DiscoveryTopic)
	require.False(t, cfg.R2Enabled)
	require.False(t, cfg.AdminEnabled())
	require.False(t, cfg.DiscoveryEventsEnabled())
}

func Test_Load_And_AdminEnabled(t *testing.T) {
	t.Setenv("ADMIN_USERNAME", "admin")
	t.Setenv("ADMIN_PASSWORD_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.AdminEnabled())

	require.NoError(t, os.Unsetenv("ADMIN_USERNAME"))
	require.NoError(t, os.Unsetenv("ADMIN_PASSWORD_HASH"))
	cfg, err = Load()
	require.NoError(t, err)
	require.False(t, cfg.AdminEnabled())
}

func Test_Load_KafkaBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:19092,localhost:29092")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.KafkaBrokers, 2)
	require.True(t, cfg.DiscoveryEventsEnabled())
}

func Test_Load_RejectsInvalidPacing(t *testing.T) {
	t.Setenv("REDDIT_PACING_MIN", "5s")
	t.Setenv("REDDIT_PACING_MAX", "1s")

	_, err := Load()
	require.Error(t, err)
}

func Test_R2EndpointHost(t *testing.T) {
	t.Setenv("R2_ACCOUNT_ID", "abc123")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "abc123.r2.cloudflarestorage.com", cfg.R2EndpointHost())

	t.Setenv("R2_ENDPOINT", "storage.example.com")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, "storage.example.com", cfg.R2EndpointHost())
}

func Test_R2Ready(t *testing.T) {
	t.Setenv("R2_ENABLED", "true")
	t.Setenv("R2_ACCOUNT_ID", "abc123")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "media")
	t.Setenv("R2_PUBLIC_URL", "https://media.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.R2Ready())

	t.Setenv("R2_ENABLED", "false")
	cfg, err = Load()
	require.NoError(t, err)
	require.False(t, cfg.R2Ready())
}
