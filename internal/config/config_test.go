package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse_EnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTOPINNER_STATE_DIR", dir)
	t.Setenv("AUTOPINNER_ADDR", "127.0.0.1:9000")
	t.Setenv("AUTOPINNER_DB_POOL_SIZE", "5")
	t.Setenv("AUTOPINNER_USE_UTC", "yes")
	t.Setenv("AUTOPINNER_RETRY_DELAY", "2s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--addr", "0.0.0.0:7000", "--auto-start=false"}))

	cfg, err := Parse(fs)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Database.PoolSize)
	assert.Equal(t, 10, cfg.Database.MaxOverflow)
	assert.True(t, cfg.Worker.UseUTC)
	assert.False(t, cfg.Worker.AutoStart)
	assert.Equal(t, 2*time.Second, cfg.Worker.RetryDelay)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, filepath.Join(dir, "settings.json"), cfg.SettingsPath)
	assert.Equal(t, filepath.Join(dir, "task_configs.json"), cfg.TaskConfigPath)
}

func TestParse_Defaults(t *testing.T) {
	t.Setenv("AUTOPINNER_STATE_DIR", t.TempDir())
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Worker.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Worker.RetryDelay)
	assert.Equal(t, 200, cfg.Database.RunRetention)
}

func TestLoadSettings_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := LoadSettings(path, quietLogger())

	_, err := os.Stat(path)
	require.NoError(t, err)

	p := s.Pinterest()
	assert.Equal(t, "AutoPinner", p.DefaultBoard)
	assert.Equal(t, 15*time.Second, p.MinDelay)
	assert.Equal(t, 45*time.Second, p.MaxDelay)
	assert.True(t, p.RotateBoards)

	c := s.ContentGeneration()
	assert.Equal(t, 1000, c.ArticleLength)
	assert.Equal(t, 3, c.MaxImages)
	assert.Empty(t, s.WordPressSites())
	assert.Equal(t, "info", s.LogLevel())
}

func TestLoadSettings_MergesAndCoerces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	doc := `{
		"wordpress_sites": [
			{"url": "https://blog.example.com/", "username": "bot", "password": "pw", "category": "travel", "max_posts_per_day": "2"},
			{"category": "orphan"}
		],
		"pinterest": {"access_token": "tok", "avoid_spam": {"min_delay": 5, "rotate_boards": "false"}},
		"content_generation": {"article_length": 1500}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s := LoadSettings(path, quietLogger())

	sites := s.WordPressSites()
	require.Len(t, sites, 1)
	assert.Equal(t, "https://blog.example.com", sites[0].URL)
	assert.Equal(t, 2, sites[0].MaxPostsPerDay)
	assert.Equal(t, "https://blog.example.com_travel", sites[0].ID())

	p := s.Pinterest()
	assert.Equal(t, "tok", p.AccessToken)
	assert.Equal(t, 5*time.Second, p.MinDelay)
	assert.Equal(t, 45*time.Second, p.MaxDelay)
	assert.False(t, p.RotateBoards)
	assert.Equal(t, "https://api.pinterest.com/v5", p.APIURL)

	c := s.ContentGeneration()
	assert.Equal(t, 1500, c.ArticleLength)
	assert.Equal(t, "gpt-3.5-turbo", c.Model)
}

func TestLoadSettings_CorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := LoadSettings(path, quietLogger())
	assert.Equal(t, 1000, s.ContentGeneration().ArticleLength)
}

func TestSettings_SetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := LoadSettings(path, quietLogger())
	require.NoError(t, s.Set("pinterest.avoid_spam.max_delay", "60"))
	require.NoError(t, s.Set("features.trends", true))

	reloaded := LoadSettings(path, quietLogger())
	assert.Equal(t, 60*time.Second, reloaded.Pinterest().MaxDelay)
	v, ok := reloaded.Get("features.trends")
	require.True(t, ok)
	assert.Equal(t, true, v)
	_, ok = reloaded.Get("missing.key")
	assert.False(t, ok)
}
