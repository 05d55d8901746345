package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 5, cfg.Policy.MaxInvestigations)
	assert.Equal(t, 5, cfg.Policy.MinCheckMinutes)
	assert.Equal(t, 240, cfg.Policy.MaxCheckMinutes)
	assert.False(t, cfg.Policy.ReopenOnDuplicate)
	assert.Equal(t, 30*time.Minute, cfg.Notification.ThrottleWindow)
	assert.Equal(t, 45*time.Second, cfg.Reasoning.StageTimeout)
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
policy:
  max_investigations: 3
notification:
  throttle_window: 1h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Policy.MaxInvestigations)
	assert.Equal(t, time.Hour, cfg.Notification.ThrottleWindow)
	// Untouched sections keep defaults
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_SERVER_PORT", "7070")
	t.Setenv("ENGINE_DATABASE_POSTGRES_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  max_investigations: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_investigations")
}

func TestConnString(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5433, User: "engine", Password: "s3cret",
		Database: "alerts", SSLMode: "require",
	}
	assert.Equal(t, "postgres://engine:s3cret@db:5433/alerts?sslmode=require", p.ConnString())
}

func TestClampCheckMinutes(t *testing.T) {
	p := PolicyConfig{MinCheckMinutes: 5, MaxCheckMinutes: 240}

	assert.Equal(t, 5, p.ClampCheckMinutes(0))
	assert.Equal(t, 5, p.ClampCheckMinutes(3))
	assert.Equal(t, 30, p.ClampCheckMinutes(30))
	assert.Equal(t, 240, p.ClampCheckMinutes(1000))
}
