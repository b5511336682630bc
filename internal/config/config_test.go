package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	assert.Error(t, cfg.Validate())
}

func TestLoadWebhookDefaultsAndOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "0")
	t.Setenv("WEBHOOK_QUEUE_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 5, cfg.WebhookMaxAttempts)
	assert.Equal(t, 256, cfg.WebhookQueueSize)

	t.Setenv("WEBHOOK_TIMEOUT_SECONDS", "3")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "2")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 2, cfg.WebhookMaxAttempts)
}

func TestValidateClosingTimezone(t *testing.T) {
	cfg := Config{AuthSecret: strings.Repeat("s", minAuthSecretLength), ClosingTimezone: "America/Caracas"}
	require.NoError(t, cfg.Validate())

	loc, err := cfg.ClosingLocation()
	require.NoError(t, err)
	assert.Equal(t, "America/Caracas", loc.String())

	cfg.ClosingTimezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg.ClosingTimezone = ""
	loc, err = cfg.ClosingLocation()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadReportsUnreadableEnvFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".env"), 0o755))
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".env")
	assert.Equal(t, "9090", cfg.Port)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := Load()
	assert.NoError(t, err)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
