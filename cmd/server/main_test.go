package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/config"
	"storefront/backend/internal/settings"
	"storefront/backend/internal/webhook"
)

func TestNewNotifierWithoutURLDiscards(t *testing.T) {
	notifier, closer := newNotifier(context.Background(), context.Background(), config.Config{})
	assert.IsType(t, webhook.Discard{}, notifier)
	assert.Nil(t, closer)
}

func TestNewNotifierFallsBackToMemoryQueue(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier, closer := newNotifier(context.Background(), runCtx, config.Config{
		WebhookURL:         "http://127.0.0.1:1/hook",
		WebhookQueueSize:   4,
		WebhookTimeout:     time.Second,
		WebhookMaxAttempts: 1,
	})
	assert.IsType(t, &webhook.Dispatcher{}, notifier)
	assert.Nil(t, closer)
}

func TestNewSettingsProvider(t *testing.T) {
	provider, err := newSettingsProvider(config.Config{})
	require.NoError(t, err)
	snap, err := provider.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.DefaultSnapshot().LocalCurrency, snap.LocalCurrency)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("local_currency: COP\nexchange_rate: \"4100\"\n"), 0o600))
	provider, err = newSettingsProvider(config.Config{SettingsFile: path})
	require.NoError(t, err)
	snap, err = provider.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "COP", snap.LocalCurrency)
	assert.Equal(t, "4100", snap.ExchangeRate.String())

	_, err = newSettingsProvider(config.Config{SettingsFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestNewLoggerFollowsAppEnv(t *testing.T) {
	dev, err := newLogger(config.Config{AppEnv: "development"})
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(-1), "development logger enables debug")

	prod, err := newLogger(config.Config{AppEnv: "production"})
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(-1))
}
