package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "localhost:50061", cfg.IPC.Address)
	assert.True(t, cfg.IPC.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 11*time.Second, cfg.Ability.DataLoadTimeout)
	assert.Equal(t, 512, cfg.Form.MaxForms)
	assert.Equal(t, 256, cfg.Form.MaxRecordPerApp)
	assert.Equal(t, 256, cfg.Form.MaxTempForms)
	assert.Equal(t, 50, cfg.Form.RefreshLimit)
	assert.Equal(t, 1024, cfg.Form.MaxDataSize)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Ability, cfg.Ability)
	assert.Equal(t, Default().Form, cfg.Form)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                      "9000",
		"IPC_ADDR":                  "0.0.0.0:7000",
		"IPC_ENABLED":               "false",
		"LOG_LEVEL":                 "debug",
		"FORM_DB_PATH":              "/var/lib/forms.db",
		"BUNDLE_CATALOG":            "/etc/bundles.yaml",
		"ROOT_LAUNCHER_RESTART_MAX": "5",
		"DATA_ABILITY_LOAD_TIMEOUT": "2s",
		"FORM_MAX_FORMS":            "16",
		"FORM_REFRESH_LIMIT":        "3",
		"DEVICE_ID":                 "device-a",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:7000", cfg.IPC.Address)
	assert.False(t, cfg.IPC.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/forms.db", cfg.Storage.FormDBPath)
	assert.Equal(t, "/etc/bundles.yaml", cfg.Bundle.CatalogPath)
	assert.Equal(t, 5, cfg.Ability.RestartMax)
	assert.Equal(t, 2*time.Second, cfg.Ability.DataLoadTimeout)
	assert.Equal(t, 16, cfg.Form.MaxForms)
	assert.Equal(t, 3, cfg.Form.RefreshLimit)
	assert.Equal(t, "device-a", cfg.Form.DeviceID)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("FORM_MAX_FORMS", "many")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 512, cfg.Form.MaxForms)
}
