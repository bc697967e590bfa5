package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("MEALSNAP_DATABASE_URL", "postgres://localhost/mealsnap_test")
	t.Setenv("MEALSNAP_SERVER_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/mealsnap_test", cfg.Database.URL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "mealsnap", cfg.App.Name)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.False(t, cfg.IsProduction())
}

func TestValidateRejectsMissingDatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.AI.Provider = "gemini"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{}
	cfg.Database.URL = "postgres://localhost/db"
	cfg.Server.Port = 8080
	cfg.AI.Provider = "openai"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresSecretInProduction(t *testing.T) {
	cfg := &Config{}
	cfg.Database.URL = "postgres://localhost/db"
	cfg.Server.Port = 8080
	cfg.AI.Provider = "local"
	cfg.App.Environment = "production"
	assert.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
