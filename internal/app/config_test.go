package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("IDENTITY_URL", "http://identity.local/auth/v1")
	t.Setenv("IDENTITY_JWT_SECRET", "jwt-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "congregate-auth", cfg.AuthCookieName)
	assert.Equal(t, "authenticated", cfg.IdentityJWTAudience)
	assert.Equal(t, 24*time.Hour, cfg.RevocationTTL)
	assert.Empty(t, cfg.IdentityServiceKey)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("IDENTITY_URL", "http://identity.local/auth/v1")
	t.Setenv("IDENTITY_JWT_SECRET", "jwt-secret")
	t.Setenv("CSRF_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}
