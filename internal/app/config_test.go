package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:            defaultAddr,
		DatabaseURL:     "postgres://localhost/storefront",
		AccessSecretKey: "secret",
		RateLimit:       RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing secret", func(c *Config) { c.AccessSecretKey = "" }, "ACCESS_SECRET_KEY"},
		{"zero rate window", func(c *Config) { c.RateLimit.Window = 0 }, "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Run("port overrides default addr", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		cfg := validConfig()
		cfg.applyPlatformDefaults()
		assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
	})
	t.Run("explicit addr wins", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		cfg := validConfig()
		cfg.Addr = "127.0.0.1:8000"
		cfg.applyPlatformDefaults()
		assert.Equal(t, "127.0.0.1:8000", cfg.Addr)
	})
	t.Run("cors falls back to frontend", func(t *testing.T) {
		cfg := validConfig()
		cfg.FrontendURL = "https://shop.example.com"
		cfg.applyPlatformDefaults()
		assert.Equal(t, []string{"https://shop.example.com"}, cfg.CORS.Origins)
	})
	t.Run("explicit cors kept", func(t *testing.T) {
		cfg := validConfig()
		cfg.FrontendURL = "https://shop.example.com"
		cfg.CORS.Origins = []string{"*"}
		cfg.applyPlatformDefaults()
		assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	})
}

func TestTokenTTL(t *testing.T) {
	cfg := Config{AccessTokenExpireMinutes: 30, RefreshTokenExpireDays: 7}
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL())
}
