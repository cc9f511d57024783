package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/cartstream/storefront/internal/domain/notify"
	"github.com/cartstream/storefront/internal/mailer"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables, flags, a .env file or YAML config files. The auth
// variables keep the names shared with the token-issuing service.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `env:"DATABASE_URL" usage:"PostgreSQL connection URL" flag:"database-url"`
	FrontendURL string `env:"FRONTEND_URL" default:"http://localhost:3000" usage:"Storefront frontend origin" flag:"frontend-url"`

	AccessSecretKey            string `env:"ACCESS_SECRET_KEY" usage:"HS256 secret of access tokens" flag:"access-secret-key"`
	RefreshSecretKey           string `env:"REFRESH_SECRET_KEY" usage:"HS256 secret of refresh tokens" flag:"refresh-secret-key"`
	AccessTokenExpireMinutes   int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"30" usage:"Access token lifetime in minutes"`
	RefreshTokenExpireDays     int    `env:"REFRESH_TOKEN_EXPIRE_DAYS" default:"7" usage:"Refresh token lifetime in days"`
	ResetPasswordExpireMinutes int    `env:"RESET_PASSWORD_EXPIRE_MINUTES" default:"15" usage:"Password reset token lifetime in minutes"`

	Mail      mailer.Config
	Notify    notify.Options
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers. Without
// explicit origins only FrontendURL is allowed.
type CORSConfig struct {
	Origins          []string `usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"true" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL is the lifetime of issued refresh tokens.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// LoadConfig loads .env, then environment variables, YAML config files and
// flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		Files: []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set DATABASE_URL")
	case c.AccessSecretKey == "":
		return errors.New("access token secret is required: set ACCESS_SECRET_KEY")
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps the PORT variable set by container platforms
// onto the listen address and derives CORS origins from the frontend URL.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if len(c.CORS.Origins) == 0 && c.FrontendURL != "" {
		c.CORS.Origins = []string{c.FrontendURL}
	}
}
