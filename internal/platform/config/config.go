package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Config is the shell's runtime configuration, read from the environment.
type Config struct {
	Addr     string `env:"SHELL_ADDR" envDefault:":8080"`
	Token    string `env:"SHELL_TOKEN"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	IdentityBackend string `env:"IDENTITY_BACKEND" envDefault:"memory"`
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`

	// SessionVaultPath is the sqlite file holding the persisted session.
	// Empty keeps the session in memory only.
	SessionVaultPath string `env:"SESSION_VAULT_PATH"`

	AllowedCountry      string        `env:"ALLOWED_COUNTRY" envDefault:"Bangladesh"`
	DefaultRadiusMeters int           `env:"DEFAULT_RADIUS_METERS" envDefault:"1000"`
	ProfileFetchTimeout time.Duration `env:"PROFILE_FETCH_TIMEOUT" envDefault:"10s"`
	PositionTimeout     time.Duration `env:"POSITION_TIMEOUT" envDefault:"15s"`
	TokenRefreshMargin  time.Duration `env:"TOKEN_REFRESH_MARGIN" envDefault:"60s"`

	Device DeviceConfig
}

// DeviceConfig describes the simulated device the shell reports.
type DeviceConfig struct {
	Latitude   float64 `env:"DEVICE_LATITUDE" envDefault:"23.8103"`
	Longitude  float64 `env:"DEVICE_LONGITUDE" envDefault:"90.4125"`
	Permission string  `env:"DEVICE_PERMISSION" envDefault:"granted"`
	Street     string  `env:"DEVICE_STREET"`
	City       string  `env:"DEVICE_CITY" envDefault:"Dhaka"`
	State      string  `env:"DEVICE_STATE" envDefault:"Dhaka Division"`
	Country    string  `env:"DEVICE_COUNTRY" envDefault:"Bangladesh"`
}

// Load reads .env files (if present) and then the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements. Errors name the variable.
func (c Config) Validate() error {
	switch c.IdentityBackend {
	case "memory":
	case "gotrue":
		if strings.TrimSpace(c.SupabaseURL) == "" || strings.TrimSpace(c.SupabaseAnonKey) == "" {
			return errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required when IDENTITY_BACKEND=gotrue")
		}
	default:
		return fmt.Errorf("IDENTITY_BACKEND must be memory or gotrue, got %q", c.IdentityBackend)
	}

	switch c.StorageBackend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be memory or postgres, got %q", c.StorageBackend)
	}

	if strings.TrimSpace(c.AllowedCountry) == "" {
		return errors.New("ALLOWED_COUNTRY must be non-empty")
	}
	if _, err := domain.ParseRadius(c.DefaultRadiusMeters); err != nil {
		return fmt.Errorf("DEFAULT_RADIUS_METERS: %w", err)
	}
	if c.ProfileFetchTimeout <= 0 {
		return errors.New("PROFILE_FETCH_TIMEOUT must be positive")
	}
	if c.PositionTimeout <= 0 {
		return errors.New("POSITION_TIMEOUT must be positive")
	}
	if c.TokenRefreshMargin < 0 {
		return errors.New("TOKEN_REFRESH_MARGIN must not be negative")
	}
	switch c.Device.Permission {
	case "granted", "denied":
	default:
		return fmt.Errorf("DEVICE_PERMISSION must be granted or denied, got %q", c.Device.Permission)
	}
	return nil
}

// DefaultRadius returns DEFAULT_RADIUS_METERS as a radius. Validate has
// already checked it.
func (c Config) DefaultRadius() domain.Radius {
	return domain.Radius(c.DefaultRadiusMeters)
}

// DevIdentityConfig configures cmd/devidentity.
type DevIdentityConfig struct {
	Addr      string        `env:"DEVIDENTITY_ADDR" envDefault:":9999"`
	AnonKey   string        `env:"DEVIDENTITY_ANON_KEY" envDefault:"dev-anon-key"`
	JWTSecret string        `env:"DEVIDENTITY_JWT_SECRET" envDefault:"dev-jwt-secret"`
	TokenTTL  time.Duration `env:"DEVIDENTITY_TOKEN_TTL" envDefault:"1h"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadDevIdentity() (DevIdentityConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return DevIdentityConfig{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg DevIdentityConfig
	if err := env.Parse(&cfg); err != nil {
		return DevIdentityConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		return DevIdentityConfig{}, errors.New("DEVIDENTITY_TOKEN_TTL must be positive")
	}
	return cfg, nil
}
