// Package config loads server settings from .env, the environment and
// command-line flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Arguments are the raw environment settings.
type Arguments struct {
	ListenAddr        string `env:"SERVER_ADDRESS" envDefault:":8080"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv            string `env:"APP_ENV" envDefault:"development"`
	StoreDriver       string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath        string `env:"SQLITE_PATH" envDefault:"vouchers.db"`
	DatabaseDSN       string `env:"DATABASE_DSN" envDefault:""`
	JWTSecret         string `env:"JWT_SECRET" envDefault:"secret"`
	TokenTTL          string `env:"TOKEN_TTL" envDefault:"24h"`
	CORSOrigins       string `env:"CORS_ORIGINS" envDefault:"*"`
	AdminUsername     string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPassword     string `env:"ADMIN_PASSWORD" envDefault:""`
	InventoryInterval string `env:"INVENTORY_INTERVAL" envDefault:"1m"`
	StaleCancellation string `env:"STALE_CANCELLATION_AFTER" envDefault:"72h"`
	SeedScenario      string `env:"SEED_SCENARIO" envDefault:""`
}

// ServerConfig holds HTTP and logging settings.
type ServerConfig struct {
	ListenAddr  string
	LogLevel    string
	AppEnv      string
	CORSOrigins []string
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseDSN string
}

// AuthConfig holds token settings and the bootstrap admin account.
// An empty AdminPassword disables the bootstrap.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUsername string
	AdminPassword string
}

// InventoryConfig drives the background inventory scan.
type InventoryConfig struct {
	Interval          time.Duration
	StaleCancellation time.Duration
}

// Config is the complete server configuration.
type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	Auth         AuthConfig
	Inventory    InventoryConfig
	SeedScenario string
}

// Load reads .env (if present), then the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var a Arguments
	if err := env.Parse(&a); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	flags := pflag.NewFlagSet("voucher-market", pflag.ContinueOnError)
	flags.StringVarP(&a.ListenAddr, "address", "a", a.ListenAddr, "Server listen address in a form host:port.")
	flags.StringVarP(&a.LogLevel, "log-level", "l", a.LogLevel, "Log level (debug, info, warn, error).")
	flags.StringVar(&a.AppEnv, "env", a.AppEnv, "Application environment (development, production).")
	flags.StringVar(&a.StoreDriver, "store", a.StoreDriver, "Storage driver: sqlite, postgres or memory.")
	flags.StringVar(&a.SQLitePath, "db", a.SQLitePath, `SQLite database path (":memory:" for in-memory).`)
	flags.StringVarP(&a.DatabaseDSN, "dsn", "d", a.DatabaseDSN, "PostgreSQL DSN.")
	flags.StringVarP(&a.JWTSecret, "secret", "s", a.JWTSecret, "Secret used to sign session tokens.")
	flags.StringVar(&a.TokenTTL, "token-ttl", a.TokenTTL, "Session token lifetime.")
	flags.StringVar(&a.CORSOrigins, "cors-origins", a.CORSOrigins, "Comma-separated allowed CORS origins.")
	flags.StringVar(&a.AdminUsername, "admin-user", a.AdminUsername, "Bootstrap admin username.")
	flags.StringVar(&a.AdminPassword, "admin-password", a.AdminPassword, "Bootstrap admin password (empty disables).")
	flags.StringVar(&a.InventoryInterval, "inventory-interval", a.InventoryInterval, "Inventory scan interval.")
	flags.StringVar(&a.StaleCancellation, "stale-cancellation", a.StaleCancellation, "Age after which a pending cancellation is reported.")
	flags.StringVar(&a.SeedScenario, "seed", a.SeedScenario, "Demo scenario to load at startup.")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	return a.build()
}

func (a Arguments) build() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			ListenAddr:  a.ListenAddr,
			LogLevel:    a.LogLevel,
			AppEnv:      a.AppEnv,
			CORSOrigins: splitList(a.CORSOrigins),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(a.StoreDriver),
			SQLitePath:  a.SQLitePath,
			DatabaseDSN: a.DatabaseDSN,
		},
		Auth: AuthConfig{
			JWTSecret:     a.JWTSecret,
			AdminUsername: a.AdminUsername,
			AdminPassword: a.AdminPassword,
		},
		SeedScenario: a.SeedScenario,
	}

	var err error
	if cfg.Auth.TokenTTL, err = parseDuration("token TTL", a.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.Inventory.Interval, err = parseDuration("inventory interval", a.InventoryInterval); err != nil {
		return Config{}, err
	}
	if cfg.Inventory.StaleCancellation, err = parseDuration("stale cancellation", a.StaleCancellation); err != nil {
		return Config{}, err
	}

	switch cfg.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if cfg.Store.DatabaseDSN == "" {
			return Config{}, errors.New("postgres store requires a DSN")
		}
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", a.StoreDriver)
	}
	return cfg, nil
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			LogLevel:    "info",
			AppEnv:      "development",
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "vouchers.db",
		},
		Auth: AuthConfig{
			JWTSecret:     "secret",
			TokenTTL:      24 * time.Hour,
			AdminUsername: "admin",
		},
		Inventory: InventoryConfig{
			Interval:          time.Minute,
			StaleCancellation: 72 * time.Hour,
		},
	}
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Server.AppEnv, "production")
}

func parseDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, value)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
