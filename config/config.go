package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // rate freshness must not depend on the host's zoneinfo

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Log        LogConfig        `mapstructure:"log"`
	Rates      RatesConfig      `mapstructure:"rates"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Checkout   CheckoutConfig   `mapstructure:"checkout"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"` // per settlement transaction
	Migrate         bool          `mapstructure:"migrate"`      // apply the schema on startup
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	OpTimeout time.Duration `mapstructure:"op_timeout"` // read/write timeout per command
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig configures validation of operator tokens issued by the identity provider.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// RatesConfig configures the external exchange-rate service.
type RatesConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	Primary   string        `mapstructure:"primary"`   // payload key for the first foreign currency
	Secondary string        `mapstructure:"secondary"` // payload key for the second foreign currency
	Timezone  string        `mapstructure:"timezone"`  // decides what "today" is for freshness
}

// Location resolves Timezone, falling back to UTC.
func (r RatesConfig) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SettlementConfig holds currency and tolerance settings for the allocation engine.
type SettlementConfig struct {
	Epsilon            string `mapstructure:"epsilon"` // decimal string, settlement-currency units
	LocalCurrency      string `mapstructure:"local_currency"`
	SettlementCurrency string `mapstructure:"settlement_currency"`
	LocalPrecision     int32  `mapstructure:"local_precision"`
	Locale             string `mapstructure:"locale"`
}

// CheckoutConfig configures payment sessions and confirmation locking.
type CheckoutConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SubmitLockTTL time.Duration `mapstructure:"submit_lock_ttl"`
	EventChannel  string        `mapstructure:"event_channel"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: POS_.
// Nested keys use underscore: POS_DATABASE_HOST, POS_RATES_ENDPOINT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "storefront")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.op_timeout", "2s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "12h")
	v.SetDefault("jwt.issuer", "storefront-auth")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("rates.endpoint", "https://pydolarve.org/api/v2/tipo-cambio")
	v.SetDefault("rates.timeout", "8s")
	v.SetDefault("rates.retries", 1)
	v.SetDefault("rates.primary", "usd")
	v.SetDefault("rates.secondary", "eur")
	v.SetDefault("rates.timezone", "America/Caracas")
	v.SetDefault("settlement.epsilon", "0.005")
	v.SetDefault("settlement.local_currency", "VES")
	v.SetDefault("settlement.settlement_currency", "USD")
	v.SetDefault("settlement.local_precision", 2)
	v.SetDefault("settlement.locale", "es-VE")
	v.SetDefault("checkout.session_ttl", "30m")
	v.SetDefault("checkout.submit_lock_ttl", "30s")
	v.SetDefault("checkout.event_channel", "payments:confirmed")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: POS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("POS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
