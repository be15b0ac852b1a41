package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ledger   LedgerConfig
	LogLevel string
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AcquireTimeout bounds how long a request waits for a pool slot.
	AcquireTimeout time.Duration
	// MaxWaiting bounds how many requests may queue for a slot.
	MaxWaiting int
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

type LedgerConfig struct {
	Currency            string
	AccountNumberDigits int
	MaxIDAttempts       int
	AllowSelfTransfer   bool
	IdempotencyTTL      time.Duration
	ReconcileSchedule   string
	LockTimeout         time.Duration
}

var bindings = map[string]string{
	"server.port":                  "PORT",
	"server.shutdown_timeout":      "SHUTDOWN_TIMEOUT",
	"database.host":                "DATABASE_HOST",
	"database.port":                "DATABASE_PORT",
	"database.user":                "DATABASE_USER",
	"database.password":            "DATABASE_PASSWORD",
	"database.name":                "DATABASE_NAME",
	"database.ssl_mode":            "DATABASE_SSL_MODE",
	"database.max_open_conns":      "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":      "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime":   "DATABASE_CONN_MAX_LIFETIME",
	"database.acquire_timeout":     "DATABASE_ACQUIRE_TIMEOUT",
	"database.max_waiting":         "DATABASE_MAX_WAITING",
	"redis.host":                   "REDIS_HOST",
	"redis.port":                   "REDIS_PORT",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"jwt.secret_key":               "JWT_SECRET_KEY",
	"ledger.currency":              "LEDGER_CURRENCY",
	"ledger.account_number_digits": "LEDGER_ACCOUNT_NUMBER_DIGITS",
	"ledger.max_id_attempts":       "LEDGER_MAX_ID_ATTEMPTS",
	"ledger.allow_self_transfer":   "LEDGER_ALLOW_SELF_TRANSFER",
	"ledger.idempotency_ttl":       "LEDGER_IDEMPOTENCY_TTL",
	"ledger.reconcile_schedule":    "LEDGER_RECONCILE_SCHEDULE",
	"ledger.lock_timeout":          "LEDGER_LOCK_TIMEOUT",
	"log.level":                    "LOG_LEVEL",
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "web_banking")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)
	v.SetDefault("database.acquire_timeout", 2*time.Second)
	v.SetDefault("database.max_waiting", 100)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.account_number_digits", 9)
	v.SetDefault("ledger.max_id_attempts", 10)
	v.SetDefault("ledger.allow_self_transfer", true)
	v.SetDefault("ledger.idempotency_ttl", 24*time.Hour)
	v.SetDefault("ledger.reconcile_schedule", "@every 1h")
	v.SetDefault("ledger.lock_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")

	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

// Load reads configFile (typically .env) if present, then environment overrides.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	var readErr error
	if configFile != "" {
		v.SetConfigFile(configFile)
		if readErr = v.ReadInConfig(); readErr == nil {
			promoteFileKeys(v)
		}
	}

	return FromViper(v), readErr
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DBConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			AcquireTimeout:  v.GetDuration("database.acquire_timeout"),
			MaxWaiting:      v.GetInt("database.max_waiting"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Ledger: LedgerConfig{
			Currency:            v.GetString("ledger.currency"),
			AccountNumberDigits: v.GetInt("ledger.account_number_digits"),
			MaxIDAttempts:       v.GetInt("ledger.max_id_attempts"),
			AllowSelfTransfer:   v.GetBool("ledger.allow_self_transfer"),
			IdempotencyTTL:      v.GetDuration("ledger.idempotency_ttl"),
			ReconcileSchedule:   v.GetString("ledger.reconcile_schedule"),
			LockTimeout:         v.GetDuration("ledger.lock_timeout"),
		},
		LogLevel: v.GetString("log.level"),
	}
}

// promoteFileKeys maps dotenv-style keys (JWT_SECRET_KEY) read from the
// config file onto their dotted names. Real environment variables still win.
func promoteFileKeys(v *viper.Viper) {
	for key, env := range bindings {
		if _, ok := os.LookupEnv(env); ok {
			continue
		}
		if val := v.Get(strings.ToLower(env)); val != nil {
			v.Set(key, val)
		}
	}
}
