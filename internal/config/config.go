package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreRedis  StoreBackend = "redis"
	StoreMemory StoreBackend = "memory"
)

// Config drives the client core. Branch origins are compiled in and are
// deliberately not configurable here.
type Config struct {
	Store         StoreBackend
	StateFile     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	HTTPTimeout   time.Duration
	SessionTTL    time.Duration
	LogLevel      string
	Development   bool
}

// BackendConfig drives cmd/devbackend.
type BackendConfig struct {
	Port          int
	MasterSecret  string
	GinMode       string
	TLSCertFile   string
	TLSKeyFile    string
	TokenExpiry   time.Duration
	LoginLimit    int
	LoginWindow   time.Duration
	SeedDemoUsers bool
	LogLevel      string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// OSEnv reads the process environment.
func OSEnv() Env { return osEnv{} }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadBackendConfig() (BackendConfig, error) {
	return LoadBackendConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Store:       StoreFile,
		StateFile:   defaultStateFile(env),
		RedisAddr:   "localhost:6379",
		RedisPrefix: "erp:",
		HTTPTimeout: 15 * time.Second,
		SessionTTL:  7 * 24 * time.Hour,
		LogLevel:    "info",
	}

	if raw := env.Getenv("ERP_STORE"); raw != "" {
		switch StoreBackend(strings.ToLower(raw)) {
		case StoreFile, StoreRedis, StoreMemory:
			cfg.Store = StoreBackend(strings.ToLower(raw))
		default:
			return Config{}, fmt.Errorf("invalid ERP_STORE %q", raw)
		}
	}
	if raw := env.Getenv("ERP_STATE_FILE"); raw != "" {
		cfg.StateFile = raw
	}
	if raw := env.Getenv("ERP_REDIS_ADDR"); raw != "" {
		cfg.RedisAddr = raw
	}
	cfg.RedisPassword = env.Getenv("ERP_REDIS_PASSWORD")
	if raw := env.Getenv("ERP_REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid ERP_REDIS_DB")
		}
		cfg.RedisDB = db
	}
	if raw := env.Getenv("ERP_REDIS_PREFIX"); raw != "" {
		cfg.RedisPrefix = raw
	}

	var err error
	if cfg.HTTPTimeout, err = secondsFromEnv(env, "ERP_HTTP_TIMEOUT_SECONDS", cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = secondsFromEnv(env, "ERP_SESSION_TTL_SECONDS", cfg.SessionTTL); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("ERP_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	cfg.Development = env.Getenv("ERP_DEV") == "1"

	if cfg.Store == StoreFile && cfg.StateFile == "" {
		return Config{}, fmt.Errorf("ERP_STATE_FILE is required for the file store")
	}
	return cfg, nil
}

func LoadBackendConfigFromEnv(env Env) (BackendConfig, error) {
	cfg := BackendConfig{
		Port:          8080,
		GinMode:       "release",
		TokenExpiry:   7 * 24 * time.Hour,
		LoginLimit:    10,
		LoginWindow:   time.Minute,
		SeedDemoUsers: true,
		LogLevel:      "info",
	}

	if raw := env.Getenv("DEVBACKEND_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return BackendConfig{}, fmt.Errorf("invalid DEVBACKEND_PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("DEVBACKEND_SECRET")
	if cfg.MasterSecret == "" {
		return BackendConfig{}, fmt.Errorf("DEVBACKEND_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	var err error
	if cfg.TokenExpiry, err = secondsFromEnv(env, "DEVBACKEND_TOKEN_EXPIRY_SECONDS", cfg.TokenExpiry); err != nil {
		return BackendConfig{}, err
	}
	if raw := env.Getenv("DEVBACKEND_LOGIN_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return BackendConfig{}, fmt.Errorf("invalid DEVBACKEND_LOGIN_LIMIT")
		}
		cfg.LoginLimit = n
	}
	if cfg.LoginWindow, err = secondsFromEnv(env, "DEVBACKEND_LOGIN_WINDOW_SECONDS", cfg.LoginWindow); err != nil {
		return BackendConfig{}, err
	}
	if raw := env.Getenv("DEVBACKEND_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if env.Getenv("DEVBACKEND_NO_SEED") == "1" {
		cfg.SeedDemoUsers = false
	}

	return cfg, nil
}

func secondsFromEnv(env Env, key string, fallback time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func defaultStateFile(env Env) string {
	home := env.Getenv("HOME")
	if home == "" {
		return ""
	}
	return home + "/.erp-session/state.json"
}
