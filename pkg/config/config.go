package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Env var names used by tests and deploy tooling.
const (
	EnvAppEnv     = "CARTBRIDGE_APP_ENV"
	EnvPort       = "CARTBRIDGE_APP_PORT"
	EnvRedisURL   = "CARTBRIDGE_REDIS_URL"
	EnvJWTSecret  = "CARTBRIDGE_JWT_SECRET"
	EnvJWTIssuer  = "CARTBRIDGE_JWT_ISSUER"
	EnvCoreAPIURL = "CARTBRIDGE_CORE_API_URL"
)

type Config struct {
	App       AppConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CoreAPI   CoreAPIConfig
	Engine    EngineConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTBRIDGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARTBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTBRIDGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARTBRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"CARTBRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTBRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string `envconfig:"CARTBRIDGE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CARTBRIDGE_JWT_ISSUER" required:"true"`
}

// CoreAPIConfig points the gateway at the authoritative cart service.
type CoreAPIConfig struct {
	BaseURL        string        `envconfig:"CARTBRIDGE_CORE_API_URL" required:"true"`
	RequestTimeout time.Duration `envconfig:"CARTBRIDGE_CORE_API_TIMEOUT" default:"10s"`
	UserAgent      string        `envconfig:"CARTBRIDGE_CORE_API_USER_AGENT" default:"cartbridge"`
}

// EngineConfig carries the reconciliation timing knobs.
type EngineConfig struct {
	MinRefreshInterval  time.Duration `envconfig:"CARTBRIDGE_ENGINE_MIN_REFRESH_INTERVAL" default:"500ms"`
	IdentityDebounce    time.Duration `envconfig:"CARTBRIDGE_ENGINE_IDENTITY_DEBOUNCE" default:"100ms"`
	LockRetryInterval   time.Duration `envconfig:"CARTBRIDGE_ENGINE_LOCK_RETRY_INTERVAL" default:"200ms"`
	LockRetryAttempts   int           `envconfig:"CARTBRIDGE_ENGINE_LOCK_RETRY_ATTEMPTS" default:"3"`
	ConfirmRefreshDelay time.Duration `envconfig:"CARTBRIDGE_ENGINE_CONFIRM_REFRESH_DELAY" default:"1s"`
	GuestTokenTTL       time.Duration `envconfig:"CARTBRIDGE_GUEST_TOKEN_TTL" default:"720h"`
}

type RateLimitConfig struct {
	MutationWindow time.Duration `envconfig:"CARTBRIDGE_RATE_LIMIT_MUTATION_WINDOW" default:"1m"`
	MutationLimit  int           `envconfig:"CARTBRIDGE_RATE_LIMIT_MUTATION_LIMIT" default:"60"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CARTBRIDGE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}
