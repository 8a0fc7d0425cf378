package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AMQP      AMQPConfig
	Scheduler SchedulerConfig
	Publish   PublishConfig
	HTTP      HTTPConfig
	Platforms PlatformsConfig
	LogLevel  slog.Level
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type AMQPConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type PublishConfig struct {
	Concurrency         int
	DispatchTimeout     time.Duration
	CredentialLookahead time.Duration
}

// LockTTL is the lease of the per-content publish lock. It outlives one
// dispatch so a renewal can be missed without losing the lock.
func (p PublishConfig) LockTTL() time.Duration {
	return 2*p.DispatchTimeout + 30*time.Second
}

type HTTPConfig struct {
	Timeout        time.Duration
	CircuitBreaker bool
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	errs = appendErr(errs, err)

	intervalSec, err := getEnvInt("SCHED_INTERVAL_SECONDS", 60)
	errs = appendErr(errs, err)
	batchSize, err := getEnvInt("SCHED_BATCH_SIZE", 10)
	errs = appendErr(errs, err)
	concurrency, err := getEnvInt("PUBLISH_CONCURRENCY", 4)
	errs = appendErr(errs, err)
	dispatchSec, err := getEnvInt("DISPATCH_TIMEOUT_SECONDS", 60)
	errs = appendErr(errs, err)
	lookaheadSec, err := getEnvInt("CREDENTIAL_LOOKAHEAD_SECONDS", 300)
	errs = appendErr(errs, err)
	httpSec, err := getEnvInt("HTTP_TIMEOUT_SECONDS", 20)
	errs = appendErr(errs, err)
	breaker, err := getEnvBool("CIRCUIT_BREAKER", false)
	errs = appendErr(errs, err)
	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	errs = appendErr(errs, err)

	redisCfg, err := loadRedisConfig()
	errs = appendErr(errs, err)

	platforms, err := LoadPlatforms(os.Getenv("PLATFORMS_FILE"))
	errs = appendErr(errs, err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: redisCfg,
		AMQP:  loadAMQPConfig(),
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(intervalSec) * time.Second,
			BatchSize: batchSize,
		},
		Publish: PublishConfig{
			Concurrency:         concurrency,
			DispatchTimeout:     time.Duration(dispatchSec) * time.Second,
			CredentialLookahead: time.Duration(lookaheadSec) * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:        time.Duration(httpSec) * time.Second,
			CircuitBreaker: breaker,
		},
		Platforms: platforms,
		LogLevel:  level,
	}

	if len(errs) == 0 {
		errs = validate(cfg)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	errs = appendErr(errs, err)
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	errs = appendErr(errs, err)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func loadAMQPConfig() AMQPConfig {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		return AMQPConfig{Enabled: false}
	}
	return AMQPConfig{
		Enabled:  true,
		URL:      url,
		Exchange: getEnv("AMQP_EXCHANGE", "social.publisher"),
	}
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Publish.Concurrency <= 0 {
		errs = append(errs, errors.New("PUBLISH_CONCURRENCY must be > 0"))
	}
	if cfg.Publish.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("DISPATCH_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Publish.CredentialLookahead < 0 {
		errs = append(errs, errors.New("CREDENTIAL_LOOKAHEAD_SECONDS must be >= 0"))
	}
	if cfg.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return l, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
