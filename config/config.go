package config

import (
	"encoding/json"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hauke96/sigolo/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DriverPostGIS = "postgis"
	DriverMongo   = "mongo"
	DriverMemory  = "memory"
)

type Config struct {
	Addr           string
	StoreDriver    string
	Postgres       PostgresConfig
	Mongo          MongoConfig
	Redis          RedisConfig
	Seed           SeedConfig
	JWTSecret      string
	AllowedOrigins []string
	LogLevel       string
	QueryTimeout   time.Duration
}

type PostgresConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders a lib/pq connection URL.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, p.Port),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}

type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig with an empty Addr disables the feature cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type SeedConfig struct {
	Enabled    bool
	Version    string
	DataDir    string
	Source     string
	Transforms json.RawMessage
	Activate   bool
}

// Load reads the given .env files (missing files are ignored), then the environment.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				sigolo.Debugf("No %s file found, using environment only", file)
				continue
			}
			return nil, errors.Wrapf(err, "load %s", file)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getBool(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &Config{
		Addr:        getString("ADDR", ":8080"),
		StoreDriver: strings.ToLower(getString("STORE_DRIVER", DriverPostGIS)),
		Postgres: PostgresConfig{
			Host:         getString("PG_HOST", "127.0.0.1"),
			Port:         getString("PG_PORT", "5432"),
			User:         getString("PG_USER", "postgres"),
			Password:     os.Getenv("PG_PASSWORD"),
			Database:     getString("PG_DB", "poi"),
			SSLMode:      getString("PG_SSLMODE", "disable"),
			MaxOpenConns: intVar("PG_MAX_OPEN_CONNS", 25),
			MaxIdleConns: intVar("PG_MAX_IDLE_CONNS", 25),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: getString("MONGODB_DATABASE", "poi_db"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
			TTL:      durationVar("CACHE_TTL", 10*time.Minute),
		},
		Seed: SeedConfig{
			Enabled:    boolVar("SEED_ENABLED", false),
			Version:    strings.TrimSpace(os.Getenv("SEED_VERSION")),
			DataDir:    getString("SEED_DATA_DIR", "data"),
			Source:     getString("SEED_SOURCE", "seed-csv"),
			Transforms: json.RawMessage(getString("SEED_TRANSFORMS", "{}")),
			Activate:   boolVar("SEED_ACTIVATE", true),
		},
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		LogLevel:       getString("LOG_LEVEL", "info"),
		QueryTimeout:   durationVar("QUERY_TIMEOUT", 15*time.Second),
	}
	if len(errs) > 0 {
		return nil, errors.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostGIS, DriverMemory:
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("MONGODB_URI is required for the mongo store")
		}
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Redis.DB < 0 {
		return errors.Errorf("REDIS_DB must not be negative, got %d", c.Redis.DB)
	}
	if c.Redis.TTL <= 0 {
		return errors.Errorf("CACHE_TTL must be positive, got %s", c.Redis.TTL)
	}
	if c.QueryTimeout <= 0 {
		return errors.Errorf("QUERY_TIMEOUT must be positive, got %s", c.QueryTimeout)
	}
	if !json.Valid(c.Seed.Transforms) {
		return errors.New("SEED_TRANSFORMS must be valid JSON")
	}
	if c.Seed.Source == "" {
		c.Seed.Source = "seed-csv"
	}
	return nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, errors.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, errors.Errorf("%s: %q is not a duration", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
