// Package config loads the settings of a relay server from a YAML file,
// with overrides from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/augustoroman/relay"
)

// Environment variables that override the file settings.
const (
	EnvAddr            = "RELAY_ADDR"
	EnvResponseTimeout = "RELAY_RESPONSE_TIMEOUT"
	EnvReceiveTimeout  = "RELAY_RECEIVE_TIMEOUT"
	EnvStaticDir       = "RELAY_STATIC_DIR"
	EnvCORSOrigin      = "RELAY_CORS_ORIGIN"
)

// Injected for testing
var (
	lookupEnv  = os.LookupEnv
	dotEnvFile = ".env"
)

// Config is the server configuration.
type Config struct {
	Addr string `yaml:"addr"`

	// Zero means the gateway default; negative disables the limit.
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`

	// StaticDir, if set, is served below StaticRoot (default ".").
	StaticDir  string `yaml:"static_dir"`
	StaticRoot string `yaml:"static_root"`
	CORSOrigin string `yaml:"cors_origin"`

	// RateLimit is in requests per second; zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{Addr: ":8080", StaticRoot: "."}
}

// Load reads the YAML file at path, if path isn't empty, on top of the
// defaults, then applies the environment overrides. Variables from a .env
// file in the working directory apply unless the real environment sets
// them too.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML %s: %w", path, err)
		}
	}

	dotEnv, err := godotenv.Read(dotEnvFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", dotEnvFile, err)
	}
	env := func(name string) (string, bool) {
		if v, ok := lookupEnv(name); ok {
			return v, true
		}
		v, ok := dotEnv[name]
		return v, ok
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(env func(string) (string, bool)) error {
	if v, ok := env(EnvAddr); ok {
		c.Addr = v
	}
	if v, ok := env(EnvStaticDir); ok {
		c.StaticDir = v
	}
	if v, ok := env(EnvCORSOrigin); ok {
		c.CORSOrigin = v
	}
	for name, dst := range map[string]*time.Duration{
		EnvResponseTimeout: &c.ResponseTimeout,
		EnvReceiveTimeout:  &c.ReceiveTimeout,
	} {
		v, ok := env(name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		*dst = d
	}
	return nil
}

// parseDuration accepts Go durations ("1m30s") and plain seconds ("90",
// "2.5").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Logger builds the zap logger described by the log settings.
func (c *Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// Options converts the configuration into gateway options. The lifecycle
// hooks and metrics are left for the caller to fill in.
func (c *Config) Options(log *zap.Logger) relay.Options {
	return relay.Options{
		ResponseTimeout: c.ResponseTimeout,
		ReceiveTimeout:  c.ReceiveTimeout,
		Logger:          log,
	}
}

// Middleware builds the configured collaborators, outermost first: rate
// limiting, CORS and static files.
func (c *Config) Middleware() ([]relay.Middleware, error) {
	var mws []relay.Middleware
	if c.RateLimit > 0 {
		burst := c.RateBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, relay.RateLimit(rate.Limit(c.RateLimit), burst))
	}
	if c.CORSOrigin != "" {
		mws = append(mws, relay.CORS(c.CORSOrigin))
	}
	if c.StaticDir != "" {
		static, err := relay.Static(c.StaticDir, c.StaticRoot)
		if err != nil {
			return nil, err
		}
		mws = append(mws, static)
	}
	return mws, nil
}
