// Package config loads htlcctl settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"htlcflow/commitment"
	"htlcflow/timelock"
)

// Duration decodes YAML strings such as "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("config: duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	DatabaseURL string         `yaml:"database_url"`
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenTTL    Duration       `yaml:"token_ttl"`
	Commitment  Commitment     `yaml:"commitment"`
	Timelock    TimelockConfig `yaml:"timelock"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Log         LogConfig      `yaml:"log"`
}

type Commitment struct {
	Scheme string `yaml:"scheme"`
}

type TimelockConfig struct {
	Period         Duration `yaml:"period"`
	MinimumPeriods int      `yaml:"minimum_periods"`
}

type LedgerConfig struct {
	Decimals int32 `yaml:"decimals"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TokenTTL:   Duration{24 * time.Hour},
		Commitment: Commitment{Scheme: commitment.SHA256.Name()},
		Timelock: TimelockConfig{
			Period:         Duration{timelock.DefaultPeriod},
			MinimumPeriods: timelock.DefaultMinimumPeriods,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := getenv("HTLC_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := getenv("HTLC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if _, err := commitment.SchemeByName(c.Commitment.Scheme); err != nil {
		errs = append(errs, err)
	}
	if err := c.TimelockPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TokenTTL.Duration <= 0 {
		errs = append(errs, errors.New("config: token_ttl must be positive"))
	}
	if c.Ledger.Decimals < 0 || c.Ledger.Decimals > 18 {
		errs = append(errs, fmt.Errorf("config: ledger.decimals %d out of range", c.Ledger.Decimals))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// RequireTokens reports an error when no signing secret is configured.
func (c Config) RequireTokens() error {
	if c.JWTSecret == "" {
		return errors.New("config: jwt_secret (or HTLC_JWT_SECRET) is required")
	}
	return nil
}

func (c Config) Scheme() commitment.Scheme {
	s, err := commitment.SchemeByName(c.Commitment.Scheme)
	if err != nil {
		return commitment.SHA256
	}
	return s
}

func (c Config) TimelockPolicy() timelock.Policy {
	return timelock.Policy{Period: c.Timelock.Period.Duration, MinimumPeriods: c.Timelock.MinimumPeriods}
}

// NewLogger builds the process logger described by c.Log.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
