// Package config loads the scanner configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/censys/ospd-netstat/pkg/discovery"
	"github.com/censys/ospd-netstat/pkg/logging"
)

// PubSub configures where scan requests come from and results go.
type PubSub struct {
	ProjectID      string `yaml:"project_id"`
	SubscriptionID string `yaml:"subscription_id"`
	DLQTopicID     string `yaml:"dlq_topic"`
	ResultsTopicID string `yaml:"results_topic"`
	Workers        int    `yaml:"workers"`
	MaxOutstanding int    `yaml:"max_outstanding"`
}

// SSH holds the client side defaults applied to every target.
type SSH struct {
	Port                  int           `yaml:"port"`
	Platform              string        `yaml:"platform"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ScanTimeout           time.Duration `yaml:"scan_timeout"`
	KnownHostsFile        string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
}

// Config holds all scanner configuration.
type Config struct {
	PubSub      PubSub         `yaml:"pubsub"`
	DatabaseURL string         `yaml:"database_url"`
	SSH         SSH            `yaml:"ssh"`
	Log         logging.Config `yaml:"log"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		PubSub: PubSub{
			ProjectID:      "test-project",
			SubscriptionID: "netstat-scan-sub",
			Workers:        runtime.NumCPU(),
			MaxOutstanding: 200,
		},
		SSH: SSH{
			Port:           discovery.DefaultPort,
			Platform:       string(discovery.DefaultPlatform),
			ConnectTimeout: 10 * time.Second,
			ScanTimeout:    2 * time.Minute,
		},
		Log: logging.Default(),
	}
}

// Load reads and validates the configuration. See Read.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read reads a YAML config file from path and applies environment
// overrides without validating the result. A missing file, or an empty
// path, yields the defaults. The file contents are unmarshaled on top of
// Default(), so any fields not present in the YAML retain their default
// values.
func Read(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	if c.PubSub.Workers <= 0 {
		return fmt.Errorf("pubsub.workers must be positive, got %d", c.PubSub.Workers)
	}
	if c.PubSub.MaxOutstanding <= 0 {
		return fmt.Errorf("pubsub.max_outstanding must be positive, got %d", c.PubSub.MaxOutstanding)
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port out of range: %d", c.SSH.Port)
	}
	if c.SSH.Platform != "" {
		if _, err := discovery.Command(discovery.Platform(c.SSH.Platform)); err != nil {
			return fmt.Errorf("ssh.platform: %w", err)
		}
	}
	if c.SSH.KnownHostsFile == "" && !c.SSH.InsecureIgnoreHostKey {
		return errors.New("ssh: set known_hosts or insecure_ignore_host_key")
	}
	if c.SSH.ScanTimeout <= 0 {
		return fmt.Errorf("ssh.scan_timeout must be positive, got %s", c.SSH.ScanTimeout)
	}
	return nil
}

// Discovery returns the discovery client configuration.
func (c Config) Discovery() discovery.Config {
	return discovery.Config{
		Port:                  c.SSH.Port,
		Platform:              discovery.Platform(c.SSH.Platform),
		ConnectTimeout:        c.SSH.ConnectTimeout,
		KnownHostsFile:        c.SSH.KnownHostsFile,
		InsecureIgnoreHostKey: c.SSH.InsecureIgnoreHostKey,
	}
}

func applyEnv(cfg *Config) {
	cfg.PubSub.ProjectID = getEnv("PUBSUB_PROJECT_ID", cfg.PubSub.ProjectID)
	cfg.PubSub.SubscriptionID = getEnv("PUBSUB_SUBSCRIPTION_ID", cfg.PubSub.SubscriptionID)
	cfg.PubSub.DLQTopicID = getEnv("PUBSUB_DLQ_TOPIC", cfg.PubSub.DLQTopicID)
	cfg.PubSub.ResultsTopicID = getEnv("PUBSUB_RESULTS_TOPIC", cfg.PubSub.ResultsTopicID)
	cfg.PubSub.Workers = getEnvInt("PROCESSOR_WORKERS", cfg.PubSub.Workers)
	cfg.PubSub.MaxOutstanding = getEnvInt("PROCESSOR_MAX_OUTSTANDING", cfg.PubSub.MaxOutstanding)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.SSH.Port = getEnvInt("SSH_PORT", cfg.SSH.Port)
	cfg.SSH.Platform = getEnv("SSH_PLATFORM", cfg.SSH.Platform)
	cfg.SSH.ConnectTimeout = getEnvDuration("SSH_CONNECT_TIMEOUT", cfg.SSH.ConnectTimeout)
	cfg.SSH.ScanTimeout = getEnvDuration("SCAN_TIMEOUT", cfg.SSH.ScanTimeout)
	cfg.SSH.KnownHostsFile = getEnv("SSH_KNOWN_HOSTS", cfg.SSH.KnownHostsFile)
	cfg.SSH.InsecureIgnoreHostKey = getEnvBool("SSH_INSECURE_IGNORE_HOST_KEY", cfg.SSH.InsecureIgnoreHostKey)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = getEnv("LOG_OUTPUT", cfg.Log.Output)
	cfg.Log.FilePath = getEnv("LOG_FILE", cfg.Log.FilePath)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
