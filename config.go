package offlinecache

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/always-cache/offline-cache/pkg/routing"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of all environment variables read by LoadConfig.
const EnvPrefix = "OFFLINE_CACHE_"

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
)

type Config struct {
	// URL of the origin server, e.g. http://localhost:5000.
	// Origins with paths are not supported.
	Origin string `env:"ORIGIN"`
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string `env:"ORIGIN_HOST"`
	// Version of the deployed assets. Bumping it creates new generations.
	Version   string `env:"VERSION" envDefault:"v1.0.0"`
	Namespace string `env:"NAMESPACE" envDefault:"cv-optimizer-"`

	Provider      string `env:"PROVIDER" envDefault:"sqlite"`
	DBFilename    string `env:"DB" envDefault:"cache.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"offline-cache:"`

	// Activate a new version right after install. Pages already open
	// switch to the new version mid-session instead of keeping the old one
	// until they are closed.
	SkipWaiting bool `env:"SKIP_WAITING" envDefault:"true"`
	// Maximum number of concurrent background refreshes.
	RefreshConcurrency int64 `env:"REFRESH_CONCURRENCY" envDefault:"8"`

	// URLs stored in the static generation on install.
	Manifest []string `env:"MANIFEST" envSeparator:","`
	// Routing rule parameters. Only settable from the config file.
	Rules routing.RuleConfig
}

// FileConfig is the YAML config file.
type FileConfig struct {
	Rules    routing.RuleConfig `yaml:"rules"`
	Manifest []string           `yaml:"manifest"`
}

// DefaultManifest lists the assets needed to render the app offline.
func DefaultManifest() []string {
	return []string{
		"/",
		"/manifest.json",
		"/static/css/custom.css",
		"/static/js/main.js",
		"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css",
		"https://cdn.jsdelivr.net/npm/bootstrap-icons@1.11.0/font/bootstrap-icons.css",
		"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/js/bootstrap.bundle.min.js",
	}
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	config, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return config, fmt.Errorf("parse environment: %w", err)
	}
	return config.withDefaults(), nil
}

// LoadFile applies the rules and manifest from the YAML config file.
// Rule lists missing from the file keep their defaults.
func (c *Config) LoadFile(filename string) error {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var file FileConfig
	if err := yaml.Unmarshal(configBytes, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", filename, err)
	}
	c.Rules = file.Rules.WithDefaults()
	if len(file.Manifest) > 0 {
		c.Manifest = file.Manifest
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Rules = c.Rules.WithDefaults()
	if c.Manifest == nil {
		c.Manifest = DefaultManifest()
	}
	return c
}

// OriginURL parses the origin.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("origin %q is not an absolute URL", c.Origin)
	}
	return u, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Origin == "" {
		errs = append(errs, errors.New("origin is required"))
	} else if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	switch c.Provider {
	case ProviderMemory, ProviderSQLite, ProviderRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	return errors.Join(errs...)
}
