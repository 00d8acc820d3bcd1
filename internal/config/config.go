// Package config loads the gateway's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/isometry/ldap2json/internal/cache"
	dirldap "github.com/isometry/ldap2json/internal/ldap"
)

// DefaultPath is read when no configuration file is given.
const DefaultPath = "ldap2json.yaml"

// DefaultURI is the endpoint used when neither ldap.uris nor ldap.domain is set.
const DefaultURI = "ldap://localhost"

// Config is the gateway configuration.
type Config struct {
	Host    string        `yaml:"host" default:"127.0.0.1"`
	Port    int           `yaml:"port" default:"8080"`
	Debug   bool          `yaml:"debug"`
	LDAP    LDAPConfig    `yaml:"ldap"`
	Cache   CacheConfig   `yaml:"cache"`
	CORS    CORSConfig    `yaml:"cors"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// LDAPConfig describes the directory side.
type LDAPConfig struct {
	// URIs is the endpoint rotation. When empty, Domain is resolved through
	// DNS SRV records, and without a Domain DefaultURI is used.
	URIs    StringList    `yaml:"uris"`
	Domain  string        `yaml:"domain"`
	BaseDN  string        `yaml:"basedn"`
	Scope   string        `yaml:"scope" default:"base"`
	MaxWait time.Duration `yaml:"maxwait" default:"120s"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// CacheConfig describes the result cache.
type CacheConfig struct {
	Backend  string        `yaml:"backend" default:"none"`
	Lifetime time.Duration `yaml:"lifetime" default:"600s"`
	Servers  StringList    `yaml:"servers"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix" default:"ldap2json:"`
}

type CORSConfig struct {
	Enabled        bool       `yaml:"enabled"`
	AllowedOrigins StringList `yaml:"allowed_origins" default:"[\"*\"]"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LogConfig struct {
	Level string `yaml:"level" default:"info"`
	JSON  bool   `yaml:"json"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Tag == "!!null" || value.Value == "" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("invalid configuration defaults: %v", err))
	}
	cfg.applyFallbacks()
	return cfg
}

// Load reads the configuration file at path over the defaults. An empty path
// reads DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	optional := path == ""
	if optional {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			cfg.applyFallbacks()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if len(c.LDAP.URIs) == 0 && c.LDAP.Domain == "" {
		c.LDAP.URIs = StringList{DefaultURI}
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	if len(c.LDAP.URIs) == 0 && c.LDAP.Domain == "" {
		errs = append(errs, errors.New("ldap.uris or ldap.domain must be set"))
	}
	for _, uri := range c.LDAP.URIs {
		if _, err := dirldap.ParseLDAPURL(uri); err != nil {
			errs = append(errs, fmt.Errorf("ldap.uris: %w", err))
		}
	}
	if c.LDAP.BaseDN != "" {
		if _, err := ldap.ParseDN(c.LDAP.BaseDN); err != nil {
			errs = append(errs, fmt.Errorf("ldap.basedn %q: %w", c.LDAP.BaseDN, err))
		}
	}
	if _, err := dirldap.ParseSearchScope(c.LDAP.Scope); err != nil {
		errs = append(errs, fmt.Errorf("ldap.scope: %w", err))
	}
	if c.LDAP.MaxWait < 0 {
		errs = append(errs, fmt.Errorf("ldap.maxwait must not be negative, got %s", c.LDAP.MaxWait))
	}
	if c.LDAP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ldap.timeout must be positive, got %s", c.LDAP.Timeout))
	}

	switch c.Cache.Backend {
	case "", cache.BackendNone:
	case cache.BackendMemory:
		if c.Cache.Lifetime <= 0 {
			errs = append(errs, fmt.Errorf("cache.lifetime must be positive, got %s", c.Cache.Lifetime))
		}
	case cache.BackendRedis:
		if len(c.Cache.Servers) == 0 {
			errs = append(errs, errors.New("cache.servers must list a redis address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}

	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connection returns the directory connection settings.
func (c *Config) Connection() (*dirldap.ConnectionConfig, error) {
	scope, err := dirldap.ParseSearchScope(c.LDAP.Scope)
	if err != nil {
		return nil, err
	}

	return &dirldap.ConnectionConfig{
		Domain:   c.LDAP.Domain,
		LDAPURLs: append([]string(nil), c.LDAP.URIs...),
		BaseDN:   c.LDAP.BaseDN,
		Scope:    scope,
		Timeout:  c.LDAP.Timeout,
		MaxWait:  c.LDAP.MaxWait,
	}, nil
}

// CacheSettings returns the result cache settings.
func (c *Config) CacheSettings() *cache.Config {
	return &cache.Config{
		Backend:  c.Cache.Backend,
		Lifetime: c.Cache.Lifetime,
		Servers:  append([]string(nil), c.Cache.Servers...),
		Password: c.Cache.Password,
		DB:       c.Cache.DB,
		Prefix:   c.Cache.Prefix,
	}
}
