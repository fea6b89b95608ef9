// Package config loads runtime configuration from the environment, an
// optional .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable pointing at the YAML overlay.
const ConfigPathEnv = "GEOHARVEST_CONFIG"

// Config is the full runtime configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Logging    LoggingConfig   `yaml:"logging"`
	Site       SiteConfig      `yaml:"site"`
	PKI        PKIConfig       `yaml:"pki"`
	GeoServer  GeoServerConfig `yaml:"geoserver"`
	Thumbnails ThumbnailConfig `yaml:"thumbnails"`
	Auth       AuthConfig      `yaml:"auth"`
	Monitor    MonitorConfig   `yaml:"monitor"`
	Remote     RemoteConfig    `yaml:"remote"`
}

type ServerConfig struct {
	Host           string `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port           int    `env:"SERVER_PORT,default=8080" yaml:"port"`
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*" yaml:"allowed_origins"`
	RateLimit      int    `env:"API_RATE_LIMIT,default=20" yaml:"rate_limit"`
	RateBurst      int    `env:"API_RATE_BURST,default=40" yaml:"rate_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Origins splits the comma separated CORS origin list.
func (s ServerConfig) Origins() []string {
	return splitCSV(s.AllowedOrigins)
}

// DatabaseConfig selects the store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres" yaml:"driver"`
	DSN             string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=10" yaml:"max_open_conns"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME,default=300" yaml:"conn_max_lifetime"`
	Migrate         bool   `env:"DATABASE_MIGRATE,default=true" yaml:"migrate"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=text" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=geoharvest" yaml:"file_prefix"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB,default=100" yaml:"max_size_mb"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS,default=14" yaml:"max_age_days"`
}

// SiteConfig describes the public site the catalogue is served from.
type SiteConfig struct {
	URL              string `env:"SITEURL,default=http://localhost:8080/" yaml:"url"`
	RemoteContentURL string `env:"REMOTE_CONTENT_URL,default=http://localhost:8080/static" yaml:"remote_content_url"`
	DefaultMapCRS    string `env:"DEFAULT_MAP_CRS,default=EPSG:3857" yaml:"default_map_crs"`
}

// ProxyBase is the site's proxy endpoint.
func (s SiteConfig) ProxyBase() string {
	return strings.TrimRight(s.URL, "/") + "/proxy/"
}

type PKIConfig struct {
	Enabled bool `env:"PKI_ENABLED,default=false" yaml:"enabled"`
}

type GeoServerConfig struct {
	URL       string `env:"GEOSERVER_URL" yaml:"url"`
	PublicURL string `env:"GEOSERVER_PUBLIC_URL" yaml:"public_url"`
	User      string `env:"GEOSERVER_USER,default=admin" yaml:"user"`
	Password  string `env:"GEOSERVER_PASSWORD" yaml:"password"`
	Workspace string `env:"GEOSERVER_CASCADE_WORKSPACE,default=cascaded-services" yaml:"workspace"`
}

// OWSURL is the public OWS endpoint cascaded layers are served from.
func (g GeoServerConfig) OWSURL() string {
	base := g.PublicURL
	if base == "" {
		base = g.URL
	}
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/ows"
}

type ThumbnailConfig struct {
	BucketURL string `env:"THUMBNAIL_BUCKET_URL,default=mem://" yaml:"bucket_url"`
	PublicURL string `env:"THUMBNAIL_PUBLIC_URL,default=http://localhost:8080/thumbs/" yaml:"public_url"`
}

type AuthConfig struct {
	JWTSecret string `env:"API_JWT_SECRET" yaml:"jwt_secret"`
}

type MonitorConfig struct {
	Schedule string `env:"HARVEST_MONITOR_SCHEDULE,default=@every 1h" yaml:"schedule"`
	Enabled  bool   `env:"HARVEST_MONITOR_ENABLED,default=true" yaml:"enabled"`
}

// RemoteConfig bounds outbound requests to remote services.
type RemoteConfig struct {
	Timeout           time.Duration `env:"REMOTE_TIMEOUT,default=30s" yaml:"timeout"`
	RequestsPerSecond float64       `env:"REMOTE_REQUESTS_PER_SECOND,default=5" yaml:"requests_per_second"`
}

// Load reads .env, the environment and the YAML overlay, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigPathEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if _, err := url.ParseRequestURI(c.Site.URL); err != nil {
		return fmt.Errorf("invalid SITEURL %q: %w", c.Site.URL, err)
	}
	if !strings.HasSuffix(c.Site.URL, "/") {
		c.Site.URL += "/"
	}
	if c.Site.DefaultMapCRS == "" {
		c.Site.DefaultMapCRS = "EPSG:3857"
	}
	if c.Remote.Timeout <= 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Thumbnails.PublicURL != "" && !strings.HasSuffix(c.Thumbnails.PublicURL, "/") {
		c.Thumbnails.PublicURL += "/"
	}
	return nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
