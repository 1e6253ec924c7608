package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Origin OriginConfig `yaml:"origin"`
	Cache  CacheConfig  `yaml:"cache"`
	Queue  QueueConfig  `yaml:"queue"`
	Routes []Route      `yaml:"routes"`
	Submit SubmitConfig `yaml:"submit"`
	Mail   MailConfig   `yaml:"mail"`
}

type ServerConfig struct {
	Address      string    `yaml:"address"`
	TLS          TLSConfig `yaml:"tls"`
	IPBlockCIDRs []string  `yaml:"ipBlockCIDRs"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type OriginConfig struct {
	Endpoints   []string           `yaml:"endpoints"`
	HealthCheck *HealthCheckConfig `yaml:"healthCheck,omitempty"`
}

type HealthCheckConfig struct {
	Path               string        `yaml:"path"`
	Interval           time.Duration `yaml:"interval"`
	Timeout            time.Duration `yaml:"timeout"`
	UnhealthyThreshold int           `yaml:"unhealthyThreshold"`
	HealthyThreshold   int           `yaml:"healthyThreshold"`
}

type CacheConfig struct {
	Dir             string        `yaml:"dir"`
	Version         string        `yaml:"version"`
	Precache        []string      `yaml:"precache"`
	OfflineFallback string        `yaml:"offlineFallback"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	RefreshEvery    time.Duration `yaml:"refreshEvery"`
}

type QueueConfig struct {
	Dir           string        `yaml:"dir"`
	SyncTag       string        `yaml:"syncTag"`
	DrainInterval time.Duration `yaml:"drainInterval"`
}

// Route maps a path prefix to a caching decision. Bypass routes are proxied
// without touching the cache at all.
type Route struct {
	PathPrefix string `yaml:"pathPrefix"`
	Cache      *bool  `yaml:"cache,omitempty"`
	Bypass     bool   `yaml:"bypass"`
}

type SubmitConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MailConfig struct {
	SMTPHost string `yaml:"smtpHost"`
	SMTPPort int    `yaml:"smtpPort"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	LogDir   string `yaml:"logDir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if len(cfg.Origin.Endpoints) == 0 {
		return nil, fmt.Errorf("origin.endpoints is required")
	}
	for i, ep := range cfg.Origin.Endpoints {
		cfg.Origin.Endpoints[i] = strings.TrimRight(ep, "/")
	}

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./data/cache"
	}
	if cfg.Cache.Version == "" {
		return nil, fmt.Errorf("cache.version is required")
	}
	if cfg.Cache.OfflineFallback == "" {
		cfg.Cache.OfflineFallback = "/offline.html"
	}
	if cfg.Cache.MaxBodyBytes <= 0 {
		cfg.Cache.MaxBodyBytes = 1 << 20 // 1 MiB
	}

	if cfg.Queue.Dir == "" {
		cfg.Queue.Dir = "./data/queue"
	}
	if cfg.Queue.SyncTag == "" {
		cfg.Queue.SyncTag = "sync-forms"
	}
	if cfg.Queue.DrainInterval <= 0 {
		cfg.Queue.DrainInterval = 5 * time.Minute
	}

	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = 587
	}
	if cfg.Mail.LogDir == "" {
		cfg.Mail.LogDir = "./logs"
	}

	return &cfg, nil
}

// RouteCacheEnabled reports whether responses for the route may be cached.
// Routes default to cacheable unless they opt out.
func (cfg *Config) RouteCacheEnabled(r Route) bool {
	if r.Bypass {
		return false
	}
	if r.Cache != nil {
		return *r.Cache
	}
	return true
}
