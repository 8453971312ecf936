package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `koanf:"server" yaml:"server"`
	Site          SiteConfig          `koanf:"site" yaml:"site"`
	Worker        WorkerConfig        `koanf:"worker" yaml:"worker"`
	Manifest      ManifestConfig      `koanf:"manifest" yaml:"manifest"`
	Cache         CacheConfig         `koanf:"cache" yaml:"cache"`
	Queue         QueueConfig         `koanf:"queue" yaml:"queue"`
	Sync          SyncConfig          `koanf:"sync" yaml:"sync"`
	Notifications NotificationsConfig `koanf:"notifications" yaml:"notifications"`
	Log           LogConfig           `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port      int         `koanf:"port" yaml:"port"`
	AdminPort int         `koanf:"admin_port" yaml:"admin_port"`
	HTTPS     HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig controls TLS interception of CONNECT tunnels
type HTTPSConfig struct {
	Enabled         bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile      string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile       string `koanf:"ca_key_file" yaml:"ca_key_file"`
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// SiteConfig describes the site whose pages are controlled
type SiteConfig struct {
	// Origin relative manifest entries are resolved against
	Origin string `koanf:"origin" yaml:"origin"`
	// Shell is the page served to navigations when offline
	Shell string `koanf:"shell" yaml:"shell"`
}

// WorkerConfig contains lifecycle configuration
type WorkerConfig struct {
	Version      string `koanf:"version" yaml:"version"`
	SkipWaiting  bool   `koanf:"skip_waiting" yaml:"skip_waiting"`
	InstallRetry string `koanf:"install_retry" yaml:"install_retry"`
}

// ManifestConfig lists the URLs the worker knows about ahead of time
type ManifestConfig struct {
	Static  []string `koanf:"static" yaml:"static"`
	Dynamic []string `koanf:"dynamic" yaml:"dynamic"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Folder            string `koanf:"folder" yaml:"folder"`
	DynamicMaxEntries int    `koanf:"dynamic_max_entries" yaml:"dynamic_max_entries"`
}

// QueueConfig contains pending submission queue configuration
type QueueConfig struct {
	Folder        string `koanf:"folder" yaml:"folder"`
	NewsletterURL string `koanf:"newsletter_url" yaml:"newsletter_url"`
}

// SyncConfig contains background sync configuration
type SyncConfig struct {
	Interval string `koanf:"interval" yaml:"interval"`
}

// NotificationsConfig contains defaults applied to shown notifications
type NotificationsConfig struct {
	Icon string `koanf:"icon" yaml:"icon"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// DefaultVersion is the cache generation used when none is configured.
// Overridden at build time through cmd/proxy.
var DefaultVersion = "v1"

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:      8080,
			AdminPort: 8081,
		},
		Site: SiteConfig{
			Origin: "http://localhost:5173",
			Shell:  "/index.html",
		},
		Worker: WorkerConfig{
			Version:      DefaultVersion,
			SkipWaiting:  true,
			InstallRetry: "1m",
		},
		Manifest: ManifestConfig{
			Static: []string{
				"/",
				"/index.html",
				"/offline.html",
				"/css/style.css",
				"/style.css",
				"/src/enhanced-features.js",
				"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
				"https://fonts.googleapis.com/css2?family=Playfair+Display:wght@400;500;600;700&family=Lato:wght@300;400;700&display=swap",
				"https://cdnjs.cloudflare.com/ajax/libs/gsap/3.12.2/gsap.min.js",
				"https://cdnjs.cloudflare.com/ajax/libs/gsap/3.12.2/ScrollTrigger.min.js",
			},
			Dynamic: []string{
				"/assets/",
				"https://images.unsplash.com/",
				"https://formspree.io/",
			},
		},
		Cache: CacheConfig{
			Folder: "./data/cache",
		},
		Queue: QueueConfig{
			Folder:        "./data/queue",
			NewsletterURL: "/api/newsletter-signup",
		},
		Sync: SyncConfig{
			Interval: "30s",
		},
		Notifications: NotificationsConfig{
			Icon: "/pwa-192x192.png",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.Site.Origin = strings.TrimRight(config.Site.Origin, "/")

	return &config, nil
}

// Watch calls onChange with the freshly loaded configuration every time the file changes.
// Reload errors are logged and the previous configuration stays in effect.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	f := file.Provider(path)
	err = f.Watch(func(_ interface{}, err error) {
		if err != nil {
			logrus.Errorf("Config watch error: %v", err)
			return
		}

		cfg, err := Load(path)
		if err != nil {
			logrus.Errorf("Failed to reload config: %v", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			logrus.Errorf("Reloaded config is invalid: %v", err)
			return
		}

		logrus.Infof("Config reloaded from %s", path)
		onChange(cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	return func() {
		if err := f.Unwatch(); err != nil {
			logrus.Debugf("Failed to stop config watch: %v", err)
		}
	}, nil
}

// GetInstallRetry parses and returns the delay between failed installs
func (c *Config) GetInstallRetry() (time.Duration, error) {
	return time.ParseDuration(c.Worker.InstallRetry)
}

// GetSyncInterval parses and returns the background sync polling interval
func (c *Config) GetSyncInterval() (time.Duration, error) {
	return time.ParseDuration(c.Sync.Interval)
}

// GetLogLevel parses and returns the logrus level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.Port {
		return fmt.Errorf("admin port must differ from proxy port")
	}

	if c.Server.HTTPS.Enabled && (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https ca_cert_file and ca_key_file must be set together")
	}

	origin, err := url.Parse(c.Site.Origin)
	if err != nil {
		return fmt.Errorf("invalid site origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("site origin must be an absolute URL, got: %s", c.Site.Origin)
	}

	if !strings.HasPrefix(c.Site.Shell, "/") {
		return fmt.Errorf("site shell must be an absolute path, got: %s", c.Site.Shell)
	}

	if c.Worker.Version == "" {
		return fmt.Errorf("worker version is required")
	}
	if strings.ContainsAny(c.Worker.Version, "\x00/") {
		return fmt.Errorf("worker version must not contain '/' or NUL")
	}

	if _, err := c.GetInstallRetry(); err != nil {
		return fmt.Errorf("invalid install retry format: %w", err)
	}

	if len(c.Manifest.Static) == 0 {
		return fmt.Errorf("static manifest must not be empty")
	}

	if c.Cache.Folder == "" {
		return fmt.Errorf("cache folder is required")
	}

	if c.Cache.DynamicMaxEntries < 0 {
		return fmt.Errorf("dynamic max entries must not be negative, got: %d", c.Cache.DynamicMaxEntries)
	}

	if c.Queue.Folder == "" {
		return fmt.Errorf("queue folder is required")
	}

	if _, err := c.GetSyncInterval(); err != nil {
		return fmt.Errorf("invalid sync interval format: %w", err)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}
