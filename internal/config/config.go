// Package config loads furnish settings from a YAML file, the environment
// and built-in defaults, in that order of precedence from lowest to
// highest: defaults, file, environment.
//
// Environment variables use the FURNISH_ prefix with dots replaced by
// underscores (FURNISH_FETCH_RETRIES). Two SPICE conventions are honoured
// as well: SPICEPATH lists search roots separated by the OS path list
// separator, and SPICE_DOWNLOADS names the download directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/furnish/internal/kernel"
)

// FileName is the config file looked up when no explicit path is given.
const FileName = "furnish"

// Config is the resolved configuration.
type Config struct {
	SearchRoots []string         `mapstructure:"search_roots"`
	DownloadDir string           `mapstructure:"download_dir"`
	Database    string           `mapstructure:"database"`
	Catalogs    []string         `mapstructure:"catalogs"`
	RecipesDir  string           `mapstructure:"recipes_dir"`
	Manifest    string           `mapstructure:"manifest"`
	Fetch       FetchConfig      `mapstructure:"fetch"`
	Resolve     ResolveConfig    `mapstructure:"resolve"`
	Metakernel  MetakernelConfig `mapstructure:"metakernel"`
}

// FetchConfig tunes the download cache.
type FetchConfig struct {
	Retries        int           `mapstructure:"retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Concurrency    int           `mapstructure:"concurrency"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ResolveConfig tunes selection and furnishing.
type ResolveConfig struct {
	Tolerance time.Duration `mapstructure:"tolerance"`
}

// MetakernelConfig sets the kernel type load order.
type MetakernelConfig struct {
	Priority []string `mapstructure:"priority"`
}

// Priority parses the configured type order.
func (c *Config) Priority() (kernel.Priority, error) {
	if len(c.Metakernel.Priority) == 0 {
		return kernel.DefaultPriority, nil
	}
	return kernel.ParsePriority(c.Metakernel.Priority)
}

// Load reads configuration. An empty path searches the working directory
// and the user config directory for furnish.yaml and tolerates its
// absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FURNISH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// First name found wins.
	if err := v.BindEnv("search_roots", "FURNISH_SEARCH_ROOTS", "SPICEPATH"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("download_dir", "FURNISH_DOWNLOAD_DIR", "SPICE_DOWNLOADS"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "furnish"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.SearchRoots = splitRoots(c.SearchRoots)
	c.DownloadDir = expand(c.DownloadDir)
	c.Database = expand(c.Database)
	c.RecipesDir = expand(c.RecipesDir)
	c.Manifest = expand(c.Manifest)
	for i, p := range c.Catalogs {
		c.Catalogs[i] = expand(p)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.Retries < 0:
		return fmt.Errorf("fetch.retries must not be negative, got %d", c.Fetch.Retries)
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("fetch.timeout must be positive, got %s", c.Fetch.Timeout)
	case c.Fetch.Concurrency <= 0:
		return fmt.Errorf("fetch.concurrency must be positive, got %d", c.Fetch.Concurrency)
	case c.Resolve.Tolerance < 0:
		return fmt.Errorf("resolve.tolerance must not be negative, got %s", c.Resolve.Tolerance)
	}
	if _, err := c.Priority(); err != nil {
		return fmt.Errorf("metakernel.priority: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	base := "."
	if dir, err := os.UserCacheDir(); err == nil {
		base = filepath.Join(dir, "furnish")
	}
	v.SetDefault("search_roots", []string{})
	v.SetDefault("download_dir", filepath.Join(base, "kernels"))
	v.SetDefault("database", filepath.Join(base, "furnish.db"))
	v.SetDefault("catalogs", []string{})
	v.SetDefault("recipes_dir", "")
	v.SetDefault("manifest", filepath.Join(base, "loaded.tm"))

	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.timeout", 10*time.Minute)
	v.SetDefault("fetch.initial_backoff", 500*time.Millisecond)
	v.SetDefault("fetch.max_backoff", 30*time.Second)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.user_agent", "furnish")

	v.SetDefault("resolve.tolerance", 36*time.Hour)

	v.SetDefault("metakernel.priority", []string{})
}

// splitRoots splits any entry holding a path list (as SPICEPATH does)
// and drops empty entries.
func splitRoots(roots []string) []string {
	out := []string{}
	for _, r := range roots {
		for _, p := range filepath.SplitList(r) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, expand(p))
			}
		}
	}
	return out
}

// expand resolves environment references and a leading ~.
func expand(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}
