// Package config loads client settings from a config file and the
// environment, and reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/Sternrassler/yaml-schema-client/pkg/client"
	"github.com/Sternrassler/yaml-schema-client/pkg/logging"
)

// EnvPrefix prefixes environment overrides, e.g. YAML_CLIENT_HTTP_PROXY.
const EnvPrefix = "YAML_CLIENT"

// Storage backends for the schema cache index.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the complete client configuration.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	YAML       YAMLConfig       `mapstructure:"yaml"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        logging.Config   `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
}

// HTTPConfig configures outgoing schema requests.
type HTTPConfig struct {
	client.ProxyConfig `mapstructure:",squash"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// YAMLConfig holds the yaml.* settings forwarded to the language server.
type YAMLConfig struct {
	// Schemas maps a schema URI to a file pattern or list of patterns.
	Schemas map[string]any `mapstructure:"schemas"`

	Recommendations RecommendationsConfig `mapstructure:"recommendations"`
}

// RecommendationsConfig holds the yaml.recommendations.* settings.
type RecommendationsConfig struct {
	// Show enables notices suggesting companion extensions.
	Show bool `mapstructure:"show"`
}

// StorageConfig locates the schema cache.
type StorageConfig struct {
	// Path is the global storage directory; blobs go to <Path>/schemas_cache.
	Path      string `mapstructure:"path"`
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redisAddr"`
	RedisDB   int    `mapstructure:"redisDB"`
}

// ServerConfig describes how to launch the language server.
type ServerConfig struct {
	Path        string   `mapstructure:"path"`
	Args        []string `mapstructure:"args"`
	MaxRestarts int      `mapstructure:"maxRestarts"`
}

// MetricsConfig configures the HTTP listener for /metrics, /health, the
// schema endpoint and the status bar endpoints.
type MetricsConfig struct {
	// Addr is the listen address, empty to disable. The endpoints are
	// unauthenticated; bind to loopback (127.0.0.1:9090).
	Addr string `mapstructure:"addr"`
}

// WorkspaceConfig lists the open workspace folders.
// When empty, the working directory is used.
type WorkspaceConfig struct {
	Folders []string `mapstructure:"folders"`
}

// ExtensionsConfig lists directories scanned for extension manifests.
type ExtensionsConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(key("http.proxy"), "")
	v.SetDefault(key("http.proxyStrictSSL"), true)
	v.SetDefault(key("http.noProxy"), []string{})
	v.SetDefault(key("http.timeout"), "30s")
	v.SetDefault(key("yaml.schemas"), map[string]any{})
	v.SetDefault(key("yaml.recommendations.show"), true)
	v.SetDefault(key("storage.path"), defaultStoragePath())
	v.SetDefault(key("storage.backend"), BackendFile)
	v.SetDefault(key("storage.redisAddr"), "localhost:6379")
	v.SetDefault(key("storage.redisDB"), 0)
	v.SetDefault(key("server.path"), "yaml-language-server")
	v.SetDefault(key("server.args"), []string{"--stdio"})
	v.SetDefault(key("server.maxRestarts"), 4)
	v.SetDefault(key("log.level"), "info")
	v.SetDefault(key("log.pretty"), false)
	v.SetDefault(key("log.file"), "")
	v.SetDefault(key("log.maxSizeMB"), 10)
	v.SetDefault(key("log.maxBackups"), 3)
	v.SetDefault(key("log.compress"), false)
	v.SetDefault(key("metrics.addr"), "")
	v.SetDefault(key("extensions.dirs"), []string{})
	v.SetDefault(key("workspace.folders"), []string{})
}

func defaultStoragePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".yaml-schema-client"
	}
	return filepath.Join(dir, "yaml-schema-client")
}

// keyDelimiter separates nested keys. yaml.schemas is keyed by URLs, which
// contain dots, so the default "." delimiter cannot be used.
const keyDelimiter = "::"

// key converts a dotted setting name to the viper key.
func key(name string) string {
	return strings.ReplaceAll(name, ".", keyDelimiter)
}

func newViper(path string) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.YAML.Schemas == nil {
		cfg.YAML.Schemas = map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendFile, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of file, redis, memory (got %q)", c.Storage.Backend))
	}
	if c.Storage.Backend != BackendMemory && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive (got %s)", c.HTTP.Timeout))
	}
	if c.Server.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("server.maxRestarts must be >= 0 (got %d)", c.Server.MaxRestarts))
	}
	return errors.Join(errs...)
}
