package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Manager holds the current configuration and applies file changes.
// Safe for concurrent use.
type Manager struct {
	v      *viper.Viper
	path   string
	logger zerolog.Logger

	mu        sync.RWMutex
	current   Config
	callbacks []func(Config)
}

// Load reads the config file at path (optional) plus environment overrides.
func Load(path string) (*Manager, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	return &Manager{
		v:       v,
		path:    path,
		logger:  log.With().Str("component", "config").Logger(),
		current: cfg,
	}, nil
}

// Current returns a snapshot of the configuration.
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers fn to run with the new configuration after every reload.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch reloads the configuration whenever the config file changes.
// Invalid edits are logged and the previous configuration stays active.
func (m *Manager) Watch() {
	if m.path == "" {
		return
	}
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.logger.Info().
			Str("file", e.Name).
			Str("operation", e.Op.String()).
			Msg("Configuration file changed")
		if err := m.Reload(); err != nil {
			m.logger.Warn().Err(err).Msg("Ignoring invalid configuration")
		}
	})
	m.v.WatchConfig()
}

// Reload re-reads the config file and notifies OnChange callbacks.
func (m *Manager) Reload() error {
	if m.path != "" {
		if err := m.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", m.path, err)
		}
	}
	cfg, err := decode(m.v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	callbacks := append(([]func(Config))(nil), m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

// Schemas returns the yaml.schemas setting.
func (m *Manager) Schemas() map[string]any {
	return m.Current().YAML.Schemas
}

// SetSchemas replaces yaml.schemas and writes it back to the config file.
func (m *Manager) SetSchemas(schemas map[string]any) error {
	m.mu.Lock()
	m.v.Set(key("yaml.schemas"), schemas)
	m.current.YAML.Schemas = schemas
	m.mu.Unlock()

	if m.path == "" {
		return nil
	}
	if err := m.v.WriteConfig(); err != nil {
		return fmt.Errorf("write config %s: %w", m.path, err)
	}
	return nil
}
