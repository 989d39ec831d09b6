package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"popupstorm/internal/logger"
)

// Weights holds the relative spawn weights per media kind.
type Weights struct {
	Image int `json:"image" yaml:"image"`
	Gif   int `json:"gif" yaml:"gif"`
	Video int `json:"video" yaml:"video"`
}

// Settings represents the runtime engine configuration. All values may be
// mutated while the engine is running; changes take effect on the next
// scheduling decision.
type Settings struct {
	BundleDir        string   `json:"bundle_dir" yaml:"bundle_dir"`
	IntervalSeconds  float64  `json:"interval_seconds" yaml:"interval_seconds"`
	MaxWindows       int      `json:"max_windows" yaml:"max_windows"`
	PoolCap          int      `json:"pool_cap" yaml:"pool_cap"`
	Weights          Weights  `json:"weights" yaml:"weights"`
	ScalePercent     int      `json:"scale_percent" yaml:"scale_percent"`
	DurationScale    float64  `json:"duration_scale" yaml:"duration_scale"`
	BounceEnabled    bool     `json:"bounce_enabled" yaml:"bounce_enabled"`
	BounceChance     float64  `json:"bounce_chance" yaml:"bounce_chance"`
	ActiveMonitors   []int    `json:"active_monitors" yaml:"active_monitors"`
	SelectedArchives []string `json:"selected_archives" yaml:"selected_archives"`
	ServerPort       int      `json:"server_port" yaml:"server_port"`
	LogLevel         string   `json:"log_level" yaml:"log_level"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	settings   *Settings
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. If configFile is empty the
// default path under the user config directory is used, and a config file
// with defaults is created when none exists.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "popupstorm")
	actualConfigPath := filepath.Join(configDir, "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.settings = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Int("selected_archives", len(m.settings.SelectedArchives)).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default settings.
func Defaults() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		BundleDir:        filepath.Join(homeDir, ".local", "share", "popupstorm", "bundles"),
		IntervalSeconds:  2.0,
		MaxWindows:       25,
		PoolCap:          30,
		Weights:          Weights{Image: 60, Gif: 25, Video: 15},
		ScalePercent:     100,
		DurationScale:    1.0,
		BounceEnabled:    true,
		BounceChance:     0.15,
		ActiveMonitors:   []int{},
		SelectedArchives: []string{},
		ServerPort:       8791,
		LogLevel:         "info",
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	s := Defaults()
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	normalize(s)

	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

// normalize clamps persisted values to their documented floors so a
// hand-edited config cannot stall or flood the engine.
func normalize(s *Settings) {
	if s.IntervalSeconds < 0.1 {
		s.IntervalSeconds = 0.1
	}
	if s.MaxWindows < 1 {
		s.MaxWindows = 1
	}
	if s.PoolCap < 1 {
		s.PoolCap = 1
	}
	if s.ScalePercent <= 0 {
		s.ScalePercent = 100
	}
	if s.DurationScale <= 0 {
		s.DurationScale = 1.0
	}
	if s.BounceChance < 0 {
		s.BounceChance = 0
	}
	if s.BounceChance > 1 {
		s.BounceChance = 1
	}
	if s.ActiveMonitors == nil {
		s.ActiveMonitors = []int{}
	}
	if s.SelectedArchives == nil {
		s.SelectedArchives = []string{}
	}
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return *Defaults()
	}

	s := *m.settings
	s.ActiveMonitors = append([]int(nil), m.settings.ActiveMonitors...)
	s.SelectedArchives = append([]string(nil), m.settings.SelectedArchives...)
	return s
}

// Update replaces the entire settings record and persists it.
func (m *Manager) Update(s Settings) error {
	normalize(&s)
	m.mu.Lock()
	m.settings = &s
	m.mu.Unlock()
	return m.Save()
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	s := m.settings
	m.mu.RUnlock()

	if s == nil {
		s = Defaults()
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// SetSelectedArchives replaces the selected archive set.
func (m *Manager) SetSelectedArchives(names []string) error {
	if names == nil {
		names = []string{}
	}
	m.mu.Lock()
	m.settings.SelectedArchives = names
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the control server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.settings.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the control server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.settings.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
