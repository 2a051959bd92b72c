// Package config loads, validates, persists and watches the client settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location
const EnvConfigPath = "GSTREAM_CONFIG_PATH"

// Config holds the complete application configuration
type Config struct {
	Host     HostConfig     `yaml:"host" json:"host"`
	Player   PlayerConfig   `yaml:"player" json:"player"`
	Probe    ProbeConfig    `yaml:"probe" json:"probe"`
	Display  DisplayConfig  `yaml:"display" json:"display"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// HostConfig locates the coordination host
type HostConfig struct {
	Address           string        `yaml:"address" json:"address" env:"GSTREAM_HOST_ADDRESS"`
	Port              int           `yaml:"port" json:"port" env:"GSTREAM_HOST_PORT" default:"9000"`
	AutoReconnect     bool          `yaml:"auto_reconnect" json:"auto_reconnect" env:"GSTREAM_AUTO_RECONNECT" default:"true"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" json:"reconnect_delay" env:"GSTREAM_RECONNECT_DELAY" default:"1s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" json:"max_reconnect_delay" env:"GSTREAM_MAX_RECONNECT_DELAY" default:"30s"`
	DialTimeout       time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"GSTREAM_DIAL_TIMEOUT" default:"5s"`
	MaxFrameSize      int           `yaml:"max_frame_size" json:"max_frame_size" env:"GSTREAM_MAX_FRAME_SIZE" default:"16777216"`
}

// PlayerConfig holds the media player settings
type PlayerConfig struct {
	Path            string `yaml:"path" json:"path" env:"GSTREAM_PLAYER_PATH" default:"vlc"`
	PlaybackCommand string `yaml:"playback_command" json:"playback_command" env:"GSTREAM_PLAYBACK_COMMAND" default:"livestreamer --player {player} {url} {quality}"`
}

// ProbeConfig holds the stream probe settings
type ProbeConfig struct {
	Command string        `yaml:"command" json:"command" env:"GSTREAM_PROBE_COMMAND" default:"livestreamer {url}"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"GSTREAM_PROBE_TIMEOUT" default:"30s"`
}

// DisplayConfig holds presentation settings
type DisplayConfig struct {
	ShowOffline bool `yaml:"show_offline" json:"show_offline" env:"GSTREAM_SHOW_OFFLINE"`
}

// ServerConfig holds the local API server settings
type ServerConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"GSTREAM_SERVER_ENABLED" default:"true"`
	Host     string `yaml:"host" json:"host" env:"GSTREAM_SERVER_HOST" default:"127.0.0.1"`
	Port     int    `yaml:"port" json:"port" env:"GSTREAM_SERVER_PORT" default:"8080"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port" env:"GSTREAM_GRPC_PORT"`
}

// DatabaseConfig selects the history database
type DatabaseConfig struct {
	Type string `yaml:"type" json:"type" env:"GSTREAM_DATABASE_TYPE" default:"sqlite"`
	Path string `yaml:"path" json:"path" env:"GSTREAM_DATABASE_PATH"`
	URL  string `yaml:"url" json:"url" env:"GSTREAM_DATABASE_URL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level" env:"GSTREAM_LOG_LEVEL" default:"info"`
	Format   string `yaml:"format" json:"format" env:"GSTREAM_LOG_FORMAT" default:"text"`
	Output   string `yaml:"output" json:"output" env:"GSTREAM_LOG_OUTPUT" default:"stderr"`
	FilePath string `yaml:"file_path" json:"file_path" env:"GSTREAM_LOG_FILE"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"GSTREAM_METRICS_ENABLED" default:"true"`
	Path    string `yaml:"path" json:"path" env:"GSTREAM_METRICS_PATH" default:"/metrics"`
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	validator  *schemaValidator
	logger     hclog.Logger
	mu         sync.RWMutex
}

// NewConfigManager creates a manager holding the default configuration
func NewConfigManager(logger hclog.Logger) *ConfigManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &ConfigManager{
		config:    DefaultConfig(),
		validator: newSchemaValidator(),
		logger:    logger.Named("config"),
	}
}

// DefaultConfig returns the configuration described by the default tags
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := applyDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		panic(fmt.Sprintf("invalid default tag: %v", err))
	}
	return cfg
}

// DefaultPath returns GSTREAM_CONFIG_PATH, or config.yaml under the user
// config directory
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gstream.yaml"
	}
	return filepath.Join(dir, "gstream", "config.yaml")
}

// LoadConfig loads defaults, then the file at configPath if it exists, then
// environment overrides. Watchers are notified when the result differs from
// the current configuration.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("failed to load config from file: %w", err)
		}
		cm.logger.Debug("configuration loaded from file", "path", configPath)
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validate(newConfig); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	if !reflect.DeepEqual(&oldConfig, newConfig) {
		cm.notify(watchers, &oldConfig, newConfig)
	}
	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// Path returns the file the configuration was loaded from
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// Update applies fn to a copy of the configuration, validates it, stores
// it, saves it when a path is set and notifies watchers.
func (cm *ConfigManager) Update(fn func(*Config)) error {
	cm.mu.Lock()

	oldConfig := *cm.config
	newConfig := oldConfig
	fn(&newConfig)

	if err := cm.validate(&newConfig); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if cm.configPath != "" {
		if err := saveToFile(cm.configPath, &newConfig); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	cm.config = &newConfig
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	if !reflect.DeepEqual(&oldConfig, &newConfig) {
		cm.notify(watchers, &oldConfig, &newConfig)
	}
	return nil
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// SaveConfig saves the current configuration to file
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	return saveToFile(cm.configPath, cm.config)
}

func (cm *ConfigManager) validate(cfg *Config) error {
	if err := cm.validator.Validate(cfg); err != nil {
		return err
	}
	if cfg.Host.MaxReconnectDelay < cfg.Host.ReconnectDelay {
		return fmt.Errorf("host.max_reconnect_delay (%s) is shorter than host.reconnect_delay (%s)",
			cfg.Host.MaxReconnectDelay, cfg.Host.ReconnectDelay)
	}
	if cfg.Database.Type == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required for postgres")
	}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging.output is file")
	}
	return nil
}

// notify runs watchers in registration order; a panicking watcher is logged
// and skipped
func (cm *ConfigManager) notify(watchers []ConfigWatcher, oldConfig, newConfig *Config) {
	for _, w := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cm.logger.Error("config watcher panicked", "panic", r)
				}
			}()
			w(oldConfig, newConfig)
		}()
	}
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return err
	}

	// write then rename so the file watcher never reads a partial file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
