package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Manager layers an optional JSON file and environment overrides on top of
// the defaults from Load, and reloads the file when it changes.
type Manager struct {
	config      *Config
	watchers    []ConfigWatcher
	mu          sync.RWMutex
	configPaths []string
	fileWatcher *fsnotify.Watcher
	reloadChan  chan struct{}
	stopChan    chan struct{}
	environment string
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config) error

// EnvironmentConfig holds environment-specific settings
type EnvironmentConfig struct {
	Development *Config `json:"development,omitempty"`
	Staging     *Config `json:"staging,omitempty"`
	Production  *Config `json:"production,omitempty"`
}

// NewManager creates a new configuration manager
func NewManager(environment string) *Manager {
	return &Manager{
		environment: environment,
		reloadChan:  make(chan struct{}, 1),
		stopChan:    make(chan struct{}, 1),
	}
}

// LoadFromFile loads configuration from a JSON file. Sections missing from
// the file keep the values from Load.
func (m *Manager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	cfg, err := m.parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	if err := overrideStruct(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return fmt.Errorf("failed to override with env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
	if !contains(m.configPaths, filePath) {
		m.configPaths = append(m.configPaths, filePath)
	}
	return nil
}

func (m *Manager) parse(data []byte) (*Config, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	_, hasDev := probe["development"]
	_, hasStaging := probe["staging"]
	_, hasProd := probe["production"]
	if !hasDev && !hasStaging && !hasProd {
		cfg := Load()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var section json.RawMessage
	switch m.environment {
	case "development":
		section = probe["development"]
	case "staging":
		section = probe["staging"]
	case "production":
		section = probe["production"]
	default:
		for _, name := range []string{"development", "production", "staging"} {
			if raw, ok := probe[name]; ok {
				section = raw
				break
			}
		}
	}
	if section == nil {
		return nil, fmt.Errorf("no configuration found for environment: %s", m.environment)
	}

	cfg := Load()
	if err := json.Unmarshal(section, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func (m *Manager) LoadFromEnv() error {
	cfg := Load()
	if err := overrideStruct(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// StartWatching starts watching configuration files for changes
func (m *Manager) StartWatching() error {
	if len(m.configPaths) == 0 {
		return nil
	}

	var err error
	m.fileWatcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	for _, path := range m.configPaths {
		if err := m.fileWatcher.Add(path); err != nil {
			return fmt.Errorf("failed to add file to watcher %s: %w", path, err)
		}
	}

	go m.watchLoop()
	return nil
}

// StopWatching stops watching configuration files
func (m *Manager) StopWatching() {
	if m.fileWatcher != nil {
		m.stopChan <- struct{}{}
		m.fileWatcher.Close()
	}
}

// AddWatcher adds a configuration change watcher
func (m *Manager) AddWatcher(watcher ConfigWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

// GetConfig returns a copy of the current configuration
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	configCopy := *m.config
	return &configCopy
}

// Reload forces a configuration reload and notifies watchers
func (m *Manager) Reload() error {
	oldConfig := m.GetConfig()

	m.mu.RLock()
	paths := append([]string(nil), m.configPaths...)
	m.mu.RUnlock()

	if len(paths) == 0 {
		if err := m.LoadFromEnv(); err != nil {
			return err
		}
	} else if err := m.LoadFromFile(paths[0]); err != nil {
		return err
	}

	return m.notifyWatchers(oldConfig, m.GetConfig())
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.fileWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write {
				// Debounce rapid writes
				select {
				case m.reloadChan <- struct{}{}:
				default:
				}
				time.Sleep(100 * time.Millisecond)
				select {
				case <-m.reloadChan:
					if err := m.Reload(); err != nil {
						log.Error().Err(err).Str("file", event.Name).Msg("Failed to reload config")
					} else {
						log.Info().Str("file", event.Name).Msg("Configuration reloaded")
					}
				default:
				}
			}
		case err, ok := <-m.fileWatcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-m.stopChan:
			return
		}
	}
}

// overrideStruct walks the config and applies SECTION_FIELD environment
// variables, e.g. CHUNKING_CHUNKSIZE or VECTORSTORE_BACKEND.
func overrideStruct(value reflect.Value, prefix string) error {
	valueType := value.Type()

	for i := 0; i < value.NumField(); i++ {
		field := value.Field(i)
		fieldType := valueType.Field(i)
		if !field.CanSet() {
			continue
		}

		envName := prefix + strings.ToUpper(fieldType.Name)
		if field.Kind() == reflect.Struct {
			if err := overrideStruct(field, envName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envName)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env var %s: %w", fieldType.Name, envName, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
			return nil
		}
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	}

	return nil
}

func (m *Manager) notifyWatchers(oldConfig, newConfig *Config) error {
	m.mu.RLock()
	watchers := append([]ConfigWatcher(nil), m.watchers...)
	m.mu.RUnlock()

	for _, watcher := range watchers {
		if err := watcher(oldConfig, newConfig); err != nil {
			return fmt.Errorf("config watcher failed: %w", err)
		}
	}
	return nil
}

// ExportToFile exports current configuration to a file
func (m *Manager) ExportToFile(filePath string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filePath, err)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
