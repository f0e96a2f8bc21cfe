// Package file provides the TOML-backed application settings store.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Settings holds the application-level configuration persisted in the
// config file. Zero values fall back to defaults at load time.
type Settings struct {
	// DataDir is where the SQLite database lives.
	DataDir string `toml:"data_dir"`

	// MaxConcurrentSyncs bounds how many connectors sync at once.
	MaxConcurrentSyncs int `toml:"max_concurrent_syncs"`

	// PersistEvery is the checkpoint persistence cadence in items.
	PersistEvery int `toml:"persist_every"`

	// MaxRetries caps retry attempts for recoverable failures.
	MaxRetries int `toml:"max_retries"`

	// Verbose enables debug logging.
	Verbose bool `toml:"verbose"`
}

// DefaultSettings returns the defaults applied when the config file is
// absent or leaves fields unset.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentSyncs: 4,
		PersistEvery:       25,
		MaxRetries:         3,
	}
}

// SettingsStore reads and writes Settings as a TOML file.
type SettingsStore struct {
	mu       sync.RWMutex
	filePath string
	settings Settings
}

// NewSettingsStore creates a TOML-based settings store. If configDir is
// empty, defaults to ~/.corpus-sync/config.toml.
func NewSettingsStore(configDir string) (*SettingsStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".corpus-sync")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	s := &SettingsStore{
		filePath: filepath.Join(configDir, "config.toml"),
		settings: DefaultSettings(),
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// Settings returns the current settings.
func (s *SettingsStore) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Load reads the settings file from disk, keeping defaults for any
// unset field.
func (s *SettingsStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	settings := DefaultSettings()
	if err := toml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parsing %s: %w", s.filePath, err)
	}
	applyDefaults(&settings)
	s.settings = settings
	return nil
}

// Save writes the settings to disk.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	applyDefaults(&settings)
	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", s.filePath, err)
	}
	s.settings = settings
	return nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.filePath
}

func applyDefaults(settings *Settings) {
	defaults := DefaultSettings()
	if settings.MaxConcurrentSyncs <= 0 {
		settings.MaxConcurrentSyncs = defaults.MaxConcurrentSyncs
	}
	if settings.PersistEvery <= 0 {
		settings.PersistEvery = defaults.PersistEvery
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = defaults.MaxRetries
	}
}
