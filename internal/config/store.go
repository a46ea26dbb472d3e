package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrAPIKeyRequired is returned by Save when the API key is blank.
var ErrAPIKeyRequired = errors.New("api key is required")

// Store serves the loaded configuration and persists settings changes back
// to the YAML file.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings()
}

// Save validates settings, fills missing fields from the defaults, writes
// them to the config file and makes them current. Keys the user did not
// touch are preserved in the file.
func (s *Store) Save(settings Settings) (Settings, error) {
	settings = settings.withDefaults()
	if settings.APIKey == "" {
		return Settings{}, ErrAPIKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := writeSettings(s.path, settings); err != nil {
			return Settings{}, err
		}
	}

	s.cfg.APIKey = settings.APIKey
	s.cfg.Model = settings.Model
	s.cfg.VoiceModel = settings.VoiceModel
	s.cfg.VoiceID = settings.VoiceID
	return settings, nil
}

func writeSettings(path string, settings Settings) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read config file: %w", err)
	}

	doc["api_key"] = settings.APIKey
	doc["model"] = settings.Model
	doc["voice_model"] = settings.VoiceModel
	doc["voice_id"] = settings.VoiceID

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}
