package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config is the persisted runtime configuration: the tri-list of known
// LLM hosts, backends, and models.
type Config struct {
	Hosts    []string `json:"hosts"`
	Backends []string `json:"backends"`
	Models   []string `json:"models"`
}

// Configured reports whether the runtime is usable. All three lists must
// be non-empty.
func (c Config) Configured() bool {
	return len(c.Hosts) > 0 && len(c.Backends) > 0 && len(c.Models) > 0
}

// Add appends entries to the tri-list, skipping duplicates and blanks.
func (c *Config) Add(host, backend, model string) {
	c.Hosts = appendUnique(c.Hosts, host)
	c.Backends = appendUnique(c.Backends, backend)
	c.Models = appendUnique(c.Models, model)
}

func appendUnique(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// Store persists the runtime configuration as a JSON document.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted runtime configuration. A missing, unreadable,
// or malformed document yields a zero Config: the onboarding gate fails
// toward requiring setup, never toward silently proceeding.
func (s *Store) Load() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Config{}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}

// Save writes the runtime configuration atomically (temp file + rename).
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".runtime-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write runtime config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set store file mode: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
