// Package store persists the selected device between runs.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/leandrodaf/faderws/sdk/contracts"
)

// Store loads and saves the selection. Save methods return only after the
// value is durable.
type Store interface {
	Load() (contracts.SelectedDeviceConfig, error)
	SaveDevice(id string) error
	SaveController(controller int) error
}

// DefaultPath returns the platform config location of the selection file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", contracts.ErrStorage, err)
	}
	return filepath.Join(dir, "faderws", "config.json"), nil
}

// FileStore keeps the selection in a small JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store for path. Nothing is touched until Load or a Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the selection. A missing file or missing keys are a valid empty
// selection.
func (s *FileStore) Load() (contracts.SelectedDeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SaveDevice stores the device id, keeping the other keys.
func (s *FileStore) SaveDevice(id string) error {
	return s.update(func(cfg *contracts.SelectedDeviceConfig) {
		cfg.DeviceID = id
	})
}

// SaveController stores the monitored controller number, keeping the other keys.
func (s *FileStore) SaveController(controller int) error {
	return s.update(func(cfg *contracts.SelectedDeviceConfig) {
		cfg.Controller = &controller
	})
}

func (s *FileStore) update(fn func(*contracts.SelectedDeviceConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.read()
	if err != nil {
		// a corrupt file is replaced rather than blocking every future save
		if !errors.Is(err, errCorrupt) {
			return err
		}
		cfg = contracts.SelectedDeviceConfig{}
	}
	fn(&cfg)
	return s.write(cfg)
}

var errCorrupt = errors.New("corrupt config file")

func (s *FileStore) read() (contracts.SelectedDeviceConfig, error) {
	var cfg contracts.SelectedDeviceConfig

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: read %s: %v", contracts.ErrStorage, s.path, err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return contracts.SelectedDeviceConfig{}, fmt.Errorf("%w: %w: %s: %v", contracts.ErrStorage, errCorrupt, s.path, err)
	}
	return cfg, nil
}

// write replaces the file atomically: temp file, fsync, rename.
func (s *FileStore) write(cfg contracts.SelectedDeviceConfig) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrStorage, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", contracts.ErrStorage, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", contracts.ErrStorage, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrStorage, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename to %s: %v", contracts.ErrStorage, s.path, err)
	}
	return nil
}

// MemoryStore is the unpersisted fallback used when the file is unusable.
type MemoryStore struct {
	mu  sync.Mutex
	cfg contracts.SelectedDeviceConfig
}

// NewMemoryStore returns a store seeded with cfg.
func NewMemoryStore(cfg contracts.SelectedDeviceConfig) *MemoryStore {
	return &MemoryStore{cfg: cfg}
}

func (m *MemoryStore) Load() (contracts.SelectedDeviceConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, nil
}

func (m *MemoryStore) SaveDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.DeviceID = id
	return nil
}

func (m *MemoryStore) SaveController(controller int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Controller = &controller
	return nil
}
