package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/models"
)

// JSONStorage implements storage using JSON files
type JSONStorage struct {
	basePath string
	logger   *logger.Logger
	mu       sync.RWMutex

	// In-memory cache. Peripheral records are persisted without their radio
	// handles; a reloaded record must be re-discovered before it can connect.
	peripherals map[uuid.UUID]*models.PeripheralRecord
	settings    map[string]interface{}
}

// Storage interface defines storage operations
type Storage interface {
	// Peripheral cache operations
	GetPeripheral(id uuid.UUID) (*models.PeripheralRecord, error)
	GetPeripherals() ([]*models.PeripheralRecord, error)
	SavePeripheral(rec *models.PeripheralRecord) error
	DeletePeripheral(id uuid.UUID) error

	// Settings operations
	GetSetting(key string) (interface{}, error)
	SaveSetting(key string, value interface{}) error
	DeleteSetting(key string) error

	// Lifecycle
	Start() error
	Stop() error
	Sync() error
}

// NewJSONStorage creates a new JSON storage instance
func NewJSONStorage(basePath string, log *logger.Logger) *JSONStorage {
	return &JSONStorage{
		basePath:    basePath,
		logger:      log,
		peripherals: make(map[uuid.UUID]*models.PeripheralRecord),
		settings:    make(map[string]interface{}),
	}
}

// Start initializes the storage and loads existing data
func (s *JSONStorage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Create storage directory if it doesn't exist
	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Load existing data
	if err := s.loadPeripherals(); err != nil {
		s.logger.Warn("Failed to load peripheral cache", logger.ErrorField(err))
	}

	if err := s.loadSettings(); err != nil {
		s.logger.Warn("Failed to load settings", logger.ErrorField(err))
	}

	s.logger.Info("JSON storage started",
		logger.String("path", s.basePath),
		logger.Int("peripherals", len(s.peripherals)),
	)

	return nil
}

// Stop saves all data and closes storage
func (s *JSONStorage) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sync(); err != nil {
		return fmt.Errorf("failed to sync data during stop: %w", err)
	}

	s.logger.Info("JSON storage stopped")
	return nil
}

// Sync writes all in-memory data to disk
func (s *JSONStorage) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sync()
}

func (s *JSONStorage) sync() error {
	if err := s.savePeripherals(); err != nil {
		return fmt.Errorf("failed to save peripheral cache: %w", err)
	}

	if err := s.saveSettings(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

// Peripheral cache operations

func (s *JSONStorage) GetPeripheral(id uuid.UUID) (*models.PeripheralRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.peripherals[id]
	if !exists {
		return nil, fmt.Errorf("peripheral %s not found", id)
	}

	// Return a copy to prevent external modification
	recCopy := *rec
	return &recCopy, nil
}

func (s *JSONStorage) GetPeripherals() ([]*models.PeripheralRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peripherals := make([]*models.PeripheralRecord, 0, len(s.peripherals))
	for _, rec := range s.peripherals {
		recCopy := *rec
		peripherals = append(peripherals, &recCopy)
	}

	return peripherals, nil
}

func (s *JSONStorage) SavePeripheral(rec *models.PeripheralRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy, stripped of the radio handle; handles are process-local
	// and meaningless after a restart.
	recCopy := *rec
	recCopy.Handle = nil
	s.peripherals[rec.ID] = &recCopy

	return s.savePeripherals()
}

func (s *JSONStorage) DeletePeripheral(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peripherals, id)
	return s.savePeripherals()
}

// Settings operations

func (s *JSONStorage) GetSetting(key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.settings[key]
	if !exists {
		return nil, fmt.Errorf("setting %s not found", key)
	}

	return value, nil
}

func (s *JSONStorage) SaveSetting(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return s.saveSettings()
}

func (s *JSONStorage) DeleteSetting(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settings, key)
	return s.saveSettings()
}

// File operations

func (s *JSONStorage) loadPeripherals() error {
	path := filepath.Join(s.basePath, "peripherals.json")
	return s.loadJSONFile(path, &s.peripherals)
}

func (s *JSONStorage) savePeripherals() error {
	path := filepath.Join(s.basePath, "peripherals.json")
	return s.saveJSONFile(path, s.peripherals)
}

func (s *JSONStorage) loadSettings() error {
	path := filepath.Join(s.basePath, "settings.json")
	return s.loadJSONFile(path, &s.settings)
}

func (s *JSONStorage) saveSettings() error {
	path := filepath.Join(s.basePath, "settings.json")
	return s.saveJSONFile(path, s.settings)
}

func (s *JSONStorage) loadJSONFile(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, that's OK
		}
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil // Empty file, that's OK
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from %s: %w", path, err)
	}

	return nil
}

func (s *JSONStorage) saveJSONFile(path string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to temporary file first
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file %s: %w", tmpPath, err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// BackupData creates a backup of all stored data
func (s *JSONStorage) BackupData() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	backupPath := filepath.Join(s.basePath, "backup_"+timestamp)

	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	// Copy all data files
	files := []string{"peripherals.json", "settings.json"}
	for _, file := range files {
		src := filepath.Join(s.basePath, file)
		dst := filepath.Join(backupPath, file)

		if err := s.copyFile(src, dst); err != nil {
			s.logger.Warn("Failed to backup file", logger.String("file", file), logger.ErrorField(err))
		}
	}

	s.logger.Info("Data backup created", logger.String("path", backupPath))
	return nil
}

func (s *JSONStorage) copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Source doesn't exist, skip
		}
		return err
	}

	return os.WriteFile(dst, data, 0644)
}
