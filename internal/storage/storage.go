// Package storage persists implied volatility readings to a JSON journal.
// The journal feeds IV-rank computation; everything else in the system is
// transient by design.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lmorandi/gateway_desk/internal/models"
)

// Interface is the IV journal contract. Implementations must be safe for
// concurrent use.
type Interface interface {
	StoreIVReading(reading *models.IVReading) error
	GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error)
	GetLatestIVReading(symbol string) (*models.IVReading, error)
	// IVValues returns just the IV levels for a symbol over a lookback
	// window, oldest first, for rank computation.
	IVValues(symbol string, lookback time.Duration) ([]float64, error)
}

// NewStorage creates the JSON-backed journal.
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

var _ Interface = (*JSONStorage)(nil)

// JSONStorage keeps the journal in a single JSON file, rewritten atomically
// on every store.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *journalData
}

type journalData struct {
	Readings    []models.IVReading `json:"readings"`
	LastUpdated time.Time          `json:"last_updated"`
}

// NewJSONStorage opens or creates the journal at path.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: &journalData{},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading iv journal: %w", err)
		}
	}
	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s.data)
}

// save must be called with s.mu held.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	// Write to temp file first, then atomic rename
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.path)
}

// StoreIVReading appends one reading. Missing IDs and timestamps are
// filled in.
func (s *JSONStorage) StoreIVReading(reading *models.IVReading) error {
	if reading == nil {
		return fmt.Errorf("nil reading")
	}
	if reading.Symbol == "" {
		return fmt.Errorf("reading symbol is required")
	}
	if reading.IV <= 0 {
		return fmt.Errorf("reading iv must be > 0, got %f", reading.IV)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := *reading
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Date.IsZero() {
		r.Date = r.Timestamp.Truncate(24 * time.Hour)
	}

	s.data.Readings = append(s.data.Readings, r)
	return s.save()
}

// GetIVReadings returns readings for a symbol within [startDate, endDate],
// oldest first.
func (s *JSONStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IVReading
	for _, r := range s.data.Readings {
		if r.Symbol != symbol {
			continue
		}
		if r.Date.Before(startDate) || r.Date.After(endDate) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// GetLatestIVReading returns the most recent reading for a symbol, or nil
// when none exists.
func (s *JSONStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.IVReading
	for i := range s.data.Readings {
		r := &s.data.Readings[i]
		if r.Symbol != symbol {
			continue
		}
		if latest == nil || r.Date.After(latest.Date) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// IVValues returns the IV levels recorded for a symbol within the lookback
// window, oldest first.
func (s *JSONStorage) IVValues(symbol string, lookback time.Duration) ([]float64, error) {
	cutoff := time.Now().Add(-lookback)
	readings, err := s.GetIVReadings(symbol, cutoff, time.Now().Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		values = append(values, r.IV)
	}
	return values, nil
}
