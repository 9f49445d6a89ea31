package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

const (
	// BoltDB bucket name for storing reverse-geocoded regions
	RegionsBucket = "regions"
)

// Entry is one memoized reverse-geocoding answer.
type Entry struct {
	Region   string    `json:"region"`
	CachedAt time.Time `json:"cached_at"`
}

// Store provides an interface for region memo operations
type Store interface {
	Get(pos models.Position) (Entry, bool, error)
	Set(pos models.Position, region string) error
	ForEach(fn func(key string, value Entry) error) error
	GetCacheStatistics() (map[string]int, error)
	Close() error
}

// Key rounds pos to three decimal places (roughly 100 m), so nearby
// waypoints share one lookup.
func Key(pos models.Position) string {
	return fmt.Sprintf("%.3f,%.3f", pos.Lat, pos.Lon)
}

// BoltStore implements Store interface using BoltDB for persistence
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed cache store
func NewBoltStore(dbPath string) (*BoltStore, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(RegionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Info("BoltDB region cache initialized at: %s", dbPath)
	return &BoltStore{db: db, now: time.Now}, nil
}

// Get retrieves the memoized region for pos
func (s *BoltStore) Get(pos models.Position) (Entry, bool, error) {
	var entry Entry
	var found bool
	key := Key(pos)

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(RegionsBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry, found, nil
}

// Set stores the region found for pos
func (s *BoltStore) Set(pos models.Position, region string) error {
	data, err := json.Marshal(Entry{Region: region, CachedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(RegionsBucket)).Put([]byte(Key(pos)), data)
	})
}

// ForEach iterates over all entries in the cache
func (s *BoltStore) ForEach(fn func(key string, value Entry) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(RegionsBucket)).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				// Log the error but continue iteration
				logger.Error("Failed to unmarshal cache entry for key %s: %v", string(k), err)
				return nil
			}
			return fn(string(k), entry)
		})
	})
}

// Close closes the BoltDB database
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetCacheStatistics returns the number of entries per region
func (s *BoltStore) GetCacheStatistics() (map[string]int, error) {
	return statistics(s)
}

func statistics(s Store) (map[string]int, error) {
	stats := map[string]int{"total_entries": 0}
	err := s.ForEach(func(_ string, e Entry) error {
		stats["total_entries"]++
		stats["region:"+e.Region]++
		return nil
	})
	return stats, err
}

// MemoryStore is a Store that lives for the process only. It is used when
// the geocode cache path is blank.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(pos models.Position) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[Key(pos)]
	return e, ok, nil
}

func (m *MemoryStore) Set(pos models.Position, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key(pos)] = Entry{Region: region, CachedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) ForEach(fn func(key string, value Entry) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, e := range m.entries {
		if err := fn(k, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetCacheStatistics() (map[string]int, error) {
	return statistics(m)
}

func (m *MemoryStore) Close() error { return nil }
