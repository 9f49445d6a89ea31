package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/matt2718/qbnotify/pkg/logger"
	"github.com/matt2718/qbnotify/pkg/models"
)

// BoltDB bucket names
var (
	recordsBucket       = []byte("records")
	metaBucket          = []byte("meta")
	subscriptionsBucket = []byte("subscriptions")

	cursorKey = []byte("cursor")
)

// BoltStore implements Store on a single BoltDB file.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the database at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, backendErr("open", fmt.Errorf("failed to create directory %s: %w", dir, err))
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, backendErr("open", fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, metaBucket, subscriptionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, backendErr("open", err)
	}

	logger.Info("BoltDB store initialized at: %s", dbPath)
	return &BoltStore{db: db}, nil
}

func idKey(id int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(id))
	return k
}

func (s *BoltStore) UpsertRecord(_ context.Context, rec models.TournamentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return backendErr("upsert record", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put(idKey(rec.ID), data)
	})
	return backendErr("upsert record", err)
}

func (s *BoltStore) Records(_ context.Context, f RecordFilter) ([]models.TournamentRecord, error) {
	var out []models.TournamentRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec models.TournamentRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				logger.Error("Failed to unmarshal record %d: %v", binary.BigEndian.Uint64(k), err)
				continue
			}
			if !f.Match(rec) {
				continue
			}
			out = append(out, rec)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, backendErr("read records", err)
	}
	return out, nil
}

func (s *BoltStore) LoadCursor(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		n, err = readCursor(tx)
		return err
	})
	if err != nil {
		return 0, backendErr("load cursor", err)
	}
	return n, nil
}

func readCursor(tx *bbolt.Tx) (int, error) {
	v := tx.Bucket(metaBucket).Get(cursorKey)
	if v == nil {
		return 0, notFound("load cursor")
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, corrupt("load cursor", string(v))
	}
	return n, nil
}

func (s *BoltStore) AdvanceCursor(_ context.Context, n int) (int, error) {
	stored := n
	err := s.db.Update(func(tx *bbolt.Tx) error {
		old, err := readCursor(tx)
		switch {
		case err == nil:
			stored = max(old, n)
		case isKind(err, KindCorrupt):
			logger.Warn("Overwriting corrupt cursor: %v", err)
		case !isKind(err, KindNotFound):
			return err
		}
		return tx.Bucket(metaBucket).Put(cursorKey, []byte(strconv.Itoa(stored)))
	})
	if err != nil {
		return 0, backendErr("advance cursor", err)
	}
	return stored, nil
}

// subscriptionKey orders subscriptions by owner, then id.
func subscriptionKey(owner string, id int) []byte {
	k := make([]byte, 0, len(owner)+9)
	k = append(k, owner...)
	k = append(k, 0)
	return append(k, idKey(id)...)
}

func (s *BoltStore) Subscriptions(_ context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(subscriptionsBucket).ForEach(func(k, v []byte) error {
			var sub models.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				logger.Error("Failed to unmarshal subscription %q: %v", k, err)
				return nil
			}
			out = append(out, sub)
			return nil
		})
	})
	if err != nil {
		return nil, backendErr("read subscriptions", err)
	}
	return out, nil
}

func (s *BoltStore) PutSubscription(_ context.Context, sub models.Subscription) (models.Subscription, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(subscriptionsBucket)
		if sub.ID == 0 {
			prefix := append([]byte(sub.OwnerEmail), 0)
			last := 0
			c := b.Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				last = int(binary.BigEndian.Uint64(k[len(prefix):]))
			}
			sub.ID = last + 1
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		return b.Put(subscriptionKey(sub.OwnerEmail, sub.ID), data)
	})
	if err != nil {
		return models.Subscription{}, backendErr("put subscription", err)
	}
	return sub, nil
}

// Close closes the BoltDB database
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
