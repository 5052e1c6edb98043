package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/0xmhha/dose/pkg/logger"
	"github.com/segmentio/ksuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
var (
	bucketRuns = []byte("runs") // sequence -> Record
)

// boltStore implements Store using BoltDB. Keys are big-endian bucket
// sequence numbers, so cursor order is insertion order.
//
// The database is opened for the span of each operation only. BoltDB
// takes an exclusive file lock while a writable handle is open, so a
// long-lived handle in a watch session would lock out `dose history` and
// `dose stats` running next to it.
type boltStore struct {
	path   string
	logger logger.Logger
	config Config

	mu     sync.Mutex
	closed bool
}

// New creates (if needed) and initializes a BoltDB history store.
func New(cfg Config, log logger.Logger) (Store, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	dbPath := ExpandHome(cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s := &boltStore{
		path:   dbPath,
		logger: log,
		config: cfg,
	}

	err := s.update(func(tx *bolt.Tx) error {
		if _, createErr := tx.CreateBucketIfNotExists(bucketRuns); createErr != nil {
			return fmt.Errorf("failed to create runs bucket: %w", createErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug("history store ready", "db_path", dbPath, "limit", cfg.Limit)

	return s, nil
}

// open opens the database. Read-only handles take a shared lock.
func (s *boltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{
		Timeout:  s.config.Timeout,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (s *boltStore) release(db *bolt.DB) {
	if err := db.Close(); err != nil {
		s.logger.Warn("failed to close database", "error", err)
	}
}

func (s *boltStore) update(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer s.release(db)

	return db.Update(fn)
}

func (s *boltStore) view(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer s.release(db)

	return db.View(fn)
}

// Append implements Store.Append.
func (s *boltStore) Append(rec *Record) error {
	if err := prepare(rec); err != nil {
		return err
	}

	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := b.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}

		if s.config.Limit > 0 {
			if _, err := pruneBucket(b, s.config.Limit); err != nil {
				return err
			}
		}

		s.logger.Debug("run recorded",
			"id", rec.ID,
			"outcome", rec.Outcome)

		return nil
	})
}

// List implements Store.List.
func (s *boltStore) List(limit int) ([]*Record, error) {
	records := make([]*Record, 0, 16)

	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return nil
		}
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var rec Record
			if unmarshalErr := json.Unmarshal(v, &rec); unmarshalErr != nil {
				s.logger.Warn("failed to unmarshal record",
					"key", binary.BigEndian.Uint64(k),
					"error", unmarshalErr)
				continue // Skip invalid entries.
			}
			records = append(records, &rec)
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}

// Last implements Store.Last.
func (s *boltStore) Last() (*Record, error) {
	records, err := s.List(1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records[0], nil
}

// Prune implements Store.Prune.
func (s *boltStore) Prune(keep int) (int, error) {
	var deleted int

	err := s.update(func(tx *bolt.Tx) error {
		var err error
		deleted, err = pruneBucket(tx.Bucket(bucketRuns), keep)
		return err
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("history pruned", "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}

// Close implements Store.Close. No handle is held between operations, so
// it only marks the store closed.
func (s *boltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.logger.Debug("history store closed")
	}
	return nil
}

// pruneBucket deletes the oldest entries of b until at most keep remain.
func pruneBucket(b *bolt.Bucket, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	c := b.Cursor()

	total := 0
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		total++
	}
	excess := total - keep
	if excess <= 0 {
		return 0, nil
	}

	// Collect first; deleting while iterating skips keys.
	keys := make([][]byte, 0, excess)
	for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}

	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete record: %w", err)
		}
	}
	return len(keys), nil
}

// prepare validates rec and fills its ID.
func prepare(rec *Record) error {
	if rec == nil {
		return ErrInvalidRecord
	}
	if rec.ID == "" {
		rec.ID = ksuid.New().String()
		return nil
	}
	if _, err := ksuid.Parse(rec.ID); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidID, rec.ID)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	return filepath.Join(homeDir, path[2:])
}
