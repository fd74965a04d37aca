package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/log"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

const (
	entryKeyPrefix = "entry:"           // entry:<canonical site URL> -> storedEntry JSON
	maxUpdatedKey  = "meta:max_updated" // big-endian int64, never decreases
	watermarkDBDir = "watermark_db"     // Subdirectory suffix within stateDir
)

// storedEntry is the on-disk value for an entry key
type storedEntry struct {
	Site        string    `json:"site"`
	UpdatedDate int64     `json:"updatedDate"`
	StoredAt    time.Time `json:"storedAt"`
}

// BadgerStore implements WatermarkStore using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	path     string
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached entry count
}

// BadgerPath returns the database directory used for namespace under stateDir
func BadgerPath(stateDir, namespace string) string {
	return filepath.Join(stateDir, utils.SanitizeFilename(namespace)+"_"+watermarkDBDir)
}

// NewBadgerStore opens (or creates) the watermark database for namespace under stateDir
func NewBadgerStore(stateDir, namespace string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := BadgerPath(stateDir, namespace)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, &utils.StoreError{Op: "Open", Key: dbPath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &utils.StoreError{Op: "Open", Key: dbPath, Err: err}
	}

	store := &BadgerStore{db: db, path: dbPath, log: logger}
	count, err := store.countEntries()
	if err != nil {
		logger.Warnf("Failed to count existing entries: %v", err)
	}
	store.keyCount.Store(int64(count))

	logger.WithFields(logrus.Fields{"path": dbPath, "entries": count}).Info("Watermark database opened")
	return store, nil
}

// Path returns the database directory
func (s *BadgerStore) Path() string { return s.path }

func (s *BadgerStore) countEntries() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(entryKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate retries db.Update on badger.ErrConflict.
// Conflicts between concurrent Put calls touch the shared max key and clear quickly.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("transaction conflict not resolved after %d retries", maxConflictRetries)
}

// GetGlobalMaxUpdatedDate implements StateStore
func (s *BadgerStore) GetGlobalMaxUpdatedDate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &utils.StoreError{Op: "GetGlobalMax", Err: err}
	}
	var maxUpdated int64
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := readMax(txn)
		maxUpdated = v
		return err
	})
	if err != nil {
		return 0, &utils.StoreError{Op: "GetGlobalMax", Key: maxUpdatedKey, Err: err}
	}
	return maxUpdated, nil
}

func readMax(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(maxUpdatedKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt %s value (%d bytes)", maxUpdatedKey, len(val))
		}
		v = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return v, err
}

// GetBySite implements StateStore
func (s *BadgerStore) GetBySite(ctx context.Context, site string) (models.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Entry{}, false, &utils.StoreError{Op: "GetBySite", Key: site, Err: err}
	}
	var entry models.Entry
	found := false
	key := []byte(entryKeyPrefix + site)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var stored storedEntry
			if err := json.Unmarshal(val, &stored); err != nil {
				return fmt.Errorf("decode stored entry: %w", err)
			}
			entry = models.Entry{Site: stored.Site, UpdatedDate: stored.UpdatedDate}
			found = true
			return nil
		})
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB View error in GetBySite: %v", err)
		return models.Entry{}, false, &utils.StoreError{Op: "GetBySite", Key: site, Err: err}
	}
	return entry, found, nil
}

// Put implements StateStore. The global max is advanced in the same transaction.
func (s *BadgerStore) Put(ctx context.Context, entry models.Entry) error {
	if err := ctx.Err(); err != nil {
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}
	if entry.Site == "" {
		return &utils.StoreError{Op: "Put", Err: errors.New("entry has empty site")}
	}
	key := []byte(entryKeyPrefix + entry.Site)
	value, err := json.Marshal(storedEntry{Site: entry.Site, UpdatedDate: entry.UpdatedDate, StoredAt: time.Now().UTC()})
	if err != nil {
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}

	isNew := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		isNew = false
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			isNew = true
		} else if err != nil {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(key, value)); err != nil {
			return err
		}

		current, err := readMax(txn)
		if err != nil {
			return err
		}
		if entry.UpdatedDate > current {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(entry.UpdatedDate))
			return txn.SetEntry(badger.NewEntry([]byte(maxUpdatedKey), buf))
		}
		return nil
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in Put: %v", err)
		return &utils.StoreError{Op: "Put", Key: entry.Site, Err: err}
	}
	if isNew {
		s.keyCount.Add(1)
	}
	s.log.Debugf("Stored entry %s at %d", entry.Site, entry.UpdatedDate)
	return nil
}

// ListEntries implements StoreAdmin
func (s *BadgerStore) ListEntries(ctx context.Context) ([]models.Entry, error) {
	var entries []models.Entry
	err := s.iterateEntries(ctx, func(stored storedEntry) error {
		entries = append(entries, models.Entry{Site: stored.Site, UpdatedDate: stored.UpdatedDate})
		return nil
	})
	if err != nil {
		return nil, &utils.StoreError{Op: "List", Err: err}
	}
	return entries, nil
}

// iterateEntries visits entries in key order, which is site order
func (s *BadgerStore) iterateEntries(ctx context.Context, fn func(storedEntry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(entryKeyPrefix)

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var stored storedEntry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				s.log.Warnf("Skipping undecodable entry %q: %v", string(item.Key()), err)
				continue
			}
			if err := fn(stored); err != nil {
				return err
			}
		}
		return nil
	})
}

// EntryCount implements StoreAdmin using the cached count
func (s *BadgerStore) EntryCount(ctx context.Context) (int, error) {
	return int(s.keyCount.Load()), nil
}

// WriteEntriesLog implements StoreAdmin
func (s *BadgerStore) WriteEntriesLog(ctx context.Context, filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0
	iterErr := s.iterateEntries(ctx, func(stored storedEntry) error {
		if _, err := writer.WriteString(stored.Site + "\t" + strconv.FormatInt(stored.UpdatedDate, 10) + "\n"); err != nil {
			return err
		}
		written++
		return nil
	})
	if iterErr != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: iterErr}
	}
	if err := writer.Flush(); err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	if err := file.Sync(); err != nil {
		return &utils.StoreError{Op: "WriteLog", Key: filePath, Err: fmt.Errorf("%w: %w", utils.ErrFilesystem, err)}
	}
	s.log.Infof("Wrote %d entries to %s", written, filePath)
	return nil
}

// RunGC runs BadgerDB's value log garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			} else {
				s.log.Debug("BadgerDB GC finished (no rewrite needed)")
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing watermark DB: %v", err)
		return &utils.StoreError{Op: "Close", Key: s.path, Err: err}
	}
	s.log.Debug("Watermark DB closed")
	return nil
}
