// Package pebblestore keeps container records in a cockroachdb/pebble
// key-value store.
//
// Keys are prefixed to form logical buckets in pebble's flat key space:
// "ctr:<id>" holds a JSON record and "meta:<key>" holds store metadata.
package pebblestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	rterrors "ocirt/errors"
	"ocirt/store"
)

// DirName is the conventional name of the database directory under a
// runtime root. It starts with a dot so it cannot clash with a container id.
const DirName = ".pebble"

// SchemaVersion is the record encoding version written to new databases.
const SchemaVersion = 1

var (
	prefixRecord = []byte("ctr:")
	prefixMeta   = []byte("meta:")
)

// Options configures Open.
type Options struct {
	// CacheSize is the block cache size in bytes.
	CacheSize int64

	// LockRetries is how many times a held database lock is retried, with
	// exponential backoff starting at 50ms.
	LockRetries int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{CacheSize: 1 << 20, LockRetries: 5}
}

// Store is a store.Store backed by pebble.
type Store struct {
	db *pebble.DB
	// mu serialises the read-check-write of Create and Update.
	mu     sync.Mutex
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database in dir. Pebble allows one process at
// a time; a held lock is retried before giving up.
func Open(dir string, opts Options) (*Store, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	var (
		db  *pebble.DB
		err error
	)
	for i := 0; ; i++ {
		db, err = pebble.Open(dir, &pebble.Options{Cache: cache})
		if err == nil {
			break
		}
		if i >= opts.LockRetries || !isLockError(err) {
			return nil, rterrors.WrapWithDetail(err, rterrors.ErrStore, "open", dir)
		}
		time.Sleep(50 * time.Millisecond * time.Duration(1<<i))
	}

	s := &Store{db: db}
	if err := s.checkSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "lock") || strings.Contains(msg, "temporarily unavailable")
}

func (s *Store) checkSchema() error {
	v, err := s.metadata("schema_version")
	if err != nil {
		return err
	}
	if v == "" {
		if err := s.db.Set(metaKey("schema_version"), []byte(strconv.Itoa(SchemaVersion)), pebble.Sync); err != nil {
			return rterrors.Wrap(err, rterrors.ErrStore, "open")
		}
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n > SchemaVersion {
		return rterrors.New(rterrors.ErrStore, "open",
			fmt.Sprintf("record schema version %q is newer than supported version %d", v, SchemaVersion))
	}
	return nil
}

func (s *Store) metadata(key string) (string, error) {
	data, closer, err := s.db.Get(metaKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", rterrors.WrapWithDetail(err, rterrors.ErrStore, "read", "metadata "+key)
	}
	defer closer.Close()
	return string(data), nil
}

func recordKey(id string) []byte {
	return append(append([]byte(nil), prefixRecord...), id...)
}

func metaKey(key string) []byte {
	return append(append([]byte(nil), prefixMeta...), key...)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) exists(id string) (bool, error) {
	_, closer, err := s.db.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, rterrors.WrapWithContainer(err, rterrors.ErrStore, "read", id)
	}
	closer.Close()
	return true, nil
}

func (s *Store) check(id string) error {
	if s.closed.Load() {
		return rterrors.ErrStoreClosed
	}
	return store.ValidateID(id)
}

func (s *Store) put(op string, r *store.Record, wantExisting bool) error {
	if err := s.check(r.ID); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "encode", r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.exists(r.ID)
	if err != nil {
		return err
	}
	switch {
	case ok && !wantExisting:
		return store.Exists(r.ID)
	case !ok && wantExisting:
		return store.NotFound(r.ID)
	}
	if err := s.db.Set(recordKey(r.ID), data, pebble.Sync); err != nil {
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, op, r.ID)
	}
	return nil
}

// Create adds r.
func (s *Store) Create(r *store.Record) error { return s.put("create", r, false) }

// Update replaces the record of r.ID.
func (s *Store) Update(r *store.Record) error { return s.put("update", r, true) }

// Get returns the record of id.
func (s *Store) Get(id string) (*store.Record, error) {
	if err := s.check(id); err != nil {
		return nil, err
	}
	data, closer, err := s.db.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.NotFound(id)
		}
		return nil, rterrors.WrapWithContainer(err, rterrors.ErrStore, "read", id)
	}
	defer closer.Close()
	return decode(id, data)
}

func decode(id string, data []byte) (*store.Record, error) {
	var r store.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, rterrors.WrapWithContainer(err, rterrors.ErrStore, "decode", id)
	}
	return &r, nil
}

// Delete removes the record of id.
func (s *Store) Delete(id string) error {
	if err := s.check(id); err != nil {
		return err
	}
	if err := s.db.Delete(recordKey(id), pebble.Sync); err != nil {
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "delete", id)
	}
	return nil
}

// List returns every record in key order, which is id order.
func (s *Store) List() ([]*store.Record, error) {
	if s.closed.Load() {
		return nil, rterrors.ErrStoreClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixRecord,
		UpperBound: upperBound(prefixRecord),
	})
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.ErrStore, "list")
	}
	defer iter.Close()

	var records []*store.Record
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefixRecord) {
			break
		}
		id := string(key[len(prefixRecord):])
		r, err := decode(id, iter.Value())
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := iter.Error(); err != nil {
		return nil, rterrors.Wrap(err, rterrors.ErrStore, "list")
	}
	return records, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return rterrors.Wrap(err, rterrors.ErrStore, "close")
	}
	return nil
}
