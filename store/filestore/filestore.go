// Package filestore keeps each container record in <root>/<id>/state.json.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	rterrors "ocirt/errors"
	"ocirt/store"
)

// StateFileName is the name of the record file inside a container directory.
const StateFileName = "state.json"

// Store is a store.Store over a directory tree.
type Store struct {
	root   string
	mu     sync.Mutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// New opens the store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o711); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrStore, "open", root)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

func (s *Store) statePath(id string) string { return filepath.Join(s.root, id, StateFileName) }

// Create writes r under a new name and links it into place, so the record
// appears complete or not at all and an existing one is never replaced.
func (s *Store) Create(r *store.Record) error {
	if err := store.ValidateID(r.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rterrors.ErrStoreClosed
	}

	if err := os.MkdirAll(s.dir(r.ID), 0o711); err != nil {
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "create", r.ID)
	}
	tmp, err := s.writeTemp(r)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	if err := os.Link(tmp, s.statePath(r.ID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return store.Exists(r.ID)
		}
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "create", r.ID)
	}
	return nil
}

// Update atomically replaces the record file.
func (s *Store) Update(r *store.Record) error {
	if err := store.ValidateID(r.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rterrors.ErrStoreClosed
	}

	if _, err := os.Stat(s.statePath(r.ID)); err != nil {
		if os.IsNotExist(err) {
			return store.NotFound(r.ID)
		}
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "update", r.ID)
	}
	tmp, err := s.writeTemp(r)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.statePath(r.ID)); err != nil {
		os.Remove(tmp)
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "update", r.ID)
	}
	return nil
}

func (s *Store) writeTemp(r *store.Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", rterrors.WrapWithContainer(err, rterrors.ErrStore, "encode", r.ID)
	}
	f, err := os.CreateTemp(s.dir(r.ID), "."+StateFileName+"-*")
	if err != nil {
		return "", rterrors.WrapWithContainer(err, rterrors.ErrStore, "write", r.ID)
	}
	if _, err := f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", rterrors.WrapWithContainer(err, rterrors.ErrStore, "write", r.ID)
	}
	return f.Name(), nil
}

// Get reads the record of id.
func (s *Store) Get(id string) (*store.Record, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, rterrors.ErrStoreClosed
	}
	return s.read(id)
}

func (s *Store) read(id string) (*store.Record, error) {
	data, err := os.ReadFile(s.statePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.NotFound(id)
		}
		return nil, rterrors.WrapWithContainer(err, rterrors.ErrStore, "read", id)
	}
	var r store.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, rterrors.WrapWithContainer(err, rterrors.ErrStore, "decode", id)
	}
	if r.ID != id {
		return nil, rterrors.WrapWithDetail(fmt.Errorf("record id %q", r.ID), rterrors.ErrStore, "decode", id)
	}
	return &r, nil
}

// Delete removes the container directory, including anything else the
// runtime kept there.
func (s *Store) Delete(id string) error {
	if err := store.ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rterrors.ErrStoreClosed
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return rterrors.WrapWithContainer(err, rterrors.ErrStore, "delete", id)
	}
	return nil
}

// List reads every record. Directories without a record file are skipped.
func (s *Store) List() ([]*store.Record, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, rterrors.ErrStoreClosed
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrStore, "list", s.root)
	}
	var records []*store.Record
	for _, e := range entries {
		if !e.IsDir() || store.ValidateID(e.Name()) != nil {
			continue
		}
		r, err := s.read(e.Name())
		if err != nil {
			if rterrors.IsKind(err, rterrors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
