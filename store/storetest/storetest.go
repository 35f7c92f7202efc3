// Package storetest holds the behaviour every store.Store must share, as a
// test suite the backends run against themselves.
package storetest

import (
	"encoding/json"
	"testing"
	"time"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/store"
)

// NewRecord returns a created record for id.
func NewRecord(id string) *store.Record {
	return &store.Record{
		ID:          id,
		Bundle:      "/bundles/" + id,
		Rootfs:      "/bundles/" + id + "/rootfs",
		Status:      config.StatusCreated,
		Pid:         4242,
		CgroupPath:  "ocirt/" + id,
		Annotations: map[string]string{"owner": "test"},
		Config:      json.RawMessage(`{"ociVersion":"1.2.0"}`),
		Created:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run exercises a fresh store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("CreateGet", func(t *testing.T) {
		s := open(t)
		if err := s.Create(NewRecord("web")); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get("web")
		if err != nil {
			t.Fatal(err)
		}
		want := NewRecord("web")
		if got.ID != want.ID || got.Bundle != want.Bundle || got.Status != want.Status || got.Pid != want.Pid {
			t.Errorf("Get = %+v, want %+v", got, want)
		}
		if got.Annotations["owner"] != "test" || string(got.Config) != string(want.Config) {
			t.Errorf("annotations or config lost: %+v", got)
		}
		if !got.Created.Equal(want.Created) {
			t.Errorf("created = %v, want %v", got.Created, want.Created)
		}
	})

	t.Run("ConfigBytesKept", func(t *testing.T) {
		s := open(t)
		raw := `{"ociVersion":"1.2.0","process":{"args":["sh","-c","echo hi"],"env":["A=b"]},"annotations":{"k":"v"}}`
		r := NewRecord("cfg")
		r.Config = json.RawMessage(raw)
		if err := s.Create(r); err != nil {
			t.Fatal(err)
		}
		r.Status = config.StatusRunning
		if err := s.Update(r); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get("cfg")
		if err != nil {
			t.Fatal(err)
		}
		if string(got.Config) != raw {
			t.Errorf("config = %s, want %s", got.Config, raw)
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		s := open(t)
		if err := s.Create(NewRecord("dup")); err != nil {
			t.Fatal(err)
		}
		second := NewRecord("dup")
		second.Pid = 1
		if err := s.Create(second); !rterrors.IsKind(err, rterrors.ErrDuplicateID) {
			t.Fatalf("second Create = %v, want DuplicateID", err)
		}
		got, err := s.Get("dup")
		if err != nil {
			t.Fatal(err)
		}
		if got.Pid != 4242 {
			t.Errorf("duplicate create replaced the record: pid %d", got.Pid)
		}
		list, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Errorf("List has %d records, want 1", len(list))
		}
	})

	t.Run("Update", func(t *testing.T) {
		s := open(t)
		if err := s.Update(NewRecord("ghost")); !rterrors.IsKind(err, rterrors.ErrNotFound) {
			t.Errorf("Update of a missing record = %v, want NotFound", err)
		}
		r := NewRecord("app")
		if err := s.Create(r); err != nil {
			t.Fatal(err)
		}
		r.Status = config.StatusRunning
		if err := s.Update(r); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get("app")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != config.StatusRunning {
			t.Errorf("status = %s, want running", got.Status)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		if err := s.Create(NewRecord("gone")); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("gone"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get("gone"); !rterrors.IsKind(err, rterrors.ErrNotFound) {
			t.Errorf("Get after Delete = %v, want NotFound", err)
		}
		if err := s.Delete("gone"); err != nil {
			t.Errorf("second Delete = %v", err)
		}
		// The id can be reused.
		if err := s.Create(NewRecord("gone")); err != nil {
			t.Errorf("Create after Delete = %v", err)
		}
	})

	t.Run("ListOrdered", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"c", "a", "b"} {
			if err := s.Create(NewRecord(id)); err != nil {
				t.Fatal(err)
			}
		}
		list, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, r := range list {
			ids = append(ids, r.ID)
		}
		if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
			t.Errorf("List ids = %v, want [a b c]", ids)
		}
	})

	t.Run("InvalidID", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"", "../etc", "a/b", ".hidden", "sp ace"} {
			if err := s.Create(NewRecord(id)); !rterrors.IsKind(err, rterrors.ErrInvalidValue) {
				t.Errorf("Create(%q) = %v, want InvalidValue", id, err)
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		s := open(t)
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get("any"); !rterrors.IsKind(err, rterrors.ErrStore) {
			t.Errorf("Get on a closed store = %v, want a store error", err)
		}
	})
}
