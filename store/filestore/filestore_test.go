package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"ocirt/store"
	"ocirt/store/storetest"
)

func TestFileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(storetest.NewRecord("web")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "web", StateFileName)); err != nil {
		t.Errorf("state file not at <root>/<id>/%s: %v", StateFileName, err)
	}
	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "web"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("container directory holds %d entries, want 1", len(entries))
	}
}

func TestListSkipsForeignDirectories(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "no-record"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, ".pebble"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "file"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(storetest.NewRecord("real")); err != nil {
		t.Fatal(err)
	}
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != "real" {
		t.Errorf("List = %v, want only the real record", list)
	}
}

func TestVisibleAcrossInstances(t *testing.T) {
	root := t.TempDir()
	a, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Create(storetest.NewRecord("shared")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get("shared"); err != nil {
		t.Errorf("second instance cannot see the record: %v", err)
	}
	if err := b.Create(storetest.NewRecord("shared")); err == nil {
		t.Error("second instance created a duplicate")
	}
}
