package pebblestore

import (
	"bytes"
	"path/filepath"
	"testing"

	"ocirt/store"
	"ocirt/store/storetest"
)

func TestPebbleStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), DirName), DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DirName)
	s, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create(storetest.NewRecord("persist")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get("persist")
	if err != nil {
		t.Fatal(err)
	}
	if got.Pid != 4242 {
		t.Errorf("reopened record pid = %d", got.Pid)
	}
	if v, err := s.metadata("schema_version"); err != nil || v != "1" {
		t.Errorf("schema_version = %q, %v", v, err)
	}
}

func TestListIgnoresMetadata(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), DirName), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("List on a new database = %v", list)
	}
}

func TestUpperBound(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte("ctr:"), []byte("ctr;")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tc := range tests {
		if got := upperBound(tc.in); !bytes.Equal(got, tc.want) {
			t.Errorf("upperBound(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
