package blob

import (
	"errors"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("uploads/meeting.wav", []byte("audio")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := s.Get("uploads/meeting.wav")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("got %q, want %q", data, "audio")
	}

	ok, err := s.Exists("uploads/meeting.wav")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("nope/missing.json"); !errors.Is(err, ErrNotExist) {
		t.Errorf("Get missing key: got %v, want ErrNotExist", err)
	}
	ok, err := s.Exists("nope/missing.json")
	if err != nil || ok {
		t.Errorf("Exists missing = %v, %v; want false, nil", ok, err)
	}
}

func TestPutOverwrites(t *testing.T) {
	s := newTestStore(t)

	s.Put("k", []byte("old"))
	if err := s.Put("k", []byte("new")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	data, _ := s.Get("k")
	if string(data) != "new" {
		t.Errorf("got %q after overwrite, want %q", data, "new")
	}
}

func TestListByPrefixSorted(t *testing.T) {
	s := newTestStore(t)

	for _, k := range []string{
		"chunks/job1/part_001.wav",
		"chunks/job1/part_000.wav",
		"chunks/job2/part_000.wav",
		"manifests/job1.json",
	} {
		if err := s.Put(k, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	keys, err := s.List("chunks/job1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"chunks/job1/part_000.wav", "chunks/job1/part_001.wav"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("../escape.txt", []byte("x")); err == nil {
		t.Error("Put with traversal key succeeded, want error")
	}
	if _, err := s.Get("../../etc/passwd"); err == nil {
		t.Error("Get with traversal key succeeded, want error")
	}
}
