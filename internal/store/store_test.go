package store

import "testing"

func TestPutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put([]byte("key1"), []byte("value1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "value1" {
		t.Fatalf("Get = %q, %v; want value1, true", v, ok)
	}

	if err := s.Delete([]byte("key1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = s.Get([]byte("key1"))
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Error("expected key to be gone after delete")
	}
}

func TestForEachWithPrefix(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Put([]byte("app/1"), []byte("a"))
	s.Put([]byte("app/2"), []byte("b"))
	s.Put([]byte("other/1"), []byte("c"))

	seen := map[string]string{}
	err = s.ForEachWithPrefix([]byte("app/"), func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachWithPrefix: %v", err)
	}
	if len(seen) != 2 || seen["app/1"] != "a" || seen["app/2"] != "b" {
		t.Fatalf("unexpected result: %v", seen)
	}
}
