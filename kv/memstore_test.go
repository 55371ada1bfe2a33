package kv

import "testing"

func TestStoreBasic(t *testing.T) {
	s := NewStore()
	if v, ok := s.Get("missing"); ok || v != nil {
		t.Errorf("expected miss, got %q", v)
	}
	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))
	if v, ok := s.Get("a"); !ok || string(v) != "1" {
		t.Errorf("expected a=1, got %q (%v)", v, ok)
	}
	s.Set("a", []byte("3"))
	if v, _ := s.Get("a"); string(v) != "3" {
		t.Errorf("overwrite failed, got %q", v)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", s.Len())
	}
	s.Delete("a")
	if _, ok := s.Get("a"); ok {
		t.Error("delete failed")
	}
}

func TestStoreKeysOrdered(t *testing.T) {
	s := NewStore()
	for _, k := range []string{"zebra", "apple", "mango"} {
		s.Set(k, []byte("x"))
	}
	keys := s.Keys()
	expected := []string{"apple", "mango", "zebra"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Errorf("keys[%d] = %s, expected %s", i, keys[i], k)
		}
	}
}

func TestStoreValueIsolation(t *testing.T) {
	s := NewStore()
	buf := []byte("original")
	s.Set("k", buf)
	buf[0] = 'X'
	if v, _ := s.Get("k"); string(v) != "original" {
		t.Errorf("stored value aliased caller buffer: %q", v)
	}
}

func TestStoreFlush(t *testing.T) {
	s := NewStore()
	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))
	s.Flush()
	if s.Len() != 0 {
		t.Errorf("flush left %d keys", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Error("flush did not drop key a")
	}
}

func TestStoreAscendStops(t *testing.T) {
	s := NewStore()
	s.Set("a", []byte("1"))
	s.Set("b", []byte("2"))
	s.Set("c", []byte("3"))
	count := 0
	s.Ascend(func(key string, value []byte) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Errorf("ascend visited %d items, expected 2", count)
	}
}
