/*
Copyright (C) 2026  CRCache Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package kv

import "sync"
import "github.com/google/btree"

type kvItem struct {
	key   string
	value []byte
}

func lessKV(a, b kvItem) bool {
	return a.key < b.key
}

// Store is an ordered in-memory key-value store. All values are byte
// strings; typed accessors live in the layers above.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[kvItem]
}

func NewStore() *Store {
	return &Store{tree: btree.NewG[kvItem](16, lessKV)}
}

// Get returns the stored value. A miss returns (nil, false) and never errors.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	item, ok := s.tree.Get(kvItem{key: key})
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return item.value, true
}

// Set stores a copy of value under key.
func (s *Store) Set(key string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	s.tree.ReplaceOrInsert(kvItem{key: key, value: v})
	s.mu.Unlock()
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	s.tree.Delete(kvItem{key: key})
	s.mu.Unlock()
}

// Keys returns all keys in ascending order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	result := make([]string, 0, s.tree.Len())
	s.tree.Ascend(func(item kvItem) bool {
		result = append(result, item.key)
		return true
	})
	s.mu.RUnlock()
	return result
}

// Ascend iterates all pairs in key order until fn returns false.
func (s *Store) Ascend(fn func(key string, value []byte) bool) {
	s.mu.RLock()
	s.tree.Ascend(func(item kvItem) bool {
		return fn(item.key, item.value)
	})
	s.mu.RUnlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Flush drops all data.
func (s *Store) Flush() {
	s.mu.Lock()
	s.tree.Clear(false)
	s.mu.Unlock()
}
