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

import "sort"
import "strconv"

// ModEntry records the first contract that wrote a key plus the latest value.
type ModEntry struct {
	Idx   int
	Value []byte
}

// CacheDriver layers a write-back overlay over a primary Store and an
// optional deeper fallback Store. Reads walk overlay -> primary -> fallback.
// The first observed value of every touched key is captured in
// originalValues; every write is captured in modifiedKeys and in the
// per-contract modification list. These captures are the raw material for
// conflict detection and partial rerun.
type CacheDriver struct {
	store    *Store // primary layer (common or master)
	fallback *Store // consulted on read miss, nil for the master driver

	cache          map[string][]byte // pending writes, flushed by Commit
	modifiedKeys   map[string]ModEntry
	originalValues map[string][]byte
	contractMods   []map[string][]byte

	curContract int
	inContract  bool
}

func NewCacheDriver(store *Store, fallback *Store) *CacheDriver {
	d := &CacheDriver{store: store, fallback: fallback}
	d.ResetCache()
	return d
}

// readThrough reads primary then fallback, skipping the overlay.
func (d *CacheDriver) readThrough(key string) []byte {
	if v, ok := d.store.Get(key); ok {
		return v
	}
	if d.fallback != nil {
		if v, ok := d.fallback.Get(key); ok {
			return v
		}
	}
	return nil
}

// captureOriginal snapshots the underlying value the first time a key is
// touched. Later reads and writes leave the snapshot alone.
func (d *CacheDriver) captureOriginal(key string) {
	if _, seen := d.originalValues[key]; seen {
		return
	}
	d.originalValues[key] = d.readThrough(key)
}

func (d *CacheDriver) Get(key string) []byte {
	d.captureOriginal(key)
	if v, ok := d.cache[key]; ok {
		return v
	}
	return d.readThrough(key)
}

func (d *CacheDriver) Set(key string, value []byte) {
	d.captureOriginal(key)
	v := make([]byte, len(value))
	copy(v, value)
	d.cache[key] = v
	if e, ok := d.modifiedKeys[key]; ok {
		e.Value = v
		d.modifiedKeys[key] = e
	} else {
		d.modifiedKeys[key] = ModEntry{Idx: d.curContract, Value: v}
	}
	if d.inContract && len(d.contractMods) > 0 {
		d.contractMods[len(d.contractMods)-1][key] = v
	}
}

func (d *CacheDriver) GetDirect(key string) []byte {
	v, ok := d.store.Get(key)
	if !ok {
		return nil
	}
	return v
}

func (d *CacheDriver) SetDirect(key string, value []byte) {
	d.store.Set(key, value)
}

// IncrBy adds delta to a decimal ASCII counter in the primary layer and
// returns the new value. An absent counter counts as 0.
func (d *CacheDriver) IncrBy(key string, delta int64) int64 {
	var cur int64
	if raw, ok := d.store.Get(key); ok {
		cur, _ = strconv.ParseInt(string(raw), 10, 64)
	}
	cur += delta
	d.store.Set(key, []byte(strconv.FormatInt(cur, 10)))
	return cur
}

// Keys returns the union of pending overlay keys and primary-layer keys.
func (d *CacheDriver) Keys() []string {
	seen := make(map[string]struct{})
	result := d.store.Keys()
	for _, k := range result {
		seen[k] = struct{}{}
	}
	for k := range d.cache {
		if _, ok := seen[k]; !ok {
			result = append(result, k)
		}
	}
	sort.Strings(result)
	return result
}

// BeginContract opens a new per-contract modification scope.
func (d *CacheDriver) BeginContract(idx int) {
	d.curContract = idx
	d.inContract = true
	d.contractMods = append(d.contractMods, make(map[string][]byte))
}

// EndContract closes the current contract scope. A failed contract leaves
// no trace: its modification entry is dropped and its writes are rolled
// back out of the overlay.
func (d *CacheDriver) EndContract(ok bool) {
	d.inContract = false
	if ok {
		return
	}
	if len(d.contractMods) == 0 {
		return
	}
	d.contractMods = d.contractMods[:len(d.contractMods)-1]
	d.rebuildFromMods()
}

// rebuildFromMods reconstructs the pending buffer and modifiedKeys by
// replaying the surviving contract modification entries in order.
// originalValues is left untouched on purpose.
func (d *CacheDriver) rebuildFromMods() {
	d.cache = make(map[string][]byte)
	d.modifiedKeys = make(map[string]ModEntry)
	for i, mods := range d.contractMods {
		for k, v := range mods {
			d.cache[k] = v
			if e, ok := d.modifiedKeys[k]; ok {
				e.Value = v
				d.modifiedKeys[k] = e
			} else {
				d.modifiedKeys[k] = ModEntry{Idx: i, Value: v}
			}
		}
	}
}

// Revert discards all overlay state originating from contract index idx or
// later. originalValues keeps the first-read snapshot; reads replayed
// afterwards go through to the current primary and fallback layers.
func (d *CacheDriver) Revert(idx int) {
	if idx < 0 {
		idx = 0
	}
	if idx < len(d.contractMods) {
		d.contractMods = d.contractMods[:idx]
	}
	d.rebuildFromMods()
}

// Commit writes the pending buffer into the primary layer and clears the
// buffer. The capture sets survive until ResetCache.
func (d *CacheDriver) Commit() {
	for k, v := range d.cache {
		d.store.Set(k, v)
	}
	d.cache = make(map[string][]byte)
}

// ResetCache discards the pending buffer and all capture sets.
func (d *CacheDriver) ResetCache() {
	d.cache = make(map[string][]byte)
	d.modifiedKeys = make(map[string]ModEntry)
	d.originalValues = make(map[string][]byte)
	d.contractMods = nil
	d.curContract = 0
	d.inContract = false
}

// Transplant replaces the capture sets wholesale and rebuilds the pending
// buffer from the latest value per modified key. Used to move the master
// driver's first-pass captures into the per-cache overlay.
func (d *CacheDriver) Transplant(modifiedKeys map[string]ModEntry, contractMods []map[string][]byte, originalValues map[string][]byte) {
	d.modifiedKeys = modifiedKeys
	d.contractMods = contractMods
	d.originalValues = originalValues
	d.cache = make(map[string][]byte, len(modifiedKeys))
	for k, e := range modifiedKeys {
		d.cache[k] = e.Value
	}
}

// Captures hands out the three capture sets. The caller owns them after a
// subsequent ResetCache, which replaces the driver's references.
func (d *CacheDriver) Captures() (map[string]ModEntry, []map[string][]byte, map[string][]byte) {
	return d.modifiedKeys, d.contractMods, d.originalValues
}

func (d *CacheDriver) ModifiedKeys() map[string]ModEntry { return d.modifiedKeys }

func (d *CacheDriver) OriginalValues() map[string][]byte { return d.originalValues }

func (d *CacheDriver) ContractModifications() []map[string][]byte { return d.contractMods }

// Flush drops the primary layer and the pending buffer.
func (d *CacheDriver) Flush() {
	d.store.Flush()
	d.cache = make(map[string][]byte)
}
