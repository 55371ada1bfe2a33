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

// Driver is the storage interface the contract executor and the
// conflict-resolution pipeline run against. All values are byte strings;
// a nil value means "not present".
type Driver interface {
	// overlay reads and writes (captured for conflict resolution)
	Get(key string) []byte
	Set(key string, value []byte)

	// direct access to the primary layer, bypassing the overlay
	GetDirect(key string) []byte
	SetDirect(key string, value []byte)
	IncrBy(key string, delta int64) int64

	Keys() []string

	// contract boundaries: delimit which writes belong to which contract
	BeginContract(idx int)
	EndContract(ok bool)

	Commit()     // flush pending writes into the primary layer
	ResetCache() // discard pending writes and all capture sets
	Flush()      // drop everything including the primary layer
}
