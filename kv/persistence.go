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

import "io"
import "encoding/json"

/*

persistence interface

The master store is persisted as a compressed snapshot between scheduling
sessions. Multiple storage devices are supported:
 - file system: in data/[name].snap
 - S3 compatible object storage
 - Ceph RADOS (build with -tags=ceph)

A storage interface must implement the following operations:
 - read the snapshot stream
 - write a new snapshot stream
 - remove the snapshot

*/

type SnapshotEngine interface {
	ReadSnapshot() io.ReadCloser
	WriteSnapshot() io.WriteCloser
	Remove()
}

// for configuring a persistence backend
type SnapshotFactory interface {
	CreateSnapshots(name string) SnapshotEngine
}

// BackendRegistry maps a backend name ("files", "s3", "ceph") to a
// constructor taking the snapshot name and the backend's raw JSON config.
// Backends register themselves in their init functions so that build tags
// decide what is available.
var BackendRegistry = make(map[string]func(name string, raw json.RawMessage) SnapshotEngine)

// ErrorReader implements io.ReadCloser
type ErrorReader struct {
	e error
}

func (e ErrorReader) Read([]byte) (int, error) {
	// reflects the error (e.g. file not found)
	return 0, e.e
}
func (e ErrorReader) Close() error {
	// closes without problem
	return nil
}
