//go:build ceph

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

import (
	"bytes"
	"encoding/json"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

func init() {
	BackendRegistry["ceph"] = func(name string, raw json.RawMessage) SnapshotEngine {
		var cfg struct {
			UserName    string `json:"username"`
			ClusterName string `json:"cluster"`
			ConfFile    string `json:"conf_file"`
			Pool        string `json:"pool"`
			Prefix      string `json:"prefix"`
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			panic("ceph backend: invalid config: " + err.Error())
		}
		factory := &CephFactory{
			UserName:    cfg.UserName,
			ClusterName: cfg.ClusterName,
			ConfFile:    cfg.ConfFile,
			Pool:        cfg.Pool,
			Prefix:      cfg.Prefix,
		}
		return factory.CreateSnapshots(name)
	}
}

// Ceph/RADOS layout: one object <prefix>/<name>.snap per snapshot. RADOS
// has no append API, but WriteFull replaces an object atomically, which is
// exactly the snapshot semantics needed here.

type CephFactory struct {
	UserName    string // e.g. "client.admin" or "client.crcache"
	ClusterName string // often "ceph"
	ConfFile    string // optional
	Pool        string // e.g. "crcache"
	Prefix      string // base object prefix
}

func (f *CephFactory) CreateSnapshots(name string) SnapshotEngine {
	obj := path.Join(strings.TrimSuffix(f.Prefix, "/"), name+".snap")
	return &CephSnapshots{factory: f, object: obj}
}

type CephSnapshots struct {
	factory *CephFactory
	object  string

	connect sync.Once
	conn    *rados.Conn
	ioctx   *rados.IOContext
}

// pool dials the cluster on first use and returns the pool's IO context. A
// configured conf file must parse; without one the default config file is
// tried best-effort, leaving CEPH_ARGS/CEPH_CONF to fill the gaps.
func (s *CephSnapshots) pool() *rados.IOContext {
	s.connect.Do(func() {
		f := s.factory
		conn, err := rados.NewConnWithClusterAndUser(f.ClusterName, f.UserName)
		if err != nil {
			panic("ceph backend: " + err.Error())
		}
		if f.ConfFile != "" {
			if err := conn.ReadConfigFile(f.ConfFile); err != nil {
				panic("ceph backend: " + f.ConfFile + ": " + err.Error())
			}
		} else {
			_ = conn.ReadDefaultConfigFile()
		}
		if err := conn.Connect(); err != nil {
			panic("ceph backend: " + err.Error())
		}
		ioctx, err := conn.OpenIOContext(f.Pool)
		if err != nil {
			conn.Shutdown()
			panic("ceph backend: pool " + f.Pool + ": " + err.Error())
		}
		s.conn = conn
		s.ioctx = ioctx
	})
	return s.ioctx
}

func (s *CephSnapshots) ReadSnapshot() io.ReadCloser {
	ioctx := s.pool()
	stat, err := ioctx.Stat(s.object)
	if err != nil {
		return ErrorReader{err}
	}
	data := make([]byte, stat.Size)
	n, err := ioctx.Read(s.object, data, 0)
	if err != nil {
		return ErrorReader{err}
	}
	return io.NopCloser(bytes.NewReader(data[:n]))
}

// cephWriteCloser collects the snapshot stream; the object is replaced in
// one WriteFull on Close.
type cephWriteCloser struct {
	s      *CephSnapshots
	buf    bytes.Buffer
	closed bool
}

func (w *cephWriteCloser) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *cephWriteCloser) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.s.pool().WriteFull(w.s.object, w.buf.Bytes())
}

func (s *CephSnapshots) WriteSnapshot() io.WriteCloser {
	return &cephWriteCloser{s: s}
}

func (s *CephSnapshots) Remove() {
	s.pool().Delete(s.object)
}
