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
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// snapshot format: one JSON object per line, lz4-compressed on write.
// The reader also accepts xz-compressed and uncompressed streams so that
// externally produced dumps can be imported.

type snapshotLine struct {
	K string `json:"k"`
	V []byte `json:"v"`
}

var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

// WriteStore streams all pairs of s as JSON lines into w.
func WriteStore(s *Store, w io.Writer) error {
	enc := json.NewEncoder(w)
	var err error
	s.Ascend(func(key string, value []byte) bool {
		err = enc.Encode(snapshotLine{K: key, V: value})
		return err == nil
	})
	return err
}

// ReadStore loads JSON lines from r into s.
func ReadStore(s *Store, r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var line snapshotLine
		if err := dec.Decode(&line); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		s.Set(line.K, line.V)
	}
}

// SaveSnapshot writes an lz4-compressed snapshot of s through the engine.
func SaveSnapshot(engine SnapshotEngine, s *Store) error {
	w := engine.WriteSnapshot()
	zw := lz4.NewWriter(w)
	if err := WriteStore(s, zw); err != nil {
		zw.Close()
		w.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// LoadSnapshot restores s from the engine's snapshot, sniffing the
// compression by magic bytes (lz4, xz, or plain). A missing snapshot is
// reported as the underlying read error.
func LoadSnapshot(engine SnapshotEngine, s *Store) error {
	r := engine.ReadSnapshot()
	defer r.Close()

	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil && err != io.EOF {
		return err
	}

	var src io.Reader = br
	if bytes.HasPrefix(head, lz4Magic) {
		src = lz4.NewReader(br)
	} else if bytes.HasPrefix(head, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return err
		}
		src = xr
	}
	return ReadStore(s, src)
}
