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
import "os"
import "path/filepath"
import "encoding/json"

func init() {
	BackendRegistry["files"] = func(name string, raw json.RawMessage) SnapshotEngine {
		var cfg struct {
			Basepath string `json:"basepath"`
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				panic("files backend: invalid config: " + err.Error())
			}
		}
		if cfg.Basepath == "" {
			cfg.Basepath = "data"
		}
		factory := &FileFactory{Basepath: cfg.Basepath}
		return factory.CreateSnapshots(name)
	}
}

type FileSnapshots struct {
	path string
}

type FileFactory struct {
	Basepath string
}

func (f *FileFactory) CreateSnapshots(name string) SnapshotEngine {
	return &FileSnapshots{f.Basepath + "/" + name + ".snap"}
}

func (s *FileSnapshots) ReadSnapshot() io.ReadCloser {
	f, err := os.Open(s.path)
	if err != nil {
		// try to load backup (in case of failure while save)
		f, err = os.Open(s.path + ".old")
		if err != nil {
			return ErrorReader{err}
		}
	}
	return f
}

func (s *FileSnapshots) WriteSnapshot() io.WriteCloser {
	os.MkdirAll(filepath.Dir(s.path), 0750)
	if stat, err := os.Stat(s.path); err == nil && stat.Size() > 0 {
		// rescue a copy in case the write is interrupted
		os.Rename(s.path, s.path+".old")
	}
	f, err := os.Create(s.path)
	if err != nil {
		panic(err)
	}
	return f
}

func (s *FileSnapshots) Remove() {
	os.Remove(s.path)
	os.Remove(s.path + ".old")
}
