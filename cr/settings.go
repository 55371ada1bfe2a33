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
package cr

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type SettingsT struct {
	NumSBB          int             // cohort size
	PoolSize        int             // caches per builder
	PollIntervalMs  int             // scheduler sweep interval
	CommitTimeoutMs int             // 0 disables the commit deadline
	MemoryBudget    string          // e.g. "1G", parsed with go-units
	DataPath        string
	SnapshotBackend string          // "files", "s3" or "ceph"
	SnapshotConfig  json.RawMessage // backend specific
	DebugLog        bool
}

var Settings SettingsT = SettingsT{1, 4, 10, 5000, "1G", "data", "files", nil, false}

// MemoryBudgetBytes is the parsed form of Settings.MemoryBudget.
var MemoryBudgetBytes int64

var log *zap.SugaredLogger = zap.NewNop().Sugar()

// call this after you filled Settings
func InitSettings() {
	if Settings.MemoryBudget != "" {
		budget, err := units.RAMInBytes(Settings.MemoryBudget)
		if err != nil {
			panic("invalid MemoryBudget " + Settings.MemoryBudget + ": " + err.Error())
		}
		MemoryBudgetBytes = budget
	}

	var logger *zap.Logger
	var err error
	if Settings.DebugLog {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	log = logger.Sugar()
	onexit.Register(func() { logger.Sync() }) // flush buffered log lines on exit
}

// LoadSettings overlays the JSON settings file onto the defaults.
func LoadSettings(filename string) error {
	jsonbytes, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonbytes, &Settings)
}

// WatchSettings reloads the tunables whenever the settings file changes.
func WatchSettings(filename string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnw("settings watcher unavailable", "err", err)
		return
	}
	if err := watcher.Add(filename); err != nil {
		log.Warnw("cannot watch settings file", "file", filename, "err", err)
		watcher.Close()
		return
	}
	onexit.Register(func() { watcher.Close() })
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := LoadSettings(filename); err == nil {
						log.Infow("settings reloaded", "file", filename)
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func pollInterval() time.Duration {
	ms := Settings.PollIntervalMs
	if ms <= 0 {
		ms = 10
	}
	return time.Duration(ms) * time.Millisecond
}

func commitTimeout() time.Duration {
	if Settings.CommitTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(Settings.CommitTimeoutMs) * time.Millisecond
}
