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
/*
	crcache — conflict-resolution cache pipeline for parallel sub-block builders

	Bags of transactions execute speculatively against the master store,
	conflicts across sibling builders are resolved by partial rerun, and the
	outcome is merged into the master store in a fixed serialization order.
*/
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/docker/go-units"

	"github.com/launix-de/crcache/cr"
	"github.com/launix-de/crcache/kv"
)

func main() {
	fmt.Print(`crcache Copyright (C) 2026   CRCache Contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	if _, err := os.Stat("settings.json"); err == nil {
		if err := cr.LoadSettings("settings.json"); err != nil {
			panic("settings.json: " + err.Error())
		}
		cr.WatchSettings("settings.json")
	}
	cr.InitSettings()

	master := kv.NewStore()
	backend, ok := kv.BackendRegistry[cr.Settings.SnapshotBackend]
	if !ok {
		panic("unknown snapshot backend: " + cr.Settings.SnapshotBackend)
	}
	engine := backend("master", cr.Settings.SnapshotConfig)
	if err := kv.LoadSnapshot(engine, master); err == nil {
		fmt.Printf("restored master store: %d keys\n", master.Len())
	}
	fmt.Printf("memory budget: %s\n", units.BytesSize(float64(cr.MemoryBudgetBytes)))

	registry := cr.NewRegistry()
	cr.RegisterBuiltins(registry)
	executor := cr.NewRegistryExecutor(registry)

	numSBB := cr.Settings.NumSBB
	if numSBB < 1 {
		numSBB = 1
	}
	if cr.Settings.PoolSize%numSBB != 0 {
		panic("PoolSize must be a multiple of NumSBB: a partial cohort can never commit")
	}

	// one scheduler per builder position; pool slots are grouped into
	// cohorts of numSBB caches that share one common layer and commit in
	// sbb order, the way sibling builders do across processes
	scheds := make([]*cr.FSMScheduler, numSBB)
	for i := range scheds {
		scheds[i] = cr.NewFSMScheduler()
	}
	caches := make([]*cr.CRCache, cr.Settings.PoolSize)
	var common *kv.Store
	for i := range caches {
		sbbIdx := i % numSBB
		if sbbIdx == 0 {
			common = kv.NewStore()
		}
		caches[i] = cr.NewCRCache(i/numSBB, sbbIdx, numSBB, common, master, executor, scheds[sbbIdx])
	}

	shutdown := func() {
		for _, sched := range scheds {
			sched.Stop()
		}
		if err := kv.SaveSnapshot(engine, master); err != nil {
			fmt.Println("snapshot save failed:", err)
		}
	}

	if len(os.Args) > 1 {
		replayBags(os.Args[1], scheds[0])
		shutdown()
		return
	}

	// no work file: run as a library host until interrupted
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	<-sigCh
	shutdown()
}

type bagFile struct {
	InputHash    string            `json:"input_hash"`
	Environment  map[string]string `json:"environment"`
	Transactions []cr.Transaction  `json:"transactions"`
}

// replayBags feeds a JSONL file of bags through the pipeline one by one and
// prints the resulting sub-block data.
func replayBags(filename string, sched *cr.FSMScheduler) {
	f, err := os.Open(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry bagFile
		if err := json.Unmarshal(line, &entry); err != nil {
			panic(err)
		}

		done := make(chan struct{})
		bag := cr.NewTransactionBag(entry.Transactions, entry.Environment, entry.InputHash, func(data *cr.SBData) {
			out, _ := json.Marshal(data)
			fmt.Println(string(out))
			close(done)
		})
		cache, err := sched.Assign(bag)
		if err != nil {
			panic(err)
		}
		if !waitState(cache, cr.StateReadyToMerge, 30*time.Second) {
			fmt.Println("bag timed out:", entry.InputHash)
			cache.Discard()
			waitState(cache, cr.StateClean, 30*time.Second)
			continue
		}
		<-done
		if err := sched.Merge(entry.InputHash); err != nil {
			panic(err)
		}
		waitState(cache, cr.StateClean, 30*time.Second)
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
}

func waitState(c *cr.CRCache, target cr.State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == target {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return c.State() == target
}
