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
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/launix-de/crcache/kv"
)

// rerunUnbounded marks "conflicts found but none attributable to a modified
// key": the revert and the rerun suffix both degenerate to no-ops.
const rerunUnbounded = 999999

// CRCache drives one transaction bag through the conflict-resolution
// pipeline: speculative execution against the master layer, turn-token
// synchronization with its sibling sub-block builders, partial rerun from
// the earliest conflicting contract, commit to the common layer, and (for
// builder 0) promotion of the common layer into the master store.
//
// A cache is created once and reused for many epochs. All state mutation
// goes through the state machine; external goroutines only ever call the
// exported trigger methods, which serialize on the cache mutex.
type CRCache struct {
	idx    int // pool slot
	sbbIdx int // position in the committing order
	numSBB int // cohort size
	uuid   uuid.UUID

	executor Executor
	sched    *FSMScheduler

	bag        *TransactionBag
	pendingBag *TransactionBag // carries the SetBag argument into the before hook
	rerunIdx   int             // -1 = no rerun computed
	results    map[int]ExecResult

	db       *kv.CacheDriver // overlay over the common layer, reads fall back to master
	masterDB *kv.CacheDriver // overlay over the master layer

	m   machine
	log *zap.SugaredLogger
	mu  sync.Mutex
}

func NewCRCache(idx, sbbIdx, numSBB int, common, master *kv.Store, executor Executor, sched *FSMScheduler) *CRCache {
	c := &CRCache{
		idx:      idx,
		sbbIdx:   sbbIdx,
		numSBB:   numSBB,
		uuid:     newUUID(),
		executor: executor,
		sched:    sched,
		rerunIdx: -1,
		db:       kv.NewCacheDriver(common, master),
		masterDB: kv.NewCacheDriver(master, nil),
		log:      log.Named(fmt.Sprintf("cache-%d", idx)),
	}
	c.m = machine{state: StateClean, transitions: []transition{
		{trigger: "set_bag", sources: []State{StateClean}, dest: StateBagSet,
			before: c.setTransactionBag},
		{trigger: "execute", sources: []State{StateBagSet}, dest: StateExecuted,
			before: c.executeTransactions},
		{trigger: "sync_execution", sources: []State{StateExecuted}, dest: StateCRStarted,
			conds: []func() bool{c.myTurnForCR, c.isTopOfStack}},
		{trigger: "start_cr", sources: []State{StateCRStarted}, dest: StateReadyToCommit,
			before: c.resolveConflicts},
		{trigger: "commit", sources: []State{StateReadyToCommit}, dest: StateCommitted,
			before: c.mergeToCommon},
		{trigger: "sync_merge_ready", sources: []State{StateCommitted}, dest: StateReadyToMerge,
			conds: []func() bool{c.allCommitted}},
		{trigger: "merge", sources: []State{StateReadyToMerge}, dest: StateMerged,
			before: c.mergeToMaster},
		{trigger: "reset", sources: []State{StateMerged, StateDiscarded}, dest: StateReset,
			before: c.resetDBs},
		{trigger: "sync_reset", sources: []State{StateReset}, dest: StateClean,
			conds: []func() bool{c.allReset}},
		{trigger: "discard", sources: []State{StateBagSet, StateExecuted, StateCRStarted,
			StateReadyToCommit, StateCommitted, StateReadyToMerge}, dest: StateDiscarded},
	}}

	sched.MarkClean(c)
	resetMacros(c.db)
	return c
}

func (c *CRCache) Idx() int { return c.idx }

func (c *CRCache) SBBIdx() int { return c.sbbIdx }

// UUID identifies this cache instance across epochs.
func (c *CRCache) UUID() uuid.UUID { return c.uuid }

// State returns the current machine state.
func (c *CRCache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.state
}

// InputHash returns the hash of the bag in flight, or "" when clean.
func (c *CRCache) InputHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bag == nil {
		return ""
	}
	return c.bag.InputHash
}

// Results exposes the per-transaction execution results.
func (c *CRCache) Results() map[int]ExecResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results
}

func (c *CRCache) String() string {
	inputHash := "NOT_SET"
	if c.bag != nil {
		inputHash = c.bag.InputHash
	}
	return fmt.Sprintf("<CRCache input_hash=%s state=%s idx=%d sbb_idx=%d macros=%d %d %d>",
		inputHash, c.m.state, c.idx, c.sbbIdx,
		checkMacro(c.db, MacroExecution), checkMacro(c.db, MacroConflictResolution), checkMacro(c.db, MacroReset))
}

/* exported triggers; each one serializes on the cache mutex and runs the
   follow-up triggers the source transition chains into */

// SetBag hands a fresh bag to a clean cache.
func (c *CRCache) SetBag(bag *TransactionBag) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingBag = bag
	_, err := c.m.fire("set_bag")
	c.pendingBag = nil
	return err
}

// Execute runs the bag speculatively against the master layer. Safe to call
// from a worker goroutine; sibling caches execute in parallel.
func (c *CRCache) Execute() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired, err := c.m.fire("execute")
	if err != nil {
		return err
	}
	if fired {
		c.scheduleCR()
	}
	return nil
}

// SyncExecution is polled by the scheduler; once it is this cache's CR turn
// and the cache is top of stack, the whole resolve-and-commit chain runs.
func (c *CRCache) SyncExecution() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired, err := c.m.fire("sync_execution")
	if err != nil || !fired {
		return
	}
	c.startCR()
}

// SyncMergeReady is polled by the scheduler once the cache committed.
func (c *CRCache) SyncMergeReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.fire("sync_merge_ready")
}

// Merge promotes the epoch: builder 0 copies the common layer into the
// master store. Invoked externally once the block is final.
func (c *CRCache) Merge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired, err := c.m.fire("merge")
	if err != nil {
		return err
	}
	if fired {
		c.reset()
	}
	return nil
}

// SyncReset is polled by the scheduler until builder 0 wiped the macros.
func (c *CRCache) SyncReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fired, _ := c.m.fire("sync_reset")
	if fired {
		c.sched.MarkClean(c)
	}
}

// Discard cancels the epoch for this cache and routes through reset.
func (c *CRCache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discard()
}

/* internal chain; the mutex is already held */

func (c *CRCache) startCR() {
	fired, err := c.m.fire("start_cr")
	if err != nil {
		c.log.Errorw("conflict resolution failed", "cache", c.idx, "err", err)
		c.discard()
		return
	}
	if fired {
		c.commit()
	}
}

func (c *CRCache) commit() {
	fired, err := c.m.fire("commit")
	if err != nil {
		c.discard()
		return
	}
	if fired {
		c.scheduleMergeReady()
	}
}

func (c *CRCache) reset() {
	fired, err := c.m.fire("reset")
	if err != nil {
		c.log.Errorw("reset failed", "cache", c.idx, "err", err)
		return
	}
	if fired {
		c.scheduleReset()
	}
}

func (c *CRCache) discard() {
	fired, err := c.m.fire("discard")
	if err != nil || !fired {
		// already discarded or in a terminal state
		return
	}
	c.reset()
}

/* poll registration */

func (c *CRCache) scheduleCR() {
	// the chain started by sync_execution ends in COMMITTED
	c.sched.AddPoll(c, c.SyncExecution, StateCommitted)
}

func (c *CRCache) scheduleMergeReady() {
	c.sched.AddPollDeadline(c, c.SyncMergeReady, StateReadyToMerge, commitTimeout())
}

func (c *CRCache) scheduleReset() {
	c.sched.AddPoll(c, c.SyncReset, StateClean)
}

/* guard conditions */

func (c *CRCache) myTurnForCR() bool {
	return checkMacro(c.db, MacroConflictResolution) == int64(c.sbbIdx)
}

func (c *CRCache) isTopOfStack() bool {
	return c.sched.CheckTopOfStack(c)
}

func (c *CRCache) allCommitted() bool {
	return checkMacro(c.db, MacroConflictResolution) == int64(c.numSBB)
}

func (c *CRCache) allReset() bool {
	return checkMacro(c.db, MacroReset) == 0
}

/* transition bodies */

func (c *CRCache) setTransactionBag() error {
	c.log.Debugw("setting transaction bag", "cache", c.idx, "input_hash", c.pendingBag.InputHash)
	c.bag = c.pendingBag
	c.pendingBag = nil
	if c.sbbIdx == 0 {
		incrMacro(c.db, MacroReset)
	}
	return nil
}

// executeTransactions runs the first pass against the master driver without
// committing, then moves the captures into the common-layer overlay so that
// conflict resolution and rerun read through common.
func (c *CRCache) executeTransactions() error {
	c.log.Debugw("executing transactions", "cache", c.idx, "txs", len(c.bag.Transactions))
	c.results = c.executor.ExecuteBag(c.bag, c.bag.Environment, c.masterDB)

	mk, cm, ov := c.masterDB.Captures()
	c.db.Transplant(mk, cm, ov)
	c.masterDB.ResetCache()

	incrMacro(c.db, MacroExecution)
	return nil
}

// prepareReruns finds all keys whose originally observed value no longer
// matches the store, cascading from common to master: if the key does not
// exist in common, check master, since another cache may have merged since
// this one executed.
func (c *CRCache) prepareReruns() {
	var hits []string
	for key, value := range c.db.OriginalValues() {
		commonValue := c.db.GetDirect(key)
		if commonValue != nil {
			if !bytes.Equal(commonValue, value) {
				hits = append(hits, key)
			}
		} else {
			masterValue := c.masterDB.GetDirect(key)
			if !bytes.Equal(masterValue, value) {
				hits = append(hits, key)
			}
		}
	}

	// the lowest contract index among the conflicted modified keys is where
	// the rerun starts; everything after it is re-executed
	if len(hits) > 0 {
		c.rerunIdx = rerunUnbounded
		modified := c.db.ModifiedKeys()
		for _, key := range hits {
			if e, ok := modified[key]; ok && e.Idx < c.rerunIdx {
				c.rerunIdx = e.Idx
			}
		}
	}
}

func (c *CRCache) requiresReruns() bool {
	return c.rerunIdx >= 0
}

func (c *CRCache) rerunTransactions() {
	c.log.Debugw("rerunning transactions", "cache", c.idx, "rerun_idx", c.rerunIdx)
	c.db.Revert(c.rerunIdx)
	c.bag.YieldFrom(c.rerunIdx)
	for txIdx, result := range c.executor.ExecuteBag(c.bag, c.bag.Environment, c.db) {
		c.results[txIdx] = result
	}
}

func (c *CRCache) resolveConflicts() error {
	c.prepareReruns()
	if c.requiresReruns() {
		c.rerunTransactions()
	}
	return nil
}

// mergeToCommon delivers the sub-block data to the completion handler,
// commits the overlay into the common layer and passes the CR turn token
// to the next builder. The handler runs before the increment so builder
// k+1 cannot start conflict resolution before builder k's data is out.
func (c *CRCache) mergeToCommon() error {
	data, err := AssembleSBData(c.bag, c.results, c.db.ContractModifications())
	if err != nil {
		c.log.Errorw("discarding cache on result mismatch", "cache", c.idx, "err", err)
		return err
	}
	if c.bag.CompletionHandler != nil {
		c.bag.CompletionHandler(data)
	}
	c.db.Commit()
	incrMacro(c.db, MacroConflictResolution)
	return nil
}

// mergeToMaster promotes every non-macro key of the common layer into the
// master store. Only builder 0 touches master.
func (c *CRCache) mergeToMaster() error {
	if c.sbbIdx != 0 {
		return nil
	}
	c.log.Debugw("merging to master", "cache", c.idx)
	for _, key := range c.db.Keys() {
		if IsMacro(key) {
			continue
		}
		c.masterDB.Set(key, c.db.Get(key))
	}
	c.masterDB.Commit()
	return nil
}

// resetDBs clears all per-epoch state. Builder 0 additionally flushes the
// shared common layer and rewinds the macros, which is what releases the
// cohort out of RESET.
func (c *CRCache) resetDBs() error {
	c.db.ResetCache()
	c.masterDB.ResetCache()
	c.rerunIdx = -1
	c.bag = nil
	c.results = nil

	if c.sbbIdx == 0 {
		c.log.Debugw("flushing common layer", "cache", c.idx)
		c.db.Flush()
		resetMacros(c.db)
	}
	return nil
}
