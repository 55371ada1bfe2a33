package cr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/launix-de/crcache/kv"
)

// a builder whose peers never commit runs into the commit deadline and is
// discarded instead of waiting forever
func TestCommitTimeoutDiscards(t *testing.T) {
	co := newCohort(t, 2)
	Settings.CommitTimeoutMs = 100

	var delivered atomic.Bool
	bag := NewTransactionBag([]Transaction{tx("kv_set", "a", "1")}, nil, hash0, func(*SBData) { delivered.Store(true) })
	if _, err := co.scheds[0].Assign(bag); err != nil {
		t.Fatal(err)
	}

	// builder 1 never gets a bag, so CONFLICT_RESOLUTION never reaches 2
	waitForState(t, co.caches[0], StateClean, 5*time.Second)

	if !delivered.Load() {
		t.Error("sub-block data is delivered at commit, before the timeout")
	}
	if got := masterValue(t, co, "a"); got != "" {
		t.Errorf("timed-out epoch leaked into master: a=%q", got)
	}
}

// with two bags on one scheduler, the younger cache may execute in parallel
// but must not enter conflict resolution before the older one is done
func TestTopOfStackOrdering(t *testing.T) {
	Settings.PollIntervalMs = 1
	Settings.CommitTimeoutMs = 2000

	registry := NewRegistry()
	RegisterBuiltins(registry)
	exec := NewRegistryExecutor(registry)

	master := kv.NewStore()
	sched := NewFSMScheduler()
	defer sched.Stop()
	older := NewCRCache(0, 0, 1, kv.NewStore(), master, exec, sched)
	younger := NewCRCache(1, 0, 1, kv.NewStore(), master, exec, sched)

	bagA := NewTransactionBag([]Transaction{tx("kv_set", "a", "1")}, nil, hash0, nil)
	bagB := NewTransactionBag([]Transaction{tx("kv_set", "b", "2")}, nil, hash1, nil)
	if _, err := sched.Assign(bagA); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Assign(bagB); err != nil {
		t.Fatal(err)
	}

	waitForState(t, older, StateReadyToMerge, 5*time.Second)
	// the younger cache executed but is held at the stack boundary
	time.Sleep(50 * time.Millisecond)
	if got := younger.State(); got != StateExecuted {
		t.Fatalf("younger cache advanced to %s behind the older one", got)
	}

	if err := sched.Merge(hash0); err != nil {
		t.Fatal(err)
	}
	waitForState(t, older, StateClean, 5*time.Second)

	// now the younger cache is top of stack and may proceed
	waitForState(t, younger, StateReadyToMerge, 5*time.Second)
	if err := sched.Merge(hash1); err != nil {
		t.Fatal(err)
	}
	waitForState(t, younger, StateClean, 5*time.Second)

	if v, _ := master.Get("a"); string(v) != "1" {
		t.Errorf("a = %q", v)
	}
	if v, _ := master.Get("b"); string(v) != "2" {
		t.Errorf("b = %q", v)
	}
}

func TestAssignExhaustsPool(t *testing.T) {
	co := newCohort(t, 1)
	bag := NewTransactionBag([]Transaction{tx("kv_set", "a", "1")}, nil, hash0, nil)
	if _, err := co.scheds[0].Assign(bag); err != nil {
		t.Fatal(err)
	}
	other := NewTransactionBag([]Transaction{tx("kv_set", "b", "2")}, nil, hash1, nil)
	if _, err := co.scheds[0].Assign(other); err != ErrNoCleanCache {
		t.Errorf("expected ErrNoCleanCache, got %v", err)
	}
}

func TestMergeUnknownHash(t *testing.T) {
	co := newCohort(t, 1)
	if err := co.scheds[0].Merge(hash2); err == nil {
		t.Error("merge of an unknown bag must fail")
	}
}
