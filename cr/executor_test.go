package cr

import (
	"errors"
	"testing"

	"github.com/launix-de/crcache/kv"
)

func execDriver() *kv.CacheDriver {
	return kv.NewCacheDriver(kv.NewStore(), nil)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	if r.Get("kv_set") == nil || r.Get("kv_get") == nil || r.Get("kv_add") == nil {
		t.Fatal("builtins missing from registry")
	}
	if r.Get("nope") != nil {
		t.Error("unknown contract resolved")
	}

	// redeclare replaces
	r.Declare(&ContractDeclaration{Name: "kv_set", StampCost: 42, Fn: r.Get("kv_set").Fn})
	if r.Get("kv_set").StampCost != 42 {
		t.Error("redeclare did not replace the entry")
	}
}

func TestExecuteBagSuccess(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	e := NewRegistryExecutor(r)
	d := execDriver()

	bag := NewTransactionBag([]Transaction{
		tx("kv_set", "a", "1"),
		tx("kv_add", "a", "4"),
	}, nil, hash0, nil)
	results := e.ExecuteBag(bag, nil, d)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for idx, res := range results {
		if res.Status != StatusSuccess {
			t.Errorf("tx %d status %d: %s", idx, res.Status, res.Response)
		}
	}
	if string(results[1].Response) != "5" {
		t.Errorf("kv_add response = %q", results[1].Response)
	}
	if len(d.ContractModifications()) != 2 {
		t.Errorf("expected one modification entry per successful tx, got %d", len(d.ContractModifications()))
	}
	if v := d.Get("a"); string(v) != "5" {
		t.Errorf("a = %q", v)
	}
}

func TestExecuteBagUnknownContract(t *testing.T) {
	r := NewRegistry()
	e := NewRegistryExecutor(r)
	d := execDriver()

	bag := NewTransactionBag([]Transaction{tx("missing")}, nil, hash0, nil)
	results := e.ExecuteBag(bag, nil, d)
	if results[0].Status != StatusUnknownContract {
		t.Errorf("status = %d", results[0].Status)
	}
	if len(d.ContractModifications()) != 0 {
		t.Error("failed tx left a modification entry")
	}
}

func TestExecuteBagRecoversPanic(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	r.Declare(&ContractDeclaration{
		Name:      "boom",
		StampCost: 1,
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			d.Set("partial", []byte("x"))
			panic("contract exploded")
		},
	})
	e := NewRegistryExecutor(r)
	d := execDriver()

	bag := NewTransactionBag([]Transaction{
		tx("kv_set", "a", "1"),
		tx("boom"),
		tx("kv_set", "b", "2"),
	}, nil, hash0, nil)
	results := e.ExecuteBag(bag, nil, d)

	if results[1].Status != StatusError {
		t.Errorf("panic status = %d", results[1].Status)
	}
	if string(results[1].Response) != "contract exploded" {
		t.Errorf("panic response = %q", results[1].Response)
	}
	// the bag keeps going and the failed contract's writes are rolled back
	if results[2].Status != StatusSuccess {
		t.Error("panic aborted the rest of the bag")
	}
	if d.Get("partial") != nil {
		t.Error("panicking contract's write survived")
	}
	if len(d.ContractModifications()) != 2 {
		t.Errorf("expected 2 modification entries, got %d", len(d.ContractModifications()))
	}
}

func TestExecuteBagContractError(t *testing.T) {
	r := NewRegistry()
	r.Declare(&ContractDeclaration{
		Name:      "refuse",
		StampCost: 3,
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			return nil, errors.New("not today")
		},
	})
	e := NewRegistryExecutor(r)
	d := execDriver()

	bag := NewTransactionBag([]Transaction{tx("refuse")}, nil, hash0, nil)
	results := e.ExecuteBag(bag, nil, d)
	if results[0].Status != StatusError || string(results[0].Response) != "not today" {
		t.Errorf("got status=%d response=%q", results[0].Status, results[0].Response)
	}
	if results[0].Stamps != 3 {
		t.Errorf("stamps = %d, failed contracts are still charged", results[0].Stamps)
	}
}

func TestExecContextThreading(t *testing.T) {
	r := NewRegistry()
	var seen ExecContext
	r.Declare(&ContractDeclaration{
		Name: "probe",
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			seen = *ctx
			return nil, nil
		},
	})
	e := NewRegistryExecutor(r)

	env := map[string]string{"block_num": "7"}
	bag := NewTransactionBag([]Transaction{{Sender: "alice", Contract: "probe", Function: "run"}}, env, hash0, nil)
	e.ExecuteBag(bag, env, execDriver())

	if seen.Caller != "alice" || seen.Signer != "alice" || seen.This != "probe" || seen.Function != "run" {
		t.Errorf("context not threaded: %+v", seen)
	}
	if seen.Environment["block_num"] != "7" {
		t.Error("environment not threaded")
	}
}

func TestMacroKeysReserved(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	e := NewRegistryExecutor(r)
	d := execDriver()

	bag := NewTransactionBag([]Transaction{tx("kv_set", MacroConflictResolution, "9")}, nil, hash0, nil)
	results := e.ExecuteBag(bag, nil, d)
	if results[0].Status != StatusError {
		t.Errorf("writing a macro key must fail, got status %d", results[0].Status)
	}
	if d.Get(MacroConflictResolution) != nil {
		t.Error("macro key was written")
	}
}
