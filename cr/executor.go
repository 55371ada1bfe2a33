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
	"fmt"
	"strconv"

	"github.com/launix-de/NonLockingReadMap"

	"github.com/launix-de/crcache/kv"
)

// execution result status codes; 0 means success and implies a
// corresponding entry in the driver's contract modifications
const (
	StatusSuccess         = 0
	StatusError           = 1
	StatusUnknownContract = 2
)

// ExecResult is the outcome of one transaction.
type ExecResult struct {
	Status   int
	Response []byte
	Stamps   int64
}

// Executor runs a bag's pending transactions against a driver. The side
// effect of a run is the driver's capture state (original values, modified
// keys, per-contract modifications), which the cache later resolves against
// its siblings.
type Executor interface {
	ExecuteBag(bag *TransactionBag, environment map[string]string, driver kv.Driver) map[int]ExecResult
}

// ExecContext is the execution context threaded explicitly into every
// contract call: who signed, who is calling, which contract is running.
type ExecContext struct {
	Caller      string
	This        string
	Signer      string
	Function    string
	Environment map[string]string
}

// ContractFn is a compiled contract entry point.
type ContractFn func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error)

// ContractDeclaration describes a contract for the registry.
type ContractDeclaration struct {
	Name      string
	Desc      string
	StampCost int64
	Fn        ContractFn
}

// ContractEntry is the registry's stored form of a declaration.
type ContractEntry struct {
	Name      string
	StampCost int64
	Fn        ContractFn
}

func (e ContractEntry) GetKey() string { return e.Name }
func (e ContractEntry) ComputeSize() uint {
	return uint(len(e.Name)) + 32
}

// Registry maps contract names to compiled entry points. Lookups happen on
// every transaction while deploys are rare, so it sits on a non-locking
// read-optimized map. It replaces any process-wide module cache: each
// executor gets its registry passed in explicitly.
type Registry struct {
	m NonLockingReadMap.NonLockingReadMap[ContractEntry, string]
}

func NewRegistry() *Registry {
	return &Registry{m: NonLockingReadMap.New[ContractEntry, string]()}
}

// Declare registers (or replaces) a contract.
func (r *Registry) Declare(d *ContractDeclaration) {
	entry := ContractEntry{Name: d.Name, StampCost: d.StampCost, Fn: d.Fn}
	r.m.Set(&entry)
}

func (r *Registry) Get(name string) *ContractEntry {
	return r.m.Get(name)
}

// RegistryExecutor executes transactions by dispatching into a contract
// registry. Contract panics are recovered into per-transaction error
// results; they never abort the bag.
type RegistryExecutor struct {
	Registry *Registry
}

func NewRegistryExecutor(r *Registry) *RegistryExecutor {
	return &RegistryExecutor{Registry: r}
}

func (e *RegistryExecutor) ExecuteBag(bag *TransactionBag, environment map[string]string, driver kv.Driver) map[int]ExecResult {
	pending := bag.Pending()
	results := make(map[int]ExecResult, len(pending))
	for _, tx := range pending {
		results[tx.Idx] = e.executeOne(tx, environment, driver)
	}
	return results
}

func (e *RegistryExecutor) executeOne(tx Transaction, environment map[string]string, driver kv.Driver) (res ExecResult) {
	entry := e.Registry.Get(tx.Contract)
	if entry == nil {
		return ExecResult{Status: StatusUnknownContract, Response: []byte("unknown contract: " + tx.Contract)}
	}

	driver.BeginContract(tx.Idx)
	defer func() {
		if r := recover(); r != nil {
			driver.EndContract(false)
			res = ExecResult{Status: StatusError, Response: []byte(fmt.Sprint(r)), Stamps: entry.StampCost}
		}
	}()

	ctx := &ExecContext{
		Caller:      tx.Sender,
		This:        tx.Contract,
		Signer:      tx.Sender,
		Function:    tx.Function,
		Environment: environment,
	}
	response, err := entry.Fn(ctx, driver, tx.Args)
	if err != nil {
		driver.EndContract(false)
		return ExecResult{Status: StatusError, Response: []byte(err.Error()), Stamps: entry.StampCost}
	}
	driver.EndContract(true)
	return ExecResult{Status: StatusSuccess, Response: response, Stamps: entry.StampCost}
}

// RegisterBuiltins declares the system contracts every node ships with.
func RegisterBuiltins(r *Registry) {
	r.Declare(&ContractDeclaration{
		Name:      "kv_set",
		Desc:      "Stores a value under a key. Args: key, value.",
		StampCost: 1,
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("kv_set expects key and value, got %d args", len(args))
			}
			if IsMacro(args[0]) {
				return nil, fmt.Errorf("key %s is reserved", args[0])
			}
			d.Set(args[0], []byte(args[1]))
			return []byte("ok"), nil
		},
	})
	r.Declare(&ContractDeclaration{
		Name:      "kv_get",
		Desc:      "Reads a value. Args: key. Responds with the value or empty.",
		StampCost: 1,
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("kv_get expects a key, got %d args", len(args))
			}
			return d.Get(args[0]), nil
		},
	})
	r.Declare(&ContractDeclaration{
		Name:      "kv_add",
		Desc:      "Adds a signed integer to a numeric value. Args: key, delta.",
		StampCost: 2,
		Fn: func(ctx *ExecContext, d kv.Driver, args []string) ([]byte, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("kv_add expects key and delta, got %d args", len(args))
			}
			if IsMacro(args[0]) {
				return nil, fmt.Errorf("key %s is reserved", args[0])
			}
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return nil, err
			}
			var cur int64
			if raw := d.Get(args[0]); raw != nil {
				cur, err = strconv.ParseInt(string(raw), 10, 64)
				if err != nil {
					return nil, err
				}
			}
			cur += delta
			v := []byte(strconv.FormatInt(cur, 10))
			d.Set(args[0], v)
			return v, nil
		},
	})
}
