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

import "errors"
import "fmt"

// State is one of the cache lifecycle states.
type State uint8

const (
	StateClean State = iota
	StateBagSet
	StateExecuted
	StateCRStarted
	StateReadyToCommit
	StateCommitted
	StateReadyToMerge
	StateMerged
	StateDiscarded
	StateReset
)

var stateNames = [...]string{
	"CLEAN", "BAG_SET", "EXECUTED", "CR_STARTED", "READY_TO_COMMIT",
	"COMMITTED", "READY_TO_MERGE", "MERGED", "DISCARDED", "RESET",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ErrInvalidTransition is returned when a trigger fires from a state it has
// no transition for.
var ErrInvalidTransition = errors.New("invalid transition")

// transition is one row of the static dispatch table: trigger name, legal
// source states, destination, guard conditions and the before hook. The
// before hook runs prior to the state change; returning an error leaves the
// state untouched.
type transition struct {
	trigger string
	sources []State
	dest    State
	conds   []func() bool
	before  func() error
}

// machine is a minimal finite-state machine over a static transition table.
// It is not goroutine safe; the owning cache serializes access.
type machine struct {
	state       State
	transitions []transition
}

// fire attempts the named trigger. It returns (true, nil) when the
// transition ran, (false, nil) when a guard condition rejected it, and
// (false, err) when the trigger is illegal in the current state or the
// before hook failed.
func (m *machine) fire(trigger string) (bool, error) {
	for i := range m.transitions {
		t := &m.transitions[i]
		if t.trigger != trigger {
			continue
		}
		for _, src := range t.sources {
			if src != m.state {
				continue
			}
			for _, cond := range t.conds {
				if !cond() {
					return false, nil
				}
			}
			if t.before != nil {
				if err := t.before(); err != nil {
					return false, err
				}
			}
			m.state = t.dest
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.state)
}
