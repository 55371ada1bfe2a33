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

import "strconv"
import "github.com/launix-de/crcache/kv"

// Macros are shared integer counters in the common layer used as barriers
// and turn tokens across the cohort. The key names are reserved; user
// contracts may not write them.
const (
	MacroExecution          = "_execution_phase"
	MacroConflictResolution = "_conflict_resolution_phase"
	MacroReset              = "_reset_phase"
)

var allMacros = [...]string{MacroExecution, MacroConflictResolution, MacroReset}

// IsMacro reports whether key is one of the reserved macro keys.
func IsMacro(key string) bool {
	for _, m := range allMacros {
		if key == m {
			return true
		}
	}
	return false
}

func incrMacro(d kv.Driver, macro string) {
	d.IncrBy(macro, 1)
}

// checkMacro reads a macro counter; an absent counter reads as -1.
func checkMacro(d kv.Driver, macro string) int64 {
	raw := d.GetDirect(macro)
	if raw == nil {
		return -1
	}
	v, _ := strconv.ParseInt(string(raw), 10, 64)
	return v
}

func resetMacros(d kv.Driver) {
	for _, macro := range allMacros {
		d.SetDirect(macro, []byte("0"))
	}
}
