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
	"fmt"
	"sort"
)

// ExecutionData is the per-transaction record inside a sub-block: the
// transaction itself, its status, the contract response, the JSON-encoded
// state delta and the stamps charged.
type ExecutionData struct {
	Contract Transaction `json:"contract"`
	Status   int         `json:"status"`
	Response []byte      `json:"response"`
	State    string      `json:"state"`
	Stamps   int64       `json:"stamps"`
}

// SBData is what the completion handler receives: the bag's input hash and
// one ExecutionData per transaction, ordered by transaction index.
type SBData struct {
	InputHash string          `json:"input_hash"`
	TxData    []ExecutionData `json:"tx_data"`
}

// AssembleSBData builds the sub-block data from the execution results and
// the driver's per-contract modifications. Only successful transactions
// consume a modifications entry; failed ones get an empty state string. A
// result count that does not match the bag is an error — the caller
// discards the cache and emits nothing.
func AssembleSBData(bag *TransactionBag, results map[int]ExecResult, contractMods []map[string][]byte) (*SBData, error) {
	if len(results) != len(bag.Transactions) {
		return nil, fmt.Errorf("state mismatch: %d results but bag has %d transactions",
			len(results), len(bag.Transactions))
	}

	txIdxs := make([]int, 0, len(results))
	for txIdx := range results {
		txIdxs = append(txIdxs, txIdx)
	}
	sort.Ints(txIdxs)

	txData := make([]ExecutionData, 0, len(txIdxs))
	i := 0
	for _, txIdx := range txIdxs {
		result := results[txIdx]
		state := ""
		if result.Status == StatusSuccess && i < len(contractMods) {
			state = encodeState(contractMods[i])
			i++
		}
		txData = append(txData, ExecutionData{
			Contract: bag.Transactions[txIdx],
			Status:   result.Status,
			Response: result.Response,
			State:    state,
			Stamps:   result.Stamps,
		})
	}
	return &SBData{InputHash: bag.InputHash, TxData: txData}, nil
}

// encodeState renders one contract's key/value writes as JSON. Map keys are
// emitted in sorted order, so the encoding is deterministic.
func encodeState(mods map[string][]byte) string {
	plain := make(map[string]string, len(mods))
	for k, v := range mods {
		plain[k] = string(v)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return ""
	}
	return string(raw)
}
