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

// Transaction is one unit of work inside a bag. The cache treats it as an
// opaque payload; only the executor interprets the fields.
type Transaction struct {
	Idx      int      `json:"idx"`
	Sender   string   `json:"sender"`
	Contract string   `json:"contract"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// TransactionBag is an ordered batch of transactions processed atomically
// by one cache, together with the execution environment and the input hash
// identifying the batch. The completion handler receives the assembled
// sub-block data during the commit step, just before the bag's writes are
// committed to the common layer.
type TransactionBag struct {
	Transactions      []Transaction
	Environment       map[string]string
	InputHash         string // 64-char hex identifying the bag
	CompletionHandler func(*SBData)

	cursor int
}

func NewTransactionBag(txs []Transaction, environment map[string]string, inputHash string, handler func(*SBData)) *TransactionBag {
	for i := range txs {
		txs[i].Idx = i
	}
	return &TransactionBag{
		Transactions:      txs,
		Environment:       environment,
		InputHash:         inputHash,
		CompletionHandler: handler,
	}
}

// YieldFrom positions the bag so that Pending exposes the suffix [idx, end).
func (b *TransactionBag) YieldFrom(idx int) []Transaction {
	if idx > len(b.Transactions) {
		idx = len(b.Transactions)
	}
	b.cursor = idx
	return b.Transactions[idx:]
}

// Pending returns the transactions from the current cursor to the end.
func (b *TransactionBag) Pending() []Transaction {
	return b.Transactions[b.cursor:]
}
