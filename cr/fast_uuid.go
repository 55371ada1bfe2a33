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
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var uuidSeq uint64

// newUUID builds a cache identifier from the current timestamp and a
// process sequence number. Cache identities only need to be unique within
// one deployment, so crypto/rand (which can stall on entropy-starved hosts)
// is deliberately avoided; the sequence is spread with a Weyl-style multiply
// so consecutive ids differ throughout the low half.
func newUUID() uuid.UUID {
	seq := atomic.AddUint64(&uuidSeq, 1)
	var raw [16]byte
	binary.BigEndian.PutUint64(raw[0:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(raw[8:16], seq*0x9e3779b97f4a7c15)
	u := uuid.UUID(raw)
	u[6] = 0x40 | (u[6] & 0x0f) // version 4
	u[8] = 0x80 | (u[8] & 0x3f) // RFC 4122 variant
	return u
}
