// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package lock

import (
	"encoding/binary"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/thor"
)

// readers layout: [tag][count 2][holder 32 * count]
// The account only grows, count tracks the live entries.
const readersHeaderSize = 3

func readersSize(count int) int {
	return readersHeaderSize + count*32
}

type readers []byte

func (r readers) count() int {
	if len(r) < readersHeaderSize || acc.TagOf(r) != acc.TagReaders {
		return 0
	}
	return int(binary.BigEndian.Uint16(r[1:]))
}

func (r readers) holders() []thor.Bytes32 {
	n := r.count()
	out := make([]thor.Bytes32, 0, n)
	for i := 0; i < n; i++ {
		off := readersHeaderSize + i*32
		out = append(out, thor.BytesToBytes32(r[off:off+32]))
	}
	return out
}

func (r readers) index(holder thor.Bytes32) int {
	for i, h := range r.holders() {
		if h == holder {
			return i
		}
	}
	return -1
}

// encodeReaders encodes the holder list.
func encodeReaders(holders []thor.Bytes32) []byte {
	b := make([]byte, readersSize(len(holders)))
	b[0] = byte(acc.TagReaders)
	binary.BigEndian.PutUint16(b[1:], uint16(len(holders)))
	for i, h := range holders {
		copy(b[readersHeaderSize+i*32:], h[:])
	}
	return b
}
