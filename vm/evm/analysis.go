// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package evm

import (
	"github.com/ethereum/go-ethereum/core/vm"
)

// Bitvec is a bit vector which maps bytes in a program.
// An unset bit means the byte is an opcode, a set bit means
// it's data (i.e. argument of PUSHxx).
type Bitvec []byte

func (bits Bitvec) set1(pos uint64) {
	bits[pos/8] |= 1 << (pos % 8)
}

func (bits Bitvec) setN(flag uint16, pos uint64) {
	a := flag << (pos % 8)
	bits[pos/8] |= byte(a)
	if b := byte(a >> 8); b != 0 {
		bits[pos/8+1] = b
	}
}

// codeSegment checks if the position is in a code segment.
func (bits Bitvec) codeSegment(pos uint64) bool {
	return ((bits[pos/8] >> (pos % 8)) & 1) == 0
}

// Analyze returns the code bitmap of the program.
func Analyze(code []byte) Bitvec {
	// The bitmap is 4 bytes longer than necessary, in case the code
	// ends with a PUSH32, the algorithm will set bits on the
	// bitvector outside the bounds of the actual code.
	bits := make(Bitvec, len(code)/8+1+4)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := vm.OpCode(code[pc])
		pc++
		if op < vm.PUSH1 || op > vm.PUSH32 {
			continue
		}
		numbits := uint64(op - vm.PUSH1 + 1)
		for ; numbits >= 8; numbits -= 8 {
			bits.setN(0xff, pc)
			pc += 8
		}
		for ; numbits > 0; numbits-- {
			bits.set1(pc)
			pc++
		}
	}
	return bits
}

// ValidJump returns whether dest is a JUMPDEST opcode of the code.
func (bits Bitvec) ValidJump(code []byte, dest uint64) bool {
	if dest >= uint64(len(code)) || vm.OpCode(code[dest]) != vm.JUMPDEST {
		return false
	}
	return bits.codeSegment(dest)
}
