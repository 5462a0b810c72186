// Copyright 2015 The go-ethereum Authors
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

type executionFunc func(pc *uint64, m *Machine, h Handler) (Action, error)

type operation struct {
	// execute is the operation function
	execute executionFunc
	// minStack tells how many stack items are required
	minStack int
	// maxStack specifies the max length the stack can have for this operation
	// to not overflow the stack.
	maxStack int
}

// JumpTable contains the machine opcodes.
type JumpTable [256]*operation

var instructionSet = newInstructionSet()

func minStack(pops, push int) int {
	return pops
}

func maxStack(pop, push int) int {
	return stackLimit + pop - push
}

func op(execute executionFunc, pops, push int) *operation {
	return &operation{
		execute:  execute,
		minStack: minStack(pops, push),
		maxStack: maxStack(pops, push),
	}
}

// newInstructionSet returns the supported instructions. Gas and access list
// opcodes are priced per step by the driver, so there is a single set.
func newInstructionSet() JumpTable {
	tbl := JumpTable{
		vm.STOP:           op(opStop, 0, 0),
		vm.ADD:            op(opAdd, 2, 1),
		vm.MUL:            op(opMul, 2, 1),
		vm.SUB:            op(opSub, 2, 1),
		vm.DIV:            op(opDiv, 2, 1),
		vm.SDIV:           op(opSdiv, 2, 1),
		vm.MOD:            op(opMod, 2, 1),
		vm.SMOD:           op(opSmod, 2, 1),
		vm.ADDMOD:         op(opAddmod, 3, 1),
		vm.MULMOD:         op(opMulmod, 3, 1),
		vm.EXP:            op(opExp, 2, 1),
		vm.SIGNEXTEND:     op(opSignExtend, 2, 1),
		vm.LT:             op(opLt, 2, 1),
		vm.GT:             op(opGt, 2, 1),
		vm.SLT:            op(opSlt, 2, 1),
		vm.SGT:            op(opSgt, 2, 1),
		vm.EQ:             op(opEq, 2, 1),
		vm.ISZERO:         op(opIszero, 1, 1),
		vm.AND:            op(opAnd, 2, 1),
		vm.XOR:            op(opXor, 2, 1),
		vm.OR:             op(opOr, 2, 1),
		vm.NOT:            op(opNot, 1, 1),
		vm.BYTE:           op(opByte, 2, 1),
		vm.SHL:            op(opSHL, 2, 1),
		vm.SHR:            op(opSHR, 2, 1),
		vm.SAR:            op(opSAR, 2, 1),
		vm.KECCAK256:      op(opKeccak256, 2, 1),
		vm.ADDRESS:        op(opAddress, 0, 1),
		vm.BALANCE:        op(opBalance, 1, 1),
		vm.ORIGIN:         op(opOrigin, 0, 1),
		vm.CALLER:         op(opCaller, 0, 1),
		vm.CALLVALUE:      op(opCallValue, 0, 1),
		vm.CALLDATALOAD:   op(opCallDataLoad, 1, 1),
		vm.CALLDATASIZE:   op(opCallDataSize, 0, 1),
		vm.CALLDATACOPY:   op(opCallDataCopy, 3, 0),
		vm.CODESIZE:       op(opCodeSize, 0, 1),
		vm.CODECOPY:       op(opCodeCopy, 3, 0),
		vm.GASPRICE:       op(opGasprice, 0, 1),
		vm.EXTCODESIZE:    op(opExtCodeSize, 1, 1),
		vm.EXTCODECOPY:    op(opExtCodeCopy, 4, 0),
		vm.RETURNDATASIZE: op(opReturnDataSize, 0, 1),
		vm.RETURNDATACOPY: op(opReturnDataCopy, 3, 0),
		vm.EXTCODEHASH:    op(opExtCodeHash, 1, 1),
		vm.BLOCKHASH:      op(opBlockhash, 1, 1),
		vm.COINBASE:       op(opCoinbase, 0, 1),
		vm.TIMESTAMP:      op(opTimestamp, 0, 1),
		vm.NUMBER:         op(opNumber, 0, 1),
		vm.DIFFICULTY:     op(opDifficulty, 0, 1),
		vm.GASLIMIT:       op(opGasLimit, 0, 1),
		vm.CHAINID:        op(opChainID, 0, 1),
		vm.SELFBALANCE:    op(opSelfBalance, 0, 1),
		vm.BASEFEE:        op(opBaseFee, 0, 1),
		vm.POP:            op(opPop, 1, 0),
		vm.MLOAD:          op(opMload, 1, 1),
		vm.MSTORE:         op(opMstore, 2, 0),
		vm.MSTORE8:        op(opMstore8, 2, 0),
		vm.SLOAD:          op(opSload, 1, 1),
		vm.SSTORE:         op(opSstore, 2, 0),
		vm.JUMP:           op(opJump, 1, 0),
		vm.JUMPI:          op(opJumpi, 2, 0),
		vm.PC:             op(opPc, 0, 1),
		vm.MSIZE:          op(opMsize, 0, 1),
		vm.GAS:            op(opGas, 0, 1),
		vm.JUMPDEST:       op(opJumpdest, 0, 0),
		vm.PUSH0:          op(opPush0, 0, 1),
		vm.CREATE:         op(opCreate, 3, 1),
		vm.CALL:           op(opCall, 7, 1),
		vm.CALLCODE:       op(opNotSupported, 7, 1),
		vm.RETURN:         op(opReturn, 2, 0),
		vm.DELEGATECALL:   op(opNotSupported, 6, 1),
		vm.CREATE2:        op(opCreate2, 4, 1),
		vm.STATICCALL:     op(opStaticCall, 6, 1),
		vm.REVERT:         op(opRevert, 2, 0),
		vm.SELFDESTRUCT:   op(opSelfdestruct, 1, 0),
	}
	for i := 0; i < 32; i++ {
		tbl[int(vm.PUSH1)+i] = op(makePush(uint64(i+1)), 0, 1)
	}
	for i := 0; i < 16; i++ {
		tbl[int(vm.DUP1)+i] = op(makeDup(i+1), i+1, i+2)
		tbl[int(vm.SWAP1)+i] = op(makeSwap(i+1), i+2, i+2)
	}
	for i := 0; i < 5; i++ {
		tbl[int(vm.LOG0)+i] = op(makeLog(i), i+2, 0)
	}
	// Fill all unassigned slots with opUndefined.
	for i, entry := range tbl {
		if entry == nil {
			tbl[i] = &operation{execute: opUndefined, maxStack: maxStack(0, 0)}
		}
	}
	return tbl
}
