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
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/thor"
)

func exit(reason ExitReason) (Action, error) {
	return &Exit{Reason: reason}, nil
}

// handlerError turns a static mode violation into a frame exit, other errors abort the run.
func handlerError(err error) (Action, error) {
	if errors.Is(err, ErrStaticModeViolation) {
		return exit(ExitStaticModeViolation)
	}
	return nil, err
}

// getData returns a slice from the data based on the start and size and pads
// up to size with zero's.
func getData(data []byte, start uint64, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length || end < start {
		end = length
	}
	return common.RightPadBytes(data[start:end], int(size))
}

func opAdd(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opSub(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opMul(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

func opDiv(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opExp(pc *uint64, m *Machine, h Handler) (Action, error) {
	base, exponent := m.stack.pop(), m.stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func opSignExtend(pc *uint64, m *Machine, h Handler) (Action, error) {
	back, num := m.stack.pop(), m.stack.peek()
	num.ExtendSign(num, &back)
	return nil, nil
}

func opNot(pc *uint64, m *Machine, h Handler) (Action, error) {
	x := m.stack.peek()
	x.Not(x)
	return nil, nil
}

func opLt(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opGt(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSlt(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSgt(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opEq(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opIszero(pc *uint64, m *Machine, h Handler) (Action, error) {
	x := m.stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil, nil
}

func opAnd(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y := m.stack.pop(), m.stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opByte(pc *uint64, m *Machine, h Handler) (Action, error) {
	th, val := m.stack.pop(), m.stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opAddmod(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	z.AddMod(&x, &y, z)
	return nil, nil
}

func opMulmod(pc *uint64, m *Machine, h Handler) (Action, error) {
	x, y, z := m.stack.pop(), m.stack.pop(), m.stack.peek()
	z.MulMod(&x, &y, z)
	return nil, nil
}

// opSHL implements Shift Left
// The SHL instruction (shift left) pops 2 values from the stack, first arg1 and then arg2,
// and pushes on the stack arg2 shifted to the left by arg1 number of bits.
func opSHL(pc *uint64, m *Machine, h Handler) (Action, error) {
	// Note, second operand is left in the stack; accumulate result into it, and no need to push it afterwards
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Lsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

// opSHR implements Logical Shift Right
func opSHR(pc *uint64, m *Machine, h Handler) (Action, error) {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.LtUint64(256) {
		value.Rsh(value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	return nil, nil
}

// opSAR implements Arithmetic Shift Right
func opSAR(pc *uint64, m *Machine, h Handler) (Action, error) {
	shift, value := m.stack.pop(), m.stack.peek()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			// Max negative shift: all bits set
			value.SetAllOne()
		}
		return nil, nil
	}
	n := uint(shift.Uint64())
	value.SRsh(value, n)
	return nil, nil
}

func opKeccak256(pc *uint64, m *Machine, h Handler) (Action, error) {
	offset, size := m.stack.pop(), m.stack.peek()
	off, n, ok := m.memory.expand(&offset, size)
	if !ok {
		return exit(ExitInvalidRange)
	}
	hash := thor.Keccak256(m.memory.GetPtr(off, n))
	size.SetBytes(hash[:])
	return nil, nil
}

func opAddress(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetBytes(m.ctx.Address[:]))
	return nil, nil
}

func opBalance(pc *uint64, m *Machine, h Handler) (Action, error) {
	slot := m.stack.peek()
	balance, err := h.Balance(thor.Address(slot.Bytes20()))
	if err != nil {
		return nil, err
	}
	slot.Set(balance)
	return nil, nil
}

func opOrigin(pc *uint64, m *Machine, h Handler) (Action, error) {
	origin := h.Origin()
	m.stack.push(new(uint256.Int).SetBytes(origin[:]))
	return nil, nil
}

func opCaller(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetBytes(m.ctx.Caller[:]))
	return nil, nil
}

func opCallValue(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).Set(m.ctx.Value))
	return nil, nil
}

func opCallDataLoad(pc *uint64, m *Machine, h Handler) (Action, error) {
	x := m.stack.peek()
	if offset, overflow := x.Uint64WithOverflow(); !overflow {
		data := getData(m.input, offset, 32)
		x.SetBytes(data)
	} else {
		x.Clear()
	}
	return nil, nil
}

func opCallDataSize(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.input))))
	return nil, nil
}

// copyToMemory implements the CALLDATACOPY/CODECOPY family with zero padding.
func copyToMemory(m *Machine, src []byte, memOffset, dataOffset, length *uint256.Int) (Action, error) {
	off, n, ok := m.memory.expand(memOffset, length)
	if !ok {
		return exit(ExitInvalidRange)
	}
	dataOffset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		dataOffset64 = math.MaxUint64
	}
	m.memory.Set(off, n, getData(src, dataOffset64, n))
	return nil, nil
}

func opCallDataCopy(pc *uint64, m *Machine, h Handler) (Action, error) {
	memOffset, dataOffset, length := m.stack.pop(), m.stack.pop(), m.stack.pop()
	return copyToMemory(m, m.input, &memOffset, &dataOffset, &length)
}

func opReturnDataSize(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.returnData))))
	return nil, nil
}

func opReturnDataCopy(pc *uint64, m *Machine, h Handler) (Action, error) {
	memOffset, dataOffset, length := m.stack.pop(), m.stack.pop(), m.stack.pop()

	offset64, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return exit(ExitInvalidRange)
	}
	// we can reuse dataOffset now (aliasing it for clarity)
	end := dataOffset
	end.Add(&dataOffset, &length)
	end64, overflow := end.Uint64WithOverflow()
	if overflow || uint64(len(m.returnData)) < end64 {
		return exit(ExitInvalidRange)
	}
	off, n, ok := m.memory.expand(&memOffset, &length)
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.memory.Set(off, n, m.returnData[offset64:end64])
	return nil, nil
}

func opCodeSize(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(len(m.code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, m *Machine, h Handler) (Action, error) {
	memOffset, codeOffset, length := m.stack.pop(), m.stack.pop(), m.stack.pop()
	return copyToMemory(m, m.code, &memOffset, &codeOffset, &length)
}

func opExtCodeSize(pc *uint64, m *Machine, h Handler) (Action, error) {
	slot := m.stack.peek()
	size, err := h.CodeSize(thor.Address(slot.Bytes20()))
	if err != nil {
		return nil, err
	}
	slot.SetUint64(uint64(size))
	return nil, nil
}

func opExtCodeCopy(pc *uint64, m *Machine, h Handler) (Action, error) {
	a := m.stack.pop()
	memOffset, codeOffset, length := m.stack.pop(), m.stack.pop(), m.stack.pop()
	code, err := h.Code(thor.Address(a.Bytes20()))
	if err != nil {
		return nil, err
	}
	return copyToMemory(m, code, &memOffset, &codeOffset, &length)
}

func opExtCodeHash(pc *uint64, m *Machine, h Handler) (Action, error) {
	slot := m.stack.peek()
	hash, err := h.CodeHash(thor.Address(slot.Bytes20()))
	if err != nil {
		return nil, err
	}
	slot.SetBytes(hash[:])
	return nil, nil
}

func opGasprice(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).Set(h.GasPrice()))
	return nil, nil
}

func opBlockhash(pc *uint64, m *Machine, h Handler) (Action, error) {
	num := m.stack.peek()
	num64, overflow := num.Uint64WithOverflow()
	if overflow {
		num.Clear()
		return nil, nil
	}
	hash := h.BlockHash(num64)
	num.SetBytes(hash[:])
	return nil, nil
}

func opCoinbase(pc *uint64, m *Machine, h Handler) (Action, error) {
	coinbase := h.Coinbase()
	m.stack.push(new(uint256.Int).SetBytes(coinbase[:]))
	return nil, nil
}

func opTimestamp(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(h.Timestamp()))
	return nil, nil
}

func opNumber(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(h.Number()))
	return nil, nil
}

func opDifficulty(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int))
	return nil, nil
}

func opGasLimit(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(h.GasLimit()))
	return nil, nil
}

func opChainID(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(h.ChainID()))
	return nil, nil
}

func opSelfBalance(pc *uint64, m *Machine, h Handler) (Action, error) {
	balance, err := h.Balance(m.ctx.Address)
	if err != nil {
		return nil, err
	}
	m.stack.push(new(uint256.Int).Set(balance))
	return nil, nil
}

func opBaseFee(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int))
	return nil, nil
}

func opPop(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.pop()
	return nil, nil
}

func opMload(pc *uint64, m *Machine, h Handler) (Action, error) {
	v := m.stack.peek()
	off, _, ok := m.memory.expand(v, uint256.NewInt(32))
	if !ok {
		return exit(ExitInvalidRange)
	}
	v.SetBytes(m.memory.GetPtr(off, 32))
	return nil, nil
}

func opMstore(pc *uint64, m *Machine, h Handler) (Action, error) {
	mStart, val := m.stack.pop(), m.stack.pop()
	off, _, ok := m.memory.expand(&mStart, uint256.NewInt(32))
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.memory.Set32(off, &val)
	return nil, nil
}

func opMstore8(pc *uint64, m *Machine, h Handler) (Action, error) {
	off, val := m.stack.pop(), m.stack.pop()
	off64, _, ok := m.memory.expand(&off, uint256.NewInt(1))
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.memory.store[off64] = byte(val.Uint64())
	return nil, nil
}

func opSload(pc *uint64, m *Machine, h Handler) (Action, error) {
	loc := m.stack.peek()
	val, err := h.Storage(m.ctx.Address, thor.Bytes32(loc.Bytes32()))
	if err != nil {
		return nil, err
	}
	loc.SetBytes(val[:])
	return nil, nil
}

func opSstore(pc *uint64, m *Machine, h Handler) (Action, error) {
	loc, val := m.stack.pop(), m.stack.pop()
	if err := h.SetStorage(m.ctx.Address, thor.Bytes32(loc.Bytes32()), thor.Bytes32(val.Bytes32())); err != nil {
		return handlerError(err)
	}
	return nil, nil
}

func opJump(pc *uint64, m *Machine, h Handler) (Action, error) {
	pos := m.stack.pop()
	if !pos.IsUint64() || !m.jumps.ValidJump(m.code, pos.Uint64()) {
		return exit(ExitInvalidJump)
	}
	*pc = pos.Uint64() - 1 // pc will be increased by the run loop
	return nil, nil
}

func opJumpi(pc *uint64, m *Machine, h Handler) (Action, error) {
	pos, cond := m.stack.pop(), m.stack.pop()
	if !cond.IsZero() {
		if !pos.IsUint64() || !m.jumps.ValidJump(m.code, pos.Uint64()) {
			return exit(ExitInvalidJump)
		}
		*pc = pos.Uint64() - 1 // pc will be increased by the run loop
	}
	return nil, nil
}

func opJumpdest(pc *uint64, m *Machine, h Handler) (Action, error) {
	return nil, nil
}

func opPc(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(uint64(m.memory.Len())))
	return nil, nil
}

func opGas(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int).SetUint64(h.GasLeft()))
	return nil, nil
}

func opPush0(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.push(new(uint256.Int))
	return nil, nil
}

// makePush creates a push operation of size bytes.
func makePush(size uint64) executionFunc {
	return func(pc *uint64, m *Machine, h Handler) (Action, error) {
		var (
			codeLen = uint64(len(m.code))
			start   = min(codeLen, *pc+1)
			end     = min(codeLen, start+size)
		)
		a := new(uint256.Int).SetBytes(common.RightPadBytes(m.code[start:end], int(size)))
		m.stack.push(a)
		*pc += size
		return nil, nil
	}
}

// makeDup creates a dup operation of the n'th item.
func makeDup(size int) executionFunc {
	return func(pc *uint64, m *Machine, h Handler) (Action, error) {
		m.stack.dup(size)
		return nil, nil
	}
}

// makeSwap creates a swap operation of the n'th item.
func makeSwap(size int) executionFunc {
	// switch n + 1 otherwise n would be swapped with n
	size++
	return func(pc *uint64, m *Machine, h Handler) (Action, error) {
		m.stack.swap(size)
		return nil, nil
	}
}

// makeLog creates a log operation with size topics.
func makeLog(size int) executionFunc {
	return func(pc *uint64, m *Machine, h Handler) (Action, error) {
		mStart, mSize := m.stack.pop(), m.stack.pop()
		topics := make([]thor.Bytes32, size)
		for i := 0; i < size; i++ {
			addr := m.stack.pop()
			topics[i] = addr.Bytes32()
		}
		off, n, ok := m.memory.expand(&mStart, &mSize)
		if !ok {
			return exit(ExitInvalidRange)
		}
		if err := h.Log(m.ctx.Address, topics, m.memory.GetCopy(off, n)); err != nil {
			return handlerError(err)
		}
		return nil, nil
	}
}

func opCreate(pc *uint64, m *Machine, h Handler) (Action, error) {
	value, offset, size := m.stack.pop(), m.stack.pop(), m.stack.pop()
	off, n, ok := m.memory.expand(&offset, &size)
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.pending = pendingTrap{Kind: pendingCreate}
	return &Trap{
		Kind:  TrapCreate,
		Value: &value,
		Input: m.memory.GetCopy(off, n),
	}, nil
}

func opCreate2(pc *uint64, m *Machine, h Handler) (Action, error) {
	endowment, offset, size, salt := m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop()
	off, n, ok := m.memory.expand(&offset, &size)
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.pending = pendingTrap{Kind: pendingCreate}
	return &Trap{
		Kind:  TrapCreate2,
		Value: &endowment,
		Input: m.memory.GetCopy(off, n),
		Salt:  salt.Bytes32(),
	}, nil
}

// callTrap builds the trap of the CALL family and reserves the output area.
func callTrap(m *Machine, kind TrapKind, addr, value, inOffset, inSize, retOffset, retSize *uint256.Int) (Action, error) {
	inOff, inN, ok := m.memory.expand(inOffset, inSize)
	if !ok {
		return exit(ExitInvalidRange)
	}
	retOff, retN, ok := m.memory.expand(retOffset, retSize)
	if !ok {
		return exit(ExitInvalidRange)
	}
	m.pending = pendingTrap{Kind: pendingCall, Offset: retOff, Size: retN}
	return &Trap{
		Kind:   kind,
		Target: thor.Address(addr.Bytes20()),
		Value:  value,
		Input:  m.memory.GetCopy(inOff, inN),
	}, nil
}

func opCall(pc *uint64, m *Machine, h Handler) (Action, error) {
	// gas is ignored, nested frames share the transaction budget
	m.stack.pop()
	addr, value, inOffset, inSize, retOffset, retSize := m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop()
	return callTrap(m, TrapCall, &addr, &value, &inOffset, &inSize, &retOffset, &retSize)
}

func opStaticCall(pc *uint64, m *Machine, h Handler) (Action, error) {
	m.stack.pop()
	addr, inOffset, inSize, retOffset, retSize := m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop(), m.stack.pop()
	return callTrap(m, TrapStaticCall, &addr, new(uint256.Int), &inOffset, &inSize, &retOffset, &retSize)
}

func opNotSupported(pc *uint64, m *Machine, h Handler) (Action, error) {
	return exit(ExitNotSupported)
}

func opReturn(pc *uint64, m *Machine, h Handler) (Action, error) {
	offset, size := m.stack.pop(), m.stack.pop()
	off, n, ok := m.memory.expand(&offset, &size)
	if !ok {
		return exit(ExitInvalidRange)
	}
	return &Exit{Reason: ExitReturned, Data: m.memory.GetCopy(off, n)}, nil
}

func opRevert(pc *uint64, m *Machine, h Handler) (Action, error) {
	offset, size := m.stack.pop(), m.stack.pop()
	off, n, ok := m.memory.expand(&offset, &size)
	if !ok {
		return exit(ExitInvalidRange)
	}
	return &Exit{Reason: ExitRevert, Data: m.memory.GetCopy(off, n)}, nil
}

func opUndefined(pc *uint64, m *Machine, h Handler) (Action, error) {
	return exit(ExitInvalidOpcode)
}

func opStop(pc *uint64, m *Machine, h Handler) (Action, error) {
	return exit(ExitStopped)
}

func opSelfdestruct(pc *uint64, m *Machine, h Handler) (Action, error) {
	beneficiary := m.stack.pop()
	if err := h.SelfDestruct(m.ctx.Address, thor.Address(beneficiary.Bytes20())); err != nil {
		return handlerError(err)
	}
	return exit(ExitSelfDestructed)
}
