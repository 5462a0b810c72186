// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"io"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/thor"
)

type pendingKind uint8

const (
	pendingNone pendingKind = iota
	pendingCall
	pendingCreate
)

// pendingTrap is the output area of a trap waiting to be resumed.
type pendingTrap struct {
	Kind   pendingKind
	Offset uint64
	Size   uint64
}

// Machine is a resumable bytecode machine executing one frame.
// It never touches state directly, nested frames are reported as traps.
type Machine struct {
	ctx        Context
	code       []byte
	jumps      Bitvec
	input      []byte
	pc         uint64
	stack      *Stack
	memory     *Memory
	returnData []byte
	pending    pendingTrap
}

// New creates a machine. The jump analysis is computed if jumps is nil.
func New(ctx Context, code []byte, jumps Bitvec, input []byte) *Machine {
	if ctx.Value == nil {
		ctx.Value = new(uint256.Int)
	}
	if jumps == nil {
		jumps = Analyze(code)
	}
	return &Machine{
		ctx:    ctx,
		code:   code,
		jumps:  jumps,
		input:  input,
		stack:  newstack(),
		memory: NewMemory(),
	}
}

func (m *Machine) Context() Context     { return m.ctx }
func (m *Machine) Code() []byte         { return m.code }
func (m *Machine) PC() uint64           { return m.pc }
func (m *Machine) Stack() []uint256.Int { return m.stack.Data() }
func (m *Machine) Memory() []byte       { return m.memory.Data() }

// Analyzed returns whether the jump analysis of the code is attached.
// A decoded machine has none until SetJumps or its next Run.
func (m *Machine) Analyzed() bool { return m.jumps != nil }

// SetJumps attaches the jump analysis of the code, typically from a cache.
func (m *Machine) SetJumps(jumps Bitvec) { m.jumps = jumps }

// Trapped returns whether the machine is waiting for a nested frame.
func (m *Machine) Trapped() bool { return m.pending.Kind != pendingNone }

// Release returns the stack to the pool. The machine must not be used afterwards.
func (m *Machine) Release() {
	if m.stack != nil {
		returnStack(m.stack)
		m.stack = nil
	}
}

func (m *Machine) getOp(pc uint64) vm.OpCode {
	if pc < uint64(len(m.code)) {
		return vm.OpCode(m.code[pc])
	}
	return vm.STOP
}

// Run executes at most budget opcodes. It returns a nil action if the budget
// is used up, a *Trap if a nested frame is requested or an *Exit.
// A non-nil error is raised by the handler and aborts the transaction.
func (m *Machine) Run(h Handler, budget uint64) (Action, uint64, error) {
	if m.Trapped() {
		return nil, 0, errors.New("evm: run a trapped machine")
	}
	if m.jumps == nil {
		m.jumps = Analyze(m.code)
	}
	var steps uint64
	for steps < budget {
		op := m.getOp(m.pc)
		operation := instructionSet[op]
		steps++

		if sLen := m.stack.len(); sLen < operation.minStack {
			return &Exit{Reason: ExitStackUnderflow}, steps, nil
		} else if sLen > operation.maxStack {
			return &Exit{Reason: ExitStackOverflow}, steps, nil
		}

		action, err := operation.execute(&m.pc, m, h)
		if err != nil {
			return nil, steps, errors.Wrapf(err, "evm: %v at pc %d", op, m.pc)
		}
		if exit, ok := action.(*Exit); ok {
			return exit, steps, nil
		}
		m.pc++
		if action != nil {
			return action, steps, nil
		}
	}
	return nil, steps, nil
}

// ResumeCall resumes the machine after a nested call exited.
func (m *Machine) ResumeCall(ok bool, data []byte) error {
	if m.pending.Kind != pendingCall {
		return errors.New("evm: no pending call")
	}
	p := m.pending
	m.pending = pendingTrap{}

	m.returnData = data
	if n := min(p.Size, uint64(len(data))); n > 0 {
		m.memory.Set(p.Offset, n, data)
	}
	if ok {
		m.stack.push(uint256.NewInt(1))
	} else {
		m.stack.push(new(uint256.Int))
	}
	return nil
}

// ResumeCreate resumes the machine after a nested create exited.
// data is the revert data of a failed creation.
func (m *Machine) ResumeCreate(addr thor.Address, ok bool, data []byte) error {
	if m.pending.Kind != pendingCreate {
		return errors.New("evm: no pending create")
	}
	m.pending = pendingTrap{}

	if ok {
		m.returnData = nil
		m.stack.push(new(uint256.Int).SetBytes(addr[:]))
	} else {
		m.returnData = data
		m.stack.push(new(uint256.Int))
	}
	return nil
}

type machineRLP struct {
	Address    thor.Address
	Caller     thor.Address
	Value      *uint256.Int
	Code       []byte
	Input      []byte
	PC         uint64
	Stack      []thor.Bytes32
	Memory     []byte // snappy compressed
	ReturnData []byte
	Pending    pendingTrap
}

// EncodeRLP implements rlp.Encoder.
func (m *Machine) EncodeRLP(w io.Writer) error {
	stack := make([]thor.Bytes32, 0, m.stack.len())
	for _, item := range m.stack.Data() {
		stack = append(stack, item.Bytes32())
	}
	return rlp.Encode(w, &machineRLP{
		Address:    m.ctx.Address,
		Caller:     m.ctx.Caller,
		Value:      m.ctx.Value,
		Code:       m.code,
		Input:      m.input,
		PC:         m.pc,
		Stack:      stack,
		Memory:     snappy.Encode(nil, m.memory.Data()),
		ReturnData: m.returnData,
		Pending:    m.pending,
	})
}

// DecodeRLP implements rlp.Decoder.
func (m *Machine) DecodeRLP(s *rlp.Stream) error {
	var obj machineRLP
	if err := s.Decode(&obj); err != nil {
		return err
	}
	if len(obj.Stack) > stackLimit {
		return errors.New("evm: stack limit exceeded")
	}
	mem, err := snappy.Decode(nil, obj.Memory)
	if err != nil {
		return errors.Wrap(err, "evm: decode memory")
	}
	if len(mem) > maxMemory {
		return errors.New("evm: memory limit exceeded")
	}

	stack := newstack()
	for _, item := range obj.Stack {
		stack.push(new(uint256.Int).SetBytes(item[:]))
	}
	*m = Machine{
		ctx: Context{
			Address: obj.Address,
			Caller:  obj.Caller,
			Value:   obj.Value,
		},
		code:       obj.Code,
		input:      obj.Input,
		pc:         obj.PC,
		stack:      stack,
		memory:     &Memory{store: mem},
		returnData: obj.ReturnData,
		pending:    obj.Pending,
	}
	if m.ctx.Value == nil {
		m.ctx.Value = new(uint256.Int)
	}
	return nil
}
