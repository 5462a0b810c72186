// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package iterative_test

import (
	"errors"
	"testing"

	op "github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/iterative"
	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/lvldb"
	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm"
	"github.com/vechain/itervm/xenv"
)

var (
	alice = thor.BytesToAddress([]byte("alice"))
	bob   = thor.BytesToAddress([]byte("bob"))
	carol = thor.BytesToAddress([]byte("carol"))
	dave  = thor.BytesToAddress([]byte("dave"))

	// store42 stores 42 at slot 0 and returns it.
	store42 = []byte{
		byte(op.PUSH1), 42, byte(op.PUSH1), 0, byte(op.SSTORE),
		byte(op.PUSH1), 42, byte(op.PUSH1), 0, byte(op.MSTORE),
		byte(op.PUSH1), 32, byte(op.PUSH1), 0, byte(op.RETURN),
	}
)

// countdown loops n times then runs store42, taking 11+7n steps.
func countdown(n byte) []byte {
	return append([]byte{byte(op.PUSH1), n,
		byte(op.JUMPDEST), byte(op.PUSH1), 1, byte(op.SWAP1), byte(op.SUB), byte(op.DUP1), byte(op.PUSH1), 2, byte(op.JUMPI),
		byte(op.POP)}, store42...)
}

type fixture struct {
	t       *testing.T
	ledger  *ledger.Ledger
	env     *xenv.Static
	machine *iterative.Machine
}

// newFixture funds alice and deploys code at bob.
func newFixture(t *testing.T, cfg thor.Config, code []byte) *fixture {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		t:       t,
		ledger:  ledger.New(db),
		env:     xenv.NewStatic(0, 1, 1, carol),
		machine: iterative.New(cfg),
	}
	inv := f.ledger.Begin(thor.MaxAccountDataIncrease)
	require.NoError(t, state.Fund(inv, alice, 0, uint256.NewInt(1_000_000)))
	require.NoError(t, state.Deploy(inv, alice, nil))
	require.NoError(t, state.Fund(inv, bob, 0, new(uint256.Int)))
	require.NoError(t, state.Deploy(inv, bob, code))
	require.NoError(t, inv.Commit())
	return f
}

// step runs one invocation, committing it unless it fails.
func (f *fixture) step(instr *iterative.Instruction, budget int) (*iterative.Outcome, error) {
	inv := f.ledger.Begin(budget)
	out, err := f.machine.Step(inv, f.env, instr)
	if err != nil {
		inv.Discard()
		return nil, err
	}
	require.NoError(f.t, inv.Commit())
	return out, nil
}

func (f *fixture) record(holder thor.Bytes32) *iterative.Record {
	data, err := f.ledger.Get(holder)
	require.NoError(f.t, err)
	rec, err := iterative.ReadRecord(data)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) storage(addr thor.Address, slot thor.Bytes32) thor.Bytes32 {
	inv := f.ledger.Begin(0)
	defer inv.Discard()
	st := state.New(inv, f.env, thor.Bytes32{}, []state.Account{{Address: addr}}, state.NewJumpCache(16))
	v, err := st.Storage(addr, slot)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) account(addr thor.Address) (uint64, *uint256.Int) {
	inv := f.ledger.Begin(0)
	defer inv.Discard()
	st := state.New(inv, f.env, thor.Bytes32{}, []state.Account{{Address: addr}}, state.NewJumpCache(16))
	nonce, err := st.Nonce(addr)
	require.NoError(f.t, err)
	bal, err := st.Balance(addr)
	require.NoError(f.t, err)
	return nonce, bal
}

func callBob(holder string, nonce uint64) *iterative.Instruction {
	return &iterative.Instruction{
		Holder: thor.Keccak256([]byte(holder)),
		Tx:     tx.NewBuilder().ChainID(1).Nonce(nonce).Gas(100000).From(alice).To(&bob).Build(),
		Accounts: []state.Account{
			{Address: alice, Writable: true},
			{Address: bob, Writable: true},
		},
	}
}

func TestBoundedIterations(t *testing.T) {
	cfg := thor.DefaultConfig()
	cfg.ComputeBudget = cfg.OpcodesPerIteration
	f := newFixture(t, cfg, countdown(198))
	instr := callBob("holder", 0)

	var (
		steps    uint64
		receipt  *tx.Receipt
		outcomes int
	)
	for {
		out, err := f.step(instr, thor.MaxAccountDataIncrease)
		require.NoError(t, err)
		outcomes++
		steps += out.Steps
		assert.LessOrEqual(t, out.Steps, cfg.OpcodesPerIteration)
		if out.Finished() {
			assert.Equal(t, iterative.Completed, out.State.Stage)
			receipt = out.Receipt
			assert.Equal(t, uint64(3), out.Iterations)
			break
		}
		assert.Equal(t, iterative.State{Stage: iterative.Execute}, out.State)
		require.Less(t, outcomes, 3)
	}
	assert.Equal(t, 3, outcomes)
	assert.Equal(t, uint64(11+7*198), steps)

	require.NotNil(t, receipt)
	assert.False(t, receipt.Reverted)
	assert.Equal(t, thor.TxGas+steps, receipt.GasUsed)
	assert.Equal(t, thor.BytesToBytes32([]byte{42}), f.storage(bob, thor.Bytes32{}))

	rec := f.record(instr.Holder)
	assert.True(t, rec.Finalized)
	assert.Equal(t, iterative.Completed, rec.State.Stage)
	assert.Equal(t, instr.Tx.Hash(), rec.TxHash)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, receipt.GasUsed, rec.Summary.GasUsed)
	assert.Equal(t, uint64(3), rec.Iterations)

	_, err := f.step(instr, thor.MaxAccountDataIncrease)
	assert.True(t, errors.Is(err, iterative.ErrTransactionFinished))
}

func TestSingleInvocation(t *testing.T) {
	f := newFixture(t, thor.DefaultConfig(), store42)
	instr := callBob("holder", 0)

	out, err := f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.True(t, out.Finished())
	assert.Equal(t, uint64(9), out.Steps)
	assert.Equal(t, uint64(1), out.Iterations)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, thor.BytesToBytes32([]byte{42}), f.storage(bob, thor.Bytes32{}))
}

func TestTrivialTransfer(t *testing.T) {
	f := newFixture(t, thor.DefaultConfig(), nil)
	instr := &iterative.Instruction{
		Holder: thor.Keccak256([]byte("holder")),
		Tx:     tx.NewBuilder().ChainID(1).Gas(21000).From(alice).To(&carol).Value(uint256.NewInt(7)).Build(),
		Accounts: []state.Account{
			{Address: alice, Writable: true},
			{Address: carol, Writable: true},
		},
	}
	out, err := f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.True(t, out.Finished())
	assert.Zero(t, out.Steps)
	assert.Zero(t, out.Iterations)

	inv := f.ledger.Begin(0)
	defer inv.Discard()
	st := state.New(inv, f.env, thor.Bytes32{}, []state.Account{{Address: alice}, {Address: carol}}, state.NewJumpCache(16))
	bal, err := st.Balance(carol)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), bal.Uint64())
	nonce, err := st.Nonce(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestFailedTransaction(t *testing.T) {
	f := newFixture(t, thor.DefaultConfig(), store42)
	instr := callBob("holder", 5)

	out, err := f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.True(t, out.Finished())
	assert.Equal(t, iterative.Failed, out.State.Stage)
	assert.True(t, errors.Is(out.Err, vm.ErrInvalidNonce))
	assert.Nil(t, out.Receipt)

	rec := f.record(instr.Holder)
	assert.True(t, rec.Finalized)
	assert.Equal(t, iterative.Failed, rec.State.Stage)
	assert.Contains(t, rec.Error, vm.ErrInvalidNonce.Error())
	assert.True(t, f.storage(bob, thor.Bytes32{}).IsZero())

	// the locks are released
	inv := f.ledger.Begin(0)
	ok, err := lock.NewManager(inv, thor.Keccak256([]byte("other")), 2, f.env.Now()).Lock(state.LockTargets(instr.Accounts))
	inv.Discard()
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.step(instr, thor.MaxAccountDataIncrease)
	assert.True(t, errors.Is(err, iterative.ErrTransactionFinished))
}

func TestHolderAllocation(t *testing.T) {
	f := newFixture(t, thor.DefaultConfig(), store42)
	instr := callBob("holder", 0)
	// calldata makes the serialized vm outgrow the initial holder
	instr.Tx = tx.NewBuilder().ChainID(1).Gas(100000).From(alice).To(&bob).Data(make([]byte, 600)).Build()

	// too small for the initial holder
	out, err := f.step(instr, 100)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.AllocateHolder, To: iterative.Lock}, out.State)
	data, err := f.ledger.Get(instr.Holder)
	require.NoError(t, err)
	assert.Len(t, data, 100)

	// the holder is bound, the vm does not fit
	out, err = f.step(instr, 412)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.AllocateHolder, To: iterative.Lock}, out.State)
	rec := f.record(instr.Holder)
	assert.False(t, rec.Finalized)
	assert.Equal(t, instr.Tx.Hash(), rec.TxHash)

	out, err = f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.Completed, out.State.Stage)
	assert.Equal(t, thor.BytesToBytes32([]byte{42}), f.storage(bob, thor.Bytes32{}))
}

func TestLeasePreemption(t *testing.T) {
	cfg := thor.DefaultConfig()
	cfg.ComputeBudget = cfg.OpcodesPerIteration
	f := newFixture(t, cfg, countdown(100))
	t1 := callBob("t1", 0)

	out, err := f.step(t1, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.Execute}, out.State)

	// t1 stalls, t2 takes bob over after the lease expired
	f.env.SetNow(3)
	inv := f.ledger.Begin(thor.MaxAccountDataIncrease)
	t2 := lock.NewManager(inv, thor.Keccak256([]byte("t2")), cfg.LeaseDuration, f.env.Now())
	ok, err := t2.Lock(state.LockTargets([]state.Account{{Address: bob, Writable: true}}))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, inv.Commit())

	// t1 finds its lease lost and fails to lock again
	_, err = f.step(t1, thor.MaxAccountDataIncrease)
	assert.True(t, errors.Is(err, lock.ErrAccountLocked), "got %v", err)
	assert.Equal(t, iterative.Execute, f.record(t1.Holder).State.Stage)

	// t2 stalls in turn
	f.env.SetNow(6)
	for {
		out, err = f.step(t1, thor.MaxAccountDataIncrease)
		require.NoError(t, err)
		if out.Finished() {
			break
		}
	}
	assert.Equal(t, iterative.Completed, out.State.Stage)
	assert.Equal(t, thor.BytesToBytes32([]byte{42}), f.storage(bob, thor.Bytes32{}))
}

func TestLeaseLostRestartsFromInit(t *testing.T) {
	cfg := thor.DefaultConfig()
	cfg.ComputeBudget = cfg.OpcodesPerIteration
	f := newFixture(t, cfg, countdown(100))
	t1 := callBob("t1", 0)

	out, err := f.step(t1, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.Execute}, out.State)

	// t2 spends the nonce of alice while t1 stalls
	f.env.SetNow(3)
	t2 := &iterative.Instruction{
		Holder: thor.Keccak256([]byte("t2")),
		Tx:     tx.NewBuilder().ChainID(1).Gas(21000).From(alice).To(&carol).Value(uint256.NewInt(1)).Build(),
		Accounts: []state.Account{
			{Address: alice, Writable: true},
			{Address: carol, Writable: true},
		},
	}
	out, err = f.step(t2, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.Completed, out.State.Stage)

	// t1 runs init again against the committed state
	out, err = f.step(t1, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.Failed, out.State.Stage)
	assert.True(t, errors.Is(out.Err, vm.ErrInvalidNonce), "got %v", out.Err)

	nonce, _ := f.account(alice)
	assert.Equal(t, uint64(1), nonce)
	assert.True(t, f.storage(bob, thor.Bytes32{}).IsZero())
}

func TestWriteToReadonlyAccount(t *testing.T) {
	// bob forwards 1 wei to dave
	code := []byte{
		byte(op.PUSH1), 0, byte(op.PUSH1), 0, byte(op.PUSH1), 0, byte(op.PUSH1), 0,
		byte(op.PUSH1), 1, byte(op.PUSH20)}
	code = append(code, dave[:]...)
	code = append(code, byte(op.PUSH2), 0xff, 0xff, byte(op.CALL), byte(op.STOP))
	f := newFixture(t, thor.DefaultConfig(), code)

	inv := f.ledger.Begin(thor.MaxAccountDataIncrease)
	require.NoError(t, state.Fund(inv, dave, 0, new(uint256.Int)))
	require.NoError(t, state.Deploy(inv, dave, nil))
	require.NoError(t, inv.Commit())

	instr := &iterative.Instruction{
		Holder: thor.Keccak256([]byte("holder")),
		Tx:     tx.NewBuilder().ChainID(1).Gas(100000).From(alice).To(&bob).Value(uint256.NewInt(1)).Build(),
		Accounts: []state.Account{
			{Address: alice, Writable: true},
			{Address: bob, Writable: true},
			{Address: dave},
		},
	}
	out, err := f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.Failed, out.State.Stage)
	assert.True(t, errors.Is(out.Err, lock.ErrSharedWrite), "got %v", out.Err)
	assert.Nil(t, out.Receipt)

	nonce, _ := f.account(alice)
	assert.Zero(t, nonce)
	_, bal := f.account(dave)
	assert.True(t, bal.IsZero())

	// dave is free for writers again
	inv = f.ledger.Begin(0)
	ok, err := lock.NewManager(inv, thor.Keccak256([]byte("other")), 2, f.env.Now()).
		Lock(state.LockTargets([]state.Account{{Address: dave, Writable: true}}))
	inv.Discard()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHolderDetourAfterExecute(t *testing.T) {
	cfg := thor.DefaultConfig()
	cfg.ComputeBudget = cfg.OpcodesPerIteration
	// stores i at slot i for i from 80 down to 1
	code := []byte{
		byte(op.PUSH1), 80,
		byte(op.JUMPDEST), byte(op.DUP1), byte(op.DUP1), byte(op.SSTORE),
		byte(op.PUSH1), 1, byte(op.SWAP1), byte(op.SUB), byte(op.DUP1), byte(op.PUSH1), 2, byte(op.JUMPI),
		byte(op.POP), byte(op.STOP),
	}
	f := newFixture(t, cfg, code)
	instr := callBob("holder", 0)

	out, err := f.step(instr, thor.MaxAccountDataIncrease)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.Execute}, out.State)
	before := f.record(instr.Holder)

	// the grown journal does not fit and nothing is left to allocate
	out, err = f.step(instr, 0)
	require.NoError(t, err)
	assert.Equal(t, iterative.State{Stage: iterative.AllocateHolder, To: iterative.Execute}, out.State)
	// the record of the first invocation is kept
	after := f.record(instr.Holder)
	assert.Equal(t, before.Iterations, after.Iterations)
	assert.Equal(t, iterative.State{Stage: iterative.AllocateHolder, To: iterative.Execute}, after.State)

	for i := 0; !out.Finished(); i++ {
		require.Less(t, i, 10)
		out, err = f.step(instr, thor.MaxAccountDataIncrease)
		require.NoError(t, err)
	}
	assert.Equal(t, iterative.Completed, out.State.Stage)
	assert.Equal(t, thor.BytesToBytes32([]byte{1}), f.storage(bob, thor.BytesToBytes32([]byte{1})))
	assert.Equal(t, thor.BytesToBytes32([]byte{80}), f.storage(bob, thor.BytesToBytes32([]byte{80})))
}
