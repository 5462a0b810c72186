// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	op "github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm"
	"github.com/vechain/itervm/vm/evm"
	"github.com/vechain/itervm/vm/journal"
	"github.com/vechain/itervm/xenv"
)

var (
	alice = thor.BytesToAddress([]byte("alice"))
	bob   = thor.BytesToAddress([]byte("bob"))
	carol = thor.BytesToAddress([]byte("carol"))
	dave  = thor.BytesToAddress([]byte("dave"))

	env = xenv.NewStatic(100, 10, 1, carol)
)

// asm assembles opcodes, raw bytes and byte slices.
func asm(items ...any) []byte {
	var b []byte
	for _, it := range items {
		switch v := it.(type) {
		case op.OpCode:
			b = append(b, byte(v))
		case int:
			b = append(b, byte(v))
		case []byte:
			b = append(b, v...)
		case thor.Address:
			b = append(b, v[:]...)
		}
	}
	return b
}

var (
	// store42 stores 42 at slot 0 and returns it.
	store42 = asm(op.PUSH1, 42, op.PUSH1, 0, op.SSTORE,
		op.PUSH1, 42, op.PUSH1, 0, op.MSTORE,
		op.PUSH1, 32, op.PUSH1, 0, op.RETURN)
	storeAndRevert = asm(op.PUSH1, 1, op.PUSH1, 0, op.SSTORE, op.PUSH1, 0, op.PUSH1, 0, op.REVERT)
	storeAndLoop   = asm(op.PUSH1, 1, op.PUSH1, 0, op.SSTORE, op.JUMPDEST, op.PUSH1, 5, op.JUMP)
)

// countdown loops n times then runs store42.
func countdown(n int) []byte {
	return append(asm(op.PUSH1, n,
		op.JUMPDEST, op.PUSH1, 1, op.SWAP1, op.SUB, op.DUP1, op.PUSH1, 2, op.JUMPI,
		op.POP), store42...)
}

// caller calls target and stores the call result plus 7 at slot 1, then returns memory [0, 32).
func caller(kind op.OpCode, target thor.Address) []byte {
	var call []byte
	if kind == op.STATICCALL {
		call = asm(op.PUSH1, 32, op.PUSH1, 0, op.PUSH1, 0, op.PUSH1, 0, op.PUSH20, target, op.PUSH2, 0xff, 0xff, op.STATICCALL)
	} else {
		call = asm(op.PUSH1, 32, op.PUSH1, 0, op.PUSH1, 0, op.PUSH1, 0, op.PUSH1, 0, op.PUSH20, target, op.PUSH2, 0xff, 0xff, kind)
	}
	return append(call, asm(op.PUSH1, 7, op.ADD, op.PUSH1, 1, op.SSTORE, op.PUSH1, 32, op.PUSH1, 0, op.RETURN)...)
}

func builder(nonce uint64, to *thor.Address) *tx.Builder {
	return tx.NewBuilder().ChainID(1).Nonce(nonce).Gas(100000).From(alice).To(to)
}

func word(v byte) []byte {
	b := make([]byte, 32)
	b[31] = v
	return b
}

// execute runs the transaction to completion and commits it.
func execute(t *testing.T, origin *memOrigin, trx *tx.Transaction, cfg thor.Config) (*vm.Vm, *tx.Receipt) {
	v := vm.New(trx, cfg)
	trivial, err := v.Init(origin, false)
	require.NoError(t, err)
	if !trivial {
		done, _, err := v.Execute(origin, env, 100000)
		require.NoError(t, err)
		require.True(t, done)
	}
	receipt, err := v.Commit(origin)
	require.NoError(t, err)
	return v, receipt
}

func TestSimpleTransfer(t *testing.T) {
	origin := newMemOrigin()
	origin.get(alice).nonce = 5
	origin.get(alice).balance.SetUint64(1000)

	trx := builder(5, &bob).Value(uint256.NewInt(100)).Build()
	v, receipt := execute(t, origin, trx, thor.DefaultConfig())

	assert.Equal(t, uint64(6), origin.get(alice).nonce)
	assert.Equal(t, uint64(900), origin.get(alice).balance.Uint64())
	assert.Equal(t, uint64(100), origin.get(bob).balance.Uint64())
	assert.False(t, receipt.Reverted)
	assert.Equal(t, thor.TxGas, receipt.GasUsed)
	assert.Equal(t, 1, v.Journal().Depth())
	assert.Empty(t, v.Journal().Addresses())
}

func TestFees(t *testing.T) {
	origin := newMemOrigin()
	origin.get(alice).balance.SetUint64(100000)

	cfg := thor.DefaultConfig()
	cfg.FlatFee = 5
	cfg.FeeRecipient = carol
	trx := builder(0, &bob).Value(uint256.NewInt(100)).GasPrice(uint256.NewInt(1)).Gas(21000).Build()
	_, receipt := execute(t, origin, trx, cfg)

	assert.Equal(t, uint64(21005), receipt.Paid.Uint64())
	assert.Equal(t, uint64(100000-100-21005), origin.get(alice).balance.Uint64())
	assert.Equal(t, uint64(21005), origin.get(carol).balance.Uint64())
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name string
		trx  *tx.Transaction
		want error
	}{
		{"nonce", builder(4, &bob).Build(), vm.ErrInvalidNonce},
		{"chain id", builder(5, &bob).ChainID(2).Build(), vm.ErrInvalidChainID},
		{"intrinsic gas", builder(5, &bob).Gas(100).Build(), vm.ErrIntrinsicGas},
		{"value", builder(5, &bob).Value(uint256.NewInt(1001)).Build(), journal.ErrInsufficientFunds},
		{"gas cost", builder(5, &bob).Value(uint256.NewInt(1000)).GasPrice(uint256.NewInt(1)).Build(), journal.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := newMemOrigin()
			origin.get(alice).nonce = 5
			origin.get(alice).balance.SetUint64(1000)

			_, err := vm.New(tt.trx, thor.DefaultConfig()).Init(origin, false)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBypassNonce(t *testing.T) {
	origin := newMemOrigin()
	origin.get(alice).nonce = 5
	trivial, err := vm.New(builder(0, &bob).Build(), thor.DefaultConfig()).Init(origin, true)
	require.NoError(t, err)
	assert.True(t, trivial)
}

func TestCall(t *testing.T) {
	origin := newMemOrigin()
	origin.get(bob).code = store42

	v := vm.New(builder(0, &bob).Build(), thor.DefaultConfig())
	trivial, err := v.Init(origin, false)
	require.NoError(t, err)
	require.False(t, trivial)

	done, steps, err := v.Execute(origin, env, 1000)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint64(9), steps)
	assert.Equal(t, evm.ExitReturned, v.ExitReason())
	assert.Equal(t, word(42), v.ReturnValue())
	assert.Equal(t, thor.TxGas+9, v.GasUsed())
	assert.Empty(t, origin.get(bob).storage)

	receipt, err := v.Commit(origin)
	require.NoError(t, err)
	assert.False(t, receipt.Reverted)
	assert.Equal(t, thor.BytesToBytes32(word(42)), origin.get(bob).storage[thor.Bytes32{}])
}

func TestRevert(t *testing.T) {
	origin := newMemOrigin()
	origin.get(bob).code = storeAndRevert

	_, receipt := execute(t, origin, builder(0, &bob).Build(), thor.DefaultConfig())
	assert.True(t, receipt.Reverted)
	assert.Equal(t, evm.ExitRevert.String(), receipt.Reason)
	assert.Empty(t, origin.get(bob).storage)
	assert.Equal(t, uint64(1), origin.get(alice).nonce)
}

func TestNestedCall(t *testing.T) {
	tests := []struct {
		name   string
		kind   op.OpCode
		stored bool
		result byte
	}{
		{"call", op.CALL, true, 8},
		{"static call", op.STATICCALL, false, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := newMemOrigin()
			origin.get(bob).code = caller(tt.kind, dave)
			origin.get(dave).code = store42

			v, receipt := execute(t, origin, builder(0, &bob).Build(), thor.DefaultConfig())
			assert.False(t, receipt.Reverted)
			assert.Equal(t, 0, v.Snapshots().Len())
			assert.Equal(t, thor.BytesToBytes32(word(tt.result)), origin.get(bob).storage[thor.BytesToBytes32(word(1))])

			v42 := origin.get(dave).storage[thor.Bytes32{}]
			if tt.stored {
				assert.Equal(t, word(42), receipt.Output)
				assert.Equal(t, thor.BytesToBytes32(word(42)), v42)
			} else {
				assert.True(t, v42.IsZero())
			}
		})
	}
}

func TestCreate(t *testing.T) {
	origin := newMemOrigin()
	initCode := append(asm(op.PUSH1, len(store42), op.PUSH1, 12, op.PUSH1, 0, op.CODECOPY,
		op.PUSH1, len(store42), op.PUSH1, 0, op.RETURN), store42...)
	want := thor.Address(crypto.CreateAddress(common.Address(alice), 0))

	v, receipt := execute(t, origin, builder(0, nil).Data(initCode).Build(), thor.DefaultConfig())
	assert.False(t, receipt.Reverted)
	assert.Equal(t, []thor.Address{want}, v.Created())
	assert.Equal(t, want[:], v.ReturnValue())
	assert.Equal(t, store42, origin.get(want).code)
	assert.Equal(t, uint64(1), origin.get(want).nonce)
	assert.Equal(t, uint64(1), origin.get(alice).nonce)
}

func TestCreateCollision(t *testing.T) {
	origin := newMemOrigin()
	addr := thor.Address(crypto.CreateAddress(common.Address(alice), 0))
	origin.get(addr).code = []byte{0}

	v := vm.New(builder(0, nil).Data(store42).Build(), thor.DefaultConfig())
	trivial, err := v.Init(origin, false)
	require.NoError(t, err)
	assert.True(t, trivial)
	assert.Equal(t, evm.ExitCreateCollision, v.ExitReason())
}

func TestCreateAtFixedAddress(t *testing.T) {
	initCode := append(asm(op.PUSH1, len(store42), op.PUSH1, 12, op.PUSH1, 0, op.CODECOPY,
		op.PUSH1, len(store42), op.PUSH1, 0, op.RETURN), store42...)
	trx := builder(0, nil).Data(initCode).DeployAt(&dave).Build()

	origin := newMemOrigin()
	v, receipt := execute(t, origin, trx, thor.DefaultConfig())
	assert.False(t, receipt.Reverted)
	assert.Equal(t, []thor.Address{dave}, v.Created())
	assert.Equal(t, store42, origin.get(dave).code)
	assert.Equal(t, uint64(1), origin.get(dave).nonce)
	assert.Equal(t, uint64(1), origin.get(alice).nonce)
	assert.Empty(t, origin.get(thor.Address(crypto.CreateAddress(common.Address(alice), 0))).code)

	// the fixed address is subject to the collision rule
	taken := newMemOrigin()
	taken.get(dave).nonce = 1
	v = vm.New(trx, thor.DefaultConfig())
	trivial, err := v.Init(taken, false)
	require.NoError(t, err)
	assert.True(t, trivial)
	assert.Equal(t, evm.ExitCreateCollision, v.ExitReason())
}

func TestCreate2Address(t *testing.T) {
	// deploys the single byte code STOP
	initCode := asm(op.PUSH1, 0, op.PUSH1, 0, op.MSTORE8, op.PUSH1, 1, op.PUSH1, 0, op.RETURN)
	// copies the init code to memory, runs CREATE2 with salt 7 and stores the address at slot 0
	factory := asm(op.PUSH10, initCode, op.PUSH1, 0, op.MSTORE,
		op.PUSH1, 7, op.PUSH1, len(initCode), op.PUSH1, 32-len(initCode), op.PUSH1, 0, op.CREATE2,
		op.PUSH1, 0, op.SSTORE, op.STOP)

	origin := newMemOrigin()
	origin.get(bob).code = factory
	v, receipt := execute(t, origin, builder(0, &bob).Build(), thor.DefaultConfig())
	require.False(t, receipt.Reverted)

	salt := thor.BytesToBytes32([]byte{7})
	want := thor.Address(crypto.CreateAddress2(common.Address(bob), salt, crypto.Keccak256(initCode)))
	assert.Equal(t, []thor.Address{want}, v.Created())
	assert.Equal(t, thor.BytesToBytes32(want[:]), origin.get(bob).storage[thor.Bytes32{}])
	assert.Equal(t, []byte{byte(op.STOP)}, origin.get(want).code)
	assert.Equal(t, uint64(1), origin.get(want).nonce)
	assert.Equal(t, uint64(1), origin.get(bob).nonce)
}

func TestOutOfGas(t *testing.T) {
	origin := newMemOrigin()
	origin.get(bob).code = storeAndLoop

	trx := builder(0, &bob).Gas(thor.TxGas + 100).Build()
	v := vm.New(trx, thor.DefaultConfig())
	_, err := v.Init(origin, false)
	require.NoError(t, err)

	done, steps, err := v.Execute(origin, env, 1000)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint64(100), steps)
	assert.Equal(t, evm.ExitOutOfGas, v.ExitReason())
	assert.Equal(t, trx.Gas(), v.GasUsed())

	_, err = v.Commit(origin)
	require.NoError(t, err)
	assert.Empty(t, origin.get(bob).storage)
}

func TestPrecompile(t *testing.T) {
	origin := newMemOrigin()
	identity := thor.BytesToAddress([]byte{4})
	require.True(t, vm.IsPrecompile(identity))

	v := vm.New(builder(0, &identity).Data([]byte("hello")).Build(), thor.DefaultConfig())
	trivial, err := v.Init(origin, false)
	require.NoError(t, err)
	assert.True(t, trivial)
	assert.Equal(t, []byte("hello"), v.ReturnValue())
}

func TestResumeFromEncoding(t *testing.T) {
	setup := func() *memOrigin {
		origin := newMemOrigin()
		origin.get(bob).code = caller(op.CALL, dave)
		origin.get(dave).code = countdown(20)
		return origin
	}
	trx := builder(0, &bob).Build()
	cfg := thor.DefaultConfig()

	straight := setup()
	want, wantReceipt := execute(t, straight, trx, cfg)

	chunked := setup()
	v := vm.New(trx, cfg)
	_, err := v.Init(chunked, false)
	require.NoError(t, err)
	for iterations := 0; ; iterations++ {
		require.Less(t, iterations, 100)
		done, _, err := v.Execute(chunked, env, 7)
		require.NoError(t, err)
		if done {
			break
		}
		data, err := rlp.EncodeToBytes(v)
		require.NoError(t, err)
		dec, err := vm.Decode(data, trx, cfg)
		require.NoError(t, err)

		require.Equal(t, v.Snapshots().Len(), dec.Snapshots().Len())
		reenc, err := rlp.EncodeToBytes(dec)
		require.NoError(t, err)
		require.Equal(t, data, reenc)
		v = dec
	}
	receipt, err := v.Commit(chunked)
	require.NoError(t, err)

	assert.Equal(t, want.GasUsed(), v.GasUsed())
	assert.Equal(t, wantReceipt.Output, receipt.Output)
	assert.Equal(t, straight.accounts, chunked.accounts)
}

func TestDecodedFrameUsesOriginJumps(t *testing.T) {
	origin := newMemOrigin()
	origin.get(bob).code = countdown(20)
	trx := builder(0, &bob).Build()
	cfg := thor.DefaultConfig()

	v := vm.New(trx, cfg)
	_, err := v.Init(origin, false)
	require.NoError(t, err)
	done, _, err := v.Execute(origin, env, 5)
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 1, origin.analyzed[bob])

	data, err := rlp.EncodeToBytes(v)
	require.NoError(t, err)
	dec, err := vm.Decode(data, trx, cfg)
	require.NoError(t, err)
	assert.False(t, dec.Snapshots().Top().Machine.Analyzed())

	done, _, err = dec.Execute(origin, env, 5)
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 2, origin.analyzed[bob])
	assert.True(t, dec.Snapshots().Top().Machine.Analyzed())
}
