// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/vm"
	"github.com/vechain/itervm/vm/evm"
)

func frame(kind vm.ReasonKind, addr thor.Address, mutable bool) *vm.Snapshot {
	ctx := evm.Context{Address: addr, Caller: alice, Value: uint256.NewInt(1)}
	return &vm.Snapshot{
		Machine: evm.New(ctx, countdown(3), nil, []byte("input")),
		Reason:  vm.Reason{Kind: kind, Address: addr},
		Mutable: mutable,
	}
}

func TestSnapshotsMutable(t *testing.T) {
	var s vm.Snapshots
	assert.Nil(t, s.Top())
	assert.Nil(t, s.Pop())

	s.Push(frame(vm.ReasonCall, bob, true))
	s.Push(frame(vm.ReasonCall, carol, false))
	s.Push(frame(vm.ReasonCreate, dave, true))
	assert.Equal(t, 3, s.Len())
	assert.False(t, s.Top().Mutable)

	s.Pop()
	s.Pop()
	s.Push(frame(vm.ReasonCreate, dave, true))
	assert.True(t, s.Top().Mutable)
}

func TestSnapshotsRLP(t *testing.T) {
	var s vm.Snapshots
	s.Push(frame(vm.ReasonCall, bob, true))
	s.Push(frame(vm.ReasonCreate, carol, true))
	s.Push(frame(vm.ReasonCall, dave, false))
	s.Push(frame(vm.ReasonCall, bob, true))

	// advance the running machine
	_, _, err := s.Top().Machine.Run(nil, 4)
	require.NoError(t, err)

	data, err := rlp.EncodeToBytes(&s)
	require.NoError(t, err)
	var dec vm.Snapshots
	require.NoError(t, rlp.DecodeBytes(data, &dec))

	require.Equal(t, s.Len(), dec.Len())
	for s.Len() > 0 {
		want, got := s.Pop(), dec.Pop()
		assert.Equal(t, want.Reason, got.Reason)
		assert.Equal(t, want.Mutable, got.Mutable)
		assert.Equal(t, want.Machine.PC(), got.Machine.PC())
		assert.Equal(t, want.Machine.Stack(), got.Machine.Stack())
		assert.Equal(t, want.Machine.Code(), got.Machine.Code())
	}
}

func TestReasonString(t *testing.T) {
	assert.Contains(t, vm.Reason{Kind: vm.ReasonCreate, Address: bob}.String(), "create")
	assert.Contains(t, vm.Reason{Kind: vm.ReasonCall, Address: bob}.String(), "call")
}
