// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package lock_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/lvldb"
	"github.com/vechain/itervm/thor"
)

const lease = 2

func newLedger(t *testing.T) *ledger.Ledger {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ledger.New(db)
}

func holder(i int) thor.Bytes32 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return thor.Keccak256([]byte("holder"), b[:])
}

func target(writable bool) lock.Target {
	addr := thor.BytesToAddress([]byte("A"))
	return lock.Target{
		Key:      acc.BalanceKey(addr),
		Writable: writable,
		Init:     acc.NewBalance(addr, 0, new(uint256.Int)),
	}
}

// run executes fn inside a committed invocation.
func run(t *testing.T, l *ledger.Ledger, fn func(inv *ledger.Invocation)) {
	inv := l.Begin(thor.MaxAccountDataIncrease * 2)
	fn(inv)
	require.NoError(t, inv.Commit())
}

func TestLockEncoding(t *testing.T) {
	l := lock.Lock{Kind: lock.ExclusiveWrite, Holder: holder(1), Timestamp: 42}
	data := append([]byte{byte(acc.TagBalance)}, l.Encode()...)
	got, err := lock.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, l, got)

	_, err = lock.Decode([]byte{byte(acc.TagStorage)})
	assert.True(t, errors.Is(err, lock.ErrNotManaged))

	assert.True(t, l.Active(43, lease))
	assert.False(t, l.Active(44, lease))
	assert.False(t, lock.Lock{Timestamp: 42}.Active(42, lease))
}

func TestExclusiveMutualExclusion(t *testing.T) {
	l := newLedger(t)
	targets := []lock.Target{target(true)}

	run(t, l, func(inv *ledger.Invocation) {
		done, err := lock.NewManager(inv, holder(1), lease, 0).Lock(targets)
		require.NoError(t, err)
		assert.True(t, done)
	})

	tests := []struct {
		now      int64
		writable bool
		locked   bool
	}{
		{0, true, true},
		{1, true, true},
		{1, false, true},
		{2, true, false},
	}
	for _, tt := range tests {
		inv := l.Begin(thor.MaxAccountDataIncrease)
		_, err := lock.NewManager(inv, holder(2), lease, tt.now).Lock([]lock.Target{target(tt.writable)})
		inv.Discard()
		if tt.locked {
			var le *lock.LockedError
			require.True(t, errors.As(err, &le), "now %d", tt.now)
			assert.Equal(t, holder(1), le.Holder)
			assert.True(t, errors.Is(err, lock.ErrAccountLocked))
		} else {
			assert.NoError(t, err, "now %d", tt.now)
		}
	}
}

func TestSharedLocks(t *testing.T) {
	l := newLedger(t)
	shared := []lock.Target{target(false)}

	run(t, l, func(inv *ledger.Invocation) {
		for i := 0; i < 3; i++ {
			done, err := lock.NewManager(inv, holder(i), lease, 0).Lock(shared)
			require.NoError(t, err)
			require.True(t, done)
		}
		// idempotent
		_, err := lock.NewManager(inv, holder(0), lease, 0).Lock(shared)
		require.NoError(t, err)
	})

	run(t, l, func(inv *ledger.Invocation) {
		readers, err := lock.Readers(inv, target(false).Key)
		require.NoError(t, err)
		assert.Equal(t, []thor.Bytes32{holder(0), holder(1), holder(2)}, readers)

		_, err = lock.NewManager(inv, holder(9), lease, 1).Lock([]lock.Target{target(true)})
		assert.True(t, errors.Is(err, lock.ErrAccountLocked))

		for i := 0; i < 3; i++ {
			ok, err := lock.NewManager(inv, holder(i), lease, 1).Locked(shared)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		require.NoError(t, lock.NewManager(inv, holder(1), lease, 1).Unlock(shared))
		readers, err = lock.Readers(inv, target(false).Key)
		require.NoError(t, err)
		assert.Equal(t, []thor.Bytes32{holder(0), holder(2)}, readers)

		require.NoError(t, lock.NewManager(inv, holder(0), lease, 1).Unlock(shared))
		require.NoError(t, lock.NewManager(inv, holder(2), lease, 1).Unlock(shared))
	})

	run(t, l, func(inv *ledger.Invocation) {
		data, err := inv.Data(target(false).Key)
		require.NoError(t, err)
		cur, err := lock.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, lock.None, cur.Kind)

		done, err := lock.NewManager(inv, holder(9), lease, 1).Lock([]lock.Target{target(true)})
		require.NoError(t, err)
		assert.True(t, done)
	})
}

func TestSharedLockBound(t *testing.T) {
	l := newLedger(t)
	shared := []lock.Target{target(false)}

	inv := l.Begin(thor.MaxAccountDataIncrease * 2)
	defer inv.Discard()
	for i := 0; i < thor.MaxSharedHolders; i++ {
		done, err := lock.NewManager(inv, holder(i), lease, 0).Lock(shared)
		require.NoError(t, err, "reader %d", i+1)
		require.True(t, done)
	}
	_, err := lock.NewManager(inv, holder(thor.MaxSharedHolders), lease, 0).Lock(shared)
	assert.True(t, errors.Is(err, lock.ErrTooManyReaders))
}

func TestExclusiveOverExpiredShared(t *testing.T) {
	l := newLedger(t)
	shared := []lock.Target{target(false)}

	run(t, l, func(inv *ledger.Invocation) {
		_, err := lock.NewManager(inv, holder(1), lease, 0).Lock(shared)
		require.NoError(t, err)
	})
	run(t, l, func(inv *ledger.Invocation) {
		_, err := lock.NewManager(inv, holder(2), lease, 5).Lock([]lock.Target{target(true)})
		require.NoError(t, err)
		readers, err := lock.Readers(inv, target(false).Key)
		require.NoError(t, err)
		assert.Empty(t, readers)

		ok, err := lock.NewManager(inv, holder(1), lease, 5).Locked(shared)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLeasePreemption(t *testing.T) {
	l := newLedger(t)
	targets := []lock.Target{target(true)}

	// T1 locks A at t=0 and stalls
	run(t, l, func(inv *ledger.Invocation) {
		_, err := lock.NewManager(inv, holder(1), lease, 0).Lock(targets)
		require.NoError(t, err)
	})
	// T2 takes A over at t=3
	run(t, l, func(inv *ledger.Invocation) {
		done, err := lock.NewManager(inv, holder(2), lease, 3).Lock(targets)
		require.NoError(t, err)
		assert.True(t, done)
	})
	run(t, l, func(inv *ledger.Invocation) {
		t1 := lock.NewManager(inv, holder(1), lease, 3)
		ok, err := t1.Locked(targets)
		require.NoError(t, err)
		assert.False(t, ok)

		// unlock of a stolen lock is skipped
		require.NoError(t, t1.Unlock(targets))
		data, err := inv.Data(targets[0].Key)
		require.NoError(t, err)
		cur, err := lock.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, holder(2), cur.Holder)
	})
}

func TestLockedRefreshes(t *testing.T) {
	l := newLedger(t)
	targets := []lock.Target{target(true)}

	run(t, l, func(inv *ledger.Invocation) {
		_, err := lock.NewManager(inv, holder(1), lease, 0).Lock(targets)
		require.NoError(t, err)
	})
	run(t, l, func(inv *ledger.Invocation) {
		ok, err := lock.NewManager(inv, holder(1), lease, 1).Locked(targets)
		require.NoError(t, err)
		assert.True(t, ok)
	})
	// refreshed at t=1, still held at t=2
	inv := l.Begin(0)
	defer inv.Discard()
	_, err := lock.NewManager(inv, holder(2), lease, 2).Lock(targets)
	assert.True(t, errors.Is(err, lock.ErrAccountLocked))
}

func TestLockCreationBudget(t *testing.T) {
	l := newLedger(t)

	inv := l.Begin(acc.BalanceSize - 1)
	done, err := lock.NewManager(inv, holder(1), lease, 0).Lock([]lock.Target{target(true)})
	require.NoError(t, err)
	assert.False(t, done)
	inv.Discard()

	inv = l.Begin(acc.BalanceSize)
	done, err = lock.NewManager(inv, holder(1), lease, 0).Lock([]lock.Target{target(true)})
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, inv.Commit())
}
