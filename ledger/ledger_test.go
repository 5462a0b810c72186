// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/alloc"
	"github.com/vechain/itervm/lvldb"
	"github.com/vechain/itervm/thor"
)

func newLedger(t *testing.T) *Ledger {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestInvocationCommit(t *testing.T) {
	l := newLedger(t)
	key := thor.BytesToBytes32([]byte("acc"))

	inv := l.Begin(100)
	assert.True(t, errors.Is(inv.Write(key, 0, []byte{1}), ErrWriteZero))

	require.NoError(t, inv.Resize(key, 4))
	require.NoError(t, inv.Write(key, 1, []byte{1, 2}))
	assert.True(t, errors.Is(inv.Write(key, 3, []byte{1, 2}), ErrWriteZero))

	c, err := inv.Capacity(key)
	require.NoError(t, err)
	assert.Equal(t, 4, c)

	data, err := l.Get(key)
	require.NoError(t, err)
	assert.Nil(t, data, "not visible before commit")

	require.NoError(t, inv.Commit())

	data, err = l.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0}, data)
}

func TestInvocationDiscard(t *testing.T) {
	l := newLedger(t)
	key := thor.BytesToBytes32([]byte("acc"))

	inv := l.Begin(100)
	require.NoError(t, inv.Resize(key, 8))
	inv.Discard()
	inv.Discard()

	data, err := l.Get(key)
	require.NoError(t, err)
	assert.Nil(t, data)

	// ledger is usable again
	inv = l.Begin(100)
	inv.Discard()
}

func TestInvocationBudget(t *testing.T) {
	l := newLedger(t)
	a := thor.BytesToBytes32([]byte("a"))
	b := thor.BytesToBytes32([]byte("b"))

	inv := l.Begin(10)
	require.NoError(t, inv.Resize(a, 6))
	assert.True(t, errors.Is(inv.Resize(b, 5), alloc.ErrBudgetExceeded))
	require.NoError(t, inv.Resize(b, 4))
	assert.Equal(t, uint64(0), inv.Alloc().Remaining())
	require.NoError(t, inv.Commit())
}

func TestInvocationMixedResize(t *testing.T) {
	l := newLedger(t)
	a := thor.BytesToBytes32([]byte("a"))
	b := thor.BytesToBytes32([]byte("b"))

	inv := l.Begin(100)
	require.NoError(t, inv.Resize(a, 10))
	require.NoError(t, inv.Commit())

	// growing one account by 10 and shrinking another by 10 is rejected
	inv = l.Begin(100)
	require.NoError(t, inv.Resize(b, 10))
	assert.True(t, errors.Is(inv.Resize(a, 0), alloc.ErrMixedAllocation))
	inv.Discard()

	inv = l.Begin(100)
	require.NoError(t, inv.Resize(a, 0))
	require.NoError(t, inv.Commit())

	has := false
	require.NoError(t, l.Keys(func(key thor.Bytes32, _ int) bool {
		has = has || key == a
		return true
	}))
	assert.False(t, has, "account removed")
}

func TestCachedLedger(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	defer db.Close()
	l := NewCached(db, 1)
	key := thor.BytesToBytes32([]byte("acc"))

	// absence is cached too
	for range 2 {
		data, err := l.Get(key)
		require.NoError(t, err)
		assert.Nil(t, data)
	}

	inv := l.Begin(100)
	require.NoError(t, inv.Resize(key, 3))
	require.NoError(t, inv.Write(key, 0, []byte{7, 8, 9}))
	require.NoError(t, inv.Commit())

	data, err := l.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9}, data)

	// the cached copy is not shared
	data[0] = 0
	data, err = l.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9}, data)

	inv = l.Begin(0)
	require.NoError(t, inv.Resize(key, 0))
	require.NoError(t, inv.Commit())
	data, err = l.Get(key)
	require.NoError(t, err)
	assert.Nil(t, data)
}
