// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package alloc

import (
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocExclusive(t *testing.T) {
	l := New(1024)
	require.NoError(t, l.Alloc(10))
	assert.Equal(t, ErrMixedAllocation, l.Dealloc(10))

	l = New(1024)
	require.NoError(t, l.Dealloc(10))
	assert.Equal(t, ErrMixedAllocation, l.Alloc(10))
	assert.Equal(t, uint64(0), l.Remaining())
}

func TestAllocBudget(t *testing.T) {
	l := New(100)
	require.NoError(t, l.Alloc(60))
	assert.Equal(t, uint64(40), l.Remaining())

	err := l.Alloc(41)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
	require.NoError(t, l.Alloc(40))
	assert.Equal(t, uint64(0), l.Remaining())
}

func TestAllocOverflow(t *testing.T) {
	l := New(math.MaxUint64)
	require.NoError(t, l.Dealloc(math.MaxUint64))
	assert.Equal(t, ErrOverflow, l.Dealloc(1))

	l = New(math.MaxUint64)
	require.NoError(t, l.Alloc(math.MaxUint64))
	assert.Equal(t, ErrOverflow, l.Alloc(1))
}

func TestPay(t *testing.T) {
	l := New(100)
	require.NoError(t, l.Alloc(50))
	require.NoError(t, l.PayAlloc(20))
	assert.Equal(t, uint64(30), l.Unpaid())
	assert.Equal(t, ErrUnderflow, l.PayAlloc(31))
	assert.Equal(t, ErrUnderflow, l.PayDealloc(1))

	assert.Equal(t, Counters{Alloc: 50, AllocPayed: 20}, l.Counters())
}

func TestConcurrentAlloc(t *testing.T) {
	l := New(1000)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Alloc(10)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1000), l.Counters().Alloc)
	assert.True(t, errors.Is(l.Alloc(1), ErrBudgetExceeded))
}
