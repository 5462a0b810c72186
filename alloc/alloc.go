// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package alloc accounts the growth and shrinkage of ledger accounts within one
// invocation. The host resize primitive can not grow and shrink in the same
// invocation, so the counters are mutually exclusive.
package alloc

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrMixedAllocation = errors.New("alloc: allocation and deallocation in the same invocation")
	ErrOverflow        = errors.New("alloc: counter overflow")
	ErrUnderflow       = errors.New("alloc: counter underflow")
	ErrBudgetExceeded  = errors.New("alloc: invocation budget exceeded")
)

// Counters is a copy of the ledger counters.
type Counters struct {
	Alloc        uint64
	Dealloc      uint64
	AllocPayed   uint64
	DeallocPayed uint64
}

// Ledger keeps the allocation counters of one invocation.
type Ledger struct {
	mu     sync.Mutex
	budget uint64
	c      Counters
}

// New creates a ledger which allows at most budget bytes of growth.
func New(budget uint64) *Ledger {
	return &Ledger{budget: budget}
}

// Alloc records n bytes of growth.
func (l *Ledger) Alloc(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c.Dealloc > 0 {
		return ErrMixedAllocation
	}
	if n > math.MaxUint64-l.c.Alloc {
		return ErrOverflow
	}
	if l.c.Alloc+n > l.budget {
		return errors.Wrapf(ErrBudgetExceeded, "alloc %d, used %d of %d", n, l.c.Alloc, l.budget)
	}
	l.c.Alloc += n
	return nil
}

// Dealloc records n bytes of shrinkage.
func (l *Ledger) Dealloc(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c.Alloc > 0 {
		return ErrMixedAllocation
	}
	if n > math.MaxUint64-l.c.Dealloc {
		return ErrOverflow
	}
	l.c.Dealloc += n
	return nil
}

// PayAlloc marks n allocated bytes as paid for.
func (l *Ledger) PayAlloc(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c.AllocPayed+n > l.c.Alloc || l.c.AllocPayed+n < l.c.AllocPayed {
		return ErrUnderflow
	}
	l.c.AllocPayed += n
	return nil
}

// PayDealloc marks n deallocated bytes as refunded.
func (l *Ledger) PayDealloc(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c.DeallocPayed+n > l.c.Dealloc || l.c.DeallocPayed+n < l.c.DeallocPayed {
		return ErrUnderflow
	}
	l.c.DeallocPayed += n
	return nil
}

// Remaining returns how many bytes may still be allocated.
func (l *Ledger) Remaining() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c.Dealloc > 0 {
		return 0
	}
	return l.budget - l.c.Alloc
}

// Unpaid returns allocated bytes not yet paid for.
func (l *Ledger) Unpaid() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Alloc - l.c.AllocPayed
}

// Counters returns a copy of the counters.
func (l *Ledger) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c
}
