// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ledger emulates the host ledger: a set of keyed byte buffers whose
// size can only change by a bounded amount in each invocation.
package ledger

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/qianbin/directcache"

	"github.com/vechain/itervm/alloc"
	"github.com/vechain/itervm/cache"
	"github.com/vechain/itervm/kv"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/metrics"
	"github.com/vechain/itervm/thor"
)

// ErrWriteZero is returned when a write goes beyond the capacity of an account.
// The caller is expected to grow the account and retry.
var ErrWriteZero = errors.New("ledger: write beyond account capacity")

var (
	logger = log.WithContext("pkg", "ledger")

	metricAllocBytes   = metrics.LazyLoadCounter("ledger_alloc_bytes")
	metricDeallocBytes = metrics.LazyLoadCounter("ledger_dealloc_bytes")

	accountBucket = kv.Bucket("a")
)

// Ledger is the durable account store.
type Ledger struct {
	store kv.Store
	mu    sync.Mutex

	// committed accounts, prefixed by a presence byte
	cache      *directcache.Cache
	cacheStats *cache.Stats
}

// New creates a ledger over the kv store.
func New(store kv.Store) *Ledger {
	return &Ledger{store: accountBucket.NewStore(store)}
}

// NewCached creates a ledger which caches committed accounts in sizeMB of memory.
func NewCached(store kv.Store, sizeMB int) *Ledger {
	l := New(store)
	l.cache = directcache.New(sizeMB * 1024 * 1024)
	l.cacheStats = cache.NewStats("accounts")
	return l
}

// Get returns the committed data of an account, nil if absent.
func (l *Ledger) Get(key thor.Bytes32) ([]byte, error) {
	if data, ok := l.cached(key); ok {
		return data, nil
	}
	data, err := l.store.Get(key[:])
	if err != nil {
		if !l.store.IsNotFound(err) {
			return nil, errors.Wrap(err, "get account")
		}
		data = nil
	}
	l.setCache(key, data)
	return data, nil
}

func (l *Ledger) cached(key thor.Bytes32) ([]byte, bool) {
	if l.cache == nil {
		return nil, false
	}
	var data []byte
	if l.cache.AdvGet(key[:], func(val []byte) {
		if len(val) > 1 {
			data = slices.Clone(val[1:])
		}
	}, false) {
		l.cacheStats.Hit()
		return data, true
	}
	l.cacheStats.Miss()
	return nil, false
}

func (l *Ledger) setCache(key thor.Bytes32, data []byte) {
	if l.cache == nil {
		return
	}
	var present byte
	if len(data) > 0 {
		present = 1
	}
	_ = l.cache.AdvSet(key[:], len(data)+1, func(val []byte) {
		val[0] = present
		copy(val[1:], data)
	})
}

// Keys iterates the keys of all accounts.
func (l *Ledger) Keys(fn func(key thor.Bytes32, size int) bool) error {
	iter := l.store.Iterate(kv.Range{})
	defer iter.Release()
	for iter.Next() {
		if !fn(thor.BytesToBytes32(iter.Key()), len(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

// Begin starts an invocation which may grow accounts by at most budget bytes.
// Invocations are serialized: Begin blocks until the previous one is committed or discarded.
func (l *Ledger) Begin(budget int) *Invocation {
	l.mu.Lock()
	if budget < 0 {
		budget = 0
	}
	return &Invocation{
		ledger: l,
		alloc:  alloc.New(uint64(budget)),
		dirty:  make(map[thor.Bytes32][]byte),
	}
}

// Invocation is a pending set of account mutations.
type Invocation struct {
	ledger *Ledger
	alloc  *alloc.Ledger
	dirty  map[thor.Bytes32][]byte
	done   bool
}

// Alloc returns the allocation counters of the invocation.
func (inv *Invocation) Alloc() *alloc.Ledger {
	return inv.alloc
}

// Data returns the data of an account. The returned slice must not be modified.
func (inv *Invocation) Data(key thor.Bytes32) ([]byte, error) {
	if data, ok := inv.dirty[key]; ok {
		return data, nil
	}
	return inv.ledger.Get(key)
}

// Capacity returns the size of an account, 0 if absent.
func (inv *Invocation) Capacity(key thor.Bytes32) (int, error) {
	data, err := inv.Data(key)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (inv *Invocation) mutable(key thor.Bytes32) ([]byte, error) {
	if data, ok := inv.dirty[key]; ok {
		return data, nil
	}
	data, err := inv.ledger.Get(key)
	if err != nil {
		return nil, err
	}
	cpy := append([]byte(nil), data...)
	inv.dirty[key] = cpy
	return cpy, nil
}

// Write writes data at the offset of an account.
// It returns ErrWriteZero if the account is not large enough.
func (inv *Invocation) Write(key thor.Bytes32, offset int, data []byte) error {
	if offset < 0 {
		return errors.Errorf("ledger: negative offset %d", offset)
	}
	buf, err := inv.mutable(key)
	if err != nil {
		return err
	}
	if offset+len(data) > len(buf) {
		return errors.Wrapf(ErrWriteZero, "account %v, write [%d, %d), capacity %d",
			key.AbbrevString(), offset, offset+len(data), len(buf))
	}
	copy(buf[offset:], data)
	return nil
}

// Resize changes the size of an account. Growth is zero filled.
// A size of zero removes the account.
func (inv *Invocation) Resize(key thor.Bytes32, size int) error {
	if size < 0 {
		return errors.Errorf("ledger: negative size %d", size)
	}
	buf, err := inv.mutable(key)
	if err != nil {
		return err
	}
	switch {
	case size > len(buf):
		if err := inv.alloc.Alloc(uint64(size - len(buf))); err != nil {
			return err
		}
		grown := make([]byte, size)
		copy(grown, buf)
		inv.dirty[key] = grown
	case size < len(buf):
		if err := inv.alloc.Dealloc(uint64(len(buf) - size)); err != nil {
			return err
		}
		inv.dirty[key] = buf[:size:size]
	}
	return nil
}

// Commit writes all mutations to the store and ends the invocation.
func (inv *Invocation) Commit() error {
	if inv.done {
		return errors.New("ledger: invocation already ended")
	}
	defer inv.end()

	bulk := inv.ledger.store.Bulk()
	for key, data := range inv.dirty {
		if len(data) == 0 {
			if err := bulk.Delete(key[:]); err != nil {
				return err
			}
			continue
		}
		if err := bulk.Put(key[:], data); err != nil {
			return err
		}
	}
	if err := bulk.Write(); err != nil {
		return errors.Wrap(err, "commit invocation")
	}
	for key, data := range inv.dirty {
		inv.ledger.setCache(key, data)
	}

	c := inv.alloc.Counters()
	metricAllocBytes().Add(int64(c.Alloc))
	metricDeallocBytes().Add(int64(c.Dealloc))
	logger.Trace("invocation committed", "accounts", len(inv.dirty), "alloc", c.Alloc, "dealloc", c.Dealloc)
	return nil
}

// Discard drops all mutations and ends the invocation. It is safe to call after Commit.
func (inv *Invocation) Discard() {
	if inv.done {
		return
	}
	inv.end()
}

func (inv *Invocation) end() {
	inv.done = true
	inv.dirty = nil
	inv.ledger.mu.Unlock()
}
