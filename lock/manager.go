// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package lock

import (
	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/alloc"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/metrics"
	"github.com/vechain/itervm/thor"
)

var (
	logger = log.WithContext("pkg", "lock")

	metricConflicts = metrics.LazyLoadCounter("lock_conflicts_count")
)

// Ledger is the account access required by the manager.
type Ledger interface {
	Data(key thor.Bytes32) ([]byte, error)
	Write(key thor.Bytes32, offset int, data []byte) error
	Resize(key thor.Bytes32, size int) error
	Alloc() *alloc.Ledger
}

// Target is an account to be locked.
type Target struct {
	Key      thor.Bytes32
	Writable bool
	// Init is the content of the account if it has to be created.
	Init []byte
}

// Manager locks accounts on behalf of one holder.
type Manager struct {
	ledger Ledger
	holder thor.Bytes32
	lease  int64
	now    int64
}

// NewManager creates a lock manager.
func NewManager(ledger Ledger, holder thor.Bytes32, lease int64, now int64) *Manager {
	return &Manager{
		ledger: ledger,
		holder: holder,
		lease:  lease,
		now:    now,
	}
}

// Holder returns the holder identifier.
func (m *Manager) Holder() thor.Bytes32 { return m.holder }

func (m *Manager) loadLock(key thor.Bytes32) (Lock, error) {
	data, err := m.ledger.Data(key)
	if err != nil {
		return Lock{}, err
	}
	l, err := Decode(data)
	if err != nil {
		return Lock{}, errors.Wrapf(err, "account %v", key.AbbrevString())
	}
	return l, nil
}

func (m *Manager) put(key thor.Bytes32, l Lock) error {
	return m.ledger.Write(key, acc.LockOffset, l.Encode())
}

// create initializes a missing account. It returns false if the
// allocation budget of this invocation is not enough.
func (m *Manager) create(t Target) (bool, error) {
	if uint64(len(t.Init)) > m.ledger.Alloc().Remaining() {
		return false, nil
	}
	if err := m.ledger.Resize(t.Key, len(t.Init)); err != nil {
		return false, err
	}
	return true, m.ledger.Write(t.Key, 0, t.Init)
}

// Lock acquires or refreshes the lock of every target.
// It returns false if missing accounts could not be created within the
// allocation budget, and the call should be repeated in the next invocation.
func (m *Manager) Lock(targets []Target) (bool, error) {
	for _, t := range targets {
		data, err := m.ledger.Data(t.Key)
		if err != nil {
			return false, err
		}
		if len(data) == 0 {
			ok, err := m.create(t)
			if err != nil || !ok {
				return false, err
			}
		}
		cur, err := m.loadLock(t.Key)
		if err != nil {
			return false, err
		}
		active := cur.Active(m.now, m.lease)

		if t.Writable {
			if active && !(cur.Kind == ExclusiveWrite && cur.Holder == m.holder) {
				metricConflicts().Add(1)
				return false, &LockedError{Key: t.Key, Kind: cur.Kind, Holder: cur.Holder}
			}
			if cur.Kind == SharedRead {
				// expired shared lock, the listed readers are stale
				if err := m.resetReaders(t.Key); err != nil {
					return false, err
				}
			}
			if err := m.put(t.Key, Lock{Kind: ExclusiveWrite, Holder: m.holder, Timestamp: m.now}); err != nil {
				return false, err
			}
			continue
		}

		if active && cur.Kind == ExclusiveWrite {
			if cur.Holder == m.holder {
				// already covered by the exclusive lock
				if err := m.put(t.Key, Lock{Kind: ExclusiveWrite, Holder: m.holder, Timestamp: m.now}); err != nil {
					return false, err
				}
				continue
			}
			metricConflicts().Add(1)
			return false, &LockedError{Key: t.Key, Kind: cur.Kind, Holder: cur.Holder}
		}
		if cur.Kind == SharedRead && !active {
			if err := m.resetReaders(t.Key); err != nil {
				return false, err
			}
		}
		ok, err := m.addReader(t.Key)
		if err != nil || !ok {
			return false, err
		}
		if err := m.put(t.Key, Lock{Kind: SharedRead, Timestamp: m.now}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Locked checks every target is still held by this holder, refreshing the timestamps.
// A lock taken over by another holder after its lease expired is reported as false.
func (m *Manager) Locked(targets []Target) (bool, error) {
	for _, t := range targets {
		data, err := m.ledger.Data(t.Key)
		if err != nil {
			return false, err
		}
		if len(data) == 0 {
			return false, nil
		}
		cur, err := m.loadLock(t.Key)
		if err != nil {
			return false, err
		}

		if t.Writable {
			if cur.Kind != ExclusiveWrite || cur.Holder != m.holder {
				return false, nil
			}
			if err := m.put(t.Key, Lock{Kind: ExclusiveWrite, Holder: m.holder, Timestamp: m.now}); err != nil {
				return false, err
			}
			continue
		}

		switch cur.Kind {
		case ExclusiveWrite:
			if cur.Holder != m.holder {
				return false, nil
			}
		case SharedRead:
			r, err := m.ledger.Data(acc.ReadersKey(t.Key))
			if err != nil {
				return false, err
			}
			if readers(r).index(m.holder) < 0 {
				return false, nil
			}
		default:
			return false, nil
		}
		cur.Timestamp = m.now
		if err := m.put(t.Key, cur); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Unlock releases the locks of every target.
// Locks already taken over by another holder are skipped.
func (m *Manager) Unlock(targets []Target) error {
	for _, t := range targets {
		data, err := m.ledger.Data(t.Key)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			logger.Warn("unlock missing account", "key", t.Key.AbbrevString())
			continue
		}
		cur, err := m.loadLock(t.Key)
		if err != nil {
			return err
		}

		if cur.Kind == ExclusiveWrite {
			if cur.Holder != m.holder {
				logger.Warn("lock was taken over, skip", "key", t.Key.AbbrevString(), "holder", cur.Holder.AbbrevString())
				continue
			}
			if err := m.put(t.Key, Lock{}); err != nil {
				return err
			}
			continue
		}
		if cur.Kind != SharedRead {
			logger.Warn("lock already released, skip", "key", t.Key.AbbrevString())
			continue
		}
		if t.Writable {
			logger.Warn("lock was taken over, skip", "key", t.Key.AbbrevString(), "kind", cur.Kind)
			continue
		}
		left, err := m.removeReader(t.Key)
		if err != nil {
			return err
		}
		if left == 0 {
			if err := m.put(t.Key, Lock{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Readers returns the shared lock holders listed for the account.
func Readers(ledger interface {
	Data(key thor.Bytes32) ([]byte, error)
}, key thor.Bytes32) ([]thor.Bytes32, error) {
	data, err := ledger.Data(acc.ReadersKey(key))
	if err != nil {
		return nil, err
	}
	return readers(data).holders(), nil
}

func (m *Manager) writeReaders(key thor.Bytes32, holders []thor.Bytes32) error {
	enc := encodeReaders(holders)
	return m.ledger.Write(acc.ReadersKey(key), 0, enc)
}

func (m *Manager) resetReaders(key thor.Bytes32) error {
	data, err := m.ledger.Data(acc.ReadersKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return m.writeReaders(key, nil)
}

// addReader appends this holder to the readers list, growing the satellite if needed.
func (m *Manager) addReader(key thor.Bytes32) (bool, error) {
	rkey := acc.ReadersKey(key)
	data, err := m.ledger.Data(rkey)
	if err != nil {
		return false, err
	}
	r := readers(data)
	if r.index(m.holder) >= 0 {
		return true, nil
	}
	holders := r.holders()
	if len(holders) >= thor.MaxSharedHolders {
		return false, ErrTooManyReaders
	}
	holders = append(holders, m.holder)

	if size := readersSize(len(holders)); size > len(data) {
		if uint64(size-len(data)) > m.ledger.Alloc().Remaining() {
			return false, nil
		}
		if err := m.ledger.Resize(rkey, size); err != nil {
			return false, err
		}
	}
	return true, m.writeReaders(key, holders)
}

// removeReader removes this holder from the readers list and returns the number of readers left.
func (m *Manager) removeReader(key thor.Bytes32) (int, error) {
	data, err := m.ledger.Data(acc.ReadersKey(key))
	if err != nil {
		return 0, err
	}
	r := readers(data)
	holders := r.holders()
	i := r.index(m.holder)
	if i < 0 {
		logger.Warn("not a reader, skip", "key", key.AbbrevString(), "holder", m.holder.AbbrevString())
		return len(holders), nil
	}
	holders = append(holders[:i], holders[i+1:]...)
	if err := m.writeReaders(key, holders); err != nil {
		return 0, err
	}
	return len(holders), nil
}
