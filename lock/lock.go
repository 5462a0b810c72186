// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package lock implements the lease based account locks.
//
// A lock is stored in the header of every managed account. It is active only
// within the lease window after its timestamp, so a stalled holder can be
// preempted by anyone once the lease elapses. Holders of a shared lock are
// listed in a satellite readers account.
package lock

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/thor"
)

var (
	ErrAccountLocked  = errors.New("account locked")
	ErrSharedWrite    = errors.New("write to a shared locked account")
	ErrTooManyReaders = errors.New("too many read-only accounts")
	ErrNotManaged     = errors.New("not a managed account")
)

// Kind is the kind of a lock.
type Kind byte

const (
	None Kind = iota
	SharedRead
	ExclusiveWrite
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case SharedRead:
		return "shared"
	case ExclusiveWrite:
		return "exclusive"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Lock is the lock header of a managed account.
type Lock struct {
	Kind      Kind
	Holder    thor.Bytes32 // zero for shared locks
	Timestamp int64
}

// Decode reads the lock header from account data.
func Decode(data []byte) (Lock, error) {
	if len(data) < acc.BodyOffset || !acc.TagOf(data).Managed() {
		return Lock{}, ErrNotManaged
	}
	h := data[acc.LockOffset:acc.BodyOffset]
	l := Lock{
		Kind:      Kind(h[0]),
		Holder:    thor.BytesToBytes32(h[1:33]),
		Timestamp: int64(binary.BigEndian.Uint64(h[33:])),
	}
	if l.Kind > ExclusiveWrite {
		return Lock{}, errors.Errorf("invalid lock kind %d", h[0])
	}
	return l, nil
}

// Encode encodes the lock header.
func (l Lock) Encode() []byte {
	b := make([]byte, acc.LockSize)
	b[0] = byte(l.Kind)
	copy(b[1:33], l.Holder[:])
	binary.BigEndian.PutUint64(b[33:], uint64(l.Timestamp))
	return b
}

// Active returns whether the lock is still within its lease.
func (l Lock) Active(now, lease int64) bool {
	return l.Kind != None && now-l.Timestamp < lease
}

// LockedError reports the holder of a conflicting lock.
type LockedError struct {
	Key    thor.Bytes32
	Kind   Kind
	Holder thor.Bytes32
}

func (e *LockedError) Error() string {
	if e.Kind == SharedRead {
		return fmt.Sprintf("account %v shared locked", e.Key.AbbrevString())
	}
	return fmt.Sprintf("account %v locked by %v", e.Key.AbbrevString(), e.Holder.AbbrevString())
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
