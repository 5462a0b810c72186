// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package xenv provides the host environment seen by the execution engine.
package xenv

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/vechain/itervm/thor"
)

// blockHashWindow is the number of most recent slots whose hash is observable.
const blockHashWindow = 256

// Environment is the read-only host capability passed to every component
// that needs time, slot or chain data.
type Environment interface {
	// Now returns the host clock in unix seconds.
	Now() int64
	// Slot returns the current host slot.
	Slot() uint64
	// BlockHash returns the hash of the given slot, or zero if it is
	// not within the observable window.
	BlockHash(slot uint64) thor.Bytes32
	ChainID() uint64
	// Signer returns the operator submitting the current invocation.
	Signer() thor.Address
}

// Static is an Environment whose clock and slot are set explicitly.
type Static struct {
	mu      sync.RWMutex
	now     int64
	slot    uint64
	chainID uint64
	signer  thor.Address
	hashes  map[uint64]thor.Bytes32
}

var _ Environment = (*Static)(nil)

// NewStatic creates a static environment.
func NewStatic(now int64, slot uint64, chainID uint64, signer thor.Address) *Static {
	return &Static{
		now:     now,
		slot:    slot,
		chainID: chainID,
		signer:  signer,
		hashes:  make(map[uint64]thor.Bytes32),
	}
}

// NewSystem creates an environment initialized from the wall clock.
// The slot is derived from the clock in seconds.
func NewSystem(chainID uint64, signer thor.Address) *Static {
	now := time.Now().Unix()
	return NewStatic(now, uint64(now), chainID, signer)
}

func (s *Static) Now() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now
}

func (s *Static) Slot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slot
}

func (s *Static) ChainID() uint64 { return s.chainID }

func (s *Static) Signer() thor.Address { return s.signer }

// BlockHash returns the recorded hash for the slot, falling back to a hash
// derived from the slot number.
func (s *Static) BlockHash(slot uint64) thor.Bytes32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if slot >= s.slot || s.slot-slot > blockHashWindow {
		return thor.Bytes32{}
	}
	if h, ok := s.hashes[slot]; ok {
		return h
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], slot)
	return thor.Keccak256([]byte("slot"), b[:])
}

// SetBlockHash records the hash of a slot.
func (s *Static) SetBlockHash(slot uint64, hash thor.Bytes32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[slot] = hash
}

// SetNow sets the clock.
func (s *Static) SetNow(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Advance moves the clock and the slot forward.
func (s *Static) Advance(seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += seconds
	if seconds > 0 {
		s.slot += uint64(seconds)
	}
}
