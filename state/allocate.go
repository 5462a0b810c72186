// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/thor"
)

// Requirement is the minimal size an account must reach before the journal can be committed.
type Requirement struct {
	Key  thor.Bytes32
	Size uint32
	Tag  acc.Tag
}

// CodeRequirement returns the requirement of installing code of the given length.
func (s *State) CodeRequirement(addr thor.Address, codeLen int) (Requirement, error) {
	key := acc.ContractKey(addr)
	if err := s.checkWrite(addr, key); err != nil {
		return Requirement{}, err
	}
	c, err := s.contractAccount(addr)
	if err != nil {
		return Requirement{}, err
	}
	if c == nil {
		return Requirement{}, errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
	if n := len(c.Code()); n > 0 && codeLen < n {
		return Requirement{}, errors.Wrapf(ErrUnimplemented, "code of %v shrinks from %d to %d", addr, n, codeLen)
	}
	return Requirement{Key: key, Size: uint32(acc.ContractSize(codeLen)), Tag: acc.TagContract}, nil
}

// StorageRequirements groups the written slots by storage cell and returns
// the size each cell needs to hold its existing and new slots.
func (s *State) StorageRequirements(slots map[thor.Address][]thor.Bytes32) ([]Requirement, error) {
	type cell struct {
		existing acc.Storage
		added    map[byte]struct{}
	}
	cells := make(map[thor.Bytes32]*cell)

	for addr, list := range slots {
		if err := s.checkWrite(addr, acc.ContractKey(addr)); err != nil {
			return nil, err
		}
		for _, slot := range list {
			key, index := acc.StorageKey(addr, slot)
			c, ok := cells[key]
			if !ok {
				data, err := s.ledger.Data(key)
				if err != nil {
					return nil, &Error{err}
				}
				c = &cell{added: make(map[byte]struct{})}
				if acc.TagOf(data) == acc.TagStorage {
					c.existing = acc.Storage(data)
					if !c.existing.Valid() {
						return nil, &Error{errors.Errorf("invalid storage cell of %v", addr)}
					}
				}
				cells[key] = c
			}
			if c.existing != nil {
				if _, found := c.existing.Get(index); found {
					continue
				}
			}
			c.added[index] = struct{}{}
		}
	}

	reqs := make([]Requirement, 0, len(cells))
	for key, c := range cells {
		count := len(c.added)
		if c.existing != nil {
			count += c.existing.Count()
		}
		reqs = append(reqs, Requirement{Key: key, Size: uint32(acc.StorageSize(count)), Tag: acc.TagStorage})
	}
	sort.Slice(reqs, func(i, j int) bool {
		return bytes.Compare(reqs[i].Key[:], reqs[j].Key[:]) < 0
	})
	return reqs, nil
}

// Allocate grows accounts towards their requirements within the remaining
// allocation budget of the invocation. It returns true once every
// requirement is met, otherwise the caller retries in a later invocation.
func (s *State) Allocate(reqs []Requirement) (bool, error) {
	for _, req := range reqs {
		data, err := s.ledger.Data(req.Key)
		if err != nil {
			return false, &Error{err}
		}
		capacity := len(data)
		if capacity >= int(req.Size) {
			continue
		}
		remaining := s.ledger.Alloc().Remaining()
		grow := int(req.Size) - capacity
		if uint64(grow) > remaining {
			grow = int(remaining)
		}
		// a new storage cell must at least fit its header
		if capacity == 0 && req.Tag == acc.TagStorage && grow < acc.StorageSize(0) {
			return false, nil
		}
		if grow == 0 {
			return false, nil
		}
		if err := s.ledger.Resize(req.Key, capacity+grow); err != nil {
			return false, &Error{err}
		}
		if capacity == 0 && req.Tag == acc.TagStorage {
			if err := s.ledger.Write(req.Key, 0, []byte{byte(acc.TagStorage), 0, 0}); err != nil {
				return false, &Error{err}
			}
		}
		if capacity+grow < int(req.Size) {
			logger.Debug("allocation deferred", "account", req.Key.AbbrevString(), "size", capacity+grow, "required", req.Size)
			return false, nil
		}
	}
	return true, nil
}
