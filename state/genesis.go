// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"github.com/holiman/uint256"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/thor"
)

// Fund sets the nonce and balance of an address, bypassing locks.
// Existing lock headers are kept.
func Fund(l lock.Ledger, addr thor.Address, nonce uint64, balance *uint256.Int) error {
	key := acc.BalanceKey(addr)
	data, err := l.Data(key)
	if err != nil {
		return &Error{err}
	}
	if len(data) < acc.BalanceSize {
		if err := l.Resize(key, acc.BalanceSize); err != nil {
			return &Error{err}
		}
	}
	init := acc.NewBalance(addr, nonce, balance)
	if acc.TagOf(data) == acc.TagBalance {
		init = init[acc.BodyOffset:]
		err = l.Write(key, acc.BodyOffset, init)
	} else {
		err = l.Write(key, 0, init)
	}
	if err != nil {
		return &Error{err}
	}
	return nil
}

// Deploy installs code at an address, bypassing locks.
func Deploy(l lock.Ledger, addr thor.Address, code []byte) error {
	key := acc.ContractKey(addr)
	data, err := l.Data(key)
	if err != nil {
		return &Error{err}
	}
	if size := acc.ContractSize(len(code)); len(data) != size {
		if err := l.Resize(key, size); err != nil {
			return &Error{err}
		}
	}
	if acc.TagOf(data) != acc.TagContract {
		if err := l.Write(key, 0, acc.NewContract(addr, code)); err != nil {
			return &Error{err}
		}
		return nil
	}
	off, v := acc.CodeField(addr, code)
	if err := l.Write(key, off, v); err != nil {
		return &Error{err}
	}
	return nil
}
