// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package journal

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
)

// Kind is the kind of a state diff.
type Kind byte

const (
	IncNonce Kind = iota + 1
	AddBalance
	SubBalance
	SetStorage
	SetCode
	AddLog
	SelfDestruct
)

func (k Kind) String() string {
	switch k {
	case IncNonce:
		return "inc-nonce"
	case AddBalance:
		return "add-balance"
	case SubBalance:
		return "sub-balance"
	case SetStorage:
		return "set-storage"
	case SetCode:
		return "set-code"
	case AddLog:
		return "log"
	case SelfDestruct:
		return "self-destruct"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Diff is a pending change of one address.
// Only the fields relevant to the kind are set.
type Diff struct {
	Kind        Kind
	Slot        thor.Bytes32
	Value       thor.Bytes32
	Amount      *uint256.Int `rlp:"nil"`
	Code        []byte
	Log         *tx.Log `rlp:"nil"`
	Beneficiary thor.Address
}

func (d *Diff) amount() *uint256.Int {
	if d.Amount == nil {
		return new(uint256.Int)
	}
	return d.Amount
}
