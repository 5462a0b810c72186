// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tx

import (
	"github.com/holiman/uint256"

	"github.com/vechain/itervm/thor"
)

// Log is an event emitted by a contract.
type Log struct {
	Address thor.Address
	Topics  []thor.Bytes32
	Data    []byte
}

// Receipt represents the results of a transaction.
type Receipt struct {
	TxHash thor.Bytes32
	// Reverted is set when the execution failed, only the nonce and fees were applied.
	Reverted bool
	// Reason is the exit reason of the outermost frame.
	Reason string
	GasUsed uint64
	// Paid is the fee transferred to the recipient.
	Paid *uint256.Int
	// Output is the return or revert data of the outermost frame.
	Output []byte
	// Created lists contracts deployed by the tx.
	Created []thor.Address
	Logs    []*Log
}
