// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package thor

import (
	"github.com/ethereum/go-ethereum/params"
)

// Constants of the execution engine.
const (
	TxGas                 uint64 = params.TxGas                 // intrinsic gas of a call transaction.
	TxGasContractCreation uint64 = params.TxGasContractCreation // intrinsic gas of a deploy transaction.
	StepGas               uint64 = 1                            // gas charged per executed opcode.

	MaxCodeSize  = params.MaxCodeSize // 24576
	MaxCallDepth = int(params.CallCreateDepth)

	// MaxSharedHolders is the limit of concurrent shared-lock holders of one account,
	// bound by the address batching of the host ledger.
	MaxSharedHolders = 256

	// MaxAccountDataIncrease is the maximum growth of account data in one invocation.
	MaxAccountDataIncrease = 10 * 1024
)

// Default values of Config.
const (
	DefaultLeaseDuration       int64  = 2
	DefaultOpcodesPerIteration uint64 = 500
	DefaultComputeBudget       uint64 = 1_400_000 / 200
	DefaultAllocationBudget           = MaxAccountDataIncrease
)
