// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm

import (
	gethvm "github.com/ethereum/go-ethereum/core/vm"

	"github.com/vechain/itervm/thor"
)

// precompiles is the closed set of native contracts, keyed by address.
var precompiles = func() map[thor.Address]gethvm.PrecompiledContract {
	m := make(map[thor.Address]gethvm.PrecompiledContract, len(gethvm.PrecompiledContractsBerlin))
	for addr, p := range gethvm.PrecompiledContractsBerlin {
		m[thor.Address(addr)] = p
	}
	return m
}()

// IsPrecompile returns whether addr is a native contract.
func IsPrecompile(addr thor.Address) bool {
	_, ok := precompiles[addr]
	return ok
}
