// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runtime

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm"
)

// AccountMeta declares an account accessed by a transaction.
type AccountMeta struct {
	Address  thor.Address `yaml:"address"`
	Writable bool         `yaml:"writable"`
}

// Instruction requests one invocation of a transaction.
type Instruction struct {
	Holder   thor.Bytes32
	RawTx    []byte
	Accounts []AccountMeta
	// BypassNonce skips the nonce check, for estimation.
	BypassNonce bool
}

// ResolvedTransaction is a decoded transaction with every account it may touch.
type ResolvedTransaction struct {
	Tx       *tx.Transaction
	Holder   thor.Bytes32
	Accounts []state.Account
}

// ResolveTransaction decodes the raw transaction and performs basic validation.
// The sender, the target or the created contract and the fee recipient are
// declared writable in addition to the instruction accounts.
func ResolveTransaction(instr *Instruction, cfg thor.Config) (*ResolvedTransaction, error) {
	trx, err := tx.Decode(instr.RawTx)
	if err != nil {
		return nil, err
	}
	if trx.From().IsZero() {
		return nil, errors.New("tx without sender")
	}
	if instr.Holder.IsZero() {
		return nil, errors.New("zero holder")
	}

	accounts := make([]state.Account, 0, len(instr.Accounts)+3)
	for _, meta := range instr.Accounts {
		accounts = append(accounts, state.Account{Address: meta.Address, Writable: meta.Writable})
	}
	accounts = append(accounts, state.Account{Address: trx.From(), Writable: true})
	if to := trx.To(); to != nil {
		if trx.DeployAt() != nil {
			return nil, errors.New("deploy address set on a call")
		}
		accounts = append(accounts, state.Account{Address: *to, Writable: true})
	} else {
		created := thor.Address(crypto.CreateAddress(common.Address(trx.From()), trx.Nonce()))
		if fixed := trx.DeployAt(); fixed != nil {
			if vm.IsPrecompile(*fixed) {
				return nil, errors.Errorf("deploy address %v is a precompile", *fixed)
			}
			created = *fixed
		}
		accounts = append(accounts, state.Account{Address: created, Writable: true})
	}
	if cfg.FlatFee > 0 || !trx.GasPrice().IsZero() {
		accounts = append(accounts, state.Account{Address: cfg.FeeRecipient, Writable: true})
	}

	return &ResolvedTransaction{
		Tx:       trx,
		Holder:   instr.Holder,
		Accounts: state.Merge(accounts),
	}, nil
}
