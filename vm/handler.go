// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm

import (
	"github.com/holiman/uint256"

	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm/evm"
	"github.com/vechain/itervm/xenv"
)

// handler routes the machine of one frame to the journal.
type handler struct {
	vm      *Vm
	origin  state.Origin
	env     xenv.Environment
	mutable bool
}

var _ evm.Handler = (*handler)(nil)

func (h *handler) Balance(addr thor.Address) (*uint256.Int, error) {
	return h.vm.journal.Balance(h.origin, addr)
}

func (h *handler) Code(addr thor.Address) ([]byte, error) {
	return h.vm.journal.Code(h.origin, addr)
}

func (h *handler) CodeSize(addr thor.Address) (int, error) {
	code, err := h.Code(addr)
	return len(code), err
}

// CodeHash returns zero for an account without nonce, balance and code.
func (h *handler) CodeHash(addr thor.Address) (thor.Bytes32, error) {
	code, err := h.Code(addr)
	if err != nil {
		return thor.Bytes32{}, err
	}
	if len(code) == 0 {
		nonce, err := h.vm.journal.Nonce(h.origin, addr)
		if err != nil {
			return thor.Bytes32{}, err
		}
		bal, err := h.Balance(addr)
		if err != nil {
			return thor.Bytes32{}, err
		}
		if nonce == 0 && bal.IsZero() {
			return thor.Bytes32{}, nil
		}
	}
	return thor.Keccak256(code), nil
}

func (h *handler) Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error) {
	return h.vm.journal.Storage(h.origin, addr, slot)
}

func (h *handler) SetStorage(addr thor.Address, slot, value thor.Bytes32) error {
	return h.vm.journal.SetStorage(addr, slot, value, h.mutable)
}

func (h *handler) Log(addr thor.Address, topics []thor.Bytes32, data []byte) error {
	return h.vm.journal.AddLog(&tx.Log{Address: addr, Topics: topics, Data: data}, h.mutable)
}

func (h *handler) SelfDestruct(addr, beneficiary thor.Address) error {
	return h.vm.journal.SelfDestruct(h.origin, addr, beneficiary, h.mutable)
}

func (h *handler) Origin() thor.Address   { return h.vm.from }
func (h *handler) GasPrice() *uint256.Int { return h.vm.gasPrice }
func (h *handler) GasLimit() uint64       { return h.vm.gasLimit }
func (h *handler) GasLeft() uint64        { return h.vm.gasLimit - h.vm.gasUsed }
func (h *handler) Coinbase() thor.Address { return h.env.Signer() }
func (h *handler) Timestamp() uint64      { return uint64(h.env.Now()) }
func (h *handler) Number() uint64         { return h.env.Slot() }
func (h *handler) ChainID() uint64        { return h.vm.chainID }

// BlockHash returns the hash of one of the 256 most recent slots, zero otherwise.
func (h *handler) BlockHash(number uint64) thor.Bytes32 {
	cur := h.env.Slot()
	if number >= cur || cur-number > 256 {
		return thor.Bytes32{}
	}
	return h.origin.BlockHash(number)
}
