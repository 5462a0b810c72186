// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm_test

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/vm/evm"
)

type memAccount struct {
	nonce   uint64
	balance uint256.Int
	code    []byte
	storage map[thor.Bytes32]thor.Bytes32
}

// memOrigin is a durable state kept in memory.
type memOrigin struct {
	accounts map[thor.Address]*memAccount
	analyzed map[thor.Address]int
}

func newMemOrigin() *memOrigin {
	return &memOrigin{
		accounts: make(map[thor.Address]*memAccount),
		analyzed: make(map[thor.Address]int),
	}
}

func (o *memOrigin) get(addr thor.Address) *memAccount {
	a, ok := o.accounts[addr]
	if !ok {
		a = &memAccount{storage: make(map[thor.Bytes32]thor.Bytes32)}
		o.accounts[addr] = a
	}
	return a
}

func (o *memOrigin) Nonce(addr thor.Address) (uint64, error) { return o.get(addr).nonce, nil }
func (o *memOrigin) Balance(addr thor.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(&o.get(addr).balance), nil
}
func (o *memOrigin) Code(addr thor.Address) ([]byte, error) { return o.get(addr).code, nil }
func (o *memOrigin) ValidJumps(addr thor.Address) (evm.Bitvec, error) {
	o.analyzed[addr]++
	return evm.Analyze(o.get(addr).code), nil
}
func (o *memOrigin) Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error) {
	return o.get(addr).storage[slot], nil
}
func (o *memOrigin) BlockHash(n uint64) thor.Bytes32       { return thor.Bytes32{byte(n)} }
func (o *memOrigin) Account(thor.Bytes32) ([]byte, error)  { return nil, nil }
func (o *memOrigin) Signer() thor.Address                  { return thor.Address{} }
func (o *memOrigin) IncNonce(addr thor.Address) error      { o.get(addr).nonce++; return nil }
func (o *memOrigin) SetCode(addr thor.Address, code []byte) error {
	o.get(addr).code = code
	return nil
}
func (o *memOrigin) AddBalance(addr thor.Address, amount *uint256.Int) error {
	a := o.get(addr)
	a.balance.Add(&a.balance, amount)
	return nil
}
func (o *memOrigin) SubBalance(addr thor.Address, amount *uint256.Int) error {
	a := o.get(addr)
	if a.balance.Lt(amount) {
		return errors.New("insufficient balance")
	}
	a.balance.Sub(&a.balance, amount)
	return nil
}
func (o *memOrigin) SetStorage(addr thor.Address, slot, value thor.Bytes32) error {
	o.get(addr).storage[slot] = value
	return nil
}
