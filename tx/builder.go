// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tx

import (
	"github.com/holiman/uint256"

	"github.com/vechain/itervm/thor"
)

// Builder to make it easy to build transaction.
type Builder struct {
	body body
}

// NewBuilder creates a builder of a transfer with zero value.
func NewBuilder() *Builder {
	return &Builder{body: body{
		GasPrice: new(uint256.Int),
		Value:    new(uint256.Int),
	}}
}

// ChainID set chain id.
func (b *Builder) ChainID(id uint64) *Builder {
	b.body.ChainID = id
	return b
}

// Nonce set nonce.
func (b *Builder) Nonce(nonce uint64) *Builder {
	b.body.Nonce = nonce
	return b
}

// GasPrice set gas price.
func (b *Builder) GasPrice(price *uint256.Int) *Builder {
	b.body.GasPrice = new(uint256.Int).Set(price)
	return b
}

// Gas set gas provision for tx.
func (b *Builder) Gas(gas uint64) *Builder {
	b.body.Gas = gas
	return b
}

// From set sender.
func (b *Builder) From(from thor.Address) *Builder {
	b.body.From = from
	return b
}

// To set recipient, nil for contract creation.
func (b *Builder) To(to *thor.Address) *Builder {
	if to == nil {
		b.body.To = nil
	} else {
		cpy := *to
		b.body.To = &cpy
	}
	return b
}

// DeployAt set the fixed address of the contract created.
func (b *Builder) DeployAt(addr *thor.Address) *Builder {
	if addr == nil {
		b.body.DeployAt = nil
	} else {
		cpy := *addr
		b.body.DeployAt = &cpy
	}
	return b
}

// Value set value.
func (b *Builder) Value(value *uint256.Int) *Builder {
	b.body.Value = new(uint256.Int).Set(value)
	return b
}

// Data set call data or init code.
func (b *Builder) Data(data []byte) *Builder {
	b.body.Data = append([]byte(nil), data...)
	return b
}

// Build builds a tx object.
func (b *Builder) Build() *Transaction {
	tx := Transaction{body: b.body}
	tx.body.Data = append([]byte(nil), b.body.Data...)
	return &tx
}
