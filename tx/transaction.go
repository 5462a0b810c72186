// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tx

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/thor"
)

// Transaction is an immutable tx type.
// The sender is carried explicitly, signature recovery happens before dispatch.
type Transaction struct {
	body body

	cache struct {
		hash atomic.Value
	}
}

// body describes details of a tx.
type body struct {
	ChainID  uint64
	Nonce    uint64
	GasPrice *uint256.Int
	Gas      uint64
	From     thor.Address
	To       *thor.Address `rlp:"nil"`
	Value    *uint256.Int
	Data     []byte
	// DeployAt is the fixed address of the contract created, if set.
	DeployAt *thor.Address `rlp:"optional"`
}

// Decode decodes a raw transaction.
func Decode(raw []byte) (*Transaction, error) {
	var t Transaction
	if err := rlp.DecodeBytes(raw, &t); err != nil {
		return nil, errors.Wrap(err, "decode tx")
	}
	return &t, nil
}

// Hash returns hash of tx.
func (t *Transaction) Hash() thor.Bytes32 {
	if cached := t.cache.hash.Load(); cached != nil {
		return cached.(thor.Bytes32)
	}
	data, err := rlp.EncodeToBytes(t)
	if err != nil {
		panic(err)
	}
	h := thor.Keccak256(data)
	t.cache.hash.Store(h)
	return h
}

func (t *Transaction) ChainID() uint64     { return t.body.ChainID }
func (t *Transaction) Nonce() uint64       { return t.body.Nonce }
func (t *Transaction) Gas() uint64         { return t.body.Gas }
func (t *Transaction) From() thor.Address  { return t.body.From }
func (t *Transaction) Data() []byte        { return append([]byte(nil), t.body.Data...) }
func (t *Transaction) IsCreation() bool    { return t.body.To == nil }
func (t *Transaction) GasPrice() *uint256.Int { return new(uint256.Int).Set(t.body.GasPrice) }
func (t *Transaction) Value() *uint256.Int    { return new(uint256.Int).Set(t.body.Value) }

// To returns the recipient, nil for contract creation.
func (t *Transaction) To() *thor.Address {
	if t.body.To == nil {
		return nil
	}
	cpy := *t.body.To
	return &cpy
}

// DeployAt returns the fixed address of the contract created, nil for the
// address derived from the sender and nonce.
func (t *Transaction) DeployAt() *thor.Address {
	if t.body.DeployAt == nil {
		return nil
	}
	cpy := *t.body.DeployAt
	return &cpy
}

// EncodeRLP implements rlp.Encoder
func (t *Transaction) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &t.body)
}

// DecodeRLP implements rlp.Decoder
func (t *Transaction) DecodeRLP(s *rlp.Stream) error {
	var body body
	if err := s.Decode(&body); err != nil {
		return err
	}
	if body.GasPrice == nil {
		body.GasPrice = new(uint256.Int)
	}
	if body.Value == nil {
		body.Value = new(uint256.Int)
	}
	*t = Transaction{
		body: body,
	}
	return nil
}

func (t *Transaction) String() string {
	to := "nil"
	if t.body.To != nil {
		to = t.body.To.String()
	}
	return fmt.Sprintf(`
	Tx(%v)
	ChainID:  %v
	From:     %v
	To:       %v
	Value:    %v
	Nonce:    %v
	GasPrice: %v
	Gas:      %v
	Data:     %d bytes`, t.Hash(), t.body.ChainID, t.body.From, to, t.body.Value,
		t.body.Nonce, t.body.GasPrice, t.body.Gas, len(t.body.Data))
}
