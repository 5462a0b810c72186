// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package acc defines the byte layout of ledger accounts.
//
// Every account starts with a one byte tag. Managed accounts (balance and
// contract) carry the lock header right after the tag:
//
//	[tag][lock kind 1][holder 32][timestamp 8][body]
//
// balance body:  [address 20][nonce 8][balance 32]
// contract body: [address 20][code length 4][code]
//
// A storage cell keeps up to 256 slots of one contract which share the first 31 bytes:
//
//	[tag][count 2][(index 1, value 32) * count]
package acc

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/qianbin/drlp"

	"github.com/vechain/itervm/thor"
)

// Tag is the first byte of an account.
type Tag byte

const (
	TagEmpty Tag = iota
	TagBalance
	TagContract
	TagStorage
	TagHolder
	TagReaders
	TagFinalized
)

func (t Tag) String() string {
	switch t {
	case TagEmpty:
		return "empty"
	case TagBalance:
		return "balance"
	case TagContract:
		return "contract"
	case TagStorage:
		return "storage"
	case TagHolder:
		return "holder"
	case TagReaders:
		return "readers"
	case TagFinalized:
		return "finalized"
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

// Managed returns whether accounts of the tag carry a lock header.
func (t Tag) Managed() bool {
	return t == TagBalance || t == TagContract
}

// Layout offsets.
const (
	LockOffset = 1
	LockSize   = 1 + 32 + 8
	BodyOffset = LockOffset + LockSize

	addressOffset = BodyOffset
	nonceOffset   = addressOffset + 20
	balanceOffset = nonceOffset + 8
	codeLenOffset = addressOffset + 20
	codeOffset    = codeLenOffset + 4

	// BalanceSize is the fixed size of a balance account.
	BalanceSize = balanceOffset + 32
	// ContractHeaderSize is the size of a contract account without code.
	ContractHeaderSize = codeOffset

	storageCountOffset = 1
	storageSlotsOffset = 3
	storageSlotSize    = 1 + 32
)

// ContractSize returns the size of a contract account holding code of the given length.
func ContractSize(codeLen int) int {
	return ContractHeaderSize + codeLen
}

// StorageSize returns the size of a storage cell holding count slots.
func StorageSize(count int) int {
	return storageSlotsOffset + count*storageSlotSize
}

// BalanceKey returns the key of the balance account of addr.
func BalanceKey(addr thor.Address) thor.Bytes32 {
	return thor.Keccak256([]byte("balance"), addr[:])
}

// ContractKey returns the key of the contract account of addr.
func ContractKey(addr thor.Address) thor.Bytes32 {
	return thor.Keccak256([]byte("contract"), addr[:])
}

// StorageKey returns the key of the storage cell holding the slot, and the slot index in the cell.
func StorageKey(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, byte) {
	return thor.Keccak256([]byte("storage"), addr[:], slot[:31]), slot[31]
}

// ReadersKey returns the key of the shared lock holder list of the managed account.
func ReadersKey(key thor.Bytes32) thor.Bytes32 {
	return thor.Keccak256([]byte("readers"), key[:])
}

// HolderKey returns the key of a holder account owned by the operator.
func HolderKey(operator thor.Address, index uint64) thor.Bytes32 {
	return thor.Keccak256([]byte("holder"), operator[:], drlp.AppendUint(nil, index))
}

// TagOf returns the tag of account data.
func TagOf(data []byte) Tag {
	if len(data) == 0 {
		return TagEmpty
	}
	return Tag(data[0])
}

// Balance helps decode a balance account.
type Balance []byte

// NewBalance builds an unlocked balance account.
func NewBalance(addr thor.Address, nonce uint64, balance *uint256.Int) Balance {
	b := make(Balance, BalanceSize)
	b[0] = byte(TagBalance)
	copy(b[addressOffset:], addr[:])
	binary.BigEndian.PutUint64(b[nonceOffset:], nonce)
	balance.WriteToSlice(b[balanceOffset:BalanceSize])
	return b
}

// Valid checks the tag and size.
func (b Balance) Valid() bool {
	return len(b) == BalanceSize && TagOf(b) == TagBalance
}

func (b Balance) Address() thor.Address { return thor.BytesToAddress(b[addressOffset:nonceOffset]) }
func (b Balance) Nonce() uint64         { return binary.BigEndian.Uint64(b[nonceOffset:]) }
func (b Balance) Balance() *uint256.Int {
	return new(uint256.Int).SetBytes(b[balanceOffset:BalanceSize])
}

// NonceField returns the offset and encoding of a nonce update.
func NonceField(nonce uint64) (int, []byte) {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], nonce)
	return nonceOffset, v[:]
}

// BalanceField returns the offset and encoding of a balance update.
func BalanceField(balance *uint256.Int) (int, []byte) {
	v := balance.Bytes32()
	return balanceOffset, v[:]
}

// Contract helps decode a contract account.
type Contract []byte

// NewContract builds an unlocked contract account.
func NewContract(addr thor.Address, code []byte) Contract {
	c := make(Contract, ContractSize(len(code)))
	c[0] = byte(TagContract)
	copy(c[addressOffset:], addr[:])
	binary.BigEndian.PutUint32(c[codeLenOffset:], uint32(len(code)))
	copy(c[codeOffset:], code)
	return c
}

// Valid checks the tag and size.
func (c Contract) Valid() bool {
	if len(c) < ContractHeaderSize || TagOf(c) != TagContract {
		return false
	}
	return int(binary.BigEndian.Uint32(c[codeLenOffset:])) <= len(c)-codeOffset
}

func (c Contract) Address() thor.Address { return thor.BytesToAddress(c[addressOffset:codeLenOffset]) }
func (c Contract) Code() []byte {
	n := binary.BigEndian.Uint32(c[codeLenOffset:])
	return c[codeOffset : codeOffset+int(n)]
}

// CodeField returns the offset and encoding of a code installation.
func CodeField(addr thor.Address, code []byte) (int, []byte) {
	v := make([]byte, ContractSize(len(code))-addressOffset)
	copy(v, addr[:])
	binary.BigEndian.PutUint32(v[20:], uint32(len(code)))
	copy(v[24:], code)
	return addressOffset, v
}

// Storage helps decode and update a storage cell.
type Storage []byte

// Valid checks the tag and size.
func (s Storage) Valid() bool {
	return len(s) >= storageSlotsOffset && TagOf(s) == TagStorage && StorageSize(s.Count()) <= len(s)
}

// Count returns the number of slots in the cell.
func (s Storage) Count() int {
	return int(binary.BigEndian.Uint16(s[storageCountOffset:]))
}

// Get returns the value of the slot index.
func (s Storage) Get(index byte) (thor.Bytes32, bool) {
	for i, n := 0, s.Count(); i < n; i++ {
		off := storageSlotsOffset + i*storageSlotSize
		if s[off] == index {
			return thor.BytesToBytes32(s[off+1 : off+storageSlotSize]), true
		}
	}
	return thor.Bytes32{}, false
}

// Set returns the cell data with the slot updated, appending it if absent.
// The returned slice is a fresh copy sized exactly to the new slot count.
func (s Storage) Set(index byte, value thor.Bytes32) Storage {
	count := 0
	if len(s) > 0 {
		count = s.Count()
	}
	for i := 0; i < count; i++ {
		off := storageSlotsOffset + i*storageSlotSize
		if s[off] == index {
			out := append(Storage(nil), s[:StorageSize(count)]...)
			copy(out[off+1:], value[:])
			return out
		}
	}
	out := make(Storage, StorageSize(count+1))
	if count > 0 {
		copy(out, s[:StorageSize(count)])
	}
	out[0] = byte(TagStorage)
	binary.BigEndian.PutUint16(out[storageCountOffset:], uint16(count+1))
	off := storageSlotsOffset + count*storageSlotSize
	out[off] = index
	copy(out[off+1:], value[:])
	return out
}
