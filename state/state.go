// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/cache"
	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/vm/evm"
	"github.com/vechain/itervm/xenv"
)

var (
	ErrAccountNotLocked    = errors.New("account not locked")
	ErrUnimplemented       = errors.New("account deallocation unimplemented")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceOverflow     = errors.New("balance overflow")
)

var logger = log.WithContext("pkg", "state")

// Error is the error caused by state access failure.
type Error struct {
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state: %v", e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Origin is the durable state the journal reads from and commits to.
type Origin interface {
	Nonce(addr thor.Address) (uint64, error)
	Balance(addr thor.Address) (*uint256.Int, error)
	Code(addr thor.Address) ([]byte, error)
	ValidJumps(addr thor.Address) (evm.Bitvec, error)
	Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error)
	BlockHash(number uint64) thor.Bytes32
	Account(key thor.Bytes32) ([]byte, error)
	Signer() thor.Address

	IncNonce(addr thor.Address) error
	AddBalance(addr thor.Address, amount *uint256.Int) error
	SubBalance(addr thor.Address, amount *uint256.Int) error
	SetCode(addr thor.Address, code []byte) error
	SetStorage(addr thor.Address, slot, value thor.Bytes32) error
}

// Account is an address declared by a transaction.
type Account struct {
	Address  thor.Address
	Writable bool
}

// State implements Origin over a ledger invocation.
type State struct {
	ledger   lock.Ledger
	env      xenv.Environment
	holder   thor.Bytes32
	accounts map[thor.Address]bool
	jumps    *cache.LRU
}

var _ Origin = (*State)(nil)

// New creates a state limited to the declared accounts. jumps is optional.
func New(l lock.Ledger, env xenv.Environment, holder thor.Bytes32, accounts []Account, jumps *cache.LRU) *State {
	s := &State{
		ledger:   l,
		env:      env,
		holder:   holder,
		accounts: make(map[thor.Address]bool, len(accounts)),
		jumps:    jumps,
	}
	for _, a := range accounts {
		s.accounts[a.Address] = s.accounts[a.Address] || a.Writable
	}
	return s
}

// NewJumpCache creates a cache of jump analyses keyed by code hash.
func NewJumpCache(size int) *cache.LRU {
	c, err := cache.NewLRU("jumps", size)
	if err != nil {
		panic(err)
	}
	return c
}

// Merge merges duplicated accounts, a writable declaration wins.
// The result is sorted by address.
func Merge(accounts []Account) []Account {
	m := make(map[thor.Address]bool, len(accounts))
	for _, a := range accounts {
		m[a.Address] = m[a.Address] || a.Writable
	}
	merged := make([]Account, 0, len(m))
	for addr, w := range m {
		merged = append(merged, Account{Address: addr, Writable: w})
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Address[:], merged[j].Address[:]) < 0
	})
	return merged
}

// LockTargets returns the managed accounts to lock for the declared accounts.
func LockTargets(accounts []Account) []lock.Target {
	merged := Merge(accounts)
	targets := make([]lock.Target, 0, len(merged)*2)
	for _, a := range merged {
		targets = append(targets,
			lock.Target{Key: acc.BalanceKey(a.Address), Writable: a.Writable, Init: acc.NewBalance(a.Address, 0, new(uint256.Int))},
			lock.Target{Key: acc.ContractKey(a.Address), Writable: a.Writable, Init: acc.NewContract(a.Address, nil)},
		)
	}
	return targets
}

func (s *State) checkRead(addr thor.Address) error {
	if _, ok := s.accounts[addr]; !ok {
		return errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
	return nil
}

// Writable checks the address is declared writable.
func (s *State) Writable(addr thor.Address) error {
	writable, ok := s.accounts[addr]
	if !ok {
		return errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
	if !writable {
		return errors.Wrapf(lock.ErrSharedWrite, "address %v", addr)
	}
	return nil
}

// checkWrite verifies the managed account is exclusively held by this transaction.
func (s *State) checkWrite(addr thor.Address, key thor.Bytes32) error {
	if err := s.Writable(addr); err != nil {
		return err
	}
	data, err := s.ledger.Data(key)
	if err != nil {
		return &Error{err}
	}
	if len(data) == 0 {
		return errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
	l, err := lock.Decode(data)
	if err != nil {
		return &Error{err}
	}
	switch {
	case l.Kind == lock.ExclusiveWrite && l.Holder == s.holder:
		return nil
	case l.Kind == lock.SharedRead:
		return errors.Wrapf(lock.ErrSharedWrite, "address %v", addr)
	default:
		return errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
}

func (s *State) balanceAccount(addr thor.Address) (acc.Balance, error) {
	if err := s.checkRead(addr); err != nil {
		return nil, err
	}
	data, err := s.ledger.Data(acc.BalanceKey(addr))
	if err != nil {
		return nil, &Error{err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	b := acc.Balance(data)
	if !b.Valid() {
		return nil, &Error{errors.Errorf("invalid balance account of %v", addr)}
	}
	return b, nil
}

func (s *State) contractAccount(addr thor.Address) (acc.Contract, error) {
	if err := s.checkRead(addr); err != nil {
		return nil, err
	}
	data, err := s.ledger.Data(acc.ContractKey(addr))
	if err != nil {
		return nil, &Error{err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	c := acc.Contract(data)
	if !c.Valid() {
		return nil, &Error{errors.Errorf("invalid contract account of %v", addr)}
	}
	return c, nil
}

// Nonce returns the nonce of the address.
func (s *State) Nonce(addr thor.Address) (uint64, error) {
	b, err := s.balanceAccount(addr)
	if err != nil || b == nil {
		return 0, err
	}
	return b.Nonce(), nil
}

// Balance returns the balance of the address.
func (s *State) Balance(addr thor.Address) (*uint256.Int, error) {
	b, err := s.balanceAccount(addr)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return new(uint256.Int), nil
	}
	return b.Balance(), nil
}

// Code returns the code of the address.
func (s *State) Code(addr thor.Address) ([]byte, error) {
	c, err := s.contractAccount(addr)
	if err != nil || c == nil {
		return nil, err
	}
	return c.Code(), nil
}

// ValidJumps returns the jump analysis of the code of the address.
func (s *State) ValidJumps(addr thor.Address) (evm.Bitvec, error) {
	code, err := s.Code(addr)
	if err != nil {
		return nil, err
	}
	if s.jumps == nil {
		return evm.Analyze(code), nil
	}
	v, err := s.jumps.GetOrLoad(thor.Keccak256(code), func(any) (any, error) {
		return evm.Analyze(code), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(evm.Bitvec), nil
}

// Storage returns the value of the storage slot.
func (s *State) Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error) {
	if err := s.checkRead(addr); err != nil {
		return thor.Bytes32{}, err
	}
	key, index := acc.StorageKey(addr, slot)
	data, err := s.ledger.Data(key)
	if err != nil {
		return thor.Bytes32{}, &Error{err}
	}
	if acc.TagOf(data) != acc.TagStorage {
		return thor.Bytes32{}, nil
	}
	cell := acc.Storage(data)
	if !cell.Valid() {
		return thor.Bytes32{}, &Error{errors.Errorf("invalid storage cell of %v", addr)}
	}
	v, _ := cell.Get(index)
	return v, nil
}

func (s *State) BlockHash(number uint64) thor.Bytes32 { return s.env.BlockHash(number) }
func (s *State) Signer() thor.Address                 { return s.env.Signer() }

// Account returns the raw data of an account.
func (s *State) Account(key thor.Bytes32) ([]byte, error) {
	data, err := s.ledger.Data(key)
	if err != nil {
		return nil, &Error{err}
	}
	return data, nil
}

func (s *State) writeBalance(addr thor.Address, update func(b acc.Balance) (int, []byte, error)) error {
	key := acc.BalanceKey(addr)
	if err := s.checkWrite(addr, key); err != nil {
		return err
	}
	b, err := s.balanceAccount(addr)
	if err != nil {
		return err
	}
	if b == nil {
		return errors.Wrapf(ErrAccountNotLocked, "address %v", addr)
	}
	off, v, err := update(b)
	if err != nil {
		return err
	}
	if err := s.ledger.Write(key, off, v); err != nil {
		return &Error{err}
	}
	return nil
}

// IncNonce increases the nonce of the address.
func (s *State) IncNonce(addr thor.Address) error {
	return s.writeBalance(addr, func(b acc.Balance) (int, []byte, error) {
		off, v := acc.NonceField(b.Nonce() + 1)
		return off, v, nil
	})
}

// AddBalance credits the address.
func (s *State) AddBalance(addr thor.Address, amount *uint256.Int) error {
	return s.writeBalance(addr, func(b acc.Balance) (int, []byte, error) {
		sum, overflow := new(uint256.Int).AddOverflow(b.Balance(), amount)
		if overflow {
			return 0, nil, errors.Wrapf(ErrBalanceOverflow, "address %v", addr)
		}
		off, v := acc.BalanceField(sum)
		return off, v, nil
	})
}

// SubBalance debits the address.
func (s *State) SubBalance(addr thor.Address, amount *uint256.Int) error {
	return s.writeBalance(addr, func(b acc.Balance) (int, []byte, error) {
		cur := b.Balance()
		if cur.Lt(amount) {
			return 0, nil, errors.Wrapf(ErrInsufficientBalance, "address %v", addr)
		}
		off, v := acc.BalanceField(cur.Sub(cur, amount))
		return off, v, nil
	})
}

// SetCode installs code at the address. The contract account must have been allocated.
func (s *State) SetCode(addr thor.Address, code []byte) error {
	key := acc.ContractKey(addr)
	if err := s.checkWrite(addr, key); err != nil {
		return err
	}
	data, err := s.ledger.Data(key)
	if err != nil {
		return &Error{err}
	}
	if len(data) < acc.ContractSize(len(code)) {
		return errors.Wrapf(ledger.ErrWriteZero, "code of %v", addr)
	}
	off, v := acc.CodeField(addr, code)
	if err := s.ledger.Write(key, off, v); err != nil {
		return &Error{err}
	}
	return nil
}

// SetStorage writes a storage slot. The storage cell must have been allocated.
func (s *State) SetStorage(addr thor.Address, slot, value thor.Bytes32) error {
	if err := s.checkWrite(addr, acc.ContractKey(addr)); err != nil {
		return err
	}
	key, index := acc.StorageKey(addr, slot)
	data, err := s.ledger.Data(key)
	if err != nil {
		return &Error{err}
	}
	if acc.TagOf(data) != acc.TagStorage {
		return errors.Wrapf(ledger.ErrWriteZero, "storage cell of %v", addr)
	}
	updated := acc.Storage(data).Set(index, value)
	if len(updated) > len(data) {
		return errors.Wrapf(ledger.ErrWriteZero, "storage cell of %v", addr)
	}
	if err := s.ledger.Write(key, 0, updated); err != nil {
		return &Error{err}
	}
	return nil
}
