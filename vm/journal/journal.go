// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package journal

import (
	"bytes"
	"io"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm/evm"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDeployToExisting  = errors.New("deploy to existing account")
	ErrBalanceOverflow   = errors.New("balance overflow")

	errRootScope = errors.New("journal: no scope to leave")
)

// Reader is the durable state beneath the journal.
type Reader interface {
	Nonce(addr thor.Address) (uint64, error)
	Balance(addr thor.Address) (*uint256.Int, error)
	Code(addr thor.Address) ([]byte, error)
	Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error)
}

// scope holds the diffs of one call depth.
type scope struct {
	order []thor.Address
	diffs map[thor.Address][]Diff
}

func newScope() *scope {
	return &scope{diffs: make(map[thor.Address][]Diff)}
}

func (s *scope) append(addr thor.Address, d ...Diff) {
	if _, ok := s.diffs[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.diffs[addr] = append(s.diffs[addr], d...)
}

// Journal is a stack of diff scopes shadowing the durable state.
// The bottom scope is never left.
type Journal struct {
	scopes []*scope
}

// New creates a journal with the root scope.
func New() *Journal {
	return &Journal{scopes: []*scope{newScope()}}
}

// Depth returns the number of scopes.
func (j *Journal) Depth() int {
	return len(j.scopes)
}

// NewScope pushes a scope.
func (j *Journal) NewScope() {
	j.scopes = append(j.scopes, newScope())
}

// RevertScope drops the top scope with all of its diffs.
func (j *Journal) RevertScope() error {
	if len(j.scopes) <= 1 {
		return errRootScope
	}
	j.scopes = j.scopes[:len(j.scopes)-1]
	return nil
}

// CommitScope merges the top scope into its parent.
func (j *Journal) CommitScope() error {
	if len(j.scopes) <= 1 {
		return errRootScope
	}
	top := j.scopes[len(j.scopes)-1]
	j.scopes = j.scopes[:len(j.scopes)-1]
	parent := j.scopes[len(j.scopes)-1]
	for _, addr := range top.order {
		parent.append(addr, top.diffs[addr]...)
	}
	return nil
}

func (j *Journal) top() *scope {
	return j.scopes[len(j.scopes)-1]
}

func (j *Journal) write(addr thor.Address, d Diff, mutable bool) error {
	if !mutable {
		return evm.ErrStaticModeViolation
	}
	j.top().append(addr, d)
	return nil
}

// Diffs returns the pending diffs of addr, parent scopes first.
func (j *Journal) Diffs(addr thor.Address) []Diff {
	var all []Diff
	for _, s := range j.scopes {
		all = append(all, s.diffs[addr]...)
	}
	return all
}

// latest returns the most recent diff matching fn, innermost scope first.
func (j *Journal) latest(addr thor.Address, fn func(d *Diff) bool) *Diff {
	for i := len(j.scopes) - 1; i >= 0; i-- {
		diffs := j.scopes[i].diffs[addr]
		for k := len(diffs) - 1; k >= 0; k-- {
			if fn(&diffs[k]) {
				return &diffs[k]
			}
		}
	}
	return nil
}

// Nonce returns the nonce of addr including pending increments.
func (j *Journal) Nonce(r Reader, addr thor.Address) (uint64, error) {
	nonce, err := r.Nonce(addr)
	if err != nil {
		return 0, err
	}
	for _, d := range j.Diffs(addr) {
		if d.Kind == IncNonce {
			nonce++
		}
	}
	return nonce, nil
}

// Balance returns the balance of addr including pending transfers.
func (j *Journal) Balance(r Reader, addr thor.Address) (*uint256.Int, error) {
	bal, err := r.Balance(addr)
	if err != nil {
		return nil, err
	}
	bal = new(uint256.Int).Set(bal)
	for _, d := range j.Diffs(addr) {
		switch d.Kind {
		case AddBalance:
			bal.Add(bal, d.amount())
		case SubBalance:
			bal.Sub(bal, d.amount())
		}
	}
	return bal, nil
}

// PendingCode returns the code of addr set by a pending diff.
func (j *Journal) PendingCode(addr thor.Address) ([]byte, bool) {
	if d := j.latest(addr, func(d *Diff) bool { return d.Kind == SetCode }); d != nil {
		return d.Code, true
	}
	return nil, false
}

// Code returns the code of addr.
func (j *Journal) Code(r Reader, addr thor.Address) ([]byte, error) {
	if code, ok := j.PendingCode(addr); ok {
		return code, nil
	}
	return r.Code(addr)
}

// Storage returns the value of a storage slot of addr.
func (j *Journal) Storage(r Reader, addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error) {
	if d := j.latest(addr, func(d *Diff) bool { return d.Kind == SetStorage && d.Slot == slot }); d != nil {
		return d.Value, nil
	}
	return r.Storage(addr, slot)
}

// CanCreate checks that a contract can be deployed at addr.
func (j *Journal) CanCreate(r Reader, addr thor.Address) error {
	nonce, err := j.Nonce(r, addr)
	if err != nil {
		return err
	}
	code, err := j.Code(r, addr)
	if err != nil {
		return err
	}
	if nonce != 0 || len(code) != 0 {
		return errors.Wrapf(ErrDeployToExisting, "address %v", addr)
	}
	return nil
}

func (j *Journal) IncNonce(addr thor.Address, mutable bool) error {
	return j.write(addr, Diff{Kind: IncNonce}, mutable)
}

func (j *Journal) AddBalance(r Reader, addr thor.Address, amount *uint256.Int, mutable bool) error {
	bal, err := j.Balance(r, addr)
	if err != nil {
		return err
	}
	if _, overflow := bal.AddOverflow(bal, amount); overflow {
		return errors.Wrapf(ErrBalanceOverflow, "address %v", addr)
	}
	return j.write(addr, Diff{Kind: AddBalance, Amount: new(uint256.Int).Set(amount)}, mutable)
}

func (j *Journal) SubBalance(r Reader, addr thor.Address, amount *uint256.Int, mutable bool) error {
	bal, err := j.Balance(r, addr)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "address %v, balance %v, required %v", addr, bal, amount)
	}
	return j.write(addr, Diff{Kind: SubBalance, Amount: new(uint256.Int).Set(amount)}, mutable)
}

// Transfer moves value between two addresses. A zero value records nothing.
func (j *Journal) Transfer(r Reader, from, to thor.Address, value *uint256.Int, mutable bool) error {
	if value == nil || value.IsZero() {
		return nil
	}
	if err := j.SubBalance(r, from, value, mutable); err != nil {
		return err
	}
	return j.AddBalance(r, to, value, mutable)
}

func (j *Journal) SetStorage(addr thor.Address, slot, value thor.Bytes32, mutable bool) error {
	return j.write(addr, Diff{Kind: SetStorage, Slot: slot, Value: value}, mutable)
}

func (j *Journal) SetCode(addr thor.Address, code []byte, mutable bool) error {
	return j.write(addr, Diff{Kind: SetCode, Code: append([]byte(nil), code...)}, mutable)
}

func (j *Journal) AddLog(log *tx.Log, mutable bool) error {
	return j.write(log.Address, Diff{Kind: AddLog, Log: log}, mutable)
}

// SelfDestruct moves the whole balance of addr to the beneficiary and marks addr.
// Code and storage are kept.
func (j *Journal) SelfDestruct(r Reader, addr, beneficiary thor.Address, mutable bool) error {
	if !mutable {
		return evm.ErrStaticModeViolation
	}
	bal, err := j.Balance(r, addr)
	if err != nil {
		return err
	}
	if addr != beneficiary {
		if err := j.Transfer(r, addr, beneficiary, bal, mutable); err != nil {
			return err
		}
	}
	return j.write(addr, Diff{Kind: SelfDestruct, Beneficiary: beneficiary}, mutable)
}

// Touched lists the pending code and storage writes requiring account space.
type Touched struct {
	// Code is the largest pending code length per address.
	Code  map[thor.Address]int
	Slots map[thor.Address][]thor.Bytes32
}

// Touched returns the pending code and storage writes.
func (j *Journal) Touched() Touched {
	t := Touched{
		Code:  make(map[thor.Address]int),
		Slots: make(map[thor.Address][]thor.Bytes32),
	}
	seen := make(map[thor.Address]map[thor.Bytes32]struct{})
	for _, s := range j.scopes {
		for _, addr := range s.order {
			for _, d := range s.diffs[addr] {
				switch d.Kind {
				case SetCode:
					if n, ok := t.Code[addr]; !ok || len(d.Code) > n {
						t.Code[addr] = len(d.Code)
					}
				case SetStorage:
					if seen[addr] == nil {
						seen[addr] = make(map[thor.Bytes32]struct{})
					}
					if _, ok := seen[addr][d.Slot]; !ok {
						seen[addr][d.Slot] = struct{}{}
						t.Slots[addr] = append(t.Slots[addr], d.Slot)
					}
				}
			}
		}
	}
	return t
}

// Commit replays every diff against the origin, parent scopes first, then
// addresses in first touch order and diffs in append order.
// The journal is empty afterwards.
func (j *Journal) Commit(origin state.Origin) ([]*tx.Log, error) {
	var logs []*tx.Log
	for _, s := range j.scopes {
		for _, addr := range s.order {
			for _, d := range s.diffs[addr] {
				var err error
				switch d.Kind {
				case IncNonce:
					err = origin.IncNonce(addr)
				case AddBalance:
					err = origin.AddBalance(addr, d.amount())
				case SubBalance:
					err = origin.SubBalance(addr, d.amount())
				case SetStorage:
					err = origin.SetStorage(addr, d.Slot, d.Value)
				case SetCode:
					err = origin.SetCode(addr, d.Code)
				case AddLog:
					logs = append(logs, d.Log)
				case SelfDestruct:
				default:
					err = errors.Errorf("journal: unknown diff kind %v", d.Kind)
				}
				if err != nil {
					return nil, errors.Wrapf(err, "commit %v of %v", d.Kind, addr)
				}
			}
		}
	}
	j.scopes = []*scope{newScope()}
	return logs, nil
}

type entryRLP struct {
	Address thor.Address
	Diffs   []Diff
}

// EncodeRLP implements rlp.Encoder.
func (j *Journal) EncodeRLP(w io.Writer) error {
	scopes := make([][]entryRLP, 0, len(j.scopes))
	for _, s := range j.scopes {
		entries := make([]entryRLP, 0, len(s.order))
		for _, addr := range s.order {
			entries = append(entries, entryRLP{addr, s.diffs[addr]})
		}
		scopes = append(scopes, entries)
	}
	return rlp.Encode(w, scopes)
}

// DecodeRLP implements rlp.Decoder.
func (j *Journal) DecodeRLP(s *rlp.Stream) error {
	var scopes [][]entryRLP
	if err := s.Decode(&scopes); err != nil {
		return err
	}
	if len(scopes) == 0 {
		return errors.New("journal: missing root scope")
	}
	j.scopes = make([]*scope, 0, len(scopes))
	for _, entries := range scopes {
		sc := newScope()
		for _, e := range entries {
			if _, dup := sc.diffs[e.Address]; dup {
				return errors.Errorf("journal: duplicated address %v", e.Address)
			}
			sc.append(e.Address, e.Diffs...)
		}
		j.scopes = append(j.scopes, sc)
	}
	return nil
}

// Addresses returns every address with pending diffs, sorted.
func (j *Journal) Addresses() []thor.Address {
	seen := make(map[thor.Address]struct{})
	var addrs []thor.Address
	for _, s := range j.scopes {
		for _, addr := range s.order {
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				addrs = append(addrs, addr)
			}
		}
	}
	sort.Slice(addrs, func(i, k int) bool { return bytes.Compare(addrs[i][:], addrs[k][:]) < 0 })
	return addrs
}

// Written returns every address with pending ledger writes, sorted.
// Logs and self-destruct marks write nothing by themselves.
func (j *Journal) Written() []thor.Address {
	var addrs []thor.Address
	for _, addr := range j.Addresses() {
		for _, d := range j.Diffs(addr) {
			if d.Kind != AddLog && d.Kind != SelfDestruct {
				addrs = append(addrs, addr)
				break
			}
		}
	}
	return addrs
}
