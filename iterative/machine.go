// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package iterative

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/cache"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/metrics"
	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm"
	"github.com/vechain/itervm/vm/evm"
	"github.com/vechain/itervm/vm/journal"
	"github.com/vechain/itervm/xenv"
)

// ErrTransactionFinished is returned when a completed or failed transaction is invoked again.
var ErrTransactionFinished = errors.New("transaction already finished")

var (
	logger = log.WithContext("pkg", "iterative")

	metricInvocations = metrics.LazyLoadCounterVec("iterative_invocations_count", []string{"stage"})
	metricSteps       = metrics.LazyLoadHistogram("iterative_steps", metrics.BucketSteps)
)

// Instruction is one invocation request of a transaction.
type Instruction struct {
	Holder   thor.Bytes32
	Tx       *tx.Transaction
	Accounts []state.Account
	// BypassNonce skips the sender nonce check, for estimation.
	BypassNonce bool
}

// Outcome reports what one invocation did.
type Outcome struct {
	// State is the persisted state at the end of the invocation.
	State      State
	Steps      uint64
	Iterations uint64
	// Receipt is set when the transaction completed in this invocation.
	Receipt *tx.Receipt
	// Err is the reason of a transaction that failed in this invocation.
	Err error
}

// Finished returns whether the transaction reached a terminal stage.
func (o *Outcome) Finished() bool { return o.State.Stage.Finished() }

// Machine runs transactions one invocation at a time.
type Machine struct {
	cfg   thor.Config
	jumps *cache.LRU
}

// New creates a machine.
func New(cfg thor.Config) *Machine {
	return &Machine{
		cfg:   cfg,
		jumps: state.NewJumpCache(1024),
	}
}

// Config returns the config of the machine.
func (m *Machine) Config() thor.Config { return m.cfg }

// JumpCache returns the cache of jump destinations shared by the invocations.
func (m *Machine) JumpCache() *cache.LRU { return m.jumps }

// Step runs one invocation of the transaction. A returned error means the
// invocation must be discarded.
func (m *Machine) Step(inv lock.Ledger, env xenv.Environment, instr *Instruction) (*Outcome, error) {
	s := &session{
		m:           m,
		inv:         inv,
		env:         env,
		instr:       instr,
		hash:        instr.Tx.Hash(),
		targets:     state.LockTargets(instr.Accounts),
		locks:       lock.NewManager(inv, instr.Holder, m.cfg.LeaseDuration, env.Now()),
		st:          state.New(inv, env, instr.Holder, instr.Accounts, m.jumps),
		computeLeft: m.cfg.ComputeBudget,
	}

	cur := at(FromHolder)
	for cur.Stage != Exit {
		next, err := s.run(cur)
		if err != nil {
			return nil, errors.WithMessagef(err, "stage %v", cur)
		}
		logger.Trace("transition", "tx", s.hash.AbbrevString(), "from", cur, "to", next)
		cur = next
	}

	metricInvocations().AddWithLabel(1, map[string]string{"stage": s.persisted.Stage.String()})
	metricSteps().Observe(int64(s.outcome.Steps))

	s.outcome.State = s.persisted
	s.outcome.Iterations = s.rec.Iterations
	return &s.outcome, nil
}

// session is the state of one invocation.
type session struct {
	m       *Machine
	inv     lock.Ledger
	env     xenv.Environment
	instr   *Instruction
	hash    thor.Bytes32
	targets []lock.Target
	locks   *lock.Manager
	st      *state.State

	vm          *vm.Vm
	rec         record
	computeLeft uint64
	required    uint32
	final       []byte
	failure     error

	// the record persisted in the holder
	bound     bool
	persisted State
	bodyLen   uint32

	outcome Outcome
}

func (s *session) run(cur State) (State, error) {
	switch cur.Stage {
	case FromHolder:
		return s.fromHolder()
	case Lock:
		return s.lock(cur.To)
	case Init:
		return s.init()
	case InitLocked:
		return s.initLocked(cur.To)
	case Serialize:
		ok, err := s.serialize(cur.To)
		if err != nil || !ok {
			return at(Exit), err
		}
		return at(cur.To), nil
	case NextIteration:
		_, err := s.serialize(cur.To)
		return at(Exit), err
	case AllocateHolder:
		return s.allocateHolder(cur.To)
	case Execute:
		return s.execute()
	case IntoTrap:
		if s.computeLeft >= s.m.cfg.OpcodesPerIteration {
			return to(Serialize, Execute), nil
		}
		return to(NextIteration, Execute), nil
	case Allocate:
		return s.allocate()
	case MergeSlots:
		return s.mergeSlots()
	case AllocateStorage:
		done, err := s.st.Allocate(s.rec.Required)
		if err != nil {
			return State{}, err
		}
		if !done {
			return to(NextIteration, AllocateStorage), nil
		}
		return at(Commit), nil
	case Commit:
		return s.commit()
	case Unlock, UnlockFailedTx:
		if err := s.locks.Unlock(s.targets); err != nil {
			return State{}, err
		}
		if cur.Stage == Unlock {
			return at(Completed), nil
		}
		return at(Failed), nil
	case Completed:
		return s.complete()
	case Failed:
		return s.failed()
	}
	return State{}, errors.Errorf("unexpected stage %v", cur)
}

func (s *session) fromHolder() (State, error) {
	data, err := s.inv.Data(s.instr.Holder)
	if err != nil {
		return State{}, err
	}
	h, ok := decodeHeader(data)
	if ok && h.TxHash == s.hash {
		if h.State.Stage.Finished() {
			return State{}, errors.Wrapf(ErrTransactionFinished, "tx %v %v", s.hash.AbbrevString(), h.State.Stage)
		}
		if s.rec, err = decodeRecord(data, h); err != nil {
			return State{}, err
		}
		if len(s.rec.Vm) > 0 {
			if s.vm, err = vm.Decode(s.rec.Vm, s.instr.Tx, s.m.cfg); err != nil {
				return State{}, err
			}
		}
		s.bound = true
		s.persisted = h.State
		s.bodyLen = h.BodyLen
		if h.State.Stage == AllocateHolder {
			s.required = h.Required
			return h.State, nil
		}
		return s.resume(h.State.Stage), nil
	}

	if ok {
		logger.Debug("holder rebound", "holder", s.instr.Holder.AbbrevString(), "previous", h.TxHash.AbbrevString(), "tx", s.hash.AbbrevString())
	}
	if len(data) < initialHolderSize {
		s.required = initialHolderSize
		s.persisted = to(AllocateHolder, Lock)
		return s.persisted, nil
	}
	return to(Serialize, Lock), nil
}

// resume returns the state continuing a persisted stage.
func (s *session) resume(stage Stage) State {
	if stage == Lock || s.vm == nil {
		return to(Lock, Init)
	}
	return to(InitLocked, stage)
}

func (s *session) lock(next Stage) (State, error) {
	done, err := s.locks.Lock(s.targets)
	if err != nil {
		return State{}, err
	}
	if !done {
		// accounts created so far are kept, the persisted record leads back here
		return at(Exit), nil
	}
	if s.vm == nil {
		return at(Init), nil
	}
	return at(next), nil
}

func (s *session) initLocked(next Stage) (State, error) {
	held, err := s.locks.Locked(s.targets)
	if err != nil {
		return State{}, err
	}
	if !held {
		// others may have committed over the accounts, start over from the current state
		logger.Info("lease lost, restarting", "tx", s.hash.AbbrevString(), "stage", next)
		s.vm = nil
		s.rec = record{Iterations: s.rec.Iterations}
		return to(Lock, Init), nil
	}
	return at(next), nil
}

func (s *session) init() (State, error) {
	held, err := s.locks.Locked(s.targets)
	if err != nil {
		return State{}, err
	}
	if !held {
		return to(Lock, Init), nil
	}
	s.vm = vm.New(s.instr.Tx, s.m.cfg)
	trivial, err := s.vm.Init(s.st, s.instr.BypassNonce)
	if err != nil {
		return s.fail(err)
	}
	if trivial {
		return at(Commit), nil
	}
	return to(Serialize, Execute), nil
}

func (s *session) execute() (State, error) {
	budget := min(s.computeLeft, s.m.cfg.OpcodesPerIteration)
	if budget == 0 {
		return to(NextIteration, Execute), nil
	}
	done, steps, err := s.vm.Execute(s.st, s.env, budget)
	s.computeLeft -= steps
	s.outcome.Steps += steps
	s.rec.Iterations++
	if err != nil {
		return s.fail(err)
	}
	if done {
		return at(Allocate), nil
	}
	return at(IntoTrap), nil
}

// checkWritable fails the transaction if a pending write targets an account
// not declared writable.
func (s *session) checkWritable() error {
	for _, addr := range s.vm.Journal().Written() {
		if err := s.st.Writable(addr); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) allocate() (State, error) {
	if err := s.checkWritable(); err != nil {
		return s.fail(err)
	}
	touched := s.vm.Journal().Touched()
	addrs := make([]thor.Address, 0, len(touched.Code))
	for addr := range touched.Code {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	reqs := make([]state.Requirement, 0, len(addrs))
	for _, addr := range addrs {
		req, err := s.st.CodeRequirement(addr, touched.Code[addr])
		if err != nil {
			return s.fail(err)
		}
		reqs = append(reqs, req)
	}
	done, err := s.st.Allocate(reqs)
	if err != nil {
		return State{}, err
	}
	if !done {
		return to(NextIteration, Allocate), nil
	}
	return at(MergeSlots), nil
}

func (s *session) mergeSlots() (State, error) {
	reqs, err := s.st.StorageRequirements(s.vm.Journal().Touched().Slots)
	if err != nil {
		return s.fail(err)
	}
	s.rec.Required = reqs
	return at(AllocateStorage), nil
}

func (s *session) commit() (State, error) {
	if err := s.checkWritable(); err != nil {
		return s.fail(err)
	}
	final, err := rlp.EncodeToBytes(&record{
		Iterations: s.rec.Iterations,
		Summary: &Summary{
			Reverted: !s.vm.ExitReason().IsSucceed(),
			Reason:   s.vm.ExitReason().String(),
			GasUsed:  s.vm.GasUsed(),
			Paid:     s.vm.Fee(),
			Created:  s.vm.Created(),
		},
	})
	if err != nil {
		return State{}, err
	}
	// the final record must fit before the journal becomes durable
	need := HeaderSize + len(final)
	ok, err := s.growHolder(need)
	if err != nil {
		return State{}, err
	}
	if !ok {
		// the finished vm outgrows the final record and cannot be persisted
		// either, the detour resumes from the last persisted stage
		return at(Exit), s.detour(need)
	}

	receipt, err := s.vm.Commit(s.st)
	if err != nil {
		return State{}, err
	}
	s.outcome.Receipt = receipt
	s.final = final
	logger.Debug("tx completed", "tx", s.hash.AbbrevString(), "reason", receipt.Reason, "gas", receipt.GasUsed, "iterations", s.rec.Iterations)
	return at(Unlock), nil
}

func (s *session) complete() (State, error) {
	if err := s.writeRecord(acc.TagFinalized, at(Completed), s.final); err != nil {
		return State{}, err
	}
	return at(Exit), nil
}

func (s *session) failed() (State, error) {
	msg := s.failure.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	body, err := rlp.EncodeToBytes(&record{Iterations: s.rec.Iterations, Error: msg})
	if err != nil {
		return State{}, err
	}
	s.outcome.Err = s.failure
	ok, err := s.growHolder(HeaderSize + len(body))
	if err != nil {
		return State{}, err
	}
	if !ok {
		return at(Exit), s.detour(HeaderSize + len(body))
	}
	if err := s.writeRecord(acc.TagFinalized, at(Failed), body); err != nil {
		return State{}, err
	}
	return at(Exit), nil
}

// fail ends the transaction on execution errors. Other errors abort the invocation.
func (s *session) fail(err error) (State, error) {
	if !isExecutionError(err) {
		return State{}, err
	}
	logger.Debug("tx failed", "tx", s.hash.AbbrevString(), "err", err)
	s.failure = err
	return at(UnlockFailedTx), nil
}

// isExecutionError reports whether err terminates the transaction rather than the invocation.
func isExecutionError(err error) bool {
	for _, target := range []error{
		vm.ErrInvalidNonce,
		vm.ErrInvalidChainID,
		vm.ErrIntrinsicGas,
		vm.ErrFatalExit,
		journal.ErrInsufficientFunds,
		journal.ErrDeployToExisting,
		journal.ErrBalanceOverflow,
		evm.ErrStaticModeViolation,
		state.ErrAccountNotLocked,
		state.ErrUnimplemented,
		lock.ErrSharedWrite,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// growHolder grows the holder towards size. It returns true once the holder is large enough.
func (s *session) growHolder(size int) (bool, error) {
	data, err := s.inv.Data(s.instr.Holder)
	if err != nil {
		return false, err
	}
	capacity := len(data)
	if capacity >= size {
		return true, nil
	}
	grow := min(uint64(size-capacity), s.inv.Alloc().Remaining())
	if grow > 0 {
		if err := s.inv.Resize(s.instr.Holder, capacity+int(grow)); err != nil {
			return false, err
		}
	}
	return capacity+int(grow) >= size, nil
}

func (s *session) allocateHolder(next Stage) (State, error) {
	ok, err := s.growHolder(int(s.required))
	if err != nil {
		return State{}, err
	}
	if !ok {
		return at(Exit), nil
	}
	if !s.bound {
		return to(Serialize, Lock), nil
	}
	return s.resume(next), nil
}

// serialize persists the session to continue at next. It returns false if the
// holder is too small, the capacity detour is persisted instead.
func (s *session) serialize(next Stage) (bool, error) {
	rec := s.rec
	if s.vm != nil {
		enc, err := rlp.EncodeToBytes(s.vm)
		if err != nil {
			return false, err
		}
		rec.Vm = enc
	}
	body, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return false, err
	}
	ok, err := s.growHolder(HeaderSize + len(body))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, s.detour(HeaderSize + len(body))
	}
	return true, s.writeRecord(acc.TagHolder, at(next), body)
}

func (s *session) writeRecord(tag acc.Tag, st State, body []byte) error {
	h := header{
		Tag:     tag,
		State:   st,
		TxHash:  s.hash,
		BodyLen: uint32(len(body)),
	}
	if err := s.inv.Write(s.instr.Holder, 0, append(h.encode(), body...)); err != nil {
		return err
	}
	s.bound = true
	s.persisted = st
	s.bodyLen = h.BodyLen
	return nil
}

// detour persists the required holder size, keeping the last persisted record.
func (s *session) detour(required int) error {
	s.required = uint32(required)
	logger.Debug("holder too small", "holder", s.instr.Holder.AbbrevString(), "required", required)
	if !s.bound {
		return nil
	}
	prev := s.persisted
	if prev.Stage == AllocateHolder {
		prev = at(prev.To)
	}
	h := header{
		Tag:      acc.TagHolder,
		State:    to(AllocateHolder, prev.Stage),
		TxHash:   s.hash,
		Required: s.required,
		BodyLen:  s.bodyLen,
	}
	if err := s.inv.Write(s.instr.Holder, 0, h.encode()); err != nil {
		return err
	}
	s.persisted = h.State
	return nil
}
