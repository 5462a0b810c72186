// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm

import (
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/vm/evm"
	"github.com/vechain/itervm/vm/journal"
	"github.com/vechain/itervm/xenv"
)

var (
	ErrInvalidNonce   = errors.New("invalid nonce")
	ErrInvalidChainID = errors.New("invalid chain id")
	ErrIntrinsicGas   = errors.New("intrinsic gas too low")
	ErrFatalExit      = errors.New("fatal exit")

	errNotFinished = errors.New("vm: execution not finished")
	errInitialized = errors.New("vm: already initialized")
)

var logger = log.WithContext("pkg", "vm")

// Vm drives the machines of a transaction, translating traps into frames
// and frames into journal scopes.
type Vm struct {
	trx       *tx.Transaction
	journal   *journal.Journal
	snapshots Snapshots

	from         thor.Address
	chainID      uint64
	gasPrice     *uint256.Int
	gasLimit     uint64
	gasUsed      uint64
	flatFee      uint64
	feeRecipient thor.Address
	txHash       thor.Bytes32

	initialized bool
	exited      bool
	reason      evm.ExitReason
	result      []byte
	created     []thor.Address
}

// New creates a Vm executing the transaction.
func New(trx *tx.Transaction, cfg thor.Config) *Vm {
	return &Vm{
		trx:          trx,
		journal:      journal.New(),
		from:         trx.From(),
		chainID:      cfg.ChainID,
		gasPrice:     trx.GasPrice(),
		gasLimit:     trx.Gas(),
		flatFee:      cfg.FlatFee,
		feeRecipient: cfg.FeeRecipient,
		txHash:       trx.Hash(),
	}
}

func (v *Vm) Journal() *journal.Journal  { return v.journal }
func (v *Vm) Snapshots() *Snapshots      { return &v.snapshots }
func (v *Vm) TxHash() thor.Bytes32       { return v.txHash }
func (v *Vm) GasUsed() uint64            { return v.gasUsed }
func (v *Vm) Exited() bool               { return v.exited }
func (v *Vm) ExitReason() evm.ExitReason { return v.reason }
func (v *Vm) ReturnValue() []byte        { return v.result }
func (v *Vm) Created() []thor.Address    { return v.created }

// Fee returns the fee charged to the sender.
func (v *Vm) Fee() *uint256.Int {
	fee := new(uint256.Int).Mul(v.gasPrice, uint256.NewInt(v.gasUsed))
	return fee.Add(fee, uint256.NewInt(v.flatFee))
}

// maxCost is the most the sender may pay, value included.
func (v *Vm) maxCost() (*uint256.Int, bool) {
	cost, overflow := new(uint256.Int).MulOverflow(v.gasPrice, uint256.NewInt(v.gasLimit))
	if overflow {
		return nil, false
	}
	if _, overflow := cost.AddOverflow(cost, uint256.NewInt(v.flatFee)); overflow {
		return nil, false
	}
	if _, overflow := cost.AddOverflow(cost, v.trx.Value()); overflow {
		return nil, false
	}
	return cost, true
}

// Init checks the transaction against the sender account and opens the first frame.
// It returns true if the transaction needs no execution.
func (v *Vm) Init(origin state.Origin, bypassNonce bool) (bool, error) {
	if v.initialized {
		return false, errInitialized
	}
	if v.trx.ChainID() != v.chainID {
		return false, errors.Wrapf(ErrInvalidChainID, "want %d, got %d", v.chainID, v.trx.ChainID())
	}
	nonce, err := v.journal.Nonce(origin, v.from)
	if err != nil {
		return false, err
	}
	if !bypassNonce && nonce != v.trx.Nonce() {
		return false, errors.Wrapf(ErrInvalidNonce, "sender %v, want %d, got %d", v.from, nonce, v.trx.Nonce())
	}

	intrinsic := thor.TxGas
	if v.trx.IsCreation() {
		intrinsic = thor.TxGasContractCreation
	}
	if v.gasLimit < intrinsic {
		return false, errors.Wrapf(ErrIntrinsicGas, "want %d, got %d", intrinsic, v.gasLimit)
	}

	cost, ok := v.maxCost()
	if !ok {
		return false, errors.Wrap(journal.ErrInsufficientFunds, "cost overflow")
	}
	balance, err := v.journal.Balance(origin, v.from)
	if err != nil {
		return false, err
	}
	if balance.Lt(cost) {
		return false, errors.Wrapf(journal.ErrInsufficientFunds, "sender %v, balance %v, cost %v", v.from, balance, cost)
	}

	v.initialized = true
	v.gasUsed = intrinsic
	// the sender nonce lives in the root scope and survives a failed execution
	if err := v.journal.IncNonce(v.from, true); err != nil {
		return false, err
	}

	var exit *evm.Exit
	if to := v.trx.To(); to != nil {
		code, err := v.journal.Code(origin, *to)
		if err != nil {
			return false, err
		}
		if len(code) == 0 && !IsPrecompile(*to) {
			if err := v.journal.Transfer(origin, v.from, *to, v.trx.Value(), true); err != nil {
				return false, err
			}
			v.finish(&evm.Exit{Reason: evm.ExitStopped}, nil)
			return true, nil
		}
		exit, err = v.enterCall(origin, v.from, *to, v.trx.Value(), v.trx.Data(), false, true)
		if err != nil {
			return false, err
		}
	} else {
		addr := thor.Address(crypto.CreateAddress(common.Address(v.from), nonce))
		if fixed := v.trx.DeployAt(); fixed != nil {
			addr = *fixed
		}
		exit, err = v.enterCreate(origin, v.from, addr, v.trx.Value(), v.trx.Data())
		if err != nil {
			return false, err
		}
	}
	if exit != nil {
		v.finish(exit, exit.Data)
		return true, nil
	}
	return false, nil
}

// enterCall opens a call frame. A non-nil exit means the call resolved without a frame.
func (v *Vm) enterCall(origin state.Origin, caller, target thor.Address, value *uint256.Int, input []byte, static, parentMutable bool) (*evm.Exit, error) {
	mutable := !static && parentMutable
	v.journal.NewScope()
	if err := v.journal.Transfer(origin, caller, target, value, mutable); err != nil {
		v.journal.RevertScope()
		if errors.Is(err, journal.ErrInsufficientFunds) {
			return &evm.Exit{Reason: evm.ExitOutOfFund}, nil
		}
		return nil, err
	}

	if p, ok := precompiles[target]; ok {
		out, err := p.Run(input)
		if err != nil {
			logger.Debug("precompile failed", "address", target, "err", err)
			v.journal.RevertScope()
			return &evm.Exit{Reason: evm.ExitPrecompileFailed}, nil
		}
		if err := v.journal.CommitScope(); err != nil {
			return nil, err
		}
		return &evm.Exit{Reason: evm.ExitReturned, Data: out}, nil
	}

	code, pending := v.journal.PendingCode(target)
	var jumps evm.Bitvec
	if !pending {
		var err error
		if code, err = origin.Code(target); err != nil {
			return nil, err
		}
		if jumps, err = origin.ValidJumps(target); err != nil {
			return nil, err
		}
	}
	v.snapshots.Push(&Snapshot{
		Machine: evm.New(evm.Context{Address: target, Caller: caller, Value: value}, code, jumps, input),
		Reason:  Reason{ReasonCall, target},
		Mutable: mutable,
	})
	return nil, nil
}

// enterCreate opens a create frame running the init code.
func (v *Vm) enterCreate(origin state.Origin, caller, addr thor.Address, value *uint256.Int, initCode []byte) (*evm.Exit, error) {
	if err := v.journal.CanCreate(origin, addr); err != nil {
		if errors.Is(err, journal.ErrDeployToExisting) {
			return &evm.Exit{Reason: evm.ExitCreateCollision}, nil
		}
		return nil, err
	}
	v.journal.NewScope()
	if err := v.journal.IncNonce(addr, true); err != nil {
		return nil, err
	}
	if err := v.journal.Transfer(origin, caller, addr, value, true); err != nil {
		v.journal.RevertScope()
		if errors.Is(err, journal.ErrInsufficientFunds) {
			return &evm.Exit{Reason: evm.ExitOutOfFund}, nil
		}
		return nil, err
	}
	v.snapshots.Push(&Snapshot{
		Machine: evm.New(evm.Context{Address: addr, Caller: caller, Value: value}, initCode, nil, nil),
		Reason:  Reason{ReasonCreate, addr},
		Mutable: true,
	})
	return nil, nil
}

// trap opens the frame requested by the running machine.
func (v *Vm) trap(origin state.Origin, t *evm.Trap) error {
	parent := v.snapshots.Top()
	caller := parent.Machine.Context().Address

	if v.snapshots.Len() >= thor.MaxCallDepth {
		return v.resume(parent, t.Kind.IsCreate(), thor.Address{}, &evm.Exit{Reason: evm.ExitCallTooDeep})
	}

	var (
		exit *evm.Exit
		addr thor.Address
		err  error
	)
	switch t.Kind {
	case evm.TrapCall, evm.TrapStaticCall:
		if !parent.Mutable && !t.Value.IsZero() {
			_, err := v.commitExit(origin, &evm.Exit{Reason: evm.ExitStaticModeViolation})
			return err
		}
		exit, err = v.enterCall(origin, caller, t.Target, t.Value, t.Input, t.Kind == evm.TrapStaticCall, parent.Mutable)
	case evm.TrapCreate, evm.TrapCreate2:
		if !parent.Mutable {
			_, err := v.commitExit(origin, &evm.Exit{Reason: evm.ExitStaticModeViolation})
			return err
		}
		if t.Kind == evm.TrapCreate {
			nonce, err := v.journal.Nonce(origin, caller)
			if err != nil {
				return err
			}
			addr = thor.Address(crypto.CreateAddress(common.Address(caller), nonce))
		} else {
			addr = thor.Address(crypto.CreateAddress2(common.Address(caller), t.Salt, crypto.Keccak256(t.Input)))
		}
		if err := v.journal.IncNonce(caller, true); err != nil {
			return err
		}
		exit, err = v.enterCreate(origin, caller, addr, t.Value, t.Input)
	default:
		return errors.Errorf("vm: unknown trap kind %v", t.Kind)
	}
	if err != nil {
		return err
	}
	if exit != nil {
		return v.resume(parent, t.Kind.IsCreate(), addr, exit)
	}
	return nil
}

// resume hands the result of a nested frame to its parent machine.
func (v *Vm) resume(parent *Snapshot, create bool, addr thor.Address, exit *evm.Exit) error {
	ok := exit.Reason.IsSucceed()
	if create {
		var data []byte
		if exit.Reason.IsRevert() {
			data = exit.Data
		}
		return parent.Machine.ResumeCreate(addr, ok, data)
	}
	return parent.Machine.ResumeCall(ok, exit.Data)
}

// commitExit pops the running frame. It returns true when the last frame exited.
func (v *Vm) commitExit(origin state.Origin, exit *evm.Exit) (bool, error) {
	if exit.Reason.IsFatal() {
		return false, errors.Wrapf(ErrFatalExit, "%v", exit.Reason)
	}
	frame := v.snapshots.Pop()
	defer frame.Machine.Release()

	if exit.Reason.IsSucceed() && frame.Reason.Kind == ReasonCreate {
		code := exit.Data
		switch {
		case len(code) > thor.MaxCodeSize:
			exit = &evm.Exit{Reason: evm.ExitCreateContractLimit}
		case len(code) > 0 && code[0] == 0xEF:
			exit = &evm.Exit{Reason: evm.ExitInvalidCode}
		default:
			if err := v.journal.SetCode(frame.Reason.Address, code, true); err != nil {
				return false, err
			}
			v.created = append(v.created, frame.Reason.Address)
			exit = &evm.Exit{Reason: exit.Reason}
		}
	}

	if exit.Reason.IsSucceed() {
		if err := v.journal.CommitScope(); err != nil {
			return false, err
		}
	} else {
		if err := v.journal.RevertScope(); err != nil {
			return false, err
		}
		v.dropCreated()
	}

	parent := v.snapshots.Top()
	if parent == nil {
		result := exit.Data
		if frame.Reason.Kind == ReasonCreate && exit.Reason.IsSucceed() {
			result = frame.Reason.Address[:]
		}
		v.finish(exit, result)
		return true, nil
	}
	return false, v.resume(parent, frame.Reason.Kind == ReasonCreate, frame.Reason.Address, exit)
}

// dropCreated forgets contracts whose code was reverted.
func (v *Vm) dropCreated() {
	kept := v.created[:0]
	for _, addr := range v.created {
		if _, ok := v.journal.PendingCode(addr); ok {
			kept = append(kept, addr)
		}
	}
	v.created = kept
}

func (v *Vm) finish(exit *evm.Exit, result []byte) {
	v.exited = true
	v.reason = exit.Reason
	v.result = result
}

// unwind fails every frame, used when gas runs out.
func (v *Vm) unwind(reason evm.ExitReason) error {
	for v.snapshots.Len() > 0 {
		frame := v.snapshots.Pop()
		frame.Machine.Release()
		if err := v.journal.RevertScope(); err != nil {
			return err
		}
	}
	v.created = nil
	v.finish(&evm.Exit{Reason: reason}, nil)
	return nil
}

// Execute runs machines for at most budget steps. It returns true once the
// outermost frame exited.
func (v *Vm) Execute(origin state.Origin, env xenv.Environment, budget uint64) (bool, uint64, error) {
	if !v.initialized {
		return false, 0, errors.New("vm: not initialized")
	}
	var steps uint64
	for !v.exited && steps < budget {
		gasLeft := (v.gasLimit - v.gasUsed) / thor.StepGas
		if gasLeft == 0 {
			if err := v.unwind(evm.ExitOutOfGas); err != nil {
				return false, steps, err
			}
			break
		}
		top := v.snapshots.Top()
		if err := v.restoreJumps(origin, top); err != nil {
			return false, steps, err
		}
		h := &handler{vm: v, origin: origin, env: env, mutable: top.Mutable}
		action, n, err := top.Machine.Run(h, min(budget-steps, gasLeft))
		steps += n
		v.gasUsed += n * thor.StepGas
		if err != nil {
			return false, steps, err
		}

		switch a := action.(type) {
		case *evm.Trap:
			err = v.trap(origin, a)
		case *evm.Exit:
			_, err = v.commitExit(origin, a)
		}
		if err != nil {
			return false, steps, err
		}
	}
	return v.exited, steps, nil
}

// restoreJumps attaches the cached jump analysis to a decoded call frame
// running deployed code.
func (v *Vm) restoreJumps(origin state.Origin, frame *Snapshot) error {
	if frame.Machine.Analyzed() || frame.Reason.Kind != ReasonCall {
		return nil
	}
	if _, pending := v.journal.PendingCode(frame.Reason.Address); pending {
		return nil
	}
	jumps, err := origin.ValidJumps(frame.Reason.Address)
	if err != nil {
		return err
	}
	frame.Machine.SetJumps(jumps)
	return nil
}

// Commit flushes the journal into the origin and pays the fee.
func (v *Vm) Commit(origin state.Origin) (*tx.Receipt, error) {
	if !v.exited {
		return nil, errNotFinished
	}
	logs, err := v.journal.Commit(origin)
	if err != nil {
		return nil, err
	}
	fee := v.Fee()
	if !fee.IsZero() && v.feeRecipient != v.from {
		if err := origin.SubBalance(v.from, fee); err != nil {
			return nil, errors.Wrap(err, "pay fee")
		}
		if err := origin.AddBalance(v.feeRecipient, fee); err != nil {
			return nil, errors.Wrap(err, "pay fee")
		}
	}
	logger.Debug("tx committed", "tx", v.txHash.AbbrevString(), "reason", v.reason, "gas", v.gasUsed, "logs", len(logs))

	return &tx.Receipt{
		TxHash:   v.txHash,
		Reverted: !v.reason.IsSucceed(),
		Reason:   v.reason.String(),
		GasUsed:  v.gasUsed,
		Paid:     fee,
		Output:   v.result,
		Created:  v.created,
		Logs:     logs,
	}, nil
}

type vmRLP struct {
	Journal     *journal.Journal
	Snapshots   *Snapshots
	GasUsed     uint64
	Initialized bool
	Exited      bool
	Reason      evm.ExitReason
	Result      []byte
	Created     []thor.Address
}

// EncodeRLP implements rlp.Encoder. The transaction and config are not encoded.
func (v *Vm) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &vmRLP{
		Journal:     v.journal,
		Snapshots:   &v.snapshots,
		GasUsed:     v.gasUsed,
		Initialized: v.initialized,
		Exited:      v.exited,
		Reason:      v.reason,
		Result:      v.result,
		Created:     v.created,
	})
}

// Decode restores a Vm of the transaction from its encoding.
func Decode(data []byte, trx *tx.Transaction, cfg thor.Config) (*Vm, error) {
	var obj vmRLP
	if err := rlp.DecodeBytes(data, &obj); err != nil {
		return nil, errors.Wrap(err, "vm: decode")
	}
	if obj.Journal == nil || obj.Snapshots == nil {
		return nil, errors.New("vm: incomplete encoding")
	}
	v := New(trx, cfg)
	v.journal = obj.Journal
	v.snapshots = *obj.Snapshots
	v.gasUsed = obj.GasUsed
	v.initialized = obj.Initialized
	v.exited = obj.Exited
	v.reason = obj.Reason
	v.result = obj.Result
	v.created = obj.Created
	if v.initialized && !v.exited && v.snapshots.Len() == 0 {
		return nil, errors.New("vm: running without frames")
	}
	return v, nil
}
