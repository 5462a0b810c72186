// Copyright (c) 2018 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package runtime

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vechain/itervm/iterative"
	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/lock"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/xenv"
)

var logger = log.WithContext("pkg", "runtime")

// RetryInterval is the wait before retrying an invocation that hit a locked account.
var RetryInterval = 50 * time.Millisecond

// Runtime drives transactions over the ledger, one invocation at a time.
type Runtime struct {
	ledger  *ledger.Ledger
	env     xenv.Environment
	cfg     thor.Config
	machine *iterative.Machine
}

// New create a Runtime object.
func New(l *ledger.Ledger, env xenv.Environment, cfg thor.Config) *Runtime {
	return &Runtime{
		ledger:  l,
		env:     env,
		cfg:     cfg,
		machine: iterative.New(cfg),
	}
}

func (rt *Runtime) Ledger() *ledger.Ledger      { return rt.ledger }
func (rt *Runtime) Env() xenv.Environment       { return rt.env }
func (rt *Runtime) Config() thor.Config         { return rt.cfg }
func (rt *Runtime) Machine() *iterative.Machine { return rt.machine }

// Invoke runs one invocation of the instruction. The ledger mutations are
// committed only if the invocation succeeds. A finished transaction yields its
// persisted outcome without running.
func (rt *Runtime) Invoke(ctx context.Context, instr *Instruction) (*iterative.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rtx, err := ResolveTransaction(instr, rt.cfg)
	if err != nil {
		return nil, err
	}
	return rt.invoke(rtx, instr.BypassNonce)
}

func (rt *Runtime) invoke(rtx *ResolvedTransaction, bypassNonce bool) (*iterative.Outcome, error) {
	inv := rt.ledger.Begin(rt.cfg.AllocationBudget)
	out, err := rt.machine.Step(inv, rt.env, &iterative.Instruction{
		Holder:      rtx.Holder,
		Tx:          rtx.Tx,
		Accounts:    rtx.Accounts,
		BypassNonce: bypassNonce,
	})
	if err != nil {
		inv.Discard()
		if errors.Is(err, iterative.ErrTransactionFinished) {
			logger.Debug("tx already finished", "tx", rtx.Tx.Hash().AbbrevString())
			return rt.finished(rtx.Holder)
		}
		return nil, err
	}
	if err := inv.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// finished returns the outcome persisted for a finished transaction.
func (rt *Runtime) finished(holder thor.Bytes32) (*iterative.Outcome, error) {
	rec, err := rt.Record(holder)
	if err != nil {
		return nil, err
	}
	out := &iterative.Outcome{State: rec.State, Iterations: rec.Iterations}
	if rec.Error != "" {
		out.Err = errors.New(rec.Error)
	}
	return out, nil
}

// Record returns the record persisted in the holder.
func (rt *Runtime) Record(holder thor.Bytes32) (*iterative.Record, error) {
	data, err := rt.ledger.Get(holder)
	if err != nil {
		return nil, err
	}
	return iterative.ReadRecord(data)
}

// Run invokes the instruction until the transaction is finished. Invocations
// blocked by locked accounts are retried until ctx is done.
func (rt *Runtime) Run(ctx context.Context, instr *Instruction) (*iterative.Outcome, error) {
	rtx, err := ResolveTransaction(instr, rt.cfg)
	if err != nil {
		return nil, err
	}

	var (
		steps       uint64
		invocations int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := rt.invoke(rtx, instr.BypassNonce)
		if err != nil {
			if !errors.Is(err, lock.ErrAccountLocked) {
				return nil, err
			}
			logger.Debug("account locked, retry", "tx", rtx.Tx.Hash().AbbrevString(), "err", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(RetryInterval):
			}
			continue
		}
		invocations++
		steps += out.Steps
		if out.Finished() {
			out.Steps = steps
			logger.Debug("tx finished", "tx", rtx.Tx.Hash().AbbrevString(), "stage", out.State, "invocations", invocations, "steps", steps)
			return out, nil
		}
	}
}

// RunAll runs the instructions concurrently. The outcomes are in the order of
// the instructions. If not nil, onFinished is called concurrently as each
// instruction finishes.
func (rt *Runtime) RunAll(ctx context.Context, instrs []*Instruction, onFinished func(i int, out *iterative.Outcome)) ([]*iterative.Outcome, error) {
	outcomes := make([]*iterative.Outcome, len(instrs))
	g, ctx := errgroup.WithContext(ctx)
	for i, instr := range instrs {
		g.Go(func() error {
			out, err := rt.Run(ctx, instr)
			if err != nil {
				return errors.WithMessagef(err, "instruction %d", i)
			}
			outcomes[i] = out
			if onFinished != nil {
				onFinished(i, out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Genesis applies fn in a dedicated invocation, bypassing locks.
func (rt *Runtime) Genesis(fn func(l lock.Ledger) error) error {
	inv := rt.ledger.Begin(thor.MaxAccountDataIncrease)
	if err := fn(inv); err != nil {
		inv.Discard()
		return err
	}
	return inv.Commit()
}

// Fund sets the nonce and balance of an address.
func (rt *Runtime) Fund(addr thor.Address, nonce uint64, balance *uint256.Int) error {
	return rt.Genesis(func(l lock.Ledger) error {
		return state.Fund(l, addr, nonce, balance)
	})
}

// Deploy installs code at an address.
func (rt *Runtime) Deploy(addr thor.Address, code []byte) error {
	return rt.Genesis(func(l lock.Ledger) error {
		return state.Deploy(l, addr, code)
	})
}

// Reader returns a read-only view of the committed state of the accounts.
// The view must be released before the next invocation.
func (rt *Runtime) Reader(accounts ...thor.Address) (*state.State, func()) {
	inv := rt.ledger.Begin(0)
	declared := make([]state.Account, 0, len(accounts))
	for _, addr := range accounts {
		declared = append(declared, state.Account{Address: addr})
	}
	return state.New(inv, rt.env, thor.Bytes32{}, declared, rt.machine.JumpCache()), inv.Discard
}
