// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"gopkg.in/cheggaaa/pb.v1"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"

	"github.com/vechain/itervm/iterative"
	"github.com/vechain/itervm/log"
	"github.com/vechain/itervm/runtime"
	"github.com/vechain/itervm/thor"
)

type accountView struct {
	Address  string `yaml:"address" json:"address"`
	Nonce    uint64 `yaml:"nonce" json:"nonce"`
	Balance  string `yaml:"balance" json:"balance"`
	CodeSize int    `yaml:"codeSize" json:"codeSize"`
	CodeHash string `yaml:"codeHash,omitempty" json:"codeHash,omitempty"`
}

func readAccount(rt *runtime.Runtime, addr thor.Address) (*accountView, error) {
	st, release := rt.Reader(addr)
	defer release()

	nonce, err := st.Nonce(addr)
	if err != nil {
		return nil, err
	}
	balance, err := st.Balance(addr)
	if err != nil {
		return nil, err
	}
	code, err := st.Code(addr)
	if err != nil {
		return nil, err
	}
	view := &accountView{
		Address:  addr.String(),
		Nonce:    nonce,
		Balance:  balance.Dec(),
		CodeSize: len(code),
	}
	if len(code) > 0 {
		view.CodeHash = thor.Keccak256(code).String()
	}
	return view, nil
}

type recordView struct {
	Stage      string   `yaml:"stage" json:"stage"`
	TxHash     string   `yaml:"txHash" json:"txHash"`
	Finalized  bool     `yaml:"finalized" json:"finalized"`
	Iterations uint64   `yaml:"iterations" json:"iterations"`
	Reverted   bool     `yaml:"reverted,omitempty" json:"reverted,omitempty"`
	Reason     string   `yaml:"reason,omitempty" json:"reason,omitempty"`
	GasUsed    uint64   `yaml:"gasUsed,omitempty" json:"gasUsed,omitempty"`
	Paid       string   `yaml:"paid,omitempty" json:"paid,omitempty"`
	Created    []string `yaml:"created,omitempty" json:"created,omitempty"`
	Error      string   `yaml:"error,omitempty" json:"error,omitempty"`
}

func newRecordView(rec *iterative.Record) *recordView {
	view := &recordView{
		Stage:      rec.State.String(),
		TxHash:     rec.TxHash.String(),
		Finalized:  rec.Finalized,
		Iterations: rec.Iterations,
		Error:      rec.Error,
	}
	if s := rec.Summary; s != nil {
		view.Reverted = s.Reverted
		view.Reason = s.Reason
		view.GasUsed = s.GasUsed
		if s.Paid != nil {
			view.Paid = s.Paid.Dec()
		}
		for _, addr := range s.Created {
			view.Created = append(view.Created, addr.String())
		}
	}
	return view
}

type outcomeView struct {
	Holder     string   `yaml:"holder"`
	Stage      string   `yaml:"stage"`
	Steps      uint64   `yaml:"steps"`
	Iterations uint64   `yaml:"iterations"`
	Reverted   bool     `yaml:"reverted,omitempty"`
	Reason     string   `yaml:"reason,omitempty"`
	GasUsed    uint64   `yaml:"gasUsed,omitempty"`
	Output     string   `yaml:"output,omitempty"`
	Created    []string `yaml:"created,omitempty"`
	Logs       int      `yaml:"logs,omitempty"`
	Error      string   `yaml:"error,omitempty"`
}

func newOutcomeView(holder thor.Bytes32, out *iterative.Outcome) *outcomeView {
	view := &outcomeView{
		Holder:     holder.String(),
		Stage:      out.State.String(),
		Steps:      out.Steps,
		Iterations: out.Iterations,
	}
	if out.Err != nil {
		view.Error = out.Err.Error()
	}
	if r := out.Receipt; r != nil {
		view.Reverted = r.Reverted
		view.Reason = r.Reason
		view.GasUsed = r.GasUsed
		if len(r.Output) > 0 {
			view.Output = hexutil.Encode(r.Output)
		}
		for _, addr := range r.Created {
			view.Created = append(view.Created, addr.String())
		}
		view.Logs = len(r.Logs)
	}
	return view
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func runAction(ctx *cli.Context) error {
	path := ctx.String(txFileFlag.Name)
	if path == "" {
		return errors.Errorf("missing -%s", txFileFlag.Name)
	}
	rt, closeFunc, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeFunc()

	instrs, err := loadTxFile(path, rt.Config().ChainID)
	if err != nil {
		return err
	}
	exitCtx := handleExitSignal()

	bar := pb.New(len(instrs)).
		SetMaxWidth(90).
		Start()
	defer func() { bar.NotPrint = true }()

	var outcomes []*iterative.Outcome
	if ctx.Bool(parallelFlag.Name) {
		outcomes, err = rt.RunAll(exitCtx, instrs, func(int, *iterative.Outcome) { bar.Increment() })
		if err != nil {
			return err
		}
	} else {
		for _, instr := range instrs {
			out, err := rt.Run(exitCtx, instr)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, out)
			bar.Increment()
		}
	}
	bar.Finish()

	views := make([]*outcomeView, 0, len(outcomes))
	for i, out := range outcomes {
		views = append(views, newOutcomeView(instrs[i].Holder, out))
	}
	return printYAML(views)
}

func fundAction(ctx *cli.Context) error {
	addr, err := thor.ParseAddress(ctx.String(addressFlag.Name))
	if err != nil {
		return errors.WithMessagef(err, "-%s", addressFlag.Name)
	}
	balance, err := parseAmount(ctx.String(balanceFlag.Name))
	if err != nil {
		return errors.WithMessagef(err, "-%s", balanceFlag.Name)
	}
	rt, closeFunc, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeFunc()

	if err := rt.Fund(addr, ctx.Uint64(nonceFlag.Name), balance); err != nil {
		return err
	}
	log.Info("account funded", "address", addr, "balance", balance.Dec())
	return nil
}

func deployAction(ctx *cli.Context) error {
	addr, err := thor.ParseAddress(ctx.String(addressFlag.Name))
	if err != nil {
		return errors.WithMessagef(err, "-%s", addressFlag.Name)
	}
	code, err := hexutil.Decode(ctx.String(codeFlag.Name))
	if err != nil {
		return errors.WithMessagef(err, "-%s", codeFlag.Name)
	}
	if len(code) > thor.MaxCodeSize {
		return errors.Errorf("code size %d exceeds %d", len(code), thor.MaxCodeSize)
	}
	rt, closeFunc, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeFunc()

	if err := rt.Deploy(addr, code); err != nil {
		return err
	}
	log.Info("code deployed", "address", addr, "size", len(code))
	return nil
}

func showAction(ctx *cli.Context) error {
	rt, closeFunc, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeFunc()

	switch {
	case ctx.IsSet(holderFlag.Name):
		holder, err := thor.ParseBytes32(ctx.String(holderFlag.Name))
		if err != nil {
			return errors.WithMessagef(err, "-%s", holderFlag.Name)
		}
		rec, err := rt.Record(holder)
		if err != nil {
			return err
		}
		return printYAML(newRecordView(rec))
	case ctx.IsSet(addressFlag.Name):
		addr, err := thor.ParseAddress(ctx.String(addressFlag.Name))
		if err != nil {
			return errors.WithMessagef(err, "-%s", addressFlag.Name)
		}
		view, err := readAccount(rt, addr)
		if err != nil {
			return err
		}
		return printYAML(view)
	}
	return errors.Errorf("one of -%s or -%s is required", addressFlag.Name, holderFlag.Name)
}

func serveAction(ctx *cli.Context) error {
	rt, closeFunc, err := setup(ctx)
	if err != nil {
		return err
	}
	defer closeFunc()

	url, stop, err := serve(ctx.String(apiAddrFlag.Name), newAPIRouter(rt))
	if err != nil {
		return err
	}
	defer func() { log.Info("stopping API server..."); stop() }()
	log.Info("API server started", "url", url)

	<-handleExitSignal().Done()
	return nil
}
