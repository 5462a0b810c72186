// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vechain/itervm/runtime"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
)

// txFile is the yaml file of transactions to run.
type txFile struct {
	ChainID uint64  `yaml:"chainId"`
	Txs     []txDef `yaml:"txs"`
}

type txDef struct {
	Holder   *thor.Bytes32         `yaml:"holder"`
	From     thor.Address          `yaml:"from"`
	To       *thor.Address         `yaml:"to"`
	DeployAt *thor.Address         `yaml:"deployAt"`
	Nonce    uint64                `yaml:"nonce"`
	Gas      uint64                `yaml:"gas"`
	GasPrice string                `yaml:"gasPrice"`
	Value    string                `yaml:"value"`
	Data     string                `yaml:"data"`
	Accounts []runtime.AccountMeta `yaml:"accounts"`
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}

func (d *txDef) instruction(chainID uint64) (*runtime.Instruction, error) {
	gasPrice, err := parseAmount(d.GasPrice)
	if err != nil {
		return nil, errors.WithMessage(err, "gasPrice")
	}
	value, err := parseAmount(d.Value)
	if err != nil {
		return nil, errors.WithMessage(err, "value")
	}
	var data []byte
	if d.Data != "" {
		if data, err = hexutil.Decode(d.Data); err != nil {
			return nil, errors.WithMessage(err, "data")
		}
	}
	trx := tx.NewBuilder().
		ChainID(chainID).
		Nonce(d.Nonce).
		Gas(d.Gas).
		GasPrice(gasPrice).
		From(d.From).
		To(d.To).
		DeployAt(d.DeployAt).
		Value(value).
		Data(data).
		Build()
	raw, err := rlp.EncodeToBytes(trx)
	if err != nil {
		return nil, err
	}

	// a fresh holder per run unless one is given to resume
	holder := thor.Keccak256(uuid.NewRandom())
	if d.Holder != nil {
		holder = *d.Holder
	}
	return &runtime.Instruction{Holder: holder, RawTx: raw, Accounts: d.Accounts}, nil
}

func loadTxFile(path string, defaultChainID uint64) ([]*runtime.Instruction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read tx file")
	}
	var f txFile
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, errors.Wrap(err, "decode tx file")
	}
	if f.ChainID == 0 {
		f.ChainID = defaultChainID
	}
	instrs := make([]*runtime.Instruction, 0, len(f.Txs))
	for i := range f.Txs {
		instr, err := f.Txs[i].instruction(f.ChainID)
		if err != nil {
			return nil, errors.WithMessagef(err, "tx %d", i)
		}
		instrs = append(instrs, instr)
	}
	return instrs, nil
}
