// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vechain/itervm/iterative"
	"github.com/vechain/itervm/ledger"
	"github.com/vechain/itervm/lvldb"
	"github.com/vechain/itervm/runtime"
	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/tx"
	"github.com/vechain/itervm/xenv"
)

const txYAML = `
chainId: 7
txs:
  - from: "0x00000000000000000000000000000000616c6963"
    to: "0x0000000000000000000000000000000000000062"
    nonce: 2
    gas: 30000
    gasPrice: "3"
    value: "1000000000000000000000"
    data: "0x0102"
    accounts:
      - address: "0x0000000000000000000000000000000000000063"
        writable: false
  - holder: "0x00000000000000000000000000000000000000000000000000000000000000aa"
    from: "0x00000000000000000000000000000000616c6963"
    deployAt: "0x0000000000000000000000000000000000000064"
    gas: 60000
`

func TestLoadTxFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(txYAML), 0600))

	instrs, err := loadTxFile(path, 1)
	require.NoError(t, err)
	require.Len(t, instrs, 2)

	trx, err := tx.Decode(instrs[0].RawTx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), trx.ChainID())
	assert.Equal(t, uint64(2), trx.Nonce())
	assert.Equal(t, uint64(30000), trx.Gas())
	assert.Equal(t, uint64(3), trx.GasPrice().Uint64())
	assert.Equal(t, "1000000000000000000000", trx.Value().Dec())
	assert.Equal(t, []byte{1, 2}, trx.Data())
	assert.Equal(t, thor.BytesToAddress([]byte{'b'}), *trx.To())
	assert.Equal(t, []runtime.AccountMeta{{Address: thor.BytesToAddress([]byte{'c'})}}, instrs[0].Accounts)
	assert.False(t, instrs[0].Holder.IsZero())

	trx, err = tx.Decode(instrs[1].RawTx)
	require.NoError(t, err)
	assert.True(t, trx.IsCreation())
	assert.Equal(t, thor.BytesToAddress([]byte{'d'}), *trx.DeployAt())
	assert.Equal(t, thor.BytesToBytes32([]byte{0xaa}), instrs[1].Holder)
}

func TestLoadTxFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "txs: ["},
		{"bad value", "txs:\n  - value: abc\n"},
		{"bad data", "txs:\n  - data: 0xz\n"},
		{"bad address", "txs:\n  - from: 0x01\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "txs.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := loadTxFile(path, 1)
			assert.Error(t, err)
		})
	}
}

func TestAPI(t *testing.T) {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	defer db.Close()

	alice := thor.BytesToAddress([]byte("alice"))
	bob := thor.BytesToAddress([]byte("bob"))
	rt := runtime.New(ledger.NewCached(db, 1), xenv.NewStatic(0, 1, 1, thor.Address{}), thor.DefaultConfig())
	require.NoError(t, rt.Fund(alice, 0, uint256.NewInt(1000)))

	def := txDef{From: alice, To: &bob, Gas: 21000, Value: "10"}
	instr, err := def.instruction(1)
	require.NoError(t, err)
	out, err := rt.Run(context.Background(), instr)
	require.NoError(t, err)
	assert.Equal(t, iterative.Completed, out.State.Stage)

	view := newOutcomeView(instr.Holder, out)
	assert.Equal(t, "completed", view.Stage)
	assert.Equal(t, thor.TxGas, view.GasUsed)

	srv := httptest.NewServer(newAPIRouter(rt))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/accounts/" + bob.String())
	require.NoError(t, err)
	var account accountView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&account))
	res.Body.Close()
	assert.Equal(t, "10", account.Balance)
	assert.Zero(t, account.CodeSize)

	res, err = http.Get(srv.URL + "/holders/" + instr.Holder.String())
	require.NoError(t, err)
	var rec recordView
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rec))
	res.Body.Close()
	assert.Equal(t, "completed", rec.Stage)
	assert.True(t, rec.Finalized)
	assert.Equal(t, thor.TxGas, rec.GasUsed)

	res, err = http.Get(srv.URL + "/holders/0x01")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(srv.URL + "/holders/" + thor.Bytes32{9}.String())
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
