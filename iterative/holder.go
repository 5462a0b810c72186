// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package iterative

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/acc"
	"github.com/vechain/itervm/state"
	"github.com/vechain/itervm/thor"
)

// holder record layout:
//
//	[tag 1][stage 1][to 1][tx hash 32][required 4][body len 4][body]
const (
	stageOffset    = 1
	toOffset       = 2
	txHashOffset   = 3
	requiredOffset = txHashOffset + 32
	bodyLenOffset  = requiredOffset + 4

	// HeaderSize is the size of the holder record header.
	HeaderSize = bodyLenOffset + 4

	// initialHolderSize is the size a fresh holder grows to before locking.
	initialHolderSize = 512

	maxErrorLen = 256
)

// header is the fixed part of a holder record.
type header struct {
	Tag      acc.Tag
	State    State
	TxHash   thor.Bytes32
	Required uint32
	BodyLen  uint32
}

func (h *header) encode() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Tag)
	b[stageOffset] = byte(h.State.Stage)
	b[toOffset] = byte(h.State.To)
	copy(b[txHashOffset:], h.TxHash[:])
	binary.BigEndian.PutUint32(b[requiredOffset:], h.Required)
	binary.BigEndian.PutUint32(b[bodyLenOffset:], h.BodyLen)
	return b
}

// decodeHeader decodes the header of holder data. It returns false if the
// data holds no record.
func decodeHeader(data []byte) (header, bool) {
	tag := acc.TagOf(data)
	if (tag != acc.TagHolder && tag != acc.TagFinalized) || len(data) < HeaderSize {
		return header{}, false
	}
	h := header{
		Tag:      tag,
		State:    State{Stage(data[stageOffset]), Stage(data[toOffset])},
		TxHash:   thor.BytesToBytes32(data[txHashOffset:requiredOffset]),
		Required: binary.BigEndian.Uint32(data[requiredOffset:]),
		BodyLen:  binary.BigEndian.Uint32(data[bodyLenOffset:]),
	}
	if h.State.Stage > Exit || h.State.To > Exit {
		return header{}, false
	}
	return h, true
}

// Summary is the persisted result of a finished transaction.
type Summary struct {
	Reverted bool
	Reason   string
	GasUsed  uint64
	Paid     *uint256.Int
	Created  []thor.Address
}

// record is the body of a holder record.
type record struct {
	Vm         []byte
	Iterations uint64
	Required   []state.Requirement
	Summary    *Summary `rlp:"nil"`
	Error      string
}

// decodeRecord decodes the body following the header.
func decodeRecord(data []byte, h header) (record, error) {
	var rec record
	if h.BodyLen == 0 {
		return rec, nil
	}
	end := HeaderSize + int(h.BodyLen)
	if end > len(data) {
		return rec, errors.Errorf("holder: body length %d exceeds capacity %d", h.BodyLen, len(data)-HeaderSize)
	}
	if err := rlp.DecodeBytes(data[HeaderSize:end], &rec); err != nil {
		return rec, errors.Wrap(err, "holder: decode body")
	}
	return rec, nil
}

// Record is a decoded holder record.
type Record struct {
	State      State
	TxHash     thor.Bytes32
	Finalized  bool
	Iterations uint64
	Summary    *Summary
	Error      string
}

// ReadRecord decodes the record persisted in holder data.
func ReadRecord(data []byte) (*Record, error) {
	h, ok := decodeHeader(data)
	if !ok {
		return nil, errors.New("holder: no record")
	}
	rec, err := decodeRecord(data, h)
	if err != nil {
		return nil, err
	}
	return &Record{
		State:      h.State,
		TxHash:     h.TxHash,
		Finalized:  h.Tag == acc.TagFinalized,
		Iterations: rec.Iterations,
		Summary:    rec.Summary,
		Error:      rec.Error,
	}, nil
}
