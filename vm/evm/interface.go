// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"github.com/holiman/uint256"

	"github.com/vechain/itervm/thor"
)

// Handler is the state and environment capability used by the machine.
// Handler errors other than ErrStaticModeViolation abort the run.
type Handler interface {
	Balance(addr thor.Address) (*uint256.Int, error)
	CodeSize(addr thor.Address) (int, error)
	CodeHash(addr thor.Address) (thor.Bytes32, error)
	Code(addr thor.Address) ([]byte, error)
	Storage(addr thor.Address, slot thor.Bytes32) (thor.Bytes32, error)

	SetStorage(addr thor.Address, slot, value thor.Bytes32) error
	Log(addr thor.Address, topics []thor.Bytes32, data []byte) error
	SelfDestruct(addr, beneficiary thor.Address) error

	Origin() thor.Address
	GasPrice() *uint256.Int
	GasLimit() uint64
	GasLeft() uint64
	Coinbase() thor.Address
	Timestamp() uint64
	Number() uint64
	ChainID() uint64
	BlockHash(number uint64) thor.Bytes32
}

// Context is the call context of a frame.
type Context struct {
	Address thor.Address
	Caller  thor.Address
	Value   *uint256.Int
}

// Action is the result of a run that stopped before the budget was used up.
type Action interface {
	action()
}

// TrapKind is the kind of a nested frame request.
type TrapKind uint8

const (
	TrapCall TrapKind = iota
	TrapStaticCall
	TrapCreate
	TrapCreate2
)

func (k TrapKind) String() string {
	switch k {
	case TrapCall:
		return "call"
	case TrapStaticCall:
		return "staticcall"
	case TrapCreate:
		return "create"
	case TrapCreate2:
		return "create2"
	}
	return "unknown"
}

// IsCreate returns whether the trap requests a contract creation.
func (k TrapKind) IsCreate() bool { return k == TrapCreate || k == TrapCreate2 }

// Trap asks the driver to open a nested frame. The machine is resumed
// with ResumeCall or ResumeCreate once the frame exits.
type Trap struct {
	Kind   TrapKind
	Target thor.Address // call target
	Value  *uint256.Int
	Input  []byte // call data or init code
	Salt   thor.Bytes32
}

// Exit reports the frame stopped.
type Exit struct {
	Reason ExitReason
	Data   []byte
}

func (*Trap) action() {}
func (*Exit) action() {}
