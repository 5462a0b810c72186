// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package evm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrStaticModeViolation is returned by handlers for a state modification
// attempted in a non-mutable frame.
var ErrStaticModeViolation = errors.New("static mode violation")

// ExitReason is the reason a frame stopped.
type ExitReason uint8

// Succeed reasons come first, then revert, then errors, fatal last.
const (
	ExitStopped ExitReason = iota
	ExitReturned
	ExitSelfDestructed

	ExitRevert

	ExitOutOfGas
	ExitInvalidOpcode
	ExitStackUnderflow
	ExitStackOverflow
	ExitInvalidJump
	ExitInvalidRange
	ExitStaticModeViolation
	ExitCallTooDeep
	ExitOutOfFund
	ExitCreateCollision
	ExitCreateContractLimit
	ExitInvalidCode
	ExitNotSupported
	ExitPrecompileFailed

	ExitFatal
)

var exitReasonNames = [...]string{
	ExitStopped:             "stopped",
	ExitReturned:            "returned",
	ExitSelfDestructed:      "self destructed",
	ExitRevert:              "reverted",
	ExitOutOfGas:            "out of gas",
	ExitInvalidOpcode:       "invalid opcode",
	ExitStackUnderflow:      "stack underflow",
	ExitStackOverflow:       "stack overflow",
	ExitInvalidJump:         "invalid jump destination",
	ExitInvalidRange:        "invalid memory range",
	ExitStaticModeViolation: "static mode violation",
	ExitCallTooDeep:         "max call depth exceeded",
	ExitOutOfFund:           "insufficient balance for transfer",
	ExitCreateCollision:     "contract address collision",
	ExitCreateContractLimit: "max code size exceeded",
	ExitInvalidCode:         "invalid code: must not begin with 0xef",
	ExitNotSupported:        "operation not supported",
	ExitPrecompileFailed:    "precompiled contract failed",
	ExitFatal:               "fatal",
}

func (r ExitReason) String() string {
	if int(r) < len(exitReasonNames) {
		return exitReasonNames[r]
	}
	return fmt.Sprintf("exit(%d)", uint8(r))
}

func (r ExitReason) IsSucceed() bool { return r <= ExitSelfDestructed }
func (r ExitReason) IsRevert() bool  { return r == ExitRevert }
func (r ExitReason) IsError() bool   { return r > ExitRevert && r < ExitFatal }
func (r ExitReason) IsFatal() bool   { return r >= ExitFatal }
