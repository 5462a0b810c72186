// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package iterative

import "fmt"

// Stage is a state of the iterative machine.
type Stage uint8

const (
	FromHolder Stage = iota
	Lock
	Init
	InitLocked
	Serialize
	Execute
	IntoTrap
	Allocate
	MergeSlots
	AllocateStorage
	Commit
	Unlock
	UnlockFailedTx
	Completed
	Failed
	NextIteration
	AllocateHolder
	Exit
)

var stageNames = [...]string{
	FromHolder:      "from-holder",
	Lock:            "lock",
	Init:            "init",
	InitLocked:      "init-locked",
	Serialize:       "serialize",
	Execute:         "execute",
	IntoTrap:        "into-trap",
	Allocate:        "allocate",
	MergeSlots:      "merge-slots",
	AllocateStorage: "allocate-storage",
	Commit:          "commit",
	Unlock:          "unlock",
	UnlockFailedTx:  "unlock-failed-tx",
	Completed:       "completed",
	Failed:          "failed",
	NextIteration:   "next-iteration",
	AllocateHolder:  "allocate-holder",
	Exit:            "exit",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Finished returns whether the stage is terminal for the transaction.
func (s Stage) Finished() bool {
	return s == Completed || s == Failed
}

// continues returns whether the stage carries a continuation.
func (s Stage) continues() bool {
	switch s {
	case Lock, InitLocked, Serialize, NextIteration, AllocateHolder:
		return true
	}
	return false
}

// State is a stage with its continuation. Lock and InitLocked continue to the
// stage being resumed, Serialize, NextIteration and AllocateHolder to the
// stage run after persisting.
type State struct {
	Stage Stage
	To    Stage
}

func (s State) String() string {
	if s.Stage.continues() {
		return fmt.Sprintf("%v(%v)", s.Stage, s.To)
	}
	return s.Stage.String()
}

func at(stage Stage) State { return State{Stage: stage} }

func to(stage, next Stage) State { return State{Stage: stage, To: next} }
