// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vm

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/vechain/itervm/thor"
	"github.com/vechain/itervm/vm/evm"
)

// ReasonKind tells why a frame was opened.
type ReasonKind uint8

const (
	ReasonCall ReasonKind = iota
	ReasonCreate
)

// Reason is the reason of a frame. Address is the call target or the created contract.
type Reason struct {
	Kind    ReasonKind
	Address thor.Address
}

func (r Reason) String() string {
	if r.Kind == ReasonCreate {
		return fmt.Sprintf("create(%v)", r.Address)
	}
	return fmt.Sprintf("call(%v)", r.Address)
}

// Snapshot is one frame of the call stack.
type Snapshot struct {
	Machine *evm.Machine
	Reason  Reason
	Mutable bool
}

// Snapshots is the call stack, the last frame is running.
type Snapshots struct {
	frames []*Snapshot
}

// Len returns the number of frames.
func (s *Snapshots) Len() int { return len(s.frames) }

// Top returns the running frame, nil if empty.
func (s *Snapshots) Top() *Snapshot {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Push pushes a frame. A frame is never mutable if its parent is not.
func (s *Snapshots) Push(frame *Snapshot) {
	if top := s.Top(); top != nil {
		frame.Mutable = frame.Mutable && top.Mutable
	}
	s.frames = append(s.frames, frame)
}

// Pop removes the running frame.
func (s *Snapshots) Pop() *Snapshot {
	top := s.Top()
	if top != nil {
		s.frames = s.frames[:len(s.frames)-1]
	}
	return top
}

type snapshotRLP struct {
	Machine *evm.Machine
	Kind    ReasonKind
	Address thor.Address
	Mutable bool
}

// EncodeRLP implements rlp.Encoder.
func (s *Snapshots) EncodeRLP(w io.Writer) error {
	frames := make([]snapshotRLP, 0, len(s.frames))
	for _, f := range s.frames {
		frames = append(frames, snapshotRLP{f.Machine, f.Reason.Kind, f.Reason.Address, f.Mutable})
	}
	return rlp.Encode(w, frames)
}

// DecodeRLP implements rlp.Decoder.
func (s *Snapshots) DecodeRLP(stream *rlp.Stream) error {
	var frames []snapshotRLP
	if err := stream.Decode(&frames); err != nil {
		return err
	}
	s.frames = make([]*Snapshot, 0, len(frames))
	for i, f := range frames {
		if f.Kind > ReasonCreate {
			return errors.Errorf("vm: invalid reason kind %d of frame %d", f.Kind, i)
		}
		if i > 0 && f.Mutable && !frames[i-1].Mutable {
			return errors.Errorf("vm: mutable frame %d under a static frame", i)
		}
		s.frames = append(s.frames, &Snapshot{
			Machine: f.Machine,
			Reason:  Reason{f.Kind, f.Address},
			Mutable: f.Mutable,
		})
	}
	return nil
}
