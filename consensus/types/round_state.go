/*
 *  Copyright 2020 KardiaChain
 *  This file is part of the go-bft library.
 *
 *  The go-bft library is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU Lesser General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  The go-bft library is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 *  GNU Lesser General Public License for more details.
 *
 *  You should have received a copy of the GNU Lesser General Public License
 *  along with the go-bft library. If not, see <http://www.gnu.org/licenses/>.
 */

package types

import (
	"fmt"
	"time"

	"github.com/kardiachain/go-bft/types"
)

//-----------------------------------------------------------------------------
// RoundStepType enum type

// RoundStepType enumerates the state of the consensus state machine.
// These must be numeric and ordered: timeouts scheduled in an earlier step
// of the same round compare lower and are discarded as stale.
type RoundStepType uint8

const (
	RoundStepNewHeight   = RoundStepType(0x01) // Wait til CommitTime + commit interval
	RoundStepPropose     = RoundStepType(0x02) // Waiting for or spreading a proposal
	RoundStepPrevote     = RoundStepType(0x03) // Did prevote, collecting prevotes
	RoundStepPrevoteWait = RoundStepType(0x04) // Polka landed but the verdict is out, grace timer running
	RoundStepPrecommit   = RoundStepType(0x05) // Did precommit, collecting precommits
	RoundStepCommit      = RoundStepType(0x06) // Found the commit, waiting for the host status
)

// String returns a string
func (rs RoundStepType) String() string {
	switch rs {
	case RoundStepNewHeight:
		return "RoundStepNewHeight"
	case RoundStepPropose:
		return "RoundStepPropose"
	case RoundStepPrevote:
		return "RoundStepPrevote"
	case RoundStepPrevoteWait:
		return "RoundStepPrevoteWait"
	case RoundStepPrecommit:
		return "RoundStepPrecommit"
	case RoundStepCommit:
		return "RoundStepCommit"
	default:
		return "RoundStepUnknown" // Cannot panic.
	}
}

//-----------------------------------------------------------------------------

// RoundState holds the internal consensus state of one height.
// NOTE: Not thread safe. Should only be manipulated by functions downstream
// of the cs.receiveRoutine
type RoundState struct {
	Height    uint64        `json:"height"` // Height we are working on
	Round     uint32        `json:"round"`
	Step      RoundStepType `json:"step"`
	StartTime time.Time     `json:"start_time"`

	// CommitTime is the subjective time when +2/3 precommits for Block at
	// Round were found.
	CommitTime  time.Time           `json:"commit_time"`
	Validators  *types.ValidatorSet `json:"validators"`
	Proposal    *types.Proposal     `json:"proposal"`
	LockedRound uint32              `json:"locked_round"` // meaningful iff LockedBlock != nil
	LockedBlock *types.Block        `json:"locked_block"`
	LockedVotes []*types.Vote       `json:"locked_votes"` // the +2/3 prevotes backing the lock
	Votes       *HeightVoteSet      `json:"votes"`
	CommitRound uint32              `json:"commit_round"`

	TriggeredTimeoutPrecommit bool `json:"triggered_timeout_precommit"`
}

// IsLocked returns true if a lock from an earlier round is held.
func (rs *RoundState) IsLocked() bool {
	return rs.LockedBlock != nil
}

func (rs *RoundState) String() string {
	return rs.StringIndented("")
}

// StringIndented returns an indented multiline representation of the state.
func (rs *RoundState) StringIndented(indent string) string {
	return fmt.Sprintf(`RoundState{
%s  H:%v R:%v S:%v
%s  StartTime:     %v
%s  CommitTime:    %v
%s  Validators:    %v
%s  Proposal:      %v
%s  LockedRound:   %v
%s  LockedBlock:   %v
%s}`,
		indent, rs.Height, rs.Round, rs.Step,
		indent, rs.StartTime,
		indent, rs.CommitTime,
		indent, rs.Validators.StringIndented(indent+"  "),
		indent, rs.Proposal,
		indent, rs.LockedRound,
		indent, rs.LockedBlock,
		indent)
}

// StringShort returns a one line summary of the state.
func (rs *RoundState) StringShort() string {
	return fmt.Sprintf(`RoundState{H:%v R:%v S:%v ST:%v}`,
		rs.Height, rs.Round, rs.Step, rs.StartTime)
}
