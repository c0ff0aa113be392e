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
	"errors"
	"fmt"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

var (
	ErrVoteUnexpectedStep          = errors.New("unexpected step")
	ErrVoteInvalidValidatorAddress = errors.New("invalid validator address")
	ErrVoteInvalidType             = errors.New("invalid vote type")
	ErrVoteHeightMismatch          = errors.New("height mismatch")
	ErrVoteNonDeterministicVote    = errors.New("non-deterministic vote")
	ErrVoteNil                     = errors.New("nil vote")
)

// ErrVoteConflictingVotes is returned by VoteSet.AddVote when a validator
// signs two different blocks in the same height, round and type.
type ErrVoteConflictingVotes struct {
	VoteA *Vote
	VoteB *Vote
}

func (err *ErrVoteConflictingVotes) Error() string {
	return fmt.Sprintf("conflicting votes from validator %v", err.VoteA.ValidatorAddress.Hex())
}

// NewConflictingVoteError wraps two conflicting votes from the same validator.
func NewConflictingVoteError(voteA, voteB *Vote) *ErrVoteConflictingVotes {
	return &ErrVoteConflictingVotes{VoteA: voteA, VoteB: voteB}
}

// Types of votes.
const (
	PrevoteType   byte = 0x01
	PrecommitType byte = 0x02
)

// IsVoteTypeValid returns true if t is a known vote type.
func IsVoteTypeValid(t byte) bool {
	switch t {
	case PrevoteType, PrecommitType:
		return true
	default:
		return false
	}
}

// VoteTypeString returns a human readable vote type name.
func VoteTypeString(t byte) string {
	switch t {
	case PrevoteType:
		return "Prevote"
	case PrecommitType:
		return "Precommit"
	default:
		return "Unknown"
	}
}

// Vote represents a prevote or precommit from a validator for a block hash.
// A nil BlockHash (all zeroes) is a vote against any block this round.
type Vote struct {
	ValidatorAddress cmn.Address `json:"validator_address"`
	ValidatorIndex   uint32      `json:"validator_index"`
	Height           uint64      `json:"height"`
	Round            uint32      `json:"round"`
	Type             byte        `json:"type"`
	BlockHash        cmn.Hash    `json:"block_hash"`
	Timestamp        uint64      `json:"timestamp"`
}

// IsNilVote returns true if the vote endorses no block.
func (vote *Vote) IsNilVote() bool {
	return vote.BlockHash.IsNil()
}

// Copy creates a deep copy of the vote.
func (vote *Vote) Copy() *Vote {
	if vote == nil {
		return nil
	}
	voteCopy := *vote
	return &voteCopy
}

// ValidateBasic performs stateless validation.
func (vote *Vote) ValidateBasic() error {
	if !IsVoteTypeValid(vote.Type) {
		return ErrVoteInvalidType
	}
	if vote.ValidatorAddress.IsZero() {
		return ErrVoteInvalidValidatorAddress
	}
	return nil
}

func (vote *Vote) String() string {
	if vote == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{%d:%v %d/%d %s %v}",
		vote.ValidatorIndex,
		cmn.Fingerprint(vote.ValidatorAddress.Bytes()),
		vote.Height,
		vote.Round,
		VoteTypeString(vote.Type),
		vote.BlockHash.TerminalString(),
	)
}
