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
	ErrProposalNilBlock        = errors.New("proposal carries no block")
	ErrProposalInvalidProposer = errors.New("proposal from wrong proposer")
	ErrProposalInvalidLock     = errors.New("proposal carries an invalid lock proof")
)

// Proposal is a block put forward by the designated proposer of a round.
//
// A proposer that is locked on a block from an earlier round must re-propose
// that exact block and attach the +2/3 prevotes that justify the lock:
// LockRound names the round of the quorum and LockVotes carries it. A
// proposal with no LockVotes makes no lock claim and LockRound is ignored.
type Proposal struct {
	Height    uint64      `json:"height"`
	Round     uint32      `json:"round"`
	Block     *Block      `json:"block"`
	Proposer  cmn.Address `json:"proposer"`
	LockRound uint32      `json:"lock_round"`
	LockVotes []*Vote     `json:"lock_votes"`
	Timestamp uint64      `json:"timestamp"`
}

// NewProposal builds an unlocked proposal for the given height and round.
func NewProposal(height uint64, round uint32, block *Block, proposer cmn.Address) *Proposal {
	return &Proposal{
		Height:   height,
		Round:    round,
		Block:    block,
		Proposer: proposer,
	}
}

// WithLock attaches a lock proof to the proposal.
func (p *Proposal) WithLock(lockRound uint32, lockVotes []*Vote) *Proposal {
	p.LockRound = lockRound
	p.LockVotes = lockVotes
	return p
}

// HasLock returns true if the proposal claims a lock from an earlier round.
func (p *Proposal) HasLock() bool {
	return len(p.LockVotes) > 0
}

// ValidateBasic performs stateless validation.
func (p *Proposal) ValidateBasic() error {
	if p.Block == nil || p.Block.Hash.IsNil() {
		return ErrProposalNilBlock
	}
	if p.Proposer.IsZero() {
		return ErrProposalInvalidProposer
	}
	if p.HasLock() && p.LockRound >= p.Round {
		return ErrProposalInvalidLock
	}
	return nil
}

func (p *Proposal) String() string {
	if p == nil {
		return "nil-Proposal"
	}
	lock := ""
	if p.HasLock() {
		lock = fmt.Sprintf(" lock:%d(%d)", p.LockRound, len(p.LockVotes))
	}
	return fmt.Sprintf("Proposal{%d/%d %v by %v%s}",
		p.Height, p.Round, p.Block, cmn.Fingerprint(p.Proposer.Bytes()), lock)
}
