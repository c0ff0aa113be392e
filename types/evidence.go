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

// Evidence is proof of validator misbehavior observed by the engine.
type Evidence interface {
	Height() uint64
	Address() cmn.Address
	ValidateBasic() error
	String() string
}

// DuplicateVoteEvidence proves a validator signed two different blocks in
// the same height, round and vote type.
type DuplicateVoteEvidence struct {
	VoteA *Vote `json:"vote_a"`
	VoteB *Vote `json:"vote_b"`
}

// NewDuplicateVoteEvidence builds evidence from a pair of conflicting votes.
func NewDuplicateVoteEvidence(voteA, voteB *Vote) *DuplicateVoteEvidence {
	return &DuplicateVoteEvidence{VoteA: voteA, VoteB: voteB}
}

// Height returns the height the equivocation happened at.
func (dve *DuplicateVoteEvidence) Height() uint64 {
	return dve.VoteA.Height
}

// Address returns the address of the equivocating validator.
func (dve *DuplicateVoteEvidence) Address() cmn.Address {
	return dve.VoteA.ValidatorAddress
}

// ValidateBasic checks the two votes actually form an equivocation.
func (dve *DuplicateVoteEvidence) ValidateBasic() error {
	if dve.VoteA == nil || dve.VoteB == nil {
		return errors.New("evidence is missing a vote")
	}
	if err := dve.VoteA.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid vote A: %v", err)
	}
	if err := dve.VoteB.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid vote B: %v", err)
	}
	if dve.VoteA.Height != dve.VoteB.Height ||
		dve.VoteA.Round != dve.VoteB.Round ||
		dve.VoteA.Type != dve.VoteB.Type {
		return errors.New("votes are from different steps")
	}
	if !dve.VoteA.ValidatorAddress.Equal(dve.VoteB.ValidatorAddress) {
		return errors.New("votes are from different validators")
	}
	if dve.VoteA.BlockHash.Equal(dve.VoteB.BlockHash) {
		return errors.New("votes endorse the same block")
	}
	return nil
}

func (dve *DuplicateVoteEvidence) String() string {
	return fmt.Sprintf("DuplicateVoteEvidence{%v, %d/%d %s}",
		dve.Address().Hex(), dve.VoteA.Height, dve.VoteA.Round, VoteTypeString(dve.VoteA.Type))
}
