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
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

type RoundVoteSet struct {
	Prevotes   *types.VoteSet
	Precommits *types.VoteSet
}

// HeightVoteSet keeps the prevote and precommit VoteSets of every round of
// one height. Rounds are materialized lazily: a vote for a round beyond the
// current one still lands in its proper set, so late quorums from earlier
// rounds and early votes from validators ahead of us are never lost.
type HeightVoteSet struct {
	logger log.Logger
	height uint64
	valSet *types.ValidatorSet

	round         uint32                  // max tracked round
	roundVoteSets map[uint32]RoundVoteSet // keys: [0...round] plus catchup rounds
}

func NewHeightVoteSet(logger log.Logger, height uint64, valSet *types.ValidatorSet) *HeightVoteSet {
	hvs := &HeightVoteSet{
		logger:        logger,
		height:        height,
		valSet:        valSet,
		roundVoteSets: make(map[uint32]RoundVoteSet),
	}
	hvs.addRound(0)
	return hvs
}

// Height returns the height the set collects for.
func (hvs *HeightVoteSet) Height() uint64 {
	return hvs.height
}

// Round returns the max tracked round.
func (hvs *HeightVoteSet) Round() uint32 {
	return hvs.round
}

func (hvs *HeightVoteSet) addRound(round uint32) {
	if _, ok := hvs.roundVoteSets[round]; ok {
		cmn.PanicSanity("addRound() for an existing round")
	}
	hvs.logger.Trace("addRound(round)", "round", round)
	prevotes := types.NewVoteSet(hvs.height, round, types.PrevoteType, hvs.valSet)
	precommits := types.NewVoteSet(hvs.height, round, types.PrecommitType, hvs.valSet)
	hvs.roundVoteSets[round] = RoundVoteSet{
		Prevotes:   prevotes,
		Precommits: precommits,
	}
}

// SetRound creates RoundVoteSets up to round and advances the max tracked
// round. Rounds never go backwards.
func (hvs *HeightVoteSet) SetRound(round uint32) {
	if round < hvs.round {
		cmn.PanicSanity("SetRound() must not decrement hvs.round")
	}
	for r := hvs.round; r <= round; r++ {
		if _, ok := hvs.roundVoteSets[r]; ok {
			continue // already exists because of a catchup vote
		}
		hvs.addRound(r)
	}
	hvs.round = round
}

// AddVote routes the vote to the VoteSet of its round and type. Votes for
// rounds past the current one open a catchup round. Duplicate votes return
// added=false, err=nil; conflicting votes are recorded and surface an
// *types.ErrVoteConflictingVotes.
func (hvs *HeightVoteSet) AddVote(vote *types.Vote) (added bool, err error) {
	if !types.IsVoteTypeValid(vote.Type) {
		return false, ErrNilVoteType
	}
	voteSet := hvs.getVoteSet(vote.Round, vote.Type)
	if voteSet == nil {
		hvs.addRound(vote.Round)
		voteSet = hvs.getVoteSet(vote.Round, vote.Type)
	}
	return voteSet.AddVote(vote)
}

// Prevotes returns all prevotes of the specified round.
func (hvs *HeightVoteSet) Prevotes(round uint32) *types.VoteSet {
	return hvs.getVoteSet(round, types.PrevoteType)
}

// Precommits returns all precommits of the specified round.
func (hvs *HeightVoteSet) Precommits(round uint32) *types.VoteSet {
	return hvs.getVoteSet(round, types.PrecommitType)
}

// POLInfo returns the latest round with +2/3 prevotes for a single block
// (possibly nil), or ok=false if no such round exists.
func (hvs *HeightVoteSet) POLInfo() (polRound uint32, polBlockHash cmn.Hash, ok bool) {
	for r := int64(hvs.round); r >= 0; r-- {
		rvs := hvs.getVoteSet(uint32(r), types.PrevoteType)
		if rvs == nil {
			continue
		}
		if hash, found := rvs.TwoThirdsMajority(); found {
			return uint32(r), hash, true
		}
	}
	return 0, cmn.Hash{}, false
}

func (hvs *HeightVoteSet) getVoteSet(round uint32, signedMsgType byte) *types.VoteSet {
	rvs, ok := hvs.roundVoteSets[round]
	if !ok {
		return nil
	}
	switch signedMsgType {
	case types.PrevoteType:
		return rvs.Prevotes
	case types.PrecommitType:
		return rvs.Precommits
	default:
		cmn.PanicSanity(cmn.Fmt("Unexpected vote type %X", signedMsgType))
		return nil
	}
}
