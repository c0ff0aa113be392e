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
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

// blockVotes accumulates the votes for a single block hash.
type blockVotes struct {
	bitArray *cmn.BitArray // valIndex -> has vote for this hash
	votes    []*Vote       // valIndex -> *Vote
	sum      uint64        // accumulated voting power
}

func newBlockVotes(numValidators int) *blockVotes {
	return &blockVotes{
		bitArray: cmn.NewBitArray(numValidators),
		votes:    make([]*Vote, numValidators),
		sum:      0,
	}
}

func (vs *blockVotes) addVerifiedVote(vote *Vote, votingPower uint64) {
	valIndex := int(vote.ValidatorIndex)
	if existing := vs.votes[valIndex]; existing == nil {
		vs.bitArray.SetIndex(valIndex, true)
		vs.votes[valIndex] = vote
		vs.sum += votingPower
	}
}

func (vs *blockVotes) removeVote(valIndex int, votingPower uint64) {
	if vs.votes[valIndex] == nil {
		return
	}
	vs.bitArray.SetIndex(valIndex, false)
	vs.votes[valIndex] = nil
	vs.sum -= votingPower
}

func (vs *blockVotes) getByIndex(index int) *Vote {
	if vs == nil {
		return nil
	}
	return vs.votes[index]
}

// VoteSet collects votes of a single (height, round, type) from the members
// of a validator set, bucketed by the block hash they endorse. A nil vote
// lives in the zero-hash bucket.
//
// Equivocation handling: a validator voting twice for the same hash is a
// no-op; a validator voting for two different hashes has its earlier vote
// replaced and AddVote surfaces an ErrVoteConflictingVotes carrying both
// votes so the caller can record the evidence. The replacement keeps the
// bookkeeping consistent with the latest vote, mirroring how late votes
// supersede earlier ones on the wire.
type VoteSet struct {
	height        uint64
	round         uint32
	signedMsgType byte
	valSet        *ValidatorSet

	mtx           sync.Mutex
	votesBitArray *cmn.BitArray
	votes         []*Vote // valIndex -> latest vote by validator
	sum           uint64  // voting power of all votes, any block
	votesByBlock  map[cmn.Hash]*blockVotes
}

// NewVoteSet constructs a new VoteSet for the given height, round and type.
func NewVoteSet(height uint64, round uint32, signedMsgType byte, valSet *ValidatorSet) *VoteSet {
	if height == 0 {
		cmn.PanicSanity("cannot make VoteSet for height == 0")
	}
	return &VoteSet{
		height:        height,
		round:         round,
		signedMsgType: signedMsgType,
		valSet:        valSet,
		votesBitArray: cmn.NewBitArray(valSet.Size()),
		votes:         make([]*Vote, valSet.Size()),
		sum:           0,
		votesByBlock:  make(map[cmn.Hash]*blockVotes, valSet.Size()),
	}
}

// Height returns the height the set collects for, 0 if the set is nil.
func (voteSet *VoteSet) Height() uint64 {
	if voteSet == nil {
		return 0
	}
	return voteSet.height
}

// Round returns the round the set collects for.
func (voteSet *VoteSet) Round() uint32 {
	if voteSet == nil {
		return 0
	}
	return voteSet.round
}

// Type returns the vote type the set collects.
func (voteSet *VoteSet) Type() byte {
	if voteSet == nil {
		return 0x00
	}
	return voteSet.signedMsgType
}

// Size returns the number of validators in the underlying set.
func (voteSet *VoteSet) Size() int {
	if voteSet == nil {
		return 0
	}
	return voteSet.valSet.Size()
}

// AddVote validates the vote against the validator set and records it.
// Returns (true, nil) when the vote advanced the set, (false, nil) when it
// was a harmless duplicate, and a non-nil error for invalid or conflicting
// votes. A conflicting vote is still recorded (it replaces the older one)
// and the returned *ErrVoteConflictingVotes carries both votes.
func (voteSet *VoteSet) AddVote(vote *Vote) (added bool, err error) {
	if voteSet == nil {
		cmn.PanicSanity("AddVote() on nil VoteSet")
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()

	return voteSet.addVote(vote)
}

func (voteSet *VoteSet) addVote(vote *Vote) (added bool, err error) {
	if vote == nil {
		return false, ErrVoteNil
	}
	valIndex := int(vote.ValidatorIndex)
	valAddr := vote.ValidatorAddress

	// Make sure the step matches.
	if (vote.Height != voteSet.height) ||
		(vote.Round != voteSet.round) ||
		(vote.Type != voteSet.signedMsgType) {
		return false, errors.Wrapf(ErrVoteUnexpectedStep,
			"expected %d/%d/%d, got %d/%d/%d",
			voteSet.height, voteSet.round, voteSet.signedMsgType,
			vote.Height, vote.Round, vote.Type)
	}

	// Ensure the signer is a known validator and the index matches.
	lookupAddr, val := voteSet.valSet.GetByIndex(vote.ValidatorIndex)
	if val == nil {
		return false, errors.Wrapf(ErrVoteInvalidValidatorAddress,
			"index %d is out of range for the validator set", valIndex)
	}
	if !lookupAddr.Equal(valAddr) {
		return false, errors.Wrapf(ErrVoteInvalidValidatorAddress,
			"vote index %d carries address %v, want %v",
			valIndex, valAddr.Hex(), lookupAddr.Hex())
	}

	existing := voteSet.votes[valIndex]
	if existing != nil {
		if existing.BlockHash.Equal(vote.BlockHash) {
			// Exact duplicate, nothing to do.
			return false, nil
		}
		// Equivocation. Supersede the old vote and report the conflict.
		conflict := NewConflictingVoteError(existing.Copy(), vote.Copy())
		voteSet.votesByBlock[existing.BlockHash].removeVote(valIndex, val.VotingPower)
		voteSet.sum -= val.VotingPower
		voteSet.recordVote(vote, val.VotingPower)
		return true, conflict
	}

	voteSet.recordVote(vote, val.VotingPower)
	return true, nil
}

func (voteSet *VoteSet) recordVote(vote *Vote, votingPower uint64) {
	valIndex := int(vote.ValidatorIndex)
	voteSet.votes[valIndex] = vote
	voteSet.votesBitArray.SetIndex(valIndex, true)
	voteSet.sum += votingPower

	votesByBlock, ok := voteSet.votesByBlock[vote.BlockHash]
	if !ok {
		votesByBlock = newBlockVotes(voteSet.valSet.Size())
		voteSet.votesByBlock[vote.BlockHash] = votesByBlock
	}
	votesByBlock.addVerifiedVote(vote, votingPower)
}

// GetByIndex returns the vote of the validator at the given index, if any.
func (voteSet *VoteSet) GetByIndex(valIndex uint32) *Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	if int(valIndex) >= len(voteSet.votes) {
		return nil
	}
	return voteSet.votes[valIndex]
}

// GetByAddress returns the vote of the validator with the given address.
func (voteSet *VoteSet) GetByAddress(address cmn.Address) *Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	valIndex, val := voteSet.valSet.GetByAddress(address)
	if val == nil {
		return nil
	}
	return voteSet.votes[valIndex]
}

// BitArray returns a copy of the presence bit array.
func (voteSet *VoteSet) BitArray() *cmn.BitArray {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.votesBitArray.Copy()
}

// HasTwoThirdsAny returns true if the accumulated power across all blocks
// (including conflicting ones) reached the quorum threshold.
func (voteSet *VoteSet) HasTwoThirdsAny() bool {
	if voteSet == nil {
		return false
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.sum >= voteSet.valSet.TwoThirdsThreshold()
}

// HasTwoThirdsMajority returns true if some single block hash (possibly the
// nil hash) reached the quorum threshold.
func (voteSet *VoteSet) HasTwoThirdsMajority() bool {
	if voteSet == nil {
		return false
	}
	_, ok := voteSet.TwoThirdsMajority()
	return ok
}

// TwoThirdsMajority returns the block hash that reached quorum, if any.
// A returned zero hash with ok == true means quorum voted nil. When more
// than one bucket holds a quorum (possible only under heavy equivocation
// before replacement settles) the smallest hash wins, which keeps the
// answer deterministic across replicas regardless of vote arrival order.
func (voteSet *VoteSet) TwoThirdsMajority() (blockHash cmn.Hash, ok bool) {
	if voteSet == nil {
		return cmn.Hash{}, false
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.twoThirdsMajority()
}

func (voteSet *VoteSet) twoThirdsMajority() (blockHash cmn.Hash, ok bool) {
	threshold := voteSet.valSet.TwoThirdsThreshold()
	found := false
	var best cmn.Hash
	for hash, votesByBlock := range voteSet.votesByBlock {
		if votesByBlock.sum < threshold {
			continue
		}
		if !found || hash.Before(best) {
			best = hash
			found = true
		}
	}
	return best, found
}

// HasAll returns true if every validator in the set has voted.
func (voteSet *VoteSet) HasAll() bool {
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.sum == voteSet.valSet.TotalVotingPower()
}

// BlockVotes returns the recorded votes for the given block hash, ordered
// by validator index. Used to assemble lock proofs and commits.
func (voteSet *VoteSet) BlockVotes(blockHash cmn.Hash) []*Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	votesByBlock, ok := voteSet.votesByBlock[blockHash]
	if !ok {
		return nil
	}
	votes := make([]*Vote, 0, voteSet.valSet.Size())
	for _, vote := range votesByBlock.votes {
		if vote != nil {
			votes = append(votes, vote.Copy())
		}
	}
	return votes
}

// MakeCommit assembles a Commit from the quorum of precommits for the given
// block. Returns an error if the set is not a precommit set or no quorum
// for a block exists.
func (voteSet *VoteSet) MakeCommit(block *Block, commitTime time.Time) (*Commit, error) {
	if voteSet.signedMsgType != PrecommitType {
		return nil, errors.New("cannot MakeCommit() unless VoteSet.Type is PrecommitType")
	}
	voteSet.mtx.Lock()
	blockHash, ok := voteSet.twoThirdsMajority()
	voteSet.mtx.Unlock()
	if !ok || blockHash.IsNil() {
		return nil, errors.New("cannot MakeCommit() unless a block has +2/3")
	}
	if !block.HashesTo(blockHash) {
		return nil, errors.Errorf("MakeCommit() block %v does not match the +2/3 hash %v",
			block, blockHash.TerminalString())
	}
	return NewCommit(voteSet.height, voteSet.round, block, voteSet.BlockVotes(blockHash), commitTime), nil
}

func (voteSet *VoteSet) String() string {
	if voteSet == nil {
		return "nil-VoteSet"
	}
	return voteSet.StringIndented("")
}

// StringIndented returns an indented multiline representation of the set.
func (voteSet *VoteSet) StringIndented(indent string) string {
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	voteStrings := make([]string, len(voteSet.votes))
	for i, vote := range voteSet.votes {
		if vote == nil {
			voteStrings[i] = "nil-Vote"
		} else {
			voteStrings[i] = vote.String()
		}
	}
	return fmt.Sprintf(`VoteSet{
%s  H:%v R:%v T:%v
%s  %v
%s  %v
%s}`,
		indent, voteSet.height, voteSet.round, VoteTypeString(voteSet.signedMsgType),
		indent, strings.Join(voteStrings, "\n"+indent+"  "),
		indent, voteSet.votesBitArray,
		indent)
}

// StringShort returns a one line summary of the set.
func (voteSet *VoteSet) StringShort() string {
	if voteSet == nil {
		return "nil-VoteSet"
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return fmt.Sprintf(`VoteSet{H:%v R:%v T:%v sum:%v/%v}`,
		voteSet.height, voteSet.round, VoteTypeString(voteSet.signedMsgType),
		voteSet.sum, voteSet.valSet.TotalVotingPower())
}
