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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

func TestVoteSetThresholdBoundary(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	require.Equal(t, uint64(3), valSet.TwoThirdsThreshold())

	voteSet := NewVoteSet(1, 0, PrevoteType, valSet)
	blockHash := cmn.BytesToHash(cmn.RandBytes(32))

	// 2 of 4 is not a quorum.
	for i := 0; i < 2; i++ {
		added, err := voteSet.AddVote(MakeVote(1, 0, PrevoteType, uint32(i), addrs[i], blockHash))
		require.NoError(t, err)
		require.True(t, added)
	}
	assert.False(t, voteSet.HasTwoThirdsMajority())
	assert.False(t, voteSet.HasTwoThirdsAny())

	// The third vote crosses floor(2n/3)+1.
	added, err := voteSet.AddVote(MakeVote(1, 0, PrevoteType, 2, addrs[2], blockHash))
	require.NoError(t, err)
	require.True(t, added)

	assert.True(t, voteSet.HasTwoThirdsAny())
	hash, ok := voteSet.TwoThirdsMajority()
	require.True(t, ok)
	assert.Equal(t, blockHash, hash)
}

func TestVoteSetNilQuorum(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(1, 0, PrecommitType, valSet)

	for i := 0; i < 3; i++ {
		added, err := voteSet.AddVote(MakeVote(1, 0, PrecommitType, uint32(i), addrs[i], cmn.Hash{}))
		require.NoError(t, err)
		require.True(t, added)
	}

	hash, ok := voteSet.TwoThirdsMajority()
	require.True(t, ok)
	assert.True(t, hash.IsNil(), "a nil quorum reports the zero hash")
}

func TestVoteSetDuplicateVote(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(1, 0, PrevoteType, valSet)
	blockHash := cmn.BytesToHash(cmn.RandBytes(32))

	vote := MakeVote(1, 0, PrevoteType, 0, addrs[0], blockHash)
	added, err := voteSet.AddVote(vote)
	require.NoError(t, err)
	require.True(t, added)

	// The same vote again changes nothing and reports no error.
	added, err = voteSet.AddVote(vote.Copy())
	require.NoError(t, err)
	assert.False(t, added)
}

func TestVoteSetConflictingVote(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(1, 0, PrevoteType, valSet)

	hashA := cmn.BytesToHash(cmn.RandBytes(32))
	hashB := cmn.BytesToHash(cmn.RandBytes(32))

	_, err := voteSet.AddVote(MakeVote(1, 0, PrevoteType, 0, addrs[0], hashA))
	require.NoError(t, err)

	added, err := voteSet.AddVote(MakeVote(1, 0, PrevoteType, 0, addrs[0], hashB))
	assert.True(t, added, "the conflicting vote replaces the earlier one")
	require.Error(t, err)
	conflict, ok := err.(*ErrVoteConflictingVotes)
	require.True(t, ok)
	assert.Equal(t, hashA, conflict.VoteA.BlockHash)
	assert.Equal(t, hashB, conflict.VoteB.BlockHash)

	// Bookkeeping follows the replacement: the old bucket lost the vote.
	assert.Len(t, voteSet.BlockVotes(hashA), 0)
	assert.Len(t, voteSet.BlockVotes(hashB), 1)
}

func TestVoteSetRejectsForeignVotes(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(1, 0, PrevoteType, valSet)
	blockHash := cmn.BytesToHash(cmn.RandBytes(32))

	// wrong round
	_, err := voteSet.AddVote(MakeVote(1, 1, PrevoteType, 0, addrs[0], blockHash))
	require.Error(t, err)

	// wrong type
	_, err = voteSet.AddVote(MakeVote(1, 0, PrecommitType, 0, addrs[0], blockHash))
	require.Error(t, err)

	// index out of range
	_, err = voteSet.AddVote(MakeVote(1, 0, PrevoteType, 17, addrs[0], blockHash))
	require.Error(t, err)

	// index does not match address
	_, err = voteSet.AddVote(MakeVote(1, 0, PrevoteType, 1, addrs[0], blockHash))
	require.Error(t, err)
}

func TestVoteSetMakeCommit(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)
	voteSet := NewVoteSet(2, 1, PrecommitType, valSet)
	block := RandBlock()

	_, err := voteSet.MakeCommit(block, time.Now())
	require.Error(t, err, "no quorum yet")

	for i := 0; i < 3; i++ {
		_, err := voteSet.AddVote(MakeVote(2, 1, PrecommitType, uint32(i), addrs[i], block.Hash))
		require.NoError(t, err)
	}

	commit, err := voteSet.MakeCommit(block, time.Now())
	require.NoError(t, err)
	require.NoError(t, commit.ValidateBasic())
	assert.Equal(t, uint64(2), commit.Height)
	assert.Equal(t, uint32(1), commit.Round)
	assert.Len(t, commit.Votes, 3)
	assert.Equal(t, block.Hash, commit.Block.Hash)

	// a prevote set refuses to build commits
	prevotes := NewVoteSet(2, 1, PrevoteType, valSet)
	_, err = prevotes.MakeCommit(block, time.Now())
	require.Error(t, err)
}
