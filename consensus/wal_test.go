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

package consensus

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cstypes "github.com/kardiachain/go-bft/consensus/types"
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/types"
)

func walRoundTrip(t *testing.T, msg WALMessage) *TimedWALMessage {
	t.Helper()
	var buf bytes.Buffer
	enc := NewWALEncoder(&buf)
	require.NoError(t, enc.Encode(&TimedWALMessage{Time: time.Now(), Msg: msg}))

	dec := NewWALDecoder(&buf)
	decoded, err := dec.Decode()
	require.NoError(t, err)
	return decoded
}

func TestWALEncoderDecoderEndHeight(t *testing.T) {
	decoded := walRoundTrip(t, EndHeightMessage{Height: 42})
	m, ok := decoded.Msg.(EndHeightMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(42), m.Height)
}

func TestWALEncoderDecoderTimeout(t *testing.T) {
	decoded := walRoundTrip(t, timeoutInfo{
		Duration: 250 * time.Millisecond,
		Height:   7,
		Round:    3,
		Step:     cstypes.RoundStepPrevote,
	})
	ti, ok := decoded.Msg.(timeoutInfo)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, ti.Duration)
	assert.Equal(t, uint64(7), ti.Height)
	assert.Equal(t, uint32(3), ti.Round)
	assert.Equal(t, cstypes.RoundStepPrevote, ti.Step)
}

func TestWALEncoderDecoderVote(t *testing.T) {
	_, addrs := types.RandValidatorSet(4, 1)
	vote := types.MakeVote(5, 1, types.PrecommitType, 2, addrs[2], cmn.BytesToHash(cmn.RandBytes(32)))

	decoded := walRoundTrip(t, msgInfo{Msg: &VoteMessage{vote}, Internal: true})
	mi, ok := decoded.Msg.(msgInfo)
	require.True(t, ok)
	assert.True(t, mi.Internal)
	vm, ok := mi.Msg.(*VoteMessage)
	require.True(t, ok)
	assert.Equal(t, vote.BlockHash, vm.Vote.BlockHash)
	assert.Equal(t, vote.ValidatorAddress, vm.Vote.ValidatorAddress)
	assert.Equal(t, vote.Round, vm.Vote.Round)
}

func TestWALEncoderDecoderProposalWithLock(t *testing.T) {
	_, addrs := types.RandValidatorSet(4, 1)
	block := types.RandBlock()
	lockVotes := []*types.Vote{
		types.MakeVote(5, 0, types.PrevoteType, 0, addrs[0], block.Hash),
		types.MakeVote(5, 0, types.PrevoteType, 1, addrs[1], block.Hash),
		types.MakeVote(5, 0, types.PrevoteType, 2, addrs[2], block.Hash),
	}
	proposal := types.NewProposal(5, 2, block, addrs[0]).WithLock(0, lockVotes)

	decoded := walRoundTrip(t, msgInfo{Msg: &ProposalMessage{proposal}})
	mi := decoded.Msg.(msgInfo)
	pm, ok := mi.Msg.(*ProposalMessage)
	require.True(t, ok)
	assert.True(t, pm.Proposal.HasLock())
	assert.Equal(t, uint32(0), pm.Proposal.LockRound)
	assert.Len(t, pm.Proposal.LockVotes, 3)
	assert.Equal(t, block.Hash, pm.Proposal.Block.Hash)
}

func TestWALEncoderDecoderStatus(t *testing.T) {
	valSet, _ := types.RandValidatorSet(4, 7)
	status := &types.Status{Height: 9, Interval: 3000, Validators: valSet}

	decoded := walRoundTrip(t, msgInfo{Msg: &StatusMessage{status}})
	mi := decoded.Msg.(msgInfo)
	sm, ok := mi.Msg.(*StatusMessage)
	require.True(t, ok)
	assert.Equal(t, uint64(9), sm.Status.Height)
	assert.Equal(t, uint64(3000), sm.Status.Interval)
	require.NotNil(t, sm.Status.Validators)
	assert.Equal(t, valSet.TotalVotingPower(), sm.Status.Validators.TotalVotingPower())
}

func TestWALDecoderTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWALEncoder(&buf)
	require.NoError(t, enc.Encode(&TimedWALMessage{Time: time.Now(), Msg: EndHeightMessage{Height: 1}}))
	require.NoError(t, enc.Encode(&TimedWALMessage{Time: time.Now(), Msg: EndHeightMessage{Height: 2}}))

	// Tear the last record the way a crash would.
	torn := buf.Bytes()[:buf.Len()-3]

	dec := NewWALDecoder(bytes.NewReader(torn))
	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Msg.(EndHeightMessage).Height)

	_, err = dec.Decode()
	require.Error(t, err)
	assert.True(t, IsDataCorruptionError(err))
}

func TestWALDecoderBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWALEncoder(&buf)
	require.NoError(t, enc.Encode(&TimedWALMessage{Time: time.Now(), Msg: EndHeightMessage{Height: 1}}))

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF

	dec := NewWALDecoder(bytes.NewReader(corrupted))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.True(t, IsDataCorruptionError(err))
}

func TestWALSearchForEndHeight(t *testing.T) {
	walFile := filepath.Join(t.TempDir(), "wal")
	wal, err := NewWAL(walFile)
	require.NoError(t, err)
	require.NoError(t, wal.Start())

	_, addrs := types.RandValidatorSet(4, 1)
	for h := uint64(1); h <= 3; h++ {
		vote := types.MakeVote(h, 0, types.PrecommitType, 0, addrs[0], cmn.BytesToHash(cmn.RandBytes(32)))
		require.NoError(t, wal.Write(msgInfo{Msg: &VoteMessage{vote}}))
		require.NoError(t, wal.WriteSync(EndHeightMessage{Height: h}))
	}
	require.NoError(t, wal.Stop())

	// after the marker for height 2 the log holds height 3's records
	wal2, err := NewWAL(walFile)
	require.NoError(t, err)
	rd, found, err := wal2.SearchForEndHeight(3)
	require.NoError(t, err)
	require.True(t, found)
	defer rd.Close()

	dec := NewWALDecoder(rd)
	msg, err := dec.Decode()
	require.NoError(t, err)
	mi, ok := msg.Msg.(msgInfo)
	require.True(t, ok)
	assert.Equal(t, uint64(3), mi.Msg.(*VoteMessage).Vote.Height)

	// no marker for height 9 anywhere
	_, found, err = wal2.SearchForEndHeight(10)
	require.NoError(t, err)
	assert.False(t, found)
}
