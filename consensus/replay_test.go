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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardiachain/go-bft/configs"
	cstypes "github.com/kardiachain/go-bft/consensus/types"
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/types"
)

// replayFixture is a WAL-backed machine plus everything needed to build a
// second one over the same journal.
type replayFixture struct {
	cfg     *configs.ConsensusConfig
	genesis *types.Status
	addrs   []cmn.Address
	block   *types.Block
}

func newReplayFixture(t *testing.T) *replayFixture {
	t.Helper()
	cfg := configs.TestConsensusConfig()
	cfg.SetWalFile(filepath.Join(t.TempDir(), "wal"))
	valSet, addrs := types.RandValidatorSet(4, 1)
	return &replayFixture{
		cfg:     cfg,
		genesis: &types.Status{Height: 0, Validators: valSet},
		addrs:   addrs,
		block:   types.RandBlock(),
	}
}

func (f *replayFixture) start(t *testing.T, ourIndex int) *ConsensusState {
	t.Helper()
	cs := NewConsensusState(f.cfg, f.addrs[ourIndex], f.genesis)
	require.NoError(t, cs.OnStart())
	return cs
}

// A journal holding a long run of dead rounds replays cleanly on restart.
// Every replayed round schedules a timeout, so the ticker has to be
// draining while the catchup runs.
func TestReplayManyDeadRoundsRestarts(t *testing.T) {
	f := newReplayFixture(t)

	wal, err := NewWAL(f.cfg.WalFile())
	require.NoError(t, err)
	require.NoError(t, wal.Start())
	for r := uint32(0); r < 15; r++ {
		require.NoError(t, wal.Write(timeoutInfo{
			Duration: f.cfg.Precommit(r),
			Height:   1,
			Round:    r,
			Step:     cstypes.RoundStepPrecommit,
		}))
	}
	require.NoError(t, wal.Stop())

	cs := NewConsensusState(f.cfg, f.addrs[1], f.genesis)
	started := make(chan error, 1)
	go func() { started <- cs.OnStart() }()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("restart never completed, replay wedged while scheduling timeouts")
	}
	defer cs.OnStop()

	rs := cs.GetRoundState()
	assert.Equal(t, uint64(1), rs.Height)
	assert.Equal(t, uint32(15), rs.Round)
}

// A node that crashed right after the commit hit the journal comes back in
// the commit step and re-announces the decision.
func TestReplayRecoversCommittedHeight(t *testing.T) {
	f := newReplayFixture(t)
	cs1 := f.start(t, 0)

	cs1.SetFeed(&types.Feed{Height: 1, Block: f.block})
	waitOut(t, cs1, 5*time.Second, func(msg interface{}) bool {
		v, ok := msg.(*types.Vote)
		return ok && v.Type == types.PrevoteType
	})
	cs1.AddVote(prevoteFrom(f.addrs, 1, 1, 0, f.block.Hash))
	cs1.AddVote(prevoteFrom(f.addrs, 2, 1, 0, f.block.Hash))
	waitOut(t, cs1, 5*time.Second, func(msg interface{}) bool {
		v, ok := msg.(*types.Vote)
		return ok && v.Type == types.PrecommitType
	})
	cs1.AddVote(precommitFrom(f.addrs, 1, 1, 0, f.block.Hash))
	cs1.AddVote(precommitFrom(f.addrs, 2, 1, 0, f.block.Hash))
	waitOut(t, cs1, 5*time.Second, func(msg interface{}) bool {
		_, ok := msg.(*types.Commit)
		return ok
	})
	cs1.OnStop()

	cs2 := f.start(t, 0)
	defer cs2.OnStop()

	commit := waitOut(t, cs2, 5*time.Second, func(msg interface{}) bool {
		_, ok := msg.(*types.Commit)
		return ok
	}).(*types.Commit)
	assert.Equal(t, uint64(1), commit.Height)
	assert.True(t, f.block.HashesTo(commit.Block.Hash))

	rs := cs2.GetRoundState()
	assert.Equal(t, uint64(1), rs.Height)
	assert.Equal(t, cstypes.RoundStepCommit, rs.Step)
}

// A node that crashed mid-round replays into the same round, step and lock
// without resending a single vote, then finishes the height on fresh votes.
func TestReplayRestoresLockWithoutResigning(t *testing.T) {
	f := newReplayFixture(t)
	cs1 := f.start(t, 1)

	cs1.SetProposal(types.NewProposal(1, 0, f.block, f.addrs[0]))
	cs1.AddVote(prevoteFrom(f.addrs, 0, 1, 0, f.block.Hash))
	cs1.AddVote(prevoteFrom(f.addrs, 2, 1, 0, f.block.Hash))
	waitOut(t, cs1, 5*time.Second, func(msg interface{}) bool {
		v, ok := msg.(*types.Vote)
		return ok && v.Type == types.PrecommitType && v.BlockHash.Equal(f.block.Hash)
	})
	cs1.OnStop()

	cs2 := f.start(t, 1)
	defer cs2.OnStop()

	// replay is silent: what we signed before the crash is not resent
	time.Sleep(200 * time.Millisecond)
	select {
	case msg := <-cs2.outQueue:
		t.Fatalf("replay re-emitted %v", msg)
	default:
	}

	rs := cs2.GetRoundState()
	assert.Equal(t, uint64(1), rs.Height)
	assert.Equal(t, uint32(0), rs.Round)
	assert.Equal(t, cstypes.RoundStepPrecommit, rs.Step)
	require.True(t, rs.LockedBlock != nil)
	assert.True(t, rs.LockedBlock.HashesTo(f.block.Hash))
	assert.Equal(t, uint32(0), rs.LockedRound)

	// the replayed own precommit still counts toward the quorum
	cs2.AddVote(precommitFrom(f.addrs, 0, 1, 0, f.block.Hash))
	cs2.AddVote(precommitFrom(f.addrs, 2, 1, 0, f.block.Hash))

	commit := waitOut(t, cs2, 5*time.Second, func(msg interface{}) bool {
		_, ok := msg.(*types.Commit)
		return ok
	}).(*types.Commit)
	assert.Equal(t, uint64(1), commit.Height)
}
