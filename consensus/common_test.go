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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kardiachain/go-bft/configs"
	cstypes "github.com/kardiachain/go-bft/consensus/types"
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

// mockTicker records scheduled timeouts instead of firing them, so tests
// can drive every transition synchronously.
type mockTicker struct {
	mtx       sync.Mutex
	scheduled []timeoutInfo
	c         chan timeoutInfo
}

func newMockTicker() *mockTicker {
	return &mockTicker{c: make(chan timeoutInfo, tickTockBufferSize)}
}

func (m *mockTicker) Start() error             { return nil }
func (m *mockTicker) Stop() error              { return nil }
func (m *mockTicker) Chan() <-chan timeoutInfo { return m.c }
func (m *mockTicker) SetLogger(l log.Logger)   {}
func (m *mockTicker) ScheduleTimeout(ti timeoutInfo) {
	m.mtx.Lock()
	m.scheduled = append(m.scheduled, ti)
	m.mtx.Unlock()
}

func (m *mockTicker) lastScheduled() (timeoutInfo, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if len(m.scheduled) == 0 {
		return timeoutInfo{}, false
	}
	return m.scheduled[len(m.scheduled)-1], true
}

// newTestState builds an unstarted machine over a fresh validator set with
// our identity at the given index. No WAL, mock ticker, so a test can
// drive every transition by calling the handlers directly.
func newTestState(t *testing.T, numVals int, ourIndex int, cfg *configs.ConsensusConfig) (*ConsensusState, *types.ValidatorSet, []cmn.Address) {
	t.Helper()
	valSet, addrs := types.RandValidatorSet(numVals, 1)
	if cfg == nil {
		cfg = configs.TestConsensusConfig()
	}
	cs := NewConsensusState(cfg, addrs[ourIndex], &types.Status{Height: 0, Validators: valSet})
	cs.doWALCatchup = false
	cs.SetTimeoutTicker(newMockTicker())
	return cs, valSet, addrs
}

// startTestState runs a machine for real: live ticker, receive routine, no
// WAL. Tests talk to it through the public interface only.
func startTestState(t *testing.T, numVals int, ourIndex int, cfg *configs.ConsensusConfig) (*ConsensusState, *types.ValidatorSet, []cmn.Address) {
	t.Helper()
	cs, valSet, addrs := newTestState(t, numVals, ourIndex, cfg)
	cs.SetTimeoutTicker(NewTimeoutTicker())
	require.NoError(t, cs.OnStart())
	t.Cleanup(cs.OnStop)
	return cs, valSet, addrs
}

// drainInternal synchronously processes everything the machine fed back to
// itself, including the cascade the processing causes.
func drainInternal(cs *ConsensusState) {
	for {
		select {
		case mi := <-cs.internalMsgQueue:
			cs.handleMsg(mi)
		default:
			return
		}
	}
}

// deliver pushes one message through the handler and the internal cascade.
func deliver(cs *ConsensusState, msg Message) {
	cs.handleMsg(msgInfo{Msg: msg})
	drainInternal(cs)
}

// fireTimeout simulates the ticker firing at the given position.
func fireTimeout(cs *ConsensusState, height uint64, round uint32, step cstypes.RoundStepType) {
	cs.handleTimeout(timeoutInfo{Height: height, Round: round, Step: step}, cs.RoundState)
	drainInternal(cs)
}

// collectOut empties the outbound queue.
func collectOut(cs *ConsensusState) []interface{} {
	var out []interface{}
	for {
		select {
		case msg := <-cs.outQueue:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// lastVote returns the most recent outbound vote of the given type.
func lastVote(out []interface{}, voteType byte) *types.Vote {
	var found *types.Vote
	for _, msg := range out {
		if vote, ok := msg.(*types.Vote); ok && vote.Type == voteType {
			found = vote
		}
	}
	return found
}

// waitOut reads the outbound queue of a running machine until match says
// yes or the deadline passes.
func waitOut(t *testing.T, cs *ConsensusState, timeout time.Duration, match func(interface{}) bool) interface{} {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-cs.outQueue:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("expected outbound message never arrived within %v", timeout)
			return nil
		}
	}
}

func prevoteFrom(addrs []cmn.Address, idx uint32, height uint64, round uint32, hash cmn.Hash) *types.Vote {
	return types.MakeVote(height, round, types.PrevoteType, idx, addrs[idx], hash)
}

func precommitFrom(addrs []cmn.Address, idx uint32, height uint64, round uint32, hash cmn.Hash) *types.Vote {
	return types.MakeVote(height, round, types.PrecommitType, idx, addrs[idx], hash)
}
