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
	"fmt"
	"io"

	cstypes "github.com/kardiachain/go-bft/consensus/types"
	cmn "github.com/kardiachain/go-bft/lib/common"
)

// Replay the journaled messages of the unfinished height through the same
// handlers that produced them. Outbound traffic and journaling are
// suppressed while replaying; the node ends up in the exact round, step and
// lock it crashed in, and cannot sign anything conflicting with what it
// already signed.
func (cs *ConsensusState) catchupReplay(csHeight uint64) error {
	// Set replayMode to true so we don't log signing errors or re-emit
	// messages the network already has.
	cs.replayMode = true
	defer func() { cs.replayMode = false }()

	rd, found, err := cs.wal.SearchForEndHeight(csHeight)
	if err != nil {
		return err
	}
	if !found {
		cs.logger.Info("No WAL history for height, starting clean", "height", csHeight)
		return nil
	}
	defer rd.Close()

	cs.logger.Info("Catchup by replaying consensus messages", "height", csHeight)

	dec := NewWALDecoder(rd)
	replayed := 0
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if IsDataCorruptionError(err) {
			// A crash can tear the last record. Everything before it was
			// fsynced before it mattered, so the torn tail is safe to drop.
			cs.logger.Warn("Ignoring truncated tail of the WAL", "err", err)
			break
		}
		if err != nil {
			return err
		}
		if err := cs.readReplayMessage(msg); err != nil {
			return err
		}
		replayed++
	}

	cs.logger.Info("Replay: Done", "records", replayed, "height", cs.Height, "round", cs.Round, "step", cs.Step)

	// If the log already holds the deciding quorum, finalize again now that
	// emission is back on. The host dedupes commits by height.
	cs.replayMode = false
	if cs.Step == cstypes.RoundStepCommit {
		cs.mtx.Lock()
		cs.tryFinalizeCommit(cs.Height)
		cs.mtx.Unlock()
	}
	return nil
}

// readReplayMessage dispatches one journaled record.
func (cs *ConsensusState) readReplayMessage(msg *TimedWALMessage) error {
	switch m := msg.Msg.(type) {
	case EndHeightMessage:
		// Markers of earlier heights were skipped by SearchForEndHeight; one
		// for the current height means the commit happened before the crash.
		cs.logger.Info("Replay: End height reached", "height", m.Height)
	case msgInfo:
		switch inner := m.Msg.(type) {
		case *ProposalMessage:
			cs.logger.Debug("Replay: Proposal", "proposal", inner.Proposal)
		case *VoteMessage:
			cs.logger.Debug("Replay: Vote", "vote", inner.Vote)
		default:
			cs.logger.Debug("Replay: Msg", "msg", cmn.Fmt("%v", inner))
		}
		cs.handleMsg(m)
	case timeoutInfo:
		cs.logger.Debug("Replay: Timeout", "height", m.Height, "round", m.Round, "step", m.Step, "dur", m.Duration)
		cs.handleTimeout(m, cs.RoundState)
	default:
		return fmt.Errorf("replay: unknown TimedWALMessage type: %T", msg.Msg)
	}
	return nil
}
