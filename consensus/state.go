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
	"time"

	fail "github.com/ebuchman/fail-test"
	lru "github.com/hashicorp/golang-lru"

	"github.com/kardiachain/go-bft/configs"
	cstypes "github.com/kardiachain/go-bft/consensus/types"
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

var (
	msgQueueSize       = 1000
	futureMsgCacheSize = 16
	outboundQueueSize  = 1000
	controlQueueSize   = 2
)

// evidencePool collects proof of validator misbehavior found while adding
// votes.
type evidencePool interface {
	AddEvidence(types.Evidence) error
}

// VerifyReq asks the host to deeply verify the proposal's content. The
// verdict comes back as a types.VerifyResp.
type VerifyReq struct {
	Height   uint64
	Round    uint32
	Proposal *types.Proposal
}

// ConsensusState handles execution of the consensus algorithm.
// It processes proposals, votes and host messages, making transitions upon
// reaching certain vote thresholds. Every transition is journaled to the
// write-ahead log before its effects leave the process, so a crashed node
// replays into the exact same state.
type ConsensusState struct {
	logger log.Logger

	config *configs.ConsensusConfig

	// address identifies this node inside the authority set. A node whose
	// address is not in the set observes without voting.
	address cmn.Address

	// internal state
	mtx sync.RWMutex
	cstypes.RoundState

	evpool evidencePool

	// host proposal contents, keyed by height
	feeds map[uint64]*types.Feed

	// proposals received for rounds of this height we have not reached yet
	roundProposals map[uint32]*types.Proposal

	// deep verification bookkeeping for the current height
	verdicts       map[cmn.Hash]bool
	verifyDeadline time.Time // when set, the precommit waits for a verdict until then

	// set once the commit of the current height left the process
	commitEmitted bool

	nSteps int

	// commit interval override from the last status, 0 means config default
	commitInterval time.Duration

	// messages for heights we have not reached yet, keyed by height
	futureMsgs *lru.Cache

	peerMsgQueue     chan msgInfo
	internalMsgQueue chan msgInfo
	controlQueue     chan bool // true pauses the machine, false resumes it
	outQueue         chan interface{}
	timeoutTicker    TimeoutTicker

	// a Write-Ahead Log ensures we can recover from any kind of crash
	// and helps us avoid signing conflicting votes
	wal          WAL
	replayMode   bool // so we don't log signing errors or re-emit messages
	doWALCatchup bool // determines if we even try to do the catchup

	paused bool

	done chan struct{}
}

// NewConsensusState returns a new ConsensusState. The genesis status names
// the last finalized height (0 for a fresh chain) and the authority set of
// the first height to run.
func NewConsensusState(
	config *configs.ConsensusConfig,
	address cmn.Address,
	genesis *types.Status,
) *ConsensusState {
	cs := &ConsensusState{
		logger:           log.New("module", "consensus"),
		config:           config,
		address:          address,
		feeds:            make(map[uint64]*types.Feed),
		roundProposals:   make(map[uint32]*types.Proposal),
		verdicts:         make(map[cmn.Hash]bool),
		peerMsgQueue:     make(chan msgInfo, msgQueueSize),
		internalMsgQueue: make(chan msgInfo, msgQueueSize),
		controlQueue:     make(chan bool, controlQueueSize),
		outQueue:         make(chan interface{}, outboundQueueSize),
		timeoutTicker:    NewTimeoutTicker(),
		wal:              nilWAL{},
		doWALCatchup:     true,
		done:             make(chan struct{}),
	}
	cs.futureMsgs, _ = lru.New(futureMsgCacheSize)
	cs.updateToStatus(genesis)
	return cs
}

// SetLogger implements Service.
func (cs *ConsensusState) SetLogger(l log.Logger) {
	cs.logger = l
}

// SetTimeoutTicker sets the local timer. It may be useful to overwrite for testing.
func (cs *ConsensusState) SetTimeoutTicker(timeoutTicker TimeoutTicker) {
	cs.mtx.Lock()
	cs.timeoutTicker = timeoutTicker
	cs.mtx.Unlock()
}

// SetEvidencePool sets the pool conflicting votes are reported to.
func (cs *ConsensusState) SetEvidencePool(evpool evidencePool) {
	cs.evpool = evpool
}

// String returns a string.
func (cs *ConsensusState) String() string {
	return cmn.Fmt("ConsensusState(H:%v R:%v S:%v)", cs.Height, cs.Round, cs.Step)
}

// GetState returns a copy of the current RoundState.
func (cs *ConsensusState) GetRoundState() *cstypes.RoundState {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	rs := cs.RoundState // copy
	return &rs
}

// GetHeight returns the height the state machine currently works on.
func (cs *ConsensusState) GetHeight() uint64 {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.Height
}

// OnStart opens the WAL, replays the unfinished height out of it and then
// launches the timeout and receive routines.
func (cs *ConsensusState) OnStart() error {
	// The ticker must run before replay: the replayed handlers schedule
	// timeouts, and with nobody draining tickChan a long dead round would
	// block the catchup.
	if err := cs.timeoutTicker.Start(); err != nil {
		return err
	}

	if cs.doWALCatchup {
		if _, ok := cs.wal.(nilWAL); ok {
			walFile := cs.config.WalFile()
			wal, err := NewWAL(walFile)
			if err != nil {
				cs.logger.Error("Error loading ConsensusState wal", "err", err)
				return err
			}
			cs.wal = wal
		}
		if err := cs.wal.Start(); err != nil {
			return err
		}
		if err := cs.catchupReplay(cs.Height); err != nil {
			cs.logger.Error("Error on catchup replay. Proceeding to start ConsensusState anyway", "err", err)
		}
	}

	go cs.receiveRoutine(0)

	// schedule the first round!
	cs.scheduleRound0(cs.GetRoundState())
	return nil
}

// OnStop stops the routines and closes the WAL.
func (cs *ConsensusState) OnStop() {
	close(cs.done)
	if err := cs.timeoutTicker.Stop(); err != nil {
		cs.logger.Error("Error stopping TimeoutTicker", "err", err)
	}
	if err := cs.wal.Stop(); err != nil {
		cs.logger.Error("Error stopping WAL", "err", err)
	}
}

//------------------------------------------------------------
// Public interface for passing messages into the consensus state,
// possibly causing a state transition.

// AddVote inputs a vote. Returns ErrStopped after OnStop.
func (cs *ConsensusState) AddVote(vote *types.Vote) error {
	return cs.sendPeerMessage(&VoteMessage{vote})
}

// SetProposal inputs a proposal. Returns ErrStopped after OnStop.
func (cs *ConsensusState) SetProposal(proposal *types.Proposal) error {
	return cs.sendPeerMessage(&ProposalMessage{proposal})
}

// SetFeed inputs the host's proposal content for a height. Returns
// ErrStopped after OnStop.
func (cs *ConsensusState) SetFeed(feed *types.Feed) error {
	return cs.sendPeerMessage(&FeedMessage{feed})
}

// SetStatus acknowledges a finalized height. Returns ErrStopped after
// OnStop.
func (cs *ConsensusState) SetStatus(status *types.Status) error {
	return cs.sendPeerMessage(&StatusMessage{status})
}

// SetVerifyResp inputs the host's verification verdict. Returns
// ErrStopped after OnStop.
func (cs *ConsensusState) SetVerifyResp(resp *types.VerifyResp) error {
	return cs.sendPeerMessage(&VerifyRespMessage{resp})
}

// Pause stops the machine from processing consensus messages until Start.
// Incoming messages are buffered, not dropped.
func (cs *ConsensusState) Pause() {
	select {
	case cs.controlQueue <- true:
	case <-cs.done:
	}
}

// Resume restarts processing after a Pause.
func (cs *ConsensusState) Resume() {
	select {
	case cs.controlQueue <- false:
	case <-cs.done:
	}
}

// Out returns the channel the machine emits proposals, votes, commits and
// verify requests on. The host must drain it.
func (cs *ConsensusState) Out() <-chan interface{} {
	return cs.outQueue
}

func (cs *ConsensusState) sendPeerMessage(msg Message) error {
	// A buffered queue may still accept sends after shutdown, so the done
	// check goes first.
	select {
	case <-cs.done:
		return ErrStopped
	default:
	}
	select {
	case cs.peerMsgQueue <- msgInfo{Msg: msg}:
		return nil
	case <-cs.done:
		return ErrStopped
	}
}

// sendInternalMessage feeds back our own proposals and votes. Routing them
// through the queue keeps the replay path identical to the live path.
func (cs *ConsensusState) sendInternalMessage(mi msgInfo) {
	select {
	case cs.internalMsgQueue <- mi:
	default:
		// be productive and not consume the messages in the same routine,
		// so spawn a goroutine instead of blocking forever
		cs.logger.Info("Internal msg queue is full. Using a go-routine")
		go func() {
			select {
			case cs.internalMsgQueue <- mi:
			case <-cs.done:
			}
		}()
	}
}

// emit publishes a message to the host. Suppressed during WAL replay so a
// recovering node does not resend what it already sent.
func (cs *ConsensusState) emit(msg interface{}) {
	if cs.replayMode {
		return
	}
	select {
	case cs.outQueue <- msg:
	case <-cs.done:
	}
}

//------------------------------------------------------------
// internal functions for managing the state

func (cs *ConsensusState) updateHeight(height uint64) {
	cs.Height = height
}

func (cs *ConsensusState) updateRoundStep(round uint32, step cstypes.RoundStepType) {
	cs.Round = round
	cs.Step = step
}

// updateToStatus resets the state machine for the height after the one the
// status finalizes, installing the status' authority set.
func (cs *ConsensusState) updateToStatus(status *types.Status) {
	newHeight := status.Height + 1
	validators := status.Validators

	if cs.CommitTime.IsZero() {
		// "Now" makes it easier to sync up dev nodes:
		// we add timeoutCommit to allow transactions
		// to be gathered for the first block.
		// And alternative solution that relies on clocks:
		//  cs.StartTime = state.LastBlockTime.Add(timeoutCommit)
		cs.StartTime = cs.config.Commit(time.Now())
	} else if cs.commitInterval > 0 {
		cs.StartTime = cs.CommitTime.Add(cs.commitInterval)
	} else if cs.config.IsSkipTimeoutCommit {
		cs.StartTime = time.Now()
	} else {
		cs.StartTime = cs.config.Commit(cs.CommitTime)
	}
	if status.Interval > 0 {
		cs.commitInterval = time.Duration(status.Interval) * time.Millisecond
	}

	cs.updateHeight(newHeight)
	cs.updateRoundStep(0, cstypes.RoundStepNewHeight)
	cs.Validators = validators
	cs.Proposal = nil
	cs.LockedRound = 0
	cs.LockedBlock = nil
	cs.LockedVotes = nil
	cs.CommitRound = 0
	cs.TriggeredTimeoutPrecommit = false
	cs.Votes = cstypes.NewHeightVoteSet(cs.logger, newHeight, validators)

	cs.roundProposals = make(map[uint32]*types.Proposal)
	cs.verdicts = make(map[cmn.Hash]bool)
	cs.verifyDeadline = time.Time{}
	cs.commitEmitted = false
	for h := range cs.feeds {
		if h < newHeight {
			delete(cs.feeds, h)
		}
	}
}

// scheduleRound0 arms the NewHeight timeout that starts the first round
// once the commit wait interval has passed.
func (cs *ConsensusState) scheduleRound0(rs *cstypes.RoundState) {
	sleepDuration := rs.StartTime.Sub(time.Now())
	cs.scheduleTimeout(sleepDuration, rs.Height, 0, cstypes.RoundStepNewHeight)
}

// Attempt to schedule a timeout (by sending timeoutInfo on the tickChan)
func (cs *ConsensusState) scheduleTimeout(duration time.Duration, height uint64, round uint32, step cstypes.RoundStepType) {
	cs.timeoutTicker.ScheduleTimeout(timeoutInfo{duration, height, round, step})
}

// isProposer returns true if this node proposes in the given round.
func (cs *ConsensusState) isProposer(round uint32) bool {
	return cs.Validators.Proposer(round).Address.Equal(cs.address)
}

// isValidator returns true if this node is a member of the authority set.
func (cs *ConsensusState) isValidator() bool {
	return cs.Validators.HasAddress(cs.address)
}

// isProposalComplete returns true if we hold the current round's proposal.
func (cs *ConsensusState) isProposalComplete() bool {
	return cs.Proposal != nil && cs.Proposal.Round == cs.Round
}

// CompareHRS orders two height/round/step positions.
func CompareHRS(h1 uint64, r1 uint32, s1 cstypes.RoundStepType, h2 uint64, r2 uint32, s2 cstypes.RoundStepType) int {
	if h1 < h2 {
		return -1
	} else if h1 > h2 {
		return 1
	}
	if r1 < r2 {
		return -1
	} else if r1 > r2 {
		return 1
	}
	if s1 < s2 {
		return -1
	} else if s1 > s2 {
		return 1
	}
	return 0
}

//-----------------------------------------
// the main go routines

// receiveRoutine handles messages which may cause state transitions.
// it's argument (n) is the number of messages to process before exiting - use 0 to run forever
// It keeps the RoundState and is the only thing that updates it.
// Updates happen on timeouts, complete proposals, and 2/3 majorities.
// ConsensusState must be locked before any internal state is updated.
func (cs *ConsensusState) receiveRoutine(maxSteps int) {
	defer func() {
		if r := recover(); r != nil {
			cs.logger.Crit("CONSENSUS FAILURE!!!", "err", r)
		}
	}()

	for {
		if maxSteps > 0 {
			if cs.nSteps >= maxSteps {
				cs.logger.Info("reached max steps. exiting receive routine")
				cs.nSteps = 0
				return
			}
		}

		if cs.paused {
			// Only control messages move a paused machine. Everything else
			// stays buffered in the queues until Resume.
			select {
			case pause := <-cs.controlQueue:
				cs.setPaused(pause)
			case <-cs.done:
				return
			}
			continue
		}

		rs := cs.RoundState
		var mi msgInfo

		select {
		case pause := <-cs.controlQueue:
			cs.setPaused(pause)
		case mi = <-cs.peerMsgQueue:
			if err := cs.wal.Write(mi); err != nil {
				cs.logger.Error("Error writing to wal", "err", err)
			}
			// handles proposals, votes, feeds, statuses, verify resps
			// may generate internal events (votes, complete proposals, 2/3 majorities)
			cs.handleMsg(mi)
		case mi = <-cs.internalMsgQueue:
			// handles proposals and votes we generated ourselves; they were
			// journaled with WriteSync before they entered the queue
			cs.handleMsg(mi)
		case ti := <-cs.timeoutTicker.Chan(): // tockChan:
			if err := cs.wal.Write(ti); err != nil {
				cs.logger.Error("Error writing to wal", "err", err)
			}
			// if the timeout is relevant to the rs
			// go to the next step
			cs.handleTimeout(ti, rs)
		case <-cs.done:
			return
		}
	}
}

func (cs *ConsensusState) setPaused(paused bool) {
	if cs.paused == paused {
		return
	}
	cs.paused = paused
	if paused {
		cs.logger.Info("Consensus paused", "height", cs.Height, "round", cs.Round)
	} else {
		cs.logger.Info("Consensus resumed", "height", cs.Height, "round", cs.Round)
	}
}

// state transitions on complete-proposal, 2/3-any, 2/3-one
func (cs *ConsensusState) handleMsg(mi msgInfo) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.nSteps++

	var err error
	msg := mi.Msg

	if err := msg.ValidateBasic(); err != nil {
		cs.logger.Error("Dropping invalid message", "msg", msg, "err", err)
		return
	}

	switch msg := msg.(type) {
	case *ProposalMessage:
		err = cs.tryAddProposal(msg.Proposal, mi.Internal)
	case *VoteMessage:
		// attempt to add the vote and dupeout the validator if its a duplicate signature
		// if the vote gives us a 2/3-any or 2/3-one, we transition
		_, err = cs.tryAddVote(msg.Vote, mi.Internal)
	case *FeedMessage:
		err = cs.tryAddFeed(msg.Feed)
	case *StatusMessage:
		err = cs.tryUpdateToStatus(msg.Status)
	case *VerifyRespMessage:
		err = cs.tryAddVerifyResp(msg.Resp)
	default:
		cs.logger.Error("Unknown msg type", "type", cmn.Fmt("%T", msg))
		return
	}
	if err != nil {
		cs.logger.Debug("Error with msg", "height", cs.Height, "round", cs.Round, "err", err, "msg", msg)
	}
}

func (cs *ConsensusState) handleTimeout(ti timeoutInfo, rs cstypes.RoundState) {
	cs.logger.Debug("Received tock", "timeout", ti.Duration, "height", ti.Height, "round", ti.Round, "step", ti.Step)

	// timeouts must be for current height, round, step
	if ti.Height != rs.Height || ti.Round < rs.Round || (ti.Round == rs.Round && ti.Step < rs.Step) {
		cs.logger.Debug("Ignoring tock because we're ahead", "height", rs.Height, "round", rs.Round, "step", rs.Step)
		return
	}

	// the timeout will now cause a state transition
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.nSteps++

	switch ti.Step {
	case cstypes.RoundStepNewHeight:
		// NewRound event fired from enterNewRound.
		cs.enterNewRound(ti.Height, 0)
	case cstypes.RoundStepPropose:
		// no proposal arrived in time, prevote nil
		cs.enterPrevote(ti.Height, ti.Round)
	case cstypes.RoundStepPrevote:
		cs.enterPrecommit(ti.Height, ti.Round)
	case cstypes.RoundStepPrevoteWait:
		// the verification grace period ran out
		cs.enterPrecommit(ti.Height, ti.Round)
	case cstypes.RoundStepPrecommit:
		cs.enterNewRound(ti.Height, ti.Round+1)
	default:
		cmn.PanicSanity(cmn.Fmt("Invalid timeout step: %v", ti.Step))
	}
}

//-----------------------------------------------------------------------------
// State functions
// Used internally by handleTimeout and handleMsg to make state transitions

// Enter: +2/3 precommits for nil at (height,round-1)
// Enter: `timeoutPrecommit` after any +2/3 precommits from (height,round-1)
// Enter: `commitWait` timer fired at (height,0)
// NOTE: cs.StartTime was already set for height.
func (cs *ConsensusState) enterNewRound(height uint64, round uint32) {
	logger := cs.logger.New("height", height, "round", round)

	if (cs.Height != height) || (round < cs.Round) || (cs.Round == round && cs.Step != cstypes.RoundStepNewHeight) {
		logger.Debug(cmn.Fmt("enterNewRound(%v/%v): Invalid args. Current step: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))
		return
	}

	if now := time.Now(); cs.StartTime.After(now) {
		logger.Info("Starting a round early", "startTime", cs.StartTime, "now", now)
	}

	logger.Info(cmn.Fmt("enterNewRound(%v/%v). Current: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))

	// Setup new round.
	// The proposal of round 0 may have arrived during NewHeight already;
	// later rounds start from whatever their own proposal cache holds.
	cs.updateRoundStep(round, cstypes.RoundStepNewHeight)
	if round != 0 {
		logger.Info("Resetting Proposal info")
		cs.Proposal = nil
	}
	cs.Votes.SetRound(round)
	cs.TriggeredTimeoutPrecommit = false
	cs.verifyDeadline = time.Time{}

	cs.enterPropose(height, round)
}

// Enter from enterNewRound(height, round).
func (cs *ConsensusState) enterPropose(height uint64, round uint32) {
	logger := cs.logger.New("height", height, "round", round)

	if (cs.Height != height) || (round < cs.Round) || (cs.Round == round && cstypes.RoundStepPropose <= cs.Step) {
		logger.Debug(cmn.Fmt("enterPropose(%v/%v): Invalid args. Current step: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))
		return
	}
	logger.Info(cmn.Fmt("enterPropose(%v/%v). Current: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterPropose:
		cs.updateRoundStep(round, cstypes.RoundStepPropose)

		// If we already hold the round's proposal, go to Prevote now.
		// Else wait for a proposal or timeoutPropose.
		if cs.isProposalComplete() {
			cs.enterPrevote(height, cs.Round)
		}
	}()

	// If we don't get the proposal quick enough, enterPrevote
	cs.scheduleTimeout(cs.config.Propose(round), height, round, cstypes.RoundStepPropose)

	// A proposal for this round may have arrived before we got here.
	if cached, ok := cs.roundProposals[round]; ok && cs.Proposal == nil {
		if err := cs.setProposal(cached); err != nil {
			logger.Debug("Cached proposal rejected", "err", err)
		}
	}

	if !cs.isValidator() {
		logger.Debug("This node is not a validator")
		return
	}

	if cs.isProposer(round) {
		logger.Trace("Our turn to propose")
		cs.decideProposal(height, round)
	} else {
		logger.Trace("Not our turn to propose", "proposer", cs.Validators.Proposer(round).Address)
	}
}

// decideProposal builds and publishes our proposal: the locked block with
// its lock proof when a lock is held, the host's feed otherwise. Without
// either, we stay silent and the round will time out into a nil prevote on
// every correct node.
func (cs *ConsensusState) decideProposal(height uint64, round uint32) {
	if cs.Proposal != nil {
		return // already proposed this round
	}
	if cs.replayMode {
		// the journaled proposal, if any, follows in the log
		return
	}

	var proposal *types.Proposal
	if cs.IsLocked() {
		proposal = types.NewProposal(height, round, cs.LockedBlock, cs.address).
			WithLock(cs.LockedRound, cs.LockedVotes)
	} else if feed, ok := cs.feeds[height]; ok {
		proposal = types.NewProposal(height, round, feed.Block, cs.address)
	} else {
		cs.logger.Info("No feed from the host yet, nothing to propose", "height", height, "round", round)
		return
	}

	// Journal before anything leaves this node.
	if err := cs.wal.WriteSync(msgInfo{Msg: &ProposalMessage{proposal}, Internal: true}); err != nil {
		cs.logger.Error("Error journaling our proposal", "err", err)
		return
	}
	fail.Fail() // XXX

	cs.sendInternalMessage(msgInfo{Msg: &ProposalMessage{proposal}, Internal: true})
	cs.emit(proposal)
	cs.logger.Info("Signed proposal", "height", height, "round", round, "proposal", proposal)
}

func (cs *ConsensusState) tryAddProposal(proposal *types.Proposal, internal bool) error {
	if proposal.Height != cs.Height {
		if proposal.Height > cs.Height {
			cs.bufferFutureMsg(proposal.Height, msgInfo{Msg: &ProposalMessage{proposal}, Internal: internal})
			return nil
		}
		return ErrObsoleteMsg
	}
	if proposal.Round != cs.Round {
		if proposal.Round > cs.Round {
			// keep it for when we reach that round
			cs.roundProposals[proposal.Round] = proposal
			return nil
		}
		return ErrInvalidProposalRound
	}

	if err := cs.setProposal(proposal); err != nil {
		return err
	}
	if cs.isProposalComplete() && cs.Step == cstypes.RoundStepPropose {
		cs.enterPrevote(cs.Height, cs.Round)
	} else if cs.Step == cstypes.RoundStepCommit {
		// the proposal may be the decided block we were missing
		cs.tryFinalizeCommit(cs.Height)
	}
	return nil
}

// setProposal validates and installs the proposal of the current round.
func (cs *ConsensusState) setProposal(proposal *types.Proposal) error {
	// Already have one
	if cs.Proposal != nil {
		return nil
	}

	expected := cs.Validators.Proposer(proposal.Round).Address
	if !expected.Equal(proposal.Proposer) {
		cs.logger.Error("Proposal from wrong proposer", "got", proposal.Proposer, "want", expected)
		return ErrInvalidProposalProposer
	}

	if proposal.HasLock() {
		if err := cs.verifyLockProof(proposal); err != nil {
			cs.logger.Error("Proposal carries a bad lock proof", "err", err)
			return err
		}
		// A valid lock proof from a round past our own lock round
		// supersedes our lock: the quorum it carries is the justification.
		// A same-round proof proves nothing new, an honest quorum cannot
		// polka two blocks in one round.
		if cs.IsLocked() && proposal.LockRound > cs.LockedRound {
			cs.logger.Info("Releasing own lock, proposal carries a newer lock proof",
				"ourLockRound", cs.LockedRound, "proposalLockRound", proposal.LockRound)
			cs.LockedRound = 0
			cs.LockedBlock = nil
			cs.LockedVotes = nil
		}
	}

	cs.Proposal = proposal
	cs.logger.Info("Received proposal", "proposal", proposal)

	// Forward for deep verification unless already decided.
	if cs.config.VerifyProposals {
		if _, decided := cs.verdicts[proposal.Block.Hash]; !decided {
			cs.emit(&VerifyReq{Height: proposal.Height, Round: proposal.Round, Proposal: proposal})
		}
	}
	return nil
}

// verifyLockProof checks that the attached votes really are +2/3 prevotes
// of the named round for the proposed block.
func (cs *ConsensusState) verifyLockProof(proposal *types.Proposal) error {
	var power uint64
	seen := make(map[cmn.Address]struct{}, len(proposal.LockVotes))
	for _, vote := range proposal.LockVotes {
		if vote.Height != proposal.Height ||
			vote.Round != proposal.LockRound ||
			vote.Type != types.PrevoteType ||
			!proposal.Block.HashesTo(vote.BlockHash) {
			return ErrInvalidProposalLock
		}
		if _, dup := seen[vote.ValidatorAddress]; dup {
			return ErrInvalidProposalLock
		}
		seen[vote.ValidatorAddress] = struct{}{}
		idx, val := cs.Validators.GetByAddress(vote.ValidatorAddress)
		if val == nil || uint32(idx) != vote.ValidatorIndex {
			return ErrInvalidProposalLock
		}
		power += val.VotingPower
	}
	if power < cs.Validators.TwoThirdsThreshold() {
		return ErrInvalidProposalLock
	}
	return nil
}

// Enter: `timeoutPropose` after entering Propose.
// Enter: proposal for the current round is installed.
// Enter: any +2/3 prevotes for future round.
// Prevote for LockedBlock if we're locked, or ProposalBlock if valid.
// Otherwise vote nil.
func (cs *ConsensusState) enterPrevote(height uint64, round uint32) {
	if (cs.Height != height) || (round < cs.Round) || (cs.Round == round && cstypes.RoundStepPrevote <= cs.Step) {
		cs.logger.Debug(cmn.Fmt("enterPrevote(%v/%v): Invalid args. Current step: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))
		return
	}

	defer func() {
		// Done enterPrevote:
		cs.updateRoundStep(round, cstypes.RoundStepPrevote)
	}()

	cs.logger.Info(cmn.Fmt("enterPrevote(%v/%v). Current: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))

	// Sign and broadcast vote as necessary
	cs.doPrevote(height, round)

	// Once `addVote` hits any +2/3 prevotes, we will wait for stragglers and
	// then enterPrecommit.
}

func (cs *ConsensusState) doPrevote(height uint64, round uint32) {
	logger := cs.logger.New("height", height, "round", round)

	// If a block is locked, prevote that.
	if cs.IsLocked() {
		logger.Info("enterPrevote: Block was locked")
		cs.signAddVote(types.PrevoteType, cs.LockedBlock.Hash)
		return
	}

	// If Proposal is nil, prevote nil.
	if !cs.isProposalComplete() {
		logger.Info("enterPrevote: Proposal is nil")
		cs.signAddVote(types.PrevoteType, cmn.Hash{})
		return
	}

	// The proposal passed shallow validation when it was installed; deep
	// verification, when enabled, gates the precommit instead.
	logger.Info("enterPrevote: Proposal is valid")
	cs.signAddVote(types.PrevoteType, cs.Proposal.Block.Hash)
}

// Enter: `timeoutPrevote` after any +2/3 prevotes.
// Enter: +2/3 prevotes for a single block or nil.
// Lock & precommit the polka block if we have it,
// else precommit nil. A missing or nil polka never clears an
// existing lock; the lock only moves forward to a later round's polka.
func (cs *ConsensusState) enterPrecommit(height uint64, round uint32) {
	logger := cs.logger.New("height", height, "round", round)

	if (cs.Height != height) || (round < cs.Round) || (cs.Round == round && cstypes.RoundStepPrecommit <= cs.Step) {
		logger.Debug(cmn.Fmt("enterPrecommit(%v/%v): Invalid args. Current step: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))
		return
	}

	logger.Info(cmn.Fmt("enterPrecommit(%v/%v). Current: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))

	// check for a polka
	blockHash, ok := cs.Votes.Prevotes(round).TwoThirdsMajority()

	// The polka endorses the proposal but the host's verdict is still out.
	// Give it half a prevote timeout; if the timer beats the verdict, fall
	// through below and precommit nil.
	if ok && !blockHash.IsNil() && cs.proposalHashesTo(blockHash) && cs.pendingVerdict(blockHash) {
		if cs.verifyDeadline.IsZero() {
			wait := cs.config.Prevote(round) / 2
			cs.verifyDeadline = time.Now().Add(wait)
			logger.Info("Polka for the proposal but verification is pending, waiting for the verdict")
			// Tagged PrevoteWait: the ticker drops re-arms at a step it
			// already fired for, and the prevote timeout may have been the
			// very thing that brought us here.
			cs.scheduleTimeout(wait, height, round, cstypes.RoundStepPrevoteWait)
			return
		}
		if time.Now().Before(cs.verifyDeadline) {
			return // a timer is armed, keep waiting
		}
		logger.Info("Verification verdict never arrived, precommitting nil")
		cs.updateRoundStep(round, cstypes.RoundStepPrecommit)
		cs.signAddVote(types.PrecommitType, cmn.Hash{})
		return
	}

	defer func() {
		// Done enterPrecommit:
		cs.updateRoundStep(round, cstypes.RoundStepPrecommit)
	}()

	// If we don't have a polka, we must precommit nil.
	if !ok {
		if cs.IsLocked() {
			logger.Info("enterPrecommit: No +2/3 prevotes while we're locked. Precommitting nil")
		} else {
			logger.Info("enterPrecommit: No +2/3 prevotes. Precommitting nil.")
		}
		cs.signAddVote(types.PrecommitType, cmn.Hash{})
		return
	}

	// +2/3 prevoted nil. Precommit nil, the lock stays where it is.
	if blockHash.IsNil() {
		logger.Info("enterPrecommit: +2/3 prevoted for nil.")
		cs.signAddVote(types.PrecommitType, cmn.Hash{})
		return
	}

	prevotes := cs.Votes.Prevotes(round)

	// If the host rejected the block, precommit nil and drop any lock on it.
	if verdict, decided := cs.verdicts[blockHash]; decided && !verdict {
		logger.Info("enterPrecommit: polka block failed deep verification. Precommitting nil")
		if cs.LockedBlock.HashesTo(blockHash) {
			cs.LockedRound = 0
			cs.LockedBlock = nil
			cs.LockedVotes = nil
		}
		cs.signAddVote(types.PrecommitType, cmn.Hash{})
		return
	}

	// If we're already locked on that block, precommit it and move the lock
	// forward to this round's polka.
	if cs.LockedBlock.HashesTo(blockHash) {
		logger.Info("enterPrecommit: +2/3 prevoted locked block. Relocking")
		cs.LockedRound = round
		cs.LockedVotes = prevotes.BlockVotes(blockHash)
		cs.signAddVote(types.PrecommitType, blockHash)
		return
	}

	// If +2/3 prevoted for the proposal block, lock and precommit it.
	if cs.proposalHashesTo(blockHash) {
		logger.Info("enterPrecommit: +2/3 prevoted proposal block. Locking", "hash", blockHash)
		cs.LockedRound = round
		cs.LockedBlock = cs.Proposal.Block
		cs.LockedVotes = prevotes.BlockVotes(blockHash)
		cs.signAddVote(types.PrecommitType, blockHash)
		return
	}

	// There was a polka in this round for a block we don't have.
	// We can't lock what we can't re-propose, so precommit nil and keep
	// whatever lock we already hold.
	logger.Info("enterPrecommit: +2/3 prevotes for a block we don't have. Precommitting nil", "hash", blockHash)
	cs.signAddVote(types.PrecommitType, cmn.Hash{})
}

func (cs *ConsensusState) proposalHashesTo(hash cmn.Hash) bool {
	return cs.Proposal != nil && cs.Proposal.Block.HashesTo(hash)
}

// pendingVerdict returns true if deep verification is on and the host has
// not ruled on the given block yet.
func (cs *ConsensusState) pendingVerdict(hash cmn.Hash) bool {
	if !cs.config.VerifyProposals {
		return false
	}
	_, decided := cs.verdicts[hash]
	return !decided
}

// Enter: any +2/3 precommits for the current round.
func (cs *ConsensusState) enterPrecommitWait(height uint64, round uint32) {
	logger := cs.logger.New("height", height, "round", round)

	if (cs.Height != height) || (round != cs.Round) || cs.TriggeredTimeoutPrecommit {
		logger.Debug(cmn.Fmt("enterPrecommitWait(%v/%v): Invalid args. Current: %v/%v, TriggeredTimeoutPrecommit: %v",
			height, round, cs.Height, cs.Round, cs.TriggeredTimeoutPrecommit))
		return
	}
	if !cs.Votes.Precommits(round).HasTwoThirdsAny() {
		cmn.PanicSanity(cmn.Fmt("enterPrecommitWait(%v/%v), but Precommits does not have any +2/3 votes", height, round))
	}
	logger.Info(cmn.Fmt("enterPrecommitWait(%v/%v). Current: %v/%v/%v", height, round, cs.Height, cs.Round, cs.Step))

	cs.TriggeredTimeoutPrecommit = true

	// Wait for some more precommits; enterNewRound
	cs.scheduleTimeout(cs.config.Precommit(round), height, round, cstypes.RoundStepPrecommit)
}

// Enter: +2/3 precommits for block
func (cs *ConsensusState) enterCommit(height uint64, commitRound uint32) {
	logger := cs.logger.New("height", height, "commitRound", commitRound)

	if (cs.Height != height) || cstypes.RoundStepCommit <= cs.Step {
		logger.Debug(cmn.Fmt("enterCommit(%v/%v): Invalid args. Current step: %v/%v/%v", height, commitRound, cs.Height, cs.Round, cs.Step))
		return
	}
	logger.Info(cmn.Fmt("enterCommit(%v/%v). Current: %v/%v/%v", height, commitRound, cs.Height, cs.Round, cs.Step))

	// keep cs.Round the same, commitRound points to the right Precommits set
	cs.updateRoundStep(cs.Round, cstypes.RoundStepCommit)
	cs.CommitRound = commitRound
	cs.CommitTime = time.Now()

	cs.tryFinalizeCommit(height)
}

// If we have the decided block, finalize: journal the height end, publish
// the commit and wait for the host's status to move on.
func (cs *ConsensusState) tryFinalizeCommit(height uint64) {
	logger := cs.logger.New("height", height)

	if cs.Height != height {
		cmn.PanicSanity(cmn.Fmt("tryFinalizeCommit() cs.Height: %v vs height: %v", cs.Height, height))
	}
	if cs.commitEmitted {
		return
	}
	if cs.replayMode {
		// Re-finalized once replay completes, so the host sees the commit
		// again. It dedupes by height.
		logger.Info("Replay reached the commit of the unfinished height")
		return
	}

	blockHash, ok := cs.Votes.Precommits(cs.CommitRound).TwoThirdsMajority()
	if !ok || blockHash.IsNil() {
		logger.Error("Attempt to finalize failed. There was no +2/3 majority, or +2/3 was for nil.")
		return
	}

	block := cs.commitBlock(blockHash)
	if block == nil {
		// We don't have the decided block yet; wait for its proposal.
		logger.Info("Attempt to finalize failed. We don't have the commit block.", "hash", blockHash)
		return
	}

	commit, err := cs.Votes.Precommits(cs.CommitRound).MakeCommit(block, cs.CommitTime)
	if err != nil {
		logger.Error("Failed to assemble commit", "err", err)
		return
	}

	fail.Fail() // XXX

	// The end of the height must hit the disk before the commit leaves the
	// process, or a crashed node could decide twice.
	if err := cs.wal.WriteSync(EndHeightMessage{Height: height}); err != nil {
		cmn.PanicSanity(cmn.Fmt("Failed to write EndHeightMessage{%v} to consensus wal: %v", height, err))
	}

	fail.Fail() // XXX

	cs.commitEmitted = true
	cs.emit(commit)
	logger.Info("Finalized commit", "height", height, "round", cs.CommitRound, "hash", blockHash)

	// The next height starts when the host acknowledges with a status.
}

// commitBlock returns the block with the given hash if we hold it.
func (cs *ConsensusState) commitBlock(hash cmn.Hash) *types.Block {
	if cs.LockedBlock.HashesTo(hash) {
		return cs.LockedBlock
	}
	if cs.proposalHashesTo(hash) {
		return cs.Proposal.Block
	}
	if feed, ok := cs.feeds[cs.Height]; ok && feed.Block.HashesTo(hash) {
		return feed.Block
	}
	return nil
}

//-----------------------------------------------------------------------------
// host message handling

func (cs *ConsensusState) tryAddFeed(feed *types.Feed) error {
	if feed.Height < cs.Height {
		return ErrObsoleteMsg
	}
	cs.feeds[feed.Height] = feed
	cs.logger.Debug("Received feed", "feed", feed)

	// The feed may unblock our pending proposal for the current round.
	if feed.Height == cs.Height &&
		cs.Step == cstypes.RoundStepPropose &&
		cs.isValidator() && cs.isProposer(cs.Round) {
		cs.decideProposal(cs.Height, cs.Round)
	}
	return nil
}

func (cs *ConsensusState) tryUpdateToStatus(status *types.Status) error {
	if status.Height+1 < cs.Height {
		return ErrObsoleteMsg
	}
	if status.Height+1 == cs.Height {
		// re-acknowledgement of the height we already work on
		return nil
	}

	cs.logger.Info("Moving to new height", "finalized", status.Height, "new", status.Height+1)
	cs.updateToStatus(status)

	fail.Fail() // XXX

	// Re-inject messages that arrived early for this height.
	if buffered, ok := cs.futureMsgs.Get(cs.Height); ok {
		cs.futureMsgs.Remove(cs.Height)
		for _, mi := range buffered.([]msgInfo) {
			cs.sendInternalMessage(mi)
		}
	}

	cs.scheduleRound0(&cs.RoundState)
	return nil
}

func (cs *ConsensusState) tryAddVerifyResp(resp *types.VerifyResp) error {
	if resp.Height != cs.Height {
		if resp.Height > cs.Height {
			cs.bufferFutureMsg(resp.Height, msgInfo{Msg: &VerifyRespMessage{resp}})
			return nil
		}
		return ErrObsoleteMsg
	}

	cs.verdicts[resp.ProposalHash] = resp.IsOK
	cs.logger.Info("Received verify resp", "resp", resp)

	// A pending precommit may be waiting on exactly this verdict.
	if cs.Step == cstypes.RoundStepPrevote && !cs.verifyDeadline.IsZero() {
		cs.verifyDeadline = time.Time{}
		cs.enterPrecommit(cs.Height, cs.Round)
	}
	return nil
}

// bufferFutureMsg holds on to a message for a height we haven't reached.
func (cs *ConsensusState) bufferFutureMsg(height uint64, mi msgInfo) {
	var msgs []msgInfo
	if existing, ok := cs.futureMsgs.Get(height); ok {
		msgs = existing.([]msgInfo)
	}
	cs.futureMsgs.Add(height, append(msgs, mi))
}

//-----------------------------------------------------------------------------
// vote handling

// tryAddVote attempts to add the vote. if its a duplicate signature, dupeout the validator
func (cs *ConsensusState) tryAddVote(vote *types.Vote, internal bool) (bool, error) {
	added, err := cs.addVote(vote, internal)
	if err != nil {
		// If the vote height is off, we'll just ignore it,
		// But if it's a conflicting sig, add it to the evidence pool.
		if voteErr, ok := err.(*types.ErrVoteConflictingVotes); ok {
			if vote.ValidatorAddress.Equal(cs.address) {
				cs.logger.Error("Found conflicting vote from ourselves. Did you unsafe_reset a validator?",
					"height", vote.Height, "round", vote.Round, "type", vote.Type)
				return added, err
			}
			// A switch to or from nil is replaced but is not equivocation;
			// only two signed non-nil blocks at one position are evidence.
			if voteErr.VoteA.BlockHash.IsNil() || voteErr.VoteB.BlockHash.IsNil() {
				cs.logger.Info("Vote switched to or from nil. Replacing without evidence",
					"voteA", voteErr.VoteA, "voteB", voteErr.VoteB)
			} else {
				cs.logger.Error("Found conflicting vote. Recording evidence", "voteA", voteErr.VoteA, "voteB", voteErr.VoteB)
				if cs.evpool != nil {
					if evErr := cs.evpool.AddEvidence(types.NewDuplicateVoteEvidence(voteErr.VoteA, voteErr.VoteB)); evErr != nil {
						cs.logger.Error("Failed to record evidence", "err", evErr)
					}
				}
			}
			// the vote itself was recorded, fall through to threshold checks
			err = nil
		} else {
			// Probably an invalid signature / Bad peer.
			cs.logger.Error("Error attempting to add vote", "err", err)
			return added, ErrAddingVote
		}
	}
	if added {
		cs.checkVoteThresholds(vote)
	}
	return added, err
}

func (cs *ConsensusState) addVote(vote *types.Vote, internal bool) (added bool, err error) {
	cs.logger.Debug("addVote", "voteHeight", vote.Height, "voteType", vote.Type, "valIndex", vote.ValidatorIndex, "csHeight", cs.Height)

	if vote.Height != cs.Height {
		if vote.Height > cs.Height {
			cs.bufferFutureMsg(vote.Height, msgInfo{Msg: &VoteMessage{vote}, Internal: internal})
			return false, nil
		}
		return false, ErrVoteHeightMismatch
	}

	return cs.Votes.AddVote(vote)
}

// checkVoteThresholds drives the state transitions fed by vote arrival:
// polkas, quorums of precommits and round skipping.
func (cs *ConsensusState) checkVoteThresholds(vote *types.Vote) {
	height := cs.Height

	switch vote.Type {
	case types.PrevoteType:
		prevotes := cs.Votes.Prevotes(vote.Round)
		cs.logger.Info("Added to prevote", "vote", vote, "prevotes", prevotes.StringShort())

		// If +2/3 prevotes for a future round, skip ahead.
		if vote.Round > cs.Round && prevotes.HasTwoThirdsAny() {
			cs.skipToRound(height, vote.Round)
			return
		}

		if vote.Round == cs.Round {
			if prevotes.HasTwoThirdsMajority() && cstypes.RoundStepPrevote <= cs.Step {
				cs.enterPrecommit(height, vote.Round)
			} else if prevotes.HasTwoThirdsAny() && cs.Step == cstypes.RoundStepPrevote {
				// wait for stragglers before precommitting
				cs.scheduleTimeout(cs.config.Prevote(vote.Round), height, vote.Round, cstypes.RoundStepPrevote)
			}
		}

	case types.PrecommitType:
		precommits := cs.Votes.Precommits(vote.Round)
		cs.logger.Info("Added to precommit", "vote", vote, "precommits", precommits.StringShort())

		blockHash, ok := precommits.TwoThirdsMajority()
		if ok {
			if blockHash.IsNil() {
				// +2/3 precommitted nil, straight to the next round
				if vote.Round >= cs.Round {
					cs.skipToRound(height, vote.Round+1)
				}
			} else {
				cs.enterCommit(height, vote.Round)
				if cs.Step == cstypes.RoundStepCommit {
					cs.tryFinalizeCommit(height)
				}
			}
			return
		}
		if vote.Round > cs.Round && precommits.HasTwoThirdsAny() {
			cs.skipToRound(height, vote.Round)
			return
		}
		if vote.Round == cs.Round && precommits.HasTwoThirdsAny() {
			cs.enterPrecommitWait(height, vote.Round)
		}

	default:
		cmn.PanicSanity(cmn.Fmt("Unexpected vote type %X", vote.Type))
	}
}

// skipToRound jumps over intermediate rounds when a quorum is already past
// us. enterNewRound's preamble accepts any round greater than the current
// one, so no step gymnastics are needed.
func (cs *ConsensusState) skipToRound(height uint64, round uint32) {
	if round <= cs.Round {
		return
	}
	cs.logger.Info("Skipping ahead", "height", height, "fromRound", cs.Round, "toRound", round)
	cs.enterNewRound(height, round)
}

// signAddVote builds our vote, journals it, feeds it back and publishes it.
func (cs *ConsensusState) signAddVote(signedMsgType byte, hash cmn.Hash) *types.Vote {
	if !cs.isValidator() {
		return nil
	}
	if cs.replayMode {
		// the journaled vote, if any, follows in the log
		return nil
	}

	valIndex, _ := cs.Validators.GetByAddress(cs.address)
	vote := &types.Vote{
		ValidatorAddress: cs.address,
		ValidatorIndex:   uint32(valIndex),
		Height:           cs.Height,
		Round:            cs.Round,
		Type:             signedMsgType,
		BlockHash:        hash,
		Timestamp:        uint64(time.Now().Unix()),
	}

	if err := cs.wal.WriteSync(msgInfo{Msg: &VoteMessage{vote}, Internal: true}); err != nil {
		cs.logger.Error("Error journaling our vote", "err", err)
		return nil
	}
	fail.Fail() // XXX

	cs.sendInternalMessage(msgInfo{Msg: &VoteMessage{vote}, Internal: true})
	cs.emit(vote)
	cs.logger.Info("Signed and pushed vote", "height", cs.Height, "round", cs.Round, "vote", vote)
	return vote
}
