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
	"github.com/kardiachain/go-bft/configs"
	cmn "github.com/kardiachain/go-bft/lib/common"
	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

// Actuator is the host's handle on a running consensus state machine. The
// host pushes network traffic and its own feed/status/verify messages in
// through the Send methods and drains the machine's output from Recv.
//
// Outbound messages on Recv are *types.Proposal, *types.Vote,
// *types.Commit and *VerifyReq.
type Actuator struct {
	logger log.Logger
	cs     *ConsensusState
}

// NewActuator builds a consensus machine for the given identity and genesis
// status and starts it. The status names the last finalized height (0 for a
// fresh chain) and the authority set of the height after it.
func NewActuator(config *configs.ConsensusConfig, address cmn.Address, genesis *types.Status) (*Actuator, error) {
	cs := NewConsensusState(config, address, genesis)
	a := &Actuator{
		logger: log.New("module", "actuator"),
		cs:     cs,
	}
	if err := cs.OnStart(); err != nil {
		return nil, err
	}
	return a, nil
}

// SendProposal inputs a proposal received from the network. Returns
// ErrStopped if the machine was shut down.
func (a *Actuator) SendProposal(proposal *types.Proposal) error {
	return a.cs.SetProposal(proposal)
}

// SendVote inputs a vote received from the network. Returns ErrStopped if
// the machine was shut down.
func (a *Actuator) SendVote(vote *types.Vote) error {
	return a.cs.AddVote(vote)
}

// SendFeed inputs the content this node should propose at a height. Returns
// ErrStopped if the machine was shut down.
func (a *Actuator) SendFeed(feed *types.Feed) error {
	return a.cs.SetFeed(feed)
}

// SendStatus acknowledges a finalized height and supplies the authority set
// of the next one. Returns ErrStopped if the machine was shut down.
func (a *Actuator) SendStatus(status *types.Status) error {
	return a.cs.SetStatus(status)
}

// SendVerifyResp inputs the verdict on a proposal forwarded for deep
// verification. Returns ErrStopped if the machine was shut down.
func (a *Actuator) SendVerifyResp(resp *types.VerifyResp) error {
	return a.cs.SetVerifyResp(resp)
}

// Pause halts message processing without dropping anything.
func (a *Actuator) Pause() {
	a.cs.Pause()
}

// Start resumes processing after a Pause.
func (a *Actuator) Start() {
	a.cs.Resume()
}

// Recv returns the channel of outbound consensus messages. The host must
// drain it.
func (a *Actuator) Recv() <-chan interface{} {
	return a.cs.Out()
}

// Height returns the height the machine currently works on.
func (a *Actuator) Height() uint64 {
	return a.cs.GetHeight()
}

// Stop shuts the machine down and closes its write-ahead log.
func (a *Actuator) Stop() {
	a.cs.OnStop()
}
