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

	"github.com/kardiachain/go-bft/types"
)

// Message is anything the consensus state consumes from its queues.
type Message interface {
	ValidateBasic() error
	String() string
}

// msgInfo is a Message bundled with its origin. Internal messages come from
// the state machine itself (its own votes and proposals); the rest arrive
// through the actuator.
type msgInfo struct {
	Msg      Message
	Internal bool
}

// ProposalMessage carries a proposal from the round's designated proposer.
type ProposalMessage struct {
	Proposal *types.Proposal
}

// ValidateBasic performs basic validation.
func (m *ProposalMessage) ValidateBasic() error {
	if m.Proposal == nil {
		return ErrNilMsg
	}
	return m.Proposal.ValidateBasic()
}

func (m *ProposalMessage) String() string {
	return fmt.Sprintf("[Proposal %v]", m.Proposal)
}

// VoteMessage carries a prevote or precommit.
type VoteMessage struct {
	Vote *types.Vote
}

// ValidateBasic performs basic validation.
func (m *VoteMessage) ValidateBasic() error {
	if m.Vote == nil {
		return ErrNilMsg
	}
	return m.Vote.ValidateBasic()
}

func (m *VoteMessage) String() string {
	return fmt.Sprintf("[Vote %v]", m.Vote)
}

// FeedMessage carries the host's proposal content for a height.
type FeedMessage struct {
	Feed *types.Feed
}

// ValidateBasic performs basic validation.
func (m *FeedMessage) ValidateBasic() error {
	if m.Feed == nil {
		return ErrNilMsg
	}
	return m.Feed.ValidateBasic()
}

func (m *FeedMessage) String() string {
	return fmt.Sprintf("[Feed %v]", m.Feed)
}

// StatusMessage acknowledges a finalized height and installs the authority
// set of the next one.
type StatusMessage struct {
	Status *types.Status
}

// ValidateBasic performs basic validation.
func (m *StatusMessage) ValidateBasic() error {
	if m.Status == nil {
		return ErrNilMsg
	}
	return m.Status.ValidateBasic()
}

func (m *StatusMessage) String() string {
	return fmt.Sprintf("[Status %v]", m.Status)
}

// VerifyRespMessage carries the host's verdict on a proposal under deep
// verification.
type VerifyRespMessage struct {
	Resp *types.VerifyResp
}

// ValidateBasic performs basic validation.
func (m *VerifyRespMessage) ValidateBasic() error {
	if m.Resp == nil {
		return ErrNilMsg
	}
	return m.Resp.ValidateBasic()
}

func (m *VerifyRespMessage) String() string {
	return fmt.Sprintf("[VerifyResp %v]", m.Resp)
}
