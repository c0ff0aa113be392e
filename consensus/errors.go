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

// Package consensus implements the BFT state machine, its write-ahead log
// and the actuator handle the host drives it with.
package consensus

import (
	"errors"
)

var (
	ErrInvalidProposalHeight   = errors.New("error invalid proposal height")
	ErrInvalidProposalRound    = errors.New("error invalid proposal round")
	ErrInvalidProposalProposer = errors.New("error proposal from wrong proposer")
	ErrInvalidProposalLock     = errors.New("error invalid proposal lock proof")
	ErrAddingVote              = errors.New("error adding vote")
	ErrVoteHeightMismatch      = errors.New("error vote height mismatch")
	ErrUnknownValidator        = errors.New("error vote from unknown validator")
	ErrInvalidMsgType          = errors.New("invalid message Type")
	ErrNilMsg                  = errors.New("message is Nil")
	ErrObsoleteMsg             = errors.New("message is for an already finalized height")
	ErrStopped                 = errors.New("consensus state machine is stopped")
)
