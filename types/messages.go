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
	"errors"
	"fmt"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

// Feed delivers the block the host wants proposed at a height. The engine
// holds at most one feed per height and uses it only when it is the
// proposer and holds no lock.
type Feed struct {
	Height uint64 `json:"height"`
	Block  *Block `json:"block"`
}

// ValidateBasic performs stateless validation.
func (f *Feed) ValidateBasic() error {
	if f.Block == nil || f.Block.Hash.IsNil() {
		return errors.New("feed carries no block")
	}
	return nil
}

func (f *Feed) String() string {
	if f == nil {
		return "nil-Feed"
	}
	return fmt.Sprintf("Feed{%d %v}", f.Height, f.Block)
}

// Status acknowledges that the host finalized the given height and hands
// the engine the authority set for the next one. Interval, when non-zero,
// replaces the commit wait interval in milliseconds.
type Status struct {
	Height     uint64        `json:"height"`
	Interval   uint64        `json:"interval"`
	Validators *ValidatorSet `json:"validators"`
}

// ValidateBasic performs stateless validation.
func (s *Status) ValidateBasic() error {
	if s.Validators == nil {
		return errors.New("status carries no validator set")
	}
	return s.Validators.ValidateBasic()
}

func (s *Status) String() string {
	if s == nil {
		return "nil-Status"
	}
	return fmt.Sprintf("Status{%d interval:%dms vals:%d}",
		s.Height, s.Interval, s.Validators.Size())
}

// VerifyResp is the host's asynchronous verdict on a proposal forwarded for
// deep verification.
type VerifyResp struct {
	Height       uint64   `json:"height"`
	Round        uint32   `json:"round"`
	ProposalHash cmn.Hash `json:"proposal_hash"`
	IsOK         bool     `json:"is_ok"`
}

// ValidateBasic performs stateless validation.
func (vr *VerifyResp) ValidateBasic() error {
	if vr.ProposalHash.IsNil() {
		return errors.New("verify resp names no proposal")
	}
	return nil
}

func (vr *VerifyResp) String() string {
	if vr == nil {
		return "nil-VerifyResp"
	}
	return fmt.Sprintf("VerifyResp{%d/%d %v ok:%v}",
		vr.Height, vr.Round, vr.ProposalHash.TerminalString(), vr.IsOK)
}
