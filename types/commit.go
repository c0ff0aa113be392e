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
	"time"
)

// Commit is the proof of finalization handed to the host: the decided block
// together with the +2/3 precommits that decided it.
type Commit struct {
	Height     uint64    `json:"height"`
	Round      uint32    `json:"round"`
	Block      *Block    `json:"block"`
	Votes      []*Vote   `json:"votes"`
	CommitTime time.Time `json:"commit_time"`
}

// NewCommit assembles a commit proof.
func NewCommit(height uint64, round uint32, block *Block, votes []*Vote, commitTime time.Time) *Commit {
	return &Commit{
		Height:     height,
		Round:      round,
		Block:      block,
		Votes:      votes,
		CommitTime: commitTime,
	}
}

// ValidateBasic performs stateless validation.
func (commit *Commit) ValidateBasic() error {
	if commit.Block == nil {
		return errors.New("commit carries no block")
	}
	if len(commit.Votes) == 0 {
		return errors.New("commit carries no votes")
	}
	for _, vote := range commit.Votes {
		if vote.Height != commit.Height || vote.Type != PrecommitType {
			return errors.New("commit carries a foreign vote")
		}
		if !commit.Block.HashesTo(vote.BlockHash) {
			return errors.New("commit vote endorses a different block")
		}
	}
	return nil
}

func (commit *Commit) String() string {
	if commit == nil {
		return "nil-Commit"
	}
	return fmt.Sprintf("Commit{%d/%d %v votes:%d}",
		commit.Height, commit.Round, commit.Block, len(commit.Votes))
}
