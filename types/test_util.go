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
	"time"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

// RandValidatorSet returns a randomized validator set for testing, along
// with the addresses in set order.
func RandValidatorSet(numValidators int, votingPower uint64) (*ValidatorSet, []cmn.Address) {
	valz := make([]*Validator, numValidators)
	addrs := make([]cmn.Address, numValidators)
	for i := 0; i < numValidators; i++ {
		addr := cmn.BytesToAddress(cmn.RandBytes(20))
		valz[i] = NewValidator(addr, votingPower)
		addrs[i] = addr
	}
	return NewValidatorSet(valz), addrs
}

// RandBlock returns a block with a random payload and hash for testing.
func RandBlock() *Block {
	return NewBlock(cmn.RandBytes(64), cmn.BytesToHash(cmn.RandBytes(32)))
}

// MakeVote assembles an unsigned vote for testing.
func MakeVote(height uint64, round uint32, voteType byte, valIndex uint32, addr cmn.Address, blockHash cmn.Hash) *Vote {
	return &Vote{
		ValidatorAddress: addr,
		ValidatorIndex:   valIndex,
		Height:           height,
		Round:            round,
		Type:             voteType,
		BlockHash:        blockHash,
		Timestamp:        uint64(time.Now().Unix()),
	}
}
