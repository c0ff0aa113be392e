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
	"fmt"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

// Block is the opaque content being agreed on. The engine never inspects
// the payload and never hashes it; the host supplies both the payload and
// its hash, and the hash is what votes refer to.
type Block struct {
	Payload []byte   `json:"payload"`
	Hash    cmn.Hash `json:"hash"`
}

// NewBlock returns a Block carrying the given payload and host-computed hash.
func NewBlock(payload []byte, hash cmn.Hash) *Block {
	return &Block{Payload: payload, Hash: hash}
}

// HashesTo is a convenience function that checks if a block hashes to the
// given hash. Returns false if the block is nil or the hash is empty.
func (b *Block) HashesTo(hash cmn.Hash) bool {
	if hash.IsNil() {
		return false
	}
	if b == nil {
		return false
	}
	return b.Hash.Equal(hash)
}

// Copy returns a shallow copy of the block.
func (b *Block) Copy() *Block {
	if b == nil {
		return nil
	}
	bCopy := *b
	return &bCopy
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{%d bytes %v}", len(b.Payload), b.Hash.TerminalString())
}
