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

package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardiachain/go-bft/types"
)

func duplicateVoteEvidence(t *testing.T, height uint64) *types.DuplicateVoteEvidence {
	t.Helper()
	_, addrs := types.RandValidatorSet(1, 1)
	voteA := types.MakeVote(height, 0, types.PrevoteType, 0, addrs[0], types.RandBlock().Hash)
	voteB := types.MakeVote(height, 0, types.PrevoteType, 0, addrs[0], types.RandBlock().Hash)
	return types.NewDuplicateVoteEvidence(voteA, voteB)
}

func TestPoolAddAndDedup(t *testing.T) {
	pool := NewPool()
	ev := duplicateVoteEvidence(t, 1)

	require.NoError(t, pool.AddEvidence(ev))
	assert.Equal(t, 1, pool.Size())

	// same evidence again is a no-op
	require.NoError(t, pool.AddEvidence(ev))
	assert.Equal(t, 1, pool.Size())

	pending := pool.PendingEvidence()
	require.Len(t, pending, 1)
	assert.Equal(t, ev.Address(), pending[0].Address())
}

func TestPoolRejectsInvalidEvidence(t *testing.T) {
	pool := NewPool()
	_, addrs := types.RandValidatorSet(1, 1)
	voteA := types.MakeVote(1, 0, types.PrevoteType, 0, addrs[0], types.RandBlock().Hash)
	voteB := types.MakeVote(2, 0, types.PrevoteType, 0, addrs[0], types.RandBlock().Hash)

	// heights differ, so this is not an equivocation
	err := pool.AddEvidence(types.NewDuplicateVoteEvidence(voteA, voteB))
	require.Error(t, err)
	assert.Equal(t, 0, pool.Size())
}

func TestPoolUpdatePrunesFinalized(t *testing.T) {
	pool := NewPool()
	ev1 := duplicateVoteEvidence(t, 1)
	ev3 := duplicateVoteEvidence(t, 3)
	require.NoError(t, pool.AddEvidence(ev1))
	require.NoError(t, pool.AddEvidence(ev3))
	require.Equal(t, 2, pool.Size())

	pool.Update(2)
	pending := pool.PendingEvidence()
	require.Len(t, pending, 1)
	assert.Equal(t, uint64(3), pending[0].Height())

	// pruned evidence may be reported again
	require.NoError(t, pool.AddEvidence(ev1))
	assert.Equal(t, 2, pool.Size())
}
