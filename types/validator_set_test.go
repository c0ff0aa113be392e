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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

func TestProposerRoundRobin(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)

	for round := uint32(0); round < 12; round++ {
		want := addrs[int(round)%4]
		assert.Equal(t, want, valSet.Proposer(round).Address, "round %d", round)
	}
}

func TestTwoThirdsThreshold(t *testing.T) {
	cases := []struct {
		numVals   int
		power     uint64
		threshold uint64
	}{
		{1, 1, 1},
		{3, 1, 3},
		{4, 1, 3},
		{6, 1, 5},
		{7, 1, 5},
		{4, 10, 27},
	}
	for _, tc := range cases {
		valSet, _ := RandValidatorSet(tc.numVals, tc.power)
		assert.Equal(t, tc.threshold, valSet.TwoThirdsThreshold(),
			"n=%d power=%d", tc.numVals, tc.power)
	}
}

func TestValidatorSetValidateBasic(t *testing.T) {
	addr := cmn.BytesToAddress(cmn.RandBytes(20))

	vals := &ValidatorSet{Validators: []*Validator{
		NewValidator(addr, 1),
		NewValidator(addr, 1),
	}}
	require.Error(t, vals.ValidateBasic(), "duplicate addresses are rejected")

	empty := &ValidatorSet{}
	require.Error(t, empty.ValidateBasic())

	zeroPower := &ValidatorSet{Validators: []*Validator{
		NewValidator(addr, 0),
	}}
	require.Error(t, zeroPower.ValidateBasic())
}

func TestGetByAddress(t *testing.T) {
	valSet, addrs := RandValidatorSet(4, 1)

	idx, val := valSet.GetByAddress(addrs[2])
	require.NotNil(t, val)
	assert.Equal(t, 2, idx)
	assert.Equal(t, addrs[2], val.Address)

	idx, val = valSet.GetByAddress(cmn.BytesToAddress(cmn.RandBytes(20)))
	assert.Nil(t, val)
	assert.Equal(t, -1, idx)

	assert.True(t, valSet.HasAddress(addrs[0]))
	assert.False(t, valSet.HasAddress(cmn.BytesToAddress(cmn.RandBytes(20))))
}
