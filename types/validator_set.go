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
	"strings"

	cmn "github.com/kardiachain/go-bft/lib/common"
)

// ValidatorSet is the ordered authority set for a height. The order is
// supplied by the host and is the basis for round-robin proposer selection:
// the proposer of round r is Validators[r % len(Validators)].
//
// All validators in the set vote with their VotingPower; a vote set reaches
// quorum once the accumulated power exceeds two thirds of the total.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`

	totalVotingPower uint64
}

// NewValidatorSet initializes a ValidatorSet with the given ordered list.
// Panics on an invalid set (empty, duplicate addresses, zero power); use
// ValidateBasic first if the list comes from an untrusted source.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{Validators: valz}
	if err := vals.ValidateBasic(); err != nil {
		cmn.PanicSanity(cmn.Fmt("invalid validator set: %v", err))
	}
	for _, val := range valz {
		vals.totalVotingPower += val.VotingPower
	}
	return vals
}

// ValidateBasic checks structural soundness of the set.
func (vals *ValidatorSet) ValidateBasic() error {
	if vals == nil || len(vals.Validators) == 0 {
		return errors.New("validator set is empty")
	}
	seen := make(map[cmn.Address]struct{}, len(vals.Validators))
	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %v", idx, err)
		}
		if _, ok := seen[val.Address]; ok {
			return fmt.Errorf("duplicate validator address %v", val.Address.Hex())
		}
		seen[val.Address] = struct{}{}
	}
	return nil
}

// Size returns the number of validators in the set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// TotalVotingPower returns the sum of all voting power in the set.
func (vals *ValidatorSet) TotalVotingPower() uint64 {
	return vals.totalVotingPower
}

// TwoThirdsThreshold returns the smallest voting power that constitutes a
// quorum, floor(2*total/3) + 1.
func (vals *ValidatorSet) TwoThirdsThreshold() uint64 {
	return vals.totalVotingPower*2/3 + 1
}

// Proposer returns the validator scheduled to propose in the given round.
func (vals *ValidatorSet) Proposer(round uint32) *Validator {
	return vals.Validators[int(round)%len(vals.Validators)]
}

// HasAddress returns true if the address is a member of the set.
func (vals *ValidatorSet) HasAddress(address cmn.Address) bool {
	idx, _ := vals.GetByAddress(address)
	return idx >= 0
}

// GetByAddress returns the index and validator with the given address, or
// (-1, nil) if the address is not in the set.
func (vals *ValidatorSet) GetByAddress(address cmn.Address) (index int, val *Validator) {
	for idx, v := range vals.Validators {
		if v.Address.Equal(address) {
			return idx, v.Copy()
		}
	}
	return -1, nil
}

// GetByIndex returns the validator at the given index, or (zero, nil) if
// the index is out of range.
func (vals *ValidatorSet) GetByIndex(index uint32) (address cmn.Address, val *Validator) {
	if int(index) >= len(vals.Validators) {
		return cmn.Address{}, nil
	}
	v := vals.Validators[index]
	return v.Address, v.Copy()
}

// Copy returns a deep copy of the set.
func (vals *ValidatorSet) Copy() *ValidatorSet {
	if vals == nil {
		return nil
	}
	valz := make([]*Validator, len(vals.Validators))
	for i, val := range vals.Validators {
		valz[i] = val.Copy()
	}
	return &ValidatorSet{
		Validators:       valz,
		totalVotingPower: vals.totalVotingPower,
	}
}

func (vals *ValidatorSet) String() string {
	return vals.StringIndented("")
}

// StringIndented returns an indented multiline representation of the set.
func (vals *ValidatorSet) StringIndented(indent string) string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	valStrings := make([]string, 0, len(vals.Validators))
	for _, val := range vals.Validators {
		valStrings = append(valStrings, val.String())
	}
	return fmt.Sprintf(`ValidatorSet{
%s  Proposer(0): %v
%s  Validators:
%s    %v
%s}`,
		indent, vals.Proposer(0).String(),
		indent,
		indent, strings.Join(valStrings, "\n"+indent+"    "),
		indent)
}
