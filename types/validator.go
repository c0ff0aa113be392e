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

// Validator is a voting member of the authority set.
type Validator struct {
	Address     cmn.Address `json:"address"`
	VotingPower uint64      `json:"voting_power"`
}

// NewValidator returns a validator with the given address and voting power.
func NewValidator(addr cmn.Address, votingPower uint64) *Validator {
	return &Validator{
		Address:     addr,
		VotingPower: votingPower,
	}
}

// ValidateBasic performs basic validation.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.Address.IsZero() {
		return errors.New("validator has zero address")
	}
	if v.VotingPower == 0 {
		return errors.New("validator has zero voting power")
	}
	return nil
}

// Copy creates a new copy of the validator so we can mutate voting power.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v VP:%v}", v.Address.Hex(), v.VotingPower)
}
