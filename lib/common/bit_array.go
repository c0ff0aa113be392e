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

package common

import (
	"strings"
	"sync"
)

// BitArray is a thread-safe implementation of a bit array. It tracks which
// validator indices have contributed a vote to a set.
type BitArray struct {
	mtx   sync.Mutex
	Bits  int      `json:"bits"`
	Elems []uint64 `json:"elems"`
}

// NewBitArray returns a new bit array of the given size.
func NewBitArray(bits int) *BitArray {
	if bits <= 0 {
		return nil
	}
	return &BitArray{
		Bits:  bits,
		Elems: make([]uint64, (bits+63)/64),
	}
}

// Size returns the number of bits in the bit array.
func (bA *BitArray) Size() int {
	if bA == nil {
		return 0
	}
	return bA.Bits
}

// GetIndex returns the bit at index i within the bit array.
// The behavior is undefined if i >= bA.Bits.
func (bA *BitArray) GetIndex(i int) bool {
	if bA == nil {
		return false
	}
	bA.mtx.Lock()
	defer bA.mtx.Unlock()
	if i >= bA.Bits {
		return false
	}
	return bA.Elems[i/64]&(uint64(1)<<uint(i%64)) > 0
}

// SetIndex sets the bit at index i within the bit array.
// Returns true if and only if i < bA.Bits.
func (bA *BitArray) SetIndex(i int, v bool) bool {
	if bA == nil {
		return false
	}
	bA.mtx.Lock()
	defer bA.mtx.Unlock()
	if i >= bA.Bits {
		return false
	}
	if v {
		bA.Elems[i/64] |= uint64(1) << uint(i%64)
	} else {
		bA.Elems[i/64] &= ^(uint64(1) << uint(i%64))
	}
	return true
}

// Copy returns a copy of the provided bit array.
func (bA *BitArray) Copy() *BitArray {
	if bA == nil {
		return nil
	}
	bA.mtx.Lock()
	defer bA.mtx.Unlock()
	elems := make([]uint64, len(bA.Elems))
	copy(elems, bA.Elems)
	return &BitArray{
		Bits:  bA.Bits,
		Elems: elems,
	}
}

// String returns a string representation of BitArray: "x_x_x", where x is
// either 1 or _, representing a 1 or 0.
func (bA *BitArray) String() string {
	if bA == nil {
		return "nil-BitArray"
	}
	bA.mtx.Lock()
	defer bA.mtx.Unlock()
	var b strings.Builder
	for i := 0; i < bA.Bits; i++ {
		if bA.Elems[i/64]&(uint64(1)<<uint(i%64)) > 0 {
			b.WriteString("x")
		} else {
			b.WriteString("_")
		}
	}
	return b.String()
}
