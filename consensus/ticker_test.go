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

package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cstypes "github.com/kardiachain/go-bft/consensus/types"
)

func TestTickerFires(t *testing.T) {
	ticker := NewTimeoutTicker()
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 5 * time.Millisecond,
		Height:   1,
		Round:    0,
		Step:     cstypes.RoundStepPropose,
	})

	select {
	case ti := <-ticker.Chan():
		assert.Equal(t, uint64(1), ti.Height)
		assert.Equal(t, cstypes.RoundStepPropose, ti.Step)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTickerIgnoresStaleSchedules(t *testing.T) {
	ticker := NewTimeoutTicker()
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	// Arm a later position first...
	ticker.ScheduleTimeout(timeoutInfo{
		Duration: 30 * time.Millisecond,
		Height:   2,
		Round:    1,
		Step:     cstypes.RoundStepPrevote,
	})
	// ...then try to replace it with older ones. All must be ignored.
	ticker.ScheduleTimeout(timeoutInfo{Duration: time.Millisecond, Height: 1, Round: 5, Step: cstypes.RoundStepPrecommit})
	ticker.ScheduleTimeout(timeoutInfo{Duration: time.Millisecond, Height: 2, Round: 0, Step: cstypes.RoundStepPrecommit})
	ticker.ScheduleTimeout(timeoutInfo{Duration: time.Millisecond, Height: 2, Round: 1, Step: cstypes.RoundStepPropose})

	select {
	case ti := <-ticker.Chan():
		assert.Equal(t, uint64(2), ti.Height)
		assert.Equal(t, uint32(1), ti.Round)
		assert.Equal(t, cstypes.RoundStepPrevote, ti.Step)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

// After a timeout fires, the same round can still arm a timer at a later
// step. The verification grace period depends on this.
func TestTickerRearmsAtLaterStepAfterFiring(t *testing.T) {
	ticker := NewTimeoutTicker()
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	ticker.ScheduleTimeout(timeoutInfo{Duration: time.Millisecond, Height: 1, Round: 0, Step: cstypes.RoundStepPrevote})
	select {
	case <-ticker.Chan():
	case <-time.After(time.Second):
		t.Fatal("first timeout never fired")
	}

	ticker.ScheduleTimeout(timeoutInfo{Duration: time.Millisecond, Height: 1, Round: 0, Step: cstypes.RoundStepPrevoteWait})
	select {
	case ti := <-ticker.Chan():
		assert.Equal(t, cstypes.RoundStepPrevoteWait, ti.Step)
	case <-time.After(time.Second):
		t.Fatal("re-armed timeout was swallowed")
	}
}

func TestTickerReplacedByLaterStep(t *testing.T) {
	ticker := NewTimeoutTicker()
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	// A long timer is superseded by a short one for a later step.
	ticker.ScheduleTimeout(timeoutInfo{Duration: 10 * time.Second, Height: 1, Round: 0, Step: cstypes.RoundStepPropose})
	ticker.ScheduleTimeout(timeoutInfo{Duration: 5 * time.Millisecond, Height: 1, Round: 0, Step: cstypes.RoundStepPrevote})

	select {
	case ti := <-ticker.Chan():
		assert.Equal(t, cstypes.RoundStepPrevote, ti.Step)
	case <-time.After(time.Second):
		t.Fatal("replacement timeout never fired")
	}
}
