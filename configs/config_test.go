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

package configs

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, DefaultConsensusConfig().ValidateBasic())
	require.NoError(t, TestConsensusConfig().ValidateBasic())
}

func TestValidateBasicRejectsNegativeTimeouts(t *testing.T) {
	fields := []string{
		"TimeoutPropose",
		"TimeoutProposeDelta",
		"TimeoutPrevote",
		"TimeoutPrevoteDelta",
		"TimeoutPrecommit",
		"TimeoutPrecommitDelta",
		"TimeoutCommit",
	}
	for _, field := range fields {
		cfg := DefaultConsensusConfig()
		reflect.ValueOf(cfg).Elem().FieldByName(field).SetInt(int64(-1))
		assert.Error(t, cfg.ValidateBasic(), "negative %s should not validate", field)
	}
}

func TestTimeoutsGrowWithRound(t *testing.T) {
	cfg := DefaultConsensusConfig()

	assert.Equal(t, cfg.TimeoutPropose, cfg.Propose(0))
	assert.Equal(t, cfg.TimeoutPropose+3*cfg.TimeoutProposeDelta, cfg.Propose(3))
	assert.True(t, cfg.Propose(1) < cfg.Propose(2))

	assert.Equal(t, cfg.TimeoutPrevote, cfg.Prevote(0))
	assert.True(t, cfg.Prevote(1) < cfg.Prevote(2))

	assert.Equal(t, cfg.TimeoutPrecommit, cfg.Precommit(0))
	assert.True(t, cfg.Precommit(1) < cfg.Precommit(2))
}

func TestCommitWait(t *testing.T) {
	cfg := DefaultConsensusConfig()
	now := time.Now()
	assert.True(t, cfg.Commit(now).Equal(now.Add(cfg.TimeoutCommit)))
}

func TestWalFile(t *testing.T) {
	cfg := DefaultConsensusConfig()
	cfg.RootDir = "/data"
	cfg.WalPath = filepath.Join("cs.wal", "wal")
	assert.Equal(t, filepath.Join("/data", "cs.wal", "wal"), cfg.WalFile())

	// an explicit override wins over the rooted path
	cfg.SetWalFile("/elsewhere/wal")
	assert.Equal(t, "/elsewhere/wal", cfg.WalFile())

	// absolute wal paths ignore the root
	cfg2 := DefaultConsensusConfig()
	cfg2.RootDir = "/data"
	cfg2.WalPath = "/abs/wal"
	assert.Equal(t, "/abs/wal", cfg2.WalFile())
}
