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

// Package evidence collects proof of validator misbehavior observed by the
// consensus machine, for the host to punish out of band.
package evidence

import (
	"fmt"
	"sync"

	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

// Pool accumulates verified evidence until the host retrieves it.
type Pool struct {
	logger log.Logger

	mtx     sync.Mutex
	pending []types.Evidence
	seen    map[string]struct{}
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		logger: log.New("module", "evidence"),
		seen:   make(map[string]struct{}),
	}
}

// SetLogger replaces the pool's logger.
func (evpool *Pool) SetLogger(l log.Logger) {
	evpool.logger = l
}

// AddEvidence validates the evidence and adds it to the pool, skipping
// anything already recorded.
func (evpool *Pool) AddEvidence(ev types.Evidence) error {
	if err := ev.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid evidence: %v", err)
	}

	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	key := evKey(ev)
	if _, ok := evpool.seen[key]; ok {
		return nil
	}
	evpool.seen[key] = struct{}{}
	evpool.pending = append(evpool.pending, ev)
	evpool.logger.Info("Recorded evidence", "evidence", ev)
	return nil
}

// PendingEvidence returns all evidence not yet pruned.
func (evpool *Pool) PendingEvidence() []types.Evidence {
	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()
	evs := make([]types.Evidence, len(evpool.pending))
	copy(evs, evpool.pending)
	return evs
}

// Update prunes evidence from heights at or below the finalized height.
func (evpool *Pool) Update(finalizedHeight uint64) {
	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()

	kept := evpool.pending[:0]
	for _, ev := range evpool.pending {
		if ev.Height() > finalizedHeight {
			kept = append(kept, ev)
			continue
		}
		delete(evpool.seen, evKey(ev))
	}
	evpool.pending = kept
}

// Size returns the number of pending evidence items.
func (evpool *Pool) Size() int {
	evpool.mtx.Lock()
	defer evpool.mtx.Unlock()
	return len(evpool.pending)
}

func evKey(ev types.Evidence) string {
	return fmt.Sprintf("%d/%s/%s", ev.Height(), ev.Address().Hex(), ev.String())
}
