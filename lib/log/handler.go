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

package log

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	timeFormat = "2006-01-02T15:04:05-0700"
	errorKey   = "LOG_ERROR"
)

// Handler interface defines where and how log records are written.
// A Logger prints its log records by writing to a Handler.
type Handler interface {
	Log(r *Record) error
}

// FuncHandler returns a Handler that logs records with the given function.
func FuncHandler(fn func(r *Record) error) Handler {
	return funcHandler(fn)
}

type funcHandler func(r *Record) error

func (h funcHandler) Log(r *Record) error {
	return h(r)
}

// StreamHandler writes log records to an io.Writer in logfmt. StreamHandler
// wraps itself with LazyHandler-free synchronization so it can be used
// concurrently.
func StreamHandler(wr io.Writer) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) error {
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(wr, "%s[%s|%s] %s%s\n",
			r.Lvl, r.Time.Format(timeFormat), r.Call, r.Msg, formatCtx(r.Ctx))
		return err
	})
}

// LvlFilterHandler returns a Handler that only writes records which are
// less than the given verbosity level to the wrapped Handler.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return FuncHandler(func(r *Record) error {
		if r.Lvl <= maxLvl {
			return h.Log(r)
		}
		return nil
	})
}

// DiscardHandler reports success for all writes but does nothing.
// It is useful for dynamically disabling logging at runtime.
func DiscardHandler() Handler {
	return FuncHandler(func(r *Record) error {
		return nil
	})
}

func formatCtx(ctx []interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	s := ""
	for i := 0; i < len(ctx)-1; i += 2 {
		k, ok := ctx[i].(string)
		if !ok {
			k = errorKey
		}
		s += fmt.Sprintf(" %s=%v", k, formatValue(ctx[i+1]))
	}
	return s
}

func formatValue(value interface{}) interface{} {
	if s, ok := value.(interface{ TerminalString() string }); ok {
		return s.TerminalString()
	}
	return value
}

// swapHandler wraps another handler that may be swapped out dynamically
// at runtime in a thread-safe fashion.
type swapHandler struct {
	handler atomic.Value
}

func (h *swapHandler) Log(r *Record) error {
	return (*h.handler.Load().(*Handler)).Log(r)
}

func (h *swapHandler) Swap(newHandler Handler) {
	h.handler.Store(&newHandler)
}

func (h *swapHandler) Get() Handler {
	return *h.handler.Load().(*Handler)
}
