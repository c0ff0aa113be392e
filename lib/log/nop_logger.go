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

type nopLogger struct{}

// Interface assertions
var _ Logger = (*nopLogger)(nil)

// NewNopLogger returns a logger that doesn't do anything.
func NewNopLogger() Logger { return &nopLogger{} }

func (l *nopLogger) New(ctx ...interface{}) Logger     { return l }
func (nopLogger) AddTag(tag string)                    {}
func (nopLogger) GetHandler() Handler                  { return nil }
func (nopLogger) SetHandler(h Handler)                 {}
func (nopLogger) Trace(msg string, ctx ...interface{}) {}
func (nopLogger) Debug(msg string, ctx ...interface{}) {}
func (nopLogger) Info(msg string, ctx ...interface{})  {}
func (nopLogger) Warn(msg string, ctx ...interface{})  {}
func (nopLogger) Error(msg string, ctx ...interface{}) {}
func (nopLogger) Crit(msg string, ctx ...interface{})  {}
