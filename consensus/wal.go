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
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	cstypes "github.com/kardiachain/go-bft/consensus/types"
	"github.com/kardiachain/go-bft/lib/log"
	"github.com/kardiachain/go-bft/types"
)

const (
	// time.Time + max consensus msg size
	maxMsgSizeBytes = 1024 * 1024 // 1MB

	walFileMode = 0600
)

//--------------------------------------------------------
// types and functions for savings consensus messages

// WALMessage is one of msgInfo, timeoutInfo or EndHeightMessage.
type WALMessage interface{}

// TimedWALMessage wraps WALMessage and adds Time for debugging purposes.
type TimedWALMessage struct {
	Time time.Time
	Msg  WALMessage
}

// EndHeightMessage marks the end of the given height inside the WAL.
// Everything before it for that height is known to be decided.
type EndHeightMessage struct {
	Height uint64
}

//--------------------------------------------------------
// Simple write-ahead logger

// WAL is an interface for any write-ahead logger.
type WAL interface {
	Write(WALMessage) error
	WriteSync(WALMessage) error
	FlushAndSync() error

	// SearchForEndHeight returns a decoder positioned right after the
	// EndHeightMessage for height-1, so replaying it feeds back exactly the
	// unfinished height.
	SearchForEndHeight(height uint64) (rd io.ReadCloser, found bool, err error)

	Start() error
	Stop() error
}

// baseWAL writes consensus messages to disk before they are processed.
// It is used to recover the in-memory round state after a crash: on
// restart the tail of the log past the last EndHeightMessage is replayed
// through the same handlers that wrote it.
type baseWAL struct {
	logger log.Logger

	path string
	file *os.File
	buf  *bufio.Writer
	enc  *WALEncoder
}

var _ WAL = (*baseWAL)(nil)

// NewWAL returns a WAL backed by the file at the given path. The containing
// directory is created if missing.
func NewWAL(walPath string) (*baseWAL, error) {
	if err := os.MkdirAll(filepath.Dir(walPath), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create WAL directory")
	}
	return &baseWAL{
		logger: log.New("module", "wal"),
		path:   walPath,
	}, nil
}

// SetLogger replaces the WAL's logger.
func (wal *baseWAL) SetLogger(l log.Logger) {
	wal.logger = l
}

// Start opens the backing file for appending.
func (wal *baseWAL) Start() error {
	file, err := os.OpenFile(wal.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, walFileMode)
	if err != nil {
		return errors.Wrapf(err, "failed to open WAL file %s", wal.path)
	}
	wal.file = file
	wal.buf = bufio.NewWriter(file)
	wal.enc = NewWALEncoder(wal.buf)
	return nil
}

// Stop flushes pending writes and closes the file.
func (wal *baseWAL) Stop() error {
	if wal.file == nil {
		return nil
	}
	if err := wal.FlushAndSync(); err != nil {
		wal.logger.Error("WAL flush on stop failed", "err", err)
	}
	err := wal.file.Close()
	wal.file = nil
	return err
}

// FlushAndSync flushes the buffer and fsyncs the file.
func (wal *baseWAL) FlushAndSync() error {
	if err := wal.buf.Flush(); err != nil {
		return err
	}
	return wal.file.Sync()
}

// Write is called for each receive on the peerMsgQueue and the
// timeoutTicker.
// NOTE: does not call fsync()
func (wal *baseWAL) Write(msg WALMessage) error {
	if wal == nil || wal.enc == nil {
		return nil
	}
	if err := wal.enc.Encode(&TimedWALMessage{Time: time.Now(), Msg: msg}); err != nil {
		wal.logger.Error("Error writing msg to consensus wal. WARNING: recovery may not be possible for the current height",
			"err", err, "msg", msg)
		return err
	}
	return nil
}

// WriteSync is called when we receive a msg from ourselves
// so that we write to disk before sending signed messages.
// NOTE: calls fsync()
func (wal *baseWAL) WriteSync(msg WALMessage) error {
	if wal == nil || wal.enc == nil {
		return nil
	}
	if err := wal.Write(msg); err != nil {
		return err
	}
	if err := wal.FlushAndSync(); err != nil {
		wal.logger.Error("WriteSync failed to flush consensus wal. WARNING: may result in creating alternative proposals / votes for the current height iff the node restarted",
			"err", err)
		return err
	}
	return nil
}

// SearchForEndHeight scans the log for the EndHeightMessage of height-1 and
// returns a reader positioned right after it. For height 1 (or an empty
// log) the reader starts at the beginning and found is true.
func (wal *baseWAL) SearchForEndHeight(height uint64) (rd io.ReadCloser, found bool, err error) {
	file, err := os.OpenFile(wal.path, os.O_CREATE|os.O_RDONLY, walFileMode)
	if err != nil {
		return nil, false, err
	}
	if height <= 1 {
		return file, true, nil
	}
	wantHeight := height - 1

	dec := NewWALDecoder(file)
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if IsDataCorruptionError(err) {
			// A torn tail hides no markers worth finding.
			break
		}
		if err != nil {
			file.Close()
			return nil, false, err
		}
		if m, ok := msg.Msg.(EndHeightMessage); ok && m.Height == wantHeight {
			return file, true, nil
		}
	}
	file.Close()
	return nil, false, nil
}

///////////////////////////////////////////////////////////////////////////////
// WALEncoder / WALDecoder

// walEnvelope is the serialized form of a TimedWALMessage. Data holds the
// rlp encoding of the concrete message named by Type.
type walEnvelope struct {
	TimeNS   uint64
	Type     uint8
	Internal bool
	Data     []byte
}

const (
	walTypeEndHeight  = uint8(0x01)
	walTypeTimeout    = uint8(0x02)
	walTypeProposal   = uint8(0x03)
	walTypeVote       = uint8(0x04)
	walTypeFeed       = uint8(0x05)
	walTypeStatus     = uint8(0x06)
	walTypeVerifyResp = uint8(0x07)
)

type walEndHeight struct {
	Height uint64
}

type walTimeout struct {
	DurationNS uint64
	Height     uint64
	Round      uint32
	Step       uint8
}

type walStatus struct {
	Height     uint64
	Interval   uint64
	Validators []*types.Validator
}

func envelopeFromMessage(tm *TimedWALMessage) (*walEnvelope, error) {
	env := &walEnvelope{TimeNS: uint64(tm.Time.UnixNano())}

	var body interface{}
	switch msg := tm.Msg.(type) {
	case EndHeightMessage:
		env.Type = walTypeEndHeight
		body = walEndHeight{Height: msg.Height}
	case timeoutInfo:
		env.Type = walTypeTimeout
		body = walTimeout{
			DurationNS: uint64(msg.Duration.Nanoseconds()),
			Height:     msg.Height,
			Round:      msg.Round,
			Step:       uint8(msg.Step),
		}
	case msgInfo:
		env.Internal = msg.Internal
		switch inner := msg.Msg.(type) {
		case *ProposalMessage:
			env.Type = walTypeProposal
			body = inner.Proposal
		case *VoteMessage:
			env.Type = walTypeVote
			body = inner.Vote
		case *FeedMessage:
			env.Type = walTypeFeed
			body = inner.Feed
		case *StatusMessage:
			env.Type = walTypeStatus
			body = walStatus{
				Height:     inner.Status.Height,
				Interval:   inner.Status.Interval,
				Validators: inner.Status.Validators.Validators,
			}
		case *VerifyRespMessage:
			env.Type = walTypeVerifyResp
			body = inner.Resp
		default:
			return nil, fmt.Errorf("unknown msgInfo payload %T", inner)
		}
	default:
		return nil, fmt.Errorf("unknown WALMessage %T", msg)
	}

	data, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return env, nil
}

func messageFromEnvelope(env *walEnvelope) (*TimedWALMessage, error) {
	tm := &TimedWALMessage{Time: time.Unix(0, int64(env.TimeNS))}

	switch env.Type {
	case walTypeEndHeight:
		var body walEndHeight
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = EndHeightMessage{Height: body.Height}
	case walTypeTimeout:
		var body walTimeout
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = timeoutInfo{
			Duration: time.Duration(body.DurationNS),
			Height:   body.Height,
			Round:    body.Round,
			Step:     cstypes.RoundStepType(body.Step),
		}
	case walTypeProposal:
		var body types.Proposal
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = msgInfo{Msg: &ProposalMessage{Proposal: &body}, Internal: env.Internal}
	case walTypeVote:
		var body types.Vote
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = msgInfo{Msg: &VoteMessage{Vote: &body}, Internal: env.Internal}
	case walTypeFeed:
		var body types.Feed
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = msgInfo{Msg: &FeedMessage{Feed: &body}, Internal: env.Internal}
	case walTypeStatus:
		var body walStatus
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		status := &types.Status{
			Height:     body.Height,
			Interval:   body.Interval,
			Validators: types.NewValidatorSet(body.Validators),
		}
		tm.Msg = msgInfo{Msg: &StatusMessage{Status: status}, Internal: env.Internal}
	case walTypeVerifyResp:
		var body types.VerifyResp
		if err := rlp.DecodeBytes(env.Data, &body); err != nil {
			return nil, err
		}
		tm.Msg = msgInfo{Msg: &VerifyRespMessage{Resp: &body}, Internal: env.Internal}
	default:
		return nil, fmt.Errorf("unknown WAL record type %X", env.Type)
	}
	return tm, nil
}

// WALEncoder writes framed, checksummed records to an underlying writer.
// Frame format: 4 bytes crc32c | 4 bytes length | rlp(walEnvelope).
type WALEncoder struct {
	wr io.Writer
}

// NewWALEncoder returns a new encoder on top of the given writer.
func NewWALEncoder(wr io.Writer) *WALEncoder {
	return &WALEncoder{wr: wr}
}

// Encode writes the custom encoding of v to the stream.
func (enc *WALEncoder) Encode(v *TimedWALMessage) error {
	env, err := envelopeFromMessage(v)
	if err != nil {
		return err
	}
	data, err := rlp.EncodeToBytes(env)
	if err != nil {
		return err
	}

	crc := crc32.Checksum(data, crc32c)
	length := uint32(len(data))
	if length > maxMsgSizeBytes {
		return fmt.Errorf("msg is too big: %d bytes, max: %d bytes", length, maxMsgSizeBytes)
	}

	frame := make([]byte, 8+length)
	binary.BigEndian.PutUint32(frame[0:4], crc)
	binary.BigEndian.PutUint32(frame[4:8], length)
	copy(frame[8:], data)

	_, err = enc.wr.Write(frame)
	return err
}

// IsDataCorruptionError returns true if data has been corrupted inside WAL.
func IsDataCorruptionError(err error) bool {
	_, ok := err.(DataCorruptionError)
	return ok
}

// DataCorruptionError is an error that occures if data on disk was corrupted.
type DataCorruptionError struct {
	cause error
}

func (e DataCorruptionError) Error() string {
	return fmt.Sprintf("DataCorruptionError[%v]", e.cause)
}

func (e DataCorruptionError) Cause() error {
	return e.cause
}

// crc32c is the table for the Castagnoli polynomial.
var crc32c = crc32.MakeTable(crc32.Castagnoli)

// WALDecoder reads and verifies consecutive records from a reader. A
// truncated or corrupted tail surfaces as a DataCorruptionError, which
// replay treats as the end of usable history.
type WALDecoder struct {
	rd io.Reader
}

// NewWALDecoder returns a new decoder on top of the given reader.
func NewWALDecoder(rd io.Reader) *WALDecoder {
	return &WALDecoder{rd: rd}
}

// Decode reads the next record. Returns io.EOF on a clean end of stream.
func (dec *WALDecoder) Decode() (*TimedWALMessage, error) {
	b := make([]byte, 4)

	_, err := dec.rd.Read(b)
	if err == io.EOF {
		return nil, err
	}
	if err != nil {
		return nil, DataCorruptionError{errors.Wrap(err, "failed to read checksum")}
	}
	crc := binary.BigEndian.Uint32(b)

	b = make([]byte, 4)
	_, err = dec.rd.Read(b)
	if err != nil {
		return nil, DataCorruptionError{errors.Wrap(err, "failed to read length")}
	}
	length := binary.BigEndian.Uint32(b)

	if length > maxMsgSizeBytes {
		return nil, DataCorruptionError{fmt.Errorf("length %d exceeded maximum possible value of %d bytes", length, maxMsgSizeBytes)}
	}

	data := make([]byte, length)
	n, err := io.ReadFull(dec.rd, data)
	if err != nil {
		return nil, DataCorruptionError{fmt.Errorf("failed to read data: %v (read: %d, wanted: %d)", err, n, length)}
	}

	// stop checking data corruption after this point
	if actualCRC := crc32.Checksum(data, crc32c); actualCRC != crc {
		return nil, DataCorruptionError{fmt.Errorf("checksums do not match: read: %v, actual: %v", crc, actualCRC)}
	}

	var env walEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, DataCorruptionError{errors.Wrap(err, "failed to decode envelope")}
	}
	msg, err := messageFromEnvelope(&env)
	if err != nil {
		return nil, DataCorruptionError{errors.Wrap(err, "failed to decode record body")}
	}
	return msg, nil
}

// nilWAL is a WAL that does nothing, used before the real one is started
// and in tests that don't care about persistence.
type nilWAL struct{}

var _ WAL = nilWAL{}

func (nilWAL) Write(m WALMessage) error     { return nil }
func (nilWAL) WriteSync(m WALMessage) error { return nil }
func (nilWAL) FlushAndSync() error          { return nil }
func (nilWAL) SearchForEndHeight(height uint64) (rd io.ReadCloser, found bool, err error) {
	return nil, false, nil
}
func (nilWAL) Start() error { return nil }
func (nilWAL) Stop() error  { return nil }
