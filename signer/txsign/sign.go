// Copyright 2026 The btcsign Authors
// This file is part of the btcsign library.
//
// The btcsign library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The btcsign library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the btcsign library. If not, see <http://www.gnu.org/licenses/>.

// Package txsign implements the host side of the streamed transaction signing
// dialogue with a hardware signing device.
//
// The device never receives the transaction being signed, nor the previous
// transactions it spends, as a whole. Instead it asks for them piece by piece
// with TxRequest messages, and the host answers every request with a TxAck
// carrying exactly the requested element. Along the way the device streams
// back input signatures and fragments of the signed serialized transaction,
// which Sign collects and returns once the device reports it is finished.
package txsign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/messages"
	"github.com/ethereum/go-ethereum/log"
)

// RequestType is the kind of data the device asks for.
type RequestType = messages.RequestType

// Transport exchanges a single message with the device, blocking until the
// reply arrives. Implementations own any interaction the device needs on the
// side (button confirmations, PIN or passphrase entry) and only return the
// first message that is not such a prompt.
type Transport interface {
	Call(ctx context.Context, msg messages.Message) (messages.Message, error)
}

// Request is a transaction to sign together with everything the device may
// ask about it.
type Request struct {
	Coin    string             // Coin name as known by the device firmware
	Tx      *types.Transaction // Transaction to sign, with structured outputs
	PrevTxs prevtx.Cache       // Transactions spent by the inputs

	Preauthorized bool  // Sign within a previously authorized operation
	Serialize     *bool // Whether the device should stream the serialized tx

	// Progress, if set, is called before every answered request.
	Progress func(kind RequestType, index uint32)
}

// Result is the outcome of a successful signing session.
type Result struct {
	Signatures [][]byte // One per input, nil for externally signed inputs
	Serialized []byte   // Signed transaction in raw encoding
}

type state int

const (
	awaitingResponse state = iota
	dispatching
	finished
	failed
)

// session is a single run of the signing dialogue.
type session struct {
	transport Transport
	req       *Request
	table     *table
	state     state
	log       log.Logger
}

// Sign runs the signing dialogue for req over the transport. The transport
// must be exclusively owned by the caller for the whole session.
//
// Either the complete result or an error is returned, never partial results.
// Device failures are reported as *DeviceError, everything else as one of the
// package's sentinel errors.
func Sign(ctx context.Context, t Transport, req *Request) (*Result, error) {
	if req.Tx == nil {
		return nil, errors.New("no transaction to sign")
	}
	if err := req.Tx.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	s := &session{
		transport: t,
		req:       req,
		table:     newTable(req.Tx),
		log:       log.New("coin", req.Coin, "inputs", len(req.Tx.Inputs), "outputs", len(req.Tx.Outputs)),
	}
	start := time.Now()
	s.log.Debug("Signing session started", "preauthorized", req.Preauthorized)

	if err := s.run(ctx); err != nil {
		s.log.Debug("Signing session failed", "elapsed", time.Since(start), "err", err)
		return nil, err
	}
	sigs, raw := s.table.finalize()
	s.log.Debug("Signing session finished", "elapsed", time.Since(start), "size", len(raw))
	return &Result{Signatures: sigs, Serialized: raw}, nil
}

func (s *session) run(ctx context.Context) error {
	if s.req.Preauthorized {
		if err := s.preauthorize(ctx); err != nil {
			s.state = failed
			return err
		}
	}
	var (
		msg messages.Message = s.signTx()
		res messages.Message
		err error
	)
	s.state = awaitingResponse
	for s.state != finished && s.state != failed {
		switch s.state {
		case awaitingResponse:
			if res, err = s.call(ctx, msg); err != nil {
				s.state = failed
				continue
			}
			s.state = dispatching

		case dispatching:
			var ack *messages.TxAck
			if ack, err = s.handle(res); err != nil {
				s.state = failed
				continue
			}
			if ack == nil {
				s.state = finished
				continue
			}
			msg, s.state = ack, awaitingResponse
		}
	}
	if s.state == failed {
		return err
	}
	if missing := s.table.missing(); len(missing) > 0 {
		return fmt.Errorf("%w: inputs %v", ErrIncompleteSignatures, missing)
	}
	return nil
}

// preauthorize enters a previously authorized operation on the device.
func (s *session) preauthorize(ctx context.Context) error {
	res, err := s.call(ctx, &messages.DoPreauthorized{})
	if err != nil {
		return err
	}
	if _, ok := res.(*messages.PreauthorizedRequest); !ok {
		return violation("expected PreauthorizedRequest, got %v", res.Type())
	}
	return nil
}

// signTx assembles the message opening the dialogue. A zero version or lock
// time is left to the device's defaults.
func (s *session) signTx() *messages.SignTx {
	tx := s.req.Tx
	msg := &messages.SignTx{
		CoinName:     s.req.Coin,
		InputsCount:  tx.InputsCount(),
		OutputsCount: tx.OutputsCount(),
		Expiry:       tx.Expiry,
		Timestamp:    tx.Timestamp,
		Serialize:    s.req.Serialize,
	}
	msg.Version = headerField(tx.Version, true)
	msg.LockTime = headerField(tx.LockTime, true)
	return msg
}

// call sends a message to the device and waits for the reply, translating
// device failures and cancellations into the package's errors.
func (s *session) call(ctx context.Context, msg messages.Message) (messages.Message, error) {
	res, err := s.transport.Call(ctx, msg)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return nil, err
	}
	if failure, ok := res.(*messages.Failure); ok {
		return nil, &DeviceError{Code: failure.Code, Message: failure.Message}
	}
	return res, nil
}

// handle processes a single TxRequest, collecting the results it carries and
// building the acknowledgement. A nil ack means the dialogue is finished.
func (s *session) handle(res messages.Message) (*messages.TxAck, error) {
	req, ok := res.(*messages.TxRequest)
	if !ok {
		return nil, violation("expected TxRequest, got %v", res.Type())
	}
	if ser := req.Serialized; ser != nil {
		if len(ser.SerializedTx) > 0 {
			s.table.append(ser.SerializedTx)
		}
		if ser.SignatureIndex != nil {
			if err := s.table.record(*ser.SignatureIndex, ser.Signature); err != nil {
				return nil, err
			}
		}
	}
	if req.RequestType == messages.RequestFinished {
		return nil, nil
	}
	tx, err := s.resolve(req.PrevHash())
	if err != nil {
		return nil, err
	}
	s.log.Trace("Device requested data", "type", req.RequestType, "index", req.Index(), "prev", req.PrevHash())
	if s.req.Progress != nil {
		s.req.Progress(req.RequestType, req.Index())
	}
	var (
		index = req.Index()
		prev  = req.PrevHash() != nil
		ack   = new(messages.TransactionType)
	)
	switch req.RequestType {
	case messages.RequestMeta:
		ack = metaOf(tx, !prev)

	case messages.RequestInput, messages.RequestOrigInput:
		if uint64(index) >= uint64(len(tx.Inputs)) {
			return nil, violation("%v index %d out of range, %d inputs", req.RequestType, index, len(tx.Inputs))
		}
		ack.Inputs = []*types.TxInput{tx.Inputs[index]}

	case messages.RequestOutput:
		if prev {
			if uint64(index) >= uint64(len(tx.BinOutputs)) {
				return nil, violation("%v index %d out of range, %d serialized outputs", req.RequestType, index, len(tx.BinOutputs))
			}
			ack.BinOutputs = []*types.TxOutputBin{tx.BinOutputs[index]}
			break
		}
		if uint64(index) >= uint64(len(tx.Outputs)) {
			return nil, violation("%v index %d out of range, %d outputs", req.RequestType, index, len(tx.Outputs))
		}
		ack.Outputs = []*types.TxOutput{tx.Outputs[index]}

	case messages.RequestOrigOutput:
		if uint64(index) >= uint64(len(tx.Outputs)) {
			return nil, violation("%v index %d out of range, %d outputs", req.RequestType, index, len(tx.Outputs))
		}
		ack.Outputs = []*types.TxOutput{tx.Outputs[index]}

	case messages.RequestExtraData:
		details := req.Details
		if details == nil || details.ExtraDataOffset == nil || details.ExtraDataLen == nil {
			return nil, violation("extra data request without window")
		}
		start, end := uint64(*details.ExtraDataOffset), uint64(*details.ExtraDataOffset)+uint64(*details.ExtraDataLen)
		if end > uint64(len(tx.ExtraData)) {
			return nil, violation("extra data window [%d, %d) outside %d bytes", start, end, len(tx.ExtraData))
		}
		ack.ExtraData = tx.ExtraData[start:end]

	default:
		return nil, violation("unknown request type %v", req.RequestType)
	}
	return &messages.TxAck{Tx: ack}, nil
}

// resolve returns the transaction a request refers to: the one being signed
// if no hash is given, a previous one from the cache otherwise.
func (s *session) resolve(hash *types.Hash) (*types.Transaction, error) {
	if hash == nil {
		return s.req.Tx, nil
	}
	if s.req.PrevTxs == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPrevTx, *hash)
	}
	tx, err := s.req.PrevTxs.Lookup(*hash)
	if errors.Is(err, prevtx.ErrUnknown) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPrevTx, *hash)
	}
	if err != nil {
		return nil, fmt.Errorf("previous transaction %v: %w", *hash, err)
	}
	return tx, nil
}

// metaOf builds the header of a transaction: version, lock time and element
// counts. Neither the element slices nor coin specific header fields are
// carried. For the transaction being signed a zero version or lock time is
// omitted, matching what SignTx announced.
func metaOf(tx *types.Transaction, signing bool) *messages.TransactionType {
	var (
		inputs  = tx.InputsCount()
		outputs = tx.OutputsCount()
		extra   = tx.ExtraDataLen()
	)
	return &messages.TransactionType{
		Version:      headerField(tx.Version, signing),
		LockTime:     headerField(tx.LockTime, signing),
		InputsCnt:    &inputs,
		OutputsCnt:   &outputs,
		ExtraDataLen: &extra,
	}
}

// headerField returns a pointer to a copy of v, or nil if v is zero and may
// be left to the device's default.
func headerField(v uint32, omitZero bool) *uint32 {
	if v == 0 && omitZero {
		return nil
	}
	return &v
}
