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

package txsign

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/messages"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// opReturnTx is the signed transaction a device produces for opReturnSpend.
	opReturnTx = "010000000182488650ef25a58fef6788bd71b8212038d7f2bbe4750bc7bcb44701e85ef6d5" +
		"000000006b483045022100bc36e1227b334e856c532bbef86d30a96823a5f2461738f4dbf969dfbcf1b40b" +
		"022078c5353ec9a4bce2bb05bd1ec466f2ab379c1aad926e208738407bba4e09784b012103330236b68aa6" +
		"fdcaca0ea72e11b360c84ed19a338509aa527b678a7ec9076882ffffffff0260cc0500000000001976a914" +
		"de9b2a8da088824e8fe51debea566617d851537888ac00000000000000001c6a1a74657374206f66207468" +
		"65206f705f72657475726e206461746100000000"
	opReturnPrev = "d5f65ee80147b4bcc70b75e4bbf2d7382021b871bd8867ef8fa525ef50864882"
)

var path = []uint32{0x8000002c, 0x80000000, 0x80000000, 0, 2}

// step is a single exchange of a scripted device: the reply to send and an
// optional check of the message that triggered it.
type step struct {
	reply messages.Message
	check func(t *testing.T, msg messages.Message)
}

// scriptedDevice replays a fixed conversation. Every message crosses the wire
// codec in both directions, as it would with a real transport.
type scriptedDevice struct {
	t     *testing.T
	steps []step
	sent  []messages.Message
}

func (d *scriptedDevice) Call(ctx context.Context, msg messages.Message) (messages.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sent, err := messages.Unmarshal(msg.Type(), messages.Marshal(msg))
	if err != nil {
		return nil, err
	}
	d.sent = append(d.sent, sent)
	if len(d.sent) > len(d.steps) {
		return nil, fmt.Errorf("script exhausted at %v", msg.Type())
	}
	step := d.steps[len(d.sent)-1]
	if step.check != nil {
		step.check(d.t, sent)
	}
	return messages.Unmarshal(step.reply.Type(), messages.Marshal(step.reply))
}

// acks returns the transactions carried by the TxAcks the host sent.
func (d *scriptedDevice) acks() []*messages.TransactionType {
	var acks []*messages.TransactionType
	for _, msg := range d.sent {
		if ack, ok := msg.(*messages.TxAck); ok {
			acks = append(acks, ack.Tx)
		}
	}
	return acks
}

func request(kind messages.RequestType, index uint32, prev *types.Hash) *messages.TxRequest {
	return &messages.TxRequest{
		RequestType: kind,
		Details:     &messages.TxRequestDetails{RequestIndex: index, TxHash: prev},
	}
}

func withFragment(req *messages.TxRequest, fragment []byte) *messages.TxRequest {
	if req.Serialized == nil {
		req.Serialized = new(messages.TxRequestSerialized)
	}
	req.Serialized.SerializedTx = fragment
	return req
}

func withSignature(req *messages.TxRequest, index uint32, sig []byte) *messages.TxRequest {
	if req.Serialized == nil {
		req.Serialized = new(messages.TxRequestSerialized)
	}
	req.Serialized.SignatureIndex = &index
	req.Serialized.Signature = sig
	return req
}

func finishedRequest() *messages.TxRequest {
	return &messages.TxRequest{RequestType: messages.RequestFinished}
}

func replies(msgs ...messages.Message) []step {
	steps := make([]step, len(msgs))
	for i, msg := range msgs {
		steps[i] = step{reply: msg}
	}
	return steps
}

// opReturnSpend returns the transaction spending d5f65e..:0 into a P2PKH
// output and an OP_RETURN output, plus a cache holding a stand-in for the
// spent transaction.
func opReturnSpend(t *testing.T) (*types.Transaction, prevtx.Map, types.Hash) {
	prevHash, err := types.HexToHash(opReturnPrev)
	require.NoError(t, err)

	tx := &types.Transaction{
		Inputs: []*types.TxInput{{
			AddressN:   path,
			PrevHash:   prevHash,
			PrevIndex:  0,
			Amount:     390000,
			Sequence:   types.DefaultSequence,
			ScriptType: types.SpendAddress,
		}},
		Outputs: []*types.TxOutput{{
			Address:    "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1",
			Amount:     380000,
			ScriptType: types.PayToAddress,
		}, {
			OpReturnData: []byte("test of the op_return data"),
			ScriptType:   types.PayToOpReturn,
		}},
	}
	prev := &types.Transaction{
		Version: 1,
		Inputs: []*types.TxInput{
			{PrevHash: types.Hash{1}, PrevIndex: 1, ScriptSig: []byte{0x51}, Sequence: types.DefaultSequence},
			{PrevHash: types.Hash{2}, PrevIndex: 0, ScriptSig: []byte{0x52}, Sequence: types.DefaultSequence},
		},
		BinOutputs: []*types.TxOutputBin{{
			Amount:       390000,
			ScriptPubKey: []byte{0x76, 0xa9, 0x14},
		}},
	}
	return tx, prevtx.Map{prevHash: prev}, prevHash
}

// opReturnDevice scripts the conversation of a device signing opReturnSpend,
// streaming the signed transaction back in three fragments.
func opReturnDevice(t *testing.T, prevHash types.Hash) (*scriptedDevice, []byte) {
	raw, err := hex.DecodeString(opReturnTx)
	require.NoError(t, err)
	signed, err := types.DecodeLegacy(raw)
	require.NoError(t, err)

	script := signed.Inputs[0].ScriptSig
	sig := script[1 : 1+int(script[0])-1] // Push minus the sighash byte

	return &scriptedDevice{t: t, steps: replies(
		request(messages.RequestInput, 0, nil),
		request(messages.RequestOutput, 0, nil),
		request(messages.RequestOutput, 1, nil),
		request(messages.RequestInput, 0, nil),
		request(messages.RequestMeta, 0, &prevHash),
		request(messages.RequestInput, 0, &prevHash),
		request(messages.RequestInput, 1, &prevHash),
		request(messages.RequestOutput, 0, &prevHash),
		request(messages.RequestInput, 0, nil),
		request(messages.RequestOutput, 0, nil),
		request(messages.RequestOutput, 1, nil),
		withSignature(withFragment(request(messages.RequestOutput, 0, nil), raw[:153]), 0, sig),
		withFragment(request(messages.RequestOutput, 1, nil), raw[153:188]),
		withFragment(finishedRequest(), raw[188:]),
	)}, sig
}

func TestSignOpReturn(t *testing.T) {
	tx, cache, prevHash := opReturnSpend(t)
	device, sig := opReturnDevice(t, prevHash)

	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	require.NoError(t, err)

	assert.Equal(t, opReturnTx, hex.EncodeToString(res.Serialized))
	require.Len(t, res.Signatures, 1)
	assert.Equal(t, sig, res.Signatures[0])

	// The dialogue opens with the counts and the coin only
	open, ok := device.sent[0].(*messages.SignTx)
	require.True(t, ok)
	assert.Equal(t, "080210011a07426974636f696e", hex.EncodeToString(messages.Marshal(open)))

	acks := device.acks()
	require.Len(t, acks, 13)
	assert.Equal(t, tx.Inputs[0].PrevHash, acks[0].Inputs[0].PrevHash)
	assert.Equal(t, []byte("test of the op_return data"), acks[2].Outputs[0].OpReturnData)

	// Previous transaction header and elements
	meta := acks[4]
	assert.Equal(t, uint32(1), *meta.Version)
	assert.Equal(t, uint32(2), *meta.InputsCnt)
	assert.Equal(t, uint32(1), *meta.OutputsCnt)
	assert.Empty(t, meta.Inputs)
	assert.Empty(t, meta.BinOutputs)
	assert.Empty(t, meta.Outputs)
	assert.Equal(t, []byte{0x52}, acks[6].Inputs[0].ScriptSig)
	require.Len(t, acks[7].BinOutputs, 1)
	assert.Equal(t, uint64(390000), acks[7].BinOutputs[0].Amount)
	assert.Empty(t, acks[7].Outputs)
}

func TestSignDeterministic(t *testing.T) {
	var results []*Result
	for i := 0; i < 2; i++ {
		tx, cache, prevHash := opReturnSpend(t)
		device, _ := opReturnDevice(t, prevHash)

		res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
		require.NoError(t, err)
		results = append(results, res)
	}
	if !assert.Equal(t, results[0], results[1]) {
		t.Log(spew.Sdump(results))
	}
}

func TestSignFragmentsInArrivalOrder(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	device := &scriptedDevice{t: t, steps: replies(
		withFragment(request(messages.RequestInput, 0, nil), []byte{0xaa}),
		withSignature(withFragment(request(messages.RequestOutput, 0, nil), []byte{0xbb, 0xbb}), 0, []byte{0x30}),
		withFragment(request(messages.RequestOutput, 0, nil), []byte{0xaa}),
		withFragment(finishedRequest(), []byte{0xcc}),
	)}
	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xbb, 0xaa, 0xcc}, res.Serialized)
}

func TestSignDuplicateSignature(t *testing.T) {
	tx, cache, _ := opReturnSpend(t)
	device := &scriptedDevice{t: t, steps: replies(
		withSignature(withFragment(request(messages.RequestOutput, 0, nil), []byte{1, 2, 3}), 0, []byte{0x30, 0x01}),
		withSignature(request(messages.RequestOutput, 1, nil), 0, []byte{0x30, 0x02}),
	)}
	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	assert.ErrorIs(t, err, ErrDuplicateSignature)
	assert.Nil(t, res)
}

func TestSignUnknownPrevTx(t *testing.T) {
	tx, _, prevHash := opReturnSpend(t)
	device := &scriptedDevice{t: t, steps: replies(
		withFragment(request(messages.RequestInput, 0, nil), []byte{1, 2, 3}),
		request(messages.RequestMeta, 0, &prevHash),
	)}
	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: prevtx.Map{}})
	assert.ErrorIs(t, err, ErrUnknownPrevTx)
	assert.Nil(t, res)

	// No cache at all behaves the same
	device = &scriptedDevice{t: t, steps: replies(request(messages.RequestMeta, 0, &prevHash))}
	_, err = Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx})
	assert.ErrorIs(t, err, ErrUnknownPrevTx)
}

func TestSignDeviceFailure(t *testing.T) {
	tx, cache, _ := opReturnSpend(t)
	tx.Outputs[1].Amount = 10000

	device := &scriptedDevice{t: t, steps: replies(
		request(messages.RequestInput, 0, nil),
		request(messages.RequestOutput, 0, nil),
		request(messages.RequestOutput, 1, nil),
		&messages.Failure{Code: messages.FailureDataError, Message: "OP_RETURN output with non-zero amount"},
	)}
	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	assert.Nil(t, res)

	var derr *DeviceError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, messages.FailureDataError, derr.Code)
	assert.Equal(t, "OP_RETURN output with non-zero amount", derr.Message)
	assert.ErrorIs(t, err, ErrDevice)
	assert.NotErrorIs(t, err, ErrCancelled)
}

func TestSignIncompleteSignatures(t *testing.T) {
	tx, cache, _ := opReturnSpend(t)
	tx.Inputs = append(tx.Inputs, &types.TxInput{
		PrevHash:     types.Hash{9},
		Amount:       1000,
		Sequence:     types.DefaultSequence,
		ScriptType:   types.External,
		ScriptPubKey: []byte{0x00, 0x14},
	})
	// The external input needs no signature, the first one does
	device := &scriptedDevice{t: t, steps: replies(finishedRequest())}
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	assert.ErrorIs(t, err, ErrIncompleteSignatures)

	device = &scriptedDevice{t: t, steps: replies(
		withSignature(request(messages.RequestOutput, 0, nil), 0, []byte{0x30}),
		finishedRequest(),
	)}
	res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x30}, nil}, res.Signatures)
}

func TestSignProtocolViolations(t *testing.T) {
	tx, cache, prevHash := opReturnSpend(t)
	var (
		offset = uint32(0)
		length = uint32(4)
	)
	tests := []struct {
		name  string
		reply messages.Message
	}{
		{"unexpected message", &messages.Success{Message: "pong"}},
		{"unknown request type", &messages.TxRequest{RequestType: messages.RequestType(42)}},
		{"input out of range", request(messages.RequestInput, 1, nil)},
		{"output out of range", request(messages.RequestOutput, 2, nil)},
		{"prev output out of range", request(messages.RequestOutput, 1, &prevHash)},
		{"orig output without outputs", request(messages.RequestOrigOutput, 0, &prevHash)},
		{"signature out of range", withSignature(request(messages.RequestInput, 0, nil), 5, []byte{0x30})},
		{"extra data without window", request(messages.RequestExtraData, 0, nil)},
		{"extra data outside blob", &messages.TxRequest{
			RequestType: messages.RequestExtraData,
			Details:     &messages.TxRequestDetails{ExtraDataOffset: &offset, ExtraDataLen: &length},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := &scriptedDevice{t: t, steps: replies(tt.reply)}
			res, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Nil(t, res)
		})
	}
}

func TestSignExtraDataAndHeaders(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	var (
		expiry = uint32(500000)
		offset = uint32(2)
		length = uint32(3)
	)
	prev := &types.Transaction{
		Version:    4,
		LockTime:   77,
		Inputs:     []*types.TxInput{{PrevHash: types.Hash{3}, Sequence: types.DefaultSequence}},
		BinOutputs: []*types.TxOutputBin{{Amount: 390000, ScriptPubKey: []byte{0x51}}},
		ExtraData:  []byte{0, 1, 2, 3, 4, 5, 6},
		Expiry:     &expiry,
	}
	prevHash := tx.Inputs[0].PrevHash
	device := &scriptedDevice{t: t, steps: replies(
		request(messages.RequestMeta, 0, &prevHash),
		&messages.TxRequest{
			RequestType: messages.RequestExtraData,
			Details:     &messages.TxRequestDetails{TxHash: &prevHash, ExtraDataOffset: &offset, ExtraDataLen: &length},
		},
		withSignature(request(messages.RequestOutput, 0, nil), 0, []byte{0x30}),
		finishedRequest(),
	)}
	_, err := Sign(context.Background(), device, &Request{Coin: "Zcash", Tx: tx, PrevTxs: prevtx.Map{prevHash: prev}})
	require.NoError(t, err)

	acks := device.acks()
	require.Len(t, acks, 3)
	meta := acks[0]
	assert.Equal(t, uint32(4), *meta.Version)
	assert.Equal(t, uint32(77), *meta.LockTime)
	assert.Equal(t, uint32(7), *meta.ExtraDataLen)
	assert.Nil(t, meta.Expiry)
	assert.Nil(t, meta.Timestamp)
	assert.Nil(t, meta.ExtraData)

	assert.Equal(t, []byte{2, 3, 4}, acks[1].ExtraData)
}

// The header of the transaction being signed leaves zero fields to the device
// the same way SignTx does, previous transactions always carry theirs.
func TestSignMetaHeaderDefaults(t *testing.T) {
	tx, cache, prevHash := opReturnSpend(t)
	script := func() *scriptedDevice {
		return &scriptedDevice{t: t, steps: replies(
			request(messages.RequestMeta, 0, nil),
			request(messages.RequestMeta, 0, &prevHash),
			withSignature(request(messages.RequestOutput, 0, nil), 0, []byte{0x30}),
			finishedRequest(),
		)}
	}
	device := script()
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	require.NoError(t, err)

	open := device.sent[0].(*messages.SignTx)
	assert.Nil(t, open.Version)
	assert.Nil(t, open.LockTime)

	acks := device.acks()
	require.Len(t, acks, 3)
	assert.Nil(t, acks[0].Version)
	assert.Nil(t, acks[0].LockTime)
	assert.Equal(t, uint32(1), *acks[0].InputsCnt)
	assert.Equal(t, uint32(2), *acks[0].OutputsCnt)

	require.NotNil(t, acks[1].LockTime)
	assert.Equal(t, uint32(1), *acks[1].Version)
	assert.Zero(t, *acks[1].LockTime)

	tx.Version, tx.LockTime = 2, 650000
	device = script()
	_, err = Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	require.NoError(t, err)

	open = device.sent[0].(*messages.SignTx)
	assert.Equal(t, uint32(2), *open.Version)
	assert.Equal(t, uint32(650000), *open.LockTime)
	acks = device.acks()
	assert.Equal(t, uint32(2), *acks[0].Version)
	assert.Equal(t, uint32(650000), *acks[0].LockTime)
}

func TestSignReplacement(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	origHash := types.Hash{0x0f}
	orig := &types.Transaction{
		Version: 2,
		Inputs: []*types.TxInput{
			{AddressN: path, PrevHash: tx.Inputs[0].PrevHash, Amount: 390000, Sequence: 0xfffffffd},
		},
		Outputs: []*types.TxOutput{
			{Address: "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1", Amount: 385000},
		},
	}
	device := &scriptedDevice{t: t, steps: replies(
		request(messages.RequestOrigInput, 0, &origHash),
		request(messages.RequestOrigOutput, 0, &origHash),
		withSignature(request(messages.RequestOutput, 0, nil), 0, []byte{0x30}),
		finishedRequest(),
	)}
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: prevtx.Map{origHash: orig}})
	require.NoError(t, err)

	acks := device.acks()
	assert.Equal(t, uint32(0xfffffffd), acks[0].Inputs[0].Sequence)
	require.Len(t, acks[1].Outputs, 1)
	assert.Equal(t, uint64(385000), acks[1].Outputs[0].Amount)
}

func TestSignPreauthorized(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	device := &scriptedDevice{t: t, steps: []step{
		{reply: &messages.PreauthorizedRequest{}, check: func(t *testing.T, msg messages.Message) {
			assert.IsType(t, &messages.DoPreauthorized{}, msg)
		}},
		{reply: withSignature(finishedRequest(), 0, []byte{0x30}), check: func(t *testing.T, msg messages.Message) {
			assert.IsType(t, &messages.SignTx{}, msg)
		}},
	}}
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, Preauthorized: true})
	require.NoError(t, err)
	assert.Len(t, device.sent, 2)

	// Anything but a grant aborts before signing starts
	device = &scriptedDevice{t: t, steps: replies(&messages.Success{})}
	_, err = Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, Preauthorized: true})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Len(t, device.sent, 1)
}

// blockingDevice answers the opening message, then blocks until the context
// is cancelled, like a device waiting for the user.
type blockingDevice struct {
	calls int
}

func (d *blockingDevice) Call(ctx context.Context, msg messages.Message) (messages.Message, error) {
	d.calls++
	if d.calls == 1 {
		return withFragment(request(messages.RequestInput, 0, nil), []byte{1}), nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSignCancelled(t *testing.T) {
	tx, _, _ := opReturnSpend(t)

	ctx, cancel := context.WithCancel(context.Background())
	device := new(blockingDevice)
	done := make(chan error, 1)
	go func() {
		res, err := Sign(ctx, device, &Request{Coin: "Bitcoin", Tx: tx})
		if res != nil {
			err = errors.New("partial result leaked")
		}
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, ErrCancelled)

	// Rejection on the device is a cancellation too
	scripted := &scriptedDevice{t: t, steps: replies(
		&messages.Failure{Code: messages.FailureActionCancelled, Message: "Cancelled"},
	)}
	_, err := Sign(context.Background(), scripted, &Request{Coin: "Bitcoin", Tx: tx})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, ErrDevice)
}

func TestSignProgress(t *testing.T) {
	tx, cache, prevHash := opReturnSpend(t)
	device, _ := opReturnDevice(t, prevHash)

	var seen []string
	progress := func(kind RequestType, index uint32) {
		seen = append(seen, fmt.Sprintf("%v:%d", kind, index))
	}
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache, Progress: progress})
	require.NoError(t, err)
	assert.Len(t, seen, 13)
	assert.Equal(t, "TXINPUT:0", seen[0])
	assert.Equal(t, "TXMETA:0", seen[4])
}

func TestSignInvalidInputs(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	tx.Inputs[0].AddressN = nil

	device := &scriptedDevice{t: t}
	_, err := Sign(context.Background(), device, &Request{Coin: "Bitcoin", Tx: tx})
	assert.ErrorIs(t, err, types.ErrInputNoPath)
	assert.Empty(t, device.sent)
}

func TestTable(t *testing.T) {
	tx, _, _ := opReturnSpend(t)
	tx.Inputs = append(tx.Inputs, &types.TxInput{ScriptType: types.External}, &types.TxInput{AddressN: path})

	tbl := newTable(tx)
	assert.Equal(t, []int{0, 2}, tbl.missing())

	sig := []byte{0x30, 0x44}
	require.NoError(t, tbl.record(2, sig))
	sig[0] = 0xff // Caller buffers are not aliased
	assert.ErrorIs(t, tbl.record(2, []byte{0x30}), ErrDuplicateSignature)
	assert.ErrorIs(t, tbl.record(3, []byte{0x30}), ErrProtocolViolation)

	// An empty signature still fills the slot
	require.NoError(t, tbl.record(0, nil))
	assert.Empty(t, tbl.missing())

	tbl.append([]byte{1, 2})
	tbl.append([]byte{3})
	sigs, raw := tbl.finalize()
	assert.Equal(t, []byte{1, 2, 3}, raw)
	assert.Equal(t, []byte{0x30, 0x44}, sigs[2])
	assert.Nil(t, sigs[1])
	assert.NotNil(t, sigs[0])

	raw[0] = 9
	_, again := tbl.finalize()
	assert.True(t, bytes.Equal([]byte{1, 2, 3}, again))
}
