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

package emulator

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/messages"
	"github.com/btcsign/btcsign/signer/txsign"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "all all all all all all all all all all all all"

var (
	spendPath  = accounts.DerivationPath{0x8000002c, 0x80000000, 0x80000000, 0, 2}
	changePath = accounts.DerivationPath{0x8000002c, 0x80000000, 0x80000000, 1, 0}
)

func newDevice(t *testing.T, config Config) *Device {
	if config.Mnemonic == "" {
		config.Mnemonic = testMnemonic
	}
	dev, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

// funding creates a previous transaction paying the given amounts to the
// device key at path, and registers it in cache.
func funding(t *testing.T, cache prevtx.Map, path accounts.DerivationPath, amounts ...uint64) (types.Hash, []byte) {
	keys, err := NewKeychain(testMnemonic, "", networks["Bitcoin"])
	require.NoError(t, err)
	addr, err := keys.Address(path)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prev := &types.Transaction{
		Version: 1,
		Inputs: []*types.TxInput{
			{PrevHash: types.Hash{byte(len(cache) + 1)}, PrevIndex: 3, ScriptSig: []byte{0x51}, Sequence: types.DefaultSequence},
			{PrevHash: types.Hash{0xee}, PrevIndex: 0, ScriptSig: []byte{}, Sequence: types.DefaultSequence},
		},
	}
	for _, amount := range amounts {
		prev.BinOutputs = append(prev.BinOutputs, &types.TxOutputBin{Amount: amount, ScriptPubKey: script})
	}
	hash, err := cache.Add(prev)
	require.NoError(t, err)
	return hash, script
}

func opReturnSpend(prev types.Hash) *types.Transaction {
	return &types.Transaction{
		Inputs: []*types.TxInput{{
			AddressN:   spendPath,
			PrevHash:   prev,
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
}

// verify runs the script of every signed input against the output it spends.
func verify(t *testing.T, raw []byte, spent map[wire.OutPoint]*wire.TxOut) *wire.MsgTx {
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	fetcher := txscript.NewMultiPrevOutFetcher(spent)
	hashes := txscript.NewTxSigHashes(&tx, fetcher)
	for i, in := range tx.TxIn {
		prev := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		require.NotNil(t, prev, "input %d", i)

		vm, err := txscript.NewEngine(prev.PkScript, &tx, i, txscript.StandardVerifyFlags, nil, hashes, prev.Value, fetcher)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
	return &tx
}

func TestSignOpReturn(t *testing.T) {
	var (
		dev          = newDevice(t, Config{})
		cache        = make(prevtx.Map)
		prev, script = funding(t, cache, spendPath, 390000)
	)
	res, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache})
	require.NoError(t, err)

	tx := verify(t, res.Serialized, map[wire.OutPoint]*wire.TxOut{
		*wire.NewOutPoint(ptr(prev.Outpoint()), 0): wire.NewTxOut(390000, script),
	})
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(380000), tx.TxOut[0].Value)
	assert.Equal(t, "76a914de9b2a8da088824e8fe51debea566617d851537888ac", hex.EncodeToString(tx.TxOut[0].PkScript))
	assert.Equal(t, int64(0), tx.TxOut[1].Value)
	assert.Equal(t, "6a1a74657374206f6620746865206f705f72657475726e2064617461", hex.EncodeToString(tx.TxOut[1].PkScript))
	assert.Equal(t, uint32(0), tx.LockTime)

	// The collected signature is the one embedded in the script
	require.Len(t, res.Signatures, 1)
	pushes, err := txscript.PushedData(tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Len(t, pushes, 2)
	assert.Equal(t, append(bytes.Clone(res.Signatures[0]), byte(txscript.SigHashAll)), pushes[0])
}

func TestSignDeterministic(t *testing.T) {
	var (
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
		results []*txsign.Result
	)
	for i := 0; i < 2; i++ {
		dev := newDevice(t, Config{})
		res, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache})
		require.NoError(t, err)
		results = append(results, res)
	}
	assert.Equal(t, results[0], results[1])
}

func TestSignMultipleInputsWithChange(t *testing.T) {
	var (
		prompts  int
		dev      = newDevice(t, Config{Approve: func(code messages.ButtonRequestType) bool {
			prompts++
			return true
		}})
		cache    = make(prevtx.Map)
		first    = accounts.DerivationPath{0x8000002c, 0x80000000, 0x80000000, 0, 0}
		hashA, a = funding(t, cache, spendPath, 5000, 70000)
		hashB, b = funding(t, cache, first, 40000)
	)
	tx := &types.Transaction{
		Version:  2,
		LockTime: 650000,
		Inputs: []*types.TxInput{
			{AddressN: spendPath, PrevHash: hashA, PrevIndex: 1, Amount: 70000, Sequence: 0xfffffffe},
			{AddressN: first, PrevHash: hashB, PrevIndex: 0, Amount: 40000, Sequence: 0xfffffffe},
		},
		Outputs: []*types.TxOutput{
			{Address: "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1", Amount: 100000},
			{AddressN: changePath, Amount: 9000},
		},
	}
	res, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
	require.NoError(t, err)
	assert.Equal(t, 2, prompts) // External output and the total, change is not confirmed

	signed := verify(t, res.Serialized, map[wire.OutPoint]*wire.TxOut{
		*wire.NewOutPoint(ptr(hashA.Outpoint()), 1): wire.NewTxOut(70000, a),
		*wire.NewOutPoint(ptr(hashB.Outpoint()), 0): wire.NewTxOut(40000, b),
	})
	assert.Equal(t, int32(2), signed.Version)
	assert.Equal(t, uint32(650000), signed.LockTime)
	assert.Len(t, res.Signatures, 2)

	keys, err := NewKeychain(testMnemonic, "", networks["Bitcoin"])
	require.NoError(t, err)
	change, err := keys.Address(changePath)
	require.NoError(t, err)
	changeScript, _ := txscript.PayToAddrScript(change)
	assert.Equal(t, changeScript, signed.TxOut[1].PkScript)
}

func TestSignWithoutSerialization(t *testing.T) {
	var (
		dev     = newDevice(t, Config{})
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
		off     = false
	)
	res, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache, Serialize: &off})
	require.NoError(t, err)
	assert.Empty(t, res.Serialized)
	require.Len(t, res.Signatures, 1)
	assert.NotEmpty(t, res.Signatures[0])
}

func TestSignLargeExtraData(t *testing.T) {
	var (
		dev     = newDevice(t, Config{})
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
	)
	// Replace the funding transaction with one carrying trailing data
	funded := cache[prev]
	delete(cache, prev)
	funded.ExtraData = bytes.Repeat([]byte{0xab}, 2500)
	prev, err := cache.Add(funded)
	require.NoError(t, err)

	var extra int
	progress := func(kind txsign.RequestType, index uint32) {
		if kind == messages.RequestExtraData {
			extra++
		}
	}
	_, err = txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache, Progress: progress})
	require.NoError(t, err)
	assert.Equal(t, 3, extra)
}

func TestSignDeviceFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(tx *types.Transaction)
		code   messages.FailureType
		msg    string
	}{
		{
			name:   "non-zero OP_RETURN",
			modify: func(tx *types.Transaction) { tx.Outputs[1].Amount = 10000 },
			code:   messages.FailureDataError,
			msg:    "OP_RETURN output with non-zero amount",
		},
		{
			name: "OP_RETURN with address_n",
			modify: func(tx *types.Transaction) {
				tx.Outputs[1].AddressN = accounts.DerivationPath{0x8000002c, 0x80000000, 0x80000000, 1, 2}
				tx.Outputs[1].OpReturnData = []byte("OMNI TRANSACTION GOES HERE")
			},
			code: messages.FailureDataError,
			msg:  "Output's address_n provided but not expected.",
		},
		{
			name:   "address and address_n",
			modify: func(tx *types.Transaction) { tx.Outputs[0].AddressN = changePath },
			code:   messages.FailureDataError,
			msg:    "Both address and address_n provided.",
		},
		{
			name:   "wrong input amount",
			modify: func(tx *types.Transaction) { tx.Inputs[0].Amount = 390001; tx.Outputs[0].Amount = 1 },
			code:   messages.FailureDataError,
			msg:    "Invalid amount specified",
		},
		{
			name:   "overspending",
			modify: func(tx *types.Transaction) { tx.Outputs[0].Amount = 400000 },
			code:   messages.FailureNotEnoughFunds,
			msg:    "Not enough funds",
		},
		{
			name:   "segwit input",
			modify: func(tx *types.Transaction) { tx.Inputs[0].ScriptType = types.SpendWitness },
			code:   messages.FailureDataError,
			msg:    "Unsupported script type",
		},
		{
			name:   "invalid address",
			modify: func(tx *types.Transaction) { tx.Outputs[0].Address = "mkdAkFwnwE8GUuiJeXTBqdDiYXJhmL1aBF" },
			code:   messages.FailureDataError,
			msg:    "Invalid address",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				dev     = newDevice(t, Config{})
				cache   = make(prevtx.Map)
				prev, _ = funding(t, cache, spendPath, 390000)
				tx      = opReturnSpend(prev)
			)
			tt.modify(tx)

			res, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: tx, PrevTxs: cache})
			assert.Nil(t, res)
			var derr *txsign.DeviceError
			require.True(t, errors.As(err, &derr), "err: %v", err)
			assert.Equal(t, tt.code, derr.Code)
			assert.Equal(t, tt.msg, derr.Message)
		})
	}
}

func TestSignForgedPrevTx(t *testing.T) {
	var (
		dev     = newDevice(t, Config{})
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
	)
	// Same outputs under another id
	forged := types.Hash{0x42}
	cache[forged] = cache[prev]

	_, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(forged), PrevTxs: cache})
	var derr *txsign.DeviceError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "Encountered invalid prevhash", derr.Message)
}

func TestSignRejected(t *testing.T) {
	var (
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
		dev     = newDevice(t, Config{Approve: func(code messages.ButtonRequestType) bool {
			return code != messages.ButtonRequestSignTx
		}})
	)
	_, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache})
	assert.ErrorIs(t, err, txsign.ErrCancelled)
}

func TestSignContextCancelled(t *testing.T) {
	var (
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)

		ctx, cancel = context.WithCancel(context.Background())
	)
	defer cancel()

	dev := newDevice(t, Config{Approve: func(code messages.ButtonRequestType) bool {
		cancel() // User walks away while the device waits
		return true
	}})
	res, err := txsign.Sign(ctx, dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache})
	assert.ErrorIs(t, err, txsign.ErrCancelled)
	assert.Nil(t, res)

	// The device is back to idle and keeps serving
	reply, err := dev.Call(context.Background(), &messages.Ping{Message: "still here"})
	require.NoError(t, err)
	assert.Equal(t, &messages.Success{Message: "still here"}, reply)
}

func TestPreauthorized(t *testing.T) {
	var (
		cache   = make(prevtx.Map)
		prev, _ = funding(t, cache, spendPath, 390000)
	)
	dev := newDevice(t, Config{Preauthorized: true})
	_, err := txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache, Preauthorized: true})
	require.NoError(t, err)

	dev = newDevice(t, Config{})
	_, err = txsign.Sign(context.Background(), dev, &txsign.Request{Coin: "Bitcoin", Tx: opReturnSpend(prev), PrevTxs: cache, Preauthorized: true})
	var derr *txsign.DeviceError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, messages.FailureProcessError, derr.Code)
}

func TestDeviceManagement(t *testing.T) {
	dev := newDevice(t, Config{Label: "test", Passphrase: "secret"})

	reply, err := dev.Call(context.Background(), &messages.Initialize{})
	require.NoError(t, err)
	features, ok := reply.(*messages.Features)
	require.True(t, ok)
	assert.Equal(t, "test", features.Label)
	assert.True(t, features.PassphraseProtection)
	assert.Equal(t, [3]uint32{1, 12, 1}, features.Version())

	// Messages out of context are rejected without disturbing the device
	reply, err = dev.Call(context.Background(), &messages.TxAck{Tx: &messages.TransactionType{}})
	require.NoError(t, err)
	assert.Equal(t, messages.FailureUnexpectedMessage, reply.(*messages.Failure).Code)

	reply, err = dev.Call(context.Background(), &messages.SignTx{CoinName: "Dogecoin", InputsCount: 1, OutputsCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "Invalid coin name", reply.(*messages.Failure).Message)

	require.NoError(t, dev.Close())
	_, err = dev.Call(context.Background(), &messages.Ping{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKeychain(t *testing.T) {
	_, err := NewKeychain("all all all", "", networks["Bitcoin"])
	assert.Error(t, err)

	keys, err := NewKeychain(testMnemonic, "", networks["Bitcoin"])
	require.NoError(t, err)
	a, err := keys.Address(spendPath)
	require.NoError(t, err)
	b, err := keys.Address(changePath)
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), b.String())
	assert.True(t, a.IsForNet(networks["Bitcoin"]))

	// A passphrase selects a different wallet
	hidden, err := NewKeychain(testMnemonic, "secret", networks["Bitcoin"])
	require.NoError(t, err)
	c, err := hidden.Address(spendPath)
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), c.String())
}

func ptr[T any](v T) *T { return &v }
