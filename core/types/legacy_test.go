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

package types

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// opReturnTx spends d5f65e..864882:0 into a P2PKH output and an OP_RETURN.
	opReturnTx = "010000000182488650ef25a58fef6788bd71b8212038d7f2bbe4750bc7bcb44701e85ef6d5" +
		"000000006b483045022100bc36e1227b334e856c532bbef86d30a96823a5f2461738f4dbf969dfbcf1b40b" +
		"022078c5353ec9a4bce2bb05bd1ec466f2ab379c1aad926e208738407bba4e09784b012103330236b68aa6" +
		"fdcaca0ea72e11b360c84ed19a338509aa527b678a7ec9076882ffffffff0260cc0500000000001976a914" +
		"de9b2a8da088824e8fe51debea566617d851537888ac00000000000000001c6a1a74657374206f66207468" +
		"65206f705f72657475726e206461746100000000"
	opReturnTxid = "ed3afbba59e5e6e68256ea634f9fcbef6b47c836e8d976d7d95b2b09d519a85f"
	opReturnPrev = "d5f65ee80147b4bcc70b75e4bbf2d7382021b871bd8867ef8fa525ef50864882"
)

func TestDecodeLegacy(t *testing.T) {
	raw, _ := hex.DecodeString(opReturnTx)
	tx, err := DecodeLegacy(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), tx.Version)
	assert.Equal(t, uint32(0), tx.LockTime)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, opReturnPrev, tx.Inputs[0].PrevHash.Hex())
	assert.Equal(t, uint32(0), tx.Inputs[0].PrevIndex)
	assert.Equal(t, uint32(DefaultSequence), tx.Inputs[0].Sequence)
	assert.Len(t, tx.Inputs[0].ScriptSig, 0x6b)

	require.Len(t, tx.BinOutputs, 2)
	assert.Equal(t, uint64(380000), tx.BinOutputs[0].Amount)
	assert.Equal(t, uint64(0), tx.BinOutputs[1].Amount)
	assert.Equal(t, "6a1a74657374206f6620746865206f705f72657475726e2064617461", hex.EncodeToString(tx.BinOutputs[1].ScriptPubKey))
	assert.Nil(t, tx.ExtraData)

	assert.Equal(t, uint32(1), tx.InputsCount())
	assert.Equal(t, uint32(2), tx.OutputsCount())
	assert.Equal(t, uint64(380000), tx.TotalOut())

	enc, err := tx.EncodeLegacy()
	require.NoError(t, err)
	assert.Equal(t, opReturnTx, hex.EncodeToString(enc))

	hash, err := tx.Hash()
	require.NoError(t, err)
	assert.Equal(t, opReturnTxid, hash.Hex())
}

func TestExtraDataKept(t *testing.T) {
	raw, _ := hex.DecodeString(opReturnTx + "deadbeef")
	tx, err := DecodeLegacy(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, tx.ExtraData)
	assert.Equal(t, uint32(4), tx.ExtraDataLen())

	enc, err := tx.EncodeLegacy()
	require.NoError(t, err)
	assert.Equal(t, raw, enc)
}

func TestStructuredOutputsNotSerialized(t *testing.T) {
	tx := &Transaction{
		Version: 1,
		Outputs: []*TxOutput{{Address: "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1", Amount: 380000}},
	}
	_, err := tx.EncodeLegacy()
	assert.ErrorIs(t, err, ErrNotSerialized)

	_, err = tx.Hash()
	assert.ErrorIs(t, err, ErrNotSerialized)
}

func TestFromMsgTx(t *testing.T) {
	prev := mustHash(opReturnPrev)
	op := prev.Outpoint()

	msg := wire.NewMsgTx(2)
	msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&op, 3), []byte{0x51}, nil))
	msg.AddTxOut(wire.NewTxOut(1000, []byte{0x6a}))
	msg.LockTime = 500000

	tx := FromMsgTx(msg)
	assert.Equal(t, uint32(2), tx.Version)
	assert.Equal(t, uint32(500000), tx.LockTime)
	assert.Equal(t, prev, tx.Inputs[0].PrevHash)
	assert.Equal(t, uint32(3), tx.Inputs[0].PrevIndex)
	assert.Equal(t, []byte{0x51}, tx.Inputs[0].ScriptSig)

	// The converted transaction hashes to the same id as btcd computes.
	hash, err := tx.Hash()
	require.NoError(t, err)
	assert.Equal(t, msg.TxHash().String(), hash.Hex())
}

// mustHash parses a known good transaction id.
func mustHash(s string) Hash {
	h, _ := HexToHash(s)
	return h
}
