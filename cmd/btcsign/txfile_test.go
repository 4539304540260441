// Copyright 2026 The btcsign Authors
// This file is part of btcsign.
//
// btcsign is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// btcsign is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with btcsign. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"testing"

	"github.com/btcsign/btcsign/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTxFile(t *testing.T) {
	job, err := parseTxFile([]byte(`{
  "inputs": [
    {"address_n": [2147483692, 2147483648, 2147483648, 0, 5], "prev_hash": "0xab00000000000000000000000000000000000000000000000000000000000000", "prev_index": 1, "amount": 1000, "sequence": 4294967293},
    {"prev_hash": "cd00000000000000000000000000000000000000000000000000000000000000", "prev_index": 0, "amount": 500, "script_type": "EXTERNAL", "script_pubkey": "0014aa"}
  ],
  "outputs": [
    {"address_n": "m/44'/0'/0'/1/0", "amount": 1200},
    {"op_return_data": "0x6869", "script_type": "PAYTOOPRETURN"}
  ],
  "details": {"version": 2, "lock_time": 650000, "expiry": 10}
}`))
	require.NoError(t, err)
	assert.Empty(t, job.coin)
	assert.Empty(t, job.prevTxs)

	tx := job.tx
	assert.Equal(t, uint32(2), tx.Version)
	assert.Equal(t, uint32(650000), tx.LockTime)
	require.NotNil(t, tx.Expiry)
	assert.Equal(t, uint32(10), *tx.Expiry)
	assert.Nil(t, tx.Timestamp)

	require.Len(t, tx.Inputs, 2)
	assert.Equal(t, []uint32{0x8000002c, 0x80000000, 0x80000000, 0, 5}, tx.Inputs[0].AddressN)
	assert.Equal(t, byte(0xab), tx.Inputs[0].PrevHash[0])
	assert.Equal(t, uint32(0xfffffffd), tx.Inputs[0].Sequence)
	assert.Equal(t, types.SpendAddress, tx.Inputs[0].ScriptType)
	assert.Equal(t, uint32(types.DefaultSequence), tx.Inputs[1].Sequence)
	assert.Equal(t, types.External, tx.Inputs[1].ScriptType)
	assert.Equal(t, []byte{0x00, 0x14, 0xaa}, tx.Inputs[1].ScriptPubKey)

	require.Len(t, tx.Outputs, 2)
	assert.Equal(t, []uint32{0x8000002c, 0x80000000, 0x80000000, 1, 0}, tx.Outputs[0].AddressN)
	assert.Equal(t, types.PayToAddress, tx.Outputs[0].ScriptType)
	assert.Equal(t, []byte("hi"), tx.Outputs[1].OpReturnData)
	assert.Equal(t, types.PayToOpReturn, tx.Outputs[1].ScriptType)
}

func TestParseTxFileErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		err  string
	}{
		{"no inputs", `{"outputs": [{"address": "x", "amount": 1}]}`, "no inputs"},
		{"no outputs", `{"inputs": [{"address_n": "m/0", "amount": 1}]}`, "no outputs"},
		{"bad script type", `{"inputs": [{"address_n": "m/0", "script_type": "SPENDNOTHING"}], "outputs": [{"address": "x"}]}`, `input 0: unknown input script type "SPENDNOTHING"`},
		{"bad path", `{"inputs": [{"address_n": "m/x"}], "outputs": [{"address": "x"}]}`, "invalid component"},
		{"bad hex", `{"inputs": [{"address_n": "m/0"}], "outputs": [{"op_return_data": "zz"}]}`, "invalid byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseTxFile([]byte(tt.file))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestParseTxFilePrevTxes(t *testing.T) {
	blob, hash := fundedTxFile(t)
	job, err := parseTxFile(blob)
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin", job.coin)

	prev, err := job.prevTxs.Lookup(hash)
	require.NoError(t, err)
	require.Len(t, prev.BinOutputs, 1)
	assert.Equal(t, uint64(390000), prev.BinOutputs[0].Amount)
	assert.Equal(t, []byte{0x51}, prev.Inputs[0].ScriptSig)

	have, err := prev.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, have)
}
