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
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/signer/emulator"
	"github.com/btcsign/btcsign/signer/txsign"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fundedTxFile builds a transaction file spending 390000 satoshis received by
// m/44'/0'/0'/0/2 of the test mnemonic, with the funding transaction embedded.
func fundedTxFile(t *testing.T) ([]byte, types.Hash) {
	keys, err := emulator.NewKeychain(testMnemonic, "", &chaincfg.MainNetParams)
	require.NoError(t, err)
	addr, err := keys.Address(accounts.DerivationPath{0x8000002c, 0x80000000, 0x80000000, 0, 2})
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prev := &types.Transaction{
		Version: 1,
		Inputs: []*types.TxInput{{
			PrevHash:  types.BytesToHash(bytes.Repeat([]byte{0x07}, 32)),
			ScriptSig: []byte{0x51},
			Sequence:  types.DefaultSequence,
		}},
		BinOutputs: []*types.TxOutputBin{{Amount: 390000, ScriptPubKey: script}},
	}
	hash, err := prev.Hash()
	require.NoError(t, err)

	file := fmt.Sprintf(`{
  "coin_name": "Bitcoin",
  "inputs": [{"address_n": "m/44'/0'/0'/0/2", "prev_hash": "%[1]s", "prev_index": 0, "amount": 390000, "script_type": "SPENDADDRESS"}],
  "outputs": [
    {"address": "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1", "amount": 380000, "script_type": "PAYTOADDRESS"},
    {"op_return_data": "%[3]x", "amount": 0, "script_type": "PAYTOOPRETURN"}
  ],
  "details": {"version": 1},
  "prev_txes": {
    "%[1]s": {
      "version": 1,
      "inputs": [{"prev_hash": "%[4]s", "prev_index": 0, "script_sig": "51"}],
      "bin_outputs": [{"amount": 390000, "script_pubkey": "%[2]x"}]
    }
  }
}`, hash.Hex(), script, "test of the op_return data", prev.Inputs[0].PrevHash.Hex())
	return []byte(file), hash
}

func TestSignWithEmulator(t *testing.T) {
	blob, prev := fundedTxFile(t)
	job, err := parseTxFile(blob)
	require.NoError(t, err)
	require.NoError(t, checkFee(job.tx, 10000))

	req := &txsign.Request{Coin: job.coin, Tx: job.tx, PrevTxs: job.prevTxs}
	res, err := signWithEmulator(context.Background(), walletConfig{Mnemonic: testMnemonic}, nil, true, req)
	require.NoError(t, err)
	require.Len(t, res.Signatures, 1)
	assert.NotEmpty(t, res.Signatures[0])

	var out bytes.Buffer
	require.NoError(t, printResult(&out, true, res))

	var printed signResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, hex.EncodeToString(res.Signatures[0]), printed.Signatures[0])
	assert.Equal(t, hex.EncodeToString(res.Serialized), printed.Serialized)

	signed, err := types.DecodeLegacy(res.Serialized)
	require.NoError(t, err)
	assert.Equal(t, prev, signed.Inputs[0].PrevHash)
	txid, err := signed.Hash()
	require.NoError(t, err)
	assert.Equal(t, txid.Hex(), printed.Txid)
}

func TestSignUnknownPrevTx(t *testing.T) {
	blob, _ := fundedTxFile(t)
	job, err := parseTxFile(blob)
	require.NoError(t, err)

	req := &txsign.Request{Coin: job.coin, Tx: job.tx, PrevTxs: prevtx.Map{}}
	_, err = signWithEmulator(context.Background(), walletConfig{}, nil, true, req)
	require.ErrorIs(t, err, txsign.ErrUnknownPrevTx)
	assert.Contains(t, describeError(err).Error(), "btcsign prevtx import")
}

func TestSignDeviceRefusal(t *testing.T) {
	blob, _ := fundedTxFile(t)
	job, err := parseTxFile(blob)
	require.NoError(t, err)
	job.tx.Outputs[1].Amount = 1 // OP_RETURN outputs must not carry value

	req := &txsign.Request{Coin: job.coin, Tx: job.tx, PrevTxs: job.prevTxs}
	_, err = signWithEmulator(context.Background(), walletConfig{}, nil, true, req)
	require.ErrorIs(t, err, txsign.ErrDevice)
	assert.Equal(t, "device refused to sign: OP_RETURN output with non-zero amount (DataError)", describeError(err).Error())
}

func TestCheckFee(t *testing.T) {
	tx := &types.Transaction{
		Inputs:  []*types.TxInput{{Amount: 100000}, {Amount: 50000}},
		Outputs: []*types.TxOutput{{Amount: 140000}},
	}
	assert.NoError(t, checkFee(tx, 10000))
	assert.ErrorContains(t, checkFee(tx, 9999), "fee 0.00010000 exceeds the limit of 0.00009999")

	tx.Outputs[0].Amount = 150001
	assert.ErrorContains(t, checkFee(tx, 10000), "outputs spend 0.00150001 but inputs only fund 0.00150000")
}

func TestPrintResultText(t *testing.T) {
	res := &txsign.Result{Signatures: [][]byte{{0x30, 0x44}, nil}}

	var out bytes.Buffer
	require.NoError(t, printResult(&out, false, res))
	assert.Equal(t, "Signatures:\n  input 0: 3044\n  input 1: (signed externally)\n", out.String())
}
