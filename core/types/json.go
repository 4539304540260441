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
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// coinbaseIndex is the previous output index of a coinbase input.
const coinbaseIndex = 0xffffffff

// rpcTransaction is the subset of bitcoind's verbose getrawtransaction reply
// needed to stream a previous transaction to the device.
type rpcTransaction struct {
	Txid     string      `json:"txid"`
	Hex      string      `json:"hex"`
	Version  uint32      `json:"version"`
	LockTime uint32      `json:"locktime"`
	Vin      []rpcInput  `json:"vin"`
	Vout     []rpcOutput `json:"vout"`
}

type rpcInput struct {
	Coinbase  string     `json:"coinbase"`
	Txid      string     `json:"txid"`
	Vout      uint32     `json:"vout"`
	ScriptSig *rpcScript `json:"scriptSig"`
	Sequence  uint32     `json:"sequence"`
}

type rpcOutput struct {
	Value        json.Number `json:"value"`
	ScriptPubKey rpcScript   `json:"scriptPubKey"`
}

type rpcScript struct {
	Hex string `json:"hex"`
}

// FromJSON converts a bitcoind verbose transaction (getrawtransaction with
// verbose=true) into a previous transaction descriptor. If the reply carries a
// txid, it is returned as well so callers can cross check the content.
func FromJSON(blob []byte) (*Transaction, *Hash, error) {
	var rpc rpcTransaction
	if err := json.Unmarshal(blob, &rpc); err != nil {
		return nil, nil, err
	}
	// The raw encoding is authoritative if the node included it
	if rpc.Hex != "" {
		raw, err := hex.DecodeString(rpc.Hex)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid hex: %w", err)
		}
		tx, err := DecodeLegacy(raw)
		if err != nil {
			return nil, nil, err
		}
		return withTxid(tx, rpc.Txid)
	}
	tx := &Transaction{
		Version:    rpc.Version,
		LockTime:   rpc.LockTime,
		Inputs:     make([]*TxInput, len(rpc.Vin)),
		BinOutputs: make([]*TxOutputBin, len(rpc.Vout)),
	}
	for i, vin := range rpc.Vin {
		in, err := vin.toInput()
		if err != nil {
			return nil, nil, fmt.Errorf("vin %d: %w", i, err)
		}
		tx.Inputs[i] = in
	}
	for i, vout := range rpc.Vout {
		amount, err := ParseCoins(vout.Value.String())
		if err != nil {
			return nil, nil, fmt.Errorf("vout %d: %w", i, err)
		}
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return nil, nil, fmt.Errorf("vout %d: invalid scriptPubKey: %w", i, err)
		}
		tx.BinOutputs[i] = &TxOutputBin{Amount: amount, ScriptPubKey: script}
	}
	return withTxid(tx, rpc.Txid)
}

func withTxid(tx *Transaction, id string) (*Transaction, *Hash, error) {
	if id == "" {
		return tx, nil, nil
	}
	txid, err := HexToHash(id)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid txid: %w", err)
	}
	return tx, &txid, nil
}

func (vin *rpcInput) toInput() (*TxInput, error) {
	if vin.Coinbase != "" {
		script, err := hex.DecodeString(vin.Coinbase)
		if err != nil {
			return nil, fmt.Errorf("invalid coinbase: %w", err)
		}
		return &TxInput{
			PrevIndex: coinbaseIndex,
			ScriptSig: script,
			Sequence:  vin.Sequence,
		}, nil
	}
	prev, err := HexToHash(vin.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid: %w", err)
	}
	var script []byte
	if vin.ScriptSig != nil {
		if script, err = hex.DecodeString(vin.ScriptSig.Hex); err != nil {
			return nil, fmt.Errorf("invalid scriptSig: %w", err)
		}
	}
	return &TxInput{
		PrevHash:  prev,
		PrevIndex: vin.Vout,
		ScriptSig: script,
		Sequence:  vin.Sequence,
	}, nil
}

// ParseCoins converts a decimal coin amount (e.g. "0.0039") into satoshis,
// rejecting amounts with more than eight decimals or a negative sign.
func ParseCoins(value string) (uint64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", value)
	}
	sat := d.Shift(8)
	if !sat.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-satoshi precision", value)
	}
	return uint64(sat.IntPart()), nil
}

// FormatCoins renders a satoshi amount as a decimal coin value.
func FormatCoins(sat uint64) string {
	return decimal.NewFromInt(int64(sat)).Shift(-8).StringFixed(8)
}
