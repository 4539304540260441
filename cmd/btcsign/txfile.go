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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// txFile is the JSON description of a transaction to sign, with the field
// names used by the device protocol:
//
//	{
//	  "coin_name": "Bitcoin",
//	  "inputs": [{"address_n": "m/44'/0'/0'/0/2", "prev_hash": "...", "prev_index": 0, "amount": 390000}],
//	  "outputs": [{"address": "1MJ2tj2ThBE62zXbBYA5ZaN3fdve5CPAz1", "amount": 380000, "script_type": "PAYTOADDRESS"}],
//	  "details": {"version": 2, "lock_time": 0},
//	  "prev_txes": {"<txid>": {"version": 1, "inputs": [...], "bin_outputs": [...]}}
//	}
type txFile struct {
	CoinName string                     `json:"coin_name"`
	Inputs   []*fileInput               `json:"inputs"`
	Outputs  []*fileOutput              `json:"outputs"`
	Details  fileDetails                `json:"details"`
	PrevTxes map[types.Hash]*filePrevTx `json:"prev_txes"`
}

type fileDetails struct {
	Version   uint32  `json:"version"`
	LockTime  uint32  `json:"lock_time"`
	Expiry    *uint32 `json:"expiry"`
	Timestamp *uint32 `json:"timestamp"`
}

type fileInput struct {
	AddressN     bip32Path   `json:"address_n"`
	PrevHash     types.Hash  `json:"prev_hash"`
	PrevIndex    uint32      `json:"prev_index"`
	ScriptSig    hexBytes    `json:"script_sig"`
	Sequence     *uint32     `json:"sequence"`
	ScriptType   string      `json:"script_type"`
	Amount       uint64      `json:"amount"`
	ScriptPubKey hexBytes    `json:"script_pubkey"`
	OrigHash     *types.Hash `json:"orig_hash"`
	OrigIndex    *uint32     `json:"orig_index"`
}

type fileOutput struct {
	Address      string      `json:"address"`
	AddressN     bip32Path   `json:"address_n"`
	Amount       uint64      `json:"amount"`
	ScriptType   string      `json:"script_type"`
	OpReturnData hexBytes    `json:"op_return_data"`
	OrigHash     *types.Hash `json:"orig_hash"`
	OrigIndex    *uint32     `json:"orig_index"`
}

type fileBinOutput struct {
	Amount       uint64   `json:"amount"`
	ScriptPubKey hexBytes `json:"script_pubkey"`
}

type filePrevTx struct {
	Version    uint32           `json:"version"`
	LockTime   uint32           `json:"lock_time"`
	Inputs     []*fileInput     `json:"inputs"`
	BinOutputs []*fileBinOutput `json:"bin_outputs"`
	ExtraData  hexBytes         `json:"extra_data"`
	Expiry     *uint32          `json:"expiry"`
	Timestamp  *uint32          `json:"timestamp"`
}

// bip32Path accepts either a textual derivation path or a list of indices.
type bip32Path []uint32

func (p *bip32Path) UnmarshalJSON(input []byte) error {
	var text string
	if err := json.Unmarshal(input, &text); err == nil {
		path, err := accounts.ParseDerivationPath(text)
		if err != nil {
			return err
		}
		*p = bip32Path(path)
		return nil
	}
	var indices []uint32
	if err := json.Unmarshal(input, &indices); err != nil {
		return fmt.Errorf("invalid derivation path %s", input)
	}
	*p = indices
	return nil
}

// hexBytes is a byte slice in hex encoding, with or without 0x prefix.
type hexBytes []byte

func (b *hexBytes) UnmarshalText(input []byte) error {
	raw, err := hex.DecodeString(strings.TrimPrefix(string(input), "0x"))
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// signJob is a parsed transaction file.
type signJob struct {
	coin    string // Empty if the file does not name one
	tx      *types.Transaction
	prevTxs prevtx.Map
}

func loadTxFile(path string) (*signJob, error) {
	var (
		blob []byte
		err  error
	)
	if path == "-" {
		blob, err = io.ReadAll(os.Stdin)
	} else {
		blob, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return parseTxFile(blob)
}

func parseTxFile(blob []byte) (*signJob, error) {
	var file txFile
	if err := json.Unmarshal(blob, &file); err != nil {
		return nil, err
	}
	if len(file.Inputs) == 0 {
		return nil, errors.New("transaction has no inputs")
	}
	if len(file.Outputs) == 0 {
		return nil, errors.New("transaction has no outputs")
	}
	tx := &types.Transaction{
		Version:   file.Details.Version,
		LockTime:  file.Details.LockTime,
		Expiry:    file.Details.Expiry,
		Timestamp: file.Details.Timestamp,
	}
	for i, in := range file.Inputs {
		input, err := in.toInput()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, input)
	}
	for i, out := range file.Outputs {
		output, err := out.toOutput()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		tx.Outputs = append(tx.Outputs, output)
	}
	prevs := make(prevtx.Map, len(file.PrevTxes))
	for hash, prev := range file.PrevTxes {
		ptx, err := prev.toTransaction()
		if err != nil {
			return nil, fmt.Errorf("previous transaction %v: %w", hash, err)
		}
		// The device verifies the id itself, coins with extra header fields
		// hash differently than the legacy encoding.
		if have, err := ptx.Hash(); err != nil || have != hash {
			log.Warn("Previous transaction id not reproduced", "declared", hash, "computed", have, "err", err)
		}
		prevs[hash] = ptx
	}
	return &signJob{coin: file.CoinName, tx: tx, prevTxs: prevs}, nil
}

func (in *fileInput) toInput() (*types.TxInput, error) {
	input := &types.TxInput{
		AddressN:     in.AddressN,
		PrevHash:     in.PrevHash,
		PrevIndex:    in.PrevIndex,
		ScriptSig:    in.ScriptSig,
		Sequence:     types.DefaultSequence,
		Amount:       in.Amount,
		ScriptPubKey: in.ScriptPubKey,
		OrigHash:     in.OrigHash,
		OrigIndex:    in.OrigIndex,
	}
	if in.Sequence != nil {
		input.Sequence = *in.Sequence
	}
	if in.ScriptType != "" {
		kind, err := types.ParseInputScriptType(in.ScriptType)
		if err != nil {
			return nil, err
		}
		input.ScriptType = kind
	}
	return input, nil
}

func (out *fileOutput) toOutput() (*types.TxOutput, error) {
	output := &types.TxOutput{
		Address:      out.Address,
		AddressN:     out.AddressN,
		Amount:       out.Amount,
		OpReturnData: out.OpReturnData,
		OrigHash:     out.OrigHash,
		OrigIndex:    out.OrigIndex,
	}
	if out.ScriptType != "" {
		kind, err := types.ParseOutputScriptType(out.ScriptType)
		if err != nil {
			return nil, err
		}
		output.ScriptType = kind
	}
	return output, nil
}

func (prev *filePrevTx) toTransaction() (*types.Transaction, error) {
	tx := &types.Transaction{
		Version:   prev.Version,
		LockTime:  prev.LockTime,
		ExtraData: prev.ExtraData,
		Expiry:    prev.Expiry,
		Timestamp: prev.Timestamp,
	}
	for i, in := range prev.Inputs {
		input, err := in.toInput()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, input)
	}
	for _, out := range prev.BinOutputs {
		tx.BinOutputs = append(tx.BinOutputs, &types.TxOutputBin{Amount: out.Amount, ScriptPubKey: out.ScriptPubKey})
	}
	return tx, nil
}
