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
	"bytes"
	"errors"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrNotSerialized is returned when a transaction with only structured outputs
// is asked for its raw encoding. Structured outputs need a network to resolve
// addresses into scripts, which is the signing device's job.
var ErrNotSerialized = errors.New("transaction outputs are not serialized")

// MsgTx converts the transaction into its btcd wire representation. Witness
// data is never part of the model, so the result is a legacy transaction.
func (tx *Transaction) MsgTx() (*wire.MsgTx, error) {
	if len(tx.BinOutputs) == 0 && len(tx.Outputs) > 0 {
		return nil, ErrNotSerialized
	}
	msg := wire.NewMsgTx(int32(tx.Version))
	for _, in := range tx.Inputs {
		prev := in.PrevHash.Outpoint()
		txin := wire.NewTxIn(wire.NewOutPoint(&prev, in.PrevIndex), in.ScriptSig, nil)
		txin.Sequence = in.Sequence
		msg.AddTxIn(txin)
	}
	for _, out := range tx.BinOutputs {
		msg.AddTxOut(wire.NewTxOut(int64(out.Amount), out.ScriptPubKey))
	}
	msg.LockTime = tx.LockTime
	return msg, nil
}

// EncodeLegacy returns the legacy raw encoding of the transaction: version,
// inputs, outputs and lock time, followed by any opaque extra data.
func (tx *Transaction) EncodeLegacy() ([]byte, error) {
	msg, err := tx.MsgTx()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSizeStripped() + len(tx.ExtraData))
	if err := msg.SerializeNoWitness(&buf); err != nil {
		return nil, err
	}
	buf.Write(tx.ExtraData)
	return buf.Bytes(), nil
}

// Hash computes the transaction id, the double SHA256 of the legacy encoding.
func (tx *Transaction) Hash() (Hash, error) {
	raw, err := tx.EncodeLegacy()
	if err != nil {
		return Hash{}, err
	}
	return HashFromChain(chainhash.DoubleHashH(raw)), nil
}

// DecodeLegacy parses a raw transaction (with or without witness data) into a
// previous transaction descriptor. Witnesses are dropped, trailing bytes
// after the lock time are kept as extra data.
func DecodeLegacy(raw []byte) (*Transaction, error) {
	var (
		msg    wire.MsgTx
		reader = bytes.NewReader(raw)
	)
	if err := msg.Deserialize(reader); err != nil {
		return nil, err
	}
	tx := FromMsgTx(&msg)
	if reader.Len() > 0 {
		extra, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		tx.ExtraData = extra
	}
	return tx, nil
}

// FromMsgTx converts a btcd wire transaction into a previous transaction
// descriptor with serialized outputs.
func FromMsgTx(msg *wire.MsgTx) *Transaction {
	tx := &Transaction{
		Version:    uint32(msg.Version),
		LockTime:   msg.LockTime,
		Inputs:     make([]*TxInput, len(msg.TxIn)),
		BinOutputs: make([]*TxOutputBin, len(msg.TxOut)),
	}
	for i, in := range msg.TxIn {
		tx.Inputs[i] = &TxInput{
			PrevHash:  HashFromChain(in.PreviousOutPoint.Hash),
			PrevIndex: in.PreviousOutPoint.Index,
			ScriptSig: bytes.Clone(in.SignatureScript),
			Sequence:  in.Sequence,
		}
	}
	for i, out := range msg.TxOut {
		tx.BinOutputs[i] = &TxOutputBin{
			Amount:       uint64(out.Value),
			ScriptPubKey: bytes.Clone(out.PkScript),
		}
	}
	return tx
}
