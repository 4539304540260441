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
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/messages"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/log"
)

// extraDataChunk is the largest piece of extra data requested at once.
const extraDataChunk = 1024

// failure is an error reported to the host as a Failure message.
type failure struct {
	code messages.FailureType
	msg  string
}

func (f *failure) Error() string { return f.msg }

func dataError(msg string) error {
	return &failure{code: messages.FailureDataError, msg: msg}
}

var (
	errCancelled  = &failure{code: messages.FailureActionCancelled, msg: "Cancelled"}
	errUnexpected = &failure{code: messages.FailureUnexpectedMessage, msg: "Unexpected message"}
	errChanged    = &failure{code: messages.FailureProcessError, msg: "Transaction has changed during signing"}
)

var networks = map[string]*chaincfg.Params{
	"Bitcoin": &chaincfg.MainNetParams,
	"Testnet": &chaincfg.TestNet3Params,
	"Regtest": &chaincfg.RegressionNetParams,
}

// signing is the device side state of a single signing dialogue. Only the
// counts and digests of the transaction are kept, every element is requested
// from the host again whenever it is needed.
type signing struct {
	dev    *Device
	params *chaincfg.Params
	keys   *Keychain

	version   uint32
	locktime  uint32
	inputs    uint32
	outputs   uint32
	serialize bool

	inputsDigest  []byte // Digest of the inputs as first seen
	outputsDigest []byte // Digest of the outputs as first seen

	pending *messages.TxRequestSerialized // Result piggybacked on the next request
	log     log.Logger
}

// keychain returns the keys of the device for the network of a coin.
func (d *Device) keychain(coin string) (*Keychain, *chaincfg.Params, error) {
	params, ok := networks[coin]
	if !ok {
		return nil, nil, dataError("Invalid coin name")
	}
	if keys, ok := d.keys[coin]; ok {
		return keys, params, nil
	}
	keys, err := NewKeychain(d.config.Mnemonic, d.config.Passphrase, params)
	if err != nil {
		return nil, nil, err
	}
	d.keys[coin] = keys
	return keys, params, nil
}

// signTx runs the device side of the signing dialogue.
func (d *Device) signTx(msg *messages.SignTx) error {
	coin := msg.CoinName
	if coin == "" {
		coin = "Bitcoin"
	}
	keys, params, err := d.keychain(coin)
	if err != nil {
		return err
	}
	s := &signing{
		dev:       d,
		params:    params,
		keys:      keys,
		version:   1,
		inputs:    msg.InputsCount,
		outputs:   msg.OutputsCount,
		serialize: msg.Serialize == nil || *msg.Serialize,
		log:       d.log.New("coin", coin),
	}
	if msg.Version != nil {
		s.version = *msg.Version
	}
	if msg.LockTime != nil {
		s.locktime = *msg.LockTime
	}
	if s.inputs == 0 {
		return dataError("Transaction must have at least one input")
	}
	if s.outputs == 0 {
		return dataError("Transaction must have at least one output")
	}
	return s.run()
}

func (s *signing) run() error {
	if err := s.checkTransaction(); err != nil {
		return err
	}
	if err := s.checkPrevious(); err != nil {
		return err
	}
	for i := uint32(0); i < s.inputs; i++ {
		if err := s.signInput(i); err != nil {
			return err
		}
	}
	for j := uint32(0); j < s.outputs; j++ {
		if err := s.serializeOutput(j); err != nil {
			return err
		}
	}
	s.log.Debug("Transaction signed", "inputs", s.inputs, "outputs", s.outputs)
	return s.dev.emit(&messages.TxRequest{RequestType: messages.RequestFinished, Serialized: s.pending})
}

// checkTransaction streams the inputs and outputs once to validate them and
// let the user confirm the outputs and the fee.
func (s *signing) checkTransaction() error {
	var (
		ih, oh            = sha256.New(), sha256.New()
		totalIn, totalOut uint64
	)
	for i := uint32(0); i < s.inputs; i++ {
		in, err := s.input(i, nil)
		if err != nil {
			return err
		}
		if in.ScriptType != types.SpendAddress {
			return dataError("Unsupported script type")
		}
		if len(in.AddressN) == 0 {
			return dataError("Missing address_n")
		}
		digestInput(ih, in)
		totalIn += in.Amount
	}
	for j := uint32(0); j < s.outputs; j++ {
		out, err := s.output(j)
		if err != nil {
			return err
		}
		_, change, err := s.compileOutput(out)
		if err != nil {
			return err
		}
		digestOutput(oh, out)
		if !change {
			if err := s.dev.confirm(messages.ButtonRequestConfirmOutput); err != nil {
				return err
			}
		}
		totalOut += out.Amount
	}
	if totalIn < totalOut {
		return &failure{code: messages.FailureNotEnoughFunds, msg: "Not enough funds"}
	}
	s.log.Trace("Transaction checked", "in", totalIn, "out", totalOut, "fee", totalIn-totalOut)
	if err := s.dev.confirm(messages.ButtonRequestSignTx); err != nil {
		return err
	}
	s.inputsDigest, s.outputsDigest = ih.Sum(nil), oh.Sum(nil)
	return nil
}

// checkPrevious verifies the amount of every input against the previous
// transaction it spends.
func (s *signing) checkPrevious() error {
	ih := sha256.New()
	for i := uint32(0); i < s.inputs; i++ {
		in, err := s.input(i, nil)
		if err != nil {
			return err
		}
		digestInput(ih, in)

		amount, err := s.previousAmount(in)
		if err != nil {
			return err
		}
		if amount != in.Amount {
			return dataError("Invalid amount specified")
		}
	}
	if !bytes.Equal(ih.Sum(nil), s.inputsDigest) {
		return errChanged
	}
	return nil
}

// previousAmount streams the previous transaction of an input, checks that it
// hashes to the input's previous hash and returns the spent amount.
func (s *signing) previousAmount(in *types.TxInput) (uint64, error) {
	hash := in.PrevHash
	meta, err := s.request(messages.RequestMeta, 0, &hash)
	if err != nil {
		return 0, err
	}
	if meta.InputsCnt == nil || meta.OutputsCnt == nil {
		return 0, dataError("Invalid previous transaction metadata")
	}
	if in.PrevIndex >= *meta.OutputsCnt {
		return 0, dataError("Not enough outputs in previous transaction.")
	}
	var (
		h        = sha256.New()
		version  = uint32(1)
		locktime uint32
		amount   uint64
	)
	if meta.Version != nil {
		version = *meta.Version
	}
	if meta.LockTime != nil {
		locktime = *meta.LockTime
	}
	writeUint32(h, version)
	wire.WriteVarInt(h, 0, uint64(*meta.InputsCnt))
	for k := uint32(0); k < *meta.InputsCnt; k++ {
		prev, err := s.input(k, &hash)
		if err != nil {
			return 0, err
		}
		writeInput(h, prev, prev.ScriptSig)
	}
	wire.WriteVarInt(h, 0, uint64(*meta.OutputsCnt))
	for k := uint32(0); k < *meta.OutputsCnt; k++ {
		out, err := s.binOutput(k, &hash)
		if err != nil {
			return 0, err
		}
		writeOutput(h, out.Amount, out.ScriptPubKey)
		if k == in.PrevIndex {
			amount = out.Amount
		}
	}
	writeUint32(h, locktime)

	if meta.ExtraDataLen != nil {
		for offset := uint32(0); offset < *meta.ExtraDataLen; offset += extraDataChunk {
			size := min(extraDataChunk, *meta.ExtraDataLen-offset)
			chunk, err := s.extraData(&hash, offset, size)
			if err != nil {
				return 0, err
			}
			h.Write(chunk)
		}
	}
	if have := types.HashFromChain(chainhash.Hash(sha256.Sum256(h.Sum(nil)))); have != hash {
		s.log.Debug("Previous transaction hash mismatch", "want", hash, "have", have)
		return 0, dataError("Encountered invalid prevhash")
	}
	return amount, nil
}

// signInput streams the whole transaction again to compute the signature
// hash of input i, signs it and queues the signature and the serialized input
// for the host.
func (s *signing) signInput(i uint32) error {
	var (
		ih, oh = sha256.New(), sha256.New()
		tx     = wire.NewMsgTx(int32(s.version))
		signer *types.TxInput
	)
	tx.LockTime = s.locktime
	for j := uint32(0); j < s.inputs; j++ {
		in, err := s.input(j, nil)
		if err != nil {
			return err
		}
		digestInput(ih, in)
		prev := in.PrevHash.Outpoint()
		txin := wire.NewTxIn(wire.NewOutPoint(&prev, in.PrevIndex), nil, nil)
		txin.Sequence = in.Sequence
		tx.AddTxIn(txin)
		if j == i {
			signer = in
		}
	}
	for j := uint32(0); j < s.outputs; j++ {
		out, err := s.output(j)
		if err != nil {
			return err
		}
		script, _, err := s.compileOutput(out)
		if err != nil {
			return err
		}
		digestOutput(oh, out)
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), script))
	}
	if !bytes.Equal(ih.Sum(nil), s.inputsDigest) || !bytes.Equal(oh.Sum(nil), s.outputsDigest) {
		return errChanged
	}
	key, err := s.keys.Derive(accounts.DerivationPath(signer.AddressN))
	if err != nil {
		return &failure{code: messages.FailureProcessError, msg: err.Error()}
	}
	pubkey := key.PubKey().SerializeCompressed()
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubkey), s.params)
	if err != nil {
		return err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	digest, err := txscript.CalcSignatureHash(script, txscript.SigHashAll, tx, int(i))
	if err != nil {
		return &failure{code: messages.FailureProcessError, msg: err.Error()}
	}
	sig := sign(key, digest)

	scriptSig, err := txscript.NewScriptBuilder().
		AddData(append(bytes.Clone(sig), byte(txscript.SigHashAll))).
		AddData(pubkey).
		Script()
	if err != nil {
		return err
	}
	index := i
	s.pending = &messages.TxRequestSerialized{SignatureIndex: &index, Signature: sig}
	if s.serialize {
		var buf bytes.Buffer
		if i == 0 {
			writeUint32(&buf, s.version)
			wire.WriteVarInt(&buf, 0, uint64(s.inputs))
		}
		writeInput(&buf, signer, scriptSig)
		s.pending.SerializedTx = buf.Bytes()
	}
	s.log.Trace("Input signed", "index", i, "path", accounts.DerivationPath(signer.AddressN))
	return nil
}

// serializeOutput queues the serialized output j for the host, followed by
// the lock time after the last one.
func (s *signing) serializeOutput(j uint32) error {
	out, err := s.output(j)
	if err != nil {
		return err
	}
	script, _, err := s.compileOutput(out)
	if err != nil {
		return err
	}
	if !s.serialize {
		return nil
	}
	var buf bytes.Buffer
	if j == 0 {
		wire.WriteVarInt(&buf, 0, uint64(s.outputs))
	}
	writeOutput(&buf, out.Amount, script)
	if j == s.outputs-1 {
		writeUint32(&buf, s.locktime)
	}
	s.pending = &messages.TxRequestSerialized{SerializedTx: buf.Bytes()}
	return nil
}

// compileOutput validates a structured output and converts it into its
// script. Outputs paying back to the device are reported as change.
func (s *signing) compileOutput(out *types.TxOutput) ([]byte, bool, error) {
	if out.ScriptType == types.PayToOpReturn {
		switch {
		case len(out.AddressN) > 0:
			return nil, false, dataError("Output's address_n provided but not expected.")
		case out.Amount != 0:
			return nil, false, dataError("OP_RETURN output with non-zero amount")
		case out.Address != "":
			return nil, false, dataError("Output's address provided but not expected.")
		}
		script, err := txscript.NullDataScript(out.OpReturnData)
		if err != nil {
			return nil, false, dataError("Invalid OP_RETURN data")
		}
		return script, false, nil
	}
	switch {
	case out.OpReturnData != nil:
		return nil, false, dataError("OP RETURN data provided but not OP RETURN script type.")
	case out.Address != "" && len(out.AddressN) > 0:
		return nil, false, dataError("Both address and address_n provided.")
	case out.Address == "" && len(out.AddressN) == 0:
		return nil, false, dataError("Missing address")
	case out.ScriptType != types.PayToAddress:
		return nil, false, dataError("Unsupported script type")
	}
	if len(out.AddressN) > 0 {
		addr, err := s.keys.Address(accounts.DerivationPath(out.AddressN))
		if err != nil {
			return nil, false, &failure{code: messages.FailureProcessError, msg: err.Error()}
		}
		script, err := txscript.PayToAddrScript(addr)
		return script, true, err
	}
	addr, err := btcutil.DecodeAddress(out.Address, s.params)
	if err != nil || !addr.IsForNet(s.params) {
		return nil, false, dataError("Invalid address")
	}
	script, err := txscript.PayToAddrScript(addr)
	return script, false, err
}

// request asks the host for a piece of a transaction, handing over any queued
// result along the way.
func (s *signing) request(kind messages.RequestType, index uint32, prev *types.Hash) (*messages.TransactionType, error) {
	return s.requestDetails(kind, &messages.TxRequestDetails{RequestIndex: index, TxHash: prev})
}

func (s *signing) requestDetails(kind messages.RequestType, details *messages.TxRequestDetails) (*messages.TransactionType, error) {
	req := &messages.TxRequest{RequestType: kind, Details: details, Serialized: s.pending}
	s.pending = nil

	res, err := s.dev.exchange(req)
	if err != nil {
		return nil, err
	}
	ack, ok := res.(*messages.TxAck)
	if !ok || ack.Tx == nil {
		return nil, errUnexpected
	}
	return ack.Tx, nil
}

func (s *signing) input(index uint32, prev *types.Hash) (*types.TxInput, error) {
	tx, err := s.request(messages.RequestInput, index, prev)
	if err != nil {
		return nil, err
	}
	if len(tx.Inputs) != 1 {
		return nil, dataError("Expected exactly one input")
	}
	return tx.Inputs[0], nil
}

func (s *signing) output(index uint32) (*types.TxOutput, error) {
	tx, err := s.request(messages.RequestOutput, index, nil)
	if err != nil {
		return nil, err
	}
	if len(tx.Outputs) != 1 {
		return nil, dataError("Expected exactly one output")
	}
	return tx.Outputs[0], nil
}

func (s *signing) binOutput(index uint32, prev *types.Hash) (*types.TxOutputBin, error) {
	tx, err := s.request(messages.RequestOutput, index, prev)
	if err != nil {
		return nil, err
	}
	if len(tx.BinOutputs) != 1 {
		return nil, dataError("Expected exactly one serialized output")
	}
	return tx.BinOutputs[0], nil
}

func (s *signing) extraData(prev *types.Hash, offset, size uint32) ([]byte, error) {
	tx, err := s.requestDetails(messages.RequestExtraData, &messages.TxRequestDetails{
		TxHash:          prev,
		ExtraDataOffset: &offset,
		ExtraDataLen:    &size,
	})
	if err != nil {
		return nil, err
	}
	if uint32(len(tx.ExtraData)) != size {
		return nil, dataError("Invalid extra data length")
	}
	return tx.ExtraData, nil
}

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

// writeInput writes an input in the legacy raw encoding.
func writeInput(w io.Writer, in *types.TxInput, script []byte) {
	prev := in.PrevHash.Outpoint()
	w.Write(prev[:])
	writeUint32(w, in.PrevIndex)
	wire.WriteVarBytes(w, 0, script)
	writeUint32(w, in.Sequence)
}

// writeOutput writes an output in the legacy raw encoding.
func writeOutput(w io.Writer, amount uint64, script []byte) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], amount)
	w.Write(b[:])
	wire.WriteVarBytes(w, 0, script)
}

// digestInput feeds every field of an input the device relies on into h.
func digestInput(h hash.Hash, in *types.TxInput) {
	writeInput(h, in, nil)
	binary.Write(h, binary.LittleEndian, []uint64{uint64(in.ScriptType), in.Amount, uint64(len(in.AddressN))})
	binary.Write(h, binary.LittleEndian, in.AddressN)
}

// digestOutput feeds every field of a structured output into h.
func digestOutput(h hash.Hash, out *types.TxOutput) {
	wire.WriteVarString(h, 0, out.Address)
	binary.Write(h, binary.LittleEndian, []uint64{uint64(out.ScriptType), out.Amount, uint64(len(out.AddressN))})
	binary.Write(h, binary.LittleEndian, out.AddressN)
	wire.WriteVarBytes(h, 0, out.OpReturnData)
}
