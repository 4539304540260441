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

package messages

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsign/btcsign/core/types"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrUnknownMessage is returned when decoding a message type id that is not
	// part of the supported protocol subset.
	ErrUnknownMessage = errors.New("unknown message type")

	errWireType = errors.New("unexpected wire type")
)

// Marshal encodes the protobuf body of a message. The message type id is not
// part of the body, it is framed separately by the transport.
func Marshal(msg Message) []byte {
	return msg.appendProto(nil)
}

// Unmarshal decodes the protobuf body of a message of the given type.
func Unmarshal(kind MessageType, data []byte) (Message, error) {
	msg := New(kind)
	if msg == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, uint16(kind))
	}
	if err := msg.decodeProto(data); err != nil {
		return nil, fmt.Errorf("invalid %v: %w", kind, err)
	}
	return msg, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendOptUint32(b []byte, num protowire.Number, v *uint32) []byte {
	if v == nil {
		return b
	}
	return appendVarint(b, num, uint64(*v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendPath(b []byte, num protowire.Number, path []uint32) []byte {
	for _, idx := range path {
		b = appendVarint(b, num, uint64(idx))
	}
	return b
}

// fieldFunc decodes a single field and returns the number of bytes consumed.
// Returning zero skips the field as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func readVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w %d", errWireType, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	return v, n, nil
}

func readUint32(typ protowire.Type, b []byte, dst *uint32) (int, error) {
	v, n, err := readVarint(typ, b)
	*dst = uint32(v)
	return n, err
}

func readUint64(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	v, n, err := readVarint(typ, b)
	*dst = v
	return n, err
}

func readOptUint32(typ protowire.Type, b []byte, dst **uint32) (int, error) {
	v, n, err := readVarint(typ, b)
	u := uint32(v)
	*dst = &u
	return n, err
}

func readBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	v, n, err := readVarint(typ, b)
	*dst = protowire.DecodeBool(v)
	return n, err
}

func readOptBool(typ protowire.Type, b []byte, dst **bool) (int, error) {
	v, n, err := readVarint(typ, b)
	flag := protowire.DecodeBool(v)
	*dst = &flag
	return n, err
}

func readBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w %d", errWireType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	*dst = bytes.Clone(v)
	return n, nil
}

func readString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w %d", errWireType, typ)
	}
	v, n := protowire.ConsumeString(b)
	*dst = v
	return n, nil
}

func readHash(typ protowire.Type, b []byte, dst *types.Hash) (int, error) {
	var raw []byte
	n, err := readBytes(typ, b, &raw)
	if err != nil || n < 0 {
		return n, err
	}
	if len(raw) != types.HashLength {
		return 0, fmt.Errorf("invalid hash length %d", len(raw))
	}
	*dst = types.BytesToHash(raw)
	return n, nil
}

func readOptHash(typ protowire.Type, b []byte, dst **types.Hash) (int, error) {
	h := new(types.Hash)
	n, err := readHash(typ, b, h)
	*dst = h
	return n, err
}

// readPath decodes a repeated uint32, accepting both the unpacked encoding
// written by this package and the packed one.
func readPath(typ protowire.Type, b []byte, dst *[]uint32) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		*dst = append(*dst, uint32(v))
		return n, nil

	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			*dst = append(*dst, uint32(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w %d", errWireType, typ)
}

func readEmbedded(typ protowire.Type, b []byte, decode func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w %d", errWireType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, decode(v)
}

func emptyMessage(b []byte) error {
	return decodeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return 0, nil
	})
}

func (m *Initialize) appendProto(b []byte) []byte           { return b }
func (m *Initialize) decodeProto(b []byte) error            { return emptyMessage(b) }
func (m *Cancel) appendProto(b []byte) []byte               { return b }
func (m *Cancel) decodeProto(b []byte) error                { return emptyMessage(b) }
func (m *ButtonAck) appendProto(b []byte) []byte            { return b }
func (m *ButtonAck) decodeProto(b []byte) error             { return emptyMessage(b) }
func (m *PassphraseRequest) appendProto(b []byte) []byte    { return b }
func (m *PassphraseRequest) decodeProto(b []byte) error     { return emptyMessage(b) }
func (m *DoPreauthorized) appendProto(b []byte) []byte      { return b }
func (m *DoPreauthorized) decodeProto(b []byte) error       { return emptyMessage(b) }
func (m *PreauthorizedRequest) appendProto(b []byte) []byte { return b }
func (m *PreauthorizedRequest) decodeProto(b []byte) error  { return emptyMessage(b) }

func (m *Ping) appendProto(b []byte) []byte {
	if m.Message != "" {
		b = appendString(b, 1, m.Message)
	}
	return b
}

func (m *Ping) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return readString(typ, b, &m.Message)
		}
		return 0, nil
	})
}

func (m *Success) appendProto(b []byte) []byte {
	if m.Message != "" {
		b = appendString(b, 1, m.Message)
	}
	return b
}

func (m *Success) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return readString(typ, b, &m.Message)
		}
		return 0, nil
	})
}

func (m *Failure) appendProto(b []byte) []byte {
	if m.Code != 0 {
		b = appendVarint(b, 1, uint64(m.Code))
	}
	if m.Message != "" {
		b = appendString(b, 2, m.Message)
	}
	return b
}

func (m *Failure) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readUint32(typ, b, (*uint32)(&m.Code))
		case 2:
			return readString(typ, b, &m.Message)
		}
		return 0, nil
	})
}

func (m *Features) appendProto(b []byte) []byte {
	if m.Vendor != "" {
		b = appendString(b, 1, m.Vendor)
	}
	b = appendVarint(b, 2, uint64(m.MajorVersion))
	b = appendVarint(b, 3, uint64(m.MinorVersion))
	b = appendVarint(b, 4, uint64(m.PatchVersion))
	if m.BootloaderMode {
		b = appendBool(b, 5, true)
	}
	if m.DeviceID != "" {
		b = appendString(b, 6, m.DeviceID)
	}
	b = appendBool(b, 7, m.PinProtection)
	b = appendBool(b, 8, m.PassphraseProtection)
	if m.Label != "" {
		b = appendString(b, 10, m.Label)
	}
	b = appendBool(b, 12, m.Initialized)
	if m.Model != "" {
		b = appendString(b, 21, m.Model)
	}
	return b
}

func (m *Features) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.Vendor)
		case 2:
			return readUint32(typ, b, &m.MajorVersion)
		case 3:
			return readUint32(typ, b, &m.MinorVersion)
		case 4:
			return readUint32(typ, b, &m.PatchVersion)
		case 5:
			return readBool(typ, b, &m.BootloaderMode)
		case 6:
			return readString(typ, b, &m.DeviceID)
		case 7:
			return readBool(typ, b, &m.PinProtection)
		case 8:
			return readBool(typ, b, &m.PassphraseProtection)
		case 10:
			return readString(typ, b, &m.Label)
		case 12:
			return readBool(typ, b, &m.Initialized)
		case 21:
			return readString(typ, b, &m.Model)
		}
		return 0, nil
	})
}

func (m *ButtonRequest) appendProto(b []byte) []byte {
	if m.Code != 0 {
		b = appendVarint(b, 1, uint64(m.Code))
	}
	return b
}

func (m *ButtonRequest) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return readUint32(typ, b, (*uint32)(&m.Code))
		}
		return 0, nil
	})
}

func (m *PinMatrixRequest) appendProto(b []byte) []byte {
	if m.Kind != 0 {
		b = appendVarint(b, 1, uint64(m.Kind))
	}
	return b
}

func (m *PinMatrixRequest) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return readUint32(typ, b, &m.Kind)
		}
		return 0, nil
	})
}

func (m *PinMatrixAck) appendProto(b []byte) []byte {
	return appendString(b, 1, m.Pin)
}

func (m *PinMatrixAck) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return readString(typ, b, &m.Pin)
		}
		return 0, nil
	})
}

func (m *PassphraseAck) appendProto(b []byte) []byte {
	if m.Passphrase != "" {
		b = appendString(b, 1, m.Passphrase)
	}
	if m.OnDevice {
		b = appendBool(b, 3, true)
	}
	return b
}

func (m *PassphraseAck) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &m.Passphrase)
		case 3:
			return readBool(typ, b, &m.OnDevice)
		}
		return 0, nil
	})
}

func (m *SignTx) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.OutputsCount))
	b = appendVarint(b, 2, uint64(m.InputsCount))
	b = appendString(b, 3, m.CoinName)
	b = appendOptUint32(b, 4, m.Version)
	b = appendOptUint32(b, 5, m.LockTime)
	b = appendOptUint32(b, 6, m.Expiry)
	b = appendOptUint32(b, 9, m.Timestamp)
	if m.Serialize != nil {
		b = appendBool(b, 13, *m.Serialize)
	}
	return b
}

func (m *SignTx) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readUint32(typ, b, &m.OutputsCount)
		case 2:
			return readUint32(typ, b, &m.InputsCount)
		case 3:
			return readString(typ, b, &m.CoinName)
		case 4:
			return readOptUint32(typ, b, &m.Version)
		case 5:
			return readOptUint32(typ, b, &m.LockTime)
		case 6:
			return readOptUint32(typ, b, &m.Expiry)
		case 9:
			return readOptUint32(typ, b, &m.Timestamp)
		case 13:
			return readOptBool(typ, b, &m.Serialize)
		}
		return 0, nil
	})
}

func (m *TxRequest) appendProto(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.RequestType))
	if d := m.Details; d != nil {
		var sub []byte
		sub = appendVarint(sub, 1, uint64(d.RequestIndex))
		if d.TxHash != nil {
			sub = appendBytes(sub, 2, d.TxHash.Bytes())
		}
		sub = appendOptUint32(sub, 3, d.ExtraDataLen)
		sub = appendOptUint32(sub, 4, d.ExtraDataOffset)
		b = appendBytes(b, 2, sub)
	}
	if s := m.Serialized; s != nil {
		var sub []byte
		sub = appendOptUint32(sub, 1, s.SignatureIndex)
		if s.Signature != nil {
			sub = appendBytes(sub, 2, s.Signature)
		}
		if s.SerializedTx != nil {
			sub = appendBytes(sub, 3, s.SerializedTx)
		}
		b = appendBytes(b, 3, sub)
	}
	return b
}

func (m *TxRequest) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readUint32(typ, b, (*uint32)(&m.RequestType))
		case 2:
			m.Details = new(TxRequestDetails)
			return readEmbedded(typ, b, m.Details.decodeProto)
		case 3:
			m.Serialized = new(TxRequestSerialized)
			return readEmbedded(typ, b, m.Serialized.decodeProto)
		}
		return 0, nil
	})
}

func (d *TxRequestDetails) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readUint32(typ, b, &d.RequestIndex)
		case 2:
			return readOptHash(typ, b, &d.TxHash)
		case 3:
			return readOptUint32(typ, b, &d.ExtraDataLen)
		case 4:
			return readOptUint32(typ, b, &d.ExtraDataOffset)
		}
		return 0, nil
	})
}

func (s *TxRequestSerialized) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readOptUint32(typ, b, &s.SignatureIndex)
		case 2:
			return readBytes(typ, b, &s.Signature)
		case 3:
			return readBytes(typ, b, &s.SerializedTx)
		}
		return 0, nil
	})
}

func (m *TxAck) appendProto(b []byte) []byte {
	if m.Tx != nil {
		b = appendBytes(b, 1, m.Tx.appendProto(nil))
	}
	return b
}

func (m *TxAck) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			m.Tx = new(TransactionType)
			return readEmbedded(typ, b, m.Tx.decodeProto)
		}
		return 0, nil
	})
}

func (tx *TransactionType) appendProto(b []byte) []byte {
	b = appendOptUint32(b, 1, tx.Version)
	for _, in := range tx.Inputs {
		b = appendBytes(b, 2, appendInput(nil, in))
	}
	for _, out := range tx.BinOutputs {
		b = appendBytes(b, 3, appendBinOutput(nil, out))
	}
	b = appendOptUint32(b, 4, tx.LockTime)
	for _, out := range tx.Outputs {
		b = appendBytes(b, 5, appendOutput(nil, out))
	}
	b = appendOptUint32(b, 6, tx.InputsCnt)
	b = appendOptUint32(b, 7, tx.OutputsCnt)
	if tx.ExtraData != nil {
		b = appendBytes(b, 8, tx.ExtraData)
	}
	b = appendOptUint32(b, 9, tx.ExtraDataLen)
	b = appendOptUint32(b, 10, tx.Expiry)
	b = appendOptUint32(b, 13, tx.Timestamp)
	return b
}

func (tx *TransactionType) decodeProto(b []byte) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readOptUint32(typ, b, &tx.Version)
		case 2:
			in := &types.TxInput{Sequence: types.DefaultSequence}
			tx.Inputs = append(tx.Inputs, in)
			return readEmbedded(typ, b, func(b []byte) error { return decodeInput(b, in) })
		case 3:
			out := new(types.TxOutputBin)
			tx.BinOutputs = append(tx.BinOutputs, out)
			return readEmbedded(typ, b, func(b []byte) error { return decodeBinOutput(b, out) })
		case 4:
			return readOptUint32(typ, b, &tx.LockTime)
		case 5:
			out := new(types.TxOutput)
			tx.Outputs = append(tx.Outputs, out)
			return readEmbedded(typ, b, func(b []byte) error { return decodeOutput(b, out) })
		case 6:
			return readOptUint32(typ, b, &tx.InputsCnt)
		case 7:
			return readOptUint32(typ, b, &tx.OutputsCnt)
		case 8:
			return readBytes(typ, b, &tx.ExtraData)
		case 9:
			return readOptUint32(typ, b, &tx.ExtraDataLen)
		case 10:
			return readOptUint32(typ, b, &tx.Expiry)
		case 13:
			return readOptUint32(typ, b, &tx.Timestamp)
		}
		return 0, nil
	})
}

// appendInput encodes a TxInputType. Inputs of previous transactions always
// carry a script_sig, even an empty one.
func appendInput(b []byte, in *types.TxInput) []byte {
	b = appendPath(b, 1, in.AddressN)
	b = appendBytes(b, 2, in.PrevHash.Bytes())
	b = appendVarint(b, 3, uint64(in.PrevIndex))
	if in.ScriptSig != nil || len(in.AddressN) == 0 {
		b = appendBytes(b, 4, in.ScriptSig)
	}
	b = appendVarint(b, 5, uint64(in.Sequence))
	b = appendVarint(b, 6, uint64(in.ScriptType))
	if in.Amount != 0 {
		b = appendVarint(b, 8, in.Amount)
	}
	if in.OrigHash != nil {
		b = appendBytes(b, 16, in.OrigHash.Bytes())
	}
	b = appendOptUint32(b, 17, in.OrigIndex)
	if in.ScriptPubKey != nil {
		b = appendBytes(b, 19, in.ScriptPubKey)
	}
	return b
}

func decodeInput(b []byte, in *types.TxInput) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readPath(typ, b, &in.AddressN)
		case 2:
			return readHash(typ, b, &in.PrevHash)
		case 3:
			return readUint32(typ, b, &in.PrevIndex)
		case 4:
			return readBytes(typ, b, &in.ScriptSig)
		case 5:
			return readUint32(typ, b, &in.Sequence)
		case 6:
			return readUint32(typ, b, (*uint32)(&in.ScriptType))
		case 8:
			return readUint64(typ, b, &in.Amount)
		case 16:
			return readOptHash(typ, b, &in.OrigHash)
		case 17:
			return readOptUint32(typ, b, &in.OrigIndex)
		case 19:
			return readBytes(typ, b, &in.ScriptPubKey)
		}
		return 0, nil
	})
}

func appendOutput(b []byte, out *types.TxOutput) []byte {
	if out.Address != "" {
		b = appendString(b, 1, out.Address)
	}
	b = appendPath(b, 2, out.AddressN)
	b = appendVarint(b, 3, out.Amount)
	b = appendVarint(b, 4, uint64(out.ScriptType))
	if out.OpReturnData != nil {
		b = appendBytes(b, 6, out.OpReturnData)
	}
	if out.OrigHash != nil {
		b = appendBytes(b, 10, out.OrigHash.Bytes())
	}
	b = appendOptUint32(b, 11, out.OrigIndex)
	return b
}

func decodeOutput(b []byte, out *types.TxOutput) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readString(typ, b, &out.Address)
		case 2:
			return readPath(typ, b, &out.AddressN)
		case 3:
			return readUint64(typ, b, &out.Amount)
		case 4:
			return readUint32(typ, b, (*uint32)(&out.ScriptType))
		case 6:
			return readBytes(typ, b, &out.OpReturnData)
		case 10:
			return readOptHash(typ, b, &out.OrigHash)
		case 11:
			return readOptUint32(typ, b, &out.OrigIndex)
		}
		return 0, nil
	})
}

func appendBinOutput(b []byte, out *types.TxOutputBin) []byte {
	b = appendVarint(b, 1, out.Amount)
	return appendBytes(b, 2, out.ScriptPubKey)
}

func decodeBinOutput(b []byte, out *types.TxOutputBin) error {
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return readUint64(typ, b, &out.Amount)
		case 2:
			return readBytes(typ, b, &out.ScriptPubKey)
		}
		return 0, nil
	})
}
