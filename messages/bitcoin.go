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
	"fmt"

	"github.com/btcsign/btcsign/core/types"
)

// SignTx starts the streamed signing of a transaction. Everything else about
// the transaction is requested piecewise by the device with TxRequest.
type SignTx struct {
	OutputsCount uint32
	InputsCount  uint32
	CoinName     string
	Version      *uint32
	LockTime     *uint32
	Expiry       *uint32
	Timestamp    *uint32
	Serialize    *bool
}

func (*SignTx) Type() MessageType { return MessageTypeSignTx }

// RequestType is the kind of data a TxRequest asks for.
type RequestType uint32

const (
	RequestInput      RequestType = 0
	RequestOutput     RequestType = 1
	RequestMeta       RequestType = 2
	RequestFinished   RequestType = 3
	RequestExtraData  RequestType = 4
	RequestOrigInput  RequestType = 5
	RequestOrigOutput RequestType = 6
)

func (t RequestType) String() string {
	switch t {
	case RequestInput:
		return "TXINPUT"
	case RequestOutput:
		return "TXOUTPUT"
	case RequestMeta:
		return "TXMETA"
	case RequestFinished:
		return "TXFINISHED"
	case RequestExtraData:
		return "TXEXTRADATA"
	case RequestOrigInput:
		return "TXORIGINPUT"
	case RequestOrigOutput:
		return "TXORIGOUTPUT"
	}
	return fmt.Sprintf("RequestType(%d)", uint32(t))
}

// TxRequestDetails addresses the element the device asks for. A nil TxHash
// refers to the transaction being signed, otherwise to a previous transaction.
type TxRequestDetails struct {
	RequestIndex    uint32
	TxHash          *types.Hash
	ExtraDataLen    *uint32
	ExtraDataOffset *uint32
}

// TxRequestSerialized carries a piece of the signing result.
type TxRequestSerialized struct {
	SignatureIndex *uint32
	Signature      []byte
	SerializedTx   []byte
}

// TxRequest is sent by the device to ask for the next piece of data. It may
// carry a fragment of the serialized transaction and an input signature.
type TxRequest struct {
	RequestType RequestType
	Details     *TxRequestDetails
	Serialized  *TxRequestSerialized
}

func (*TxRequest) Type() MessageType { return MessageTypeTxRequest }

// Index returns the requested element index, zero if no details were sent.
func (r *TxRequest) Index() uint32 {
	if r.Details == nil {
		return 0
	}
	return r.Details.RequestIndex
}

// PrevHash returns the addressed previous transaction, nil for the
// transaction being signed.
func (r *TxRequest) PrevHash() *types.Hash {
	if r.Details == nil {
		return nil
	}
	return r.Details.TxHash
}

// TransactionType is the partial transaction carried by a TxAck. Exactly the
// fields relevant to the answered request are set.
type TransactionType struct {
	Version      *uint32
	Inputs       []*types.TxInput
	BinOutputs   []*types.TxOutputBin
	LockTime     *uint32
	Outputs      []*types.TxOutput
	InputsCnt    *uint32
	OutputsCnt   *uint32
	ExtraData    []byte
	ExtraDataLen *uint32
	Expiry       *uint32
	Timestamp    *uint32
}

// TxAck answers a TxRequest.
type TxAck struct {
	Tx *TransactionType
}

func (*TxAck) Type() MessageType { return MessageTypeTxAck }
