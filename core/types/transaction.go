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

// Package types contains the transaction model exchanged with signing devices.
package types

import (
	"errors"
	"fmt"
)

// DefaultSequence is the input sequence number used when none is given.
const DefaultSequence = 0xffffffff

var (
	// ErrInputPathAndExternal is returned if an input to be signed is both
	// marked as externally signed and carries a derivation path.
	ErrInputPathAndExternal = errors.New("input has both address_n and external script type")

	// ErrInputNoPath is returned if an input to be signed has neither a
	// derivation path nor an external script type.
	ErrInputNoPath = errors.New("input has neither address_n nor external script type")
)

// InputScriptType is the way an input is (or will be) signed.
type InputScriptType uint32

const (
	SpendAddress     InputScriptType = 0 // Standard P2PKH address
	SpendMultisig    InputScriptType = 1 // P2SH multisig address
	External         InputScriptType = 2 // Reserved for external inputs (coinjoin)
	SpendWitness     InputScriptType = 3 // Native SegWit
	SpendP2SHWitness InputScriptType = 4 // SegWit over P2SH (backward compatible)
	SpendTaproot     InputScriptType = 5 // Taproot
)

var inputScriptNames = map[InputScriptType]string{
	SpendAddress:     "SPENDADDRESS",
	SpendMultisig:    "SPENDMULTISIG",
	External:         "EXTERNAL",
	SpendWitness:     "SPENDWITNESS",
	SpendP2SHWitness: "SPENDP2SHWITNESS",
	SpendTaproot:     "SPENDTAPROOT",
}

func (t InputScriptType) String() string {
	if name, ok := inputScriptNames[t]; ok {
		return name
	}
	return fmt.Sprintf("InputScriptType(%d)", uint32(t))
}

// ParseInputScriptType resolves the textual name of an input script type.
func ParseInputScriptType(name string) (InputScriptType, error) {
	for t, n := range inputScriptNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown input script type %q", name)
}

// OutputScriptType is the kind of script an output pays to.
type OutputScriptType uint32

const (
	PayToAddress     OutputScriptType = 0 // Used for all addresses (bitcoin, p2sh, witness)
	PayToScriptHash  OutputScriptType = 1 // P2SH address
	PayToMultisig    OutputScriptType = 2 // Only for change output
	PayToOpReturn    OutputScriptType = 3 // Op_return
	PayToWitness     OutputScriptType = 4 // Only for change output
	PayToP2SHWitness OutputScriptType = 5 // Only for change output
	PayToTaproot     OutputScriptType = 6 // Only for change output
)

var outputScriptNames = map[OutputScriptType]string{
	PayToAddress:     "PAYTOADDRESS",
	PayToScriptHash:  "PAYTOSCRIPTHASH",
	PayToMultisig:    "PAYTOMULTISIG",
	PayToOpReturn:    "PAYTOOPRETURN",
	PayToWitness:     "PAYTOWITNESS",
	PayToP2SHWitness: "PAYTOP2SHWITNESS",
	PayToTaproot:     "PAYTOTAPROOT",
}

func (t OutputScriptType) String() string {
	if name, ok := outputScriptNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OutputScriptType(%d)", uint32(t))
}

// ParseOutputScriptType resolves the textual name of an output script type.
func ParseOutputScriptType(name string) (OutputScriptType, error) {
	for t, n := range outputScriptNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown output script type %q", name)
}

// TxInput is a transaction input. Inputs of the transaction being signed carry
// either a derivation path or the External script type, inputs of previous
// transactions carry their script_sig instead.
type TxInput struct {
	AddressN   []uint32        // BIP-32 path to derive the key from master node
	PrevHash   Hash            // Id of the previous transaction
	PrevIndex  uint32          // Output index of the previous transaction being spent
	ScriptSig  []byte          // Script signature, only set for previous transactions
	Sequence   uint32          // Sequence number, DefaultSequence if unset
	ScriptType InputScriptType // Script type of the input

	Amount       uint64 // Amount spent by this input in satoshis
	ScriptPubKey []byte // Script of the spent output, external inputs only

	OrigHash  *Hash   // Id of the original transaction (replacement flows)
	OrigIndex *uint32 // Index of the input in the original transaction
}

// Validate checks the derivation path / external marker exclusivity of an
// input belonging to the transaction being signed.
func (in *TxInput) Validate() error {
	hasPath := len(in.AddressN) > 0
	switch {
	case hasPath && in.ScriptType == External:
		return ErrInputPathAndExternal
	case !hasPath && in.ScriptType != External:
		return ErrInputNoPath
	}
	return nil
}

// TxOutput is a structured output of the transaction being signed. It pays to
// either an address or a derivation path (change), the signing device rejects
// outputs that carry both.
type TxOutput struct {
	Address      string           // Target address, set if AddressN is not
	AddressN     []uint32         // BIP-32 path to derive the change key from
	Amount       uint64           // Amount to spend in satoshis
	ScriptType   OutputScriptType // Output script type
	OpReturnData []byte           // Payload of an OP_RETURN output

	OrigHash  *Hash   // Id of the original transaction (replacement flows)
	OrigIndex *uint32 // Index of the output in the original transaction
}

// TxOutputBin is an already serialized output of a previous transaction.
type TxOutputBin struct {
	Amount       uint64
	ScriptPubKey []byte
}

// Transaction describes either the transaction being signed (structured
// Outputs) or a previous transaction referenced by one of its inputs
// (serialized BinOutputs). The element counts sent to the device are always
// derived from the slices, they cannot be set independently.
type Transaction struct {
	Version    uint32
	LockTime   uint32
	Inputs     []*TxInput
	Outputs    []*TxOutput
	BinOutputs []*TxOutputBin
	ExtraData  []byte

	Expiry    *uint32 // Expiry height for coins that have one (Zcash, Decred)
	Timestamp *uint32 // Transaction timestamp for coins that have one (Capricoin)
}

// InputsCount returns the number of inputs in the transaction.
func (tx *Transaction) InputsCount() uint32 {
	return uint32(len(tx.Inputs))
}

// OutputsCount returns the number of outputs, preferring the serialized ones
// if the transaction carries any.
func (tx *Transaction) OutputsCount() uint32 {
	if len(tx.BinOutputs) > 0 {
		return uint32(len(tx.BinOutputs))
	}
	return uint32(len(tx.Outputs))
}

// ExtraDataLen returns the length of the opaque trailing data.
func (tx *Transaction) ExtraDataLen() uint32 {
	return uint32(len(tx.ExtraData))
}

// ValidateInputs runs Validate on every input, reporting the first offender.
func (tx *Transaction) ValidateInputs() error {
	for i, in := range tx.Inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// ExternalInputs returns the indices of the inputs whose signatures are
// supplied by the caller rather than produced by the device.
func (tx *Transaction) ExternalInputs() []int {
	var idx []int
	for i, in := range tx.Inputs {
		if in.ScriptType == External {
			idx = append(idx, i)
		}
	}
	return idx
}

// TotalIn sums the amounts of all inputs.
func (tx *Transaction) TotalIn() uint64 {
	var sum uint64
	for _, in := range tx.Inputs {
		sum += in.Amount
	}
	return sum
}

// TotalOut sums the amounts of all structured or serialized outputs.
func (tx *Transaction) TotalOut() uint64 {
	var sum uint64
	if len(tx.BinOutputs) > 0 {
		for _, out := range tx.BinOutputs {
			sum += out.Amount
		}
		return sum
	}
	for _, out := range tx.Outputs {
		sum += out.Amount
	}
	return sum
}
