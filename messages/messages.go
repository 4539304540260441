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

// Package messages contains the Trezor wire protocol messages used to drive a
// signing device, together with a protobuf codec for them.
//
// Only the subset of the protocol needed for device management and Bitcoin
// transaction signing is implemented. Field numbers and message type ids
// match the device firmware's protobuf definitions.
package messages

import "fmt"

// MessageType is the numeric id prefixed to every message on the wire.
type MessageType uint16

const (
	MessageTypeInitialize           MessageType = 0
	MessageTypePing                 MessageType = 1
	MessageTypeSuccess              MessageType = 2
	MessageTypeFailure              MessageType = 3
	MessageTypeSignTx               MessageType = 15
	MessageTypeFeatures             MessageType = 17
	MessageTypePinMatrixRequest     MessageType = 18
	MessageTypePinMatrixAck         MessageType = 19
	MessageTypeCancel               MessageType = 20
	MessageTypeTxRequest            MessageType = 21
	MessageTypeTxAck                MessageType = 22
	MessageTypeButtonRequest        MessageType = 26
	MessageTypeButtonAck            MessageType = 27
	MessageTypePassphraseRequest    MessageType = 41
	MessageTypePassphraseAck        MessageType = 42
	MessageTypeDoPreauthorized      MessageType = 84
	MessageTypePreauthorizedRequest MessageType = 85
)

var messageTypeNames = map[MessageType]string{
	MessageTypeInitialize:           "Initialize",
	MessageTypePing:                 "Ping",
	MessageTypeSuccess:              "Success",
	MessageTypeFailure:              "Failure",
	MessageTypeSignTx:               "SignTx",
	MessageTypeFeatures:             "Features",
	MessageTypePinMatrixRequest:     "PinMatrixRequest",
	MessageTypePinMatrixAck:         "PinMatrixAck",
	MessageTypeCancel:               "Cancel",
	MessageTypeTxRequest:            "TxRequest",
	MessageTypeTxAck:                "TxAck",
	MessageTypeButtonRequest:        "ButtonRequest",
	MessageTypeButtonAck:            "ButtonAck",
	MessageTypePassphraseRequest:    "PassphraseRequest",
	MessageTypePassphraseAck:        "PassphraseAck",
	MessageTypeDoPreauthorized:      "DoPreauthorized",
	MessageTypePreauthorizedRequest: "PreauthorizedRequest",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// Message is a protocol message that can be sent to or received from a device.
type Message interface {
	// Type returns the wire id of the message.
	Type() MessageType

	appendProto(b []byte) []byte
	decodeProto(b []byte) error
}

// FailureType is the error code carried by a Failure message.
type FailureType uint32

const (
	FailureUnexpectedMessage FailureType = 1
	FailureButtonExpected    FailureType = 2
	FailureDataError         FailureType = 3
	FailureActionCancelled   FailureType = 4
	FailurePinExpected       FailureType = 5
	FailurePinCancelled      FailureType = 6
	FailurePinInvalid        FailureType = 7
	FailureInvalidSignature  FailureType = 8
	FailureProcessError      FailureType = 9
	FailureNotEnoughFunds    FailureType = 10
	FailureNotInitialized    FailureType = 11
	FailurePinMismatch       FailureType = 12
	FailureWipeCodeMismatch  FailureType = 13
	FailureInvalidSession    FailureType = 14
	FailureFirmwareError     FailureType = 99
)

var failureNames = map[FailureType]string{
	FailureUnexpectedMessage: "UnexpectedMessage",
	FailureButtonExpected:    "ButtonExpected",
	FailureDataError:         "DataError",
	FailureActionCancelled:   "ActionCancelled",
	FailurePinExpected:       "PinExpected",
	FailurePinCancelled:      "PinCancelled",
	FailurePinInvalid:        "PinInvalid",
	FailureInvalidSignature:  "InvalidSignature",
	FailureProcessError:      "ProcessError",
	FailureNotEnoughFunds:    "NotEnoughFunds",
	FailureNotInitialized:    "NotInitialized",
	FailurePinMismatch:       "PinMismatch",
	FailureWipeCodeMismatch:  "WipeCodeMismatch",
	FailureInvalidSession:    "InvalidSession",
	FailureFirmwareError:     "FirmwareError",
}

func (c FailureType) String() string {
	if name, ok := failureNames[c]; ok {
		return name
	}
	return fmt.Sprintf("FailureType(%d)", uint32(c))
}

// ButtonRequestType tells the host why the device is waiting for the user.
type ButtonRequestType uint32

const (
	ButtonRequestOther            ButtonRequestType = 1
	ButtonRequestFeeOverThreshold ButtonRequestType = 2
	ButtonRequestConfirmOutput    ButtonRequestType = 3
	ButtonRequestResetDevice      ButtonRequestType = 4
	ButtonRequestConfirmWord      ButtonRequestType = 5
	ButtonRequestWipeDevice       ButtonRequestType = 6
	ButtonRequestProtectCall      ButtonRequestType = 7
	ButtonRequestSignTx           ButtonRequestType = 8
)

var buttonRequestNames = map[ButtonRequestType]string{
	ButtonRequestOther:            "Other",
	ButtonRequestFeeOverThreshold: "FeeOverThreshold",
	ButtonRequestConfirmOutput:    "ConfirmOutput",
	ButtonRequestResetDevice:      "ResetDevice",
	ButtonRequestConfirmWord:      "ConfirmWord",
	ButtonRequestWipeDevice:       "WipeDevice",
	ButtonRequestProtectCall:      "ProtectCall",
	ButtonRequestSignTx:           "SignTx",
}

func (c ButtonRequestType) String() string {
	if name, ok := buttonRequestNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ButtonRequestType(%d)", uint32(c))
}

// Initialize resets the device session and asks for its Features.
type Initialize struct{}

// Ping asks the device to echo back a Success with the same message.
type Ping struct {
	Message string
}

// Success is a generic positive response.
type Success struct {
	Message string
}

// Failure is a generic error response from the device.
type Failure struct {
	Code    FailureType
	Message string
}

// Cancel aborts the operation currently in progress on the device.
type Cancel struct{}

// Features describes the device that answered an Initialize.
type Features struct {
	Vendor               string
	MajorVersion         uint32
	MinorVersion         uint32
	PatchVersion         uint32
	BootloaderMode       bool
	DeviceID             string
	PinProtection        bool
	PassphraseProtection bool
	Label                string
	Initialized          bool
	Model                string
}

// Version returns the firmware version as a [major, minor, patch] triplet.
func (f *Features) Version() [3]uint32 {
	return [3]uint32{f.MajorVersion, f.MinorVersion, f.PatchVersion}
}

// ButtonRequest is sent by the device when it waits for a physical confirmation.
type ButtonRequest struct {
	Code ButtonRequestType
}

// ButtonAck lets the device proceed with a ButtonRequest.
type ButtonAck struct{}

// PinMatrixRequest asks the host for the scrambled PIN.
type PinMatrixRequest struct {
	Kind uint32 // Current, new first or new second PIN
}

// PinMatrixAck carries the PIN typed in the position matrix shown on the device.
type PinMatrixAck struct {
	Pin string
}

// PassphraseRequest asks the host for the wallet passphrase.
type PassphraseRequest struct{}

// PassphraseAck carries the passphrase, or asks for on-device entry.
type PassphraseAck struct {
	Passphrase string
	OnDevice   bool
}

// DoPreauthorized asks the device to enter a previously authorized operation.
type DoPreauthorized struct{}

// PreauthorizedRequest grants a DoPreauthorized and waits for the operation.
type PreauthorizedRequest struct{}

func (*Initialize) Type() MessageType           { return MessageTypeInitialize }
func (*Ping) Type() MessageType                 { return MessageTypePing }
func (*Success) Type() MessageType              { return MessageTypeSuccess }
func (*Failure) Type() MessageType              { return MessageTypeFailure }
func (*Cancel) Type() MessageType               { return MessageTypeCancel }
func (*Features) Type() MessageType             { return MessageTypeFeatures }
func (*ButtonRequest) Type() MessageType        { return MessageTypeButtonRequest }
func (*ButtonAck) Type() MessageType            { return MessageTypeButtonAck }
func (*PinMatrixRequest) Type() MessageType     { return MessageTypePinMatrixRequest }
func (*PinMatrixAck) Type() MessageType         { return MessageTypePinMatrixAck }
func (*PassphraseRequest) Type() MessageType    { return MessageTypePassphraseRequest }
func (*PassphraseAck) Type() MessageType        { return MessageTypePassphraseAck }
func (*DoPreauthorized) Type() MessageType      { return MessageTypeDoPreauthorized }
func (*PreauthorizedRequest) Type() MessageType { return MessageTypePreauthorizedRequest }

// New returns an empty message of the given type, or nil if the type is not
// supported.
func New(kind MessageType) Message {
	switch kind {
	case MessageTypeInitialize:
		return new(Initialize)
	case MessageTypePing:
		return new(Ping)
	case MessageTypeSuccess:
		return new(Success)
	case MessageTypeFailure:
		return new(Failure)
	case MessageTypeSignTx:
		return new(SignTx)
	case MessageTypeFeatures:
		return new(Features)
	case MessageTypePinMatrixRequest:
		return new(PinMatrixRequest)
	case MessageTypePinMatrixAck:
		return new(PinMatrixAck)
	case MessageTypeCancel:
		return new(Cancel)
	case MessageTypeTxRequest:
		return new(TxRequest)
	case MessageTypeTxAck:
		return new(TxAck)
	case MessageTypeButtonRequest:
		return new(ButtonRequest)
	case MessageTypeButtonAck:
		return new(ButtonAck)
	case MessageTypePassphraseRequest:
		return new(PassphraseRequest)
	case MessageTypePassphraseAck:
		return new(PassphraseAck)
	case MessageTypeDoPreauthorized:
		return new(DoPreauthorized)
	case MessageTypePreauthorizedRequest:
		return new(PreauthorizedRequest)
	}
	return nil
}
