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

package txsign

import (
	"errors"
	"fmt"

	"github.com/btcsign/btcsign/messages"
)

var (
	// ErrProtocolViolation is returned if the device sends a message that is
	// malformed or does not fit the signing dialogue.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownPrevTx is returned if the device asks for a previous
	// transaction that the cache cannot resolve.
	ErrUnknownPrevTx = errors.New("unknown previous transaction")

	// ErrDuplicateSignature is returned if the device delivers a second
	// signature for an input that was already signed.
	ErrDuplicateSignature = errors.New("duplicate signature")

	// ErrIncompleteSignatures is returned if the device finishes the dialogue
	// without signing every input it is responsible for.
	ErrIncompleteSignatures = errors.New("incomplete signatures")

	// ErrCancelled is returned if the caller or the user aborted the session.
	ErrCancelled = errors.New("signing cancelled")

	// ErrDevice matches every DeviceError with errors.Is.
	ErrDevice = errors.New("device failure")
)

// DeviceError is an explicit failure reported by the device. The message is
// kept verbatim.
type DeviceError struct {
	Code    messages.FailureType
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device failure (%v): %s", e.Code, e.Message)
}

// Is makes DeviceError match ErrDevice, and ErrCancelled too if the user
// rejected the operation on the device.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrCancelled:
		return e.Code == messages.FailureActionCancelled || e.Code == messages.FailurePinCancelled
	}
	return false
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
