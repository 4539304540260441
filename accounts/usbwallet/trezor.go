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

// This file contains the implementation for interacting with the Trezor hardware
// wallets. The wire protocol spec can be found on the SatoshiLabs website:
// https://docs.trezor.io/trezor-firmware/common/communication/index.html

package usbwallet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/messages"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

const (
	reportSize   = 64   // Size of a single HID report
	reportMagic  = 0x3f // '?' opening every report
	headerMagic  = 0x23 // '#' twice opening a message
	headerLength = 8    // "##", kind and payload length
)

// errTrezorReplyInvalidHeader is the error message returned by a Trezor data exchange
// if the device replies with a mismatching header. This usually means the device
// is in browser mode.
var errTrezorReplyInvalidHeader = errors.New("trezor: invalid reply header")

// UI answers the prompts a Trezor raises in the middle of an operation.
type UI interface {
	// ButtonRequest notifies the user that the device waits for a physical
	// confirmation.
	ButtonRequest(code messages.ButtonRequestType)

	// Pin asks for the PIN, typed according to the scrambled matrix on the
	// device screen.
	Pin(kind uint32) (string, error)

	// Passphrase asks for the wallet passphrase.
	Passphrase() (string, error)
}

// trezorDriver implements the communication with a Trezor hardware wallet.
type trezorDriver struct {
	device     io.ReadWriter // USB device connection to communicate through
	ui         UI            // Prompt answering, nil if nobody is watching
	passphrase string        // Passphrase supplied at open
	version    [3]uint32     // Current version of the Trezor firmware
	label      string        // Current textual label of the Trezor device
	failure    error         // Any failure that would make the device unusable

	writeLock sync.Mutex // Cancel may be written while a read is pending
	log       log.Logger // Contextual logger to tag the trezor with its id
}

// newTrezorDriver creates a new instance of a Trezor USB protocol driver.
func newTrezorDriver(logger log.Logger, ui UI) driver {
	return &trezorDriver{
		ui:  ui,
		log: logger,
	}
}

// Status implements usbwallet.driver, reporting whether the Trezor is opened,
// closed or failed.
func (w *trezorDriver) Status() (string, error) {
	if w.failure != nil {
		return fmt.Sprintf("Failed: %v", w.failure), w.failure
	}
	if w.device == nil {
		return "Closed", w.failure
	}
	return fmt.Sprintf("Trezor v%d.%d.%d '%s' online", w.version[0], w.version[1], w.version[2], w.label), w.failure
}

// Open implements usbwallet.driver, initializing the session with the device
// and reading out its features.
func (w *trezorDriver) Open(device io.ReadWriter, passphrase string) error {
	w.device, w.passphrase, w.failure = device, passphrase, nil

	res, err := w.exchange(&messages.Initialize{})
	if err != nil {
		return err
	}
	features, ok := res.(*messages.Features)
	if !ok {
		return fmt.Errorf("trezor: unexpected %v reply to Initialize", res.Type())
	}
	if features.BootloaderMode {
		return errors.New("trezor: device in bootloader mode")
	}
	if !features.Initialized {
		return errors.New("trezor: device not initialized")
	}
	w.version, w.label = features.Version(), features.Label
	w.log.Debug("Trezor opened", "version", fmt.Sprintf("%d.%d.%d", w.version[0], w.version[1], w.version[2]),
		"label", w.label, "pin", features.PinProtection, "passphrase", features.PassphraseProtection)
	return nil
}

// Close implements usbwallet.driver, cleaning up any metadata maintained within
// the Trezor driver.
func (w *trezorDriver) Close() error {
	w.device, w.version, w.label, w.passphrase = nil, [3]uint32{}, "", ""
	return nil
}

// Heartbeat implements usbwallet.driver, performing a sanity check against the
// Trezor to see if it's still online.
func (w *trezorDriver) Heartbeat() error {
	res, err := w.exchange(&messages.Ping{Message: "heartbeat"})
	if err == nil {
		if _, ok := res.(*messages.Success); !ok {
			err = fmt.Errorf("trezor: unexpected %v reply to Ping", res.Type())
		}
	}
	if err != nil {
		w.failure = err
	}
	return err
}

// Call implements txsign.Transport, sending a message and waiting for the first
// reply that is not a prompt. If ctx is cancelled meanwhile, a Cancel is sent
// to the device, which aborts the operation and unblocks the pending read.
func (w *trezorDriver) Call(ctx context.Context, msg messages.Message) (messages.Message, error) {
	if w.device == nil {
		return nil, accounts.ErrWalletClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sent := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(sent)
		w.log.Debug("Cancelling device operation")
		if err := w.write(&messages.Cancel{}); err != nil {
			w.log.Warn("Failed to cancel device operation", "err", err)
		}
	})
	res, err := w.prompt(msg)
	if !stop() {
		<-sent
		// The cancel may have crossed a regular reply, the device answers it
		// with a failure of its own that must not leak into the next call.
		if err == nil && !isCancelFailure(res) {
			w.drain()
		}
		return nil, ctx.Err()
	}
	return res, err
}

// prompt exchanges a message with the device, answering every button, PIN
// and passphrase request until a final reply arrives.
func (w *trezorDriver) prompt(msg messages.Message) (messages.Message, error) {
	for {
		res, err := w.exchange(msg)
		if err != nil {
			return nil, err
		}
		switch req := res.(type) {
		case *messages.ButtonRequest:
			// Trezor is waiting for user confirmation, ack and wait for the next message
			w.log.Trace("Waiting for user confirmation", "code", req.Code)
			if w.ui != nil {
				w.ui.ButtonRequest(req.Code)
			}
			msg = &messages.ButtonAck{}

		case *messages.PinMatrixRequest:
			if w.ui == nil {
				return nil, w.abort(accounts.NewAuthNeededError("PIN"))
			}
			pin, err := w.ui.Pin(req.Kind)
			if err != nil {
				return nil, w.abort(err)
			}
			msg = &messages.PinMatrixAck{Pin: pin}

		case *messages.PassphraseRequest:
			passphrase := w.passphrase
			if passphrase == "" && w.ui != nil {
				if passphrase, err = w.ui.Passphrase(); err != nil {
					return nil, w.abort(err)
				}
			}
			msg = &messages.PassphraseAck{Passphrase: passphrase}

		default:
			return res, nil
		}
	}
}

// abort cancels the operation in progress after a prompt could not be
// answered, and returns err.
func (w *trezorDriver) abort(err error) error {
	if _, cerr := w.exchange(&messages.Cancel{}); cerr != nil {
		w.log.Debug("Failed to cancel device operation", "err", cerr)
	}
	return err
}

// drain reads and discards a single reply.
func (w *trezorDriver) drain() {
	if res, err := w.read(); err != nil {
		w.log.Debug("Failed to drain device reply", "err", err)
	} else {
		w.log.Trace("Discarded device reply", "type", res.Type())
	}
}

func isCancelFailure(msg messages.Message) bool {
	failure, ok := msg.(*messages.Failure)
	return ok && (failure.Code == messages.FailureActionCancelled || failure.Code == messages.FailurePinCancelled)
}

// exchange performs a single data exchange with the Trezor wallet.
func (w *trezorDriver) exchange(msg messages.Message) (messages.Message, error) {
	if err := w.write(msg); err != nil {
		return nil, err
	}
	return w.read()
}

// write streams a message to the device in 64 byte reports.
func (w *trezorDriver) write(msg messages.Message) error {
	w.writeLock.Lock()
	defer w.writeLock.Unlock()

	w.log.Trace("Sending message to the Trezor", "type", msg.Type())
	for _, report := range encodeReports(msg.Type(), messages.Marshal(msg)) {
		w.log.Trace("Data chunk sent to the Trezor", "chunk", hexutil.Bytes(report))
		if _, err := w.device.Write(report); err != nil {
			return err
		}
		hidBytes.WithLabelValues("out").Add(float64(len(report)))
	}
	return nil
}

// read streams the next reply back from the wallet in 64 byte chunks.
func (w *trezorDriver) read() (messages.Message, error) {
	var (
		chunk = make([]byte, reportSize)
		kind  messages.MessageType
		reply []byte
		first = true
	)
	for {
		// Read the next chunk from the Trezor wallet
		if _, err := io.ReadFull(w.device, chunk); err != nil {
			return nil, err
		}
		hidBytes.WithLabelValues("in").Add(float64(len(chunk)))
		w.log.Trace("Data chunk received from the Trezor", "chunk", hexutil.Bytes(chunk))

		// Make sure the transport header matches
		if chunk[0] != reportMagic || (first && (chunk[1] != headerMagic || chunk[2] != headerMagic)) {
			return nil, errTrezorReplyInvalidHeader
		}
		// If it's the first chunk, retrieve the reply message type and total message length
		var payload []byte

		if first {
			kind = messages.MessageType(binary.BigEndian.Uint16(chunk[3:5]))
			reply = make([]byte, 0, int(binary.BigEndian.Uint32(chunk[5:9])))
			payload = chunk[1+headerLength:]
			first = false
		} else {
			payload = chunk[1:]
		}
		// Append to the reply and stop when filled up
		if left := cap(reply) - len(reply); left > len(payload) {
			reply = append(reply, payload...)
		} else {
			reply = append(reply, payload[:left]...)
			break
		}
	}
	res, err := messages.Unmarshal(kind, reply)
	if err != nil {
		return nil, fmt.Errorf("trezor: %w", err)
	}
	w.log.Trace("Received message from the Trezor", "type", kind)
	return res, nil
}

// encodeReports chunks up an encoded message into zero padded HID reports.
// The first report carries the message header.
func encodeReports(kind messages.MessageType, data []byte) [][]byte {
	payload := make([]byte, headerLength+len(data))
	payload[0], payload[1] = headerMagic, headerMagic
	binary.BigEndian.PutUint16(payload[2:], uint16(kind))
	binary.BigEndian.PutUint32(payload[4:], uint32(len(data)))
	copy(payload[headerLength:], data)

	var reports [][]byte
	for len(payload) > 0 {
		report := make([]byte, reportSize)
		report[0] = reportMagic
		n := copy(report[1:], payload)
		payload = payload[n:]
		reports = append(reports, report)
	}
	return reports
}
