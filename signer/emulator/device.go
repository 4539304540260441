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

// Package emulator implements a software signing device speaking the same
// wire protocol as a hardware wallet.
//
// The device runs its firmware on a goroutine of its own and exchanges
// encoded messages with the host over channels, one message in flight at a
// time. It signs legacy P2PKH inputs with keys derived from a mnemonic, which
// is enough to exercise the complete streamed signing dialogue without any
// hardware attached.
package emulator

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsign/btcsign/messages"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/log"
)

// ErrClosed is returned when calling a device that was shut down.
var ErrClosed = errors.New("emulator closed")

// Config contains the settings of an emulated device.
type Config struct {
	Mnemonic   string // BIP-39 mnemonic of the device seed
	Passphrase string // BIP-39 passphrase
	Label      string // Label reported in the device features

	// Approve is consulted for every confirmation the device asks from its
	// user. Nil approves everything.
	Approve func(code messages.ButtonRequestType) bool

	// Preauthorized enables a single DoPreauthorized grant per signing.
	Preauthorized bool
}

// frame is an encoded message crossing between the host and the device.
type frame struct {
	kind messages.MessageType
	data []byte
}

// Device is an emulated signing device. It implements the host side transport
// of the signing dialogue through Call.
type Device struct {
	config Config
	keys   map[string]*Keychain // Keychains by coin name, created on first use

	in   chan frame // Host to device
	out  chan frame // Device to host
	quit chan struct{}
	wg   sync.WaitGroup

	callLock  sync.Mutex // Serializes host calls, a device talks to one host at a time
	closeOnce sync.Once

	log log.Logger
}

// New starts an emulated device.
func New(config Config) (*Device, error) {
	if _, err := NewKeychain(config.Mnemonic, config.Passphrase, &chaincfg.MainNetParams); err != nil {
		return nil, err
	}
	d := &Device{
		config: config,
		keys:   make(map[string]*Keychain),
		in:     make(chan frame),
		out:    make(chan frame),
		quit:   make(chan struct{}),
		log:    log.New("device", "emulator"),
	}
	d.wg.Add(1)
	go d.loop()
	return d, nil
}

// Close shuts the device down, aborting any operation in progress.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.wg.Wait()
	})
	return nil
}

// Call sends a message to the device and waits for its reply. Button requests
// are acknowledged on the spot, the decision is taken by Config.Approve on the
// device side. If ctx is cancelled while the device is busy, the operation is
// aborted on the device with a Cancel message.
func (d *Device) Call(ctx context.Context, msg messages.Message) (messages.Message, error) {
	d.callLock.Lock()
	defer d.callLock.Unlock()

	if err := ctx.Err(); err != nil {
		d.abort()
		return nil, err
	}
	if err := d.send(ctx, msg); err != nil {
		return nil, err
	}
	for {
		res, err := d.receive(ctx)
		if err != nil {
			return nil, err
		}
		if req, ok := res.(*messages.ButtonRequest); ok {
			d.log.Trace("Acknowledging button request", "code", req.Code)
			if err := d.send(ctx, &messages.ButtonAck{}); err != nil {
				return nil, err
			}
			continue
		}
		return res, nil
	}
}

func (d *Device) send(ctx context.Context, msg messages.Message) error {
	select {
	case d.in <- frame{kind: msg.Type(), data: messages.Marshal(msg)}:
		return nil
	case <-ctx.Done():
		d.abort()
		return ctx.Err()
	case <-d.quit:
		return ErrClosed
	}
}

func (d *Device) receive(ctx context.Context) (messages.Message, error) {
	select {
	case f := <-d.out:
		return messages.Unmarshal(f.kind, f.data)
	case <-ctx.Done():
		d.abort()
		return nil, ctx.Err()
	case <-d.quit:
		return nil, ErrClosed
	}
}

// abort cancels the operation in progress and drains the device until it
// acknowledged the cancellation with a failure.
func (d *Device) abort() {
	var (
		cancel = frame{kind: messages.MessageTypeCancel, data: messages.Marshal(&messages.Cancel{})}
		sent   bool
	)
	for {
		in := d.in
		if sent {
			in = nil
		}
		select {
		case in <- cancel:
			sent = true
		case f := <-d.out:
			if sent && f.kind == messages.MessageTypeFailure {
				return
			}
		case <-d.quit:
			return
		}
	}
}

// loop is the firmware main loop, serving one host request at a time.
func (d *Device) loop() {
	defer d.wg.Done()

	for {
		msg, err := d.recv()
		if err == nil {
			err = d.dispatch(msg)
		}
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			var fail *failure
			if !errors.As(err, &fail) {
				fail = &failure{code: messages.FailureFirmwareError, msg: err.Error()}
			}
			d.log.Debug("Operation failed", "code", fail.code, "err", fail.msg)
			if err := d.emit(&messages.Failure{Code: fail.code, Message: fail.msg}); err != nil {
				return
			}
		}
	}
}

// dispatch serves a single message received while idle.
func (d *Device) dispatch(msg messages.Message) error {
	switch msg := msg.(type) {
	case *messages.Initialize:
		return d.emit(d.features())
	case *messages.Ping:
		return d.emit(&messages.Success{Message: msg.Message})
	case *messages.Cancel:
		return errCancelled
	case *messages.SignTx:
		return d.signTx(msg)
	case *messages.DoPreauthorized:
		if !d.config.Preauthorized {
			return &failure{code: messages.FailureProcessError, msg: "No preauthorized operation"}
		}
		next, err := d.exchange(&messages.PreauthorizedRequest{})
		if err != nil {
			return err
		}
		sign, ok := next.(*messages.SignTx)
		if !ok {
			return errUnexpected
		}
		return d.signTx(sign)
	}
	return errUnexpected
}

func (d *Device) features() *messages.Features {
	return &messages.Features{
		Vendor:       "btcsign",
		MajorVersion: 1,
		MinorVersion: 12,
		PatchVersion: 1,
		DeviceID:     "EMULATOR",
		Label:        d.config.Label,
		Initialized:  true,
		Model:        "emulator",

		PassphraseProtection: d.config.Passphrase != "",
	}
}

// emit sends a message to the host.
func (d *Device) emit(msg messages.Message) error {
	select {
	case d.out <- frame{kind: msg.Type(), data: messages.Marshal(msg)}:
		return nil
	case <-d.quit:
		return ErrClosed
	}
}

// recv waits for the next message from the host.
func (d *Device) recv() (messages.Message, error) {
	select {
	case f := <-d.in:
		msg, err := messages.Unmarshal(f.kind, f.data)
		if err != nil {
			return nil, &failure{code: messages.FailureDataError, msg: err.Error()}
		}
		return msg, nil
	case <-d.quit:
		return nil, ErrClosed
	}
}

// exchange sends a message in the middle of an operation and waits for the
// host's answer. A Cancel from the host aborts the operation.
func (d *Device) exchange(msg messages.Message) (messages.Message, error) {
	if err := d.emit(msg); err != nil {
		return nil, err
	}
	res, err := d.recv()
	if err != nil {
		return nil, err
	}
	if _, ok := res.(*messages.Cancel); ok {
		return nil, errCancelled
	}
	return res, nil
}

// confirm asks the user to approve an action on the device.
func (d *Device) confirm(code messages.ButtonRequestType) error {
	res, err := d.exchange(&messages.ButtonRequest{Code: code})
	if err != nil {
		return err
	}
	if _, ok := res.(*messages.ButtonAck); !ok {
		return errUnexpected
	}
	if d.config.Approve != nil && !d.config.Approve(code) {
		return errCancelled
	}
	return nil
}
