// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package accounts implements high level management of hardware signing
// wallets.
package accounts

import (
	"context"

	"github.com/btcsign/btcsign/signer/txsign"
	"github.com/ethereum/go-ethereum/event"
)

// Wallet represents a hardware or emulated signing device holding a single
// seed from which all its keys are derived.
type Wallet interface {
	// URL retrieves the canonical path under which this wallet is reachable. It is
	// used by upper layers to define a sorting order over all wallets from multiple
	// backends.
	URL() URL

	// Status returns a textual status to aid the user in the current state of the
	// wallet. It also returns an error indicating any failure the wallet might have
	// encountered.
	Status() (string, error)

	// Open initializes access to a wallet instance, establishing the connection
	// to the device and reading its features. The passphrase is only used by
	// devices that ask for one while unlocking.
	//
	// Please note, if you open a wallet, you must close it to release any allocated
	// resources (especially important when working with hardware wallets).
	Open(passphrase string) error

	// Close releases any resources held by an open wallet instance.
	Close() error

	// SignTx runs a complete signing session for the given request on the
	// device. The wallet is exclusively owned by the session until it returns.
	//
	// If the device requires additional authentication (a PIN or passphrase)
	// that cannot be provided, an AuthNeededError instance will be returned.
	SignTx(ctx context.Context, req *txsign.Request) (*txsign.Result, error)
}

// Backend is a "wallet provider" that may contain a batch of devices they can
// sign transactions with and upon request, do so.
type Backend interface {
	// Wallets retrieves the list of wallets the backend is currently aware of.
	//
	// The returned wallets are not opened by default. For hardware wallets this
	// means that no actual connection is established.
	//
	// The resulting wallet list will be sorted alphabetically based on its internal
	// URL assigned by the backend. Since wallets may come and go, the same wallet
	// might appear at a different positions in the list during subsequent
	// retrievals.
	Wallets() []Wallet

	// Subscribe creates an async subscription to receive notifications when the
	// backend detects the arrival or departure of a wallet.
	Subscribe(sink chan<- WalletEvent) event.Subscription
}

// WalletEventType represents the different event types that can be fired by
// the wallet subscription subsystem.
type WalletEventType int

const (
	// WalletArrived is fired when a new wallet is detected on the USB bus.
	WalletArrived WalletEventType = iota

	// WalletOpened is fired when a wallet is successfully opened with the purpose
	// of starting any background processes such as the liveness heartbeat.
	WalletOpened

	// WalletDropped is fired when a wallet is unplugged or its connection is
	// lost.
	WalletDropped
)

// String implements the stringer interface.
func (kind WalletEventType) String() string {
	switch kind {
	case WalletArrived:
		return "arrived"
	case WalletOpened:
		return "opened"
	case WalletDropped:
		return "dropped"
	}
	return "unknown"
}

// WalletEvent is an event fired by an account backend when a wallet arrival or
// departure is detected.
type WalletEvent struct {
	Wallet Wallet          // Wallet instance arrived or departed
	Kind   WalletEventType // Event type that happened in the system
}
