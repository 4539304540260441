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

package accounts

import (
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// managerSubBufferSize determines how many wallet events the manager buffers
// while it is busy updating its wallet list.
const managerSubBufferSize = 50

// Manager tracks the signing devices of a set of backends and hands them out
// by URL. The set of backends is fixed at construction.
type Manager struct {
	subs    event.SubscriptionScope // Backend subscriptions, released on Close
	updates chan WalletEvent        // Sink of all backend wallet changes
	wallets []Wallet                // Wallets of all backends, sorted by URL
	feed    event.Feed              // Wallet arrivals and departures, forwarded

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	lock      sync.RWMutex
}

// NewManager creates a wallet manager tracking the given backends.
func NewManager(backends ...Backend) *Manager {
	am := &Manager{
		updates: make(chan WalletEvent, managerSubBufferSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, backend := range backends {
		am.wallets = insertWallets(am.wallets, backend.Wallets()...)
		am.subs.Track(backend.Subscribe(am.updates))
	}
	go am.loop()
	return am
}

// Close closes every tracked wallet and stops following the backends.
func (am *Manager) Close() error {
	am.closeOnce.Do(func() {
		for _, w := range am.Wallets() {
			if err := w.Close(); err != nil {
				log.Debug("Failed to close wallet", "url", w.URL(), "err", err)
			}
		}
		close(am.quit)
		<-am.done
	})
	return nil
}

// loop applies the backends' wallet events to the sorted wallet list and
// forwards them to the manager's subscribers.
func (am *Manager) loop() {
	defer close(am.done)
	defer am.subs.Close()

	for {
		select {
		case ev := <-am.updates:
			am.lock.Lock()
			switch ev.Kind {
			case WalletArrived:
				am.wallets = insertWallets(am.wallets, ev.Wallet)
			case WalletDropped:
				am.wallets = removeWallets(am.wallets, ev.Wallet)
			}
			am.lock.Unlock()

			log.Debug("Wallet event", "url", ev.Wallet.URL(), "kind", ev.Kind)
			am.feed.Send(ev)

		case <-am.quit:
			return
		}
	}
}

// Wallets returns the wallets of all backends, sorted by URL.
func (am *Manager) Wallets() []Wallet {
	am.lock.RLock()
	defer am.lock.RUnlock()

	return slices.Clone(am.wallets)
}

// Wallet retrieves the wallet with the given URL.
func (am *Manager) Wallet(url string) (Wallet, error) {
	parsed, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	am.lock.RLock()
	defer am.lock.RUnlock()

	if n, ok := searchWallet(am.wallets, parsed); ok {
		return am.wallets[n], nil
	}
	return nil, ErrUnknownWallet
}

// Subscribe creates an async subscription to receive notifications when a
// wallet arrives or departs in any of the backends.
func (am *Manager) Subscribe(sink chan<- WalletEvent) event.Subscription {
	return am.feed.Subscribe(sink)
}

func searchWallet(list []Wallet, url URL) (int, bool) {
	return slices.BinarySearchFunc(list, url, func(w Wallet, url URL) int {
		return w.URL().Cmp(url)
	})
}

// insertWallets adds wallets to a list sorted by URL, keeping it sorted.
func insertWallets(list []Wallet, wallets ...Wallet) []Wallet {
	for _, w := range wallets {
		n, _ := searchWallet(list, w.URL())
		list = slices.Insert(list, n, w)
	}
	return list
}

// removeWallets drops wallets from a list sorted by URL. Wallets not in the
// list are ignored, a drop may race with the initial listing.
func removeWallets(list []Wallet, wallets ...Wallet) []Wallet {
	for _, w := range wallets {
		if n, ok := searchWallet(list, w.URL()); ok {
			list = slices.Delete(list, n, n+1)
		}
	}
	return list
}
