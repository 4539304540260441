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

package usbwallet

import (
	"errors"
	"io"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsign/btcsign/accounts"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/hid"
)

// TrezorScheme is the protocol scheme prefixing wallet URLs of Trezor devices.
const TrezorScheme = "trezor"

// refreshCycle is the time between bus scans while anyone listens for wallet
// events. hidapi has no hotplug notifications.
const refreshCycle = time.Second

// refreshThrottling is the minimum time between two bus scans.
const refreshThrottling = 500 * time.Millisecond

// maxEnumFails is the number of consecutive enumeration failures after which
// the hub stops scanning the bus.
const maxEnumFails = 3

// deviceFilter selects the USB interfaces of one device family.
type deviceFilter struct {
	vendor   uint16
	products []uint16
	usage    uint16 // HID usage page, matched on Windows and macOS
	iface    int    // USB interface number, matched on Linux
}

func (f deviceFilter) match(info hid.DeviceInfo) bool {
	return slices.Contains(f.products, info.ProductID) && (info.UsagePage == f.usage || info.Interface == f.iface)
}

var (
	trezorHID    = deviceFilter{vendor: 0x534c, products: []uint16{0x0001}, usage: 0xff00}
	trezorWebUSB = deviceFilter{vendor: 0x1209, products: []uint16{0x53c1}, usage: 0xffff} // No usage page on WebUSB, don't match unset (0)
)

// Hub is an accounts.Backend tracking the Trezor devices of one USB family.
type Hub struct {
	filter deviceFilter
	ui     UI // User interface answering device prompts, may be nil

	enumerate func(vendorID uint16, productID uint16) ([]hid.DeviceInfo, error)
	open      func(info hid.DeviceInfo) (io.ReadWriteCloser, error)

	refreshed   time.Time               // Time of the last bus scan
	wallets     []*wallet               // Tracked wallets, sorted by device path
	updateFeed  event.Feed              // Wallet arrivals, openings and drops
	updateScope event.SubscriptionScope // Live subscriptions to updateFeed
	updating    bool                    // Whether the polling loop is running
	stateLock   sync.RWMutex

	commsPend int           // Number of signing sessions blocking enumeration
	commsLock sync.Mutex    // Protects commsPend and serializes Linux enumeration
	enumFails atomic.Uint32 // Consecutive enumeration failures
}

// NewTrezorHubWithHID creates a hub for Trezor devices speaking the legacy
// HID protocol.
func NewTrezorHubWithHID(ui UI) (*Hub, error) {
	return newHub(trezorHID, ui)
}

// NewTrezorHubWithWebUSB creates a hub for Trezor devices with WebUSB era
// firmware.
func NewTrezorHubWithWebUSB(ui UI) (*Hub, error) {
	return newHub(trezorWebUSB, ui)
}

func newHub(filter deviceFilter, ui UI) (*Hub, error) {
	if !hid.Supported() {
		return nil, errors.New("unsupported platform")
	}
	hub := &Hub{
		filter:    filter,
		ui:        ui,
		enumerate: hid.Enumerate,
		open:      openHID,
	}
	hub.refreshWallets()
	return hub, nil
}

func openHID(info hid.DeviceInfo) (io.ReadWriteCloser, error) {
	device, err := info.Open()
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Wallets implements accounts.Backend, returning the currently attached
// devices sorted by URL.
func (hub *Hub) Wallets() []accounts.Wallet {
	hub.refreshWallets()

	hub.stateLock.RLock()
	defer hub.stateLock.RUnlock()

	wallets := make([]accounts.Wallet, len(hub.wallets))
	for i, w := range hub.wallets {
		wallets[i] = w
	}
	return wallets
}

// refreshWallets rescans the bus, unless it was scanned very recently, and
// fires events for the wallets that came and went.
func (hub *Hub) refreshWallets() {
	hub.stateLock.RLock()
	elapsed := time.Since(hub.refreshed)
	hub.stateLock.RUnlock()

	if elapsed < refreshThrottling || hub.enumFails.Load() >= maxEnumFails {
		return
	}
	devices, ok := hub.scan()
	if !ok {
		return
	}
	hub.stateLock.Lock()
	events := hub.reconcile(devices)
	hub.refreshed = time.Now()
	hub.stateLock.Unlock()

	for _, ev := range events {
		hub.updateFeed.Send(ev)
	}
}

// scan lists the attached devices matching the hub's filter, sorted by path.
// It reports false if the bus could not be scanned.
func (hub *Hub) scan() ([]hid.DeviceInfo, bool) {
	// hidapi on Linux opens every device while enumerating, which breaks the
	// dialogue of a device in the middle of a signing session.
	if runtime.GOOS == "linux" {
		hub.commsLock.Lock()
		defer hub.commsLock.Unlock()

		if hub.commsPend > 0 {
			return nil, false
		}
	}
	infos, err := hub.enumerate(hub.filter.vendor, 0)
	if err != nil {
		fails := hub.enumFails.Add(1)
		log.Error("Failed to enumerate USB devices", "vendor", hub.filter.vendor, "failcount", fails, "err", err)
		return nil, false
	}
	hub.enumFails.Store(0)

	var devices []hid.DeviceInfo
	for _, info := range infos {
		if hub.filter.match(info) {
			devices = append(devices, info)
		}
	}
	slices.SortFunc(devices, func(a, b hid.DeviceInfo) int { return strings.Compare(a.Path, b.Path) })
	return devices, true
}

// reconcile replaces the tracked wallets with the ones of the given devices.
// The wallet of a device still attached is kept unless it failed, in which
// case it is replaced by a fresh one. The caller must hold stateLock.
func (hub *Hub) reconcile(devices []hid.DeviceInfo) []accounts.WalletEvent {
	known := make(map[string]*wallet, len(hub.wallets))
	for _, w := range hub.wallets {
		known[w.info.Path] = w
	}
	var (
		wallets = make([]*wallet, 0, len(devices))
		events  []accounts.WalletEvent
	)
	for _, device := range devices {
		if w, ok := known[device.Path]; ok {
			delete(known, device.Path)
			if _, err := w.Status(); err == nil {
				wallets = append(wallets, w)
				continue
			}
			events = append(events, accounts.WalletEvent{Wallet: w, Kind: accounts.WalletDropped})
		}
		w := hub.newWallet(device)
		wallets = append(wallets, w)
		events = append(events, accounts.WalletEvent{Wallet: w, Kind: accounts.WalletArrived})
	}
	// Unplugged devices, in URL order
	for _, w := range hub.wallets {
		if _, ok := known[w.info.Path]; ok {
			events = append(events, accounts.WalletEvent{Wallet: w, Kind: accounts.WalletDropped})
		}
	}
	hub.wallets = wallets
	return events
}

func (hub *Hub) newWallet(info hid.DeviceInfo) *wallet {
	url := accounts.URL{Scheme: TrezorScheme, Path: info.Path}
	logger := log.New("url", url)
	return &wallet{hub: hub, driver: newTrezorDriver(logger, hub.ui), url: &url, info: info, log: logger}
}

// Subscribe implements accounts.Backend, creating an async subscription to
// wallet arrivals and departures. The bus is polled while subscriptions exist.
func (hub *Hub) Subscribe(sink chan<- accounts.WalletEvent) event.Subscription {
	hub.stateLock.Lock()
	defer hub.stateLock.Unlock()

	sub := hub.updateScope.Track(hub.updateFeed.Subscribe(sink))
	if !hub.updating {
		hub.updating = true
		go hub.poll()
	}
	return sub
}

// poll rescans the bus every refreshCycle until the last subscriber leaves.
func (hub *Hub) poll() {
	ticker := time.NewTicker(refreshCycle)
	defer ticker.Stop()

	for range ticker.C {
		hub.refreshWallets()

		hub.stateLock.Lock()
		if hub.updateScope.Count() == 0 {
			hub.updating = false
			hub.stateLock.Unlock()
			return
		}
		hub.stateLock.Unlock()
	}
}
