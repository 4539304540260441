// Copyright 2026 The btcsign Authors
// This file is part of btcsign.
//
// btcsign is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// btcsign is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with btcsign. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/internal/flags"
	"github.com/urfave/cli/v2"
)

var (
	// Previous transaction store settings
	dataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the previous transaction store",
		Value:    flags.DirectoryString(defaultDataDir()),
		Category: flags.CacheCategory,
	}
	dbEngineFlag = &cli.StringFlag{
		Name:     "db.engine",
		Usage:    "Backing database implementation to use ('pebble' or 'leveldb')",
		Category: flags.CacheCategory,
	}
	dbCacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to the database",
		Value:    defaultConfig.Cache.Cache,
		Category: flags.CacheCategory,
	}
	dbHandlesFlag = &cli.IntFlag{
		Name:     "handles",
		Usage:    "Number of file handles allocated to the database",
		Value:    defaultConfig.Cache.Handles,
		Category: flags.CacheCategory,
	}
	txMemoryFlag = &cli.IntFlag{
		Name:     "cache.txs",
		Usage:    "Number of decoded previous transactions kept in memory",
		Value:    prevtx.DefaultCacheSize,
		Category: flags.CacheCategory,
	}

	// Device selection
	hidFlag = &cli.BoolFlag{
		Name:     "usb.hid",
		Usage:    "Look for signing devices on the HID interface",
		Value:    true,
		Category: flags.WalletCategory,
	}
	webUSBFlag = &cli.BoolFlag{
		Name:     "usb.webusb",
		Usage:    "Look for signing devices on the WebUSB interface",
		Value:    true,
		Category: flags.WalletCategory,
	}
	walletURLFlag = &cli.StringFlag{
		Name:     "wallet",
		Usage:    "URL of the device to use if several are attached (e.g. trezor://0001:0002:00)",
		Category: flags.WalletCategory,
	}
	emulatorFlag = &cli.BoolFlag{
		Name:     "emulator",
		Usage:    "Sign with the built-in emulated device instead of a hardware wallet",
		Category: flags.WalletCategory,
	}
	mnemonicFlag = &cli.StringFlag{
		Name:     "emulator.mnemonic",
		Usage:    "BIP-39 mnemonic seeding the emulated device",
		EnvVars:  []string{"BTCSIGN_EMULATOR_MNEMONIC"},
		Category: flags.WalletCategory,
	}

	// Signing settings
	coinFlag = &cli.StringFlag{
		Name:     "coin",
		Usage:    "Coin name as known by the device firmware",
		Value:    defaultConfig.Wallet.Coin,
		Category: flags.SigningCategory,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:     "timeout",
		Usage:    "Abort the signing session after this long (0 = no limit)",
		Category: flags.SigningCategory,
	}
	maxFeeFlag = &flags.AmountFlag{
		Name:     "maxfee",
		Usage:    "Refuse to sign transactions paying a higher fee",
		Value:    100000,
		Category: flags.SigningCategory,
	}
	noSerializeFlag = &cli.BoolFlag{
		Name:     "noserialize",
		Usage:    "Only collect signatures, do not ask the device for the signed transaction",
		Category: flags.SigningCategory,
	}
	preauthorizedFlag = &cli.BoolFlag{
		Name:     "preauthorized",
		Usage:    "Sign within an operation authorized on the device beforehand",
		Category: flags.SigningCategory,
	}
	yesFlag = &cli.BoolFlag{
		Name:     "yes",
		Aliases:  []string{"y"},
		Usage:    "Do not ask for confirmation on the host",
		Category: flags.SigningCategory,
	}
	jsonFlag = &cli.BoolFlag{
		Name:     "json",
		Usage:    "Print the result as JSON",
		Category: flags.MiscCategory,
	}

	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Serve signing metrics for Prometheus on this address (e.g. 127.0.0.1:6061)",
		Category: flags.MetricsCategory,
	}
)

var (
	cacheFlags = []cli.Flag{
		dataDirFlag,
		dbEngineFlag,
		dbCacheFlag,
		dbHandlesFlag,
		txMemoryFlag,
	}
	walletFlags = []cli.Flag{
		hidFlag,
		webUSBFlag,
		walletURLFlag,
		emulatorFlag,
		mnemonicFlag,
	}
	signFlags = []cli.Flag{
		coinFlag,
		timeoutFlag,
		maxFeeFlag,
		noSerializeFlag,
		preauthorizedFlag,
		yesFlag,
		jsonFlag,
		metricsAddrFlag,
	}
)
