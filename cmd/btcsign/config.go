// Copyright 2017 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"time"
	"unicode"

	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/internal/flags"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// walletConfig selects the signing device.
type walletConfig struct {
	HID      bool          // Look for devices on the HID interface
	WebUSB   bool          // Look for devices on the WebUSB interface
	Coin     string        // Coin name as known by the device firmware
	Timeout  time.Duration // Limit of a whole signing session, zero for none
	Emulator bool          // Sign with the built-in emulated device

	// URL picks the device to use if several are attached.
	URL string `toml:",omitempty"`

	// Mnemonic seeds the emulated device.
	Mnemonic string `toml:",omitempty"`
}

// cacheConfig locates the previous transaction store.
type cacheConfig struct {
	DataDir  string // Directory of the previous transaction store
	Cache    int    // Database cache in megabytes
	Handles  int    // Database file handles
	TxMemory int    // Decoded transactions kept in memory

	// Engine is pebble or leveldb, detected from the data directory if empty.
	Engine string `toml:",omitempty"`
}

type metricsConfig struct {
	Addr string `toml:",omitempty"` // Listening address of the Prometheus endpoint
}

type btcsignConfig struct {
	Wallet  walletConfig
	Cache   cacheConfig
	Metrics metricsConfig
}

var defaultConfig = btcsignConfig{
	Wallet: walletConfig{
		HID:    true,
		WebUSB: true,
		Coin:   "Bitcoin",
	},
	Cache: cacheConfig{
		DataDir:  defaultDataDir(),
		Cache:    16,
		Handles:  64,
		TxMemory: prevtx.DefaultCacheSize,
	},
}

func loadConfig(file string, cfg *btcsignConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBaseConfig assembles the configuration: defaults, then the config file,
// then the command line flags.
func loadBaseConfig(ctx *cli.Context) btcsignConfig {
	cfg := defaultConfig

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			Fatalf("%v", err)
		}
	}
	setWalletConfig(ctx, &cfg.Wallet)
	setCacheConfig(ctx, &cfg.Cache)
	if ctx.IsSet(metricsAddrFlag.Name) {
		cfg.Metrics.Addr = ctx.String(metricsAddrFlag.Name)
	}
	return cfg
}

func setWalletConfig(ctx *cli.Context, cfg *walletConfig) {
	if ctx.IsSet(hidFlag.Name) {
		cfg.HID = ctx.Bool(hidFlag.Name)
	}
	if ctx.IsSet(webUSBFlag.Name) {
		cfg.WebUSB = ctx.Bool(webUSBFlag.Name)
	}
	if ctx.IsSet(walletURLFlag.Name) {
		cfg.URL = ctx.String(walletURLFlag.Name)
	}
	if ctx.IsSet(coinFlag.Name) {
		cfg.Coin = ctx.String(coinFlag.Name)
	}
	if ctx.IsSet(timeoutFlag.Name) {
		cfg.Timeout = ctx.Duration(timeoutFlag.Name)
	}
	if ctx.IsSet(emulatorFlag.Name) {
		cfg.Emulator = ctx.Bool(emulatorFlag.Name)
	}
	if ctx.IsSet(mnemonicFlag.Name) {
		cfg.Mnemonic = ctx.String(mnemonicFlag.Name)
	}
}

func setCacheConfig(ctx *cli.Context, cfg *cacheConfig) {
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.Engine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(dbCacheFlag.Name) {
		cfg.Cache = ctx.Int(dbCacheFlag.Name)
	}
	if ctx.IsSet(dbHandlesFlag.Name) {
		cfg.Handles = ctx.Int(dbHandlesFlag.Name)
	}
	if ctx.IsSet(txMemoryFlag.Name) {
		cfg.TxMemory = ctx.Int(txMemoryFlag.Name)
	}
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg := loadBaseConfig(ctx)
	comment := ""

	if cfg.Wallet.Mnemonic != "" {
		comment += "# Note: the emulator mnemonic is stored in plain text.\n\n"
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString(comment)
	dump.Write(out)

	return nil
}

// defaultDataDir is the default data directory to use for the previous
// transaction store.
func defaultDataDir() string {
	home := flags.HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Btcsign")
	case "windows":
		if appdata := os.Getenv("LOCALAPPDATA"); appdata != "" {
			return filepath.Join(appdata, "Btcsign")
		}
		return filepath.Join(home, "AppData", "Roaming", "Btcsign")
	default:
		return filepath.Join(home, ".btcsign")
	}
}
