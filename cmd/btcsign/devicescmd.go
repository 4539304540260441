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
	"fmt"
	"os"

	"github.com/btcsign/btcsign/console/prompt"
	"github.com/btcsign/btcsign/internal/flags"
	"github.com/urfave/cli/v2"
)

var (
	devicesCommand = &cli.Command{
		Action: listDevices,
		Name:   "devices",
		Usage:  "List the attached hardware wallets",
		Flags:  flags.Merge([]cli.Flag{openFlag}, walletFlags),
		Description: `
Without --open only the device URLs are listed. With it, every device is
initialized to report its firmware version and label, which may ask for the
PIN.`,
	}
	openFlag = &cli.BoolFlag{
		Name:  "open",
		Usage: "Open every device to report its state",
	}
)

func listDevices(ctx *cli.Context) error {
	cfg := loadBaseConfig(ctx)
	am, err := makeManager(cfg.Wallet, newTerminalUI(prompt.Stdin, os.Stderr))
	if err != nil {
		return err
	}
	defer am.Close()

	wallets := am.Wallets()
	if len(wallets) == 0 {
		fmt.Println("No hardware wallets found")
		return nil
	}
	for _, wallet := range wallets {
		if ctx.Bool(openFlag.Name) {
			if err := wallet.Open(""); err != nil {
				fmt.Printf("%v  failed to open: %v\n", wallet.URL(), err)
				continue
			}
		}
		status, err := wallet.Status()
		if err != nil {
			status = fmt.Sprintf("%s (%v)", status, err)
		}
		fmt.Printf("%v  %s\n", wallet.URL(), status)
		if ctx.Bool(openFlag.Name) {
			wallet.Close()
		}
	}
	return nil
}
