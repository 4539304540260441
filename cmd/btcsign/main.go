// Copyright 2014 The go-ethereum Authors
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

// btcsign signs Bitcoin transactions with a hardware wallet.
package main

import (
	"fmt"
	"os"

	"github.com/btcsign/btcsign/console/prompt"
	"github.com/btcsign/btcsign/internal/debug"
	"github.com/btcsign/btcsign/internal/flags"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "btcsign"

var app = flags.NewApp("sign Bitcoin transactions with a hardware wallet")

func init() {
	app.Name = clientIdentifier
	app.Commands = []*cli.Command{
		signCommand,
		prevtxCommand,
		devicesCommand,
		dumpConfigCommand,
	}
	app.Flags = flags.Merge(debug.Flags, []cli.Flag{configFileFlag})
	dumpConfigCommand.Flags = flags.Merge(walletFlags, signFlags, cacheFlags)

	app.Before = func(ctx *cli.Context) error {
		return debug.Setup(ctx)
	}
	app.After = func(ctx *cli.Context) error {
		debug.Exit()
		prompt.Stdin.Close()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
