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
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/rawdb"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var (
	prevtxCommand = &cli.Command{
		Name:  "prevtx",
		Usage: "Manage the store of previous transactions",
		Description: `
Signing devices ask for every transaction spent by the inputs being signed.
These commands maintain a local store answering those requests.`,
		Subcommands: []*cli.Command{
			{
				Action:    importPrevTxs,
				Name:      "import",
				Usage:     "Import previous transactions from files",
				ArgsUsage: "<file> [<file>...]",
				Flags:     cacheFlags,
				Description: `
Each file holds either a raw transaction in hex, or the JSON reply of bitcoind's
'getrawtransaction <txid> true'. All files are verified before any is stored.`,
			},
			{
				Action: listPrevTxs,
				Name:   "list",
				Usage:  "List the stored previous transactions",
				Flags:  append([]cli.Flag{verboseFlag}, cacheFlags...),
			},
			{
				Action:    deletePrevTxs,
				Name:      "delete",
				Usage:     "Delete previous transactions from the store",
				ArgsUsage: "<txid> [<txid>...]",
				Flags:     append([]cli.Flag{allFlag}, cacheFlags...),
			},
			{
				Action: statPrevTxs,
				Name:   "stat",
				Usage:  "Print the database statistics of the store",
				Flags:  cacheFlags,
			},
		},
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Show the shape of every transaction",
	}
	allFlag = &cli.BoolFlag{
		Name:  "all",
		Usage: "Delete every stored transaction",
	}
)

// openStore opens the previous transaction store of the data directory.
func openStore(cfg cacheConfig, readonly bool) (ethdb.KeyValueStore, *prevtx.Store, error) {
	dir := ""
	if cfg.DataDir != "" {
		dir = filepath.Join(cfg.DataDir, "prevtx")
		if readonly && rawdb.PreexistingDatabase(dir) == "" {
			return nil, nil, fmt.Errorf("no previous transaction store in %s", dir)
		}
	}
	db, err := rawdb.Open(rawdb.OpenOptions{
		Type:      cfg.Engine,
		Directory: dir,
		Cache:     cfg.Cache,
		Handles:   cfg.Handles,
		ReadOnly:  readonly,
	})
	if err != nil {
		return nil, nil, err
	}
	return db, prevtx.NewStore(db, cfg.TxMemory), nil
}

func importPrevTxs(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no files to import")
	}
	entries := make([]prevtx.Entry, 0, ctx.NArg())
	for _, file := range ctx.Args().Slice() {
		blob, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		entry, err := parsePrevTx(blob)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		entries = append(entries, entry)
	}
	db, store, err := openStore(loadBaseConfig(ctx).Cache, false)
	if err != nil {
		return err
	}
	defer db.Close()

	hashes, err := store.Import(entries)
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		fmt.Println(hash.Hex())
	}
	log.Info("Imported previous transactions", "count", len(hashes))
	return nil
}

// parsePrevTx decodes a transaction from bitcoind JSON or raw hex.
func parsePrevTx(blob []byte) (prevtx.Entry, error) {
	blob = bytes.TrimSpace(blob)
	if len(blob) > 0 && blob[0] == '{' {
		tx, txid, err := types.FromJSON(blob)
		if err != nil {
			return prevtx.Entry{}, err
		}
		return prevtx.Entry{Tx: tx, Want: txid}, nil
	}
	raw, err := hex.DecodeString(string(blob))
	if err != nil {
		return prevtx.Entry{}, fmt.Errorf("neither JSON nor hex: %w", err)
	}
	tx, err := types.DecodeLegacy(raw)
	if err != nil {
		return prevtx.Entry{}, err
	}
	return prevtx.Entry{Tx: tx}, nil
}

func listPrevTxs(ctx *cli.Context) error {
	db, store, err := openStore(loadBaseConfig(ctx).Cache, true)
	if err != nil {
		return err
	}
	defer db.Close()

	hashes, err := store.Hashes()
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		if !ctx.Bool(verboseFlag.Name) {
			fmt.Println(hash.Hex())
			continue
		}
		tx, err := store.Lookup(hash)
		if err != nil {
			fmt.Printf("%s  error: %v\n", hash.Hex(), err)
			continue
		}
		fmt.Printf("%s  version %d, %d inputs, %d outputs, %s\n", hash.Hex(), tx.Version, len(tx.Inputs), len(tx.BinOutputs), types.FormatCoins(tx.TotalOut()))
	}
	return nil
}

func deletePrevTxs(ctx *cli.Context) error {
	if ctx.Bool(allFlag.Name) == (ctx.NArg() > 0) {
		return fmt.Errorf("give either transaction ids or --%s", allFlag.Name)
	}
	db, store, err := openStore(loadBaseConfig(ctx).Cache, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if ctx.Bool(allFlag.Name) {
		return store.Clear()
	}
	for _, arg := range ctx.Args().Slice() {
		hash, err := types.HexToHash(arg)
		if err != nil {
			return fmt.Errorf("invalid txid %q: %w", arg, err)
		}
		if ok, err := store.Has(hash); err != nil {
			return err
		} else if !ok {
			log.Warn("Transaction not in store", "hash", hash)
			continue
		}
		if err := store.Delete(hash); err != nil {
			return err
		}
	}
	return nil
}

func statPrevTxs(ctx *cli.Context) error {
	db, _, err := openStore(loadBaseConfig(ctx).Cache, true)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stat()
	if err != nil {
		return err
	}
	fmt.Println(stats)
	return nil
}
