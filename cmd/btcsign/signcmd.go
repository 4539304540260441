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
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsign/btcsign/accounts/usbwallet"
	"github.com/btcsign/btcsign/console/prompt"
	"github.com/btcsign/btcsign/core/prevtx"
	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/internal/flags"
	"github.com/btcsign/btcsign/messages"
	"github.com/btcsign/btcsign/signer/emulator"
	"github.com/btcsign/btcsign/signer/txsign"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// testMnemonic is the well-known seed of development devices.
const testMnemonic = "all all all all all all all all all all all all"

var signCommand = &cli.Command{
	Action:    signTx,
	Name:      "sign",
	Usage:     "Sign a transaction with a hardware wallet",
	ArgsUsage: "<txfile>",
	Flags:     flags.Merge(walletFlags, signFlags, cacheFlags),
	Description: `
The transaction is read from a JSON file (- for standard input) using the
field names of the device protocol. Previous transactions are looked up in the
file's "prev_txes" first, then in the local store (see 'btcsign prevtx').

The signatures and the signed transaction are printed on success.`,
}

func signTx(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("need exactly one transaction file argument (- for stdin)")
	}
	cfg := loadBaseConfig(ctx)

	job, err := loadTxFile(ctx.Args().First())
	if err != nil {
		Fatalf("Failed to load transaction: %v", err)
	}
	if job.coin == "" || ctx.IsSet(coinFlag.Name) {
		job.coin = cfg.Wallet.Coin
	}
	if err := checkFee(job.tx, flags.GlobalAmount(ctx, maxFeeFlag.Name)); err != nil {
		Fatalf("%v", err)
	}
	ui := newTerminalUI(prompt.Stdin, os.Stderr)
	if !ctx.Bool(yesFlag.Name) {
		printSummary(os.Stderr, job)
		if !ui.confirm("Sign this transaction?") {
			return errors.New("signing declined")
		}
	}
	db, store, err := openStore(cfg.Cache, false)
	if err != nil {
		Fatalf("Failed to open previous transaction store: %v", err)
	}
	defer db.Close()

	req := &txsign.Request{
		Coin:          job.coin,
		Tx:            job.tx,
		PrevTxs:       prevtx.Layered{job.prevTxs, store},
		Preauthorized: ctx.Bool(preauthorizedFlag.Name),
		Progress: func(kind txsign.RequestType, index uint32) {
			log.Debug("Answering device request", "type", kind, "index", index)
		},
	}
	if ctx.Bool(noSerializeFlag.Name) {
		serialize := false
		req.Serialize = &serialize
	}
	if cfg.Metrics.Addr != "" {
		if err := startMetricsServer(cfg.Metrics.Addr); err != nil {
			Fatalf("Failed to start metrics server: %v", err)
		}
	}
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Wallet.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, cfg.Wallet.Timeout)
		defer cancel()
	}

	var res *txsign.Result
	if cfg.Wallet.Emulator {
		res, err = signWithEmulator(sctx, cfg.Wallet, ui, ctx.Bool(yesFlag.Name), req)
	} else {
		res, err = signWithWallet(sctx, cfg.Wallet, ui, req)
	}
	if err != nil {
		return describeError(err)
	}
	return printResult(os.Stdout, ctx.Bool(jsonFlag.Name), res)
}

// checkFee refuses transactions spending more than they fund or paying a fee
// above the limit.
func checkFee(tx *types.Transaction, limit uint64) error {
	in, out := tx.TotalIn(), tx.TotalOut()
	if out > in {
		return fmt.Errorf("outputs spend %s but inputs only fund %s", types.FormatCoins(out), types.FormatCoins(in))
	}
	if fee := in - out; fee > limit {
		return fmt.Errorf("fee %s exceeds the limit of %s (see --%s)", types.FormatCoins(fee), types.FormatCoins(limit), maxFeeFlag.Name)
	}
	return nil
}

func printSummary(w io.Writer, job *signJob) {
	fmt.Fprintf(w, "Coin: %s\n", job.coin)
	for i, out := range job.tx.Outputs {
		switch {
		case out.ScriptType == types.PayToOpReturn:
			fmt.Fprintf(w, "  output %d: OP_RETURN %x\n", i, out.OpReturnData)
		case len(out.AddressN) > 0:
			fmt.Fprintf(w, "  output %d: %s to change %v\n", i, types.FormatCoins(out.Amount), accounts.DerivationPath(out.AddressN))
		default:
			fmt.Fprintf(w, "  output %d: %s to %s\n", i, types.FormatCoins(out.Amount), out.Address)
		}
	}
	fmt.Fprintf(w, "Fee: %s\n", types.FormatCoins(job.tx.TotalIn()-job.tx.TotalOut()))
}

// signWithWallet signs on an attached hardware wallet.
func signWithWallet(ctx context.Context, cfg walletConfig, ui usbwallet.UI, req *txsign.Request) (*txsign.Result, error) {
	am, err := makeManager(cfg, ui)
	if err != nil {
		return nil, err
	}
	defer am.Close()

	wallet, err := pickWallet(am, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := wallet.Open(""); err != nil {
		return nil, fmt.Errorf("failed to open %v: %w", wallet.URL(), err)
	}
	defer wallet.Close()

	status, _ := wallet.Status()
	log.Info("Signing with hardware wallet", "url", wallet.URL(), "status", status)
	return wallet.SignTx(ctx, req)
}

// signWithEmulator signs on the built-in emulated device, asking on the
// terminal for the confirmations a device would show on its screen.
func signWithEmulator(ctx context.Context, cfg walletConfig, ui *terminalUI, yes bool, req *txsign.Request) (*txsign.Result, error) {
	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		log.Warn("Emulator seeded with the public test mnemonic, do not receive funds on it")
		mnemonic = testMnemonic
	}
	approve := func(code messages.ButtonRequestType) bool {
		if yes {
			return true
		}
		return ui.confirm(fmt.Sprintf("Emulated device asks to confirm (%v).", code))
	}
	dev, err := emulator.New(emulator.Config{
		Mnemonic:      mnemonic,
		Label:         "btcsign emulator",
		Approve:       approve,
		Preauthorized: req.Preauthorized,
	})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	log.Info("Signing with emulated device", "coin", req.Coin)
	return txsign.Sign(ctx, dev, req)
}

// describeError turns signing failures into user facing messages.
func describeError(err error) error {
	var (
		devErr *txsign.DeviceError
		auth   *accounts.AuthNeededError
	)
	switch {
	case errors.As(err, &devErr):
		return fmt.Errorf("device refused to sign: %s (%v)", devErr.Message, devErr.Code)
	case errors.As(err, &auth):
		return fmt.Errorf("device needs %s, run interactively", auth.Needed)
	case errors.Is(err, txsign.ErrUnknownPrevTx):
		return fmt.Errorf("%v, import it with 'btcsign prevtx import'", err)
	case errors.Is(err, txsign.ErrCancelled):
		return fmt.Errorf("signing cancelled: %v", err)
	}
	return err
}

type signResult struct {
	Signatures []string `json:"signatures"`
	Serialized string   `json:"serialized_tx,omitempty"`
	Txid       string   `json:"txid,omitempty"`
}

func printResult(w io.Writer, asJSON bool, res *txsign.Result) error {
	out := signResult{Signatures: make([]string, len(res.Signatures))}
	for i, sig := range res.Signatures {
		out.Signatures[i] = hex.EncodeToString(sig)
	}
	if len(res.Serialized) > 0 {
		out.Serialized = hex.EncodeToString(res.Serialized)
		if tx, err := types.DecodeLegacy(res.Serialized); err == nil {
			if txid, err := tx.Hash(); err == nil {
				out.Txid = txid.Hex()
			}
		}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	fmt.Fprintln(w, "Signatures:")
	for i, sig := range out.Signatures {
		if sig == "" {
			sig = "(signed externally)"
		}
		fmt.Fprintf(w, "  input %d: %s\n", i, sig)
	}
	if out.Serialized != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Signed Transaction:")
		fmt.Fprintln(w, out.Serialized)
	}
	if out.Txid != "" {
		fmt.Fprintf(w, "Transaction id: %s\n", out.Txid)
	}
	return nil
}

// makeManager starts the USB hubs enabled in the config.
func makeManager(cfg walletConfig, ui usbwallet.UI) (*accounts.Manager, error) {
	var backends []accounts.Backend
	if cfg.HID {
		if hub, err := usbwallet.NewTrezorHubWithHID(ui); err != nil {
			log.Warn("Failed to start HID hub, disabling", "err", err)
		} else {
			backends = append(backends, hub)
		}
	}
	if cfg.WebUSB {
		if hub, err := usbwallet.NewTrezorHubWithWebUSB(ui); err != nil {
			log.Warn("Failed to start WebUSB hub, disabling", "err", err)
		} else {
			backends = append(backends, hub)
		}
	}
	if len(backends) == 0 {
		return nil, errors.New("no USB interface available, enable one or use --emulator")
	}
	return accounts.NewManager(backends...), nil
}

// pickWallet selects the wallet by URL, or the only one attached.
func pickWallet(am *accounts.Manager, url string) (accounts.Wallet, error) {
	if url != "" {
		return am.Wallet(url)
	}
	wallets := am.Wallets()
	switch len(wallets) {
	case 0:
		return nil, errors.New("no hardware wallet found")
	case 1:
		return wallets[0], nil
	}
	urls := make([]string, len(wallets))
	for i, w := range wallets {
		urls[i] = w.URL().String()
	}
	return nil, fmt.Errorf("%d wallets attached (%s), pick one with --%s", len(wallets), strings.Join(urls, ", "), walletURLFlag.Name)
}
