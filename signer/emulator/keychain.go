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

package emulator

import (
	"fmt"

	"github.com/btcsign/btcsign/accounts"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/tyler-smith/go-bip39"
)

// Keychain derives the signing keys of the emulated device from a BIP-39
// mnemonic.
type Keychain struct {
	master *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewKeychain creates the BIP-32 master key of a mnemonic and passphrase.
func NewKeychain(mnemonic, passphrase string, params *chaincfg.Params) (*Keychain, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}
	return &Keychain{master: master, params: params}, nil
}

// Derive returns the private key at the given path.
func (k *Keychain) Derive(path accounts.DerivationPath) (*btcec.PrivateKey, error) {
	key := k.master
	for i, idx := range path {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derivation failed at %v: %w", path[:i+1], err)
		}
		key = child
	}
	return key.ECPrivKey()
}

// Address returns the P2PKH address of the key at the given path.
func (k *Keychain) Address(path accounts.DerivationPath) (*btcutil.AddressPubKeyHash, error) {
	key, err := k.Derive(path)
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), k.params)
}

// sign produces a DER encoded signature of a digest, without sighash flag.
func sign(key *btcec.PrivateKey, digest []byte) []byte {
	return ecdsa.Sign(key, digest).Serialize()
}
