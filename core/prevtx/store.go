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

package prevtx

import (
	"errors"
	"fmt"

	"github.com/btcsign/btcsign/core/types"
	"github.com/btcsign/btcsign/ethdb"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/golang/snappy"
)

// txPrefix is the key prefix of stored transactions: txPrefix + hash -> snappy(raw)
var txPrefix = []byte("t")

var (
	// ErrHashMismatch is returned if a transaction imported with an expected id
	// hashes to a different one.
	ErrHashMismatch = errors.New("transaction hash mismatch")

	// ErrCorrupted is returned if a stored transaction does not decode, or
	// decodes into a transaction with a different id than its key.
	ErrCorrupted = errors.New("corrupted previous transaction")
)

// DefaultCacheSize is the number of decoded transactions kept in memory.
const DefaultCacheSize = 256

// Store is a persistent previous transaction cache. Transactions are kept in
// their legacy raw encoding, compressed with snappy, keyed by their id.
type Store struct {
	db    ethdb.KeyValueStore
	cache *lru.Cache[types.Hash, *types.Transaction]
	log   log.Logger
}

// NewStore creates a previous transaction store on top of a key-value store.
func NewStore(db ethdb.KeyValueStore, cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Store{
		db:    db,
		cache: lru.NewCache[types.Hash, *types.Transaction](cacheSize),
		log:   log.New("module", "prevtx"),
	}
}

func txKey(hash types.Hash) []byte {
	return append(append([]byte{}, txPrefix...), hash[:]...)
}

// Lookup implements Cache.
func (s *Store) Lookup(hash types.Hash) (*types.Transaction, error) {
	if tx, ok := s.cache.Get(hash); ok {
		return tx, nil
	}
	blob, err := s.db.Get(txKey(hash))
	if errors.Is(err, ethdb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrUnknown, hash)
	}
	if err != nil {
		return nil, err
	}
	tx, err := decodeStored(hash, blob)
	if err != nil {
		s.log.Error("Stored transaction unreadable", "hash", hash, "err", err)
		return nil, err
	}
	s.cache.Add(hash, tx)
	return tx, nil
}

func decodeStored(hash types.Hash, blob []byte) (*types.Transaction, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	tx, err := types.DecodeLegacy(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if have, _ := tx.Hash(); have != hash {
		return nil, fmt.Errorf("%w: key %v, content %v", ErrCorrupted, hash, have)
	}
	return tx, nil
}

// Put stores a transaction under its computed id. If want is non-nil, the
// computed id must match it.
func (s *Store) Put(tx *types.Transaction, want *types.Hash) (types.Hash, error) {
	hash, blob, err := encodeStored(tx, want)
	if err != nil {
		return types.Hash{}, err
	}
	if err := s.db.Put(txKey(hash), blob); err != nil {
		return types.Hash{}, err
	}
	s.cache.Remove(hash)
	s.log.Trace("Stored previous transaction", "hash", hash, "size", len(blob))
	return hash, nil
}

func encodeStored(tx *types.Transaction, want *types.Hash) (types.Hash, []byte, error) {
	raw, err := tx.EncodeLegacy()
	if err != nil {
		return types.Hash{}, nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return types.Hash{}, nil, err
	}
	if want != nil && *want != hash {
		return types.Hash{}, nil, fmt.Errorf("%w: have %v, want %v", ErrHashMismatch, hash, *want)
	}
	return hash, snappy.Encode(nil, raw), nil
}

// Entry is a transaction to import, with the id it is expected to have if one
// is known.
type Entry struct {
	Tx   *types.Transaction
	Want *types.Hash
}

// Import stores many transactions in batches. Nothing is written if any of
// the entries fails to encode or verify.
func (s *Store) Import(entries []Entry) ([]types.Hash, error) {
	var (
		hashes = make([]types.Hash, len(entries))
		blobs  = make([][]byte, len(entries))
	)
	for i, entry := range entries {
		hash, blob, err := encodeStored(entry.Tx, entry.Want)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		hashes[i], blobs[i] = hash, blob
	}
	batch := s.db.NewBatch()
	for i, hash := range hashes {
		if err := batch.Put(txKey(hash), blobs[i]); err != nil {
			return nil, err
		}
		if batch.ValueSize() >= ethdb.IdealBatchSize {
			if err := batch.Write(); err != nil {
				return nil, err
			}
			batch.Reset()
		}
		s.cache.Remove(hash)
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	s.log.Debug("Imported previous transactions", "count", len(hashes))
	return hashes, nil
}

// Has reports whether the transaction is stored.
func (s *Store) Has(hash types.Hash) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	return s.db.Has(txKey(hash))
}

// Delete removes a transaction from the store.
func (s *Store) Delete(hash types.Hash) error {
	s.cache.Remove(hash)
	return s.db.Delete(txKey(hash))
}

// Hashes returns the ids of all stored transactions in key order.
func (s *Store) Hashes() ([]types.Hash, error) {
	it := s.db.NewIterator(txPrefix, nil)
	defer it.Release()

	var hashes []types.Hash
	for it.Next() {
		key := it.Key()
		if len(key) != len(txPrefix)+types.HashLength {
			continue
		}
		hashes = append(hashes, types.BytesToHash(key[len(txPrefix):]))
	}
	return hashes, it.Error()
}

// Clear removes every stored transaction and compacts the freed range.
func (s *Store) Clear() error {
	s.cache.Purge()

	end := []byte{txPrefix[0] + 1}
	if err := s.db.DeleteRange(txPrefix, end); err != nil {
		return err
	}
	return s.db.Compact(txPrefix, end)
}
