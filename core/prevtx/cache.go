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

// Package prevtx provides lookups of the previous transactions spent by a
// transaction being signed.
//
// A signing device verifies the amounts of the inputs it signs by hashing the
// previous transactions streamed to it, so the host must be able to resolve
// every referenced transaction id into its full content.
package prevtx

import (
	"errors"
	"fmt"

	"github.com/btcsign/btcsign/core/types"
)

// ErrUnknown is returned if a previous transaction is not in the cache.
var ErrUnknown = errors.New("unknown previous transaction")

// Cache resolves transaction ids into previous transactions. Implementations
// must be safe for concurrent lookups. Returned transactions are shared and
// must not be modified.
type Cache interface {
	Lookup(hash types.Hash) (*types.Transaction, error)
}

// Map is an in-memory cache populated before a signing session starts.
type Map map[types.Hash]*types.Transaction

// Lookup implements Cache.
func (m Map) Lookup(hash types.Hash) (*types.Transaction, error) {
	if tx, ok := m[hash]; ok {
		return tx, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknown, hash)
}

// Add inserts a transaction under its computed id and returns the id.
func (m Map) Add(tx *types.Transaction) (types.Hash, error) {
	hash, err := tx.Hash()
	if err != nil {
		return types.Hash{}, err
	}
	m[hash] = tx
	return hash, nil
}

// Layered chains caches, resolving each lookup from the first cache that
// knows the transaction.
type Layered []Cache

// Lookup implements Cache. Errors other than ErrUnknown abort the search.
func (l Layered) Lookup(hash types.Hash) (*types.Transaction, error) {
	for _, cache := range l {
		tx, err := cache.Lookup(hash)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, ErrUnknown) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknown, hash)
}
