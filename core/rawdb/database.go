// Copyright 2018 The go-ethereum Authors
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

// Package rawdb opens the on-disk key-value store backing the previous
// transaction cache.
package rawdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsign/btcsign/ethdb"
	"github.com/btcsign/btcsign/ethdb/leveldb"
	"github.com/btcsign/btcsign/ethdb/memorydb"
	"github.com/btcsign/btcsign/ethdb/pebble"
	"github.com/ethereum/go-ethereum/log"
)

// Database engines.
const (
	DBPebble  = "pebble"
	DBLeveldb = "leveldb"
)

// OpenOptions contains the settings of a store to open.
type OpenOptions struct {
	Type      string // "leveldb" | "pebble", empty to detect or default to pebble
	Directory string // Database directory, empty for an in-memory store
	Cache     int    // Capacity (in megabytes) of the data caching
	Handles   int    // Number of files to be open simultaneously
	ReadOnly  bool
}

// Open opens a key-value store. An existing database in the directory decides
// the engine, requesting a different one is an error.
func Open(o OpenOptions) (ethdb.KeyValueStore, error) {
	if o.Directory == "" {
		return memorydb.New(), nil
	}
	if len(o.Type) != 0 && o.Type != DBLeveldb && o.Type != DBPebble {
		return nil, fmt.Errorf("unknown db.engine %v", o.Type)
	}
	existingDb := PreexistingDatabase(o.Directory)
	if len(existingDb) != 0 && len(o.Type) != 0 && o.Type != existingDb {
		return nil, fmt.Errorf("db.engine choice was %v but found pre-existing %v database in specified data directory", o.Type, existingDb)
	}
	if o.Type == DBLeveldb || existingDb == DBLeveldb {
		log.Debug("Using leveldb as the backing database", "dir", o.Directory)
		db, err := leveldb.New(o.Directory, o.Cache, o.Handles, o.ReadOnly)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	log.Debug("Using pebble as the backing database", "dir", o.Directory)
	db, err := pebble.New(o.Directory, o.Cache, o.Handles, o.ReadOnly)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// PreexistingDatabase checks the given data directory whether a database is already
// instantiated at that location, and if so, returns the type of database (or the
// empty string).
func PreexistingDatabase(path string) string {
	if _, err := os.Stat(filepath.Join(path, "CURRENT")); err != nil {
		return "" // No pre-existing db
	}
	if matches, err := filepath.Glob(filepath.Join(path, "OPTIONS*")); len(matches) > 0 || err != nil {
		if err != nil {
			panic(err) // only possible if the pattern is malformed
		}
		return DBPebble
	}
	return DBLeveldb
}
