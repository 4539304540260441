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

// Package memorydb implements an ephemeral key-value store on a Go map, used
// for sessions that should not leave previous transactions on disk.
package memorydb

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/btcsign/btcsign/ethdb"
)

var errClosed = errors.New("database closed")

// Database is a map backed ethdb.KeyValueStore. Values are copied in and out,
// callers never alias the stored bytes.
type Database struct {
	entries map[string][]byte // Nil once closed
	lock    sync.RWMutex
}

// New creates an empty database.
func New() *Database {
	return &Database{entries: make(map[string][]byte)}
}

// view runs fn under the read lock, failing if the database is closed.
func (db *Database) view(fn func(entries map[string][]byte) error) error {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.entries == nil {
		return errClosed
	}
	return fn(db.entries)
}

// update runs fn under the write lock, failing if the database is closed.
func (db *Database) update(fn func(entries map[string][]byte)) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.entries == nil {
		return errClosed
	}
	fn(db.entries)
	return nil
}

// Close drops all entries. Any later access fails.
func (db *Database) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.entries = nil
	return nil
}

func (db *Database) Has(key []byte) (bool, error) {
	var ok bool
	err := db.view(func(entries map[string][]byte) error {
		_, ok = entries[string(key)]
		return nil
	})
	return ok, err
}

func (db *Database) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.view(func(entries map[string][]byte) error {
		v, ok := entries[string(key)]
		if !ok {
			return ethdb.ErrNotFound
		}
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

func (db *Database) Put(key []byte, value []byte) error {
	value = bytes.Clone(value)
	return db.update(func(entries map[string][]byte) {
		entries[string(key)] = value
	})
}

func (db *Database) Delete(key []byte) error {
	return db.update(func(entries map[string][]byte) {
		delete(entries, string(key))
	})
}

// DeleteRange deletes all keys in [start, end).
func (db *Database) DeleteRange(start, end []byte) error {
	lo, hi := string(start), string(end)
	return db.update(func(entries map[string][]byte) {
		maps.DeleteFunc(entries, func(key string, _ []byte) bool {
			return key >= lo && key < hi
		})
	})
}

// Stat reports the number of entries.
func (db *Database) Stat() (string, error) {
	var n int
	err := db.view(func(entries map[string][]byte) error {
		n = len(entries)
		return nil
	})
	return fmt.Sprintf("entries: %d", n), err
}

// Compact is a noop, deleted entries are released right away.
func (db *Database) Compact(start []byte, limit []byte) error {
	return nil
}

// NewBatch creates a batch whose writes reach the database on Write.
func (db *Database) NewBatch() ethdb.Batch {
	return &batch{db: db}
}

// NewIterator iterates over a sorted snapshot of the entries under prefix,
// starting at prefix+start. Later writes are not visible to it.
func (db *Database) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	it := &iterator{pos: -1}
	db.view(func(entries map[string][]byte) error {
		from := string(prefix) + string(start)
		for key, value := range entries {
			if strings.HasPrefix(key, string(prefix)) && key >= from {
				it.entries = append(it.entries, entry{key, value})
			}
		}
		return nil
	})
	slices.SortFunc(it.entries, func(a, b entry) int { return strings.Compare(a.key, b.key) })
	return it
}

type entry struct {
	key   string
	value []byte
}

// batch records writes as operations replayed on the database in order.
type batch struct {
	db   *Database
	ops  []func(entries map[string][]byte)
	size int
}

func (b *batch) Put(key, value []byte) error {
	k, v := string(key), bytes.Clone(value)
	b.ops = append(b.ops, func(entries map[string][]byte) { entries[k] = v })
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	k := string(key)
	b.ops = append(b.ops, func(entries map[string][]byte) { delete(entries, k) })
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

// Write applies the recorded operations atomically.
func (b *batch) Write() error {
	return b.db.update(func(entries map[string][]byte) {
		for _, op := range b.ops {
			op(entries)
		}
	})
}

func (b *batch) Reset() {
	b.ops, b.size = b.ops[:0], 0
}

// iterator walks a sorted snapshot of entries.
type iterator struct {
	entries []entry
	pos     int
}

func (it *iterator) Next() bool {
	if it.pos < len(it.entries) {
		it.pos++
	}
	return it.pos < len(it.entries)
}

// Error returns nil, walking a snapshot cannot fail.
func (it *iterator) Error() error {
	return nil
}

func (it *iterator) current() *entry {
	if it.pos < 0 || it.pos >= len(it.entries) {
		return nil
	}
	return &it.entries[it.pos]
}

func (it *iterator) Key() []byte {
	if e := it.current(); e != nil {
		return []byte(e.key)
	}
	return nil
}

func (it *iterator) Value() []byte {
	if e := it.current(); e != nil {
		return e.value
	}
	return nil
}

func (it *iterator) Release() {
	it.entries, it.pos = nil, -1
}
