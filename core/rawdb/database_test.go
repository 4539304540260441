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

package rawdb

import (
	"testing"

	"github.com/btcsign/btcsign/ethdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDetectsEngine(t *testing.T) {
	for _, engine := range []string{DBPebble, DBLeveldb} {
		t.Run(engine, func(t *testing.T) {
			dir := t.TempDir()
			assert.Empty(t, PreexistingDatabase(dir))

			db, err := Open(OpenOptions{Type: engine, Directory: dir, Cache: 16, Handles: 16})
			require.NoError(t, err)
			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			require.NoError(t, db.Close())
			assert.Equal(t, engine, PreexistingDatabase(dir))

			// Reopening without an explicit engine picks the existing one.
			db, err = Open(OpenOptions{Directory: dir, Cache: 16, Handles: 16})
			require.NoError(t, err)
			v, err := db.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)
			require.NoError(t, db.Close())
		})
	}
}

func TestOpenEngineMismatch(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(OpenOptions{Type: DBLeveldb, Directory: dir, Cache: 16, Handles: 16})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(OpenOptions{Type: DBPebble, Directory: dir})
	assert.ErrorContains(t, err, "pre-existing leveldb")

	_, err = Open(OpenOptions{Type: "badger", Directory: dir})
	assert.ErrorContains(t, err, "unknown db.engine")
}

func TestOpenMemory(t *testing.T) {
	db, err := Open(OpenOptions{})
	require.NoError(t, err)
	assert.IsType(t, &memorydb.Database{}, db)
}
