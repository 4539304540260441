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

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexToHash(t *testing.T) {
	h, err := HexToHash("0x" + opReturnPrev)
	require.NoError(t, err)
	assert.Equal(t, opReturnPrev, h.Hex())
	assert.Equal(t, byte(0xd5), h[0])
	assert.Equal(t, "d5f65e..864882", h.TerminalString())

	for _, bad := range []string{"", "abcd", opReturnPrev + "00", opReturnPrev[:62] + "zz"} {
		_, err := HexToHash(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestBytesToHash(t *testing.T) {
	h := BytesToHash([]byte{1, 2})
	assert.Equal(t, byte(1), h[30])
	assert.Equal(t, byte(2), h[31])

	long := make([]byte, 40)
	long[39] = 7
	assert.Equal(t, byte(7), BytesToHash(long)[31])
}

// The internal byte order used in serialized transactions is reversed.
func TestOutpointOrder(t *testing.T) {
	h := mustHash(opReturnPrev)
	c := h.Outpoint()
	assert.Equal(t, byte(0x82), c[0])
	assert.Equal(t, byte(0xd5), c[31])
	assert.Equal(t, opReturnPrev, c.String())
	assert.Equal(t, h, HashFromChain(c))
}

func TestHashJSON(t *testing.T) {
	h := mustHash(opReturnPrev)
	blob, err := json.Marshal(map[string]Hash{"txid": h})
	require.NoError(t, err)
	assert.Equal(t, `{"txid":"`+opReturnPrev+`"}`, string(blob))

	var dec map[string]Hash
	require.NoError(t, json.Unmarshal(blob, &dec))
	assert.Equal(t, h, dec["txid"])

	assert.Error(t, json.Unmarshal([]byte(`{"txid":"0102"}`), &dec))
}
