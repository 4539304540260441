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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputValidation(t *testing.T) {
	tests := []struct {
		in   TxInput
		want error
	}{
		{TxInput{AddressN: []uint32{0x8000002c, 0x80000000, 0x80000000, 0, 2}}, nil},
		{TxInput{ScriptType: External, ScriptPubKey: []byte{0x51}}, nil},
		{TxInput{AddressN: []uint32{0}, ScriptType: External}, ErrInputPathAndExternal},
		{TxInput{ScriptType: SpendWitness}, ErrInputNoPath},
	}
	for i, tt := range tests {
		assert.ErrorIs(t, tt.in.Validate(), tt.want, "test %d", i)
	}
	tx := &Transaction{Inputs: []*TxInput{&tests[0].in, &tests[3].in}}
	err := tx.ValidateInputs()
	require.ErrorIs(t, err, ErrInputNoPath)
	assert.Contains(t, err.Error(), "input 1")
}

func TestExternalInputs(t *testing.T) {
	tx := &Transaction{Inputs: []*TxInput{
		{AddressN: []uint32{0}, Amount: 10},
		{ScriptType: External, Amount: 20},
		{AddressN: []uint32{1}, Amount: 30},
		{ScriptType: External, Amount: 40},
	}}
	assert.Equal(t, []int{1, 3}, tx.ExternalInputs())
	assert.Equal(t, uint64(100), tx.TotalIn())
}

func TestOutputsCount(t *testing.T) {
	tx := &Transaction{Outputs: []*TxOutput{{Amount: 1}, {Amount: 2}, {Amount: 3}}}
	assert.Equal(t, uint32(3), tx.OutputsCount())
	assert.Equal(t, uint64(6), tx.TotalOut())

	tx.BinOutputs = []*TxOutputBin{{Amount: 5}}
	assert.Equal(t, uint32(1), tx.OutputsCount())
	assert.Equal(t, uint64(5), tx.TotalOut())
}

func TestScriptTypeNames(t *testing.T) {
	for typ, name := range inputScriptNames {
		parsed, err := ParseInputScriptType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
		assert.Equal(t, name, typ.String())
	}
	for typ, name := range outputScriptNames {
		parsed, err := ParseOutputScriptType(name)
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseOutputScriptType("PAYTOMARS")
	assert.Error(t, err)
	assert.Equal(t, "InputScriptType(42)", InputScriptType(42).String())
}
