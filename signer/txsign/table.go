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

package txsign

import (
	"bytes"
	"fmt"

	"github.com/btcsign/btcsign/core/types"
	mapset "github.com/deckarep/golang-set/v2"
)

// table accumulates the results streamed by the device: one write-once
// signature slot per input and the serialized transaction in arrival order.
type table struct {
	sigs     [][]byte
	external mapset.Set[int] // Inputs signed by the caller, exempt from completeness
	raw      bytes.Buffer
}

func newTable(tx *types.Transaction) *table {
	return &table{
		sigs:     make([][]byte, len(tx.Inputs)),
		external: mapset.NewThreadUnsafeSet(tx.ExternalInputs()...),
	}
}

// record stores the signature of an input. A slot can only be filled once.
func (t *table) record(index uint32, sig []byte) error {
	if uint64(index) >= uint64(len(t.sigs)) {
		return violation("signature index %d out of range, %d inputs", index, len(t.sigs))
	}
	if t.sigs[index] != nil {
		return fmt.Errorf("%w: input %d", ErrDuplicateSignature, index)
	}
	t.sigs[index] = bytes.Clone(sig)
	if t.sigs[index] == nil {
		t.sigs[index] = []byte{}
	}
	return nil
}

// append adds a serialized fragment to the end of the buffer.
func (t *table) append(fragment []byte) {
	t.raw.Write(fragment)
}

// missing returns the inputs the device was expected to sign but did not.
func (t *table) missing() []int {
	var idx []int
	for i, sig := range t.sigs {
		if sig == nil && !t.external.Contains(i) {
			idx = append(idx, i)
		}
	}
	return idx
}

// finalize hands out copies of the accumulated results.
func (t *table) finalize() ([][]byte, []byte) {
	sigs := make([][]byte, len(t.sigs))
	for i, sig := range t.sigs {
		sigs[i] = bytes.Clone(sig)
	}
	return sigs, bytes.Clone(t.raw.Bytes())
}
