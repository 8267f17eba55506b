// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package crypto provides the hashing primitives the fuzzing engine needs:
// Keccak256 for bytecode/jumpdest-analysis cache keys, and the site-hash /
// bug-id encoding of spec.md §4.4.
package crypto

import (
	"encoding/binary"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
)

// DigestLength is the length in bytes of a Keccak256 hash.
const DigestLength = 32

// KeccakState wraps sha3.state. In addition to the usual hash methods, it
// also supports Read to get a variable amount of data from the hash state.
// Read is faster than Sum because it doesn't copy the internal state.
type KeccakState interface {
	hashState
	Read([]byte) (int, error)
}

type hashState interface {
	Write(p []byte) (n int, err error)
	Sum(b []byte) []byte
	Reset()
	Size() int
	BlockSize() int
}

// NewKeccakState creates a new KeccakState, used by SiteHash below to read
// the digest straight out of the sponge.
func NewKeccakState() KeccakState {
	return sha3.NewLegacyKeccak256().(KeccakState)
}

// Keccak256 calculates and returns the Keccak256 hash of the input data,
// delegating to the upstream go-ethereum implementation so bytecode hashes
// used as analysis-cache keys agree with on-chain code hashes.
func Keccak256(data ...[]byte) []byte {
	return gethcrypto.Keccak256(data...)
}

// SiteHash hashes an arbitrary tuple of site-identifying values (typically
// (caller, target, pc) or (addr, pc)) into the 64-bit site_hash half of a
// bug_id, per spec.md §4.4.
func SiteHash(parts ...[]byte) uint64 {
	h := NewKeccakState()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [8]byte
	_, _ = h.Read(out[:])
	return binary.BigEndian.Uint64(out[:])
}

// BugID encodes `bug_id = (site_hash << 8) | oracle_kind_tag`, per
// spec.md §4.4.
func BugID(siteHash uint64, tag ifuzzcommon.OracleKindTag) uint64 {
	return (siteHash << 8) | uint64(tag)
}
