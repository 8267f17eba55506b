// Copyright 2015 The go-ethereum Authors
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

package common

// InputTy classifies how a generated EVMInput was produced, mirroring the
// `EVMInputTy` of the fuzzer this engine is modeled on.
type InputTy byte

const (
	// ABI is a normal ABI-encoded call mutated by the ABI-aware mutator.
	ABI InputTy = 0x00
	// Borrow is a synthetic flash-loan credit transaction, see
	// fuzzer.RegisterBorrowTxn.
	Borrow InputTy = 0x01
	// Step is a continuation of a prior post-execution context (a pending
	// reentrant callback).
	Step InputTy = 0x02
	// Liquidate redeems borrowed liquidity through an AMM pair.
	Liquidate InputTy = 0x03
)

func (t InputTy) String() string {
	switch t {
	case ABI:
		return "abi"
	case Borrow:
		return "borrow"
	case Step:
		return "step"
	case Liquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}
