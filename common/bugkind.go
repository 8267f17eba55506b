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

// OracleKindTag is the low 8 bits of a bug_id: `(site_hash << 8) | tag`.
type OracleKindTag byte

const (
	ArbCall          OracleKindTag = 0x00
	ArbTransfer      OracleKindTag = 0x01
	IntegerOverflow  OracleKindTag = 0x02
	Invariant        OracleKindTag = 0x03
	MathCalculate    OracleKindTag = 0x04
	Reentrancy       OracleKindTag = 0x05
	Selfdestruct     OracleKindTag = 0x06
	StateComp        OracleKindTag = 0x07
	TypedBug         OracleKindTag = 0x08
)

// CheckOracleKindTag reports whether tag is one of the known oracle kinds,
// mirroring the teacher's CheckBizType closed-enum validation style.
func CheckOracleKindTag(tag OracleKindTag) bool {
	switch tag {
	case ArbCall, ArbTransfer, IntegerOverflow, Invariant, MathCalculate,
		Reentrancy, Selfdestruct, StateComp, TypedBug:
		return true
	default:
		return false
	}
}

func (t OracleKindTag) String() string {
	switch t {
	case ArbCall:
		return "arbitrary_call"
	case ArbTransfer:
		return "arbitrary_transfer"
	case IntegerOverflow:
		return "integer_overflow"
	case Invariant:
		return "invariant"
	case MathCalculate:
		return "math_calculate"
	case Reentrancy:
		return "reentrancy"
	case Selfdestruct:
		return "selfdestruct"
	case StateComp:
		return "state_comp"
	case TypedBug:
		return "typed_bug"
	default:
		return "unknown"
	}
}
