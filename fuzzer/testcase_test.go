package fuzzer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
)

func TestEVMInputIsStep(t *testing.T) {
	in := &EVMInput{InputType: ifuzzcommon.Step}
	assert.True(t, in.IsStep())

	in2 := &EVMInput{InputType: ifuzzcommon.ABI}
	assert.False(t, in2.IsStep())
}

func TestEVMInputGetValueDefaultsToZero(t *testing.T) {
	in := &EVMInput{}
	assert.True(t, in.GetValue().IsZero())

	in2 := &EVMInput{Value: uint256.NewInt(7)}
	assert.Equal(t, uint64(7), in2.GetValue().Uint64())
}

func TestEVMInputToCallParams(t *testing.T) {
	caller := common.HexToAddress("0x1")
	contract := common.HexToAddress("0x2")
	in := &EVMInput{
		Caller:   caller,
		Contract: contract,
		DataABI:  []byte{0x01, 0x02},
		Value:    uint256.NewInt(9),
	}
	params := in.ToCallParams()
	assert.Equal(t, [20]byte(caller), params.Caller)
	assert.Equal(t, [20]byte(contract), params.Contract)
	assert.Equal(t, []byte{0x01, 0x02}, params.CallData)
	assert.Equal(t, uint64(9), params.Value.Uint64())
}

func TestEVMInputCloneIsIndependent(t *testing.T) {
	v := uint256.NewInt(5)
	in := &EVMInput{
		DataABI:    []byte{1, 2, 3},
		Value:      v,
		Randomness: []byte{9, 9},
	}
	cp := in.Clone()

	cp.DataABI[0] = 0xff
	cp.Value.SetUint64(100)
	cp.Randomness[0] = 0xee

	assert.Equal(t, byte(1), in.DataABI[0])
	assert.Equal(t, uint64(5), in.Value.Uint64())
	assert.Equal(t, byte(9), in.Randomness[0])
}

func TestEVMInputCloneHandlesNilFields(t *testing.T) {
	in := &EVMInput{}
	cp := in.Clone()
	assert.Nil(t, cp.DataABI)
	assert.Nil(t, cp.Value)
	assert.Nil(t, cp.Randomness)
}

func TestNewTestcaseWrapsInputWithEmptyMetadata(t *testing.T) {
	in := &EVMInput{Caller: common.HexToAddress("0x1")}
	tc := NewTestcase(in, -1)
	assert.Same(t, in, tc.Input)
	assert.Equal(t, -1, tc.ParentID)
	assert.Nil(t, tc.ABIMeta)
}
