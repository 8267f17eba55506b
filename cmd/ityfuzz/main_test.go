package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifuzzcommon "github.com/fuzzland/ityfuzz-go/common"
	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func TestDecodeHexBytecodeStripsPrefixAndWhitespace(t *testing.T) {
	got, err := decodeHexBytecode("  0x6001600101\n")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x01, 0x01}, got)
}

func TestDecodeHexBytecodeInvalidHexReturnsError(t *testing.T) {
	_, err := decodeHexBytecode("zz")
	assert.Error(t, err)
}

func TestDeterministicAddressStableAcrossCalls(t *testing.T) {
	a1 := deterministicAddress("Vault", 0)
	a2 := deterministicAddress("Vault", 0)
	assert.Equal(t, a1, a2)
}

func TestDeterministicAddressDistinctForDistinctIndex(t *testing.T) {
	a1 := deterministicAddress("Vault", 0)
	a2 := deterministicAddress("Vault", 1)
	assert.NotEqual(t, a1, a2)
}

func TestDefaultCallerPoolDeterministicBySeed(t *testing.T) {
	p1 := defaultCallerPool(7)
	p2 := defaultCallerPool(7)
	assert.Equal(t, p1, p2)
	assert.Len(t, p1, 3)
}

func TestDefaultCallerPoolDistinctBySeed(t *testing.T) {
	p1 := defaultCallerPool(1)
	p2 := defaultCallerPool(2)
	assert.NotEqual(t, p1, p2)
}

func TestDefaultOracleBatteryNonEmpty(t *testing.T) {
	assert.NotEmpty(t, defaultOracleBattery())
}

const sampleABI = `[{"type":"function","name":"transfer","constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},{"type":"function","name":"balanceOf","constant":true,"inputs":[{"name":"who","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`

func TestContractTargetSeedInputsSkipsConstantMethods(t *testing.T) {
	var target contractTarget
	target.Name = "Token"
	target.Address = common.HexToAddress("0x1")

	parsed, err := gethabi.JSON(bytes.NewReader([]byte(sampleABI)))
	require.NoError(t, err)
	target.ABI = parsed

	caller := common.HexToAddress("0x2")
	inputs := target.SeedInputs(caller)

	require.Len(t, inputs, 1)
	assert.Equal(t, ifuzzcommon.ABI, inputs[0].InputType)
	assert.Equal(t, target.Address, inputs[0].Contract)
	assert.Equal(t, caller, inputs[0].Caller)
	// selector (4 bytes) + one address arg (32 bytes) + one uint256 arg (32 bytes)
	assert.Len(t, inputs[0].DataABI, 4+64)
}

func TestLoadTargetsHexAddressMode(t *testing.T) {
	host := fuzzvm.NewHost()
	targets, err := loadTargets("0x0000000000000000000000000000000000000001", host)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, common.HexToAddress("0x1"), targets[0].Address)
}

func TestLoadTargetsEmptyGlobReturnsError(t *testing.T) {
	host := fuzzvm.NewHost()
	_, err := loadTargets("", host)
	assert.ErrorIs(t, err, ifuzzcommon.ErrMissingTargetPair)
}

func TestLoadTargetsResolvesBinAbiPairAndRegistersCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.bin"), []byte("0x6001600101"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.abi"), []byte(sampleABI), 0o644))

	host := fuzzvm.NewHost()
	targets, err := loadTargets(filepath.Join(dir, "Token"), host)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "Token", targets[0].Name)
	assert.Len(t, targets[0].ABI.Methods, 2)
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x01, 0x01}, host.Code(targets[0].Address).Code)
}

func TestLoadTargetsMissingABIReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.bin"), []byte("0x6001"), 0o644))

	host := fuzzvm.NewHost()
	_, err := loadTargets(filepath.Join(dir, "Token"), host)
	assert.ErrorIs(t, err, ifuzzcommon.ErrMissingTargetPair)
}
