package middlewares

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func newFlashloanExecutor() (*fuzzvm.Executor, *Flashloan) {
	host := fuzzvm.NewHost()
	m := NewFlashloan()
	host.Middlewares.Add(m)
	return fuzzvm.NewExecutor(host), m
}

func TestFlashloanSstoreToReserveSlotQueuesRecheck(t *testing.T) {
	executor, m := newFlashloanExecutor()
	pair := common.HexToAddress("0x1")
	m.PairAddresses[pair] = true
	// PUSH1 0x42 (value), PUSH1 0x08 (reserve slot), SSTORE, STOP
	executor.Host.SetCode(pair, []byte{0x60, 0x42, 0x60, 0x08, 0x55, 0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: pair})
	require.NoError(t, err)
	assert.True(t, executor.Host.State.FlashloanData.OracleRecheckReserve.Contains(pair))
}

func TestFlashloanSstoreToOtherSlotIgnored(t *testing.T) {
	executor, m := newFlashloanExecutor()
	pair := common.HexToAddress("0x1")
	m.PairAddresses[pair] = true
	// PUSH1 0x42 (value), PUSH1 0x01 (unrelated slot), SSTORE, STOP
	executor.Host.SetCode(pair, []byte{0x60, 0x42, 0x60, 0x01, 0x55, 0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: pair})
	require.NoError(t, err)
	assert.False(t, executor.Host.State.FlashloanData.OracleRecheckReserve.Contains(pair))
}

func TestFlashloanSstoreIgnoredForNonPairAddress(t *testing.T) {
	executor, _ := newFlashloanExecutor()
	contract := common.HexToAddress("0x1")
	executor.Host.SetCode(contract, []byte{0x60, 0x42, 0x60, 0x08, 0x55, 0x00}, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)
	assert.False(t, executor.Host.State.FlashloanData.OracleRecheckReserve.Contains(contract))
}

func TestFlashloanValueCallToFlashloanCallerCreditsEarned(t *testing.T) {
	executor, _ := newFlashloanExecutor()
	contract := common.HexToAddress("0x1")
	target := common.HexToAddress("0x2")
	executor.Host.MarkFlashloanCaller(target)
	executor.Host.SetBalance(contract, uint256.NewInt(1000))

	// gas, target, value, argsOff, argsSize, retOff, retSize, CALL, STOP
	code := []byte{
		0x60, 0x00, // retSize
		0x60, 0x00, // retOff
		0x60, 0x00, // argsSize
		0x60, 0x00, // argsOff
		0x60, 0x0a, // value = 10
	}
	code = append(code, 0x73) // PUSH20 target
	code = append(code, target.Bytes()...)
	code = append(code, 0x60, 0x00, // gas
		0xf1, // CALL
		0x00, // STOP
	)
	executor.Host.SetCode(contract, code, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)

	assert.Equal(t, uint64(10)*fuzzvm.EarnedScale.Uint64(), executor.Host.State.FlashloanData.Earned.Uint64())
}

func TestFlashloanValueCallToTrackedERC20QueuesBalanceRecheck(t *testing.T) {
	executor, m := newFlashloanExecutor()
	contract := common.HexToAddress("0x1")
	token := common.HexToAddress("0x2")
	m.ERC20Addresses[token] = true
	executor.Host.SetBalance(contract, uint256.NewInt(1000))

	code := []byte{
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x00,
		0x60, 0x0a,
	}
	code = append(code, 0x73)
	code = append(code, token.Bytes()...)
	code = append(code, 0x60, 0x00, 0xf1, 0x00)
	executor.Host.SetCode(contract, code, nil)

	_, err := executor.Execute(fuzzvm.CallParams{Contract: contract})
	require.NoError(t, err)
	assert.True(t, executor.Host.State.FlashloanData.OracleRecheckBalance.Contains(token))
}
