package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

func TestWethContextTransformRequiresReverse(t *testing.T) {
	executor := newTestExecutor()
	w := NewWethContext(common.HexToAddress("0x000000000000000000000000000000000000ee"))
	_, _, ok := w.Transform(executor, common.Address{}, common.Address{}, uint256.NewInt(1), false)
	assert.False(t, ok)
}

func TestWethContextTransform(t *testing.T) {
	executor := newTestExecutor()
	host := executor.Host

	weth := common.HexToAddress("0x000000000000000000000000000000000000ee")
	next := common.HexToAddress("0x00000000000000000000000000000000000001")
	src := common.HexToAddress("0x00000000000000000000000000000000000002")

	host.SetCode(weth, []byte{0x00}, nil) // STOP: fallback always succeeds
	host.MarkFlashloanCaller(next)

	w := NewWethContext(weth)
	amount := uint256.NewInt(5)
	dst, got, ok := w.Transform(executor, src, next, amount, true)
	require.True(t, ok)
	assert.Equal(t, src, dst)
	assert.Equal(t, amount.Uint64(), got.Uint64())

	wantOwed := new(big.Int).Mul(amount.ToBig(), fuzzvm.EarnedScale)
	assert.Equal(t, wantOwed.String(), host.State.FlashloanData.Owed.String())
	assert.True(t, host.State.FlashloanData.OracleRecheckBalance.Contains(weth))
}

func TestWethContextTransformNoCodeAtWeth(t *testing.T) {
	executor := newTestExecutor()
	next := common.HexToAddress("0x00000000000000000000000000000000000001")
	src := common.HexToAddress("0x00000000000000000000000000000000000002")
	executor.Host.MarkFlashloanCaller(next)

	weth := common.HexToAddress("0x000000000000000000000000000000000000ee")
	w := NewWethContext(weth)
	_, _, ok := w.Transform(executor, src, next, uint256.NewInt(5), true)
	assert.False(t, ok)

	// CreditOwed and the oracle-recheck flag happen before the call is
	// dispatched, so they stick even though the call itself failed.
	assert.True(t, executor.Host.State.FlashloanData.OracleRecheckBalance.Contains(weth))
}
