package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// WethContext wraps a native-value call into a WETH contract, the
// always-reverse hop a liquidation path uses to wrap native value into
// WETH, per weth_transformer.rs.
type WethContext struct {
	WethAddress common.Address
}

// NewWethContext returns a hop that wraps/unwraps through wethAddress.
func NewWethContext(wethAddress common.Address) *WethContext {
	return &WethContext{WethAddress: wethAddress}
}

func (w *WethContext) Name() string { return "weth" }

// Transform dispatches a bare native-value call into the WETH contract
// (its fallback performs the wrap), crediting flashloan_data.owed by
// amount*EarnedScale and flagging the WETH contract's balance for an
// oracle recheck, per WethContext::transform. reverse must be true: the
// distillation asserts this, since WETH only ever appears as the final
// leg of a liquidation path.
func (w *WethContext) Transform(executor *fuzzvm.Executor, src, next common.Address, amount *uint256.Int, reverse bool) (common.Address, *uint256.Int, bool) {
	if !reverse {
		return common.Address{}, nil, false
	}

	state := executor.Host.State
	state.FlashloanData.CreditOwed(amount.ToBig())
	state.FlashloanData.OracleRecheckBalance.Add(w.WethAddress)

	_, ok, err := executor.CallLive(fuzzvm.CallParams{
		Caller:   next,
		Contract: w.WethAddress,
		Value:    amount,
		CallData: nil,
	})
	if err != nil || !ok {
		return common.Address{}, nil, false
	}
	return src, amount, true
}
