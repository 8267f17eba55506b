// Package token models the liquidity hops a liquidation input can route an
// attacker's ERC20 holdings through before converting them to native value:
// a Uniswap-V2-shaped pair swap or a WETH wrap/unwrap, per spec.md §4.5.
// Grounded on the distillation's evm/tokens/v2_transformer.rs and
// weth_transformer.rs.
package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fuzzvm "github.com/fuzzland/ityfuzz-go/core/vm"
)

// reserveSlot and lockSlot mirror middlewares.reserveSlot: the Uniswap-V2
// storage layout packs (blockTimestampLast<<224 | reserve1<<112 | reserve0) at
// slot 0x8, and guards every swap with a reentrancy lock at slot 0xc.
var (
	reserveSlot = uint256.NewInt(0x08)
	lockSlot    = uint256.NewInt(0x0c)
)

// maxReserve is the 112-bit cap a pair's reserves must never exceed; a hop
// that would overflow it is rejected rather than silently wrapping.
var maxReserve = func() *uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 112)
	return v
}()

// transferSelector/balanceOfSelector are the raw ERC20 ABI selectors a
// TokenContext dispatches as calldata-only synthetic calls, byte-for-byte
// matching v2_transformer.rs's transfer_bytes/balance_of_bytes.
var (
	transferSelector  = [4]byte{0xa9, 0x05, 0x9c, 0xbb}
	balanceOfSelector = [4]byte{0x70, 0xa0, 0x82, 0x31}
)

func transferCalldata(dst common.Address, amount *uint256.Int) []byte {
	out := make([]byte, 0, 4+32+32)
	out = append(out, transferSelector[:]...)
	out = append(out, common.LeftPadBytes(dst.Bytes(), 32)...)
	amtBytes := amount.Bytes32()
	out = append(out, amtBytes[:]...)
	return out
}

func balanceOfCalldata(who common.Address) []byte {
	out := make([]byte, 0, 4+32)
	out = append(out, balanceOfSelector[:]...)
	out = append(out, common.LeftPadBytes(who.Bytes(), 32)...)
	return out
}

// TokenContext is one hop of a liquidation's conversion path: it takes
// amount of src held by the caller and produces some amount of a
// destination token delivered to next. reverse selects which leg of a
// two-sided hop (e.g. a pair's token0/token1) is being entered.
type TokenContext interface {
	Transform(executor *fuzzvm.Executor, src, next common.Address, amount *uint256.Int, reverse bool) (common.Address, *uint256.Int, bool)
	Name() string
}

// PoolInfo carries the swap-fee parameters a PairContext needs; pool_fee
// is expressed in basis points out of 10000 (30 for the canonical 0.3%
// Uniswap-V2 fee), matching UniswapInfo.pool_fee.
type PoolInfo struct {
	PoolFeeBps uint64
}

// PairContext models one hop through a Uniswap-V2-shaped liquidity pair,
// grounded on UniswapPairContext/PairContext::transform.
type PairContext struct {
	PairAddress    common.Address
	InTokenAddress common.Address
	NextHop        common.Address
	// Side is 0 if InTokenAddress is the pair's token0, 1 if token1.
	Side uint8
	Pool PoolInfo
	// InitialReserves is used when the pair's reserve slot has never been
	// written in the current VMState (the Hash/Clone-constructed live
	// state has no storage yet for an address an on-chain fetch seeded).
	InitialReserves [2]*uint256.Int
}

// NewPairContext returns a pair hop with the given parameters.
func NewPairContext(pair, inToken, nextHop common.Address, side uint8, poolFeeBps uint64, initialReserve0, initialReserve1 *uint256.Int) *PairContext {
	return &PairContext{
		PairAddress:     pair,
		InTokenAddress:  inToken,
		NextHop:         nextHop,
		Side:            side,
		Pool:            PoolInfo{PoolFeeBps: poolFeeBps},
		InitialReserves: [2]*uint256.Int{initialReserve0, initialReserve1},
	}
}

func (p *PairContext) Name() string { return "uniswap_v2" }

// calculateAmountsOut is the constant-product-with-fee swap formula, per
// UniswapPairContext::calculate_amounts_out.
func calculateAmountsOut(amountIn, reserveIn, reserveOut *uint256.Int, poolFeeBps uint64) *uint256.Int {
	feeFactor := uint256.NewInt(10000 - poolFeeBps)
	amountInWithFee := new(uint256.Int).Mul(amountIn, feeFactor)
	numerator := new(uint256.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(uint256.Int).Mul(reserveIn, uint256.NewInt(10000))
	denominator.Add(denominator, amountInWithFee)
	if denominator.IsZero() {
		return new(uint256.Int)
	}
	return numerator.Div(numerator, denominator)
}

// reserveParser unpacks a 32-byte reserve slot into (reserve0, reserve1),
// mirroring reserve_parser's byte offsets: the low 14 bytes hold reserve0,
// the next 14 hold reserve1, the top 4 hold blockTimestampLast.
func reserveParser(slot uint256.Int) (*uint256.Int, *uint256.Int) {
	b := slot.Bytes32()
	reserve1 := new(uint256.Int).SetBytes(b[4:18])
	reserve0 := new(uint256.Int).SetBytes(b[18:32])
	return reserve0, reserve1
}

// reserveUpdate packs (reserve0, reserve1) back into a storage word,
// mirroring reserve_update (blockTimestampLast is always zeroed: this
// engine does not model block time).
func reserveUpdate(reserve0, reserve1 *uint256.Int) uint256.Int {
	var out [32]byte
	r1 := reserve1.Bytes32()
	r0 := reserve0.Bytes32()
	copy(out[4:18], r1[18:32])
	copy(out[18:32], r0[18:32])
	var v uint256.Int
	v.SetBytes(out[:])
	return v
}

func (p *PairContext) readReserves(state *fuzzvm.VMState) (*uint256.Int, *uint256.Int) {
	if acct, ok := state.Storage[p.PairAddress]; ok {
		if slot, ok := acct[*reserveSlot]; ok {
			return reserveParser(slot)
		}
	}
	return p.InitialReserves[0].Clone(), p.InitialReserves[1].Clone()
}

// InitialTransfer moves amount of the in-token from src to next (normally
// the pair address itself), the step a liquidation performs before calling
// Transform so the pair's balanceOf reflects the incoming swap amount, per
// UniswapPairContext::initial_transfer.
func (p *PairContext) InitialTransfer(executor *fuzzvm.Executor, src, next common.Address, amount *uint256.Int) bool {
	_, ok, err := executor.CallLive(fuzzvm.CallParams{
		Caller:   src,
		Contract: p.InTokenAddress,
		Value:    new(uint256.Int),
		CallData: transferCalldata(next, amount),
	})
	return err == nil && ok
}

func (p *PairContext) balanceOf(executor *fuzzvm.Executor, token, who common.Address) (*uint256.Int, bool) {
	out, ok, err := executor.CallLive(fuzzvm.CallParams{
		Caller:   common.Address{},
		Contract: token,
		Value:    new(uint256.Int),
		CallData: balanceOfCalldata(who),
	})
	if err != nil || !ok || len(out) < 32 {
		return nil, false
	}
	v := new(uint256.Int).SetBytes(out[len(out)-32:])
	return v, true
}

func (p *PairContext) transfer(executor *fuzzvm.Executor, token, who, dst common.Address, amount *uint256.Int) bool {
	_, ok, err := executor.CallLive(fuzzvm.CallParams{
		Caller:   who,
		Contract: token,
		Value:    new(uint256.Int),
		CallData: transferCalldata(dst, amount),
	})
	return err == nil && ok
}

// Transform performs one swap hop: it reads the pair's reserves and the
// delta in its own in-token balance (assumed already credited by a prior
// InitialTransfer), computes the amount out via the constant-product
// formula, pays it to next, and writes the updated reserves back, per
// UniswapPairContext::transform. src is accepted only to satisfy
// TokenContext; the amount actually swapped is derived from the pair's
// observed balance delta, exactly as the distillation does.
func (p *PairContext) Transform(executor *fuzzvm.Executor, src, next common.Address, amount *uint256.Int, reverse bool) (common.Address, *uint256.Int, bool) {
	host := executor.Host
	state := host.State

	inToken, outToken, side := p.InTokenAddress, p.NextHop, p.Side
	if reverse {
		inToken, outToken, side = p.NextHop, p.InTokenAddress, 1-p.Side
	}

	if acct, ok := state.Storage[p.PairAddress]; ok {
		if lock, ok := acct[*lockSlot]; ok && lock.IsZero() {
			return common.Address{}, nil, false
		}
	}

	reserve0, reserve1 := p.readReserves(state)
	reserveIn, reserveOut := reserve0, reserve1
	if side == 1 {
		reserveIn, reserveOut = reserve1, reserve0
	}

	newBalance, ok := p.balanceOf(executor, inToken, p.PairAddress)
	if !ok {
		return common.Address{}, nil, false
	}
	if _, ok := p.balanceOf(executor, outToken, p.PairAddress); !ok {
		return common.Address{}, nil, false
	}

	if newBalance.Cmp(reserveIn) < 0 {
		return common.Address{}, nil, false
	}
	amountIn := new(uint256.Int).Sub(newBalance, reserveIn)
	amountOut := calculateAmountsOut(amountIn, reserveIn, reserveOut, p.Pool.PoolFeeBps)
	if amountOut.IsZero() {
		return common.Address{}, nil, false
	}

	originalBalance, ok := p.balanceOf(executor, outToken, next)
	if !ok {
		return common.Address{}, nil, false
	}
	if !p.transfer(executor, outToken, p.PairAddress, next, amountOut) {
		return common.Address{}, nil, false
	}

	pairOutBalance, ok := p.balanceOf(executor, outToken, p.PairAddress)
	if !ok {
		return common.Address{}, nil, false
	}
	newReserve0, newReserve1 := newBalance, pairOutBalance
	if side == 1 {
		newReserve0, newReserve1 = pairOutBalance, newBalance
	}

	if newReserve0.Cmp(maxReserve) > 0 || newReserve1.Cmp(maxReserve) > 0 {
		return common.Address{}, nil, false
	}

	packed := reserveUpdate(newReserve0, newReserve1)
	state.SStore(p.PairAddress, *reserveSlot, packed)

	state.FlashloanData.OracleRecheckBalance.Add(inToken)
	state.FlashloanData.OracleRecheckBalance.Add(outToken)
	state.FlashloanData.OracleRecheckReserve.Add(p.PairAddress)

	finalBalance, ok := p.balanceOf(executor, outToken, next)
	if !ok {
		return common.Address{}, nil, false
	}
	received := new(uint256.Int).Sub(finalBalance, originalBalance)
	return next, received, true
}
